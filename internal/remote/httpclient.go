// Package remote talks to the server's registration API over HTTP and maps
// every failure onto the sync core's error taxonomy.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Guizzs26/hff-sync/internal/models"
	"github.com/Guizzs26/hff-sync/internal/service"
)

const maxErrorBody = 4 << 10

// TokenSource supplies the bearer token attached to every call
type TokenSource interface {
	Token() (string, error)
}

// Client implements service.Prober and service.RemoteStore
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Tokens  TokenSource // nil disables authentication
}

// New creates a client. Per-call deadlines come from the caller's context
func New(baseURL string, tokens TokenSource) *Client {
	return &Client{
		BaseURL: baseURL,
		Tokens:  tokens,
		HTTP: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// HealthCheck probes GET /api/health
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &service.TransportError{Op: "health", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode >= 300 {
		return &service.TransportError{Op: "health", Err: fmt.Errorf("server unhealthy: %s", resp.Status)}
	}
	return nil
}

// Upsert sends PUT /api/registrations/{uuid}
func (c *Client) Upsert(ctx context.Context, rec models.RemoteRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return &service.RejectionError{Reason: fmt.Sprintf("unencodable record: %v", err)}
	}

	req, err := c.newRequest(ctx, http.MethodPut, "/api/registrations/"+url.PathEscape(rec.UUID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &service.TransportError{Op: "upsert", Err: err}
	}
	defer resp.Body.Close()

	if err := classify("upsert", resp); err != nil {
		return err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return nil
}

// QuerySince sends GET /api/registrations?since=...
func (c *Client) QuerySince(ctx context.Context, since time.Time) ([]models.RemoteRecord, error) {
	q := url.Values{}
	q.Set("since", models.NormalizeTime(since).Format(time.RFC3339Nano))

	req, err := c.newRequest(ctx, http.MethodGet, "/api/registrations?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &service.TransportError{Op: "query", Err: err}
	}
	defer resp.Body.Close()

	if err := classify("query", resp); err != nil {
		return nil, err
	}

	var out struct {
		Records []models.RemoteRecord `json:"records"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// A truncated body is a connection problem, not a bad record
		return nil, &service.TransportError{Op: "query", Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	for i := range out.Records {
		out.Records[i].UpdatedAt = models.NormalizeTime(out.Records[i].UpdatedAt)
	}
	return out.Records, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.Tokens != nil {
		token, err := c.Tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("device token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// classify maps a response status onto the error taxonomy.
// 408, 429, 5xx and auth failures leave the record pending; other 4xx reject it.
func classify(op string, resp *http.Response) error {
	code := resp.StatusCode
	if code < 300 {
		return nil
	}

	reason := readReason(resp)

	switch {
	case code == http.StatusRequestTimeout,
		code == http.StatusTooManyRequests,
		code == http.StatusUnauthorized,
		code == http.StatusForbidden,
		code >= 500:
		return &service.TransportError{Op: op, Err: fmt.Errorf("%s: %s", resp.Status, reason)}
	case code >= 400:
		return &service.RejectionError{Reason: reason}
	default:
		return &service.TransportError{Op: op, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
}

func readReason(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		return string(bytes.TrimSpace(raw))
	}
	return resp.Status
}

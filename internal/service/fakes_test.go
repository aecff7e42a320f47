package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Guizzs26/hff-sync/internal/conflict"
	"github.com/Guizzs26/hff-sync/internal/db"
	"github.com/Guizzs26/hff-sync/internal/models"
)

var errConnRefused = errors.New("dial tcp 10.0.0.1:8787: connect: connection refused")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLocalQueue(t *testing.T) *db.LocalQueue {
	t.Helper()
	q, err := db.OpenLocalQueue(filepath.Join(t.TempDir(), "local.db"), discardLogger())
	if err != nil {
		t.Fatalf("OpenLocalQueue: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

// fakeRemote is an in-memory remote store keyed by uuid
type fakeRemote struct {
	mu      sync.Mutex
	rows    map[string]models.RemoteRecord
	calls   []string
	queries []time.Time

	reject       map[string]string // uuid -> reason
	failOnCall   int               // 1-based upsert call that fails at transport level, 0 never
	queryErr     error
	healthErr    error
	entered      chan struct{} // when set, Upsert and QuerySince block until release
	release      chan struct{}
	healthChecks atomic.Int32
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		rows:   make(map[string]models.RemoteRecord),
		reject: make(map[string]string),
	}
}

func (f *fakeRemote) HealthCheck(ctx context.Context) error {
	f.healthChecks.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}

func (f *fakeRemote) Upsert(ctx context.Context, rec models.RemoteRecord) error {
	if err := f.gate(ctx); err != nil {
		return &TransportError{Op: "upsert", Err: err}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, rec.UUID)
	if f.failOnCall > 0 && len(f.calls) == f.failOnCall {
		return &TransportError{Op: "upsert", Err: errConnRefused}
	}
	if reason, ok := f.reject[rec.UUID]; ok {
		return &RejectionError{Reason: reason}
	}
	f.rows[rec.UUID] = rec
	return nil
}

func (f *fakeRemote) QuerySince(ctx context.Context, since time.Time) ([]models.RemoteRecord, error) {
	if err := f.gate(ctx); err != nil {
		return nil, &TransportError{Op: "query", Err: err}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries = append(f.queries, since)
	if f.queryErr != nil {
		return nil, f.queryErr
	}

	var out []models.RemoteRecord
	for _, r := range f.rows {
		if conflict.Supersedes(since, r.UpdatedAt) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// gate holds a remote call until release is closed or ctx ends
func (f *fakeRemote) gate(ctx context.Context) error {
	if f.entered == nil {
		return nil
	}
	f.entered <- struct{}{}
	select {
	case <-f.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeRemote) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func (f *fakeRemote) put(rec models.RemoteRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[rec.UUID] = rec
}

func (f *fakeRemote) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeConn is a settable reachability flag
type fakeConn struct {
	reachable atomic.Bool
	mu        sync.Mutex
	reasons   []string
}

func newFakeConn(reachable bool) *fakeConn {
	c := &fakeConn{}
	c.reachable.Store(reachable)
	return c
}

func (c *fakeConn) Reachable() bool { return c.reachable.Load() }

func (c *fakeConn) MarkUnreachable(reason string) {
	c.reachable.Store(false)
	c.mu.Lock()
	c.reasons = append(c.reasons, reason)
	c.mu.Unlock()
}

// drain collects every event currently buffered on ch
func drain(ch <-chan models.SyncEvent) []models.SyncEvent {
	var out []models.SyncEvent
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func ofKind(events []models.SyncEvent, kind models.EventKind) []models.SyncEvent {
	var out []models.SyncEvent
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

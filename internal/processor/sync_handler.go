package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Guizzs26/hff-sync/internal/models"
	"github.com/Guizzs26/hff-sync/internal/service"
	"github.com/Guizzs26/hff-sync/pkg/metrics"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const maxRetries = 3

// Store is the server-side registration persistence
type Store interface {
	Upsert(ctx context.Context, rec models.RemoteRecord) (bool, error)
}

// Invalidator is notified after every applied write, e.g. the analytics cache
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// RegistrationHandler validates and persists incoming registration upserts
type RegistrationHandler struct {
	store       Store
	invalidator Invalidator
	logger      *slog.Logger

	// overridable in tests
	sleep func(time.Duration)
}

func NewRegistrationHandler(store Store, inv Invalidator, logger *slog.Logger) *RegistrationHandler {
	return &RegistrationHandler{
		store:       store,
		invalidator: inv,
		logger:      logger,
		sleep:       time.Sleep,
	}
}

// Apply runs validation and the write with internal retry on lock contention.
// Validation failures come back as *service.RejectionError.
func (h *RegistrationHandler) Apply(ctx context.Context, rec models.RemoteRecord) (applied bool, err error) {
	start := time.Now()

	defer func() {
		status := "success"
		if err != nil {
			if service.IsRejection(err) {
				status = "rejected"
			} else {
				status = "error"
			}
		}
		metrics.UpsertDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	l := h.logger.With("uuid", rec.UUID)

	if err := Validate(rec); err != nil {
		l.Warn("Registration rejected", "error", err)
		return false, err
	}
	rec.UpdatedAt = models.NormalizeTime(rec.UpdatedAt)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		applied, err = h.store.Upsert(ctx, rec)
		if err == nil {
			if applied {
				l.Debug("Registration stored", "updated_at", rec.UpdatedAt)
				h.invalidate(ctx, l)
			} else {
				l.Info("Stored copy is newer, upsert acknowledged without change", "updated_at", rec.UpdatedAt)
			}
			return applied, nil
		}

		if isContention(err) {
			lastErr = err
			metrics.ContentionRetries.Inc()

			// Attempt 1: 200ms, Attempt 2: 400ms, Attempt 3: 600ms
			backoff := time.Duration(attempt) * 200 * time.Millisecond

			l.Warn("Postgres lock contention detected, retrying internally",
				"attempt", attempt,
				"backoff", backoff,
				"error", err,
			)

			h.sleep(backoff)
			continue
		}

		// Non-recoverable for this request; the client keeps the record pending
		return false, err
	}

	return false, fmt.Errorf("failed after %d attempts (last error: %w)", maxRetries, lastErr)
}

func (h *RegistrationHandler) invalidate(ctx context.Context, l *slog.Logger) {
	if h.invalidator == nil {
		return
	}
	if err := h.invalidator.Invalidate(ctx); err != nil {
		l.Warn("Failed to invalidate stats cache", "error", err)
	}
}

// Validate checks what the server needs to store a registration
func Validate(rec models.RemoteRecord) error {
	if _, err := uuid.Parse(rec.UUID); err != nil {
		return &service.RejectionError{Reason: fmt.Sprintf("invalid uuid %q", rec.UUID)}
	}
	if rec.UpdatedAt.IsZero() {
		return &service.RejectionError{Reason: "updated_at is required"}
	}
	if rec.UpdatedAt.After(time.Now().Add(24 * time.Hour)) {
		return &service.RejectionError{Reason: "updated_at is in the future"}
	}

	var payload map[string]any
	if err := json.Unmarshal(rec.Payload, &payload); err != nil || payload == nil {
		return &service.RejectionError{Reason: "payload must be a JSON object"}
	}
	name, _ := payload["firstName"].(string)
	if strings.TrimSpace(name) == "" {
		return &service.RejectionError{Reason: "firstName is required"}
	}
	return nil
}

// isContention detects Postgres errors that succeed when retried:
// serialization_failure, deadlock_detected and lock_not_available
func isContention(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return true
	}
	return false
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Guizzs26/hff-sync/internal/conflict"
	"github.com/Guizzs26/hff-sync/internal/models"

	_ "modernc.org/sqlite"
)

var (
	// ErrDuplicateIdentifier is returned by Append when the uuid is already stored
	ErrDuplicateIdentifier = errors.New("duplicate record identifier")
	// ErrRecordNotFound is returned when a local key does not exist
	ErrRecordNotFound = errors.New("record not found")
)

// UpsertOutcome reports what UpsertByUUID did with an incoming record
type UpsertOutcome string

const (
	OutcomeInserted UpsertOutcome = "inserted"
	OutcomeUpdated  UpsertOutcome = "updated"
	OutcomeIgnored  UpsertOutcome = "ignored"
)

const localSchemaSQL = `
CREATE TABLE IF NOT EXISTS registrations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    payload TEXT NOT NULL,
    sync_status TEXT NOT NULL DEFAULT 'pending',
    synced_at TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_registrations_uuid ON registrations(uuid);
CREATE INDEX IF NOT EXISTS idx_registrations_status ON registrations(sync_status, id);
CREATE INDEX IF NOT EXISTS idx_registrations_updated_at ON registrations(updated_at);
`

const selectRecordSQL = `SELECT id, uuid, updated_at, payload, sync_status, synced_at FROM registrations`

// LocalQueue is the client's durable record store
// Every operation holds a whole-store lock, so each one is atomic with respect to any record
type LocalQueue struct {
	conn   *sql.DB
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// OpenLocalQueue creates or opens the SQLite file at path and ensures the schema
func OpenLocalQueue(path string, logger *slog.Logger) (*LocalQueue, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	// SQLite has a single writer; one connection avoids "database is locked"
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(localSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create local schema: %w", err)
	}

	logger.Debug("Local queue opened", "path", path)

	return &LocalQueue{conn: conn, path: path, logger: logger}, nil
}

// Close checkpoints the WAL and closes the database
func (q *LocalQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		q.logger.Warn("Failed to checkpoint WAL", "error", err)
	}
	return q.conn.Close()
}

// Append inserts rec as pending and returns its local key
func (q *LocalQueue) Append(ctx context.Context, rec models.Record) (int64, error) {
	if rec.UUID == "" {
		return 0, fmt.Errorf("append: record has no uuid")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = models.Now()
	}
	if len(rec.Payload) == 0 {
		rec.Payload = []byte("{}")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var exists int
	err := q.conn.QueryRowContext(ctx, `SELECT 1 FROM registrations WHERE uuid = ?`, rec.UUID).Scan(&exists)
	if err == nil {
		return 0, fmt.Errorf("append %s: %w", rec.UUID, ErrDuplicateIdentifier)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("append %s: lookup failed: %w", rec.UUID, err)
	}

	res, err := q.conn.ExecContext(ctx,
		`INSERT INTO registrations (uuid, updated_at, payload, sync_status) VALUES (?, ?, ?, ?)`,
		rec.UUID, models.FormatTimestamp(rec.UpdatedAt), string(rec.Payload), string(models.StatusPending),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("append %s: %w", rec.UUID, ErrDuplicateIdentifier)
		}
		return 0, fmt.Errorf("append %s: %w", rec.UUID, err)
	}

	return res.LastInsertId()
}

// ListPending returns every pending record in insertion order
func (q *LocalQueue) ListPending(ctx context.Context) ([]models.Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.query(ctx, selectRecordSQL+` WHERE sync_status = ? ORDER BY id ASC`, string(models.StatusPending))
}

// ListAll returns every local record in insertion order
func (q *LocalQueue) ListAll(ctx context.Context) ([]models.Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.query(ctx, selectRecordSQL+` ORDER BY id ASC`)
}

// GetByUUID returns nil, nil when no record carries uuid
func (q *LocalQueue) GetByUUID(ctx context.Context, uuid string) (*models.Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	recs, err := q.query(ctx, selectRecordSQL+` WHERE uuid = ?`, uuid)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// MarkSynced is idempotent: repeating it with the same arguments leaves the row unchanged
func (q *LocalQueue) MarkSynced(ctx context.Context, id int64, syncedAt time.Time) error {
	return q.setStatus(ctx, id, models.StatusSynced, &syncedAt)
}

// MarkFailed flags the record for diagnostics without discarding it
func (q *LocalQueue) MarkFailed(ctx context.Context, id int64) error {
	return q.setStatus(ctx, id, models.StatusFailed, nil)
}

func (q *LocalQueue) setStatus(ctx context.Context, id int64, status models.SyncStatus, syncedAt *time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var res sql.Result
	var err error
	if syncedAt != nil {
		res, err = q.conn.ExecContext(ctx,
			`UPDATE registrations SET sync_status = ?, synced_at = ? WHERE id = ?`,
			string(status), models.FormatTimestamp(*syncedAt), id)
	} else {
		res, err = q.conn.ExecContext(ctx,
			`UPDATE registrations SET sync_status = ? WHERE id = ?`,
			string(status), id)
	}
	if err != nil {
		return fmt.Errorf("mark %s (id %d): %w", status, id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark %s (id %d): %w", status, id, err)
	}
	if rows == 0 {
		return fmt.Errorf("mark %s (id %d): %w", status, id, ErrRecordNotFound)
	}
	return nil
}

// UpsertByUUID merges a record received from the remote store using last-write-wins
func (q *LocalQueue) UpsertByUUID(ctx context.Context, rec models.Record) (UpsertOutcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("upsert %s: begin: %w", rec.UUID, err)
	}
	// Safety: Rollback is a no-op if Commit was already called
	defer tx.Rollback()

	var (
		id         int64
		storedText string
		current    *time.Time
	)
	err = tx.QueryRowContext(ctx, `SELECT id, updated_at FROM registrations WHERE uuid = ?`, rec.UUID).Scan(&id, &storedText)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return "", fmt.Errorf("upsert %s: lookup: %w", rec.UUID, err)
	default:
		stored, perr := models.ParseTimestamp(storedText)
		if perr != nil {
			return "", fmt.Errorf("upsert %s: corrupt updated_at %q: %w", rec.UUID, storedText, perr)
		}
		current = &stored
	}

	now := models.FormatTimestamp(time.Now())
	var outcome UpsertOutcome

	switch conflict.Resolve(current, rec.UpdatedAt) {
	case conflict.DecisionInsert:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO registrations (uuid, updated_at, payload, sync_status, synced_at) VALUES (?, ?, ?, ?, ?)`,
			rec.UUID, models.FormatTimestamp(rec.UpdatedAt), string(rec.Payload), string(models.StatusSynced), now)
		outcome = OutcomeInserted
	case conflict.DecisionReplace:
		_, err = tx.ExecContext(ctx,
			`UPDATE registrations SET updated_at = ?, payload = ?, sync_status = ?, synced_at = ? WHERE id = ?`,
			models.FormatTimestamp(rec.UpdatedAt), string(rec.Payload), string(models.StatusSynced), now, id)
		outcome = OutcomeUpdated
	default:
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", fmt.Errorf("upsert %s: %w", rec.UUID, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("upsert %s: commit: %w", rec.UUID, err)
	}
	return outcome, nil
}

// LatestUpdatedAt returns the newest updated_at known locally, or models.EpochZero
func (q *LocalQueue) LatestUpdatedAt(ctx context.Context) (time.Time, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var latest sql.NullString
	if err := q.conn.QueryRowContext(ctx, `SELECT MAX(updated_at) FROM registrations`).Scan(&latest); err != nil {
		return time.Time{}, fmt.Errorf("latest updated_at: %w", err)
	}
	if !latest.Valid || latest.String == "" {
		return models.EpochZero, nil
	}

	t, err := models.ParseTimestamp(latest.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest updated_at: corrupt value %q: %w", latest.String, err)
	}
	return t, nil
}

// PendingCount returns the number of records waiting for a push
func (q *LocalQueue) PendingCount(ctx context.Context) (int, error) {
	counts, err := q.CountByStatus(ctx)
	if err != nil {
		return 0, err
	}
	return counts[models.StatusPending], nil
}

// CountByStatus returns the number of records in each sync state
func (q *LocalQueue) CountByStatus(ctx context.Context) (map[models.SyncStatus]int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rows, err := q.conn.QueryContext(ctx, `SELECT sync_status, COUNT(*) FROM registrations GROUP BY sync_status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := map[models.SyncStatus]int{
		models.StatusPending: 0,
		models.StatusSynced:  0,
		models.StatusFailed:  0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("count by status: %w", err)
		}
		counts[models.SyncStatus(status)] = n
	}
	return counts, rows.Err()
}

// RequeueFailed moves every failed record back to pending
func (q *LocalQueue) RequeueFailed(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.conn.ExecContext(ctx,
		`UPDATE registrations SET sync_status = ? WHERE sync_status = ?`,
		string(models.StatusPending), string(models.StatusFailed))
	if err != nil {
		return 0, fmt.Errorf("requeue failed records: %w", err)
	}
	return res.RowsAffected()
}

func (q *LocalQueue) query(ctx context.Context, query string, args ...any) ([]models.Record, error) {
	rows, err := q.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query local store: %w", err)
	}
	defer rows.Close()

	var recs []models.Record
	for rows.Next() {
		var (
			rec       models.Record
			updatedAt string
			payload   string
			status    string
			syncedAt  sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.UUID, &updatedAt, &payload, &status, &syncedAt); err != nil {
			return nil, fmt.Errorf("scan local record: %w", err)
		}

		t, err := models.ParseTimestamp(updatedAt)
		if err != nil {
			return nil, fmt.Errorf("record %s: corrupt updated_at %q: %w", rec.UUID, updatedAt, err)
		}
		rec.UpdatedAt = t
		rec.Payload = []byte(payload)
		rec.SyncStatus = models.SyncStatus(status)

		if syncedAt.Valid && syncedAt.String != "" {
			if st, err := models.ParseTimestamp(syncedAt.String); err == nil {
				rec.SyncedAt = &st
			}
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

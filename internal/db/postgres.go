package db

import (
	"context"
	"fmt"
	"time"

	"github.com/Guizzs26/hff-sync/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const serverSchemaSQL = `
CREATE TABLE IF NOT EXISTS registrations (
    uuid UUID PRIMARY KEY,
    updated_at TIMESTAMPTZ NOT NULL,
    payload JSONB NOT NULL,
    received_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_registrations_updated_at ON registrations (updated_at);
`

// PostgresRepository is the server-side registration store
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to configure postgres pool: %w", err)
	}

	p, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("postgres is not responding: %w", err)
	}

	return &PostgresRepository{pool: p}, nil
}

// EnsureSchema creates the registrations table when it does not exist
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, serverSchemaSQL); err != nil {
		return fmt.Errorf("failed to create registrations schema: %w", err)
	}
	return nil
}

// Upsert stores rec keyed by uuid. A stored row is only overwritten when the
// incoming updated_at is not older, so a late push from a stale device is acked
// without clobbering a newer write. applied reports whether the row changed.
func (r *PostgresRepository) Upsert(ctx context.Context, rec models.RemoteRecord) (applied bool, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return false, fmt.Errorf("failed to start transaction: %w", err)
	}
	// Safety: Rollback is a no-op if Commit was already called
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO registrations (uuid, updated_at, payload, received_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (uuid) DO UPDATE
		SET updated_at = EXCLUDED.updated_at,
		    payload = EXCLUDED.payload,
		    received_at = CURRENT_TIMESTAMP
		WHERE registrations.updated_at <= EXCLUDED.updated_at
	`
	tag, err := tx.Exec(ctx, query, rec.UUID, models.NormalizeTime(rec.UpdatedAt), string(rec.Payload))
	if err != nil {
		return false, fmt.Errorf("upsert %s: %w", rec.UUID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("upsert %s: commit: %w", rec.UUID, err)
	}

	return tag.RowsAffected() > 0, nil
}

// FetchSince returns every registration strictly newer than since, oldest first
func (r *PostgresRepository) FetchSince(ctx context.Context, since time.Time) ([]models.RemoteRecord, error) {
	query := `
		SELECT uuid::text, updated_at, payload
		FROM registrations
		WHERE updated_at > $1
		ORDER BY updated_at ASC, uuid ASC
	`
	return r.fetch(ctx, query, models.NormalizeTime(since))
}

// ListAll returns every registration, oldest first
func (r *PostgresRepository) ListAll(ctx context.Context) ([]models.RemoteRecord, error) {
	query := `
		SELECT uuid::text, updated_at, payload
		FROM registrations
		ORDER BY updated_at ASC, uuid ASC
	`
	return r.fetch(ctx, query)
}

func (r *PostgresRepository) fetch(ctx context.Context, query string, args ...any) ([]models.RemoteRecord, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query registrations: %w", err)
	}
	defer rows.Close()

	var records []models.RemoteRecord
	for rows.Next() {
		var (
			rec     models.RemoteRecord
			payload []byte
		)
		if err := rows.Scan(&rec.UUID, &rec.UpdatedAt, &payload); err != nil {
			return nil, fmt.Errorf("registration scan error: %w", err)
		}
		rec.UpdatedAt = models.NormalizeTime(rec.UpdatedAt)
		rec.Payload = payload
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registration iteration error: %w", err)
	}
	return records, nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

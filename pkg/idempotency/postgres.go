package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// uniqueViolation is the Postgres SQLSTATE for unique_violation
const uniqueViolation = "23505"

// PostgresStore keeps records in the webhook_idempotency table. The
// (namespace, event_id) unique constraint is the concurrency guard.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates the store and ensures its table exists
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	store := &PostgresStore{db: db}
	if err := store.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure webhook_idempotency table: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS webhook_idempotency (
		id BIGSERIAL PRIMARY KEY,
		namespace VARCHAR(100) NOT NULL,
		event_id VARCHAR(255) NOT NULL,
		processed_at TIMESTAMP WITH TIME ZONE NOT NULL,
		expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		UNIQUE (namespace, event_id)
	);

	CREATE INDEX IF NOT EXISTS idx_webhook_idempotency_expires_at ON webhook_idempotency(expires_at);
	`

	_, err := s.db.Exec(query)
	return err
}

// DeleteExpired removes every expired record across namespaces
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhook_idempotency WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired idempotency records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

// Get returns the unexpired record for the key
func (s *PostgresStore) Get(ctx context.Context, namespace, eventID string, now time.Time) (*Record, error) {
	rec := Record{Namespace: namespace, EventID: eventID}
	err := s.db.QueryRowContext(ctx, `
		SELECT processed_at, expires_at
		FROM webhook_idempotency
		WHERE namespace = $1 AND event_id = $2 AND expires_at > $3`,
		namespace, eventID, now,
	).Scan(&rec.ProcessedAt, &rec.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}
	return &rec, nil
}

// Insert adds rec. A conflicting row, or a raced unique violation, reports
// inserted=false without error.
func (s *PostgresStore) Insert(ctx context.Context, rec Record) (bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO webhook_idempotency (namespace, event_id, processed_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (namespace, event_id) DO NOTHING
		RETURNING id`,
		rec.Namespace, rec.EventID, rec.ProcessedAt, rec.ExpiresAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert idempotency record: %w", err)
	}
	return true, nil
}

// Claim is a single upsert: it inserts, or overwrites a row whose expiry has
// passed. No returned row means an unexpired record holds the key.
func (s *PostgresStore) Claim(ctx context.Context, rec Record) (bool, *Record, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO webhook_idempotency (namespace, event_id, processed_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (namespace, event_id) DO UPDATE
			SET processed_at = EXCLUDED.processed_at, expires_at = EXCLUDED.expires_at
			WHERE webhook_idempotency.expires_at <= EXCLUDED.processed_at
		RETURNING id`,
		rec.Namespace, rec.EventID, rec.ProcessedAt, rec.ExpiresAt,
	).Scan(&id)
	if err == nil {
		return true, nil, nil
	}
	if !errors.Is(err, sql.ErrNoRows) && !isUniqueViolation(err) {
		return false, nil, fmt.Errorf("failed to claim idempotency record: %w", err)
	}

	existing, err := s.Get(ctx, rec.Namespace, rec.EventID, rec.ProcessedAt)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

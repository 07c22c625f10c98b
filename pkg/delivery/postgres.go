package delivery

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PostgresStore keeps delivery rows in the webhook_deliveries table
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
		return nil, fmt.Errorf("failed to ensure webhook_deliveries table: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id VARCHAR(64) PRIMARY KEY,
		event_id VARCHAR(255) NOT NULL,
		event_type VARCHAR(255) NOT NULL,
		endpoint TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		status_code INTEGER,
		response_time_ms INTEGER,
		retry_count INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		error_code VARCHAR(64),
		request_headers JSONB,
		response_headers JSONB,
		request_body TEXT,
		response_body TEXT,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_created_at ON webhook_deliveries(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_event_type ON webhook_deliveries(event_type);
	CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_endpoint ON webhook_deliveries(endpoint);
	`

	_, err := s.db.Exec(query)
	return err
}

// Insert appends d
func (s *PostgresStore) Insert(ctx context.Context, d Delivery) error {
	requestHeaders, err := marshalHeaders(d.RequestHeaders)
	if err != nil {
		return fmt.Errorf("failed to marshal request headers: %w", err)
	}
	responseHeaders, err := marshalHeaders(d.ResponseHeaders)
	if err != nil {
		return fmt.Errorf("failed to marshal response headers: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (
			id, event_id, event_type, endpoint, success, status_code, response_time_ms,
			retry_count, error_message, error_code, request_headers, response_headers,
			request_body, response_body, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		d.ID, d.EventID, d.EventType, d.Endpoint, d.Success,
		nullInt(int64(d.StatusCode)), responseTime(d),
		d.RetryCount, nullString(d.ErrorMessage), nullString(d.ErrorCode),
		requestHeaders, responseHeaders,
		nullString(d.RequestBody), nullString(d.ResponseBody), d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert delivery: %w", err)
	}
	return nil
}

// List returns matching rows, newest first
func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]Delivery, error) {
	query := `
		SELECT id, event_id, event_type, endpoint, success, status_code, response_time_ms,
			retry_count, error_message, error_code, request_headers, response_headers,
			request_body, response_body, created_at
		FROM webhook_deliveries`

	var conditions []string
	var args []interface{}
	argPos := 1

	if filter.Start != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argPos))
		args = append(args, *filter.Start)
		argPos++
	}
	if filter.End != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argPos))
		args = append(args, *filter.End)
		argPos++
	}
	if filter.EventType != "" {
		conditions = append(conditions, fmt.Sprintf("event_type = $%d", argPos))
		args = append(args, filter.EventType)
		argPos++
	}
	if filter.Endpoint != "" {
		conditions = append(conditions, fmt.Sprintf("endpoint = $%d", argPos))
		args = append(args, filter.Endpoint)
		argPos++
	}
	if filter.Success != nil {
		conditions = append(conditions, fmt.Sprintf("success = $%d", argPos))
		args = append(args, *filter.Success)
		argPos++
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, filter.Limit)
		argPos++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argPos)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := []Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deliveries: %w", err)
	}
	return deliveries, nil
}

// DeleteOlderThan removes rows created before cutoff
func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhook_deliveries WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old deliveries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

func scanDelivery(rows *sql.Rows) (Delivery, error) {
	var (
		d                               Delivery
		statusCode, responseTime        sql.NullInt64
		errorMessage, errorCode         sql.NullString
		requestBody, responseBody       sql.NullString
		requestHeaders, responseHeaders []byte
	)

	err := rows.Scan(
		&d.ID, &d.EventID, &d.EventType, &d.Endpoint, &d.Success, &statusCode, &responseTime,
		&d.RetryCount, &errorMessage, &errorCode, &requestHeaders, &responseHeaders,
		&requestBody, &responseBody, &d.CreatedAt,
	)
	if err != nil {
		return Delivery{}, fmt.Errorf("failed to scan delivery: %w", err)
	}

	d.StatusCode = int(statusCode.Int64)
	d.ResponseTimeMs = responseTime.Int64
	d.ErrorMessage = errorMessage.String
	d.ErrorCode = errorCode.String
	d.RequestBody = requestBody.String
	d.ResponseBody = responseBody.String

	if d.RequestHeaders, err = unmarshalHeaders(requestHeaders); err != nil {
		return Delivery{}, fmt.Errorf("failed to unmarshal request headers: %w", err)
	}
	if d.ResponseHeaders, err = unmarshalHeaders(responseHeaders); err != nil {
		return Delivery{}, fmt.Errorf("failed to unmarshal response headers: %w", err)
	}
	return d, nil
}

func marshalHeaders(headers map[string]string) (interface{}, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	return json.Marshal(headers)
}

func unmarshalHeaders(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var headers map[string]string
	if err := json.Unmarshal(raw, &headers); err != nil {
		return nil, err
	}
	return headers, nil
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

// responseTime keeps a sub-millisecond answer as 0 rather than NULL
func responseTime(d Delivery) sql.NullInt64 {
	return sql.NullInt64{Int64: d.ResponseTimeMs, Valid: hasResponse(d)}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

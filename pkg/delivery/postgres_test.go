package delivery

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var deliveryColumns = []string{
	"id", "event_id", "event_type", "endpoint", "success", "status_code", "response_time_ms",
	"retry_count", "error_message", "error_code", "request_headers", "response_headers",
	"request_body", "response_body", "created_at",
}

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestNewPostgresStore(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS webhook_deliveries").WillReturnResult(sqlmock.NewResult(0, 0))

		store, err := NewPostgresStore(db)
		require.NoError(t, err)
		assert.NotNil(t, store)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil database", func(t *testing.T) {
		_, err := NewPostgresStore(nil)
		assert.Error(t, err)
	})

	t.Run("table creation error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS webhook_deliveries").WillReturnError(errors.New("permission denied"))

		_, err := NewPostgresStore(db)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to ensure webhook_deliveries table")
	})
}

func TestPostgresStore_Insert(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	d := Delivery{
		ID:             "del-1",
		EventID:        "evt-1",
		EventType:      "lead_captured",
		Endpoint:       "https://hooks.example.com/in",
		Success:        true,
		StatusCode:     200,
		ResponseTimeMs: 87,
		RequestHeaders: map[string]string{"Content-Type": "application/json"},
		CreatedAt:      now,
	}

	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		store := &PostgresStore{db: db}

		mock.ExpectExec("INSERT INTO webhook_deliveries").
			WithArgs("del-1", "evt-1", "lead_captured", "https://hooks.example.com/in", true,
				int64(200), int64(87), 0, nil, nil,
				[]byte(`{"Content-Type":"application/json"}`), nil, nil, nil, now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.Insert(context.Background(), d))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("sub-millisecond response stored as zero", func(t *testing.T) {
		db, mock := setupMockDB(t)
		store := &PostgresStore{db: db}

		fast := d
		fast.ResponseTimeMs = 0
		mock.ExpectExec("INSERT INTO webhook_deliveries").
			WithArgs("del-1", "evt-1", "lead_captured", "https://hooks.example.com/in", true,
				int64(200), int64(0), 0, nil, nil,
				[]byte(`{"Content-Type":"application/json"}`), nil, nil, nil, now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.Insert(context.Background(), fast))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no response stored as null", func(t *testing.T) {
		db, mock := setupMockDB(t)
		store := &PostgresStore{db: db}

		refused := d
		refused.Success = false
		refused.StatusCode = 0
		refused.ResponseTimeMs = 0
		mock.ExpectExec("INSERT INTO webhook_deliveries").
			WithArgs("del-1", "evt-1", "lead_captured", "https://hooks.example.com/in", false,
				nil, nil, 0, nil, nil,
				[]byte(`{"Content-Type":"application/json"}`), nil, nil, nil, now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.Insert(context.Background(), refused))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		store := &PostgresStore{db: db}

		mock.ExpectExec("INSERT INTO webhook_deliveries").WillReturnError(errors.New("connection reset"))

		err := store.Insert(context.Background(), d)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert delivery")
	})
}

func TestPostgresStore_List(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("filters and pagination", func(t *testing.T) {
		db, mock := setupMockDB(t)
		store := &PostgresStore{db: db}
		failed := false

		rows := sqlmock.NewRows(deliveryColumns).
			AddRow("del-2", "evt-2", "lead_captured", "https://a", false, 500, 1200,
				2, "HTTP 500: Internal Server Error", "MAX_RETRIES_EXCEEDED",
				[]byte(`{"X-Hub-Signature-256":"sha256=ab"}`), []byte(`{"Retry-After":"5"}`),
				`{"type":"lead_captured"}`, "oops", now).
			AddRow("del-1", "evt-1", "lead_captured", "https://a", false, nil, nil,
				2, "timeout", "MAX_RETRIES_EXCEEDED", nil, nil, nil, nil, now.Add(-time.Minute))

		mock.ExpectQuery(`SELECT .* FROM webhook_deliveries WHERE event_type = \$1 AND success = \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
			WithArgs("lead_captured", false, 10, 5).
			WillReturnRows(rows)

		got, err := store.List(context.Background(), Filter{EventType: "lead_captured", Success: &failed, Limit: 10, Offset: 5})
		require.NoError(t, err)
		require.Len(t, got, 2)

		assert.Equal(t, 500, got[0].StatusCode)
		assert.Equal(t, int64(1200), got[0].ResponseTimeMs)
		assert.Equal(t, "sha256=ab", got[0].RequestHeaders["X-Hub-Signature-256"])
		assert.Equal(t, "5", got[0].ResponseHeaders["Retry-After"])
		assert.Equal(t, "oops", got[0].ResponseBody)

		assert.Zero(t, got[1].StatusCode)
		assert.Nil(t, got[1].RequestHeaders)
		assert.Equal(t, "timeout", got[1].ErrorMessage)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("time range", func(t *testing.T) {
		db, mock := setupMockDB(t)
		store := &PostgresStore{db: db}
		start := now.Add(-time.Hour)

		mock.ExpectQuery(`WHERE created_at >= \$1 AND created_at <= \$2 AND endpoint = \$3 ORDER BY created_at DESC`).
			WithArgs(start, now, "https://a").
			WillReturnRows(sqlmock.NewRows(deliveryColumns))

		got, err := store.List(context.Background(), Filter{Start: &start, End: &now, Endpoint: "https://a"})
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		store := &PostgresStore{db: db}

		mock.ExpectQuery("SELECT").WillReturnError(errors.New("db down"))

		_, err := store.List(context.Background(), Filter{})
		assert.Error(t, err)
	})
}

func TestPostgresStore_DeleteOlderThan(t *testing.T) {
	db, mock := setupMockDB(t)
	store := &PostgresStore{db: db}
	cutoff := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`DELETE FROM webhook_deliveries WHERE created_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := store.DeleteOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

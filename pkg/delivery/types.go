package delivery

import (
	"context"
	"time"
)

// DefaultRetentionDays is how long delivery rows are kept by CleanupOldRecords
const DefaultRetentionDays = 30

// Delivery is the final outcome of delivering one event to one endpoint,
// annotated with how many retries it took. Rows are never updated.
type Delivery struct {
	ID              string            `json:"id"`
	EventID         string            `json:"event_id"`
	EventType       string            `json:"event_type"`
	Endpoint        string            `json:"endpoint"`
	Success         bool              `json:"success"`
	StatusCode      int               `json:"status_code,omitempty"`
	ResponseTimeMs  int64             `json:"response_time_ms,omitempty"`
	RetryCount      int               `json:"retry_count"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	ErrorCode       string            `json:"error_code,omitempty"`
	RequestHeaders  map[string]string `json:"request_headers,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	RequestBody     string            `json:"request_body,omitempty"`
	ResponseBody    string            `json:"response_body,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Filter narrows reads. Zero values match everything.
type Filter struct {
	Start     *time.Time
	End       *time.Time
	EventType string
	Endpoint  string
	Success   *bool
	Limit     int
	Offset    int
}

// Matches reports whether d passes every set field of the filter
func (f Filter) Matches(d Delivery) bool {
	if f.Start != nil && d.CreatedAt.Before(*f.Start) {
		return false
	}
	if f.End != nil && d.CreatedAt.After(*f.End) {
		return false
	}
	if f.EventType != "" && d.EventType != f.EventType {
		return false
	}
	if f.Endpoint != "" && d.Endpoint != f.Endpoint {
		return false
	}
	if f.Success != nil && d.Success != *f.Success {
		return false
	}
	return true
}

// Metrics aggregates a set of deliveries
type Metrics struct {
	TotalDeliveries      int     `json:"total_deliveries"`
	SuccessfulDeliveries int     `json:"successful_deliveries"`
	FailedDeliveries     int     `json:"failed_deliveries"`
	SuccessRate          float64 `json:"success_rate"`
	AverageResponseTime  float64 `json:"average_response_time"`
	P95ResponseTime      int64   `json:"p95_response_time"`
	P99ResponseTime      int64   `json:"p99_response_time"`
	TotalRetries         int     `json:"total_retries"`
	AverageRetries       float64 `json:"average_retries"`
}

// ErrorGroup collects failed deliveries sharing one error message
type ErrorGroup struct {
	Error          string    `json:"error"`
	Count          int       `json:"count"`
	Endpoints      []string  `json:"endpoints"`
	EventTypes     []string  `json:"event_types"`
	LastOccurrence time.Time `json:"last_occurrence"`
}

// Store persists delivery rows
type Store interface {
	Insert(ctx context.Context, d Delivery) error
	// List returns matching rows, newest first
	List(ctx context.Context, filter Filter) ([]Delivery, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Archiver copies rows somewhere durable before retention deletes them
type Archiver interface {
	Archive(ctx context.Context, deliveries []Delivery) error
}

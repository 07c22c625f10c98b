package webhooks

import (
	"time"
)

// Error codes recorded on failed deliveries
const (
	ErrorCodeMaxRetriesExceeded = "MAX_RETRIES_EXCEEDED"
	ErrorCodeNonRetryable       = "NON_RETRYABLE_ERROR"
)

// Signature schemes an endpoint can select
const (
	SchemeHMAC   = "hmac"
	SchemeStripe = "stripe"
)

// Endpoint defaults
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 1 * time.Second
	DefaultMaxDelay   = 30 * time.Second
	DefaultTimeout    = 10 * time.Second
)

// Metadata is optional context attached to an event. Which fields reach the
// payload is decided by the event type's PayloadConfig.
type Metadata struct {
	Timestamp string                 `json:"timestamp,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Source    string                 `json:"source,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// Event is one occurrence to emit. It is never persisted, only its delivery
// outcomes are.
type Event struct {
	ID       string                 `json:"id,omitempty"`
	Type     string                 `json:"type"`
	Data     map[string]interface{} `json:"data"`
	Metadata *Metadata              `json:"metadata,omitempty"`
}

// EndpointConfig is one destination for an event type
type EndpointConfig struct {
	URL        string        `yaml:"url" json:"url"`
	Secret     string        `yaml:"secret" json:"-"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay" json:"max_delay"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`

	// Scheme is "hmac" (default) or "stripe"
	Scheme           string  `yaml:"scheme" json:"scheme,omitempty"`
	Algorithm        string  `yaml:"algorithm" json:"algorithm,omitempty"`
	Encoding         string  `yaml:"encoding" json:"encoding,omitempty"`
	SignatureHeader  string  `yaml:"signature_header" json:"signature_header,omitempty"`
	SignaturePrefix  *string `yaml:"signature_prefix" json:"signature_prefix,omitempty"`
	IncludeTimestamp bool    `yaml:"include_timestamp" json:"include_timestamp,omitempty"`
}

func (c EndpointConfig) maxRetries() int {
	if c.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return c.MaxRetries
}

func (c EndpointConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// PayloadConfig toggles each metadata field independently. Omitted fields
// never leave the process.
type PayloadConfig struct {
	IncludeTimestamp bool                   `yaml:"include_timestamp" json:"include_timestamp"`
	IncludeSessionID bool                   `yaml:"include_session_id" json:"include_session_id"`
	IncludeUserID    bool                   `yaml:"include_user_id" json:"include_user_id"`
	IncludeSource    bool                   `yaml:"include_source" json:"include_source"`
	IncludeExtra     bool                   `yaml:"include_extra" json:"include_extra"`
	StaticFields     map[string]interface{} `yaml:"static_fields" json:"static_fields,omitempty"`
}

// EventConfig configures delivery of one event type
type EventConfig struct {
	Enabled   bool             `yaml:"enabled" json:"enabled"`
	Endpoints []EndpointConfig `yaml:"endpoints" json:"endpoints"`
	Payload   PayloadConfig    `yaml:"payload" json:"payload"`
}

// Registry maps event types to their configuration. It is not modified
// after load.
type Registry struct {
	Events map[string]EventConfig `yaml:"events" json:"events"`
}

// Lookup returns the configuration for eventType
func (r *Registry) Lookup(eventType string) (EventConfig, bool) {
	if r == nil || r.Events == nil {
		return EventConfig{}, false
	}
	cfg, ok := r.Events[eventType]
	return cfg, ok
}

// EmissionResult reports the outcome of Emit. Success is true only when
// every endpoint accepted the event, or when there was nothing to do.
type EmissionResult struct {
	Success    bool             `json:"success"`
	EventID    string           `json:"event_id,omitempty"`
	EventType  string           `json:"event_type"`
	Skipped    bool             `json:"skipped,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	Deliveries []DeliveryResult `json:"deliveries,omitempty"`
}

// DeliveryResult is the terminal outcome for one endpoint
type DeliveryResult struct {
	DeliveryID     string `json:"delivery_id,omitempty"`
	Endpoint       string `json:"endpoint"`
	Success        bool   `json:"success"`
	StatusCode     int    `json:"status_code,omitempty"`
	Attempts       int    `json:"attempts"`
	RetryCount     int    `json:"retry_count"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Error          string `json:"error,omitempty"`
	ErrorCode      string `json:"error_code,omitempty"`
}

package webhooks

import (
	"time"
)

// Payload is the JSON body POSTed to endpoints
type Payload struct {
	Type     string                 `json:"type"`
	Data     map[string]interface{} `json:"data"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// BuildPayload merges the event with the metadata fields cfg allows. The
// timestamp falls back to now when the event carries none.
func BuildPayload(event Event, cfg PayloadConfig, now time.Time) Payload {
	p := Payload{Type: event.Type, Data: event.Data}
	if p.Data == nil {
		p.Data = map[string]interface{}{}
	}

	meta := event.Metadata
	if meta == nil {
		meta = &Metadata{}
	}

	metadata := make(map[string]interface{})
	for k, v := range cfg.StaticFields {
		metadata[k] = v
	}
	if cfg.IncludeExtra {
		for k, v := range meta.Extra {
			metadata[k] = v
		}
	}
	if cfg.IncludeTimestamp {
		ts := meta.Timestamp
		if ts == "" {
			ts = now.UTC().Format(time.RFC3339Nano)
		}
		metadata["timestamp"] = ts
	}
	if cfg.IncludeSessionID && meta.SessionID != "" {
		metadata["sessionId"] = meta.SessionID
	}
	if cfg.IncludeUserID && meta.UserID != "" {
		metadata["userId"] = meta.UserID
	}
	if cfg.IncludeSource && meta.Source != "" {
		metadata["source"] = meta.Source
	}

	if len(metadata) > 0 {
		p.Metadata = metadata
	}
	return p
}

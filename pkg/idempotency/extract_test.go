package idempotency

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractEventID(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		header   http.Header
		body     string
		want     string
	}{
		{"stripe id", ProviderStripe, nil, `{"id":"evt_1N","type":"invoice.paid"}`, "evt_1N"},
		{"stripe without id", ProviderStripe, nil, `{"event_id":"x"}`, ""},
		{"github delivery header wins", ProviderGitHub, http.Header{"X-Github-Delivery": {"72d3162e"}}, `{"head_commit":{"id":"abc"}}`, "72d3162e"},
		{"github head commit", ProviderGitHub, nil, `{"head_commit":{"id":"6113728f27ae82c7b1a177c8d03f9e96e0adf246"}}`, "6113728f27ae82c7b1a177c8d03f9e96e0adf246"},
		{"github pull request numeric id", ProviderGitHub, nil, `{"action":"opened","pull_request":{"id":279147437}}`, "279147437"},
		{"github ping by zen", ProviderGitHub, nil, `{"zen":"Keep it logically awesome."}`, "ping"},
		{"github ping by hook id", ProviderGitHub, nil, `{"hook_id":42}`, "ping"},
		{"github unknown shape", ProviderGitHub, nil, `{"action":"created"}`, ""},
		{"generic id", ProviderGeneric, nil, `{"id":"a","event_id":"b"}`, "a"},
		{"generic event_id", ProviderGeneric, nil, `{"event_id":"b","uuid":"c"}`, "b"},
		{"generic uuid", "", nil, `{"uuid":"c"}`, "c"},
		{"generic message_id", "custom", nil, `{"message_id":"m-1"}`, "m-1"},
		{"generic large number verbatim", ProviderGeneric, nil, `{"id":12345678901234567890}`, "12345678901234567890"},
		{"generic empty string skipped", ProviderGeneric, nil, `{"id":"","uuid":"u"}`, "u"},
		{"generic object id ignored", ProviderGeneric, nil, `{"id":{"nested":true}}`, ""},
		{"invalid json", ProviderGeneric, nil, `not json`, ""},
		{"array body", ProviderGeneric, nil, `[{"id":"a"}]`, ""},
		{"empty body", ProviderStripe, nil, ``, ""},
		{"provider case insensitive", "Stripe", nil, `{"id":"evt_2"}`, "evt_2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractEventID(tt.provider, tt.header, []byte(tt.body)))
		})
	}
}

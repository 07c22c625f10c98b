package idempotency

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
)

// HeaderGitHubDelivery carries GitHub's unique delivery id
const HeaderGitHubDelivery = "X-GitHub-Delivery"

var genericIDFields = []string{"id", "event_id", "uuid", "message_id"}

// ExtractEventID finds the provider's event id in a webhook request. It
// returns "" when the payload shape is not recognized.
//
//   - stripe: body "id"
//   - github: X-GitHub-Delivery header, then head_commit.id, then
//     pull_request.id, then "ping" for ping deliveries (zen or hook_id present)
//   - anything else: first of id, event_id, uuid, message_id
//
// Numeric ids are returned exactly as they appear in the body.
func ExtractEventID(provider string, header http.Header, body []byte) string {
	if strings.EqualFold(provider, ProviderGitHub) && header != nil {
		if id := strings.TrimSpace(header.Get(HeaderGitHubDelivery)); id != "" {
			return id
		}
	}

	payload := decodeObject(body)
	if payload == nil {
		return ""
	}

	switch strings.ToLower(provider) {
	case ProviderStripe:
		return scalarString(payload["id"])
	case ProviderGitHub:
		if commit, ok := payload["head_commit"].(map[string]interface{}); ok {
			if id := scalarString(commit["id"]); id != "" {
				return id
			}
		}
		if pr, ok := payload["pull_request"].(map[string]interface{}); ok {
			if id := scalarString(pr["id"]); id != "" {
				return id
			}
		}
		_, hasZen := payload["zen"]
		_, hasHookID := payload["hook_id"]
		if hasZen || hasHookID {
			return "ping"
		}
		return ""
	default:
		for _, field := range genericIDFields {
			if id := scalarString(payload[field]); id != "" {
				return id
			}
		}
		return ""
	}
}

func decodeObject(body []byte) map[string]interface{} {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload map[string]interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil
	}
	return payload
}

func scalarString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	default:
		return ""
	}
}

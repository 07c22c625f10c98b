package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"sort"

	"github.com/platinummonkey/herohooks/pkg/signing"
	"github.com/platinummonkey/herohooks/pkg/webhooks"
	"gopkg.in/yaml.v3"
)

var envReference = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadRegistry reads the YAML event registry at path. An empty path yields an
// empty registry, so every emission is skipped.
func LoadRegistry(path string) (*webhooks.Registry, error) {
	if path == "" {
		return &webhooks.Registry{Events: map[string]webhooks.EventConfig{}}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook config: %w", err)
	}

	registry, err := ParseRegistry(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return registry, nil
}

// ParseRegistry decodes a YAML registry. ${VAR} references are replaced from
// the environment before decoding; unset variables become empty.
//
//	events:
//	  lead.captured:
//	    enabled: true
//	    payload:
//	      include_timestamp: true
//	    endpoints:
//	      - url: https://crm.example.com/hooks
//	        secret: ${CRM_WEBHOOK_SECRET}
//	        max_retries: 5
//	        timeout: 5s
func ParseRegistry(data []byte) (*webhooks.Registry, error) {
	expanded := envReference.ReplaceAllStringFunc(string(data), func(ref string) string {
		return os.Getenv(envReference.FindStringSubmatch(ref)[1])
	})

	var registry webhooks.Registry
	if err := yaml.Unmarshal([]byte(expanded), &registry); err != nil {
		return nil, fmt.Errorf("invalid webhook config: %w", err)
	}
	if registry.Events == nil {
		registry.Events = map[string]webhooks.EventConfig{}
	}

	if err := ValidateRegistry(&registry); err != nil {
		return nil, err
	}
	return &registry, nil
}

// ValidateRegistry checks every endpoint of every enabled event
func ValidateRegistry(registry *webhooks.Registry) error {
	eventTypes := make([]string, 0, len(registry.Events))
	for eventType := range registry.Events {
		eventTypes = append(eventTypes, eventType)
	}
	sort.Strings(eventTypes)

	for _, eventType := range eventTypes {
		event := registry.Events[eventType]
		if !event.Enabled {
			continue
		}
		for i, endpoint := range event.Endpoints {
			if err := validateEndpoint(endpoint); err != nil {
				return fmt.Errorf("event %s endpoint %d: %w", eventType, i, err)
			}
		}
	}
	return nil
}

func validateEndpoint(endpoint webhooks.EndpointConfig) error {
	if endpoint.URL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(endpoint.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) URL: %s", endpoint.URL)
	}
	if endpoint.Secret == "" {
		return fmt.Errorf("secret is required for %s", endpoint.URL)
	}

	switch endpoint.Scheme {
	case "", webhooks.SchemeHMAC, webhooks.SchemeStripe:
	default:
		return fmt.Errorf("unknown signature scheme: %s (must be hmac or stripe)", endpoint.Scheme)
	}

	switch signing.Algorithm(endpoint.Algorithm) {
	case "", signing.SHA256, signing.SHA1:
	default:
		return fmt.Errorf("%w: %q", signing.ErrUnsupportedAlgorithm, endpoint.Algorithm)
	}
	switch signing.Encoding(endpoint.Encoding) {
	case "", signing.Hex, signing.Base64:
	default:
		return fmt.Errorf("%w: %q", signing.ErrUnsupportedEncoding, endpoint.Encoding)
	}
	return nil
}

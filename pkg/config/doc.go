// Package config loads herohooks configuration from HEROHOOKS_ environment
// variables and the event registry from YAML.
//
// # Environment
//
// Server settings:
//
//	HEROHOOKS_HOST="0.0.0.0"
//	HEROHOOKS_PORT="8080"
//	HEROHOOKS_HEALTH_PORT="9090"
//
// Stores (memory, postgres or redis where supported):
//
//	HEROHOOKS_DELIVERY_STORE="postgres"
//	HEROHOOKS_IDEMPOTENCY_STORE="redis"
//	HEROHOOKS_RATELIMIT_STORE="redis"
//	HEROHOOKS_POSTGRES_URL="postgres://localhost/herohooks"
//	HEROHOOKS_REDIS_URL="redis://localhost:6379"
//
// Inbound providers and their secrets:
//
//	HEROHOOKS_INBOUND_PROVIDERS="github,stripe"
//	HEROHOOKS_GITHUB_WEBHOOK_SECRET="..."
//	HEROHOOKS_STRIPE_WEBHOOK_SECRET="whsec_..."
//
// Outbound emission:
//
//	HEROHOOKS_WEBHOOK_CONFIG="/etc/herohooks/webhooks.yaml"
//	HEROHOOKS_QUEUE_ENABLED="true"
//
// Worker retention:
//
//	HEROHOOKS_RETENTION_DAYS="30"
//	HEROHOOKS_RETENTION_SCHEDULE="0 3 * * *"
//	HEROHOOKS_ARCHIVE_ENABLED="true"
//	HEROHOOKS_S3_BUCKET="herohooks-archive"
//
// Observability:
//
//	HEROHOOKS_LOG_LEVEL="info"  # debug, info, warn, error
//	HEROHOOKS_OTEL_ENABLED="true"
//	HEROHOOKS_OTEL_ENDPOINT="otel-collector:4317"
//
// # Registry
//
// LoadRegistry reads the event registry and expands ${VAR} references so
// endpoint secrets can stay in the environment.
package config

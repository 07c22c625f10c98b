// Package inbound protects handlers that receive webhooks from external
// providers.
//
// A Guard reads the body once, verifies its signature with pkg/signing and
// claims the event id with pkg/idempotency before the wrapped handler runs:
//
//	guard := inbound.NewGuard(inbound.ProviderConfig{
//		Provider: idempotency.ProviderStripe,
//		Secret:   cfg.StripeWebhookSecret,
//	}, inbound.WithIdempotency(idem), inbound.WithLogger(logger))
//
//	router.Handle("/webhooks/stripe", guard.Wrap(billingHandler))
//
// Senders see 200 for a processed or replayed event, 401 with the
// verification reason for a bad signature and 5xx otherwise.
package inbound

// Package webhooks emits signed outbound webhooks for configured event types.
//
// # Overview
//
// A Registry maps each event type to its endpoints and payload settings.
// Emit builds the payload once, then delivers it to every endpoint in
// parallel. Each endpoint gets its own retry loop with exponential backoff
// and jitter; a 4xx other than 408 or 429 stops it early.
//
// Emit never returns an error. Unknown or disabled event types are skipped
// and reported as success; per-endpoint outcomes are in EmissionResult and,
// when a DeliveryLogger is set, in the delivery log.
//
// # Usage Example
//
//	emitter := webhooks.NewEmitter(registry,
//		webhooks.WithDeliveryLogger(tracker),
//		webhooks.WithLogger(logger),
//		webhooks.WithMetrics(metrics),
//	)
//
//	result := emitter.Emit(ctx, webhooks.Event{
//		Type: "lead_captured",
//		Data: map[string]interface{}{"email": "ada@example.com"},
//		Metadata: &webhooks.Metadata{Source: "landing-page"},
//	})
//
// # Signatures
//
// The default scheme sets X-Hub-Signature-256: sha256=<hex HMAC of body>.
// Endpoints can choose sha1, base64, a custom header or prefix, and a signed
// timestamp. Scheme "stripe" sets a Stripe-Signature header instead.
//
// # Queue
//
// Queue puts a Redis stream in front of the emitter. Handlers enqueue and
// answer 202; a worker runs Queue.Run and acknowledges each message after
// Emit returns.
package webhooks

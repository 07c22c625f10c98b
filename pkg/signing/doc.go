// Package signing signs outbound webhook payloads and verifies inbound ones.
//
// Outbound:
//
//	signed, err := signing.Sign(body, secret)
//	// signed.Headers["X-Hub-Signature-256"] == "sha256=<hex>"
//
// With a timestamp the signed content is "{ts}.{payload}":
//
//	signed, err := signing.Sign(body, secret, signing.IncludeTimestamp())
//
// Inbound, GitHub style and Stripe style:
//
//	res := signing.Verify(body, r.Header.Get("X-Hub-Signature-256"), secret, "sha256=")
//	res := signing.VerifyStripe(body, r.Header.Get("Stripe-Signature"), secret)
//	if !res.Valid {
//		// res.Error is one of the Reason* constants
//	}
//
// MAC comparison is constant time. Malformed, attacker-controlled input is
// reported through Result, never through a panic or error.
package signing

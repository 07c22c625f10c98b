package signing

import (
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"time"
)

// Verification failure reasons. Each is reported verbatim in Result.Error.
const (
	ReasonMissingSignature          = "missing signature header"
	ReasonMissingSecret             = "webhook secret not configured"
	ReasonMissingPrefix             = "signature missing expected prefix"
	ReasonMalformedSignature        = "malformed signature"
	ReasonLengthMismatch            = "signature length mismatch"
	ReasonSignatureMismatch         = "signature mismatch"
	ReasonMissingTimestamp          = "missing timestamp in signature header"
	ReasonNoV1Signatures            = "no v1 signatures in signature header"
	ReasonTimestampOutsideTolerance = "timestamp outside tolerance window"
)

// DefaultTolerance is the maximum clock skew accepted for timestamped signatures
const DefaultTolerance = 300 * time.Second

// Result is the outcome of a verification. Verification never returns an
// error value; failures are reported here.
type Result struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func invalid(reason string) Result {
	return Result{Valid: false, Error: reason}
}

// Verifier checks inbound webhook signatures
type Verifier struct {
	// Algorithm for the generic scheme; Stripe is always sha256
	Algorithm Algorithm
	// Tolerance for the Stripe timestamp; zero means DefaultTolerance
	Tolerance time.Duration
	// Now is the clock; nil means time.Now
	Now func() time.Time
}

// DefaultVerifier verifies sha256 signatures with a 300s tolerance
var DefaultVerifier = &Verifier{Algorithm: SHA256, Tolerance: DefaultTolerance}

// Verify checks signature against HMAC(secret, payload) using DefaultVerifier
func Verify(payload []byte, signature, secret, prefix string) Result {
	return DefaultVerifier.Verify(payload, signature, secret, prefix)
}

// VerifyStripe checks a Stripe-Signature header using DefaultVerifier
func VerifyStripe(payload []byte, header, secret string) Result {
	return DefaultVerifier.VerifyStripe(payload, header, secret)
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func (v *Verifier) tolerance() time.Duration {
	if v.Tolerance > 0 {
		return v.Tolerance
	}
	return DefaultTolerance
}

// Verify checks a hex signature over the raw payload. When prefix is non-empty
// the signature must start with it.
func (v *Verifier) Verify(payload []byte, signature, secret, prefix string) Result {
	if signature == "" {
		return invalid(ReasonMissingSignature)
	}
	if secret == "" {
		return invalid(ReasonMissingSecret)
	}

	if prefix != "" {
		if !strings.HasPrefix(signature, prefix) {
			return invalid(ReasonMissingPrefix)
		}
		signature = signature[len(prefix):]
	}

	received, err := hex.DecodeString(signature)
	if err != nil {
		return invalid(ReasonMalformedSignature)
	}

	expected, err := computeMAC(v.Algorithm, secret, string(payload))
	if err != nil {
		return invalid(err.Error())
	}

	if len(received) != len(expected) {
		return invalid(ReasonLengthMismatch)
	}
	if subtle.ConstantTimeCompare(received, expected) != 1 {
		return invalid(ReasonSignatureMismatch)
	}

	return Result{Valid: true}
}

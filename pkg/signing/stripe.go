package signing

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StripeHeader is a parsed Stripe-Signature header
type StripeHeader struct {
	Timestamp  int64
	Signatures [][]byte
}

// ParseStripeHeader parses "t=<unix>,v1=<hex>[,v1=<hex>...]". Unknown schemes
// (v0 and others) are ignored. v1 values that are not hex are skipped.
func ParseStripeHeader(header string) (*StripeHeader, string) {
	parsed := &StripeHeader{}
	haveTimestamp := false

	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return nil, ReasonMalformedSignature
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, ReasonMalformedSignature
			}
			parsed.Timestamp = ts
			haveTimestamp = true
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			parsed.Signatures = append(parsed.Signatures, sig)
		}
	}

	if !haveTimestamp {
		return nil, ReasonMissingTimestamp
	}
	if len(parsed.Signatures) == 0 {
		return nil, ReasonNoV1Signatures
	}
	return parsed, ""
}

// VerifyStripe checks a Stripe-Signature header. The timestamp must be within
// the tolerance of now, and any v1 entry matching HMAC-SHA256(secret,
// "{t}.{payload}") is accepted so rotated secrets verify.
func (v *Verifier) VerifyStripe(payload []byte, header, secret string) Result {
	if header == "" {
		return invalid(ReasonMissingSignature)
	}
	if secret == "" {
		return invalid(ReasonMissingSecret)
	}

	parsed, reason := ParseStripeHeader(header)
	if parsed == nil {
		return invalid(reason)
	}

	if !withinTolerance(v.now().Unix(), parsed.Timestamp, v.tolerance()) {
		return invalid(ReasonTimestampOutsideTolerance)
	}

	expected, err := computeMAC(SHA256, secret, strconv.FormatInt(parsed.Timestamp, 10)+"."+string(payload))
	if err != nil {
		return invalid(err.Error())
	}

	matched := 0
	for _, sig := range parsed.Signatures {
		if len(sig) == len(expected) {
			matched |= subtle.ConstantTimeCompare(sig, expected)
		}
	}
	if matched != 1 {
		return invalid(ReasonSignatureMismatch)
	}

	return Result{Valid: true}
}

// withinTolerance compares in whole seconds so timestamps near the int64
// limits cannot overflow the difference.
func withinTolerance(now, ts int64, tolerance time.Duration) bool {
	secs := int64(tolerance / time.Second)
	if ts < now {
		return ts >= now-secs
	}
	return ts-now <= secs
}

// SignStripe returns a Stripe-Signature header value for payload at ts
func SignStripe(payload, secret string, ts int64) (string, error) {
	if secret == "" {
		return "", ErrMissingSecret
	}
	mac, err := computeMAC(SHA256, secret, strconv.FormatInt(ts, 10)+"."+payload)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac)), nil
}

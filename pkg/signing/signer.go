package signing

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"time"
)

// Algorithm is the HMAC hash function
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA1   Algorithm = "sha1"
)

// Encoding is the text encoding of the MAC
type Encoding string

const (
	Hex    Encoding = "hex"
	Base64 Encoding = "base64"
)

// Header names and values set on outbound deliveries
const (
	HeaderSignature256 = "X-Hub-Signature-256"
	HeaderSignature    = "X-Hub-Signature"
	HeaderTimestamp    = "X-Timestamp"
	HeaderContentType  = "Content-Type"
	HeaderUserAgent    = "User-Agent"
	HeaderStripe       = "Stripe-Signature"

	ContentTypeJSON = "application/json"
	UserAgent       = "OSS-Hero-Webhooks/1.0"
)

var (
	// ErrMissingSecret is returned when signing without a secret
	ErrMissingSecret = errors.New("webhook secret is required for signing")
	// ErrUnsupportedAlgorithm is returned for algorithms other than sha256 and sha1
	ErrUnsupportedAlgorithm = errors.New("unsupported signature algorithm")
	// ErrUnsupportedEncoding is returned for encodings other than hex and base64
	ErrUnsupportedEncoding = errors.New("unsupported signature encoding")
)

// SignedPayload is the result of signing one delivery attempt
type SignedPayload struct {
	Payload   string            `json:"payload"`
	Signature string            `json:"signature"`
	Timestamp int64             `json:"timestamp,omitempty"`
	Headers   map[string]string `json:"headers"`
}

type signOptions struct {
	algorithm        Algorithm
	prefix           *string
	encoding         Encoding
	includeTimestamp bool
	timestamp        int64
	headerName       string
	now              func() time.Time
}

// Option configures Sign
type Option func(*signOptions)

// WithAlgorithm selects the hash function (default sha256)
func WithAlgorithm(alg Algorithm) Option {
	return func(o *signOptions) { o.algorithm = alg }
}

// WithPrefix sets the signature prefix. An empty prefix is honored.
// Default is "<algorithm>=".
func WithPrefix(prefix string) Option {
	return func(o *signOptions) { o.prefix = &prefix }
}

// WithEncoding selects hex (default) or base64
func WithEncoding(enc Encoding) Option {
	return func(o *signOptions) { o.encoding = enc }
}

// IncludeTimestamp signs "{ts}.{payload}" using the current time
func IncludeTimestamp() Option {
	return func(o *signOptions) { o.includeTimestamp = true }
}

// WithTimestamp signs "{ts}.{payload}" with a fixed unix timestamp
func WithTimestamp(ts int64) Option {
	return func(o *signOptions) {
		o.includeTimestamp = true
		o.timestamp = ts
	}
}

// WithHeaderName overrides the signature header name
func WithHeaderName(name string) Option {
	return func(o *signOptions) { o.headerName = name }
}

// WithClock overrides the clock used for IncludeTimestamp
func WithClock(now func() time.Time) Option {
	return func(o *signOptions) { o.now = now }
}

// Sign computes prefix + encode(HMAC(secret, content)) where content is the
// raw payload, or "{timestamp}.{payload}" when a timestamp is included.
func Sign(payload, secret string, opts ...Option) (*SignedPayload, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}

	o := signOptions{
		algorithm: SHA256,
		encoding:  Hex,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	content := payload
	var ts int64
	if o.includeTimestamp {
		ts = o.timestamp
		if ts == 0 {
			ts = o.now().Unix()
		}
		content = strconv.FormatInt(ts, 10) + "." + payload
	}

	mac, err := computeMAC(o.algorithm, secret, content)
	if err != nil {
		return nil, err
	}

	encoded, err := encode(o.encoding, mac)
	if err != nil {
		return nil, err
	}

	prefix := string(o.algorithm) + "="
	if o.prefix != nil {
		prefix = *o.prefix
	}
	signature := prefix + encoded

	headerName := o.headerName
	if headerName == "" {
		headerName = DefaultHeaderName(o.algorithm)
	}

	headers := map[string]string{
		headerName:        signature,
		HeaderContentType: ContentTypeJSON,
		HeaderUserAgent:   UserAgent,
	}
	if o.includeTimestamp {
		headers[HeaderTimestamp] = strconv.FormatInt(ts, 10)
	}

	return &SignedPayload{
		Payload:   payload,
		Signature: signature,
		Timestamp: ts,
		Headers:   headers,
	}, nil
}

// DefaultHeaderName returns X-Hub-Signature-256 for sha256, X-Hub-Signature otherwise
func DefaultHeaderName(alg Algorithm) string {
	if alg == SHA1 {
		return HeaderSignature
	}
	return HeaderSignature256
}

func hasher(alg Algorithm) (func() hash.Hash, error) {
	switch alg {
	case SHA256, "":
		return sha256.New, nil
	case SHA1:
		return sha1.New, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
}

func computeMAC(alg Algorithm, secret, content string) ([]byte, error) {
	h, err := hasher(alg)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(h, []byte(secret))
	mac.Write([]byte(content))
	return mac.Sum(nil), nil
}

func encode(enc Encoding, mac []byte) (string, error) {
	switch enc {
	case Hex, "":
		return hex.EncodeToString(mac), nil
	case Base64:
		return base64.StdEncoding.EncodeToString(mac), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedEncoding, enc)
	}
}

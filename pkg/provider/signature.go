package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance bounds how far a signed timestamp may drift from the
// verifier's clock before the event is rejected as a possible replay.
const DefaultTolerance = 5 * time.Minute

// SignedHeader is a parsed webhook signature header in the scheme used by
// Stripe and compatible providers: "t=<unix>,v1=<hex>[,v1=<hex>...]".
// Multiple v1 entries appear during secret rotation; verification accepts
// any one match.
type SignedHeader struct {
	Timestamp  time.Time
	Signatures [][]byte
}

// ParseSignatureHeader parses the signature header. Returns
// ErrMalformedPayload when the header is missing, has no timestamp, or
// carries no decodable signature.
func ParseSignatureHeader(header string) (SignedHeader, error) {
	if header == "" {
		return SignedHeader{}, fmt.Errorf("%w: missing signature header", ErrMalformedPayload)
	}

	var parsed SignedHeader
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return SignedHeader{}, fmt.Errorf("%w: invalid timestamp", ErrMalformedPayload)
			}
			parsed.Timestamp = time.Unix(ts, 0)
		case "v1":
			sig, err := hex.DecodeString(v)
			if err != nil {
				// Skip undecodable entries; another v1 may still match.
				continue
			}
			parsed.Signatures = append(parsed.Signatures, sig)
		}
	}

	if parsed.Timestamp.IsZero() {
		return SignedHeader{}, fmt.Errorf("%w: signature header has no timestamp", ErrMalformedPayload)
	}
	if len(parsed.Signatures) == 0 {
		return SignedHeader{}, fmt.Errorf("%w: signature header has no v1 signature", ErrMalformedPayload)
	}
	return parsed, nil
}

// VerifySignature authenticates a raw webhook body against its signature
// header. The expected signature is HMAC-SHA256 over "<timestamp>.<body>"
// with the shared secret, compared in constant time. A timestamp further
// than tolerance from now (either direction) is rejected before any
// comparison; tolerance <= 0 uses DefaultTolerance.
//
// Pure validation: no side effects, and failures are never retried
// internally - a bad signature is not transient.
func VerifySignature(body []byte, header, secret string, tolerance time.Duration) error {
	return verifySignatureAt(body, header, secret, tolerance, time.Now())
}

func verifySignatureAt(body []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return ErrProviderNotConfigured
	}
	if len(body) == 0 {
		return fmt.Errorf("%w: empty body", ErrMalformedPayload)
	}

	parsed, err := ParseSignatureHeader(header)
	if err != nil {
		return err
	}

	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	drift := now.Sub(parsed.Timestamp)
	if drift > tolerance || drift < -tolerance {
		return fmt.Errorf("%w: drift %s exceeds %s", ErrStaleTimestamp, drift.Round(time.Second), tolerance)
	}

	expected := computeSignature(parsed.Timestamp, body, secret)
	for _, sig := range parsed.Signatures {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// SignPayload produces a signature header for body with the given secret and
// timestamp. Used by outbound signing and by tests to forge valid inbound
// requests.
func SignPayload(body []byte, secret string, at time.Time) string {
	sig := computeSignature(at, body, secret)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(sig))
}

func computeSignature(at time.Time, body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", at.Unix())
	mac.Write(body)
	return mac.Sum(nil)
}

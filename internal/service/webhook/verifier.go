package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Verification failure modes. Each is distinct for observability but they
// all collapse to "invalid" for control flow.
var (
	ErrMalformedSignatureHeader = errors.New("malformed signature header")
	ErrNoSignatureTimestamp     = errors.New("signature header has no timestamp")
	ErrNoSignatureValue         = errors.New("signature header has no signature value")
	ErrSignatureMismatch        = errors.New("signature mismatch")
	ErrTimestampOutOfTolerance  = errors.New("signature timestamp outside tolerance")
)

const signingVersion = "v1"

// Verifier checks that an inbound body genuinely originated from the
// billing provider. The header format is `t=<unix>,v1=<hex>[,v1=<hex>...]`;
// the signed payload is `<t>.<rawBody>` and the MAC is HMAC-SHA256 under the
// shared endpoint secret.
//
// Verification is pure: the caller persists the VerificationAttempt row.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Verifier{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Verify authenticates rawBody against the provider signature header.
// rawBody must be the exact bytes as received; re-serialization invalidates
// the MAC.
func (v *Verifier) Verify(rawBody []byte, header string) error {
	timestamp, candidates, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	// Replay protection is independent of MAC correctness: a perfectly
	// signed but stale request is still rejected.
	age := v.now().Sub(time.Unix(timestamp, 0))
	if age > v.tolerance || age < -v.tolerance {
		return ErrTimestampOutOfTolerance
	}

	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	for _, candidate := range candidates {
		sig, err := hex.DecodeString(candidate)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return ErrSignatureMismatch
}

// parseSignatureHeader splits `t=...,v1=...` into its timestamp and the v1
// signature candidates. Providers may include multiple v1 entries during
// secret rotation.
func parseSignatureHeader(header string) (int64, []string, error) {
	if strings.TrimSpace(header) == "" {
		return 0, nil, ErrMalformedSignatureHeader
	}

	var timestamp int64 = -1
	var candidates []string

	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return 0, nil, ErrMalformedSignatureHeader
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, ErrMalformedSignatureHeader
			}
			timestamp = ts
		case signingVersion:
			candidates = append(candidates, value)
		}
		// Unknown schemes are ignored for forward compatibility.
	}

	if timestamp < 0 {
		return 0, nil, ErrNoSignatureTimestamp
	}
	if len(candidates) == 0 {
		return 0, nil, ErrNoSignatureValue
	}
	return timestamp, candidates, nil
}

// Sign computes a valid header for the given body. Used by tests and by the
// local replay tool; the service itself never signs.
func (v *Verifier) Sign(rawBody []byte, at time.Time) string {
	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%d.", at.Unix())
	mac.Write(rawBody)
	return fmt.Sprintf("t=%d,%s=%s", at.Unix(), signingVersion, hex.EncodeToString(mac.Sum(nil)))
}

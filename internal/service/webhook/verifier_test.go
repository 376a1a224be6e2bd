package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test_0123456789"

func TestVerifierAcceptsValidSignature(t *testing.T) {
	v := NewVerifier(testSecret, 5*time.Minute)
	body := []byte(`{"id":"evt_1","type":"customer.created"}`)

	header := v.Sign(body, time.Now())
	assert.NoError(t, v.Verify(body, header))
}

func TestVerifierRejectsTamperedBody(t *testing.T) {
	v := NewVerifier(testSecret, 5*time.Minute)
	body := []byte(`{"id":"evt_1","amount":100}`)
	header := v.Sign(body, time.Now())

	tampered := []byte(`{"id":"evt_1","amount":10000}`)
	assert.ErrorIs(t, v.Verify(tampered, header), ErrSignatureMismatch)
}

func TestVerifierRejectsWrongSecret(t *testing.T) {
	signer := NewVerifier("whsec_other", 5*time.Minute)
	v := NewVerifier(testSecret, 5*time.Minute)
	body := []byte(`{"id":"evt_1"}`)

	header := signer.Sign(body, time.Now())
	assert.ErrorIs(t, v.Verify(body, header), ErrSignatureMismatch)
}

func TestVerifierRejectsStaleTimestamp(t *testing.T) {
	v := NewVerifier(testSecret, 5*time.Minute)
	body := []byte(`{"id":"evt_1"}`)

	// Signed 10 minutes ago, twice the tolerance.
	header := v.Sign(body, time.Now().Add(-10*time.Minute))
	assert.ErrorIs(t, v.Verify(body, header), ErrTimestampOutOfTolerance)
}

func TestVerifierRejectsFutureTimestamp(t *testing.T) {
	v := NewVerifier(testSecret, 5*time.Minute)
	body := []byte(`{"id":"evt_1"}`)

	header := v.Sign(body, time.Now().Add(10*time.Minute))
	assert.ErrorIs(t, v.Verify(body, header), ErrTimestampOutOfTolerance)
}

func TestVerifierAcceptsRotationCandidate(t *testing.T) {
	v := NewVerifier(testSecret, 5*time.Minute)
	body := []byte(`{"id":"evt_1"}`)

	// During secret rotation the provider sends one signature per active
	// secret; any single match must be enough.
	valid := v.Sign(body, time.Now())
	header := valid + ",v1=deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	assert.NoError(t, v.Verify(body, header))
}

func TestParseSignatureHeader(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		wantErr error
	}{
		{"empty header", "", ErrMalformedSignatureHeader},
		{"no key value pairs", "garbage", ErrMalformedSignatureHeader},
		{"non numeric timestamp", "t=abc,v1=00ff", ErrMalformedSignatureHeader},
		{"missing timestamp", "v1=00ff", ErrNoSignatureTimestamp},
		{"missing signature", "t=1700000000", ErrNoSignatureValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := parseSignatureHeader(tt.header)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseSignatureHeaderIgnoresUnknownSchemes(t *testing.T) {
	timestamp, candidates, err := parseSignatureHeader("t=1700000000,v0=aa,v1=bb,v2=cc")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), timestamp)
	assert.Equal(t, []string{"bb"}, candidates)
}

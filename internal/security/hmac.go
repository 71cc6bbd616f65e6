// Package security provides the cryptographic primitives for the UVDM
// trust core: HMAC signature computation and verification, webhook
// signature header parsing, and machine identity hashing.
//
// Every comparison of caller-supplied signature material goes through
// crypto/hmac's constant-time equality so that verification time does not
// depend on where two digests first differ.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ComputeHMACSHA256 returns the hex-encoded HMAC-SHA256 of payload under
// secret. The payload must be the exact raw bytes that were signed;
// re-serialized JSON is not byte-identical and will not verify.
func ComputeHMACSHA256(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMACSHA256 checks a hex-encoded HMAC-SHA256 signature over payload
// in constant time.
func VerifyHMACSHA256(secret string, payload []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := ComputeHMACSHA256(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// StripeSignature is the parsed form of a Stripe-style composite signature
// header ("t=<timestamp>,v1=<hex digest>").
type StripeSignature struct {
	Timestamp string
	Signature string
}

// ParseStripeSignature parses a Stripe-style signature header. Both the
// timestamp and the v1 digest are required; anything else is malformed.
func ParseStripeSignature(header string) (StripeSignature, error) {
	var sig StripeSignature
	if header == "" {
		return sig, fmt.Errorf("empty signature header")
	}
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return StripeSignature{}, fmt.Errorf("malformed signature element %q", part)
		}
		switch key {
		case "t":
			sig.Timestamp = value
		case "v1":
			sig.Signature = value
		}
	}
	if sig.Timestamp == "" || sig.Signature == "" {
		return StripeSignature{}, fmt.Errorf("signature header missing t or v1 element")
	}
	return sig, nil
}

// VerifyStripeSignature verifies a Stripe-style webhook signature. The
// signed payload is "<timestamp>.<raw body>" per Stripe's scheme.
func VerifyStripeSignature(secret string, payload []byte, header string) bool {
	sig, err := ParseStripeSignature(header)
	if err != nil {
		return false
	}
	signed := make([]byte, 0, len(sig.Timestamp)+1+len(payload))
	signed = append(signed, sig.Timestamp...)
	signed = append(signed, '.')
	signed = append(signed, payload...)
	return VerifyHMACSHA256(secret, signed, sig.Signature)
}

// SecureCompare reports whether two strings are equal without leaking the
// position of the first difference. Used by the admin guard.
func SecureCompare(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// HashMachineID reduces a raw machine identifier to its stored one-way
// form. The registry only ever persists this hash, never the raw value.
func HashMachineID(rawMachineID string) string {
	sum := sha256.Sum256([]byte(rawMachineID))
	return hex.EncodeToString(sum[:])
}

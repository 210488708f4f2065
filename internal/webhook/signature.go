// Package webhook signs and verifies HMAC-SHA256 webhook bodies.
//
// Signatures use the form "sha256=<hex>" computed over the raw request body.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// DefaultHeader carries the signature on inbound triggers.
const DefaultHeader = "X-Webhook-Signature"

const prefix = "sha256="

var (
	// ErrMissingSignature means a secret is configured but the request was unsigned.
	ErrMissingSignature = errors.New("missing webhook signature")
	// ErrInvalidSignature means the signature did not match the body.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Sign returns "sha256=" followed by the hex HMAC-SHA256 of body keyed by secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the valid signature of body.
// The comparison runs in constant time.
func Verify(body []byte, signature, secret string) bool {
	expected := Sign(body, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Authenticate applies the inbound trigger policy:
//
//   - no secret configured: open mode, every request passes. Development only.
//   - secret configured, no signature: ErrMissingSignature.
//   - secret configured, wrong signature: ErrInvalidSignature.
func Authenticate(body []byte, signature, secret string) error {
	if secret == "" {
		return nil
	}
	if signature == "" {
		return ErrMissingSignature
	}
	if !Verify(body, signature, secret) {
		return ErrInvalidSignature
	}
	return nil
}

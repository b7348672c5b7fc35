package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Canonicalize renders the payload as JSON with a stable field ordering.
// encoding/json sorts map keys at every nesting level, so the same payload
// always produces the same byte sequence regardless of insertion order.
func Canonicalize(payload map[string]any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return b, nil
}

// Sign computes the hex-encoded HMAC-SHA256 of the canonicalized payload
// keyed by secret. Subscriptions without a secret never reach this function;
// the caller omits the signature header entirely in that case.
func Sign(payload map[string]any, secret string) (string, error) {
	body, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	return SignBytes(body, secret), nil
}

// SignBytes computes the hex-encoded HMAC-SHA256 of an already-canonical
// body. Used by the dispatcher, which has marshaled the body once for the
// outbound request.
func SignBytes(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is a valid signature for body under secret.
// Comparison is constant-time.
func Verify(body []byte, secret, sig string) bool {
	want := SignBytes(body, secret)
	return hmac.Equal([]byte(sig), []byte(want))
}

package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// Prefix tags the hash algorithm so receivers can support rotation
	// to a different algorithm later.
	Prefix = "sha256="

	// SecretBytes is the entropy of generated secrets (256 bits).
	SecretBytes = 32
)

// GenerateSecret creates a new cryptographically secure signing secret,
// hex-encoded. Caller-supplied secrets are accepted as-is; this is only the
// default when registration omits one.
func GenerateSecret() (string, error) {
	b := make([]byte, SecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

/* Sign computes the HMAC-SHA256 of the payload bytes keyed by the secret and
 * returns it as "sha256=<hex>".
 *
 * Determinism: identical payload bytes and secret always yield the identical
 * signature. Callers must sign the exact bytes they send; encoding/json
 * serializes struct fields in declaration order and map keys sorted, so
 * marshaling once and signing that buffer is stable.
 */
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return Prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header value against the payload and secret using
// constant-time comparison. Returns true if the signature is valid.
func Verify(payload []byte, secret, sig string) bool {
	if !strings.HasPrefix(sig, Prefix) {
		return false
	}
	expected, err := hex.DecodeString(strings.TrimPrefix(sig, Prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return subtle.ConstantTimeCompare(expected, mac.Sum(nil)) == 1
}

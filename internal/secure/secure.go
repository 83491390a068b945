// Package secure holds the random token and HMAC helpers shared by the
// OAuth, signup, calling and webhook code.
package secure

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// Token returns n random bytes encoded as unpadded URL-safe base64.
func Token(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Sign returns the hex HMAC-SHA256 of body keyed by secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader formats a signature the way Meta does: "sha256=<hex>".
func SignatureHeader(secret string, body []byte) string {
	return "sha256=" + Sign(secret, body)
}

// VerifySignatureHeader checks a "sha256=<hex>" header against body in constant time.
func VerifySignatureHeader(secret, header string, body []byte) bool {
	if secret == "" {
		return false
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok || sig == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, body)), []byte(sig))
}

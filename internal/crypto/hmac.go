package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// MinSecretLen is the shortest secret NewMAC accepts.
const MinSecretLen = 16

// MAC tags server-issued strings so they can be verified later without
// being stored.
type MAC struct {
	key []byte
}

// NewMAC derives a key for purpose from secret, so one configured secret
// can serve several independent uses.
func NewMAC(secret []byte, purpose string) (*MAC, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("crypto: mac secret must be at least %d bytes", MinSecretLen)
	}
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(purpose))
	return &MAC{key: h.Sum(nil)}, nil
}

// Sum returns the unpadded base64url HMAC-SHA256 tag of message.
func (m *MAC) Sum(message string) string {
	h := hmac.New(sha256.New, m.key)
	h.Write([]byte(message))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// Verify reports whether tag is the tag of message, in constant time.
func (m *MAC) Verify(message, tag string) bool {
	want, err := base64.RawURLEncoding.DecodeString(tag)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, m.key)
	h.Write([]byte(message))
	return hmac.Equal(h.Sum(nil), want)
}

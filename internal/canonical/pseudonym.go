package canonical

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Pseudonymizer derives stable identity tokens from raw handles using a
// caller-supplied secret salt. The same salt and handle always map to the
// same token.
type Pseudonymizer struct {
	salt []byte
}

// NewPseudonymizer returns nil when salt is empty, which callers treat as
// "keep raw identifiers".
func NewPseudonymizer(salt []byte) *Pseudonymizer {
	if len(salt) == 0 {
		return nil
	}
	s := make([]byte, len(salt))
	copy(s, salt)
	return &Pseudonymizer{salt: s}
}

// ID returns the token for handle. Handles are compared case-insensitively.
func (p *Pseudonymizer) ID(handle string) string {
	handle = strings.ToLower(strings.TrimSpace(handle))
	if p == nil {
		return handle
	}
	mac := hmac.New(sha256.New, p.salt)
	mac.Write([]byte(handle))
	return "p_" + hex.EncodeToString(mac.Sum(nil))[:16]
}

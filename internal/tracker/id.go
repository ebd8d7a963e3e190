package tracker

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

const (
	idPrefix    = "req_"
	idHexLength = 32
	idLength    = len(idPrefix) + idHexLength
)

// newID returns a collision-resistant request identifier: "req_" followed by
// 32 lowercase hex characters (16 random bytes).
func newID() string {
	buf := make([]byte, idHexLength/2)
	rand.Read(buf)
	return idPrefix + hex.EncodeToString(buf)
}

// ValidID reports whether s has the exact shape of a request identifier.
func ValidID(s string) bool {
	if len(s) != idLength || !strings.HasPrefix(s, idPrefix) {
		return false
	}
	for _, c := range s[len(idPrefix):] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

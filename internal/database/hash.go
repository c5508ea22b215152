package database

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Hasher computes keyed HMAC-SHA256 digests of passwords. Comparisons go
// through hmac.Equal so they take constant time.
type Hasher struct {
	key []byte
}

func NewHasher(key string) (*Hasher, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return nil, errors.New("hash key is required")
	}
	return &Hasher{key: []byte(trimmed)}, nil
}

func (h *Hasher) Hash(value string) string {
	mac := hmac.New(sha256.New, h.key)
	_, _ = mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *Hasher) Equal(hash string, plain string) bool {
	expected := h.Hash(plain)
	return hmac.Equal([]byte(strings.TrimSpace(hash)), []byte(expected))
}

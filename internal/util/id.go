package util

import (
	"crypto/rand"
	"strings"

	"github.com/google/uuid"
)

func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

const codeAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"

// NewCode returns a short human-friendly code for shareable referral links.
func NewCode(n int) string {
	if n <= 0 {
		n = 8
	}
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}

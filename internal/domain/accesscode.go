package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// AccessCodeLength is the number of characters in a student-facing access code.
const AccessCodeLength = 6

// AccessCodeAlphabet omits 0/O and 1/I so codes can be read aloud and typed without confusion.
const AccessCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewAccessCode returns a random uppercase access code.
func NewAccessCode() (string, error) {
	var b strings.Builder
	b.Grow(AccessCodeLength)
	size := big.NewInt(int64(len(AccessCodeAlphabet)))
	for i := 0; i < AccessCodeLength; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("generate access code: %w", err)
		}
		b.WriteByte(AccessCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeAccessCode makes lookups case-insensitive and tolerant of surrounding whitespace.
func NormalizeAccessCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidAccessCode reports whether code (after normalization) could have been produced by NewAccessCode.
func ValidAccessCode(code string) bool {
	code = NormalizeAccessCode(code)
	if len(code) != AccessCodeLength {
		return false
	}
	for _, r := range code {
		if !strings.ContainsRune(AccessCodeAlphabet, r) {
			return false
		}
	}
	return true
}

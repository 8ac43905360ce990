package referral

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// Referral codes are 8 characters drawn from uppercase letters and digits.
const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 8
)

var (
	codePattern     = regexp.MustCompile(`^[A-Z0-9]{8}$`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// generateCode produces a random referral code. Uniqueness is enforced by
// the store, not here; callers regenerate on collision.
func generateCode() (string, error) {
	alphabetSize := big.NewInt(int64(len(codeAlphabet)))
	var b strings.Builder
	b.Grow(codeLength)
	for i := 0; i < codeLength; i++ {
		idx, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("generate referral code: %w", err)
		}
		b.WriteByte(codeAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

// ValidCode reports whether the value has the shape of a referral code.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// normalizeEmail lowercases and trims the provided email.
func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

// sanitizeName collapses whitespace and trims the result.
func sanitizeName(value string) string {
	value = whitespaceRegex.ReplaceAllString(value, " ")
	return strings.TrimSpace(value)
}

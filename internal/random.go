package internal

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

// NewRecoveryCode returns a decimal code of the requested length, each digit
// drawn independently from crypto/rand. The result is uniform over
// [0, 10^digits) with leading zeros preserved, and never derived from time,
// counters, or user identifiers.
func NewRecoveryCode(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid recovery code length")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}

// IsNumericString reports whether v consists solely of ASCII decimal digits.
func IsNumericString(v string) bool {
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}

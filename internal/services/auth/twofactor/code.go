package twofactor

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// secureCodeAlphabet omits characters that are easy to misread (0, 1, I, O).
const secureCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const secureCodeLength = 20

// numericCode returns a zero-padded random decimal code.
func numericCode(digits int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate numeric code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// secureCode returns a random reference drawn from secureCodeAlphabet.
func secureCode() (string, error) {
	raw := make([]byte, secureCodeLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate secure code: %w", err)
	}
	out := make([]byte, secureCodeLength)
	for i, b := range raw {
		// 256 is a multiple of the alphabet size, so the modulo is unbiased.
		out[i] = secureCodeAlphabet[int(b)%len(secureCodeAlphabet)]
	}
	return string(out), nil
}

package twofactor

import (
	"strings"
	"testing"
)

func TestNumericCode(t *testing.T) {
	for _, digits := range []int{6, 8} {
		code, err := numericCode(digits)
		if err != nil {
			t.Fatalf("numeric code: %v", err)
		}
		if len(code) != digits {
			t.Fatalf("len(%q) = %d, want %d", code, len(code), digits)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("unexpected character %q in %q", r, code)
			}
		}
	}
}

func TestSecureCode(t *testing.T) {
	code, err := secureCode()
	if err != nil {
		t.Fatalf("secure code: %v", err)
	}
	if len(code) != secureCodeLength {
		t.Fatalf("len = %d, want %d", len(code), secureCodeLength)
	}
	for _, r := range code {
		if !strings.ContainsRune(secureCodeAlphabet, r) {
			t.Fatalf("unexpected character %q in %q", r, code)
		}
	}
}

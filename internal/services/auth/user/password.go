package user

import (
	"strings"
	"unicode"

	apperrors "github.com/clyde-sh/novus/internal/platform/errors"
)

const (
	minPasswordLength = 8
	// maxPasswordLength matches the bcrypt input limit.
	maxPasswordLength = 72
	passwordSpecials  = "!@#$%^&*()-=_+[]{}|;:,.<>?/`~"
)

var (
	ErrPasswordTooShort  = apperrors.New(apperrors.CodePasswordWeak, "password must be at least 8 characters long")
	ErrPasswordTooLong   = apperrors.New(apperrors.CodePasswordWeak, "password must be at most 72 bytes long")
	ErrPasswordNoUpper   = apperrors.New(apperrors.CodePasswordWeak, "password must contain at least one uppercase letter")
	ErrPasswordNoLower   = apperrors.New(apperrors.CodePasswordWeak, "password must contain at least one lowercase letter")
	ErrPasswordNoDigit   = apperrors.New(apperrors.CodePasswordWeak, "password must contain at least one digit")
	ErrPasswordNoSpecial = apperrors.New(apperrors.CodePasswordWeak, "password must contain at least one special character")
)

// ValidatePassword enforces password strength rules.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > maxPasswordLength {
		return ErrPasswordTooLong
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasDigit = true
		case strings.ContainsRune(passwordSpecials, char):
			hasSpecial = true
		}
	}

	switch {
	case !hasUpper:
		return ErrPasswordNoUpper
	case !hasLower:
		return ErrPasswordNoLower
	case !hasDigit:
		return ErrPasswordNoDigit
	case !hasSpecial:
		return ErrPasswordNoSpecial
	}
	return nil
}

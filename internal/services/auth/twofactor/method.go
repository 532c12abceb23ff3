package twofactor

import (
	"strings"

	apperrors "github.com/clyde-sh/novus/internal/platform/errors"
)

// Method is a second-factor channel.
type Method string

const (
	MethodAuthenticator Method = "authenticator"
	MethodEmail         Method = "email"
	MethodSMS           Method = "sms"
)

// ErrInvalidMethod indicates an unknown second-factor channel.
var ErrInvalidMethod = apperrors.New(apperrors.CodeInvalidArgument, "method must be authenticator, email, or sms")

// ParseMethod maps a channel name to a Method.
func ParseMethod(value string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(value))) {
	case MethodAuthenticator:
		return MethodAuthenticator, nil
	case MethodEmail:
		return MethodEmail, nil
	case MethodSMS:
		return MethodSMS, nil
	default:
		return "", ErrInvalidMethod
	}
}

// delivered reports whether codes for the method are sent out of band.
func (m Method) delivered() bool {
	switch m {
	case MethodEmail, MethodSMS:
		return true
	case MethodAuthenticator:
		return false
	default:
		return false
	}
}

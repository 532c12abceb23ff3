// Package errors provides structured, coded errors shared by auth components.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Input errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeEmailInvalid    Code = "EMAIL_INVALID"
	CodePasswordWeak    Code = "PASSWORD_WEAK"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
	CodeConflict Code = "CONFLICT"

	// Authentication errors
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeInvalidAssertion   Code = "INVALID_ASSERTION"
	CodeInvalidToken       Code = "INVALID_TOKEN"
	CodeExpired            Code = "EXPIRED"
	CodeAccountBanned      Code = "ACCOUNT_BANNED"
	CodeUnauthenticated    Code = "UNAUTHENTICATED"
	CodeRevoked            Code = "REVOKED"

	// State errors
	CodeInvalidState     Code = "INVALID_STATE"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeUnavailable      Code = "UNAVAILABLE"
)

// IsAuthFailure reports whether the code belongs to the authentication
// failure family that callers see as one generic answer.
func (c Code) IsAuthFailure() bool {
	switch c {
	case CodeInvalidCredentials,
		CodeInvalidAssertion,
		CodeInvalidToken,
		CodeExpired,
		CodeAccountBanned,
		CodeUnauthenticated,
		CodeRevoked:
		return true
	default:
		return false
	}
}

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// BadRequest - validation failures, bad input
	case CodeInvalidArgument,
		CodeEmailInvalid,
		CodePasswordWeak:
		return http.StatusBadRequest

	// Unauthorized - every authentication failure collapses here
	case CodeInvalidCredentials,
		CodeInvalidAssertion,
		CodeInvalidToken,
		CodeExpired,
		CodeAccountBanned,
		CodeUnauthenticated,
		CodeRevoked:
		return http.StatusUnauthorized

	case CodePermissionDenied:
		return http.StatusForbidden

	case CodeNotFound:
		return http.StatusNotFound

	case CodeConflict:
		return http.StatusConflict

	// UnprocessableEntity - state doesn't allow operation
	case CodeInvalidState:
		return http.StatusUnprocessableEntity

	case CodeRateLimited:
		return http.StatusTooManyRequests

	case CodeUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := New(CodeNotFound, "user not found")
	if !stderrors.Is(err, New(CodeNotFound, "other message")) {
		t.Fatal("expected errors with the same code to match")
	}
	if stderrors.Is(err, New(CodeConflict, "user not found")) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestGetCodeWalksChain(t *testing.T) {
	base := New(CodeExpired, "token expired")
	wrapped := fmt.Errorf("verify: %w", base)
	if got := GetCode(wrapped); got != CodeExpired {
		t.Fatalf("GetCode() = %q, want %q", got, CodeExpired)
	}
	if got := GetCode(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("GetCode() = %q, want %q", got, CodeUnknown)
	}
	if got := GetCode(nil); got != CodeUnknown {
		t.Fatalf("GetCode(nil) = %q, want %q", got, CodeUnknown)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(CodeUnavailable, "store unavailable", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable")
	}
	if !HasCode(fmt.Errorf("outer: %w", err), CodeUnavailable) {
		t.Fatal("expected code to be found through wrapping")
	}
}

func TestHTTPStatusCollapsesAuthFailures(t *testing.T) {
	for _, code := range []Code{
		CodeInvalidCredentials,
		CodeInvalidAssertion,
		CodeInvalidToken,
		CodeExpired,
		CodeAccountBanned,
		CodeRevoked,
	} {
		if got := code.HTTPStatus(); got != http.StatusUnauthorized {
			t.Fatalf("%s: HTTPStatus() = %d, want 401", code, got)
		}
		if !code.IsAuthFailure() {
			t.Fatalf("%s: expected auth failure family", code)
		}
	}
	if CodeConflict.IsAuthFailure() {
		t.Fatal("conflict is not an auth failure")
	}
	if got := CodeUnknown.HTTPStatus(); got != http.StatusInternalServerError {
		t.Fatalf("unknown: HTTPStatus() = %d, want 500", got)
	}
	if got := CodeRateLimited.HTTPStatus(); got != http.StatusTooManyRequests {
		t.Fatalf("rate limited: HTTPStatus() = %d, want 429", got)
	}
}

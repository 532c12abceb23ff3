package user

import (
	"errors"
	"testing"
	"time"

	apperrors "github.com/clyde-sh/novus/internal/platform/errors"
)

func TestCreateUserDefaults(t *testing.T) {
	input := CreateUserInput{Email: "alice@example.com"}
	if _, err := CreateUser(input, nil, nil); err != nil {
		t.Fatalf("create user: %v", err)
	}

	created, err := CreateUser(input, nil, func() (string, error) { return "user-1", nil })
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.Role != RoleUser {
		t.Fatalf("expected default role %q, got %q", RoleUser, created.Role)
	}
	if created.IsBanned {
		t.Fatal("expected new user not to be banned")
	}

	_, err = CreateUser(input, nil, func() (string, error) { return "", errors.New("id generator error") })
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestCreateUserNormalizesInput(t *testing.T) {
	fixedTime := time.Date(2026, 1, 23, 10, 0, 0, 0, time.UTC)
	input := CreateUserInput{Email: "  Alice@Example.COM  ", Role: "ADMIN", PasswordHash: "hash"}

	created, err := CreateUser(input, func() time.Time { return fixedTime }, func() (string, error) {
		return "user-123", nil
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	if created.ID != "user-123" {
		t.Fatalf("expected id user-123, got %q", created.ID)
	}
	if created.Email != "alice@example.com" {
		t.Fatalf("expected folded trimmed email, got %q", created.Email)
	}
	if created.Role != RoleAdmin {
		t.Fatalf("expected admin role, got %q", created.Role)
	}
	if !created.HasPassword() {
		t.Fatal("expected password hash to be kept")
	}
	if !created.CreatedAt.Equal(fixedTime) || !created.UpdatedAt.Equal(fixedTime) {
		t.Fatalf("expected timestamps to match fixed time")
	}
}

func TestNormalizeCreateUserInputValidation(t *testing.T) {
	_, err := NormalizeCreateUserInput(CreateUserInput{Email: "   "})
	if !errors.Is(err, ErrEmptyEmail) {
		t.Fatalf("expected empty email error, got %v", err)
	}
	_, err = NormalizeCreateUserInput(CreateUserInput{Email: "not-an-email"})
	if !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected invalid email error, got %v", err)
	}
	_, err = NormalizeCreateUserInput(CreateUserInput{Email: "a@x.com", Role: "owner"})
	if !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected invalid role error, got %v", err)
	}
}

func TestNormalizeEmailIsCaseInsensitive(t *testing.T) {
	if NormalizeEmail(" A@X.Com ") != NormalizeEmail("a@x.com") {
		t.Fatal("expected case-insensitive normalization")
	}
}

func TestSessionRevoked(t *testing.T) {
	watermark := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	u := User{SessionsRevokedAt: &watermark}

	if !u.SessionRevoked(watermark.Add(-time.Minute)) {
		t.Fatal("expected older session to be revoked")
	}
	if !u.SessionRevoked(watermark) {
		t.Fatal("expected session at the watermark to be revoked")
	}
	if u.SessionRevoked(watermark.Add(time.Millisecond)) {
		t.Fatal("expected newer session to stay valid")
	}
	if (User{}).SessionRevoked(watermark) {
		t.Fatal("expected no watermark to revoke nothing")
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		want     error
	}{
		{password: "Sh0rt!", want: ErrPasswordTooShort},
		{password: "alllower1!", want: ErrPasswordNoUpper},
		{password: "ALLUPPER1!", want: ErrPasswordNoLower},
		{password: "NoDigits!!", want: ErrPasswordNoDigit},
		{password: "NoSpecial11", want: ErrPasswordNoSpecial},
		{password: "Valid#Pass1", want: nil},
	}
	for _, tc := range tests {
		err := ValidatePassword(tc.password)
		if tc.want == nil {
			if err != nil {
				t.Fatalf("%q: unexpected error %v", tc.password, err)
			}
			continue
		}
		if err != tc.want {
			t.Fatalf("%q: got %v, want %v", tc.password, err, tc.want)
		}
		if apperrors.GetCode(err) != apperrors.CodePasswordWeak {
			t.Fatalf("%q: expected weak password code", tc.password)
		}
	}
}

func TestNewMethodValidatesProviderFields(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return fixed }
	ids := func() (string, error) { return "method-1", nil }

	record, err := NewMethod("user-1", MethodInput{Method: "OAuth", Provider: " Google ", ProviderID: "sub-1"}, clock, ids)
	if err != nil {
		t.Fatalf("new method: %v", err)
	}
	if record.Provider != "google" || record.ProviderID != "sub-1" || record.Method != MethodOAuth {
		t.Fatalf("unexpected record %+v", record)
	}

	if _, err := NewMethod("user-1", MethodInput{Method: MethodOAuth, Provider: "google"}, clock, ids); err == nil {
		t.Fatal("expected missing provider id error")
	}
	if _, err := NewMethod("user-1", MethodInput{Method: MethodWebAuthn, ProviderID: "cred"}, clock, ids); err == nil {
		t.Fatal("expected missing credential material error")
	}
	if _, err := NewMethod(" ", MethodInput{Method: MethodPassword}, clock, ids); err == nil {
		t.Fatal("expected missing user id error")
	}
	if _, err := NewMethod("user-1", MethodInput{Method: "magic"}, clock, ids); !errors.Is(err, ErrInvalidMethod) {
		t.Fatalf("expected invalid method, got %v", err)
	}

	passkey, err := NewMethod("user-1", MethodInput{Method: MethodWebAuthn, ProviderID: "cred", Secret: "{}"}, clock, ids)
	if err != nil {
		t.Fatalf("new passkey method: %v", err)
	}
	if passkey.Provider != WebAuthnProvider {
		t.Fatalf("expected default webauthn provider, got %q", passkey.Provider)
	}
}

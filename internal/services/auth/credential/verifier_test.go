package credential

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	apperrors "github.com/clyde-sh/novus/internal/platform/errors"
	"github.com/clyde-sh/novus/internal/services/auth/directory"
	"github.com/clyde-sh/novus/internal/services/auth/passkey"
	"github.com/clyde-sh/novus/internal/services/auth/storage/sqlite"
	"github.com/clyde-sh/novus/internal/services/auth/user"
	"golang.org/x/crypto/bcrypt"
)

type fakePasskeys struct {
	assertion passkey.Assertion
	err       error
}

func (f *fakePasskeys) ValidateLogin(context.Context, string, []byte) (passkey.Assertion, error) {
	return f.assertion, f.err
}

func newTestVerifier(t *testing.T, passkeys passkeyValidator) (*Verifier, *directory.Directory, *Hasher) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	hasher, err := NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}
	dir := directory.New(store, nil)
	return NewVerifier(dir, hasher, passkeys, nil), dir, hasher
}

func registerPasswordUser(t *testing.T, dir *directory.Directory, hasher *Hasher, email, password string) user.User {
	t.Helper()
	hash, err := hasher.Hash(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u, err := dir.Create(context.Background(), directory.CreateInput{Email: email, PasswordHash: hash})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return u
}

func TestNewHasherRejectsBadCost(t *testing.T) {
	if _, err := NewHasher(bcrypt.MaxCost + 1); err == nil {
		t.Fatal("expected error for out of range cost")
	}
}

func TestHasherRejectsOverlongPassword(t *testing.T) {
	hasher, err := NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}
	long := make([]byte, 80)
	for i := range long {
		long[i] = 'a'
	}
	_, err = hasher.Hash(string(long))
	if apperrors.GetCode(err) != apperrors.CodePasswordWeak {
		t.Fatalf("expected weak password, got %v", err)
	}
}

func TestVerifyPasswordScenario(t *testing.T) {
	v, dir, hasher := newTestVerifier(t, nil)
	ctx := context.Background()
	registered := registerPasswordUser(t, dir, hasher, "a@x.com", "P4ssword!")

	got, err := v.VerifyPassword(ctx, "A@x.com", "P4ssword!")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.ID != registered.ID {
		t.Fatalf("user id = %q, want %q", got.ID, registered.ID)
	}

	_, err = v.VerifyPassword(ctx, "a@x.com", "wrong")
	if apperrors.GetCode(err) != apperrors.CodeInvalidCredentials || Reason(err) != ReasonMismatch {
		t.Fatalf("expected mismatch failure, got %v (%s)", err, Reason(err))
	}
}

func TestVerifyPasswordNegativePathsAreGeneric(t *testing.T) {
	v, dir, hasher := newTestVerifier(t, nil)
	ctx := context.Background()
	banned := registerPasswordUser(t, dir, hasher, "banned@x.com", "P4ssword!")
	if err := dir.SetBanned(ctx, banned.ID, true); err != nil {
		t.Fatalf("ban: %v", err)
	}
	if _, err := dir.Create(ctx, directory.CreateInput{
		Email:  "oauth@x.com",
		Method: &user.MethodInput{Method: user.MethodOAuth, Provider: "github", ProviderID: "1"},
	}); err != nil {
		t.Fatalf("create oauth user: %v", err)
	}

	tests := []struct {
		email  string
		reason string
	}{
		{"missing@x.com", ReasonUnknownUser},
		{"not-an-email", ReasonUnknownUser},
		{"banned@x.com", ReasonBanned},
		{"oauth@x.com", ReasonNoPassword},
	}
	for _, tc := range tests {
		_, err := v.VerifyPassword(ctx, tc.email, "P4ssword!")
		if apperrors.GetCode(err) != apperrors.CodeInvalidCredentials {
			t.Fatalf("%s: code = %q, want invalid credentials", tc.email, apperrors.GetCode(err))
		}
		if Reason(err) != tc.reason {
			t.Fatalf("%s: reason = %q, want %q", tc.email, Reason(err), tc.reason)
		}
	}
}

func TestVerifyOAuthBranches(t *testing.T) {
	v, dir, hasher := newTestVerifier(t, nil)
	ctx := context.Background()
	existing := registerPasswordUser(t, dir, hasher, "a@x.com", "P4ssword!")

	linked, err := v.VerifyOAuth(ctx, OAuthIdentity{Provider: "google", ProviderID: "g-1", Email: "A@x.com", EmailVerified: true})
	if err != nil {
		t.Fatalf("link branch: %v", err)
	}
	if !linked.Linked || linked.User.ID != existing.ID {
		t.Fatalf("unexpected link outcome: %+v", linked)
	}

	again, err := v.VerifyOAuth(ctx, OAuthIdentity{Provider: "google", ProviderID: "g-1", Email: "other@x.com", EmailVerified: true})
	if err != nil {
		t.Fatalf("existing branch: %v", err)
	}
	if again.Linked || again.Created || again.User.ID != existing.ID {
		t.Fatalf("unexpected existing outcome: %+v", again)
	}

	created, err := v.VerifyOAuth(ctx, OAuthIdentity{Provider: "github", ProviderID: "gh-9", Email: "new@x.com", EmailVerified: true})
	if err != nil {
		t.Fatalf("create branch: %v", err)
	}
	if !created.Created || created.User.Email != "new@x.com" || created.User.HasPassword() {
		t.Fatalf("unexpected create outcome: %+v", created)
	}
}

func TestVerifyOAuthRequiresVerifiedEmail(t *testing.T) {
	v, dir, hasher := newTestVerifier(t, nil)
	registerPasswordUser(t, dir, hasher, "a@x.com", "P4ssword!")

	_, err := v.VerifyOAuth(context.Background(), OAuthIdentity{Provider: "github", ProviderID: "gh-1", Email: "a@x.com"})
	if Reason(err) != ReasonUnverifiedEmail {
		t.Fatalf("expected unverified email failure, got %v", err)
	}
}

func TestVerifyOAuthRejectsBannedOwner(t *testing.T) {
	v, dir, hasher := newTestVerifier(t, nil)
	ctx := context.Background()
	u := registerPasswordUser(t, dir, hasher, "a@x.com", "P4ssword!")
	if _, err := v.VerifyOAuth(ctx, OAuthIdentity{Provider: "google", ProviderID: "g-1", Email: "a@x.com", EmailVerified: true}); err != nil {
		t.Fatalf("link: %v", err)
	}
	if err := dir.SetBanned(ctx, u.ID, true); err != nil {
		t.Fatalf("ban: %v", err)
	}
	_, err := v.VerifyOAuth(ctx, OAuthIdentity{Provider: "google", ProviderID: "g-1", Email: "a@x.com", EmailVerified: true})
	if apperrors.GetCode(err) != apperrors.CodeAccountBanned {
		t.Fatalf("expected banned failure, got %v", err)
	}
}

func TestVerifyOAuthConcurrentCallbacksCreateOneUser(t *testing.T) {
	v, dir, _ := newTestVerifier(t, nil)
	ctx := context.Background()
	identity := OAuthIdentity{Provider: "github", ProviderID: "gh-race", Email: "race@x.com", EmailVerified: true}

	const callbacks = 6
	var wg sync.WaitGroup
	results := make([]OAuthOutcome, callbacks)
	errs := make([]error, callbacks)
	for i := 0; i < callbacks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = v.VerifyOAuth(ctx, identity)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callbacks; i++ {
		if errs[i] != nil {
			t.Fatalf("callback %d: %v", i, errs[i])
		}
		if results[i].User.ID != results[0].User.ID {
			t.Fatalf("callback %d resolved %q, want %q", i, results[i].User.ID, results[0].User.ID)
		}
	}
	page, err := dir.ListUsers(ctx, 10, "")
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(page.Users) != 1 {
		t.Fatalf("users = %d, want 1", len(page.Users))
	}
}

func TestVerifyWebAuthn(t *testing.T) {
	passkeys := &fakePasskeys{}
	v, dir, hasher := newTestVerifier(t, passkeys)
	ctx := context.Background()
	u := registerPasswordUser(t, dir, hasher, "a@x.com", "P4ssword!")
	if _, err := dir.LinkMethod(ctx, u.ID, user.MethodInput{
		Method: user.MethodWebAuthn, ProviderID: "cred-1", Secret: "{}",
	}); err != nil {
		t.Fatalf("link passkey: %v", err)
	}

	passkeys.assertion = passkey.Assertion{UserID: u.ID, CredentialID: "cred-1"}
	got, err := v.VerifyWebAuthn(ctx, "ps-1", []byte(`{}`))
	if err != nil {
		t.Fatalf("verify webauthn: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("user id = %q, want %q", got.ID, u.ID)
	}

	passkeys.assertion = passkey.Assertion{CredentialID: "unknown"}
	_, err = v.VerifyWebAuthn(ctx, "ps-1", []byte(`{}`))
	if apperrors.GetCode(err) != apperrors.CodeInvalidAssertion {
		t.Fatalf("expected invalid assertion, got %v", err)
	}

	passkeys.err = passkey.ErrInvalidAssertion
	_, err = v.VerifyWebAuthn(ctx, "ps-1", []byte(`{}`))
	if Reason(err) != ReasonAssertion {
		t.Fatalf("expected assertion failure, got %v", err)
	}
}

func TestVerifyWebAuthnDisabled(t *testing.T) {
	v, _, _ := newTestVerifier(t, nil)
	_, err := v.VerifyWebAuthn(context.Background(), "ps-1", nil)
	if !errors.Is(err, apperrors.New(apperrors.CodeUnavailable, "")) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

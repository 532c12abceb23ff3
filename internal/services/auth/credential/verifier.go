// Package credential verifies a single primary proof (password, OAuth
// identity or WebAuthn assertion) and resolves the user it belongs to.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	apperrors "github.com/clyde-sh/novus/internal/platform/errors"
	"github.com/clyde-sh/novus/internal/platform/logging"
	"github.com/clyde-sh/novus/internal/services/auth/directory"
	"github.com/clyde-sh/novus/internal/services/auth/passkey"
	"github.com/clyde-sh/novus/internal/services/auth/user"
)

// Failure reasons attached to rejected proofs. Callers see one generic
// failure; the reason is for logs and metrics only.
const (
	ReasonUnknownUser       = "unknown_user"
	ReasonBanned            = "banned"
	ReasonNoPassword        = "no_password"
	ReasonMismatch          = "mismatch"
	ReasonUnverifiedEmail   = "unverified_email"
	ReasonUnknownCredential = "unknown_credential"
	ReasonAssertion         = "assertion"
)

// Reason returns the failure reason carried by err, if any.
func Reason(err error) string {
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) && domainErr.Metadata != nil {
		return domainErr.Metadata["reason"]
	}
	return ""
}

func failure(code apperrors.Code, reason string) error {
	return apperrors.WithMetadata(code, "credential rejected", map[string]string{"reason": reason})
}

// Directory is the user directory surface the verifier reads and, for the
// OAuth link/create branch, writes.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (user.User, error)
	FindByID(ctx context.Context, userID string) (user.User, error)
	ListMethods(ctx context.Context, userID string) ([]user.AuthMethodRecord, error)
	FindMethodByProvider(ctx context.Context, provider, providerID string) (user.AuthMethodRecord, error)
	Create(ctx context.Context, input directory.CreateInput) (user.User, error)
	LinkMethod(ctx context.Context, userID string, input user.MethodInput) (user.AuthMethodRecord, error)
}

type passkeyValidator interface {
	ValidateLogin(ctx context.Context, sessionID string, response []byte) (passkey.Assertion, error)
}

// Verifier checks primary credentials.
type Verifier struct {
	directory Directory
	hasher    *Hasher
	passkeys  passkeyValidator
	logger    *slog.Logger
}

// NewVerifier builds a verifier. passkeys may be nil when WebAuthn is off.
func NewVerifier(dir Directory, hasher *Hasher, passkeys passkeyValidator, logger *slog.Logger) *Verifier {
	return &Verifier{
		directory: dir,
		hasher:    hasher,
		passkeys:  passkeys,
		logger:    logging.OrDiscard(logger),
	}
}

// VerifyPassword resolves the user owning email when candidate matches its
// password. Every negative path spends one bcrypt comparison.
func (v *Verifier) VerifyPassword(ctx context.Context, email, candidate string) (user.User, error) {
	if v == nil || v.directory == nil || v.hasher == nil {
		return user.User{}, fmt.Errorf("credential verifier is not configured")
	}

	found, err := v.directory.FindByEmail(ctx, email)
	if err != nil {
		v.hasher.CompareDummy(candidate)
		if isLookupMiss(err) {
			return user.User{}, failure(apperrors.CodeInvalidCredentials, ReasonUnknownUser)
		}
		return user.User{}, err
	}
	if found.IsBanned {
		v.hasher.CompareDummy(candidate)
		return user.User{}, failure(apperrors.CodeInvalidCredentials, ReasonBanned)
	}
	if !found.HasPassword() {
		v.hasher.CompareDummy(candidate)
		return user.User{}, failure(apperrors.CodeInvalidCredentials, ReasonNoPassword)
	}
	methods, err := v.directory.ListMethods(ctx, found.ID)
	if err != nil {
		v.hasher.CompareDummy(candidate)
		return user.User{}, err
	}
	if !hasMethod(methods, user.MethodPassword) {
		v.hasher.CompareDummy(candidate)
		return user.User{}, failure(apperrors.CodeInvalidCredentials, ReasonNoPassword)
	}
	if !v.hasher.Compare(found.PasswordHash, candidate) {
		return user.User{}, failure(apperrors.CodeInvalidCredentials, ReasonMismatch)
	}
	return found, nil
}

// OAuthIdentity is what a provider asserts about the signed-in account.
type OAuthIdentity struct {
	Provider      string
	ProviderID    string
	Email         string
	EmailVerified bool
}

// OAuthOutcome reports which branch resolved the identity.
type OAuthOutcome struct {
	User    user.User
	Created bool
	Linked  bool
}

// maxOAuthAttempts bounds re-resolution after losing a concurrent race.
const maxOAuthAttempts = 3

// VerifyOAuth resolves a provider identity: an existing binding wins, then a
// verified email links to the matching user, otherwise a new user is
// created. A uniqueness conflict from a concurrent callback re-runs the
// lookup instead of surfacing.
func (v *Verifier) VerifyOAuth(ctx context.Context, identity OAuthIdentity) (OAuthOutcome, error) {
	if v == nil || v.directory == nil {
		return OAuthOutcome{}, fmt.Errorf("credential verifier is not configured")
	}
	identity.Provider = strings.ToLower(strings.TrimSpace(identity.Provider))
	identity.ProviderID = strings.TrimSpace(identity.ProviderID)
	if identity.Provider == "" || identity.ProviderID == "" {
		return OAuthOutcome{}, apperrors.New(apperrors.CodeInvalidArgument, "provider and provider id are required")
	}

	var lastErr error
	for attempt := 0; attempt < maxOAuthAttempts; attempt++ {
		outcome, err := v.resolveOAuth(ctx, identity)
		if err == nil {
			return outcome, nil
		}
		if !apperrors.HasCode(err, apperrors.CodeConflict) {
			return OAuthOutcome{}, err
		}
		v.logger.InfoContext(ctx, "oauth identity raced, re-resolving",
			"provider", identity.Provider, "attempt", attempt+1)
		lastErr = err
	}
	return OAuthOutcome{}, fmt.Errorf("resolve oauth identity: %w", lastErr)
}

func (v *Verifier) resolveOAuth(ctx context.Context, identity OAuthIdentity) (OAuthOutcome, error) {
	method, err := v.directory.FindMethodByProvider(ctx, identity.Provider, identity.ProviderID)
	switch {
	case err == nil:
		owner, err := v.directory.FindByID(ctx, method.UserID)
		if err != nil {
			return OAuthOutcome{}, err
		}
		if owner.IsBanned {
			return OAuthOutcome{}, failure(apperrors.CodeAccountBanned, ReasonBanned)
		}
		return OAuthOutcome{User: owner}, nil
	case !isLookupMiss(err):
		return OAuthOutcome{}, err
	}

	if !identity.EmailVerified {
		return OAuthOutcome{}, failure(apperrors.CodeInvalidCredentials, ReasonUnverifiedEmail)
	}
	email, err := user.ValidateEmail(identity.Email)
	if err != nil {
		return OAuthOutcome{}, failure(apperrors.CodeInvalidCredentials, ReasonUnverifiedEmail)
	}
	methodInput := user.MethodInput{
		Method:     user.MethodOAuth,
		Provider:   identity.Provider,
		ProviderID: identity.ProviderID,
	}

	existing, err := v.directory.FindByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.IsBanned {
			return OAuthOutcome{}, failure(apperrors.CodeAccountBanned, ReasonBanned)
		}
		if _, err := v.directory.LinkMethod(ctx, existing.ID, methodInput); err != nil {
			return OAuthOutcome{}, err
		}
		v.logger.InfoContext(ctx, "oauth identity linked by verified email",
			"user_id", existing.ID, "provider", identity.Provider)
		return OAuthOutcome{User: existing, Linked: true}, nil
	case !isLookupMiss(err):
		return OAuthOutcome{}, err
	}

	created, err := v.directory.Create(ctx, directory.CreateInput{
		Email:  email,
		Role:   user.RoleUser,
		Method: &methodInput,
	})
	if err != nil {
		return OAuthOutcome{}, err
	}
	return OAuthOutcome{User: created, Created: true}, nil
}

// VerifyWebAuthn checks an assertion answering the login challenge stored
// under sessionID, then resolves the credential's bound user.
func (v *Verifier) VerifyWebAuthn(ctx context.Context, sessionID string, response []byte) (user.User, error) {
	if v == nil || v.directory == nil {
		return user.User{}, fmt.Errorf("credential verifier is not configured")
	}
	if v.passkeys == nil {
		return user.User{}, apperrors.New(apperrors.CodeUnavailable, "passkeys are not enabled")
	}
	assertion, err := v.passkeys.ValidateLogin(ctx, sessionID, response)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeInvalidAssertion {
			return user.User{}, failure(apperrors.CodeInvalidAssertion, ReasonAssertion)
		}
		return user.User{}, err
	}
	method, err := v.directory.FindMethodByProvider(ctx, user.WebAuthnProvider, assertion.CredentialID)
	if err != nil {
		if isLookupMiss(err) {
			return user.User{}, failure(apperrors.CodeInvalidAssertion, ReasonUnknownCredential)
		}
		return user.User{}, err
	}
	owner, err := v.directory.FindByID(ctx, method.UserID)
	if err != nil {
		if isLookupMiss(err) {
			return user.User{}, failure(apperrors.CodeInvalidAssertion, ReasonUnknownCredential)
		}
		return user.User{}, err
	}
	if owner.IsBanned {
		return user.User{}, failure(apperrors.CodeInvalidAssertion, ReasonBanned)
	}
	return owner, nil
}

func isLookupMiss(err error) bool {
	return apperrors.HasCode(err, apperrors.CodeNotFound) || apperrors.HasCode(err, apperrors.CodeEmailInvalid)
}

func hasMethod(methods []user.AuthMethodRecord, kind user.MethodKind) bool {
	for _, m := range methods {
		if m.Method == kind {
			return true
		}
	}
	return false
}

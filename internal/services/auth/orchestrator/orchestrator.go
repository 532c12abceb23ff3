// Package orchestrator sequences primary proof, the optional second factor
// and session issuance for every login flow, and owns account-wide actions
// that must revoke sessions (password change, ban).
//
// It preserves internal failure codes for audit and metrics; the transport
// boundary collapses them into one generic authentication failure.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/clyde-sh/novus/internal/platform/errors"
	"github.com/clyde-sh/novus/internal/platform/logging"
	"github.com/clyde-sh/novus/internal/services/auth/credential"
	"github.com/clyde-sh/novus/internal/services/auth/directory"
	"github.com/clyde-sh/novus/internal/services/auth/metrics"
	"github.com/clyde-sh/novus/internal/services/auth/oauth"
	"github.com/clyde-sh/novus/internal/services/auth/passkey"
	"github.com/clyde-sh/novus/internal/services/auth/storage"
	"github.com/clyde-sh/novus/internal/services/auth/twofactor"
	"github.com/clyde-sh/novus/internal/services/auth/user"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/clyde-sh/novus/internal/services/auth/orchestrator"

// Directory is the user directory surface the orchestrator writes through.
type Directory interface {
	Create(ctx context.Context, input directory.CreateInput) (user.User, error)
	FindByID(ctx context.Context, userID string) (user.User, error)
	SetBanned(ctx context.Context, userID string, banned bool) error
	SetPassword(ctx context.Context, userID, passwordHash string) error
}

// Verifier checks primary credentials.
type Verifier interface {
	VerifyPassword(ctx context.Context, email, candidate string) (user.User, error)
	VerifyOAuth(ctx context.Context, identity credential.OAuthIdentity) (credential.OAuthOutcome, error)
	VerifyWebAuthn(ctx context.Context, sessionID string, response []byte) (user.User, error)
}

// PasswordHasher hashes new passwords and checks current ones.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, candidate string) bool
}

// TwoFactor is the second-factor challenge manager.
type TwoFactor interface {
	Initiate(ctx context.Context, userID string, method twofactor.Method) (twofactor.Challenge, error)
	Verify(ctx context.Context, userID string, method twofactor.Method, candidate string) error
	EnrolledMethods(ctx context.Context, userID string) ([]twofactor.Method, error)
	Enroll(ctx context.Context, input twofactor.EnrollInput) (twofactor.Enrollment, error)
	ConfirmEnrollment(ctx context.Context, userID string, method twofactor.Method, code string) error
	Disenroll(ctx context.Context, userID string, method twofactor.Method) error
}

// Sessions issues and revokes sessions.
type Sessions interface {
	Create(ctx context.Context, userID, userAgent string) (storage.Session, error)
	Revoke(ctx context.Context, sessionID string) error
	RevokeAllForUser(ctx context.Context, userID string) error
}

// OAuthFlow runs external provider round trips.
type OAuthFlow interface {
	Start(ctx context.Context, provider, redirectURI string) (string, error)
	Finish(ctx context.Context, provider, state, code string) (oauth.Callback, error)
}

// Passkeys runs WebAuthn ceremonies.
type Passkeys interface {
	BeginLogin(ctx context.Context) (passkey.Challenge, error)
	BeginRegistration(ctx context.Context, userID string) (passkey.Challenge, error)
	FinishRegistration(ctx context.Context, userID, sessionID string, response []byte) (user.AuthMethodRecord, error)
}

// Recorder receives decision counters. *metrics.Recorder satisfies it.
type Recorder interface {
	AuthAttempt(method, outcome, reason string)
	TwoFactor(method, outcome string)
}

// Deps wires the orchestrator. OAuth and Passkeys may be nil when those
// flows are disabled; Recorder and Logger may be nil.
type Deps struct {
	Directory Directory
	Verifier  Verifier
	Hasher    PasswordHasher
	TwoFactor TwoFactor
	Sessions  Sessions
	OAuth     OAuthFlow
	Passkeys  Passkeys
	Tickets   *Tickets
	Recorder  Recorder
	Logger    *slog.Logger
}

// Orchestrator runs the login flows.
type Orchestrator struct {
	directory Directory
	verifier  Verifier
	hasher    PasswordHasher
	twoFactor TwoFactor
	sessions  Sessions
	oauth     OAuthFlow
	passkeys  Passkeys
	tickets   *Tickets
	recorder  Recorder
	tracer    trace.Tracer
	logger    *slog.Logger
}

// New validates deps and builds an orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Directory == nil:
		return nil, fmt.Errorf("directory is required")
	case deps.Verifier == nil:
		return nil, fmt.Errorf("credential verifier is required")
	case deps.Hasher == nil:
		return nil, fmt.Errorf("password hasher is required")
	case deps.TwoFactor == nil:
		return nil, fmt.Errorf("two-factor manager is required")
	case deps.Sessions == nil:
		return nil, fmt.Errorf("session manager is required")
	case deps.Tickets == nil:
		return nil, fmt.Errorf("ticket signer is required")
	}
	return &Orchestrator{
		directory: deps.Directory,
		verifier:  deps.Verifier,
		hasher:    deps.Hasher,
		twoFactor: deps.TwoFactor,
		sessions:  deps.Sessions,
		oauth:     deps.OAuth,
		passkeys:  deps.Passkeys,
		tickets:   deps.Tickets,
		recorder:  deps.Recorder,
		tracer:    otel.Tracer(instrumentationName),
		logger:    logging.OrDiscard(deps.Logger),
	}, nil
}

// Pending is a login waiting for its second factor.
type Pending struct {
	Ticket    string
	ExpiresAt time.Time
	Methods   []twofactor.Method
}

// Result is the outcome of a successful primary proof: either a session or
// a pending second-factor step.
type Result struct {
	User    user.User
	Session *storage.Session
	Pending *Pending
}

// Register creates a password user. It does not sign the user in.
func (o *Orchestrator) Register(ctx context.Context, email, password string) (u user.User, err error) {
	ctx, end := o.span(ctx, "Register")
	defer func() { end(err) }()

	if err := user.ValidatePassword(password); err != nil {
		return user.User{}, err
	}
	hash, err := o.hasher.Hash(password)
	if err != nil {
		return user.User{}, err
	}
	created, err := o.directory.Create(ctx, directory.CreateInput{
		Email:        email,
		PasswordHash: hash,
		Role:         user.RoleUser,
	})
	if err != nil {
		return user.User{}, err
	}
	o.logger.InfoContext(ctx, "user registered", "user_id", created.ID)
	return created, nil
}

// LoginPassword verifies an email and password, then either issues a
// session or asks for a second factor.
func (o *Orchestrator) LoginPassword(ctx context.Context, email, password, userAgent string) (result Result, err error) {
	ctx, end := o.span(ctx, "LoginPassword")
	defer func() { end(err) }()

	found, err := o.verifier.VerifyPassword(ctx, email, password)
	if err != nil {
		o.rejectPrimary(ctx, string(user.MethodPassword), "", err)
		return Result{}, err
	}
	return o.afterPrimary(ctx, found, string(user.MethodPassword), userAgent)
}

// StartOAuth returns the provider consent URL.
func (o *Orchestrator) StartOAuth(ctx context.Context, provider, redirectURI string) (string, error) {
	if o.oauth == nil {
		return "", apperrors.New(apperrors.CodeUnavailable, "oauth sign-in is not enabled")
	}
	return o.oauth.Start(ctx, provider, redirectURI)
}

// OAuthResult is a completed provider login and where the client asked to
// land afterwards.
type OAuthResult struct {
	Result
	RedirectURI string
	Created     bool
	Linked      bool
}

// CompleteOAuth finishes the provider round trip, resolves the identity to
// a user (linking or creating as needed) and applies the second-factor
// policy.
func (o *Orchestrator) CompleteOAuth(ctx context.Context, provider, state, code, userAgent string) (result OAuthResult, err error) {
	ctx, end := o.span(ctx, "CompleteOAuth", attribute.String("auth.provider", provider))
	defer func() { end(err) }()

	if o.oauth == nil {
		return OAuthResult{}, apperrors.New(apperrors.CodeUnavailable, "oauth sign-in is not enabled")
	}
	callback, err := o.oauth.Finish(ctx, provider, state, code)
	if err != nil {
		o.rejectPrimary(ctx, string(user.MethodOAuth), "", err)
		return OAuthResult{}, err
	}
	outcome, err := o.verifier.VerifyOAuth(ctx, credential.OAuthIdentity{
		Provider:      callback.Provider,
		ProviderID:    callback.Identity.ProviderID,
		Email:         callback.Identity.Email,
		EmailVerified: callback.Identity.EmailVerified,
	})
	if err != nil {
		o.rejectPrimary(ctx, string(user.MethodOAuth), "", err)
		return OAuthResult{}, err
	}
	primary, err := o.afterPrimary(ctx, outcome.User, string(user.MethodOAuth), userAgent)
	if err != nil {
		return OAuthResult{}, err
	}
	return OAuthResult{
		Result:      primary,
		RedirectURI: callback.RedirectURI,
		Created:     outcome.Created,
		Linked:      outcome.Linked,
	}, nil
}

// BeginWebAuthn issues a discoverable login challenge.
func (o *Orchestrator) BeginWebAuthn(ctx context.Context) (passkey.Challenge, error) {
	if o.passkeys == nil {
		return passkey.Challenge{}, apperrors.New(apperrors.CodeUnavailable, "passkeys are not enabled")
	}
	return o.passkeys.BeginLogin(ctx)
}

// CompleteWebAuthn verifies an assertion and issues a session. A passkey
// is possession plus user verification, so no second factor is asked.
func (o *Orchestrator) CompleteWebAuthn(ctx context.Context, sessionID string, response []byte, userAgent string) (session storage.Session, err error) {
	ctx, end := o.span(ctx, "CompleteWebAuthn")
	defer func() { end(err) }()

	found, err := o.verifier.VerifyWebAuthn(ctx, sessionID, response)
	if err != nil {
		o.rejectPrimary(ctx, string(user.MethodWebAuthn), "", err)
		return storage.Session{}, err
	}
	created, err := o.sessions.Create(ctx, found.ID, userAgent)
	if err != nil {
		o.rejectPrimary(ctx, string(user.MethodWebAuthn), found.ID, err)
		return storage.Session{}, err
	}
	o.record(string(user.MethodWebAuthn), metrics.OutcomeSuccess, "")
	o.logger.InfoContext(ctx, "login succeeded", "method", string(user.MethodWebAuthn), "user_id", found.ID)
	return created, nil
}

// BeginPasskeyRegistration starts adding a passkey for a signed-in user.
func (o *Orchestrator) BeginPasskeyRegistration(ctx context.Context, userID string) (passkey.Challenge, error) {
	if o.passkeys == nil {
		return passkey.Challenge{}, apperrors.New(apperrors.CodeUnavailable, "passkeys are not enabled")
	}
	return o.passkeys.BeginRegistration(ctx, userID)
}

// FinishPasskeyRegistration links the attested passkey to userID.
func (o *Orchestrator) FinishPasskeyRegistration(ctx context.Context, userID, sessionID string, response []byte) (user.AuthMethodRecord, error) {
	if o.passkeys == nil {
		return user.AuthMethodRecord{}, apperrors.New(apperrors.CodeUnavailable, "passkeys are not enabled")
	}
	method, err := o.passkeys.FinishRegistration(ctx, userID, sessionID, response)
	if err != nil {
		return user.AuthMethodRecord{}, err
	}
	o.logger.InfoContext(ctx, "passkey registered", "user_id", userID, "method_id", method.ID)
	return method, nil
}

// SecondFactorChallenge is what a client learns about an issued challenge.
// The code itself travels only over the delivery channel.
type SecondFactorChallenge struct {
	Method    twofactor.Method
	ExpiresAt time.Time
}

// InitiateSecondFactor issues a challenge for the ticket's user.
func (o *Orchestrator) InitiateSecondFactor(ctx context.Context, ticket string, method twofactor.Method) (challenge SecondFactorChallenge, err error) {
	ctx, end := o.span(ctx, "InitiateSecondFactor", attribute.String("auth.second_factor", string(method)))
	defer func() { end(err) }()

	pending, err := o.tickets.Parse(ticket)
	if err != nil {
		o.rejectSecondFactor(ctx, method, "", err)
		return SecondFactorChallenge{}, err
	}
	issued, err := o.twoFactor.Initiate(ctx, pending.UserID, method)
	if err != nil {
		return SecondFactorChallenge{}, err
	}
	return SecondFactorChallenge{Method: issued.Method, ExpiresAt: issued.ExpiresAt}, nil
}

// CompleteSecondFactor verifies the code for the ticket's user and issues
// the session.
func (o *Orchestrator) CompleteSecondFactor(ctx context.Context, ticket string, method twofactor.Method, code, userAgent string) (session storage.Session, err error) {
	ctx, end := o.span(ctx, "CompleteSecondFactor", attribute.String("auth.second_factor", string(method)))
	defer func() { end(err) }()

	pending, err := o.tickets.Parse(ticket)
	if err != nil {
		o.rejectSecondFactor(ctx, method, "", err)
		return storage.Session{}, err
	}
	if err := o.twoFactor.Verify(ctx, pending.UserID, method, code); err != nil {
		o.rejectSecondFactor(ctx, method, pending.UserID, err)
		return storage.Session{}, err
	}
	created, err := o.sessions.Create(ctx, pending.UserID, userAgent)
	if err != nil {
		o.rejectSecondFactor(ctx, method, pending.UserID, err)
		return storage.Session{}, err
	}
	if o.recorder != nil {
		o.recorder.TwoFactor(string(method), metrics.OutcomeSuccess)
	}
	o.logger.InfoContext(ctx, "login succeeded",
		"method", pending.Primary, "second_factor", string(method), "user_id", pending.UserID)
	return created, nil
}

// Logout revokes the caller's session.
func (o *Orchestrator) Logout(ctx context.Context, sessionID string) error {
	return o.sessions.Revoke(ctx, sessionID)
}

// ChangePassword replaces the user's password after checking the current
// one, then revokes every session. Users without a password (OAuth or
// passkey only) set one without a current password.
func (o *Orchestrator) ChangePassword(ctx context.Context, userID, current, next string) (err error) {
	ctx, end := o.span(ctx, "ChangePassword")
	defer func() { end(err) }()

	found, err := o.directory.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if found.HasPassword() && !o.hasher.Compare(found.PasswordHash, current) {
		err := apperrors.WithMetadata(apperrors.CodeInvalidCredentials, "current password mismatch",
			map[string]string{"reason": credential.ReasonMismatch})
		o.rejectPrimary(ctx, string(user.MethodPassword), found.ID, err)
		return err
	}
	if err := user.ValidatePassword(next); err != nil {
		return err
	}
	hash, err := o.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := o.directory.SetPassword(ctx, found.ID, hash); err != nil {
		return err
	}
	if err := o.sessions.RevokeAllForUser(ctx, found.ID); err != nil {
		return err
	}
	o.logger.InfoContext(ctx, "password changed", "user_id", found.ID)
	return nil
}

// BanUser sets the ban flag; banning also revokes every session.
func (o *Orchestrator) BanUser(ctx context.Context, userID string, banned bool) (err error) {
	ctx, end := o.span(ctx, "BanUser")
	defer func() { end(err) }()

	if err := o.directory.SetBanned(ctx, userID, banned); err != nil {
		return err
	}
	if !banned {
		return nil
	}
	return o.sessions.RevokeAllForUser(ctx, strings.TrimSpace(userID))
}

// EnrollSecondFactor starts setting up a second factor for a signed-in
// user. Delivered codes are stripped from the result.
func (o *Orchestrator) EnrollSecondFactor(ctx context.Context, userID string, method twofactor.Method, destination string) (twofactor.Enrollment, error) {
	found, err := o.directory.FindByID(ctx, userID)
	if err != nil {
		return twofactor.Enrollment{}, err
	}
	enrollment, err := o.twoFactor.Enroll(ctx, twofactor.EnrollInput{
		UserID:      found.ID,
		AccountName: found.Email,
		Method:      method,
		Destination: destination,
	})
	if err != nil {
		return twofactor.Enrollment{}, err
	}
	enrollment.Challenge.Value = ""
	return enrollment, nil
}

// ConfirmSecondFactor activates a pending enrollment.
func (o *Orchestrator) ConfirmSecondFactor(ctx context.Context, userID string, method twofactor.Method, code string) error {
	if err := o.twoFactor.ConfirmEnrollment(ctx, userID, method, code); err != nil {
		o.rejectSecondFactor(ctx, method, userID, err)
		return err
	}
	o.logger.InfoContext(ctx, "second factor enrolled", "user_id", userID, "method", string(method))
	return nil
}

// RemoveSecondFactor drops an enrollment.
func (o *Orchestrator) RemoveSecondFactor(ctx context.Context, userID string, method twofactor.Method) error {
	if err := o.twoFactor.Disenroll(ctx, userID, method); err != nil {
		return err
	}
	o.logger.InfoContext(ctx, "second factor removed", "user_id", userID, "method", string(method))
	return nil
}

// SecondFactors lists the user's confirmed second factors.
func (o *Orchestrator) SecondFactors(ctx context.Context, userID string) ([]twofactor.Method, error) {
	return o.twoFactor.EnrolledMethods(ctx, userID)
}

// afterPrimary applies the second-factor policy: users with a confirmed
// second factor get a ticket, everyone else gets a session.
func (o *Orchestrator) afterPrimary(ctx context.Context, found user.User, primary, userAgent string) (Result, error) {
	methods, err := o.twoFactor.EnrolledMethods(ctx, found.ID)
	if err != nil {
		return Result{}, err
	}
	if len(methods) > 0 {
		ticket, expiresAt, err := o.tickets.Issue(found.ID, primary)
		if err != nil {
			return Result{}, err
		}
		o.record(primary, metrics.OutcomePending, "")
		o.logger.InfoContext(ctx, "second factor required", "method", primary, "user_id", found.ID)
		return Result{User: found, Pending: &Pending{Ticket: ticket, ExpiresAt: expiresAt, Methods: methods}}, nil
	}

	created, err := o.sessions.Create(ctx, found.ID, userAgent)
	if err != nil {
		o.rejectPrimary(ctx, primary, found.ID, err)
		return Result{}, err
	}
	o.record(primary, metrics.OutcomeSuccess, "")
	o.logger.InfoContext(ctx, "login succeeded", "method", primary, "user_id", found.ID)
	return Result{User: found, Session: &created}, nil
}

func (o *Orchestrator) rejectPrimary(ctx context.Context, method, userID string, err error) {
	code := apperrors.GetCode(err)
	reason := failureReason(err)
	if !code.IsAuthFailure() {
		o.logger.ErrorContext(ctx, "login failed", "method", method, "user_id", userID, "error", err)
		o.record(method, metrics.OutcomeFailure, "internal")
		return
	}
	o.logger.WarnContext(ctx, "login rejected",
		"method", method, "user_id", userID, "code", string(code), "reason", reason)
	o.record(method, metrics.OutcomeFailure, reason)
}

func (o *Orchestrator) rejectSecondFactor(ctx context.Context, method twofactor.Method, userID string, err error) {
	code := apperrors.GetCode(err)
	if o.recorder != nil {
		o.recorder.TwoFactor(string(method), strings.ToLower(string(code)))
	}
	if !code.IsAuthFailure() {
		o.logger.ErrorContext(ctx, "second factor failed", "method", string(method), "user_id", userID, "error", err)
		return
	}
	o.logger.WarnContext(ctx, "second factor rejected",
		"method", string(method), "user_id", userID, "code", string(code))
}

func (o *Orchestrator) record(method, outcome, reason string) {
	if o.recorder != nil {
		o.recorder.AuthAttempt(method, outcome, reason)
	}
}

// failureReason prefers the verifier's reason and falls back to the code.
func failureReason(err error) string {
	if reason := credential.Reason(err); reason != "" {
		return reason
	}
	return strings.ToLower(string(apperrors.GetCode(err)))
}

func (o *Orchestrator) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := o.tracer.Start(ctx, "orchestrator."+name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.SetAttributes(attribute.String("auth.error_code", string(apperrors.GetCode(err))))
			span.SetStatus(codes.Error, string(apperrors.GetCode(err)))
		}
		span.End()
	}
}

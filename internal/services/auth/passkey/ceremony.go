package passkey

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/clyde-sh/novus/internal/platform/errors"
	"github.com/clyde-sh/novus/internal/platform/id"
	"github.com/clyde-sh/novus/internal/services/auth/storage"
	"github.com/clyde-sh/novus/internal/services/auth/user"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// ErrInvalidAssertion is returned for any rejected login ceremony.
var ErrInvalidAssertion = apperrors.New(apperrors.CodeInvalidAssertion, "passkey assertion rejected")

// Directory is the slice of the user directory the ceremonies need.
type Directory interface {
	FindByID(ctx context.Context, userID string) (user.User, error)
	ListMethods(ctx context.Context, userID string) ([]user.AuthMethodRecord, error)
	LinkMethod(ctx context.Context, userID string, input user.MethodInput) (user.AuthMethodRecord, error)
	FindMethodByProvider(ctx context.Context, provider, providerID string) (user.AuthMethodRecord, error)
	UpdateMethodSecret(ctx context.Context, methodID, secret string) error
}

type passkeyProvider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error)
}

type passkeyParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultPasskeyParser struct{}

func (defaultPasskeyParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultPasskeyParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// Challenge is handed to the browser to start a ceremony.
type Challenge struct {
	SessionID string
	Options   json.RawMessage
}

// Assertion is the outcome of a verified login ceremony.
type Assertion struct {
	UserID       string
	CredentialID string
}

// Ceremony drives WebAuthn registration and discoverable login.
type Ceremony struct {
	webAuthn    passkeyProvider
	parser      passkeyParser
	sessions    storage.PasskeySessionStore
	directory   Directory
	sessionTTL  time.Duration
	clock       func() time.Time
	idGenerator func() (string, error)
}

// New builds a ceremony runner for the relying party in cfg.
func New(cfg Config, sessions storage.PasskeySessionStore, directory Directory) (*Ceremony, error) {
	cfg = cfg.withDefaults()
	webAuthn, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}
	return &Ceremony{
		webAuthn:    webAuthn,
		parser:      defaultPasskeyParser{},
		sessions:    sessions,
		directory:   directory,
		sessionTTL:  cfg.SessionTTL,
		clock:       time.Now,
		idGenerator: id.NewID,
	}, nil
}

func (c *Ceremony) now() time.Time {
	if c.clock == nil {
		return time.Now().UTC()
	}
	return c.clock().UTC()
}

func (c *Ceremony) ready() error {
	if c == nil || c.webAuthn == nil || c.parser == nil || c.sessions == nil || c.directory == nil {
		return fmt.Errorf("passkey ceremony is not configured")
	}
	return nil
}

// BeginRegistration starts adding a passkey to an existing user.
func (c *Ceremony) BeginRegistration(ctx context.Context, userID string) (Challenge, error) {
	if err := c.ready(); err != nil {
		return Challenge{}, err
	}
	owner, err := c.loadPasskeyUser(ctx, userID)
	if err != nil {
		return Challenge{}, err
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(owner.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(owner.credentials).CredentialDescriptors()))
	}
	creation, session, err := c.webAuthn.BeginRegistration(owner, options...)
	if err != nil {
		return Challenge{}, fmt.Errorf("begin passkey registration: %w", err)
	}
	return c.storeChallenge(ctx, SessionKindRegistration, owner.user.ID, session, creation)
}

// FinishRegistration verifies the attestation and links the credential as a
// webauthn method of userID, who must be the user the ceremony was started
// for.
func (c *Ceremony) FinishRegistration(ctx context.Context, userID, sessionID string, response []byte) (user.AuthMethodRecord, error) {
	if err := c.ready(); err != nil {
		return user.AuthMethodRecord{}, err
	}
	if len(response) == 0 {
		return user.AuthMethodRecord{}, apperrors.New(apperrors.CodeInvalidArgument, "credential response is required")
	}
	session, err := c.consumeSession(ctx, sessionID, SessionKindRegistration)
	if err != nil {
		return user.AuthMethodRecord{}, err
	}
	if session.UserID == "" {
		return user.AuthMethodRecord{}, fmt.Errorf("passkey session missing user id")
	}
	if session.UserID != strings.TrimSpace(userID) {
		return user.AuthMethodRecord{}, apperrors.New(apperrors.CodePermissionDenied, "passkey registration belongs to another user")
	}
	owner, err := c.loadPasskeyUser(ctx, session.UserID)
	if err != nil {
		return user.AuthMethodRecord{}, err
	}

	parsed, err := c.parser.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return user.AuthMethodRecord{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "parse credential response", err)
	}
	credential, err := c.webAuthn.CreateCredential(owner, session.Data, parsed)
	if err != nil {
		return user.AuthMethodRecord{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "validate credential response", err)
	}
	credentialJSON, err := json.Marshal(credential)
	if err != nil {
		return user.AuthMethodRecord{}, fmt.Errorf("encode credential: %w", err)
	}
	return c.directory.LinkMethod(ctx, owner.user.ID, user.MethodInput{
		Method:     user.MethodWebAuthn,
		Provider:   user.WebAuthnProvider,
		ProviderID: EncodeCredentialID(credential.ID),
		Secret:     string(credentialJSON),
	})
}

// BeginLogin starts a discoverable login; the authenticator picks the user.
func (c *Ceremony) BeginLogin(ctx context.Context) (Challenge, error) {
	if err := c.ready(); err != nil {
		return Challenge{}, err
	}
	assertion, session, err := c.webAuthn.BeginDiscoverableLogin()
	if err != nil {
		return Challenge{}, fmt.Errorf("begin passkey login: %w", err)
	}
	return c.storeChallenge(ctx, SessionKindLogin, "", session, assertion)
}

// ValidateLogin verifies an assertion against the stored challenge and
// records the credential's new sign count. Every rejection is
// ErrInvalidAssertion.
func (c *Ceremony) ValidateLogin(ctx context.Context, sessionID string, response []byte) (Assertion, error) {
	if err := c.ready(); err != nil {
		return Assertion{}, err
	}
	if len(response) == 0 {
		return Assertion{}, ErrInvalidAssertion
	}
	session, err := c.consumeSession(ctx, sessionID, SessionKindLogin)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeUnknown {
			return Assertion{}, err
		}
		return Assertion{}, ErrInvalidAssertion
	}

	parsed, err := c.parser.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return Assertion{}, apperrors.Wrap(apperrors.CodeInvalidAssertion, "parse assertion", err)
	}
	validatedUser, credential, err := c.webAuthn.ValidatePasskeyLogin(c.passkeyUserHandler(ctx), session.Data, parsed)
	if err != nil {
		return Assertion{}, apperrors.Wrap(apperrors.CodeInvalidAssertion, "validate assertion", err)
	}
	owner, ok := validatedUser.(*passkeyUser)
	if !ok || credential == nil {
		return Assertion{}, ErrInvalidAssertion
	}

	credentialID := EncodeCredentialID(credential.ID)
	method, err := c.directory.FindMethodByProvider(ctx, user.WebAuthnProvider, credentialID)
	if err != nil || method.UserID != owner.user.ID {
		return Assertion{}, ErrInvalidAssertion
	}
	if encoded, err := json.Marshal(credential); err == nil {
		if err := c.directory.UpdateMethodSecret(ctx, method.ID, string(encoded)); err != nil {
			return Assertion{}, fmt.Errorf("store passkey sign count: %w", err)
		}
	}
	return Assertion{UserID: owner.user.ID, CredentialID: credentialID}, nil
}

type passkeyUser struct {
	user        user.User
	credentials []webauthn.Credential
}

func (u *passkeyUser) WebAuthnID() []byte {
	return []byte(u.user.ID)
}

func (u *passkeyUser) WebAuthnName() string {
	return u.user.Email
}

func (u *passkeyUser) WebAuthnDisplayName() string {
	return u.user.Email
}

func (u *passkeyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func (c *Ceremony) loadPasskeyUser(ctx context.Context, userID string) (*passkeyUser, error) {
	base, err := c.directory.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	methods, err := c.directory.ListMethods(ctx, base.ID)
	if err != nil {
		return nil, err
	}
	credentials, err := decodeStoredCredentials(methods)
	if err != nil {
		return nil, err
	}
	return &passkeyUser{user: base, credentials: credentials}, nil
}

func decodeStoredCredentials(methods []user.AuthMethodRecord) ([]webauthn.Credential, error) {
	var credentials []webauthn.Credential
	for _, method := range methods {
		if method.Method != user.MethodWebAuthn {
			continue
		}
		var credential webauthn.Credential
		if err := json.Unmarshal([]byte(method.Secret), &credential); err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", method.ProviderID, err)
		}
		credentials = append(credentials, credential)
	}
	return credentials, nil
}

func (c *Ceremony) passkeyUserHandler(ctx context.Context) webauthn.DiscoverableUserHandler {
	return func(_, userHandle []byte) (webauthn.User, error) {
		userID := string(userHandle)
		if strings.TrimSpace(userID) == "" {
			return nil, fmt.Errorf("user handle is required")
		}
		return c.loadPasskeyUser(ctx, userID)
	}
}

func (c *Ceremony) storeChallenge(ctx context.Context, kind SessionKind, userID string, session *webauthn.SessionData, options any) (Challenge, error) {
	if session == nil {
		return Challenge{}, fmt.Errorf("session data is required")
	}
	sessionID, err := c.idGenerator()
	if err != nil {
		return Challenge{}, fmt.Errorf("create passkey session: %w", err)
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return Challenge{}, fmt.Errorf("encode passkey session: %w", err)
	}
	if err := c.sessions.PutPasskeySession(ctx, storage.PasskeySession{
		ID:          sessionID,
		Kind:        string(kind),
		UserID:      userID,
		SessionJSON: string(payload),
		ExpiresAt:   c.now().Add(c.sessionTTL),
	}); err != nil {
		return Challenge{}, fmt.Errorf("store passkey session: %w", err)
	}
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return Challenge{}, fmt.Errorf("encode passkey options: %w", err)
	}
	return Challenge{SessionID: sessionID, Options: optionsJSON}, nil
}

type loadedSession struct {
	Data   webauthn.SessionData
	UserID string
}

var errSessionRejected = apperrors.New(apperrors.CodeInvalidArgument, "passkey session is missing, expired or of the wrong kind")

// consumeSession loads a ceremony and deletes it; a challenge answers once.
func (c *Ceremony) consumeSession(ctx context.Context, sessionID string, expectedKind SessionKind) (loadedSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return loadedSession{}, errSessionRejected
	}
	stored, err := c.sessions.GetPasskeySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return loadedSession{}, errSessionRejected
		}
		return loadedSession{}, fmt.Errorf("load passkey session: %w", err)
	}
	_ = c.sessions.DeletePasskeySession(ctx, sessionID)

	if stored.Kind != string(expectedKind) {
		return loadedSession{}, errSessionRejected
	}
	if !stored.ExpiresAt.After(c.now()) {
		return loadedSession{}, errSessionRejected
	}
	var session webauthn.SessionData
	if err := json.Unmarshal([]byte(stored.SessionJSON), &session); err != nil {
		return loadedSession{}, fmt.Errorf("decode passkey session: %w", err)
	}
	return loadedSession{Data: session, UserID: stored.UserID}, nil
}

// EncodeCredentialID renders a raw credential id as stored provider id.
func EncodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

package storage

import (
	"context"
	"time"

	"github.com/clyde-sh/novus/internal/platform/errors"
	"github.com/clyde-sh/novus/internal/services/auth/user"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New(errors.CodeNotFound, "record not found")
	// ErrConflict indicates a uniqueness constraint rejected the write.
	ErrConflict = errors.New(errors.CodeConflict, "record already exists")
	// ErrLastMethod indicates a delete would leave a user without methods.
	ErrLastMethod = errors.New(errors.CodeInvalidState, "cannot remove the last auth method")
	// ErrStale indicates a conditional write lost its race.
	ErrStale = errors.New(errors.CodeInvalidState, "record changed concurrently")
	// ErrInvalidPageToken indicates a malformed list continuation token.
	ErrInvalidPageToken = errors.New(errors.CodeInvalidArgument, "invalid page token")
)

// UserStore persists auth user records.
type UserStore interface {
	PutUser(ctx context.Context, u user.User) error
	CreateUserWithMethod(ctx context.Context, u user.User, method user.AuthMethodRecord) error
	GetUser(ctx context.Context, userID string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) error
	// SetPasswordHash stores the hash and links method, the user's password
	// method, in one transaction. An existing password method is kept.
	SetPasswordHash(ctx context.Context, userID, passwordHash string, method user.AuthMethodRecord) error
	SetUserBanned(ctx context.Context, userID string, banned bool, updatedAt time.Time) error
	SetSessionsRevokedAt(ctx context.Context, userID string, watermark time.Time) error
	DeleteUser(ctx context.Context, userID string) error
	ListUsers(ctx context.Context, pageSize int, pageToken string) (UserPage, error)
}

// UserPage describes a page of user records.
type UserPage struct {
	Users         []user.User
	NextPageToken string
}

// MethodStore persists auth method records.
type MethodStore interface {
	PutMethod(ctx context.Context, method user.AuthMethodRecord) error
	GetMethod(ctx context.Context, methodID string) (user.AuthMethodRecord, error)
	GetMethodByProvider(ctx context.Context, provider, providerID string) (user.AuthMethodRecord, error)
	ListMethods(ctx context.Context, userID string) ([]user.AuthMethodRecord, error)
	UpdateMethodSecret(ctx context.Context, methodID, secret string, updatedAt time.Time) error
	DeleteMethodIfNotLast(ctx context.Context, userID, methodID string) error
}

// TwoFactorToken is a single-use second-factor challenge.
type TwoFactorToken struct {
	ID        string
	UserID    string
	Method    string
	Value     string
	ExpiresAt time.Time
	Used      bool
	// Attempts counts wrong codes entered against this token.
	Attempts  int
	CreatedAt time.Time
}

// TwoFactorEnrollment records a second factor a user has set up.
type TwoFactorEnrollment struct {
	UserID      string
	Method      string
	Secret      string
	Destination string
	ConfirmedAt *time.Time
	// LastCounter is the last accepted TOTP time step.
	LastCounter int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TwoFactorStore persists second-factor tokens and enrollments.
type TwoFactorStore interface {
	// IssueTwoFactorToken marks every outstanding token for the token's
	// (user, method) as used and inserts the new token in one transaction.
	IssueTwoFactorToken(ctx context.Context, token TwoFactorToken) error
	GetActiveTwoFactorToken(ctx context.Context, userID, method string) (TwoFactorToken, error)
	// ConsumeTwoFactorToken flips used from false to true and fails with
	// ErrStale when the token was already consumed or superseded.
	ConsumeTwoFactorToken(ctx context.Context, tokenID string) error
	// RecordTwoFactorFailure counts one wrong code against an unused token
	// and marks it used once maxAttempts is reached. It fails with ErrStale
	// when the token is no longer outstanding.
	RecordTwoFactorFailure(ctx context.Context, tokenID string, maxAttempts int) error
	PutTwoFactorEnrollment(ctx context.Context, enrollment TwoFactorEnrollment) error
	GetTwoFactorEnrollment(ctx context.Context, userID, method string) (TwoFactorEnrollment, error)
	ListTwoFactorEnrollments(ctx context.Context, userID string) ([]TwoFactorEnrollment, error)
	ConfirmTwoFactorEnrollment(ctx context.Context, userID, method string, confirmedAt time.Time) error
	// AdvanceTwoFactorCounter raises the last accepted TOTP step and fails
	// with ErrStale when counter is not greater than the stored one.
	AdvanceTwoFactorCounter(ctx context.Context, userID, method string, counter int64) error
	DeleteTwoFactorEnrollment(ctx context.Context, userID, method string) error
}

// Session stores an authenticated bearer session.
type Session struct {
	ID        string
	UserID    string
	UserAgent string
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionStore persists sessions.
type SessionStore interface {
	PutSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, sessionID string) (Session, error)
	// RotateSession deletes oldID and inserts next atomically; it fails with
	// ErrNotFound when oldID no longer exists.
	RotateSession(ctx context.Context, oldID string, next Session) error
	DeleteSession(ctx context.Context, sessionID string) error
	DeleteSessionsCreatedBefore(ctx context.Context, userID string, watermark time.Time) error
	ListSessions(ctx context.Context, userID string) ([]Session, error)
}

// PasskeySession stores a WebAuthn registration or login ceremony.
type PasskeySession struct {
	ID          string
	Kind        string
	UserID      string
	SessionJSON string
	ExpiresAt   time.Time
}

// PasskeySessionStore persists WebAuthn ceremony state.
type PasskeySessionStore interface {
	PutPasskeySession(ctx context.Context, session PasskeySession) error
	GetPasskeySession(ctx context.Context, id string) (PasskeySession, error)
	DeletePasskeySession(ctx context.Context, id string) error
}

// OAuthState stores an in-flight provider authorization.
type OAuthState struct {
	State        string
	Provider     string
	RedirectURI  string
	CodeVerifier string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// OAuthStateStore persists provider authorization state.
type OAuthStateStore interface {
	PutOAuthState(ctx context.Context, state OAuthState) error
	// ConsumeOAuthState returns and deletes the state in one step.
	ConsumeOAuthState(ctx context.Context, state string) (OAuthState, error)
}

// CleanupReport counts rows removed by one cleanup pass.
type CleanupReport struct {
	TwoFactorTokens int64
	Sessions        int64
	PasskeySessions int64
	OAuthStates     int64
}

// Cleaner removes expired transient rows.
type Cleaner interface {
	DeleteExpired(ctx context.Context, now time.Time) (CleanupReport, error)
}

package user

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/clyde-sh/novus/internal/platform/errors"
	"github.com/clyde-sh/novus/internal/platform/id"
	"golang.org/x/text/cases"
)

var (
	// ErrEmptyEmail indicates a missing email.
	ErrEmptyEmail = apperrors.New(apperrors.CodeEmailInvalid, "email is required")
	// ErrInvalidEmail indicates an email that does not match the accepted format.
	ErrInvalidEmail = apperrors.New(apperrors.CodeEmailInvalid, "invalid email format")
	// ErrInvalidRole indicates an unknown role name.
	ErrInvalidRole = apperrors.New(apperrors.CodeInvalidArgument, "role must be user or admin")

	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	emailFolder  = cases.Fold()
)

// Role is the authorization tier of a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole maps a role name to a Role.
func ParseRole(value string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", ErrInvalidRole
	}
}

// User represents an authenticated identity record.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	IsBanned     bool
	// SessionsRevokedAt is the revocation watermark: sessions created at or
	// before it are invalid.
	SessionsRevokedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasPassword reports whether the user carries a password hash.
func (u User) HasPassword() bool {
	return strings.TrimSpace(u.PasswordHash) != ""
}

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// SessionRevoked reports whether a session created at createdAt predates the
// user's revocation watermark.
func (u User) SessionRevoked(createdAt time.Time) bool {
	if u.SessionsRevokedAt == nil {
		return false
	}
	return !createdAt.After(*u.SessionsRevokedAt)
}

// CreateUserInput describes the metadata needed to create a user.
type CreateUserInput struct {
	Email        string
	PasswordHash string
	Role         Role
}

// CreateUser creates a user identity from validated input.
func CreateUser(input CreateUserInput, now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateUserInput(input)
	if err != nil {
		return User{}, err
	}

	userID, err := idGenerator()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	createdAt := now().UTC()
	return User{
		ID:           userID,
		Email:        normalized.Email,
		PasswordHash: normalized.PasswordHash,
		Role:         normalized.Role,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}, nil
}

// NormalizeCreateUserInput trims and normalizes input before validation.
func NormalizeCreateUserInput(input CreateUserInput) (CreateUserInput, error) {
	email, err := ValidateEmail(input.Email)
	if err != nil {
		return CreateUserInput{}, err
	}
	input.Email = email
	if input.Role == "" {
		input.Role = RoleUser
	}
	role, err := ParseRole(string(input.Role))
	if err != nil {
		return CreateUserInput{}, err
	}
	input.Role = role
	return input, nil
}

// NormalizeEmail trims and case-folds an email for storage and lookup.
func NormalizeEmail(email string) string {
	return emailFolder.String(strings.TrimSpace(email))
}

// ValidateEmail normalizes email and checks its format.
func ValidateEmail(email string) (string, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return "", ErrEmptyEmail
	}
	if !emailPattern.MatchString(normalized) {
		return "", ErrInvalidEmail
	}
	return normalized, nil
}

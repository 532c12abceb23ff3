package user

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/clyde-sh/novus/internal/platform/errors"
	"github.com/clyde-sh/novus/internal/platform/id"
)

// ErrInvalidMethod indicates an unknown auth method kind.
var ErrInvalidMethod = apperrors.New(apperrors.CodeInvalidArgument, "method must be password, oauth, or webauthn")

// MethodKind names a primary proof mechanism.
type MethodKind string

const (
	MethodPassword MethodKind = "password"
	MethodOAuth    MethodKind = "oauth"
	MethodWebAuthn MethodKind = "webauthn"
)

// WebAuthnProvider is the provider name recorded on passkey methods.
const WebAuthnProvider = "webauthn"

// ParseMethodKind maps a method name to a MethodKind.
func ParseMethodKind(value string) (MethodKind, error) {
	switch MethodKind(strings.ToLower(strings.TrimSpace(value))) {
	case MethodPassword:
		return MethodPassword, nil
	case MethodOAuth:
		return MethodOAuth, nil
	case MethodWebAuthn:
		return MethodWebAuthn, nil
	default:
		return "", ErrInvalidMethod
	}
}

// AuthMethodRecord binds one proof mechanism to a user.
type AuthMethodRecord struct {
	ID         string
	UserID     string
	Method     MethodKind
	Provider   string
	ProviderID string
	// Secret holds method material: empty for passwords (the hash lives on
	// the user), credential JSON for passkeys.
	Secret    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MethodInput describes a method to link.
type MethodInput struct {
	Method     MethodKind
	Provider   string
	ProviderID string
	Secret     string
}

// NewMethod builds a method record for userID from validated input.
func NewMethod(userID string, input MethodInput, now func() time.Time, idGenerator func() (string, error)) (AuthMethodRecord, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return AuthMethodRecord{}, apperrors.New(apperrors.CodeInvalidArgument, "user id is required")
	}

	normalized, err := NormalizeMethodInput(input)
	if err != nil {
		return AuthMethodRecord{}, err
	}

	methodID, err := idGenerator()
	if err != nil {
		return AuthMethodRecord{}, fmt.Errorf("generate method id: %w", err)
	}
	createdAt := now().UTC()
	return AuthMethodRecord{
		ID:         methodID,
		UserID:     userID,
		Method:     normalized.Method,
		Provider:   normalized.Provider,
		ProviderID: normalized.ProviderID,
		Secret:     normalized.Secret,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}, nil
}

// NormalizeMethodInput validates the provider fields each method kind needs.
func NormalizeMethodInput(input MethodInput) (MethodInput, error) {
	kind, err := ParseMethodKind(string(input.Method))
	if err != nil {
		return MethodInput{}, err
	}
	input.Method = kind
	input.Provider = strings.ToLower(strings.TrimSpace(input.Provider))
	input.ProviderID = strings.TrimSpace(input.ProviderID)

	switch kind {
	case MethodPassword:
		input.Provider = ""
		input.ProviderID = ""
	case MethodOAuth:
		if input.Provider == "" || input.ProviderID == "" {
			return MethodInput{}, apperrors.New(apperrors.CodeInvalidArgument, "oauth methods require provider and provider id")
		}
	case MethodWebAuthn:
		if input.Provider == "" {
			input.Provider = WebAuthnProvider
		}
		if input.ProviderID == "" {
			return MethodInput{}, apperrors.New(apperrors.CodeInvalidArgument, "webauthn methods require a credential id")
		}
		if strings.TrimSpace(input.Secret) == "" {
			return MethodInput{}, apperrors.New(apperrors.CodeInvalidArgument, "webauthn methods require credential material")
		}
	}
	return input, nil
}

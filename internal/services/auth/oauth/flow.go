package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	apperrors "github.com/clyde-sh/novus/internal/platform/errors"
	"github.com/clyde-sh/novus/internal/platform/logging"
	"github.com/clyde-sh/novus/internal/services/auth/storage"
	"golang.org/x/oauth2"
)

var (
	// ErrUnknownProvider is returned for a provider that is not configured.
	ErrUnknownProvider = apperrors.New(apperrors.CodeNotFound, "oauth provider is not configured")
	// ErrRedirectNotAllowed is returned for a landing URL outside the allowlist.
	ErrRedirectNotAllowed = apperrors.New(apperrors.CodeInvalidArgument, "redirect uri is not allowed")
	// ErrInvalidState covers unknown, replayed, expired or mismatched state.
	ErrInvalidState = apperrors.New(apperrors.CodeInvalidToken, "oauth state is invalid")
)

// Callback is a completed provider round trip.
type Callback struct {
	Provider    string
	Identity    Identity
	RedirectURI string
}

// Flow runs the authorization code flow with PKCE for every provider.
type Flow struct {
	providers map[string]Provider
	states    storage.OAuthStateStore
	stateTTL  time.Duration
	allowlist []string
	clock     func() time.Time
	logger    *slog.Logger
}

// NewFlow builds a flow over the given providers.
func NewFlow(providers map[string]Provider, states storage.OAuthStateStore, cfg Config, logger *slog.Logger) *Flow {
	ttl := cfg.StateTTL
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &Flow{
		providers: providers,
		states:    states,
		stateTTL:  ttl,
		allowlist: cfg.RedirectAllowlist,
		clock:     time.Now,
		logger:    logging.OrDiscard(logger),
	}
}

// Providers lists configured provider names in order.
func (f *Flow) Providers() []string {
	if f == nil {
		return nil
	}
	names := make([]string, 0, len(f.providers))
	for name := range f.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start records fresh state and returns the provider consent URL.
func (f *Flow) Start(ctx context.Context, providerName, redirectURI string) (string, error) {
	provider, name, err := f.provider(providerName)
	if err != nil {
		return "", err
	}
	redirectURI = strings.TrimSpace(redirectURI)
	if redirectURI != "" && !isAllowedRedirect(redirectURI, f.allowlist) {
		return "", ErrRedirectNotAllowed
	}

	state, err := newState()
	if err != nil {
		return "", err
	}
	verifier := oauth2.GenerateVerifier()
	now := f.clock().UTC()
	if err := f.states.PutOAuthState(ctx, storage.OAuthState{
		State:        state,
		Provider:     name,
		RedirectURI:  redirectURI,
		CodeVerifier: verifier,
		ExpiresAt:    now.Add(f.stateTTL),
		CreatedAt:    now,
	}); err != nil {
		return "", fmt.Errorf("put oauth state: %w", err)
	}
	return provider.AuthCodeURL(state, verifier), nil
}

// Finish consumes state once and resolves the provider identity.
func (f *Flow) Finish(ctx context.Context, providerName, state, code string) (Callback, error) {
	provider, name, err := f.provider(providerName)
	if err != nil {
		return Callback{}, err
	}
	state = strings.TrimSpace(state)
	code = strings.TrimSpace(code)
	if state == "" || code == "" {
		return Callback{}, apperrors.New(apperrors.CodeInvalidArgument, "state and code are required")
	}

	stored, err := f.states.ConsumeOAuthState(ctx, state)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Callback{}, ErrInvalidState
		}
		return Callback{}, fmt.Errorf("consume oauth state: %w", err)
	}
	if stored.Provider != name || !f.clock().Before(stored.ExpiresAt) {
		return Callback{}, ErrInvalidState
	}

	identity, err := provider.Identity(ctx, code, stored.CodeVerifier)
	if err != nil {
		f.logger.WarnContext(ctx, "oauth provider rejected callback", "provider", name, "error", err)
		return Callback{}, apperrors.Wrap(apperrors.CodeInvalidCredentials, "provider exchange failed", err)
	}
	return Callback{Provider: name, Identity: identity, RedirectURI: stored.RedirectURI}, nil
}

func (f *Flow) provider(name string) (Provider, string, error) {
	if f == nil || f.states == nil {
		return nil, "", fmt.Errorf("oauth flow is not configured")
	}
	name = strings.ToLower(strings.TrimSpace(name))
	provider, ok := f.providers[name]
	if !ok {
		return nil, "", ErrUnknownProvider
	}
	return provider, name, nil
}

func newState() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func isAllowedRedirect(uri string, allowlist []string) bool {
	for _, allowed := range allowlist {
		if strings.TrimSpace(allowed) == uri {
			return true
		}
	}
	return false
}

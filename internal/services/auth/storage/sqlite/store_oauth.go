package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/clyde-sh/novus/internal/services/auth/storage"
)

// PutOAuthState stores provider authorization state.
func (s *Store) PutOAuthState(ctx context.Context, state storage.OAuthState) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(state.State) == "" {
		return fmt.Errorf("state is required")
	}
	if strings.TrimSpace(state.Provider) == "" {
		return fmt.Errorf("provider is required")
	}
	if strings.TrimSpace(state.CodeVerifier) == "" {
		return fmt.Errorf("code verifier is required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO oauth_states (state, provider, redirect_uri, code_verifier, expires_at, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		state.State, state.Provider, state.RedirectURI, state.CodeVerifier,
		toMillis(state.ExpiresAt), toMillis(state.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("put oauth state: %w", err)
	}
	return nil
}

// ConsumeOAuthState returns and deletes state so it can be used once.
func (s *Store) ConsumeOAuthState(ctx context.Context, state string) (storage.OAuthState, error) {
	if err := s.ready(ctx); err != nil {
		return storage.OAuthState{}, err
	}
	if strings.TrimSpace(state) == "" {
		return storage.OAuthState{}, fmt.Errorf("state is required")
	}

	var (
		out       storage.OAuthState
		expiresAt int64
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
DELETE FROM oauth_states WHERE state = ?
RETURNING state, provider, redirect_uri, code_verifier, expires_at, created_at`,
		state,
	).Scan(&out.State, &out.Provider, &out.RedirectURI, &out.CodeVerifier, &expiresAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.OAuthState{}, storage.ErrNotFound
		}
		return storage.OAuthState{}, fmt.Errorf("consume oauth state: %w", err)
	}
	out.ExpiresAt = fromMillis(expiresAt)
	out.CreatedAt = fromMillis(createdAt)
	return out, nil
}

var _ storage.OAuthStateStore = (*Store)(nil)

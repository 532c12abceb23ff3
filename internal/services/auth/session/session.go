// Package session issues, validates, rotates and revokes opaque bearer
// sessions.
//
// Revoke-all is sequenced as "raise the user's revocation watermark, then
// delete older sessions", and validation rejects any session created at or
// before the watermark, so a session created concurrently with a revoke-all
// never survives it.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/clyde-sh/novus/internal/platform/errors"
	"github.com/clyde-sh/novus/internal/platform/logging"
	"github.com/clyde-sh/novus/internal/services/auth/storage"
	"github.com/clyde-sh/novus/internal/services/auth/user"
)

const idBytes = 32

var (
	// ErrNotFound covers unknown and already revoked session ids.
	ErrNotFound = apperrors.New(apperrors.CodeNotFound, "session not found")
	// ErrExpired is returned once now reaches the session expiry.
	ErrExpired = apperrors.New(apperrors.CodeExpired, "session expired")
	// ErrRevoked is returned for sessions older than the user's watermark.
	ErrRevoked = apperrors.New(apperrors.CodeRevoked, "session revoked")
	// ErrBanned is returned for every session of a banned user.
	ErrBanned = apperrors.New(apperrors.CodeAccountBanned, "account banned")
)

// Users is the directory surface sessions depend on.
type Users interface {
	FindByID(ctx context.Context, userID string) (user.User, error)
	MarkSessionsRevoked(ctx context.Context, userID string, at time.Time) error
}

type eventRecorder interface {
	Session(event string)
}

// Session events reported to the recorder.
const (
	EventCreated    = "created"
	EventRefreshed  = "refreshed"
	EventRevoked    = "revoked"
	EventRevokedAll = "revoked_all"
)

// Validated is a session that passed every check, with its owner.
type Validated struct {
	Session storage.Session
	User    user.User
}

// Manager owns the session lifecycle.
type Manager struct {
	store       storage.SessionStore
	users       Users
	ttl         time.Duration
	clock       func() time.Time
	idGenerator func() (string, error)
	recorder    eventRecorder
	logger      *slog.Logger
}

// NewManager builds a session manager. recorder may be nil.
func NewManager(store storage.SessionStore, users Users, cfg Config, recorder eventRecorder, logger *slog.Logger) *Manager {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Manager{
		store:       store,
		users:       users,
		ttl:         ttl,
		clock:       time.Now,
		idGenerator: NewID,
		recorder:    recorder,
		logger:      logging.OrDiscard(logger),
	}
}

// NewID returns 32 random bytes encoded as unpadded base64url.
func NewID() (string, error) {
	raw := make([]byte, idBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Create issues a session for a user who is allowed to sign in.
func (m *Manager) Create(ctx context.Context, userID, userAgent string) (storage.Session, error) {
	if err := m.ready(); err != nil {
		return storage.Session{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return storage.Session{}, apperrors.New(apperrors.CodeInvalidArgument, "user id is required")
	}
	owner, err := m.users.FindByID(ctx, userID)
	if err != nil {
		return storage.Session{}, err
	}
	if owner.IsBanned {
		return storage.Session{}, ErrBanned
	}

	next, err := m.newSession(owner.ID, userAgent)
	if err != nil {
		return storage.Session{}, err
	}
	if err := m.store.PutSession(ctx, next); err != nil {
		return storage.Session{}, fmt.Errorf("put session: %w", err)
	}
	m.record(EventCreated)
	return next, nil
}

// Validate resolves a session id to its owner, rejecting expired sessions,
// banned owners and sessions behind the revocation watermark.
func (m *Manager) Validate(ctx context.Context, sessionID string) (Validated, error) {
	if err := m.ready(); err != nil {
		return Validated{}, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Validated{}, ErrNotFound
	}
	current, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Validated{}, ErrNotFound
		}
		return Validated{}, fmt.Errorf("get session: %w", err)
	}
	if !m.clock().Before(current.ExpiresAt) {
		return Validated{}, ErrExpired
	}
	owner, err := m.users.FindByID(ctx, current.UserID)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeNotFound) {
			return Validated{}, ErrNotFound
		}
		return Validated{}, err
	}
	if owner.IsBanned {
		return Validated{}, ErrBanned
	}
	if owner.SessionRevoked(current.CreatedAt) {
		return Validated{}, ErrRevoked
	}
	return Validated{Session: current, User: owner}, nil
}

// Refresh replaces a valid session with a new id and a fresh expiry. The old
// id stops resolving; of two concurrent refreshes only one wins.
func (m *Manager) Refresh(ctx context.Context, sessionID string) (storage.Session, error) {
	valid, err := m.Validate(ctx, sessionID)
	if err != nil {
		return storage.Session{}, err
	}
	next, err := m.newSession(valid.User.ID, valid.Session.UserAgent)
	if err != nil {
		return storage.Session{}, err
	}
	if err := m.store.RotateSession(ctx, valid.Session.ID, next); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Session{}, ErrNotFound
		}
		return storage.Session{}, fmt.Errorf("rotate session: %w", err)
	}
	m.record(EventRefreshed)
	return next, nil
}

// Revoke deletes one session. Revoking an unknown id succeeds.
func (m *Manager) Revoke(ctx context.Context, sessionID string) error {
	if err := m.ready(); err != nil {
		return err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	m.record(EventRevoked)
	return nil
}

// RevokeAllForUser invalidates every session the user holds, including any
// being created concurrently.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID string) error {
	if err := m.ready(); err != nil {
		return err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "user id is required")
	}
	watermark := m.clock().UTC()
	if err := m.users.MarkSessionsRevoked(ctx, userID, watermark); err != nil {
		return err
	}
	// Rows left behind by a failure here are already rejected by Validate.
	if err := m.store.DeleteSessionsCreatedBefore(ctx, userID, watermark); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	m.record(EventRevokedAll)
	m.logger.InfoContext(ctx, "revoked all sessions", "user_id", userID)
	return nil
}

// List returns the user's live sessions, newest first.
func (m *Manager) List(ctx context.Context, userID string) ([]storage.Session, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	owner, err := m.users.FindByID(ctx, strings.TrimSpace(userID))
	if err != nil {
		return nil, err
	}
	sessions, err := m.store.ListSessions(ctx, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	now := m.clock()
	live := make([]storage.Session, 0, len(sessions))
	for _, s := range sessions {
		if !now.Before(s.ExpiresAt) || owner.SessionRevoked(s.CreatedAt) {
			continue
		}
		live = append(live, s)
	}
	return live, nil
}

func (m *Manager) ready() error {
	if m == nil || m.store == nil || m.users == nil {
		return fmt.Errorf("session manager is not configured")
	}
	return nil
}

func (m *Manager) newSession(userID, userAgent string) (storage.Session, error) {
	sessionID, err := m.idGenerator()
	if err != nil {
		return storage.Session{}, err
	}
	now := m.clock().UTC()
	return storage.Session{
		ID:        sessionID,
		UserID:    userID,
		UserAgent: strings.TrimSpace(userAgent),
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (m *Manager) record(event string) {
	if m.recorder != nil {
		m.recorder.Session(event)
	}
}

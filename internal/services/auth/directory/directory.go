// Package directory owns user and auth method records: lookup, creation,
// method linking, ban state and the admin maintenance surface. It never
// touches session or second-factor state.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/clyde-sh/novus/internal/platform/errors"
	"github.com/clyde-sh/novus/internal/platform/id"
	"github.com/clyde-sh/novus/internal/platform/logging"
	"github.com/clyde-sh/novus/internal/services/auth/storage"
	"github.com/clyde-sh/novus/internal/services/auth/user"
)

const (
	defaultListUsersPageSize = 20
	maxListUsersPageSize     = 100
)

var (
	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = apperrors.New(apperrors.CodeNotFound, "user not found")
	// ErrMethodNotFound is returned when the method is not linked to the user.
	ErrMethodNotFound = apperrors.New(apperrors.CodeNotFound, "auth method not found")
	// ErrEmailTaken is returned when the email is already registered.
	ErrEmailTaken = apperrors.New(apperrors.CodeConflict, "email already registered")
	// ErrMethodTaken is returned for a duplicate provider identity or a
	// second password method.
	ErrMethodTaken = apperrors.New(apperrors.CodeConflict, "auth method already linked")
	// ErrLastMethod is returned when unlinking would strand the user.
	ErrLastMethod = apperrors.New(apperrors.CodeInvalidState, "cannot unlink the last auth method")
	// ErrUnreachable is returned when a user would be created without any
	// way to authenticate.
	ErrUnreachable = apperrors.New(apperrors.CodeInvalidState, "user requires a password or an auth method")
)

// Store is the persistence the directory owns.
type Store interface {
	storage.UserStore
	storage.MethodStore
}

// Directory implements user and method CRUD.
type Directory struct {
	store       Store
	clock       func() time.Time
	idGenerator func() (string, error)
	logger      *slog.Logger
}

// New builds a directory over store.
func New(store Store, logger *slog.Logger) *Directory {
	return &Directory{
		store:       store,
		clock:       time.Now,
		idGenerator: id.NewID,
		logger:      logging.OrDiscard(logger),
	}
}

func (d *Directory) now() time.Time {
	if d.clock == nil {
		return time.Now().UTC()
	}
	return d.clock().UTC()
}

func (d *Directory) ready() error {
	if d == nil || d.store == nil {
		return fmt.Errorf("user directory is not configured")
	}
	return nil
}

// FindByEmail resolves a user by email after normalization.
func (d *Directory) FindByEmail(ctx context.Context, email string) (user.User, error) {
	if err := d.ready(); err != nil {
		return user.User{}, err
	}
	normalized := user.NormalizeEmail(email)
	if normalized == "" {
		return user.User{}, user.ErrEmptyEmail
	}
	found, err := d.store.GetUserByEmail(ctx, normalized)
	if err != nil {
		return user.User{}, mapUserErr(err, "find user by email")
	}
	return found, nil
}

// FindByID resolves a user by id.
func (d *Directory) FindByID(ctx context.Context, userID string) (user.User, error) {
	if err := d.ready(); err != nil {
		return user.User{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return user.User{}, apperrors.New(apperrors.CodeInvalidArgument, "user id is required")
	}
	found, err := d.store.GetUser(ctx, userID)
	if err != nil {
		return user.User{}, mapUserErr(err, "find user")
	}
	return found, nil
}

// CreateInput describes a new user and how it first authenticates.
type CreateInput struct {
	Email        string
	PasswordHash string
	Role         user.Role
	// Method is the initial non-password method, e.g. an OAuth identity.
	Method *user.MethodInput
}

// Create registers a user together with its first auth method.
func (d *Directory) Create(ctx context.Context, input CreateInput) (user.User, error) {
	if err := d.ready(); err != nil {
		return user.User{}, err
	}
	hasPassword := strings.TrimSpace(input.PasswordHash) != ""
	if !hasPassword && input.Method == nil {
		return user.User{}, ErrUnreachable
	}
	if hasPassword && input.Method != nil {
		return user.User{}, apperrors.New(apperrors.CodeInvalidArgument, "initial method must be a password or a provider identity, not both")
	}

	created, err := user.CreateUser(user.CreateUserInput{
		Email:        input.Email,
		PasswordHash: input.PasswordHash,
		Role:         input.Role,
	}, d.now, d.idGenerator)
	if err != nil {
		return user.User{}, err
	}

	methodInput := user.MethodInput{Method: user.MethodPassword}
	if input.Method != nil {
		if input.Method.Method == user.MethodPassword {
			return user.User{}, apperrors.New(apperrors.CodeInvalidArgument, "password method requires a password hash")
		}
		methodInput = *input.Method
	}
	method, err := user.NewMethod(created.ID, methodInput, d.now, d.idGenerator)
	if err != nil {
		return user.User{}, err
	}

	if err := d.store.CreateUserWithMethod(ctx, created, method); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Either the email or the provider identity is taken; the
			// caller re-resolves by looking both up.
			if _, lookupErr := d.store.GetUserByEmail(ctx, created.Email); lookupErr == nil {
				return user.User{}, ErrEmailTaken
			}
			return user.User{}, ErrMethodTaken
		}
		return user.User{}, fmt.Errorf("create user: %w", err)
	}

	d.logger.InfoContext(ctx, "user created", "user_id", created.ID, "method", string(method.Method), "provider", method.Provider)
	return created, nil
}

// LinkMethod binds another auth method to an existing user.
func (d *Directory) LinkMethod(ctx context.Context, userID string, input user.MethodInput) (user.AuthMethodRecord, error) {
	if err := d.ready(); err != nil {
		return user.AuthMethodRecord{}, err
	}
	owner, err := d.FindByID(ctx, userID)
	if err != nil {
		return user.AuthMethodRecord{}, err
	}
	method, err := user.NewMethod(owner.ID, input, d.now, d.idGenerator)
	if err != nil {
		return user.AuthMethodRecord{}, err
	}
	if err := d.store.PutMethod(ctx, method); err != nil {
		switch {
		case errors.Is(err, storage.ErrConflict):
			return user.AuthMethodRecord{}, ErrMethodTaken
		case errors.Is(err, storage.ErrNotFound):
			return user.AuthMethodRecord{}, ErrUserNotFound
		default:
			return user.AuthMethodRecord{}, fmt.Errorf("link method: %w", err)
		}
	}
	d.logger.InfoContext(ctx, "auth method linked", "user_id", owner.ID, "method_id", method.ID, "method", string(method.Method))
	return method, nil
}

// UnlinkMethod removes a method unless it is the user's last one.
func (d *Directory) UnlinkMethod(ctx context.Context, userID, methodID string) error {
	if err := d.ready(); err != nil {
		return err
	}
	userID = strings.TrimSpace(userID)
	methodID = strings.TrimSpace(methodID)
	if userID == "" || methodID == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "user id and method id are required")
	}
	if err := d.store.DeleteMethodIfNotLast(ctx, userID, methodID); err != nil {
		switch {
		case errors.Is(err, storage.ErrLastMethod):
			return ErrLastMethod
		case errors.Is(err, storage.ErrNotFound):
			return ErrMethodNotFound
		default:
			return fmt.Errorf("unlink method: %w", err)
		}
	}
	d.logger.InfoContext(ctx, "auth method unlinked", "user_id", userID, "method_id", methodID)
	return nil
}

// SetBanned sets or clears the ban flag. Session revocation is the
// orchestrator's concern; validation checks the flag regardless.
func (d *Directory) SetBanned(ctx context.Context, userID string, banned bool) error {
	if err := d.ready(); err != nil {
		return err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "user id is required")
	}
	if err := d.store.SetUserBanned(ctx, userID, banned, d.now()); err != nil {
		return mapUserErr(err, "set banned")
	}
	d.logger.InfoContext(ctx, "user ban state changed", "user_id", userID, "banned", banned)
	return nil
}

// MarkSessionsRevoked raises the user's revocation watermark to at. Sessions
// created at or before the watermark no longer validate.
func (d *Directory) MarkSessionsRevoked(ctx context.Context, userID string, at time.Time) error {
	if err := d.ready(); err != nil {
		return err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "user id is required")
	}
	if err := d.store.SetSessionsRevokedAt(ctx, userID, at.UTC()); err != nil {
		return mapUserErr(err, "set sessions revoked at")
	}
	return nil
}

// ListMethods returns the methods linked to a user.
func (d *Directory) ListMethods(ctx context.Context, userID string) ([]user.AuthMethodRecord, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	owner, err := d.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	methods, err := d.store.ListMethods(ctx, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("list methods: %w", err)
	}
	return methods, nil
}

// FindMethodByProvider resolves the method owning a provider identity.
func (d *Directory) FindMethodByProvider(ctx context.Context, provider, providerID string) (user.AuthMethodRecord, error) {
	if err := d.ready(); err != nil {
		return user.AuthMethodRecord{}, err
	}
	method, err := d.store.GetMethodByProvider(ctx, strings.ToLower(strings.TrimSpace(provider)), strings.TrimSpace(providerID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.AuthMethodRecord{}, ErrMethodNotFound
		}
		return user.AuthMethodRecord{}, fmt.Errorf("find method: %w", err)
	}
	return method, nil
}

// UpdateMethodSecret replaces stored method material.
func (d *Directory) UpdateMethodSecret(ctx context.Context, methodID, secret string) error {
	if err := d.ready(); err != nil {
		return err
	}
	if err := d.store.UpdateMethodSecret(ctx, strings.TrimSpace(methodID), secret, d.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrMethodNotFound
		}
		return fmt.Errorf("update method secret: %w", err)
	}
	return nil
}

// SetPassword stores a new password hash and makes sure the user has a
// password method. Both land together or not at all.
func (d *Directory) SetPassword(ctx context.Context, userID, passwordHash string) error {
	if err := d.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(passwordHash) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "password hash is required")
	}
	current, err := d.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	method, err := user.NewMethod(current.ID, user.MethodInput{Method: user.MethodPassword}, d.now, d.idGenerator)
	if err != nil {
		return err
	}
	if err := d.store.SetPasswordHash(ctx, current.ID, passwordHash, method); err != nil {
		return mapUserErr(err, "set password")
	}
	return nil
}

// UpdateInput carries optional admin edits.
type UpdateInput struct {
	Email *string
	Role  *user.Role
}

// UpdateUser applies admin edits to email and role.
func (d *Directory) UpdateUser(ctx context.Context, userID string, input UpdateInput) (user.User, error) {
	if err := d.ready(); err != nil {
		return user.User{}, err
	}
	current, err := d.FindByID(ctx, userID)
	if err != nil {
		return user.User{}, err
	}
	if input.Email != nil {
		email, err := user.ValidateEmail(*input.Email)
		if err != nil {
			return user.User{}, err
		}
		current.Email = email
	}
	if input.Role != nil {
		role, err := user.ParseRole(string(*input.Role))
		if err != nil {
			return user.User{}, err
		}
		current.Role = role
	}
	current.UpdatedAt = d.now()
	if err := d.store.UpdateUser(ctx, current); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return user.User{}, ErrEmailTaken
		}
		return user.User{}, mapUserErr(err, "update user")
	}
	return current, nil
}

// DeleteUser hard-deletes a user and everything bound to it.
func (d *Directory) DeleteUser(ctx context.Context, userID string) error {
	if err := d.ready(); err != nil {
		return err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "user id is required")
	}
	if err := d.store.DeleteUser(ctx, userID); err != nil {
		return mapUserErr(err, "delete user")
	}
	d.logger.InfoContext(ctx, "user deleted", "user_id", userID)
	return nil
}

// ListUsers returns one page of users.
func (d *Directory) ListUsers(ctx context.Context, pageSize int, pageToken string) (storage.UserPage, error) {
	if err := d.ready(); err != nil {
		return storage.UserPage{}, err
	}
	if pageSize <= 0 {
		pageSize = defaultListUsersPageSize
	}
	if pageSize > maxListUsersPageSize {
		pageSize = maxListUsersPageSize
	}
	page, err := d.store.ListUsers(ctx, pageSize, pageToken)
	if err != nil {
		return storage.UserPage{}, fmt.Errorf("list users: %w", err)
	}
	return page, nil
}

func mapUserErr(err error, op string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrUserNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/clyde-sh/novus/internal/services/auth/storage"
	"github.com/clyde-sh/novus/internal/services/auth/user"
)

const userColumns = `id, email, password_hash, role, is_banned, sessions_revoked_at, created_at, updated_at`

const (
	defaultUserPageSize = 50
	maxUserPageSize     = 200
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (user.User, error) {
	var (
		u         user.User
		role      string
		banned    int64
		revokedAt sql.NullInt64
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &banned, &revokedAt, &createdAt, &updatedAt); err != nil {
		return user.User{}, err
	}
	u.Role = user.Role(role)
	u.IsBanned = banned != 0
	u.SessionsRevokedAt = fromNullMillis(revokedAt)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}

func boolToInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}

func validateUserRecord(u user.User) error {
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(u.Email) == "" {
		return fmt.Errorf("email is required")
	}
	return nil
}

func insertUser(ctx context.Context, exec execContexter, u user.User) error {
	role := u.Role
	if role == "" {
		role = user.RoleUser
	}
	_, err := exec.ExecContext(ctx, `
INSERT INTO users (`+userColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, string(role), boolToInt(u.IsBanned),
		toNullMillis(u.SessionsRevokedAt), toMillis(u.CreatedAt), toMillis(u.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

type execContexter interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PutUser creates a user record; duplicate emails return ErrConflict.
func (s *Store) PutUser(ctx context.Context, u user.User) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if err := validateUserRecord(u); err != nil {
		return err
	}
	return insertUser(ctx, s.sqlDB, u)
}

// CreateUserWithMethod creates a user and its first auth method atomically.
func (s *Store) CreateUserWithMethod(ctx context.Context, u user.User, method user.AuthMethodRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if err := validateUserRecord(u); err != nil {
		return err
	}
	if err := validateMethodRecord(method); err != nil {
		return err
	}
	if method.UserID != u.ID {
		return fmt.Errorf("method user id does not match user")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create user: %w", err)
	}
	defer rollback(tx)

	if err := insertUser(ctx, tx, u); err != nil {
		return err
	}
	if err := insertMethod(ctx, tx, method); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create user: %w", err)
	}
	return nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, userID string) (user.User, error) {
	if err := s.ready(ctx); err != nil {
		return user.User{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return user.User{}, fmt.Errorf("user id is required")
	}

	u, err := scanUser(s.sqlDB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, storage.ErrNotFound
		}
		return user.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUserByEmail fetches a user by normalized email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	if err := s.ready(ctx); err != nil {
		return user.User{}, err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return user.User{}, fmt.Errorf("email is required")
	}

	u, err := scanUser(s.sqlDB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, storage.ErrNotFound
		}
		return user.User{}, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// UpdateUser rewrites email, password hash and role.
func (s *Store) UpdateUser(ctx context.Context, u user.User) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if err := validateUserRecord(u); err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE users SET email = ?, password_hash = ?, role = ?, updated_at = ?
WHERE id = ?`,
		u.Email, u.PasswordHash, string(u.Role), toMillis(u.UpdatedAt), u.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("update user: %w", err)
	}
	return requireAffected(res, "update user")
}

// SetPasswordHash replaces the password hash and links the password method if
// the user has none yet.
func (s *Store) SetPasswordHash(ctx context.Context, userID, passwordHash string, method user.AuthMethodRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	if err := validateMethodRecord(method); err != nil {
		return err
	}
	if method.UserID != userID || method.Method != user.MethodPassword {
		return fmt.Errorf("method must be the user's password method")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set password: %w", err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, toMillis(method.UpdatedAt), userID,
	)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	if err := requireAffected(res, "set password"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO auth_methods (`+methodColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`,
		method.ID, method.UserID, string(method.Method), method.Provider, method.ProviderID, method.Secret,
		toMillis(method.CreatedAt), toMillis(method.UpdatedAt),
	); err != nil {
		return fmt.Errorf("link password method: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set password: %w", err)
	}
	return nil
}

// SetUserBanned flips the ban flag.
func (s *Store) SetUserBanned(ctx context.Context, userID string, banned bool, updatedAt time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE users SET is_banned = ?, updated_at = ? WHERE id = ?`,
		boolToInt(banned), toMillis(updatedAt), userID,
	)
	if err != nil {
		return fmt.Errorf("set user banned: %w", err)
	}
	return requireAffected(res, "set user banned")
}

// SetSessionsRevokedAt raises the revocation watermark. An older watermark
// never replaces a newer one.
func (s *Store) SetSessionsRevokedAt(ctx context.Context, userID string, watermark time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	value := toMillis(watermark)
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE users
SET sessions_revoked_at = MAX(COALESCE(sessions_revoked_at, 0), ?1), updated_at = ?1
WHERE id = ?2`,
		value, userID,
	)
	if err != nil {
		return fmt.Errorf("set sessions revoked at: %w", err)
	}
	return requireAffected(res, "set sessions revoked at")
}

// DeleteUser hard-deletes a user; methods, tokens and sessions cascade.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireAffected(res, "delete user")
}

// ListUsers returns a page of users ordered by creation, then id. The page
// token is the offset of the next page.
func (s *Store) ListUsers(ctx context.Context, pageSize int, pageToken string) (storage.UserPage, error) {
	if err := s.ready(ctx); err != nil {
		return storage.UserPage{}, err
	}
	if pageSize <= 0 {
		pageSize = defaultUserPageSize
	}
	if pageSize > maxUserPageSize {
		pageSize = maxUserPageSize
	}
	offset := 0
	if token := strings.TrimSpace(pageToken); token != "" {
		parsed, err := strconv.Atoi(token)
		if err != nil || parsed < 0 {
			return storage.UserPage{}, storage.ErrInvalidPageToken
		}
		offset = parsed
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at, id LIMIT ? OFFSET ?`,
		pageSize+1, offset,
	)
	if err != nil {
		return storage.UserPage{}, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	page := storage.UserPage{Users: make([]user.User, 0, pageSize)}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return storage.UserPage{}, fmt.Errorf("scan user: %w", err)
		}
		page.Users = append(page.Users, u)
	}
	if err := rows.Err(); err != nil {
		return storage.UserPage{}, fmt.Errorf("list users: %w", err)
	}
	if len(page.Users) > pageSize {
		page.Users = page.Users[:pageSize]
		page.NextPageToken = strconv.Itoa(offset + pageSize)
	}
	return page, nil
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

var _ storage.UserStore = (*Store)(nil)

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clyde-sh/novus/internal/services/auth/storage"
	"github.com/clyde-sh/novus/internal/services/auth/user"
)

const methodColumns = `id, user_id, method, provider, provider_id, secret, created_at, updated_at`

func scanMethod(row rowScanner) (user.AuthMethodRecord, error) {
	var (
		m         user.AuthMethodRecord
		kind      string
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&m.ID, &m.UserID, &kind, &m.Provider, &m.ProviderID, &m.Secret, &createdAt, &updatedAt); err != nil {
		return user.AuthMethodRecord{}, err
	}
	m.Method = user.MethodKind(kind)
	m.CreatedAt = fromMillis(createdAt)
	m.UpdatedAt = fromMillis(updatedAt)
	return m, nil
}

func validateMethodRecord(m user.AuthMethodRecord) error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("method id is required")
	}
	if strings.TrimSpace(m.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if _, err := user.ParseMethodKind(string(m.Method)); err != nil {
		return err
	}
	if m.Method != user.MethodPassword && (m.Provider == "" || m.ProviderID == "") {
		return fmt.Errorf("provider and provider id are required")
	}
	return nil
}

func insertMethod(ctx context.Context, exec execContexter, m user.AuthMethodRecord) error {
	_, err := exec.ExecContext(ctx, `
INSERT INTO auth_methods (`+methodColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, string(m.Method), m.Provider, m.ProviderID, m.Secret,
		toMillis(m.CreatedAt), toMillis(m.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		if isForeignKeyViolation(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("put method: %w", err)
	}
	return nil
}

// PutMethod links a method. A taken (provider, provider id) pair or a second
// password method returns ErrConflict; an unknown user returns ErrNotFound.
func (s *Store) PutMethod(ctx context.Context, method user.AuthMethodRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if err := validateMethodRecord(method); err != nil {
		return err
	}
	return insertMethod(ctx, s.sqlDB, method)
}

// GetMethod fetches a method by id.
func (s *Store) GetMethod(ctx context.Context, methodID string) (user.AuthMethodRecord, error) {
	if err := s.ready(ctx); err != nil {
		return user.AuthMethodRecord{}, err
	}
	if strings.TrimSpace(methodID) == "" {
		return user.AuthMethodRecord{}, fmt.Errorf("method id is required")
	}
	m, err := scanMethod(s.sqlDB.QueryRowContext(ctx, `SELECT `+methodColumns+` FROM auth_methods WHERE id = ?`, methodID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.AuthMethodRecord{}, storage.ErrNotFound
		}
		return user.AuthMethodRecord{}, fmt.Errorf("get method: %w", err)
	}
	return m, nil
}

// GetMethodByProvider fetches the method owning (provider, providerID).
func (s *Store) GetMethodByProvider(ctx context.Context, provider, providerID string) (user.AuthMethodRecord, error) {
	if err := s.ready(ctx); err != nil {
		return user.AuthMethodRecord{}, err
	}
	if strings.TrimSpace(provider) == "" || strings.TrimSpace(providerID) == "" {
		return user.AuthMethodRecord{}, fmt.Errorf("provider and provider id are required")
	}
	m, err := scanMethod(s.sqlDB.QueryRowContext(ctx, `
SELECT `+methodColumns+` FROM auth_methods
WHERE provider = ? AND provider_id = ? AND method <> 'password'`,
		provider, providerID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.AuthMethodRecord{}, storage.ErrNotFound
		}
		return user.AuthMethodRecord{}, fmt.Errorf("get method by provider: %w", err)
	}
	return m, nil
}

// ListMethods returns a user's methods ordered by creation.
func (s *Store) ListMethods(ctx context.Context, userID string) ([]user.AuthMethodRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+methodColumns+` FROM auth_methods WHERE user_id = ? ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list methods: %w", err)
	}
	defer rows.Close()

	var methods []user.AuthMethodRecord
	for rows.Next() {
		m, err := scanMethod(rows)
		if err != nil {
			return nil, fmt.Errorf("scan method: %w", err)
		}
		methods = append(methods, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list methods: %w", err)
	}
	return methods, nil
}

// UpdateMethodSecret replaces method material, e.g. a passkey sign counter.
func (s *Store) UpdateMethodSecret(ctx context.Context, methodID, secret string, updatedAt time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(methodID) == "" {
		return fmt.Errorf("method id is required")
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE auth_methods SET secret = ?, updated_at = ? WHERE id = ?`,
		secret, toMillis(updatedAt), methodID,
	)
	if err != nil {
		return fmt.Errorf("update method secret: %w", err)
	}
	return requireAffected(res, "update method secret")
}

// DeleteMethodIfNotLast removes a method unless it is the user's only one.
// Removing the password method also clears the stored hash.
func (s *Store) DeleteMethodIfNotLast(ctx context.Context, userID, methodID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(methodID) == "" {
		return fmt.Errorf("method id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete method: %w", err)
	}
	defer rollback(tx)

	var kind string
	err = tx.QueryRowContext(ctx,
		`SELECT method FROM auth_methods WHERE id = ? AND user_id = ?`,
		methodID, userID,
	).Scan(&kind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("get method: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
DELETE FROM auth_methods
WHERE id = ?1 AND user_id = ?2
  AND (SELECT COUNT(*) FROM auth_methods WHERE user_id = ?2) > 1`,
		methodID, userID,
	)
	if err != nil {
		return fmt.Errorf("delete method: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete method: %w", err)
	}
	if n == 0 {
		return storage.ErrLastMethod
	}

	if user.MethodKind(kind) == user.MethodPassword {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET password_hash = '' WHERE id = ?`, userID); err != nil {
			return fmt.Errorf("clear password hash: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete method: %w", err)
	}
	return nil
}

var _ storage.MethodStore = (*Store)(nil)

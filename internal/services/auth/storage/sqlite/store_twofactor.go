package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clyde-sh/novus/internal/services/auth/storage"
)

// IssueTwoFactorToken supersedes outstanding tokens for the same user and
// method, then inserts token.
func (s *Store) IssueTwoFactorToken(ctx context.Context, token storage.TwoFactorToken) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(token.ID) == "" {
		return fmt.Errorf("token id is required")
	}
	if strings.TrimSpace(token.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(token.Method) == "" {
		return fmt.Errorf("method is required")
	}
	if token.Value == "" {
		return fmt.Errorf("token value is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin issue token: %w", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx,
		`UPDATE two_factor_tokens SET used = 1 WHERE user_id = ? AND method = ? AND used = 0`,
		token.UserID, token.Method,
	); err != nil {
		return fmt.Errorf("supersede tokens: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO two_factor_tokens (id, user_id, method, value, expires_at, used, created_at)
VALUES (?, ?, ?, ?, ?, 0, ?)`,
		token.ID, token.UserID, token.Method, token.Value,
		toMillis(token.ExpiresAt), toMillis(token.CreatedAt),
	); err != nil {
		if isForeignKeyViolation(err) {
			return storage.ErrNotFound
		}
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("insert token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit issue token: %w", err)
	}
	return nil
}

// GetActiveTwoFactorToken returns the newest unused token, expired or not.
func (s *Store) GetActiveTwoFactorToken(ctx context.Context, userID, method string) (storage.TwoFactorToken, error) {
	if err := s.ready(ctx); err != nil {
		return storage.TwoFactorToken{}, err
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(method) == "" {
		return storage.TwoFactorToken{}, fmt.Errorf("user id and method are required")
	}

	var (
		token     storage.TwoFactorToken
		used      int64
		expiresAt int64
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT id, user_id, method, value, expires_at, used, attempts, created_at
FROM two_factor_tokens
WHERE user_id = ? AND method = ? AND used = 0
ORDER BY created_at DESC, id DESC
LIMIT 1`,
		userID, method,
	).Scan(&token.ID, &token.UserID, &token.Method, &token.Value, &expiresAt, &used, &token.Attempts, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.TwoFactorToken{}, storage.ErrNotFound
		}
		return storage.TwoFactorToken{}, fmt.Errorf("get token: %w", err)
	}
	token.Used = used != 0
	token.ExpiresAt = fromMillis(expiresAt)
	token.CreatedAt = fromMillis(createdAt)
	return token, nil
}

// ConsumeTwoFactorToken marks an unused token used exactly once.
func (s *Store) ConsumeTwoFactorToken(ctx context.Context, tokenID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(tokenID) == "" {
		return fmt.Errorf("token id is required")
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE two_factor_tokens SET used = 1 WHERE id = ? AND used = 0`,
		tokenID,
	)
	if err != nil {
		return fmt.Errorf("consume token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume token: %w", err)
	}
	if n == 0 {
		return storage.ErrStale
	}
	return nil
}

// RecordTwoFactorFailure bumps the attempt count of an unused token and
// burns it at maxAttempts. A non-positive maxAttempts burns on the first miss.
func (s *Store) RecordTwoFactorFailure(ctx context.Context, tokenID string, maxAttempts int) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(tokenID) == "" {
		return fmt.Errorf("token id is required")
	}
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE two_factor_tokens
SET attempts = attempts + 1,
    used = CASE WHEN attempts + 1 >= ? THEN 1 ELSE 0 END
WHERE id = ? AND used = 0`,
		maxAttempts, tokenID,
	)
	if err != nil {
		return fmt.Errorf("record token failure: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record token failure: %w", err)
	}
	if n == 0 {
		return storage.ErrStale
	}
	return nil
}

const enrollmentColumns = `user_id, method, secret, destination, confirmed_at, last_counter, created_at, updated_at`

func scanEnrollment(row rowScanner) (storage.TwoFactorEnrollment, error) {
	var (
		e           storage.TwoFactorEnrollment
		confirmedAt sql.NullInt64
		createdAt   int64
		updatedAt   int64
	)
	if err := row.Scan(&e.UserID, &e.Method, &e.Secret, &e.Destination, &confirmedAt, &e.LastCounter, &createdAt, &updatedAt); err != nil {
		return storage.TwoFactorEnrollment{}, err
	}
	e.ConfirmedAt = fromNullMillis(confirmedAt)
	e.CreatedAt = fromMillis(createdAt)
	e.UpdatedAt = fromMillis(updatedAt)
	return e, nil
}

// PutTwoFactorEnrollment creates or replaces an enrollment.
func (s *Store) PutTwoFactorEnrollment(ctx context.Context, enrollment storage.TwoFactorEnrollment) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(enrollment.UserID) == "" || strings.TrimSpace(enrollment.Method) == "" {
		return fmt.Errorf("user id and method are required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO two_factor_enrollments (`+enrollmentColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, method) DO UPDATE SET
    secret = excluded.secret,
    destination = excluded.destination,
    confirmed_at = excluded.confirmed_at,
    last_counter = excluded.last_counter,
    updated_at = excluded.updated_at`,
		enrollment.UserID, enrollment.Method, enrollment.Secret, enrollment.Destination,
		toNullMillis(enrollment.ConfirmedAt), enrollment.LastCounter,
		toMillis(enrollment.CreatedAt), toMillis(enrollment.UpdatedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("put enrollment: %w", err)
	}
	return nil
}

// GetTwoFactorEnrollment fetches one enrollment.
func (s *Store) GetTwoFactorEnrollment(ctx context.Context, userID, method string) (storage.TwoFactorEnrollment, error) {
	if err := s.ready(ctx); err != nil {
		return storage.TwoFactorEnrollment{}, err
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(method) == "" {
		return storage.TwoFactorEnrollment{}, fmt.Errorf("user id and method are required")
	}
	e, err := scanEnrollment(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+enrollmentColumns+` FROM two_factor_enrollments WHERE user_id = ? AND method = ?`,
		userID, method,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.TwoFactorEnrollment{}, storage.ErrNotFound
		}
		return storage.TwoFactorEnrollment{}, fmt.Errorf("get enrollment: %w", err)
	}
	return e, nil
}

// ListTwoFactorEnrollments returns every enrollment for a user.
func (s *Store) ListTwoFactorEnrollments(ctx context.Context, userID string) ([]storage.TwoFactorEnrollment, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+enrollmentColumns+` FROM two_factor_enrollments WHERE user_id = ? ORDER BY method`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []storage.TwoFactorEnrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		enrollments = append(enrollments, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	return enrollments, nil
}

// ConfirmTwoFactorEnrollment stamps the confirmation time.
func (s *Store) ConfirmTwoFactorEnrollment(ctx context.Context, userID, method string, confirmedAt time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(method) == "" {
		return fmt.Errorf("user id and method are required")
	}
	at := toMillis(confirmedAt)
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE two_factor_enrollments SET confirmed_at = ?, updated_at = ? WHERE user_id = ? AND method = ?`,
		at, at, userID, method,
	)
	if err != nil {
		return fmt.Errorf("confirm enrollment: %w", err)
	}
	return requireAffected(res, "confirm enrollment")
}

// AdvanceTwoFactorCounter records counter as the last accepted TOTP step.
func (s *Store) AdvanceTwoFactorCounter(ctx context.Context, userID, method string, counter int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(method) == "" {
		return fmt.Errorf("user id and method are required")
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE two_factor_enrollments SET last_counter = ? WHERE user_id = ? AND method = ? AND last_counter < ?`,
		counter, userID, method, counter,
	)
	if err != nil {
		return fmt.Errorf("advance counter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance counter: %w", err)
	}
	if n == 0 {
		return storage.ErrStale
	}
	return nil
}

// DeleteTwoFactorEnrollment removes an enrollment; missing rows are ignored.
func (s *Store) DeleteTwoFactorEnrollment(ctx context.Context, userID, method string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(method) == "" {
		return fmt.Errorf("user id and method are required")
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM two_factor_enrollments WHERE user_id = ? AND method = ?`,
		userID, method,
	); err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	return nil
}

var _ storage.TwoFactorStore = (*Store)(nil)

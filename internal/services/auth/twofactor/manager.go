package twofactor

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/clyde-sh/novus/internal/platform/errors"
	"github.com/clyde-sh/novus/internal/platform/id"
	"github.com/clyde-sh/novus/internal/platform/logging"
	"github.com/clyde-sh/novus/internal/services/auth/storage"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var (
	// ErrNotEnrolled indicates the user has no confirmed enrollment for the method.
	ErrNotEnrolled = apperrors.New(apperrors.CodeInvalidState, "second factor is not enrolled")
	// ErrAlreadyEnrolled indicates a confirmed enrollment already exists.
	ErrAlreadyEnrolled = apperrors.New(apperrors.CodeConflict, "second factor is already enrolled")
	// ErrInvalidToken covers a wrong, consumed, superseded or missing code.
	ErrInvalidToken = apperrors.New(apperrors.CodeInvalidToken, "second factor code is invalid")
	// ErrExpired indicates the outstanding code is past its expiry.
	ErrExpired = apperrors.New(apperrors.CodeExpired, "second factor code expired")
)

type dispatcher interface {
	Dispatch(delivery Delivery) error
}

// Challenge is an issued, not yet verified second-factor token.
type Challenge struct {
	Method Method
	// Value is the code itself for email and SMS, and an opaque challenge
	// reference for the authenticator. It must never be echoed to the
	// client for delivered methods.
	Value     string
	ExpiresAt time.Time
}

// Manager runs the per-(user, method) challenge state machine.
type Manager struct {
	store       storage.TwoFactorStore
	dispatcher  dispatcher
	cfg         Config
	clock       func() time.Time
	idGenerator func() (string, error)
	logger      *slog.Logger
}

// NewManager builds a manager. dispatcher may be nil when only the
// authenticator method is in use.
func NewManager(store storage.TwoFactorStore, dispatcher dispatcher, cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		store:       store,
		dispatcher:  dispatcher,
		cfg:         cfg.withDefaults(),
		clock:       time.Now,
		idGenerator: id.NewID,
		logger:      logging.OrDiscard(logger),
	}
}

// Initiate issues a fresh challenge for an enrolled method, superseding any
// outstanding one. Email and SMS codes are dispatched after the token is
// stored and the call does not wait for delivery.
func (m *Manager) Initiate(ctx context.Context, userID string, method Method) (Challenge, error) {
	if err := m.ready(); err != nil {
		return Challenge{}, err
	}
	enrollment, err := m.confirmedEnrollment(ctx, userID, method)
	if err != nil {
		return Challenge{}, err
	}
	return m.issue(ctx, enrollment)
}

// Verify consumes the outstanding challenge when candidate matches it.
func (m *Manager) Verify(ctx context.Context, userID string, method Method, candidate string) error {
	if err := m.ready(); err != nil {
		return err
	}
	enrollment, err := m.confirmedEnrollment(ctx, userID, method)
	if err != nil {
		if errors.Is(err, ErrNotEnrolled) {
			return ErrInvalidToken
		}
		return err
	}
	return m.verify(ctx, enrollment, candidate)
}

// EnrollInput describes a second factor to set up.
type EnrollInput struct {
	UserID string
	// AccountName labels the authenticator entry, usually the email.
	AccountName string
	Method      Method
	// Destination is the address or phone number for delivered methods.
	Destination string
}

// Enrollment is the pending setup returned to the user.
type Enrollment struct {
	Method      Method
	Destination string
	// Secret and URL are set for the authenticator only.
	Secret    string
	URL       string
	Challenge Challenge
}

// Enroll creates or replaces an unconfirmed enrollment and issues the
// challenge that ConfirmEnrollment expects.
func (m *Manager) Enroll(ctx context.Context, input EnrollInput) (Enrollment, error) {
	if err := m.ready(); err != nil {
		return Enrollment{}, err
	}
	method, err := ParseMethod(string(input.Method))
	if err != nil {
		return Enrollment{}, err
	}
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return Enrollment{}, apperrors.New(apperrors.CodeInvalidArgument, "user id is required")
	}

	existing, err := m.store.GetTwoFactorEnrollment(ctx, userID, string(method))
	switch {
	case err == nil && existing.ConfirmedAt != nil:
		return Enrollment{}, ErrAlreadyEnrolled
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return Enrollment{}, fmt.Errorf("get enrollment: %w", err)
	}

	now := m.clock().UTC()
	record := storage.TwoFactorEnrollment{
		UserID:    userID,
		Method:    string(method),
		CreatedAt: now,
		UpdatedAt: now,
	}
	result := Enrollment{Method: method}

	if method.delivered() {
		destination := strings.TrimSpace(input.Destination)
		if destination == "" {
			return Enrollment{}, apperrors.New(apperrors.CodeInvalidArgument, "destination is required")
		}
		record.Destination = destination
		result.Destination = destination
	} else {
		accountName := strings.TrimSpace(input.AccountName)
		if accountName == "" {
			accountName = userID
		}
		key, err := totp.Generate(totp.GenerateOpts{
			Issuer:      m.cfg.Issuer,
			AccountName: accountName,
			Period:      m.cfg.Period,
			Digits:      otp.Digits(m.cfg.Digits),
			Algorithm:   otp.AlgorithmSHA1,
		})
		if err != nil {
			return Enrollment{}, fmt.Errorf("generate totp key: %w", err)
		}
		record.Secret = key.Secret()
		result.Secret = key.Secret()
		result.URL = key.URL()
	}

	if err := m.store.PutTwoFactorEnrollment(ctx, record); err != nil {
		return Enrollment{}, fmt.Errorf("put enrollment: %w", err)
	}
	challenge, err := m.issue(ctx, record)
	if err != nil {
		return Enrollment{}, err
	}
	result.Challenge = challenge
	return result, nil
}

// ConfirmEnrollment activates an enrollment once the user proves they
// received (or can generate) a code.
func (m *Manager) ConfirmEnrollment(ctx context.Context, userID string, method Method, code string) error {
	if err := m.ready(); err != nil {
		return err
	}
	method, err := ParseMethod(string(method))
	if err != nil {
		return err
	}
	enrollment, err := m.store.GetTwoFactorEnrollment(ctx, strings.TrimSpace(userID), string(method))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotEnrolled
		}
		return fmt.Errorf("get enrollment: %w", err)
	}
	if enrollment.ConfirmedAt != nil {
		return ErrAlreadyEnrolled
	}
	if err := m.verify(ctx, enrollment, code); err != nil {
		return err
	}
	if err := m.store.ConfirmTwoFactorEnrollment(ctx, enrollment.UserID, enrollment.Method, m.clock().UTC()); err != nil {
		return fmt.Errorf("confirm enrollment: %w", err)
	}
	return nil
}

// EnrolledMethods lists the confirmed second factors of a user.
func (m *Manager) EnrolledMethods(ctx context.Context, userID string) ([]Method, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	enrollments, err := m.store.ListTwoFactorEnrollments(ctx, strings.TrimSpace(userID))
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	methods := make([]Method, 0, len(enrollments))
	for _, enrollment := range enrollments {
		if enrollment.ConfirmedAt == nil {
			continue
		}
		method, err := ParseMethod(enrollment.Method)
		if err != nil {
			m.logger.Warn("skipping unknown second factor", "user_id", enrollment.UserID, "method", enrollment.Method)
			continue
		}
		methods = append(methods, method)
	}
	return methods, nil
}

// Disenroll removes a second factor.
func (m *Manager) Disenroll(ctx context.Context, userID string, method Method) error {
	if err := m.ready(); err != nil {
		return err
	}
	method, err := ParseMethod(string(method))
	if err != nil {
		return err
	}
	if err := m.store.DeleteTwoFactorEnrollment(ctx, strings.TrimSpace(userID), string(method)); err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	return nil
}

func (m *Manager) ready() error {
	if m == nil || m.store == nil {
		return fmt.Errorf("two-factor manager is not configured")
	}
	return nil
}

func (m *Manager) confirmedEnrollment(ctx context.Context, userID string, method Method) (storage.TwoFactorEnrollment, error) {
	method, err := ParseMethod(string(method))
	if err != nil {
		return storage.TwoFactorEnrollment{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return storage.TwoFactorEnrollment{}, apperrors.New(apperrors.CodeInvalidArgument, "user id is required")
	}
	enrollment, err := m.store.GetTwoFactorEnrollment(ctx, userID, string(method))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.TwoFactorEnrollment{}, ErrNotEnrolled
		}
		return storage.TwoFactorEnrollment{}, fmt.Errorf("get enrollment: %w", err)
	}
	if enrollment.ConfirmedAt == nil {
		return storage.TwoFactorEnrollment{}, ErrNotEnrolled
	}
	return enrollment, nil
}

func (m *Manager) issue(ctx context.Context, enrollment storage.TwoFactorEnrollment) (Challenge, error) {
	method := Method(enrollment.Method)
	var (
		value string
		err   error
	)
	if method.delivered() {
		value, err = numericCode(m.cfg.Digits)
	} else {
		value, err = secureCode()
	}
	if err != nil {
		return Challenge{}, err
	}
	tokenID, err := m.idGenerator()
	if err != nil {
		return Challenge{}, fmt.Errorf("generate token id: %w", err)
	}

	now := m.clock().UTC()
	token := storage.TwoFactorToken{
		ID:        tokenID,
		UserID:    enrollment.UserID,
		Method:    enrollment.Method,
		Value:     value,
		ExpiresAt: now.Add(m.cfg.TokenTTL),
		CreatedAt: now,
	}
	if err := m.store.IssueTwoFactorToken(ctx, token); err != nil {
		return Challenge{}, fmt.Errorf("issue token: %w", err)
	}

	if method.delivered() && m.dispatcher != nil {
		err := m.dispatcher.Dispatch(Delivery{
			UserID:      enrollment.UserID,
			Method:      method,
			Destination: enrollment.Destination,
			Code:        value,
			ExpiresAt:   token.ExpiresAt,
		})
		if err != nil {
			return Challenge{}, fmt.Errorf("dispatch code: %w", err)
		}
	}
	return Challenge{Method: method, Value: value, ExpiresAt: token.ExpiresAt}, nil
}

func (m *Manager) verify(ctx context.Context, enrollment storage.TwoFactorEnrollment, candidate string) error {
	token, err := m.store.GetActiveTwoFactorToken(ctx, enrollment.UserID, enrollment.Method)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("get token: %w", err)
	}
	now := m.clock()
	if !now.Before(token.ExpiresAt) {
		return ErrExpired
	}

	candidate = strings.TrimSpace(candidate)
	if Method(enrollment.Method).delivered() {
		if subtle.ConstantTimeCompare([]byte(token.Value), []byte(candidate)) != 1 {
			return m.rejectAttempt(ctx, token)
		}
	} else {
		step, ok := m.matchTOTP(enrollment.Secret, candidate, now)
		if !ok {
			return m.rejectAttempt(ctx, token)
		}
		// A step is accepted once per enrollment, so a code seen on the
		// wire cannot be replayed within its window.
		if err := m.store.AdvanceTwoFactorCounter(ctx, enrollment.UserID, enrollment.Method, step); err != nil {
			if errors.Is(err, storage.ErrStale) {
				return ErrInvalidToken
			}
			return fmt.Errorf("advance counter: %w", err)
		}
	}

	if err := m.store.ConsumeTwoFactorToken(ctx, token.ID); err != nil {
		if errors.Is(err, storage.ErrStale) {
			return ErrInvalidToken
		}
		return fmt.Errorf("consume token: %w", err)
	}
	return nil
}

// rejectAttempt counts a wrong code against token. The token stops being
// usable after cfg.MaxAttempts misses.
func (m *Manager) rejectAttempt(ctx context.Context, token storage.TwoFactorToken) error {
	err := m.store.RecordTwoFactorFailure(ctx, token.ID, m.cfg.MaxAttempts)
	if err != nil && !errors.Is(err, storage.ErrStale) {
		return fmt.Errorf("record failure: %w", err)
	}
	if token.Attempts+1 >= m.cfg.MaxAttempts {
		m.logger.Warn("second factor token burned after repeated misses",
			"user_id", token.UserID,
			"method", token.Method,
			"attempts", token.Attempts+1,
		)
	}
	return ErrInvalidToken
}

// matchTOTP returns the time step candidate was generated for, allowing one
// step of clock drift either way.
func (m *Manager) matchTOTP(secret, candidate string, now time.Time) (int64, bool) {
	if secret == "" || len(candidate) != m.cfg.Digits {
		return 0, false
	}
	period := int64(m.cfg.Period)
	current := now.Unix() / period
	opts := totp.ValidateOpts{
		Period:    m.cfg.Period,
		Digits:    otp.Digits(m.cfg.Digits),
		Algorithm: otp.AlgorithmSHA1,
	}
	for _, step := range []int64{current - 1, current, current + 1} {
		code, err := totp.GenerateCodeCustom(secret, time.Unix(step*period, 0).UTC(), opts)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(code), []byte(candidate)) == 1 {
			return step, true
		}
	}
	return 0, false
}

package orchestrator

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/clyde-sh/novus/internal/platform/errors"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ticketIssuer   = "novus-auth"
	ticketAudience = "second-factor"
)

var (
	// ErrInvalidTicket covers malformed, forged or misaddressed tickets.
	ErrInvalidTicket = apperrors.New(apperrors.CodeInvalidToken, "login ticket is invalid")
	// ErrTicketExpired is returned once the ticket window has passed.
	ErrTicketExpired = apperrors.New(apperrors.CodeExpired, "login ticket expired")
)

// Ticket records a completed primary proof awaiting its second factor.
type Ticket struct {
	UserID    string
	Primary   string
	ExpiresAt time.Time
}

type ticketClaims struct {
	AMR []string `json:"amr"`
	jwt.RegisteredClaims
}

// Tickets signs and checks pending-login tickets with HMAC-SHA256.
type Tickets struct {
	key   []byte
	ttl   time.Duration
	clock func() time.Time
}

// NewTickets builds a ticket signer. An empty secret gets a random key.
func NewTickets(secret string, ttl time.Duration) (*Tickets, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate ticket key: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = defaultTicketTTL
	}
	return &Tickets{key: key, ttl: ttl, clock: time.Now}, nil
}

// Issue signs a ticket for userID after the primary method succeeded.
func (t *Tickets) Issue(userID, primary string) (string, time.Time, error) {
	now := t.clock().UTC()
	expiresAt := now.Add(t.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, ticketClaims{
		AMR: []string{primary},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ticketIssuer,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{ticketAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(t.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign ticket: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse checks the signature, issuer, audience and expiry of raw.
func (t *Tickets) Parse(raw string) (Ticket, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Ticket{}, ErrInvalidTicket
	}
	claims := &ticketClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(ticketIssuer),
		jwt.WithAudience(ticketAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Ticket{}, ErrTicketExpired
		}
		return Ticket{}, ErrInvalidTicket
	}
	if claims.Subject == "" || len(claims.AMR) == 0 {
		return Ticket{}, ErrInvalidTicket
	}
	return Ticket{UserID: claims.Subject, Primary: claims.AMR[0], ExpiresAt: claims.ExpiresAt.Time}, nil
}

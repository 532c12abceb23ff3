package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/clyde-sh/novus/internal/platform/config"
	"github.com/clyde-sh/novus/internal/platform/logging"
	"github.com/clyde-sh/novus/internal/platform/ratelimit"
	"github.com/clyde-sh/novus/internal/services/auth/directory"
	"github.com/clyde-sh/novus/internal/services/auth/orchestrator"
	"github.com/clyde-sh/novus/internal/services/auth/passkey"
	"github.com/clyde-sh/novus/internal/services/auth/session"
	"github.com/clyde-sh/novus/internal/services/auth/storage"
	"github.com/clyde-sh/novus/internal/services/auth/twofactor"
	"github.com/clyde-sh/novus/internal/services/auth/user"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Config holds HTTP surface settings.
type Config struct {
	Prefix        string `env:"NOVUS_AUTH_API_PREFIX"    envDefault:"/api/v1"`
	SecureCookies bool   `env:"NOVUS_AUTH_COOKIE_SECURE" envDefault:"true"`
	// TrustedProxies lists the IPs or CIDRs whose X-Forwarded-For and
	// X-Real-IP headers name the client. Other peers are keyed by their
	// own address.
	TrustedProxies []string `env:"NOVUS_AUTH_TRUSTED_PROXIES" envSeparator:","`
	RateLimit      ratelimit.Config
}

// DefaultConfig mirrors the env defaults.
func DefaultConfig() Config {
	return Config{
		Prefix:        "/api/v1",
		SecureCookies: true,
		RateLimit:     ratelimit.DefaultConfig(),
	}
}

// LoadConfigFromEnv loads HTTP settings. A malformed value is an error
// rather than a silent fallback, since these settings guard cookies and
// request limits.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if _, err := parseTrustedProxies(cfg.TrustedProxies); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Auth runs the login flows and account-wide actions.
type Auth interface {
	Register(ctx context.Context, email, password string) (user.User, error)
	LoginPassword(ctx context.Context, email, password, userAgent string) (orchestrator.Result, error)
	StartOAuth(ctx context.Context, provider, redirectURI string) (string, error)
	CompleteOAuth(ctx context.Context, provider, state, code, userAgent string) (orchestrator.OAuthResult, error)
	BeginWebAuthn(ctx context.Context) (passkey.Challenge, error)
	CompleteWebAuthn(ctx context.Context, sessionID string, response []byte, userAgent string) (storage.Session, error)
	BeginPasskeyRegistration(ctx context.Context, userID string) (passkey.Challenge, error)
	FinishPasskeyRegistration(ctx context.Context, userID, sessionID string, response []byte) (user.AuthMethodRecord, error)
	InitiateSecondFactor(ctx context.Context, ticket string, method twofactor.Method) (orchestrator.SecondFactorChallenge, error)
	CompleteSecondFactor(ctx context.Context, ticket string, method twofactor.Method, code, userAgent string) (storage.Session, error)
	Logout(ctx context.Context, sessionID string) error
	ChangePassword(ctx context.Context, userID, current, next string) error
	BanUser(ctx context.Context, userID string, banned bool) error
	EnrollSecondFactor(ctx context.Context, userID string, method twofactor.Method, destination string) (twofactor.Enrollment, error)
	ConfirmSecondFactor(ctx context.Context, userID string, method twofactor.Method, code string) error
	RemoveSecondFactor(ctx context.Context, userID string, method twofactor.Method) error
	SecondFactors(ctx context.Context, userID string) ([]twofactor.Method, error)
}

// Sessions resolves and rotates bearer sessions.
type Sessions interface {
	Validate(ctx context.Context, sessionID string) (session.Validated, error)
	Refresh(ctx context.Context, sessionID string) (storage.Session, error)
	Revoke(ctx context.Context, sessionID string) error
	RevokeAllForUser(ctx context.Context, userID string) error
	List(ctx context.Context, userID string) ([]storage.Session, error)
}

// Users reads and edits directory records.
type Users interface {
	FindByID(ctx context.Context, userID string) (user.User, error)
	UpdateUser(ctx context.Context, userID string, input directory.UpdateInput) (user.User, error)
	DeleteUser(ctx context.Context, userID string) error
	ListUsers(ctx context.Context, pageSize int, pageToken string) (storage.UserPage, error)
	ListMethods(ctx context.Context, userID string) ([]user.AuthMethodRecord, error)
}

// Deps wires the HTTP server. Metrics may be nil.
type Deps struct {
	Auth     Auth
	Sessions Sessions
	Users    Users
	Metrics  http.Handler
	Logger   *slog.Logger
}

// Server is the HTTP handler for the auth authority.
type Server struct {
	cfg      Config
	auth     Auth
	sessions Sessions
	users    Users
	logger   *slog.Logger
	limiters []*ratelimit.Limiter
	router   chi.Router
}

// New builds the router: API routes under cfg.Prefix, plus /up and /metrics
// at the root.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Auth == nil || deps.Sessions == nil || deps.Users == nil {
		return nil, fmt.Errorf("auth, sessions and users are required")
	}
	proxies, err := parseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:      cfg,
		auth:     deps.Auth,
		sessions: deps.Sessions,
		users:    deps.Users,
		logger:   logging.OrDiscard(deps.Logger),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, realIPFrom(proxies), middleware.Recoverer)
	r.Get("/up", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	prefix := "/" + strings.Trim(strings.TrimSpace(cfg.Prefix), "/")
	if prefix == "/" {
		r.Group(s.routes)
	} else {
		r.Route(prefix, s.routes)
	}
	s.router = r
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SweepLimiters drops idle rate limit buckets.
func (s *Server) SweepLimiters() int {
	removed := 0
	for _, limiter := range s.limiters {
		removed += limiter.Sweep()
	}
	return removed
}

func (s *Server) limited() func(http.Handler) http.Handler {
	limiter := ratelimit.New(s.cfg.RateLimit)
	s.limiters = append(s.limiters, limiter)
	return limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: msgRateLimited})
	}))
}

func (s *Server) handle(fn handlerWithError) http.HandlerFunc {
	return errorHandler(s.logger, fn)
}

func (s *Server) routes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.With(s.limited()).Post("/credentials/register", s.handle(s.register))
		r.With(s.limited()).Post("/credentials/login", s.handle(s.login))

		r.Post("/oauth/{provider}/login", s.handle(s.oauthLogin))
		r.Post("/oauth/{provider}/callback", s.handle(s.oauthCallback))
		r.Get("/oauth/{provider}/callback", s.handle(s.oauthCallback))

		r.Post("/webauthn/initiate", s.handle(s.webauthnInitiate))
		r.Post("/webauthn/verify", s.handle(s.webauthnVerify))

		r.Post("/2fa/{method}/initiate", s.handle(s.twoFactorInitiate))
		r.With(s.limited()).Post("/2fa/{method}/verify", s.handle(s.twoFactorVerify))

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Post("/logout", s.handle(s.logout))
			r.Post("/webauthn/register/initiate", s.handle(s.passkeyRegisterInitiate))
			r.Post("/webauthn/register/verify", s.handle(s.passkeyRegisterVerify))
			r.Get("/2fa", s.handle(s.twoFactorList))
			r.Post("/2fa/{method}/enroll", s.handle(s.twoFactorEnroll))
			r.Post("/2fa/{method}/confirm", s.handle(s.twoFactorConfirm))
			r.Delete("/2fa/{method}", s.handle(s.twoFactorRemove))
		})
	})

	r.Route("/user", func(r chi.Router) {
		r.Use(s.requireSession)
		r.Get("/me", s.handle(s.getMe))
		r.Put("/me", s.handle(s.updateMe))
		r.Delete("/me", s.handle(s.deleteMe))
		r.Post("/me/password", s.handle(s.changePassword))
		r.Get("/{id}", s.handle(s.getUser))

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/", s.handle(s.listUsers))
			r.Put("/{id}", s.handle(s.updateUser))
			r.Post("/{id}", s.handle(s.updateUser))
			r.Delete("/{id}", s.handle(s.deleteUser))
		})
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Use(s.requireSession)
		r.Get("/", s.handle(s.listSessions))
		r.Post("/refresh", s.handle(s.refreshSession))
		r.Post("/revoke", s.handle(s.revokeSession))
	})
}

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clyde-sh/novus/internal/platform/logging"
	"github.com/clyde-sh/novus/internal/platform/timeouts"
	"github.com/clyde-sh/novus/internal/services/auth/api/httpapi"
	"github.com/clyde-sh/novus/internal/services/auth/credential"
	"github.com/clyde-sh/novus/internal/services/auth/directory"
	"github.com/clyde-sh/novus/internal/services/auth/metrics"
	"github.com/clyde-sh/novus/internal/services/auth/oauth"
	"github.com/clyde-sh/novus/internal/services/auth/orchestrator"
	"github.com/clyde-sh/novus/internal/services/auth/passkey"
	"github.com/clyde-sh/novus/internal/services/auth/session"
	"github.com/clyde-sh/novus/internal/services/auth/storage/rediscache"
	authsqlite "github.com/clyde-sh/novus/internal/services/auth/storage/sqlite"
	"github.com/clyde-sh/novus/internal/services/auth/twofactor"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// healthService is the gRPC health name reported for the HTTP API.
const healthService = "novus.auth.v1.HTTP"

// Server hosts the auth service.
type Server struct {
	cfg          Config
	logger       *slog.Logger
	listener     net.Listener
	grpcServer   *grpc.Server
	health       *health.Server
	store        *authsqlite.Store
	cache        *rediscache.Cache
	dispatcher   *twofactor.Dispatcher
	api          *httpapi.Server
	httpListener net.Listener
	httpServer   *http.Server
	clock        func() time.Time
}

// New creates a configured auth server. It opens the store, wires every
// component and binds both listeners; nothing is served until Serve.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Server, error) {
	cfg = cfg.withDefaults()
	logger = logging.OrDiscard(logger)

	store, err := openAuthStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	s := &Server{cfg: cfg, logger: logger, store: store, clock: time.Now}
	if err := s.wire(ctx); err != nil {
		s.close()
		return nil, err
	}

	s.listener, err = net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		s.close()
		return nil, fmt.Errorf("listen on port %d: %w", cfg.GRPCPort, err)
	}
	if strings.TrimSpace(cfg.HTTPAddr) != "" {
		s.httpListener, err = net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("listen on http addr %s: %w", cfg.HTTPAddr, err)
		}
		s.httpServer = &http.Server{
			Handler:           otelhttp.NewHandler(s.api, "auth.http"),
			ReadHeaderTimeout: timeouts.ReadHeader,
		}
	}

	s.grpcServer = grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	s.health = health.NewServer()
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_SERVING)
	return s, nil
}

// wire builds the component graph over the opened store.
func (s *Server) wire(ctx context.Context) error {
	cfg := s.cfg
	recorder := metrics.New()

	var users directory.Store = s.store
	if cfg.Redis.Enabled() {
		pingCtx, cancel := context.WithTimeout(ctx, timeouts.Startup)
		cache, err := rediscache.New(pingCtx, cfg.Redis, s.store, s.logger)
		cancel()
		if err != nil {
			return fmt.Errorf("open user cache: %w", err)
		}
		s.cache = cache
		users = cache
	}
	dir := directory.New(users, s.logger)

	hasher, err := credential.NewHasher(cfg.BcryptCost)
	if err != nil {
		return err
	}
	ceremony, err := passkey.New(cfg.Passkey, s.store, dir)
	if err != nil {
		return fmt.Errorf("configure passkeys: %w", err)
	}
	verifier := credential.NewVerifier(dir, hasher, ceremony, s.logger)

	s.dispatcher = twofactor.NewDispatcher(twofactor.NewSender(cfg.TwoFactor, s.logger), cfg.TwoFactor, recorder, s.logger)
	twoFactor := twofactor.NewManager(s.store, s.dispatcher, cfg.TwoFactor, s.logger)
	sessions := session.NewManager(s.store, dir, cfg.Session, recorder, s.logger)

	tickets, err := orchestrator.NewTickets(cfg.Orchestrator.TicketSecret, cfg.Orchestrator.TicketTTL)
	if err != nil {
		return err
	}
	if cfg.Orchestrator.TicketSecret == "" {
		s.logger.Warn("NOVUS_AUTH_TICKET_SECRET is empty; pending logins will not survive a restart")
	}

	deps := orchestrator.Deps{
		Directory: dir,
		Verifier:  verifier,
		Hasher:    hasher,
		TwoFactor: twoFactor,
		Sessions:  sessions,
		Passkeys:  ceremony,
		Tickets:   tickets,
		Recorder:  recorder,
		Logger:    s.logger,
	}
	if len(cfg.OAuth.Providers) > 0 {
		discoverCtx, cancel := context.WithTimeout(ctx, timeouts.Startup)
		providers, err := oauth.NewProviders(discoverCtx, cfg.OAuth.Providers, &http.Client{Timeout: timeouts.OutboundHTTP})
		cancel()
		if err != nil {
			return fmt.Errorf("configure oauth providers: %w", err)
		}
		flow := oauth.NewFlow(providers, s.store, cfg.OAuth, s.logger)
		deps.OAuth = flow
		s.logger.Info("oauth providers enabled", "providers", strings.Join(flow.Providers(), ","))
	}
	auth, err := orchestrator.New(deps)
	if err != nil {
		return err
	}

	s.api, err = httpapi.New(cfg.HTTP, httpapi.Deps{
		Auth:     auth,
		Sessions: sessions,
		Users:    dir,
		Metrics:  recorder.Handler(),
		Logger:   s.logger,
	})
	return err
}

// Addr returns the gRPC listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// HTTPAddr returns the HTTP listener address.
func (s *Server) HTTPAddr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// Run creates and serves an auth server until the context ends.
func Run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	srv, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// Serve starts the auth server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.close()

	s.StartCleanup(serverCtx, s.cfg.CleanupInterval)

	s.logger.Info("auth gRPC health listening", "addr", s.listener.Addr().String())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	httpErr := make(chan error, 1)
	if s.httpServer != nil && s.httpListener != nil {
		s.logger.Info("auth HTTP listening", "addr", s.httpListener.Addr().String())
		go func() {
			httpErr <- s.httpServer.Serve(s.httpListener)
		}()
	}

	handleErr := func(err error) error {
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}

	shutdownGRPC := func() {
		if s.health != nil {
			s.health.Shutdown()
		}
		s.grpcServer.GracefulStop()
	}
	shutdownHTTP := func() {
		if s.httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
			defer cancel()
			_ = s.httpServer.Shutdown(shutdownCtx)
		}
	}

	select {
	case <-ctx.Done():
		shutdownHTTP()
		shutdownGRPC()
		err := <-serveErr
		return handleErr(err)
	case err := <-serveErr:
		shutdownHTTP()
		return handleErr(err)
	case err := <-httpErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		shutdownGRPC()
		grpcErr := <-serveErr
		if handled := handleErr(grpcErr); handled != nil {
			return handled
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

// StartCleanup periodically deletes expired tokens, sessions, ceremonies
// and OAuth state, and drops idle rate limit buckets.
func (s *Server) StartCleanup(ctx context.Context, interval time.Duration) {
	if s == nil || s.store == nil || interval <= 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanup(ctx)
			}
		}
	}()
}

func (s *Server) cleanup(ctx context.Context) {
	report, err := s.store.DeleteExpired(ctx, s.clock().UTC())
	if err != nil {
		s.logger.Error("cleanup expired rows", "error", err)
		return
	}
	swept := 0
	if s.api != nil {
		swept = s.api.SweepLimiters()
	}
	s.logger.Info("cleanup finished",
		"two_factor_tokens", report.TwoFactorTokens,
		"sessions", report.Sessions,
		"passkey_sessions", report.PasskeySessions,
		"oauth_states", report.OAuthStates,
		"rate_limit_buckets", swept)
}

func openAuthStore(path string) (*authsqlite.Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = filepath.Join("data", "auth.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := authsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open auth sqlite store: %w", err)
	}
	return store, nil
}

// close releases resources in reverse wiring order. In-flight OTP sends
// return before the store closes.
func (s *Server) close() {
	if s == nil {
		return
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.httpListener != nil {
		_ = s.httpListener.Close()
	}
	if s.dispatcher != nil {
		s.dispatcher.Close()
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("close user cache", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("close auth store", "error", err)
		}
	}
}

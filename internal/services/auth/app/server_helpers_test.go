package server

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/clyde-sh/novus/internal/services/auth/storage/rediscache"
	"golang.org/x/crypto/bcrypt"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		GRPCPort:   0,
		HTTPAddr:   "127.0.0.1:0",
		DBPath:     filepath.Join(t.TempDir(), "auth.db"),
		BcryptCost: bcrypt.MinCost,
	}
}

func TestOpenAuthStoreInvalidDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("data"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	path := filepath.Join(file, "auth.db")

	if _, err := openAuthStore(path); err == nil {
		t.Fatal("expected error for invalid storage dir")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.DBPath != defaultDBPath {
		t.Fatalf("db path = %q, want %q", cfg.DBPath, defaultDBPath)
	}
	if cfg.BcryptCost != 12 {
		t.Fatalf("bcrypt cost = %d, want 12", cfg.BcryptCost)
	}
	if cfg.CleanupInterval != 24*time.Hour {
		t.Fatalf("cleanup interval = %v, want 24h", cfg.CleanupInterval)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("NOVUS_AUTH_DB_PATH", "/tmp/novus.db")
	t.Setenv("NOVUS_AUTH_BCRYPT_COST", "10")
	t.Setenv("NOVUS_AUTH_CLEANUP_INTERVAL", "1h")
	t.Setenv("NOVUS_AUTH_API_PREFIX", "/v2")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBPath != "/tmp/novus.db" || cfg.BcryptCost != 10 || cfg.CleanupInterval != time.Hour {
		t.Fatalf("unexpected process config: %+v", cfg)
	}
	if cfg.HTTP.Prefix != "/v2" {
		t.Fatalf("api prefix = %q, want /v2", cfg.HTTP.Prefix)
	}
	if cfg.GRPCPort != defaultGRPCPort || cfg.HTTPAddr != defaultHTTPAddr {
		t.Fatalf("unexpected listener defaults: %d %q", cfg.GRPCPort, cfg.HTTPAddr)
	}
	if cfg.Redis.Enabled() {
		t.Fatal("expected redis cache to be off without an address")
	}
}

func TestLoadConfigFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("NOVUS_AUTH_BCRYPT_COST", "twelve")
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfigFromEnvRejectsBadHTTPValues(t *testing.T) {
	t.Setenv("NOVUS_AUTH_COOKIE_SECURE", "notabool")
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatal("expected cookie flag parse error")
	}
}

func TestLoadConfigFromEnvKeepsRateLimitDefaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTP.RateLimit.Requests != 5 || cfg.HTTP.RateLimit.Window != 10*time.Second {
		t.Fatalf("rate limit = %+v, want 5 per 10s", cfg.HTTP.RateLimit)
	}
	if !cfg.HTTP.SecureCookies {
		t.Fatal("expected secure cookies by default")
	}
}

func TestNewRejectsBadBcryptCost(t *testing.T) {
	cfg := testConfig(t)
	cfg.BcryptCost = bcrypt.MaxCost + 1
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for invalid bcrypt cost")
	}
}

func TestNewFailsWhenRedisIsDown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis = rediscache.Config{Addr: "127.0.0.1:1"}
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error when redis is unreachable")
	}
}

func TestServeAnswersHTTPAndStops(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis = rediscache.Config{Addr: mr.Addr(), KeyPrefix: "test:"}
	cfg.HTTP.Prefix = "/api/v1"

	srv, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if srv.Addr() == "" || srv.HTTPAddr() == "" {
		t.Fatal("expected bound listeners")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	base := "http://" + srv.HTTPAddr()
	resp, err := http.Get(base + "/up")
	if err != nil {
		cancel()
		t.Fatalf("get /up: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/up status = %d", resp.StatusCode)
	}

	body := strings.NewReader(`{"email":"a@x.com","password":"Sup3r-secret"}`)
	resp, err = http.Post(base+"/api/v1/auth/credentials/register", "application/json", body)
	if err != nil {
		cancel()
		t.Fatalf("register: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}

	resp, err = http.Get(base + "/metrics")
	if err != nil {
		cancel()
		t.Fatalf("get /metrics: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(raw), "go_goroutines") {
		t.Fatal("expected go collector metrics")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestStartCleanup(t *testing.T) {
	t.Run("nil server is safe", func(t *testing.T) {
		var s *Server
		s.StartCleanup(context.Background(), time.Minute)
	})

	t.Run("nil store is safe", func(t *testing.T) {
		s := &Server{}
		s.StartCleanup(context.Background(), time.Minute)
	})

	t.Run("runs and stops", func(t *testing.T) {
		srv, err := New(context.Background(), testConfig(t), nil)
		if err != nil {
			t.Fatalf("new server: %v", err)
		}
		defer srv.close()
		ctx, cancel := context.WithCancel(context.Background())
		srv.StartCleanup(ctx, 10*time.Millisecond)
		time.Sleep(50 * time.Millisecond)
		cancel()
	})
}

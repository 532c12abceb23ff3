package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/clyde-sh/novus/internal/platform/errors"
	"github.com/clyde-sh/novus/internal/platform/logging"
	"github.com/clyde-sh/novus/internal/platform/ratelimit"
	"github.com/clyde-sh/novus/internal/services/auth/credential"
	"github.com/clyde-sh/novus/internal/services/auth/directory"
	"github.com/clyde-sh/novus/internal/services/auth/orchestrator"
	"github.com/clyde-sh/novus/internal/services/auth/session"
	"github.com/clyde-sh/novus/internal/services/auth/storage/sqlite"
	"github.com/clyde-sh/novus/internal/services/auth/twofactor"
	"github.com/clyde-sh/novus/internal/services/auth/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "Sup3r-secret"

type recordingDispatcher struct {
	mu    sync.Mutex
	codes []string
}

func (d *recordingDispatcher) Dispatch(delivery twofactor.Delivery) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.codes = append(d.codes, delivery.Code)
	return nil
}

func (d *recordingDispatcher) last(t *testing.T) string {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.codes, "expected a delivery")
	return d.codes[len(d.codes)-1]
}

type testEnv struct {
	server     *Server
	dir        *directory.Directory
	dispatcher *recordingDispatcher
}

func newTestEnv(t *testing.T, limit ratelimit.Config) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, Config{Prefix: "/api/v1", RateLimit: limit})
}

func newTestEnvWithConfig(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	hasher, err := credential.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)
	tickets, err := orchestrator.NewTickets("test-secret", time.Minute)
	require.NoError(t, err)

	env := &testEnv{dir: directory.New(store, nil), dispatcher: &recordingDispatcher{}}
	sessions := session.NewManager(store, env.dir, session.Config{TTL: time.Hour}, nil, nil)
	auth, err := orchestrator.New(orchestrator.Deps{
		Directory: env.dir,
		Verifier:  credential.NewVerifier(env.dir, hasher, nil, nil),
		Hasher:    hasher,
		TwoFactor: twofactor.NewManager(store, env.dispatcher, twofactor.Config{TokenTTL: time.Minute}, nil),
		Sessions:  sessions,
		Tickets:   tickets,
	})
	require.NoError(t, err)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("novus_auth_attempts_total 1\n"))
	})
	env.server, err = New(cfg, Deps{
		Auth:     auth,
		Sessions: sessions,
		Users:    env.dir,
		Metrics:  metrics,
	})
	require.NoError(t, err)
	return env
}

func defaultLimit() ratelimit.Config {
	return ratelimit.Config{Requests: 1000, Window: time.Second}
}

func (e *testEnv) request(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var payload *strings.Reader
	if body == nil {
		payload = strings.NewReader("")
	} else {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		payload = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, "/api/v1"+path, payload)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := e.request(t, method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) register(t *testing.T, email string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/credentials/register", "", credentialsRequest{Email: email, Password: testPassword})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created userResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	return created.ID
}

func (e *testEnv) login(t *testing.T, email string) loginResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/credentials/login", "", credentialsRequest{Email: email, Password: testPassword})
	require.Contains(t, []int{http.StatusOK, http.StatusAccepted}, rec.Code, rec.Body.String())
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (e *testEnv) sessionFor(t *testing.T, email string) string {
	t.Helper()
	resp := e.login(t, email)
	require.NotNil(t, resp.Session)
	return resp.Session.ID
}

func assertAuthFailed(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"authentication failed"}`, rec.Body.String())
}

func TestRegisterLoginAndProfile(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultLimit())
	userID := env.register(t, "A@x.com")

	rec := env.do(t, http.MethodPost, "/auth/credentials/login", "", credentialsRequest{Email: "a@x.com", Password: testPassword})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Session)
	assert.Nil(t, resp.SecondFactor)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookieName, cookies[0].Name)
	assert.Equal(t, resp.Session.ID, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)

	rec = env.do(t, http.MethodGet, "/user/me", resp.Session.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var me userResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, userID, me.ID)
	assert.Equal(t, "a@x.com", me.Email)
	require.Len(t, me.Methods, 1)
	assert.Equal(t, "password", me.Methods[0].Method)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/user/me", nil)
	req.AddCookie(cookies[0])
	cookieRec := httptest.NewRecorder()
	env.server.ServeHTTP(cookieRec, req)
	assert.Equal(t, http.StatusOK, cookieRec.Code)
}

func TestAuthenticationFailuresLookTheSame(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultLimit())
	env.register(t, "a@x.com")

	wrong := env.do(t, http.MethodPost, "/auth/credentials/login", "", credentialsRequest{Email: "a@x.com", Password: "Wrong-passw0rd"})
	unknown := env.do(t, http.MethodPost, "/auth/credentials/login", "", credentialsRequest{Email: "nobody@x.com", Password: testPassword})
	assertAuthFailed(t, wrong)
	assertAuthFailed(t, unknown)

	assertAuthFailed(t, env.do(t, http.MethodGet, "/user/me", "", nil))
	assertAuthFailed(t, env.do(t, http.MethodGet, "/user/me", "no-such-session", nil))
	assertAuthFailed(t, env.do(t, http.MethodPost, "/auth/2fa/email/verify", "", secondFactorVerifyRequest{Ticket: "forged", Code: "123456"}))
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultLimit())

	rec := env.do(t, http.MethodPost, "/auth/credentials/register", "", credentialsRequest{Email: "a@x.com", Password: "weak"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/credentials/register", "", map[string]string{"email": "a@x.com", "unexpected": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.register(t, "a@x.com")
	rec = env.do(t, http.MethodPost, "/auth/credentials/register", "", credentialsRequest{Email: "a@x.com", Password: testPassword})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSecondFactorFlow(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultLimit())
	env.register(t, "a@x.com")
	token := env.sessionFor(t, "a@x.com")

	rec := env.do(t, http.MethodPost, "/auth/2fa/email/enroll", token, enrollRequest{Destination: "a@x.com"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/auth/2fa/email/confirm", token, codeRequest{Code: env.dispatcher.last(t)})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/auth/2fa", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"methods":["email"]}`, rec.Body.String())

	pending := env.login(t, "a@x.com")
	require.Nil(t, pending.Session)
	require.NotNil(t, pending.SecondFactor)
	assert.Equal(t, []string{"email"}, pending.SecondFactor.Methods)

	rec = env.do(t, http.MethodPost, "/auth/2fa/email/initiate", "", ticketRequest{Ticket: pending.SecondFactor.Ticket})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	code := env.dispatcher.last(t)

	rec = env.do(t, http.MethodPost, "/auth/2fa/email/verify", "", secondFactorVerifyRequest{Ticket: pending.SecondFactor.Ticket, Code: code})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Session)

	assertAuthFailed(t, env.do(t, http.MethodPost, "/auth/2fa/email/verify", "",
		secondFactorVerifyRequest{Ticket: pending.SecondFactor.Ticket, Code: code}))

	rec = env.do(t, http.MethodPost, "/auth/2fa/carrier-pigeon/initiate", "", ticketRequest{Ticket: pending.SecondFactor.Ticket})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionRefreshAndRevoke(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultLimit())
	env.register(t, "a@x.com")
	first := env.sessionFor(t, "a@x.com")
	second := env.sessionFor(t, "a@x.com")

	rec := env.do(t, http.MethodGet, "/sessions", first, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list sessionListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Sessions, 2)

	rec = env.do(t, http.MethodPost, "/sessions/refresh", first, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var refreshed loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refreshed))
	require.NotNil(t, refreshed.Session)
	assert.NotEqual(t, first, refreshed.Session.ID)
	assertAuthFailed(t, env.do(t, http.MethodGet, "/user/me", first, nil))

	rec = env.do(t, http.MethodPost, "/sessions/revoke", refreshed.Session.ID, revokeRequest{SessionID: second})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assertAuthFailed(t, env.do(t, http.MethodGet, "/user/me", second, nil))

	rec = env.do(t, http.MethodPost, "/sessions/revoke", refreshed.Session.ID, revokeRequest{SessionID: "someone-else"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/sessions/revoke", refreshed.Session.ID, revokeRequest{All: true})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assertAuthFailed(t, env.do(t, http.MethodGet, "/user/me", refreshed.Session.ID, nil))
}

func TestLogout(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultLimit())
	env.register(t, "a@x.com")
	token := env.sessionFor(t, "a@x.com")

	rec := env.do(t, http.MethodPost, "/auth/logout", token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
	assertAuthFailed(t, env.do(t, http.MethodGet, "/user/me", token, nil))
}

func TestChangePasswordEndsSessions(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultLimit())
	env.register(t, "a@x.com")
	token := env.sessionFor(t, "a@x.com")

	rec := env.do(t, http.MethodPost, "/user/me/password", token, changePasswordRequest{CurrentPassword: "Wrong-passw0rd", NewPassword: "N3w-password!"})
	assertAuthFailed(t, rec)

	rec = env.do(t, http.MethodPost, "/user/me/password", token, changePasswordRequest{CurrentPassword: testPassword, NewPassword: "N3w-password!"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assertAuthFailed(t, env.do(t, http.MethodGet, "/user/me", token, nil))
}

func TestAdminRoutes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultLimit())
	adminID := env.register(t, "admin@x.com")
	memberID := env.register(t, "member@x.com")
	memberToken := env.sessionFor(t, "member@x.com")

	rec := env.do(t, http.MethodGet, "/user", memberToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodGet, "/user/"+adminID, memberToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodGet, "/user/"+memberID, memberToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	role := user.RoleAdmin
	_, err := env.dir.UpdateUser(context.Background(), adminID, directory.UpdateInput{Role: &role})
	require.NoError(t, err)
	adminToken := env.sessionFor(t, "admin@x.com")

	rec = env.do(t, http.MethodGet, "/user?page_size=10", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var list userListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Users, 2)

	banned := true
	rec = env.do(t, http.MethodPut, "/user/"+memberID, adminToken, updateUserRequest{Banned: &banned})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated userResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.True(t, updated.IsBanned)
	assertAuthFailed(t, env.do(t, http.MethodGet, "/user/me", memberToken, nil))

	rec = env.do(t, http.MethodDelete, "/user/"+memberID, adminToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodGet, "/user/"+memberID, adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminUpdateAcceptsPost(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultLimit())
	adminID := env.register(t, "admin@x.com")
	memberID := env.register(t, "member@x.com")
	memberToken := env.sessionFor(t, "member@x.com")

	role := "admin"
	rec := env.do(t, http.MethodPost, "/user/"+adminID, memberToken, updateUserRequest{Role: &role})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	adminRole := user.RoleAdmin
	_, err := env.dir.UpdateUser(context.Background(), adminID, directory.UpdateInput{Role: &adminRole})
	require.NoError(t, err)
	adminToken := env.sessionFor(t, "admin@x.com")

	rec = env.do(t, http.MethodPost, "/user/"+memberID, adminToken, updateUserRequest{Role: &role})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated userResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "admin", updated.Role)
}

func TestDeleteMe(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultLimit())
	env.register(t, "a@x.com")
	token := env.sessionFor(t, "a@x.com")

	rec := env.do(t, http.MethodDelete, "/user/me", "", nil)
	assertAuthFailed(t, rec)

	rec = env.do(t, http.MethodDelete, "/user/me", token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)

	assertAuthFailed(t, env.do(t, http.MethodGet, "/user/me", token, nil))
	rec = env.do(t, http.MethodPost, "/auth/credentials/login", "", credentialsRequest{Email: "a@x.com", Password: testPassword})
	assertAuthFailed(t, rec)
}

func TestRateLimitedLogin(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, ratelimit.Config{Requests: 2, Window: time.Hour})

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/auth/credentials/login", "", credentialsRequest{Email: "a@x.com", Password: testPassword})
		assertAuthFailed(t, rec)
	}
	rec := env.do(t, http.MethodPost, "/auth/credentials/login", "", credentialsRequest{Email: "a@x.com", Password: testPassword})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":"too many requests"}`, rec.Body.String())

	// Buckets are per route.
	rec = env.do(t, http.MethodPost, "/auth/credentials/register", "", credentialsRequest{Email: "a@x.com", Password: testPassword})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestRateLimitIgnoresForgedForwardingHeaders(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, ratelimit.Config{Requests: 1, Window: time.Hour})

	statuses := map[int]int{}
	for i := 0; i < 20; i++ {
		req := env.request(t, http.MethodPost, "/auth/credentials/login", credentialsRequest{Email: "a@x.com", Password: testPassword})
		req.Header.Set("X-Real-IP", fmt.Sprintf("203.0.113.%d", i+1))
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		rec := httptest.NewRecorder()
		env.server.ServeHTTP(rec, req)
		statuses[rec.Code]++
	}
	assert.Equal(t, 1, statuses[http.StatusUnauthorized])
	assert.Equal(t, 19, statuses[http.StatusTooManyRequests])
}

func TestRateLimitTrustsConfiguredProxy(t *testing.T) {
	t.Parallel()
	env := newTestEnvWithConfig(t, Config{
		Prefix:         "/api/v1",
		TrustedProxies: []string{"192.0.2.0/24"},
		RateLimit:      ratelimit.Config{Requests: 1, Window: time.Hour},
	})

	send := func(clientIP string) int {
		req := env.request(t, http.MethodPost, "/auth/credentials/login", credentialsRequest{Email: "a@x.com", Password: testPassword})
		req.RemoteAddr = "192.0.2.10:4000"
		req.Header.Set("X-Real-IP", clientIP)
		rec := httptest.NewRecorder()
		env.server.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusUnauthorized, send("203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.1"))
	assert.Equal(t, http.StatusUnauthorized, send("203.0.113.2"))
}

func TestParseTrustedProxies(t *testing.T) {
	t.Parallel()
	_, err := parseTrustedProxies([]string{"10.0.0.0/8", " 127.0.0.1 ", ""})
	require.NoError(t, err)
	_, err = parseTrustedProxies([]string{"proxy.internal"})
	require.Error(t, err)
}

func TestPeerTrusted(t *testing.T) {
	t.Parallel()
	trusted, err := parseTrustedProxies([]string{"10.0.0.0/8", "::1"})
	require.NoError(t, err)

	assert.True(t, peerTrusted("10.1.2.3:443", trusted))
	assert.True(t, peerTrusted("[::1]:8080", trusted))
	assert.True(t, peerTrusted("[::ffff:10.0.0.1]:80", trusted))
	assert.False(t, peerTrusted("192.0.2.1:443", trusted))
	assert.False(t, peerTrusted("garbage", trusted))
}

func TestLoadConfigFromEnv(t *testing.T) {
	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	t.Setenv("NOVUS_AUTH_COOKIE_SECURE", "notabool")
	_, err = LoadConfigFromEnv()
	require.Error(t, err)
}

func TestLoadConfigFromEnvRejectsBadProxy(t *testing.T) {
	t.Setenv("NOVUS_AUTH_TRUSTED_PROXIES", "10.0.0.0/8,not-an-ip")
	_, err := LoadConfigFromEnv()
	require.Error(t, err)
}

func TestDisabledFlowsAnswerUnavailable(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultLimit())

	rec := env.do(t, http.MethodPost, "/auth/webauthn/initiate", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = env.do(t, http.MethodPost, "/auth/oauth/google/login", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, defaultLimit())

	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/up", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "novus_auth_attempts_total")
}

func TestWriteErrorMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "uncoded error hides detail",
			err:        errors.New("disk on fire"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"internal error"}`,
		},
		{
			name:       "expired collapses",
			err:        fmt.Errorf("verify: %w", apperrors.New(apperrors.CodeExpired, "code expired")),
			wantStatus: http.StatusUnauthorized,
			wantBody:   `{"error":"authentication failed"}`,
		},
		{
			name:       "conflict keeps message",
			err:        apperrors.New(apperrors.CodeConflict, "email already registered"),
			wantStatus: http.StatusConflict,
			wantBody:   `{"error":"email already registered"}`,
		},
		{
			name:       "unavailable hides message",
			err:        apperrors.New(apperrors.CodeUnavailable, "redis down"),
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"error":"Service Unavailable"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), logging.Discard(), tt.err)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer abc")
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "cookie"})
	assert.Equal(t, "abc", bearerToken(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, bearerToken(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "cookie"})
	assert.Equal(t, "cookie", bearerToken(req))
}

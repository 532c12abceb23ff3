package rediscache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/clyde-sh/novus/internal/services/auth/storage"
	"github.com/clyde-sh/novus/internal/services/auth/storage/sqlite"
	"github.com/clyde-sh/novus/internal/services/auth/user"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T) (*Cache, *sqlite.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	backend, err := sqlite.Open(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	return NewWithClient(client, backend, "test:", time.Minute, nil), backend, mr
}

func seed(t *testing.T, c *Cache) user.User {
	t.Helper()
	u := user.User{
		ID:           "user-1",
		Email:        "alice@example.com",
		PasswordHash: "hash",
		Role:         user.RoleUser,
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}
	require.NoError(t, c.CreateUserWithMethod(context.Background(), u, user.AuthMethodRecord{
		ID: "m-1", UserID: u.ID, Method: user.MethodPassword, CreatedAt: testNow, UpdatedAt: testNow,
	}))
	return u
}

func TestConfigEnabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{Addr: "localhost:6379"}.Enabled())
}

func TestNewRequiresAddr(t *testing.T) {
	_, err := New(context.Background(), Config{}, nil, nil)
	require.Error(t, err)
}

func TestGetUserReadsThrough(t *testing.T) {
	c, _, mr := newTestCache(t)
	ctx := context.Background()
	seed(t, c)

	assert.False(t, mr.Exists("test:user:id:user-1"))
	got, err := c.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.True(t, mr.Exists("test:user:id:user-1"))
	assert.False(t, mr.Exists("test:user:email:alice@example.com"))

	byEmail, err := c.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user-1", byEmail.ID)
	assert.True(t, mr.Exists("test:user:email:alice@example.com"))
}

// racingBackend runs duringRead once, after it has read the user but
// before it returns, like a slow query overtaken by a write.
type racingBackend struct {
	Backend
	duringRead func()
}

func (b *racingBackend) take() func() {
	fn := b.duringRead
	b.duringRead = nil
	return fn
}

func (b *racingBackend) GetUser(ctx context.Context, userID string) (user.User, error) {
	u, err := b.Backend.GetUser(ctx, userID)
	if fn := b.take(); fn != nil {
		fn()
	}
	return u, err
}

func (b *racingBackend) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	u, err := b.Backend.GetUserByEmail(ctx, email)
	if fn := b.take(); fn != nil {
		fn()
	}
	return u, err
}

func newRacingCache(t *testing.T) (*Cache, *racingBackend) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	backend := &racingBackend{Backend: store}
	return NewWithClient(client, backend, "test:", time.Minute, nil), backend
}

func TestReadOvertakenByBanIsNotCached(t *testing.T) {
	c, backend := newRacingCache(t)
	ctx := context.Background()
	seed(t, c)

	backend.duringRead = func() {
		require.NoError(t, c.SetUserBanned(ctx, "user-1", true, testNow.Add(time.Minute)))
	}
	stale, err := c.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, stale.IsBanned)

	got, err := c.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, got.IsBanned)
}

func TestEmailReadOvertakenByRevokeIsNotCached(t *testing.T) {
	c, backend := newRacingCache(t)
	ctx := context.Background()
	seed(t, c)

	watermark := testNow.Add(time.Hour)
	backend.duringRead = func() {
		require.NoError(t, c.SetSessionsRevokedAt(ctx, "user-1", watermark))
	}
	stale, err := c.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Nil(t, stale.SessionsRevokedAt)

	got, err := c.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, got.SessionsRevokedAt)
	assert.True(t, got.SessionsRevokedAt.Equal(watermark))
}

func TestMissIsNotCached(t *testing.T) {
	c, _, mr := newTestCache(t)

	_, err := c.GetUser(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
	assert.False(t, mr.Exists("test:user:id:missing"))
}

func TestWritesInvalidate(t *testing.T) {
	c, backend, mr := newTestCache(t)
	ctx := context.Background()
	seed(t, c)

	_, err := c.GetUser(ctx, "user-1")
	require.NoError(t, err)
	require.NoError(t, c.SetUserBanned(ctx, "user-1", true, testNow.Add(time.Minute)))
	assert.False(t, mr.Exists("test:user:id:user-1"))

	got, err := c.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, got.IsBanned)

	watermark := testNow.Add(time.Hour)
	require.NoError(t, c.SetSessionsRevokedAt(ctx, "user-1", watermark))
	got, err = c.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, got.SessionsRevokedAt)
	assert.True(t, got.SessionsRevokedAt.Equal(watermark))

	stored, err := backend.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, got.IsBanned, stored.IsBanned)
}

func TestSetPasswordHashInvalidates(t *testing.T) {
	c, _, mr := newTestCache(t)
	ctx := context.Background()
	seed(t, c)

	_, err := c.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	method := user.AuthMethodRecord{ID: "m-2", UserID: "user-1", Method: user.MethodPassword, CreatedAt: testNow, UpdatedAt: testNow}
	require.NoError(t, c.SetPasswordHash(ctx, "user-1", "new-hash", method))
	assert.False(t, mr.Exists("test:user:email:alice@example.com"))

	got, err := c.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.PasswordHash)
}

func TestUpdateUserDropsOldEmail(t *testing.T) {
	c, _, mr := newTestCache(t)
	ctx := context.Background()
	u := seed(t, c)

	_, err := c.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)

	u.Email = "alice@new.example.com"
	u.UpdatedAt = testNow.Add(time.Minute)
	require.NoError(t, c.UpdateUser(ctx, u))
	assert.False(t, mr.Exists("test:user:email:alice@example.com"))

	_, err = c.GetUserByEmail(ctx, "alice@example.com")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteMethodInvalidatesPasswordHash(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	seed(t, c)
	require.NoError(t, c.PutMethod(ctx, user.AuthMethodRecord{
		ID: "m-2", UserID: "user-1", Method: user.MethodOAuth, Provider: "github", ProviderID: "gh-1",
		CreatedAt: testNow, UpdatedAt: testNow,
	}))

	cached, err := c.GetUser(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, cached.HasPassword())

	require.NoError(t, c.DeleteMethodIfNotLast(ctx, "user-1", "m-1"))
	got, err := c.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, got.HasPassword())
}

func TestDeleteUserInvalidates(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	seed(t, c)
	_, err := c.GetUser(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, c.DeleteUser(ctx, "user-1"))
	_, err = c.GetUser(ctx, "user-1")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRedisOutageFallsBack(t *testing.T) {
	c, _, mr := newTestCache(t)
	ctx := context.Background()
	seed(t, c)

	mr.Close()
	got, err := c.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.ID)
}

// Package rediscache adds a Redis read-through cache in front of the user
// directory store. The wrapped store stays authoritative; every write
// invalidates the cached user before returning.
//
// Each cache key has a generation counter that writers bump. A fill only
// lands when the generation it saw before reading the store is unchanged,
// so a read that straddles a write cannot cache the old record.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clyde-sh/novus/internal/platform/logging"
	"github.com/clyde-sh/novus/internal/services/auth/storage"
	"github.com/clyde-sh/novus/internal/services/auth/user"
	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// generationTTL outlives any in-flight fill by a wide margin.
const generationTTL = 24 * time.Hour

// Config holds Redis cache settings.
type Config struct {
	// Addr disables the cache when empty.
	Addr      string        `env:"NOVUS_REDIS_ADDR"`
	Username  string        `env:"NOVUS_REDIS_USERNAME"`
	Password  string        `env:"NOVUS_REDIS_PASSWORD"`
	DB        int           `env:"NOVUS_REDIS_DB" envDefault:"0"`
	KeyPrefix string        `env:"NOVUS_REDIS_KEY_PREFIX" envDefault:"novus:auth:"`
	TTL       time.Duration `env:"NOVUS_REDIS_USER_TTL" envDefault:"5m"`
}

// Enabled reports whether a Redis address is configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// Backend is the authoritative store the cache fronts.
type Backend interface {
	storage.UserStore
	storage.MethodStore
}

// Cache implements storage.UserStore and storage.MethodStore over a Backend.
type Cache struct {
	storage.MethodStore

	users     storage.UserStore
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	logger    *slog.Logger
}

// New connects to Redis and wraps backend.
func New(ctx context.Context, cfg Config, backend Backend, logger *slog.Logger) (*Cache, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewWithClient(client, backend, cfg.KeyPrefix, cfg.TTL, logger), nil
}

// NewWithClient wraps backend using a pre-configured client.
func NewWithClient(client redis.UniversalClient, backend Backend, keyPrefix string, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		MethodStore: backend,
		users:       backend,
		client:      client,
		keyPrefix:   keyPrefix,
		ttl:         ttl,
		logger:      logging.OrDiscard(logger),
	}
}

// Close releases the Redis client.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Cache) idKey(userID string) string {
	return c.keyPrefix + "user:id:" + userID
}

func (c *Cache) emailKey(email string) string {
	return c.keyPrefix + "user:email:" + email
}

func (c *Cache) generationKey(key string) string {
	return c.keyPrefix + "gen:" + strings.TrimPrefix(key, c.keyPrefix)
}

// generation returns the current generation of key. ok is false when Redis
// could not answer, in which case the caller must not fill.
func (c *Cache) generation(ctx context.Context, key string) (int64, bool) {
	gen, err := c.client.Get(ctx, c.generationKey(key)).Int64()
	switch {
	case err == nil:
		return gen, true
	case errors.Is(err, redis.Nil):
		return 0, true
	default:
		return 0, false
	}
}

func (c *Cache) read(ctx context.Context, key string) (user.User, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WarnContext(ctx, "redis read failed", "key", key, "error", err)
		}
		return user.User{}, false
	}
	var u user.User
	if err := json.Unmarshal(raw, &u); err != nil {
		c.logger.WarnContext(ctx, "discarding undecodable cached user", "key", key, "error", err)
		return user.User{}, false
	}
	return u, true
}

// fill caches u under key if the key's generation still equals seen.
func (c *Cache) fill(ctx context.Context, key string, seen int64, u user.User) {
	raw, err := json.Marshal(u)
	if err != nil {
		return
	}
	genKey := c.generationKey(key)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		gen, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if gen != seen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, c.ttl)
			return nil
		})
		return err
	}, genKey)
	switch {
	case err == nil:
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		c.logger.DebugContext(ctx, "skipped stale cache fill", "key", key)
	default:
		c.logger.WarnContext(ctx, "redis write failed", "key", key, "error", err)
	}
}

var errStaleFill = errors.New("cache generation moved")

// invalidate bumps the generation of every key of the given users and
// drops the cached entries.
func (c *Cache) invalidate(ctx context.Context, users ...user.User) {
	keys := make([]string, 0, len(users)*2)
	for _, u := range users {
		if u.ID != "" {
			keys = append(keys, c.idKey(u.ID))
		}
		if u.Email != "" {
			keys = append(keys, c.emailKey(u.Email))
		}
	}
	if len(keys) == 0 {
		return
	}
	pipe := c.client.TxPipeline()
	for _, key := range keys {
		genKey := c.generationKey(key)
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
	}
	pipe.Del(ctx, keys...)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.WarnContext(ctx, "redis invalidation failed", "keys", keys, "error", err)
	}
}

// invalidateByID looks up the current record so both keys can be dropped.
func (c *Cache) invalidateByID(ctx context.Context, userID string, previous user.User) {
	current, err := c.users.GetUser(ctx, userID)
	if err != nil {
		current = user.User{ID: userID}
	}
	c.invalidate(ctx, previous, current)
}

// GetUser reads through the cache.
func (c *Cache) GetUser(ctx context.Context, userID string) (user.User, error) {
	key := c.idKey(userID)
	if u, ok := c.read(ctx, key); ok {
		return u, nil
	}
	seen, fillable := c.generation(ctx, key)
	u, err := c.users.GetUser(ctx, userID)
	if err != nil {
		return user.User{}, err
	}
	if fillable {
		c.fill(ctx, key, seen, u)
	}
	return u, nil
}

// GetUserByEmail reads through the cache.
func (c *Cache) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	key := c.emailKey(email)
	if u, ok := c.read(ctx, key); ok {
		return u, nil
	}
	seen, fillable := c.generation(ctx, key)
	u, err := c.users.GetUserByEmail(ctx, email)
	if err != nil {
		return user.User{}, err
	}
	if fillable {
		c.fill(ctx, key, seen, u)
	}
	return u, nil
}

// PutUser writes through and drops any stale entry for the email.
func (c *Cache) PutUser(ctx context.Context, u user.User) error {
	if err := c.users.PutUser(ctx, u); err != nil {
		return err
	}
	c.invalidate(ctx, u)
	return nil
}

// CreateUserWithMethod writes through.
func (c *Cache) CreateUserWithMethod(ctx context.Context, u user.User, method user.AuthMethodRecord) error {
	if err := c.users.CreateUserWithMethod(ctx, u, method); err != nil {
		return err
	}
	c.invalidate(ctx, u)
	return nil
}

// UpdateUser writes through and drops entries for the old and new email.
func (c *Cache) UpdateUser(ctx context.Context, u user.User) error {
	previous, _ := c.users.GetUser(ctx, u.ID)
	if err := c.users.UpdateUser(ctx, u); err != nil {
		return err
	}
	c.invalidate(ctx, previous, u)
	return nil
}

// SetUserBanned writes through.
func (c *Cache) SetUserBanned(ctx context.Context, userID string, banned bool, updatedAt time.Time) error {
	if err := c.users.SetUserBanned(ctx, userID, banned, updatedAt); err != nil {
		return err
	}
	c.invalidateByID(ctx, userID, user.User{})
	return nil
}

// SetPasswordHash writes through.
func (c *Cache) SetPasswordHash(ctx context.Context, userID, passwordHash string, method user.AuthMethodRecord) error {
	if err := c.users.SetPasswordHash(ctx, userID, passwordHash, method); err != nil {
		return err
	}
	c.invalidateByID(ctx, userID, user.User{})
	return nil
}

// SetSessionsRevokedAt writes through.
func (c *Cache) SetSessionsRevokedAt(ctx context.Context, userID string, watermark time.Time) error {
	if err := c.users.SetSessionsRevokedAt(ctx, userID, watermark); err != nil {
		return err
	}
	c.invalidateByID(ctx, userID, user.User{})
	return nil
}

// DeleteUser writes through.
func (c *Cache) DeleteUser(ctx context.Context, userID string) error {
	previous, _ := c.users.GetUser(ctx, userID)
	if err := c.users.DeleteUser(ctx, userID); err != nil {
		return err
	}
	previous.ID = userID
	c.invalidate(ctx, previous)
	return nil
}

// ListUsers always reads the backing store.
func (c *Cache) ListUsers(ctx context.Context, pageSize int, pageToken string) (storage.UserPage, error) {
	return c.users.ListUsers(ctx, pageSize, pageToken)
}

// DeleteMethodIfNotLast writes through; removing a password clears the
// cached hash.
func (c *Cache) DeleteMethodIfNotLast(ctx context.Context, userID, methodID string) error {
	if err := c.MethodStore.DeleteMethodIfNotLast(ctx, userID, methodID); err != nil {
		return err
	}
	c.invalidateByID(ctx, userID, user.User{})
	return nil
}

var (
	_ storage.UserStore   = (*Cache)(nil)
	_ storage.MethodStore = (*Cache)(nil)
)

package server

import (
	"time"

	"github.com/clyde-sh/novus/internal/platform/config"
	"github.com/clyde-sh/novus/internal/services/auth/api/httpapi"
	"github.com/clyde-sh/novus/internal/services/auth/credential"
	"github.com/clyde-sh/novus/internal/services/auth/oauth"
	"github.com/clyde-sh/novus/internal/services/auth/orchestrator"
	"github.com/clyde-sh/novus/internal/services/auth/passkey"
	"github.com/clyde-sh/novus/internal/services/auth/session"
	"github.com/clyde-sh/novus/internal/services/auth/storage/rediscache"
	"github.com/clyde-sh/novus/internal/services/auth/twofactor"
)

const (
	defaultGRPCPort        = 8083
	defaultHTTPAddr        = "localhost:8084"
	defaultDBPath          = "data/auth.db"
	defaultCleanupInterval = 24 * time.Hour
)

// processEnv holds the settings owned by the process itself.
type processEnv struct {
	DBPath          string        `env:"NOVUS_AUTH_DB_PATH"          envDefault:"data/auth.db"`
	BcryptCost      int           `env:"NOVUS_AUTH_BCRYPT_COST"      envDefault:"12"`
	CleanupInterval time.Duration `env:"NOVUS_AUTH_CLEANUP_INTERVAL" envDefault:"24h"`
}

// Config is the full auth process configuration.
type Config struct {
	GRPCPort        int
	HTTPAddr        string
	DBPath          string
	BcryptCost      int
	CleanupInterval time.Duration

	HTTP         httpapi.Config
	Session      session.Config
	TwoFactor    twofactor.Config
	Passkey      passkey.Config
	OAuth        oauth.Config
	Orchestrator orchestrator.Config
	Redis        rediscache.Config
}

// LoadConfigFromEnv collects every component's configuration.
func LoadConfigFromEnv() (Config, error) {
	var process processEnv
	if err := config.ParseEnv(&process); err != nil {
		return Config{}, err
	}
	var redis rediscache.Config
	if err := config.ParseEnv(&redis); err != nil {
		return Config{}, err
	}
	httpCfg, err := httpapi.LoadConfigFromEnv()
	if err != nil {
		return Config{}, err
	}
	return Config{
		GRPCPort:        defaultGRPCPort,
		HTTPAddr:        defaultHTTPAddr,
		DBPath:          process.DBPath,
		BcryptCost:      process.BcryptCost,
		CleanupInterval: process.CleanupInterval,
		HTTP:            httpCfg,
		Session:         session.LoadConfigFromEnv(),
		TwoFactor:       twofactor.LoadConfigFromEnv(),
		Passkey:         passkey.LoadConfigFromEnv(),
		OAuth:           oauth.LoadConfigFromEnv(),
		Orchestrator:    orchestrator.LoadConfigFromEnv(),
		Redis:           redis,
	}, nil
}

func (c Config) withDefaults() Config {
	if c.DBPath == "" {
		c.DBPath = defaultDBPath
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = credential.DefaultCost
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = defaultCleanupInterval
	}
	return c
}

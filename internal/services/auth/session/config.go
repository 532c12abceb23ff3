package session

import (
	"time"

	"github.com/caarlos0/env/v11"
)

const defaultTTL = 7 * 24 * time.Hour

// Config controls session lifetime.
type Config struct {
	TTL time.Duration `env:"NOVUS_AUTH_SESSION_TTL" envDefault:"168h"`
}

// LoadConfigFromEnv loads session configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	_ = env.Parse(&cfg)
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	return cfg
}

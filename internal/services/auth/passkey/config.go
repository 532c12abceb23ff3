package passkey

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// SessionKind describes the WebAuthn session purpose.
type SessionKind string

const (
	SessionKindRegistration SessionKind = "registration"
	SessionKindLogin        SessionKind = "login"
)

const (
	defaultRPDisplayName = "Novus"
	defaultRPID          = "localhost"
	defaultOrigin        = "http://localhost:8080"
	defaultSessionTTL    = 5 * time.Minute
)

// Config controls WebAuthn relying party settings.
type Config struct {
	RPDisplayName string        `env:"NOVUS_WEBAUTHN_RP_DISPLAY_NAME" envDefault:"Novus"`
	RPID          string        `env:"NOVUS_WEBAUTHN_RP_ID"           envDefault:"localhost"`
	RPOrigins     []string      `env:"NOVUS_WEBAUTHN_RP_ORIGINS"      envSeparator:","`
	SessionTTL    time.Duration `env:"NOVUS_WEBAUTHN_SESSION_TTL"     envDefault:"5m"`
}

// LoadConfigFromEnv returns passkey configuration with defaults. Fields that
// fail to parse fall back to their defaults without discarding the rest.
func LoadConfigFromEnv() Config {
	var cfg Config
	_ = env.Parse(&cfg)
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.RPDisplayName == "" {
		c.RPDisplayName = defaultRPDisplayName
	}
	if c.RPID == "" {
		c.RPID = defaultRPID
	}
	if len(c.RPOrigins) == 0 {
		c.RPOrigins = []string{defaultOrigin}
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = defaultSessionTTL
	}
	return c
}

package twofactor

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls challenge lifetime, code shape and delivery retries.
type Config struct {
	TokenTTL time.Duration `env:"NOVUS_AUTH_TWO_FACTOR_TTL"    envDefault:"10m"`
	Digits   int           `env:"NOVUS_AUTH_TWO_FACTOR_DIGITS" envDefault:"6"`
	Issuer   string        `env:"NOVUS_AUTH_TWO_FACTOR_ISSUER" envDefault:"Novus"`
	// Period is the TOTP step length in seconds.
	Period uint `env:"NOVUS_AUTH_TOTP_PERIOD" envDefault:"30"`
	// MaxAttempts is how many wrong codes burn an outstanding token.
	MaxAttempts int `env:"NOVUS_AUTH_TWO_FACTOR_MAX_ATTEMPTS" envDefault:"5"`

	DeliveryAttempts uint          `env:"NOVUS_AUTH_OTP_DELIVERY_ATTEMPTS" envDefault:"3"`
	DeliveryTimeout  time.Duration `env:"NOVUS_AUTH_OTP_DELIVERY_TIMEOUT"  envDefault:"10s"`
	// WebhookURL switches delivery from the log sender to an HTTP webhook.
	WebhookURL string `env:"NOVUS_AUTH_OTP_WEBHOOK_URL"`
}

// LoadConfigFromEnv loads two-factor configuration, falling back to
// defaults for anything missing or malformed.
func LoadConfigFromEnv() Config {
	var cfg Config
	_ = env.Parse(&cfg)
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.TokenTTL <= 0 {
		c.TokenTTL = 10 * time.Minute
	}
	if c.Digits != 6 && c.Digits != 8 {
		c.Digits = 6
	}
	if c.Issuer == "" {
		c.Issuer = "Novus"
	}
	if c.Period == 0 {
		c.Period = 30
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.DeliveryAttempts == 0 {
		c.DeliveryAttempts = 3
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 10 * time.Second
	}
	return c
}

package orchestrator

import (
	"time"

	"github.com/caarlos0/env/v11"
)

const defaultTicketTTL = 10 * time.Minute

// Config controls the pending-login ticket.
type Config struct {
	// TicketSecret signs tickets. When empty a random key is generated at
	// startup and outstanding tickets do not survive a restart.
	TicketSecret string        `env:"NOVUS_AUTH_TICKET_SECRET"`
	TicketTTL    time.Duration `env:"NOVUS_AUTH_TICKET_TTL" envDefault:"10m"`
}

// LoadConfigFromEnv loads orchestrator configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	_ = env.Parse(&cfg)
	if cfg.TicketTTL <= 0 {
		cfg.TicketTTL = defaultTicketTTL
	}
	return cfg
}

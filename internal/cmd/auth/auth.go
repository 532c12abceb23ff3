// Package auth is the command wiring for the auth authority binary.
package auth

import (
	"context"
	"flag"
	"strings"

	entrypoint "github.com/clyde-sh/novus/internal/platform/cmd"
	"github.com/clyde-sh/novus/internal/platform/logging"
	server "github.com/clyde-sh/novus/internal/services/auth/app"
)

// Config holds auth command configuration.
type Config struct {
	Port     int
	HTTPAddr string
	Log      logging.Config
}

// EnvLookup returns the value for a key when present.
type EnvLookup func(string) (string, bool)

// ParseConfig parses flags into a Config after env defaults.
func ParseConfig(fs *flag.FlagSet, args []string, lookup EnvLookup) (Config, error) {
	cfg := Config{
		Port:     8083,
		HTTPAddr: envOrDefault(lookup, []string{"NOVUS_AUTH_HTTP_ADDR"}, "localhost:8084"),
		Log: logging.Config{
			Level:  envOrDefault(lookup, []string{"NOVUS_LOG_LEVEL"}, "info"),
			Format: envOrDefault(lookup, []string{"NOVUS_LOG_FORMAT"}, "text"),
		},
	}

	fs.IntVar(&cfg.Port, "port", cfg.Port, "The auth gRPC health port")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The auth HTTP server address")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level: debug, info, warn or error")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the auth server with telemetry until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	appCfg, err := server.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	appCfg.GRPCPort = cfg.Port
	appCfg.HTTPAddr = cfg.HTTPAddr

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceAuth, entrypoint.RunOptions{Logger: logger}, func(ctx context.Context) error {
		return server.Run(ctx, appCfg, logger.With("service", entrypoint.ServiceAuth))
	})
}

func envOrDefault(lookup EnvLookup, keys []string, fallback string) string {
	for _, key := range keys {
		if lookup == nil {
			break
		}
		value, ok := lookup(key)
		if ok {
			trimmed := strings.TrimSpace(value)
			if trimmed != "" {
				return trimmed
			}
		}
	}
	return fallback
}

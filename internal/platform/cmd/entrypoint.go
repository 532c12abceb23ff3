// Package cmd holds the shared startup path for service commands.
package cmd

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"strings"
	"time"

	"github.com/clyde-sh/novus/internal/platform/logging"
	"github.com/clyde-sh/novus/internal/platform/otel"
)

const defaultTelemetryShutdown = 5 * time.Second

// ServiceAuth names the auth authority in traces and logs.
const ServiceAuth = "auth"

// RunOptions tunes RunWithTelemetry.
type RunOptions struct {
	// ShutdownTimeout bounds the final trace flush. Zero uses five seconds.
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// ParseArgs parses command-line flags. A nil args slice parses nothing.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag set is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// RunWithTelemetry installs the trace provider for service, calls run and
// flushes traces once run returns. The run error is returned unchanged.
func RunWithTelemetry(ctx context.Context, service string, opts RunOptions, run func(context.Context) error) error {
	service = strings.TrimSpace(service)
	switch {
	case service == "":
		return errors.New("service name is required")
	case run == nil:
		return errors.New("run function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logging.OrDiscard(opts.Logger)

	shutdown, err := otel.Setup(ctx, service)
	if err != nil {
		return err
	}
	defer func() {
		timeout := opts.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultTelemetryShutdown
		}
		flushCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Error("telemetry shutdown", "service", service, "error", err)
		}
	}()
	return run(ctx)
}

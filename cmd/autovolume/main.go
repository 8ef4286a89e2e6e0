// Command autovolume shows the live level of the default audio output as a
// terminal meter and reads or sets the system output volume.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/autovolume/internal/config"
	"github.com/MrWong99/autovolume/internal/observe"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := newCLI(os.Stdout)
	root := c.rootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		// Before the config is loaded there is no logger to report through.
		if c.cfg == nil {
			fmt.Fprintf(os.Stderr, "autovolume: %v\n", err)
		} else {
			slog.Error("autovolume failed", "err", err)
		}
		c.shutdownTelemetry()
		return 1
	}
	c.shutdownTelemetry()
	return 0
}

// setupTelemetry installs the OTel providers. The Prometheus registry is only
// served when the observe server is enabled.
func (c *cli) setupTelemetry(ctx context.Context) error {
	p, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "autovolume",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	c.provider = p
	return nil
}

func (c *cli) shutdownTelemetry() {
	if c.provider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.provider.Shutdown(ctx); err != nil {
		slog.Warn("telemetry shutdown", "err", err)
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

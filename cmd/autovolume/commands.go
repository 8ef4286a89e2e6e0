package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MrWong99/autovolume/internal/app"
	"github.com/MrWong99/autovolume/internal/config"
	"github.com/MrWong99/autovolume/internal/observe"
	"github.com/MrWong99/autovolume/internal/volume"
	"github.com/MrWong99/autovolume/pkg/audio"
)

// cli holds the state shared by all subcommands.
type cli struct {
	out io.Writer
	v   *viper.Viper
	cfg *config.Config

	provider *observe.Provider

	// Test seams; nil selects the real implementation.
	appOptions []app.Option
	runner     volume.Runner
	telemetry  bool
}

func newCLI(out io.Writer) *cli {
	return &cli{out: out, v: config.New(), telemetry: true}
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "autovolume",
		Short: "Live output level meter and volume control",
		Long: `autovolume records the monitor source of the default audio output and
draws its RMS level as a live terminal bar. It can also read and set the
system output volume through wpctl.

Every flag can also be set through an AUTOVOLUME_* environment variable,
e.g. AUTOVOLUME_METER_CLAMP=true.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
		RunE:              c.runMeter,
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{
			Use:   "meter",
			Short: "Show the live output level (default)",
			Args:  cobra.NoArgs,
			RunE:  c.runMeter,
		},
		&cobra.Command{
			Use:   "level",
			Short: "Measure the output level of a single frame",
			Args:  cobra.NoArgs,
			RunE:  c.runLevel,
		},
		c.volumeCmd(),
		&cobra.Command{
			Use:   "config",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				return config.Dump(c.out, c.cfg)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Args:  cobra.NoArgs,
			Run: func(*cobra.Command, []string) {
				fmt.Fprintf(c.out, "autovolume %s\n", version)
			},
		},
	)
	return root
}

func (c *cli) volumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "volume",
		Short: "Read or set the system output volume",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Print the current volume",
			Args:  cobra.NoArgs,
			RunE:  c.runVolumeGet,
		},
		&cobra.Command{
			Use:   "set <value>",
			Short: "Set the volume (0 to 1) and print the volume read back",
			Args:  cobra.ExactArgs(1),
			RunE:  c.runVolumeSet,
		},
	)
	return cmd
}

// setup binds flags, loads the configuration and installs the logger.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	if err := config.BindFlags(c.v, cmd.Flags()); err != nil {
		return err
	}
	cfg, err := config.Load(c.v)
	if err != nil {
		return err
	}
	c.cfg = cfg
	slog.SetDefault(newLogger(cfg.Log.Level))

	if c.telemetry {
		return c.setupTelemetry(cmd.Context())
	}
	return nil
}

func (c *cli) newApp(ctx context.Context) (*app.App, error) {
	opts := []app.Option{app.WithOutput(c.out)}
	if c.provider != nil && c.cfg.Observe.ListenAddr != "" {
		opts = append(opts, app.WithMetricsHandler(c.provider.MetricsHandler()))
	}
	return app.New(ctx, c.cfg, append(opts, c.appOptions...)...)
}

func (c *cli) runMeter(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := c.newApp(ctx)
	if err != nil {
		return err
	}
	defer c.shutdownApp(a)

	slog.Debug("metering, press Ctrl+C to stop")
	return a.Run(ctx)
}

func (c *cli) runLevel(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := c.newApp(ctx)
	if err != nil {
		return err
	}
	defer c.shutdownApp(a)

	level, err := a.Measure(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, formatFloat(level))
	return err
}

func (c *cli) shutdownApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		slog.Warn("shutdown", "err", err)
	}
}

func (c *cli) volume() *volume.Controller {
	return &volume.Controller{
		Utility: c.cfg.Volume.Utility,
		Sink:    c.cfg.Volume.Sink,
		Runner:  c.runner,
	}
}

func (c *cli) runVolumeGet(cmd *cobra.Command, _ []string) error {
	r, err := c.volume().Status(cmd.Context())
	if err != nil {
		return err
	}
	line := formatFloat(r.Volume)
	if r.Muted {
		line += " [MUTED]"
	}
	_, err = fmt.Fprintln(c.out, line)
	return err
}

func (c *cli) runVolumeSet(cmd *cobra.Command, args []string) error {
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid volume %q: %w", args[0], err)
	}

	// The volume read back is printed even when the set failed, so the
	// caller sees what the sink is actually at.
	cur, err := c.volume().Set(cmd.Context(), v)
	var rbErr *volume.ReadBackError
	if errors.As(err, &rbErr) {
		return err
	}
	if _, werr := fmt.Fprintln(c.out, formatFloat(cur)); werr != nil {
		return errors.Join(err, werr)
	}
	return err
}

func formatFloat(v audio.Level) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

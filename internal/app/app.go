// Package app wires the autovolume subsystems into a running meter.
//
// The App struct owns the full lifecycle: New connects to the audio server,
// resolves the default output's monitor source and opens the record stream;
// Run meters until the context ends or the stream fails; Shutdown tears
// everything down in reverse order of construction.
//
// For testing, inject a mock backend via [WithBackend]. When an option is not
// provided, New uses the real PulseAudio backend and writes to stdout.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/autovolume/internal/capture"
	"github.com/MrWong99/autovolume/internal/config"
	"github.com/MrWong99/autovolume/internal/health"
	"github.com/MrWong99/autovolume/internal/meter"
	"github.com/MrWong99/autovolume/internal/observe"
	"github.com/MrWong99/autovolume/internal/session"
	"github.com/MrWong99/autovolume/pkg/audio"
	"github.com/MrWong99/autovolume/pkg/audio/pulse"
)

const (
	// serverShutdownTimeout bounds the observe server's graceful shutdown.
	serverShutdownTimeout = 5 * time.Second

	// staleFrameAge is how long /readyz tolerates no metered frame.
	staleFrameAge = 2 * time.Second
)

// App owns the session, the capture stream and the meter.
type App struct {
	cfg            *config.Config
	backend        audio.Backend
	out            io.Writer
	metrics        *observe.Metrics
	metricsHandler http.Handler

	// Subsystems, initialised in New and torn down in Shutdown.
	sess     *session.Session
	stream   *capture.Stream
	feed     *meter.Feed
	renderer *meter.Renderer

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithBackend injects an audio backend instead of the PulseAudio client.
func WithBackend(b audio.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithOutput sets where the monitor source notice and the meter are written.
// Default: os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at /metrics on the observe server.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// New connects to the audio server, resolves the default output's monitor
// source, announces it on the output and opens the record stream. Any failure
// is fatal and returned as is; partially acquired resources are released.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.backend == nil {
		a.backend = pulse.New()
	}
	if a.out == nil {
		a.out = os.Stdout
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.init(ctx); err != nil {
		_ = a.Shutdown(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	sess, err := session.Connect(ctx, a.backend, session.Options{
		ClientName: a.cfg.Audio.ClientName,
		Server:     a.cfg.Audio.Server,
		Metrics:    a.metrics,
	})
	if err != nil {
		return err
	}
	a.sess = sess
	a.closers = append(a.closers, sess.Close)

	source, err := sess.ResolveDefaultOutputMonitor(ctx)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(a.out, "Using monitor source: %s\n", source); err != nil {
		return fmt.Errorf("app: write output: %w", err)
	}

	stream, err := capture.Open(ctx, a.backend, source,
		a.cfg.Audio.StreamSpec(), a.cfg.Audio.BufferPolicy(),
		capture.WithClientName(a.cfg.Audio.ClientName),
		capture.WithServer(a.cfg.Audio.Server),
		capture.WithStreamName(a.cfg.Audio.StreamName),
		capture.WithOpenRetry(a.cfg.Audio.OpenRetry, 0),
		capture.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.stream = stream
	a.closers = append(a.closers, stream.Close)

	a.feed = meter.NewFeed(a.cfg.Observe.FeedInterval, a.metrics)
	a.renderer = &meter.Renderer{
		Width: a.cfg.Meter.Width,
		Clamp: a.cfg.Meter.Clamp,
		Out:   a.out,
	}

	slog.Info("capture started",
		"source", source,
		"spec", stream.Spec().String(),
		"frame_samples", a.cfg.Audio.FrameSamples,
	)
	return nil
}

// Source returns the monitor source being metered.
func (a *App) Source() string { return a.stream.Source() }

// Run meters until ctx is cancelled or a frame read fails. When
// observe.listen_addr is set, the observe server runs alongside the meter.
// The meter line is terminated with a newline and the record stream is closed
// before Run returns.
func (a *App) Run(ctx context.Context) error {
	var ln net.Listener
	if addr := a.cfg.Observe.ListenAddr; addr != "" {
		var err error
		if ln, err = net.Listen("tcp", addr); err != nil {
			return fmt.Errorf("app: observe server: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if ln != nil {
		a.serve(gctx, g, ln)
	}

	loop := &meter.Loop{
		Reader:       a.stream,
		Renderer:     a.renderer,
		FrameSamples: a.cfg.Audio.FrameSamples,
		Interval:     a.cfg.Meter.Interval,
		Feed:         a.feed,
		Metrics:      a.metrics,
	}
	g.Go(func() error {
		return loop.Run(gctx)
	})

	// A blocked read only returns once the stream is closed.
	stop := context.AfterFunc(gctx, a.closeStream)

	err := g.Wait()
	stop()
	a.closeStream()
	if ferr := a.renderer.Finish(); ferr != nil && err == nil {
		err = fmt.Errorf("app: finish meter line: %w", ferr)
	}
	return err
}

// serve runs the observe server on ln until ctx ends.
func (a *App) serve(ctx context.Context, g *errgroup.Group, ln net.Listener) {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("observe server listening", "addr", ln.Addr().String())

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: observe server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// Handler returns the observe server's routes: /metrics (when a metrics
// handler was provided), /healthz, /readyz and the /levels websocket feed.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	health.New(
		health.SessionReady(a.sess.State),
		health.StreamOpen(a.stream.IsOpen),
		health.FramesFlowing(a.feed.LastPublish, staleFrameAge),
	).Register(mux)
	mux.Handle("GET /levels", a.feed)
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) closeStream() {
	if err := a.stream.Close(); err != nil {
		slog.Warn("close record stream", "err", err)
	}
}

// Measure reads a single frame and returns its RMS level. Cancelling ctx
// closes the stream to abort a blocked read.
func (a *App) Measure(ctx context.Context) (float64, error) {
	stop := context.AfterFunc(ctx, func() { _ = a.stream.Close() })
	defer stop()

	samples := a.cfg.Audio.FrameSamples
	if samples <= 0 {
		samples = audio.DefaultFrameSamples
	}
	frame := make(audio.PcmFrame, samples)

	start := time.Now()
	if err := a.stream.Read(frame); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		a.metrics.RecordReadError(ctx)
		return 0, err
	}
	level := audio.FrameLevel(frame)
	a.metrics.RecordFrame(ctx, time.Since(start), level)
	a.feed.Publish(level)
	return level, nil
}

// Shutdown closes the stream and the session. It is safe to call more than
// once. If ctx expires before all closers finish, the remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Debug("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Debug("shutdown complete")
	})
	return shutdownErr
}

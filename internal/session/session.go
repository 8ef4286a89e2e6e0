// Package session owns the connection to the audio server and exposes a
// blocking API over its event-driven transport.
//
// [Connect] drives the backend's event loop until the connection is Ready or
// has failed. [Session.ResolveDefaultOutputMonitor] bridges the asynchronous
// server-info introspection into a synchronous result: the reply callback
// fills a single-slot completion cell scoped to the call, and the caller keeps
// iterating the loop until the cell is filled. Iterating is both what triggers
// the callback and how the caller waits for it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/autovolume/internal/observe"
	"github.com/MrWong99/autovolume/pkg/audio"
)

// DefaultClientName is the client name announced to the audio server.
const DefaultClientName = "auto_volume"

// ErrConnection is wrapped by every [ConnectionError].
var ErrConnection = errors.New("could not connect to the audio server")

// ErrNoDefaultSink is wrapped by a [ResolutionError] when the server reports
// no default output device.
var ErrNoDefaultSink = errors.New("no default sink found")

// ConnectionError reports that the audio server was unreachable or the
// connection ended before reaching Ready. It is fatal for the session.
type ConnectionError struct {
	// State is the last state observed before giving up.
	State audio.ConnState
	Err   error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil && !errors.Is(e.Err, ErrConnection) {
		return fmt.Sprintf("session: %v (state %s): %v", ErrConnection, e.State, e.Err)
	}
	return fmt.Sprintf("session: %v (state %s)", ErrConnection, e.State)
}

func (e *ConnectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConnection}
	}
	return []error{ErrConnection, e.Err}
}

// ResolutionError reports that the default output monitor could not be
// determined. It is fatal for startup.
type ResolutionError struct {
	Err error
}

func (e *ResolutionError) Error() string {
	return "session: resolve default output: " + e.Err.Error()
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Options configures [Connect].
type Options struct {
	// ClientName is announced to the server. Default: [DefaultClientName].
	ClientName string

	// Server selects the server; empty means the default server.
	Server string

	// Metrics receives startup stage timings. Nil uses [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Session is a Ready connection to the audio server.
//
// A Session is meant to be used from a single goroutine, the one that drives
// the event loop.
type Session struct {
	backend audio.Backend
	metrics *observe.Metrics

	clientName string
	server     string

	closeOnce sync.Once
}

// Connect connects backend to the audio server and iterates its event loop,
// blocking, until the connection is Ready. A Failed or Terminated state
// before Ready yields a [ConnectionError]; no retry is attempted.
func Connect(ctx context.Context, backend audio.Backend, opts Options) (_ *Session, err error) {
	if opts.ClientName == "" {
		opts.ClientName = DefaultClientName
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}

	ctx, finish := observe.StartStage(ctx, opts.Metrics, observe.StageConnect)
	defer func() { finish(err) }()
	start := time.Now()

	if err := backend.Connect(opts.ClientName, opts.Server); err != nil {
		return nil, &ConnectionError{State: backend.State(), Err: err}
	}

	for {
		switch state := backend.State(); state {
		case audio.StateReady:
			observe.Logger(ctx).Debug("audio server connection ready",
				"client_name", opts.ClientName,
				"server", opts.Server,
				"duration", time.Since(start),
			)
			return &Session{
				backend:    backend,
				metrics:    opts.Metrics,
				clientName: opts.ClientName,
				server:     opts.Server,
			}, nil
		case audio.StateFailed, audio.StateTerminated:
			return nil, &ConnectionError{State: state}
		}

		if err := backend.Iterate(ctx, true); err != nil {
			return nil, &ConnectionError{State: backend.State(), Err: err}
		}
	}
}

// State returns the current connection state.
func (s *Session) State() audio.ConnState {
	return s.backend.State()
}

// ClientName returns the client name the session connected with.
func (s *Session) ClientName() string { return s.clientName }

// Server returns the server the session connected to; empty means default.
func (s *Session) Server() string { return s.server }

// Backend returns the underlying backend, e.g. to open record streams.
func (s *Session) Backend() audio.Backend { return s.backend }

// ResolveDefaultOutputMonitor asks the server for its default sink and returns
// the name of that sink's monitor source ("<sink>.monitor").
func (s *Session) ResolveDefaultOutputMonitor(ctx context.Context) (_ string, err error) {
	ctx, finish := observe.StartStage(ctx, s.metrics, observe.StageResolve)
	defer func() { finish(err) }()

	sink, err := s.defaultSinkName(ctx)
	if err != nil {
		return "", &ResolutionError{Err: err}
	}

	monitor := audio.MonitorSource(sink)
	observe.Logger(ctx).Debug("resolved default output", "sink", sink, "monitor", monitor)
	return monitor, nil
}

// defaultSinkName runs the server-info request to completion.
func (s *Session) defaultSinkName(ctx context.Context) (string, error) {
	var res slot[audio.ServerInfo]
	s.backend.GetServerInfo(res.fill)

	for {
		if info, done, err := res.get(); done {
			if err != nil {
				return "", err
			}
			if info.DefaultSinkName == "" {
				return "", ErrNoDefaultSink
			}
			return info.DefaultSinkName, nil
		}
		if state := s.backend.State(); state.IsTerminal() {
			return "", &ConnectionError{State: state}
		}
		if err := s.backend.Iterate(ctx, true); err != nil {
			return "", fmt.Errorf("waiting for server info: %w", err)
		}
	}
}

// Close disconnects from the server. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.backend.Close()
		if err != nil {
			slog.Warn("session: close backend", "err", err)
		}
	})
	return err
}

// slot is a single-assignment completion cell shared between an event-loop
// callback and the goroutine waiting on it. Only the first fill counts.
type slot[T any] struct {
	mu    sync.Mutex
	done  bool
	value T
	err   error
}

func (s *slot[T]) fill(v T, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.value, s.err, s.done = v, err, true
}

func (s *slot[T]) get() (T, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.done, s.err
}

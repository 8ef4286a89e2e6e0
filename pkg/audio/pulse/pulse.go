// Package pulse implements [audio.Backend] on top of the native PulseAudio
// protocol client github.com/jfreymuth/pulse.
//
// The protocol client itself is synchronous. Backend turns it back into an
// event-loop API: every request runs on a helper goroutine and posts its
// completion to an event queue, and completions are only applied while the
// caller is inside [Backend.Iterate], the same way a libpulse main loop
// behaves. The one exception is a record stream that stalls: nobody iterates
// while metering, so the lost server moves the connection to Failed at once.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"

	"github.com/MrWong99/autovolume/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Backend      = (*Backend)(nil)
	_ audio.RecordStream = (*recordStream)(nil)
)

const (
	eventQueueSize      = 16
	defaultStallTimeout = 10 * time.Second
)

// ErrNotReady is reported when a request needs a ready connection.
var ErrNotReady = errors.New("pulse: connection is not ready")

// ErrStalled is returned by a record stream that delivered no data within the
// stall timeout, which is how a vanished server or source shows up.
var ErrStalled = errors.New("pulse: record stream stalled")

// Backend is an [audio.Backend] backed by a PulseAudio protocol client.
// It is safe for concurrent use, but only one goroutine should drive Iterate.
type Backend struct {
	stallTimeout time.Duration

	mu     sync.Mutex
	client *pulse.Client
	state  audio.ConnState

	events    chan func()
	closeOnce sync.Once
}

// Option configures a [Backend].
type Option func(*Backend)

// WithStallTimeout sets how long a record stream may go without data before
// Read fails with [ErrStalled]. Zero disables the watchdog. Default: 10s.
func WithStallTimeout(d time.Duration) Option {
	return func(b *Backend) {
		if d >= 0 {
			b.stallTimeout = d
		}
	}
}

// New creates an unconnected Backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		stallTimeout: defaultStallTimeout,
		events:       make(chan func(), eventQueueSize),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Connect implements [audio.Backend]. The dial happens in the background; the
// resulting Ready or Failed state is applied by a later Iterate call.
func (b *Backend) Connect(clientName, server string) error {
	b.mu.Lock()
	if b.state != audio.StateUnconnected {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("pulse: connect: backend is %s", state)
	}
	b.state = audio.StateConnecting
	b.mu.Unlock()

	opts := clientOptions(clientName, server)
	go func() {
		c, err := pulse.NewClient(opts...)
		b.post(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if err != nil {
				slog.Debug("pulse: connect failed", "server", server, "err", err)
				b.state = audio.StateFailed
				return
			}
			if b.state == audio.StateTerminated {
				c.Close()
				return
			}
			b.client = c
			b.state = audio.StateReady
		})
	}()
	return nil
}

// State implements [audio.Backend].
func (b *Backend) State() audio.ConnState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Iterate implements [audio.Backend].
func (b *Backend) Iterate(ctx context.Context, block bool) error {
	if !block {
		select {
		case fn := <-b.events:
			fn()
		default:
		}
		return nil
	}
	select {
	case fn := <-b.events:
		fn()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetServerInfo implements [audio.Backend].
func (b *Backend) GetServerInfo(cb func(audio.ServerInfo, error)) {
	b.mu.Lock()
	c := b.client
	b.mu.Unlock()

	go func() {
		if c == nil {
			b.post(func() { cb(audio.ServerInfo{}, ErrNotReady) })
			return
		}
		var rpl proto.GetServerInfoReply
		err := c.RawRequest(&proto.GetServerInfo{}, &rpl)
		if err != nil {
			err = fmt.Errorf("pulse: get server info: %w", err)
		}
		info := audio.ServerInfo{DefaultSinkName: rpl.DefaultSinkName}
		b.post(func() { cb(info, err) })
	}()
}

// Close implements [audio.Backend].
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.client != nil {
			b.client.Close()
			b.client = nil
		}
		b.state = audio.StateTerminated
	})
	return nil
}

// OpenRecord implements [audio.RecordOpener]. Like the simple API of
// libpulse, every record stream gets its own protocol connection so that a
// slow reader never stalls introspection on the session connection.
func (b *Backend) OpenRecord(ctx context.Context, req audio.RecordRequest) (audio.RecordStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Spec.Format != audio.FormatS32LE {
		return nil, fmt.Errorf("pulse: open record: unsupported sample format %s", req.Spec.Format)
	}
	var channels pulse.RecordOption
	switch req.Spec.Channels {
	case 1:
		channels = pulse.RecordMono
	case 2:
		channels = pulse.RecordStereo
	default:
		return nil, fmt.Errorf("pulse: open record: unsupported channel count %d", req.Spec.Channels)
	}

	c, err := pulse.NewClient(clientOptions(req.ClientName, req.Server)...)
	if err != nil {
		return nil, fmt.Errorf("pulse: open record: connect: %w", err)
	}

	src, err := c.SourceByID(req.Source)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("pulse: open record: source %q: %w", req.Source, err)
	}

	pr, pw := io.Pipe()
	rs := &recordStream{r: pr, w: pw, client: c, onStall: b.lost}
	maxLength := req.Policy.MaxLength

	stream, err := c.NewRecord(pulse.NewWriter(rs, proto.FormatInt32LE),
		pulse.RecordSource(src),
		channels,
		pulse.RecordSampleRate(req.Spec.SampleRate),
		pulse.RecordBufferFragmentSize(req.Policy.FragmentSize),
		pulse.RecordRawOption(func(cmd *proto.CreateRecordStream) {
			cmd.BufferMaxLength = maxLength
		}),
		pulse.RecordMediaName(req.StreamName),
	)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("pulse: open record: create stream on %q: %w", req.Source, err)
	}
	rs.stream = stream

	if b.stallTimeout > 0 {
		rs.watchdog = time.AfterFunc(b.stallTimeout, func() {
			pw.CloseWithError(ErrStalled)
		})
		rs.stallTimeout = b.stallTimeout
	}

	stream.Start()
	slog.Debug("pulse: record stream started",
		"source", req.Source,
		"spec", req.Spec.String(),
		"max_length", req.Policy.MaxLength,
		"fragment_size", req.Policy.FragmentSize,
	)
	return rs, nil
}

// lost marks a Ready connection Failed after a record stream stopped
// receiving data. A closed backend stays Terminated.
func (b *Backend) lost() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != audio.StateReady {
		return
	}
	slog.Warn("pulse: record stream stalled, audio server lost")
	b.state = audio.StateFailed
}

// post queues fn for dispatch by Iterate.
func (b *Backend) post(fn func()) {
	b.events <- fn
}

func clientOptions(clientName, server string) []pulse.ClientOption {
	opts := []pulse.ClientOption{pulse.ClientApplicationName(clientName)}
	if server != "" {
		opts = append(opts, pulse.ClientServerString(server))
	}
	return opts
}

// recordStream bridges the push-style protocol stream into a blocking reader.
// The protocol client writes captured bytes into Write, which hands them to
// the pipe; Read drains the pipe.
type recordStream struct {
	r *io.PipeReader
	w *io.PipeWriter

	client *pulse.Client
	stream *pulse.RecordStream

	stallTimeout time.Duration
	watchdog     *time.Timer
	onStall      func()

	closeOnce sync.Once
}

// Write is called by the protocol client with freshly captured bytes.
func (s *recordStream) Write(p []byte) (int, error) {
	if s.watchdog != nil {
		s.watchdog.Reset(s.stallTimeout)
	}
	return s.w.Write(p)
}

// Read implements [io.Reader].
func (s *recordStream) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if errors.Is(err, ErrStalled) && s.onStall != nil {
		s.onStall()
	}
	return n, err
}

// Close implements [io.Closer]. The pipe reader is closed first so a pending
// Write returns and the protocol client can process the stop request.
func (s *recordStream) Close() error {
	s.closeOnce.Do(func() {
		if s.watchdog != nil {
			s.watchdog.Stop()
		}
		s.r.Close()
		if s.stream != nil {
			s.stream.Stop()
			s.stream.Close()
		}
		if s.client != nil {
			s.client.Close()
		}
		s.w.Close()
	})
	return nil
}

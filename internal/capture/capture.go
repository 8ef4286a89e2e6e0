// Package capture opens a record stream on a monitor source and reads
// fixed-size PCM frames from it.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/MrWong99/autovolume/internal/observe"
	"github.com/MrWong99/autovolume/pkg/audio"
)

// DefaultStreamName is the media name shown by the server for the stream.
const DefaultStreamName = "Monitor Capture"

const defaultRetryDelay = 250 * time.Millisecond

// OpenError reports that the record stream could not be opened.
type OpenError struct {
	Source string
	Err    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("capture: open record stream on %q: %v", e.Source, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// ReadError reports a short read, end of stream or transport failure. The
// stream is unusable afterwards.
type ReadError struct {
	// Read is the number of bytes received before the failure.
	Read int
	Want int
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("capture: read frame (%d of %d bytes): %v", e.Read, e.Want, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Option configures [Open].
type Option func(*options)

type options struct {
	clientName string
	server     string
	streamName string
	retries    int
	retryDelay time.Duration
	metrics    *observe.Metrics
}

// WithClientName sets the client name used for the stream connection.
func WithClientName(name string) Option {
	return func(o *options) { o.clientName = name }
}

// WithServer selects the audio server; empty means the default server.
func WithServer(server string) Option {
	return func(o *options) { o.server = server }
}

// WithStreamName sets the stream's media name. Default: [DefaultStreamName].
func WithStreamName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.streamName = name
		}
	}
}

// WithOpenRetry allows n additional open attempts, delay apart. Negative
// values are ignored.
func WithOpenRetry(n int, delay time.Duration) Option {
	return func(o *options) {
		if n >= 0 {
			o.retries = n
		}
		if delay >= 0 {
			o.retryDelay = delay
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Stream is an open record stream delivering S32LE frames.
//
// Read is meant to be called from a single goroutine. IsOpen may be called
// from anywhere.
type Stream struct {
	rs     audio.RecordStream
	source string
	spec   audio.StreamSpec
	policy audio.BufferPolicy

	buf    []byte
	closed atomic.Bool
}

// Open validates spec and policy and opens a record stream on source.
func Open(ctx context.Context, opener audio.RecordOpener, source string, spec audio.StreamSpec, policy audio.BufferPolicy, opts ...Option) (_ *Stream, err error) {
	o := options{
		streamName: DefaultStreamName,
		retryDelay: defaultRetryDelay,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}

	ctx, finish := observe.StartStage(ctx, o.metrics, observe.StageOpen)
	defer func() { finish(err) }()

	if verr := errors.Join(spec.Validate(), policy.Validate()); verr != nil {
		return nil, &OpenError{Source: source, Err: verr}
	}

	req := audio.RecordRequest{
		ClientName: o.clientName,
		StreamName: o.streamName,
		Server:     o.server,
		Source:     source,
		Spec:       spec,
		Policy:     policy,
	}

	var rs audio.RecordStream
	for attempt := 0; ; attempt++ {
		rs, err = opener.OpenRecord(ctx, req)
		if err == nil {
			break
		}
		if attempt >= o.retries || ctx.Err() != nil {
			return nil, &OpenError{Source: source, Err: err}
		}
		observe.Logger(ctx).Warn("capture: open failed, retrying",
			"source", source,
			"attempt", attempt+1,
			"err", err,
		)
		select {
		case <-time.After(o.retryDelay):
		case <-ctx.Done():
			return nil, &OpenError{Source: source, Err: errors.Join(err, ctx.Err())}
		}
	}

	observe.Logger(ctx).Debug("capture: record stream open",
		"source", source,
		"spec", spec.String(),
		"stream_name", o.streamName,
	)
	return &Stream{rs: rs, source: source, spec: spec, policy: policy}, nil
}

// Source returns the monitor source name the stream records from.
func (s *Stream) Source() string { return s.source }

// Spec returns the stream's sample specification.
func (s *Stream) Spec() audio.StreamSpec { return s.spec }

// Policy returns the buffer policy the stream was requested with.
func (s *Stream) Policy() audio.BufferPolicy { return s.policy }

// IsOpen reports whether Close has not been called yet.
func (s *Stream) IsOpen() bool { return !s.closed.Load() }

// Read blocks until len(frame) samples have been received and decodes them
// into frame. len(frame) must be a multiple of the channel count.
func (s *Stream) Read(frame audio.PcmFrame) error {
	if ch := s.spec.Channels; ch > 0 && len(frame)%ch != 0 {
		return fmt.Errorf("capture: frame of %d samples is not a multiple of %d channels", len(frame), ch)
	}
	if s.closed.Load() {
		return &ReadError{Want: audio.FrameBytes(len(frame), s.spec.Format), Err: io.ErrClosedPipe}
	}

	want := audio.FrameBytes(len(frame), s.spec.Format)
	if cap(s.buf) < want {
		s.buf = make([]byte, want)
	}
	buf := s.buf[:want]

	n, err := io.ReadFull(s.rs, buf)
	if err != nil {
		return &ReadError{Read: n, Want: want, Err: err}
	}
	if err := audio.DecodeS32LE(frame, buf); err != nil {
		return &ReadError{Read: n, Want: want, Err: err}
	}
	return nil
}

// Close releases the record stream. It is safe to call more than once.
func (s *Stream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if err := s.rs.Close(); err != nil {
		return fmt.Errorf("capture: close: %w", err)
	}
	return nil
}

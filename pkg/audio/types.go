package audio

import (
	"errors"
	"fmt"
)

// SampleFormat identifies the on-the-wire encoding of one PCM sample.
type SampleFormat int

const (
	// FormatS32LE is signed 32-bit little-endian PCM. It is the only format
	// the capture pipeline reads.
	FormatS32LE SampleFormat = iota + 1
)

// SampleSize returns the number of bytes occupied by one sample, or 0 for an
// unknown format.
func (f SampleFormat) SampleSize() int {
	switch f {
	case FormatS32LE:
		return 4
	default:
		return 0
	}
}

// String returns the conventional short name of the format.
func (f SampleFormat) String() string {
	switch f {
	case FormatS32LE:
		return "s32le"
	default:
		return "unknown"
	}
}

// Limits accepted by the audio server for a sample specification.
const (
	MaxSampleRate = 48000 * 8
	MaxChannels   = 32
)

// StreamSpec is the sample specification of the capture stream. It is built
// once at startup and never mutated.
type StreamSpec struct {
	Format     SampleFormat
	SampleRate int
	Channels   int
}

// DefaultStreamSpec returns the fixed capture format: S32LE, 48 kHz, stereo.
func DefaultStreamSpec() StreamSpec {
	return StreamSpec{
		Format:     FormatS32LE,
		SampleRate: 48000,
		Channels:   2,
	}
}

// Validate reports whether the server would accept s.
func (s StreamSpec) Validate() error {
	var errs []error
	if s.Format.SampleSize() == 0 {
		errs = append(errs, fmt.Errorf("sample format %d is not supported", int(s.Format)))
	}
	if s.SampleRate <= 0 || s.SampleRate > MaxSampleRate {
		errs = append(errs, fmt.Errorf("sample rate %d is out of range (0, %d]", s.SampleRate, MaxSampleRate))
	}
	if s.Channels < 1 || s.Channels > MaxChannels {
		errs = append(errs, fmt.Errorf("channel count %d is out of range [1, %d]", s.Channels, MaxChannels))
	}
	return errors.Join(errs...)
}

// BytesPerSecond returns the byte rate of a stream with this spec.
func (s StreamSpec) BytesPerSecond() int {
	return s.SampleRate * s.Channels * s.Format.SampleSize()
}

// String returns a human-readable description, e.g. "s32le 48000Hz stereo".
func (s StreamSpec) String() string {
	return s.Format.String() + " " + formatString(s.SampleRate, s.Channels)
}

// BufferPolicy holds the byte sizes that trade capture latency against
// dropout risk. Record streams honour MaxLength and FragmentSize; the other
// fields are carried for playback-direction servers and validated only.
type BufferPolicy struct {
	MaxLength    uint32
	TargetLength uint32
	PreBuffer    uint32
	MinRequest   uint32
	FragmentSize uint32
}

// DefaultBufferPolicy returns the low-latency policy used for monitor capture:
// a 4 KiB ceiling with 1 KiB fragments.
func DefaultBufferPolicy() BufferPolicy {
	return BufferPolicy{
		MaxLength:    4096,
		TargetLength: 2048,
		PreBuffer:    0,
		MinRequest:   1024,
		FragmentSize: 1024,
	}
}

// Validate checks the policy invariants.
func (p BufferPolicy) Validate() error {
	var errs []error
	if p.MaxLength == 0 {
		errs = append(errs, errors.New("max length must be non-zero"))
	}
	if p.TargetLength > p.MaxLength {
		errs = append(errs, fmt.Errorf("target length %d exceeds max length %d", p.TargetLength, p.MaxLength))
	}
	if p.FragmentSize > p.MaxLength {
		errs = append(errs, fmt.Errorf("fragment size %d exceeds max length %d", p.FragmentSize, p.MaxLength))
	}
	if p.PreBuffer > p.TargetLength {
		errs = append(errs, fmt.Errorf("pre-buffer %d exceeds target length %d", p.PreBuffer, p.TargetLength))
	}
	return errors.Join(errs...)
}

// ConnState is the connection state reported by the audio server's event loop.
type ConnState int

const (
	StateUnconnected ConnState = iota
	StateConnecting
	StateReady
	StateFailed
	StateTerminated
)

// String returns the human-readable name of the state.
func (s ConnState) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether s can never become Ready again.
func (s ConnState) IsTerminal() bool {
	return s == StateFailed || s == StateTerminated
}

// ServerInfo is the subset of the server-info introspection reply the meter
// consumes.
type ServerInfo struct {
	// DefaultSinkName is the name of the active output device. Empty when the
	// server has no default sink.
	DefaultSinkName string
}

// MonitorSource returns the loopback source that mirrors sink.
func MonitorSource(sink string) string {
	return sink + ".monitor"
}

// PcmFrame is one block of interleaved signed 32-bit samples.
type PcmFrame []int32

// NormalizedFrame holds the samples of a PcmFrame scaled to roughly [-1, 1].
type NormalizedFrame []float64

// Level is the RMS loudness of one frame, nominally in [0, 1].
type Level = float64

// DefaultFrameSamples is the number of samples (all channels) read per frame.
const DefaultFrameSamples = 512

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}

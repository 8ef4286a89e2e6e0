// Package volume reads and sets the system output volume through an external
// control utility such as wpctl.
//
// The controller is stateless: every call runs the utility, and a successful
// set is always followed by a fresh read, so the returned value is whatever
// the utility reports after its own rounding.
package volume

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/autovolume/internal/observe"
)

const (
	// DefaultUtility is the volume control utility.
	DefaultUtility = "wpctl"

	// DefaultSink addresses the default output device.
	DefaultSink = "@DEFAULT_AUDIO_SINK@"

	// replyPrefixLen is the length of the "Volume: " prefix of a get-volume
	// reply.
	replyPrefixLen = 8

	mutedMarker = "[MUTED]"
)

// ErrOutOfRange is returned by [Controller.Set] for values outside [0, 1].
var ErrOutOfRange = errors.New("volume: value must be between 0 and 1")

// CommandError reports that the utility ran but exited non-zero, or could not
// be started.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	cmd := strings.Join(e.Args, " ")
	if e.Err != nil {
		return fmt.Sprintf("volume: run %q: %v", cmd, e.Err)
	}
	msg := fmt.Sprintf("volume: %q exited with status %d", cmd, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// ParseError reports a get-volume reply that does not carry a number.
type ParseError struct {
	Output string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("volume: parse reply %q: %v", e.Output, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ReadBackError reports that the volume could not be re-read after a set.
// The value returned alongside it is meaningless.
type ReadBackError struct {
	Err error
}

func (e *ReadBackError) Error() string {
	return "volume: read back: " + e.Err.Error()
}

func (e *ReadBackError) Unwrap() error { return e.Err }

// Reading is a parsed get-volume reply.
type Reading struct {
	Volume float64
	Muted  bool
}

// ParseVolume parses a get-volume reply such as "Volume: 0.40 [MUTED]\n".
// The fixed-width prefix is skipped without being checked. The value may
// exceed 1 for boosted sinks but must be finite and not negative.
func ParseVolume(out []byte) (Reading, error) {
	s := string(out)
	if len(s) <= replyPrefixLen {
		return Reading{}, &ParseError{Output: s, Err: errors.New("reply too short")}
	}
	fields := strings.Fields(s[replyPrefixLen:])
	if len(fields) == 0 {
		return Reading{}, &ParseError{Output: s, Err: errors.New("no volume value")}
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Reading{}, &ParseError{Output: s, Err: err}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return Reading{}, &ParseError{Output: s, Err: fmt.Errorf("volume %v is not a level", v)}
	}
	return Reading{Volume: v, Muted: slices.Contains(fields[1:], mutedMarker)}, nil
}

// Controller runs the volume utility against one sink. The zero value uses
// wpctl on the default sink.
type Controller struct {
	Utility string
	Sink    string
	Runner  Runner

	// Metrics receives per-command measurements. Nil uses
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Get returns the current volume.
func (c *Controller) Get(ctx context.Context) (float64, error) {
	r, err := c.Status(ctx)
	return r.Volume, err
}

// Status returns the current volume and mute flag.
func (c *Controller) Status(ctx context.Context) (Reading, error) {
	out, err := c.run(ctx, "get", "get-volume", c.sink())
	if err != nil {
		return Reading{}, err
	}
	return ParseVolume(out)
}

// Set sets the volume to v and returns the volume read back afterwards.
//
// An out-of-range v is not sent; Set returns the current volume with
// [ErrOutOfRange]. A failing set command is logged and Set returns the
// current volume together with the *[CommandError]. When the volume cannot be
// re-read, the error includes a *[ReadBackError] and the returned value is 0.
func (c *Controller) Set(ctx context.Context, v float64) (float64, error) {
	ctx, span := observe.StartSpan(ctx, "volume.set")
	defer span.End()
	log := observe.Logger(ctx)

	if math.IsNaN(v) || v < 0 || v > 1 {
		log.Warn("volume: invalid value, must be between 0 and 1", "value", v)
		observe.SpanError(span, ErrOutOfRange)
		cur, err := c.readBack(ctx)
		return cur, errors.Join(ErrOutOfRange, err)
	}

	_, setErr := c.run(ctx, "set", "set-volume", c.sink(), strconv.FormatFloat(v, 'f', -1, 64))
	if setErr != nil {
		var cmdErr *CommandError
		if errors.As(setErr, &cmdErr) {
			log.Error("volume: set command failed",
				"exit_code", cmdErr.ExitCode,
				"stderr", cmdErr.Stderr,
				"err", cmdErr.Err,
			)
		}
		observe.SpanError(span, setErr)
	}

	cur, err := c.readBack(ctx)
	return cur, errors.Join(setErr, err)
}

func (c *Controller) readBack(ctx context.Context) (float64, error) {
	v, err := c.Get(ctx)
	if err != nil {
		return 0, &ReadBackError{Err: err}
	}
	return v, nil
}

func (c *Controller) run(ctx context.Context, op string, args ...string) ([]byte, error) {
	utility := c.Utility
	if utility == "" {
		utility = DefaultUtility
	}
	runner := c.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	m := c.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}

	start := time.Now()
	stdout, stderr, code, err := runner.Run(ctx, utility, args...)
	ok := err == nil && code == 0
	m.RecordVolumeCommand(ctx, op, time.Since(start), ok)
	if ok {
		return stdout, nil
	}
	return nil, &CommandError{
		Args:     append([]string{utility}, args...),
		ExitCode: code,
		Stderr:   strings.TrimSpace(string(stderr)),
		Err:      err,
	}
}

func (c *Controller) sink() string {
	if c.Sink == "" {
		return DefaultSink
	}
	return c.Sink
}

package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/autovolume/pkg/audio"
)

// SessionReady fails unless state reports [audio.StateReady].
func SessionReady(state func() audio.ConnState) Checker {
	return Checker{
		Name: "session",
		Check: func(context.Context) error {
			if s := state(); s != audio.StateReady {
				return fmt.Errorf("connection is %s", s)
			}
			return nil
		},
	}
}

// StreamOpen fails once the record stream has been closed.
func StreamOpen(isOpen func() bool) Checker {
	return Checker{
		Name: "stream",
		Check: func(context.Context) error {
			if !isOpen() {
				return errors.New("record stream is closed")
			}
			return nil
		},
	}
}

// FramesFlowing fails when no frame has been metered within maxAge. A zero
// last time means metering has not started yet.
func FramesFlowing(last func() time.Time, maxAge time.Duration) Checker {
	return Checker{
		Name: "frames",
		Check: func(context.Context) error {
			t := last()
			if t.IsZero() {
				return errors.New("no frame metered yet")
			}
			if age := time.Since(t); age > maxAge {
				return fmt.Errorf("last frame %s ago", age.Round(time.Millisecond))
			}
			return nil
		},
	}
}

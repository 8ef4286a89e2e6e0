package meter

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/autovolume/internal/observe"
	"github.com/MrWong99/autovolume/pkg/audio"
)

// FrameReader is the source of PCM frames for a [Loop].
type FrameReader interface {
	Read(frame audio.PcmFrame) error
}

// Loop repeatedly reads a frame, computes its RMS level, and renders it.
type Loop struct {
	Reader   FrameReader
	Renderer *Renderer

	// FrameSamples is the frame length in samples. Zero uses
	// [audio.DefaultFrameSamples].
	FrameSamples int

	// Interval is the pause between frames. Zero disables it.
	Interval time.Duration

	// Feed, when non-nil, receives every level.
	Feed *Feed

	// Metrics receives per-frame measurements. Nil uses
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Run meters until ctx is cancelled or a read fails. Cancellation is a clean
// exit; a read error is returned as is. A read that fails because ctx was
// cancelled while it was blocked also counts as a clean exit, which lets the
// caller unblock Run by closing the stream after cancelling ctx.
func (l *Loop) Run(ctx context.Context) error {
	samples := l.FrameSamples
	if samples <= 0 {
		samples = audio.DefaultFrameSamples
	}
	m := l.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}

	frame := make(audio.PcmFrame, samples)
	norm := make(audio.NormalizedFrame, samples)

	var pause *time.Timer
	if l.Interval > 0 {
		pause = time.NewTimer(l.Interval)
		defer pause.Stop()
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		start := time.Now()
		if err := l.Reader.Read(frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.RecordReadError(ctx)
			return err
		}
		wait := time.Since(start)

		norm = audio.NormalizeInto(norm, frame)
		level := audio.RMS(norm)
		m.RecordFrame(ctx, wait, level)
		if l.Feed != nil {
			l.Feed.Publish(level)
		}
		if err := l.Renderer.Render(level); err != nil {
			return fmt.Errorf("meter: render: %w", err)
		}

		if pause == nil {
			continue
		}
		pause.Reset(l.Interval)
		select {
		case <-ctx.Done():
			return nil
		case <-pause.C:
		}
	}
}

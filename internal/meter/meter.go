// Package meter turns per-frame levels into a live terminal bar and
// optionally publishes them to websocket subscribers.
package meter

import (
	"io"
	"math"
	"strconv"
	"strings"
)

// DefaultWidth is the bar width in character cells.
const DefaultWidth = 50

const (
	barRune   = "█"
	padRune   = " "
	lineStart = "\r["
)

// BarLength returns the number of filled cells for level on a bar of width
// cells. Levels above 1 overflow the bar; negative levels give 0.
func BarLength(level float64, width int) int {
	n := math.Round(level * float64(width))
	if n <= 0 || math.IsNaN(n) {
		return 0
	}
	return int(n)
}

// Percent returns level as a rounded whole percentage.
func Percent(level float64) int {
	if math.IsNaN(level) {
		return 0
	}
	return int(math.Round(level * 100))
}

// Renderer draws a level as a single self-overwriting terminal line.
type Renderer struct {
	// Width is the bar width. Zero uses [DefaultWidth].
	Width int

	// Clamp limits levels to [0, 1] before drawing. When unset a level
	// above 1 grows the bar past Width.
	Clamp bool

	// Out receives rendered lines.
	Out io.Writer
}

// Line returns the meter line for level: a carriage return, the bar padded to
// Width cells, and the percentage. It never contains a newline.
func (r *Renderer) Line(level float64) string {
	width := r.Width
	if width <= 0 {
		width = DefaultWidth
	}
	if r.Clamp {
		level = min(max(level, 0), 1)
	}

	filled := BarLength(level, width)
	var b strings.Builder
	b.Grow(len(lineStart) + max(filled, width)*len(barRune) + 8)
	b.WriteString(lineStart)
	b.WriteString(strings.Repeat(barRune, filled))
	if pad := width - filled; pad > 0 {
		b.WriteString(strings.Repeat(padRune, pad))
	}
	b.WriteString("] ")
	b.WriteString(strconv.Itoa(Percent(level)))
	b.WriteByte('%')
	return b.String()
}

// Render writes the line for level to Out and flushes Out when it supports
// flushing.
func (r *Renderer) Render(level float64) error {
	if _, err := io.WriteString(r.Out, r.Line(level)); err != nil {
		return err
	}
	return flush(r.Out)
}

// Finish ends the meter line so that following output starts on a fresh line.
func (r *Renderer) Finish() error {
	if _, err := io.WriteString(r.Out, "\n"); err != nil {
		return err
	}
	return flush(r.Out)
}

func flush(w io.Writer) error {
	switch f := w.(type) {
	case interface{ Flush() error }:
		return f.Flush()
	case interface{ Sync() error }:
		// Sync fails with EINVAL on terminals and pipes.
		_ = f.Sync()
	}
	return nil
}

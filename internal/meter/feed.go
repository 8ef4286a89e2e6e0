package meter

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/autovolume/internal/observe"
)

// DefaultFeedInterval is how often a feed subscriber receives the latest level.
const DefaultFeedInterval = 50 * time.Millisecond

// Sample is one message on the live level feed.
type Sample struct {
	Level   float64 `json:"level"`
	Percent int     `json:"percent"`
	Seq     uint64  `json:"seq"`
}

// Feed publishes the most recent level to websocket subscribers. Only the
// latest value is kept; a slow subscriber skips levels instead of queueing
// them.
type Feed struct {
	interval time.Duration
	metrics  *observe.Metrics

	bits atomic.Uint64
	seq  atomic.Uint64
	at   atomic.Int64
}

// NewFeed creates a Feed that pushes to each subscriber every interval. A
// non-positive interval uses [DefaultFeedInterval]; a nil m uses
// [observe.DefaultMetrics].
func NewFeed(interval time.Duration, m *observe.Metrics) *Feed {
	if interval <= 0 {
		interval = DefaultFeedInterval
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Feed{interval: interval, metrics: m}
}

// Publish records level as the latest value. It never blocks.
func (f *Feed) Publish(level float64) {
	f.bits.Store(math.Float64bits(level))
	f.at.Store(time.Now().UnixNano())
	f.seq.Add(1)
}

// LastPublish returns when Publish was last called, or the zero time.
func (f *Feed) LastPublish() time.Time {
	ns := f.at.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Latest returns the most recently published sample.
func (f *Feed) Latest() Sample {
	level := math.Float64frombits(f.bits.Load())
	return Sample{Level: level, Percent: Percent(level), Seq: f.seq.Load()}
}

// ServeHTTP upgrades the request to a websocket and streams [Sample] values
// until the client goes away or the request context ends. Unchanged samples
// are not resent.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("meter: feed upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	f.metrics.LevelSubscribers.Add(ctx, 1)
	defer f.metrics.LevelSubscribers.Add(context.WithoutCancel(ctx), -1)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
		}

		s := f.Latest()
		if s.Seq == last {
			continue
		}
		last = s.Seq
		if err := wsjson.Write(ctx, conn, s); err != nil {
			slog.Debug("meter: feed write failed", "remote", r.RemoteAddr, "err", err)
			return
		}
	}
}

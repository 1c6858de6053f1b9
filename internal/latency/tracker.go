package latency

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultWindowSize is the per-channel sample capacity.
const DefaultWindowSize = 1000

// Channel names a latency window.
type Channel string

const (
	ChannelProcessing Channel = "processing"
	ChannelNotify     Channel = "notify"
	ChannelEndToEnd   Channel = "end_to_end"
)

// Stats summarizes one window in milliseconds.
type Stats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// Tracker times the simulation pipeline over three rolling windows.
//
// A tick is StartTick -> EndProcessing -> EndNotify -> EndEndToEnd. Each End* call
// is a no-op when its reference timestamp is unset, e.g. for a tick that raced a stop.
type Tracker struct {
	mu sync.Mutex

	processing *window
	notify     *window
	endToEnd   *window

	tickStart      time.Time
	processingDone time.Time

	now func() time.Time
}

// NewTracker creates a tracker with windowSize samples per channel.
func NewTracker(windowSize int) *Tracker {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Tracker{
		processing: newWindow(windowSize),
		notify:     newWindow(windowSize),
		endToEnd:   newWindow(windowSize),
		now:        time.Now,
	}
}

// StartTick records the reference timestamp of a new tick.
func (t *Tracker) StartTick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tickStart = t.now()
	t.processingDone = time.Time{}
}

// EndProcessing records time since StartTick.
func (t *Tracker) EndProcessing() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tickStart.IsZero() {
		return
	}
	now := t.now()
	t.processing.push(millis(now.Sub(t.tickStart)))
	t.processingDone = now
}

// EndNotify records time since EndProcessing.
func (t *Tracker) EndNotify() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.processingDone.IsZero() {
		return
	}
	t.notify.push(millis(t.now().Sub(t.processingDone)))
}

// EndEndToEnd records time since StartTick and clears the references.
func (t *Tracker) EndEndToEnd() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tickStart.IsZero() {
		return
	}
	t.endToEnd.push(millis(t.now().Sub(t.tickStart)))
	t.tickStart = time.Time{}
	t.processingDone = time.Time{}
}

// Statistics summarizes every channel. Empty windows report all zeros.
func (t *Tracker) Statistics() map[Channel]Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return map[Channel]Stats{
		ChannelProcessing: summarize(t.processing.values()),
		ChannelNotify:     summarize(t.notify.values()),
		ChannelEndToEnd:   summarize(t.endToEnd.values()),
	}
}

// Len returns the number of samples held for a channel.
func (t *Tracker) Len(ch Channel) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch ch {
	case ChannelProcessing:
		return t.processing.len()
	case ChannelNotify:
		return t.notify.len()
	case ChannelEndToEnd:
		return t.endToEnd.len()
	}
	return 0
}

// Reset drops all samples and references.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processing.reset()
	t.notify.reset()
	t.endToEnd.reset()
	t.tickStart = time.Time{}
	t.processingDone = time.Time{}
}

// Log writes the current statistics at info level.
func (t *Tracker) Log() {
	stats := t.Statistics()
	for _, ch := range []Channel{ChannelProcessing, ChannelNotify, ChannelEndToEnd} {
		s := stats[ch]
		slog.Info("Latency statistics (ms)",
			slog.String("channel", string(ch)),
			slog.Int("count", s.Count),
			slog.Float64("mean", s.Mean),
			slog.Float64("std", s.Std),
			slog.Float64("min", s.Min),
			slog.Float64("max", s.Max),
			slog.Float64("p95", s.P95),
			slog.Float64("p99", s.P99),
		)
	}
}

func summarize(samples []float64) Stats {
	if len(samples) == 0 {
		return Stats{}
	}
	sort.Float64s(samples)
	mean, variance := stat.PopMeanVariance(samples, nil)
	return Stats{
		Count: len(samples),
		Mean:  mean,
		Std:   math.Sqrt(variance),
		Min:   floats.Min(samples),
		Max:   floats.Max(samples),
		P95:   stat.Quantile(0.95, stat.LinInterp, samples, nil),
		P99:   stat.Quantile(0.99, stat.LinInterp, samples, nil),
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

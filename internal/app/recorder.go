package app

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"trade_sim/internal/domain"
	"trade_sim/internal/event"
)

// Recorder persists simulator output: a SimulationRun per Start/Stop cycle and one
// MetricRow per MetricEvent. Storage errors are logged and never stop the stream.
type Recorder struct {
	repo domain.RunRepository
	now  func() time.Time

	mu     sync.Mutex
	params domain.SimulationParams
	runID  string
	status string
}

// NewRecorder creates a recorder writing to repo.
func NewRecorder(repo domain.RunRepository) *Recorder {
	return &Recorder{repo: repo, now: time.Now}
}

// Track sets the params stored with the next run. Call it before Simulator.Start.
func (r *Recorder) Track(params domain.SimulationParams) {
	r.mu.Lock()
	r.params = params.Normalize()
	r.mu.Unlock()
}

// RunID returns the id of the run being recorded, or "" between runs.
func (r *Recorder) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

// Handle records one event.
func (r *Recorder) Handle(ev event.Event) {
	switch e := ev.(type) {
	case *event.MetricEvent:
		r.handleMetric(e.Record)
	case *event.StatusEvent:
		r.handleStatus(*e)
	}
}

func (r *Recorder) handleMetric(rec domain.MetricRecord) {
	r.mu.Lock()
	id := r.runID
	r.mu.Unlock()
	if id == "" {
		return
	}
	if err := r.repo.SaveMetric(domain.NewMetricRow(id, rec)); err != nil {
		slog.Warn("Failed to save metric", slog.String("run_id", id), slog.Any("error", err))
	}
}

func (r *Recorder) handleStatus(e event.StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := e.Message
	if e.IsError() {
		r.status = msg
	}

	switch e.State {
	case event.StateRunning:
		if r.runID != "" {
			return
		}
		run := &domain.SimulationRun{
			ID:            uuid.NewString(),
			Asset:         r.params.Asset,
			OrderType:     string(r.params.OrderType),
			QuantityUSD:   r.params.QuantityUSD,
			VolatilityPct: r.params.VolatilityPct,
			FeeTier:       string(r.params.FeeTier),
			StartedAt:     r.now(),
			Status:        msg,
		}
		if err := r.repo.CreateRun(run); err != nil {
			slog.Error("Failed to create run", slog.Any("error", err))
			return
		}
		r.runID = run.ID
		r.status = ""
		slog.Info("Recording run", slog.String("run_id", run.ID))

	case event.StateIdle:
		if r.runID == "" {
			return
		}
		final := msg
		if r.status != "" {
			final = r.status
		}
		if err := r.repo.FinishRun(r.runID, final); err != nil {
			slog.Warn("Failed to finish run", slog.String("run_id", r.runID), slog.Any("error", err))
		}
		r.runID = ""
		r.status = ""
	}
}

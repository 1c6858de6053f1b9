package app

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade_sim/internal/domain"
	"trade_sim/internal/event"
)

type fakeRepo struct {
	mu       sync.Mutex
	runs     map[string]*domain.SimulationRun
	finished map[string]string
	metrics  []*domain.MetricRow
	saveErr  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{runs: map[string]*domain.SimulationRun{}, finished: map[string]string{}}
}

func (f *fakeRepo) CreateRun(run *domain.SimulationRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = run
	return nil
}

func (f *fakeRepo) FinishRun(id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.runs[id]; !ok {
		return errors.New("unknown run")
	}
	f.finished[id] = status
	return nil
}

func (f *fakeRepo) SaveMetric(row *domain.MetricRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.metrics = append(f.metrics, row)
	return nil
}

func status(st event.State, msg string, err error) *event.StatusEvent {
	ev := &event.StatusEvent{State: st, Message: msg, Err: err}
	if err != nil {
		ev.Kind = domain.KindOf(err)
	}
	return ev
}

func metric(slip float64) *event.MetricEvent {
	return &event.MetricEvent{Record: domain.MetricRecord{SlippageBps: slip, MakerProportion: 0.5, TakerProportion: 0.5}}
}

func TestRecorder_RunLifecycle(t *testing.T) {
	repo := newFakeRepo()
	rec := NewRecorder(repo)
	rec.Track(domain.SimulationParams{Asset: "BTC-USDT-SWAP", OrderType: "Market", QuantityUSD: 100, VolatilityPct: 2, FeeTier: "High"})

	// Metrics before a run starts are ignored.
	rec.Handle(metric(0.1))
	rec.Handle(status(event.StateStarting, "starting", nil))
	rec.Handle(status(event.StateRunning, "simulation running", nil))

	id := rec.RunID()
	require.NotEmpty(t, id)
	run := repo.runs[id]
	require.NotNil(t, run)
	assert.Equal(t, "BTC-USDT-SWAP", run.Asset)
	assert.Equal(t, "market", run.OrderType)
	assert.Equal(t, "high", run.FeeTier)
	assert.Equal(t, 2.0, run.VolatilityPct)

	rec.Handle(metric(1))
	rec.Handle(metric(2))
	rec.Handle(status(event.StateStopping, "stopping simulation", nil))
	rec.Handle(status(event.StateIdle, "simulation stopped", nil))

	require.Len(t, repo.metrics, 2)
	for _, row := range repo.metrics {
		assert.Equal(t, id, row.RunID)
	}
	assert.Equal(t, 2.0, repo.metrics[1].SlippageBps)
	assert.Equal(t, "simulation stopped", repo.finished[id])
	assert.Empty(t, rec.RunID())

	// A new cycle gets a new run.
	rec.Handle(status(event.StateRunning, "simulation running", nil))
	assert.NotEqual(t, id, rec.RunID())
	assert.Len(t, repo.runs, 2)
}

func TestRecorder_FatalStatusIsKept(t *testing.T) {
	repo := newFakeRepo()
	rec := NewRecorder(repo)
	rec.Track(domain.SimulationParams{Asset: "ETH-USDT", OrderType: "market", QuantityUSD: 10, FeeTier: "low"})

	rec.Handle(status(event.StateRunning, "simulation running", nil))
	id := rec.RunID()

	fatal := domain.NewFatalNetworkError("connect", domain.ErrFatalConnection)
	rec.Handle(status(event.StateStopping, "connection lost: "+fatal.Error(), fatal))
	rec.Handle(status(event.StateIdle, "simulation stopped", nil))

	assert.Contains(t, repo.finished[id], "connection lost")
}

func TestRecorder_IdleWithoutRun(t *testing.T) {
	repo := newFakeRepo()
	rec := NewRecorder(repo)

	rec.Handle(status(event.StateIdle, "invalid parameters", domain.ErrInvalidParams))

	assert.Empty(t, repo.runs)
	assert.Empty(t, repo.finished)
}

func TestRecorder_SaveErrorDoesNotStopRecording(t *testing.T) {
	repo := newFakeRepo()
	repo.saveErr = errors.New("disk full")
	rec := NewRecorder(repo)
	rec.Track(domain.SimulationParams{Asset: "BTC-USDT", OrderType: "market", QuantityUSD: 1, FeeTier: "mid"})

	rec.Handle(status(event.StateRunning, "simulation running", nil))
	rec.Handle(metric(1))
	rec.Handle(status(event.StateIdle, "simulation stopped", nil))

	assert.Empty(t, repo.metrics)
	assert.Len(t, repo.finished, 1)
}

package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade_sim/internal/domain"
	"trade_sim/internal/event"
	"trade_sim/internal/infra"
	"trade_sim/internal/service"
)

// fakeFeed is an in-memory OrderbookFeed backed by a BookStore.
type fakeFeed struct {
	store    *service.BookStore
	fatal    chan error
	startErr error
	started  atomic.Int32
	stopped  atomic.Int32
	done     chan struct{}
	stopOnce sync.Once
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		store: service.NewBookStore(),
		fatal: make(chan error, 1),
		done:  make(chan struct{}),
	}
}

func (f *fakeFeed) Start(ctx context.Context) error {
	f.started.Add(1)
	return f.startErr
}

func (f *fakeFeed) Stop() error {
	f.stopped.Add(1)
	f.stopOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeFeed) LatestOrderbook(ctx context.Context) (*domain.OrderbookSnapshot, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-f.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return f.store.Wait(ctx)
}

func (f *fakeFeed) Current() (*domain.OrderbookSnapshot, bool) {
	return f.store.Latest()
}

func (f *fakeFeed) Fatal() <-chan error {
	return f.fatal
}

func scenarioBook() *domain.OrderbookSnapshot {
	return &domain.OrderbookSnapshot{
		Timestamp: "1700000000000",
		Asks:      []domain.Level{{Price: 100.5, Size: 2}, {Price: 100.6, Size: 3}},
		Bids:      []domain.Level{{Price: 100.4, Size: 2}, {Price: 100.3, Size: 1}},
	}
}

func validParams() domain.SimulationParams {
	return domain.SimulationParams{
		Asset:         "BTC-USDT-SWAP",
		OrderType:     domain.OrderTypeMarket,
		QuantityUSD:   100,
		VolatilityPct: 2,
		FeeTier:       domain.FeeTierMid,
	}
}

func testConfig() Config {
	return Config{
		TickInterval: 5 * time.Millisecond,
		IdleRetry:    5 * time.Millisecond,
		ErrorBackoff: 10 * time.Millisecond,
		Seed:         1,
	}
}

// testSimulator hands out feeds in order; the last one is reused.
func testSimulator(feeds ...*fakeFeed) (*Simulator, *atomic.Int32) {
	var created atomic.Int32
	sim := NewSimulator(testConfig(), func(domain.SimulationParams) (domain.OrderbookFeed, error) {
		n := int(created.Add(1))
		return feeds[min(n, len(feeds))-1], nil
	}, &infra.Metrics{})
	return sim, &created
}

// collector drains the event stream in the background.
type collector struct {
	mu     sync.Mutex
	events []event.Event
	stop   chan struct{}
	wg     sync.WaitGroup
}

func collect(sim *Simulator) *collector {
	c := &collector{stop: make(chan struct{})}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.stop:
				return
			case ev := <-sim.Events():
				c.mu.Lock()
				c.events = append(c.events, ev)
				c.mu.Unlock()
			}
		}
	}()
	return c
}

func (c *collector) close() {
	close(c.stop)
	c.wg.Wait()
}

func (c *collector) metrics() []*event.MetricEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*event.MetricEvent
	for _, ev := range c.events {
		if m, ok := ev.(*event.MetricEvent); ok {
			out = append(out, m)
		}
	}
	return out
}

func (c *collector) statuses() []*event.StatusEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*event.StatusEvent
	for _, ev := range c.events {
		if st, ok := ev.(*event.StatusEvent); ok {
			out = append(out, st)
		}
	}
	return out
}

func TestSimulator_StartTickStop(t *testing.T) {
	feed := newFakeFeed()
	feed.store.Publish(scenarioBook())
	sim, _ := testSimulator(feed)
	c := collect(sim)
	defer c.close()

	require.NoError(t, sim.Start(validParams()))
	assert.Equal(t, event.StateRunning, sim.State())

	require.Eventually(t, func() bool { return len(c.metrics()) >= 5 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, sim.Stop())
	assert.Equal(t, event.StateIdle, sim.State())
	assert.Equal(t, int32(1), feed.stopped.Load())

	require.Eventually(t, func() bool {
		sts := c.statuses()
		return len(sts) > 0 && sts[len(sts)-1].State == event.StateIdle
	}, time.Second, 5*time.Millisecond)

	metrics := c.metrics()
	last := metrics[len(metrics)-1]
	assert.True(t, last.Record.Final, "the closing record must be marked final")

	for _, m := range metrics {
		r := m.Record
		assert.GreaterOrEqual(t, r.SlippageBps, 0.0)
		assert.GreaterOrEqual(t, r.MarketImpactBps, 0.0)
		assert.InDelta(t, 1.0, r.MakerProportion+r.TakerProportion, 1e-12)
		assert.InDelta(t, 100.45, r.MidPrice, 1e-9)
		assert.InDelta(t, 0.1, r.Spread, 1e-9)
		assert.Equal(t, "BTC-USDT-SWAP", r.Asset)
		// Mid tier: fees lie between the all-maker and all-taker cost.
		assert.GreaterOrEqual(t, r.FeesUSD, 0.1-1e-9)
		assert.LessOrEqual(t, r.FeesUSD, 0.2+1e-9)
		assert.InDelta(t, domain.TotalCostUSD(r.SlippageBps, r.MarketImpactBps, r.FeesUSD, 100), r.TotalCost, 1e-9)
	}

	for i := 1; i < len(metrics); i++ {
		assert.Greater(t, metrics[i].GetSeq(), metrics[i-1].GetSeq())
	}

	// Idempotent.
	assert.NoError(t, sim.Stop())
}

func TestSimulator_InvalidParams(t *testing.T) {
	feed := newFakeFeed()
	sim, created := testSimulator(feed)

	params := validParams()
	params.QuantityUSD = -1

	err := sim.Start(params)
	require.ErrorIs(t, err, domain.ErrInvalidParams)
	assert.Equal(t, int32(0), created.Load(), "no feed may be created for invalid params")
	assert.Equal(t, event.StateIdle, sim.State())

	select {
	case ev := <-sim.Events():
		st, ok := ev.(*event.StatusEvent)
		require.True(t, ok)
		assert.True(t, st.IsError())
		assert.Equal(t, domain.KindInvalidParams, st.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a status event")
	}
}

func TestSimulator_AlreadyRunning(t *testing.T) {
	feed := newFakeFeed()
	sim, _ := testSimulator(feed)
	c := collect(sim)
	defer c.close()

	require.NoError(t, sim.Start(validParams()))
	defer sim.Stop()

	assert.ErrorIs(t, sim.Start(validParams()), domain.ErrAlreadyRunning)
}

func TestSimulator_FeedStartFailure(t *testing.T) {
	feed := newFakeFeed()
	feed.startErr = errors.New("dial refused")
	sim, _ := testSimulator(feed)
	c := collect(sim)
	defer c.close()

	err := sim.Start(validParams())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFatalConnection)
	assert.Equal(t, event.StateIdle, sim.State())

	require.Eventually(t, func() bool {
		for _, st := range c.statuses() {
			if st.IsFatal() {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestSimulator_FatalFeedEmitsOneFatalStatus(t *testing.T) {
	feed, next := newFakeFeed(), newFakeFeed()
	feed.store.Publish(scenarioBook())
	sim, _ := testSimulator(feed, next)
	c := collect(sim)
	defer c.close()

	require.NoError(t, sim.Start(validParams()))
	require.Eventually(t, func() bool { return len(c.metrics()) > 0 }, time.Second, 5*time.Millisecond)

	feed.fatal <- domain.NewFatalNetworkError("connect", domain.ErrFatalConnection)

	require.Eventually(t, func() bool { return sim.State() == event.StateIdle }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), feed.stopped.Load())

	require.Eventually(t, func() bool {
		sts := c.statuses()
		return sts[len(sts)-1].State == event.StateIdle
	}, time.Second, 5*time.Millisecond)

	fatal := 0
	for _, st := range c.statuses() {
		if st.IsFatal() {
			fatal++
		}
	}
	assert.Equal(t, 1, fatal)

	// The simulator can be restarted after a fatal run.
	next.store.Publish(scenarioBook())
	require.NoError(t, sim.Start(validParams()))
	require.NoError(t, sim.Stop())
	assert.Equal(t, int32(1), next.started.Load())
}

func TestSimulator_StopWhileWaitingForFirstSnapshot(t *testing.T) {
	feed := newFakeFeed()
	sim, _ := testSimulator(feed)
	c := collect(sim)
	defer c.close()

	require.NoError(t, sim.Start(validParams()))
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		sim.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not unblock the first-snapshot wait")
	}
	assert.Empty(t, c.metrics(), "no snapshot means no metric, not even a final one")
	assert.Equal(t, event.StateIdle, sim.State())
}

func TestSimulator_OneSidedBookSkipsTick(t *testing.T) {
	feed := newFakeFeed()
	feed.store.Publish(&domain.OrderbookSnapshot{Asks: []domain.Level{{Price: 1, Size: 1}}})
	sim, _ := testSimulator(feed)
	c := collect(sim)
	defer c.close()

	require.NoError(t, sim.Start(validParams()))
	time.Sleep(30 * time.Millisecond)

	for _, st := range c.statuses() {
		assert.False(t, st.IsError(), "missing data is not an error: %s", st.Message)
	}
	assert.Empty(t, c.metrics())

	feed.store.Publish(scenarioBook())
	require.Eventually(t, func() bool { return len(c.metrics()) > 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, sim.Stop())
}

func TestSimulator_TickErrorBacksOffAndRecovers(t *testing.T) {
	feed := newFakeFeed()
	// Both sides present but priced at zero: the tick fails on the mid price.
	feed.store.Publish(&domain.OrderbookSnapshot{
		Asks: []domain.Level{{Price: 0, Size: 1}},
		Bids: []domain.Level{{Price: 0, Size: 1}},
	})
	sim, _ := testSimulator(feed)
	c := collect(sim)
	defer c.close()

	require.NoError(t, sim.Start(validParams()))

	var tickErr *event.StatusEvent
	require.Eventually(t, func() bool {
		for _, st := range c.statuses() {
			if st.IsError() {
				tickErr = st
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, event.StateRunning, tickErr.State)
	assert.False(t, tickErr.IsFatal())
	assert.Equal(t, event.StateRunning, sim.State())
	assert.Empty(t, c.metrics())
	assert.Positive(t, sim.metrics.Snapshot().TickErrors)

	feed.store.Publish(scenarioBook())
	require.Eventually(t, func() bool { return len(c.metrics()) > 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, event.StateRunning, sim.State())
	require.NoError(t, sim.Stop())
}

func TestSimulator_NonFiniteParamsRejected(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *domain.SimulationParams)
	}{
		{"infinite quantity", func(p *domain.SimulationParams) { p.QuantityUSD = math.Inf(1) }},
		{"NaN quantity", func(p *domain.SimulationParams) { p.QuantityUSD = math.NaN() }},
		{"infinite volatility", func(p *domain.SimulationParams) { p.VolatilityPct = math.Inf(1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feed := newFakeFeed()
			feed.store.Publish(scenarioBook())
			sim, created := testSimulator(feed)
			c := collect(sim)
			defer c.close()

			p := validParams()
			tt.mutate(&p)
			err := sim.Start(p)
			require.ErrorIs(t, err, domain.ErrInvalidParams)
			assert.Zero(t, created.Load(), "no feed may be created for invalid params")
			assert.Equal(t, event.StateIdle, sim.State())
		})
	}
}

func TestSimulator_StateDoesNotWaitForSlowConsumer(t *testing.T) {
	feed := newFakeFeed()
	feed.store.Publish(scenarioBook())
	cfg := testConfig()
	cfg.EventBuffer = 1
	sim := NewSimulator(cfg, func(domain.SimulationParams) (domain.OrderbookFeed, error) {
		return feed, nil
	}, &infra.Metrics{})

	started := make(chan error, 1)
	go func() { started <- sim.Start(validParams()) }()

	// Nobody reads events yet, so Start is parked on its status sends.
	require.Eventually(t, func() bool { return sim.State() == event.StateRunning },
		500*time.Millisecond, 5*time.Millisecond)

	c := collect(sim)
	defer c.close()
	require.NoError(t, <-started)
	require.NoError(t, sim.Stop())
	assert.Equal(t, event.StateIdle, sim.State())
}

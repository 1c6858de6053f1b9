package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"trade_sim/internal/domain"
	"trade_sim/internal/estimator"
	"trade_sim/internal/event"
	"trade_sim/internal/infra"
	"trade_sim/internal/latency"
)

const (
	DefaultTickInterval  = 100 * time.Millisecond
	DefaultIdleRetry     = 100 * time.Millisecond
	DefaultErrorBackoff  = time.Second
	DefaultStatsInterval = 10 * time.Second
	DefaultEventBuffer   = 256

	statusSendTimeout = time.Second
)

// FeedFactory builds the market data feed for one run.
type FeedFactory func(params domain.SimulationParams) (domain.OrderbookFeed, error)

// Config tunes the simulator.
type Config struct {
	TickInterval  time.Duration
	IdleRetry     time.Duration
	ErrorBackoff  time.Duration
	StatsInterval time.Duration
	LatencyWindow int
	EventBuffer   int
	Seed          uint64
	Estimator     estimator.Config
	Fees          estimator.FeeSchedule
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.IdleRetry <= 0 {
		c.IdleRetry = DefaultIdleRetry
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = DefaultErrorBackoff
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = DefaultStatsInterval
	}
	if c.LatencyWindow <= 0 {
		c.LatencyWindow = latency.DefaultWindowSize
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	if c.Estimator == (estimator.Config{}) {
		c.Estimator = estimator.DefaultConfig()
	}
	if len(c.Fees) == 0 {
		c.Fees = estimator.DefaultFeeSchedule()
	}
	return c
}

// Simulator runs the tick loop: Idle -> Starting -> Running -> Stopping -> Idle.
// Each tick pulls the latest snapshot from the feed, runs the estimators and emits a
// MetricEvent. Status changes and errors are emitted as StatusEvents on the same stream.
type Simulator struct {
	cfg     Config
	newFeed FeedFactory
	metrics *infra.Metrics

	events chan event.Event
	seq    atomic.Uint64

	mu    sync.Mutex
	state event.State
	run   *run

	warnDropped rate.Sometimes
}

// run holds everything owned by one Start/Stop cycle.
type run struct {
	params     domain.SimulationParams
	feed       domain.OrderbookFeed
	slippage   *estimator.SlippageEstimator
	impact     *estimator.MarketImpactEstimator
	makerTaker *estimator.MakerTakerClassifier
	fees       *estimator.FeeCalculator
	tracker    *latency.Tracker
	statsLog   rate.Sometimes

	cancel   context.CancelFunc
	loopDone chan struct{}
	finished chan struct{}
}

// NewSimulator creates an idle simulator. A nil metrics uses GlobalMetrics.
func NewSimulator(cfg Config, newFeed FeedFactory, metrics *infra.Metrics) *Simulator {
	cfg = cfg.withDefaults()
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	return &Simulator{
		cfg:         cfg,
		newFeed:     newFeed,
		metrics:     metrics,
		events:      make(chan event.Event, cfg.EventBuffer),
		state:       event.StateIdle,
		warnDropped: rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
}

// Events returns the outbound stream of *event.MetricEvent and *event.StatusEvent.
func (s *Simulator) Events() <-chan event.Event {
	return s.events
}

// State returns the current lifecycle state.
func (s *Simulator) State() event.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start validates params, starts a feed and launches the tick loop.
// Status events are emitted after s.mu is released so a slow consumer never blocks State or Stop.
func (s *Simulator) Start(params domain.SimulationParams) error {
	params = params.Normalize()
	if err := params.Validate(); err != nil {
		s.emitStatus(event.StateIdle, "invalid parameters", err)
		return err
	}

	r, ctx, pending, err := s.begin(params)
	for _, p := range pending {
		s.emitStatus(p.state, p.msg, p.err)
	}
	if err != nil {
		return err
	}

	go s.tickLoop(ctx, r)
	go s.watchFatal(ctx, r)
	return nil
}

type pendingStatus struct {
	state event.State
	msg   string
	err   error
}

// begin performs the Idle -> Starting -> Running transition under s.mu and returns the
// statuses to emit once the lock is released.
func (s *Simulator) begin(params domain.SimulationParams) (*run, context.Context, []pendingStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != event.StateIdle {
		return nil, nil, nil, domain.ErrAlreadyRunning
	}
	s.setState(event.StateStarting)
	pending := []pendingStatus{{
		state: event.StateStarting,
		msg:   fmt.Sprintf("starting %s %s order of %.2f USD", params.Asset, params.OrderType, params.QuantityUSD),
	}}

	r, err := s.newRun(params)
	if err != nil {
		s.setState(event.StateIdle)
		return nil, nil, append(pending, pendingStatus{event.StateIdle, "failed to start", err}), err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	if err := r.feed.Start(ctx); err != nil {
		cancel()
		err = domain.NewFatalNetworkError("start", fmt.Errorf("%w: %w", domain.ErrFatalConnection, err))
		s.setState(event.StateIdle)
		return nil, nil, append(pending, pendingStatus{event.StateIdle, "failed to start orderbook feed", err}), err
	}

	s.run = r
	s.setState(event.StateRunning)
	s.metrics.SetRunning(true)
	return r, ctx, append(pending, pendingStatus{state: event.StateRunning, msg: "simulation running"}), nil
}

func (s *Simulator) newRun(params domain.SimulationParams) (*run, error) {
	fees, err := s.cfg.Fees.Calculator(params.FeeTier)
	if err != nil {
		return nil, err
	}
	if s.newFeed == nil {
		return nil, errors.New("no feed factory configured")
	}
	feed, err := s.newFeed(params)
	if err != nil {
		return nil, fmt.Errorf("create feed: %w", err)
	}

	impact := estimator.NewMarketImpactEstimator(s.cfg.Estimator)
	impact.UpdateParameters(params.VolatilityPct/100, estimator.DefaultImpactRiskAversion)

	return &run{
		params:     params,
		feed:       feed,
		slippage:   estimator.NewSlippageEstimator(s.cfg.Estimator),
		impact:     impact,
		makerTaker: estimator.NewMakerTakerClassifier(s.cfg.Estimator, s.cfg.Seed),
		fees:       fees,
		tracker:    latency.NewTracker(s.cfg.LatencyWindow),
		statsLog:   rate.Sometimes{Interval: s.cfg.StatsInterval},
		loopDone:   make(chan struct{}),
		finished:   make(chan struct{}),
	}, nil
}

// Stop runs one final tick on the current snapshot, stops the feed and returns to Idle.
// Calling Stop while idle is a no-op.
func (s *Simulator) Stop() error {
	s.mu.Lock()
	r := s.run
	switch {
	case r == nil:
		s.mu.Unlock()
		return nil
	case s.state == event.StateStopping:
		s.mu.Unlock()
		<-r.finished
		return nil
	}
	s.setState(event.StateStopping)
	s.mu.Unlock()

	s.emitStatus(event.StateStopping, "stopping simulation", nil)
	return s.shutdown(r, true)
}

func (s *Simulator) shutdown(r *run, finalTick bool) error {
	defer close(r.finished)

	r.cancel()
	<-r.loopDone

	if finalTick {
		if err := s.safeTick(context.Background(), r, true); err != nil {
			slog.Warn("Final tick skipped", slog.Any("error", err))
		}
	}

	err := r.feed.Stop()
	if err != nil {
		slog.Warn("Feed stop failed", slog.Any("error", err))
	}
	r.tracker.Log()

	s.mu.Lock()
	s.run = nil
	s.setState(event.StateIdle)
	s.mu.Unlock()

	s.metrics.SetRunning(false)
	s.emitStatus(event.StateIdle, "simulation stopped", nil)
	return err
}

// watchFatal turns a terminal feed error into exactly one fatal status and a shutdown.
func (s *Simulator) watchFatal(ctx context.Context, r *run) {
	select {
	case <-ctx.Done():
		return
	case err := <-r.feed.Fatal():
		s.mu.Lock()
		if s.run != r || s.state != event.StateRunning {
			s.mu.Unlock()
			return
		}
		s.setState(event.StateStopping)
		s.mu.Unlock()

		slog.Error("Orderbook feed failed", slog.Any("error", err))
		s.emitStatus(event.StateStopping, "orderbook feed failed", err)
		s.shutdown(r, false)
	}
}

func (s *Simulator) tickLoop(ctx context.Context, r *run) {
	defer close(r.loopDone)
	slog.Info("Simulation loop started", slog.String("asset", r.params.Asset))

	for {
		if ctx.Err() != nil {
			return
		}

		err := s.safeTick(ctx, r, false)
		delay := s.cfg.TickInterval
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return
		case domain.KindOf(err) == domain.KindNoData, errors.Is(err, domain.ErrStopped):
			delay = s.cfg.IdleRetry
		default:
			s.metrics.RecordTickError()
			slog.Error("Tick failed", slog.Any("error", err))
			s.emitStatus(event.StateRunning, "tick failed, backing off", err)
			delay = s.cfg.ErrorBackoff
		}

		r.statsLog.Do(r.tracker.Log)

		if !sleep(ctx, delay) {
			return
		}
	}
}

// safeTick runs one tick and converts a panic into an error.
func (s *Simulator) safeTick(ctx context.Context, r *run, final bool) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tick panic: %v", rec)
		}
	}()
	return s.tick(ctx, r, final)
}

func (s *Simulator) tick(ctx context.Context, r *run, final bool) error {
	start := time.Now()
	r.tracker.StartTick()

	var snap *domain.OrderbookSnapshot
	if final {
		var ok bool
		if snap, ok = r.feed.Current(); !ok {
			return domain.ErrNoSnapshot
		}
	} else {
		var err error
		if snap, err = r.feed.LatestOrderbook(ctx); err != nil {
			return err
		}
	}

	mid, ok := snap.MidPrice()
	if !ok {
		return domain.ErrOneSidedBook
	}
	if mid <= 0 {
		return fmt.Errorf("non-positive mid price %v", mid)
	}
	spread, _ := snap.Spread()

	// Estimators take the order size in base units; fees are charged on the USD notional.
	size := r.params.QuantityUSD / mid
	slippageBps := r.slippage.Estimate(snap, size)
	impactBps := r.impact.Estimate(snap, size)
	r.makerTaker.Classify(snap, size)
	maker, taker := r.makerTaker.Proportions()
	fees := r.fees.ExpectedFees(maker, taker, r.params.QuantityUSD)

	r.tracker.EndProcessing()

	record := domain.MetricRecord{
		SlippageBps:       slippageBps,
		MarketImpactBps:   impactBps,
		MakerProportion:   maker,
		TakerProportion:   taker,
		FeesUSD:           fees,
		TotalCost:         domain.TotalCostUSD(slippageBps, impactBps, fees, r.params.QuantityUSD),
		Volatility:        r.params.VolatilityPct,
		InternalLatencyMs: float64(time.Since(start)) / float64(time.Millisecond),
		Asset:             r.params.Asset,
		OrderType:         r.params.OrderType,
		QuantityUSD:       r.params.QuantityUSD,
		MidPrice:          mid,
		Spread:            spread,
		SnapshotTimestamp: snap.Timestamp,
		EmittedAt:         time.Now(),
		Final:             final,
	}
	s.emit(&event.MetricEvent{BaseEvent: s.nextBase(), Record: record})

	r.tracker.EndNotify()
	r.tracker.EndEndToEnd()
	s.metrics.RecordTick(time.Since(start).Nanoseconds())
	return nil
}

func (s *Simulator) setState(st event.State) {
	s.state = st
}

func (s *Simulator) nextBase() event.BaseEvent {
	return event.BaseEvent{Seq: s.seq.Add(1), Ts: time.Now()}
}

// emit never blocks the tick loop; metric events are dropped when the consumer lags.
func (s *Simulator) emit(ev event.Event) {
	select {
	case s.events <- ev:
	default:
		s.warnDropped.Do(func() {
			slog.Warn("Event channel full, dropping metric", slog.Uint64("seq", ev.GetSeq()))
		})
	}
}

// emitStatus waits briefly for room so state changes and errors reach the consumer.
func (s *Simulator) emitStatus(st event.State, msg string, err error) {
	ev := &event.StatusEvent{
		BaseEvent: s.nextBase(),
		State:     st,
		Message:   msg,
		Err:       err,
	}
	if err != nil {
		ev.Kind = domain.KindOf(err)
		ev.Message = msg + ": " + err.Error()
	}

	timer := time.NewTimer(statusSendTimeout)
	defer timer.Stop()
	select {
	case s.events <- ev:
	case <-timer.C:
		slog.Warn("Status dropped, consumer not reading", slog.String("message", ev.Message))
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

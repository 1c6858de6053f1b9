package estimator

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"trade_sim/internal/domain"
)

// Default market impact parameters.
const (
	DefaultImpactEta          = 0.1
	DefaultImpactGamma        = 0.1
	DefaultImpactVolatility   = 0.02
	DefaultImpactRiskAversion = 0.1

	// fallbackVolume stands in for the average level size when a side is empty.
	fallbackVolume = 1e6
	impactLevels   = 5

	scheduleIntervals = 10
)

// ImpactParams are the coefficients of the market impact model.
type ImpactParams struct {
	Eta          float64 `json:"eta"`
	Gamma        float64 `json:"gamma"`
	Volatility   float64 `json:"volatility"`
	RiskAversion float64 `json:"risk_aversion"`
}

// ExecutionStep is one slice of an execution schedule.
type ExecutionStep struct {
	Time float64 `json:"time"`
	Size float64 `json:"size"`
}

// MarketImpactEstimator predicts temporary plus permanent impact in basis points.
type MarketImpactEstimator struct {
	mu      sync.Mutex
	cfg     Config
	params  ImpactParams
	hist    *history
	logOnce rate.Sometimes
}

func NewMarketImpactEstimator(cfg Config) *MarketImpactEstimator {
	cfg = cfg.withDefaults()
	return &MarketImpactEstimator{
		cfg: cfg,
		params: ImpactParams{
			Eta:          DefaultImpactEta,
			Gamma:        DefaultImpactGamma,
			Volatility:   DefaultImpactVolatility,
			RiskAversion: DefaultImpactRiskAversion,
		},
		hist:    newHistory(cfg.HistorySize),
		logOnce: rate.Sometimes{Interval: time.Second},
	}
}

// Estimate returns the expected impact for an order of size base units. Any failure yields 0.
func (e *MarketImpactEstimator) Estimate(snap *domain.OrderbookSnapshot, size float64) float64 {
	f, err := e.features(snap, size)
	if err != nil {
		e.logOnce.Do(func() {
			slog.Warn("market impact estimate unavailable", slog.Any("error", err))
		})
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	bps := e.params.Eta*f[0] + e.params.Gamma*f[1]
	if !finite(bps) {
		return 0
	}
	e.hist.push(f, bps)
	if e.hist.len() >= e.cfg.MinFitSamples {
		e.refit()
	}
	return bps
}

// features lays out [temp_bps_unit, perm_bps_unit, spread_ratio, depth_imbalance, log1p(depth)].
// The first two columns are the impact shapes already scaled to bps per unit coefficient.
func (e *MarketImpactEstimator) features(snap *domain.OrderbookSnapshot, size float64) (Features, error) {
	base, err := bookFeatures(snap, size)
	if err != nil {
		return Features{}, err
	}
	mid, _ := snap.MidPrice()

	participation := math.Abs(size) / averageLevelVolume(snap)
	scale := sign(size) / mid * bpsScale

	return Features{
		math.Sqrt(participation) * scale,
		participation * scale,
		base[0],
		base[1],
		base[4],
	}, nil
}

// averageLevelVolume is the mean level size over the top levels of both sides.
func averageLevelVolume(snap *domain.OrderbookSnapshot) float64 {
	asks, bids := snap.Depth(impactLevels)
	if len(asks) == 0 || len(bids) == 0 {
		return fallbackVolume
	}
	var sum float64
	for _, lv := range asks {
		sum += lv.Size
	}
	for _, lv := range bids {
		sum += lv.Size
	}
	avg := sum / float64(len(asks)+len(bids))
	if avg <= 0 {
		return fallbackVolume
	}
	return avg
}

func (e *MarketImpactEstimator) refit() {
	fs, ys := e.hist.rows()
	rows := make([][]float64, len(fs))
	for i, f := range fs {
		rows[i] = []float64{f[0], f[1]}
	}

	coef, err := ridgeSolve(rows, ys, e.cfg.RidgeLambda)
	if err != nil {
		e.logOnce.Do(func() {
			slog.Warn("market impact refit skipped", slog.Any("error", err))
		})
		return
	}
	e.params.Eta = math.Max(0, coef[0])
	e.params.Gamma = math.Max(0, coef[1])
}

// UpdateParameters sets the volatility and risk aversion used by OptimizeExecution.
// Negative or NaN values leave the current setting unchanged.
func (e *MarketImpactEstimator) UpdateParameters(volatility, riskAversion float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if volatility >= 0 {
		e.params.Volatility = volatility
	}
	if riskAversion >= 0 {
		e.params.RiskAversion = riskAversion
	}
}

// OptimizeExecution splits size over horizon into equal time intervals following the
// Almgren-Chriss trajectory x(t) = Q·sinh(k(T-t))/sinh(kT), k = √(λσ²/η).
// Each step carries the quantity traded during the interval ending at Time.
func (e *MarketImpactEstimator) OptimizeExecution(size, horizon float64) []ExecutionStep {
	p := e.Params()
	if horizon <= 0 || !finite(size) || p.Eta <= 0 {
		return nil
	}

	k := math.Sqrt(p.RiskAversion * p.Volatility * p.Volatility / p.Eta)
	remaining := func(t float64) float64 {
		if k*horizon < 1e-9 {
			return size * (horizon - t) / horizon
		}
		return size * math.Sinh(k*(horizon-t)) / math.Sinh(k*horizon)
	}

	steps := make([]ExecutionStep, 0, scheduleIntervals)
	dt := horizon / scheduleIntervals
	prev := size
	for i := 1; i <= scheduleIntervals; i++ {
		t := dt * float64(i)
		x := remaining(t)
		if i == scheduleIntervals {
			x = 0
		}
		steps = append(steps, ExecutionStep{Time: t, Size: prev - x})
		prev = x
	}
	return steps
}

// Params returns the current coefficients.
func (e *MarketImpactEstimator) Params() ImpactParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

func (e *MarketImpactEstimator) HistoryLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hist.len()
}

package estimator

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"trade_sim/internal/domain"
)

// Default slippage parameters.
const (
	DefaultSlippageAlpha = 0.1
	DefaultSlippageBeta  = 0.5
	DefaultSlippageGamma = 0.01
)

// Side is the direction of a market order walking the book.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// SlippageParams are the coefficients of the slippage model.
type SlippageParams struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
	Gamma float64 `json:"gamma"`
}

// SlippageEstimator predicts expected slippage in basis points as
// (α·Σf + β·√|α·Σf| + γ)·10⁴, floored at zero.
type SlippageEstimator struct {
	mu      sync.Mutex
	cfg     Config
	params  SlippageParams
	hist    *history
	logOnce rate.Sometimes
}

// NewSlippageEstimator creates an estimator with the default coefficients.
func NewSlippageEstimator(cfg Config) *SlippageEstimator {
	cfg = cfg.withDefaults()
	return &SlippageEstimator{
		cfg: cfg,
		params: SlippageParams{
			Alpha: DefaultSlippageAlpha,
			Beta:  DefaultSlippageBeta,
			Gamma: DefaultSlippageGamma,
		},
		hist:    newHistory(cfg.HistorySize),
		logOnce: rate.Sometimes{Interval: time.Second},
	}
}

// Estimate returns the expected slippage for an order of size base units.
// Any failure yields 0.
func (e *SlippageEstimator) Estimate(snap *domain.OrderbookSnapshot, size float64) float64 {
	f, err := slippageFeatures(snap, size)
	if err != nil {
		e.logOnce.Do(func() {
			slog.Warn("slippage estimate unavailable", slog.Any("error", err))
		})
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	bps := e.predict(f)
	// Targets are kept as fractions so the refit solves for the same scale as the parameters.
	e.hist.push(f, bps/bpsScale)
	if e.hist.len() >= e.cfg.MinFitSamples {
		e.refit()
	}
	return bps
}

func (e *SlippageEstimator) predict(f Features) float64 {
	linear := e.params.Alpha * f.Dot(ones())
	sqrtTerm := e.params.Beta * math.Sqrt(math.Abs(linear))
	bps := (linear + sqrtTerm + e.params.Gamma) * bpsScale
	if !finite(bps) || bps < 0 {
		return 0
	}
	return bps
}

func (e *SlippageEstimator) refit() {
	fs, ys := e.hist.rows()
	w := ones()
	rows := make([][]float64, len(fs))
	for i, f := range fs {
		s := f.Dot(w)
		rows[i] = []float64{s, math.Sqrt(math.Abs(e.params.Alpha * s)), 1}
	}

	coef, err := ridgeSolve(rows, ys, e.cfg.RidgeLambda)
	if err != nil {
		e.logOnce.Do(func() {
			slog.Warn("slippage refit skipped", slog.Any("error", err))
		})
		return
	}
	e.params = SlippageParams{
		Alpha: math.Max(0, coef[0]),
		Beta:  math.Max(0, coef[1]),
		Gamma: math.Max(0, coef[2]),
	}
}

// Params returns the current coefficients.
func (e *SlippageEstimator) Params() SlippageParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// HistoryLen returns the number of rows held for refits.
func (e *SlippageEstimator) HistoryLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hist.len()
}

// ImmediateSlippage walks the book for a market order of qty base units and returns the
// deviation of the average fill price from mid in basis points, positive when the fill is
// worse than mid. ok is false when the book lacks the liquidity to fill qty.
func (e *SlippageEstimator) ImmediateSlippage(snap *domain.OrderbookSnapshot, qty float64, side Side) (float64, bool) {
	mid, ok := snap.MidPrice()
	if !ok || mid <= 0 || qty <= 0 {
		return 0, false
	}

	levels := snap.Asks
	if side == SideSell {
		levels = snap.Bids
	}

	remaining := qty
	var cost float64
	for _, lv := range levels {
		if remaining <= 0 {
			break
		}
		fill := math.Min(remaining, lv.Size)
		cost += lv.Price * fill
		remaining -= fill
	}
	if remaining > 0 {
		return 0, false
	}

	bps := (cost/qty - mid) / mid * bpsScale
	if side == SideSell {
		bps = -bps
	}
	return bps, true
}

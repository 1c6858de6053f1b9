package estimator

import (
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"trade_sim/internal/domain"
)

// Default maker/taker parameters.
const (
	DefaultMakerAlpha = 0.5
	DefaultMakerBeta  = 0.1
	DefaultMakerGamma = 0.2

	// neutralMakerProbability is returned whenever the book cannot be read.
	neutralMakerProbability = 0.5
)

// Role is the liquidity role a simulated fill took.
type Role string

const (
	RoleMaker Role = "maker"
	RoleTaker Role = "taker"
)

// MakerTakerParams is a read-only view of the classifier state.
type MakerTakerParams struct {
	Alpha      float64  `json:"alpha"`
	Beta       float64  `json:"beta"`
	Gamma      float64  `json:"gamma"`
	Weights    Features `json:"weights"`
	MakerRatio float64  `json:"maker_ratio"`
	TakerRatio float64  `json:"taker_ratio"`
}

// MakerTakerClassifier predicts the probability that a fill rests on the book,
// p = clip(α·(f·w) − β·spread_ratio − γ·size_ratio, 0, 1), and samples fills from it.
type MakerTakerClassifier struct {
	mu      sync.Mutex
	cfg     Config
	alpha   float64
	beta    float64
	gamma   float64
	weights Features
	hist    *history
	rng     *rand.Rand
	makers  uint64
	takers  uint64
	logOnce rate.Sometimes
}

// NewMakerTakerClassifier creates a classifier. A zero seed draws one from the clock.
func NewMakerTakerClassifier(cfg Config, seed uint64) *MakerTakerClassifier {
	cfg = cfg.withDefaults()
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &MakerTakerClassifier{
		cfg:     cfg,
		alpha:   DefaultMakerAlpha,
		beta:    DefaultMakerBeta,
		gamma:   DefaultMakerGamma,
		weights: ones(),
		hist:    newHistory(cfg.HistorySize),
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		logOnce: rate.Sometimes{Interval: time.Second},
	}
}

// PredictMakerProbability returns p for an order of size base units and feeds the refit.
func (c *MakerTakerClassifier) PredictMakerProbability(snap *domain.OrderbookSnapshot, size float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.predictLocked(snap, size)
}

func (c *MakerTakerClassifier) predictLocked(snap *domain.OrderbookSnapshot, size float64) float64 {
	f, err := bookFeatures(snap, size)
	if err != nil {
		c.logOnce.Do(func() {
			slog.Warn("maker probability unavailable", slog.Any("error", err))
		})
		return neutralMakerProbability
	}

	p := c.alpha*f.Dot(c.weights) - c.beta*f[0] - c.gamma*f[2]
	if !finite(p) {
		return neutralMakerProbability
	}
	p = math.Min(1, math.Max(0, p))

	c.hist.push(f, p)
	if c.hist.len() >= c.cfg.MinFitSamples {
		c.refit()
	}
	return p
}

func (c *MakerTakerClassifier) refit() {
	fs, ys := c.hist.rows()

	rows := make([][]float64, len(fs))
	raw := make([][]float64, len(fs))
	for i, f := range fs {
		// Spread and size enter the prediction with a negative sign.
		rows[i] = []float64{f.Dot(c.weights), -f[0], -f[2]}
		raw[i] = append([]float64(nil), f[:]...)
	}

	coef, err := ridgeSolve(rows, ys, c.cfg.RidgeLambda)
	if err != nil {
		c.logOnce.Do(func() {
			slog.Warn("maker/taker refit skipped", slog.Any("error", err))
		})
		return
	}
	c.alpha = math.Max(0, coef[0])
	c.beta = math.Max(0, coef[1])
	c.gamma = math.Max(0, coef[2])

	w, err := olsSolve(raw, ys)
	if err != nil {
		c.logOnce.Do(func() {
			slog.Warn("maker/taker weight fit skipped", slog.Any("error", err))
		})
		return
	}
	copy(c.weights[:], w)
}

// Classify samples a fill: maker when a uniform draw falls below p.
func (c *MakerTakerClassifier) Classify(snap *domain.OrderbookSnapshot, size float64) Role {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.predictLocked(snap, size)
	if c.rng.Float64() < p {
		c.makers++
		return RoleMaker
	}
	c.takers++
	return RoleTaker
}

// MakerProportion is the share of maker fills since the last reset, 0 with no fills.
func (c *MakerTakerClassifier) MakerProportion() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.makerRatio()
}

// TakerProportion is the share of taker fills since the last reset, 0 with no fills.
func (c *MakerTakerClassifier) TakerProportion() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.takerRatio()
}

// Proportions returns both shares from one consistent read.
func (c *MakerTakerClassifier) Proportions() (maker, taker float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.makerRatio(), c.takerRatio()
}

func (c *MakerTakerClassifier) makerRatio() float64 {
	total := c.makers + c.takers
	if total == 0 {
		return 0
	}
	return float64(c.makers) / float64(total)
}

func (c *MakerTakerClassifier) takerRatio() float64 {
	total := c.makers + c.takers
	if total == 0 {
		return 0
	}
	return float64(c.takers) / float64(total)
}

func (c *MakerTakerClassifier) ResetCounts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.makers, c.takers = 0, 0
}

// Parameters returns the coefficients and current fill ratios.
func (c *MakerTakerClassifier) Parameters() MakerTakerParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return MakerTakerParams{
		Alpha:      c.alpha,
		Beta:       c.beta,
		Gamma:      c.gamma,
		Weights:    c.weights,
		MakerRatio: c.makerRatio(),
		TakerRatio: c.takerRatio(),
	}
}

func (c *MakerTakerClassifier) HistoryLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hist.len()
}

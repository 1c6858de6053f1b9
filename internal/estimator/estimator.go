// Package estimator turns an orderbook snapshot and an order size into trading-cost
// estimates. Every estimator keeps a bounded (features, target) history and refits its
// parameters in closed form once enough rows exist. Errors never escape an estimator:
// they are logged and replaced by a conservative default.
package estimator

import (
	"trade_sim/internal/domain"
)

const (
	// DefaultHistorySize bounds every estimator history.
	DefaultHistorySize = 1000
	// DefaultMinFitSamples is the history length at which refits start.
	DefaultMinFitSamples = 10
	// DefaultRidgeLambda is the ridge penalty for primary parameter refits.
	DefaultRidgeLambda = 1e-4

	bpsScale = 10000.0
)

// Config tunes the online refit shared by all estimators.
type Config struct {
	HistorySize   int
	MinFitSamples int
	RidgeLambda   float64
}

// DefaultConfig returns the standard refit settings.
func DefaultConfig() Config {
	return Config{
		HistorySize:   DefaultHistorySize,
		MinFitSamples: DefaultMinFitSamples,
		RidgeLambda:   DefaultRidgeLambda,
	}
}

func (c Config) withDefaults() Config {
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.MinFitSamples <= 0 {
		c.MinFitSamples = DefaultMinFitSamples
	}
	if c.RidgeLambda < 0 {
		c.RidgeLambda = DefaultRidgeLambda
	}
	return c
}

// CostEstimator predicts a cost in basis points for an order of the given size.
// It is called synchronously by the simulator tick loop.
type CostEstimator interface {
	Estimate(snap *domain.OrderbookSnapshot, size float64) float64
	HistoryLen() int
}

var (
	_ CostEstimator = (*SlippageEstimator)(nil)
	_ CostEstimator = (*MarketImpactEstimator)(nil)
)

package estimator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"trade_sim/internal/domain"
)

// FeeRates is a maker/taker rate pair, as fractions of notional.
type FeeRates struct {
	Maker float64 `yaml:"maker" json:"maker" validate:"gte=0"`
	Taker float64 `yaml:"taker" json:"taker" validate:"gte=0"`
}

// FeeSchedule maps fee tiers to rates.
type FeeSchedule map[domain.FeeTier]FeeRates

// DefaultFeeSchedule returns the standard three tiers.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		domain.FeeTierLow:  {Maker: 0.0008, Taker: 0.0010},
		domain.FeeTierMid:  {Maker: 0.0010, Taker: 0.0020},
		domain.FeeTierHigh: {Maker: 0.0015, Taker: 0.0025},
	}
}

// Calculator returns the calculator for tier.
func (s FeeSchedule) Calculator(tier domain.FeeTier) (*FeeCalculator, error) {
	rates, ok := s[tier]
	if !ok {
		return nil, fmt.Errorf("%w: unknown fee tier %q", domain.ErrInvalidParams, tier)
	}
	if !allFinite(rates.Maker, rates.Taker) {
		return nil, fmt.Errorf("%w: non-finite rates for fee tier %q", domain.ErrInvalidParams, tier)
	}
	return NewFeeCalculator(rates.Maker, rates.Taker), nil
}

// FeeCalculator computes expected fees in decimal to avoid float drift on rates.
type FeeCalculator struct {
	maker decimal.Decimal
	taker decimal.Decimal

	logOnce rate.Sometimes
}

// NewFeeCalculator builds a calculator. Non-finite rates are replaced by 0.
func NewFeeCalculator(makerRate, takerRate float64) *FeeCalculator {
	return &FeeCalculator{
		maker:   finiteDecimal(makerRate),
		taker:   finiteDecimal(takerRate),
		logOnce: rate.Sometimes{Interval: time.Second},
	}
}

// ExpectedFees returns makerProp·makerRate·notional + takerProp·takerRate·notional.
// Inputs are assumed non-negative. NaN or ±Inf inputs give 0.
func (c *FeeCalculator) ExpectedFees(makerProp, takerProp, notional float64) float64 {
	if !allFinite(makerProp, takerProp, notional) {
		c.logOnce.Do(func() {
			slog.Warn("Fee inputs not finite, using 0",
				slog.Float64("maker_prop", makerProp),
				slog.Float64("taker_prop", takerProp),
				slog.Float64("notional", notional))
		})
		return 0
	}
	n := decimal.NewFromFloat(notional)
	makerFee := decimal.NewFromFloat(makerProp).Mul(c.maker).Mul(n)
	takerFee := decimal.NewFromFloat(takerProp).Mul(c.taker).Mul(n)
	return makerFee.Add(takerFee).InexactFloat64()
}

// Rates returns the configured rates.
func (c *FeeCalculator) Rates() FeeRates {
	return FeeRates{Maker: c.maker.InexactFloat64(), Taker: c.taker.InexactFloat64()}
}

func allFinite(vs ...float64) bool {
	for _, v := range vs {
		if !finite(v) {
			return false
		}
	}
	return true
}

func finiteDecimal(v float64) decimal.Decimal {
	if !finite(v) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

package domain

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
)

// OrderType is the order style requested by the consumer.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// FeeTier selects a maker/taker rate pair.
type FeeTier string

const (
	FeeTierLow  FeeTier = "low"
	FeeTierMid  FeeTier = "mid"
	FeeTierHigh FeeTier = "high"
)

// SimulationParams are the producer-supplied inputs of a run.
type SimulationParams struct {
	Asset         string    `yaml:"asset" json:"asset" default:"BTC-USDT-SWAP" validate:"required"`
	OrderType     OrderType `yaml:"order_type" json:"order_type" default:"market" validate:"required,oneof=market limit stop"`
	QuantityUSD   float64   `yaml:"quantity_usd" json:"quantity_usd" default:"100" validate:"finite,gt=0"`
	VolatilityPct float64   `yaml:"volatility_pct" json:"volatility_pct" validate:"finite,gte=0"`
	FeeTier       FeeTier   `yaml:"fee_tier" json:"fee_tier" default:"mid" validate:"required,oneof=low mid high"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// gt/gte compare +Inf as a valid number.
	_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	})
	return v
}

// Normalize lower-cases the enum fields so UI-style values ("Market", "High") are accepted.
func (p SimulationParams) Normalize() SimulationParams {
	p.Asset = strings.TrimSpace(p.Asset)
	p.OrderType = OrderType(strings.ToLower(strings.TrimSpace(string(p.OrderType))))
	p.FeeTier = FeeTier(strings.ToLower(strings.TrimSpace(string(p.FeeTier))))
	return p
}

// Validate rejects params before any connection attempt.
func (p SimulationParams) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

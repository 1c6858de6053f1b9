package domain

import (
	"errors"
	"math"
	"testing"
)

func validParams() SimulationParams {
	return SimulationParams{
		Asset:         "BTC-USDT-SWAP",
		OrderType:     OrderTypeMarket,
		QuantityUSD:   100,
		VolatilityPct: 2,
		FeeTier:       FeeTierMid,
	}
}

func TestSimulationParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *SimulationParams)
		wantErr bool
	}{
		{"valid", func(p *SimulationParams) {}, false},
		{"zero volatility", func(p *SimulationParams) { p.VolatilityPct = 0 }, false},
		{"missing asset", func(p *SimulationParams) { p.Asset = "" }, true},
		{"zero quantity", func(p *SimulationParams) { p.QuantityUSD = 0 }, true},
		{"negative quantity", func(p *SimulationParams) { p.QuantityUSD = -5 }, true},
		{"NaN quantity", func(p *SimulationParams) { p.QuantityUSD = math.NaN() }, true},
		{"infinite quantity", func(p *SimulationParams) { p.QuantityUSD = math.Inf(1) }, true},
		{"NaN volatility", func(p *SimulationParams) { p.VolatilityPct = math.NaN() }, true},
		{"infinite volatility", func(p *SimulationParams) { p.VolatilityPct = math.Inf(1) }, true},
		{"negative volatility", func(p *SimulationParams) { p.VolatilityPct = -1 }, true},
		{"bad order type", func(p *SimulationParams) { p.OrderType = "iceberg" }, true},
		{"bad fee tier", func(p *SimulationParams) { p.FeeTier = "vip" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidParams) {
				t.Errorf("expected ErrInvalidParams, got %v", err)
			}
		})
	}
}

func TestSimulationParams_Normalize(t *testing.T) {
	p := SimulationParams{
		Asset:       " BTC-USDT ",
		OrderType:   "Market",
		QuantityUSD: 10,
		FeeTier:     "High",
	}.Normalize()

	if p.Asset != "BTC-USDT" || p.OrderType != OrderTypeMarket || p.FeeTier != FeeTierHigh {
		t.Errorf("unexpected normalized params: %+v", p)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("normalized params should validate: %v", err)
	}
}

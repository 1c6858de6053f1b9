package estimator

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade_sim/internal/domain"
)

func TestFeeCalculator_ExpectedFees(t *testing.T) {
	tests := []struct {
		name     string
		maker    float64
		taker    float64
		notional float64
		want     float64
	}{
		{"mixed", 0.6, 0.4, 1000, 1.4},
		{"all maker", 1, 0, 1000, 1},
		{"all taker", 0, 1, 250, 0.5},
		{"no fills", 0, 0, 1000, 0},
		{"infinite notional", 0.6, 0.4, math.Inf(1), 0},
		{"NaN proportion", math.NaN(), 0.4, 1000, 0},
	}

	calc := NewFeeCalculator(0.001, 0.002)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, calc.ExpectedFees(tt.maker, tt.taker, tt.notional), 1e-6)
		})
	}
}

func TestNewFeeCalculator_NonFiniteRates(t *testing.T) {
	calc := NewFeeCalculator(math.Inf(1), 0.002)
	assert.Equal(t, FeeRates{Maker: 0, Taker: 0.002}, calc.Rates())
	assert.InDelta(t, 0.8, calc.ExpectedFees(0.6, 0.4, 1000), 1e-9)
}

func TestFeeSchedule_NonFiniteTier(t *testing.T) {
	s := FeeSchedule{domain.FeeTierMid: {Maker: math.NaN(), Taker: 0.002}}
	_, err := s.Calculator(domain.FeeTierMid)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidParams))
}

func TestFeeSchedule_Calculator(t *testing.T) {
	schedule := FeeSchedule{
		domain.FeeTierLow: {Maker: 0.0008, Taker: 0.001},
		domain.FeeTierMid: {Maker: 0.001, Taker: 0.002},
	}

	calc, err := schedule.Calculator(domain.FeeTierMid)
	require.NoError(t, err)
	assert.Equal(t, FeeRates{Maker: 0.001, Taker: 0.002}, calc.Rates())

	_, err = schedule.Calculator(domain.FeeTierHigh)
	assert.ErrorIs(t, err, domain.ErrInvalidParams)
}

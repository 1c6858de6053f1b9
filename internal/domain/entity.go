package domain

import (
	"time"
)

// SimulationRun is the persisted header of one Start/Stop cycle.
type SimulationRun struct {
	ID            string    `gorm:"primaryKey" json:"id"`
	Asset         string    `gorm:"index" json:"asset"`
	OrderType     string    `json:"order_type"`
	QuantityUSD   float64   `json:"quantity_usd"`
	VolatilityPct float64   `json:"volatility_pct"`
	FeeTier       string    `json:"fee_tier"`
	StartedAt     time.Time `json:"started_at"`
	StoppedAt     time.Time `json:"stopped_at"`
	Status        string    `json:"status"` // last status message seen
}

// MetricRow is a persisted MetricRecord.
type MetricRow struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	RunID             string    `gorm:"index" json:"run_id"`
	SlippageBps       float64   `json:"slippage_bps"`
	MarketImpactBps   float64   `json:"market_impact_bps"`
	MakerProportion   float64   `json:"maker_proportion"`
	TakerProportion   float64   `json:"taker_proportion"`
	FeesUSD           float64   `json:"fees_usd"`
	TotalCost         float64   `json:"total_cost"`
	Volatility        float64   `json:"volatility"`
	InternalLatencyMs float64   `json:"internal_latency_ms"`
	MidPrice          float64   `json:"mid_price"`
	SnapshotTimestamp string    `json:"snapshot_timestamp"`
	Final             bool      `json:"final"`
	EmittedAt         time.Time `gorm:"index" json:"emitted_at"`
}

// NewMetricRow flattens a record for storage.
func NewMetricRow(runID string, r MetricRecord) *MetricRow {
	return &MetricRow{
		RunID:             runID,
		SlippageBps:       r.SlippageBps,
		MarketImpactBps:   r.MarketImpactBps,
		MakerProportion:   r.MakerProportion,
		TakerProportion:   r.TakerProportion,
		FeesUSD:           r.FeesUSD,
		TotalCost:         r.TotalCost,
		Volatility:        r.Volatility,
		InternalLatencyMs: r.InternalLatencyMs,
		MidPrice:          r.MidPrice,
		SnapshotTimestamp: r.SnapshotTimestamp,
		Final:             r.Final,
		EmittedAt:         r.EmittedAt,
	}
}

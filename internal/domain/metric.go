package domain

import "time"

// MetricRecord is the per-tick cost estimate handed to the consumer.
// Slippage and impact are in basis points; fees and total cost in USD.
type MetricRecord struct {
	SlippageBps       float64 `json:"slippage_bps"`
	MarketImpactBps   float64 `json:"market_impact_bps"`
	MakerProportion   float64 `json:"maker_proportion"`
	TakerProportion   float64 `json:"taker_proportion"`
	FeesUSD           float64 `json:"fees_usd"`
	TotalCost         float64 `json:"total_cost"`
	Volatility        float64 `json:"volatility"`
	InternalLatencyMs float64 `json:"internal_latency_ms"`

	Asset             string    `json:"asset"`
	OrderType         OrderType `json:"order_type"`
	QuantityUSD       float64   `json:"quantity_usd"`
	MidPrice          float64   `json:"mid_price"`
	Spread            float64   `json:"spread"`
	SnapshotTimestamp string    `json:"snapshot_timestamp"`
	EmittedAt         time.Time `json:"emitted_at"`
	Final             bool      `json:"final"`
}

// TotalCostUSD converts the bps components onto the notional and adds fees.
func TotalCostUSD(slippageBps, impactBps, feesUSD, notional float64) float64 {
	return (slippageBps+impactBps)/10000*notional + feesUSD
}

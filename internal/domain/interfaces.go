package domain

import (
	"context"
)

// OrderbookFeed is the market data source driven by the simulator.
type OrderbookFeed interface {
	Start(ctx context.Context) error
	Stop() error
	// LatestOrderbook blocks until a snapshot exists or ctx is done.
	LatestOrderbook(ctx context.Context) (*OrderbookSnapshot, error)
	// Current returns the latest snapshot without waiting.
	Current() (*OrderbookSnapshot, bool)
	// Fatal delivers at most one terminal connection error.
	Fatal() <-chan error
}

// RunRepository persists simulation runs and their metric records.
type RunRepository interface {
	CreateRun(run *SimulationRun) error
	FinishRun(id, status string) error
	SaveMetric(row *MetricRow) error
}

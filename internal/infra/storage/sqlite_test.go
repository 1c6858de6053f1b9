package storage

import (
	"path/filepath"
	"testing"
	"time"

	"trade_sim/internal/domain"
)

func setupTestDB(t *testing.T) *Storage {
	s, err := NewStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestCreateAndFinishRun(t *testing.T) {
	s := setupTestDB(t)

	run := &domain.SimulationRun{
		ID:          "run-1",
		Asset:       "BTC-USDT-SWAP",
		OrderType:   "market",
		QuantityUSD: 100,
		FeeTier:     "mid",
		StartedAt:   time.Now(),
		Status:      "running",
	}

	// 1. Create
	if err := s.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	// 2. Finish
	if err := s.FinishRun("run-1", "stopped"); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	// 3. Verify
	fetched, err := s.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if fetched == nil {
		t.Fatal("fetched run is nil")
	}
	if fetched.Status != "stopped" {
		t.Errorf("expected status stopped, got %s", fetched.Status)
	}
	if fetched.StoppedAt.IsZero() {
		t.Error("expected StoppedAt to be set")
	}
}

func TestFinishUnknownRun(t *testing.T) {
	s := setupTestDB(t)

	if err := s.FinishRun("missing", "stopped"); err == nil {
		t.Error("expected error for unknown run")
	}

	run, err := s.GetRun("missing")
	if err != nil || run != nil {
		t.Errorf("GetRun(missing) = %v, %v; want nil, nil", run, err)
	}
}

func TestSaveAndListMetrics(t *testing.T) {
	s := setupTestDB(t)

	if err := s.CreateRun(&domain.SimulationRun{ID: "run-2", StartedAt: time.Now()}); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		rec := domain.MetricRecord{
			SlippageBps:     float64(i),
			FeesUSD:         1.4,
			MakerProportion: 0.6,
			TakerProportion: 0.4,
			EmittedAt:       time.Now(),
			Final:           i == 2,
		}
		if err := s.SaveMetric(domain.NewMetricRow("run-2", rec)); err != nil {
			t.Fatalf("SaveMetric failed: %v", err)
		}
	}
	if err := s.SaveMetric(domain.NewMetricRow("other", domain.MetricRecord{})); err != nil {
		t.Fatalf("SaveMetric failed: %v", err)
	}

	rows, err := s.ListMetrics("run-2")
	if err != nil {
		t.Fatalf("ListMetrics failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].SlippageBps != 0 || !rows[2].Final {
		t.Errorf("rows out of order: %+v", rows)
	}
}

func TestListRuns(t *testing.T) {
	s := setupTestDB(t)
	base := time.Now()

	for i, id := range []string{"a", "b", "c"} {
		run := &domain.SimulationRun{ID: id, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.CreateRun(run); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}

	runs, err := s.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" {
		t.Errorf("unexpected runs: %+v", runs)
	}
}

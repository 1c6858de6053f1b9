package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"trade_sim/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage persists simulation runs and metric records in SQLite.
type Storage struct {
	db *gorm.DB
}

var _ domain.RunRepository = (*Storage)(nil)

// NewStorage opens (or creates) the database at dbPath. An empty path resolves to the
// per-user data directory.
func NewStorage(dbPath string) (*Storage, error) {
	if dbPath == "" {
		var err error
		if dbPath, err = getDBPath(); err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.SimulationRun{}, &domain.MetricRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "TradeSim", "data", "trade_sim.db"), nil
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Run Operations
// ======================================================================================

// CreateRun inserts a new run header.
func (s *Storage) CreateRun(run *domain.SimulationRun) error {
	return s.db.Create(run).Error
}

// FinishRun stamps the stop time and final status of a run.
func (s *Storage) FinishRun(id, status string) error {
	res := s.db.Model(&domain.SimulationRun{}).
		Where("id = ?", id).
		Updates(map[string]any{"stopped_at": time.Now(), "status": status})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("run %s: %w", id, gorm.ErrRecordNotFound)
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *Storage) GetRun(id string) (*domain.SimulationRun, error) {
	var run domain.SimulationRun
	err := s.db.First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	return &run, err
}

// ListRuns returns the most recent runs first.
func (s *Storage) ListRuns(limit int) ([]domain.SimulationRun, error) {
	var runs []domain.SimulationRun
	err := s.db.Order("started_at desc").Limit(limit).Find(&runs).Error
	return runs, err
}

// ======================================================================================
// Metric Operations
// ======================================================================================

// SaveMetric appends one metric record.
func (s *Storage) SaveMetric(row *domain.MetricRow) error {
	return s.db.Create(row).Error
}

// ListMetrics returns the records of a run in emission order.
func (s *Storage) ListMetrics(runID string) ([]domain.MetricRow, error) {
	var rows []domain.MetricRow
	err := s.db.Where("run_id = ?", runID).Order("id asc").Find(&rows).Error
	return rows, err
}

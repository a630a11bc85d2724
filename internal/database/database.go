package database

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/prjktcode/poly-grid-ai/pkg/metrics"
	"github.com/prjktcode/poly-grid-ai/pkg/models"
)

// NewSQLiteDB opens a SQLite database (dev profile and tests)
func NewSQLiteDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the ledger schema
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Listing{},
		&models.FeeSchedule{},
		&models.Account{},
		&models.LedgerEvent{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// CollectPoolMetrics samples DB pool stats into prometheus gauges every interval
// until the returned stop function is called.
func CollectPoolMetrics(db *gorm.DB, name string, interval time.Duration) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					continue
				}
				stats := sqlDB.Stats()
				metrics.DBOpenConns.WithLabelValues(name).Set(float64(stats.OpenConnections))
				metrics.DBIdleConns.WithLabelValues(name).Set(float64(stats.Idle))
				metrics.DBInUseConns.WithLabelValues(name).Set(float64(stats.InUse))
			}
		}
	}()
	return func() { close(done) }
}

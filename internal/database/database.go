package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mayconvmartins/mvcashnode-sub001/internal/models"
)

// NewDatabase creates a new database connection and performs auto-migration.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// AutoMigrate creates or upgrades the tables for all engine entities.
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.TradePosition{},
		&models.PositionFill{},
		&models.TradeJob{},
		&models.TradeExecution{},
		&models.WebhookMonitorAlert{},
		&models.TradeParameter{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}

package database

import (
	"fmt"

	"marketplace/internal/model"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewConnection opens the configured driver and migrates the schema.
func NewConnection(driver, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		logger.Warn("failed to auto-migrate models", zap.Error(err))
	}

	return db, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.ServiceRequest{},
		&model.Proposal{},
		&model.Project{},
		&model.Milestone{},
		&model.MilestoneApproval{},
		&model.Payment{},
		&model.PayoutMethod{},
		&model.TransferProof{},
		&model.AuditLog{},
	)
}

// internal/infrastructure/database/connection.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/your-org/fleet-backend/internal/config"
	"github.com/your-org/fleet-backend/internal/infrastructure/database/postgres"
	"github.com/your-org/fleet-backend/internal/infrastructure/database/sqlite"
	"github.com/your-org/fleet-backend/internal/pkg/logger"
	"gorm.io/gorm"
)

// Database wraps the gorm handle for the configured driver
type Database struct {
	DB     *gorm.DB
	Driver string
}

// NewConnection opens the store of record selected by DB_DRIVER
func NewConnection(cfg *config.Config, log *logrus.Logger) (*Database, error) {
	gormLogger := logger.Gorm(log, cfg.App.Debug)

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Database.Driver {
	case "sqlite":
		db, err = sqlite.Open(cfg.GetDatabaseDSN(), gormLogger)
	default:
		db, err = postgres.Open(cfg, gormLogger)
	}
	if err != nil {
		return nil, err
	}

	database := &Database{DB: db, Driver: cfg.Database.Driver}
	if err := database.Health(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.WithField("driver", cfg.Database.Driver).Info("Database connection established")
	return database, nil
}

// GetDB returns the gorm handle
func (d *Database) GetDB() *gorm.DB {
	return d.DB
}

// Health pings the database
func (d *Database) Health(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying pool
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

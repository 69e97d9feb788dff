// internal/infrastructure/database/migration.go
package database

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/your-org/fleet-backend/internal/domain/catalog"
	"github.com/your-org/fleet-backend/internal/domain/inventory"
	"github.com/your-org/fleet-backend/internal/domain/transfer"
	"github.com/your-org/fleet-backend/internal/domain/workorder"
	"gorm.io/gorm"
)

// Migration handles database migrations
type Migration struct {
	db     *gorm.DB
	driver string
	logger *logrus.Logger
}

// NewMigration creates a new migration instance
func NewMigration(database *Database, logger *logrus.Logger) *Migration {
	return &Migration{
		db:     database.DB,
		driver: database.Driver,
		logger: logger,
	}
}

// Models lists every table in dependency order
func Models() []interface{} {
	var models []interface{}
	models = append(models, catalog.Models()...)
	models = append(models, inventory.Models()...)
	models = append(models, workorder.Models()...)
	models = append(models, transfer.Models()...)
	return models
}

// RunAutoMigrations runs GORM auto-migrations for all models
func (m *Migration) RunAutoMigrations() error {
	m.logger.Info("Running database auto-migrations")

	for _, model := range Models() {
		m.logger.Debugf("Migrating model: %T", model)
		if err := m.db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate model %T: %w", model, err)
		}
	}

	m.logger.Info("Database auto-migrations completed")
	return nil
}

// CreateIndexes creates additional indexes for the hot read paths
func (m *Migration) CreateIndexes() error {
	indexes := []string{
		// Ledger history is read per (location, part) in write order
		"CREATE INDEX IF NOT EXISTS idx_inventory_tx_history ON inventory_transactions(location_id, part_id, created_at, id)",
		"CREATE INDEX IF NOT EXISTS idx_inventory_tx_created_at ON inventory_transactions(created_at DESC)",

		// Low-stock listings
		"CREATE INDEX IF NOT EXISTS idx_inventory_levels_location_min ON inventory_levels(location_id, min_stock_level)",

		// Work order lines
		"CREATE INDEX IF NOT EXISTS idx_work_order_lines_order_status ON work_order_part_lines(work_order_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_work_order_lines_backorders ON work_order_part_lines(location_id, part_id, status)",

		// Transfers
		"CREATE INDEX IF NOT EXISTS idx_transfers_status_created ON transfers(status, created_at DESC)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_transfer_lines_transfer_part ON transfer_lines(transfer_id, part_id)",
	}

	successCount := 0
	failCount := 0

	for _, indexSQL := range indexes {
		if err := m.db.Exec(indexSQL).Error; err != nil {
			m.logger.WithError(err).Warn("Failed to create index")
			failCount++
		} else {
			successCount++
		}
	}

	m.logger.WithFields(logrus.Fields{"created": successCount, "failed": failCount}).Info("Database indexes ensured")
	return nil
}

// CreateLedgerGuards installs triggers that refuse UPDATE and DELETE on the
// transaction log, so even raw SQL cannot rewrite history.
func (m *Migration) CreateLedgerGuards() error {
	var statements []string
	if m.driver == "sqlite" {
		statements = []string{
			`CREATE TRIGGER IF NOT EXISTS trg_inventory_tx_no_update
			 BEFORE UPDATE ON inventory_transactions
			 BEGIN SELECT RAISE(ABORT, 'inventory transactions are append-only'); END`,
			`CREATE TRIGGER IF NOT EXISTS trg_inventory_tx_no_delete
			 BEFORE DELETE ON inventory_transactions
			 BEGIN SELECT RAISE(ABORT, 'inventory transactions are append-only'); END`,
		}
	} else {
		statements = []string{
			`CREATE OR REPLACE FUNCTION inventory_tx_append_only() RETURNS trigger AS $$
			 BEGIN
			   RAISE EXCEPTION 'inventory transactions are append-only';
			 END;
			 $$ LANGUAGE plpgsql`,
			`DROP TRIGGER IF EXISTS trg_inventory_tx_append_only ON inventory_transactions`,
			`CREATE TRIGGER trg_inventory_tx_append_only
			 BEFORE UPDATE OR DELETE ON inventory_transactions
			 FOR EACH ROW EXECUTE FUNCTION inventory_tx_append_only()`,
		}
	}

	for _, stmt := range statements {
		if err := m.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to install ledger guard: %w", err)
		}
	}

	m.logger.Info("Ledger append-only guards installed")
	return nil
}

// SeedInitialData inserts reference data for local development
func (m *Migration) SeedInitialData() error {
	m.logger.Info("Seeding initial data")

	if err := m.seedLocations(); err != nil {
		return fmt.Errorf("failed to seed locations: %w", err)
	}
	if err := m.seedParts(); err != nil {
		return fmt.Errorf("failed to seed parts: %w", err)
	}

	m.logger.Info("Initial data seeded")
	return nil
}

func (m *Migration) seedLocations() error {
	locations := []catalog.Location{
		{Code: "WH-MAIN", Name: "Main warehouse", Type: catalog.LocationTypeWarehouse},
		{Code: "SHOP-1", Name: "Service shop", Type: catalog.LocationTypeShop},
		{Code: "VAN-01", Name: "Mobile service van 1", Type: catalog.LocationTypeVehicle},
	}

	for _, location := range locations {
		var existing catalog.Location
		if err := m.db.Where("code = ?", location.Code).First(&existing).Error; err == nil {
			m.logger.Debugf("Location already exists: %s", location.Code)
			continue
		}
		if err := m.db.Create(&location).Error; err != nil {
			return err
		}
		m.logger.Debugf("Created location: %s", location.Code)
	}
	return nil
}

func (m *Migration) seedParts() error {
	parts := []catalog.Part{
		{SKU: "OIL-5W30-5L", Name: "Engine oil 5W-30 5L", Category: "fluids", UnitOfMeasure: "each",
			DefaultCost: decimal.RequireFromString("21.40"), DefaultPrice: decimal.RequireFromString("34.99"), Taxable: true},
		{SKU: "FLT-OIL-100", Name: "Oil filter", Category: "filters", UnitOfMeasure: "each",
			DefaultCost: decimal.RequireFromString("4.20"), DefaultPrice: decimal.RequireFromString("9.95"), Taxable: true},
		{SKU: "BRK-PAD-F", Name: "Front brake pad set", Category: "brakes", UnitOfMeasure: "set",
			DefaultCost: decimal.RequireFromString("38.00"), DefaultPrice: decimal.RequireFromString("74.50"), Taxable: true},
	}

	for _, part := range parts {
		var existing catalog.Part
		if err := m.db.Where("sku = ?", part.SKU).First(&existing).Error; err == nil {
			m.logger.Debugf("Part already exists: %s", part.SKU)
			continue
		}
		part.IsActive = true
		if err := m.db.Create(&part).Error; err != nil {
			return err
		}
		m.logger.Debugf("Created part: %s", part.SKU)
	}
	return nil
}

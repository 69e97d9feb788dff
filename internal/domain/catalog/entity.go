// internal/domain/catalog/entity.go
package catalog

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LocationType represents the kind of physical site
type LocationType string

const (
	LocationTypeWarehouse LocationType = "warehouse"
	LocationTypeShop      LocationType = "shop"
	LocationTypeVehicle   LocationType = "vehicle"
)

// Part represents a catalog entry. Parts are never deleted, only deactivated.
type Part struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	SKU           string          `gorm:"uniqueIndex;not null;size:100" json:"sku"`
	Name          string          `gorm:"not null;size:255" json:"name"`
	Category      string          `gorm:"size:100;index" json:"category"`
	UnitOfMeasure string          `gorm:"size:20;not null;default:'each'" json:"unit_of_measure"`
	DefaultCost   decimal.Decimal `gorm:"type:numeric(14,4);not null" json:"default_cost"`
	DefaultPrice  decimal.Decimal `gorm:"type:numeric(14,4);not null" json:"default_price"`
	Taxable       bool            `gorm:"not null" json:"taxable"`
	IsActive      bool            `gorm:"not null;index" json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Location represents a warehouse, shop or service vehicle holding stock
type Location struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Code      string         `gorm:"uniqueIndex;not null;size:20" json:"code"`
	Name      string         `gorm:"not null;size:100" json:"name"`
	Type      LocationType   `gorm:"size:20;not null" json:"type"`
	Address   string         `gorm:"type:text" json:"address"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Models returns the catalog tables for migration
func Models() []interface{} {
	return []interface{}{&Part{}, &Location{}}
}

// internal/domain/inventory/entity.go
package inventory

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TxType represents the kind of quantity-affecting event
type TxType string

const (
	TxReceive          TxType = "RECEIVE"
	TxReserve          TxType = "RESERVE"
	TxIssue            TxType = "ISSUE"
	TxReturn           TxType = "RETURN"
	TxAdjust           TxType = "ADJUST"
	TxTransferOut      TxType = "TRANSFER_OUT"
	TxTransferIn       TxType = "TRANSFER_IN"
	TxSale             TxType = "SALE"
	TxCycleCountAdjust TxType = "CYCLE_COUNT_ADJUST"
)

// ReturnMode selects which of the two RETURN forms is applied
type ReturnMode string

const (
	ReturnPostIssue ReturnMode = "POST_ISSUE" // issued stock comes back on-hand
	ReturnUnreserve ReturnMode = "UNRESERVE"  // reservation is released
)

// ReferenceType names the document a transaction originates from
type ReferenceType string

const (
	RefPurchaseOrder ReferenceType = "PURCHASE_ORDER"
	RefWorkOrderLine ReferenceType = "WORK_ORDER_LINE"
	RefTransfer      ReferenceType = "TRANSFER"
	RefSale          ReferenceType = "SALE"
	RefManual        ReferenceType = "MANUAL"
	RefCycleCount    ReferenceType = "CYCLE_COUNT"
)

// InventoryLevel holds on-hand and reserved stock of one part at one location.
// Only the ledger engine writes these rows.
type InventoryLevel struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	LocationID     uint            `gorm:"not null;uniqueIndex:idx_inventory_levels_location_part" json:"location_id"`
	PartID         uint            `gorm:"not null;uniqueIndex:idx_inventory_levels_location_part;index" json:"part_id"`
	OnHandQty      int             `gorm:"not null;default:0" json:"on_hand_qty"`
	ReservedQty    int             `gorm:"not null;default:0" json:"reserved_qty"`
	MinStockLevel  int             `gorm:"not null;default:0" json:"min_stock_level"`
	ReorderQty     int             `gorm:"not null;default:0" json:"reorder_qty"`
	LastUnitCost   decimal.Decimal `gorm:"type:numeric(14,4);not null" json:"last_unit_cost"`
	LastReceivedAt *time.Time      `json:"last_received_at,omitempty"`
	LastIssuedAt   *time.Time      `json:"last_issued_at,omitempty"`
	LastCountedAt  *time.Time      `json:"last_counted_at,omitempty"`
	Version        int64           `gorm:"not null;default:0" json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// AvailableQty is on-hand stock not earmarked by a reservation
func (l *InventoryLevel) AvailableQty() int {
	return l.OnHandQty - l.ReservedQty
}

// IsLowStock checks if available stock fell to the minimum stock level
func (l *InventoryLevel) IsLowStock() bool {
	return l.MinStockLevel > 0 && l.AvailableQty() <= l.MinStockLevel
}

// MarshalJSON adds the derived available quantity
func (l InventoryLevel) MarshalJSON() ([]byte, error) {
	type level InventoryLevel
	return json.Marshal(struct {
		level
		AvailableQty int `json:"available_qty"`
	}{level(l), l.AvailableQty()})
}

// InventoryTransaction is an immutable ledger entry
type InventoryTransaction struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	LocationID     uint            `gorm:"not null;index:idx_inventory_tx_location_part" json:"location_id"`
	PartID         uint            `gorm:"not null;index:idx_inventory_tx_location_part" json:"part_id"`
	TxType         TxType          `gorm:"size:32;not null;index" json:"tx_type"`
	QtyChange      int             `gorm:"not null" json:"qty_change"`
	ReservedChange int             `gorm:"not null" json:"reserved_change"`
	OnHandAfter    int             `gorm:"not null" json:"on_hand_after"`
	ReservedAfter  int             `gorm:"not null" json:"reserved_after"`
	UnitCostAtTime decimal.Decimal `gorm:"type:numeric(14,4);not null" json:"unit_cost_at_time"`
	ReferenceType  ReferenceType   `gorm:"size:50;index:idx_inventory_tx_reference" json:"reference_type"`
	ReferenceID    uint            `gorm:"index:idx_inventory_tx_reference" json:"reference_id"`
	ReasonCode     string          `gorm:"size:50" json:"reason_code,omitempty"`
	Notes          string          `gorm:"type:text" json:"notes,omitempty"`
	PerformedBy    uint            `gorm:"index" json:"performed_by"`
	CreatedAt      time.Time       `gorm:"index" json:"created_at"`
}

var errImmutableTransaction = errors.New("inventory transactions are append-only")

// BeforeUpdate refuses edits to ledger entries
func (t *InventoryTransaction) BeforeUpdate(tx *gorm.DB) error {
	return errImmutableTransaction
}

// BeforeDelete refuses deletion of ledger entries
func (t *InventoryTransaction) BeforeDelete(tx *gorm.DB) error {
	return errImmutableTransaction
}

// Models returns the ledger tables for migration
func Models() []interface{} {
	return []interface{}{&InventoryLevel{}, &InventoryTransaction{}}
}

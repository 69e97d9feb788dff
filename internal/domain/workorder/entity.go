// internal/domain/workorder/entity.go
package workorder

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineStatus represents where a part line is in its reserve/issue/return lifecycle
type LineStatus string

const (
	LineStatusReserved    LineStatus = "RESERVED"
	LineStatusBackordered LineStatus = "BACKORDERED"
	LineStatusIssued      LineStatus = "ISSUED"
	LineStatusReturned    LineStatus = "RETURNED"
)

// allowedTransitions whitelists status changes; the empty status is a line
// that has not been saved yet.
var allowedTransitions = map[LineStatus][]LineStatus{
	"":                    {LineStatusReserved, LineStatusBackordered},
	LineStatusBackordered: {LineStatusBackordered, LineStatusReserved, LineStatusIssued, LineStatusReturned},
	LineStatusReserved:    {LineStatusReserved, LineStatusBackordered, LineStatusIssued, LineStatusReturned},
	LineStatusIssued:      {LineStatusIssued, LineStatusReserved, LineStatusBackordered, LineStatusReturned},
	LineStatusReturned:    {LineStatusReturned, LineStatusReserved, LineStatusBackordered},
}

// CanTransitionTo reports whether the whitelist allows moving from s to next
func (s LineStatus) CanTransitionTo(next LineStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// WorkOrderPartLine tracks one part requested on a work order. Lines are
// never hard-deleted; a cancelled line is released and keeps its history.
type WorkOrderPartLine struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	WorkOrderID  uint            `gorm:"not null;index" json:"work_order_id"`
	PartID       uint            `gorm:"not null;index" json:"part_id"`
	LocationID   uint            `gorm:"not null;index" json:"location_id"`
	QtyRequested int             `gorm:"not null" json:"qty_requested"`
	QtyReserved  int             `gorm:"not null;default:0" json:"qty_reserved"`
	QtyIssued    int             `gorm:"not null;default:0" json:"qty_issued"`
	QtyReturned  int             `gorm:"not null;default:0" json:"qty_returned"`
	UnitPrice    decimal.Decimal `gorm:"type:numeric(14,4);not null" json:"unit_price"`
	Status       LineStatus      `gorm:"size:20;not null;index" json:"status"`
	Version      int64           `gorm:"not null;default:0" json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TableName keeps the table name stable
func (WorkOrderPartLine) TableName() string {
	return "work_order_part_lines"
}

// Demand is the quantity the line still needs reserved: requested minus
// what has already come back.
func (l *WorkOrderPartLine) Demand() int {
	return l.QtyRequested - l.QtyReturned
}

// Outstanding is the part of the reservation not yet issued
func (l *WorkOrderPartLine) Outstanding() int {
	return l.QtyReserved - l.QtyIssued
}

// deriveStatus computes the status implied by the line's quantities
func (l *WorkOrderPartLine) deriveStatus() LineStatus {
	switch {
	case l.Demand() == 0:
		return LineStatusReturned
	case l.QtyReserved < l.Demand():
		return LineStatusBackordered
	case l.QtyIssued == l.QtyReserved:
		return LineStatusIssued
	default:
		return LineStatusReserved
	}
}

// Models returns the work order tables for migration
func Models() []interface{} {
	return []interface{}{&WorkOrderPartLine{}}
}

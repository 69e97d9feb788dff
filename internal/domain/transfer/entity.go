// internal/domain/transfer/entity.go
package transfer

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the transfer lifecycle state
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSent      Status = "SENT"
	StatusReceived  Status = "RECEIVED"
	StatusCancelled Status = "CANCELLED"
)

var allowedTransitions = map[Status][]Status{
	StatusDraft: {StatusSent, StatusCancelled},
	StatusSent:  {StatusReceived},
}

// CanTransitionTo reports whether the whitelist allows moving from s to next
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transfer moves stock between two locations in two phases: send, then receive
type Transfer struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	FromLocationID uint           `gorm:"not null;index" json:"from_location_id"`
	ToLocationID   uint           `gorm:"not null;index" json:"to_location_id"`
	Status         Status         `gorm:"size:20;not null;index" json:"status"`
	Notes          string         `gorm:"type:text" json:"notes,omitempty"`
	CreatedBy      uint           `json:"created_by"`
	SentBy         *uint          `json:"sent_by,omitempty"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
	ReceivedBy     *uint          `json:"received_by,omitempty"`
	ReceivedAt     *time.Time     `json:"received_at,omitempty"`
	CancelledAt    *time.Time     `json:"cancelled_at,omitempty"`
	Version        int64          `gorm:"not null;default:0" json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Lines          []TransferLine `gorm:"foreignKey:TransferID" json:"lines"`
}

// TransferLine is one part on a transfer. Qty is what leaves the source;
// QtyReceived is what the destination posted, so the two may differ.
type TransferLine struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	TransferID  uint            `gorm:"not null;index" json:"transfer_id"`
	PartID      uint            `gorm:"not null" json:"part_id"`
	Qty         int             `gorm:"not null" json:"qty"`
	QtyReceived *int            `json:"qty_received,omitempty"`
	UnitCost    decimal.Decimal `gorm:"type:numeric(14,4);not null" json:"unit_cost"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Discrepancy is sent minus received, zero until the line is received
func (l *TransferLine) Discrepancy() int {
	if l.QtyReceived == nil {
		return 0
	}
	return l.Qty - *l.QtyReceived
}

// LineError reports which line stopped a send or receive
type LineError struct {
	LineID uint
	PartID uint
	Index  int
	Err    error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("transfer line %d (part %d): %v", e.Index+1, e.PartID, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Models returns the transfer tables for migration
func Models() []interface{} {
	return []interface{}{&Transfer{}, &TransferLine{}}
}

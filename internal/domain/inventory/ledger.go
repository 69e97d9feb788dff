// internal/domain/inventory/ledger.go
package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/your-org/fleet-backend/internal/domain/catalog"
	"github.com/your-org/fleet-backend/internal/pkg/apperror"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrStaleWrite reports a compare-and-swap miss on a versioned row. The engine
// retries the whole unit of work when it sees it.
var ErrStaleWrite = errors.New("row changed by a concurrent writer")

// Operation is one quantity-affecting request. Qty is always a positive
// magnitude; the ledger derives the sign from Type.
type Operation struct {
	LocationID uint
	PartID     uint
	Type       TxType
	Qty        int

	// RECEIVE and TRANSFER_IN: cost to record, nil keeps the last known cost
	UnitCost *decimal.Decimal
	// ISSUE: consume the caller's reservation instead of unreserved stock
	FromReservation bool
	// RESERVE: reserve min(Qty, available) instead of failing on a shortfall
	AllowPartial bool
	// RETURN: which of the two return forms to apply
	ReturnMode ReturnMode
	// ADJUST: exactly one of SetToQty / DeltaQty. CYCLE_COUNT_ADJUST: SetToQty.
	SetToQty *int
	DeltaQty int

	ReferenceType ReferenceType
	ReferenceID   uint
	ReasonCode    string
	Notes         string
	PerformedBy   uint
}

// Ledger applies operations inside one database transaction. Obtain one from
// Engine.RunInTx; it must not outlive the callback.
type Ledger struct {
	tx      *gorm.DB
	engine  *Engine
	touched map[levelKey]InventoryLevel
}

type levelKey struct {
	locationID uint
	partID     uint
}

// DB returns the underlying transaction so orchestrators can persist their own
// rows atomically with the ledger writes.
func (l *Ledger) DB() *gorm.DB {
	return l.tx
}

// Level reads the current level for (location, part) inside the transaction.
// A missing row is reported as a zero level.
func (l *Ledger) Level(locationID, partID uint) (*InventoryLevel, error) {
	var level InventoryLevel
	err := l.tx.Where("location_id = ? AND part_id = ?", locationID, partID).First(&level).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &InventoryLevel{LocationID: locationID, PartID: partID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory level: %w", err)
	}
	return &level, nil
}

// Apply validates op, updates the level row and appends one transaction.
// It returns a nil transaction when the operation changes nothing: an ADJUST
// to the current quantity, a cycle count that matches, or a partial RESERVE
// with nothing available.
func (l *Ledger) Apply(op Operation) (*InventoryTransaction, error) {
	if err := op.validate(); err != nil {
		return nil, err
	}

	if _, err := catalog.RequireLocation(l.tx, op.LocationID); err != nil {
		return nil, err
	}
	part, err := catalog.RequireActivePart(l.tx, op.PartID)
	if err != nil {
		return nil, err
	}

	level, err := l.lockLevel(op.LocationID, part)
	if err != nil {
		return nil, err
	}

	onHandDelta, reservedDelta, err := effect(level, op)
	if err != nil {
		return nil, err
	}

	now := l.engine.now()
	newOnHand := level.OnHandQty + onHandDelta
	newReserved := level.ReservedQty + reservedDelta
	if newReserved < 0 || newOnHand < newReserved {
		// effect() rejects these first; reaching here is a bug, not a user error.
		return nil, fmt.Errorf("ledger invariant violated for location %d part %d: on_hand=%d reserved=%d",
			op.LocationID, op.PartID, newOnHand, newReserved)
	}

	updates := map[string]interface{}{}
	cost := level.LastUnitCost
	if (op.Type == TxReceive || op.Type == TxTransferIn) && op.UnitCost != nil {
		cost = *op.UnitCost
		updates["last_unit_cost"] = cost
		level.LastUnitCost = cost
	}

	switch op.Type {
	case TxReceive, TxTransferIn:
		updates["last_received_at"] = now
		level.LastReceivedAt = &now
	case TxIssue, TxSale, TxTransferOut:
		updates["last_issued_at"] = now
		level.LastIssuedAt = &now
	case TxCycleCountAdjust:
		updates["last_counted_at"] = now
		level.LastCountedAt = &now
	}

	changed := onHandDelta != 0 || reservedDelta != 0
	if !changed && len(updates) == 0 {
		return nil, nil
	}

	updates["on_hand_qty"] = newOnHand
	updates["reserved_qty"] = newReserved
	if err := l.casLevel(level, updates, now); err != nil {
		return nil, err
	}
	level.OnHandQty = newOnHand
	level.ReservedQty = newReserved
	l.touched[levelKey{level.LocationID, level.PartID}] = *level

	if !changed {
		// cycle count that matched the books: timestamp only, no ledger entry
		return nil, nil
	}

	entry := &InventoryTransaction{
		LocationID:     op.LocationID,
		PartID:         op.PartID,
		TxType:         op.Type,
		QtyChange:      onHandDelta,
		ReservedChange: reservedDelta,
		OnHandAfter:    newOnHand,
		ReservedAfter:  newReserved,
		UnitCostAtTime: cost,
		ReferenceType:  op.ReferenceType,
		ReferenceID:    op.ReferenceID,
		ReasonCode:     op.ReasonCode,
		Notes:          op.Notes,
		PerformedBy:    op.PerformedBy,
		CreatedAt:      now,
	}
	if err := l.tx.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to record inventory transaction: %w", err)
	}

	return entry, nil
}

// setPolicy updates the replenishment thresholds through the same locked path
func (l *Ledger) setPolicy(locationID, partID uint, minStock, reorderQty int) (*InventoryLevel, error) {
	if minStock < 0 || reorderQty < 0 {
		return nil, apperror.New(apperror.ErrInvalidQuantity, "stock policy values cannot be negative")
	}
	if _, err := catalog.RequireLocation(l.tx, locationID); err != nil {
		return nil, err
	}
	part, err := catalog.RequireActivePart(l.tx, partID)
	if err != nil {
		return nil, err
	}
	level, err := l.lockLevel(locationID, part)
	if err != nil {
		return nil, err
	}

	if err := l.casLevel(level, map[string]interface{}{
		"min_stock_level": minStock,
		"reorder_qty":     reorderQty,
	}, l.engine.now()); err != nil {
		return nil, err
	}
	level.MinStockLevel = minStock
	level.ReorderQty = reorderQty
	l.touched[levelKey{locationID, partID}] = *level
	return level, nil
}

// lockLevel returns the level row locked for update, creating it first if absent
func (l *Ledger) lockLevel(locationID uint, part *catalog.Part) (*InventoryLevel, error) {
	level, err := l.selectForUpdate(locationID, part.ID)
	if err == nil {
		return level, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to lock inventory level: %w", err)
	}

	seed := &InventoryLevel{
		LocationID:   locationID,
		PartID:       part.ID,
		LastUnitCost: part.DefaultCost,
	}
	if err := l.tx.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
		return nil, fmt.Errorf("failed to create inventory level: %w", err)
	}

	level, err = l.selectForUpdate(locationID, part.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock inventory level: %w", err)
	}
	return level, nil
}

func (l *Ledger) selectForUpdate(locationID, partID uint) (*InventoryLevel, error) {
	var level InventoryLevel
	err := l.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("location_id = ? AND part_id = ?", locationID, partID).
		First(&level).Error
	if err != nil {
		return nil, err
	}
	return &level, nil
}

// casLevel writes updates only if the row still carries the version we read
func (l *Ledger) casLevel(level *InventoryLevel, updates map[string]interface{}, now time.Time) error {
	updates["version"] = level.Version + 1
	updates["updated_at"] = now

	result := l.tx.Model(&InventoryLevel{}).
		Where("id = ? AND version = ?", level.ID, level.Version).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update inventory level: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStaleWrite
	}
	level.Version++
	level.UpdatedAt = now
	return nil
}

func (op *Operation) validate() error {
	if op.LocationID == 0 || op.PartID == 0 {
		return apperror.New(apperror.ErrInvalidInput, "location_id and part_id are required")
	}

	switch op.Type {
	case TxAdjust:
		if (op.SetToQty == nil) == (op.DeltaQty == 0) {
			return apperror.New(apperror.ErrInvalidQuantity, "adjustment needs exactly one of set_to_qty or a non-zero delta_qty")
		}
		if op.SetToQty != nil && *op.SetToQty < 0 {
			return apperror.New(apperror.ErrInvalidQuantity, "set_to_qty cannot be negative")
		}
		return nil
	case TxCycleCountAdjust:
		if op.SetToQty == nil || *op.SetToQty < 0 {
			return apperror.New(apperror.ErrInvalidQuantity, "counted quantity must be zero or more")
		}
		return nil
	case TxReturn:
		if op.ReturnMode != ReturnPostIssue && op.ReturnMode != ReturnUnreserve {
			return apperror.New(apperror.ErrInvalidInput, "return mode must be %s or %s", ReturnPostIssue, ReturnUnreserve)
		}
	case TxReceive, TxReserve, TxIssue, TxTransferOut, TxTransferIn, TxSale:
	default:
		return apperror.New(apperror.ErrInvalidInput, "unknown transaction type %q", op.Type)
	}

	if op.Qty <= 0 {
		return apperror.New(apperror.ErrInvalidQuantity, "quantity must be positive, got %d", op.Qty)
	}
	if op.UnitCost != nil && op.UnitCost.IsNegative() {
		return apperror.New(apperror.ErrInvalidInput, "unit cost cannot be negative")
	}
	return nil
}

// effect computes the on-hand and reserved deltas of op against level, or the
// reason it must be refused. Nothing is written here.
func effect(level *InventoryLevel, op Operation) (onHand, reserved int, err error) {
	available := level.AvailableQty()

	switch op.Type {
	case TxReceive, TxTransferIn:
		return op.Qty, 0, nil

	case TxReserve:
		qty := op.Qty
		if qty > available {
			if !op.AllowPartial {
				return 0, 0, insufficient(level, "reserve", op.Qty)
			}
			qty = available
		}
		if qty <= 0 {
			return 0, 0, nil
		}
		return 0, qty, nil

	case TxIssue:
		if op.FromReservation {
			if op.Qty > level.ReservedQty {
				return 0, 0, apperror.New(apperror.ErrInsufficientStock,
					"cannot issue %d from reservation at location %d part %d: only %d reserved",
					op.Qty, level.LocationID, level.PartID, level.ReservedQty)
			}
			return -op.Qty, -op.Qty, nil
		}
		if op.Qty > available {
			return 0, 0, insufficient(level, "issue", op.Qty)
		}
		return -op.Qty, 0, nil

	case TxSale, TxTransferOut:
		if op.Qty > available {
			return 0, 0, insufficient(level, string(op.Type), op.Qty)
		}
		return -op.Qty, 0, nil

	case TxReturn:
		if op.ReturnMode == ReturnUnreserve {
			if op.Qty > level.ReservedQty {
				return 0, 0, apperror.New(apperror.ErrInsufficientStock,
					"cannot release %d at location %d part %d: only %d reserved",
					op.Qty, level.LocationID, level.PartID, level.ReservedQty)
			}
			return 0, -op.Qty, nil
		}
		return op.Qty, 0, nil

	case TxAdjust, TxCycleCountAdjust:
		target := level.OnHandQty + op.DeltaQty
		if op.SetToQty != nil {
			target = *op.SetToQty
		}
		if target < level.ReservedQty {
			return 0, 0, apperror.New(apperror.ErrInsufficientStock,
				"cannot set on-hand to %d at location %d part %d: %d units are reserved",
				target, level.LocationID, level.PartID, level.ReservedQty)
		}
		return target - level.OnHandQty, 0, nil
	}

	return 0, 0, apperror.New(apperror.ErrInvalidInput, "unknown transaction type %q", op.Type)
}

func insufficient(level *InventoryLevel, action string, qty int) error {
	return apperror.New(apperror.ErrInsufficientStock,
		"cannot %s %d at location %d part %d: available %d (on hand %d, reserved %d)",
		action, qty, level.LocationID, level.PartID, level.AvailableQty(), level.OnHandQty, level.ReservedQty)
}

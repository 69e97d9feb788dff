// internal/domain/workorder/service.go
package workorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/your-org/fleet-backend/internal/domain/inventory"
	"github.com/your-org/fleet-backend/internal/pkg/apperror"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service runs the reserve/issue/return lifecycle of work order part lines
// on top of the ledger engine.
type Service struct {
	db     *gorm.DB
	ledger *inventory.Engine
	logger *logrus.Logger
}

// NewService creates a new work order line service
func NewService(db *gorm.DB, ledger *inventory.Engine, logger *logrus.Logger) *Service {
	return &Service{
		db:     db,
		ledger: ledger,
		logger: logger,
	}
}

// ReserveRequest adds a part to a work order (LineID zero) or changes the
// requested quantity of an existing line.
type ReserveRequest struct {
	LineID       uint             `json:"line_id"`
	WorkOrderID  uint             `json:"work_order_id"`
	PartID       uint             `json:"part_id" binding:"required"`
	LocationID   uint             `json:"location_id" binding:"required"`
	QtyRequested int              `json:"qty_requested"`
	UnitPrice    *decimal.Decimal `json:"unit_price"`
}

// QuantityRequest carries the quantity for issue, return and release
type QuantityRequest struct {
	Qty int `json:"qty"`
}

// ReserveForLine creates or re-requests a line and reserves as much of its
// demand as is available. The rest stays BACKORDERED. Re-requesting sets the
// demand to qty_requested, which may not fall below what is reserved.
func (s *Service) ReserveForLine(ctx context.Context, req *ReserveRequest, performedBy uint) (*WorkOrderPartLine, error) {
	if req.QtyRequested <= 0 {
		return nil, apperror.New(apperror.ErrInvalidQuantity, "qty_requested must be positive, got %d", req.QtyRequested)
	}
	if req.UnitPrice != nil && req.UnitPrice.IsNegative() {
		return nil, apperror.New(apperror.ErrInvalidInput, "unit price cannot be negative")
	}

	var line *WorkOrderPartLine
	err := s.ledger.RunInTx(ctx, func(l *inventory.Ledger) error {
		tx := l.DB()

		var prev LineStatus
		if req.LineID == 0 {
			if req.WorkOrderID == 0 {
				return apperror.New(apperror.ErrInvalidInput, "work_order_id is required for a new line")
			}
			line = &WorkOrderPartLine{
				WorkOrderID:  req.WorkOrderID,
				PartID:       req.PartID,
				LocationID:   req.LocationID,
				QtyRequested: req.QtyRequested,
				Status:       LineStatusBackordered,
			}
			if req.UnitPrice != nil {
				line.UnitPrice = *req.UnitPrice
			}
			if err := tx.Create(line).Error; err != nil {
				return fmt.Errorf("failed to create work order line: %w", err)
			}
		} else {
			var err error
			line, err = lockLine(tx, req.LineID)
			if err != nil {
				return err
			}
			if line.PartID != req.PartID || line.LocationID != req.LocationID ||
				(req.WorkOrderID != 0 && line.WorkOrderID != req.WorkOrderID) {
				return apperror.New(apperror.ErrInvalidInput, "line %d belongs to a different work order, part or location", line.ID)
			}
			if req.QtyRequested < line.QtyReserved {
				return apperror.New(apperror.ErrInvalidQuantity,
					"qty_requested %d is below the %d already reserved on line %d; release first",
					req.QtyRequested, line.QtyReserved, line.ID)
			}
			prev = line.Status
			// A re-request is the line's whole demand from now on. Earlier
			// returns stay in the ledger as RETURN entries.
			line.QtyRequested = req.QtyRequested
			line.QtyReturned = 0
			if req.UnitPrice != nil {
				line.UnitPrice = *req.UnitPrice
			}
		}

		if err := topUp(l, line, performedBy); err != nil {
			return err
		}
		return saveLine(tx, line, prev)
	})
	if err != nil {
		return nil, err
	}

	s.logLine(line, "Work order line reserved")
	return line, nil
}

// ReserveFromLine tops up a backordered line with whatever is available now.
// Calling it on a fully reserved line changes nothing.
func (s *Service) ReserveFromLine(ctx context.Context, lineID, performedBy uint) (*WorkOrderPartLine, error) {
	line, err := s.mutate(ctx, lineID, func(l *inventory.Ledger, line *WorkOrderPartLine) error {
		return topUp(l, line, performedBy)
	})
	if err != nil {
		return nil, err
	}

	s.logLine(line, "Work order line topped up")
	return line, nil
}

// IssueFromLine hands reserved stock to the job
func (s *Service) IssueFromLine(ctx context.Context, lineID uint, qty int, performedBy uint) (*WorkOrderPartLine, error) {
	if qty <= 0 {
		return nil, apperror.New(apperror.ErrInvalidQuantity, "qty to issue must be positive, got %d", qty)
	}

	line, err := s.mutate(ctx, lineID, func(l *inventory.Ledger, line *WorkOrderPartLine) error {
		if qty > line.Outstanding() {
			return apperror.New(apperror.ErrInvalidQuantity,
				"cannot issue %d on line %d: only %d reserved and not yet issued", qty, line.ID, line.Outstanding())
		}
		if _, err := l.Apply(inventory.Operation{
			LocationID:      line.LocationID,
			PartID:          line.PartID,
			Type:            inventory.TxIssue,
			Qty:             qty,
			FromReservation: true,
			ReferenceType:   inventory.RefWorkOrderLine,
			ReferenceID:     line.ID,
			PerformedBy:     performedBy,
		}); err != nil {
			return err
		}
		line.QtyIssued += qty
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logLine(line, "Work order line issued")
	return line, nil
}

// ReturnToLine puts issued stock back on hand
func (s *Service) ReturnToLine(ctx context.Context, lineID uint, qty int, performedBy uint) (*WorkOrderPartLine, error) {
	if qty <= 0 {
		return nil, apperror.New(apperror.ErrInvalidQuantity, "qty to return must be positive, got %d", qty)
	}

	line, err := s.mutate(ctx, lineID, func(l *inventory.Ledger, line *WorkOrderPartLine) error {
		if qty > line.QtyIssued {
			return apperror.New(apperror.ErrInvalidQuantity,
				"cannot return %d on line %d: only %d issued", qty, line.ID, line.QtyIssued)
		}
		if _, err := l.Apply(inventory.Operation{
			LocationID:    line.LocationID,
			PartID:        line.PartID,
			Type:          inventory.TxReturn,
			ReturnMode:    inventory.ReturnPostIssue,
			Qty:           qty,
			ReferenceType: inventory.RefWorkOrderLine,
			ReferenceID:   line.ID,
			PerformedBy:   performedBy,
		}); err != nil {
			return err
		}
		line.QtyIssued -= qty
		line.QtyReserved -= qty
		line.QtyReturned += qty
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logLine(line, "Work order line returned")
	return line, nil
}

// ReleaseFromLine lowers the requested quantity by qty of not-yet-issued
// demand and gives back any reservation above the new demand. Releasing all
// unissued demand cancels the line without erasing it.
func (s *Service) ReleaseFromLine(ctx context.Context, lineID uint, qty int, performedBy uint) (*WorkOrderPartLine, error) {
	if qty <= 0 {
		return nil, apperror.New(apperror.ErrInvalidQuantity, "qty to release must be positive, got %d", qty)
	}

	line, err := s.mutate(ctx, lineID, func(l *inventory.Ledger, line *WorkOrderPartLine) error {
		unissued := line.Demand() - line.QtyIssued
		if qty > unissued {
			return apperror.New(apperror.ErrInvalidQuantity,
				"cannot release %d on line %d: only %d requested and not yet issued", qty, line.ID, unissued)
		}
		line.QtyRequested -= qty

		excess := line.QtyReserved - line.Demand()
		if excess <= 0 {
			return nil
		}
		if _, err := l.Apply(inventory.Operation{
			LocationID:    line.LocationID,
			PartID:        line.PartID,
			Type:          inventory.TxReturn,
			ReturnMode:    inventory.ReturnUnreserve,
			Qty:           excess,
			ReferenceType: inventory.RefWorkOrderLine,
			ReferenceID:   line.ID,
			PerformedBy:   performedBy,
		}); err != nil {
			return err
		}
		line.QtyReserved -= excess
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logLine(line, "Work order line released")
	return line, nil
}

// GetLine retrieves a line by ID
func (s *Service) GetLine(ctx context.Context, lineID uint) (*WorkOrderPartLine, error) {
	var line WorkOrderPartLine
	if err := s.db.WithContext(ctx).First(&line, lineID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.New(apperror.ErrNotFound, "work order line %d not found", lineID)
		}
		return nil, fmt.Errorf("failed to retrieve work order line: %w", err)
	}
	return &line, nil
}

// ListLines lists the part lines of a work order
func (s *Service) ListLines(ctx context.Context, workOrderID uint) ([]WorkOrderPartLine, error) {
	var lines []WorkOrderPartLine
	if err := s.db.WithContext(ctx).Where("work_order_id = ?", workOrderID).Order("id").Find(&lines).Error; err != nil {
		return nil, fmt.Errorf("failed to retrieve work order lines: %w", err)
	}
	return lines, nil
}

// HELPERS

// mutate locks the line, runs fn and saves the line with its re-derived
// status, all in one ledger transaction.
func (s *Service) mutate(ctx context.Context, lineID uint, fn func(*inventory.Ledger, *WorkOrderPartLine) error) (*WorkOrderPartLine, error) {
	var line *WorkOrderPartLine
	err := s.ledger.RunInTx(ctx, func(l *inventory.Ledger) error {
		var err error
		line, err = lockLine(l.DB(), lineID)
		if err != nil {
			return err
		}
		prev := line.Status
		if err := fn(l, line); err != nil {
			return err
		}
		return saveLine(l.DB(), line, prev)
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

// topUp reserves min(unreserved demand, available) for the line
func topUp(l *inventory.Ledger, line *WorkOrderPartLine, performedBy uint) error {
	need := line.Demand() - line.QtyReserved
	if need <= 0 {
		return nil
	}

	entry, err := l.Apply(inventory.Operation{
		LocationID:    line.LocationID,
		PartID:        line.PartID,
		Type:          inventory.TxReserve,
		Qty:           need,
		AllowPartial:  true,
		ReferenceType: inventory.RefWorkOrderLine,
		ReferenceID:   line.ID,
		PerformedBy:   performedBy,
	})
	if err != nil {
		return err
	}
	if entry != nil {
		line.QtyReserved += entry.ReservedChange
	}
	return nil
}

func lockLine(tx *gorm.DB, lineID uint) (*WorkOrderPartLine, error) {
	var line WorkOrderPartLine
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&line, lineID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.New(apperror.ErrNotFound, "work order line %d not found", lineID)
		}
		return nil, fmt.Errorf("failed to lock work order line: %w", err)
	}
	return &line, nil
}

// saveLine derives the new status, checks the transition and writes the line
// only if nobody else changed it since it was read.
func saveLine(tx *gorm.DB, line *WorkOrderPartLine, prev LineStatus) error {
	if line.QtyReserved < 0 || line.QtyReserved > line.QtyRequested ||
		line.QtyIssued < 0 || line.QtyIssued > line.QtyReserved {
		return fmt.Errorf("work order line %d invariant violated: requested=%d reserved=%d issued=%d",
			line.ID, line.QtyRequested, line.QtyReserved, line.QtyIssued)
	}

	next := line.deriveStatus()
	if !prev.CanTransitionTo(next) {
		return apperror.New(apperror.ErrInvalidState, "work order line %d cannot move from %s to %s", line.ID, prev, next)
	}

	now := time.Now().UTC()
	result := tx.Model(&WorkOrderPartLine{}).
		Where("id = ? AND version = ?", line.ID, line.Version).
		Updates(map[string]interface{}{
			"qty_requested": line.QtyRequested,
			"qty_reserved":  line.QtyReserved,
			"qty_issued":    line.QtyIssued,
			"qty_returned":  line.QtyReturned,
			"unit_price":    line.UnitPrice,
			"status":        next,
			"version":       line.Version + 1,
			"updated_at":    now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update work order line: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return inventory.ErrStaleWrite
	}

	line.Status = next
	line.Version++
	line.UpdatedAt = now
	return nil
}

func (s *Service) logLine(line *WorkOrderPartLine, msg string) {
	s.logger.WithFields(logrus.Fields{
		"line_id":       line.ID,
		"work_order_id": line.WorkOrderID,
		"part_id":       line.PartID,
		"status":        line.Status,
		"qty_requested": line.QtyRequested,
		"qty_reserved":  line.QtyReserved,
		"qty_issued":    line.QtyIssued,
	}).Info(msg)
}

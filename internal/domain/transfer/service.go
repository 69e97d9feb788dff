// internal/domain/transfer/service.go
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/your-org/fleet-backend/internal/domain/catalog"
	"github.com/your-org/fleet-backend/internal/domain/inventory"
	"github.com/your-org/fleet-backend/internal/pkg/apperror"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service handles location-to-location stock transfers
type Service struct {
	db     *gorm.DB
	ledger *inventory.Engine
	logger *logrus.Logger
}

// NewService creates a new transfer service
func NewService(db *gorm.DB, ledger *inventory.Engine, logger *logrus.Logger) *Service {
	return &Service{
		db:     db,
		ledger: ledger,
		logger: logger,
	}
}

// CreateTransferRequest represents transfer creation data
type CreateTransferRequest struct {
	FromLocationID uint                `json:"from_location_id" binding:"required"`
	ToLocationID   uint                `json:"to_location_id" binding:"required"`
	Lines          []CreateLineRequest `json:"lines" binding:"required,min=1,dive"`
	Notes          string              `json:"notes"`
}

// CreateLineRequest represents one part to move
type CreateLineRequest struct {
	PartID uint `json:"part_id" binding:"required"`
	Qty    int  `json:"qty"`
}

// ReceiveTransferRequest carries the quantities the destination counted.
// Lines left out are taken as received in full.
type ReceiveTransferRequest struct {
	Lines []ReceivedLine `json:"lines"`
}

// ReceivedLine is the counted quantity for one transfer line
type ReceivedLine struct {
	LineID      uint `json:"line_id" binding:"required"`
	QtyReceived int  `json:"qty_received"`
}

// ListFilter narrows a transfer listing
type ListFilter struct {
	Status     Status
	LocationID uint
	Page       int
	Limit      int
}

// CreateTransfer creates a DRAFT transfer. No stock moves until it is sent.
func (s *Service) CreateTransfer(ctx context.Context, req *CreateTransferRequest, performedBy uint) (*Transfer, error) {
	if req.FromLocationID == req.ToLocationID {
		return nil, apperror.New(apperror.ErrInvalidInput, "source and destination must differ")
	}
	if len(req.Lines) == 0 {
		return nil, apperror.New(apperror.ErrInvalidInput, "a transfer needs at least one line")
	}

	seen := make(map[uint]bool, len(req.Lines))
	for i, line := range req.Lines {
		if line.Qty <= 0 {
			return nil, apperror.New(apperror.ErrInvalidQuantity, "line %d: qty must be positive, got %d", i+1, line.Qty)
		}
		if seen[line.PartID] {
			return nil, apperror.New(apperror.ErrInvalidInput, "line %d: part %d appears more than once", i+1, line.PartID)
		}
		seen[line.PartID] = true
	}

	transfer := &Transfer{
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Status:         StatusDraft,
		Notes:          req.Notes,
		CreatedBy:      performedBy,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := catalog.RequireLocation(tx, req.FromLocationID); err != nil {
			return err
		}
		if _, err := catalog.RequireLocation(tx, req.ToLocationID); err != nil {
			return err
		}
		for _, line := range req.Lines {
			part, err := catalog.RequireActivePart(tx, line.PartID)
			if err != nil {
				return err
			}
			transfer.Lines = append(transfer.Lines, TransferLine{
				PartID:   line.PartID,
				Qty:      line.Qty,
				UnitCost: part.DefaultCost,
			})
		}

		if err := tx.Create(transfer).Error; err != nil {
			return fmt.Errorf("failed to create transfer: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"transfer_id": transfer.ID,
		"from":        transfer.FromLocationID,
		"to":          transfer.ToLocationID,
		"lines":       len(transfer.Lines),
	}).Info("Transfer created")

	return transfer, nil
}

// SendTransfer ships every line from the source. If any line cannot ship the
// whole send rolls back and the error names that line.
func (s *Service) SendTransfer(ctx context.Context, id, performedBy uint) (*Transfer, error) {
	var transfer *Transfer
	err := s.ledger.RunInTx(ctx, func(l *inventory.Ledger) error {
		tx := l.DB()

		var err error
		transfer, err = lockTransfer(tx, id)
		if err != nil {
			return err
		}
		if !transfer.Status.CanTransitionTo(StatusSent) {
			return apperror.New(apperror.ErrInvalidState, "transfer %d is %s and cannot be sent", id, transfer.Status)
		}

		for i := range transfer.Lines {
			line := &transfer.Lines[i]
			entry, err := l.Apply(inventory.Operation{
				LocationID:    transfer.FromLocationID,
				PartID:        line.PartID,
				Type:          inventory.TxTransferOut,
				Qty:           line.Qty,
				ReferenceType: inventory.RefTransfer,
				ReferenceID:   transfer.ID,
				PerformedBy:   performedBy,
			})
			if err != nil {
				return &LineError{LineID: line.ID, PartID: line.PartID, Index: i, Err: err}
			}

			line.UnitCost = entry.UnitCostAtTime
			if err := tx.Model(&TransferLine{}).Where("id = ?", line.ID).Update("unit_cost", line.UnitCost).Error; err != nil {
				return fmt.Errorf("failed to record transfer line cost: %w", err)
			}
		}

		now := time.Now().UTC()
		transfer.SentBy = &performedBy
		transfer.SentAt = &now
		return saveTransfer(tx, transfer, StatusSent, map[string]interface{}{
			"sent_by": performedBy,
			"sent_at": now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"transfer_id": transfer.ID, "sent_by": performedBy}).Info("Transfer sent")
	return transfer, nil
}

// ReceiveTransfer posts the destination's counts. A line received as zero
// writes no TRANSFER_IN; the shortfall stays visible on the line.
func (s *Service) ReceiveTransfer(ctx context.Context, id uint, req *ReceiveTransferRequest, performedBy uint) (*Transfer, error) {
	counted := make(map[uint]int)
	if req != nil {
		for _, rl := range req.Lines {
			if _, dup := counted[rl.LineID]; dup {
				return nil, apperror.New(apperror.ErrInvalidInput, "line %d is listed more than once", rl.LineID)
			}
			counted[rl.LineID] = rl.QtyReceived
		}
	}

	var transfer *Transfer
	err := s.ledger.RunInTx(ctx, func(l *inventory.Ledger) error {
		tx := l.DB()

		var err error
		transfer, err = lockTransfer(tx, id)
		if err != nil {
			return err
		}
		if !transfer.Status.CanTransitionTo(StatusReceived) {
			return apperror.New(apperror.ErrInvalidState, "transfer %d is %s and cannot be received", id, transfer.Status)
		}

		known := make(map[uint]bool, len(transfer.Lines))
		for _, line := range transfer.Lines {
			known[line.ID] = true
		}
		for lineID := range counted {
			if !known[lineID] {
				return apperror.New(apperror.ErrInvalidInput, "line %d is not on transfer %d", lineID, id)
			}
		}

		for i := range transfer.Lines {
			line := &transfer.Lines[i]
			qty, ok := counted[line.ID]
			if !ok {
				qty = line.Qty
			}
			if qty < 0 || qty > line.Qty {
				return &LineError{LineID: line.ID, PartID: line.PartID, Index: i, Err: apperror.New(apperror.ErrInvalidQuantity,
					"received quantity %d must be between 0 and the %d sent", qty, line.Qty)}
			}

			if qty > 0 {
				cost := line.UnitCost
				if _, err := l.Apply(inventory.Operation{
					LocationID:    transfer.ToLocationID,
					PartID:        line.PartID,
					Type:          inventory.TxTransferIn,
					Qty:           qty,
					UnitCost:      &cost,
					ReferenceType: inventory.RefTransfer,
					ReferenceID:   transfer.ID,
					PerformedBy:   performedBy,
				}); err != nil {
					return &LineError{LineID: line.ID, PartID: line.PartID, Index: i, Err: err}
				}
			}

			line.QtyReceived = &qty
			if err := tx.Model(&TransferLine{}).Where("id = ?", line.ID).Update("qty_received", qty).Error; err != nil {
				return fmt.Errorf("failed to record received quantity: %w", err)
			}
		}

		now := time.Now().UTC()
		transfer.ReceivedBy = &performedBy
		transfer.ReceivedAt = &now
		return saveTransfer(tx, transfer, StatusReceived, map[string]interface{}{
			"received_by": performedBy,
			"received_at": now,
		})
	})
	if err != nil {
		return nil, err
	}

	shrinkage := 0
	for _, line := range transfer.Lines {
		shrinkage += line.Discrepancy()
	}
	entry := s.logger.WithFields(logrus.Fields{"transfer_id": transfer.ID, "received_by": performedBy})
	if shrinkage > 0 {
		entry.WithField("shrinkage", shrinkage).Warn("Transfer received short")
	} else {
		entry.Info("Transfer received")
	}

	return transfer, nil
}

// CancelTransfer cancels a transfer that has not been sent
func (s *Service) CancelTransfer(ctx context.Context, id uint) (*Transfer, error) {
	var transfer *Transfer
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		transfer, err = lockTransfer(tx, id)
		if err != nil {
			return err
		}
		if !transfer.Status.CanTransitionTo(StatusCancelled) {
			return apperror.New(apperror.ErrInvalidState, "transfer %d is %s; only draft transfers can be cancelled", id, transfer.Status)
		}

		now := time.Now().UTC()
		transfer.CancelledAt = &now
		return saveTransfer(tx, transfer, StatusCancelled, map[string]interface{}{"cancelled_at": now})
	})
	if err != nil {
		if errors.Is(err, inventory.ErrStaleWrite) {
			return nil, apperror.Wrap(apperror.ErrConflict, err, "transfer %d changed while cancelling", id)
		}
		return nil, err
	}

	s.logger.WithField("transfer_id", transfer.ID).Info("Transfer cancelled")
	return transfer, nil
}

// GetTransfer retrieves a transfer with its lines
func (s *Service) GetTransfer(ctx context.Context, id uint) (*Transfer, error) {
	var transfer Transfer
	err := s.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&transfer, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.New(apperror.ErrNotFound, "transfer %d not found", id)
		}
		return nil, fmt.Errorf("failed to retrieve transfer: %w", err)
	}
	return &transfer, nil
}

// ListTransfers lists transfers, newest first
func (s *Service) ListTransfers(ctx context.Context, filter ListFilter) ([]Transfer, int64, error) {
	query := s.db.WithContext(ctx).Model(&Transfer{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.LocationID != 0 {
		query = query.Where("from_location_id = ? OR to_location_id = ?", filter.LocationID, filter.LocationID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count transfers: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}

	var transfers []Transfer
	err := query.Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Order("created_at DESC, id DESC").
		Limit(limit).Offset((page - 1) * limit).
		Find(&transfers).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to retrieve transfers: %w", err)
	}
	return transfers, total, nil
}

// HELPERS

func lockTransfer(tx *gorm.DB, id uint) (*Transfer, error) {
	var transfer Transfer
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&transfer, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.New(apperror.ErrNotFound, "transfer %d not found", id)
		}
		return nil, fmt.Errorf("failed to lock transfer: %w", err)
	}
	if err := tx.Where("transfer_id = ?", id).Order("id").Find(&transfer.Lines).Error; err != nil {
		return nil, fmt.Errorf("failed to load transfer lines: %w", err)
	}
	return &transfer, nil
}

// saveTransfer moves the header to next, guarded by its version
func saveTransfer(tx *gorm.DB, transfer *Transfer, next Status, updates map[string]interface{}) error {
	now := time.Now().UTC()
	updates["status"] = next
	updates["version"] = transfer.Version + 1
	updates["updated_at"] = now

	result := tx.Model(&Transfer{}).
		Where("id = ? AND version = ?", transfer.ID, transfer.Version).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update transfer: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return inventory.ErrStaleWrite
	}

	transfer.Status = next
	transfer.Version++
	transfer.UpdatedAt = now
	return nil
}

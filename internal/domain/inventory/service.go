// internal/domain/inventory/service.go
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/your-org/fleet-backend/internal/config"
	"github.com/your-org/fleet-backend/internal/domain/catalog"
	"github.com/your-org/fleet-backend/internal/pkg/apperror"
	"gorm.io/gorm"
)

// Engine is the single write path for inventory levels. Every quantity change
// goes through Ledger.Apply inside RunInTx.
type Engine struct {
	db     *gorm.DB
	config *config.Config
	logger *logrus.Logger
	now    func() time.Time
}

// NewEngine creates a new ledger engine
func NewEngine(db *gorm.DB, cfg *config.Config, logger *logrus.Logger) *Engine {
	return &Engine{
		db:     db,
		config: cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ReceiveRequest represents incoming stock data
type ReceiveRequest struct {
	LocationID    uint             `json:"location_id" binding:"required"`
	PartID        uint             `json:"part_id" binding:"required"`
	Qty           int              `json:"qty"`
	UnitCost      *decimal.Decimal `json:"unit_cost"`
	ReferenceType ReferenceType    `json:"reference_type"`
	ReferenceID   uint             `json:"reference_id"`
	Notes         string           `json:"notes"`
}

// AdjustRequest represents a manual correction. Exactly one of SetToQty or
// DeltaQty must be given.
type AdjustRequest struct {
	LocationID uint   `json:"location_id" binding:"required"`
	PartID     uint   `json:"part_id" binding:"required"`
	SetToQty   *int   `json:"set_to_qty"`
	DeltaQty   int    `json:"delta_qty"`
	ReasonCode string `json:"reason_code" binding:"required"`
	Notes      string `json:"notes"`
}

// CycleCountRequest represents a physical count result
type CycleCountRequest struct {
	LocationID uint   `json:"location_id" binding:"required"`
	PartID     uint   `json:"part_id" binding:"required"`
	CountedQty *int   `json:"counted_qty" binding:"required"`
	Notes      string `json:"notes"`
}

// IssueRequest represents consumption of unreserved stock, outside any work order line
type IssueRequest struct {
	LocationID    uint          `json:"location_id" binding:"required"`
	PartID        uint          `json:"part_id" binding:"required"`
	Qty           int           `json:"qty"`
	ReferenceType ReferenceType `json:"reference_type"`
	ReferenceID   uint          `json:"reference_id"`
	Notes         string        `json:"notes"`
}

// SaleRequest represents an over-the-counter sale
type SaleRequest struct {
	LocationID  uint   `json:"location_id" binding:"required"`
	PartID      uint   `json:"part_id" binding:"required"`
	Qty         int    `json:"qty"`
	ReferenceID uint   `json:"reference_id"`
	Notes       string `json:"notes"`
}

// StockPolicyRequest sets replenishment thresholds for one level
type StockPolicyRequest struct {
	LocationID    uint `json:"location_id" binding:"required"`
	PartID        uint `json:"part_id" binding:"required"`
	MinStockLevel int  `json:"min_stock_level"`
	ReorderQty    int  `json:"reorder_qty"`
}

// TransactionFilter narrows a ledger history query
type TransactionFilter struct {
	LocationID    uint
	PartID        uint
	TxType        TxType
	ReferenceType ReferenceType
	ReferenceID   uint
	Since         *time.Time
	Until         *time.Time
	Page          int
	Limit         int
}

// ReplayResult compares the stored level against a recomputation from the log
type ReplayResult struct {
	LocationID       uint `json:"location_id"`
	PartID           uint `json:"part_id"`
	OnHandQty        int  `json:"on_hand_qty"`
	ReservedQty      int  `json:"reserved_qty"`
	StoredOnHandQty  int  `json:"stored_on_hand_qty"`
	StoredReserved   int  `json:"stored_reserved_qty"`
	TransactionCount int  `json:"transaction_count"`
	// FirstDivergentTxID is the first entry whose recorded after-values disagree
	// with the running totals, zero when none do.
	FirstDivergentTxID uint `json:"first_divergent_tx_id,omitempty"`
	Consistent         bool `json:"consistent"`
}

// TRANSACTION RUNNER

// RunInTx runs fn inside one database transaction and retries the whole unit
// of work on write contention. Orchestrators batch several Apply calls in one
// fn so they commit or roll back together.
func (e *Engine) RunInTx(ctx context.Context, fn func(*Ledger) error) error {
	maxAttempts := e.config.Ledger.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ledger := &Ledger{engine: e, touched: make(map[levelKey]InventoryLevel)}
		err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			ledger.tx = tx
			return fn(ledger)
		})
		if err == nil {
			e.reportLowStock(ledger.touched)
			return nil
		}
		if !isConflict(err) {
			return err
		}

		lastErr = err
		e.logger.WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": maxAttempts,
		}).WithError(err).Debug("Inventory write conflict, retrying")

		if attempt == maxAttempts {
			break
		}
		delay := e.config.Ledger.RetryBaseDelay << (attempt - 1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	e.logger.WithError(lastErr).Warn("Inventory write conflict persisted after retries")
	return apperror.Wrap(apperror.ErrConflict, lastErr, "inventory is busy after %d attempts, retry the request", maxAttempts)
}

// apply runs a single operation in its own retried transaction
func (e *Engine) apply(ctx context.Context, op Operation) (*InventoryTransaction, error) {
	var entry *InventoryTransaction
	err := e.RunInTx(ctx, func(l *Ledger) error {
		var err error
		entry, err = l.Apply(op)
		return err
	})
	if err != nil {
		return nil, err
	}

	if entry != nil {
		e.logger.WithFields(logrus.Fields{
			"tx_id":        entry.ID,
			"tx_type":      entry.TxType,
			"location_id":  entry.LocationID,
			"part_id":      entry.PartID,
			"qty_change":   entry.QtyChange,
			"performed_by": entry.PerformedBy,
		}).Info("Inventory transaction recorded")
	}
	return entry, nil
}

// STOCK OPERATIONS

// Receive adds stock at a location and records the supplied unit cost
func (e *Engine) Receive(ctx context.Context, req *ReceiveRequest, performedBy uint) (*InventoryTransaction, error) {
	refType := req.ReferenceType
	if refType == "" {
		refType = RefPurchaseOrder
	}
	return e.apply(ctx, Operation{
		LocationID:    req.LocationID,
		PartID:        req.PartID,
		Type:          TxReceive,
		Qty:           req.Qty,
		UnitCost:      req.UnitCost,
		ReferenceType: refType,
		ReferenceID:   req.ReferenceID,
		Notes:         req.Notes,
		PerformedBy:   performedBy,
	})
}

// Adjust sets or shifts on-hand stock. Setting the current value again is a
// no-op and returns a nil transaction.
func (e *Engine) Adjust(ctx context.Context, req *AdjustRequest, performedBy uint) (*InventoryTransaction, error) {
	if strings.TrimSpace(req.ReasonCode) == "" {
		return nil, apperror.New(apperror.ErrInvalidInput, "reason_code is required")
	}
	return e.apply(ctx, Operation{
		LocationID:    req.LocationID,
		PartID:        req.PartID,
		Type:          TxAdjust,
		SetToQty:      req.SetToQty,
		DeltaQty:      req.DeltaQty,
		ReferenceType: RefManual,
		ReasonCode:    strings.TrimSpace(req.ReasonCode),
		Notes:         req.Notes,
		PerformedBy:   performedBy,
	})
}

// CycleCount records a physical count. A count matching the books only
// stamps last_counted_at.
func (e *Engine) CycleCount(ctx context.Context, req *CycleCountRequest, performedBy uint) (*InventoryTransaction, error) {
	return e.apply(ctx, Operation{
		LocationID:    req.LocationID,
		PartID:        req.PartID,
		Type:          TxCycleCountAdjust,
		SetToQty:      req.CountedQty,
		ReferenceType: RefCycleCount,
		ReasonCode:    "CYCLE_COUNT",
		Notes:         req.Notes,
		PerformedBy:   performedBy,
	})
}

// Issue consumes unreserved stock
func (e *Engine) Issue(ctx context.Context, req *IssueRequest, performedBy uint) (*InventoryTransaction, error) {
	refType := req.ReferenceType
	if refType == "" {
		refType = RefManual
	}
	return e.apply(ctx, Operation{
		LocationID:    req.LocationID,
		PartID:        req.PartID,
		Type:          TxIssue,
		Qty:           req.Qty,
		ReferenceType: refType,
		ReferenceID:   req.ReferenceID,
		Notes:         req.Notes,
		PerformedBy:   performedBy,
	})
}

// Sale consumes unreserved stock for a counter sale
func (e *Engine) Sale(ctx context.Context, req *SaleRequest, performedBy uint) (*InventoryTransaction, error) {
	return e.apply(ctx, Operation{
		LocationID:    req.LocationID,
		PartID:        req.PartID,
		Type:          TxSale,
		Qty:           req.Qty,
		ReferenceType: RefSale,
		ReferenceID:   req.ReferenceID,
		Notes:         req.Notes,
		PerformedBy:   performedBy,
	})
}

// SetStockPolicy updates min stock level and reorder quantity
func (e *Engine) SetStockPolicy(ctx context.Context, req *StockPolicyRequest) (*InventoryLevel, error) {
	var level *InventoryLevel
	err := e.RunInTx(ctx, func(l *Ledger) error {
		var err error
		level, err = l.setPolicy(req.LocationID, req.PartID, req.MinStockLevel, req.ReorderQty)
		return err
	})
	if err != nil {
		return nil, err
	}
	return level, nil
}

// READS

// GetLevel returns the level for (location, part); a pair that never moved
// reads as zero.
func (e *Engine) GetLevel(ctx context.Context, locationID, partID uint) (*InventoryLevel, error) {
	db := e.db.WithContext(ctx)
	if _, err := catalog.RequireLocation(db, locationID); err != nil {
		return nil, err
	}
	return (&Ledger{tx: db}).Level(locationID, partID)
}

// ListLevels lists all levels at a location ordered by part
func (e *Engine) ListLevels(ctx context.Context, locationID uint, lowStockOnly bool) ([]InventoryLevel, error) {
	query := e.db.WithContext(ctx).Where("location_id = ?", locationID)
	if lowStockOnly {
		query = query.Where("min_stock_level > 0 AND on_hand_qty - reserved_qty <= min_stock_level")
	}

	var levels []InventoryLevel
	if err := query.Order("part_id").Find(&levels).Error; err != nil {
		return nil, fmt.Errorf("failed to retrieve inventory levels: %w", err)
	}
	return levels, nil
}

// ListTransactions returns ledger history in the order it was written
func (e *Engine) ListTransactions(ctx context.Context, filter TransactionFilter) ([]InventoryTransaction, int64, error) {
	query := e.db.WithContext(ctx).Model(&InventoryTransaction{})

	if filter.LocationID != 0 {
		query = query.Where("location_id = ?", filter.LocationID)
	}
	if filter.PartID != 0 {
		query = query.Where("part_id = ?", filter.PartID)
	}
	if filter.TxType != "" {
		query = query.Where("tx_type = ?", filter.TxType)
	}
	if filter.ReferenceType != "" {
		query = query.Where("reference_type = ?", filter.ReferenceType)
	}
	if filter.ReferenceID != 0 {
		query = query.Where("reference_id = ?", filter.ReferenceID)
	}
	if filter.Since != nil {
		query = query.Where("created_at >= ?", *filter.Since)
	}
	if filter.Until != nil {
		query = query.Where("created_at < ?", *filter.Until)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count inventory transactions: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}

	var entries []InventoryTransaction
	err := query.Order("created_at, id").Limit(limit).Offset((page - 1) * limit).Find(&entries).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to retrieve inventory transactions: %w", err)
	}
	return entries, total, nil
}

// Replay recomputes on-hand and reserved for (location, part) from the log
// and compares them with the stored level.
func (e *Engine) Replay(ctx context.Context, locationID, partID uint) (*ReplayResult, error) {
	result := &ReplayResult{LocationID: locationID, PartID: partID}

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		level, err := (&Ledger{tx: tx}).Level(locationID, partID)
		if err != nil {
			return err
		}
		result.StoredOnHandQty = level.OnHandQty
		result.StoredReserved = level.ReservedQty

		var entries []InventoryTransaction
		err = tx.Where("location_id = ? AND part_id = ?", locationID, partID).
			Order("created_at, id").
			Find(&entries).Error
		if err != nil {
			return fmt.Errorf("failed to read inventory transactions: %w", err)
		}

		for _, entry := range entries {
			result.OnHandQty += entry.QtyChange
			result.ReservedQty += entry.ReservedChange
			if result.FirstDivergentTxID == 0 &&
				(entry.OnHandAfter != result.OnHandQty || entry.ReservedAfter != result.ReservedQty) {
				result.FirstDivergentTxID = entry.ID
			}
		}
		result.TransactionCount = len(entries)
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Consistent = result.FirstDivergentTxID == 0 &&
		result.OnHandQty == result.StoredOnHandQty &&
		result.ReservedQty == result.StoredReserved
	if !result.Consistent {
		e.logger.WithFields(logrus.Fields{
			"location_id":     locationID,
			"part_id":         partID,
			"replayed_onhand": result.OnHandQty,
			"stored_onhand":   result.StoredOnHandQty,
		}).Error("Inventory ledger does not reproduce stored level")
	}
	return result, nil
}

// HELPERS

func (e *Engine) reportLowStock(touched map[levelKey]InventoryLevel) {
	for _, level := range touched {
		if !level.IsLowStock() {
			continue
		}
		e.logger.WithFields(logrus.Fields{
			"location_id":     level.LocationID,
			"part_id":         level.PartID,
			"available_qty":   level.AvailableQty(),
			"min_stock_level": level.MinStockLevel,
			"reorder_qty":     level.ReorderQty,
		}).Warn("Low stock")
	}
}

// isConflict reports whether err is write contention worth retrying
func isConflict(err error) bool {
	if errors.Is(err, ErrStaleWrite) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
			return true
		}
		return false
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}

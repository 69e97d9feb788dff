package inventory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/your-org/fleet-backend/internal/config"
	"github.com/your-org/fleet-backend/internal/domain/catalog"
	"github.com/your-org/fleet-backend/internal/infrastructure/database/sqlite"
	"github.com/your-org/fleet-backend/internal/pkg/apperror"
	"github.com/your-org/fleet-backend/internal/pkg/logger"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	engine   *Engine
	location catalog.Location
	part     catalog.Part
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	models := append(catalog.Models(), Models()...)
	db := sqlite.NewTestDB(t, models...)

	cfg := &config.Config{Ledger: config.LedgerConfig{MaxAttempts: 3, RetryBaseDelay: time.Millisecond}}
	f := &fixture{
		db:       db,
		engine:   NewEngine(db, cfg, logger.Discard()),
		location: catalog.Location{Code: "WH1", Name: "Main warehouse", Type: catalog.LocationTypeWarehouse},
		part: catalog.Part{
			SKU:         "BRK-001",
			Name:        "Brake pad set",
			DefaultCost: decimal.RequireFromString("12.50"),
			IsActive:    true,
		},
	}
	if err := db.Create(&f.location).Error; err != nil {
		t.Fatalf("creating location: %v", err)
	}
	if err := db.Create(&f.part).Error; err != nil {
		t.Fatalf("creating part: %v", err)
	}
	return f
}

func (f *fixture) receive(t *testing.T, qty int) {
	t.Helper()
	_, err := f.engine.Receive(context.Background(), &ReceiveRequest{
		LocationID: f.location.ID,
		PartID:     f.part.ID,
		Qty:        qty,
	}, 1)
	if err != nil {
		t.Fatalf("receive %d: %v", qty, err)
	}
}

func (f *fixture) level(t *testing.T) *InventoryLevel {
	t.Helper()
	level, err := f.engine.GetLevel(context.Background(), f.location.ID, f.part.ID)
	if err != nil {
		t.Fatalf("get level: %v", err)
	}
	return level
}

func (f *fixture) apply(op Operation) (*InventoryTransaction, error) {
	op.LocationID = f.location.ID
	op.PartID = f.part.ID
	var entry *InventoryTransaction
	err := f.engine.RunInTx(context.Background(), func(l *Ledger) error {
		var err error
		entry, err = l.Apply(op)
		return err
	})
	return entry, err
}

func TestReceiveCreatesLevelAndTransaction(t *testing.T) {
	f := newFixture(t)
	cost := decimal.RequireFromString("9.75")

	entry, err := f.engine.Receive(context.Background(), &ReceiveRequest{
		LocationID:    f.location.ID,
		PartID:        f.part.ID,
		Qty:           10,
		UnitCost:      &cost,
		ReferenceType: RefPurchaseOrder,
		ReferenceID:   42,
	}, 7)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}

	if entry.TxType != TxReceive || entry.QtyChange != 10 || entry.ReservedChange != 0 {
		t.Errorf("unexpected entry %+v", entry)
	}
	if entry.OnHandAfter != 10 || entry.PerformedBy != 7 || entry.ReferenceID != 42 {
		t.Errorf("unexpected entry %+v", entry)
	}
	if !entry.UnitCostAtTime.Equal(cost) {
		t.Errorf("expected unit cost %s, got %s", cost, entry.UnitCostAtTime)
	}

	level := f.level(t)
	if level.OnHandQty != 10 || level.ReservedQty != 0 || level.AvailableQty() != 10 {
		t.Errorf("unexpected level %+v", level)
	}
	if level.LastReceivedAt == nil {
		t.Error("expected last_received_at to be set")
	}
	if !level.LastUnitCost.Equal(cost) {
		t.Errorf("expected last unit cost %s, got %s", cost, level.LastUnitCost)
	}
}

func TestIssueNeverGoesNegative(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 5)
	ctx := context.Background()

	_, err := f.engine.Issue(ctx, &IssueRequest{LocationID: f.location.ID, PartID: f.part.ID, Qty: 6}, 1)
	if !errors.Is(err, apperror.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock issuing 6, got %v", err)
	}
	if level := f.level(t); level.OnHandQty != 5 {
		t.Fatalf("failed issue changed on hand to %d", level.OnHandQty)
	}

	entry, err := f.engine.Issue(ctx, &IssueRequest{LocationID: f.location.ID, PartID: f.part.ID, Qty: 5}, 1)
	if err != nil {
		t.Fatalf("issue 5: %v", err)
	}
	if entry.QtyChange != -5 || entry.OnHandAfter != 0 {
		t.Errorf("unexpected entry %+v", entry)
	}
	if level := f.level(t); level.OnHandQty != 0 {
		t.Errorf("expected on hand 0, got %d", level.OnHandQty)
	}
}

func TestConsumingOperationsSkipReservedStock(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 10)

	if _, err := f.apply(Operation{Type: TxReserve, Qty: 8}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	for _, txType := range []TxType{TxIssue, TxSale, TxTransferOut} {
		if _, err := f.apply(Operation{Type: txType, Qty: 3}); !errors.Is(err, apperror.ErrInsufficientStock) {
			t.Errorf("%s of 3 with 2 available: expected insufficient stock, got %v", txType, err)
		}
	}

	if _, err := f.apply(Operation{Type: TxSale, Qty: 2}); err != nil {
		t.Fatalf("sale of available stock: %v", err)
	}

	level := f.level(t)
	if level.OnHandQty != 8 || level.ReservedQty != 8 {
		t.Errorf("expected 8/8, got %d/%d", level.OnHandQty, level.ReservedQty)
	}
}

func TestReserve(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 3)

	if _, err := f.apply(Operation{Type: TxReserve, Qty: 4}); !errors.Is(err, apperror.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	entry, err := f.apply(Operation{Type: TxReserve, Qty: 10, AllowPartial: true})
	if err != nil {
		t.Fatalf("partial reserve: %v", err)
	}
	if entry.QtyChange != 0 || entry.ReservedChange != 3 || entry.ReservedAfter != 3 {
		t.Errorf("unexpected entry %+v", entry)
	}

	entry, err = f.apply(Operation{Type: TxReserve, Qty: 1, AllowPartial: true})
	if err != nil {
		t.Fatalf("partial reserve with nothing available: %v", err)
	}
	if entry != nil {
		t.Errorf("expected no transaction when nothing is available, got %+v", entry)
	}

	entry, err = f.apply(Operation{Type: TxReturn, ReturnMode: ReturnUnreserve, Qty: 2})
	if err != nil {
		t.Fatalf("unreserve: %v", err)
	}
	if entry.ReservedChange != -2 || entry.QtyChange != 0 {
		t.Errorf("unexpected entry %+v", entry)
	}

	if _, err := f.apply(Operation{Type: TxReturn, ReturnMode: ReturnUnreserve, Qty: 2}); !errors.Is(err, apperror.ErrInsufficientStock) {
		t.Errorf("expected insufficient stock releasing more than reserved, got %v", err)
	}
}

func TestIssueFromReservation(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 10)

	if _, err := f.apply(Operation{Type: TxReserve, Qty: 10}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	entry, err := f.apply(Operation{Type: TxIssue, Qty: 10, FromReservation: true})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if entry.QtyChange != -10 || entry.ReservedChange != -10 {
		t.Errorf("unexpected entry %+v", entry)
	}
	if _, err := f.apply(Operation{Type: TxIssue, Qty: 1, FromReservation: true}); !errors.Is(err, apperror.ErrInsufficientStock) {
		t.Errorf("expected insufficient stock, got %v", err)
	}

	level := f.level(t)
	if level.OnHandQty != 0 || level.ReservedQty != 0 || level.LastIssuedAt == nil {
		t.Errorf("unexpected level %+v", level)
	}
}

func TestAdjustSetToIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 20)
	ctx := context.Background()
	fifty := 50

	req := &AdjustRequest{LocationID: f.location.ID, PartID: f.part.ID, SetToQty: &fifty, ReasonCode: "RECOUNT"}
	first, err := f.engine.Adjust(ctx, req, 1)
	if err != nil {
		t.Fatalf("first adjust: %v", err)
	}
	if first == nil || first.QtyChange != 30 || first.OnHandAfter != 50 || first.ReasonCode != "RECOUNT" {
		t.Fatalf("unexpected first entry %+v", first)
	}

	second, err := f.engine.Adjust(ctx, req, 1)
	if err != nil {
		t.Fatalf("second adjust: %v", err)
	}
	if second != nil {
		t.Fatalf("expected second adjust to be a no-op, got %+v", second)
	}

	_, total, err := f.engine.ListTransactions(ctx, TransactionFilter{LocationID: f.location.ID, TxType: TxAdjust})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if total != 1 {
		t.Errorf("expected one adjust transaction, got %d", total)
	}
}

func TestAdjustValidation(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 10)
	ctx := context.Background()
	five, minus := 5, -1

	if _, err := f.apply(Operation{Type: TxReserve, Qty: 6}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	tests := []struct {
		name string
		req  AdjustRequest
		want error
	}{
		{"missing reason", AdjustRequest{DeltaQty: 1}, apperror.ErrInvalidInput},
		{"neither set nor delta", AdjustRequest{ReasonCode: "DAMAGE"}, apperror.ErrInvalidQuantity},
		{"both set and delta", AdjustRequest{SetToQty: &five, DeltaQty: 1, ReasonCode: "DAMAGE"}, apperror.ErrInvalidQuantity},
		{"negative target", AdjustRequest{SetToQty: &minus, ReasonCode: "DAMAGE"}, apperror.ErrInvalidQuantity},
		{"below reserved by set", AdjustRequest{SetToQty: &five, ReasonCode: "DAMAGE"}, apperror.ErrInsufficientStock},
		{"below reserved by delta", AdjustRequest{DeltaQty: -5, ReasonCode: "DAMAGE"}, apperror.ErrInsufficientStock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			req.LocationID = f.location.ID
			req.PartID = f.part.ID
			_, err := f.engine.Adjust(ctx, &req, 1)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	entry, err := f.engine.Adjust(ctx, &AdjustRequest{
		LocationID: f.location.ID, PartID: f.part.ID, DeltaQty: -4, ReasonCode: "DAMAGE",
	}, 1)
	if err != nil {
		t.Fatalf("delta adjust: %v", err)
	}
	if entry.QtyChange != -4 || entry.OnHandAfter != 6 || entry.ReservedAfter != 6 {
		t.Errorf("unexpected entry %+v", entry)
	}
}

func TestCycleCount(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 12)
	ctx := context.Background()

	counted := 12
	entry, err := f.engine.CycleCount(ctx, &CycleCountRequest{LocationID: f.location.ID, PartID: f.part.ID, CountedQty: &counted}, 1)
	if err != nil {
		t.Fatalf("matching count: %v", err)
	}
	if entry != nil {
		t.Errorf("matching count should not write a transaction, got %+v", entry)
	}
	if f.level(t).LastCountedAt == nil {
		t.Error("expected last_counted_at after a matching count")
	}

	counted = 9
	entry, err = f.engine.CycleCount(ctx, &CycleCountRequest{LocationID: f.location.ID, PartID: f.part.ID, CountedQty: &counted}, 1)
	if err != nil {
		t.Fatalf("short count: %v", err)
	}
	if entry.TxType != TxCycleCountAdjust || entry.QtyChange != -3 || entry.OnHandAfter != 9 {
		t.Errorf("unexpected entry %+v", entry)
	}
}

func TestApplyRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 5)

	inactive := catalog.Part{SKU: "OLD-1", Name: "Retired filter", IsActive: true}
	if err := f.db.Create(&inactive).Error; err != nil {
		t.Fatalf("creating part: %v", err)
	}
	if err := f.db.Model(&inactive).Update("is_active", false).Error; err != nil {
		t.Fatalf("deactivating part: %v", err)
	}

	tests := []struct {
		name string
		op   Operation
		want error
	}{
		{"zero qty", Operation{Type: TxReceive, Qty: 0}, apperror.ErrInvalidQuantity},
		{"negative qty", Operation{Type: TxIssue, Qty: -2}, apperror.ErrInvalidQuantity},
		{"unknown type", Operation{Type: "TELEPORT", Qty: 1}, apperror.ErrInvalidInput},
		{"return without mode", Operation{Type: TxReturn, Qty: 1}, apperror.ErrInvalidInput},
		{"unknown location", Operation{LocationID: 999, Type: TxReceive, Qty: 1}, apperror.ErrNotFound},
		{"unknown part", Operation{PartID: 999, Type: TxReceive, Qty: 1}, apperror.ErrNotFound},
		{"inactive part", Operation{PartID: inactive.ID, Type: TxReceive, Qty: 1}, apperror.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := tt.op
			if op.LocationID == 0 {
				op.LocationID = f.location.ID
			}
			if op.PartID == 0 {
				op.PartID = f.part.ID
			}
			err := f.engine.RunInTx(context.Background(), func(l *Ledger) error {
				_, err := l.Apply(op)
				return err
			})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, total, _ := f.engine.ListTransactions(context.Background(), TransactionFilter{}); total != 1 {
		t.Errorf("rejected operations wrote transactions: %d total", total)
	}
}

func TestSoftDeletedLocationIsRejected(t *testing.T) {
	f := newFixture(t)
	if err := f.db.Delete(&f.location).Error; err != nil {
		t.Fatalf("deleting location: %v", err)
	}

	_, err := f.apply(Operation{Type: TxReceive, Qty: 1})
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLastKnownCostOnConsumption(t *testing.T) {
	f := newFixture(t)

	entry, err := f.apply(Operation{Type: TxReceive, Qty: 4})
	if err != nil {
		t.Fatalf("receive without cost: %v", err)
	}
	if !entry.UnitCostAtTime.Equal(f.part.DefaultCost) {
		t.Errorf("expected default cost %s, got %s", f.part.DefaultCost, entry.UnitCostAtTime)
	}

	cost := decimal.RequireFromString("14.10")
	if _, err := f.apply(Operation{Type: TxReceive, Qty: 2, UnitCost: &cost}); err != nil {
		t.Fatalf("receive with cost: %v", err)
	}

	entry, err = f.apply(Operation{Type: TxSale, Qty: 3})
	if err != nil {
		t.Fatalf("sale: %v", err)
	}
	if !entry.UnitCostAtTime.Equal(cost) {
		t.Errorf("expected last known cost %s, got %s", cost, entry.UnitCostAtTime)
	}
}

func TestReplayReproducesLevel(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 30)
	ten := 10

	ops := []Operation{
		{Type: TxReserve, Qty: 12},
		{Type: TxIssue, Qty: 5, FromReservation: true},
		{Type: TxReturn, ReturnMode: ReturnPostIssue, Qty: 2},
		{Type: TxReturn, ReturnMode: ReturnUnreserve, Qty: 3},
		{Type: TxSale, Qty: 4},
		{Type: TxTransferOut, Qty: 6},
		{Type: TxTransferIn, Qty: 1},
		{Type: TxAdjust, SetToQty: &ten, ReasonCode: "RECOUNT"},
	}
	for i, op := range ops {
		if _, err := f.apply(op); err != nil {
			t.Fatalf("op %d (%s): %v", i, op.Type, err)
		}
	}

	result, err := f.engine.Replay(context.Background(), f.location.ID, f.part.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !result.Consistent {
		t.Fatalf("ledger does not reproduce level: %+v", result)
	}
	if result.OnHandQty != 10 || result.ReservedQty != 4 || result.TransactionCount != 9 {
		t.Errorf("unexpected replay %+v", result)
	}
}

func TestTransactionsAreAppendOnly(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 3)

	var entry InventoryTransaction
	if err := f.db.First(&entry).Error; err != nil {
		t.Fatalf("loading entry: %v", err)
	}

	if err := f.db.Model(&entry).Update("qty_change", 300).Error; err == nil {
		t.Error("expected update of a ledger entry to fail")
	}
	if err := f.db.Delete(&entry).Error; err == nil {
		t.Error("expected delete of a ledger entry to fail")
	}

	var reloaded InventoryTransaction
	if err := f.db.First(&reloaded, entry.ID).Error; err != nil {
		t.Fatalf("reloading entry: %v", err)
	}
	if reloaded.QtyChange != 3 {
		t.Errorf("ledger entry was modified: %+v", reloaded)
	}
}

func TestRunInTxRollsBackTheWholeBatch(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 2)

	err := f.engine.RunInTx(context.Background(), func(l *Ledger) error {
		if _, err := l.Apply(Operation{LocationID: f.location.ID, PartID: f.part.ID, Type: TxReceive, Qty: 5}); err != nil {
			return err
		}
		_, err := l.Apply(Operation{LocationID: f.location.ID, PartID: f.part.ID, Type: TxIssue, Qty: 50})
		return err
	})
	if !errors.Is(err, apperror.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	if level := f.level(t); level.OnHandQty != 2 {
		t.Errorf("batch was partially committed: on hand %d", level.OnHandQty)
	}
}

func TestRunInTxRetriesConflicts(t *testing.T) {
	f := newFixture(t)

	var calls int32
	err := f.engine.RunInTx(context.Background(), func(l *Ledger) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return ErrStaleWrite
		}
		_, err := l.Apply(Operation{LocationID: f.location.ID, PartID: f.part.ID, Type: TxReceive, Qty: 1})
		return err
	})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}

	calls = 0
	err = f.engine.RunInTx(context.Background(), func(l *Ledger) error {
		atomic.AddInt32(&calls, 1)
		return ErrStaleWrite
	})
	if !errors.Is(err, apperror.ErrConflict) || !apperror.IsRetryable(err) {
		t.Fatalf("expected retryable conflict, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestConcurrentIssuesNeverOversell(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 10)

	var succeeded, refused int32
	var g errgroup.Group
	for i := 0; i < 25; i++ {
		g.Go(func() error {
			_, err := f.engine.Issue(context.Background(), &IssueRequest{LocationID: f.location.ID, PartID: f.part.ID, Qty: 1}, 1)
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case errors.Is(err, apperror.ErrInsufficientStock):
				atomic.AddInt32(&refused, 1)
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if succeeded != 10 || refused != 15 {
		t.Errorf("expected 10 issued and 15 refused, got %d and %d", succeeded, refused)
	}
	level := f.level(t)
	if level.OnHandQty != 0 || level.ReservedQty < 0 {
		t.Errorf("unexpected level %+v", level)
	}
}

func TestStockPolicyAndLowStockListing(t *testing.T) {
	f := newFixture(t)
	f.receive(t, 4)
	ctx := context.Background()

	level, err := f.engine.SetStockPolicy(ctx, &StockPolicyRequest{
		LocationID: f.location.ID, PartID: f.part.ID, MinStockLevel: 5, ReorderQty: 20,
	})
	if err != nil {
		t.Fatalf("SetStockPolicy: %v", err)
	}
	if !level.IsLowStock() {
		t.Error("expected level to be low on stock")
	}

	low, err := f.engine.ListLevels(ctx, f.location.ID, true)
	if err != nil {
		t.Fatalf("ListLevels: %v", err)
	}
	if len(low) != 1 || low[0].ReorderQty != 20 {
		t.Errorf("unexpected low stock levels %+v", low)
	}

	if _, err := f.engine.SetStockPolicy(ctx, &StockPolicyRequest{
		LocationID: f.location.ID, PartID: f.part.ID, MinStockLevel: -1,
	}); !errors.Is(err, apperror.ErrInvalidQuantity) {
		t.Errorf("expected invalid quantity, got %v", err)
	}
}

func TestGetLevelForUntouchedPair(t *testing.T) {
	f := newFixture(t)

	level := f.level(t)
	if level.ID != 0 || level.OnHandQty != 0 || level.ReservedQty != 0 {
		t.Errorf("expected zero level, got %+v", level)
	}

	if _, err := f.engine.GetLevel(context.Background(), 999, f.part.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("expected not found for unknown location, got %v", err)
	}
}

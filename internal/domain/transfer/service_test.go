package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/your-org/fleet-backend/internal/config"
	"github.com/your-org/fleet-backend/internal/domain/catalog"
	"github.com/your-org/fleet-backend/internal/domain/inventory"
	"github.com/your-org/fleet-backend/internal/infrastructure/database/sqlite"
	"github.com/your-org/fleet-backend/internal/pkg/apperror"
	"github.com/your-org/fleet-backend/internal/pkg/logger"
)

type testEnv struct {
	service *Service
	ledger  *inventory.Engine
	from    catalog.Location
	to      catalog.Location
	filter  catalog.Part
	wiper   catalog.Part
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	models := append(catalog.Models(), inventory.Models()...)
	models = append(models, Models()...)
	db := sqlite.NewTestDB(t, models...)

	cfg := &config.Config{Ledger: config.LedgerConfig{MaxAttempts: 3, RetryBaseDelay: time.Millisecond}}
	log := logger.Discard()
	ledger := inventory.NewEngine(db, cfg, log)

	env := &testEnv{
		service: NewService(db, ledger, log),
		ledger:  ledger,
		from:    catalog.Location{Code: "WH1", Name: "Warehouse", Type: catalog.LocationTypeWarehouse},
		to:      catalog.Location{Code: "VAN7", Name: "Service van 7", Type: catalog.LocationTypeVehicle},
		filter:  catalog.Part{SKU: "FLT-100", Name: "Oil filter", DefaultCost: decimal.RequireFromString("4.20"), IsActive: true},
		wiper:   catalog.Part{SKU: "WIP-22", Name: "Wiper blade 22in", DefaultCost: decimal.RequireFromString("7.00"), IsActive: true},
	}
	for _, rec := range []interface{}{&env.from, &env.to, &env.filter, &env.wiper} {
		if err := db.Create(rec).Error; err != nil {
			t.Fatalf("creating fixture: %v", err)
		}
	}
	return env
}

func (e *testEnv) stock(t *testing.T, loc catalog.Location, part catalog.Part, qty int) {
	t.Helper()
	if _, err := e.ledger.Receive(context.Background(), &inventory.ReceiveRequest{
		LocationID: loc.ID, PartID: part.ID, Qty: qty,
	}, 1); err != nil {
		t.Fatalf("receive: %v", err)
	}
}

func (e *testEnv) onHand(t *testing.T, loc catalog.Location, part catalog.Part) int {
	t.Helper()
	level, err := e.ledger.GetLevel(context.Background(), loc.ID, part.ID)
	if err != nil {
		t.Fatalf("get level: %v", err)
	}
	return level.OnHandQty
}

func (e *testEnv) create(t *testing.T, filterQty, wiperQty int) *Transfer {
	t.Helper()
	transfer, err := e.service.CreateTransfer(context.Background(), &CreateTransferRequest{
		FromLocationID: e.from.ID,
		ToLocationID:   e.to.ID,
		Lines: []CreateLineRequest{
			{PartID: e.filter.ID, Qty: filterQty},
			{PartID: e.wiper.ID, Qty: wiperQty},
		},
	}, 1)
	if err != nil {
		t.Fatalf("CreateTransfer: %v", err)
	}
	return transfer
}

func TestSendIsAllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	env.stock(t, env.from, env.filter, 10)
	env.stock(t, env.from, env.wiper, 2)
	ctx := context.Background()

	transfer := env.create(t, 5, 3)

	_, err := env.service.SendTransfer(ctx, transfer.ID, 1)
	if !errors.Is(err, apperror.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	var lineErr *LineError
	if !errors.As(err, &lineErr) {
		t.Fatalf("expected a LineError, got %T", err)
	}
	if lineErr.Index != 1 || lineErr.PartID != env.wiper.ID {
		t.Errorf("expected the wiper line to be reported, got %+v", lineErr)
	}

	if got := env.onHand(t, env.from, env.filter); got != 10 {
		t.Errorf("first line was shipped despite the failed send: on hand %d", got)
	}

	stored, err := env.service.GetTransfer(ctx, transfer.ID)
	if err != nil {
		t.Fatalf("GetTransfer: %v", err)
	}
	if stored.Status != StatusDraft {
		t.Errorf("expected transfer to stay DRAFT, got %s", stored.Status)
	}

	_, total, err := env.ledger.ListTransactions(ctx, inventory.TransactionFilter{TxType: inventory.TxTransferOut})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if total != 0 {
		t.Errorf("expected no TRANSFER_OUT entries, got %d", total)
	}
}

func TestSendAndReceiveWithShrinkage(t *testing.T) {
	env := newTestEnv(t)
	cost := decimal.RequireFromString("5.10")
	if _, err := env.ledger.Receive(context.Background(), &inventory.ReceiveRequest{
		LocationID: env.from.ID, PartID: env.filter.ID, Qty: 10, UnitCost: &cost,
	}, 1); err != nil {
		t.Fatalf("receive: %v", err)
	}
	env.stock(t, env.from, env.wiper, 4)
	ctx := context.Background()

	transfer := env.create(t, 6, 4)

	sent, err := env.service.SendTransfer(ctx, transfer.ID, 2)
	if err != nil {
		t.Fatalf("SendTransfer: %v", err)
	}
	if sent.Status != StatusSent || sent.SentBy == nil || *sent.SentBy != 2 {
		t.Errorf("unexpected sent transfer %+v", sent)
	}
	if !sent.Lines[0].UnitCost.Equal(cost) {
		t.Errorf("expected line cost %s captured at send, got %s", cost, sent.Lines[0].UnitCost)
	}
	if got := env.onHand(t, env.from, env.filter); got != 4 {
		t.Errorf("expected 4 filters left at source, got %d", got)
	}

	received, err := env.service.ReceiveTransfer(ctx, transfer.ID, &ReceiveTransferRequest{
		Lines: []ReceivedLine{{LineID: sent.Lines[1].ID, QtyReceived: 0}, {LineID: sent.Lines[0].ID, QtyReceived: 5}},
	}, 3)
	if err != nil {
		t.Fatalf("ReceiveTransfer: %v", err)
	}
	if received.Status != StatusReceived {
		t.Errorf("expected RECEIVED, got %s", received.Status)
	}
	if d := received.Lines[0].Discrepancy(); d != 1 {
		t.Errorf("expected filter discrepancy 1, got %d", d)
	}
	if d := received.Lines[1].Discrepancy(); d != 4 {
		t.Errorf("expected wiper discrepancy 4, got %d", d)
	}

	if got := env.onHand(t, env.to, env.filter); got != 5 {
		t.Errorf("expected 5 filters at destination, got %d", got)
	}
	if got := env.onHand(t, env.to, env.wiper); got != 0 {
		t.Errorf("expected no wipers at destination, got %d", got)
	}

	entries, _, err := env.ledger.ListTransactions(ctx, inventory.TransactionFilter{
		LocationID: env.to.ID, TxType: inventory.TxTransferIn,
	})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(entries) != 1 || !entries[0].UnitCostAtTime.Equal(cost) || entries[0].ReferenceID != transfer.ID {
		t.Errorf("unexpected TRANSFER_IN entries %+v", entries)
	}

	if _, err := env.service.ReceiveTransfer(ctx, transfer.ID, nil, 3); !errors.Is(err, apperror.ErrInvalidState) {
		t.Errorf("receiving twice: expected invalid state, got %v", err)
	}
}

func TestReceiveRejectsOverCount(t *testing.T) {
	env := newTestEnv(t)
	env.stock(t, env.from, env.filter, 5)
	env.stock(t, env.from, env.wiper, 5)
	ctx := context.Background()

	transfer := env.create(t, 2, 2)
	sent, err := env.service.SendTransfer(ctx, transfer.ID, 1)
	if err != nil {
		t.Fatalf("SendTransfer: %v", err)
	}

	_, err = env.service.ReceiveTransfer(ctx, transfer.ID, &ReceiveTransferRequest{
		Lines: []ReceivedLine{{LineID: sent.Lines[0].ID, QtyReceived: 3}},
	}, 1)
	if !errors.Is(err, apperror.ErrInvalidQuantity) {
		t.Fatalf("expected invalid quantity, got %v", err)
	}
	if got := env.onHand(t, env.to, env.wiper); got != 0 {
		t.Errorf("failed receive left stock at destination: %d", got)
	}

	_, err = env.service.ReceiveTransfer(ctx, transfer.ID, &ReceiveTransferRequest{
		Lines: []ReceivedLine{{LineID: 9999, QtyReceived: 1}},
	}, 1)
	if !errors.Is(err, apperror.ErrInvalidInput) {
		t.Fatalf("expected invalid input for a foreign line, got %v", err)
	}
}

func TestCancelOnlyBeforeSend(t *testing.T) {
	env := newTestEnv(t)
	env.stock(t, env.from, env.filter, 5)
	env.stock(t, env.from, env.wiper, 5)
	ctx := context.Background()

	draft := env.create(t, 1, 1)
	cancelled, err := env.service.CancelTransfer(ctx, draft.ID)
	if err != nil {
		t.Fatalf("CancelTransfer: %v", err)
	}
	if cancelled.Status != StatusCancelled || cancelled.CancelledAt == nil {
		t.Errorf("unexpected cancelled transfer %+v", cancelled)
	}
	if _, err := env.service.SendTransfer(ctx, draft.ID, 1); !errors.Is(err, apperror.ErrInvalidState) {
		t.Errorf("sending a cancelled transfer: expected invalid state, got %v", err)
	}

	sent := env.create(t, 1, 1)
	if _, err := env.service.SendTransfer(ctx, sent.ID, 1); err != nil {
		t.Fatalf("SendTransfer: %v", err)
	}
	if _, err := env.service.CancelTransfer(ctx, sent.ID); !errors.Is(err, apperror.ErrInvalidState) {
		t.Errorf("cancelling a sent transfer: expected invalid state, got %v", err)
	}

	list, total, err := env.service.ListTransfers(ctx, ListFilter{Status: StatusSent, LocationID: env.to.ID})
	if err != nil {
		t.Fatalf("ListTransfers: %v", err)
	}
	if total != 1 || len(list) != 1 || list[0].ID != sent.ID || len(list[0].Lines) != 2 {
		t.Errorf("unexpected listing total=%d %+v", total, list)
	}
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateTransferRequest
		want error
	}{
		{"same location", CreateTransferRequest{FromLocationID: env.from.ID, ToLocationID: env.from.ID,
			Lines: []CreateLineRequest{{PartID: env.filter.ID, Qty: 1}}}, apperror.ErrInvalidInput},
		{"no lines", CreateTransferRequest{FromLocationID: env.from.ID, ToLocationID: env.to.ID}, apperror.ErrInvalidInput},
		{"zero qty", CreateTransferRequest{FromLocationID: env.from.ID, ToLocationID: env.to.ID,
			Lines: []CreateLineRequest{{PartID: env.filter.ID, Qty: 0}}}, apperror.ErrInvalidQuantity},
		{"duplicate part", CreateTransferRequest{FromLocationID: env.from.ID, ToLocationID: env.to.ID,
			Lines: []CreateLineRequest{{PartID: env.filter.ID, Qty: 1}, {PartID: env.filter.ID, Qty: 2}}}, apperror.ErrInvalidInput},
		{"unknown destination", CreateTransferRequest{FromLocationID: env.from.ID, ToLocationID: 999,
			Lines: []CreateLineRequest{{PartID: env.filter.ID, Qty: 1}}}, apperror.ErrNotFound},
		{"unknown part", CreateTransferRequest{FromLocationID: env.from.ID, ToLocationID: env.to.ID,
			Lines: []CreateLineRequest{{PartID: 999, Qty: 1}}}, apperror.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			if _, err := env.service.CreateTransfer(ctx, &req, 1); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := env.service.GetTransfer(ctx, 12345); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

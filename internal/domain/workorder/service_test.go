package workorder

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
	service  *Service
	ledger   *inventory.Engine
	location catalog.Location
	part     catalog.Part
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
		service:  NewService(db, ledger, log),
		ledger:   ledger,
		location: catalog.Location{Code: "BAY1", Name: "Service bay", Type: catalog.LocationTypeShop},
		part:     catalog.Part{SKU: "OIL-5W30", Name: "Engine oil 5W-30", IsActive: true},
	}
	if err := db.Create(&env.location).Error; err != nil {
		t.Fatalf("creating location: %v", err)
	}
	if err := db.Create(&env.part).Error; err != nil {
		t.Fatalf("creating part: %v", err)
	}
	return env
}

func (e *testEnv) receive(t *testing.T, qty int) {
	t.Helper()
	if _, err := e.ledger.Receive(context.Background(), &inventory.ReceiveRequest{
		LocationID: e.location.ID, PartID: e.part.ID, Qty: qty,
	}, 1); err != nil {
		t.Fatalf("receive %d: %v", qty, err)
	}
}

func (e *testEnv) level(t *testing.T) *inventory.InventoryLevel {
	t.Helper()
	level, err := e.ledger.GetLevel(context.Background(), e.location.ID, e.part.ID)
	if err != nil {
		t.Fatalf("get level: %v", err)
	}
	return level
}

func (e *testEnv) reserve(t *testing.T, qty int) *WorkOrderPartLine {
	t.Helper()
	price := decimal.RequireFromString("24.99")
	line, err := e.service.ReserveForLine(context.Background(), &ReserveRequest{
		WorkOrderID:  100,
		PartID:       e.part.ID,
		LocationID:   e.location.ID,
		QtyRequested: qty,
		UnitPrice:    &price,
	}, 1)
	if err != nil {
		t.Fatalf("reserve %d: %v", qty, err)
	}
	return line
}

func assertLine(t *testing.T, line *WorkOrderPartLine, requested, reserved, issued int, status LineStatus) {
	t.Helper()
	if line.QtyRequested != requested || line.QtyReserved != reserved || line.QtyIssued != issued || line.Status != status {
		t.Fatalf("expected requested=%d reserved=%d issued=%d status=%s, got requested=%d reserved=%d issued=%d status=%s",
			requested, reserved, issued, status,
			line.QtyRequested, line.QtyReserved, line.QtyIssued, line.Status)
	}
}

func assertLevel(t *testing.T, level *inventory.InventoryLevel, onHand, reserved int) {
	t.Helper()
	if level.OnHandQty != onHand || level.ReservedQty != reserved {
		t.Fatalf("expected on hand %d reserved %d, got %d and %d", onHand, reserved, level.OnHandQty, level.ReservedQty)
	}
}

func TestReserveIssueReturnRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.receive(t, 10)
	ctx := context.Background()

	line := env.reserve(t, 10)
	assertLine(t, line, 10, 10, 0, LineStatusReserved)
	assertLevel(t, env.level(t), 10, 10)

	line, err := env.service.IssueFromLine(ctx, line.ID, 10, 1)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	assertLine(t, line, 10, 10, 10, LineStatusIssued)
	assertLevel(t, env.level(t), 0, 0)

	line, err = env.service.ReturnToLine(ctx, line.ID, 4, 1)
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	assertLine(t, line, 10, 6, 6, LineStatusIssued)
	if line.QtyReturned != 4 {
		t.Errorf("expected 4 returned, got %d", line.QtyReturned)
	}
	assertLevel(t, env.level(t), 4, 0)

	line, err = env.service.ReturnToLine(ctx, line.ID, 6, 1)
	if err != nil {
		t.Fatalf("return rest: %v", err)
	}
	assertLine(t, line, 10, 0, 0, LineStatusReturned)
	assertLevel(t, env.level(t), 10, 0)

	replay, err := env.ledger.Replay(ctx, env.location.ID, env.part.ID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.Consistent {
		t.Errorf("ledger does not reproduce level: %+v", replay)
	}
}

func TestBackorderTopUp(t *testing.T) {
	env := newTestEnv(t)
	env.receive(t, 3)
	ctx := context.Background()

	line := env.reserve(t, 10)
	assertLine(t, line, 10, 3, 0, LineStatusBackordered)
	assertLevel(t, env.level(t), 3, 3)

	// No stock has arrived: topping up is a no-op
	line, err := env.service.ReserveFromLine(ctx, line.ID, 1)
	if err != nil {
		t.Fatalf("top up without stock: %v", err)
	}
	assertLine(t, line, 10, 3, 0, LineStatusBackordered)

	env.receive(t, 10)

	line, err = env.service.ReserveFromLine(ctx, line.ID, 1)
	if err != nil {
		t.Fatalf("top up: %v", err)
	}
	assertLine(t, line, 10, 10, 0, LineStatusReserved)
	assertLevel(t, env.level(t), 13, 10)

	line, err = env.service.ReserveFromLine(ctx, line.ID, 1)
	if err != nil {
		t.Fatalf("repeat top up: %v", err)
	}
	assertLine(t, line, 10, 10, 0, LineStatusReserved)
	assertLevel(t, env.level(t), 13, 10)
}

func TestPartialIssueOnBackorderedLine(t *testing.T) {
	env := newTestEnv(t)
	env.receive(t, 4)

	line := env.reserve(t, 6)
	line, err := env.service.IssueFromLine(context.Background(), line.ID, 4, 1)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	assertLine(t, line, 6, 4, 4, LineStatusBackordered)
	assertLevel(t, env.level(t), 0, 0)
}

func TestIssueAndReturnAreNeverClamped(t *testing.T) {
	env := newTestEnv(t)
	env.receive(t, 10)
	ctx := context.Background()

	line := env.reserve(t, 5)

	if _, err := env.service.IssueFromLine(ctx, line.ID, 6, 1); !errors.Is(err, apperror.ErrInvalidQuantity) {
		t.Errorf("issuing more than reserved: expected invalid quantity, got %v", err)
	}
	if _, err := env.service.IssueFromLine(ctx, line.ID, 0, 1); !errors.Is(err, apperror.ErrInvalidQuantity) {
		t.Errorf("issuing zero: expected invalid quantity, got %v", err)
	}
	if _, err := env.service.ReturnToLine(ctx, line.ID, 1, 1); !errors.Is(err, apperror.ErrInvalidQuantity) {
		t.Errorf("returning unissued stock: expected invalid quantity, got %v", err)
	}

	line, err := env.service.IssueFromLine(ctx, line.ID, 3, 1)
	if err != nil {
		t.Fatalf("issue 3: %v", err)
	}
	if _, err := env.service.IssueFromLine(ctx, line.ID, 3, 1); !errors.Is(err, apperror.ErrInvalidQuantity) {
		t.Errorf("issuing past the reservation: expected invalid quantity, got %v", err)
	}
	if _, err := env.service.ReturnToLine(ctx, line.ID, 4, 1); !errors.Is(err, apperror.ErrInvalidQuantity) {
		t.Errorf("returning more than issued: expected invalid quantity, got %v", err)
	}

	stored, err := env.service.GetLine(ctx, line.ID)
	if err != nil {
		t.Fatalf("GetLine: %v", err)
	}
	assertLine(t, stored, 5, 5, 3, LineStatusReserved)
	assertLevel(t, env.level(t), 7, 2)
}

func TestReleaseCancelsWithoutErasing(t *testing.T) {
	env := newTestEnv(t)
	env.receive(t, 10)
	ctx := context.Background()

	line := env.reserve(t, 8)
	line, err := env.service.IssueFromLine(ctx, line.ID, 2, 1)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := env.service.ReleaseFromLine(ctx, line.ID, 7, 1); !errors.Is(err, apperror.ErrInvalidQuantity) {
		t.Fatalf("releasing issued demand: expected invalid quantity, got %v", err)
	}

	line, err = env.service.ReleaseFromLine(ctx, line.ID, 6, 1)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	assertLine(t, line, 2, 2, 2, LineStatusIssued)
	assertLevel(t, env.level(t), 8, 0)

	lines, err := env.service.ListLines(ctx, 100)
	if err != nil {
		t.Fatalf("ListLines: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected the line to be kept, got %d lines", len(lines))
	}
}

func TestReRequestLine(t *testing.T) {
	env := newTestEnv(t)
	env.receive(t, 10)
	ctx := context.Background()

	line := env.reserve(t, 4)

	line, err := env.service.ReserveForLine(ctx, &ReserveRequest{
		LineID: line.ID, PartID: env.part.ID, LocationID: env.location.ID, QtyRequested: 7,
	}, 1)
	if err != nil {
		t.Fatalf("raise request: %v", err)
	}
	assertLine(t, line, 7, 7, 0, LineStatusReserved)

	_, err = env.service.ReserveForLine(ctx, &ReserveRequest{
		LineID: line.ID, PartID: env.part.ID, LocationID: env.location.ID, QtyRequested: 5,
	}, 1)
	if !errors.Is(err, apperror.ErrInvalidQuantity) {
		t.Fatalf("lowering below reserved: expected invalid quantity, got %v", err)
	}

	_, err = env.service.ReserveForLine(ctx, &ReserveRequest{
		LineID: line.ID, PartID: env.part.ID, LocationID: env.location.ID + 1, QtyRequested: 9,
	}, 1)
	if !errors.Is(err, apperror.ErrInvalidInput) {
		t.Fatalf("changing location: expected invalid input, got %v", err)
	}
}

func TestReRequestAfterReturn(t *testing.T) {
	env := newTestEnv(t)
	env.receive(t, 10)
	ctx := context.Background()

	line := env.reserve(t, 10)
	if _, err := env.service.IssueFromLine(ctx, line.ID, 10, 1); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := env.service.ReturnToLine(ctx, line.ID, 4, 1); err != nil {
		t.Fatalf("first return: %v", err)
	}
	line, err := env.service.ReturnToLine(ctx, line.ID, 6, 1)
	if err != nil {
		t.Fatalf("second return: %v", err)
	}
	assertLine(t, line, 10, 0, 0, LineStatusReturned)
	assertLevel(t, env.level(t), 10, 0)

	line, err = env.service.ReserveForLine(ctx, &ReserveRequest{
		LineID: line.ID, PartID: env.part.ID, LocationID: env.location.ID, QtyRequested: 5,
	}, 1)
	if err != nil {
		t.Fatalf("re-request 5: %v", err)
	}
	assertLine(t, line, 5, 5, 0, LineStatusReserved)
	if line.QtyReturned != 0 {
		t.Errorf("expected returns to be rebased, got %d", line.QtyReturned)
	}

	line, err = env.service.ReserveForLine(ctx, &ReserveRequest{
		LineID: line.ID, PartID: env.part.ID, LocationID: env.location.ID, QtyRequested: 12,
	}, 1)
	if err != nil {
		t.Fatalf("re-request 12: %v", err)
	}
	assertLine(t, line, 12, 10, 0, LineStatusBackordered)
	assertLevel(t, env.level(t), 10, 10)

	_, err = env.service.ReserveForLine(ctx, &ReserveRequest{
		LineID: line.ID, PartID: env.part.ID, LocationID: env.location.ID, QtyRequested: 9,
	}, 1)
	if !errors.Is(err, apperror.ErrInvalidQuantity) {
		t.Fatalf("re-request below reserved: expected invalid quantity, got %v", err)
	}
}

func TestUnknownLine(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.service.IssueFromLine(ctx, 404, 1, 1); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := env.service.GetLine(ctx, 404); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to LineStatus
		ok       bool
	}{
		{"", LineStatusReserved, true},
		{"", LineStatusIssued, false},
		{LineStatusBackordered, LineStatusReserved, true},
		{LineStatusReserved, LineStatusIssued, true},
		{LineStatusIssued, LineStatusReturned, true},
		{LineStatusReturned, LineStatusIssued, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.ok {
			t.Errorf("%q -> %q: expected %v, got %v", tt.from, tt.to, tt.ok, got)
		}
	}
}

package reporting

import (
	"context"
	"testing"
	"time"

	"github.com/your-org/fleet-backend/internal/config"
	"github.com/your-org/fleet-backend/internal/domain/catalog"
	"github.com/your-org/fleet-backend/internal/domain/inventory"
	"github.com/your-org/fleet-backend/internal/infrastructure/database/sqlite"
	"github.com/your-org/fleet-backend/internal/pkg/logger"
)

func TestReconciliation(t *testing.T) {
	db := sqlite.NewTestDB(t, append(catalog.Models(), inventory.Models()...)...)
	log := logger.Discard()
	ctx := context.Background()

	locations := []catalog.Location{
		{Code: "WH1", Name: "Warehouse", Type: catalog.LocationTypeWarehouse},
		{Code: "SHOP", Name: "Front shop", Type: catalog.LocationTypeShop},
	}
	part := catalog.Part{SKU: "BAT-12V", Name: "12V battery", IsActive: true}
	for i := range locations {
		if err := db.Create(&locations[i]).Error; err != nil {
			t.Fatalf("creating location: %v", err)
		}
	}
	if err := db.Create(&part).Error; err != nil {
		t.Fatalf("creating part: %v", err)
	}

	engine := inventory.NewEngine(db, &config.Config{
		Ledger: config.LedgerConfig{MaxAttempts: 1, RetryBaseDelay: time.Millisecond},
	}, log)
	for _, loc := range locations {
		if _, err := engine.Receive(ctx, &inventory.ReceiveRequest{LocationID: loc.ID, PartID: part.ID, Qty: 8}, 1); err != nil {
			t.Fatalf("receive: %v", err)
		}
		if _, err := engine.Sale(ctx, &inventory.SaleRequest{LocationID: loc.ID, PartID: part.ID, Qty: 3}, 1); err != nil {
			t.Fatalf("sale: %v", err)
		}
	}

	reconciler, err := NewReconciler(db, "sqlite", log)
	if err != nil {
		t.Fatalf("NewReconciler: %v", err)
	}

	report, err := reconciler.Run(ctx, 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.OK() || report.Checked != 2 {
		t.Fatalf("expected a clean report over 2 levels, got %+v", report)
	}

	// Simulate a write that bypassed the ledger
	if err := db.Exec("UPDATE inventory_levels SET on_hand_qty = 99 WHERE location_id = ?", locations[1].ID).Error; err != nil {
		t.Fatalf("corrupting level: %v", err)
	}

	report, err = reconciler.Run(ctx, 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Mismatches) != 1 {
		t.Fatalf("expected one mismatch, got %+v", report.Mismatches)
	}
	got := report.Mismatches[0]
	if got.LocationID != locations[1].ID || got.OnHandQty != 99 || got.LedgerOnHand != 5 || got.TransactionCount != 2 {
		t.Errorf("unexpected mismatch %+v", got)
	}

	report, err = reconciler.Run(ctx, locations[0].ID)
	if err != nil {
		t.Fatalf("Run for one location: %v", err)
	}
	if !report.OK() || report.Checked != 1 {
		t.Errorf("expected the untouched location to reconcile, got %+v", report)
	}
}

// cmd/ledger-audit/main.go
//
// ledger-audit recomputes every inventory level from the transaction log and
// prints the mismatches as JSON. It exits with status 1 when any level fails
// to reconcile.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/your-org/fleet-backend/internal/config"
	"github.com/your-org/fleet-backend/internal/infrastructure/database"
	"github.com/your-org/fleet-backend/internal/infrastructure/reporting"
	"github.com/your-org/fleet-backend/internal/pkg/logger"
)

func main() {
	locationID := flag.Uint("location", 0, "only audit this location id (0 audits every location)")
	timeout := flag.Duration("timeout", 5*time.Minute, "give up after this long")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.New(cfg)
	// Keep stdout for the report
	appLogger.SetOutput(os.Stderr)

	db, err := database.NewConnection(cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	reconciler, err := reporting.NewReconciler(db.GetDB(), db.Driver, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to create reconciler")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	report, err := reconciler.Run(ctx, uint(*locationID))
	if err != nil {
		appLogger.WithError(err).Fatal("Reconciliation failed")
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		appLogger.WithError(err).Fatal("Failed to write report")
	}

	if !report.OK() {
		db.Close()
		os.Exit(1)
	}
}

// cmd/api/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/your-org/fleet-backend/internal/config"
	"github.com/your-org/fleet-backend/internal/domain/catalog"
	"github.com/your-org/fleet-backend/internal/domain/inventory"
	"github.com/your-org/fleet-backend/internal/domain/scanbridge"
	"github.com/your-org/fleet-backend/internal/domain/transfer"
	"github.com/your-org/fleet-backend/internal/domain/workorder"
	"github.com/your-org/fleet-backend/internal/infrastructure/database"
	"github.com/your-org/fleet-backend/internal/infrastructure/database/redis"
	"github.com/your-org/fleet-backend/internal/infrastructure/reporting"
	"github.com/your-org/fleet-backend/internal/interfaces/http"
	"github.com/your-org/fleet-backend/internal/interfaces/http/routes"
	"github.com/your-org/fleet-backend/internal/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.New(cfg)
	appLogger.WithFields(logrus.Fields{
		"version":     cfg.App.Version,
		"environment": cfg.App.Environment,
	}).Infof("Starting %s", cfg.App.Name)

	// Connect to database
	db, err := database.NewConnection(cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	// Connect to Redis
	redisClient, err := redis.NewConnection(cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisClient.Close()

	// Run database migrations
	migration := database.NewMigration(db, appLogger)

	if err := migration.RunAutoMigrations(); err != nil {
		appLogger.WithError(err).Fatal("Database migration failed")
	}

	if err := migration.CreateIndexes(); err != nil {
		appLogger.WithError(err).Warn("Index creation failed")
	}

	if err := migration.CreateLedgerGuards(); err != nil {
		appLogger.WithError(err).Fatal("Ledger guard installation failed")
	}

	// Seed initial data in development
	if cfg.IsDevelopment() {
		if err := migration.SeedInitialData(); err != nil {
			appLogger.WithError(err).Warn("Data seeding failed")
		}
	}

	reconciler, err := reporting.NewReconciler(db.GetDB(), db.Driver, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to create reconciler")
	}

	engine := inventory.NewEngine(db.GetDB(), cfg, appLogger)
	deps := &routes.Dependencies{
		Config:     cfg,
		Logger:     appLogger,
		Redis:      redisClient.GetClient(),
		Catalog:    catalog.NewService(db.GetDB(), appLogger),
		Ledger:     engine,
		WorkOrders: workorder.NewService(db.GetDB(), engine, appLogger),
		Transfers:  transfer.NewService(db.GetDB(), engine, appLogger),
		ScanBridge: scanbridge.NewManager(redisClient.GetClient(), cfg, appLogger),
		Reconciler: reconciler,
	}

	appLogger.Info("All systems operational")

	// Create and start HTTP server
	server := http.NewServer(deps, map[string]http.HealthChecker{
		"database": db,
		"redis":    redisClient,
	})

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			appLogger.WithError(err).Fatal("Failed to start HTTP server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down gracefully")

	// Give server 30 seconds to shutdown gracefully
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		appLogger.WithError(err).Error("Failed to shutdown HTTP server gracefully")
	}

	appLogger.Info("Server shutdown completed")
}

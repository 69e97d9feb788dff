// internal/interfaces/http/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/your-org/fleet-backend/internal/config"
	"github.com/your-org/fleet-backend/internal/domain/catalog"
	"github.com/your-org/fleet-backend/internal/domain/inventory"
	"github.com/your-org/fleet-backend/internal/domain/scanbridge"
	"github.com/your-org/fleet-backend/internal/domain/transfer"
	"github.com/your-org/fleet-backend/internal/domain/workorder"
	"github.com/your-org/fleet-backend/internal/infrastructure/reporting"
	"github.com/your-org/fleet-backend/internal/interfaces/http/handlers"
	"github.com/your-org/fleet-backend/internal/interfaces/http/middleware"
)

// Dependencies are the services the routes are served from
type Dependencies struct {
	Config     *config.Config
	Logger     *logrus.Logger
	Redis      redis.UniversalClient
	Catalog    *catalog.Service
	Ledger     *inventory.Engine
	WorkOrders *workorder.Service
	Transfers  *transfer.Service
	ScanBridge *scanbridge.Manager
	Reconciler *reporting.Reconciler
}

// SetupCatalogRoutes sets up part and location routes
func SetupCatalogRoutes(rg *gin.RouterGroup, deps *Dependencies) {
	catalogHandler := handlers.NewCatalogHandler(deps.Catalog)

	parts := rg.Group("/catalog")
	parts.Use(middleware.AuthMiddleware(deps.Config))
	{
		parts.GET("/parts", catalogHandler.ListParts)
		parts.GET("/parts/:id", catalogHandler.GetPart)
		parts.GET("/locations", catalogHandler.ListLocations)

		admin := parts.Group("")
		admin.Use(middleware.AdminMiddleware())
		{
			admin.POST("/parts", catalogHandler.CreatePart)
			admin.POST("/parts/:id/deactivate", catalogHandler.DeactivatePart)
			admin.POST("/locations", catalogHandler.CreateLocation)
			admin.DELETE("/locations/:id", catalogHandler.DeleteLocation)
		}
	}
}

// SetupInventoryRoutes sets up ledger routes
func SetupInventoryRoutes(rg *gin.RouterGroup, deps *Dependencies) {
	inventoryHandler := handlers.NewInventoryHandler(deps.Ledger, deps.Reconciler)

	stock := rg.Group("/inventory")
	stock.Use(middleware.AuthMiddleware(deps.Config))
	{
		stock.POST("/receive", inventoryHandler.Receive)
		stock.POST("/adjust", inventoryHandler.Adjust)
		stock.POST("/cycle-count", inventoryHandler.CycleCount)
		stock.POST("/issue", inventoryHandler.Issue)
		stock.POST("/sale", inventoryHandler.Sale)
		stock.PUT("/levels/policy", inventoryHandler.SetStockPolicy)
		stock.GET("/levels/:locationId/:partId", inventoryHandler.GetLevel)
		stock.GET("/levels/:locationId/:partId/replay", inventoryHandler.Replay)
		stock.GET("/locations/:locationId/levels", inventoryHandler.ListLevels)
		stock.GET("/transactions", inventoryHandler.ListTransactions)
	}

	admin := rg.Group("/admin/inventory")
	admin.Use(middleware.AuthMiddleware(deps.Config))
	admin.Use(middleware.AdminMiddleware())
	{
		admin.GET("/reconciliation", inventoryHandler.Reconcile)
	}
}

// SetupWorkOrderRoutes sets up work order part line routes
func SetupWorkOrderRoutes(rg *gin.RouterGroup, deps *Dependencies) {
	workOrderHandler := handlers.NewWorkOrderHandler(deps.WorkOrders)

	orders := rg.Group("/work-orders")
	orders.Use(middleware.AuthMiddleware(deps.Config))
	{
		orders.POST("/:workOrderId/lines", workOrderHandler.ReserveForLine)
		orders.GET("/:workOrderId/lines", workOrderHandler.ListLines)
	}

	lines := rg.Group("/work-order-lines")
	lines.Use(middleware.AuthMiddleware(deps.Config))
	{
		lines.GET("/:id", workOrderHandler.GetLine)
		lines.POST("/:id/reserve", workOrderHandler.ReserveFromLine)
		lines.POST("/:id/issue", workOrderHandler.IssueFromLine)
		lines.POST("/:id/return", workOrderHandler.ReturnToLine)
		lines.POST("/:id/release", workOrderHandler.ReleaseFromLine)
	}
}

// SetupTransferRoutes sets up inter-location transfer routes
func SetupTransferRoutes(rg *gin.RouterGroup, deps *Dependencies) {
	transferHandler := handlers.NewTransferHandler(deps.Transfers)

	transfers := rg.Group("/transfers")
	transfers.Use(middleware.AuthMiddleware(deps.Config))
	{
		transfers.POST("", transferHandler.CreateTransfer)
		transfers.GET("", transferHandler.ListTransfers)
		transfers.GET("/:id", transferHandler.GetTransfer)
		transfers.POST("/:id/send", transferHandler.SendTransfer)
		transfers.POST("/:id/receive", transferHandler.ReceiveTransfer)
		transfers.POST("/:id/cancel", transferHandler.CancelTransfer)
	}
}

// SetupScanBridgeRoutes sets up scanner pairing routes. Only session creation
// needs a JWT; the other endpoints authenticate with the session's tokens.
func SetupScanBridgeRoutes(rg *gin.RouterGroup, deps *Dependencies) {
	scanHandler := handlers.NewScanBridgeHandler(deps.ScanBridge)

	sessions := rg.Group("/scan-bridge/sessions")
	{
		sessions.POST("", middleware.AuthMiddleware(deps.Config), scanHandler.CreateSession)
		sessions.GET("/:id", scanHandler.GetSession)
		sessions.GET("/:id/events", scanHandler.Events)
		sessions.DELETE("/:id", scanHandler.CloseSession)
		sessions.POST("/:id/scans",
			middleware.RateLimit(deps.Redis, "scan", deps.Config.Security.ScanRateLimitPerMinute, deps.Logger),
			scanHandler.PostScan,
		)
	}
}

// SetupRoutes registers every API route group
func SetupRoutes(rg *gin.RouterGroup, deps *Dependencies) {
	SetupCatalogRoutes(rg, deps)
	SetupInventoryRoutes(rg, deps)
	SetupWorkOrderRoutes(rg, deps)
	SetupTransferRoutes(rg, deps)
	SetupScanBridgeRoutes(rg, deps)
}

// internal/interfaces/http/handlers/inventory.go
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/your-org/fleet-backend/internal/domain/inventory"
	"github.com/your-org/fleet-backend/internal/infrastructure/reporting"
	"github.com/your-org/fleet-backend/internal/pkg/apperror"
)

// InventoryHandler handles ledger endpoints
type InventoryHandler struct {
	engine     *inventory.Engine
	reconciler *reporting.Reconciler
}

// NewInventoryHandler creates a new inventory handler
func NewInventoryHandler(engine *inventory.Engine, reconciler *reporting.Reconciler) *InventoryHandler {
	return &InventoryHandler{
		engine:     engine,
		reconciler: reconciler,
	}
}

// STOCK MOVEMENT ENDPOINTS

// Receive handles POST /inventory/receive
func (h *InventoryHandler) Receive(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req inventory.ReceiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	entry, err := h.engine.Receive(c.Request.Context(), &req, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Stock received successfully",
		"data":    entry,
	})
}

// Adjust handles POST /inventory/adjust
func (h *InventoryHandler) Adjust(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req inventory.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	entry, err := h.engine.Adjust(c.Request.Context(), &req, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondMovement(c, entry, "Stock adjusted successfully")
}

// CycleCount handles POST /inventory/cycle-count
func (h *InventoryHandler) CycleCount(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req inventory.CycleCountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	entry, err := h.engine.CycleCount(c.Request.Context(), &req, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondMovement(c, entry, "Cycle count recorded successfully")
}

// Issue handles POST /inventory/issue
func (h *InventoryHandler) Issue(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req inventory.IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	entry, err := h.engine.Issue(c.Request.Context(), &req, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Stock issued successfully",
		"data":    entry,
	})
}

// Sale handles POST /inventory/sale
func (h *InventoryHandler) Sale(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req inventory.SaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	entry, err := h.engine.Sale(c.Request.Context(), &req, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Sale recorded successfully",
		"data":    entry,
	})
}

// respondMovement answers 201 with the new entry, or 200 when nothing changed
func respondMovement(c *gin.Context, entry *inventory.InventoryTransaction, message string) {
	if entry == nil {
		c.JSON(http.StatusOK, gin.H{
			"message": "No change recorded",
			"data":    nil,
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": message,
		"data":    entry,
	})
}

// LEVEL ENDPOINTS

// SetStockPolicy handles PUT /inventory/levels/policy
func (h *InventoryHandler) SetStockPolicy(c *gin.Context) {
	var req inventory.StockPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	level, err := h.engine.SetStockPolicy(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Stock policy updated successfully",
		"data":    level,
	})
}

// GetLevel handles GET /inventory/levels/:locationId/:partId
func (h *InventoryHandler) GetLevel(c *gin.Context) {
	locationID, ok := parseID(c, "locationId")
	if !ok {
		return
	}
	partID, ok := parseID(c, "partId")
	if !ok {
		return
	}

	level, err := h.engine.GetLevel(c.Request.Context(), locationID, partID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Inventory level retrieved successfully",
		"data":    level,
	})
}

// ListLevels handles GET /inventory/locations/:locationId/levels?low_stock=true
func (h *InventoryHandler) ListLevels(c *gin.Context) {
	locationID, ok := parseID(c, "locationId")
	if !ok {
		return
	}

	levels, err := h.engine.ListLevels(c.Request.Context(), locationID, c.Query("low_stock") == "true")
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Inventory levels retrieved successfully",
		"data":    levels,
	})
}

// Replay handles GET /inventory/levels/:locationId/:partId/replay
func (h *InventoryHandler) Replay(c *gin.Context) {
	locationID, ok := parseID(c, "locationId")
	if !ok {
		return
	}
	partID, ok := parseID(c, "partId")
	if !ok {
		return
	}

	result, err := h.engine.Replay(c.Request.Context(), locationID, partID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Ledger replayed successfully",
		"data":    result,
	})
}

// HISTORY ENDPOINTS

// ListTransactions handles GET /inventory/transactions
func (h *InventoryHandler) ListTransactions(c *gin.Context) {
	filter, err := transactionFilterFromQuery(c)
	if err != nil {
		respondError(c, err)
		return
	}

	entries, total, err := h.engine.ListTransactions(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Inventory transactions retrieved successfully",
		"data":       entries,
		"pagination": pagination(filter.Page, filter.Limit, total),
	})
}

func transactionFilterFromQuery(c *gin.Context) (inventory.TransactionFilter, error) {
	var (
		filter inventory.TransactionFilter
		err    error
	)
	if filter.LocationID, err = queryUint(c, "location_id"); err != nil {
		return filter, err
	}
	if filter.PartID, err = queryUint(c, "part_id"); err != nil {
		return filter, err
	}
	if filter.ReferenceID, err = queryUint(c, "reference_id"); err != nil {
		return filter, err
	}
	filter.TxType = inventory.TxType(c.Query("tx_type"))
	filter.ReferenceType = inventory.ReferenceType(c.Query("reference_type"))

	for name, dst := range map[string]**time.Time{"since": &filter.Since, "until": &filter.Until} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, apperror.New(apperror.ErrInvalidInput, "invalid %s %q, expected RFC3339", name, raw)
		}
		*dst = &t
	}

	if filter.Page, err = queryInt(c, "page", 1); err != nil {
		return filter, err
	}
	if filter.Limit, err = queryInt(c, "limit", 100); err != nil {
		return filter, err
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return filter, nil
}

// ADMIN ENDPOINTS

// Reconcile handles GET /admin/inventory/reconciliation?location_id=
func (h *InventoryHandler) Reconcile(c *gin.Context) {
	locationID, err := queryUint(c, "location_id")
	if err != nil {
		respondError(c, err)
		return
	}

	report, err := h.reconciler.Run(c.Request.Context(), locationID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Reconciliation completed",
		"data":    report,
	})
}

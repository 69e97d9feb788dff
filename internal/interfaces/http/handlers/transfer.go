// internal/interfaces/http/handlers/transfer.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/your-org/fleet-backend/internal/domain/transfer"
)

// TransferHandler handles inter-location transfer endpoints
type TransferHandler struct {
	service *transfer.Service
}

// NewTransferHandler creates a new transfer handler
func NewTransferHandler(service *transfer.Service) *TransferHandler {
	return &TransferHandler{service: service}
}

// CreateTransfer handles POST /transfers
func (h *TransferHandler) CreateTransfer(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req transfer.CreateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	t, err := h.service.CreateTransfer(c.Request.Context(), &req, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Transfer created successfully",
		"data":    t,
	})
}

// ListTransfers handles GET /transfers?status=&location_id=&page=&limit=
func (h *TransferHandler) ListTransfers(c *gin.Context) {
	filter := transfer.ListFilter{Status: transfer.Status(c.Query("status"))}
	var err error
	if filter.LocationID, err = queryUint(c, "location_id"); err != nil {
		respondError(c, err)
		return
	}
	if filter.Page, err = queryInt(c, "page", 1); err != nil {
		respondError(c, err)
		return
	}
	if filter.Limit, err = queryInt(c, "limit", 20); err != nil {
		respondError(c, err)
		return
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}

	transfers, total, err := h.service.ListTransfers(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Transfers retrieved successfully",
		"data":       transfers,
		"pagination": pagination(filter.Page, filter.Limit, total),
	})
}

// GetTransfer handles GET /transfers/:id
func (h *TransferHandler) GetTransfer(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	t, err := h.service.GetTransfer(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Transfer retrieved successfully",
		"data":    t,
	})
}

// SendTransfer handles POST /transfers/:id/send
func (h *TransferHandler) SendTransfer(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	t, err := h.service.SendTransfer(c.Request.Context(), id, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Transfer sent",
		"data":    t,
	})
}

// ReceiveTransfer handles POST /transfers/:id/receive. An empty body receives
// every line in full.
func (h *TransferHandler) ReceiveTransfer(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req transfer.ReceiveTransferRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
	}

	t, err := h.service.ReceiveTransfer(c.Request.Context(), id, &req, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Transfer received",
		"data":    t,
	})
}

// CancelTransfer handles POST /transfers/:id/cancel
func (h *TransferHandler) CancelTransfer(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	t, err := h.service.CancelTransfer(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Transfer cancelled",
		"data":    t,
	})
}

// internal/interfaces/http/handlers/work_order.go
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/your-org/fleet-backend/internal/domain/workorder"
)

// WorkOrderHandler handles work order part line endpoints
type WorkOrderHandler struct {
	service *workorder.Service
}

// NewWorkOrderHandler creates a new work order handler
func NewWorkOrderHandler(service *workorder.Service) *WorkOrderHandler {
	return &WorkOrderHandler{service: service}
}

// ReserveForLine handles POST /work-orders/:workOrderId/lines
func (h *WorkOrderHandler) ReserveForLine(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	workOrderID, ok := parseID(c, "workOrderId")
	if !ok {
		return
	}

	var req workorder.ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	req.WorkOrderID = workOrderID

	line, err := h.service.ReserveForLine(c.Request.Context(), &req, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Parts reserved for work order line",
		"data":    line,
	})
}

// ListLines handles GET /work-orders/:workOrderId/lines
func (h *WorkOrderHandler) ListLines(c *gin.Context) {
	workOrderID, ok := parseID(c, "workOrderId")
	if !ok {
		return
	}

	lines, err := h.service.ListLines(c.Request.Context(), workOrderID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Work order lines retrieved successfully",
		"data":    lines,
	})
}

// GetLine handles GET /work-order-lines/:id
func (h *WorkOrderHandler) GetLine(c *gin.Context) {
	lineID, ok := parseID(c, "id")
	if !ok {
		return
	}

	line, err := h.service.GetLine(c.Request.Context(), lineID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Work order line retrieved successfully",
		"data":    line,
	})
}

// ReserveFromLine handles POST /work-order-lines/:id/reserve
func (h *WorkOrderHandler) ReserveFromLine(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	lineID, ok := parseID(c, "id")
	if !ok {
		return
	}

	line, err := h.service.ReserveFromLine(c.Request.Context(), lineID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Reservation topped up",
		"data":    line,
	})
}

// IssueFromLine handles POST /work-order-lines/:id/issue
func (h *WorkOrderHandler) IssueFromLine(c *gin.Context) {
	h.lineQuantity(c, h.service.IssueFromLine, "Parts issued to work order")
}

// ReturnToLine handles POST /work-order-lines/:id/return
func (h *WorkOrderHandler) ReturnToLine(c *gin.Context) {
	h.lineQuantity(c, h.service.ReturnToLine, "Parts returned from work order")
}

// ReleaseFromLine handles POST /work-order-lines/:id/release
func (h *WorkOrderHandler) ReleaseFromLine(c *gin.Context) {
	h.lineQuantity(c, h.service.ReleaseFromLine, "Reservation released")
}

type lineQuantityFunc func(ctx context.Context, lineID uint, qty int, performedBy uint) (*workorder.WorkOrderPartLine, error)

func (h *WorkOrderHandler) lineQuantity(c *gin.Context, fn lineQuantityFunc, message string) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	lineID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req workorder.QuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	line, err := fn(c.Request.Context(), lineID, req.Qty, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": message,
		"data":    line,
	})
}

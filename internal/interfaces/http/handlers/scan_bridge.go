// internal/interfaces/http/handlers/scan_bridge.go
package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/your-org/fleet-backend/internal/domain/scanbridge"
)

// ScanBridgeHandler pairs a phone scanner with a desktop session
type ScanBridgeHandler struct {
	manager *scanbridge.Manager
}

// NewScanBridgeHandler creates a new scan-bridge handler
func NewScanBridgeHandler(manager *scanbridge.Manager) *ScanBridgeHandler {
	return &ScanBridgeHandler{manager: manager}
}

// PostScanRequest is the phone's scan payload. The write token may also be
// passed as the token query parameter.
type PostScanRequest struct {
	Barcode string `json:"barcode" binding:"required"`
	Token   string `json:"token"`
}

// CreateSession handles POST /scan-bridge/sessions
func (h *ScanBridgeHandler) CreateSession(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		return
	}

	pairing, err := h.manager.CreateSession(c.Request.Context(), identity.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Scan-bridge session created",
		"data":    pairing,
	})
}

// GetSession handles GET /scan-bridge/sessions/:id?token=
func (h *ScanBridgeHandler) GetSession(c *gin.Context) {
	session, err := h.manager.Status(c.Request.Context(), c.Param("id"), c.Query("token"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scan-bridge session retrieved",
		"data":    session,
	})
}

// Events handles GET /scan-bridge/sessions/:id/events?token= as a
// server-sent event stream.
func (h *ScanBridgeHandler) Events(c *gin.Context) {
	sub, err := h.manager.Subscribe(c.Request.Context(), c.Param("id"), c.Query("token"))
	if err != nil {
		respondError(c, err)
		return
	}
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	keepAlive := h.manager.KeepAlive()
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.SSEvent(string(event.Type), event)
			return event.Type != scanbridge.EventClosed
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// PostScan handles POST /scan-bridge/sessions/:id/scans
func (h *ScanBridgeHandler) PostScan(c *gin.Context) {
	var req PostScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	token := c.Query("token")
	if token == "" {
		token = req.Token
	}

	event, err := h.manager.PostScan(c.Request.Context(), c.Param("id"), token, req.Barcode)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Scan delivered",
		"data":    event,
	})
}

// CloseSession handles DELETE /scan-bridge/sessions/:id?token=
func (h *ScanBridgeHandler) CloseSession(c *gin.Context) {
	if err := h.manager.Close(c.Request.Context(), c.Param("id"), c.Query("token")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scan-bridge session closed",
	})
}

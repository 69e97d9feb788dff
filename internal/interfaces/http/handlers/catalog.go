// internal/interfaces/http/handlers/catalog.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/your-org/fleet-backend/internal/domain/catalog"
)

// CatalogHandler handles part and location endpoints
type CatalogHandler struct {
	service *catalog.Service
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(service *catalog.Service) *CatalogHandler {
	return &CatalogHandler{service: service}
}

// CreatePart handles POST /catalog/parts
func (h *CatalogHandler) CreatePart(c *gin.Context) {
	var req catalog.CreatePartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	part, err := h.service.CreatePart(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Part created successfully",
		"data":    part,
	})
}

// ListParts handles GET /catalog/parts?active=true
func (h *CatalogHandler) ListParts(c *gin.Context) {
	parts, err := h.service.ListParts(c.Request.Context(), c.Query("active") == "true")
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Parts retrieved successfully",
		"data":    parts,
	})
}

// GetPart handles GET /catalog/parts/:id
func (h *CatalogHandler) GetPart(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	part, err := h.service.GetPart(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Part retrieved successfully",
		"data":    part,
	})
}

// DeactivatePart handles POST /catalog/parts/:id/deactivate
func (h *CatalogHandler) DeactivatePart(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	part, err := h.service.DeactivatePart(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Part deactivated",
		"data":    part,
	})
}

// CreateLocation handles POST /catalog/locations
func (h *CatalogHandler) CreateLocation(c *gin.Context) {
	var req catalog.CreateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	location, err := h.service.CreateLocation(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Location created successfully",
		"data":    location,
	})
}

// ListLocations handles GET /catalog/locations
func (h *CatalogHandler) ListLocations(c *gin.Context) {
	locations, err := h.service.ListLocations(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Locations retrieved successfully",
		"data":    locations,
	})
}

// DeleteLocation handles DELETE /catalog/locations/:id
func (h *CatalogHandler) DeleteLocation(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteLocation(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Location deleted",
	})
}

// internal/interfaces/http/handlers/errors.go
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/your-org/fleet-backend/internal/domain/transfer"
	"github.com/your-org/fleet-backend/internal/interfaces/http/middleware"
	"github.com/your-org/fleet-backend/internal/pkg/apperror"
	"github.com/your-org/fleet-backend/internal/pkg/auth"
)

// statusFor maps an error kind onto an HTTP status
func statusFor(kind apperror.Kind) int {
	switch kind {
	case apperror.ErrInvalidQuantity, apperror.ErrInvalidInput:
		return http.StatusBadRequest
	case apperror.ErrNotFound:
		return http.StatusNotFound
	case apperror.ErrInsufficientStock:
		return http.StatusUnprocessableEntity
	case apperror.ErrInvalidState, apperror.ErrConflict:
		return http.StatusConflict
	case apperror.ErrSessionExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the failure envelope for err
func respondError(c *gin.Context, err error) {
	kind := apperror.KindOf(err)
	status := statusFor(kind)

	body := gin.H{"error": err.Error(), "code": string(kind)}
	if status == http.StatusInternalServerError {
		// Internal details stay in the log
		_ = c.Error(err)
		body = gin.H{"error": "Internal server error", "code": "internal"}
	}
	if apperror.IsRetryable(err) {
		body["retryable"] = true
	}

	var lineErr *transfer.LineError
	if errors.As(err, &lineErr) {
		body["line_id"] = lineErr.LineID
		body["part_id"] = lineErr.PartID
		body["line_index"] = lineErr.Index
	}

	c.JSON(status, body)
}

// respondBindError reports a request body that failed to decode
func respondBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request data",
		"code":    string(apperror.ErrInvalidInput),
		"details": err.Error(),
	})
}

// parseID reads a positive integer path parameter
func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + name,
			"code":  string(apperror.ErrInvalidInput),
		})
		return 0, false
	}
	return uint(id), true
}

// queryUint reads an optional positive integer query parameter
func queryUint(c *gin.Context, name string) (uint, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, apperror.New(apperror.ErrInvalidInput, "invalid %s %q", name, raw)
	}
	return uint(v), nil
}

// queryInt reads an optional integer query parameter
func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.New(apperror.ErrInvalidInput, "invalid %s %q", name, raw)
	}
	return v, nil
}

// currentIdentity returns the authenticated caller, answering 401 when missing
func currentIdentity(c *gin.Context) (auth.Identity, bool) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "User not authenticated",
			"code":  "unauthorized",
		})
		return auth.Identity{}, false
	}
	return identity, true
}

// currentUser returns the caller's ID for performedBy
func currentUser(c *gin.Context) (uint, bool) {
	identity, ok := currentIdentity(c)
	return identity.UserID, ok
}

// pagination builds the listing metadata block
func pagination(page, limit int, total int64) gin.H {
	if page < 1 {
		page = 1
	}
	totalPages := int64(0)
	if limit > 0 {
		totalPages = (total + int64(limit) - 1) / int64(limit)
	}
	return gin.H{
		"page":        page,
		"limit":       limit,
		"total":       total,
		"total_pages": totalPages,
	}
}

package activity

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/authplane/authplane/internal/auth"
)

// Handler exposes the audit trail.
type Handler struct {
	store Store
}

// NewHandler creates a new activity handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up activity routes on a tenant-scoped group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tenants/:realm/activity", h.List)
}

// List handles GET /v1/tenants/:realm/activity.
func (h *Handler) List(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit", "message": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	entries, err := h.store.ListByRealm(c.Request.Context(), c.Param("realm"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list activity"})
		return
	}
	if entries == nil {
		entries = []*Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"activity": entries, "count": len(entries)})
}

// Middleware records mutating tenant requests after they complete.
// Attach to groups whose routes carry a :realm parameter.
func Middleware(rec *Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			return
		}
		realm := c.Param("realm")
		if realm == "" {
			return
		}

		actor := "system"
		if op, ok := auth.OperatorFrom(c); ok {
			actor = op.ID
		}
		rec.Record(c.Request.Context(), realm, actor,
			c.Request.Method+" "+c.FullPath(),
			strconv.Itoa(c.Writer.Status()))
	}
}

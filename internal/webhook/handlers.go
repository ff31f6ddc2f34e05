package webhook

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/authplane/authplane/internal/idgen"
	"github.com/authplane/authplane/internal/plan"
	"github.com/authplane/authplane/internal/validation"
)

// TierLookup resolves a realm's current plan. Injected by the server so
// this package does not depend on the tenant package.
type TierLookup func(ctx context.Context, realm string) (plan.Plan, error)

// Handler provides HTTP endpoints for webhook management.
type Handler struct {
	store   Store
	tierFor TierLookup
}

// NewHandler creates a new webhook handler.
func NewHandler(store Store, tierFor TierLookup) *Handler {
	return &Handler{store: store, tierFor: tierFor}
}

// RegisterRoutes sets up webhook routes under a tenant realm.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/tenants/:realm/webhooks", h.CreateWebhook)
	r.GET("/tenants/:realm/webhooks", h.ListWebhooks)
	r.GET("/tenants/:realm/webhooks/:id", h.GetWebhook)
	r.PATCH("/tenants/:realm/webhooks/:id", h.UpdateWebhook)
	r.DELETE("/tenants/:realm/webhooks/:id", h.DeleteWebhook)
	r.GET("/tenants/:realm/webhooks/:id/deliveries", h.ListDeliveries)
}

// CreateWebhook handles POST /v1/tenants/:realm/webhooks.
// Gated: the realm's plan must include webhooks and have capacity left.
func (h *Handler) CreateWebhook(c *gin.Context) {
	realm := c.Param("realm")

	p, err := h.tierFor(c.Request.Context(), realm)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "tenant not found"})
		return
	}
	if err := p.RequireFeature(plan.FeatureWebhooks); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "plan_gate", "message": "webhooks are not included in the " + string(p.Tier) + " plan"})
		return
	}

	count, err := h.store.CountByRealm(c.Request.Context(), realm)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to count webhooks"})
		return
	}
	if err := plan.CheckLimit(p.Limits.MaxWebhooks, count); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "limit_exceeded", "message": "webhook limit reached for plan"})
		return
	}

	var req struct {
		URL    string   `json:"url" binding:"required"`
		Events []string `json:"events" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "url and events required"})
		return
	}
	if err := validation.ValidateWebhookURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_url", "message": "url must be a public http(s) endpoint"})
		return
	}

	events := make([]EventType, 0, len(req.Events))
	for _, e := range req.Events {
		et := EventType(e)
		if !KnownEvent(et) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event", "message": "unknown event type: " + e})
			return
		}
		events = append(events, et)
	}

	w := &Webhook{
		ID:        idgen.WithPrefix("wh_"),
		Realm:     realm,
		URL:       req.URL,
		Secret:    idgen.Hex(32),
		Events:    events,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.Create(c.Request.Context(), w); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create webhook"})
		return
	}

	// The secret is returned exactly once, at creation.
	c.JSON(http.StatusCreated, gin.H{
		"id":         w.ID,
		"realm":      w.Realm,
		"url":        w.URL,
		"secret":     w.Secret,
		"events":     w.Events,
		"active":     w.Active,
		"created_at": w.CreatedAt,
	})
}

// ListWebhooks handles GET /v1/tenants/:realm/webhooks.
func (h *Handler) ListWebhooks(c *gin.Context) {
	hooks, err := h.store.ListByRealm(c.Request.Context(), c.Param("realm"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list webhooks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": hooks, "count": len(hooks)})
}

// GetWebhook handles GET /v1/tenants/:realm/webhooks/:id.
func (h *Handler) GetWebhook(c *gin.Context) {
	w, err := h.loadForRealm(c)
	if err != nil {
		return
	}
	c.JSON(http.StatusOK, w)
}

// UpdateWebhook handles PATCH /v1/tenants/:realm/webhooks/:id.
func (h *Handler) UpdateWebhook(c *gin.Context) {
	w, err := h.loadForRealm(c)
	if err != nil {
		return
	}

	var req struct {
		URL    *string  `json:"url"`
		Events []string `json:"events"`
		Active *bool    `json:"active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed body"})
		return
	}

	if req.URL != nil {
		if err := validation.ValidateWebhookURL(*req.URL); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_url", "message": "url must be a public http(s) endpoint"})
			return
		}
		w.URL = *req.URL
	}
	if req.Events != nil {
		events := make([]EventType, 0, len(req.Events))
		for _, e := range req.Events {
			et := EventType(e)
			if !KnownEvent(et) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event", "message": "unknown event type: " + e})
				return
			}
			events = append(events, et)
		}
		w.Events = events
	}
	if req.Active != nil {
		w.Active = *req.Active
	}

	if err := h.store.Update(c.Request.Context(), w); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update webhook"})
		return
	}
	c.JSON(http.StatusOK, w)
}

// DeleteWebhook handles DELETE /v1/tenants/:realm/webhooks/:id.
// Deletion also cancels any in-flight retries for this webhook.
func (h *Handler) DeleteWebhook(c *gin.Context) {
	w, err := h.loadForRealm(c)
	if err != nil {
		return
	}
	if err := h.store.Delete(c.Request.Context(), w.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to delete webhook"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ListDeliveries handles GET /v1/tenants/:realm/webhooks/:id/deliveries.
func (h *Handler) ListDeliveries(c *gin.Context) {
	w, err := h.loadForRealm(c)
	if err != nil {
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	deliveries, err := h.store.Deliveries(c.Request.Context(), w.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list deliveries"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": deliveries, "count": len(deliveries)})
}

// loadForRealm loads the webhook from the path and verifies it belongs
// to the realm in the path. Writes the error response itself.
func (h *Handler) loadForRealm(c *gin.Context) (*Webhook, error) {
	w, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "webhook not found"})
			return nil, err
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load webhook"})
		return nil, err
	}
	if w.Realm != c.Param("realm") {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "webhook not found"})
		return nil, ErrNotFound
	}
	return w, nil
}

package coupon

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/authplane/authplane/internal/plan"
	"github.com/authplane/authplane/internal/validation"
)

// Handler provides HTTP endpoints for coupon management.
type Handler struct {
	svc *Service
}

// NewHandler creates a new coupon handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterPublicRoutes sets up the unauthenticated validation route used
// by signup forms.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/coupons/validate", h.ValidateCoupon)
}

// RegisterAdminRoutes sets up operator-only coupon management routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/coupons", h.CreateCoupon)
	r.GET("/coupons", h.ListCoupons)
	r.GET("/coupons/:code", h.GetCoupon)
	r.PATCH("/coupons/:code", h.ToggleCoupon)
	r.DELETE("/coupons/:code", h.DeleteCoupon)
	r.GET("/coupons/:code/redemptions", h.ListRedemptions)
}

// ValidateCoupon handles POST /v1/coupons/validate.
// Read-only: reports whether the code would apply to the given tier,
// without consuming capacity.
func (h *Handler) ValidateCoupon(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
		Tier string `json:"tier" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "code and tier required"})
		return
	}
	if !plan.Valid(plan.Tier(req.Tier)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan", "message": "unknown tier"})
		return
	}

	cp, err := h.svc.Validate(c.Request.Context(), req.Code, req.Tier)
	if err != nil {
		status, kind := rejectionResponse(err)
		c.JSON(status, gin.H{"valid": false, "error": kind, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":        true,
		"code":         cp.Code,
		"discount_pct": cp.DiscountPct,
		"description":  cp.Description,
	})
}

// CreateCoupon handles POST /v1/admin/coupons.
func (h *Handler) CreateCoupon(c *gin.Context) {
	var req struct {
		Code           string     `json:"code" binding:"required"`
		Description    string     `json:"description"`
		DiscountPct    int        `json:"discount_pct" binding:"required"`
		MaxRedemptions *int       `json:"max_redemptions"`
		ValidTiers     []string   `json:"valid_tiers"`
		Enabled        *bool      `json:"enabled"`
		ExpiresAt      *time.Time `json:"expires_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "code and discount_pct required"})
		return
	}
	if req.DiscountPct < 1 || req.DiscountPct > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_discount", "message": "discount_pct must be 1-100"})
		return
	}
	for _, tier := range req.ValidTiers {
		if !plan.Valid(plan.Tier(tier)) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan", "message": "unknown tier in valid_tiers: " + tier})
			return
		}
	}

	maxRedemptions := Unlimited
	if req.MaxRedemptions != nil {
		if *req.MaxRedemptions < 1 && *req.MaxRedemptions != Unlimited {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "max_redemptions must be positive or -1"})
			return
		}
		maxRedemptions = *req.MaxRedemptions
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	cp := &Coupon{
		Code:           req.Code,
		Description:    validation.SanitizeString(req.Description, 500),
		DiscountPct:    req.DiscountPct,
		MaxRedemptions: maxRedemptions,
		ValidTiers:     req.ValidTiers,
		Enabled:        enabled,
		ExpiresAt:      req.ExpiresAt,
		CreatedAt:      time.Now().UTC(),
	}

	if err := h.svc.Create(c.Request.Context(), cp); err != nil {
		if errors.Is(err, ErrCodeTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "code_taken", "message": "coupon code already exists"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_code", "message": "code must be 2-32 alphanumeric characters"})
		return
	}

	c.JSON(http.StatusCreated, cp)
}

// ListCoupons handles GET /v1/admin/coupons.
func (h *Handler) ListCoupons(c *gin.Context) {
	coupons, err := h.svc.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list coupons"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"coupons": coupons, "count": len(coupons)})
}

// GetCoupon handles GET /v1/admin/coupons/:code.
func (h *Handler) GetCoupon(c *gin.Context) {
	cp, err := h.svc.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "coupon not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load coupon"})
		return
	}
	c.JSON(http.StatusOK, cp)
}

// ToggleCoupon handles PATCH /v1/admin/coupons/:code.
func (h *Handler) ToggleCoupon(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "enabled required"})
		return
	}

	if err := h.svc.SetEnabled(c.Request.Context(), c.Param("code"), *req.Enabled); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "coupon not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update coupon"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": validation.NormalizeCouponCode(c.Param("code")), "enabled": *req.Enabled})
}

// DeleteCoupon handles DELETE /v1/admin/coupons/:code.
func (h *Handler) DeleteCoupon(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("code")); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "coupon not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to delete coupon"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ListRedemptions handles GET /v1/admin/coupons/:code/redemptions.
func (h *Handler) ListRedemptions(c *gin.Context) {
	redemptions, err := h.svc.Redemptions(c.Request.Context(), c.Param("code"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "coupon not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list redemptions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"redemptions": redemptions, "count": len(redemptions)})
}

// rejectionResponse maps coupon validation errors to HTTP status and
// machine-readable kind. All rejections are client errors except
// unexpected store failures.
func rejectionResponse(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrDisabled):
		return http.StatusUnprocessableEntity, "coupon_disabled"
	case errors.Is(err, ErrExpired):
		return http.StatusUnprocessableEntity, "coupon_expired"
	case errors.Is(err, ErrPlanNotEligible):
		return http.StatusUnprocessableEntity, "plan_not_eligible"
	case errors.Is(err, ErrExhausted):
		return http.StatusUnprocessableEntity, "coupon_exhausted"
	case errors.Is(err, ErrAlreadyRedeemed):
		return http.StatusConflict, "already_redeemed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

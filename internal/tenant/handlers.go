package tenant

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/authplane/authplane/internal/coupon"
	"github.com/authplane/authplane/internal/iam"
	"github.com/authplane/authplane/internal/plan"
	"github.com/authplane/authplane/internal/validation"
)

// Handler provides HTTP endpoints for the tenant lifecycle and the
// plan-gated passthroughs to the identity server.
type Handler struct {
	orch  *Orchestrator
	store Store
	iam   iam.Client
}

// NewHandler creates a new tenant handler.
func NewHandler(orch *Orchestrator, store Store, iamClient iam.Client) *Handler {
	return &Handler{orch: orch, store: store, iam: iamClient}
}

// RegisterPublicRoutes sets up the signup route.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/tenants", h.CreateTenant)
}

// RegisterProtectedRoutes sets up authenticated tenant routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/tenants", h.ListTenants)
	r.GET("/tenants/:realm", h.GetTenant)
	r.PATCH("/tenants/:realm", h.UpdateTenant)
	r.DELETE("/tenants/:realm", h.DeleteTenant)
	r.POST("/tenants/:realm/plan", h.ChangePlan)
	r.GET("/tenants/:realm/usage", h.GetUsage)

	r.POST("/tenants/:realm/users", h.CreateUser)
	r.GET("/tenants/:realm/users", h.ListUsers)
	r.DELETE("/tenants/:realm/users/:userId", h.DeleteUser)
	r.GET("/tenants/:realm/users/:userId/sessions", h.ListSessions)
	r.POST("/tenants/:realm/users/:userId/logout", h.LogoutUser)
	r.DELETE("/tenants/:realm/sessions/:sessionId", h.RevokeSession)
	r.POST("/tenants/:realm/users/:userId/impersonate", h.ImpersonateUser)

	r.POST("/tenants/:realm/idps", h.CreateIdP)
	r.GET("/tenants/:realm/idps", h.ListIdPs)
	r.DELETE("/tenants/:realm/idps/:alias", h.DeleteIdP)

	r.POST("/tenants/:realm/roles", h.CreateRole)
	r.GET("/tenants/:realm/roles", h.ListRoles)
}

// CreateTenant handles POST /v1/tenants — the signup flow.
func (h *Handler) CreateTenant(c *gin.Context) {
	var req struct {
		Realm       string `json:"realm" binding:"required"`
		DisplayName string `json:"display_name" binding:"required"`
		Email       string `json:"email" binding:"required"`
		Tier        string `json:"tier"`
		CouponCode  string `json:"coupon_code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "realm, display_name and email required"})
		return
	}

	req.Realm = strings.ToLower(strings.TrimSpace(req.Realm))
	if !validation.IsValidRealmSlug(req.Realm) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_realm",
			"message": "realm must be 3-64 lowercase alphanumeric/hyphens, start/end with alphanumeric",
		})
		return
	}
	if !validation.IsValidEmail(req.Email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email", "message": "malformed email address"})
		return
	}
	if req.Tier == "" {
		req.Tier = string(plan.TierFree)
	}
	if !plan.Valid(plan.Tier(req.Tier)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan", "message": "unknown tier"})
		return
	}

	t, err := h.orch.Create(c.Request.Context(), CreateRequest{
		Realm:       req.Realm,
		DisplayName: validation.SanitizeString(req.DisplayName, 200),
		Email:       req.Email,
		Tier:        plan.Tier(req.Tier),
		CouponCode:  req.CouponCode,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// ListTenants handles GET /v1/tenants. ?state= filters by lifecycle
// state, which operators use to find orphaned or deletion_failed rows.
func (h *Handler) ListTenants(c *gin.Context) {
	var (
		tenants []*Tenant
		err     error
	)
	if state := c.Query("state"); state != "" {
		tenants, err = h.store.ListByState(c.Request.Context(), State(state))
	} else {
		tenants, err = h.store.List(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list tenants"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenants": tenants, "count": len(tenants)})
}

// GetTenant handles GET /v1/tenants/:realm.
func (h *Handler) GetTenant(c *gin.Context) {
	t, err := h.store.Get(c.Request.Context(), c.Param("realm"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// UpdateTenant handles PATCH /v1/tenants/:realm — display name, auth
// settings, and branding. Settings gated by plan features are refused
// rather than silently ignored.
func (h *Handler) UpdateTenant(c *gin.Context) {
	t, err := h.store.Get(c.Request.Context(), c.Param("realm"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	var req struct {
		DisplayName  *string       `json:"display_name"`
		AuthSettings *AuthSettings `json:"auth_settings"`
		Branding     *Branding     `json:"branding"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed body"})
		return
	}

	if req.AuthSettings != nil {
		p, err := plan.Resolve(t.Tier)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "unresolvable tier"})
			return
		}
		if gate := gatedSetting(*req.AuthSettings, p); gate != "" {
			c.JSON(http.StatusForbidden, gin.H{"error": "plan_gate", "message": gate + " is not included in the " + string(t.Tier) + " plan"})
			return
		}
		if req.AuthSettings.PasswordMinLength < 8 || req.AuthSettings.PasswordMinLength > 128 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "password_min_length must be 8-128"})
			return
		}
		t.AuthSettings = *req.AuthSettings
	}
	if req.DisplayName != nil {
		t.DisplayName = validation.SanitizeString(*req.DisplayName, 200)
	}
	if req.Branding != nil {
		t.Branding = *req.Branding
	}

	t.UpdatedAt = time.Now().UTC()
	if err := h.store.Update(c.Request.Context(), t); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// gatedSetting returns the name of the first enabled setting the plan
// does not include, or "" when all are allowed.
func gatedSetting(s AuthSettings, p plan.Plan) string {
	checks := []struct {
		on      bool
		feature plan.Feature
	}{
		{s.MagicLinks, plan.FeatureMagicLinks},
		{s.DisposableEmailBlocking, plan.FeatureDisposableEmailBlocking},
		{s.BotProtection, plan.FeatureBotProtection},
		{s.PasswordBreachDetection, plan.FeaturePasswordBreachDetection},
	}
	for _, ch := range checks {
		if ch.on && !p.Allows(ch.feature) {
			return string(ch.feature)
		}
	}
	return ""
}

// DeleteTenant handles DELETE /v1/tenants/:realm.
func (h *Handler) DeleteTenant(c *gin.Context) {
	if err := h.orch.Delete(c.Request.Context(), c.Param("realm")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ChangePlan handles POST /v1/tenants/:realm/plan.
func (h *Handler) ChangePlan(c *gin.Context) {
	var req struct {
		Tier string `json:"tier" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "tier required"})
		return
	}

	t, err := h.orch.ChangePlan(c.Request.Context(), c.Param("realm"), plan.Tier(req.Tier))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// GetUsage handles GET /v1/tenants/:realm/usage.
func (h *Handler) GetUsage(c *gin.Context) {
	t, err := h.store.Get(c.Request.Context(), c.Param("realm"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	usage, err := h.orch.CurrentUsage(c.Request.Context(), t.Realm)
	if err != nil {
		h.writeError(c, err)
		return
	}

	p, _ := plan.Resolve(t.Tier)
	c.JSON(http.StatusOK, gin.H{"realm": t.Realm, "tier": t.Tier, "usage": usage, "limits": p.Limits})
}

// loadActive loads the tenant and its plan, writing the error response
// itself. Passthrough operations require an active tenant.
func (h *Handler) loadActive(c *gin.Context) (*Tenant, plan.Plan, bool) {
	t, err := h.store.Get(c.Request.Context(), c.Param("realm"))
	if err != nil {
		h.writeError(c, err)
		return nil, plan.Plan{}, false
	}
	if t.State != StateActive {
		c.JSON(http.StatusConflict, gin.H{"error": "tenant_not_active", "message": "tenant is " + string(t.State)})
		return nil, plan.Plan{}, false
	}
	p, err := plan.Resolve(t.Tier)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "unresolvable tier"})
		return nil, plan.Plan{}, false
	}
	return t, p, true
}

// CreateUser handles POST /v1/tenants/:realm/users, gated by the plan's
// user ceiling.
func (h *Handler) CreateUser(c *gin.Context) {
	t, p, ok := h.loadActive(c)
	if !ok {
		return
	}

	var req struct {
		Username string `json:"username" binding:"required"`
		Email    string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "username and email required"})
		return
	}
	if !validation.IsValidEmail(req.Email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email", "message": "malformed email address"})
		return
	}
	if t.AuthSettings.DisposableEmailBlocking && validation.IsDisposableEmail(req.Email) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "disposable_email",
			"message": "disposable email domains are blocked for this tenant",
		})
		return
	}

	count, err := h.iam.CountUsers(c.Request.Context(), t.Realm)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := plan.CheckLimit(p.Limits.MaxUsers, count); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "limit_exceeded", "message": "user limit reached for plan"})
		return
	}

	id, err := h.iam.CreateUser(c.Request.Context(), t.Realm, iam.User{
		Username: req.Username, Email: req.Email, Enabled: true,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.orch.emitter.EmitUserCreated(t.Realm, id, req.Username)
	c.JSON(http.StatusCreated, gin.H{"id": id, "username": req.Username, "email": req.Email})
}

// ListUsers handles GET /v1/tenants/:realm/users.
func (h *Handler) ListUsers(c *gin.Context) {
	t, _, ok := h.loadActive(c)
	if !ok {
		return
	}
	users, err := h.iam.ListUsers(c.Request.Context(), t.Realm, 100)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

// DeleteUser handles DELETE /v1/tenants/:realm/users/:userId.
func (h *Handler) DeleteUser(c *gin.Context) {
	t, _, ok := h.loadActive(c)
	if !ok {
		return
	}
	userID := c.Param("userId")
	if err := h.iam.DeleteUser(c.Request.Context(), t.Realm, userID); err != nil {
		h.writeError(c, err)
		return
	}
	h.orch.emitter.EmitUserDeleted(t.Realm, userID)
	c.Status(http.StatusNoContent)
}

// ListSessions handles GET /v1/tenants/:realm/users/:userId/sessions.
func (h *Handler) ListSessions(c *gin.Context) {
	t, _, ok := h.loadActive(c)
	if !ok {
		return
	}
	sessions, err := h.iam.ListUserSessions(c.Request.Context(), t.Realm, c.Param("userId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

// LogoutUser handles POST /v1/tenants/:realm/users/:userId/logout.
func (h *Handler) LogoutUser(c *gin.Context) {
	t, _, ok := h.loadActive(c)
	if !ok {
		return
	}
	if err := h.iam.LogoutUser(c.Request.Context(), t.Realm, c.Param("userId")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RevokeSession handles DELETE /v1/tenants/:realm/sessions/:sessionId,
// killing one session while the user's others stay live.
func (h *Handler) RevokeSession(c *gin.Context) {
	t, _, ok := h.loadActive(c)
	if !ok {
		return
	}
	if err := h.iam.RevokeSession(c.Request.Context(), t.Realm, c.Param("sessionId")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ImpersonateUser handles POST /v1/tenants/:realm/users/:userId/impersonate,
// gated to plans with the user_impersonation feature.
func (h *Handler) ImpersonateUser(c *gin.Context) {
	t, p, ok := h.loadActive(c)
	if !ok {
		return
	}
	if err := p.RequireFeature(plan.FeatureUserImpersonation); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "plan_gate", "message": "user impersonation is not included in the " + string(t.Tier) + " plan"})
		return
	}

	redirect, err := h.iam.ImpersonateUser(c.Request.Context(), t.Realm, c.Param("userId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"redirect": redirect})
}

// CreateIdP handles POST /v1/tenants/:realm/idps. SAML connections are
// limited by plan; other provider types only need an active tenant.
func (h *Handler) CreateIdP(c *gin.Context) {
	t, p, ok := h.loadActive(c)
	if !ok {
		return
	}

	var req struct {
		Alias       string `json:"alias" binding:"required"`
		DisplayName string `json:"display_name"`
		ProviderID  string `json:"provider_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "alias and provider_id required"})
		return
	}

	if req.ProviderID == "saml" {
		existing, err := h.iam.ListIdentityProviders(c.Request.Context(), t.Realm)
		if err != nil {
			h.writeError(c, err)
			return
		}
		samlCount := 0
		for _, idp := range existing {
			if idp.ProviderID == "saml" {
				samlCount++
			}
		}
		if err := plan.CheckLimit(p.Limits.MaxSAMLConnections, samlCount); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "limit_exceeded", "message": "SAML connection limit reached for plan"})
			return
		}
	}

	idp := iam.IdentityProvider{
		Alias:       req.Alias,
		DisplayName: validation.SanitizeString(req.DisplayName, 200),
		ProviderID:  req.ProviderID,
		Enabled:     true,
	}
	if err := h.iam.CreateIdentityProvider(c.Request.Context(), t.Realm, idp); err != nil {
		h.writeError(c, err)
		return
	}

	h.orch.emitter.EmitIdPCreated(t.Realm, idp.Alias, idp.ProviderID)
	c.JSON(http.StatusCreated, idp)
}

// ListIdPs handles GET /v1/tenants/:realm/idps.
func (h *Handler) ListIdPs(c *gin.Context) {
	t, _, ok := h.loadActive(c)
	if !ok {
		return
	}
	idps, err := h.iam.ListIdentityProviders(c.Request.Context(), t.Realm)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity_providers": idps, "count": len(idps)})
}

// DeleteIdP handles DELETE /v1/tenants/:realm/idps/:alias.
func (h *Handler) DeleteIdP(c *gin.Context) {
	t, _, ok := h.loadActive(c)
	if !ok {
		return
	}
	alias := c.Param("alias")
	if err := h.iam.DeleteIdentityProvider(c.Request.Context(), t.Realm, alias); err != nil {
		h.writeError(c, err)
		return
	}
	h.orch.emitter.EmitIdPDeleted(t.Realm, alias)
	c.Status(http.StatusNoContent)
}

// CreateRole handles POST /v1/tenants/:realm/roles, gated to plans with
// custom roles.
func (h *Handler) CreateRole(c *gin.Context) {
	t, p, ok := h.loadActive(c)
	if !ok {
		return
	}
	if err := p.RequireFeature(plan.FeatureCustomRoles); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "plan_gate", "message": "custom roles are not included in the " + string(t.Tier) + " plan"})
		return
	}

	var req struct {
		Name        string `json:"name" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "name required"})
		return
	}

	role := iam.Role{Name: req.Name, Description: validation.SanitizeString(req.Description, 500)}
	if err := h.iam.CreateRole(c.Request.Context(), t.Realm, role); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, role)
}

// ListRoles handles GET /v1/tenants/:realm/roles.
func (h *Handler) ListRoles(c *gin.Context) {
	t, _, ok := h.loadActive(c)
	if !ok {
		return
	}
	roles, err := h.iam.ListRoles(c.Request.Context(), t.Realm)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roles": roles, "count": len(roles)})
}

// writeError maps domain errors to HTTP responses: validation 400,
// missing 404, conflicts 409, plan gates 403, upstream IAM failures 502.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "tenant not found"})
	case errors.Is(err, ErrRealmTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "realm_taken", "message": "realm already in use"})
	case errors.Is(err, ErrNotActive):
		c.JSON(http.StatusConflict, gin.H{"error": "tenant_not_active", "message": err.Error()})
	case errors.Is(err, ErrDowngradeBlocked):
		c.JSON(http.StatusConflict, gin.H{"error": "downgrade_blocked", "message": "current usage exceeds target plan limits"})
	case errors.Is(err, plan.ErrUnknownTier):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan", "message": "unknown tier"})
	case errors.Is(err, plan.ErrFeatureNotIncluded):
		c.JSON(http.StatusForbidden, gin.H{"error": "plan_gate", "message": "feature not included in plan"})
	case errors.Is(err, plan.ErrLimitExceeded):
		c.JSON(http.StatusForbidden, gin.H{"error": "limit_exceeded", "message": "resource limit reached for plan"})
	case errors.Is(err, coupon.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "coupon_not_found", "message": "coupon not found"})
	case errors.Is(err, coupon.ErrDisabled), errors.Is(err, coupon.ErrExpired),
		errors.Is(err, coupon.ErrPlanNotEligible), errors.Is(err, coupon.ErrExhausted):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "coupon_rejected", "message": err.Error()})
	case errors.Is(err, coupon.ErrAlreadyRedeemed):
		c.JSON(http.StatusConflict, gin.H{"error": "already_redeemed", "message": err.Error()})
	case errors.Is(err, iam.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": "resource already exists upstream"})
	case errors.Is(err, iam.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "resource not found upstream"})
	case errors.Is(err, iam.ErrUnreachable), errors.Is(err, iam.ErrUnauthorized):
		c.JSON(http.StatusBadGateway, gin.H{"error": "iam_unavailable", "message": "identity server unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "unexpected error"})
	}
}

package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/authplane/authplane/internal/validation"
)

// Handler provides authentication endpoints.
type Handler struct {
	mgr *Manager
}

// NewHandler creates a new auth handler.
func NewHandler(mgr *Manager) *Handler {
	return &Handler{mgr: mgr}
}

// RegisterPublicRoutes sets up login and signup routes.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
}

// RegisterProtectedRoutes sets up routes behind the auth middleware.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/auth/me", h.Me)
}

// Register handles POST /v1/auth/register. New accounts are plain
// operators; admin accounts are seeded out of band.
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
		Realm    string `json:"realm"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "email and password required"})
		return
	}
	if !validation.IsValidEmail(req.Email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email", "message": "malformed email address"})
		return
	}

	op, err := h.mgr.Register(c.Request.Context(), req.Email, req.Password, req.Realm, false)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "email_taken", "message": "email already registered"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, op)
}

// Login handles POST /v1/auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "email and password required"})
		return
	}

	token, op, err := h.mgr.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials", "message": "invalid email or password"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "operator": op})
}

// Me handles GET /v1/auth/me.
func (h *Handler) Me(c *gin.Context) {
	op, ok := OperatorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "bearer token required"})
		return
	}
	c.JSON(http.StatusOK, op)
}

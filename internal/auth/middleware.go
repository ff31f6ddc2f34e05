package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Context keys set by the middleware.
const (
	ContextKeyOperator = "auth.operator"
)

// OperatorFrom returns the authenticated operator, if any.
func OperatorFrom(c *gin.Context) (*Operator, bool) {
	v, ok := c.Get(ContextKeyOperator)
	if !ok {
		return nil, false
	}
	op, ok := v.(*Operator)
	return op, ok
}

// Middleware requires a valid bearer token and stores the operator on
// the request context.
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized", "message": "bearer token required",
			})
			return
		}

		op, err := m.Verify(c.Request.Context(), strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized", "message": "invalid or expired token",
			})
			return
		}

		c.Set(ContextKeyOperator, op)
		c.Next()
	}
}

// RequireAdmin aborts unless the authenticated operator is a platform
// admin. Must run after Middleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		op, ok := OperatorFrom(c)
		if !ok || !op.Admin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "forbidden", "message": "admin access required",
			})
			return
		}
		c.Next()
	}
}

// RequireRealm aborts unless the operator is an admin or owns the realm
// in the :realm path parameter. Must run after Middleware.
func RequireRealm() gin.HandlerFunc {
	return func(c *gin.Context) {
		op, ok := OperatorFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized", "message": "bearer token required",
			})
			return
		}
		if !op.Admin && op.Realm != c.Param("realm") {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "forbidden", "message": "not authorized for this tenant",
			})
			return
		}
		c.Next()
	}
}

package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newManager() *Manager {
	return NewManager(NewMemoryStore(), "test-secret")
}

func TestRegisterLoginRoundTrip(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	op, err := m.Register(ctx, "Owner@Acme.COM", "hunter2secret", "acme", false)
	require.NoError(t, err)
	assert.Equal(t, "owner@acme.com", op.Email)
	assert.True(t, strings.HasPrefix(op.ID, "op_"))
	assert.False(t, op.Admin)

	token, loggedIn, err := m.Login(ctx, "owner@acme.com", "hunter2secret")
	require.NoError(t, err)
	assert.Equal(t, op.ID, loggedIn.ID)

	verified, err := m.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, op.ID, verified.ID)
	assert.Equal(t, "acme", verified.Realm)
}

func TestLoginWrongPassword(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	_, err := m.Register(ctx, "owner@acme.com", "hunter2secret", "acme", false)
	require.NoError(t, err)

	_, _, err = m.Login(ctx, "owner@acme.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = m.Login(ctx, "nobody@acme.com", "hunter2secret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	_, err := m.Register(ctx, "owner@acme.com", "hunter2secret", "acme", false)
	require.NoError(t, err)

	_, err = m.Register(ctx, "OWNER@acme.com", "otherpassword", "globex", false)
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegisterShortPassword(t *testing.T) {
	m := newManager()

	_, err := m.Register(context.Background(), "owner@acme.com", "short", "acme", false)
	assert.Error(t, err)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	m := newManager()

	_, err := m.Verify(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, "secret-a")
	other := NewManager(store, "secret-b")
	ctx := context.Background()

	op, err := m.Register(ctx, "owner@acme.com", "hunter2secret", "acme", false)
	require.NoError(t, err)
	token, _, err := m.Login(ctx, op.Email, "hunter2secret")
	require.NoError(t, err)

	_, err = other.Verify(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpired(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	op, err := m.Register(ctx, "owner@acme.com", "hunter2secret", "acme", false)
	require.NoError(t, err)

	past := time.Now().Add(-2 * TokenTTL)
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Realm: op.Realm,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   op.ID,
			IssuedAt:  jwt.NewNumericDate(past),
			ExpiresAt: jwt.NewNumericDate(past.Add(TokenTTL)),
			Issuer:    "authplane",
		},
	})
	token, err := expired.SignedString(m.secret)
	require.NoError(t, err)

	_, err = m.Verify(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func setupRouter(t *testing.T) (*gin.Engine, *Manager) {
	t.Helper()
	m := newManager()
	h := NewHandler(m)

	r := gin.New()
	public := r.Group("/v1")
	h.RegisterPublicRoutes(public)
	protected := r.Group("/v1")
	protected.Use(m.Middleware())
	h.RegisterProtectedRoutes(protected)

	realm := r.Group("/v1/tenants/:realm")
	realm.Use(m.Middleware(), RequireRealm())
	realm.GET("", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	admin := r.Group("/v1/admin")
	admin.Use(m.Middleware(), RequireAdmin())
	admin.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	return r, m
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandlerRegisterAndLogin(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/auth/register", "", gin.H{
		"email": "owner@acme.com", "password": "hunter2secret", "realm": "acme",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created Operator
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Empty(t, created.PasswordHash)

	w = doJSON(t, r, http.MethodPost, "/v1/auth/login", "", gin.H{
		"email": "owner@acme.com", "password": "hunter2secret",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)

	w = doJSON(t, r, http.MethodGet, "/v1/auth/me", resp.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/auth/me", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlerRegisterValidation(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/auth/register", "", gin.H{
		"email": "not-an-email", "password": "hunter2secret",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/v1/auth/register", "", gin.H{
		"email": "owner@acme.com", "password": "hunter2secret",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodPost, "/v1/auth/register", "", gin.H{
		"email": "owner@acme.com", "password": "hunter2secret",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRealmScoping(t *testing.T) {
	r, m := setupRouter(t)
	ctx := context.Background()

	_, err := m.Register(ctx, "owner@acme.com", "hunter2secret", "acme", false)
	require.NoError(t, err)
	ownerToken, _, err := m.Login(ctx, "owner@acme.com", "hunter2secret")
	require.NoError(t, err)

	_, err = m.Register(ctx, "admin@authplane.dev", "adminsecret1", "", true)
	require.NoError(t, err)
	adminToken, _, err := m.Login(ctx, "admin@authplane.dev", "adminsecret1")
	require.NoError(t, err)

	w := doJSON(t, r, http.MethodGet, "/v1/tenants/acme", ownerToken, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/tenants/globex", ownerToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/tenants/globex", adminToken, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/admin/ping", ownerToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/admin/ping", adminToken, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

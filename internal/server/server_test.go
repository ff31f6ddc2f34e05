package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authplane/authplane/internal/config"
	"github.com/authplane/authplane/internal/iam"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:               "0",
		Env:                "development",
		LogLevel:           "error",
		JWTSecret:          "test-secret",
		CORSOrigins:        []string{"*"},
		RateLimitRPM:       10000,
		WebhookWorkers:     2,
		WebhookMaxAttempts: 2,
	}
}

// newTestServer creates a server backed by in-memory stores and the IAM fake
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig(), WithIAM(iam.NewFake()))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func do(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
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
	s.Router().ServeHTTP(w, req)
	return w
}

// loginAs registers an operator and returns their token
func loginAs(t *testing.T, s *Server, email, realm string, admin bool) string {
	t.Helper()
	ctx := context.Background()
	_, err := s.authMgr.Register(ctx, email, "hunter2secret", realm, admin)
	require.NoError(t, err)
	token, _, err := s.authMgr.Login(ctx, email, "hunter2secret")
	require.NoError(t, err)
	return token
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Not ready until Run() marks it so
	w = do(t, s, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(t, s, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSignupProvisionsRealm(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodPost, "/v1/tenants", "", gin.H{
		"realm":        "acme",
		"display_name": "Acme Corp",
		"email":        "owner@acme.com",
		"tier":         "pro",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		Realm string `json:"realm"`
		Tier  string `json:"tier"`
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "acme", created.Realm)
	assert.Equal(t, "pro", created.Tier)
	assert.Equal(t, "active", created.State)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodGet, "/v1/tenants/acme", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, s, http.MethodGet, "/v1/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRealmIsolationAcrossTenants(t *testing.T) {
	s := newTestServer(t)

	for _, realm := range []string{"acme", "globex"} {
		w := do(t, s, http.MethodPost, "/v1/tenants", "", gin.H{
			"realm":        realm,
			"display_name": realm,
			"email":        "owner@" + realm + ".com",
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	acmeToken := loginAs(t, s, "owner@acme.com", "acme", false)
	adminToken := loginAs(t, s, "root@authplane.dev", "", true)

	w := do(t, s, http.MethodGet, "/v1/tenants/acme", acmeToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/v1/tenants/globex", acmeToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, s, http.MethodGet, "/v1/tenants/globex", adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Listing all tenants is admin-only
	w = do(t, s, http.MethodGet, "/v1/tenants", acmeToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, s, http.MethodGet, "/v1/tenants", adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminCouponRoutes(t *testing.T) {
	s := newTestServer(t)

	operatorToken := loginAs(t, s, "owner@acme.com", "acme", false)
	adminToken := loginAs(t, s, "root@authplane.dev", "", true)

	body := gin.H{"code": "WELCOME50", "discount_pct": 50, "max_redemptions": 10}

	w := do(t, s, http.MethodPost, "/v1/admin/coupons", operatorToken, body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, s, http.MethodPost, "/v1/admin/coupons", adminToken, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Public validation endpoint needs no token
	w = do(t, s, http.MethodPost, "/v1/coupons/validate", "", gin.H{
		"code": "welcome50", "tier": "pro",
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMutationsLandInActivityLog(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodPost, "/v1/tenants", "", gin.H{
		"realm":        "acme",
		"display_name": "Acme Corp",
		"email":        "owner@acme.com",
		"tier":         "business",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	token := loginAs(t, s, "owner@acme.com", "acme", false)

	w = do(t, s, http.MethodPost, "/v1/tenants/acme/plan", token, gin.H{"tier": "pro"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, s, http.MethodGet, "/v1/tenants/acme/activity", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestAdminDashboard(t *testing.T) {
	s := newTestServer(t)

	for realm, tier := range map[string]string{"acme": "pro", "globex": "free", "initech": "pro"} {
		w := do(t, s, http.MethodPost, "/v1/tenants", "", gin.H{
			"realm":        realm,
			"display_name": realm,
			"email":        "owner@" + realm + ".com",
			"tier":         tier,
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	operatorToken := loginAs(t, s, "owner@acme.com", "acme", false)
	adminToken := loginAs(t, s, "root@authplane.dev", "", true)

	w := do(t, s, http.MethodGet, "/v1/admin/dashboard", operatorToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, s, http.MethodGet, "/v1/admin/dashboard", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		TotalTenants int            `json:"total_tenants"`
		ByTier       map[string]int `json:"by_tier"`
		ByState      map[string]int `json:"by_state"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.TotalTenants)
	assert.Equal(t, 2, resp.ByTier["pro"])
	assert.Equal(t, 1, resp.ByTier["free"])
	assert.Equal(t, 3, resp.ByState["active"])
}

func TestInfoEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Authplane")
}

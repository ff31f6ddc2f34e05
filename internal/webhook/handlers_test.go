package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authplane/authplane/internal/plan"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// tierTable maps realms to tiers for handler tests.
func tierTable(realms map[string]plan.Tier) TierLookup {
	return func(_ context.Context, realm string) (plan.Plan, error) {
		tier, ok := realms[realm]
		if !ok {
			return plan.Plan{}, ErrNotFound
		}
		return plan.Resolve(tier)
	}
}

func setupHandlerRouter(t *testing.T, realms map[string]plan.Tier) (*gin.Engine, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	h := NewHandler(store, tierTable(realms))
	r := gin.New()
	h.RegisterRoutes(r.Group("/v1"))
	return r, store
}

func request(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateWebhookPlanGate(t *testing.T) {
	r, _ := setupHandlerRouter(t, map[string]plan.Tier{
		"freeco": plan.TierFree,
		"proco":  plan.TierPro,
	})

	body := gin.H{"url": "https://hooks.example.com/x", "events": []string{"project.created"}}

	// Free tier has no webhook feature.
	w := request(t, r, http.MethodPost, "/v1/tenants/freeco/webhooks", body)
	assert.Equal(t, http.StatusForbidden, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "plan_gate", resp["error"])

	// Unknown realm.
	w = request(t, r, http.MethodPost, "/v1/tenants/nobody/webhooks", body)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Pro tier allows up to 3.
	for i := 0; i < 3; i++ {
		w = request(t, r, http.MethodPost, "/v1/tenants/proco/webhooks", body)
		require.Equal(t, http.StatusCreated, w.Code)
	}
	w = request(t, r, http.MethodPost, "/v1/tenants/proco/webhooks", body)
	assert.Equal(t, http.StatusForbidden, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "limit_exceeded", resp["error"])
}

func TestCreateWebhookValidation(t *testing.T) {
	r, _ := setupHandlerRouter(t, map[string]plan.Tier{"proco": plan.TierPro})

	w := request(t, r, http.MethodPost, "/v1/tenants/proco/webhooks",
		gin.H{"url": "ftp://bad", "events": []string{"project.created"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = request(t, r, http.MethodPost, "/v1/tenants/proco/webhooks",
		gin.H{"url": "https://hooks.example.com/x", "events": []string{"tenant.exploded"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookSecretShownOnce(t *testing.T) {
	r, _ := setupHandlerRouter(t, map[string]plan.Tier{"proco": plan.TierPro})

	w := request(t, r, http.MethodPost, "/v1/tenants/proco/webhooks",
		gin.H{"url": "https://hooks.example.com/x", "events": []string{"project.created"}})
	require.Equal(t, http.StatusCreated, w.Code)

	var created map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	secret, _ := created["secret"].(string)
	assert.Len(t, secret, 64) // 32 random bytes, hex encoded
	id := created["id"].(string)

	// The secret never appears in reads.
	w = request(t, r, http.MethodGet, "/v1/tenants/proco/webhooks/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), secret)
}

func TestWebhookRealmIsolation(t *testing.T) {
	r, store := setupHandlerRouter(t, map[string]plan.Tier{
		"proco": plan.TierPro, "other": plan.TierPro,
	})

	require.NoError(t, store.Create(context.Background(), &Webhook{
		ID: "wh_iso", Realm: "proco", URL: "https://hooks.example.com/x",
		Secret: "s", Events: []EventType{EventProjectCreated}, Active: true,
		CreatedAt: time.Now(),
	}))

	// Another realm cannot see or delete it.
	w := request(t, r, http.MethodGet, "/v1/tenants/other/webhooks/wh_iso", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = request(t, r, http.MethodDelete, "/v1/tenants/other/webhooks/wh_iso", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = request(t, r, http.MethodDelete, "/v1/tenants/proco/webhooks/wh_iso", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestUpdateWebhook(t *testing.T) {
	r, store := setupHandlerRouter(t, map[string]plan.Tier{"proco": plan.TierPro})

	require.NoError(t, store.Create(context.Background(), &Webhook{
		ID: "wh_upd", Realm: "proco", URL: "https://hooks.example.com/x",
		Secret: "s", Events: []EventType{EventProjectCreated}, Active: true,
		CreatedAt: time.Now(),
	}))

	w := request(t, r, http.MethodPatch, "/v1/tenants/proco/webhooks/wh_upd",
		gin.H{"active": false, "events": []string{"user.created", "user.deleted"}})
	require.Equal(t, http.StatusOK, w.Code)

	got, err := store.Get(context.Background(), "wh_upd")
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, []EventType{EventUserCreated, EventUserDeleted}, got.Events)
}

package iam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/authplane/authplane/internal/metrics"
)

// Keycloak is the production Client backed by a Keycloak server's admin
// REST API. Admin tokens are obtained via the password grant against the
// master realm and cached until shortly before expiry.
type Keycloak struct {
	baseURL  string
	username string
	password string
	http     *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewKeycloak creates a Keycloak admin client.
func NewKeycloak(baseURL, username, password string, timeout time.Duration) *Keycloak {
	return &Keycloak{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		http:     &http.Client{Timeout: timeout},
	}
}

// adminToken returns a cached admin access token, refreshing it when it
// is within 10 seconds of expiry.
func (k *Keycloak) adminToken(ctx context.Context) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.token != "" && time.Now().Before(k.tokenExpiry.Add(-10*time.Second)) {
		return k.token, nil
	}

	form := url.Values{
		"grant_type": {"password"},
		"client_id":  {"admin-cli"},
		"username":   {k.username},
		"password":   {k.password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		k.baseURL+"/realms/master/protocol/openid-connect/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := k.http.Do(req)
	if err != nil {
		metrics.IAMRequestsTotal.WithLabelValues("token", "unreachable").Inc()
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		metrics.IAMRequestsTotal.WithLabelValues("token", "unauthorized").Inc()
		return "", ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		metrics.IAMRequestsTotal.WithLabelValues("token", "error").Inc()
		return "", fmt.Errorf("%w: token endpoint returned %d", ErrUnreachable, resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decode token response: %v", ErrUnreachable, err)
	}

	k.token = body.AccessToken
	k.tokenExpiry = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	metrics.IAMRequestsTotal.WithLabelValues("token", "ok").Inc()
	return k.token, nil
}

// do performs an authenticated admin API request and maps common status
// codes to package sentinels. The response body is returned for 2xx.
func (k *Keycloak) do(ctx context.Context, op, method, path string, payload any) ([]byte, error) {
	token, err := k.adminToken(ctx)
	if err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, k.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := k.http.Do(req)
	if err != nil {
		metrics.IAMRequestsTotal.WithLabelValues(op, "unreachable").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		metrics.IAMRequestsTotal.WithLabelValues(op, "ok").Inc()
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		metrics.IAMRequestsTotal.WithLabelValues(op, "unauthorized").Inc()
		// Token may have been revoked upstream; drop the cache.
		k.mu.Lock()
		k.token = ""
		k.mu.Unlock()
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusConflict:
		metrics.IAMRequestsTotal.WithLabelValues(op, "conflict").Inc()
		return nil, ErrConflict
	case resp.StatusCode == http.StatusNotFound:
		metrics.IAMRequestsTotal.WithLabelValues(op, "not_found").Inc()
		return nil, ErrNotFound
	default:
		metrics.IAMRequestsTotal.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("%w: %s %s returned %d", ErrUnreachable, method, path, resp.StatusCode)
	}
}

func (k *Keycloak) Ping(ctx context.Context) error {
	_, err := k.adminToken(ctx)
	return err
}

func (k *Keycloak) CreateRealm(ctx context.Context, cfg RealmConfig) error {
	payload := map[string]any{
		"realm":                 cfg.Name,
		"displayName":           cfg.DisplayName,
		"enabled":               true,
		"registrationAllowed":   cfg.RegistrationAllowed,
		"loginWithEmailAllowed": true,
		"resetPasswordAllowed":  true,
		"bruteForceProtected":   cfg.BruteForceProtected,
		"eventsEnabled":         cfg.EventsEnabled,
		"attributes": map[string]string{
			"plan": cfg.Tier,
		},
		// Default application client, provisioned with the realm so a
		// fresh tenant can authenticate without further setup.
		"clients": []map[string]any{{
			"clientId":                  cfg.Name + "-app",
			"publicClient":              true,
			"standardFlowEnabled":       true,
			"directAccessGrantsEnabled": true,
			"redirectUris":              []string{"*"},
			"webOrigins":                []string{"*"},
		}},
	}
	_, err := k.do(ctx, "create_realm", http.MethodPost, "/admin/realms", payload)
	return err
}

func (k *Keycloak) DeleteRealm(ctx context.Context, realm string) error {
	_, err := k.do(ctx, "delete_realm", http.MethodDelete, "/admin/realms/"+url.PathEscape(realm), nil)
	return err
}

func (k *Keycloak) UpdateRealmTier(ctx context.Context, realm, tier string) error {
	payload := map[string]any{
		"attributes": map[string]string{"plan": tier},
	}
	_, err := k.do(ctx, "update_realm", http.MethodPut, "/admin/realms/"+url.PathEscape(realm), payload)
	return err
}

func (k *Keycloak) CreateUser(ctx context.Context, realm string, u User) (string, error) {
	payload := map[string]any{
		"username": u.Username,
		"email":    u.Email,
		"enabled":  u.Enabled,
	}
	_, err := k.do(ctx, "create_user", http.MethodPost,
		"/admin/realms/"+url.PathEscape(realm)+"/users", payload)
	if err != nil {
		return "", err
	}

	// Keycloak returns 201 with a Location header and no body; look the
	// user up by exact username to recover the generated ID.
	body, err := k.do(ctx, "get_user", http.MethodGet,
		"/admin/realms/"+url.PathEscape(realm)+"/users?exact=true&username="+url.QueryEscape(u.Username), nil)
	if err != nil {
		return "", err
	}
	var users []kcUser
	if err := json.Unmarshal(body, &users); err != nil || len(users) == 0 {
		return "", fmt.Errorf("%w: created user not found", ErrNotFound)
	}
	return users[0].ID, nil
}

func (k *Keycloak) ListUsers(ctx context.Context, realm string, max int) ([]User, error) {
	if max <= 0 {
		max = 100
	}
	body, err := k.do(ctx, "list_users", http.MethodGet,
		fmt.Sprintf("/admin/realms/%s/users?max=%d", url.PathEscape(realm), max), nil)
	if err != nil {
		return nil, err
	}
	var raw []kcUser
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	users := make([]User, 0, len(raw))
	for _, u := range raw {
		users = append(users, u.toUser())
	}
	return users, nil
}

func (k *Keycloak) CountUsers(ctx context.Context, realm string) (int, error) {
	body, err := k.do(ctx, "count_users", http.MethodGet,
		"/admin/realms/"+url.PathEscape(realm)+"/users/count", nil)
	if err != nil {
		return 0, err
	}
	var count int
	if err := json.Unmarshal(body, &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (k *Keycloak) DeleteUser(ctx context.Context, realm, userID string) error {
	_, err := k.do(ctx, "delete_user", http.MethodDelete,
		"/admin/realms/"+url.PathEscape(realm)+"/users/"+url.PathEscape(userID), nil)
	return err
}

func (k *Keycloak) CreateIdentityProvider(ctx context.Context, realm string, idp IdentityProvider) error {
	payload := map[string]any{
		"alias":       idp.Alias,
		"displayName": idp.DisplayName,
		"providerId":  idp.ProviderID,
		"enabled":     idp.Enabled,
	}
	_, err := k.do(ctx, "create_idp", http.MethodPost,
		"/admin/realms/"+url.PathEscape(realm)+"/identity-provider/instances", payload)
	return err
}

func (k *Keycloak) ListIdentityProviders(ctx context.Context, realm string) ([]IdentityProvider, error) {
	body, err := k.do(ctx, "list_idps", http.MethodGet,
		"/admin/realms/"+url.PathEscape(realm)+"/identity-provider/instances", nil)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Alias       string `json:"alias"`
		DisplayName string `json:"displayName"`
		ProviderID  string `json:"providerId"`
		Enabled     bool   `json:"enabled"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	idps := make([]IdentityProvider, 0, len(raw))
	for _, r := range raw {
		idps = append(idps, IdentityProvider{
			Alias: r.Alias, DisplayName: r.DisplayName, ProviderID: r.ProviderID, Enabled: r.Enabled,
		})
	}
	return idps, nil
}

func (k *Keycloak) DeleteIdentityProvider(ctx context.Context, realm, alias string) error {
	_, err := k.do(ctx, "delete_idp", http.MethodDelete,
		"/admin/realms/"+url.PathEscape(realm)+"/identity-provider/instances/"+url.PathEscape(alias), nil)
	return err
}

func (k *Keycloak) ListUserSessions(ctx context.Context, realm, userID string) ([]Session, error) {
	body, err := k.do(ctx, "list_sessions", http.MethodGet,
		"/admin/realms/"+url.PathEscape(realm)+"/users/"+url.PathEscape(userID)+"/sessions", nil)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		ID       string `json:"id"`
		UserID   string `json:"userId"`
		Username string `json:"username"`
		IP       string `json:"ipAddress"`
		Start    int64  `json:"start"` // unix millis
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	sessions := make([]Session, 0, len(raw))
	for _, r := range raw {
		sessions = append(sessions, Session{
			ID: r.ID, UserID: r.UserID, Username: r.Username, IP: r.IP,
			Started: time.UnixMilli(r.Start).UTC(),
		})
	}
	return sessions, nil
}

func (k *Keycloak) LogoutUser(ctx context.Context, realm, userID string) error {
	_, err := k.do(ctx, "logout_user", http.MethodPost,
		"/admin/realms/"+url.PathEscape(realm)+"/users/"+url.PathEscape(userID)+"/logout", nil)
	return err
}

func (k *Keycloak) RevokeSession(ctx context.Context, realm, sessionID string) error {
	_, err := k.do(ctx, "revoke_session", http.MethodDelete,
		"/admin/realms/"+url.PathEscape(realm)+"/sessions/"+url.PathEscape(sessionID), nil)
	return err
}

func (k *Keycloak) ImpersonateUser(ctx context.Context, realm, userID string) (string, error) {
	body, err := k.do(ctx, "impersonate", http.MethodPost,
		"/admin/realms/"+url.PathEscape(realm)+"/users/"+url.PathEscape(userID)+"/impersonation", nil)
	if err != nil {
		return "", err
	}
	var resp struct {
		Redirect string `json:"redirect"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	return resp.Redirect, nil
}

func (k *Keycloak) CreateRole(ctx context.Context, realm string, r Role) error {
	payload := map[string]any{"name": r.Name, "description": r.Description}
	_, err := k.do(ctx, "create_role", http.MethodPost,
		"/admin/realms/"+url.PathEscape(realm)+"/roles", payload)
	return err
}

func (k *Keycloak) ListRoles(ctx context.Context, realm string) ([]Role, error) {
	body, err := k.do(ctx, "list_roles", http.MethodGet,
		"/admin/realms/"+url.PathEscape(realm)+"/roles", nil)
	if err != nil {
		return nil, err
	}
	var roles []Role
	if err := json.Unmarshal(body, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

type kcUser struct {
	ID               string `json:"id"`
	Username         string `json:"username"`
	Email            string `json:"email"`
	Enabled          bool   `json:"enabled"`
	CreatedTimestamp int64  `json:"createdTimestamp"`
}

func (u kcUser) toUser() User {
	return User{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Enabled:   u.Enabled,
		CreatedAt: time.UnixMilli(u.CreatedTimestamp).UTC(),
	}
}

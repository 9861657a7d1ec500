package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rocket-cms/internal/authz"
	"rocket-cms/internal/config"
	"rocket-cms/internal/content"
	"rocket-cms/internal/metadata"
	"rocket-cms/internal/store"
)

const testSecret = "test-secret"

var testTokens = NewTokens(testSecret, config.AuthConfig{})

func signed(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: claims}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return tok
}

func TestTokens_RoundTrip(t *testing.T) {
	tok, err := testTokens.Issue("user-1")
	require.NoError(t, err)

	claims, err := testTokens.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, Issuer, claims.Issuer)

	_, err = NewTokens("other-secret", config.AuthConfig{}).Parse(tok)
	assert.Error(t, err)
}

func TestTokens_RejectsBadClaims(t *testing.T) {
	exp := jwt.NewNumericDate(time.Now().Add(time.Minute))

	cases := map[string]jwt.RegisteredClaims{
		"expired":      {Issuer: Issuer, Subject: "u", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
		"no expiry":    {Issuer: Issuer, Subject: "u"},
		"wrong issuer": {Issuer: "someone-else", Subject: "u", ExpiresAt: exp},
		"no subject":   {Issuer: Issuer, ExpiresAt: exp},
	}
	for name, claims := range cases {
		_, err := testTokens.Parse(signed(t, claims))
		assert.Error(t, err, name)
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone,
		Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: Issuer, Subject: "u", ExpiresAt: exp}}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = testTokens.Parse(none)
	assert.Error(t, err, "alg none")
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.True(t, CheckPassword("s3cret", hash))
	assert.False(t, CheckPassword("wrong", hash))
}

func newTestApp(t *testing.T) (*fiber.App, *store.Store) {
	t.Helper()
	ctx := context.Background()
	s, err := store.New(ctx, config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "auth"})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Bootstrap(ctx, config.AdminConfig{Email: "admin@localhost", Password: "changeme"}))

	app := fiber.New(fiber.Config{ErrorHandler: content.ErrorHandler})
	RegisterAuthRoutes(app, NewAuthHandler(s, testTokens))
	app.Get("/me", AuthMiddleware(testTokens, s), func(c *fiber.Ctx) error {
		return c.JSON(GetUser(c))
	})
	app.Get("/admin-only", AuthMiddleware(testTokens, s), RequireAdmin(), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app, s
}

func postJSON(t *testing.T, app *fiber.App, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	out := map[string]any{}
	data, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(data, &out)
	return resp, out
}

func get(t *testing.T, app *fiber.App, path, token string) *http.Response {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func login(t *testing.T, app *fiber.App, email, password string) (string, string) {
	t.Helper()
	resp, body := postJSON(t, app, "/admin/login", map[string]string{"email": email, "password": password})
	require.Equal(t, 200, resp.StatusCode, "login: %v", body)
	data := body["data"].(map[string]any)
	return data["access_token"].(string), data["refresh_token"].(string)
}

func TestLoginRefreshLogout(t *testing.T) {
	app, _ := newTestApp(t)

	resp, _ := postJSON(t, app, "/admin/login", map[string]string{"email": "admin@localhost", "password": "nope"})
	assert.Equal(t, 401, resp.StatusCode)

	access, refresh := login(t, app, "admin@localhost", "changeme")
	assert.Equal(t, 200, get(t, app, "/admin-only", access).StatusCode)

	resp, body := postJSON(t, app, "/admin/token/refresh", map[string]string{"refresh_token": refresh})
	require.Equal(t, 200, resp.StatusCode)
	next := body["data"].(map[string]any)["refresh_token"].(string)
	assert.NotEqual(t, refresh, next)

	// refresh tokens are single use
	resp, _ = postJSON(t, app, "/admin/token/refresh", map[string]string{"refresh_token": refresh})
	assert.Equal(t, 401, resp.StatusCode)

	resp, _ = postJSON(t, app, "/admin/logout", map[string]string{"refresh_token": next})
	assert.Equal(t, 200, resp.StatusCode)
	resp, _ = postJSON(t, app, "/admin/token/refresh", map[string]string{"refresh_token": next})
	assert.Equal(t, 401, resp.StatusCode)
}

func TestAuthMiddleware_UsesCurrentRoles(t *testing.T) {
	app, s := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRole(ctx, &authz.Role{ID: "editor", Name: "Editor"}))
	hash, err := HashPassword("pw")
	require.NoError(t, err)
	u := &store.User{Email: "alice@example.com", PasswordHash: hash, Active: true, Roles: []string{"editor"}}
	require.NoError(t, s.CreateUser(ctx, u))

	access, _ := login(t, app, "alice@example.com", "pw")

	resp := get(t, app, "/me", access)
	require.Equal(t, 200, resp.StatusCode)
	var actor authz.Actor
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&actor))
	assert.Equal(t, u.ID, actor.ID)
	assert.Equal(t, []string{"editor"}, actor.Roles)

	assert.Equal(t, 403, get(t, app, "/admin-only", access).StatusCode)

	// the same token picks up the new role without logging in again
	require.NoError(t, s.SetUserRoles(ctx, u.ID, []string{"editor", metadata.SuperAdminRoleID}))
	assert.Equal(t, 200, get(t, app, "/admin-only", access).StatusCode)
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	app, s := newTestApp(t)
	ctx := context.Background()

	assert.Equal(t, 401, get(t, app, "/me", "").StatusCode)
	assert.Equal(t, 401, get(t, app, "/me", "garbage").StatusCode)

	tok, err := testTokens.Issue("no-such-user")
	require.NoError(t, err)
	assert.Equal(t, 401, get(t, app, "/me", tok).StatusCode)

	u := &store.User{Email: "bob@example.com", PasswordHash: "x", Active: false}
	require.NoError(t, s.CreateUser(ctx, u))
	tok, err = testTokens.Issue(u.ID)
	require.NoError(t, err)
	assert.Equal(t, 401, get(t, app, "/me", tok).StatusCode)
}

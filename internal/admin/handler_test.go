package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rocket-cms/internal/auth"
	"rocket-cms/internal/authz"
	"rocket-cms/internal/config"
	"rocket-cms/internal/content"
	"rocket-cms/internal/metadata"
	"rocket-cms/internal/store"
)

var testTokens = auth.NewTokens("admin-test-secret", config.AuthConfig{})

type testEnv struct {
	app   *fiber.App
	store *store.Store
	reg   *metadata.Registry
	token string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	s, err := store.New(ctx, config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "admin"})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Bootstrap(ctx, config.AdminConfig{Email: "admin@localhost", Password: "changeme"}))

	reg := metadata.NewRegistry()
	require.NoError(t, metadata.LoadAll(ctx, s, reg))

	app := fiber.New(fiber.Config{ErrorHandler: content.ErrorHandler})
	auth.RegisterAuthRoutes(app, auth.NewAuthHandler(s, testTokens))
	RegisterAdminRoutes(app, NewHandler(s, reg, authz.NewConditionRegistry()),
		auth.AuthMiddleware(testTokens, s), auth.RequireAdmin())

	admin, err := s.GetUserByEmail(ctx, "admin@localhost")
	require.NoError(t, err)
	token, err := testTokens.Issue(admin.ID)
	require.NoError(t, err)

	return &testEnv{app: app, store: s, reg: reg, token: token}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.token)
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode, decode(t, resp)
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	out := map[string]any{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return out
}

func articleBody() map[string]any {
	return map[string]any{
		"singularName": "article",
		"attributes": map[string]any{
			"title": map[string]any{"type": "string", "required": true},
			"body":  map[string]any{"type": "text"},
		},
	}
}

func TestCreateContentType_GrantsSuperAdmin(t *testing.T) {
	e := newTestEnv(t)

	status, body := e.do(t, "POST", "/admin/content-types", articleBody())
	require.Equal(t, 201, status, body)
	assert.Equal(t, "api::article.article", body["data"].(map[string]any)["uid"])

	require.NotNil(t, e.reg.GetContentType("api::article.article"))
	role, ok := e.reg.Policies().Role(metadata.SuperAdminRoleID)
	require.True(t, ok)
	var actions []string
	for _, p := range role.Permissions {
		assert.Equal(t, "api::article.article", p.Subject)
		actions = append(actions, p.Action)
	}
	assert.Equal(t, metadata.ExplorerActions(), actions)

	status, _ = e.do(t, "POST", "/admin/content-types", articleBody())
	assert.Equal(t, 409, status)

	status, _ = e.do(t, "DELETE", "/admin/content-types/api::article.article", nil)
	assert.Equal(t, 200, status)
	assert.Nil(t, e.reg.GetContentType("api::article.article"))
	role, _ = e.reg.Policies().Role(metadata.SuperAdminRoleID)
	assert.Empty(t, role.Permissions)
}

func TestCreateContentType_RejectsInvalid(t *testing.T) {
	e := newTestEnv(t)

	status, _ := e.do(t, "POST", "/admin/content-types", map[string]any{"singularName": "Bad Name"})
	assert.Equal(t, 422, status)

	bad := articleBody()
	bad["rules"] = []map[string]any{{"type": "expression", "expression": "record.title ==", "message": "broken"}}
	status, _ = e.do(t, "POST", "/admin/content-types", bad)
	assert.Equal(t, 422, status)
}

func TestReplacePermissions_ValidatesAndReloads(t *testing.T) {
	e := newTestEnv(t)
	status, _ := e.do(t, "POST", "/admin/content-types", articleBody())
	require.Equal(t, 201, status)

	status, body := e.do(t, "POST", "/admin/roles", map[string]any{"id": "foobar", "name": "Foobar"})
	require.Equal(t, 201, status, body)

	status, body = e.do(t, "PUT", "/admin/roles/foobar/permissions", map[string]any{
		"permissions": []map[string]any{
			{"action": "plugin::content-manager.explorer.nope", "subject": "api::missing.missing", "conditions": []string{"no-such-condition"}},
			{"action": metadata.ActionRead, "subject": "api::article.article", "fields": []string{"unknown"}},
		},
	})
	require.Equal(t, 422, status)
	details := body["error"].(map[string]any)["details"].([]any)
	assert.Len(t, details, 4)

	status, _ = e.do(t, "PUT", "/admin/roles/foobar/permissions", map[string]any{
		"permissions": []map[string]any{
			{"action": metadata.ActionRead, "subject": "api::article.article", "conditions": []string{authz.ConditionHasSameRoleAsCreator}},
			{"action": metadata.ActionUpdate, "subject": "api::article.article", "fields": []string{"title"}, "conditions": []string{authz.ConditionIsCreator}},
		},
	})
	require.Equal(t, 200, status)

	role, ok := e.reg.Policies().Role("foobar")
	require.True(t, ok)
	require.Len(t, role.Permissions, 2)
	assert.Equal(t, metadata.ActionRead, role.Permissions[0].Action)
	assert.Nil(t, role.Permissions[0].Fields)
	assert.Equal(t, []string{"title"}, role.Permissions[1].Fields)

	status, _ = e.do(t, "PUT", "/admin/roles/ghost/permissions", map[string]any{"permissions": []any{}})
	assert.Equal(t, 404, status)
}

func TestListConditions(t *testing.T) {
	e := newTestEnv(t)
	status, body := e.do(t, "GET", "/admin/permissions/conditions", nil)
	require.Equal(t, 200, status)
	assert.ElementsMatch(t, []any{authz.ConditionIsCreator, authz.ConditionHasSameRoleAsCreator}, body["data"])
}

func TestUsers_CreateAndAssignRoles(t *testing.T) {
	e := newTestEnv(t)
	status, _ := e.do(t, "POST", "/admin/roles", map[string]any{"id": "editor", "name": "Editor"})
	require.Equal(t, 201, status)

	status, _ = e.do(t, "POST", "/admin/users", map[string]any{
		"email": "alice@example.com", "password": "pw", "roles": []string{"ghost"},
	})
	assert.Equal(t, 422, status)

	status, body := e.do(t, "POST", "/admin/users", map[string]any{
		"email": "alice@example.com", "password": "pw", "roles": []string{"editor"},
	})
	require.Equal(t, 201, status, body)
	id := body["data"].(map[string]any)["id"].(string)
	_, hasHash := body["data"].(map[string]any)["passwordHash"]
	assert.False(t, hasHash)

	status, _ = e.do(t, "POST", "/admin/users", map[string]any{"email": "alice@example.com", "password": "pw"})
	assert.Equal(t, 409, status)

	status, body = e.do(t, "PUT", "/admin/users/"+id+"/roles", map[string]any{"roles": []string{metadata.SuperAdminRoleID}})
	require.Equal(t, 200, status)
	assert.Equal(t, []any{metadata.SuperAdminRoleID}, body["data"].(map[string]any)["roles"])

	status, _ = e.do(t, "DELETE", "/admin/users/"+id, nil)
	assert.Equal(t, 200, status)
	status, _ = e.do(t, "DELETE", "/admin/users/"+id, nil)
	assert.Equal(t, 404, status)
}

func TestAdminRoutes_RequireSuperAdmin(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, e.store.CreateRole(ctx, &authz.Role{ID: "editor", Name: "Editor"}))
	u := &store.User{Email: "bob@example.com", PasswordHash: "x", Active: true, Roles: []string{"editor"}}
	require.NoError(t, e.store.CreateUser(ctx, u))

	token, err := testTokens.Issue(u.ID)
	require.NoError(t, err)
	req := httptest.NewRequest("GET", "/admin/roles", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 403, resp.StatusCode)
	assert.Equal(t, "Forbidden", decode(t, resp)["error"].(map[string]any)["message"])
}

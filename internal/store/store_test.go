package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rocket-cms/internal/authz"
	"rocket-cms/internal/config"
	"rocket-cms/internal/metadata"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := New(ctx, config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "test"})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Bootstrap(ctx, config.AdminConfig{Email: "admin@localhost", Password: "changeme"}))
	return s
}

func articleType() *metadata.ContentType {
	ct := &metadata.ContentType{
		SingularName: "article",
		Attributes: map[string]metadata.Attribute{
			"title": {Type: metadata.AttrString},
			"price": {Type: metadata.AttrInteger},
		},
	}
	ct.Normalize()
	return ct
}

func TestBootstrap_SeedsSuperAdmin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Bootstrapping twice is harmless.
	require.NoError(t, s.Bootstrap(ctx, config.AdminConfig{Email: "other@localhost", Password: "x"}))

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, "admin@localhost", users[0].Email)
	require.Equal(t, []string{metadata.SuperAdminRoleID}, users[0].Roles)
	require.True(t, users[0].Active)

	roles, err := s.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	require.Equal(t, metadata.SuperAdminRoleID, roles[0].ID)
}

func TestContentTypes_CreateGrantsAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ct := articleType()

	var grants []authz.Permission
	for _, action := range metadata.ExplorerActions() {
		grants = append(grants, authz.Permission{RoleID: metadata.SuperAdminRoleID, Action: action, Subject: ct.UID})
	}
	require.NoError(t, s.CreateContentType(ctx, ct, grants))

	err := s.CreateContentType(ctx, ct, nil)
	require.True(t, errors.Is(err, ErrUniqueViolation), "got %v", err)

	types, err := s.ListContentTypes(ctx)
	require.NoError(t, err)
	require.Len(t, types, 1)
	require.Equal(t, ct.UID, types[0].UID)
	require.Equal(t, metadata.AttrInteger, types[0].Attributes["price"].Type)

	roles, err := s.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles[0].Permissions, len(metadata.ExplorerActions()))
	for i, p := range roles[0].Permissions {
		require.Equal(t, metadata.ExplorerActions()[i], p.Action)
		require.Nil(t, p.Fields)
		require.Empty(t, p.Conditions)
	}

	require.NoError(t, s.DeleteContentType(ctx, ct.UID))
	require.ErrorIs(t, s.DeleteContentType(ctx, ct.UID), ErrNotFound)

	roles, err = s.ListRoles(ctx)
	require.NoError(t, err)
	require.Empty(t, roles[0].Permissions)
}

func TestRoles_ReplacePermissionsKeepsOrderAndFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateContentType(ctx, articleType(), nil))

	role := &authz.Role{Name: "Foobar", Code: "foobar"}
	require.NoError(t, s.CreateRole(ctx, role))
	require.NotEmpty(t, role.ID)

	perms := []authz.Permission{
		{Action: metadata.ActionRead, Subject: "api::article.article", Fields: []string{"title"}},
		{Action: metadata.ActionUpdate, Subject: "api::article.article", Conditions: []string{authz.ConditionIsCreator}},
		{Action: metadata.ActionDelete, Subject: "api::article.article", Fields: []string{}},
	}
	require.NoError(t, s.ReplacePermissions(ctx, role.ID, perms))

	roles, err := s.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	require.Equal(t, metadata.SuperAdminRoleID, roles[0].ID)

	got := roles[1].Permissions
	require.Len(t, got, 3)
	require.Equal(t, metadata.ActionRead, got[0].Action)
	require.Equal(t, []string{"title"}, got[0].Fields)
	require.Nil(t, got[1].Fields)
	require.Equal(t, []string{authz.ConditionIsCreator}, got[1].Conditions)
	require.NotNil(t, got[2].Fields)
	require.Empty(t, got[2].Fields)

	require.NoError(t, s.ReplacePermissions(ctx, role.ID, perms[:1]))
	roles, err = s.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles[1].Permissions, 1)

	require.ErrorIs(t, s.ReplacePermissions(ctx, "ghost", perms), ErrNotFound)
	require.True(t, errors.Is(s.CreateRole(ctx, &authz.Role{Name: "dup", Code: "foobar"}), ErrUniqueViolation))

	require.NoError(t, s.DeleteRole(ctx, role.ID))
	require.ErrorIs(t, s.DeleteRole(ctx, role.ID), ErrNotFound)
}

func TestUsers_RolesAndRefreshTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	editor := &authz.Role{Name: "Editor", Code: "editor"}
	require.NoError(t, s.CreateRole(ctx, editor))

	u := &User{Email: "jane@example.com", PasswordHash: "x", Active: true, Roles: []string{editor.ID, editor.ID}}
	require.NoError(t, s.CreateUser(ctx, u))

	got, err := s.GetUserByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.Equal(t, []string{editor.ID}, got.Roles)

	require.NoError(t, s.SetUserRoles(ctx, u.ID, []string{metadata.SuperAdminRoleID, editor.ID}))
	got, err = s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, []string{metadata.SuperAdminRoleID, editor.ID}, got.Roles)

	require.ErrorIs(t, s.SetUserRoles(ctx, "ghost", nil), ErrNotFound)
	_, err = s.GetUserByID(ctx, "ghost")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.CreateRefreshToken(ctx, u.ID, "tok-1", time.Now().Add(time.Hour)))
	owner, err := s.ConsumeRefreshToken(ctx, "tok-1")
	require.NoError(t, err)
	require.Equal(t, u.ID, owner)
	_, err = s.ConsumeRefreshToken(ctx, "tok-1")
	require.ErrorIs(t, err, ErrNotFound, "refresh tokens are single use")

	require.NoError(t, s.CreateRefreshToken(ctx, u.ID, "tok-2", time.Now().Add(-time.Minute)))
	_, err = s.ConsumeRefreshToken(ctx, "tok-2")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteUser(ctx, u.ID))
	require.ErrorIs(t, s.DeleteUser(ctx, u.ID), ErrNotFound)
}

func TestEntries_CreatorSnapshotSurvivesUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateContentType(ctx, articleType(), nil))

	e := &Entry{
		ContentType:  "api::article.article",
		Data:         map[string]any{"title": "hello", "price": 10},
		CreatedBy:    "user-1",
		CreatorRoles: []string{"foobar"},
	}
	require.NoError(t, s.InsertEntry(ctx, e))
	require.NotEmpty(t, e.DocumentID)

	e.Data["title"] = "changed"
	e.UpdatedBy = "user-2"
	e.CreatedBy = "user-2"
	e.CreatorRoles = []string{"other"}
	require.NoError(t, s.UpdateEntry(ctx, e))

	got, err := s.GetEntry(ctx, "api::article.article", e.DocumentID)
	require.NoError(t, err)
	require.Equal(t, "changed", got.Data["title"])
	require.Equal(t, float64(10), got.Data["price"])
	require.Equal(t, "user-1", got.CreatedBy)
	require.Equal(t, []string{"foobar"}, got.CreatorRoles)
	require.Equal(t, "user-2", got.UpdatedBy)
	require.Nil(t, got.PublishedAt)

	view := got.Authz()
	require.Equal(t, "user-1", view.CreatedBy)
	require.Equal(t, "changed", view.Fields["title"])

	_, err = s.GetEntry(ctx, "api::page.page", e.DocumentID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEntries_ListRecentAndPublish(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateContentType(ctx, articleType(), nil))

	var ids []string
	for i := 0; i < 3; i++ {
		e := &Entry{ContentType: "api::article.article", Data: map[string]any{"title": i}, CreatedBy: "u"}
		require.NoError(t, s.InsertEntry(ctx, e))
		ids = append(ids, e.DocumentID)
	}

	list, err := s.ListEntries(ctx, "api::article.article")
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, e := range list {
		require.Equal(t, ids[i], e.DocumentID)
	}

	first := list[0]
	first.Data["title"] = "bumped"
	require.NoError(t, s.UpdateEntry(ctx, first))

	types := []string{"api::article.article"}
	recent, err := s.RecentEntries(ctx, RecentByUpdate, types, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, ids[0], recent[0].DocumentID)

	none, err := s.RecentEntries(ctx, RecentByUpdate, nil, 10)
	require.NoError(t, err)
	require.Empty(t, none)

	published, err := s.RecentEntries(ctx, RecentByPublish, types, 10)
	require.NoError(t, err)
	require.Empty(t, published)

	require.NoError(t, s.PublishEntry(ctx, list[1], "u"))
	published, err = s.RecentEntries(ctx, RecentByPublish, types, 10)
	require.NoError(t, err)
	require.Len(t, published, 1)
	require.Equal(t, ids[1], published[0].DocumentID)
	require.NotNil(t, published[0].PublishedAt)

	require.NoError(t, s.DeleteEntry(ctx, "api::article.article", ids[2]))
	require.ErrorIs(t, s.DeleteEntry(ctx, "api::article.article", ids[2]), ErrNotFound)
}

package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func seedRole(t *testing.T, store *memStore, name string, permissions ...string) Role {
	t.Helper()
	catalog := NewCatalog(store)
	role, err := catalog.FindOrCreateRole(context.Background(), name, RoleDefaults{})
	require.NoError(t, err)
	role, err = catalog.AddPermissionsByName(context.Background(), role, permissions)
	require.NoError(t, err)
	return role
}

func TestGrantIsIdempotent(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	role := seedRole(t, store, "Editor", "view")
	scope := ScopeFor(ScopeProject, 11)

	first, err := svc.Grant(context.Background(), 7, RoleByID(role.ID), scope)
	require.NoError(t, err)
	second, err := svc.Grant(context.Background(), 7, RoleByID(role.ID), scope)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Len(t, store.assignments, 1)
}

func TestGrantUnknownRoleName(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)

	_, err := svc.Grant(context.Background(), 7, RoleByName("ghost"), GlobalScope())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGrantRejectsHalfScope(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	role := seedRole(t, store, "Editor")

	_, err := svc.Grant(context.Background(), 7, RoleByID(role.ID), Scope{Type: ScopeProject})
	require.ErrorIs(t, err, ErrInvalidScope)
	_, err = svc.Grant(context.Background(), 7, RoleByID(role.ID), Scope{ID: 5})
	require.ErrorIs(t, err, ErrInvalidScope)
}

func TestGrantRejectsNegativeScopeID(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	role := seedRole(t, store, "Editor")

	// No tenant row carries a negative id; such a scope could never be matched.
	_, err := svc.Grant(context.Background(), 7, RoleByID(role.ID), ScopeFor(ScopeProject, -1))
	require.ErrorIs(t, err, ErrInvalidScope)
	_, err = svc.Grant(context.Background(), 7, RoleByID(role.ID), Scope{ID: -1})
	require.ErrorIs(t, err, ErrInvalidScope)
	require.Empty(t, store.assignments)
}

func TestRevokeAfterGrant(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	role := seedRole(t, store, "Editor")
	scope := ScopeFor(ScopeClient, 3)

	_, err := svc.Grant(context.Background(), 7, RoleByID(role.ID), scope)
	require.NoError(t, err)

	revoked, err := svc.Revoke(context.Background(), 7, RoleByID(role.ID), scope)
	require.NoError(t, err)
	require.True(t, revoked)

	has, err := svc.Has(context.Background(), 7, RoleByID(role.ID), scope)
	require.NoError(t, err)
	require.False(t, has)

	revoked, err = svc.Revoke(context.Background(), 7, RoleByID(role.ID), scope)
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestScopesAreStrictlyIsolated(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	role := seedRole(t, store, "Editor", "view")
	ctx := context.Background()

	_, err := svc.Grant(ctx, 7, RoleByID(role.ID), GlobalScope())
	require.NoError(t, err)
	_, err = svc.Grant(ctx, 8, RoleByID(role.ID), ScopeFor(ScopeProject, 1))
	require.NoError(t, err)

	// Global grant never satisfies a scoped check.
	has, err := svc.Has(ctx, 7, RoleByID(role.ID), ScopeFor(ScopeProject, 1))
	require.NoError(t, err)
	require.False(t, has)

	// Scoped grant never satisfies a global check.
	has, err = svc.Has(ctx, 8, RoleByID(role.ID), GlobalScope())
	require.NoError(t, err)
	require.False(t, has)

	// No hierarchy traversal between scope types.
	has, err = svc.Has(ctx, 8, RoleByID(role.ID), ScopeFor(ScopeClient, 1))
	require.NoError(t, err)
	require.False(t, has)

	ok, err := svc.HasPermissionInScope(ctx, 8, "view", ScopeFor(ScopeProject, 1))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = svc.HasPermissionInScope(ctx, 8, "view", GlobalScope())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHasPermissionInScopeUnionsRoles(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	ctx := context.Background()
	scope := ScopeFor(ScopeCompany, 9)

	editor := seedRole(t, store, "Editor", "view", "modify")
	auditor := seedRole(t, store, "Auditor", "list")
	_, err := svc.Grant(ctx, 4, RoleByID(editor.ID), scope)
	require.NoError(t, err)
	_, err = svc.Grant(ctx, 4, RoleByID(auditor.ID), scope)
	require.NoError(t, err)

	for _, perm := range []string{"view", "modify", "list"} {
		ok, err := svc.HasPermissionInScope(ctx, 4, perm, scope)
		require.NoError(t, err)
		require.True(t, ok, perm)
	}
	ok, err := svc.HasPermissionInScope(ctx, 4, "delete", scope)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRoleNameResolutionUsesSlug(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	role := seedRole(t, store, "Administrator")
	scope := ScopeFor(ScopeProject, 2)

	_, err := svc.Grant(context.Background(), 1, RoleByName("Administrator"), scope)
	require.NoError(t, err)

	has, err := svc.Has(context.Background(), 1, RoleByName("administrator"), scope)
	require.NoError(t, err)
	require.True(t, has)

	has, err = svc.Has(context.Background(), 1, RoleByID(role.ID), scope)
	require.NoError(t, err)
	require.True(t, has)
}

func TestAdministratorEndToEnd(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	ctx := context.Background()

	admin := seedRole(t, store, "Administrator", CoreActions()...)
	_, err := svc.Grant(ctx, 42, RoleByID(admin.ID), ScopeFor(ScopeProject, 100))
	require.NoError(t, err)

	has, err := svc.Has(ctx, 42, RoleByName("administrator"), ScopeFor(ScopeProject, 100))
	require.NoError(t, err)
	require.True(t, has)

	has, err = svc.Has(ctx, 42, RoleByName("administrator"), ScopeFor(ScopeClient, 200))
	require.NoError(t, err)
	require.False(t, has)

	ok, err := svc.HasPermissionInScope(ctx, 42, "delete", ScopeFor(ScopeProject, 100))
	require.NoError(t, err)
	require.True(t, ok)
}

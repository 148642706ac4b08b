package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResourceGrantOverwritesNotMerges(t *testing.T) {
	store := newMemStore()
	svc := NewResourceAclService(store)
	ctx := context.Background()

	_, err := svc.Grant(ctx, 7, "project", 1, []string{"view"})
	require.NoError(t, err)
	acl, err := svc.Grant(ctx, 7, "project", 1, []string{"edit"})
	require.NoError(t, err)

	require.Len(t, acl.Grants, 1)
	require.Equal(t, int64(7), acl.Grants[0].UserID)
	require.Equal(t, []string{"edit"}, acl.Grants[0].Permissions)
}

func TestResourceGrantDeduplicates(t *testing.T) {
	store := newMemStore()
	svc := NewResourceAclService(store)

	acl, err := svc.Grant(context.Background(), 7, "project", 1, []string{"view", "view", "edit", " "})
	require.NoError(t, err)
	require.Equal(t, []string{"view", "edit"}, acl.Grants[0].Permissions)
}

func TestResourceGrantOneEntryPerUser(t *testing.T) {
	store := newMemStore()
	svc := NewResourceAclService(store)
	ctx := context.Background()

	_, err := svc.Grant(ctx, 7, "project", 1, []string{"view"})
	require.NoError(t, err)
	acl, err := svc.Grant(ctx, 8, "project", 1, []string{"edit"})
	require.NoError(t, err)

	require.Len(t, acl.Grants, 2)

	grants, err := svc.Grants(ctx, "project", 1)
	require.NoError(t, err)
	require.Equal(t, int64(7), grants[0].UserID)
	require.Equal(t, int64(8), grants[1].UserID)
}

func TestResourceAclIsolatedByResource(t *testing.T) {
	store := newMemStore()
	svc := NewResourceAclService(store)
	ctx := context.Background()

	_, err := svc.Grant(ctx, 7, "project", 1, []string{"view"})
	require.NoError(t, err)

	grants, err := svc.Grants(ctx, "project", 2)
	require.NoError(t, err)
	require.Empty(t, grants)

	grants, err = svc.Grants(ctx, "client", 1)
	require.NoError(t, err)
	require.Empty(t, grants)
}

func TestResourceAllows(t *testing.T) {
	store := newMemStore()
	svc := NewResourceAclService(store)
	ctx := context.Background()

	_, err := svc.Grant(ctx, 7, "project", 1, []string{"view", "edit"})
	require.NoError(t, err)

	allowed, err := svc.Allows(ctx, 7, "project", 1, "edit")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = svc.Allows(ctx, 7, "project", 1, "delete")
	require.NoError(t, err)
	require.False(t, allowed)

	allowed, err = svc.Allows(ctx, 9, "project", 1, "edit")
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestResourceRevoke(t *testing.T) {
	store := newMemStore()
	svc := NewResourceAclService(store)
	ctx := context.Background()

	_, err := svc.Grant(ctx, 7, "project", 1, []string{"view"})
	require.NoError(t, err)

	revoked, err := svc.Revoke(ctx, 7, "project", 1)
	require.NoError(t, err)
	require.True(t, revoked)

	revoked, err = svc.Revoke(ctx, 7, "project", 1)
	require.NoError(t, err)
	require.False(t, revoked)

	grants, err := svc.Grants(ctx, "project", 1)
	require.NoError(t, err)
	require.Empty(t, grants)
}

package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// PermissionDefaults are merged in when a permission is created lazily.
type PermissionDefaults struct {
	Description string
	Guard       string
}

// RoleDefaults are merged in when a role is created lazily.
type RoleDefaults struct {
	DisplayName string
	Description string
}

// Catalog maintains the permission and role registries with find-or-create
// semantics. Safe under concurrent callers: a losing insert falls back to
// fetching the winner's row. Multi-statement mutations run inside a
// transaction when the store can open one, so a failed replace never leaves
// a mixed permission set behind.
type Catalog struct {
	store Store
}

// NewCatalog constructs a Catalog over the given store.
func NewCatalog(store Store) *Catalog {
	return &Catalog{store: store}
}

// inTx runs fn against a transaction backed Catalog when the store is a
// Repository. Stores already scoped to a transaction run fn in place.
func (c *Catalog) inTx(ctx context.Context, fn func(context.Context, *Catalog) error) error {
	repo, ok := c.store.(Repository)
	if !ok {
		return fn(ctx, c)
	}
	return repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		return fn(ctx, NewCatalog(store))
	})
}

var titleCaser = cases.Title(language.English)

// Slug normalizes a role name to its unique lower-kebab key.
func Slug(name string) string {
	stripped, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		stripped = name
	}
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(stripped) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// FindOrCreatePermission returns the permission named name, creating it with
// the given defaults when absent.
func (c *Catalog) FindOrCreatePermission(ctx context.Context, name string, defaults PermissionDefaults) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, errors.New("rbac: permission name required")
	}
	perm, err := c.store.FindPermissionByName(ctx, name)
	if err == nil {
		return perm, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Permission{}, err
	}
	if defaults.Description == "" {
		defaults.Description = titleCaser.String(name) + " permission"
	}
	if defaults.Guard == "" {
		defaults.Guard = "web"
	}
	perm, err = c.store.CreatePermission(ctx, name, defaults.Description, defaults.Guard)
	if errors.Is(err, ErrDuplicate) {
		// Lost the race to a concurrent creator.
		return c.store.FindPermissionByName(ctx, name)
	}
	if err != nil {
		return Permission{}, err
	}
	return perm, nil
}

// FindOrCreateRole returns the role whose slug matches name, creating it with
// the given defaults when absent.
func (c *Catalog) FindOrCreateRole(ctx context.Context, name string, defaults RoleDefaults) (Role, error) {
	slug := Slug(name)
	if slug == "" {
		return Role{}, errors.New("rbac: role name required")
	}
	role, err := c.store.FindRoleByName(ctx, slug)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Role{}, err
	}
	if defaults.DisplayName == "" {
		defaults.DisplayName = name
	}
	if defaults.Description == "" {
		defaults.Description = titleCaser.String(name) + " role"
	}
	role, err = c.store.CreateRole(ctx, slug, defaults.DisplayName, defaults.Description)
	if errors.Is(err, ErrDuplicate) {
		return c.store.FindRoleByName(ctx, slug)
	}
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// AddPermissionsToRole merges permission ids into the role's set. Overlapping
// ids are ignored, so repeated calls converge on the union.
func (c *Catalog) AddPermissionsToRole(ctx context.Context, role Role, permissionIDs []int64) (Role, error) {
	var updated Role
	err := c.inTx(ctx, func(ctx context.Context, tc *Catalog) error {
		var err error
		updated, err = tc.attachPermissions(ctx, role, permissionIDs)
		return err
	})
	if err != nil {
		return Role{}, err
	}
	return updated, nil
}

// SetPermissionsToRole replaces the role's permission set wholesale. The
// attach and detach statements share one transaction; a failure leaves the
// prior set intact, never the union of old and new.
func (c *Catalog) SetPermissionsToRole(ctx context.Context, role Role, permissionIDs []int64) (Role, error) {
	var updated Role
	err := c.inTx(ctx, func(ctx context.Context, tc *Catalog) error {
		existing, err := tc.store.RolePermissionIDs(ctx, role.ID)
		if err != nil {
			return err
		}
		keep := make(map[int64]struct{}, len(permissionIDs))
		for _, id := range dedupeIDs(permissionIDs) {
			keep[id] = struct{}{}
			if err := tc.store.AttachPermission(ctx, role.ID, id); err != nil {
				return fmt.Errorf("rbac: attach permission %d: %w", id, err)
			}
		}
		for _, id := range existing {
			if _, ok := keep[id]; !ok {
				if err := tc.store.DetachPermission(ctx, role.ID, id); err != nil {
					return fmt.Errorf("rbac: detach permission %d: %w", id, err)
				}
			}
		}
		updated, err = tc.reload(ctx, role)
		return err
	})
	if err != nil {
		return Role{}, err
	}
	return updated, nil
}

// AddPermissionsByName resolves each name through find-or-create and merges the
// resulting ids into the role, all inside one transaction boundary.
func (c *Catalog) AddPermissionsByName(ctx context.Context, role Role, names []string) (Role, error) {
	var updated Role
	err := c.inTx(ctx, func(ctx context.Context, tc *Catalog) error {
		ids := make([]int64, 0, len(names))
		for _, name := range names {
			perm, err := tc.FindOrCreatePermission(ctx, name, PermissionDefaults{})
			if err != nil {
				return err
			}
			ids = append(ids, perm.ID)
		}
		var err error
		updated, err = tc.attachPermissions(ctx, role, ids)
		return err
	})
	if err != nil {
		return Role{}, err
	}
	return updated, nil
}

func (c *Catalog) attachPermissions(ctx context.Context, role Role, permissionIDs []int64) (Role, error) {
	for _, id := range dedupeIDs(permissionIDs) {
		if err := c.store.AttachPermission(ctx, role.ID, id); err != nil {
			return Role{}, fmt.Errorf("rbac: attach permission %d: %w", id, err)
		}
	}
	return c.reload(ctx, role)
}

// GetRole fetches a role and its permission set by id.
func (c *Catalog) GetRole(ctx context.Context, id int64) (Role, error) {
	return c.store.GetRole(ctx, id)
}

// ListRoles returns every role in the registry.
func (c *Catalog) ListRoles(ctx context.Context) ([]Role, error) {
	return c.store.ListRoles(ctx)
}

// ListPermissions returns every registered permission.
func (c *Catalog) ListPermissions(ctx context.Context) ([]Permission, error) {
	return c.store.ListPermissions(ctx)
}

func (c *Catalog) reload(ctx context.Context, role Role) (Role, error) {
	updated, err := c.store.GetRole(ctx, role.ID)
	if err != nil {
		return Role{}, err
	}
	return updated, nil
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

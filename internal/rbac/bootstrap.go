package rbac

import (
	"context"
	"log/slog"
)

// Bootstrapper runs the composite tenant bootstrap: seed a permission set,
// find-or-create a role carrying it, and grant that role to a user across a
// list of scopes. Every step is idempotent, so the whole operation can be
// retried wholesale inside the same transaction after a partial failure.
type Bootstrapper struct {
	logger *slog.Logger
}

// NewBootstrapper constructs a Bootstrapper.
func NewBootstrapper(logger *slog.Logger) *Bootstrapper {
	return &Bootstrapper{logger: logger}
}

// BootstrapAdministrator seeds permissionNames, attaches them to roleName and
// grants the role to userID at each scope. The store must be transaction
// backed: the caller owns the all-or-nothing boundary, because bootstrap runs
// alongside the tenant writes that must commit with it.
func (b *Bootstrapper) BootstrapAdministrator(ctx context.Context, store Store, userID int64, roleName string, permissionNames []string, scopes []Scope) (Role, error) {
	for _, scope := range scopes {
		if err := scope.Validate(); err != nil {
			return Role{}, err
		}
	}

	catalog := NewCatalog(store)

	permissionIDs := make([]int64, 0, len(permissionNames))
	for _, name := range permissionNames {
		perm, err := catalog.FindOrCreatePermission(ctx, name, PermissionDefaults{})
		if err != nil {
			return Role{}, err
		}
		permissionIDs = append(permissionIDs, perm.ID)
	}

	role, err := catalog.FindOrCreateRole(ctx, roleName, RoleDefaults{})
	if err != nil {
		return Role{}, err
	}
	role, err = catalog.AddPermissionsToRole(ctx, role, permissionIDs)
	if err != nil {
		return Role{}, err
	}

	engine := NewService(store)
	for _, scope := range scopes {
		if _, err := engine.Grant(ctx, userID, RoleByID(role.ID), scope); err != nil {
			return Role{}, err
		}
	}

	if b.logger != nil {
		b.logger.Info("bootstrapped administrator",
			slog.Int64("user_id", userID),
			slog.String("role", role.Name),
			slog.Int("scopes", len(scopes)))
	}
	return role, nil
}

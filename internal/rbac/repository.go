package rbac

import (
	"context"
)

// Store defines the persistence operations the authorization core relies on.
// A Store may be backed by a connection pool or by a single transaction; the
// bootstrap path always receives a transaction-backed Store.
type Store interface {
	// Permissions
	FindPermissionByName(ctx context.Context, name string) (Permission, error)
	CreatePermission(ctx context.Context, name, description, guard string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)

	// Roles
	GetRole(ctx context.Context, id int64) (Role, error)
	FindRoleByName(ctx context.Context, name string) (Role, error)
	CreateRole(ctx context.Context, name, displayName, description string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	AttachPermission(ctx context.Context, roleID, permissionID int64) error
	DetachPermission(ctx context.Context, roleID, permissionID int64) error
	RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error)

	// Role assignments
	UpsertAssignment(ctx context.Context, userID, roleID int64, scope Scope) (RoleAssignment, error)
	DeleteAssignment(ctx context.Context, userID, roleID int64, scope Scope) (bool, error)
	AssignmentExists(ctx context.Context, userID, roleID int64, scope Scope) (bool, error)
	ScopePermissionNames(ctx context.Context, userID int64, scope Scope) ([]string, error)

	// Resource ACL overlay
	UpsertResourceGrant(ctx context.Context, userID int64, resourceType string, resourceID int64, permissions []string) error
	DeleteResourceGrant(ctx context.Context, userID int64, resourceType string, resourceID int64) (bool, error)
	GetResourceAcl(ctx context.Context, resourceType string, resourceID int64) (ResourceAcl, error)
}

// Repository is a Store that can also open a transactional Store.
type Repository interface {
	Store
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
}

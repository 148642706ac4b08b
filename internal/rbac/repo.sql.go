package rbac

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thew0lf/avnz-app/internal/platform/db"
)

// DBTX is the subset of pgx satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository provides PostgreSQL backed persistence for the authorization core.
type PGRepository struct {
	db   DBTX
	pool *pgxpool.Pool
}

// NewRepository constructs a pool backed repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{db: pool, pool: pool}
}

// NewTxStore wraps an open transaction so sibling modules can run authorization
// writes inside their own transaction boundary.
func NewTxStore(tx pgx.Tx) Store {
	return &PGRepository{db: tx}
}

// WithTx runs fn against a transaction backed Store at repeatable read. A
// repository already scoped to a transaction joins it instead of opening a
// nested one.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	if r.pool == nil {
		return fn(ctx, r)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &PGRepository{db: tx})
	})
}

func mapUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

// FindPermissionByName fetches a permission by its unique name.
func (r *PGRepository) FindPermissionByName(ctx context.Context, name string) (Permission, error) {
	var p Permission
	err := r.db.QueryRow(ctx,
		`SELECT id, name, description, guard, created_at FROM permissions WHERE name = $1`,
		name,
	).Scan(&p.ID, &p.Name, &p.Description, &p.Guard, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, ErrNotFound
		}
		return Permission{}, err
	}
	return p, nil
}

// CreatePermission inserts a new permission. Returns ErrDuplicate on a name collision.
func (r *PGRepository) CreatePermission(ctx context.Context, name, description, guard string) (Permission, error) {
	var p Permission
	err := r.db.QueryRow(ctx,
		`INSERT INTO permissions (name, description, guard) VALUES ($1, $2, $3)
		 RETURNING id, name, description, guard, created_at`,
		name, description, guard,
	).Scan(&p.ID, &p.Name, &p.Description, &p.Guard, &p.CreatedAt)
	if err != nil {
		return Permission{}, mapUnique(err)
	}
	return p, nil
}

// ListPermissions returns all permissions ordered by name.
func (r *PGRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, description, guard, created_at FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Guard, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// GetRole fetches a role and its permission set by id.
func (r *PGRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := r.db.QueryRow(ctx,
		`SELECT id, name, display_name, description, created_at, updated_at FROM roles WHERE id = $1`,
		id,
	).Scan(&role.ID, &role.Name, &role.DisplayName, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	role.PermissionIDs, err = r.RolePermissionIDs(ctx, role.ID)
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// FindRoleByName fetches a role and its permission set by unique name.
func (r *PGRepository) FindRoleByName(ctx context.Context, name string) (Role, error) {
	var role Role
	err := r.db.QueryRow(ctx,
		`SELECT id, name, display_name, description, created_at, updated_at FROM roles WHERE name = $1`,
		name,
	).Scan(&role.ID, &role.Name, &role.DisplayName, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	role.PermissionIDs, err = r.RolePermissionIDs(ctx, role.ID)
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// CreateRole inserts a new role. Returns ErrDuplicate on a name collision.
func (r *PGRepository) CreateRole(ctx context.Context, name, displayName, description string) (Role, error) {
	var role Role
	err := r.db.QueryRow(ctx,
		`INSERT INTO roles (name, display_name, description) VALUES ($1, $2, $3)
		 RETURNING id, name, display_name, description, created_at, updated_at`,
		name, displayName, description,
	).Scan(&role.ID, &role.Name, &role.DisplayName, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return Role{}, mapUnique(err)
	}
	return role, nil
}

// ListRoles returns all roles ordered by name. Permission sets are not loaded.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, display_name, description, created_at, updated_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.DisplayName, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// AttachPermission adds a permission to a role. Attaching twice is a no-op.
func (r *PGRepository) AttachPermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		roleID, permissionID)
	return err
}

// DetachPermission removes a permission from a role.
func (r *PGRepository) DetachPermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`,
		roleID, permissionID)
	return err
}

// RolePermissionIDs lists the permission ids attached to a role.
func (r *PGRepository) RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT permission_id FROM role_permissions WHERE role_id = $1 ORDER BY permission_id`,
		roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertAssignment stores a role assignment, returning the existing row when the
// composite key is already present. Global scopes are stored as ('', 0).
func (r *PGRepository) UpsertAssignment(ctx context.Context, userID, roleID int64, scope Scope) (RoleAssignment, error) {
	var a RoleAssignment
	err := r.db.QueryRow(ctx,
		`INSERT INTO role_assignments (user_id, role_id, scope_type, scope_id)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, role_id, scope_type, scope_id)
		 DO UPDATE SET user_id = EXCLUDED.user_id
		 RETURNING id, user_id, role_id, scope_type, scope_id, created_at`,
		userID, roleID, string(scope.Type), scope.ID,
	).Scan(&a.ID, &a.UserID, &a.RoleID, &a.Scope.Type, &a.Scope.ID, &a.CreatedAt)
	if err != nil {
		return RoleAssignment{}, err
	}
	return a, nil
}

// DeleteAssignment removes a role assignment and reports whether a row existed.
func (r *PGRepository) DeleteAssignment(ctx context.Context, userID, roleID int64, scope Scope) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM role_assignments
		 WHERE user_id = $1 AND role_id = $2 AND scope_type = $3 AND scope_id = $4`,
		userID, roleID, string(scope.Type), scope.ID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AssignmentExists checks the exact composite assignment key.
func (r *PGRepository) AssignmentExists(ctx context.Context, userID, roleID int64, scope Scope) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM role_assignments
			WHERE user_id = $1 AND role_id = $2 AND scope_type = $3 AND scope_id = $4
		 )`,
		userID, roleID, string(scope.Type), scope.ID,
	).Scan(&exists)
	return exists, err
}

// ScopePermissionNames computes the union of permission names across every role
// assigned to the user at exactly the given scope key.
func (r *PGRepository) ScopePermissionNames(ctx context.Context, userID int64, scope Scope) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT p.name
		 FROM role_assignments ra
		 JOIN role_permissions rp ON rp.role_id = ra.role_id
		 JOIN permissions p ON p.id = rp.permission_id
		 WHERE ra.user_id = $1 AND ra.scope_type = $2 AND ra.scope_id = $3`,
		userID, string(scope.Type), scope.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// UpsertResourceGrant overwrites the user's permission set on a resource.
func (r *PGRepository) UpsertResourceGrant(ctx context.Context, userID int64, resourceType string, resourceID int64, permissions []string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO resource_acl_grants (resource_type, resource_id, user_id, permissions)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (resource_type, resource_id, user_id)
		 DO UPDATE SET permissions = EXCLUDED.permissions, updated_at = NOW()`,
		resourceType, resourceID, userID, permissions)
	return err
}

// DeleteResourceGrant removes the user's entry from a resource ACL.
func (r *PGRepository) DeleteResourceGrant(ctx context.Context, userID int64, resourceType string, resourceID int64) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM resource_acl_grants
		 WHERE resource_type = $1 AND resource_id = $2 AND user_id = $3`,
		resourceType, resourceID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetResourceAcl aggregates all grant entries for one resource. A resource with
// no grants yields an empty ACL, not an error.
func (r *PGRepository) GetResourceAcl(ctx context.Context, resourceType string, resourceID int64) (ResourceAcl, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id, permissions FROM resource_acl_grants
		 WHERE resource_type = $1 AND resource_id = $2 ORDER BY id`,
		resourceType, resourceID)
	if err != nil {
		return ResourceAcl{}, err
	}
	defer rows.Close()
	acl := ResourceAcl{ResourceType: resourceType, ResourceID: resourceID}
	for rows.Next() {
		var entry GrantEntry
		if err := rows.Scan(&entry.UserID, &entry.Permissions); err != nil {
			return ResourceAcl{}, err
		}
		acl.Grants = append(acl.Grants, entry)
	}
	return acl, rows.Err()
}

var _ Repository = (*PGRepository)(nil)

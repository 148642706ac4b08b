package rbac

import (
	"context"
	"fmt"
)

// Service is the authorization engine: it reconciles the role catalog and the
// scoped assignment ledger into yes/no decisions, and owns the grant/revoke
// write surface. All reads fail closed; a storage error propagates instead of
// resolving to an allow or deny.
type Service struct {
	store Store
}

// NewService constructs a Service over the given store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// resolveRole turns a RoleRef into a stored role exactly once. Grant, Has and
// Revoke never create roles implicitly; an unknown name yields ErrNotFound.
func (s *Service) resolveRole(ctx context.Context, ref RoleRef) (Role, error) {
	if ref.id != 0 {
		return s.store.GetRole(ctx, ref.id)
	}
	if ref.name == "" {
		return Role{}, fmt.Errorf("%w: empty role reference", ErrNotFound)
	}
	return s.store.FindRoleByName(ctx, Slug(ref.name))
}

// Grant assigns a role to a user at the given scope. Granting an already held
// assignment returns the stored row unchanged.
func (s *Service) Grant(ctx context.Context, userID int64, role RoleRef, scope Scope) (RoleAssignment, error) {
	if err := scope.Validate(); err != nil {
		return RoleAssignment{}, err
	}
	resolved, err := s.resolveRole(ctx, role)
	if err != nil {
		return RoleAssignment{}, err
	}
	return s.store.UpsertAssignment(ctx, userID, resolved.ID, scope)
}

// Revoke removes a role assignment and reports whether one existed. Revoking an
// absent grant is not an error.
func (s *Service) Revoke(ctx context.Context, userID int64, role RoleRef, scope Scope) (bool, error) {
	if err := scope.Validate(); err != nil {
		return false, err
	}
	resolved, err := s.resolveRole(ctx, role)
	if err != nil {
		return false, err
	}
	return s.store.DeleteAssignment(ctx, userID, resolved.ID, scope)
}

// Has checks the exact composite assignment key. A global grant never satisfies
// a scoped check and a scoped grant never satisfies a global one; scopes carry
// no hierarchy.
func (s *Service) Has(ctx context.Context, userID int64, role RoleRef, scope Scope) (bool, error) {
	if err := scope.Validate(); err != nil {
		return false, err
	}
	resolved, err := s.resolveRole(ctx, role)
	if err != nil {
		return false, err
	}
	return s.store.AssignmentExists(ctx, userID, resolved.ID, scope)
}

// HasPermissionInScope reports whether permission is in the union of permission
// sets of every role assigned to the user at exactly the given scope key.
func (s *Service) HasPermissionInScope(ctx context.Context, userID int64, permission string, scope Scope) (bool, error) {
	if err := scope.Validate(); err != nil {
		return false, err
	}
	names, err := s.store.ScopePermissionNames(ctx, userID, scope)
	if err != nil {
		return false, err
	}
	for _, name := range names {
		if name == permission {
			return true, nil
		}
	}
	return false, nil
}

// EffectivePermissions returns the deduplicated permission names the user holds
// at the given scope. Used by the HTTP middleware to answer several checks from
// one read.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64, scope Scope) ([]string, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.store.ScopePermissionNames(ctx, userID, scope)
}

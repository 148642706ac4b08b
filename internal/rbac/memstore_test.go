package rbac

import (
	"context"
	"time"
)

// memStore is an in-memory Store used across the package tests.
type memStore struct {
	perms       map[int64]Permission
	roles       map[int64]Role
	rolePerms   map[int64]map[int64]struct{}
	assignments map[assignmentKey]RoleAssignment
	aclGrants   map[aclKey][]string
	aclOrder    []aclKey
	nextID      int64
}

type assignmentKey struct {
	userID int64
	roleID int64
	scope  Scope
}

type aclKey struct {
	resourceType string
	resourceID   int64
	userID       int64
}

func newMemStore() *memStore {
	return &memStore{
		perms:       make(map[int64]Permission),
		roles:       make(map[int64]Role),
		rolePerms:   make(map[int64]map[int64]struct{}),
		assignments: make(map[assignmentKey]RoleAssignment),
		aclGrants:   make(map[aclKey][]string),
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) FindPermissionByName(ctx context.Context, name string) (Permission, error) {
	for _, p := range s.perms {
		if p.Name == name {
			return p, nil
		}
	}
	return Permission{}, ErrNotFound
}

func (s *memStore) CreatePermission(ctx context.Context, name, description, guard string) (Permission, error) {
	if _, err := s.FindPermissionByName(ctx, name); err == nil {
		return Permission{}, ErrDuplicate
	}
	p := Permission{ID: s.id(), Name: name, Description: description, Guard: guard, CreatedAt: time.Now()}
	s.perms[p.ID] = p
	return p, nil
}

func (s *memStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	out := make([]Permission, 0, len(s.perms))
	for _, p := range s.perms {
		out = append(out, p)
	}
	return out, nil
}

func (s *memStore) GetRole(ctx context.Context, id int64) (Role, error) {
	role, ok := s.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	role.PermissionIDs, _ = s.RolePermissionIDs(ctx, id)
	return role, nil
}

func (s *memStore) FindRoleByName(ctx context.Context, name string) (Role, error) {
	for _, role := range s.roles {
		if role.Name == name {
			return s.GetRole(ctx, role.ID)
		}
	}
	return Role{}, ErrNotFound
}

func (s *memStore) CreateRole(ctx context.Context, name, displayName, description string) (Role, error) {
	if _, err := s.FindRoleByName(ctx, name); err == nil {
		return Role{}, ErrDuplicate
	}
	role := Role{ID: s.id(), Name: name, DisplayName: displayName, Description: description}
	s.roles[role.ID] = role
	s.rolePerms[role.ID] = make(map[int64]struct{})
	return role, nil
}

func (s *memStore) ListRoles(ctx context.Context) ([]Role, error) {
	out := make([]Role, 0, len(s.roles))
	for _, role := range s.roles {
		out = append(out, role)
	}
	return out, nil
}

func (s *memStore) AttachPermission(ctx context.Context, roleID, permissionID int64) error {
	set, ok := s.rolePerms[roleID]
	if !ok {
		set = make(map[int64]struct{})
		s.rolePerms[roleID] = set
	}
	set[permissionID] = struct{}{}
	return nil
}

func (s *memStore) DetachPermission(ctx context.Context, roleID, permissionID int64) error {
	delete(s.rolePerms[roleID], permissionID)
	return nil
}

func (s *memStore) RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	var ids []int64
	for id := range s.rolePerms[roleID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *memStore) UpsertAssignment(ctx context.Context, userID, roleID int64, scope Scope) (RoleAssignment, error) {
	key := assignmentKey{userID: userID, roleID: roleID, scope: scope}
	if existing, ok := s.assignments[key]; ok {
		return existing, nil
	}
	a := RoleAssignment{ID: s.id(), UserID: userID, RoleID: roleID, Scope: scope, CreatedAt: time.Now()}
	s.assignments[key] = a
	return a, nil
}

func (s *memStore) DeleteAssignment(ctx context.Context, userID, roleID int64, scope Scope) (bool, error) {
	key := assignmentKey{userID: userID, roleID: roleID, scope: scope}
	if _, ok := s.assignments[key]; !ok {
		return false, nil
	}
	delete(s.assignments, key)
	return true, nil
}

func (s *memStore) AssignmentExists(ctx context.Context, userID, roleID int64, scope Scope) (bool, error) {
	_, ok := s.assignments[assignmentKey{userID: userID, roleID: roleID, scope: scope}]
	return ok, nil
}

func (s *memStore) ScopePermissionNames(ctx context.Context, userID int64, scope Scope) ([]string, error) {
	union := make(map[string]struct{})
	for key := range s.assignments {
		if key.userID != userID || key.scope != scope {
			continue
		}
		for permID := range s.rolePerms[key.roleID] {
			if p, ok := s.perms[permID]; ok {
				union[p.Name] = struct{}{}
			}
		}
	}
	names := make([]string, 0, len(union))
	for name := range union {
		names = append(names, name)
	}
	return names, nil
}

func (s *memStore) UpsertResourceGrant(ctx context.Context, userID int64, resourceType string, resourceID int64, permissions []string) error {
	key := aclKey{resourceType: resourceType, resourceID: resourceID, userID: userID}
	if _, ok := s.aclGrants[key]; !ok {
		s.aclOrder = append(s.aclOrder, key)
	}
	s.aclGrants[key] = append([]string(nil), permissions...)
	return nil
}

func (s *memStore) DeleteResourceGrant(ctx context.Context, userID int64, resourceType string, resourceID int64) (bool, error) {
	key := aclKey{resourceType: resourceType, resourceID: resourceID, userID: userID}
	if _, ok := s.aclGrants[key]; !ok {
		return false, nil
	}
	delete(s.aclGrants, key)
	for i, k := range s.aclOrder {
		if k == key {
			s.aclOrder = append(s.aclOrder[:i], s.aclOrder[i+1:]...)
			break
		}
	}
	return true, nil
}

func (s *memStore) GetResourceAcl(ctx context.Context, resourceType string, resourceID int64) (ResourceAcl, error) {
	acl := ResourceAcl{ResourceType: resourceType, ResourceID: resourceID}
	for _, key := range s.aclOrder {
		if key.resourceType != resourceType || key.resourceID != resourceID {
			continue
		}
		acl.Grants = append(acl.Grants, GrantEntry{
			UserID:      key.userID,
			Permissions: append([]string(nil), s.aclGrants[key]...),
		})
	}
	return acl, nil
}

func (s *memStore) clone() *memStore {
	out := newMemStore()
	out.nextID = s.nextID
	for id, p := range s.perms {
		out.perms[id] = p
	}
	for id, role := range s.roles {
		out.roles[id] = role
	}
	for roleID, set := range s.rolePerms {
		copied := make(map[int64]struct{}, len(set))
		for id := range set {
			copied[id] = struct{}{}
		}
		out.rolePerms[roleID] = copied
	}
	for key, a := range s.assignments {
		out.assignments[key] = a
	}
	for key, perms := range s.aclGrants {
		out.aclGrants[key] = append([]string(nil), perms...)
	}
	out.aclOrder = append([]aclKey(nil), s.aclOrder...)
	return out
}

// txMemRepo is a Repository whose WithTx runs fn against a snapshot and copies
// it back only on success, mimicking rollback on failure. wrap, when set,
// decorates the transactional store to inject failures mid-transaction.
type txMemRepo struct {
	*memStore
	wrap func(Store) Store
}

func (r *txMemRepo) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	snapshot := r.memStore.clone()
	var store Store = snapshot
	if r.wrap != nil {
		store = r.wrap(snapshot)
	}
	if err := fn(ctx, store); err != nil {
		return err
	}
	*r.memStore = *snapshot
	return nil
}

var (
	_ Store      = (*memStore)(nil)
	_ Repository = (*txMemRepo)(nil)
)

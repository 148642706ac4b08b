package rbac

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors surfaced by the authorization core.
var (
	// ErrNotFound indicates that a role or permission referenced by name or id does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrInvalidScope indicates a scope type without an id or an id without a type.
	ErrInvalidScope = errors.New("rbac: invalid scope")
	// ErrDuplicate indicates a unique key collision during create. Find-or-create
	// absorbs it; it never reaches callers of the catalog.
	ErrDuplicate = errors.New("rbac: duplicate")
)

// ScopeType narrows a role assignment to one organizational unit.
type ScopeType string

const (
	ScopeCompany ScopeType = "company"
	ScopeClient  ScopeType = "client"
	ScopeProject ScopeType = "project"
)

// Scope is a (type, id) pair. The zero value is the global scope.
type Scope struct {
	Type ScopeType
	ID   int64
}

// GlobalScope returns the scope of an unscoped assignment.
func GlobalScope() Scope {
	return Scope{}
}

// ScopeFor builds a scoped key.
func ScopeFor(t ScopeType, id int64) Scope {
	return Scope{Type: t, ID: id}
}

// IsGlobal reports whether the scope addresses the whole system.
func (s Scope) IsGlobal() bool {
	return s.Type == "" && s.ID == 0
}

// Validate rejects half-specified scopes before any write. Scoped ids must be
// positive; no tenant row carries a zero or negative id.
func (s Scope) Validate() error {
	if s.IsGlobal() {
		return nil
	}
	if s.Type == "" || s.ID <= 0 {
		return ErrInvalidScope
	}
	switch s.Type {
	case ScopeCompany, ScopeClient, ScopeProject:
		return nil
	default:
		return fmt.Errorf("%w: unknown scope type %q", ErrInvalidScope, s.Type)
	}
}

func (s Scope) String() string {
	if s.IsGlobal() {
		return "global"
	}
	return fmt.Sprintf("%s:%d", s.Type, s.ID)
}

// RoleRef identifies a role either by name or by a resolved id. It is
// resolved exactly once at the service boundary.
type RoleRef struct {
	name string
	id   int64
}

// RoleByName references a role by its (slug-normalized) name.
func RoleByName(name string) RoleRef {
	return RoleRef{name: name}
}

// RoleByID references an already resolved role.
func RoleByID(id int64) RoleRef {
	return RoleRef{id: id}
}

// Permission represents an atomic capability.
type Permission struct {
	ID          int64
	Name        string
	Description string
	Guard       string
	CreatedAt   time.Time
}

// Role groups permissions under a unique slug name.
type Role struct {
	ID            int64
	Name          string
	DisplayName   string
	Description   string
	PermissionIDs []int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RoleAssignment binds a user to a role within a scope.
type RoleAssignment struct {
	ID        int64
	UserID    int64
	RoleID    int64
	Scope     Scope
	CreatedAt time.Time
}

// GrantEntry is one user's permission set within a resource ACL.
type GrantEntry struct {
	UserID      int64
	Permissions []string
}

// ResourceAcl aggregates explicit per-user grants on a single resource.
type ResourceAcl struct {
	ResourceType string
	ResourceID   int64
	Grants       []GrantEntry
}

// Core action permissions seeded for every tenant administrator.
const (
	ActionList   = "list"
	ActionView   = "view"
	ActionCreate = "create"
	ActionModify = "modify"
	ActionDelete = "delete"
)

// AdministratorRole is the role bootstrapped for the first user of a tenant.
const AdministratorRole = "Administrator"

// CoreActions lists the permissions granted to tenant administrators.
func CoreActions() []string {
	return []string{ActionList, ActionView, ActionCreate, ActionModify, ActionDelete}
}

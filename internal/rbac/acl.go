package rbac

import (
	"context"
	"errors"
	"strings"
)

// ResourceAclService manages the per-resource permission overlay. Grants here
// are independent of role membership and override nothing: the engine consults
// them only when a scope check alone is insufficient.
type ResourceAclService struct {
	store Store
}

// NewResourceAclService constructs a ResourceAclService over the given store.
func NewResourceAclService(store Store) *ResourceAclService {
	return &ResourceAclService{store: store}
}

// Grant sets the user's permission list on a resource. The list is deduplicated
// and replaces any previous entry for that user; a resource holds at most one
// grant entry per user.
func (s *ResourceAclService) Grant(ctx context.Context, userID int64, resourceType string, resourceID int64, permissions []string) (ResourceAcl, error) {
	resourceType = strings.TrimSpace(resourceType)
	if resourceType == "" || resourceID == 0 {
		return ResourceAcl{}, errors.New("rbac: resource identity required")
	}
	deduped := dedupeStrings(permissions)
	if err := s.store.UpsertResourceGrant(ctx, userID, resourceType, resourceID, deduped); err != nil {
		return ResourceAcl{}, err
	}
	return s.store.GetResourceAcl(ctx, resourceType, resourceID)
}

// Revoke drops the user's entry from a resource ACL and reports whether one
// existed.
func (s *ResourceAclService) Revoke(ctx context.Context, userID int64, resourceType string, resourceID int64) (bool, error) {
	return s.store.DeleteResourceGrant(ctx, userID, resourceType, resourceID)
}

// Grants returns the stored grant entries for a resource in insertion order.
func (s *ResourceAclService) Grants(ctx context.Context, resourceType string, resourceID int64) ([]GrantEntry, error) {
	acl, err := s.store.GetResourceAcl(ctx, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	return acl.Grants, nil
}

// Allows reports whether the user holds the permission directly on the resource.
func (s *ResourceAclService) Allows(ctx context.Context, userID int64, resourceType string, resourceID int64, permission string) (bool, error) {
	acl, err := s.store.GetResourceAcl(ctx, resourceType, resourceID)
	if err != nil {
		return false, err
	}
	for _, entry := range acl.Grants {
		if entry.UserID != userID {
			continue
		}
		for _, p := range entry.Permissions {
			if p == permission {
				return true, nil
			}
		}
		return false, nil
	}
	return false, nil
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

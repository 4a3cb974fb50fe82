package authz

import (
	"context"
	"fmt"
)

// MaxChainDepth bounds role inheritance walks. Cycle detection catches loops;
// the depth cap additionally bounds resolution latency under corrupted data.
const MaxChainDepth = 32

// RoleSource provides role lookups for resolution
type RoleSource interface {
	GetRole(ctx context.Context, roleID string) (*Role, error)
}

// Resolver walks role inheritance chains and merges permission sets.
// The most specific role wins: a cell set on the leaf role is final, otherwise
// the nearest ancestor that sets it applies. Cells no role sets are denied.
type Resolver struct {
	roles RoleSource
}

// NewResolver creates a resolver over the given role source
func NewResolver(roles RoleSource) *Resolver {
	return &Resolver{roles: roles}
}

// chain returns the inheritance chain leaf-first. A revisited role ID or a
// dangling parent reference yields a ConfigurationError.
func (r *Resolver) chain(ctx context.Context, roleID string) ([]*Role, error) {
	visited := make(map[string]bool)
	var roles []*Role

	current := roleID
	for depth := 0; current != ""; depth++ {
		if depth >= MaxChainDepth {
			return nil, &ConfigurationError{
				RoleID: roleID,
				Reason: fmt.Sprintf("inheritance chain exceeds %d roles", MaxChainDepth),
			}
		}
		if visited[current] {
			return nil, &ConfigurationError{
				RoleID: roleID,
				Reason: fmt.Sprintf("inheritance cycle through role %s", current),
			}
		}
		visited[current] = true

		role, err := r.roles.GetRole(ctx, current)
		if err != nil {
			if IsNotFound(err) {
				return nil, &ConfigurationError{
					RoleID: roleID,
					Reason: fmt.Sprintf("dangling role reference %s", current),
				}
			}
			return nil, fmt.Errorf("failed to load role %s: %w", current, err)
		}

		roles = append(roles, role)
		if role.ParentRoleID == nil {
			break
		}
		current = *role.ParentRoleID
	}

	return roles, nil
}

// ResolveEffectivePermissions computes the merged permission set for a role.
// Ancestors apply first, then each descendant overrides the cells it sets
// explicitly, so the result is a fold from root to leaf.
func (r *Resolver) ResolveEffectivePermissions(ctx context.Context, roleID string) (PermissionSet, error) {
	roles, err := r.chain(ctx, roleID)
	if err != nil {
		return nil, err
	}

	merged := make(PermissionSet)
	for i := len(roles) - 1; i >= 0; i-- {
		for category, actions := range roles[i].Permissions {
			for action, allowed := range actions {
				merged.Set(category, action, allowed)
			}
		}
	}
	return merged, nil
}

// ResolveFieldAccess computes the effective access level for a single field.
// Same most-specific-wins merge as ResolveEffectivePermissions, scoped to one
// fieldPermissions cell. Unset anywhere in the chain defaults to editable:
// field permissions narrow coarse-grained access, they never grant it.
func (r *Resolver) ResolveFieldAccess(ctx context.Context, roleID, entityType, fieldName string) (FieldAccess, error) {
	roles, err := r.chain(ctx, roleID)
	if err != nil {
		return "", err
	}

	for _, role := range roles {
		if access, ok := role.FieldPermissions.Get(entityType, fieldName); ok {
			return access, nil
		}
	}
	return FieldEditable, nil
}

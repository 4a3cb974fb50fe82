package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltInRoles(t *testing.T) {
	seeds, err := BuiltInRoles()
	require.NoError(t, err)
	require.Len(t, seeds, 3)

	byName := make(map[string]SeedRole)
	for _, seed := range seeds {
		byName[seed.Name] = seed
	}

	viewer, ok := byName["viewer"]
	require.True(t, ok)
	assert.Empty(t, viewer.Parent)
	assert.True(t, viewer.System)

	editor, ok := byName["editor"]
	require.True(t, ok)
	assert.Equal(t, "viewer", editor.Parent)

	admin, ok := byName["administrator"]
	require.True(t, ok)
	assert.Equal(t, "editor", admin.Parent)
	assert.Greater(t, admin.Priority, editor.Priority)
	assert.Greater(t, editor.Priority, viewer.Priority)
}

func TestBuiltInRoles_PermissionsRegistered(t *testing.T) {
	seeds, err := BuiltInRoles()
	require.NoError(t, err)

	for _, seed := range seeds {
		for category, actions := range seed.Permissions {
			for action := range actions {
				assert.True(t, ValidActionKey(category, action),
					"role %s carries unregistered permission %s.%s", seed.Name, category, action)
			}
		}
	}
}

func TestBuiltInRoles_ChainResolves(t *testing.T) {
	// Load the seeds into an in-memory source keyed by name and verify the
	// administrator chain folds to the expected effective set.
	seeds, err := BuiltInRoles()
	require.NoError(t, err)

	src := &fakeRoleSource{roles: make(map[string]*Role)}
	for _, seed := range seeds {
		role := &Role{ID: seed.Name, Name: seed.Name, Permissions: make(PermissionSet)}
		if seed.Parent != "" {
			parent := seed.Parent
			role.ParentRoleID = &parent
		}
		for category, actions := range seed.Permissions {
			for action, allowed := range actions {
				role.Permissions.Set(category, action, allowed)
			}
		}
		src.roles[role.ID] = role
	}

	resolver := NewResolver(src)
	set, err := resolver.ResolveEffectivePermissions(context.Background(), "administrator")
	require.NoError(t, err)

	// Inherited from viewer
	assert.True(t, set.Allows(CategoryTasks, ActionView))
	// Inherited from editor
	assert.True(t, set.Allows(CategoryTasks, ActionDelete))
	// Own
	assert.True(t, set.Allows(CategoryAdmin, ActionManageRoles))
	assert.True(t, set.Allows(CategoryVentures, ActionViewFinancials))
	// Never granted anywhere in the chain
	assert.False(t, set.Allows(CategoryAnalytics, ActionCreate))
}

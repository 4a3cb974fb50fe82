package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidActionKey(t *testing.T) {
	tests := []struct {
		name     string
		category Category
		action   Action
		want     bool
	}{
		{"ventures view", CategoryVentures, ActionView, true},
		{"ventures financials", CategoryVentures, ActionViewFinancials, true},
		{"analytics export", CategoryAnalytics, ActionExport, true},
		{"analytics create not registered", CategoryAnalytics, ActionCreate, false},
		{"tasks chat not registered", CategoryTasks, ActionChat, false},
		{"unknown category", Category("billing"), ActionView, false},
		{"unknown action", CategoryTasks, Action("approve"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidActionKey(tt.category, tt.action))
		})
	}
}

func TestPermissionSet_GetSetAllows(t *testing.T) {
	ps := make(PermissionSet)

	// Missing cell is distinct from explicit false
	_, ok := ps.Get(CategoryTasks, ActionView)
	assert.False(t, ok)
	assert.False(t, ps.Allows(CategoryTasks, ActionView))

	ps.Set(CategoryTasks, ActionView, true)
	v, ok := ps.Get(CategoryTasks, ActionView)
	assert.True(t, ok)
	assert.True(t, v)
	assert.True(t, ps.Allows(CategoryTasks, ActionView))

	ps.Set(CategoryTasks, ActionDelete, false)
	v, ok = ps.Get(CategoryTasks, ActionDelete)
	assert.True(t, ok)
	assert.False(t, v)
	assert.False(t, ps.Allows(CategoryTasks, ActionDelete))
}

func TestPermissionSet_Clone(t *testing.T) {
	ps := make(PermissionSet)
	ps.Set(CategoryDocuments, ActionEdit, true)

	clone := ps.Clone()
	clone.Set(CategoryDocuments, ActionEdit, false)
	clone.Set(CategoryDocuments, ActionDelete, true)

	assert.True(t, ps.Allows(CategoryDocuments, ActionEdit))
	_, ok := ps.Get(CategoryDocuments, ActionDelete)
	assert.False(t, ok)
}

func TestAccessLevel_Covers(t *testing.T) {
	assert.True(t, AccessAdmin.Covers(AccessView))
	assert.True(t, AccessAdmin.Covers(AccessEdit))
	assert.True(t, AccessAdmin.Covers(AccessAdmin))
	assert.True(t, AccessEdit.Covers(AccessView))
	assert.False(t, AccessEdit.Covers(AccessAdmin))
	assert.False(t, AccessView.Covers(AccessEdit))
	assert.True(t, AccessView.Covers(AccessView))
}

func TestAccessLevel_Valid(t *testing.T) {
	assert.True(t, AccessView.Valid())
	assert.True(t, AccessEdit.Valid())
	assert.True(t, AccessAdmin.Valid())
	assert.False(t, AccessLevel("owner").Valid())
	assert.False(t, AccessLevel("").Valid())
}

func TestRequiredLevel(t *testing.T) {
	assert.Equal(t, AccessView, RequiredLevel(ActionView))
	assert.Equal(t, AccessView, RequiredLevel(ActionViewFinancials))
	assert.Equal(t, AccessView, RequiredLevel(ActionExport))
	assert.Equal(t, AccessEdit, RequiredLevel(ActionCreate))
	assert.Equal(t, AccessEdit, RequiredLevel(ActionEdit))
	assert.Equal(t, AccessEdit, RequiredLevel(ActionDelete))
	assert.Equal(t, AccessAdmin, RequiredLevel(ActionManageRoles))
	assert.Equal(t, AccessAdmin, RequiredLevel(ActionManageUsers))
}

func TestResourceGrant_Matches(t *testing.T) {
	grant := &ResourceGrant{
		UserEmail:    "user@example.com",
		ResourceType: "Venture",
		ResourceID:   "v-1",
		ActionScope:  "ventures",
		AccessLevel:  AccessEdit,
	}

	t.Run("matching resource and scope", func(t *testing.T) {
		assert.True(t, grant.Matches("Venture", "v-1", CategoryVentures, ActionEdit))
		assert.True(t, grant.Matches("Venture", "v-1", CategoryVentures, ActionView))
	})

	t.Run("level not covered", func(t *testing.T) {
		assert.False(t, grant.Matches("Venture", "v-1", CategoryVentures, ActionManageRoles))
	})

	t.Run("wrong resource", func(t *testing.T) {
		assert.False(t, grant.Matches("Venture", "v-2", CategoryVentures, ActionView))
		assert.False(t, grant.Matches("Task", "v-1", CategoryVentures, ActionView))
	})

	t.Run("wrong category scope", func(t *testing.T) {
		assert.False(t, grant.Matches("Venture", "v-1", CategoryTasks, ActionView))
	})

	t.Run("all scope matches any category", func(t *testing.T) {
		wide := &ResourceGrant{
			ResourceType: "Venture",
			ResourceID:   "v-1",
			ActionScope:  ScopeAll,
			AccessLevel:  AccessAdmin,
		}
		assert.True(t, wide.Matches("Venture", "v-1", CategoryTasks, ActionDelete))
		assert.True(t, wide.Matches("Venture", "v-1", CategoryAdmin, ActionManageUsers))
	})
}

func TestFieldAccess_Valid(t *testing.T) {
	assert.True(t, FieldHidden.Valid())
	assert.True(t, FieldReadOnly.Valid())
	assert.True(t, FieldEditable.Valid())
	assert.False(t, FieldAccess("writable").Valid())
}

func TestFieldPermissions_Get(t *testing.T) {
	fp := FieldPermissions{
		"Venture": {"valuation": FieldHidden},
	}

	access, ok := fp.Get("Venture", "valuation")
	assert.True(t, ok)
	assert.Equal(t, FieldHidden, access)

	_, ok = fp.Get("Venture", "name")
	assert.False(t, ok)

	_, ok = fp.Get("Task", "valuation")
	assert.False(t, ok)
}

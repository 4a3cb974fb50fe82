package authz

import (
	"time"
)

// Category represents a coarse permission domain
type Category string

const (
	CategoryVentures      Category = "ventures"
	CategoryTasks         Category = "tasks"
	CategoryDocuments     Category = "documents"
	CategoryCollaboration Category = "collaboration"
	CategoryAnalytics     Category = "analytics"
	CategoryAdmin         Category = "admin"
)

// Action represents an operation within a category
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"

	// Category-specific actions
	ActionViewFinancials Action = "view_financials"
	ActionExport         Action = "export"
	ActionChat           Action = "chat"
	ActionManageRoles    Action = "manage_roles"
	ActionManageUsers    Action = "manage_users"
)

// actionRegistry is the closed set of valid (category, action) pairs.
// Writes outside the registry are rejected; decisions outside it are denied.
var actionRegistry = map[Category][]Action{
	CategoryVentures:      {ActionView, ActionCreate, ActionEdit, ActionDelete, ActionViewFinancials},
	CategoryTasks:         {ActionView, ActionCreate, ActionEdit, ActionDelete},
	CategoryDocuments:     {ActionView, ActionCreate, ActionEdit, ActionDelete},
	CategoryCollaboration: {ActionView, ActionCreate, ActionEdit, ActionDelete, ActionChat},
	CategoryAnalytics:     {ActionView, ActionExport},
	CategoryAdmin:         {ActionView, ActionEdit, ActionManageRoles, ActionManageUsers},
}

// Categories returns all registered permission categories
func Categories() []Category {
	out := make([]Category, 0, len(actionRegistry))
	for c := range actionRegistry {
		out = append(out, c)
	}
	return out
}

// ActionsFor returns the registered actions for a category
func ActionsFor(category Category) []Action {
	return actionRegistry[category]
}

// ValidActionKey reports whether (category, action) is a registered pair
func ValidActionKey(category Category, action Action) bool {
	for _, a := range actionRegistry[category] {
		if a == action {
			return true
		}
	}
	return false
}

// PermissionSet maps category and action to an explicit allow/deny flag.
// A missing cell is distinct from an explicit false: missing falls through
// to ancestor roles during resolution and ultimately defaults to deny.
type PermissionSet map[Category]map[Action]bool

// Get returns the flag for (category, action) and whether it is set
func (ps PermissionSet) Get(category Category, action Action) (bool, bool) {
	actions, ok := ps[category]
	if !ok {
		return false, false
	}
	v, ok := actions[action]
	return v, ok
}

// Set sets the flag for (category, action)
func (ps PermissionSet) Set(category Category, action Action, allowed bool) {
	if ps[category] == nil {
		ps[category] = make(map[Action]bool)
	}
	ps[category][action] = allowed
}

// Allows reports whether (category, action) is explicitly allowed
func (ps PermissionSet) Allows(category Category, action Action) bool {
	v, ok := ps.Get(category, action)
	return ok && v
}

// Clone returns a deep copy of the permission set
func (ps PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(ps))
	for c, actions := range ps {
		out[c] = make(map[Action]bool, len(actions))
		for a, v := range actions {
			out[c][a] = v
		}
	}
	return out
}

// FieldAccess represents per-field access restrictions
type FieldAccess string

const (
	FieldHidden   FieldAccess = "hidden"
	FieldReadOnly FieldAccess = "read_only"
	FieldEditable FieldAccess = "editable"
)

// Valid reports whether the field access value is one of the known levels
func (f FieldAccess) Valid() bool {
	switch f {
	case FieldHidden, FieldReadOnly, FieldEditable:
		return true
	}
	return false
}

// FieldPermissions maps entity type to field name to access level.
// Fields not listed are editable; field permissions only narrow what the
// category/action permissions already allow.
type FieldPermissions map[string]map[string]FieldAccess

// Get returns the access level for (entityType, fieldName) and whether it is set
func (fp FieldPermissions) Get(entityType, fieldName string) (FieldAccess, bool) {
	fields, ok := fp[entityType]
	if !ok {
		return "", false
	}
	v, ok := fields[fieldName]
	return v, ok
}

// AccessLevel represents the strength of a resource grant
type AccessLevel string

const (
	AccessView  AccessLevel = "view"
	AccessEdit  AccessLevel = "edit"
	AccessAdmin AccessLevel = "admin"
)

// rank orders access levels: view < edit < admin
func (l AccessLevel) rank() int {
	switch l {
	case AccessView:
		return 1
	case AccessEdit:
		return 2
	case AccessAdmin:
		return 3
	}
	return 0
}

// Valid reports whether the access level is one of the known levels
func (l AccessLevel) Valid() bool {
	return l.rank() > 0
}

// Covers reports whether this level satisfies a request requiring the other.
// admin covers edit covers view.
func (l AccessLevel) Covers(required AccessLevel) bool {
	return l.rank() >= required.rank()
}

// RequiredLevel maps an action to the grant access level that satisfies it
func RequiredLevel(action Action) AccessLevel {
	switch action {
	case ActionView, ActionViewFinancials, ActionExport:
		return AccessView
	case ActionManageRoles, ActionManageUsers:
		return AccessAdmin
	default:
		return AccessEdit
	}
}

// ScopeAll matches grants that apply to every action scope on a resource
const ScopeAll = "all"

// Role is a named bundle of category/action permissions and field permissions,
// optionally inheriting from a single parent role.
type Role struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Description      string           `json:"description,omitempty"`
	ParentRoleID     *string          `json:"parent_role_id,omitempty"`
	Permissions      PermissionSet    `json:"permissions"`
	FieldPermissions FieldPermissions `json:"field_permissions,omitempty"`
	Priority         int              `json:"priority"`
	IsSystemRole     bool             `json:"is_system_role"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// ResourceGrant is a direct, resource-scoped permission independent of role.
// Grants are additive only: they can widen what a role allows, never narrow it.
// Grants are never updated in place; a change is a revoke plus a new grant.
type ResourceGrant struct {
	ID           string      `json:"id"`
	UserEmail    string      `json:"user_email"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id"`
	ActionScope  string      `json:"action_scope"`
	AccessLevel  AccessLevel `json:"access_level"`
	GrantedBy    string      `json:"granted_by"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Matches reports whether the grant applies to (resourceType, resourceID)
// for the given category and covers the level the action requires.
func (g *ResourceGrant) Matches(resourceType, resourceID string, category Category, action Action) bool {
	if g.ResourceType != resourceType || g.ResourceID != resourceID {
		return false
	}
	if g.ActionScope != ScopeAll && g.ActionScope != string(category) {
		return false
	}
	return g.AccessLevel.Covers(RequiredLevel(action))
}

// DecisionRequest describes a single permission question
type DecisionRequest struct {
	UserEmail    string   `json:"user_email"`
	ResourceType string   `json:"resource_type"`
	ResourceID   string   `json:"resource_id"`
	Category     Category `json:"category"`
	Action       Action   `json:"action"`
	Field        string   `json:"field,omitempty"`
}

// Decision is the outcome of evaluating a DecisionRequest
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

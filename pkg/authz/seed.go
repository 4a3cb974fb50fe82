package authz

import (
	"context"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed builtin_roles.yaml
var builtinRolesYAML []byte

type seedFile struct {
	Roles []SeedRole `yaml:"roles"`
}

// SeedRole is a built-in role definition loaded from the embedded seed file
type SeedRole struct {
	Name        string                       `yaml:"name"`
	Description string                       `yaml:"description"`
	Parent      string                       `yaml:"parent"`
	Priority    int                          `yaml:"priority"`
	System      bool                         `yaml:"system"`
	Permissions map[Category]map[Action]bool `yaml:"permissions"`
}

// BuiltInRoles returns the system role definitions shipped with the engine.
// Parent references are by name and resolved during seeding.
func BuiltInRoles() ([]SeedRole, error) {
	var file seedFile
	if err := yaml.Unmarshal(builtinRolesYAML, &file); err != nil {
		return nil, fmt.Errorf("failed to parse built-in roles: %w", err)
	}
	return file.Roles, nil
}

// SeedBuiltInRoles installs the system roles if they do not already exist.
// Safe to run on every startup.
func SeedBuiltInRoles(ctx context.Context, store *Store) error {
	seeds, err := BuiltInRoles()
	if err != nil {
		return err
	}

	for _, seed := range seeds {
		if _, err := store.GetRoleByName(ctx, seed.Name); err == nil {
			continue
		} else if !IsNotFound(err) {
			return fmt.Errorf("failed to check role %s: %w", seed.Name, err)
		}

		role := &Role{
			Name:         seed.Name,
			Description:  seed.Description,
			Permissions:  make(PermissionSet),
			Priority:     seed.Priority,
			IsSystemRole: seed.System,
		}
		for category, actions := range seed.Permissions {
			for action, allowed := range actions {
				if !ValidActionKey(category, action) {
					return fmt.Errorf("built-in role %s has unregistered permission %s.%s", seed.Name, category, action)
				}
				role.Permissions.Set(category, action, allowed)
			}
		}

		if seed.Parent != "" {
			parent, err := store.GetRoleByName(ctx, seed.Parent)
			if err != nil {
				return fmt.Errorf("built-in role %s references unknown parent %s: %w", seed.Name, seed.Parent, err)
			}
			role.ParentRoleID = &parent.ID
		}

		if err := store.CreateRole(ctx, role); err != nil {
			return fmt.Errorf("failed to create built-in role %s: %w", seed.Name, err)
		}
	}

	return nil
}

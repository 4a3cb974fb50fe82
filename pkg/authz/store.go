package authz

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store handles role, grant and user-reference persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new authorization store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const roleColumns = `id, name, description, parent_role_id, permissions, field_permissions, priority, is_system_role, created_at, updated_at`

// CreateRole inserts a new role. An ID is assigned if the role has none.
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}
	fieldPermissionsJSON, err := json.Marshal(role.FieldPermissions)
	if err != nil {
		return fmt.Errorf("failed to marshal field permissions: %w", err)
	}

	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now

	query := `
		INSERT INTO roles (id, name, description, parent_role_id, permissions, field_permissions, priority, is_system_role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(ctx, query,
		role.ID,
		role.Name,
		role.Description,
		role.ParentRoleID,
		string(permissionsJSON),
		string(fieldPermissionsJSON),
		role.Priority,
		role.IsSystemRole,
		role.CreatedAt,
		role.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return &ValidationError{Field: "name", Reason: "role name already exists"}
		}
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, roleID string) (*Role, error) {
	query := fmt.Sprintf(`SELECT %s FROM roles WHERE id = $1`, roleColumns)
	role, err := scanRole(s.db.QueryRowContext(ctx, query, roleID))
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "role", ID: roleID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// GetRoleByName retrieves a role by its unique name
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	query := fmt.Sprintf(`SELECT %s FROM roles WHERE name = $1`, roleColumns)
	role, err := scanRole(s.db.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "role", ID: name}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// ListRoles lists all roles, highest priority first
func (s *Store) ListRoles(ctx context.Context) ([]*Role, error) {
	query := fmt.Sprintf(`SELECT %s FROM roles ORDER BY priority DESC, name ASC`, roleColumns)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// UpdateRole updates an existing role
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}
	fieldPermissionsJSON, err := json.Marshal(role.FieldPermissions)
	if err != nil {
		return fmt.Errorf("failed to marshal field permissions: %w", err)
	}

	role.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE roles
		SET name = $1, description = $2, parent_role_id = $3, permissions = $4, field_permissions = $5, priority = $6, updated_at = $7
		WHERE id = $8
	`
	result, err := s.db.ExecContext(ctx, query,
		role.Name,
		role.Description,
		role.ParentRoleID,
		string(permissionsJSON),
		string(fieldPermissionsJSON),
		role.Priority,
		role.UpdatedAt,
		role.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{Kind: "role", ID: role.ID}
	}
	return nil
}

// DeleteRole deletes a role by ID. Referential and system-role checks are
// enforced by the admin service before this is called.
func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{Kind: "role", ID: roleID}
	}
	return nil
}

// CountUsersWithRole returns the number of user references to a role
func (s *Store) CountUsersWithRole(ctx context.Context, roleID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_accounts WHERE role_id = $1`, roleID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count role references: %w", err)
	}
	return count, nil
}

// CountChildRoles returns the number of roles inheriting from a role
func (s *Store) CountChildRoles(ctx context.Context, roleID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM roles WHERE parent_role_id = $1`, roleID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count child roles: %w", err)
	}
	return count, nil
}

const grantColumns = `id, user_email, resource_type, resource_id, action_scope, access_level, granted_by, created_at`

// CreateGrant inserts a new resource grant. An ID is assigned if empty.
func (s *Store) CreateGrant(ctx context.Context, grant *ResourceGrant) error {
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	grant.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO resource_grants (id, user_email, resource_type, resource_id, action_scope, access_level, granted_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		grant.ID,
		grant.UserEmail,
		grant.ResourceType,
		grant.ResourceID,
		grant.ActionScope,
		grant.AccessLevel,
		grant.GrantedBy,
		grant.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create grant: %w", err)
	}
	return nil
}

// GetGrant retrieves a grant by ID
func (s *Store) GetGrant(ctx context.Context, grantID string) (*ResourceGrant, error) {
	query := fmt.Sprintf(`SELECT %s FROM resource_grants WHERE id = $1`, grantColumns)
	grant, err := scanGrant(s.db.QueryRowContext(ctx, query, grantID))
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "grant", ID: grantID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	return grant, nil
}

// DeleteGrant removes a grant by ID
func (s *Store) DeleteGrant(ctx context.Context, grantID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM resource_grants WHERE id = $1`, grantID)
	if err != nil {
		return fmt.Errorf("failed to delete grant: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{Kind: "grant", ID: grantID}
	}
	return nil
}

// FindGrants returns all grants a user holds on a specific resource
func (s *Store) FindGrants(ctx context.Context, userEmail, resourceType, resourceID string) ([]*ResourceGrant, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM resource_grants
		WHERE user_email = $1 AND resource_type = $2 AND resource_id = $3
		ORDER BY created_at ASC
	`, grantColumns)
	return s.queryGrants(ctx, query, userEmail, resourceType, resourceID)
}

// ListGrantsForUser returns every grant held by a user
func (s *Store) ListGrantsForUser(ctx context.Context, userEmail string) ([]*ResourceGrant, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM resource_grants
		WHERE user_email = $1
		ORDER BY created_at ASC
	`, grantColumns)
	return s.queryGrants(ctx, query, userEmail)
}

func (s *Store) queryGrants(ctx context.Context, query string, args ...interface{}) ([]*ResourceGrant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query grants: %w", err)
	}
	defer rows.Close()

	var grants []*ResourceGrant
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

// RoleIDForEmail returns the role assigned to a user, or a NotFoundError if
// the user has no row in the reference table.
func (s *Store) RoleIDForEmail(ctx context.Context, email string) (string, error) {
	var roleID sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT role_id FROM user_accounts WHERE email = $1`, email).Scan(&roleID)
	if err == sql.ErrNoRows {
		return "", &NotFoundError{Kind: "user", ID: email}
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up user role: %w", err)
	}
	if !roleID.Valid {
		return "", nil
	}
	return roleID.String, nil
}

// AssignRole sets the role reference for a user, creating the row if needed
func (s *Store) AssignRole(ctx context.Context, email, roleID string) error {
	query := `
		INSERT INTO user_accounts (email, role_id)
		VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET role_id = EXCLUDED.role_id
	`
	if _, err := s.db.ExecContext(ctx, query, email, roleID); err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(scanner rowScanner) (*Role, error) {
	var role Role
	var description sql.NullString
	var parentRoleID sql.NullString
	var permissionsJSON, fieldPermissionsJSON []byte

	err := scanner.Scan(
		&role.ID,
		&role.Name,
		&description,
		&parentRoleID,
		&permissionsJSON,
		&fieldPermissionsJSON,
		&role.Priority,
		&role.IsSystemRole,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	role.Description = description.String
	if parentRoleID.Valid {
		id := parentRoleID.String
		role.ParentRoleID = &id
	}

	role.Permissions = make(PermissionSet)
	if len(permissionsJSON) > 0 {
		if err := json.Unmarshal(permissionsJSON, &role.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
	}
	if len(fieldPermissionsJSON) > 0 {
		if err := json.Unmarshal(fieldPermissionsJSON, &role.FieldPermissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal field permissions: %w", err)
		}
	}
	return &role, nil
}

func scanGrant(scanner rowScanner) (*ResourceGrant, error) {
	var grant ResourceGrant
	err := scanner.Scan(
		&grant.ID,
		&grant.UserEmail,
		&grant.ResourceType,
		&grant.ResourceID,
		&grant.ActionScope,
		&grant.AccessLevel,
		&grant.GrantedBy,
		&grant.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

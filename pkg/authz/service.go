package authz

import (
	"context"
	"encoding/json"
	"time"

	"github.com/launchdesk/gatekeeper/pkg/audit"
	"github.com/launchdesk/gatekeeper/pkg/observability"
)

// RetryConfig bounds audit write retries after a committed mutation
type RetryConfig struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryConfig returns the default audit retry policy
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 3, Backoff: 100 * time.Millisecond}
}

// Service is the admin-facing write API for roles and grants. Every mutation
// commits first, then writes exactly one audit record; an audit failure never
// rolls the mutation back, it surfaces as an AuditWriteError so the caller
// can retry the audit write or alert an operator.
type Service struct {
	store    *Store
	recorder audit.Recorder
	cache    *PermissionCache
	logger   *observability.Logger
	metrics  *observability.Metrics
	retry    RetryConfig
}

// NewService creates the admin service
func NewService(store *Store, recorder audit.Recorder, cache *PermissionCache, logger *observability.Logger, metrics *observability.Metrics, retry RetryConfig) *Service {
	if retry.Attempts <= 0 {
		retry = DefaultRetryConfig()
	}
	return &Service{
		store:    store,
		recorder: recorder,
		cache:    cache,
		logger:   logger,
		metrics:  metrics,
		retry:    retry,
	}
}

// CreateRoleInput is the payload for CreateRole
type CreateRoleInput struct {
	Name             string           `json:"name"`
	Description      string           `json:"description"`
	ParentRoleID     *string          `json:"parent_role_id,omitempty"`
	Permissions      PermissionSet    `json:"permissions"`
	FieldPermissions FieldPermissions `json:"field_permissions,omitempty"`
	Priority         int              `json:"priority"`
}

// UpdateRoleInput is the payload for UpdateRole
type UpdateRoleInput struct {
	Description      string           `json:"description"`
	ParentRoleID     *string          `json:"parent_role_id,omitempty"`
	Permissions      PermissionSet    `json:"permissions"`
	FieldPermissions FieldPermissions `json:"field_permissions,omitempty"`
	Priority         int              `json:"priority"`
}

// GrantInput is the payload for Grant
type GrantInput struct {
	UserEmail    string      `json:"user_email"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id"`
	ActionScope  string      `json:"action_scope"`
	AccessLevel  AccessLevel `json:"access_level"`
}

// CreateRole validates and creates a role, then records the creation
func (s *Service) CreateRole(ctx context.Context, input CreateRoleInput, performedBy string) (*Role, error) {
	if input.Name == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if err := validatePermissions(input.Permissions); err != nil {
		return nil, err
	}
	if err := validateFieldPermissions(input.FieldPermissions); err != nil {
		return nil, err
	}
	if input.ParentRoleID != nil {
		if _, err := s.store.GetRole(ctx, *input.ParentRoleID); err != nil {
			if IsNotFound(err) {
				return nil, &ValidationError{Field: "parent_role_id", Reason: "parent role does not exist"}
			}
			return nil, err
		}
	}

	role := &Role{
		Name:             input.Name,
		Description:      input.Description,
		ParentRoleID:     input.ParentRoleID,
		Permissions:      input.Permissions,
		FieldPermissions: input.FieldPermissions,
		Priority:         input.Priority,
	}
	if role.Permissions == nil {
		role.Permissions = make(PermissionSet)
	}

	if err := s.store.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	s.invalidate(ctx)

	err := s.recordAudit(ctx, audit.ActionRoleCreated, "Role", role.ID, performedBy, nil, snapshot(role))
	return role, err
}

// UpdateRole validates and applies changes to a role, then records the
// update with before and after snapshots.
func (s *Service) UpdateRole(ctx context.Context, roleID string, input UpdateRoleInput, performedBy string) (*Role, error) {
	before, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if err := validatePermissions(input.Permissions); err != nil {
		return nil, err
	}
	if err := validateFieldPermissions(input.FieldPermissions); err != nil {
		return nil, err
	}
	if input.ParentRoleID != nil {
		if *input.ParentRoleID == roleID {
			return nil, &ValidationError{Field: "parent_role_id", Reason: "role cannot be its own parent"}
		}
		if err := s.checkNoCycle(ctx, roleID, *input.ParentRoleID); err != nil {
			return nil, err
		}
	}

	updated := *before
	updated.Description = input.Description
	updated.ParentRoleID = input.ParentRoleID
	updated.Permissions = input.Permissions
	updated.FieldPermissions = input.FieldPermissions
	updated.Priority = input.Priority
	if updated.Permissions == nil {
		updated.Permissions = make(PermissionSet)
	}

	if err := s.store.UpdateRole(ctx, &updated); err != nil {
		return nil, err
	}
	s.invalidate(ctx)

	err = s.recordAudit(ctx, audit.ActionRoleUpdated, "Role", roleID, performedBy, snapshot(before), snapshot(&updated))
	return &updated, err
}

// DeleteRole removes a role after system-role and referential checks, then
// records the deletion.
func (s *Service) DeleteRole(ctx context.Context, roleID, performedBy string) error {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystemRole {
		return &ValidationError{Field: "id", Reason: "system roles cannot be deleted"}
	}

	users, err := s.store.CountUsersWithRole(ctx, roleID)
	if err != nil {
		return err
	}
	if users > 0 {
		return &ValidationError{Field: "id", Reason: "role is assigned to active users"}
	}

	children, err := s.store.CountChildRoles(ctx, roleID)
	if err != nil {
		return err
	}
	if children > 0 {
		return &ValidationError{Field: "id", Reason: "role is the parent of other roles"}
	}

	if err := s.store.DeleteRole(ctx, roleID); err != nil {
		return err
	}
	s.invalidate(ctx)

	return s.recordAudit(ctx, audit.ActionRoleDeleted, "Role", roleID, performedBy, snapshot(role), nil)
}

// GetRole retrieves a single role
func (s *Service) GetRole(ctx context.Context, roleID string) (*Role, error) {
	return s.store.GetRole(ctx, roleID)
}

// ListRoles lists all roles
func (s *Service) ListRoles(ctx context.Context) ([]*Role, error) {
	return s.store.ListRoles(ctx)
}

// Grant creates a resource grant and records it. Grants are never updated:
// a change is modeled as revoke plus grant so the audit trail stays
// unambiguous.
func (s *Service) Grant(ctx context.Context, input GrantInput, performedBy string) (*ResourceGrant, error) {
	if input.UserEmail == "" {
		return nil, &ValidationError{Field: "user_email", Reason: "must not be empty"}
	}
	if input.ResourceType == "" || input.ResourceID == "" {
		return nil, &ValidationError{Field: "resource", Reason: "resource_type and resource_id are required"}
	}
	if !input.AccessLevel.Valid() {
		return nil, &ValidationError{Field: "access_level", Reason: "must be view, edit or admin"}
	}
	if input.ActionScope != ScopeAll && !ValidActionKey(Category(input.ActionScope), ActionView) {
		return nil, &ValidationError{Field: "action_scope", Reason: "must be a registered category or all"}
	}

	grant := &ResourceGrant{
		UserEmail:    input.UserEmail,
		ResourceType: input.ResourceType,
		ResourceID:   input.ResourceID,
		ActionScope:  input.ActionScope,
		AccessLevel:  input.AccessLevel,
		GrantedBy:    performedBy,
	}
	if err := s.store.CreateGrant(ctx, grant); err != nil {
		return nil, err
	}

	err := s.recordAudit(ctx, audit.ActionGrantCreated, "ResourceGrant", grant.ID, performedBy, nil, snapshot(grant))
	return grant, err
}

// Revoke deletes a resource grant and records the deletion
func (s *Service) Revoke(ctx context.Context, grantID, performedBy string) error {
	grant, err := s.store.GetGrant(ctx, grantID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteGrant(ctx, grantID); err != nil {
		return err
	}
	return s.recordAudit(ctx, audit.ActionGrantDeleted, "ResourceGrant", grantID, performedBy, snapshot(grant), nil)
}

// ListGrantsForUser returns every grant held by a user
func (s *Service) ListGrantsForUser(ctx context.Context, userEmail string) ([]*ResourceGrant, error) {
	return s.store.ListGrantsForUser(ctx, userEmail)
}

// checkNoCycle verifies that pointing roleID at newParentID keeps the
// inheritance chain acyclic by walking up from the proposed parent.
func (s *Service) checkNoCycle(ctx context.Context, roleID, newParentID string) error {
	current := newParentID
	for depth := 0; current != ""; depth++ {
		if depth >= MaxChainDepth {
			return &ValidationError{Field: "parent_role_id", Reason: "inheritance chain too deep"}
		}
		if current == roleID {
			return &ValidationError{Field: "parent_role_id", Reason: "would create an inheritance cycle"}
		}
		parent, err := s.store.GetRole(ctx, current)
		if err != nil {
			if IsNotFound(err) {
				return &ValidationError{Field: "parent_role_id", Reason: "parent role does not exist"}
			}
			return err
		}
		if parent.ParentRoleID == nil {
			break
		}
		current = *parent.ParentRoleID
	}
	return nil
}

// recordAudit appends one audit record for a committed mutation, retrying
// a bounded number of times before giving up with an AuditWriteError.
func (s *Service) recordAudit(ctx context.Context, actionType audit.ActionType, entityType, entityID, performedBy string, before, after map[string]interface{}) error {
	record := &audit.Record{
		ActionType:  actionType,
		EntityType:  entityType,
		EntityID:    entityID,
		PerformedBy: performedBy,
		Changes:     &audit.Changes{Before: before, After: after},
		Timestamp:   time.Now().UTC(),
	}

	var lastErr error
	for attempt := 1; attempt <= s.retry.Attempts; attempt++ {
		if lastErr = s.recorder.Record(ctx, record); lastErr == nil {
			if s.metrics != nil {
				s.metrics.AuditRecordsTotal.WithLabelValues(string(actionType)).Inc()
			}
			return nil
		}
		if attempt < s.retry.Attempts {
			select {
			case <-time.After(s.retry.Backoff * time.Duration(attempt)):
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = s.retry.Attempts
			}
		}
	}

	if s.metrics != nil {
		s.metrics.AuditWriteFailuresTotal.Inc()
	}
	if s.logger != nil {
		s.logger.WithError(lastErr).
			WithField("action_type", string(actionType)).
			WithField("entity_id", entityID).
			Error("audit write failed after retries, mutation stands")
	}
	return &AuditWriteError{Attempts: s.retry.Attempts, Err: lastErr}
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.Bump(ctx)
	}
}

func validatePermissions(set PermissionSet) error {
	for category, actions := range set {
		for action := range actions {
			if !ValidActionKey(category, action) {
				return &ValidationError{
					Field:  "permissions",
					Reason: string(category) + "." + string(action) + " is not a registered permission",
				}
			}
		}
	}
	return nil
}

func validateFieldPermissions(fp FieldPermissions) error {
	for entityType, fields := range fp {
		for fieldName, access := range fields {
			if !access.Valid() {
				return &ValidationError{
					Field:  "field_permissions",
					Reason: entityType + "." + fieldName + " has invalid access level " + string(access),
				}
			}
		}
	}
	return nil
}

// snapshot captures an entity as a generic map for audit before/after fields
func snapshot(v interface{}) map[string]interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

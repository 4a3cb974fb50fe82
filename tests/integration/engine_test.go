package integration

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/launchdesk/gatekeeper/pkg/audit"
	"github.com/launchdesk/gatekeeper/pkg/authz"
)

// setupEngine starts a throwaway PostgreSQL container and wires a fully
// initialized permission engine against it.
func setupEngine(t *testing.T) (*authz.Manager, *audit.QueryService, *sql.DB) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("gatekeeper"),
		tcpostgres.WithUsername("gatekeeper"),
		tcpostgres.WithPassword("gatekeeper"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Ping())

	recorder, err := audit.NewDBRecorder(db)
	require.NoError(t, err)

	manager := authz.NewManager(db, recorder, nil, nil, nil, authz.DefaultConfig())
	require.NoError(t, manager.Initialize(ctx))

	return manager, audit.NewQueryService(db), db
}

func TestEngine_BuiltInRolesSeeded(t *testing.T) {
	manager, _, _ := setupEngine(t)
	ctx := context.Background()

	stats, err := manager.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.SystemRoles)

	// Seeding is idempotent across restarts
	require.NoError(t, manager.Initialize(ctx))
	stats, err = manager.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.SystemRoles)

	// The administrator chain resolves through editor and viewer
	admin, err := manager.GetStore().GetRoleByName(ctx, "administrator")
	require.NoError(t, err)
	require.NoError(t, manager.GetStore().AssignRole(ctx, "root@example.com", admin.ID))

	decision := manager.Decide(ctx, authz.DecisionRequest{
		UserEmail:    "root@example.com",
		ResourceType: "Task",
		ResourceID:   "t-1",
		Category:     authz.CategoryTasks,
		Action:       authz.ActionView,
	})
	assert.True(t, decision.Allowed)
}

func TestEngine_RoleLifecycleWithAuditTrail(t *testing.T) {
	manager, query, _ := setupEngine(t)
	ctx := context.Background()
	service := manager.GetService()

	permissions := make(authz.PermissionSet)
	permissions.Set(authz.CategoryDocuments, authz.ActionView, true)
	permissions.Set(authz.CategoryDocuments, authz.ActionEdit, true)

	role, err := service.CreateRole(ctx, authz.CreateRoleInput{
		Name:        "doc-editor",
		Description: "Edits documents",
		Permissions: permissions,
	}, "admin@example.com")
	require.NoError(t, err)

	updatedPerms := permissions.Clone()
	updatedPerms.Set(authz.CategoryDocuments, authz.ActionDelete, true)
	_, err = service.UpdateRole(ctx, role.ID, authz.UpdateRoleInput{
		Description: "Edits and deletes documents",
		Permissions: updatedPerms,
	}, "admin@example.com")
	require.NoError(t, err)

	require.NoError(t, service.DeleteRole(ctx, role.ID, "admin@example.com"))

	// Every mutation produced exactly one record, in mutation order
	history, err := query.History(ctx, "Role", role.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, audit.ActionRoleCreated, history[0].ActionType)
	assert.Equal(t, audit.ActionRoleUpdated, history[1].ActionType)
	assert.Equal(t, audit.ActionRoleDeleted, history[2].ActionType)
	assert.True(t, history[0].ID < history[1].ID)
	assert.True(t, history[1].ID < history[2].ID)

	// The update carries both snapshots
	require.NotNil(t, history[1].Changes)
	assert.NotNil(t, history[1].Changes.Before)
	assert.NotNil(t, history[1].Changes.After)
	// The delete carries only the final state
	assert.NotNil(t, history[2].Changes.Before)
	assert.Nil(t, history[2].Changes.After)
}

func TestEngine_InheritanceAndOverrides(t *testing.T) {
	manager, _, _ := setupEngine(t)
	ctx := context.Background()
	service := manager.GetService()
	store := manager.GetStore()

	basePerms := make(authz.PermissionSet)
	basePerms.Set(authz.CategoryTasks, authz.ActionView, true)
	basePerms.Set(authz.CategoryTasks, authz.ActionEdit, true)
	basePerms.Set(authz.CategoryTasks, authz.ActionDelete, true)

	base, err := service.CreateRole(ctx, authz.CreateRoleInput{
		Name:        "task-admin",
		Permissions: basePerms,
	}, "admin@example.com")
	require.NoError(t, err)

	childPerms := make(authz.PermissionSet)
	childPerms.Set(authz.CategoryTasks, authz.ActionDelete, false)

	child, err := service.CreateRole(ctx, authz.CreateRoleInput{
		Name:         "task-admin-no-delete",
		ParentRoleID: &base.ID,
		Permissions:  childPerms,
	}, "admin@example.com")
	require.NoError(t, err)

	require.NoError(t, store.AssignRole(ctx, "carol@example.com", child.ID))

	req := authz.DecisionRequest{
		UserEmail:    "carol@example.com",
		ResourceType: "Task",
		ResourceID:   "t-9",
		Category:     authz.CategoryTasks,
	}

	req.Action = authz.ActionEdit
	assert.True(t, manager.Decide(ctx, req).Allowed)

	req.Action = authz.ActionDelete
	assert.False(t, manager.Decide(ctx, req).Allowed)

	// Reparenting the base under its child is refused
	_, err = service.UpdateRole(ctx, base.ID, authz.UpdateRoleInput{
		ParentRoleID: &child.ID,
		Permissions:  basePerms,
	}, "admin@example.com")
	require.Error(t, err)
	assert.True(t, authz.IsValidation(err))
}

func TestEngine_GrantsWidenRoleAccess(t *testing.T) {
	manager, query, _ := setupEngine(t)
	ctx := context.Background()
	service := manager.GetService()
	store := manager.GetStore()

	viewer, err := store.GetRoleByName(ctx, "viewer")
	require.NoError(t, err)
	require.NoError(t, store.AssignRole(ctx, "dave@example.com", viewer.ID))

	req := authz.DecisionRequest{
		UserEmail:    "dave@example.com",
		ResourceType: "Venture",
		ResourceID:   "v-42",
		Category:     authz.CategoryVentures,
		Action:       authz.ActionEdit,
	}
	assert.False(t, manager.Decide(ctx, req).Allowed)

	grant, err := service.Grant(ctx, authz.GrantInput{
		UserEmail:    "dave@example.com",
		ResourceType: "Venture",
		ResourceID:   "v-42",
		ActionScope:  "ventures",
		AccessLevel:  authz.AccessEdit,
	}, "admin@example.com")
	require.NoError(t, err)

	assert.True(t, manager.Decide(ctx, req).Allowed)

	// The grant is scoped to one resource
	other := req
	other.ResourceID = "v-43"
	assert.False(t, manager.Decide(ctx, other).Allowed)

	require.NoError(t, service.Revoke(ctx, grant.ID, "admin@example.com"))
	assert.False(t, manager.Decide(ctx, req).Allowed)

	history, err := query.History(ctx, "ResourceGrant", grant.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, audit.ActionGrantCreated, history[0].ActionType)
	assert.Equal(t, audit.ActionGrantDeleted, history[1].ActionType)
}

func TestEngine_CacheInvalidationOnRoleUpdate(t *testing.T) {
	manager, _, _ := setupEngine(t)
	ctx := context.Background()
	service := manager.GetService()
	store := manager.GetStore()

	perms := make(authz.PermissionSet)
	perms.Set(authz.CategoryAnalytics, authz.ActionView, true)

	role, err := service.CreateRole(ctx, authz.CreateRoleInput{
		Name:        "analyst",
		Permissions: perms,
	}, "admin@example.com")
	require.NoError(t, err)
	require.NoError(t, store.AssignRole(ctx, "erin@example.com", role.ID))

	req := authz.DecisionRequest{
		UserEmail:    "erin@example.com",
		ResourceType: "Report",
		ResourceID:   "r-1",
		Category:     authz.CategoryAnalytics,
		Action:       authz.ActionExport,
	}

	// First decision populates the cache with the deny state
	assert.False(t, manager.Decide(ctx, req).Allowed)

	widened := perms.Clone()
	widened.Set(authz.CategoryAnalytics, authz.ActionExport, true)
	_, err = service.UpdateRole(ctx, role.ID, authz.UpdateRoleInput{
		Permissions: widened,
	}, "admin@example.com")
	require.NoError(t, err)

	// The write bumped the epoch, so the next decision sees the new set
	assert.True(t, manager.Decide(ctx, req).Allowed)
}

func TestEngine_AuditExportRoundTrip(t *testing.T) {
	manager, query, _ := setupEngine(t)
	ctx := context.Background()

	_, err := manager.GetService().CreateRole(ctx, authz.CreateRoleInput{
		Name: "export-probe",
	}, "admin@example.com")
	require.NoError(t, err)

	data, err := query.Export(ctx, audit.QueryFilter{}, audit.ExportFormatNDJSON)
	require.NoError(t, err)
	assert.Contains(t, string(data), "role_created")

	stats, err := query.GetStats(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalRecords)
	assert.Equal(t, int64(1), stats.UniquePerformers)
}

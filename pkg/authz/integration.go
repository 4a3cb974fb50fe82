package authz

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/launchdesk/gatekeeper/pkg/audit"
	"github.com/launchdesk/gatekeeper/pkg/observability"
)

// Config holds authorization engine configuration
type Config struct {
	// CacheSize is the max number of resolved permission sets kept locally
	CacheSize int

	// CacheTTL is how long a resolved permission set stays cached
	CacheTTL time.Duration

	// SeedBuiltInRoles installs the system roles during Initialize
	SeedBuiltInRoles bool

	// AuditRetry bounds the audit write retry policy
	AuditRetry RetryConfig
}

// DefaultConfig returns default authorization configuration
func DefaultConfig() Config {
	return Config{
		CacheSize:        256,
		CacheTTL:         5 * time.Minute,
		SeedBuiltInRoles: true,
		AuditRetry:       DefaultRetryConfig(),
	}
}

// Manager wires the authorization components together
type Manager struct {
	store      *Store
	service    *Service
	evaluator  *Evaluator
	cache      *PermissionCache
	handlers   *Handlers
	middleware *DecisionMiddleware
	config     Config
}

// NewManager creates a new authorization manager. The Redis client is
// optional; without it the cache epoch is process-local.
func NewManager(db *sql.DB, recorder audit.Recorder, redisClient *redis.Client, logger *observability.Logger, metrics *observability.Metrics, config Config) *Manager {
	store := NewStore(db)
	cache := NewPermissionCache(config.CacheSize, config.CacheTTL, redisClient)
	service := NewService(store, recorder, cache, logger, metrics, config.AuditRetry)
	evaluator := NewEvaluator(store, store, store, cache, logger, metrics)
	handlers := NewHandlers(service, evaluator)
	middleware := NewDecisionMiddleware(evaluator)

	return &Manager{
		store:      store,
		service:    service,
		evaluator:  evaluator,
		cache:      cache,
		handlers:   handlers,
		middleware: middleware,
		config:     config,
	}
}

// Initialize sets up the authorization schema and built-in roles
func (m *Manager) Initialize(ctx context.Context) error {
	// Run migrations
	if err := RunMigrations(ctx, m.store.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if m.config.SeedBuiltInRoles {
		if err := SeedBuiltInRoles(ctx, m.store); err != nil {
			return fmt.Errorf("failed to seed built-in roles: %w", err)
		}
	}

	return nil
}

// RegisterRoutes registers authorization routes with a router
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router)
}

// GetStore returns the authorization store
func (m *Manager) GetStore() *Store {
	return m.store
}

// GetService returns the admin service
func (m *Manager) GetService() *Service {
	return m.service
}

// GetEvaluator returns the decision evaluator
func (m *Manager) GetEvaluator() *Evaluator {
	return m.evaluator
}

// GetMiddleware returns the decision middleware
func (m *Manager) GetMiddleware() *DecisionMiddleware {
	return m.middleware
}

// Decide is a convenience method for permission decisions
func (m *Manager) Decide(ctx context.Context, req DecisionRequest) Decision {
	return m.evaluator.Decide(ctx, req)
}

// EngineStats summarizes the configured permission state
type EngineStats struct {
	TotalRoles  int64
	SystemRoles int64
	TotalGrants int64
	TotalUsers  int64
}

// GetStats returns authorization statistics
func (m *Manager) GetStats(ctx context.Context) (*EngineStats, error) {
	stats := &EngineStats{}

	if err := m.store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM roles").Scan(&stats.TotalRoles); err != nil {
		return nil, err
	}

	if err := m.store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM roles WHERE is_system_role = true").Scan(&stats.SystemRoles); err != nil {
		return nil, err
	}

	if err := m.store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM resource_grants").Scan(&stats.TotalGrants); err != nil {
		return nil, err
	}

	if err := m.store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM user_accounts").Scan(&stats.TotalUsers); err != nil {
		return nil, err
	}

	return stats, nil
}

// UpdateBusinessMetrics pushes role and grant counts into the metrics gauges
func (m *Manager) UpdateBusinessMetrics(ctx context.Context, metrics *observability.Metrics) error {
	if metrics == nil {
		return nil
	}

	stats, err := m.GetStats(ctx)
	if err != nil {
		return err
	}

	metrics.RolesTotal.Set(float64(stats.TotalRoles))
	metrics.GrantsTotal.Set(float64(stats.TotalGrants))
	return nil
}

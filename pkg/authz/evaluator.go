package authz

import (
	"context"
	"time"

	"github.com/launchdesk/gatekeeper/pkg/observability"
)

// UserDirectory resolves the role assigned to a user. Identity itself is
// established upstream; only the email to role mapping is consumed here.
type UserDirectory interface {
	RoleIDForEmail(ctx context.Context, email string) (string, error)
}

// GrantSource provides resource grant lookups for decisions
type GrantSource interface {
	FindGrants(ctx context.Context, userEmail, resourceType, resourceID string) ([]*ResourceGrant, error)
}

// Evaluator is the decision function consulted by the entity gateway before
// every read or write. It is read-only over store state and safe for
// concurrent use.
type Evaluator struct {
	users    UserDirectory
	grants   GrantSource
	resolver *Resolver
	cache    *PermissionCache
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewEvaluator creates an evaluator. The cache, logger and metrics are
// optional; a nil cache resolves from the store on every call.
func NewEvaluator(roles RoleSource, users UserDirectory, grants GrantSource, cache *PermissionCache, logger *observability.Logger, metrics *observability.Metrics) *Evaluator {
	return &Evaluator{
		users:    users,
		grants:   grants,
		resolver: NewResolver(roles),
		cache:    cache,
		logger:   logger,
		metrics:  metrics,
	}
}

// Decide evaluates a permission question. It never returns an error for data
// problems: dangling roles and cycles fail closed to Deny and are reported
// through logs and metrics, so a permission check cannot become an outage
// for the calling gateway.
//
// Order matters: the role check is cheap and cacheable and short-circuits the
// common case; resource grants need a resource-scoped query and are only
// consulted when the role denies.
func (e *Evaluator) Decide(ctx context.Context, req DecisionRequest) Decision {
	decision := e.decide(ctx, req)
	decision.CheckedAt = time.Now().UTC()
	e.countDecision(decision.Allowed, req.Category)
	return decision
}

func (e *Evaluator) decide(ctx context.Context, req DecisionRequest) Decision {
	if !ValidActionKey(req.Category, req.Action) {
		return Decision{Allowed: false, Reason: "unknown category or action"}
	}

	allowed := false
	reason := "denied by role"

	roleID, err := e.users.RoleIDForEmail(ctx, req.UserEmail)
	switch {
	case err == nil && roleID != "":
		set, rerr := e.effectivePermissions(ctx, roleID)
		if rerr != nil {
			if IsConfigurationError(rerr) {
				e.reportConfigError(rerr, req)
				return Decision{Allowed: false, Reason: "permission configuration error"}
			}
			e.log().WithError(rerr).Error("role resolution failed, denying")
			return Decision{Allowed: false, Reason: "role resolution unavailable"}
		}
		if set.Allows(req.Category, req.Action) {
			allowed = true
			reason = "allowed by role"
		}
	case err != nil && !IsNotFound(err):
		e.log().WithError(err).Error("user lookup failed, denying")
		return Decision{Allowed: false, Reason: "user lookup unavailable"}
	default:
		// Unknown user or no role assigned: grants below may still apply.
		roleID = ""
		reason = "no role assigned"
	}

	if !allowed {
		grants, gerr := e.grants.FindGrants(ctx, req.UserEmail, req.ResourceType, req.ResourceID)
		if gerr != nil {
			e.log().WithError(gerr).Error("grant lookup failed, denying")
			return Decision{Allowed: false, Reason: reason}
		}
		for _, grant := range grants {
			if grant.Matches(req.ResourceType, req.ResourceID, req.Category, req.Action) {
				allowed = true
				reason = "allowed by resource grant"
				break
			}
		}
	}

	if !allowed {
		return Decision{Allowed: false, Reason: reason}
	}

	if req.Field != "" && roleID != "" {
		access, ferr := e.resolver.ResolveFieldAccess(ctx, roleID, req.ResourceType, req.Field)
		if ferr != nil {
			if IsConfigurationError(ferr) {
				e.reportConfigError(ferr, req)
			} else {
				e.log().WithError(ferr).Error("field resolution failed, denying")
			}
			return Decision{Allowed: false, Reason: "field resolution unavailable"}
		}
		switch access {
		case FieldHidden:
			return Decision{Allowed: false, Reason: "field is hidden"}
		case FieldReadOnly:
			if RequiredLevel(req.Action) != AccessView {
				return Decision{Allowed: false, Reason: "field is read-only"}
			}
		}
	}

	return Decision{Allowed: true, Reason: reason}
}

// effectivePermissions resolves a role's merged permission set through the
// epoch-validated cache when one is configured.
func (e *Evaluator) effectivePermissions(ctx context.Context, roleID string) (PermissionSet, error) {
	epoch := int64(-1)
	if e.cache != nil {
		if set, ok := e.cache.Get(ctx, roleID); ok {
			e.countCache(true)
			return set, nil
		}
		e.countCache(false)
		// Observe the epoch before the store reads. A role write that
		// commits mid-resolution bumps past it, so Put drops the entry
		// instead of stamping the pre-write set as current.
		epoch = e.cache.Epoch(ctx)
	}

	start := time.Now()
	set, err := e.resolver.ResolveEffectivePermissions(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.ResolveDuration.Observe(time.Since(start).Seconds())
	}
	if e.cache != nil {
		e.cache.Put(ctx, roleID, set, epoch)
	}
	return set, nil
}

func (e *Evaluator) reportConfigError(err error, req DecisionRequest) {
	e.log().WithError(err).
		WithField("user", req.UserEmail).
		WithField("category", string(req.Category)).
		Error("permission configuration error detected during decision")
	if e.metrics != nil {
		e.metrics.ConfigErrorsTotal.Inc()
	}
}

func (e *Evaluator) countDecision(allowed bool, category Category) {
	if e.metrics == nil {
		return
	}
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	e.metrics.DecisionsTotal.WithLabelValues(outcome, string(category)).Inc()
}

func (e *Evaluator) countCache(hit bool) {
	if e.metrics == nil {
		return
	}
	if hit {
		e.metrics.CacheHitsTotal.Inc()
	} else {
		e.metrics.CacheMissesTotal.Inc()
	}
}

func (e *Evaluator) log() *observability.Logger {
	if e.logger != nil {
		return e.logger
	}
	return observability.NopLogger()
}

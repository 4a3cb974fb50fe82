// Package authz implements permission resolution for role-based and
// resource-scoped access control.
//
// # Model
//
// Every user holds at most one role. Roles inherit through a single parent
// chain; effective permissions are computed by folding the chain from root
// to leaf, with the most specific role winning each category and action
// cell. Actions a chain never mentions are denied.
//
// Resource grants supplement roles with per-resource access for a user,
// scoped to a category (or all categories) at a view, edit or admin level.
// Grants are additive only: they can open access a role denies, never close
// access a role allows.
//
// # Decisions
//
// The Evaluator answers "may this user perform this action on this
// resource" for the entity gateway. Role permissions are checked first,
// resource grants as a fallback, then field-level rules narrow the result
// when a field is named. Misconfigured chains (cycles, dangling parents)
// fail closed: the decision is Deny and the defect is surfaced through
// logs and metrics rather than an error to the caller.
//
// Resolved permission sets are cached in an epoch-validated LRU. Any role
// mutation bumps a shared Redis epoch, atomically invalidating cached sets
// on every instance.
//
// # Administration
//
// The Service carries out role and grant mutations with validation, and
// writes one audit record per mutation after it commits. Audit failures
// are retried a bounded number of times and never roll back the mutation.
//
// Use NewManager to wire all components and Initialize to run migrations
// and seed the built-in viewer, editor and administrator roles.
package authz

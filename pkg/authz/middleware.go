package authz

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/launchdesk/gatekeeper/pkg/middleware"
)

// DecisionMiddleware gates entity routes behind the evaluator
type DecisionMiddleware struct {
	evaluator *Evaluator
}

// NewDecisionMiddleware creates a new decision middleware
func NewDecisionMiddleware(evaluator *Evaluator) *DecisionMiddleware {
	return &DecisionMiddleware{
		evaluator: evaluator,
	}
}

// Require creates middleware that demands a permission for a fixed category
// and action. The resource is taken from the route's {id} variable when
// present, so per-resource grants apply.
func (dm *DecisionMiddleware) Require(category Category, action Action, resourceType string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := middleware.GetIdentity(r)
			if identity == nil {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			req := DecisionRequest{
				UserEmail:    identity.Email,
				Category:     category,
				Action:       action,
				ResourceType: resourceType,
			}
			if id := mux.Vars(r)["id"]; id != "" {
				req.ResourceID = id
			}

			decision := dm.evaluator.Decide(r.Context(), req)
			if !decision.Allowed {
				http.Error(w, "Insufficient permissions: "+decision.Reason, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAny creates middleware that passes when any of the given actions is
// allowed for the category.
func (dm *DecisionMiddleware) RequireAny(category Category, actions []Action, resourceType string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := middleware.GetIdentity(r)
			if identity == nil {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			resourceID := mux.Vars(r)["id"]

			for _, action := range actions {
				decision := dm.evaluator.Decide(r.Context(), DecisionRequest{
					UserEmail:    identity.Email,
					Category:     category,
					Action:       action,
					ResourceType: resourceType,
					ResourceID:   resourceID,
				})
				if decision.Allowed {
					next.ServeHTTP(w, r)
					return
				}
			}

			http.Error(w, "Insufficient permissions", http.StatusForbidden)
		})
	}
}

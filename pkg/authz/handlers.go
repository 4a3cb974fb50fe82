package authz

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/launchdesk/gatekeeper/pkg/httputil"
	"github.com/launchdesk/gatekeeper/pkg/middleware"
)

// Handlers provides HTTP handlers for permission administration and the
// decision endpoint.
type Handlers struct {
	service   *Service
	evaluator *Evaluator
}

// NewHandlers creates new authorization handlers
func NewHandlers(service *Service, evaluator *Evaluator) *Handlers {
	return &Handlers{
		service:   service,
		evaluator: evaluator,
	}
}

// RegisterRoutes registers all authorization routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Role management
	router.HandleFunc("/authz/roles", h.CreateRole).Methods("POST")
	router.HandleFunc("/authz/roles", h.ListRoles).Methods("GET")
	router.HandleFunc("/authz/roles/{id}", h.GetRole).Methods("GET")
	router.HandleFunc("/authz/roles/{id}", h.UpdateRole).Methods("PUT")
	router.HandleFunc("/authz/roles/{id}", h.DeleteRole).Methods("DELETE")
	router.HandleFunc("/authz/roles/{id}/effective", h.GetEffectivePermissions).Methods("GET")

	// Resource grants
	router.HandleFunc("/authz/grants", h.CreateGrant).Methods("POST")
	router.HandleFunc("/authz/grants/{id}", h.RevokeGrant).Methods("DELETE")
	router.HandleFunc("/authz/users/{email}/grants", h.ListUserGrants).Methods("GET")

	// Decision endpoint
	router.HandleFunc("/authz/decide", h.Decide).Methods("POST")
}

// CreateRole handles POST /authz/roles
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	performedBy, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	var input CreateRoleInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	role, err := h.service.CreateRole(r.Context(), input, performedBy)
	if err != nil && !IsAuditWrite(err) {
		writeServiceError(w, err)
		return
	}

	httputil.WriteCreated(w, role)
}

// ListRoles handles GET /authz/roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	httputil.WriteSuccess(w, roles)
}

// GetRole handles GET /authz/roles/{id}
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	role, err := h.service.GetRole(r.Context(), vars["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	httputil.WriteSuccess(w, role)
}

// UpdateRole handles PUT /authz/roles/{id}
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	performedBy, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)

	var input UpdateRoleInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	role, err := h.service.UpdateRole(r.Context(), vars["id"], input, performedBy)
	if err != nil && !IsAuditWrite(err) {
		writeServiceError(w, err)
		return
	}

	httputil.WriteSuccess(w, role)
}

// DeleteRole handles DELETE /authz/roles/{id}
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	performedBy, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)

	err := h.service.DeleteRole(r.Context(), vars["id"], performedBy)
	if err != nil && !IsAuditWrite(err) {
		writeServiceError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// GetEffectivePermissions handles GET /authz/roles/{id}/effective
func (h *Handlers) GetEffectivePermissions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	set, err := h.evaluator.resolver.ResolveEffectivePermissions(r.Context(), vars["id"])
	if err != nil {
		if IsConfigurationError(err) {
			httputil.WriteConflict(w, err.Error())
			return
		}
		writeServiceError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"role_id":     vars["id"],
		"permissions": set,
	})
}

// CreateGrant handles POST /authz/grants
func (h *Handlers) CreateGrant(w http.ResponseWriter, r *http.Request) {
	performedBy, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	var input GrantInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	grant, err := h.service.Grant(r.Context(), input, performedBy)
	if err != nil && !IsAuditWrite(err) {
		writeServiceError(w, err)
		return
	}

	httputil.WriteCreated(w, grant)
}

// RevokeGrant handles DELETE /authz/grants/{id}
func (h *Handlers) RevokeGrant(w http.ResponseWriter, r *http.Request) {
	performedBy, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)

	err := h.service.Revoke(r.Context(), vars["id"], performedBy)
	if err != nil && !IsAuditWrite(err) {
		writeServiceError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// ListUserGrants handles GET /authz/users/{email}/grants
func (h *Handlers) ListUserGrants(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	grants, err := h.service.ListGrantsForUser(r.Context(), vars["email"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	httputil.WriteSuccess(w, grants)
}

// Decide handles POST /authz/decide
func (h *Handlers) Decide(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserEmail == "" {
		httputil.WriteBadRequest(w, "user_email is required")
		return
	}

	decision := h.evaluator.Decide(r.Context(), req)

	httputil.WriteSuccess(w, decision)
}

// requireIdentity extracts the authenticated caller, rejecting the request
// when identity is missing. Mutations need a performer for the audit trail.
func (h *Handlers) requireIdentity(w http.ResponseWriter, r *http.Request) (string, bool) {
	identity := middleware.GetIdentity(r)
	if identity == nil || identity.Email == "" {
		httputil.WriteUnauthorized(w, "authentication required")
		return "", false
	}
	return identity.Email, true
}

// writeServiceError maps service errors to HTTP status codes
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case IsValidation(err):
		httputil.WriteBadRequest(w, err.Error())
	case IsNotFound(err):
		httputil.WriteNotFoundError(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}

package authzhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/tenantguard/internal/audit"
	"github.com/odyssey-erp/tenantguard/internal/authz"
	"github.com/odyssey-erp/tenantguard/internal/platform/httpx"
)

// auditResourceType labels permission table mutations in the audit trail.
const auditResourceType = "GRANT"

// GrantService is the permission table management contract.
type GrantService interface {
	ListGrants(ctx context.Context, actor *authz.Principal) ([]authz.Grant, error)
	AddGrant(ctx context.Context, actor *authz.Principal, grant authz.Grant) (bool, error)
	RemoveGrant(ctx context.Context, actor *authz.Principal, grant authz.Grant) error
	ReplaceRoles(ctx context.Context, actor *authz.Principal, action authz.Action, resourceType authz.ResourceType, roles []authz.Role) (authz.RoleSet, error)
}

// ActionLogger records successful mutations.
type ActionLogger interface {
	LogAction(ctx context.Context, principalID string, tenantID *string, action, resourceType, resourceID string, detail map[string]any) *audit.Record
}

// Handler exposes permission table management to super admins.
type Handler struct {
	logger    *slog.Logger
	grants    GrantService
	audit     ActionLogger
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, grants GrantService, auditLogger ActionLogger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		grants:    grants,
		audit:     auditLogger,
		validator: newValidator(),
	}
}

// MountRoutes registers grant routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/grants", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.add)
		r.Put("/{action}/{resourceType}", h.replace)
		r.Delete("/{action}/{resourceType}/{role}", h.remove)
	})
}

type grantRequest struct {
	Action       string `json:"action" validate:"required,authz_action"`
	ResourceType string `json:"resource_type" validate:"required,authz_resource_type"`
	Role         string `json:"role" validate:"required,authz_role"`
}

type replaceRequest struct {
	Action       string   `json:"-" validate:"required,authz_action"`
	ResourceType string   `json:"-" validate:"required,authz_resource_type"`
	Roles        []string `json:"roles" validate:"dive,required,authz_role"`
}

type grantsResponse struct {
	Grants []authz.Grant `json:"grants"`
}

type roleSetResponse struct {
	Action       authz.Action       `json:"action"`
	ResourceType authz.ResourceType `json:"resource_type"`
	Roles        []authz.Role       `json:"roles"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor := authz.PrincipalFromContext(r.Context())
	grants, err := h.grants.ListGrants(r.Context(), actor)
	if err != nil {
		h.respondError(w, r, "list grants", err)
		return
	}
	if grants == nil {
		grants = []authz.Grant{}
	}
	httpx.JSON(w, http.StatusOK, grantsResponse{Grants: grants})
}

func (h *Handler) add(w http.ResponseWriter, r *http.Request) {
	actor := authz.PrincipalFromContext(r.Context())
	var req grantRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteProblem(w, httpx.NewProblem(http.StatusBadRequest, "malformed request body"))
		return
	}
	if !h.validate(w, req) {
		return
	}
	grant := req.grant()
	created, err := h.grants.AddGrant(r.Context(), actor, grant)
	if created {
		h.logMutation(r, actor, "CREATE", grant, nil)
	}
	if err != nil {
		h.respondError(w, r, "add grant", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, grant)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	actor := authz.PrincipalFromContext(r.Context())
	req := grantRequest{
		Action:       chi.URLParam(r, "action"),
		ResourceType: chi.URLParam(r, "resourceType"),
		Role:         chi.URLParam(r, "role"),
	}
	if !h.validate(w, req) {
		return
	}
	grant := req.grant()
	err := h.grants.RemoveGrant(r.Context(), actor, grant)
	if err == nil || errors.Is(err, authz.ErrCacheInvalidation) {
		h.logMutation(r, actor, "DELETE", grant, nil)
	}
	if err != nil {
		h.respondError(w, r, "remove grant", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) replace(w http.ResponseWriter, r *http.Request) {
	actor := authz.PrincipalFromContext(r.Context())
	var req replaceRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteProblem(w, httpx.NewProblem(http.StatusBadRequest, "malformed request body"))
		return
	}
	req.Action = chi.URLParam(r, "action")
	req.ResourceType = chi.URLParam(r, "resourceType")
	if !h.validate(w, req) {
		return
	}
	action, _ := authz.ParseAction(req.Action)
	resourceType, _ := authz.ParseResourceType(req.ResourceType)
	roles := make([]authz.Role, 0, len(req.Roles))
	for _, raw := range req.Roles {
		role, _ := authz.ParseRole(raw)
		roles = append(roles, role)
	}
	set, err := h.grants.ReplaceRoles(r.Context(), actor, action, resourceType, roles)
	if err == nil || errors.Is(err, authz.ErrCacheInvalidation) {
		names := make([]string, 0, len(set))
		for _, role := range set.Roles() {
			names = append(names, string(role))
		}
		h.logMutation(r, actor, "UPDATE", authz.Grant{Action: action, ResourceType: resourceType}, map[string]any{"roles": names})
	}
	if err != nil {
		h.respondError(w, r, "replace grants", err)
		return
	}
	httpx.JSON(w, http.StatusOK, roleSetResponse{Action: action, ResourceType: resourceType, Roles: set.Roles()})
}

func (h *Handler) validate(w http.ResponseWriter, req any) bool {
	err := h.validator.Struct(req)
	if err == nil {
		return true
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		httpx.WriteProblem(w, httpx.NewProblem(http.StatusBadRequest, err.Error()))
		return false
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		fields = append(fields, fieldErr.Field())
	}
	httpx.WriteProblem(w, httpx.NewProblem(http.StatusBadRequest, "invalid "+strings.Join(fields, ", ")))
	return false
}

// logMutation writes the SUCCESS record for a durable table change. The
// resource id is the action and type pair, plus the role for single grants.
func (h *Handler) logMutation(r *http.Request, actor *authz.Principal, verb string, grant authz.Grant, detail map[string]any) {
	if h.audit == nil || actor == nil {
		return
	}
	resourceID := string(grant.Action) + ":" + string(grant.ResourceType)
	if grant.Role != "" {
		resourceID += ":" + string(grant.Role)
	}
	h.audit.LogAction(r.Context(), actor.ID, actor.TenantID, verb, auditResourceType, resourceID, detail)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, authz.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, authz.ErrNotSuperAdmin):
		status = http.StatusForbidden
	case errors.Is(err, authz.ErrGrantNotFound):
		status = http.StatusNotFound
	case errors.Is(err, authz.ErrSuperAdminGrant),
		errors.Is(err, authz.ErrInvalidRole),
		errors.Is(err, authz.ErrUnknownAction),
		errors.Is(err, authz.ErrUnknownResourceType):
		status = http.StatusBadRequest
	case errors.Is(err, authz.ErrCacheInvalidation):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), msg, slog.Any("error", err))
	}
	detail := ""
	if status != http.StatusInternalServerError {
		detail = err.Error()
	}
	httpx.WriteProblem(w, httpx.NewProblem(status, detail))
}

func (req grantRequest) grant() authz.Grant {
	action, _ := authz.ParseAction(req.Action)
	resourceType, _ := authz.ParseResourceType(req.ResourceType)
	role, _ := authz.ParseRole(req.Role)
	return authz.Grant{Action: action, ResourceType: resourceType, Role: role}
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("authz_action", func(fl validator.FieldLevel) bool {
		_, err := authz.ParseAction(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("authz_resource_type", func(fl validator.FieldLevel) bool {
		_, err := authz.ParseResourceType(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("authz_role", func(fl validator.FieldLevel) bool {
		_, err := authz.ParseRole(fl.Field().String())
		return err == nil
	})
	return v
}

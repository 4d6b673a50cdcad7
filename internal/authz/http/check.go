package authzhttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/tenantguard/internal/authz"
	"github.com/odyssey-erp/tenantguard/internal/platform/httpx"
)

// PermissionChecker is satisfied by *authz.Checker.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, p *authz.Principal, opts authz.Options, routeParams map[string]string) authz.CheckResult
}

// CheckHandler answers permission questions for upstream services. An allowed
// request gets 200; denials carry the checker's 401, 403 or 404 problem.
type CheckHandler struct {
	logger    *slog.Logger
	checker   PermissionChecker
	validator *validator.Validate
}

// NewCheckHandler constructs a CheckHandler.
func NewCheckHandler(logger *slog.Logger, checker PermissionChecker) *CheckHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckHandler{logger: logger, checker: checker, validator: newValidator()}
}

// MountRoutes registers the check endpoint.
func (h *CheckHandler) MountRoutes(r chi.Router) {
	r.Post("/check", h.check)
}

type checkRequest struct {
	Action       string `json:"action" validate:"required,authz_action"`
	ResourceType string `json:"resource_type" validate:"required,authz_resource_type"`
	ResourceID   string `json:"resource_id"`
	// Collection marks a request without a target id.
	Collection bool `json:"collection"`
	AllowSelf  bool `json:"allow_self"`
}

type checkResponse struct {
	Allowed     bool       `json:"allowed"`
	PrincipalID string     `json:"principal_id"`
	Role        authz.Role `json:"role"`
	Path        string     `json:"path"`
	TenantID    *string    `json:"tenant_id,omitempty"`
}

const resourceParam = "id"

func (h *CheckHandler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteProblem(w, httpx.NewProblem(http.StatusBadRequest, "malformed request body"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.WriteProblem(w, httpx.NewProblem(http.StatusBadRequest, "invalid action or resource_type"))
		return
	}
	resourceType, _ := authz.ParseResourceType(req.ResourceType)
	opts, err := authz.NormalizeOptions(req.Action, resourceType)
	if err != nil {
		httpx.WriteProblem(w, httpx.NewProblem(http.StatusBadRequest, err.Error()))
		return
	}
	opts.AllowSelf = req.AllowSelf
	var params map[string]string
	if !req.Collection {
		opts.ResourceIDParam = resourceParam
		params = map[string]string{resourceParam: req.ResourceID}
	}

	result := h.checker.CheckPermission(r.Context(), authz.PrincipalFromContext(r.Context()), opts, params)
	if !result.Allowed {
		httpx.WriteProblem(w, result.Response)
		return
	}
	resp := checkResponse{
		Allowed:  true,
		Role:     result.Role,
		Path:     result.Decision.Path,
		TenantID: result.Decision.TenantID,
	}
	if result.Principal != nil {
		resp.PrincipalID = result.Principal.ID
	}
	httpx.JSON(w, http.StatusOK, resp)
}

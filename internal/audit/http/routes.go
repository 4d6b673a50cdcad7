package audithttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/tenantguard/internal/authz"
	"github.com/odyssey-erp/tenantguard/internal/platform/httpx"
)

const rateLimit = 10
const rateWindow = time.Minute

// MountRoutes registers the audit timeline and the rate limited CSV export.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.WriteProblem(w, httpx.NewProblem(http.StatusTooManyRequests, "export rate limit exceeded"))
		}),
	)
	r.Get("/audit", h.handleTimeline)
	if h.checker != nil {
		r.With(h.guard.Require(authz.Options{
			Action:          authz.ActionRead,
			ResourceType:    authz.ResourceCompany,
			ResourceIDParam: "tenant",
			Verb:            authz.VerbList,
		})).Get("/audit/companies/{tenant}", h.handleCompanyTimeline)
	}
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Get("/audit/export.csv", h.handleExport)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if p := authz.PrincipalFromContext(r.Context()); p != nil && p.ID != "" {
		return "principal:" + p.ID, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

package authz

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/tenantguard/internal/platform/httpx"
)

// Middleware gates chi routes through the Checker.
type Middleware struct {
	Checker *Checker
}

// Require only lets the request through when the principal in context is
// allowed per opts.
func (m Middleware) Require(opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			result := m.Checker.CheckPermission(r.Context(), p, opts, routeParams(r))
			if !result.Allowed {
				httpx.WriteProblem(w, result.Response)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func routeParams(r *http.Request) map[string]string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return nil
	}
	params := make(map[string]string, len(rctx.URLParams.Keys))
	for i, key := range rctx.URLParams.Keys {
		if i < len(rctx.URLParams.Values) {
			params[key] = rctx.URLParams.Values[i]
		}
	}
	return params
}

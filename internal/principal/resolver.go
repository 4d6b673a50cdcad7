package principal

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/tenantguard/internal/authz"
	"github.com/odyssey-erp/tenantguard/internal/platform/httpx"
)

const authScheme = "Session"

// Loader resolves a session id.
type Loader interface {
	Load(ctx context.Context, sessionID string) (*authz.Principal, error)
}

// Resolver attaches the caller's principal to the request context. Requests
// without a valid session continue anonymously; the permission check turns
// that into 401.
type Resolver struct {
	loader     Loader
	cookieName string
	logger     *slog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(loader Loader, cookieName string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{loader: loader, cookieName: cookieName, logger: logger}
}

// Middleware resolves the principal once per request.
func (res *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := res.sessionID(r)
		if sessionID == "" {
			next.ServeHTTP(w, r)
			return
		}
		p, err := res.loader.Load(r.Context(), sessionID)
		switch {
		case errors.Is(err, ErrSessionNotFound):
			next.ServeHTTP(w, r)
			return
		case err != nil:
			res.logger.ErrorContext(r.Context(), "resolve principal", slog.Any("error", err))
			httpx.WriteProblem(w, httpx.NewProblem(http.StatusServiceUnavailable, "session store unavailable"))
			return
		}
		next.ServeHTTP(w, r.WithContext(authz.ContextWithPrincipal(r.Context(), p)))
	})
}

func (res *Resolver) sessionID(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		scheme, value, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, authScheme) {
			return strings.TrimSpace(value)
		}
	}
	if res.cookieName == "" {
		return ""
	}
	cookie, err := r.Cookie(res.cookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

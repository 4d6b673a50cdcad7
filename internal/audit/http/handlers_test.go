package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/tenantguard/internal/audit"
	"github.com/odyssey-erp/tenantguard/internal/authz"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.Record
	lastFilters audit.TimelineFilters
	calls       int
}

func (s *stubTimelineService) Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.calls++
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubTimelineService) Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.Record, error) {
	s.calls++
	s.lastFilters = filters
	return s.exportRows, nil
}

// stubDecider allows super admins, self reads, and company reads of the
// principal's own tenant.
type stubDecider struct {
	requests []authz.Request
}

func (s *stubDecider) Decide(ctx context.Context, p *authz.Principal, req authz.Request) authz.Decision {
	s.requests = append(s.requests, req)
	switch {
	case p == nil:
		return authz.Decision{Outcome: authz.OutcomeDeny, Reason: authz.ReasonUnauthenticated}
	case p.Role.IsSuperAdmin():
		return authz.Decision{Outcome: authz.OutcomeAllow}
	case req.ResourceType == authz.ResourceUser && req.AllowSelf && req.ResourceID == p.ID:
		return authz.Decision{Outcome: authz.OutcomeAllow}
	case req.ResourceType == authz.ResourceCompany && req.ResourceID != "" && req.ResourceID == p.Tenant():
		return authz.Decision{Outcome: authz.OutcomeAllow}
	default:
		return authz.Decision{Outcome: authz.OutcomeDeny, Reason: authz.ReasonInsufficient}
	}
}

func newAuditHandler(t *testing.T, service *stubTimelineService) (*Handler, *stubDecider) {
	t.Helper()
	decider := &stubDecider{}
	handler := NewHandler(nil, service, authz.NewChecker(decider))
	handler.now = func() time.Time { return time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC) }
	return handler, decider
}

func serve(h *Handler, p *authz.Principal, target string) *httptest.ResponseRecorder {
	router := chi.NewRouter()
	h.MountRoutes(router)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if p != nil {
		req = req.WithContext(authz.ContextWithPrincipal(req.Context(), p))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func member(id, tenant string) *authz.Principal {
	return &authz.Principal{ID: id, Role: authz.RoleMember, TenantID: authz.TenantRef(tenant)}
}

func TestTimelineRequiresPrincipal(t *testing.T) {
	service := &stubTimelineService{}
	handler, _ := newAuditHandler(t, service)

	rr := serve(handler, nil, "/audit?tenant=T1")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Zero(t, service.calls)
}

func TestTimelineDefaultsToOwnTenant(t *testing.T) {
	rows := []audit.Record{{ID: "r1", PrincipalID: "u1", Action: "UPDATE", ResourceType: "PROJECT", Outcome: audit.OutcomeSuccess}}
	service := &stubTimelineService{result: audit.Result{Rows: rows, Paging: audit.PagingInfo{Page: 1, PageSize: 20}}}
	handler, decider := newAuditHandler(t, service)

	rr := serve(handler, member("u1", "T1"), "/audit")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "T1", service.lastFilters.TenantID)
	require.Len(t, decider.requests, 1)
	require.Equal(t, authz.ResourceCompany, decider.requests[0].ResourceType)
	require.Equal(t, authz.VerbList, decider.requests[0].Verb)

	var body audit.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Rows, 1)
	require.Equal(t, "r1", body.Rows[0].ID)
}

func TestTimelineRejectsForeignTenant(t *testing.T) {
	service := &stubTimelineService{}
	handler, _ := newAuditHandler(t, service)

	rr := serve(handler, member("u1", "T1"), "/audit?tenant=T2")
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Zero(t, service.calls)
}

func TestTimelineOwnHistoryIsSelfAccess(t *testing.T) {
	service := &stubTimelineService{}
	handler, decider := newAuditHandler(t, service)
	p := &authz.Principal{ID: "u7", Role: authz.RoleEmployee}

	rr := serve(handler, p, "/audit?principal=u7")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, authz.ResourceUser, decider.requests[0].ResourceType)
	require.Equal(t, "u7", service.lastFilters.PrincipalID)
	require.Empty(t, service.lastFilters.TenantID)
}

func TestTimelineSuperAdminQueriesAnyPrincipal(t *testing.T) {
	service := &stubTimelineService{}
	handler, _ := newAuditHandler(t, service)
	admin := &authz.Principal{ID: "root", Role: authz.RoleSuperAdmin}

	rr := serve(handler, admin, "/audit?principal=u9&outcome=denied")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "u9", service.lastFilters.PrincipalID)
	require.Equal(t, audit.OutcomeDenied, service.lastFilters.Outcome)
}

type windowRepo struct {
	rows   []audit.Record
	params []audit.WindowParams
}

func (w *windowRepo) Insert(ctx context.Context, rec audit.Record) error { return nil }

func (w *windowRepo) Window(ctx context.Context, params audit.WindowParams) ([]audit.Record, error) {
	w.params = append(w.params, params)
	return w.rows, nil
}

func TestTimelineSuperAdminReadsAllTenants(t *testing.T) {
	repo := &windowRepo{rows: []audit.Record{
		{ID: "r2", PrincipalID: "u2", Action: "READ", ResourceType: "LEAD", Outcome: audit.OutcomeSuccess},
	}}
	decider := &stubDecider{}
	handler := NewHandler(nil, audit.NewService(repo), authz.NewChecker(decider))
	handler.now = func() time.Time { return time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC) }
	admin := &authz.Principal{ID: "root", Role: authz.RoleSuperAdmin}

	rr := serve(handler, admin, "/audit")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, repo.params, 1)
	require.Empty(t, repo.params[0].TenantID)
	require.Empty(t, repo.params[0].PrincipalID)
	require.True(t, repo.params[0].AllTenants)
	require.Equal(t, authz.ResourceCompany, decider.requests[0].ResourceType)
	require.Empty(t, decider.requests[0].ResourceID)

	rr = serve(handler, admin, "/audit/export.csv")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, repo.params, 2)

	rr = serve(handler, member("u1", "T1"), "/audit")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "T1", repo.params[2].TenantID)
	require.False(t, repo.params[2].AllTenants)
}

func TestTimelineParsesDateRange(t *testing.T) {
	service := &stubTimelineService{}
	handler, _ := newAuditHandler(t, service)

	rr := serve(handler, member("u1", "T1"), "/audit?from=2024-03-01&to=2024-03-10&page=2&page_size=5")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), service.lastFilters.From)
	require.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), service.lastFilters.To)
	require.Equal(t, 2, service.lastFilters.Page)
	require.Equal(t, 5, service.lastFilters.PageSize)
}

func TestTimelineInvalidFilters(t *testing.T) {
	service := &stubTimelineService{}
	handler, _ := newAuditHandler(t, service)

	for _, target := range []string{
		"/audit?from=2024-03-10&to=2024-03-01",
		"/audit?from=2023-01-01&to=2024-03-01",
		"/audit?page=0",
		"/audit?page=50000000&page_size=50",
		"/audit?outcome=MAYBE",
		"/audit?to=yesterday",
	} {
		rr := serve(handler, member("u1", "T1"), target)
		require.Equal(t, http.StatusBadRequest, rr.Code, target)
	}
	require.Zero(t, service.calls)
}

func TestExportWritesCSV(t *testing.T) {
	service := &stubTimelineService{exportRows: []audit.Record{
		{ID: "r1", PrincipalID: "u1", Action: "DELETE", ResourceType: "TASK", Outcome: audit.OutcomeDenied, OccurredAt: time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)},
	}}
	handler, _ := newAuditHandler(t, service)

	rr := serve(handler, member("u1", "T1"), "/audit/export.csv")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[1], "r1,2024-03-10T10:00:00Z,u1,"))
}

func TestExportIsRateLimited(t *testing.T) {
	service := &stubTimelineService{}
	handler, _ := newAuditHandler(t, service)
	router := chi.NewRouter()
	handler.MountRoutes(router)
	p := member("u1", "T1")

	var last int
	for i := 0; i < rateLimit+1; i++ {
		req := httptest.NewRequest(http.MethodGet, "/audit/export.csv", nil)
		req = req.WithContext(authz.ContextWithPrincipal(req.Context(), p))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		last = rr.Code
	}
	require.Equal(t, http.StatusTooManyRequests, last)
}

func TestCompanyTimelineGatedByMiddleware(t *testing.T) {
	service := &stubTimelineService{}
	handler, decider := newAuditHandler(t, service)

	rr := serve(handler, member("u1", "T1"), "/audit/companies/T1")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "T1", service.lastFilters.TenantID)
	require.Equal(t, "T1", decider.requests[0].ResourceID)
	require.True(t, decider.requests[0].ResourceIDRequired)

	rr = serve(handler, member("u1", "T1"), "/audit/companies/T2")
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, 1, service.calls)
}

package authz

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for authorization decisions.
type Metrics struct {
	decisions       *prometheus.CounterVec
	tenantlessAdmin prometheus.Counter
	grantCache      *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the collectors against the provided registerer. When
// the registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantguard_authz_decisions_total",
		Help: "Authorization decisions partitioned by outcome, path and resource type.",
	}, []string{"outcome", "path", "resource_type"})
	tenantless := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenantguard_authz_tenantless_admin_total",
		Help: "Company admin principals evaluated without a tenant.",
	})
	cache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantguard_authz_grant_cache_total",
		Help: "Grant cache lookups partitioned by result.",
	}, []string{"result"})
	registerer.MustRegister(decisions, tenantless, cache)
	return &Metrics{decisions: decisions, tenantlessAdmin: tenantless, grantCache: cache}
}

func (m *Metrics) observeDecision(d Decision, rt ResourceType) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(d.Outcome.String(), d.Path, string(rt)).Inc()
}

func (m *Metrics) observeTenantlessAdmin() {
	if m == nil {
		return
	}
	m.tenantlessAdmin.Inc()
}

func (m *Metrics) observeCache(result string) {
	if m == nil {
		return
	}
	m.grantCache.WithLabelValues(result).Inc()
}

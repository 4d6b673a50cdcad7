package observability

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Reporter receives failures that were swallowed to keep a primary operation
// alive, such as audit writes. It logs at ERROR and counts by message.
type Reporter struct {
	logger   *slog.Logger
	failures *prometheus.CounterVec
}

// NewReporter registers the failure counter on registerer. A nil registerer
// leaves the reporter log-only.
func NewReporter(logger *slog.Logger, registerer prometheus.Registerer) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reporter{logger: logger}
	if registerer != nil {
		r.failures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantguard_reported_errors_total",
			Help: "Swallowed failures forwarded to error reporting, by operation.",
		}, []string{"operation"})
		registerer.MustRegister(r.failures)
	}
	return r
}

// Report logs err with attrs and increments the counter for msg.
func (r *Reporter) Report(ctx context.Context, err error, msg string, attrs ...slog.Attr) {
	if r == nil {
		return
	}
	args := make([]any, 0, len(attrs)+1)
	args = append(args, slog.Any("error", err))
	for _, a := range attrs {
		args = append(args, a)
	}
	r.logger.ErrorContext(ctx, msg, args...)
	if r.failures != nil {
		r.failures.WithLabelValues(msg).Inc()
	}
}

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/tenantguard/internal/authz"
)

// unknownValue stands in for a blank action or resource type on a denial.
const unknownValue = "UNKNOWN"

// Sink persists a fully built record as a single atomic write.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// ErrorReporter forwards swallowed failures to error tracking.
type ErrorReporter interface {
	Report(ctx context.Context, err error, msg string, attrs ...slog.Attr)
}

// Logger appends audit records. Logging never unwinds a primary operation:
// LogAction and RecordDenial report and swallow sink failures.
type Logger struct {
	sink     Sink
	reporter ErrorReporter
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// NewLogger constructs a Logger. reporter and logger may be nil.
func NewLogger(sink Sink, reporter ErrorReporter, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		sink:     sink,
		reporter: reporter,
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
}

// Record builds and appends a record, returning the write error unchanged.
func (l *Logger) Record(ctx context.Context, e Entry) (Record, error) {
	if l == nil || l.sink == nil {
		return Record{}, ErrSinkNotConfigured
	}
	rec, err := l.build(e)
	if err != nil {
		return Record{}, err
	}
	if err := l.sink.Write(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("audit: write record: %w", err)
	}
	return rec, nil
}

// LogAction records a successful operation. It returns nil when the write
// failed; the failure has already been reported.
func (l *Logger) LogAction(ctx context.Context, principalID string, tenantID *string, action, resourceType, resourceID string, detail map[string]any) *Record {
	rec, err := l.Record(ctx, Entry{
		PrincipalID:  principalID,
		TenantID:     tenantID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Outcome:      OutcomeSuccess,
		Detail:       detail,
	})
	if err != nil {
		l.report(ctx, err, "audit log action",
			slog.String("principal_id", principalID),
			slog.String("action", action),
			slog.String("resource_type", resourceType))
		return nil
	}
	return &rec
}

// RecordDenial writes the DENIED record for an engine denial. A malformed
// request still leaves a record: a blank action or resource type is stored
// as UNKNOWN and the raw value kept in the detail.
func (l *Logger) RecordDenial(ctx context.Context, d authz.Denial) {
	detail := map[string]any{"reason": d.Reason, "path": d.Path}
	if d.Verb != "" {
		detail["verb"] = d.Verb
	}
	action := string(d.Action)
	if strings.TrimSpace(action) == "" {
		detail["requested_action"] = action
		action = unknownValue
	}
	resourceType := string(d.ResourceType)
	if strings.TrimSpace(resourceType) == "" {
		detail["requested_resource_type"] = resourceType
		resourceType = unknownValue
	}
	_, err := l.Record(ctx, Entry{
		PrincipalID:  d.PrincipalID,
		TenantID:     d.TenantID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   d.ResourceID,
		Outcome:      OutcomeDenied,
		Detail:       detail,
	})
	if err != nil {
		l.report(ctx, err, "audit record denial",
			slog.String("principal_id", d.PrincipalID),
			slog.String("action", string(d.Action)),
			slog.String("resource_type", string(d.ResourceType)))
	}
}

func (l *Logger) build(e Entry) (Record, error) {
	action := strings.TrimSpace(e.Action)
	resourceType := strings.TrimSpace(e.ResourceType)
	if action == "" || resourceType == "" {
		return Record{}, fmt.Errorf("%w: action and resource type required", ErrInvalidEntry)
	}
	if !e.Outcome.Valid() {
		return Record{}, fmt.Errorf("%w: outcome %q", ErrInvalidEntry, e.Outcome)
	}
	var detail json.RawMessage
	if len(e.Detail) > 0 {
		raw, err := json.Marshal(e.Detail)
		if err != nil {
			return Record{}, fmt.Errorf("%w: detail: %v", ErrInvalidEntry, err)
		}
		detail = raw
	}
	rec := Record{
		ID:           l.newID(),
		PrincipalID:  e.PrincipalID,
		TenantID:     e.TenantID,
		Action:       action,
		ResourceType: resourceType,
		Outcome:      e.Outcome,
		Detail:       detail,
		OccurredAt:   l.now().UTC(),
	}
	if id := strings.TrimSpace(e.ResourceID); id != "" {
		rec.ResourceID = &id
	}
	return rec, nil
}

func (l *Logger) report(ctx context.Context, err error, msg string, attrs ...slog.Attr) {
	if l == nil {
		return
	}
	if l.reporter != nil {
		l.reporter.Report(ctx, err, msg, attrs...)
		return
	}
	args := make([]any, 0, len(attrs)+1)
	args = append(args, slog.Any("error", err))
	for _, a := range attrs {
		args = append(args, a)
	}
	l.logger.ErrorContext(ctx, msg, args...)
}

var _ authz.DenialRecorder = (*Logger)(nil)

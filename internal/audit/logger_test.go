package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/tenantguard/internal/authz"
)

type memorySink struct {
	records []Record
	err     error
}

func (m *memorySink) Write(ctx context.Context, rec Record) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

type capturingReporter struct {
	errs []error
	msgs []string
}

func (c *capturingReporter) Report(ctx context.Context, err error, msg string, attrs ...slog.Attr) {
	c.errs = append(c.errs, err)
	c.msgs = append(c.msgs, msg)
}

func newTestLogger(sink Sink, reporter ErrorReporter) *Logger {
	l := NewLogger(sink, reporter, nil)
	l.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("WIB", 7*3600)) }
	l.newID = func() string { return "rec-1" }
	return l
}

func TestLogActionWritesSuccessRecord(t *testing.T) {
	sink := &memorySink{}
	logger := newTestLogger(sink, nil)
	tenant := authz.TenantRef("T1")

	rec := logger.LogAction(context.Background(), "u1", tenant, "UPDATE", "PROJECT", "p1", map[string]any{"field": "name"})

	require.NotNil(t, rec)
	require.Len(t, sink.records, 1)
	got := sink.records[0]
	require.Equal(t, "rec-1", got.ID)
	require.Equal(t, OutcomeSuccess, got.Outcome)
	require.Equal(t, "T1", *got.TenantID)
	require.Equal(t, "p1", *got.ResourceID)
	require.Equal(t, time.UTC, got.OccurredAt.Location())
	require.JSONEq(t, `{"field":"name"}`, string(got.Detail))
}

func TestLogActionFailureIsSwallowedAndReported(t *testing.T) {
	sink := &memorySink{err: errors.New("disk full")}
	reporter := &capturingReporter{}
	logger := newTestLogger(sink, reporter)

	rec := logger.LogAction(context.Background(), "u1", nil, "DELETE", "TASK", "t1", nil)

	require.Nil(t, rec)
	require.Len(t, reporter.errs, 1)
	require.ErrorContains(t, reporter.errs[0], "disk full")
}

func TestRecordReturnsSinkError(t *testing.T) {
	sink := &memorySink{err: errors.New("boom")}
	logger := newTestLogger(sink, nil)

	_, err := logger.Record(context.Background(), Entry{Action: "READ", ResourceType: "LEAD", Outcome: OutcomeSuccess})
	require.Error(t, err)
}

func TestRecordValidatesEntry(t *testing.T) {
	logger := newTestLogger(&memorySink{}, nil)

	_, err := logger.Record(context.Background(), Entry{ResourceType: "LEAD", Outcome: OutcomeSuccess})
	require.ErrorIs(t, err, ErrInvalidEntry)

	_, err = logger.Record(context.Background(), Entry{Action: "READ", ResourceType: "LEAD", Outcome: "MAYBE"})
	require.ErrorIs(t, err, ErrInvalidEntry)
}

func TestRecordWithoutSink(t *testing.T) {
	var logger *Logger
	_, err := logger.Record(context.Background(), Entry{})
	require.ErrorIs(t, err, ErrSinkNotConfigured)
}

func TestEmptyResourceIDIsStoredAsNull(t *testing.T) {
	sink := &memorySink{}
	logger := newTestLogger(sink, nil)

	rec := logger.LogAction(context.Background(), "u1", nil, "CREATE", "CLIENT", "  ", nil)
	require.NotNil(t, rec)
	require.Nil(t, sink.records[0].ResourceID)
	require.Nil(t, sink.records[0].Detail)
}

func TestRecordDenialWritesDeniedRecord(t *testing.T) {
	sink := &memorySink{}
	logger := newTestLogger(sink, nil)

	logger.RecordDenial(context.Background(), authz.Denial{
		PrincipalID:  "u2",
		TenantID:     authz.TenantRef("T2"),
		Action:       authz.ActionUpdate,
		ResourceType: authz.ResourceInvoice,
		ResourceID:   "inv-9",
		Verb:         "SEND",
		Reason:       authz.ReasonInsufficient,
		Path:         authz.PathDenied,
	})

	require.Len(t, sink.records, 1)
	got := sink.records[0]
	require.Equal(t, OutcomeDenied, got.Outcome)
	require.Equal(t, "UPDATE", got.Action)
	require.Equal(t, "INVOICE", got.ResourceType)
	var detail map[string]string
	require.NoError(t, json.Unmarshal(got.Detail, &detail))
	require.Equal(t, authz.ReasonInsufficient, detail["reason"])
	require.Equal(t, "SEND", detail["verb"])
}

func TestRecordDenialSwallowsFailure(t *testing.T) {
	reporter := &capturingReporter{}
	logger := newTestLogger(&memorySink{err: errors.New("offline")}, reporter)

	require.NotPanics(t, func() {
		logger.RecordDenial(context.Background(), authz.Denial{Action: authz.ActionRead, ResourceType: authz.ResourceLead, Reason: authz.ReasonUnauthenticated})
	})
	require.Equal(t, []string{"audit record denial"}, reporter.msgs)
}

func TestRecordDenialKeepsMalformedRequest(t *testing.T) {
	sink := &memorySink{}
	logger := newTestLogger(sink, nil)

	logger.RecordDenial(context.Background(), authz.Denial{
		PrincipalID: "u3",
		Action:      " ",
		Reason:      authz.ReasonInvalidRequest,
		Path:        authz.PathInvalid,
	})

	require.Len(t, sink.records, 1)
	got := sink.records[0]
	require.Equal(t, OutcomeDenied, got.Outcome)
	require.Equal(t, unknownValue, got.Action)
	require.Equal(t, unknownValue, got.ResourceType)
	var detail map[string]string
	require.NoError(t, json.Unmarshal(got.Detail, &detail))
	require.Equal(t, " ", detail["requested_action"])
	require.Contains(t, detail, "requested_resource_type")
	require.Equal(t, authz.ReasonInvalidRequest, detail["reason"])
}

func TestEngineDenialsReachTheTrail(t *testing.T) {
	sink := &memorySink{}
	reporter := &capturingReporter{}
	engine := authz.NewEngine(authz.EngineConfig{Denials: newTestLogger(sink, reporter)})
	caller := &authz.Principal{ID: "m1", Role: authz.RoleMember, TenantID: authz.TenantRef("T1")}

	requests := []authz.Request{
		{ResourceType: authz.ResourceProject},
		{Action: authz.ActionRead},
		{},
	}
	for _, req := range requests {
		d := engine.Decide(context.Background(), caller, req)
		require.Equal(t, authz.OutcomeDeny, d.Outcome)
		require.Equal(t, authz.ReasonInvalidRequest, d.Reason)
	}

	require.Empty(t, reporter.errs)
	require.Len(t, sink.records, len(requests))
	require.Equal(t, unknownValue, sink.records[0].Action)
	require.Equal(t, "PROJECT", sink.records[0].ResourceType)
	require.Equal(t, "READ", sink.records[1].Action)
	require.Equal(t, unknownValue, sink.records[1].ResourceType)
	for _, rec := range sink.records {
		require.Equal(t, OutcomeDenied, rec.Outcome)
		require.Equal(t, "m1", rec.PrincipalID)
		require.Equal(t, "T1", *rec.TenantID)
	}

	d := engine.Decide(context.Background(), nil, authz.Request{Action: authz.ActionRead, ResourceType: authz.ResourceLead})
	require.Equal(t, authz.OutcomeDeny, d.Outcome)
	require.Len(t, sink.records, len(requests)+1)
	require.Empty(t, sink.records[len(requests)].PrincipalID)
}

package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"strings"
	"sync"
	"testing"
	"time"

	"clinicflow/pkg/domain"

	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

type captureLogger struct {
	mu    sync.Mutex
	calls []string
}

func (c *captureLogger) add(prefix, msg string) {
	c.mu.Lock()
	c.calls = append(c.calls, prefix+msg)
	c.mu.Unlock()
}

func (c *captureLogger) Debug(msg string, _ ...any) { c.add("d:", msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.add("i:", msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.add("w:", msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.add("e:", msg) }

func (c *captureLogger) has(call string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, got := range c.calls {
		if got == call {
			return true
		}
	}
	return false
}

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) has(op string, status AuditStatus, match func(AuditEntry) bool) bool {
	for _, entry := range c.entries {
		if entry.Operation != op || entry.Status != status {
			continue
		}
		if match == nil || match(entry) {
			return true
		}
	}
	return false
}

type metricRecord struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	records []metricRecord
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.records = append(c.records, metricRecord{op: op, success: success})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, r := range c.records {
		if r.op == op && r.success == success {
			return true
		}
	}
	return false
}

type spanRecord struct {
	op  string
	err error
}

type captureTracer struct {
	ended []spanRecord
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) has(op string, success bool) bool {
	for _, s := range c.ended {
		if s.op == op && (s.err == nil) == success {
			return true
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

func TestServiceObservabilityHooks(t *testing.T) {
	ctx := context.Background()
	audit := &captureAuditRecorder{}
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}
	svc := newTestService(t, NewDefaultRulesEngine(),
		WithAuditRecorder(audit),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
	)

	created, _, err := svc.CreatePatient(ctx, ProfileInput{Name: "Observed"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !audit.has(OpCreatePatient, AuditStatusSuccess, func(e AuditEntry) bool {
		return e.Entity == domain.EntityPatient && e.Action == domain.ActionCreate && e.EntityID == created.ID()
	}) {
		t.Fatalf("expected create_patient audit entry, got %+v", audit.entries)
	}
	if _, _, err := svc.TogglePayment(ctx, created.ID()); err == nil {
		t.Fatalf("expected consent error")
	}
	if !audit.has(OpTogglePayment, AuditStatusError, func(e AuditEntry) bool {
		return e.EntityID == created.ID() && strings.Contains(e.Error, "consent")
	}) {
		t.Fatalf("expected toggle_payment error entry")
	}
	if !metrics.has(OpTogglePayment, false) || !metrics.has(OpCreatePatient, true) {
		t.Fatalf("expected metrics for both outcomes, got %+v", metrics.records)
	}
	if !tracer.has(OpTogglePayment, false) || !tracer.has(OpCreatePatient, true) {
		t.Fatalf("expected spans for both outcomes, got %+v", tracer.ended)
	}

	if _, _, err := svc.SelectRole(ctx, domain.RoleReceptionist); err != nil {
		t.Fatalf("select role: %v", err)
	}
	if !audit.has(OpSelectRole, AuditStatusSuccess, func(e AuditEntry) bool { return e.Entity == domain.EntityFocus }) {
		t.Fatalf("expected focus audit entry")
	}
	if err := svc.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !audit.has(OpReset, AuditStatusSuccess, nil) || !metrics.has(OpReset, true) || !tracer.has(OpReset, true) {
		t.Fatalf("expected reset observed")
	}
}

func TestRecordAuditIgnoresUnknownOperation(t *testing.T) {
	audit := &captureAuditRecorder{}
	svc := NewService(nil, WithAuditRecorder(audit))
	svc.recordAudit(context.Background(), "unknown_operation", "x", time.Second, nil)
	if len(audit.entries) != 0 {
		t.Fatalf("expected no entries, got %+v", audit.entries)
	}
}

func TestDefaultServiceOptions(t *testing.T) {
	opts := defaultServiceOptions()
	if opts.clock == nil || opts.logger == nil || opts.audit == nil || opts.metrics == nil || opts.tracer == nil || opts.scorer == nil {
		t.Fatalf("expected defaults populated")
	}
	_ = opts.clock.Now()
	opts.audit.Record(context.Background(), AuditEntry{})
	opts.metrics.Observe(context.Background(), "noop", true, 0)
	_, span := opts.tracer.Start(context.Background(), "noop")
	span.End(nil)
	id, err := opts.planIDFunc()
	if err != nil || !strings.HasPrefix(id, "tp_") {
		t.Fatalf("unexpected plan id %q %v", id, err)
	}

	var l noopLogger
	l.Debug("d", "k", 1)
	l.Info("i", "k", 2)
	l.Warn("w", "k", 3)
	l.Error("e", "k", 4)

	// nil options keep defaults
	o := defaultServiceOptions()
	for _, opt := range []ServiceOption{WithClock(nil), WithLogger(nil), WithMetricsRecorder(nil), WithTracer(nil), WithAuditRecorder(nil), WithPRSScorer(nil)} {
		opt(&o)
	}
	if o.clockSet || o.logger == nil || o.scorer == nil {
		t.Fatalf("nil options must not clear defaults")
	}
}

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if !strings.HasPrefix(rec.Name(), "clinicflow_action_metrics_") {
		t.Fatalf("unexpected name %s", rec.Name())
	}
	svc := newTestService(t, nil, WithMetricsRecorder(rec))
	_, _, _ = svc.ToggleConsent(context.Background(), "P001")
	_, _, _ = svc.ToggleConsent(context.Background(), "P404")
	rec.Observe(context.Background(), "", true, time.Second)

	if rec.Count(OpToggleConsent, true) != 1 || rec.Count(OpToggleConsent, false) != 1 {
		t.Fatalf("unexpected counts %+v", rec.Snapshot())
	}
	snap := rec.Snapshot()
	if _, ok := snap.Results[""]; ok {
		t.Fatalf("empty operation must be ignored")
	}
	snap.Results[OpToggleConsent]["success"] = 99
	if rec.Count(OpToggleConsent, true) != 1 {
		t.Fatalf("snapshot must be a copy")
	}

	published := expvar.Get(rec.Name())
	if published == nil {
		t.Fatalf("expected expvar publication")
	}
	var decoded ExpvarMetricsSnapshot
	if err := json.Unmarshal([]byte(published.String()), &decoded); err != nil {
		t.Fatalf("decode expvar: %v", err)
	}
	if decoded.Results[OpToggleConsent]["error"] != 1 {
		t.Fatalf("unexpected published snapshot %+v", decoded)
	}
}

func TestJSONTracerWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	svc := newTestService(t, nil, WithTracer(tracer))
	_, _, _ = svc.AddNote(context.Background(), "P001", "doctor", "hello")
	_, _, _ = svc.AddNote(context.Background(), "P404", "doctor", "hello")

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(entries))
	}
	if entries[0].Status != "success" || entries[1].Status != "error" || entries[1].Error == "" {
		t.Fatalf("unexpected spans %+v", entries)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 json lines, got %q", buf.String())
	}
	var first JSONTraceEntry
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil || first.Operation != OpAddNote {
		t.Fatalf("unexpected first line %q: %v", lines[0], err)
	}

	silent := NewJSONTracer(nil)
	_, span := silent.Start(context.Background(), "quiet")
	span.End(errors.New("boom"))
	if len(silent.Entries()) != 1 {
		t.Fatalf("expected retained span without writer")
	}
}

func TestOtelTracerAdapter(t *testing.T) {
	tracer := NewOtelTracer(tracenoop.NewTracerProvider().Tracer("test"))
	svc := newTestService(t, nil, WithTracer(tracer))
	if _, _, err := svc.AddNote(context.Background(), "P001", "doctor", "traced"); err != nil {
		t.Fatalf("add note: %v", err)
	}
	if _, _, err := svc.AddNote(context.Background(), "P404", "doctor", "traced"); err == nil {
		t.Fatalf("expected error")
	}
	if NewOtelTracer(nil).tracer == nil {
		t.Fatalf("expected global tracer fallback")
	}
}

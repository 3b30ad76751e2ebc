package core

import (
	"context"
	"time"

	"clinicflow/pkg/domain"
)

// Logger is the minimal structured logger the service writes to.
// *logging.Logger and *slog.Logger both satisfy it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Clock supplies the wall time used for audit timestamps.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// MetricsRecorder observes the outcome of each action.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// TraceSpan is ended exactly once with the action error, if any.
type TraceSpan interface {
	End(err error)
}

// Tracer opens a span around each action.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// AuditStatus is the outcome recorded for an action.
type AuditStatus string

const (
	// AuditStatusSuccess marks a committed action.
	AuditStatusSuccess AuditStatus = "success"
	// AuditStatusError marks a rejected or failed action.
	AuditStatusError AuditStatus = "error"
)

// AuditEntry describes one action invocation. Entries are advisory.
type AuditEntry struct {
	Operation string
	Entity    domain.EntityType
	Action    domain.Action
	EntityID  string
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives one entry per action.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

type noopAudit struct{}

func (noopAudit) Record(context.Context, AuditEntry) {}

type operationMeta struct {
	entity domain.EntityType
	action domain.Action
}

// operationCatalog maps every mutating action to the entity it touches.
var operationCatalog = map[string]operationMeta{
	OpSelectRole:              {entity: domain.EntityFocus, action: domain.ActionUpdate},
	OpSelectPatient:           {entity: domain.EntityFocus, action: domain.ActionUpdate},
	OpCreatePatient:           {entity: domain.EntityPatient, action: domain.ActionCreate},
	OpToggleConsent:           {entity: domain.EntityPatient, action: domain.ActionUpdate},
	OpTogglePayment:           {entity: domain.EntityPatient, action: domain.ActionUpdate},
	OpSetPayLater:             {entity: domain.EntityPatient, action: domain.ActionUpdate},
	OpPatientMarkPaid:         {entity: domain.EntityPatient, action: domain.ActionUpdate},
	OpUpdateAssessment:        {entity: domain.EntityPatient, action: domain.ActionUpdate},
	OpPerformPRS:              {entity: domain.EntityPatient, action: domain.ActionUpdate},
	OpCreateTreatmentPlan:     {entity: domain.EntityPatient, action: domain.ActionUpdate},
	OpAssignPatientToClinical: {entity: domain.EntityPatient, action: domain.ActionUpdate},
	OpCompleteTreatmentPlan:   {entity: domain.EntityPatient, action: domain.ActionUpdate},
	OpAddSession:              {entity: domain.EntityPatient, action: domain.ActionUpdate},
	OpAddNote:                 {entity: domain.EntityPatient, action: domain.ActionUpdate},
	OpUpdateNote:              {entity: domain.EntityPatient, action: domain.ActionUpdate},
	OpReset:                   {entity: domain.EntityPatient, action: domain.ActionDelete},
}

// Operation names reported to metrics, traces and audit entries.
const (
	OpSelectRole              = "select_role"
	OpSelectPatient           = "select_patient"
	OpCreatePatient           = "create_patient"
	OpToggleConsent           = "toggle_consent"
	OpTogglePayment           = "toggle_payment"
	OpSetPayLater             = "set_pay_later"
	OpPatientMarkPaid         = "patient_mark_paid"
	OpUpdateAssessment        = "update_assessment"
	OpPerformPRS              = "perform_prs"
	OpCreateTreatmentPlan     = "create_treatment_plan"
	OpAssignPatientToClinical = "assign_patient_to_clinical"
	OpCompleteTreatmentPlan   = "complete_treatment_plan"
	OpAddSession              = "add_session"
	OpAddNote                 = "add_note"
	OpUpdateNote              = "update_note"
	OpReset                   = "reset"
)

func (s *Service) recordAudit(ctx context.Context, operation, entityID string, duration time.Duration, err error) {
	meta, ok := operationCatalog[operation]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: operation,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}

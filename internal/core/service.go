// Package core implements the clinicflow Action API: the only mutation
// surface over the record store. Every action validates, mutates inside a
// store transaction, lets the rules engine inspect the changes and returns
// the rule result next to its value.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clinicflow/pkg/domain"
)

// Service exposes the workflow actions over a persistent record store.
type Service struct {
	store   domain.PersistentStore
	clock   Clock
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
	scorer  PRSScorer
	planID  func() (string, error)
}

// NewService constructs a service over store.
func NewService(store domain.PersistentStore, opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.clockSet {
		if clocked, ok := store.(interface{ SetNowFunc(func() time.Time) }); ok {
			clocked.SetNowFunc(o.clock.Now)
		}
	}
	return &Service{
		store:   store,
		clock:   o.clock,
		logger:  o.logger,
		metrics: o.metrics,
		tracer:  o.tracer,
		audit:   o.audit,
		scorer:  o.scorer,
		planID:  o.planIDFunc,
	}
}

// run wraps a store transaction with tracing, metrics, audit and logging.
func (s *Service) run(ctx context.Context, op, entityID string, fn func(domain.Transaction) error) (domain.Result, error) {
	return s.runFor(ctx, op, func() string { return entityID }, fn)
}

// runFor is run with an entity id resolved after the transaction, for
// actions that generate the id themselves.
func (s *Service) runFor(ctx context.Context, op string, id func() string, fn func(domain.Transaction) error) (domain.Result, error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	res, err := s.store.RunInTransaction(ctx, fn)
	elapsed := time.Since(started)
	entityID := id()

	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, elapsed)
	s.recordAudit(ctx, op, entityID, elapsed, err)
	s.logOutcome(op, entityID, res, err)
	return res, err
}

func (s *Service) logOutcome(op, entityID string, res domain.Result, err error) {
	var violation domain.RuleViolationError
	switch {
	case err == nil:
		for _, w := range res.Warnings() {
			s.logger.Info("rule warning", "operation", op, "patient_id", entityID, "rule", w.Rule, "message", w.Message)
		}
		s.logger.Debug("action committed", "operation", op, "patient_id", entityID)
	case IsNotFound(err):
		s.logger.Warn("patient not found", "operation", op, "patient_id", entityID)
	case errors.Is(err, ErrConsentRequired), errors.Is(err, ErrUnknownAssessment),
		errors.Is(err, ErrNoteIndex), errors.Is(err, ErrNoActivePlan):
		s.logger.Warn("action rejected", "operation", op, "patient_id", entityID, "error", err)
	case errors.As(err, &violation):
		s.logger.Warn("action blocked by rules", "operation", op, "patient_id", entityID, "error", err)
	default:
		s.logger.Error("action failed", "operation", op, "patient_id", entityID, "error", err)
	}
}

// updatePatient runs mutate against an existing record inside one transaction.
func (s *Service) updatePatient(ctx context.Context, op, id string, mutate func(now time.Time, p *domain.PatientRecord) error) (domain.PatientRecord, domain.Result, error) {
	var updated domain.PatientRecord
	res, err := s.run(ctx, op, id, func(tx domain.Transaction) error {
		if _, ok := tx.FindPatient(id); !ok {
			return patientNotFound(id)
		}
		now := tx.Now()
		var err error
		updated, err = tx.UpdatePatient(id, func(p *domain.PatientRecord) error {
			return mutate(now, p)
		})
		return err
	})
	if err != nil {
		return domain.PatientRecord{}, res, err
	}
	return updated, res, nil
}

// SelectRole sets the active role, clears the selected patient and returns to
// the dashboard. Unknown roles are accepted.
func (s *Service) SelectRole(ctx context.Context, role domain.Role) (domain.AppFocus, domain.Result, error) {
	var focus domain.AppFocus
	res, err := s.run(ctx, OpSelectRole, "", func(tx domain.Transaction) error {
		focus = tx.UpdateFocus(func(f *domain.AppFocus) {
			f.CurrentRole = role
			f.CurrentScreen = domain.ScreenDashboard
			f.SelectedPatientID = ""
		})
		return nil
	})
	return focus, res, err
}

// SelectPatient focuses the patient details screen on id.
func (s *Service) SelectPatient(ctx context.Context, id string) (domain.AppFocus, domain.Result, error) {
	var focus domain.AppFocus
	res, err := s.run(ctx, OpSelectPatient, id, func(tx domain.Transaction) error {
		if _, ok := tx.FindPatient(id); !ok {
			return patientNotFound(id)
		}
		focus = tx.UpdateFocus(func(f *domain.AppFocus) {
			f.SelectedPatientID = id
			f.CurrentScreen = domain.ScreenPatientDetails
		})
		return nil
	})
	return focus, res, err
}

// CreatePatient registers a new patient with intake defaults and the next id.
func (s *Service) CreatePatient(ctx context.Context, in ProfileInput) (domain.PatientRecord, domain.Result, error) {
	var created domain.PatientRecord
	res, err := s.runFor(ctx, OpCreatePatient, func() string { return created.ID() }, func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreatePatient(in.profile())
		return err
	})
	if err != nil {
		return domain.PatientRecord{}, res, err
	}
	s.logger.Info("patient created", "patient_id", created.ID())
	return created, res, nil
}

// ToggleConsent flips consent, stamping the grant time when it becomes true.
func (s *Service) ToggleConsent(ctx context.Context, id string) (domain.PatientRecord, domain.Result, error) {
	return s.updatePatient(ctx, OpToggleConsent, id, func(now time.Time, p *domain.PatientRecord) error {
		p.Consent.Status = !p.Consent.Status
		if p.Consent.Status {
			p.Consent.ConsentDate = &now
		}
		return nil
	})
}

// TogglePayment flips payment between pending and completed. Pay-later
// returns to pending. It fails with ErrConsentRequired and leaves the record
// untouched while consent is withheld.
func (s *Service) TogglePayment(ctx context.Context, id string) (domain.PatientRecord, domain.Result, error) {
	return s.updatePatient(ctx, OpTogglePayment, id, func(now time.Time, p *domain.PatientRecord) error {
		if !p.Consent.Status {
			return ErrConsentRequired
		}
		if p.Payment.Status == domain.PaymentPending {
			p.Payment.Status = domain.PaymentCompleted
			p.Payment.PaymentDate = &now
			return nil
		}
		p.Payment.Status = domain.PaymentPending
		return nil
	})
}

// SetPayLater defers payment. No consent check applies.
func (s *Service) SetPayLater(ctx context.Context, id string) (domain.PatientRecord, domain.Result, error) {
	return s.updatePatient(ctx, OpSetPayLater, id, func(_ time.Time, p *domain.PatientRecord) error {
		p.Payment.Status = domain.PaymentPayLater
		return nil
	})
}

// PatientMarkPaid completes payment from the patient screen. It does not check
// consent; the strict rules engine rejects it when consent is missing.
func (s *Service) PatientMarkPaid(ctx context.Context, id string) (domain.PatientRecord, domain.Result, error) {
	return s.updatePatient(ctx, OpPatientMarkPaid, id, func(now time.Time, p *domain.PatientRecord) error {
		p.Payment.Status = domain.PaymentCompleted
		p.Payment.PaymentDate = &now
		return nil
	})
}

// UpdateAssessment merges in into the kind slot. completedAt is stamped
// whenever the slot ends up holding a score.
func (s *Service) UpdateAssessment(ctx context.Context, id string, kind domain.AssessmentKind, in AssessmentInput) (domain.PatientRecord, domain.Result, error) {
	return s.updatePatient(ctx, OpUpdateAssessment, id, func(now time.Time, p *domain.PatientRecord) error {
		slot, ok := p.Assessments.Slot(kind)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownAssessment, kind)
		}
		in.apply(slot)
		stamp(slot, now)
		return nil
	})
}

func stamp(slot *domain.AssessmentResult, now time.Time) {
	if slot.Score == nil {
		slot.CompletedAt = nil
		return
	}
	slot.CompletedAt = &now
}

// PerformPRS records a clinical-assistant PRS score from the configured
// scorer and appends a completion note.
func (s *Service) PerformPRS(ctx context.Context, id, assistant string) (domain.PatientRecord, domain.Result, error) {
	if assistant == "" {
		assistant = DefaultPRSAssistant
	}
	score := s.scorer()
	return s.updatePatient(ctx, OpPerformPRS, id, func(now time.Time, p *domain.PatientRecord) error {
		in := AssessmentInput{Score: &score, CompletedBy: &assistant}
		in.apply(&p.Assessments.PRS)
		stamp(&p.Assessments.PRS, now)
		p.Notes = append(p.Notes, domain.Note{Author: assistant, Text: PRSCompletedNote, CreatedAt: now})
		return nil
	})
}

// CreateTreatmentPlan replaces the patient's plan with a new active plan.
func (s *Service) CreateTreatmentPlan(ctx context.Context, id string, in PlanInput) (domain.PatientRecord, domain.Result, error) {
	planID, err := s.planID()
	if err != nil {
		return domain.PatientRecord{}, domain.Result{}, err
	}
	sessions := in.SessionsPlanned
	if sessions <= 0 {
		sessions = DefaultSessionsPlanned
	}
	return s.updatePatient(ctx, OpCreateTreatmentPlan, id, func(now time.Time, p *domain.PatientRecord) error {
		p.TreatmentPlan = domain.TreatmentPlan{
			ID:              planID,
			CreatedBy:       domain.RoleDoctor,
			CreatedAt:       &now,
			Disease:         in.Disease,
			Device:          in.Device,
			Montage:         in.Montage,
			SessionsPlanned: sessions,
			ClinicalNotes:   in.ClinicalNotes,
			Status:          domain.PlanActive,
		}
		return nil
	})
}

// AssignPatientToClinical hands an active plan to the clinical assistant.
func (s *Service) AssignPatientToClinical(ctx context.Context, id string) (domain.PatientRecord, domain.Result, error) {
	return s.updatePatient(ctx, OpAssignPatientToClinical, id, func(_ time.Time, p *domain.PatientRecord) error {
		if p.TreatmentPlan.Status != domain.PlanActive {
			return ErrNoActivePlan
		}
		p.TreatmentPlan.AssignedTo = domain.RoleClinicalAssistant
		return nil
	})
}

// CompleteTreatmentPlan closes an active plan.
func (s *Service) CompleteTreatmentPlan(ctx context.Context, id string) (domain.PatientRecord, domain.Result, error) {
	return s.updatePatient(ctx, OpCompleteTreatmentPlan, id, func(now time.Time, p *domain.PatientRecord) error {
		if p.TreatmentPlan.Status != domain.PlanActive {
			return ErrNoActivePlan
		}
		p.TreatmentPlan.Status = domain.PlanCompleted
		p.TreatmentPlan.CompletedAt = &now
		return nil
	})
}

// AddSession appends a completed session numbered after the existing ones.
func (s *Service) AddSession(ctx context.Context, id string, in SessionInput) (domain.PatientRecord, domain.Result, error) {
	return s.updatePatient(ctx, OpAddSession, id, func(now time.Time, p *domain.PatientRecord) error {
		p.Sessions = append(p.Sessions, domain.Session{
			SessionNumber:   len(p.Sessions) + 1,
			Date:            now,
			Device:          in.Device,
			Montage:         in.Montage,
			Duration:        in.Duration,
			Notes:           in.Notes,
			Observations:    in.Observations,
			PatientFeedback: in.PatientFeedback,
			CompletedBy:     in.CompletedBy,
			Status:          domain.SessionStatusCompleted,
		})
		return nil
	})
}

// AddNote appends a clinical note.
func (s *Service) AddNote(ctx context.Context, id, author, text string) (domain.PatientRecord, domain.Result, error) {
	return s.updatePatient(ctx, OpAddNote, id, func(now time.Time, p *domain.PatientRecord) error {
		p.Notes = append(p.Notes, domain.Note{Author: author, Text: text, CreatedAt: now})
		return nil
	})
}

// UpdateNote replaces the text of the note at index.
func (s *Service) UpdateNote(ctx context.Context, id string, index int, text string) (domain.PatientRecord, domain.Result, error) {
	return s.updatePatient(ctx, OpUpdateNote, id, func(now time.Time, p *domain.PatientRecord) error {
		if index < 0 || index >= len(p.Notes) {
			return fmt.Errorf("%w: %d of %d", ErrNoteIndex, index, len(p.Notes))
		}
		p.Notes[index].Text = text
		p.Notes[index].UpdatedAt = &now
		return nil
	})
}

// Reset clears every record and reseeds through the store.
func (s *Service) Reset(ctx context.Context) error {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, OpReset)
	err := s.store.Reset(ctx)
	elapsed := time.Since(started)
	span.End(err)
	s.metrics.Observe(ctx, OpReset, err == nil, elapsed)
	s.recordAudit(ctx, OpReset, "", elapsed, err)
	if err != nil {
		s.logger.Error("reset failed", "error", err)
		return err
	}
	s.logger.Info("state reset")
	return nil
}

// GetAllPatients returns every record ordered by id.
func (s *Service) GetAllPatients() []domain.PatientRecord {
	return s.store.ListPatients()
}

// GetPatient returns the record for id.
func (s *Service) GetPatient(id string) (domain.PatientRecord, error) {
	p, ok := s.store.GetPatient(id)
	if !ok {
		s.logger.Warn("patient not found", "operation", "get_patient", "patient_id", id)
		return domain.PatientRecord{}, patientNotFound(id)
	}
	return p, nil
}

// GetAssessmentSummary returns a display marker per assessment kind:
// "✔ <label>" when scored, "• <label>" otherwise.
func (s *Service) GetAssessmentSummary(id string) (map[domain.AssessmentKind]string, error) {
	p, err := s.GetPatient(id)
	if err != nil {
		return map[domain.AssessmentKind]string{}, err
	}
	return AssessmentSummary(p.Assessments), nil
}

// AssessmentSummary renders the per-kind completion markers.
func AssessmentSummary(a domain.Assessments) map[domain.AssessmentKind]string {
	out := make(map[domain.AssessmentKind]string, len(domain.AssessmentKinds))
	for _, kind := range domain.AssessmentKinds {
		marker := "• "
		if a.Complete(kind) {
			marker = "✔ "
		}
		out[kind] = marker + kind.Label()
	}
	return out
}

// CanProceed reports whether consent is given and payment is no longer pending.
// Unknown ids report false.
func (s *Service) CanProceed(id string) bool {
	p, ok := s.store.GetPatient(id)
	if !ok {
		return false
	}
	return p.Consent.Status && p.Payment.Status != domain.PaymentPending
}

// Focus returns the current application focus.
func (s *Service) Focus() domain.AppFocus {
	return s.store.Focus()
}

// UI returns the persisted presentation scratch state.
func (s *Service) UI() domain.UIState {
	return s.store.UI()
}

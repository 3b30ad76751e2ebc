// Package domain defines the patient record schema, workflow value types, and
// rule evaluation primitives used by clinicflow.
package domain

import (
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records.
const (
	// EntityPatient identifies a patient record.
	EntityPatient EntityType = "patient"
	// EntityFocus identifies the application focus singleton.
	EntityFocus EntityType = "focus"
)

// PaymentStatus enumerates the intake payment states.
type PaymentStatus string

// Canonical payment statuses.
const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentPayLater  PaymentStatus = "payLater"
)

// PlanStatus enumerates treatment plan lifecycle states.
type PlanStatus string

// Canonical treatment plan statuses.
const (
	PlanNotCreated PlanStatus = "not_created"
	PlanActive     PlanStatus = "active"
	PlanCompleted  PlanStatus = "completed"
)

// SessionStatusCompleted is the only status a recorded session carries.
const SessionStatusCompleted = "completed"

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn is reported to the caller but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Profile is the identity captured at intake. It does not change after creation.
type Profile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Age       int       `json:"age"`
	Gender    string    `json:"gender"`
	VisitDate string    `json:"visitDate"`
	CreatedAt time.Time `json:"createdAt"`
}

// AssessmentResult is a single assessment slot. A slot is complete once Score is set.
type AssessmentResult struct {
	Score       *float64   `json:"score"`
	CompletedBy string     `json:"completedBy"`
	CompletedAt *time.Time `json:"completedAt"`
	Notes       string     `json:"notes,omitempty"`
}

// Complete reports whether a score has been recorded.
func (a AssessmentResult) Complete() bool { return a.Score != nil }

// Assessments holds one slot per assessment kind.
type Assessments struct {
	PRS          AssessmentResult `json:"prs"`
	FNON         AssessmentResult `json:"fnon"`
	EEG          AssessmentResult `json:"eeg"`
	BrainMapping AssessmentResult `json:"brainMapping"`
}

// Slot returns a pointer to the slot for kind, or false for an unknown kind.
func (a *Assessments) Slot(kind AssessmentKind) (*AssessmentResult, bool) {
	switch kind {
	case AssessmentPRS:
		return &a.PRS, true
	case AssessmentFNON:
		return &a.FNON, true
	case AssessmentEEG:
		return &a.EEG, true
	case AssessmentBrainMapping:
		return &a.BrainMapping, true
	default:
		return nil, false
	}
}

// Get returns a copy of the slot for kind.
func (a Assessments) Get(kind AssessmentKind) (AssessmentResult, bool) {
	slot, ok := a.Slot(kind)
	if !ok {
		return AssessmentResult{}, false
	}
	return *slot, true
}

// Complete reports whether every listed kind has a score.
func (a Assessments) Complete(kinds ...AssessmentKind) bool {
	for _, kind := range kinds {
		slot, ok := a.Get(kind)
		if !ok || !slot.Complete() {
			return false
		}
	}
	return true
}

// Payment tracks the intake payment flag. It is not a financial transaction.
type Payment struct {
	Status      PaymentStatus `json:"status"`
	PaymentDate *time.Time    `json:"paymentDate"`
}

// Consent tracks whether the patient has consented to treatment.
type Consent struct {
	Status      bool       `json:"status"`
	ConsentDate *time.Time `json:"consentDate"`
}

// TreatmentPlan is authored by a doctor once assessments are in. A record holds at most one.
type TreatmentPlan struct {
	ID              string     `json:"id"`
	CreatedBy       Role       `json:"createdBy"`
	CreatedAt       *time.Time `json:"createdAt"`
	Disease         string     `json:"disease"`
	Device          Device     `json:"device"`
	Montage         string     `json:"montage"`
	SessionsPlanned int        `json:"sessionsPlanned"`
	ClinicalNotes   string     `json:"clinicalNotes,omitempty"`
	AssignedTo      Role       `json:"assignedTo,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	Status          PlanStatus `json:"status"`
}

// Exists reports whether a plan has been created.
func (p TreatmentPlan) Exists() bool {
	return p.Status != "" && p.Status != PlanNotCreated
}

// Session is one delivered treatment session.
type Session struct {
	SessionNumber   int       `json:"sessionNumber"`
	Date            time.Time `json:"date"`
	Device          Device    `json:"device"`
	Montage         string    `json:"montage"`
	Duration        int       `json:"duration"`
	Notes           string    `json:"notes"`
	Observations    string    `json:"observations,omitempty"`
	PatientFeedback string    `json:"patientFeedback,omitempty"`
	CompletedBy     string    `json:"completedBy"`
	Status          string    `json:"status"`
}

// Note is a free-text clinical note. Text may be edited after creation.
type Note struct {
	Author    string     `json:"author"`
	Text      string     `json:"text"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// PatientRecord aggregates everything known about one registered patient.
type PatientRecord struct {
	Profile       Profile       `json:"profile"`
	Assessments   Assessments   `json:"assessments"`
	Payment       Payment       `json:"payment"`
	Consent       Consent       `json:"consent"`
	TreatmentPlan TreatmentPlan `json:"treatmentPlan"`
	Sessions      []Session     `json:"sessions"`
	Notes         []Note        `json:"notes"`
}

// NewPatientRecord builds a record with every section at its empty default.
func NewPatientRecord(profile Profile) PatientRecord {
	return PatientRecord{
		Profile:       profile,
		Payment:       Payment{Status: PaymentPending},
		TreatmentPlan: TreatmentPlan{Status: PlanNotCreated},
		Sessions:      []Session{},
		Notes:         []Note{},
	}
}

// ID returns the patient identifier.
func (p PatientRecord) ID() string { return p.Profile.ID }

// Clone returns a deep copy so callers cannot mutate stored state.
func (p PatientRecord) Clone() PatientRecord {
	out := p
	out.Assessments = Assessments{
		PRS:          cloneAssessment(p.Assessments.PRS),
		FNON:         cloneAssessment(p.Assessments.FNON),
		EEG:          cloneAssessment(p.Assessments.EEG),
		BrainMapping: cloneAssessment(p.Assessments.BrainMapping),
	}
	out.Payment.PaymentDate = cloneTime(p.Payment.PaymentDate)
	out.Consent.ConsentDate = cloneTime(p.Consent.ConsentDate)
	out.TreatmentPlan.CreatedAt = cloneTime(p.TreatmentPlan.CreatedAt)
	out.TreatmentPlan.CompletedAt = cloneTime(p.TreatmentPlan.CompletedAt)
	out.Sessions = make([]Session, len(p.Sessions))
	copy(out.Sessions, p.Sessions)
	out.Notes = make([]Note, len(p.Notes))
	for i, n := range p.Notes {
		n.UpdatedAt = cloneTime(n.UpdatedAt)
		out.Notes[i] = n
	}
	return out
}

func cloneAssessment(a AssessmentResult) AssessmentResult {
	if a.Score != nil {
		score := *a.Score
		a.Score = &score
	}
	a.CompletedAt = cloneTime(a.CompletedAt)
	return a
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Screen tags the presentation screen the focus points at.
type Screen string

// Known screens.
const (
	ScreenDashboard      Screen = "dashboard"
	ScreenPatientDetails Screen = "patientDetails"
)

// AppFocus is the process-wide UI focus: selected role and patient.
type AppFocus struct {
	CurrentRole       Role   `json:"currentRole"`
	CurrentScreen     Screen `json:"currentScreen"`
	SelectedPatientID string `json:"selectedPatientId"`
}

// DefaultFocus returns the empty focus used at startup and after reset.
func DefaultFocus() AppFocus {
	return AppFocus{CurrentScreen: ScreenDashboard}
}

// UIState is presentation scratch state. It is persisted but never interpreted.
type UIState struct {
	Loading bool   `json:"loading"`
	Modal   string `json:"modal"`
	Error   string `json:"error"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before *PatientRecord
	After  *PatientRecord
}

// Action indicates the type of modification performed.
type Action string

// Change actions captured per transaction.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string     `json:"rule"`
	Severity Severity   `json:"severity"`
	Message  string     `json:"message"`
	Entity   EntityType `json:"entity"`
	EntityID string     `json:"entityId"`
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation `json:"violations,omitempty"`
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Warnings returns the non-blocking violations.
func (r Result) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityWarn {
			out = append(out, v)
		}
	}
	return out
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "transaction blocked by rules: " + v.Rule + ": " + v.Message
		}
	}
	return "transaction blocked by rules"
}

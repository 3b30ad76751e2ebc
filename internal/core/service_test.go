package core

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"clinicflow/internal/blob"
	memory "clinicflow/internal/infra/persistence/memory"
	"clinicflow/internal/persistence"
	"clinicflow/pkg/domain"
)

func newTestService(t *testing.T, engine *RulesEngine, opts ...ServiceOption) *Service {
	t.Helper()
	store, err := persistence.Open(context.Background(), blob.NewMemory(), engine)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return NewService(store, opts...)
}

func ptr[T any](v T) *T { return &v }

func TestCreatePatientIDsAreSequential(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, NewDefaultRulesEngine())
	seen := map[string]bool{"P001": true}
	for i := 2; i <= 12; i++ {
		p, _, err := svc.CreatePatient(ctx, ProfileInput{Name: fmt.Sprintf("Patient %d", i)})
		if err != nil {
			t.Fatalf("create patient: %v", err)
		}
		want := fmt.Sprintf("P%03d", i)
		if p.ID() != want {
			t.Fatalf("expected %s, got %s", want, p.ID())
		}
		if seen[p.ID()] {
			t.Fatalf("duplicate id %s", p.ID())
		}
		seen[p.ID()] = true
	}
	if len(svc.GetAllPatients()) != 12 {
		t.Fatalf("expected 12 patients, got %d", len(svc.GetAllPatients()))
	}
}

func TestCreatePatientAppliesIntakeDefaults(t *testing.T) {
	svc := newTestService(t, nil)
	p, _, err := svc.CreatePatient(context.Background(), ProfileInput{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Profile.Name != DefaultPatientName || p.Profile.Age != DefaultPatientAge || p.Profile.Gender != DefaultPatientGender {
		t.Fatalf("unexpected defaults %+v", p.Profile)
	}
	if p.Profile.VisitDate != p.Profile.CreatedAt.Format(time.DateOnly) {
		t.Fatalf("visit date %q does not match creation day", p.Profile.VisitDate)
	}
	if p.Payment.Status != domain.PaymentPending || p.Consent.Status || p.TreatmentPlan.Exists() {
		t.Fatalf("unexpected initial sections %+v", p)
	}
}

func TestConsentGatesPayment(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, NewDefaultRulesEngine())
	p, _, _ := svc.CreatePatient(ctx, ProfileInput{Name: "Gate"})

	if _, _, err := svc.TogglePayment(ctx, p.ID()); !errors.Is(err, ErrConsentRequired) {
		t.Fatalf("expected consent required, got %v", err)
	}
	stored, _ := svc.GetPatient(p.ID())
	if stored.Payment.Status != domain.PaymentPending || stored.Payment.PaymentDate != nil {
		t.Fatalf("payment changed without consent: %+v", stored.Payment)
	}

	if _, _, err := svc.ToggleConsent(ctx, p.ID()); err != nil {
		t.Fatalf("toggle consent: %v", err)
	}
	paid, _, err := svc.TogglePayment(ctx, p.ID())
	if err != nil {
		t.Fatalf("toggle payment: %v", err)
	}
	if paid.Payment.Status != domain.PaymentCompleted || paid.Payment.PaymentDate == nil {
		t.Fatalf("expected completed payment, got %+v", paid.Payment)
	}
	stamped := *paid.Payment.PaymentDate

	back, _, err := svc.TogglePayment(ctx, p.ID())
	if err != nil {
		t.Fatalf("toggle back: %v", err)
	}
	if back.Payment.Status != domain.PaymentPending || !back.Payment.PaymentDate.Equal(stamped) {
		t.Fatalf("expected pending with original stamp, got %+v", back.Payment)
	}
}

func TestPayLaterTogglesToPending(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	p, _, _ := svc.CreatePatient(ctx, ProfileInput{})
	if _, _, err := svc.SetPayLater(ctx, p.ID()); err != nil {
		t.Fatalf("pay later: %v", err)
	}
	if svc.CanProceed(p.ID()) {
		t.Fatalf("cannot proceed without consent")
	}
	_, _, _ = svc.ToggleConsent(ctx, p.ID())
	if !svc.CanProceed(p.ID()) {
		t.Fatalf("pay later with consent should proceed")
	}
	toggled, _, err := svc.TogglePayment(ctx, p.ID())
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if toggled.Payment.Status != domain.PaymentPending {
		t.Fatalf("expected pay later to toggle to pending, got %s", toggled.Payment.Status)
	}
	if svc.CanProceed(p.ID()) || svc.CanProceed("P404") {
		t.Fatalf("pending payment or unknown id cannot proceed")
	}
}

func TestToggleConsentKeepsGrantDateWhenRevoked(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	granted, _, _ := svc.ToggleConsent(ctx, "P001")
	if !granted.Consent.Status || granted.Consent.ConsentDate == nil {
		t.Fatalf("expected consent stamped, got %+v", granted.Consent)
	}
	revoked, _, _ := svc.ToggleConsent(ctx, "P001")
	if revoked.Consent.Status || revoked.Consent.ConsentDate == nil {
		t.Fatalf("expected revoked consent to keep grant date, got %+v", revoked.Consent)
	}
}

func TestSessionNumbersFollowPosition(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, NewDefaultRulesEngine())
	const n = 7
	var last domain.PatientRecord
	for i := 0; i < n; i++ {
		var err error
		last, _, err = svc.AddSession(ctx, "P001", SessionInput{Device: domain.DeviceTDCS, Duration: 20 + i})
		if err != nil {
			t.Fatalf("add session %d: %v", i, err)
		}
	}
	if len(last.Sessions) != n {
		t.Fatalf("expected %d sessions, got %d", n, len(last.Sessions))
	}
	for i, s := range last.Sessions {
		if s.SessionNumber != i+1 || s.Status != domain.SessionStatusCompleted || s.Duration != 20+i {
			t.Fatalf("unexpected session %d: %+v", i, s)
		}
	}
}

func TestAssessmentSummaryTracksScores(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, NewDefaultRulesEngine())
	summary, err := svc.GetAssessmentSummary("P001")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	for _, kind := range domain.AssessmentKinds {
		if summary[kind] != "• "+kind.Label() {
			t.Fatalf("expected %s incomplete, got %q", kind, summary[kind])
		}
	}

	updated, _, err := svc.UpdateAssessment(ctx, "P001", domain.AssessmentBrainMapping, AssessmentInput{Score: ptr(71.5), CompletedBy: ptr("Dr. Smith")})
	if err != nil {
		t.Fatalf("update assessment: %v", err)
	}
	slot := updated.Assessments.BrainMapping
	if slot.Score == nil || *slot.Score != 71.5 || slot.CompletedBy != "Dr. Smith" || slot.CompletedAt == nil {
		t.Fatalf("unexpected slot %+v", slot)
	}
	summary, _ = svc.GetAssessmentSummary("P001")
	if summary[domain.AssessmentBrainMapping] != "✔ Brain Mapping" || summary[domain.AssessmentPRS] != "• PRS" {
		t.Fatalf("unexpected summary %v", summary)
	}

	notesOnly, _, err := svc.UpdateAssessment(ctx, "P001", domain.AssessmentEEG, AssessmentInput{Notes: ptr("pending upload")})
	if err != nil {
		t.Fatalf("notes only: %v", err)
	}
	if notesOnly.Assessments.EEG.CompletedAt != nil || notesOnly.Assessments.EEG.Notes != "pending upload" {
		t.Fatalf("slot without score must stay incomplete: %+v", notesOnly.Assessments.EEG)
	}

	if _, err := svc.GetAssessmentSummary("P404"); !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateAssessmentRejectsUnknownKind(t *testing.T) {
	log := &captureLogger{}
	svc := newTestService(t, nil, WithLogger(log))
	before, _ := svc.GetPatient("P001")
	_, _, err := svc.UpdateAssessment(context.Background(), "P001", domain.AssessmentKind("mri"), AssessmentInput{Score: ptr(1.0)})
	if !errors.Is(err, ErrUnknownAssessment) {
		t.Fatalf("expected unknown assessment, got %v", err)
	}
	after, _ := svc.GetPatient("P001")
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("record changed on rejected update")
	}
	if !log.has("w:action rejected") {
		t.Fatalf("expected rejection logged, got %v", log.calls)
	}
}

func TestMissingPatientIsReportedAndLogged(t *testing.T) {
	ctx := context.Background()
	log := &captureLogger{}
	svc := newTestService(t, NewDefaultRulesEngine(), WithLogger(log))
	calls := map[string]func() error{
		OpSelectPatient:   func() error { _, _, err := svc.SelectPatient(ctx, "P404"); return err },
		OpToggleConsent:   func() error { _, _, err := svc.ToggleConsent(ctx, "P404"); return err },
		OpTogglePayment:   func() error { _, _, err := svc.TogglePayment(ctx, "P404"); return err },
		OpSetPayLater:     func() error { _, _, err := svc.SetPayLater(ctx, "P404"); return err },
		OpPatientMarkPaid: func() error { _, _, err := svc.PatientMarkPaid(ctx, "P404"); return err },
		OpUpdateAssessment: func() error {
			_, _, err := svc.UpdateAssessment(ctx, "P404", domain.AssessmentPRS, AssessmentInput{})
			return err
		},
		OpPerformPRS:              func() error { _, _, err := svc.PerformPRS(ctx, "P404", ""); return err },
		OpCreateTreatmentPlan:     func() error { _, _, err := svc.CreateTreatmentPlan(ctx, "P404", PlanInput{}); return err },
		OpAssignPatientToClinical: func() error { _, _, err := svc.AssignPatientToClinical(ctx, "P404"); return err },
		OpCompleteTreatmentPlan:   func() error { _, _, err := svc.CompleteTreatmentPlan(ctx, "P404"); return err },
		OpAddSession:              func() error { _, _, err := svc.AddSession(ctx, "P404", SessionInput{}); return err },
		OpAddNote:                 func() error { _, _, err := svc.AddNote(ctx, "P404", "a", "b"); return err },
		OpUpdateNote:              func() error { _, _, err := svc.UpdateNote(ctx, "P404", 0, "b"); return err },
	}
	for op, call := range calls {
		err := call()
		var nf ErrNotFound
		if !errors.As(err, &nf) || nf.ID != "P404" || !errors.Is(err, ErrPatientNotFound) {
			t.Fatalf("%s: expected not found, got %v", op, err)
		}
		if !strings.Contains(err.Error(), "patient P404 not found") {
			t.Fatalf("%s: unexpected message %q", op, err.Error())
		}
	}
	if !log.has("w:patient not found") {
		t.Fatalf("expected not-found warnings logged")
	}
	if len(svc.GetAllPatients()) != 1 {
		t.Fatalf("failed actions must not create records")
	}
	if _, err := svc.GetPatient("P404"); !IsNotFound(err) {
		t.Fatalf("expected not found from read, got %v", err)
	}
}

func TestSelectRoleAndPatientUpdateFocus(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	if _, _, err := svc.SelectPatient(ctx, "P001"); err != nil {
		t.Fatalf("select patient: %v", err)
	}
	if f := svc.Focus(); f.SelectedPatientID != "P001" || f.CurrentScreen != domain.ScreenPatientDetails {
		t.Fatalf("unexpected focus %+v", f)
	}
	focus, _, err := svc.SelectRole(ctx, domain.Role("janitor"))
	if err != nil {
		t.Fatalf("select role: %v", err)
	}
	if focus.CurrentRole != "janitor" || focus.SelectedPatientID != "" || focus.CurrentScreen != domain.ScreenDashboard {
		t.Fatalf("unexpected focus after role select %+v", focus)
	}
	if svc.Focus() != focus {
		t.Fatalf("focus not committed")
	}
	if svc.UI() != (domain.UIState{}) {
		t.Fatalf("unexpected ui %+v", svc.UI())
	}
}

func TestTreatmentPlanLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, NewDefaultRulesEngine())
	if _, _, err := svc.AssignPatientToClinical(ctx, "P001"); !errors.Is(err, ErrNoActivePlan) {
		t.Fatalf("expected no active plan, got %v", err)
	}
	first, res, err := svc.CreateTreatmentPlan(ctx, "P001", PlanInput{Disease: "depression", Device: domain.DeviceTDCS, Montage: "F3-F4"})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	plan := first.TreatmentPlan
	if !strings.HasPrefix(plan.ID, "tp_") || plan.CreatedBy != domain.RoleDoctor || plan.Status != domain.PlanActive || plan.SessionsPlanned != DefaultSessionsPlanned || plan.CreatedAt == nil {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if len(res.Warnings()) != 1 || res.Warnings()[0].Rule != "treatment_plan_readiness" {
		t.Fatalf("expected readiness warning, got %+v", res)
	}

	assigned, _, err := svc.AssignPatientToClinical(ctx, "P001")
	if err != nil || assigned.TreatmentPlan.AssignedTo != domain.RoleClinicalAssistant {
		t.Fatalf("assign: %v %+v", err, assigned.TreatmentPlan)
	}

	second, _, err := svc.CreateTreatmentPlan(ctx, "P001", PlanInput{Disease: "anxiety", SessionsPlanned: 10})
	if err != nil {
		t.Fatalf("replace plan: %v", err)
	}
	if second.TreatmentPlan.ID == plan.ID || second.TreatmentPlan.AssignedTo != "" || second.TreatmentPlan.Montage != "" || second.TreatmentPlan.SessionsPlanned != 10 {
		t.Fatalf("expected plan fully replaced, got %+v", second.TreatmentPlan)
	}

	done, _, err := svc.CompleteTreatmentPlan(ctx, "P001")
	if err != nil || done.TreatmentPlan.Status != domain.PlanCompleted || done.TreatmentPlan.CompletedAt == nil {
		t.Fatalf("complete: %v %+v", err, done.TreatmentPlan)
	}
	if _, _, err := svc.CompleteTreatmentPlan(ctx, "P001"); !errors.Is(err, ErrNoActivePlan) {
		t.Fatalf("expected second completion rejected, got %v", err)
	}
}

func TestNotesAppendAndEdit(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	if _, _, err := svc.AddNote(ctx, "P001", "doctor", "first"); err != nil {
		t.Fatalf("add note: %v", err)
	}
	_, _, _ = svc.AddNote(ctx, "P001", "assistant", "second")
	edited, _, err := svc.UpdateNote(ctx, "P001", 1, "second, revised")
	if err != nil {
		t.Fatalf("update note: %v", err)
	}
	if edited.Notes[1].Text != "second, revised" || edited.Notes[1].UpdatedAt == nil || edited.Notes[0].UpdatedAt != nil {
		t.Fatalf("unexpected notes %+v", edited.Notes)
	}
	for _, idx := range []int{-1, 2} {
		if _, _, err := svc.UpdateNote(ctx, "P001", idx, "x"); !errors.Is(err, ErrNoteIndex) {
			t.Fatalf("index %d: expected note index error, got %v", idx, err)
		}
	}
}

func TestPerformPRSUsesScorer(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, NewDefaultRulesEngine(), WithPRSScorer(func() float64 { return 27 }))
	p, _, err := svc.PerformPRS(ctx, "P001", "")
	if err != nil {
		t.Fatalf("perform prs: %v", err)
	}
	prs := p.Assessments.PRS
	if prs.Score == nil || *prs.Score != 27 || prs.CompletedBy != DefaultPRSAssistant || prs.CompletedAt == nil {
		t.Fatalf("unexpected prs %+v", prs)
	}
	if len(p.Notes) != 1 || p.Notes[0].Text != PRSCompletedNote || p.Notes[0].Author != DefaultPRSAssistant {
		t.Fatalf("expected completion note, got %+v", p.Notes)
	}
}

func TestDefaultPRSScorerRange(t *testing.T) {
	for i := 0; i < 500; i++ {
		score := DefaultPRSScorer()
		if score < 10 || score >= 50 || score != float64(int(score)) {
			t.Fatalf("score %v out of range", score)
		}
	}
}

func TestWorkflowScenario(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, NewDefaultRulesEngine())

	jane, _, err := svc.CreatePatient(ctx, ProfileInput{Name: "Jane", Age: 40})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if jane.ID() != "P002" || jane.Payment.Status != domain.PaymentPending || jane.Consent.Status {
		t.Fatalf("unexpected new patient %+v", jane)
	}
	id := jane.ID()

	consented, _, err := svc.ToggleConsent(ctx, id)
	if err != nil || !consented.Consent.Status {
		t.Fatalf("toggle consent: %v %+v", err, consented.Consent)
	}
	paid, _, err := svc.TogglePayment(ctx, id)
	if err != nil || paid.Payment.Status != domain.PaymentCompleted || paid.Payment.PaymentDate == nil {
		t.Fatalf("toggle payment: %v %+v", err, paid.Payment)
	}

	assessed, _, err := svc.UpdateAssessment(ctx, id, domain.AssessmentPRS, AssessmentInput{Score: ptr(30.0), CompletedBy: ptr("X")})
	if err != nil {
		t.Fatalf("assessment: %v", err)
	}
	prs := assessed.Assessments.PRS
	if *prs.Score != 30 || prs.CompletedBy != "X" || prs.CompletedAt == nil {
		t.Fatalf("unexpected prs %+v", prs)
	}

	planned, _, err := svc.CreateTreatmentPlan(ctx, id, PlanInput{Disease: "anxiety", Device: domain.DeviceTPS, SessionsPlanned: 8})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if planned.TreatmentPlan.Status != domain.PlanActive || planned.TreatmentPlan.SessionsPlanned != 8 {
		t.Fatalf("unexpected plan %+v", planned.TreatmentPlan)
	}

	treated, res, err := svc.AddSession(ctx, id, SessionInput{Device: domain.DeviceTPS, Duration: 30})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if len(res.Violations) != 0 {
		t.Fatalf("unexpected violations %+v", res.Violations)
	}
	if len(treated.Sessions) != 1 {
		t.Fatalf("expected one session, got %+v", treated.Sessions)
	}
	s := treated.Sessions[0]
	if s.SessionNumber != 1 || s.Duration != 30 || s.Device != domain.DeviceTPS || s.Status != domain.SessionStatusCompleted {
		t.Fatalf("unexpected session %+v", s)
	}
}

func TestResetRestoresSeed(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	_, _, _ = svc.CreatePatient(ctx, ProfileInput{Name: "Temp"})
	_, _, _ = svc.SelectRole(ctx, domain.RoleDoctor)
	for i := 0; i < 2; i++ {
		if err := svc.Reset(ctx); err != nil {
			t.Fatalf("reset %d: %v", i, err)
		}
		patients := svc.GetAllPatients()
		if len(patients) != 1 || patients[0].ID() != "P001" || svc.Focus() != domain.DefaultFocus() {
			t.Fatalf("unexpected state after reset %d: %+v %+v", i, patients, svc.Focus())
		}
	}
	p, _, _ := svc.CreatePatient(ctx, ProfileInput{})
	if p.ID() != "P002" {
		t.Fatalf("expected counter rewound, got %s", p.ID())
	}
}

func TestWithClockDrivesRecordStamps(t *testing.T) {
	fixed := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	audit := &captureAuditRecorder{}
	svc := newTestService(t, nil, WithClock(ClockFunc(func() time.Time { return fixed })), WithAuditRecorder(audit))
	p, _, err := svc.ToggleConsent(context.Background(), "P001")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !p.Consent.ConsentDate.Equal(fixed) {
		t.Fatalf("expected consent date %v, got %v", fixed, p.Consent.ConsentDate)
	}
	if len(audit.entries) != 1 || !audit.entries[0].Timestamp.Equal(fixed) {
		t.Fatalf("expected audit stamped by clock, got %+v", audit.entries)
	}
}

func TestServiceOverPlainMemoryStore(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	svc := NewService(store)
	p, _, err := svc.CreatePatient(context.Background(), ProfileInput{Name: "Unpersisted"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.ID() != "P002" {
		t.Fatalf("unexpected id %s", p.ID())
	}
	if stored, ok := store.GetPatient("P002"); !ok || stored.Profile.Name != "Unpersisted" {
		t.Fatalf("expected record in the plain store, got %+v", stored)
	}
}

type failingStore struct {
	domain.PersistentStore
	err error
}

func (f failingStore) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	if _, err := f.PersistentStore.RunInTransaction(ctx, fn); err != nil {
		return domain.Result{}, err
	}
	return domain.Result{}, f.err
}

func (f failingStore) Reset(context.Context) error { return f.err }

func TestBackendErrorsSurface(t *testing.T) {
	quota := errors.New("quota exceeded")
	log := &captureLogger{}
	svc := NewService(failingStore{PersistentStore: memory.NewStore(nil), err: quota}, WithLogger(log))
	if _, _, err := svc.CreatePatient(context.Background(), ProfileInput{}); !errors.Is(err, quota) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if err := svc.Reset(context.Background()); !errors.Is(err, quota) {
		t.Fatalf("expected reset error, got %v", err)
	}
	if !log.has("e:action failed") || !log.has("e:reset failed") {
		t.Fatalf("expected errors logged, got %v", log.calls)
	}
}

func TestPlanIDFailureAborts(t *testing.T) {
	svc := newTestService(t, nil)
	boom := errors.New("entropy exhausted")
	svc.planID = func() (string, error) { return "", boom }
	if _, _, err := svc.CreateTreatmentPlan(context.Background(), "P001", PlanInput{}); !errors.Is(err, boom) {
		t.Fatalf("expected id error, got %v", err)
	}
	p, _ := svc.GetPatient("P001")
	if p.TreatmentPlan.Exists() {
		t.Fatalf("plan must not be created")
	}
}

func TestServiceExposesNoWritableStore(t *testing.T) {
	writer := reflect.TypeOf((*interface {
		RunInTransaction(context.Context, func(domain.Transaction) error) (domain.Result, error)
	})(nil)).Elem()
	svcType := reflect.TypeOf(&Service{})
	for i := 0; i < svcType.NumMethod(); i++ {
		m := svcType.Method(i)
		for j := 0; j < m.Type.NumOut(); j++ {
			out := m.Type.Out(j)
			if out.Implements(writer) {
				t.Fatalf("Service.%s hands out a transactional store", m.Name)
			}
		}
	}
}

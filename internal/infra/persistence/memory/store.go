// Package memory provides the in-memory record store that every clinicflow
// backend wraps. It owns the canonical patient mapping and the focus singleton.
package memory

import (
	"clinicflow/pkg/domain"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// PatientRecord aliases domain.PatientRecord for in-memory persistence operations.
	PatientRecord = domain.PatientRecord
	// AppFocus aliases domain.AppFocus.
	AppFocus = domain.AppFocus
	// UIState aliases domain.UIState.
	UIState = domain.UIState
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// FirstPatientSeq is the first counter value handed out after the seeded P001.
const FirstPatientSeq = 2

type memoryState struct {
	app        AppFocus
	patients   map[string]PatientRecord
	ui         UIState
	patientSeq int
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	App      AppFocus                 `json:"app"`
	Patients map[string]PatientRecord `json:"patients"`
	UI       UIState                  `json:"ui"`
}

// PartialSnapshot is a restored document whose sections may be missing.
// Nil sections keep the in-memory value on merge.
type PartialSnapshot struct {
	App      *AppFocus                `json:"app,omitempty"`
	Patients map[string]PatientRecord `json:"patients,omitempty"`
	UI       *UIState                 `json:"ui,omitempty"`
}

func newMemoryState() memoryState {
	return memoryState{
		app:        domain.DefaultFocus(),
		patients:   make(map[string]PatientRecord),
		patientSeq: FirstPatientSeq,
	}
}

func (s memoryState) clone() memoryState {
	cloned := memoryState{
		app:        s.app,
		patients:   make(map[string]PatientRecord, len(s.patients)),
		ui:         s.ui,
		patientSeq: s.patientSeq,
	}
	for k, v := range s.patients {
		cloned.patients[k] = v.Clone()
	}
	return cloned
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		App:      state.app,
		Patients: make(map[string]PatientRecord, len(state.patients)),
		UI:       state.ui,
	}
	for k, v := range state.patients {
		s.Patients[k] = v.Clone()
	}
	return s
}

// normalizePatient fills sections an older or hand-edited document may lack.
func normalizePatient(id string, p PatientRecord) PatientRecord {
	if p.Profile.ID == "" {
		p.Profile.ID = id
	}
	if p.Payment.Status == "" {
		p.Payment.Status = domain.PaymentPending
	}
	if p.TreatmentPlan.Status == "" {
		p.TreatmentPlan.Status = domain.PlanNotCreated
	}
	if p.Sessions == nil {
		p.Sessions = []domain.Session{}
	}
	if p.Notes == nil {
		p.Notes = []domain.Note{}
	}
	return p.Clone()
}

// nextSeqAfter returns the counter value that cannot collide with any Pnnn id present.
func nextSeqAfter(patients map[string]PatientRecord, floor int) int {
	seq := floor
	for id := range patients {
		if !strings.HasPrefix(id, "P") {
			continue
		}
		n, err := strconv.Atoi(id[1:])
		if err != nil {
			continue
		}
		if n+1 > seq {
			seq = n + 1
		}
	}
	return seq
}

// Store is an in-memory implementation of the record store.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an empty store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the clock used to stamp records.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.nowFn = fn
	s.mu.Unlock()
}

// NowFunc exposes the store clock.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// RulesEngine exposes the configured rules engine.
func (s *Store) RulesEngine() *RulesEngine {
	return s.engine
}

// ExportState returns a deep copy of the full state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the full state with the snapshot contents. A snapshot
// without focus keeps the default focus.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := newMemoryState()
	if snapshot.App != (domain.AppFocus{}) {
		state.app = snapshot.App
	}
	state.ui = snapshot.UI
	for id, p := range snapshot.Patients {
		state.patients[id] = normalizePatient(id, p)
	}
	state.patientSeq = nextSeqAfter(state.patients, FirstPatientSeq)
	s.state = state
}

// MergeState applies a shallow merge: each section present in the snapshot
// replaces the in-memory section wholesale; absent sections are kept.
func (s *Store) MergeState(partial PartialSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if partial.App != nil {
		s.state.app = *partial.App
	}
	if partial.UI != nil {
		s.state.ui = *partial.UI
	}
	if partial.Patients != nil {
		patients := make(map[string]PatientRecord, len(partial.Patients))
		for id, p := range partial.Patients {
			patients[id] = normalizePatient(id, p)
		}
		s.state.patients = patients
	}
	s.state.patientSeq = nextSeqAfter(s.state.patients, s.state.patientSeq)
}

// Reset clears patients, focus and UI state and rewinds the id counter.
func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	s.state = newMemoryState()
	s.mu.Unlock()
	return nil
}

// GetPatient returns a copy of the record with the given id.
func (s *Store) GetPatient(id string) (PatientRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.patients[id]
	if !ok {
		return PatientRecord{}, false
	}
	return p.Clone(), true
}

// ListPatients returns copies of every record ordered by id.
func (s *Store) ListPatients() []PatientRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPatients(&s.state)
}

// Focus returns the current application focus.
func (s *Store) Focus() AppFocus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.app
}

// UI returns the presentation scratch state.
func (s *Store) UI() UIState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ui
}

func listPatients(state *memoryState) []PatientRecord {
	out := make([]PatientRecord, 0, len(state.patients))
	for _, p := range state.patients {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Profile.ID < out[j].Profile.ID })
	return out
}

type transaction struct {
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func (v transactionView) ListPatients() []PatientRecord {
	return listPatients(v.state)
}

func (v transactionView) FindPatient(id string) (PatientRecord, bool) {
	p, ok := v.state.patients[id]
	if !ok {
		return PatientRecord{}, false
	}
	return p.Clone(), true
}

func (v transactionView) Focus() AppFocus {
	return v.state.app
}

// RunInTransaction applies fn to a cloned state, evaluates rules over the
// recorded changes and commits only when no blocking violation is reported.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// Now returns the timestamp shared by every write in this transaction.
func (tx *transaction) Now() time.Time {
	return tx.now
}

func (tx *transaction) nextPatientID() string {
	for {
		id := fmt.Sprintf("P%03d", tx.state.patientSeq)
		tx.state.patientSeq++
		if _, exists := tx.state.patients[id]; !exists {
			return id
		}
	}
}

// CreatePatient inserts a new record. An empty profile id is assigned from the counter.
func (tx *transaction) CreatePatient(profile domain.Profile) (PatientRecord, error) {
	if profile.ID == "" {
		profile.ID = tx.nextPatientID()
	}
	if _, exists := tx.state.patients[profile.ID]; exists {
		return PatientRecord{}, fmt.Errorf("patient %q already exists", profile.ID)
	}
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = tx.now
	}
	if profile.VisitDate == "" {
		profile.VisitDate = tx.now.Format(time.DateOnly)
	}
	record := domain.NewPatientRecord(profile)
	tx.state.patients[profile.ID] = record.Clone()
	after := record.Clone()
	tx.recordChange(Change{Entity: domain.EntityPatient, Action: domain.ActionCreate, After: &after})
	return record.Clone(), nil
}

// UpdatePatient mutates a record using the provided mutator. The profile id cannot change.
func (tx *transaction) UpdatePatient(id string, mutator func(*PatientRecord) error) (PatientRecord, error) {
	current, ok := tx.state.patients[id]
	if !ok {
		return PatientRecord{}, fmt.Errorf("patient %q not found", id)
	}
	before := current.Clone()
	if err := mutator(&current); err != nil {
		return PatientRecord{}, err
	}
	current.Profile.ID = id
	tx.state.patients[id] = current.Clone()
	after := current.Clone()
	tx.recordChange(Change{Entity: domain.EntityPatient, Action: domain.ActionUpdate, Before: &before, After: &after})
	return current.Clone(), nil
}

// FindPatient exposes patient lookup within the transaction scope.
func (tx *transaction) FindPatient(id string) (PatientRecord, bool) {
	p, ok := tx.state.patients[id]
	if !ok {
		return PatientRecord{}, false
	}
	return p.Clone(), true
}

// Focus returns the focus as seen by the transaction.
func (tx *transaction) Focus() AppFocus {
	return tx.state.app
}

// UpdateFocus mutates the focus singleton.
func (tx *transaction) UpdateFocus(mutator func(*AppFocus)) AppFocus {
	mutator(&tx.state.app)
	tx.recordChange(Change{Entity: domain.EntityFocus, Action: domain.ActionUpdate})
	return tx.state.app
}

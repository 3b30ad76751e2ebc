package domain

import (
	"context"
	"time"
)

// Transaction exposes the record operations a store must support within an
// atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	Now() time.Time
	CreatePatient(Profile) (PatientRecord, error)
	UpdatePatient(id string, mutator func(*PatientRecord) error) (PatientRecord, error)
	FindPatient(id string) (PatientRecord, bool)
	Focus() AppFocus
	UpdateFocus(mutator func(*AppFocus)) AppFocus
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	RuleView
}

// PersistentStore is the abstraction the action layer runs on. Writes go
// through RunInTransaction only.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetPatient(id string) (PatientRecord, bool)
	ListPatients() []PatientRecord
	Focus() AppFocus
	UI() UIState
	Reset(ctx context.Context) error
}

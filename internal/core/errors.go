package core

import (
	"errors"
	"fmt"

	"clinicflow/pkg/domain"
)

var (
	// ErrPatientNotFound matches every ErrNotFound raised for a patient id.
	ErrPatientNotFound = errors.New("patient not found")
	// ErrConsentRequired is returned by TogglePayment while consent is withheld.
	ErrConsentRequired = errors.New("consent required before payment")
	// ErrUnknownAssessment is returned for an assessment kind outside the fixed set.
	ErrUnknownAssessment = errors.New("unknown assessment kind")
	// ErrNoteIndex is returned when a note index is out of range.
	ErrNoteIndex = errors.New("note index out of range")
	// ErrNoActivePlan is returned by plan transitions that need an active plan.
	ErrNoActivePlan = errors.New("no active treatment plan")
)

// ErrNotFound is returned when an action references a record that does not exist.
type ErrNotFound struct {
	Entity domain.EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Is lets errors.Is(err, ErrPatientNotFound) match patient lookups.
func (e ErrNotFound) Is(target error) bool {
	return target == ErrPatientNotFound && e.Entity == domain.EntityPatient
}

func patientNotFound(id string) error {
	return ErrNotFound{Entity: domain.EntityPatient, ID: id}
}

// IsNotFound reports whether err wraps an ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}

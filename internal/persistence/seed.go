package persistence

import (
	"time"

	"clinicflow/pkg/domain"
)

// SeedPatient returns the deterministic sample record installed on first run.
func SeedPatient(now time.Time) domain.PatientRecord {
	return domain.NewPatientRecord(domain.Profile{
		ID:        "P001",
		Name:      "John Doe",
		Age:       35,
		Gender:    "M",
		VisitDate: now.Format(time.DateOnly),
		CreatedAt: now,
	})
}

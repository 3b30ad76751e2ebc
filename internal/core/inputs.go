package core

import (
	"fmt"

	"clinicflow/pkg/domain"

	"github.com/google/uuid"
)

// Intake defaults applied by CreatePatient.
const (
	DefaultPatientName     = "New Patient"
	DefaultPatientAge      = 30
	DefaultPatientGender   = "-"
	DefaultSessionsPlanned = 6
	DefaultPRSAssistant    = "assistant"
	PRSCompletedNote       = "PRS assessment completed"
)

// ProfileInput is the partial profile captured at intake.
type ProfileInput struct {
	Name   string `json:"name"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
}

func (in ProfileInput) profile() domain.Profile {
	p := domain.Profile{Name: in.Name, Age: in.Age, Gender: in.Gender}
	if p.Name == "" {
		p.Name = DefaultPatientName
	}
	if p.Age == 0 {
		p.Age = DefaultPatientAge
	}
	if p.Gender == "" {
		p.Gender = DefaultPatientGender
	}
	return p
}

// AssessmentInput carries the fields to merge into an assessment slot.
// Nil fields keep the stored value.
type AssessmentInput struct {
	Score       *float64 `json:"score,omitempty"`
	CompletedBy *string  `json:"completedBy,omitempty"`
	Notes       *string  `json:"notes,omitempty"`
}

func (in AssessmentInput) apply(slot *domain.AssessmentResult) {
	if in.Score != nil {
		score := *in.Score
		slot.Score = &score
	}
	if in.CompletedBy != nil {
		slot.CompletedBy = *in.CompletedBy
	}
	if in.Notes != nil {
		slot.Notes = *in.Notes
	}
}

// PlanInput holds the doctor-authored plan fields.
type PlanInput struct {
	Disease         string        `json:"disease"`
	Device          domain.Device `json:"device"`
	Montage         string        `json:"montage"`
	SessionsPlanned int           `json:"sessionsPlanned"`
	ClinicalNotes   string        `json:"clinicalNotes,omitempty"`
}

// SessionInput holds the fields recorded for one delivered session.
type SessionInput struct {
	Device          domain.Device `json:"device"`
	Montage         string        `json:"montage"`
	Duration        int           `json:"duration"`
	Notes           string        `json:"notes"`
	Observations    string        `json:"observations,omitempty"`
	PatientFeedback string        `json:"patientFeedback,omitempty"`
	CompletedBy     string        `json:"completedBy"`
}

func newPlanID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate plan id: %w", err)
	}
	return "tp_" + id.String(), nil
}

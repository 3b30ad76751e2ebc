package core

import (
	"context"
	"fmt"

	"clinicflow/pkg/domain"
)

// NewSessionSequenceRule blocks commits that leave a session out of position.
func NewSessionSequenceRule() domain.Rule {
	return sessionSequenceRule{}
}

type sessionSequenceRule struct{}

func (sessionSequenceRule) Name() string { return "session_sequence" }

func (sessionSequenceRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityPatient || change.After == nil {
			continue
		}
		if change.Before != nil && firstOutOfSequence(change.Before.Sessions) >= 0 {
			continue
		}
		idx := firstOutOfSequence(change.After.Sessions)
		if idx < 0 {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "session_sequence",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("session at position %d numbered %d", idx+1, change.After.Sessions[idx].SessionNumber),
			Entity:   domain.EntityPatient,
			EntityID: change.After.ID(),
		})
	}
	return res, nil
}

func firstOutOfSequence(sessions []domain.Session) int {
	for i, s := range sessions {
		if s.SessionNumber != i+1 {
			return i
		}
	}
	return -1
}

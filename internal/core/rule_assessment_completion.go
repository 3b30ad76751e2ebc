package core

import (
	"context"
	"fmt"

	"clinicflow/pkg/domain"
)

// NewAssessmentCompletionRule blocks slots whose completion stamp disagrees with the score.
func NewAssessmentCompletionRule() domain.Rule {
	return assessmentCompletionRule{}
}

type assessmentCompletionRule struct{}

func (assessmentCompletionRule) Name() string { return "assessment_completion" }

func (assessmentCompletionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityPatient || change.After == nil {
			continue
		}
		for _, kind := range domain.AssessmentKinds {
			after, _ := change.After.Assessments.Get(kind)
			if consistentSlot(after) {
				continue
			}
			// Only flag slots this change broke; restored data is left alone.
			if change.Before != nil {
				if before, _ := change.Before.Assessments.Get(kind); !consistentSlot(before) {
					continue
				}
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "assessment_completion",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("%s: completedAt must be set exactly when a score is present", kind.Label()),
				Entity:   domain.EntityPatient,
				EntityID: change.After.ID(),
			})
		}
	}
	return res, nil
}

func consistentSlot(a domain.AssessmentResult) bool {
	return (a.Score != nil) == (a.CompletedAt != nil)
}

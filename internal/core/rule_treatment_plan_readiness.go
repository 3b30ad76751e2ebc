package core

import (
	"context"
	"fmt"
	"strings"

	"clinicflow/pkg/domain"
)

// NewTreatmentPlanReadinessRule reports plans authored before every
// prerequisite assessment has a score.
func NewTreatmentPlanReadinessRule(severity domain.Severity) domain.Rule {
	return treatmentPlanReadinessRule{severity: severity}
}

type treatmentPlanReadinessRule struct {
	severity domain.Severity
}

func (treatmentPlanReadinessRule) Name() string { return "treatment_plan_readiness" }

func (r treatmentPlanReadinessRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityPatient || change.After == nil {
			continue
		}
		plan := change.After.TreatmentPlan
		if plan.Status != domain.PlanActive {
			continue
		}
		if change.Before != nil && change.Before.TreatmentPlan.ID == plan.ID {
			continue
		}
		missing := missingPrerequisites(change.After.Assessments)
		if len(missing) == 0 {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "treatment_plan_readiness",
			Severity: r.severity,
			Message:  "treatment plan created before assessments: " + strings.Join(missing, ", "),
			Entity:   domain.EntityPatient,
			EntityID: change.After.ID(),
		})
	}
	return res, nil
}

func missingPrerequisites(a domain.Assessments) []string {
	var missing []string
	for _, kind := range domain.PlanPrerequisites {
		if !a.Complete(kind) {
			missing = append(missing, kind.Label())
		}
	}
	return missing
}

// NewSessionRequiresPlanRule reports sessions appended without an active plan.
func NewSessionRequiresPlanRule(severity domain.Severity) domain.Rule {
	return sessionRequiresPlanRule{severity: severity}
}

type sessionRequiresPlanRule struct {
	severity domain.Severity
}

func (sessionRequiresPlanRule) Name() string { return "session_requires_plan" }

func (r sessionRequiresPlanRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityPatient || change.After == nil || change.Before == nil {
			continue
		}
		if len(change.After.Sessions) <= len(change.Before.Sessions) {
			continue
		}
		if change.After.TreatmentPlan.Status == domain.PlanActive {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "session_requires_plan",
			Severity: r.severity,
			Message:  fmt.Sprintf("session recorded while treatment plan is %s", change.After.TreatmentPlan.Status),
			Entity:   domain.EntityPatient,
			EntityID: change.After.ID(),
		})
	}
	return res, nil
}

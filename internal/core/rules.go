package core

import "clinicflow/pkg/domain"

// RulesEngine aliases the domain engine so callers only import core.
type RulesEngine = domain.RulesEngine

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds the engine with the built-in workflow rules.
// Plan readiness and session gating only warn.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewSessionSequenceRule())
	engine.Register(NewAssessmentCompletionRule())
	engine.Register(NewTreatmentPlanReadinessRule(domain.SeverityWarn))
	engine.Register(NewSessionRequiresPlanRule(domain.SeverityWarn))
	return engine
}

// NewStrictRulesEngine enforces the full workflow ordering: plans need the
// prerequisite assessments, sessions need an active plan and payment cannot
// complete without consent on any path.
func NewStrictRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewSessionSequenceRule())
	engine.Register(NewAssessmentCompletionRule())
	engine.Register(NewTreatmentPlanReadinessRule(domain.SeverityBlock))
	engine.Register(NewSessionRequiresPlanRule(domain.SeverityBlock))
	engine.Register(NewPaymentConsentRule())
	return engine
}

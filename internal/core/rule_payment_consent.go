package core

import (
	"context"

	"clinicflow/pkg/domain"
)

// NewPaymentConsentRule blocks any transition into completed payment without consent.
func NewPaymentConsentRule() domain.Rule {
	return paymentConsentRule{}
}

type paymentConsentRule struct{}

func (paymentConsentRule) Name() string { return "payment_consent" }

func (paymentConsentRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityPatient || change.After == nil {
			continue
		}
		p := change.After
		if p.Payment.Status != domain.PaymentCompleted || p.Consent.Status {
			continue
		}
		// Revoking consent after payment is allowed.
		if change.Before != nil && change.Before.Payment.Status == domain.PaymentCompleted {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "payment_consent",
			Severity: domain.SeverityBlock,
			Message:  "payment completed without consent",
			Entity:   domain.EntityPatient,
			EntityID: p.ID(),
		})
	}
	return res, nil
}

package core

import (
	"math/rand/v2"
	"time"
)

// PRSScorer produces the score recorded by PerformPRS.
type PRSScorer func() float64

// DefaultPRSScorer draws a whole score in [10, 50).
func DefaultPRSScorer() float64 {
	return float64(rand.IntN(40) + 10) //nolint:gosec // demo score, not a secret
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	clock      Clock
	clockSet   bool
	logger     Logger
	metrics    MetricsRecorder
	tracer     Tracer
	audit      AuditRecorder
	scorer     PRSScorer
	planIDFunc func() (string, error)
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:      ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:     noopLogger{},
		metrics:    noopMetrics{},
		tracer:     noopTracer{},
		audit:      noopAudit{},
		scorer:     DefaultPRSScorer,
		planIDFunc: newPlanID,
	}
}

// WithClock overrides the clock. Stores exposing SetNowFunc share it, so
// record timestamps follow the same clock.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
			o.clockSet = true
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(metrics MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(audit AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if audit != nil {
			o.audit = audit
		}
	}
}

// WithPRSScorer replaces the scorer used by PerformPRS.
func WithPRSScorer(scorer PRSScorer) ServiceOption {
	return func(o *serviceOptions) {
		if scorer != nil {
			o.scorer = scorer
		}
	}
}

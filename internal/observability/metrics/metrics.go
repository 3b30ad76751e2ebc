// Package metrics exposes prometheus collectors for clinicflow actions and HTTP traffic.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ActionMetrics counts workflow actions and their latency. It satisfies
// core.MetricsRecorder.
type ActionMetrics struct {
	actionsTotal  *prometheus.CounterVec
	actionLatency *prometheus.HistogramVec
	httpTotal     *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	patientsGauge prometheus.Gauge
}

// NewActionMetrics registers the collectors on reg, or the default registerer when nil.
func NewActionMetrics(reg prometheus.Registerer) *ActionMetrics {
	m := &ActionMetrics{
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicflow",
			Subsystem: "actions",
			Name:      "total",
			Help:      "Workflow actions by operation and outcome",
		}, []string{"operation", "status"}),
		actionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinicflow",
			Subsystem: "actions",
			Name:      "duration_seconds",
			Help:      "Latency of workflow actions including persistence",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		httpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicflow",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code",
		}, []string{"route", "method", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinicflow",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		patientsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clinicflow",
			Subsystem: "records",
			Name:      "patients",
			Help:      "Patients currently held in the record store",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.actionsTotal, m.actionLatency, m.httpTotal, m.httpLatency, m.patientsGauge)
	return m
}

// Observe records one action outcome.
func (m *ActionMetrics) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if m == nil || operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	m.actionsTotal.WithLabelValues(operation, status).Inc()
	m.actionLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveHTTP records one served request.
func (m *ActionMetrics) ObserveHTTP(route, method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpLatency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// SetPatients publishes the current patient count.
func (m *ActionMetrics) SetPatients(n int) {
	if m == nil {
		return
	}
	m.patientsGauge.Set(float64(n))
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	registry prometheus.Gatherer

	ExecutionsTotal    *prometheus.CounterVec
	AttemptsTotal      *prometheus.CounterVec
	StepDuration       *prometheus.HistogramVec
	CompensationsTotal *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	CreditsTotal       *prometheus.CounterVec
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in
// tests to stay isolated from the global registry.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "studioflow",
				Name:      "executions_total",
				Help:      "Workflow executions by terminal status",
			},
			[]string{"workflow", "status"},
		),
		AttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "studioflow",
				Name:      "attempts_total",
				Help:      "Workflow attempts by outcome",
			},
			[]string{"workflow", "outcome"},
		),
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "studioflow",
				Name:      "step_duration_seconds",
				Help:      "Step body latency",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"workflow", "step", "outcome"},
		),
		CompensationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "studioflow",
				Name:      "compensations_total",
				Help:      "Compensation runs by outcome",
			},
			[]string{"workflow", "outcome"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "studioflow",
				Name:      "notifications_total",
				Help:      "Notification sends by template and outcome",
			},
			[]string{"template", "outcome"},
		),
		CreditsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "studioflow",
				Name:      "credits_total",
				Help:      "Credits moved through the ledger by entry type",
			},
			[]string{"type"},
		),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.AttemptsTotal,
		m.StepDuration,
		m.CompensationsTotal,
		m.NotificationsTotal,
		m.CreditsTotal,
	)

	return m
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveStep(workflow, step string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(workflow, step, outcome(err)).Observe(elapsed.Seconds())
}

func (m *Metrics) Attempt(workflow string, err error) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(workflow, outcome(err)).Inc()
}

func (m *Metrics) Execution(workflow, status string) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(workflow, status).Inc()
}

func (m *Metrics) Compensation(workflow string, err error) {
	if m == nil {
		return
	}
	m.CompensationsTotal.WithLabelValues(workflow, outcome(err)).Inc()
}

func (m *Metrics) Notification(template string, err error) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(template, outcome(err)).Inc()
}

func (m *Metrics) Credits(kind string, amount int) {
	if m == nil {
		return
	}
	if amount < 0 {
		amount = -amount
	}
	m.CreditsTotal.WithLabelValues(kind).Add(float64(amount))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

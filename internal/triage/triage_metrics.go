package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	TurnsTotal       *prometheus.CounterVec
	TurnDuration     prometheus.Histogram
	ClassifierErrors prometheus.Counter
	CouncilTotal     *prometheus.CounterVec
	AlertsTriggered  prometheus.Counter
	AlertAttempts    *prometheus.CounterVec
	SessionsTotal    *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	ActiveSessions   prometheus.Gauge
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medtriage_turns_total",
			Help: "Total processed turns by classification category.",
		}, []string{"category"}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medtriage_turn_duration_seconds",
			Help:    "End-to-end duration of turn processing in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s .. ~51s
		}),
		ClassifierErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medtriage_classifier_errors_total",
			Help: "Total classification backend failures degraded to UNKNOWN.",
		}),
		CouncilTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medtriage_council_total",
			Help: "Total council escalations by outcome.",
		}, []string{"outcome"}),
		AlertsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medtriage_alerts_triggered_total",
			Help: "Total sessions for which alert fan-out was performed.",
		}),
		AlertAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medtriage_alert_attempts_total",
			Help: "Total per-contact alert attempts by channel and status.",
		}, []string{"channel", "status"}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medtriage_sessions_total",
			Help: "Total session lifecycle events by kind.",
		}, []string{"event"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medtriage_session_duration_seconds",
			Help:    "Duration of ended sessions in seconds.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12), // 10s .. ~11h
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "medtriage_active_sessions",
			Help: "Number of sessions currently tracked by the registry.",
		}),
	}

	reg.MustRegister(
		m.TurnsTotal,
		m.TurnDuration,
		m.ClassifierErrors,
		m.CouncilTotal,
		m.AlertsTriggered,
		m.AlertAttempts,
		m.SessionsTotal,
		m.SessionDuration,
		m.ActiveSessions,
	)

	return m
}

// Package metrics exposes loitering pipeline counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/loiter.report/internal/loiter"
)

// Session outcomes recorded in loiter_sessions_total.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// Metrics holds every collector on a private registry so tests and
// multiple servers in one process never collide.
type Metrics struct {
	registry *prometheus.Registry

	framesProcessed   prometheus.Counter
	alertFrames       prometheus.Counter
	identitiesCreated prometheus.Counter
	identitiesEvicted prometheus.Counter
	tracksPerFrame    prometheus.Histogram

	sessionsInProgress prometheus.Gauge
	sessions           *prometheus.CounterVec
	loiteringSessions  prometheus.Counter
	sessionDuration    prometheus.Histogram
	maxLoiterSeconds   prometheus.Histogram

	alertsPublished *prometheus.CounterVec
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		framesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loiter_frames_processed_total",
			Help: "Frames applied to a loitering session",
		}),
		alertFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loiter_alert_frames_total",
			Help: "Frames in which at least one tracked identity was loitering",
		}),
		identitiesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loiter_identities_created_total",
			Help: "Identities allocated for unmatched detections",
		}),
		identitiesEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loiter_identities_evicted_total",
			Help: "Identities removed at end-of-frame cleanup",
		}),
		tracksPerFrame: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "loiter_tracked_identities",
			Help:    "Tracked identities per processed frame",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
		}),
		sessionsInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loiter_sessions_in_progress",
			Help: "Analysis sessions currently running",
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loiter_sessions_total",
			Help: "Finished analysis sessions by outcome",
		}, []string{"outcome"}),
		loiteringSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loiter_sessions_with_loitering_total",
			Help: "Finished sessions whose report detected loitering",
		}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "loiter_session_duration_seconds",
			Help:    "Wall-clock time spent analysing a session",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		maxLoiterSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "loiter_identity_max_loiter_seconds",
			Help:    "Per-identity maximum dwell time at session end",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 300},
		}),
		alertsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loiter_alerts_published_total",
			Help: "Alert documents handed to the publisher by result",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.framesProcessed,
		m.alertFrames,
		m.identitiesCreated,
		m.identitiesEvicted,
		m.tracksPerFrame,
		m.sessionsInProgress,
		m.sessions,
		m.loiteringSessions,
		m.sessionDuration,
		m.maxLoiterSeconds,
		m.alertsPublished,
	)
	return m
}

// ObserveFrame records one FrameResult. It satisfies pipeline.Observer.
func (m *Metrics) ObserveFrame(r loiter.FrameResult) {
	m.framesProcessed.Inc()
	if r.AlertActive {
		m.alertFrames.Inc()
	}
	m.identitiesCreated.Add(float64(r.Created))
	m.identitiesEvicted.Add(float64(len(r.Evicted)))
	m.tracksPerFrame.Observe(float64(len(r.Tracks)))
}

// SessionStarted marks a session as running. Pair every call with
// SessionFinished.
func (m *Metrics) SessionStarted() {
	m.sessionsInProgress.Inc()
}

// SessionFinished records the outcome of a session.
func (m *Metrics) SessionFinished(outcome string, report loiter.Report, elapsed time.Duration) {
	m.sessionsInProgress.Dec()
	m.sessions.WithLabelValues(outcome).Inc()
	m.sessionDuration.Observe(elapsed.Seconds())
	if outcome != OutcomeCompleted {
		return
	}
	if report.LoiteringDetected {
		m.loiteringSessions.Inc()
	}
	for _, e := range report.Entries {
		m.maxLoiterSeconds.Observe(e.MaxLoiterTime)
	}
}

// AlertPublished records a publish attempt.
func (m *Metrics) AlertPublished(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.alertsPublished.WithLabelValues(result).Inc()
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics of the newsletter service
type Metrics struct {
	// Send pipeline
	SendsTotal              *prometheus.CounterVec
	RecipientsTotal         *prometheus.CounterVec
	DispatchDurationSeconds prometheus.Histogram

	// Relay
	RelayConnectionsTotal  *prometheus.CounterVec
	RelayConnectionsActive prometheus.Gauge

	// Tracking
	TrackingEventsTotal *prometheus.CounterVec
	TrackingErrorsTotal *prometheus.CounterVec

	// Scheduler
	SchedulerRunsTotal prometheus.Counter
	SchedulerDue       prometheus.Gauge

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		SendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsletter_sends_total",
				Help: "Total number of newsletter send attempts by trigger and result",
			},
			[]string{"trigger", "result"},
		),
		RecipientsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsletter_recipients_total",
				Help: "Total number of per-recipient delivery attempts by result",
			},
			[]string{"result"},
		),
		DispatchDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "newsletter_dispatch_duration_seconds",
				Help:    "Duration of a full newsletter dispatch in seconds",
				Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
			},
		),

		RelayConnectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsletter_relay_connections_total",
				Help: "Total number of outbound relay connections opened",
			},
			[]string{"relay"},
		),
		RelayConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "newsletter_relay_connections_active",
				Help: "Number of currently open outbound relay connections",
			},
		),

		TrackingEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsletter_tracking_events_total",
				Help: "Total number of recorded open and click events",
			},
			[]string{"type", "unique"},
		),
		TrackingErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsletter_tracking_errors_total",
				Help: "Total number of tracking callbacks that failed to record",
			},
			[]string{"type"},
		),

		SchedulerRunsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "newsletter_scheduler_runs_total",
				Help: "Total number of scheduler runs",
			},
		),
		SchedulerDue: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "newsletter_scheduler_due",
				Help: "Number of due newsletters found by the last scheduler run",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsletter_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newsletter_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsletter_http_errors_total",
				Help: "Total number of HTTP error responses",
			},
			[]string{"error_type"},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.SendsTotal,
		m.RecipientsTotal,
		m.DispatchDurationSeconds,
		m.RelayConnectionsTotal,
		m.RelayConnectionsActive,
		m.TrackingEventsTotal,
		m.TrackingErrorsTotal,
		m.SchedulerRunsTotal,
		m.SchedulerDue,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncSends counts a finished send attempt
func IncSends(trigger, result string) {
	m := Global()
	if m != nil {
		m.SendsTotal.WithLabelValues(trigger, result).Inc()
	}
}

// AddRecipients counts per-recipient delivery outcomes
func AddRecipients(sent, failed int) {
	m := Global()
	if m != nil {
		m.RecipientsTotal.WithLabelValues("sent").Add(float64(sent))
		m.RecipientsTotal.WithLabelValues("failed").Add(float64(failed))
	}
}

// ObserveDispatch records the duration of a dispatch
func ObserveDispatch(d time.Duration) {
	m := Global()
	if m != nil {
		m.DispatchDurationSeconds.Observe(d.Seconds())
	}
}

// IncRelayConnections counts a newly opened relay connection
func IncRelayConnections(relay string) {
	m := Global()
	if m != nil {
		m.RelayConnectionsTotal.WithLabelValues(relay).Inc()
		m.RelayConnectionsActive.Inc()
	}
}

// DecRelayConnectionsActive decrements open relay connections
func DecRelayConnectionsActive() {
	m := Global()
	if m != nil {
		m.RelayConnectionsActive.Dec()
	}
}

// IncTrackingEvent counts a recorded open or click
func IncTrackingEvent(eventType string, unique bool) {
	m := Global()
	if m != nil {
		m.TrackingEventsTotal.WithLabelValues(eventType, strconv.FormatBool(unique)).Inc()
	}
}

// IncTrackingErrors counts a tracking callback that failed to record
func IncTrackingErrors(eventType string) {
	m := Global()
	if m != nil {
		m.TrackingErrorsTotal.WithLabelValues(eventType).Inc()
	}
}

// ObserveSchedulerRun records a scheduler run and how many newsletters were due
func ObserveSchedulerRun(due int) {
	m := Global()
	if m != nil {
		m.SchedulerRunsTotal.Inc()
		m.SchedulerDue.Set(float64(due))
	}
}

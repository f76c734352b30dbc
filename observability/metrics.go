package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	settlerMetricsOnce sync.Once
	settlerRegistry    *SettlerMetrics
)

// SettlerMetrics groups the counters and histograms of the bridge flow.
// A nil receiver is valid and records nothing.
type SettlerMetrics struct {
	transitions    *prometheus.CounterVec
	pollErrors     *prometheus.CounterVec
	completion     *prometheus.HistogramVec
	submissions    *prometheus.CounterVec
	decodeFailures *prometheus.CounterVec
	resolutions    *prometheus.CounterVec
}

// Settler returns the lazily-initialised metrics registered on the default
// prometheus registry.
func Settler() *SettlerMetrics {
	settlerMetricsOnce.Do(func() {
		settlerRegistry = &SettlerMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "settler",
				Subsystem: "tracker",
				Name:      "transitions_total",
				Help:      "Tracker state transitions segmented by direction and target state.",
			}, []string{"direction", "from", "to"}),
			pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "settler",
				Subsystem: "tracker",
				Name:      "poll_errors_total",
				Help:      "Read errors observed while polling chain data sources.",
			}, []string{"direction", "check"}),
			completion: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "settler",
				Subsystem: "tracker",
				Name:      "time_to_complete_seconds",
				Help:      "Time from tracker start to observing the destination event.",
				Buckets:   []float64{30, 60, 120, 300, 600, 900, 1200, 1500, 1800, 2700, 3600},
			}, []string{"direction"}),
			submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "settler",
				Subsystem: "bridge",
				Name:      "submissions_total",
				Help:      "Bridge transactions submitted segmented by step and outcome.",
			}, []string{"step", "outcome"}),
			decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "settler",
				Subsystem: "invoice",
				Name:      "decode_failures_total",
				Help:      "Invoice tokens rejected during decode segmented by reason.",
			}, []string{"reason"}),
			resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "settler",
				Subsystem: "identity",
				Name:      "resolutions_total",
				Help:      "Name resolutions segmented by service and outcome.",
			}, []string{"service", "outcome"}),
		}
		prometheus.MustRegister(
			settlerRegistry.transitions,
			settlerRegistry.pollErrors,
			settlerRegistry.completion,
			settlerRegistry.submissions,
			settlerRegistry.decodeFailures,
			settlerRegistry.resolutions,
		)
	})
	return settlerRegistry
}

func (m *SettlerMetrics) RecordTransition(direction, from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(label(direction), label(from), label(to)).Inc()
}

func (m *SettlerMetrics) RecordPollError(direction, check string) {
	if m == nil {
		return
	}
	m.pollErrors.WithLabelValues(label(direction), label(check)).Inc()
}

func (m *SettlerMetrics) ObserveCompletion(direction string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.completion.WithLabelValues(label(direction)).Observe(elapsed.Seconds())
}

// RecordSubmission counts an approve, deposit or burn attempt.
func (m *SettlerMetrics) RecordSubmission(step, outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(label(step), label(outcome)).Inc()
}

func (m *SettlerMetrics) RecordDecodeFailure(reason string) {
	if m == nil {
		return
	}
	m.decodeFailures.WithLabelValues(label(reason)).Inc()
}

func (m *SettlerMetrics) RecordResolution(service, outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(label(service), label(outcome)).Inc()
}

func label(value string) string {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

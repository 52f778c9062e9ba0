package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSubmitted = "submitted"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// CheckoutMetrics records order submissions.
type CheckoutMetrics struct {
	submissions *prometheus.CounterVec
	duration    prometheus.Histogram
	lines       prometheus.Histogram
}

func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkout_submissions_total",
		Help:      "Order submissions by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "checkout_duration_seconds",
		Help:      "Time spent inserting a submitted order.",
		Buckets:   prometheus.DefBuckets,
	})
	lines := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "checkout_order_lines",
		Help:      "Lines per submitted order.",
		Buckets:   []float64{1, 2, 5, 10, 20, 50},
	})
	reg.MustRegister(submissions, duration, lines)
	return &CheckoutMetrics{submissions: submissions, duration: duration, lines: lines}
}

// Observe records one submission attempt. lineCount is only recorded for
// submitted orders.
func (m *CheckoutMetrics) Observe(outcome string, elapsed time.Duration, lineCount int) {
	if m == nil || m.submissions == nil {
		return
	}
	m.submissions.WithLabelValues(normalizeLabel(outcome)).Inc()
	if outcome == OutcomeRejected {
		return
	}
	m.duration.Observe(elapsed.Seconds())
	if outcome == OutcomeSubmitted {
		m.lines.Observe(float64(lineCount))
	}
}

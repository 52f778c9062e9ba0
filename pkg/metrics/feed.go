package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "todolimpio"

// FeedMetrics tracks change-feed fan-out.
type FeedMetrics struct {
	published     *prometheus.CounterVec
	subscriptions *prometheus.GaugeVec
	lagged        *prometheus.CounterVec
}

// NewFeedMetrics registers the change feed metrics on reg. A nil registerer
// yields a no-op recorder.
func NewFeedMetrics(reg prometheus.Registerer) *FeedMetrics {
	if reg == nil {
		return &FeedMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "changefeed_events_published_total",
		Help:      "Change events published to the feed.",
	}, []string{"table", "type"})
	subscriptions := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "changefeed_subscriptions",
		Help:      "Open change feed subscriptions.",
	}, []string{"table"})
	lagged := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "changefeed_subscriptions_lagged_total",
		Help:      "Subscriptions closed because their buffer overflowed.",
	}, []string{"table"})
	reg.MustRegister(published, subscriptions, lagged)
	return &FeedMetrics{published: published, subscriptions: subscriptions, lagged: lagged}
}

func (m *FeedMetrics) IncPublished(table, eventType string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(table), normalizeLabel(eventType)).Inc()
}

func (m *FeedMetrics) SubscriptionOpened(table string) {
	if m == nil || m.subscriptions == nil {
		return
	}
	m.subscriptions.WithLabelValues(normalizeLabel(table)).Inc()
}

func (m *FeedMetrics) SubscriptionClosed(table string) {
	if m == nil || m.subscriptions == nil {
		return
	}
	m.subscriptions.WithLabelValues(normalizeLabel(table)).Dec()
}

func (m *FeedMetrics) IncLagged(table string) {
	if m == nil || m.lagged == nil {
		return
	}
	m.lagged.WithLabelValues(normalizeLabel(table)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

// Package observability provides Prometheus metrics for the sniper.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application. A nil *Metrics
// is safe to use everywhere and records nothing, so tests do not need a
// registry.
type Metrics struct {
	PairsDetected   *prometheus.CounterVec
	ClassifierDrops *prometheus.CounterVec

	AuditsTotal        *prometheus.CounterVec
	AuditCheckFailures *prometheus.CounterVec
	AuditQueueLength   prometheus.Gauge
	ThrottleEvents     prometheus.Counter

	BuysTotal  *prometheus.CounterVec
	SellsTotal *prometheus.CounterVec
}

// NewMetrics registers all metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PairsDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sniper",
			Subsystem: "listener",
			Name:      "pairs_detected_total",
			Help:      "New pair/pool creation events decoded",
		}, []string{"chain", "version"}),
		ClassifierDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sniper",
			Subsystem: "listener",
			Name:      "classifier_drops_total",
			Help:      "Creation events dropped because the new side could not be determined",
		}, []string{"chain", "version"}),
		AuditsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sniper",
			Subsystem: "audit",
			Name:      "audits_total",
			Help:      "Audit verdicts by outcome",
		}, []string{"verdict"}),
		AuditCheckFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sniper",
			Subsystem: "audit",
			Name:      "check_failures_total",
			Help:      "Failed security checks by check name",
		}, []string{"check"}),
		AuditQueueLength: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sniper",
			Subsystem: "audit",
			Name:      "queue_length",
			Help:      "Candidates waiting in the audit queue",
		}),
		ThrottleEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sniper",
			Subsystem: "ratelimit",
			Name:      "throttle_events_total",
			Help:      "Explicit rate-limit signals received from the security API",
		}),
		BuysTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sniper",
			Subsystem: "engine",
			Name:      "buys_total",
			Help:      "Buy attempts by result",
		}, []string{"chain", "result"}),
		SellsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sniper",
			Subsystem: "engine",
			Name:      "sells_total",
			Help:      "Sells by exit reason",
		}, []string{"chain", "reason"}),
	}
}

// IncAudit records a verdict if metrics are enabled.
func (m *Metrics) IncAudit(verdict string) {
	if m == nil {
		return
	}
	m.AuditsTotal.WithLabelValues(verdict).Inc()
}

// IncCheckFailure records a failed check if metrics are enabled.
func (m *Metrics) IncCheckFailure(check string) {
	if m == nil {
		return
	}
	m.AuditCheckFailures.WithLabelValues(check).Inc()
}

// SetQueueLength records the audit queue depth if metrics are enabled.
func (m *Metrics) SetQueueLength(n int) {
	if m == nil {
		return
	}
	m.AuditQueueLength.Set(float64(n))
}

// IncPairDetected records a decoded creation event if metrics are enabled.
func (m *Metrics) IncPairDetected(chain, version string) {
	if m == nil {
		return
	}
	m.PairsDetected.WithLabelValues(chain, version).Inc()
}

// IncClassifierDrop records a dropped creation event if metrics are enabled.
func (m *Metrics) IncClassifierDrop(chain, version string) {
	if m == nil {
		return
	}
	m.ClassifierDrops.WithLabelValues(chain, version).Inc()
}

// IncThrottle records an explicit rate-limit signal if metrics are enabled.
func (m *Metrics) IncThrottle() {
	if m == nil {
		return
	}
	m.ThrottleEvents.Inc()
}

// IncBuy records a buy attempt if metrics are enabled.
func (m *Metrics) IncBuy(chain, result string) {
	if m == nil {
		return
	}
	m.BuysTotal.WithLabelValues(chain, result).Inc()
}

// IncSell records a sell if metrics are enabled.
func (m *Metrics) IncSell(chain, reason string) {
	if m == nil {
		return
	}
	m.SellsTotal.WithLabelValues(chain, reason).Inc()
}

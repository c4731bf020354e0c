// Package metrics bridges the resilience primitives' Statistics() onto
// Prometheus collectors. Nothing in the core resilience package imports
// Prometheus; this is an optional companion a caller wires in explicitly
// via RegisterMetrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	resilience "github.com/resilience-go/core"
)

// CircuitBreakerCollector exposes a [resilience.CircuitBreaker]'s current
// state and counters as Prometheus metrics, scraped on demand (no
// background polling).
type CircuitBreakerCollector struct {
	cb    *resilience.CircuitBreaker
	state *prometheus.Desc
	fails *prometheus.Desc
}

// NewCircuitBreakerCollector creates a collector for cb, labeling every
// exposed metric with name.
func NewCircuitBreakerCollector(name string, cb *resilience.CircuitBreaker) *CircuitBreakerCollector {
	return &CircuitBreakerCollector{
		cb: cb,
		state: prometheus.NewDesc(
			"resilience_circuit_breaker_state",
			"Current circuit breaker state (0=closed, 1=open, 2=half_open)",
			nil, prometheus.Labels{"name": name},
		),
		fails: prometheus.NewDesc(
			"resilience_circuit_breaker_failure_count",
			"Consecutive failure count accumulated in the current state",
			nil, prometheus.Labels{"name": name},
		),
	}
}

// Describe implements [prometheus.Collector].
func (c *CircuitBreakerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.fails
}

// Collect implements [prometheus.Collector].
func (c *CircuitBreakerCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.cb.Statistics()

	ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, float64(stats.State))
	ch <- prometheus.MustNewConstMetric(c.fails, prometheus.GaugeValue, float64(stats.FailureCount))
}

// BulkheadCollector exposes a [resilience.Bulkhead]'s current utilization
// as Prometheus metrics.
type BulkheadCollector struct {
	bh          *resilience.Bulkhead
	active      *prometheus.Desc
	waiting     *prometheus.Desc
	rejected    *prometheus.Desc
	utilization *prometheus.Desc
}

// NewBulkheadCollector creates a collector for bh, labeling every exposed
// metric with name.
func NewBulkheadCollector(name string, bh *resilience.Bulkhead) *BulkheadCollector {
	labels := prometheus.Labels{"name": name}

	return &BulkheadCollector{
		bh: bh,
		active: prometheus.NewDesc(
			"resilience_bulkhead_active_calls", "Calls currently holding a permit", nil, labels,
		),
		waiting: prometheus.NewDesc(
			"resilience_bulkhead_waiting_calls", "Calls currently queued for a permit", nil, labels,
		),
		rejected: prometheus.NewDesc(
			"resilience_bulkhead_rejected_calls_total", "Calls rejected since the last reset", nil, labels,
		),
		utilization: prometheus.NewDesc(
			"resilience_bulkhead_utilization_rate", "Active calls as a fraction of concurrency capacity", nil, labels,
		),
	}
}

// Describe implements [prometheus.Collector].
func (c *BulkheadCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.active
	ch <- c.waiting
	ch <- c.rejected
	ch <- c.utilization
}

// Collect implements [prometheus.Collector].
func (c *BulkheadCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.bh.Statistics()

	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(stats.ActiveCalls))
	ch <- prometheus.MustNewConstMetric(c.waiting, prometheus.GaugeValue, float64(stats.WaitingCalls))
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(stats.RejectedCalls))
	ch <- prometheus.MustNewConstMetric(c.utilization, prometheus.GaugeValue, stats.UtilizationRate)
}

// RegisterMetrics registers every collector with reg. Callers opt in
// explicitly; nothing here touches the default Prometheus registry.
func RegisterMetrics(reg *prometheus.Registry, collectors ...prometheus.Collector) error {
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	return nil
}

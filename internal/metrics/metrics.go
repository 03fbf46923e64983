// Package metrics exposes Prometheus collectors for the order engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "keydrop"

// Metrics owns its registry so tests can build as many as they like. All
// methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	ordersCreated       prometheus.Counter
	allocationFailures  *prometheus.CounterVec
	allocationRetries   prometheus.Counter
	compensations       *prometheus.CounterVec
	allocationDuration  prometheus.Histogram
	itemsAdded          prometheus.Counter
	corruptPayloadReads prometheus.Counter
	eventsDropped       prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders committed with their items sold.",
		}),
		allocationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_failures_total",
			Help:      "Rejected or failed order allocations by error kind.",
		}, []string{"kind"}),
		allocationRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_retries_total",
			Help:      "Allocation attempts retried after a write conflict.",
		}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_total",
			Help:      "Compensation passes after a terminal allocation failure.",
		}, []string{"result"}),
		allocationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "allocation_duration_seconds",
			Help:      "End-to-end order allocation latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		itemsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inventory_items_added_total",
			Help:      "Inventory items sealed and stored.",
		}),
		corruptPayloadReads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corrupt_payload_reads_total",
			Help:      "Delivered items that could not be decrypted.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events not published because the queue was full or closed.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ordersCreated,
		m.allocationFailures,
		m.allocationRetries,
		m.compensations,
		m.allocationDuration,
		m.itemsAdded,
		m.corruptPayloadReads,
		m.eventsDropped,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) OrderCreated(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
	m.allocationDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) AllocationFailed(kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.allocationFailures.WithLabelValues(kind).Inc()
	m.allocationDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) AllocationRetried() {
	if m == nil {
		return
	}
	m.allocationRetries.Inc()
}

func (m *Metrics) Compensated(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.compensations.WithLabelValues(result).Inc()
}

func (m *Metrics) ItemsAdded(n int) {
	if m == nil {
		return
	}
	m.itemsAdded.Add(float64(n))
}

func (m *Metrics) CorruptPayloadRead() {
	if m == nil {
		return
	}
	m.corruptPayloadReads.Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

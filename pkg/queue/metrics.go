// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package queue

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	queueDepth          *prometheus.GaugeVec
	queueThroughput     *prometheus.GaugeVec
	entitiesEnumerated  *prometheus.CounterVec
	entitiesProcessed   *prometheus.CounterVec
	entitiesFailed      *prometheus.CounterVec
	operationPanics     prometheus.Counter
	collectionsFinished prometheus.Counter
	operationDuration   *prometheus.HistogramVec

	collectors []prometheus.Collector
}

// NewMetrics creates and registers the pipeline metrics.
func NewMetrics(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "migrator_queue_depth",
		Help: "Current number of items waiting in a pipeline queue",
	}, []string{"queue"})

	m.queueThroughput = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "migrator_queue_items_per_second",
		Help: "Items dequeued per second since the previous observation",
	}, []string{"queue"})

	m.entitiesEnumerated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "migrator_entities_enumerated_total",
		Help: "Entities read from the source and queued",
	}, []string{"app", "collection"})

	m.entitiesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "migrator_entities_processed_total",
		Help: "Entities the operation was applied to",
	}, []string{"app", "collection"})

	m.entitiesFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "migrator_entities_failed_total",
		Help: "Entities whose operation failed",
	}, []string{"app", "collection"})

	m.operationPanics = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "migrator_operation_panics_total",
		Help: "Operations that panicked and were recovered",
	})

	m.collectionsFinished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "migrator_collections_finished_total",
		Help: "Collections paged to the end",
	})

	m.operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "migrator_operation_duration_seconds",
		Help:    "Time taken by the per-entity operation",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~41s
	}, []string{"app", "collection"})

	m.collectors = []prometheus.Collector{
		m.queueDepth,
		m.queueThroughput,
		m.entitiesEnumerated,
		m.entitiesProcessed,
		m.entitiesFailed,
		m.operationPanics,
		m.collectionsFinished,
		m.operationDuration,
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

func (m *Metrics) recordQueue(stats QueueStats, perSecond float64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(stats.Name).Set(float64(stats.Depth))
	m.queueThroughput.WithLabelValues(stats.Name).Set(perSecond)
}

func (m *Metrics) recordEnumerated(app, collection string) {
	if m == nil {
		return
	}
	m.entitiesEnumerated.WithLabelValues(app, collection).Inc()
}

func (m *Metrics) recordOperation(app, collection string, ok bool, seconds float64) {
	if m == nil {
		return
	}
	m.entitiesProcessed.WithLabelValues(app, collection).Inc()
	if !ok {
		m.entitiesFailed.WithLabelValues(app, collection).Inc()
	}
	m.operationDuration.WithLabelValues(app, collection).Observe(seconds)
}

func (m *Metrics) recordPanic() {
	if m == nil {
		return
	}
	m.operationPanics.Inc()
}

func (m *Metrics) recordCollectionFinished() {
	if m == nil {
		return
	}
	m.collectionsFinished.Inc()
}

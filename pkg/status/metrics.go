// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package status

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the per-collection progress as Prometheus gauges. A nil *Metrics is a no-op.
type Metrics struct {
	entities   *prometheus.GaugeVec
	bytes      *prometheus.GaugeVec
	finished   *prometheus.GaugeVec
	collectors []prometheus.Collector
}

// NewMetrics creates and registers the status metrics.
func NewMetrics(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		entities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "migrator_collection_entities",
			Help: "Entities enumerated per collection",
		}, []string{"app", "collection"}),
		bytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "migrator_collection_bytes",
			Help: "Payload bytes enumerated per collection",
		}, []string{"app", "collection"}),
		finished: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "migrator_collection_finished",
			Help: "1 once a collection's iteration has finished",
		}, []string{"app", "collection"}),
	}
	m.collectors = []prometheus.Collector{m.entities, m.bytes, m.finished}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
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

func (m *Metrics) observe(s CollectionStatus) {
	if m == nil {
		return
	}
	m.entities.WithLabelValues(s.App, s.Collection).Set(float64(s.Count))
	m.bytes.WithLabelValues(s.App, s.Collection).Set(float64(s.Bytes))
	if s.Finished() {
		m.finished.WithLabelValues(s.App, s.Collection).Set(1)
	}
}

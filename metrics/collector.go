// Package metrics exposes a slab.Pool's per-class and free-frame counters
// as a prometheus.Collector.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/achilleasa/slabpool/slab"
)

// Collector adapts a *slab.Pool into a prometheus.Collector. Register it
// with a prometheus.Registry to expose per-size-class allocation counters
// and the pool's free-frame gauge.
type Collector struct {
	pool *slab.Pool
	name string

	classTotal *prometheus.Desc
	classUsed  *prometheus.Desc
	classReqs  *prometheus.Desc
	classFails *prometheus.Desc
	freeFrames *prometheus.Desc
}

// NewCollector returns a Collector for pool. name identifies the pool in
// the "pool" label attached to every metric, for processes exposing more
// than one pool.
func NewCollector(pool *slab.Pool, name string) *Collector {
	constLabels := prometheus.Labels{"pool": name}
	return &Collector{
		pool: pool,
		name: name,
		classTotal: prometheus.NewDesc(
			"slabpool_class_slots_total", "Object slots provisioned in a size class.",
			[]string{"shift"}, constLabels),
		classUsed: prometheus.NewDesc(
			"slabpool_class_slots_used", "Object slots currently handed out in a size class.",
			[]string{"shift"}, constLabels),
		classReqs: prometheus.NewDesc(
			"slabpool_class_requests_total", "Allocation requests routed to a size class.",
			[]string{"shift"}, constLabels),
		classFails: prometheus.NewDesc(
			"slabpool_class_failures_total", "Allocation requests a size class could not satisfy.",
			[]string{"shift"}, constLabels),
		freeFrames: prometheus.NewDesc(
			"slabpool_free_frames", "Frames not currently part of any live allocation.",
			nil, constLabels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.classTotal
	ch <- c.classUsed
	ch <- c.classReqs
	ch <- c.classFails
	ch <- c.freeFrames
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.pool.Stats() {
		shift := strconv.Itoa(int(s.Shift))
		ch <- prometheus.MustNewConstMetric(c.classTotal, prometheus.GaugeValue, float64(s.Total), shift)
		ch <- prometheus.MustNewConstMetric(c.classUsed, prometheus.GaugeValue, float64(s.Used), shift)
		ch <- prometheus.MustNewConstMetric(c.classReqs, prometheus.CounterValue, float64(s.Reqs), shift)
		ch <- prometheus.MustNewConstMetric(c.classFails, prometheus.CounterValue, float64(s.Fails), shift)
	}
	ch <- prometheus.MustNewConstMetric(c.freeFrames, prometheus.GaugeValue, float64(c.pool.FreeFrames()))
}

package registry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	liveDesc = prometheus.NewDesc(
		"jsbridge_registry_live_entries",
		"Number of live entries in a registry.",
		[]string{"registry"}, nil,
	)
	insertedDesc = prometheus.NewDesc(
		"jsbridge_registry_inserted_total",
		"Total entries inserted into a registry.",
		[]string{"registry"}, nil,
	)
	removedDesc = prometheus.NewDesc(
		"jsbridge_registry_removed_total",
		"Total entries removed from a registry.",
		[]string{"registry"}, nil,
	)
)

// Collector exports registry stats as prometheus metrics.
type Collector struct {
	sources []Source
	mu      sync.RWMutex
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector over the given sources.
func NewCollector(sources ...Source) *Collector {
	return &Collector{sources: sources}
}

// Add appends a source.
func (c *Collector) Add(s Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources = append(c.sources, s)
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- liveDesc
	ch <- insertedDesc
	ch <- removedDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	sources := append([]Source(nil), c.sources...)
	c.mu.RUnlock()

	for _, s := range sources {
		st := s.Stats()
		ch <- prometheus.MustNewConstMetric(liveDesc, prometheus.GaugeValue, float64(st.Live), s.Name())
		ch <- prometheus.MustNewConstMetric(insertedDesc, prometheus.CounterValue, float64(st.Inserted), s.Name())
		ch <- prometheus.MustNewConstMetric(removedDesc, prometheus.CounterValue, float64(st.Removed), s.Name())
	}
}

var defaultCollector = NewCollector()

// Register adds a long-lived registry to the default collector.
func Register(s Source) {
	defaultCollector.Add(s)
}

// DefaultCollector returns the collector over every registered source.
func DefaultCollector() *Collector {
	return defaultCollector
}

package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TextfileName is the node-exporter textfile written next to the run output.
const TextfileName = "metrics.prom"

// Run holds the counters for a single conversion run on a private registry.
type Run struct {
	registry *prometheus.Registry

	ImagesFound      prometheus.Counter
	ImagesProcessed  prometheus.Counter
	ImagesFailed     prometheus.Counter
	BatchesSent      prometheus.Counter
	BatchesFailed    prometheus.Counter
	DocumentsIndexed prometheus.Counter
	BatchDuration    prometheus.Histogram
}

func NewRun() *Run {
	reg := prometheus.NewRegistry()
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: "imgvec", Name: name, Help: help})
		reg.MustRegister(c)
		return c
	}
	m := &Run{
		registry:         reg,
		ImagesFound:      counter("images_found_total", "Supported image files discovered."),
		ImagesProcessed:  counter("images_processed_total", "Images embedded and assembled into documents."),
		ImagesFailed:     counter("images_failed_total", "Images skipped after a read or embed failure."),
		BatchesSent:      counter("batches_sent_total", "Bulk requests sent to the document sink."),
		BatchesFailed:    counter("batches_failed_total", "Bulk requests that failed in whole or in part."),
		DocumentsIndexed: counter("documents_indexed_total", "Documents acknowledged by the document sink."),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "imgvec",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one bulk request.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
	reg.MustRegister(m.BatchDuration)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Run) Registry() *prometheus.Registry { return m.registry }

// ObserveBatch records one flushed batch.
func (m *Run) ObserveBatch(started time.Time, indexed int, failed bool) {
	m.BatchesSent.Inc()
	m.BatchDuration.Observe(time.Since(started).Seconds())
	m.DocumentsIndexed.Add(float64(indexed))
	if failed {
		m.BatchesFailed.Inc()
	}
}

// WriteTextfile atomically writes the registry in text exposition format.
func (m *Run) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}

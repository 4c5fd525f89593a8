package tessera

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exports operation metrics to a Prometheus registry.
type PrometheusCollector struct {
	addBatches        prometheus.Counter
	addBatchErrors    prometheus.Counter
	documentsInserted prometheus.Counter
	documentsSkipped  prometheus.Counter
	addBatchSeconds   prometheus.Histogram
	queries           prometheus.Counter
	queryErrors       prometheus.Counter
	querySeconds      prometheus.Histogram
	deletes           prometheus.Counter
	deleteErrors      prometheus.Counter
	graphQueries      prometheus.Counter
	graphQueryErrors  prometheus.Counter
}

// NewPrometheusCollector registers the tessera metric set with reg and
// returns the collector. Passing prometheus.DefaultRegisterer is fine for
// single-instance processes.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		addBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tessera_add_batches_total",
			Help: "Number of batch ingest operations.",
		}),
		addBatchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tessera_add_batch_errors_total",
			Help: "Number of failed batch ingest operations.",
		}),
		documentsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tessera_documents_inserted_total",
			Help: "Number of documents inserted.",
		}),
		documentsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tessera_documents_skipped_total",
			Help: "Number of documents skipped as duplicates.",
		}),
		addBatchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tessera_add_batch_duration_seconds",
			Help:    "Batch ingest latency.",
			Buckets: prometheus.DefBuckets,
		}),
		queries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tessera_queries_total",
			Help: "Number of hybrid queries.",
		}),
		queryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tessera_query_errors_total",
			Help: "Number of failed hybrid queries.",
		}),
		querySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tessera_query_duration_seconds",
			Help:    "Hybrid query latency.",
			Buckets: prometheus.DefBuckets,
		}),
		deletes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tessera_deletes_total",
			Help: "Number of document deletions.",
		}),
		deleteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tessera_delete_errors_total",
			Help: "Number of failed document deletions.",
		}),
		graphQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tessera_graph_queries_total",
			Help: "Number of graph neighbourhood queries.",
		}),
		graphQueryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tessera_graph_query_errors_total",
			Help: "Number of failed graph queries.",
		}),
	}

	reg.MustRegister(
		c.addBatches, c.addBatchErrors, c.documentsInserted, c.documentsSkipped,
		c.addBatchSeconds, c.queries, c.queryErrors, c.querySeconds,
		c.deletes, c.deleteErrors, c.graphQueries, c.graphQueryErrors,
	)
	return c
}

var _ MetricsCollector = (*PrometheusCollector)(nil)

// RecordAddBatch implements MetricsCollector.
func (c *PrometheusCollector) RecordAddBatch(inserted, skipped int, duration time.Duration, err error) {
	c.addBatches.Inc()
	c.documentsInserted.Add(float64(inserted))
	c.documentsSkipped.Add(float64(skipped))
	c.addBatchSeconds.Observe(duration.Seconds())
	if err != nil {
		c.addBatchErrors.Inc()
	}
}

// RecordQuery implements MetricsCollector.
func (c *PrometheusCollector) RecordQuery(k, hits int, duration time.Duration, err error) {
	c.queries.Inc()
	c.querySeconds.Observe(duration.Seconds())
	if err != nil {
		c.queryErrors.Inc()
	}
}

// RecordDelete implements MetricsCollector.
func (c *PrometheusCollector) RecordDelete(duration time.Duration, err error) {
	c.deletes.Inc()
	if err != nil {
		c.deleteErrors.Inc()
	}
}

// RecordGraphQuery implements MetricsCollector.
func (c *PrometheusCollector) RecordGraphQuery(duration time.Duration, err error) {
	c.graphQueries.Inc()
	if err != nil {
		c.graphQueryErrors.Inc()
	}
}

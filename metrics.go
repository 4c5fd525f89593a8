package tessera

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems.
type MetricsCollector interface {
	// RecordAddBatch is called after each batch ingest.
	// inserted and skipped count documents, duration is the total time taken.
	RecordAddBatch(inserted, skipped int, duration time.Duration, err error)

	// RecordQuery is called after each hybrid query.
	// k is the requested result count, hits the number returned.
	RecordQuery(k, hits int, duration time.Duration, err error)

	// RecordDelete is called after each document deletion.
	RecordDelete(duration time.Duration, err error)

	// RecordGraphQuery is called after each graph neighbourhood query.
	RecordGraphQuery(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAddBatch(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordQuery(int, int, time.Duration, error)    {}
func (NoopMetricsCollector) RecordDelete(time.Duration, error)             {}
func (NoopMetricsCollector) RecordGraphQuery(time.Duration, error)         {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AddBatchCount      atomic.Int64
	AddBatchErrors     atomic.Int64
	DocumentsInserted  atomic.Int64
	DocumentsSkipped   atomic.Int64
	AddBatchTotalNanos atomic.Int64
	QueryCount         atomic.Int64
	QueryErrors        atomic.Int64
	QueryTotalNanos    atomic.Int64
	DeleteCount        atomic.Int64
	DeleteErrors       atomic.Int64
	GraphQueryCount    atomic.Int64
	GraphQueryErrors   atomic.Int64
}

// RecordAddBatch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAddBatch(inserted, skipped int, duration time.Duration, err error) {
	b.AddBatchCount.Add(1)
	b.DocumentsInserted.Add(int64(inserted))
	b.DocumentsSkipped.Add(int64(skipped))
	b.AddBatchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.AddBatchErrors.Add(1)
	}
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(k, hits int, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(duration time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordGraphQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGraphQuery(duration time.Duration, err error) {
	b.GraphQueryCount.Add(1)
	if err != nil {
		b.GraphQueryErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AddBatchCount:     b.AddBatchCount.Load(),
		AddBatchErrors:    b.AddBatchErrors.Load(),
		DocumentsInserted: b.DocumentsInserted.Load(),
		DocumentsSkipped:  b.DocumentsSkipped.Load(),
		AddBatchAvgNanos:  avg(b.AddBatchTotalNanos.Load(), b.AddBatchCount.Load()),
		QueryCount:        b.QueryCount.Load(),
		QueryErrors:       b.QueryErrors.Load(),
		QueryAvgNanos:     avg(b.QueryTotalNanos.Load(), b.QueryCount.Load()),
		DeleteCount:       b.DeleteCount.Load(),
		DeleteErrors:      b.DeleteErrors.Load(),
		GraphQueryCount:   b.GraphQueryCount.Load(),
		GraphQueryErrors:  b.GraphQueryErrors.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AddBatchCount     int64
	AddBatchErrors    int64
	DocumentsInserted int64
	DocumentsSkipped  int64
	AddBatchAvgNanos  int64
	QueryCount        int64
	QueryErrors       int64
	QueryAvgNanos     int64
	DeleteCount       int64
	DeleteErrors      int64
	GraphQueryCount   int64
	GraphQueryErrors  int64
}

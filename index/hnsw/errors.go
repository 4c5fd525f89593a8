package hnsw

import "fmt"

// ErrDimensionMismatch is a named error type for dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

// Error returns the error message for dimension mismatch.
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrCapacityExceeded indicates the graph is at its configured element limit.
type ErrCapacityExceeded struct {
	Capacity int
}

// Error returns the error message for an exhausted graph.
func (e *ErrCapacityExceeded) Error() string {
	return fmt.Sprintf("index capacity exceeded: %d elements", e.Capacity)
}

// ErrUnknownMetric indicates an unrecognized distance metric name.
type ErrUnknownMetric struct {
	Metric string
}

// Error returns the error message for an unknown metric.
func (e *ErrUnknownMetric) Error() string {
	return fmt.Sprintf("unknown distance metric: %q", e.Metric)
}

package tessera

import (
	"errors"
	"fmt"

	"github.com/tesseradb/tessera/docstore"
	"github.com/tesseradb/tessera/engine"
	"github.com/tesseradb/tessera/index"
	"github.com/tesseradb/tessera/index/hnsw"
	"github.com/tesseradb/tessera/metadata"
)

var (
	// ErrNotFound is returned when a collection or document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument is returned for malformed requests: empty names,
	// unknown filter operators, bad batch shapes.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrCapacityExceeded is returned when an index is full.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrUnavailable is returned when index artifact storage cannot be
	// reached. The operation may succeed on retry.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrInternal is returned for invariant violations such as a corrupt
	// index artifact.
	ErrInternal = errors.New("internal error")

	// ErrNotSupported is returned for configurations the engine cannot
	// serve, such as an unknown distance metric.
	ErrNotSupported = errors.New("not supported")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	// Argument normalization.
	if errors.Is(err, engine.ErrInvalidArgument) {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	var op *metadata.ErrInvalidOperator
	if errors.As(err, &op) {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	var dm *hnsw.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}

	var ce *hnsw.ErrCapacityExceeded
	if errors.As(err, &ce) {
		return fmt.Errorf("%w: %w", ErrCapacityExceeded, err)
	}

	var um *hnsw.ErrUnknownMetric
	if errors.As(err, &um) {
		return fmt.Errorf("%w: %w", ErrNotSupported, err)
	}

	// Storage states.
	var corrupt *index.ErrCorruptArtifact
	if errors.As(err, &corrupt) {
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
	if errors.Is(err, index.ErrUnavailable) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return err
}

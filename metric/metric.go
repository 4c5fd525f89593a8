// Package metric provides the distance kernels used by the vector index.
package metric

import (
	"errors"
	"math"
)

// ErrLengthMismatch is returned when the two vectors differ in length.
var ErrLengthMismatch = errors.New("vector sizes do not match")

// DistanceFunc computes the distance between two vectors.
// Lower values mean closer.
type DistanceFunc func(v1, v2 []float32) (float32, error)

// Dot calculates the dot product of two float32 slices.
func Dot(v1, v2 []float32) float32 {
	var ret float32
	for i := range v1 {
		ret += v1[i] * v2[i]
	}
	return ret
}

// Magnitude calculates the magnitude (length) of a float32 slice.
func Magnitude(v []float32) float32 {
	return float32(math.Sqrt(float64(Dot(v, v))))
}

// SquaredL2 calculates the squared L2 distance between two float32 slices.
func SquaredL2(v1, v2 []float32) (float32, error) {
	if len(v1) != len(v2) {
		return 0, ErrLengthMismatch
	}

	var distance float32
	for i := range v1 {
		d := v1[i] - v2[i]
		distance += d * d
	}
	return distance, nil
}

// CosineDistance calculates 1 - cosine similarity between two float32 slices.
// Zero-magnitude vectors are treated as maximally distant.
func CosineDistance(v1, v2 []float32) (float32, error) {
	if len(v1) != len(v2) {
		return 0, ErrLengthMismatch
	}

	magA := Magnitude(v1)
	magB := Magnitude(v2)
	if magA == 0 || magB == 0 {
		return 1, nil
	}

	return 1 - Dot(v1, v2)/(magA*magB), nil
}

// ByName returns a built-in distance function by its stable name.
// Persisted index artifacts store the metric name in their header.
func ByName(name string) (DistanceFunc, bool) {
	switch name {
	case "l2":
		return SquaredL2, true
	case "cosine":
		return CosineDistance, true
	default:
		return nil, false
	}
}

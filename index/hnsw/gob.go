package hnsw

import (
	"bytes"
	"encoding/gob"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/tesseradb/tessera/metric"
	"github.com/tesseradb/tessera/model"
)

// Compile time checks to ensure Index satisfies the gob interfaces.
var (
	_ gob.GobEncoder = (*Index)(nil)
	_ gob.GobDecoder = (*Index)(nil)
)

// gobOptions mirrors Options for persistence. The distance function is
// re-resolved from the metric name on decode.
type gobOptions struct {
	M              int
	EFConstruction int
	EFSearch       int
	Heuristic      bool
	Metric         string
	MaxElements    int
}

// GobEncode serializes the full graph, including tombstones.
func (h *Index) GobEncode() ([]byte, error) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)

	if err := encoder.Encode(h.dimension); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.ml); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.ep); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.maxLevel); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.nodes); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.keys); err != nil {
		return nil, err
	}

	deadBytes, err := h.dead.ToBytes()
	if err != nil {
		return nil, err
	}
	if err := encoder.Encode(deadBytes); err != nil {
		return nil, err
	}

	opts := gobOptions{
		M:              h.opts.M,
		EFConstruction: h.opts.EFConstruction,
		EFSearch:       h.opts.EFSearch,
		Heuristic:      h.opts.Heuristic,
		Metric:         h.opts.Metric,
		MaxElements:    h.opts.MaxElements,
	}
	if err := encoder.Encode(opts); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// GobDecode restores a graph serialized by GobEncode.
func (h *Index) GobDecode(data []byte) error {
	decoder := gob.NewDecoder(bytes.NewBuffer(data))

	if err := decoder.Decode(&h.dimension); err != nil {
		return err
	}

	if err := decoder.Decode(&h.ml); err != nil {
		return err
	}

	if err := decoder.Decode(&h.ep); err != nil {
		return err
	}

	if err := decoder.Decode(&h.maxLevel); err != nil {
		return err
	}

	if err := decoder.Decode(&h.nodes); err != nil {
		return err
	}

	if err := decoder.Decode(&h.keys); err != nil {
		return err
	}

	var deadBytes []byte
	if err := decoder.Decode(&deadBytes); err != nil {
		return err
	}
	h.dead = roaring.New()
	if err := h.dead.UnmarshalBinary(deadBytes); err != nil {
		return err
	}

	var opts gobOptions
	if err := decoder.Decode(&opts); err != nil {
		return err
	}
	h.opts = Options{
		M:              opts.M,
		EFConstruction: opts.EFConstruction,
		EFSearch:       opts.EFSearch,
		Heuristic:      opts.Heuristic,
		Metric:         opts.Metric,
		MaxElements:    opts.MaxElements,
	}

	distFn, ok := metric.ByName(h.opts.Metric)
	if !ok {
		return &ErrUnknownMetric{Metric: h.opts.Metric}
	}
	h.distFn = distFn

	h.mmax = h.opts.M
	h.mmax0 = 2 * h.opts.M

	// Rebuild the key lookup from the position table.
	h.byKey = make(map[model.Key]uint32, len(h.keys))
	for pos, key := range h.keys {
		if pos == 0 || h.dead.Contains(uint32(pos)) {
			continue
		}
		h.byKey[key] = uint32(pos)
	}

	return nil
}

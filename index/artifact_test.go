package index

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tesseradb/tessera/codec"
	"github.com/tesseradb/tessera/index/hnsw"
	"github.com/tesseradb/tessera/model"
)

func buildIndex(t *testing.T) *hnsw.Index {
	t.Helper()
	idx, err := hnsw.New(3)
	require.NoError(t, err)
	for i := 1; i <= 10; i++ {
		key := model.Key(i)
		require.NoError(t, idx.Add(key, []float32{float32(i), float32(i % 4), 0.5}))
	}
	return idx
}

func TestArtifactRoundTrip(t *testing.T) {
	for _, compression := range []string{CompressionZstd, CompressionLZ4, CompressionNone} {
		t.Run(compression, func(t *testing.T) {
			idx := buildIndex(t)

			data, err := EncodeArtifact(idx, codec.Default, compression)
			require.NoError(t, err)

			restored, manifest, err := DecodeArtifact(data)
			require.NoError(t, err)
			require.Equal(t, 10, manifest.Count)
			require.Equal(t, 3, manifest.Dimension)
			require.Equal(t, "l2", manifest.Metric)

			require.Equal(t, idx.Len(), restored.Len())
			want, err := idx.Search([]float32{5, 1, 0.5}, 3)
			require.NoError(t, err)
			got, err := restored.Search([]float32{5, 1, 0.5}, 3)
			require.NoError(t, err)
			require.Equal(t, want, got)
		})
	}
}

func TestArtifactJSONCodec(t *testing.T) {
	idx := buildIndex(t)

	data, err := EncodeArtifact(idx, codec.JSON{}, CompressionZstd)
	require.NoError(t, err)

	_, manifest, err := DecodeArtifact(data)
	require.NoError(t, err)
	require.Equal(t, 10, manifest.Count)
}

func TestArtifactBadMagic(t *testing.T) {
	var corruptErr *ErrCorruptArtifact

	_, _, err := DecodeArtifact([]byte("NOPE-not-an-artifact"))
	require.ErrorAs(t, err, &corruptErr)

	_, _, err = DecodeArtifact(nil)
	require.ErrorAs(t, err, &corruptErr)
}

func TestArtifactChecksumMismatch(t *testing.T) {
	idx := buildIndex(t)
	data, err := EncodeArtifact(idx, codec.Default, CompressionZstd)
	require.NoError(t, err)

	// Flip a byte in the compressed payload.
	data[len(data)-1] ^= 0xFF

	var corruptErr *ErrCorruptArtifact
	_, _, err = DecodeArtifact(data)
	require.ErrorAs(t, err, &corruptErr)
	require.Contains(t, corruptErr.Reason, "checksum")
}

func TestArtifactTruncated(t *testing.T) {
	idx := buildIndex(t)
	data, err := EncodeArtifact(idx, codec.Default, CompressionZstd)
	require.NoError(t, err)

	var corruptErr *ErrCorruptArtifact
	_, _, err = DecodeArtifact(data[:10])
	require.ErrorAs(t, err, &corruptErr)
}

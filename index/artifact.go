package index

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/tesseradb/tessera/codec"
	"github.com/tesseradb/tessera/index/hnsw"
)

// Artifact layout:
//
//	magic "TSR1"
//	u8  codec name length, codec name
//	u8  compression name length, compression name
//	u32 manifest length, codec-encoded manifest
//	u32 CRC-32C of the compressed graph section
//	compressed gob-encoded graph
//
// The header is self-describing so the codec and compression defaults can
// change without breaking existing artifacts.
var artifactMagic = [4]byte{'T', 'S', 'R', '1'}

// Compression names accepted in artifact headers.
const (
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
	CompressionNone = "none"
)

// crcTable is the Castagnoli polynomial, the same one S3 and modern
// filesystems use for payload checksums.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Manifest describes the graph stored in an artifact.
type Manifest struct {
	Dimension int       `json:"dimension"`
	Metric    string    `json:"metric"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrCorruptArtifact indicates an artifact that cannot be decoded.
type ErrCorruptArtifact struct {
	Reason string
}

// Error returns the error message for a corrupt artifact.
func (e *ErrCorruptArtifact) Error() string {
	return fmt.Sprintf("corrupt index artifact: %s", e.Reason)
}

// EncodeArtifact serializes a graph into the self-describing artifact format.
func EncodeArtifact(idx *hnsw.Index, c codec.Codec, compression string) ([]byte, error) {
	if c == nil {
		c = codec.Default
	}

	var graph bytes.Buffer
	if err := gob.NewEncoder(&graph).Encode(idx); err != nil {
		return nil, fmt.Errorf("failed to encode graph: %w", err)
	}

	compressed, err := compress(graph.Bytes(), compression)
	if err != nil {
		return nil, err
	}

	manifest, err := c.Marshal(Manifest{
		Dimension: idx.Dimension(),
		Metric:    idx.Metric(),
		Count:     idx.Len(),
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(artifactMagic[:])

	writeString := func(s string) {
		buf.WriteByte(byte(len(s)))
		buf.WriteString(s)
	}
	writeString(c.Name())
	writeString(compression)

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(manifest)))
	buf.Write(u32[:])
	buf.Write(manifest)

	binary.BigEndian.PutUint32(u32[:], crc32.Checksum(compressed, crcTable))
	buf.Write(u32[:])
	buf.Write(compressed)

	return buf.Bytes(), nil
}

// DecodeArtifact restores a graph and its manifest from artifact bytes.
func DecodeArtifact(data []byte) (*hnsw.Index, *Manifest, error) {
	r := bytes.NewReader(data)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != artifactMagic {
		return nil, nil, &ErrCorruptArtifact{Reason: "bad magic"}
	}

	readString := func() (string, error) {
		n, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return "", err
		}
		return string(b), nil
	}

	codecName, err := readString()
	if err != nil {
		return nil, nil, &ErrCorruptArtifact{Reason: "truncated header"}
	}
	compression, err := readString()
	if err != nil {
		return nil, nil, &ErrCorruptArtifact{Reason: "truncated header"}
	}

	c, ok := codec.ByName(codecName)
	if !ok {
		return nil, nil, &ErrCorruptArtifact{Reason: fmt.Sprintf("unknown codec %q", codecName)}
	}

	var u32 [4]byte
	if _, err := io.ReadFull(r, u32[:]); err != nil {
		return nil, nil, &ErrCorruptArtifact{Reason: "truncated manifest length"}
	}
	manifestBytes := make([]byte, binary.BigEndian.Uint32(u32[:]))
	if _, err := io.ReadFull(r, manifestBytes); err != nil {
		return nil, nil, &ErrCorruptArtifact{Reason: "truncated manifest"}
	}

	var manifest Manifest
	if err := c.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, nil, &ErrCorruptArtifact{Reason: "undecodable manifest"}
	}

	if _, err := io.ReadFull(r, u32[:]); err != nil {
		return nil, nil, &ErrCorruptArtifact{Reason: "truncated checksum"}
	}
	wantCRC := binary.BigEndian.Uint32(u32[:])

	compressed := make([]byte, r.Len())
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, nil, &ErrCorruptArtifact{Reason: "truncated payload"}
	}

	if crc32.Checksum(compressed, crcTable) != wantCRC {
		return nil, nil, &ErrCorruptArtifact{Reason: "checksum mismatch"}
	}

	graphBytes, err := decompress(compressed, compression)
	if err != nil {
		return nil, nil, err
	}

	idx := &hnsw.Index{}
	if err := gob.NewDecoder(bytes.NewReader(graphBytes)).Decode(idx); err != nil {
		return nil, nil, &ErrCorruptArtifact{Reason: fmt.Sprintf("undecodable graph: %v", err)}
	}

	return idx, &manifest, nil
}

func compress(data []byte, compression string) ([]byte, error) {
	switch compression {
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionNone:
		return data, nil
	default:
		return nil, fmt.Errorf("unknown compression: %q", compression)
	}
}

func decompress(data []byte, compression string) ([]byte, error) {
	switch compression {
	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, &ErrCorruptArtifact{Reason: fmt.Sprintf("zstd: %v", err)}
		}
		return out, nil
	case CompressionLZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, &ErrCorruptArtifact{Reason: fmt.Sprintf("lz4: %v", err)}
		}
		return out, nil
	case CompressionNone:
		return data, nil
	default:
		return nil, &ErrCorruptArtifact{Reason: fmt.Sprintf("unknown compression %q", compression)}
	}
}

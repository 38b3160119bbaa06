package engine

import (
	"bytes"
	"compress/flate"
	"io"
)

// Codec is the host-supplied compression boundary (spec.md §1): the
// engine only ever calls Compress/Decompress on page payloads, it
// never picks or configures an algorithm itself.
type Codec interface {
	Compress(data []byte) []byte
	Decompress(data []byte) ([]byte, error)
}

// NoCompressionCodec is the identity codec, used when a database is
// opened with use_compression=false.
type NoCompressionCodec struct{}

func (NoCompressionCodec) Compress(data []byte) []byte { return data }

func (NoCompressionCodec) Decompress(data []byte) ([]byte, error) { return data, nil }

// FlateCodec is a reference Codec implementation backed by the
// standard library's DEFLATE. Spec.md treats compression as an
// external, caller-supplied collaborator (§1); this type exists only
// to give Open a working default when use_compression is set without
// a Codec, not as a recommendation of DEFLATE over anything else an
// embedder might prefer.
type FlateCodec struct {
	Level int
}

func (c FlateCodec) Compress(data []byte) []byte {
	var buf bytes.Buffer
	level := c.Level
	if level == 0 {
		level = flate.DefaultCompression
	}
	w, err := flate.NewWriter(&buf, level)
	if err != nil {
		// flate.NewWriter only fails on an out-of-range level, which
		// can't happen with DefaultCompression; fall back to raw.
		return append([]byte(nil), data...)
	}
	_, _ = w.Write(data)
	_ = w.Close()
	return buf.Bytes()
}

func (c FlateCodec) Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, wrapIo("flate decompress", err)
	}
	return out, nil
}

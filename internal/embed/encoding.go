package embed

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// EncodeVector serializes a float32 slice to a binary BLOB using little-endian
// encoding. This is also the raw wire format served to clients that request
// application/octet-stream.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// SetEntry pairs an issue number with its encoded vector for set export.
type SetEntry struct {
	Number int
	Vector []byte
}

// WriteSet streams a repository embedding set in binary form: a uint32 entry
// count and uint32 dimensionality, then one uint32 issue number followed by
// the vector bytes per entry. All integers and floats are little-endian.
// Every entry must match the stated dimensionality.
func WriteSet(w io.Writer, dimensions int, entries []SetEntry) error {
	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:], uint32(len(entries)))
	binary.LittleEndian.PutUint32(header[4:], uint32(dimensions))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("writing set header: %w", err)
	}

	want := dimensions * 4
	var num [4]byte
	for _, e := range entries {
		if len(e.Vector) != want {
			return fmt.Errorf("issue #%d: vector is %d bytes, want %d", e.Number, len(e.Vector), want)
		}
		binary.LittleEndian.PutUint32(num[:], uint32(e.Number))
		if _, err := w.Write(num[:]); err != nil {
			return fmt.Errorf("writing entry #%d: %w", e.Number, err)
		}
		if _, err := w.Write(e.Vector); err != nil {
			return fmt.Errorf("writing entry #%d: %w", e.Number, err)
		}
	}
	return nil
}

// DecodeVector deserializes a binary BLOB back to a float32 slice using
// little-endian encoding.
func DecodeVector(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}

	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

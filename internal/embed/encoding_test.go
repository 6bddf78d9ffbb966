package embed

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func TestVectorRoundTrip(t *testing.T) {
	in := []float32{0, 1.5, -2.25, math.MaxFloat32, math.SmallestNonzeroFloat32}
	out := DecodeVector(EncodeVector(in))

	if len(out) != len(in) {
		t.Fatalf("expected %d values, got %d", len(in), len(out))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("value %d: got %f, want %f", i, out[i], in[i])
		}
	}
}

func TestEncodeVectorLittleEndian(t *testing.T) {
	// 1.0 as little-endian float32 is 00 00 80 3f.
	b := EncodeVector([]float32{1.0})
	want := []byte{0x00, 0x00, 0x80, 0x3f}
	if !bytes.Equal(b, want) {
		t.Errorf("got % x, want % x", b, want)
	}
}

func TestDecodeVectorEmpty(t *testing.T) {
	if v := DecodeVector(nil); v != nil {
		t.Errorf("expected nil for empty input, got %v", v)
	}
}

func TestWriteSet(t *testing.T) {
	entries := []SetEntry{
		{Number: 7, Vector: EncodeVector([]float32{1, 2})},
		{Number: 42, Vector: EncodeVector([]float32{3, 4})},
	}

	var buf bytes.Buffer
	if err := WriteSet(&buf, 2, entries); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data := buf.Bytes()
	wantLen := 8 + 2*(4+8)
	if len(data) != wantLen {
		t.Fatalf("expected %d bytes, got %d", wantLen, len(data))
	}

	if count := binary.LittleEndian.Uint32(data[0:]); count != 2 {
		t.Errorf("expected count 2, got %d", count)
	}
	if dims := binary.LittleEndian.Uint32(data[4:]); dims != 2 {
		t.Errorf("expected dims 2, got %d", dims)
	}
	if num := binary.LittleEndian.Uint32(data[8:]); num != 7 {
		t.Errorf("expected first entry number 7, got %d", num)
	}

	vec := DecodeVector(data[12:20])
	if vec[0] != 1 || vec[1] != 2 {
		t.Errorf("unexpected first vector: %v", vec)
	}
}

func TestWriteSetDimensionMismatch(t *testing.T) {
	var buf bytes.Buffer
	err := WriteSet(&buf, 3, []SetEntry{{Number: 1, Vector: EncodeVector([]float32{1, 2})}})
	if err == nil {
		t.Fatal("expected error for mismatched entry dimensionality")
	}
}

func TestWriteSetEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSet(&buf, 4, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() != 8 {
		t.Errorf("expected header only (8 bytes), got %d", buf.Len())
	}
}

package column

import (
	"path/filepath"
	"testing"
)

func TestNumericRoundTrip(t *testing.T) {
	values := []int64{10, 20, -5, 0, 999}
	data := EncodeI64(values)
	block, err := EncodeNumeric(PhysI64, uint32(len(values)), data, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	raw := block.Bytes()
	decoded, err := DecodeBlock(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	v := NewValues(decoded)
	if v.Len() != len(values) {
		t.Fatalf("row count mismatch: got %d want %d", v.Len(), len(values))
	}
	for i, want := range values {
		if got := v.GetI64At(i); got != want {
			t.Fatalf("row %d: got %d want %d", i, got, want)
		}
	}
}

func TestNumericRoundTripWithNulls(t *testing.T) {
	values := []int64{1, 0, 3}
	nulls := []bool{false, true, false}
	data := EncodeI64(values)
	block, err := EncodeNumeric(PhysI64, uint32(len(values)), data, nulls)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodeBlock(block.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	v := NewValues(decoded)
	for i, want := range nulls {
		if v.IsNull(i) != want {
			t.Fatalf("row %d null mismatch: got %v want %v", i, v.IsNull(i), want)
		}
	}
}

func TestVarBytesRoundTrip(t *testing.T) {
	values := [][]byte{[]byte("alpha"), []byte("beta"), nil, []byte("delta")}
	nulls := []bool{false, false, true, false}

	block, err := EncodeVarBytes(values, nulls)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodeBlock(block.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	v := NewValues(decoded)
	if v.Len() != 4 {
		t.Fatalf("row count mismatch: got %d", v.Len())
	}
	for i, want := range values {
		if nulls[i] {
			if !v.IsNull(i) {
				t.Fatalf("row %d expected null", i)
			}
			continue
		}
		if string(v.GetStrAt(i)) != string(want) {
			t.Fatalf("row %d: got %q want %q", i, v.GetStrAt(i), want)
		}
	}
}

func TestColumnFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	colPath := filepath.Join(dir, "order_amount.col")
	zfcPath := filepath.Join(dir, "order_amount.zfc")

	codec := NewCodec()
	w, err := NewWriter(colPath, codec)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	zoneValues := map[uint32][]int64{
		0: {1, 2, 3},
		1: {100, 200},
	}
	for zoneID := uint32(0); zoneID < 2; zoneID++ {
		vals := zoneValues[zoneID]
		block, err := EncodeNumeric(PhysI64, uint32(len(vals)), EncodeI64(vals), nil)
		if err != nil {
			t.Fatalf("encode zone %d: %v", zoneID, err)
		}
		if err := w.WriteZone(zoneID, block); err != nil {
			t.Fatalf("write zone %d: %v", zoneID, err)
		}
	}
	if err := w.Close(zfcPath); err != nil {
		t.Fatalf("close: %v", err)
	}

	entries, err := ReadZfc(zfcPath)
	if err != nil {
		t.Fatalf("read zfc: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 zfc entries, got %d", len(entries))
	}

	for _, entry := range entries {
		block, err := ReadBlockAt(colPath, entry, codec)
		if err != nil {
			t.Fatalf("read block zone %d: %v", entry.ZoneID, err)
		}
		v := NewValues(block)
		want := zoneValues[entry.ZoneID]
		if v.Len() != len(want) {
			t.Fatalf("zone %d row count mismatch: got %d want %d", entry.ZoneID, v.Len(), len(want))
		}
		for i, w := range want {
			if v.GetI64At(i) != w {
				t.Fatalf("zone %d row %d: got %d want %d", entry.ZoneID, i, v.GetI64At(i), w)
			}
		}
	}
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	codec := NewCodec()
	original := []byte("the quick brown fox jumps over the lazy dog, repeated a few times, repeated a few times")
	framed := codec.Compress(original)
	got, err := codec.Decompress(framed)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if string(got) != string(original) {
		t.Fatalf("round trip mismatch: got %q want %q", got, original)
	}
}

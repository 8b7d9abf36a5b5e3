package importer

import (
	"bytes"
	"testing"

	"github.com/spaghettifunk/oxygen/engine/pak"
)

func TestTextureEmitterFallbackRow(t *testing.T) {
	e := NewTextureEmitter()
	if e.Count() != 1 {
		t.Fatalf("fresh emitter has %d rows, want the fallback row only", e.Count())
	}
	row := e.Entries()[0]
	if row.Width != 1 || row.Height != 1 || row.SizeBytes != 4 {
		t.Fatalf("fallback row = %+v", row)
	}
	if !bytes.Equal(e.DataBytes(), FallbackTexturePayload) {
		t.Fatalf("fallback payload = %x", e.DataBytes())
	}
}

func TestTextureEmitterDedup(t *testing.T) {
	e := NewTextureEmitter()
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	desc := pak.TextureResourceDesc{Width: 2, Height: 1, Depth: 1, ArraySize: 1, MipCount: 1}

	first, deduped := e.Emit(payload, desc)
	if deduped || first != 1 {
		t.Fatalf("first emit: row %d deduped %v", first, deduped)
	}
	again, deduped := e.Emit(payload, desc)
	if !deduped || again != first {
		t.Fatalf("duplicate emit: row %d deduped %v", again, deduped)
	}
	other, deduped := e.Emit([]byte{9, 9, 9, 9}, desc)
	if deduped || other != 2 {
		t.Fatalf("distinct emit: row %d deduped %v", other, deduped)
	}
	if e.Count() != 3 {
		t.Fatalf("count = %d, want 3", e.Count())
	}

	// Data offsets chain in emit order.
	entries := e.Entries()
	if entries[1].DataOffset != 4 || entries[2].DataOffset != 12 {
		t.Fatalf("offsets = %d, %d", entries[1].DataOffset, entries[2].DataOffset)
	}

	table := e.TableBytes()
	if len(table) != 3*pak.TextureDescSize {
		t.Fatalf("table is %d bytes", len(table))
	}
	decoded, err := pak.DecodeTextureDesc(table[pak.TextureDescSize:])
	if err != nil {
		t.Fatalf("DecodeTextureDesc: %v", err)
	}
	if decoded.SizeBytes != 8 || decoded.DataOffset != 4 || decoded.Width != 2 {
		t.Fatalf("decoded row 1 = %+v", decoded)
	}
}

func TestBufferEmitterSentinelAndDedup(t *testing.T) {
	e := NewBufferEmitter()
	if e.Count() != 1 {
		t.Fatalf("fresh emitter has %d rows, want the sentinel only", e.Count())
	}
	if sentinel := e.Entries()[0]; sentinel.SizeBytes != 0 {
		t.Fatalf("sentinel = %+v", sentinel)
	}

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	row, deduped := e.Emit(payload, pak.BufferResourceDesc{ElementStride: 4})
	if deduped || row != 1 {
		t.Fatalf("first emit: row %d deduped %v", row, deduped)
	}
	again, deduped := e.Emit(payload, pak.BufferResourceDesc{ElementStride: 4})
	if !deduped || again != 1 {
		t.Fatalf("duplicate emit: row %d deduped %v", again, deduped)
	}
	if !bytes.Equal(e.DataBytes(), payload) {
		t.Fatalf("data blob = %x", e.DataBytes())
	}
}

func TestEmitterDomainsAreSeparated(t *testing.T) {
	payload := []byte{10, 20, 30, 40}
	te := NewTextureEmitter()
	be := NewBufferEmitter()
	trow, _ := te.Emit(payload, pak.TextureResourceDesc{Width: 1, Height: 1, Depth: 1, ArraySize: 1, MipCount: 1})
	brow, _ := be.Emit(payload, pak.BufferResourceDesc{})
	if trow != 1 || brow != 1 {
		t.Fatalf("rows = %d, %d", trow, brow)
	}
	// Same bytes land as fresh rows in both tables; neither dedups
	// against the other's signature space.
	if te.Count() != 2 || be.Count() != 2 {
		t.Fatalf("counts = %d, %d", te.Count(), be.Count())
	}
}

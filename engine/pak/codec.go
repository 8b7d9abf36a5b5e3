package pak

import (
	"encoding/binary"
	"fmt"
	"math"
)

// writer appends packed little-endian fields to a byte slice. The pak
// and loose-index formats are 1-byte aligned, so struct marshaling is
// done field by field instead of through unsafe casts.
type writer struct {
	buf []byte
}

func newWriter(capacity int) *writer {
	return &writer{buf: make([]byte, 0, capacity)}
}

func (w *writer) Bytes() []byte { return w.buf }

func (w *writer) U8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) U16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) U32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *writer) U64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *writer) F32(v float32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
}

func (w *writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) Zero(n int) {
	w.buf = append(w.buf, make([]byte, n)...)
}

// FixedString writes s NUL-padded to size bytes. Longer strings are
// truncated; the last byte always stays NUL so readers can rely on
// termination.
func (w *writer) FixedString(s string, size int) {
	b := make([]byte, size)
	copy(b[:size-1], s)
	w.buf = append(w.buf, b...)
}

// reader consumes packed little-endian fields from a byte slice. Reads
// past the end set an error instead of panicking; callers check Err once
// after a run of reads.
type reader struct {
	buf []byte
	off int
	err error
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) Err() error { return r.err }

func (r *reader) fail(n int) bool {
	if r.err != nil {
		return true
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("truncated record: need %d bytes at offset %d, have %d", n, r.off, len(r.buf)-r.off)
		return true
	}
	return false
}

func (r *reader) U8() uint8 {
	if r.fail(1) {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) U16() uint16 {
	if r.fail(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) U32() uint32 {
	if r.fail(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) U64() uint64 {
	if r.fail(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) F32() float32 {
	return math.Float32frombits(r.U32())
}

func (r *reader) Raw(n int) []byte {
	if r.fail(n) {
		return nil
	}
	v := r.buf[r.off : r.off+n]
	r.off += n
	return v
}

func (r *reader) Skip(n int) {
	if r.fail(n) {
		return
	}
	r.off += n
}

// FixedString reads a NUL-padded string of size bytes and trims the
// padding.
func (r *reader) FixedString(size int) string {
	b := r.Raw(size)
	if b == nil {
		return ""
	}
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

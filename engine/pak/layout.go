package pak

import (
	"bytes"
	"fmt"
)

// EncodeHeader produces the 64-byte pak header.
func EncodeHeader(h *Header) []byte {
	w := newWriter(HeaderSize)
	w.Raw([]byte(HeaderMagic))
	w.U16(h.Version)
	w.U16(h.ContentVersion)
	w.Zero(52)
	return w.Bytes()
}

// DecodeHeader validates the magic and version of a 64-byte header.
func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("pak header truncated: %d bytes", len(buf))
	}
	if !bytes.Equal(buf[:8], []byte(HeaderMagic)) {
		return nil, fmt.Errorf("bad pak magic %q", buf[:8])
	}
	r := newReader(buf[8:HeaderSize])
	h := &Header{}
	h.Version = r.U16()
	h.ContentVersion = r.U16()
	if h.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported pak version %d, expected %d", h.Version, FormatVersion)
	}
	return h, nil
}

func encodeRegion(w *writer, rr ResourceRegion) {
	w.U64(rr.Offset)
	w.U64(rr.Size)
}

func decodeRegion(r *reader) ResourceRegion {
	return ResourceRegion{Offset: r.U64(), Size: r.U64()}
}

func encodeTableRef(w *writer, tr ResourceTableRef) {
	w.U64(tr.Offset)
	w.U32(tr.Count)
	w.U32(tr.EntrySize)
}

func decodeTableRef(r *reader) ResourceTableRef {
	return ResourceTableRef{Offset: r.U64(), Count: r.U32(), EntrySize: r.U32()}
}

// EncodeFooter produces the 256-byte pak footer.
func EncodeFooter(f *Footer) []byte {
	w := newWriter(FooterSize)
	w.U64(f.DirectoryOffset)
	w.U64(f.DirectorySize)
	w.U64(f.AssetCount)
	encodeRegion(w, f.TextureRegion)
	encodeRegion(w, f.BufferRegion)
	encodeRegion(w, f.AudioRegion)
	encodeTableRef(w, f.TextureTable)
	encodeTableRef(w, f.BufferTable)
	encodeTableRef(w, f.AudioTable)
	w.Raw(f.SourceKey[:])
	w.Zero(124 - 16)
	w.U32(f.CRC32)
	w.Raw([]byte(FooterMagic))
	return w.Bytes()
}

// DecodeFooter validates the footer magic and parses the 256-byte footer.
func DecodeFooter(buf []byte) (*Footer, error) {
	if len(buf) < FooterSize {
		return nil, fmt.Errorf("pak footer truncated: %d bytes", len(buf))
	}
	if !bytes.Equal(buf[FooterSize-8:FooterSize], []byte(FooterMagic)) {
		return nil, fmt.Errorf("bad pak footer magic %q", buf[FooterSize-8:FooterSize])
	}
	r := newReader(buf[:FooterSize])
	f := &Footer{}
	f.DirectoryOffset = r.U64()
	f.DirectorySize = r.U64()
	f.AssetCount = r.U64()
	f.TextureRegion = decodeRegion(r)
	f.BufferRegion = decodeRegion(r)
	f.AudioRegion = decodeRegion(r)
	f.TextureTable = decodeTableRef(r)
	f.BufferTable = decodeTableRef(r)
	f.AudioTable = decodeTableRef(r)
	copy(f.SourceKey[:], r.Raw(16))
	r.Skip(124 - 16)
	f.CRC32 = r.U32()
	return f, r.Err()
}

// EncodeDirectoryEntry appends one 64-byte directory entry to dst.
func EncodeDirectoryEntry(dst []byte, e *DirectoryEntry) []byte {
	w := &writer{buf: dst}
	w.Raw(e.AssetKey[:])
	w.U8(uint8(e.AssetType))
	w.U64(e.EntryOffset)
	w.U64(e.DescOffset)
	w.U32(e.DescSize)
	w.Zero(27)
	return w.buf
}

// DecodeDirectoryEntry parses one 64-byte directory entry.
func DecodeDirectoryEntry(buf []byte) (DirectoryEntry, error) {
	var e DirectoryEntry
	if len(buf) < DirectoryEntrySize {
		return e, fmt.Errorf("directory entry too small: %d bytes", len(buf))
	}
	r := newReader(buf[:DirectoryEntrySize])
	copy(e.AssetKey[:], r.Raw(16))
	e.AssetType = AssetType(r.U8())
	e.EntryOffset = r.U64()
	e.DescOffset = r.U64()
	e.DescSize = r.U32()
	return e, r.Err()
}

package pak

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/spaghettifunk/oxygen/engine/core"
)

// File is a validated, opened pak container. Lookups are served from an
// in-memory copy of the directory; descriptor and resource bytes are read
// from the file on demand through independent section readers.
type File struct {
	path   string
	size   int64
	header Header
	footer Footer

	entries  map[core.AssetKey]DirectoryEntry
	paths    map[core.AssetKey]string
	ordered  []DirectoryEntry
	textures []TextureResourceDesc
	buffers  []BufferResourceDesc
}

// Open reads and validates a pak file. Every structural invariant is
// checked eagerly: magic bytes, version, GUID, section bounds, table
// entry sizes and the CRC when one is stored. A file that fails any
// check is rejected with ErrValidation and no state is retained.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pak %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat pak %s: %w", path, err)
	}
	size := st.Size()
	if size < HeaderSize+FooterSize {
		return nil, fmt.Errorf("%w: pak %s is %d bytes, smaller than header+footer", core.ErrValidation, path, size)
	}

	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, headerBuf); err != nil {
		return nil, fmt.Errorf("reading pak header: %w", err)
	}
	header, err := DecodeHeader(headerBuf)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrValidation, path, err)
	}

	footerBuf := make([]byte, FooterSize)
	if _, err := f.ReadAt(footerBuf, size-FooterSize); err != nil {
		return nil, fmt.Errorf("reading pak footer: %w", err)
	}
	footer, err := DecodeFooter(footerBuf)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrValidation, path, err)
	}

	pf := &File{
		path:    path,
		size:    size,
		header:  *header,
		footer:  *footer,
		entries: make(map[core.AssetKey]DirectoryEntry),
		paths:   make(map[core.AssetKey]string),
	}
	if err := pf.validateLayout(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrValidation, path, err)
	}

	// The stored CRC covers everything before the crc field itself.
	// Zero means the packer skipped integrity hashing; tolerated.
	if footer.CRC32 != 0 {
		if err := verifyCRC(f, size, footer.CRC32); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", core.ErrValidation, path, err)
		}
	}

	if err := pf.loadDirectory(f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrValidation, path, err)
	}
	if err := pf.loadTables(f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrValidation, path, err)
	}
	return pf, nil
}

func verifyCRC(f *os.File, size int64, want uint32) error {
	h := crc32.NewIEEE()
	if _, err := io.Copy(h, io.NewSectionReader(f, 0, size-12)); err != nil {
		return fmt.Errorf("hashing pak: %w", err)
	}
	if got := h.Sum32(); got != want {
		return fmt.Errorf("pak crc mismatch: stored %08x, computed %08x", want, got)
	}
	return nil
}

func (pf *File) sectionInBounds(offset, size uint64) bool {
	end := offset + size
	return end >= offset && end <= uint64(pf.size)-FooterSize && (size == 0 || offset >= HeaderSize)
}

func (pf *File) validateLayout() error {
	if pf.footer.SourceKey == ([16]byte{}) {
		return fmt.Errorf("pak source key is zero")
	}
	ft := &pf.footer
	if ft.DirectorySize != ft.AssetCount*DirectoryEntrySize {
		return fmt.Errorf("directory size %d does not match %d entries", ft.DirectorySize, ft.AssetCount)
	}
	if !pf.sectionInBounds(ft.DirectoryOffset, ft.DirectorySize) {
		return fmt.Errorf("directory section out of bounds")
	}
	for _, rr := range []struct {
		name   string
		region ResourceRegion
	}{
		{"texture", ft.TextureRegion},
		{"buffer", ft.BufferRegion},
		{"audio", ft.AudioRegion},
	} {
		if !pf.sectionInBounds(rr.region.Offset, rr.region.Size) {
			return fmt.Errorf("%s region out of bounds", rr.name)
		}
	}
	for _, tr := range []struct {
		name      string
		table     ResourceTableRef
		entrySize uint32
	}{
		{"texture", ft.TextureTable, TextureDescSize},
		{"buffer", ft.BufferTable, BufferDescSize},
		{"audio", ft.AudioTable, AudioDescSize},
	} {
		if tr.table.Count == 0 {
			continue
		}
		if tr.table.EntrySize != tr.entrySize {
			return fmt.Errorf("%s table entry size %d, expected %d", tr.name, tr.table.EntrySize, tr.entrySize)
		}
		if !pf.sectionInBounds(tr.table.Offset, uint64(tr.table.Count)*uint64(tr.table.EntrySize)) {
			return fmt.Errorf("%s table out of bounds", tr.name)
		}
	}
	return nil
}

func (pf *File) loadDirectory(f *os.File) error {
	buf := make([]byte, pf.footer.DirectorySize)
	if _, err := f.ReadAt(buf, int64(pf.footer.DirectoryOffset)); err != nil {
		return fmt.Errorf("reading directory: %w", err)
	}
	for i := uint64(0); i < pf.footer.AssetCount; i++ {
		entry, err := DecodeDirectoryEntry(buf[i*DirectoryEntrySize:])
		if err != nil {
			return err
		}
		if !ValidAssetType(entry.AssetType) {
			return fmt.Errorf("directory entry %d has unknown asset type %d", i, entry.AssetType)
		}
		if !pf.sectionInBounds(entry.DescOffset, uint64(entry.DescSize)) {
			return fmt.Errorf("directory entry %d descriptor out of bounds", i)
		}
		key := core.AssetKey(entry.AssetKey)
		if _, dup := pf.entries[key]; dup {
			return fmt.Errorf("duplicate asset key %s in directory", key)
		}
		pf.entries[key] = entry
		pf.ordered = append(pf.ordered, entry)
		if entry.EntryOffset != 0 {
			vp, err := pf.readCString(f, entry.EntryOffset)
			if err != nil {
				return fmt.Errorf("directory entry %d virtual path: %w", i, err)
			}
			pf.paths[key] = vp
		}
	}
	return nil
}

func (pf *File) readCString(f *os.File, offset uint64) (string, error) {
	if offset >= uint64(pf.size) {
		return "", fmt.Errorf("string offset %d out of bounds", offset)
	}
	var out []byte
	buf := make([]byte, 256)
	for pos := int64(offset); pos < pf.size; pos += int64(len(buf)) {
		n, err := f.ReadAt(buf, pos)
		if n == 0 && err != nil {
			return "", err
		}
		for i := 0; i < n; i++ {
			if buf[i] == 0 {
				return string(append(out, buf[:i]...)), nil
			}
		}
		out = append(out, buf[:n]...)
	}
	return "", fmt.Errorf("unterminated string at offset %d", offset)
}

func (pf *File) loadTables(f *os.File) error {
	if n := pf.footer.TextureTable.Count; n > 0 {
		buf := make([]byte, uint64(n)*TextureDescSize)
		if _, err := f.ReadAt(buf, int64(pf.footer.TextureTable.Offset)); err != nil {
			return fmt.Errorf("reading texture table: %w", err)
		}
		pf.textures = make([]TextureResourceDesc, n)
		for i := uint32(0); i < n; i++ {
			d, err := DecodeTextureDesc(buf[uint64(i)*TextureDescSize:])
			if err != nil {
				return err
			}
			if d.SizeBytes != 0 && uint64(d.DataOffset)+uint64(d.SizeBytes) > pf.footer.TextureRegion.Size {
				return fmt.Errorf("texture table entry %d exceeds texture region", i)
			}
			pf.textures[i] = d
		}
	}
	if n := pf.footer.BufferTable.Count; n > 0 {
		buf := make([]byte, uint64(n)*BufferDescSize)
		if _, err := f.ReadAt(buf, int64(pf.footer.BufferTable.Offset)); err != nil {
			return fmt.Errorf("reading buffer table: %w", err)
		}
		pf.buffers = make([]BufferResourceDesc, n)
		for i := uint32(0); i < n; i++ {
			d, err := DecodeBufferDesc(buf[uint64(i)*BufferDescSize:])
			if err != nil {
				return err
			}
			if d.SizeBytes != 0 && uint64(d.DataOffset)+uint64(d.SizeBytes) > pf.footer.BufferRegion.Size {
				return fmt.Errorf("buffer table entry %d exceeds buffer region", i)
			}
			pf.buffers[i] = d
		}
	}
	return nil
}

func (pf *File) Path() string               { return pf.path }
func (pf *File) Header() Header             { return pf.header }
func (pf *File) Footer() Footer             { return pf.footer }
func (pf *File) AssetCount() int            { return len(pf.ordered) }
func (pf *File) Entries() []DirectoryEntry  { return pf.ordered }

// SourceKey returns the container GUID stored in the footer.
func (pf *File) SourceKey() core.SourceKey {
	return core.SourceKey(pf.footer.SourceKey)
}

// FindEntry looks up a directory entry by asset key.
func (pf *File) FindEntry(key core.AssetKey) (DirectoryEntry, bool) {
	e, ok := pf.entries[key]
	return e, ok
}

// VirtualPath returns the recorded virtual path of an asset, if any.
func (pf *File) VirtualPath(key core.AssetKey) (string, bool) {
	vp, ok := pf.paths[key]
	return vp, ok
}

// TextureTable returns the decoded texture table entries.
func (pf *File) TextureTable() []TextureResourceDesc { return pf.textures }

// BufferTable returns the decoded buffer table entries.
func (pf *File) BufferTable() []BufferResourceDesc { return pf.buffers }

// SectionReader opens an independent reader over [offset, offset+size).
// Each call opens its own file handle so readers never interfere; the
// caller must Close it.
func (pf *File) SectionReader(offset, size uint64) (*io.SectionReader, io.Closer, error) {
	f, err := os.Open(pf.path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening pak section: %w", err)
	}
	return io.NewSectionReader(f, int64(offset), int64(size)), f, nil
}

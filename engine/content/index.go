package content

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/spaghettifunk/oxygen/engine/core"
	"github.com/spaghettifunk/oxygen/engine/pak"
)

// Binary layout of the loose-cooked index, container.index.bin. Same
// conventions as the pak: little-endian, 1-byte packed, fixed record
// sizes that must match exactly.

const (
	// IndexFileName is the index file inside every loose cooked root.
	IndexFileName = "container.index.bin"

	// IndexMagic is the sibling of the pak magic.
	IndexMagic = "OXIDX\x00\x00\x00"

	IndexVersion uint16 = 1

	IndexHeaderSize = 80
	AssetEntrySize  = 61
	FileRecordSize  = 45
)

// Index header flag bits. Zero is tolerated as a legacy encoding; any
// bit outside the known set fails validation.
const (
	IndexFlagHasVirtualPaths uint32 = 1 << 0
	IndexFlagHasFileRecords  uint32 = 1 << 1

	indexKnownFlags = IndexFlagHasVirtualPaths | IndexFlagHasFileRecords
)

// FileKind identifies one of the bulk files a loose container may carry.
type FileKind uint8

const (
	FileKindBuffersTable FileKind = iota + 1
	FileKindBuffersData
	FileKindTexturesTable
	FileKindTexturesData
)

func (k FileKind) String() string {
	switch k {
	case FileKindBuffersTable:
		return "buffers.table"
	case FileKindBuffersData:
		return "buffers.data"
	case FileKindTexturesTable:
		return "textures.table"
	case FileKindTexturesData:
		return "textures.data"
	default:
		return "unknown"
	}
}

// AssetEntry is one asset record of the loose index. 61 bytes on disk.
type AssetEntry struct {
	Key            core.AssetKey
	DescriptorPath string
	VirtualPath    string
	DescriptorSize uint32
	AssetType      pak.AssetType
	// Zero when hashing was disabled; readers skip the check then.
	DescriptorSHA256 [32]byte
}

// FileRecord is one bulk-file record of the loose index. 45 bytes on
// disk.
type FileRecord struct {
	Kind    FileKind
	RelPath string
	Size    uint64
	SHA256  [32]byte
}

// Index is the parsed form of container.index.bin.
type Index struct {
	SourceKey      core.SourceKey
	ContentVersion uint16
	Assets         []AssetEntry
	Files          []FileRecord
}

// FindFile returns the record for a file kind, if present.
func (ix *Index) FindFile(kind FileKind) (FileRecord, bool) {
	for _, fr := range ix.Files {
		if fr.Kind == kind {
			return fr, true
		}
	}
	return FileRecord{}, false
}

// stringTable interns strings, reserving offset 0 for the empty string.
type stringTable struct {
	buf     []byte
	offsets map[string]uint32
}

func newStringTable() *stringTable {
	return &stringTable{
		buf:     []byte{0},
		offsets: map[string]uint32{"": 0},
	}
}

func (st *stringTable) intern(s string) uint32 {
	if off, ok := st.offsets[s]; ok {
		return off
	}
	off := uint32(len(st.buf))
	st.buf = append(st.buf, s...)
	st.buf = append(st.buf, 0)
	st.offsets[s] = off
	return off
}

// EncodeIndex serializes an index. Layout: header | string table |
// asset entries | file records.
func EncodeIndex(ix *Index) ([]byte, error) {
	if ix.SourceKey.IsZero() {
		return nil, fmt.Errorf("%w: index requires a non-zero source key", core.ErrValidation)
	}

	st := newStringTable()
	type rawAsset struct {
		entry       AssetEntry
		descOffset  uint32
		vpathOffset uint32
	}
	rawAssets := make([]rawAsset, 0, len(ix.Assets))
	for _, a := range ix.Assets {
		rawAssets = append(rawAssets, rawAsset{
			entry:       a,
			descOffset:  st.intern(a.DescriptorPath),
			vpathOffset: st.intern(a.VirtualPath),
		})
	}
	fileOffsets := make([]uint32, len(ix.Files))
	for i, fr := range ix.Files {
		fileOffsets[i] = st.intern(fr.RelPath)
	}
	if len(st.buf) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: string table too large", core.ErrValidation)
	}

	flags := IndexFlagHasVirtualPaths | IndexFlagHasFileRecords

	stringTableOffset := uint64(IndexHeaderSize)
	assetEntriesOffset := stringTableOffset + uint64(len(st.buf))
	fileRecordsOffset := assetEntriesOffset + uint64(len(ix.Assets))*AssetEntrySize

	out := make([]byte, 0, int(fileRecordsOffset)+len(ix.Files)*FileRecordSize)
	le := binary.LittleEndian
	out = append(out, IndexMagic...)
	out = le.AppendUint16(out, IndexVersion)
	out = le.AppendUint32(out, flags)
	out = append(out, ix.SourceKey[:]...)
	out = le.AppendUint16(out, ix.ContentVersion)
	out = le.AppendUint64(out, stringTableOffset)
	out = le.AppendUint64(out, uint64(len(st.buf)))
	out = le.AppendUint64(out, assetEntriesOffset)
	out = le.AppendUint32(out, uint32(len(ix.Assets)))
	out = le.AppendUint32(out, AssetEntrySize)
	out = le.AppendUint64(out, fileRecordsOffset)
	out = le.AppendUint32(out, uint32(len(ix.Files)))
	out = le.AppendUint32(out, FileRecordSize)
	if len(out) != IndexHeaderSize {
		return nil, fmt.Errorf("index header layout drifted: %d bytes", len(out))
	}

	out = append(out, st.buf...)

	for _, ra := range rawAssets {
		out = append(out, ra.entry.Key[:]...)
		out = le.AppendUint32(out, ra.descOffset)
		out = le.AppendUint32(out, ra.vpathOffset)
		out = le.AppendUint32(out, ra.entry.DescriptorSize)
		out = append(out, byte(ra.entry.AssetType))
		out = append(out, ra.entry.DescriptorSHA256[:]...)
	}
	for i, fr := range ix.Files {
		out = append(out, byte(fr.Kind))
		out = le.AppendUint32(out, fileOffsets[i])
		out = le.AppendUint64(out, fr.Size)
		out = append(out, fr.SHA256[:]...)
	}
	return out, nil
}

// DecodeIndex parses and semantically validates container.index.bin.
// Validation here is identical for both container forms: unique keys,
// unique virtual paths, path shape rules, table/data pairing.
func DecodeIndex(buf []byte) (*Index, error) {
	fail := func(format string, args ...interface{}) (*Index, error) {
		return nil, fmt.Errorf("%w: index: %s", core.ErrValidation, fmt.Sprintf(format, args...))
	}

	if len(buf) < IndexHeaderSize {
		return fail("truncated header: %d bytes", len(buf))
	}
	if !bytes.Equal(buf[:8], []byte(IndexMagic)) {
		return fail("bad magic %q", buf[:8])
	}
	le := binary.LittleEndian
	version := le.Uint16(buf[8:])
	if version != IndexVersion {
		return fail("unsupported version %d", version)
	}
	flags := le.Uint32(buf[10:])
	if flags&^indexKnownFlags != 0 {
		return fail("unknown flag bits %#x", flags&^indexKnownFlags)
	}

	ix := &Index{}
	copy(ix.SourceKey[:], buf[14:30])
	if ix.SourceKey.IsZero() {
		return fail("source key is zero")
	}
	ix.ContentVersion = le.Uint16(buf[30:])

	stringTableOffset := le.Uint64(buf[32:])
	stringTableSize := le.Uint64(buf[40:])
	assetEntriesOffset := le.Uint64(buf[48:])
	assetCount := le.Uint32(buf[56:])
	assetEntrySize := le.Uint32(buf[60:])
	fileRecordsOffset := le.Uint64(buf[64:])
	fileCount := le.Uint32(buf[72:])
	fileRecordSize := le.Uint32(buf[76:])

	if assetEntrySize != AssetEntrySize {
		return fail("asset entry size %d, expected %d", assetEntrySize, AssetEntrySize)
	}
	if fileRecordSize != FileRecordSize {
		return fail("file record size %d, expected %d", fileRecordSize, FileRecordSize)
	}
	// Each offset/size pair is bounded against the file before any sum,
	// so corrupt values cannot wrap uint64 past the checks below.
	fileLen := uint64(len(buf))
	inBounds := func(off, size uint64) bool {
		return off <= fileLen && size <= fileLen-off
	}
	if stringTableOffset < IndexHeaderSize {
		return fail("string table overlaps header")
	}
	if !inBounds(stringTableOffset, stringTableSize) {
		return fail("string table exceeds file size")
	}
	assetBytes := uint64(assetCount) * AssetEntrySize
	if !inBounds(assetEntriesOffset, assetBytes) {
		return fail("asset entries exceed file size")
	}
	if assetEntriesOffset < stringTableOffset+stringTableSize {
		return fail("asset entries overlap string table")
	}
	fileBytes := uint64(fileCount) * FileRecordSize
	if !inBounds(fileRecordsOffset, fileBytes) {
		return fail("file records exceed file size")
	}
	if fileRecordsOffset < assetEntriesOffset+assetBytes {
		return fail("file records overlap asset entries")
	}
	if stringTableSize == 0 || buf[stringTableOffset] != 0 {
		return fail("string table must start with a NUL sentinel")
	}

	strTab := buf[stringTableOffset : stringTableOffset+stringTableSize]
	readString := func(off uint32) (string, error) {
		if uint64(off) >= stringTableSize {
			return "", fmt.Errorf("string offset %d out of range", off)
		}
		rest := strTab[off:]
		i := bytes.IndexByte(rest, 0)
		if i < 0 {
			return "", fmt.Errorf("unterminated string at offset %d", off)
		}
		return string(rest[:i]), nil
	}

	seenKeys := make(map[core.AssetKey]struct{}, assetCount)
	seenPaths := make(map[string]struct{}, assetCount)
	for i := uint32(0); i < assetCount; i++ {
		rec := buf[assetEntriesOffset+uint64(i)*AssetEntrySize:]
		var a AssetEntry
		copy(a.Key[:], rec[:16])
		descOff := le.Uint32(rec[16:])
		vpathOff := le.Uint32(rec[20:])
		a.DescriptorSize = le.Uint32(rec[24:])
		a.AssetType = pak.AssetType(rec[28])
		copy(a.DescriptorSHA256[:], rec[29:61])

		var err error
		if a.DescriptorPath, err = readString(descOff); err != nil {
			return fail("asset %d: %v", i, err)
		}
		if a.VirtualPath, err = readString(vpathOff); err != nil {
			return fail("asset %d: %v", i, err)
		}
		if a.Key.IsZero() {
			return fail("asset %d has a zero key", i)
		}
		if !pak.ValidAssetType(a.AssetType) {
			return fail("asset %d has unknown type %d", i, a.AssetType)
		}
		if err := ValidateRelPath(a.DescriptorPath); err != nil {
			return fail("asset %d: %v", i, err)
		}
		if flags&IndexFlagHasVirtualPaths != 0 || a.VirtualPath != "" {
			if err := ValidateVirtualPath(a.VirtualPath); err != nil {
				return fail("asset %d: %v", i, err)
			}
			if _, dup := seenPaths[a.VirtualPath]; dup {
				return fail("duplicate virtual path %q", a.VirtualPath)
			}
			seenPaths[a.VirtualPath] = struct{}{}
		}
		if _, dup := seenKeys[a.Key]; dup {
			return fail("duplicate asset key %s", a.Key)
		}
		seenKeys[a.Key] = struct{}{}
		ix.Assets = append(ix.Assets, a)
	}

	seenKinds := make(map[FileKind]struct{}, fileCount)
	for i := uint32(0); i < fileCount; i++ {
		rec := buf[fileRecordsOffset+uint64(i)*FileRecordSize:]
		var fr FileRecord
		fr.Kind = FileKind(rec[0])
		relOff := le.Uint32(rec[1:])
		fr.Size = le.Uint64(rec[5:])
		copy(fr.SHA256[:], rec[13:45])

		if fr.Kind < FileKindBuffersTable || fr.Kind > FileKindTexturesData {
			return fail("file record %d has unknown kind %d", i, fr.Kind)
		}
		if _, dup := seenKinds[fr.Kind]; dup {
			return fail("duplicate file record for %s", fr.Kind)
		}
		seenKinds[fr.Kind] = struct{}{}

		var err error
		if fr.RelPath, err = readString(relOff); err != nil {
			return fail("file record %d: %v", i, err)
		}
		if err := ValidateRelPath(fr.RelPath); err != nil {
			return fail("file record %d: %v", i, err)
		}
		ix.Files = append(ix.Files, fr)
	}

	if err := validateFilePairs(ix); err != nil {
		return nil, err
	}
	return ix, nil
}

// validateFilePairs checks that table and data files come in pairs.
func validateFilePairs(ix *Index) error {
	pairs := []struct {
		table FileKind
		data  FileKind
	}{
		{FileKindBuffersTable, FileKindBuffersData},
		{FileKindTexturesTable, FileKindTexturesData},
	}
	for _, p := range pairs {
		_, hasTable := ix.FindFile(p.table)
		_, hasData := ix.FindFile(p.data)
		if hasTable != hasData {
			return fmt.Errorf("%w: loose cooked index must provide both %s and %s", core.ErrValidation, p.table, p.data)
		}
	}
	return nil
}

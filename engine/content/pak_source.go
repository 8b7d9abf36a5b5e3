package content

import (
	"fmt"
	"path/filepath"

	"github.com/spaghettifunk/oxygen/engine/core"
	"github.com/spaghettifunk/oxygen/engine/pak"
)

// PakSource serves a cooked container from a single .pak file.
type PakSource struct {
	file      *pak.File
	debugName string
}

// OpenPakSource opens and validates a pak container. The pak reader
// performs the full structural validation; a source is only returned
// for a fully valid file.
func OpenPakSource(path string) (*PakSource, error) {
	pf, err := pak.Open(path)
	if err != nil {
		return nil, err
	}
	return &PakSource{
		file:      pf,
		debugName: fmt.Sprintf("pak:%s", filepath.Base(path)),
	}, nil
}

func (ps *PakSource) DebugName() string {
	return ps.debugName
}

func (ps *PakSource) SourceKey() core.SourceKey {
	return ps.file.SourceKey()
}

func (ps *PakSource) FindAsset(key core.AssetKey) (AssetLocator, bool) {
	entry, ok := ps.file.FindEntry(key)
	if !ok {
		return AssetLocator{}, false
	}
	return AssetLocator{
		Key:            key,
		AssetType:      entry.AssetType,
		DescriptorSize: entry.DescSize,
		Kind:           LocatorPakOffset,
		PakOffset:      entry.DescOffset,
	}, true
}

func (ps *PakSource) CreateAssetDescriptorReader(loc AssetLocator) (Reader, error) {
	if loc.Kind != LocatorPakOffset {
		return nil, fmt.Errorf("%w: locator does not point into a pak", core.ErrInvalidRequest)
	}
	return ps.section(loc.PakOffset, uint64(loc.DescriptorSize))
}

func (ps *PakSource) BufferTable() *ResourceTableInfo {
	t := ps.file.Footer().BufferTable
	if t.Count == 0 {
		return nil
	}
	return &ResourceTableInfo{Count: t.Count, EntrySize: t.EntrySize}
}

func (ps *PakSource) TextureTable() *ResourceTableInfo {
	t := ps.file.Footer().TextureTable
	if t.Count == 0 {
		return nil
	}
	return &ResourceTableInfo{Count: t.Count, EntrySize: t.EntrySize}
}

func (ps *PakSource) CreateBufferTableReader() (Reader, error) {
	t := ps.file.Footer().BufferTable
	if t.Count == 0 {
		return nil, fmt.Errorf("%w: pak has no buffer table", core.ErrInvalidRequest)
	}
	return ps.section(t.Offset, uint64(t.Count)*uint64(t.EntrySize))
}

func (ps *PakSource) CreateTextureTableReader() (Reader, error) {
	t := ps.file.Footer().TextureTable
	if t.Count == 0 {
		return nil, fmt.Errorf("%w: pak has no texture table", core.ErrInvalidRequest)
	}
	return ps.section(t.Offset, uint64(t.Count)*uint64(t.EntrySize))
}

func (ps *PakSource) CreateBufferDataReader() (Reader, error) {
	r := ps.file.Footer().BufferRegion
	return ps.section(r.Offset, r.Size)
}

func (ps *PakSource) CreateTextureDataReader() (Reader, error) {
	r := ps.file.Footer().TextureRegion
	return ps.section(r.Offset, r.Size)
}

func (ps *PakSource) section(offset, size uint64) (Reader, error) {
	rs, closer, err := ps.file.SectionReader(offset, size)
	if err != nil {
		return nil, err
	}
	return &sectionReader{SectionReader: rs, closer: closer}, nil
}

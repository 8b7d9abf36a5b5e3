package content

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spaghettifunk/oxygen/engine/core"
	"github.com/spaghettifunk/oxygen/engine/pak"
)

// LooseSource serves a cooked container from a loose directory holding
// container.index.bin plus the descriptor and bulk files it references.
type LooseSource struct {
	root      string
	debugName string
	index     *Index
	assets    map[core.AssetKey]AssetEntry

	bufferTable  *ResourceTableInfo
	textureTable *ResourceTableInfo
}

// OpenLooseSource reads and validates a loose cooked container. Every
// file the index references must exist at the advertised size, and any
// non-zero stored SHA-256 must match the on-disk bytes.
func OpenLooseSource(root string) (*LooseSource, error) {
	indexPath := filepath.Join(root, IndexFileName)
	raw, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", indexPath, err)
	}
	ix, err := DecodeIndex(raw)
	if err != nil {
		return nil, err
	}

	ls := &LooseSource{
		root:      root,
		debugName: fmt.Sprintf("loose:%s", filepath.Base(root)),
		index:     ix,
		assets:    make(map[core.AssetKey]AssetEntry, len(ix.Assets)),
	}

	for _, a := range ix.Assets {
		path := filepath.Join(root, filepath.FromSlash(a.DescriptorPath))
		if err := verifyFile(path, uint64(a.DescriptorSize), a.DescriptorSHA256); err != nil {
			return nil, fmt.Errorf("%w: asset %s: %v", core.ErrValidation, a.Key, err)
		}
		ls.assets[a.Key] = a
	}
	for _, fr := range ix.Files {
		path := filepath.Join(root, filepath.FromSlash(fr.RelPath))
		if err := verifyFile(path, fr.Size, fr.SHA256); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", core.ErrValidation, fr.Kind, err)
		}
	}

	if fr, ok := ix.FindFile(FileKindBuffersTable); ok {
		if fr.Size%pak.BufferDescSize != 0 {
			return nil, fmt.Errorf("%w: buffers.table size %d is not a multiple of %d", core.ErrValidation, fr.Size, pak.BufferDescSize)
		}
		ls.bufferTable = &ResourceTableInfo{Count: uint32(fr.Size / pak.BufferDescSize), EntrySize: pak.BufferDescSize}
	}
	if fr, ok := ix.FindFile(FileKindTexturesTable); ok {
		if fr.Size%pak.TextureDescSize != 0 {
			return nil, fmt.Errorf("%w: textures.table size %d is not a multiple of %d", core.ErrValidation, fr.Size, pak.TextureDescSize)
		}
		ls.textureTable = &ResourceTableInfo{Count: uint32(fr.Size / pak.TextureDescSize), EntrySize: pak.TextureDescSize}
	}
	return ls, nil
}

// verifyFile checks size and, when a non-zero hash is stored, SHA-256.
func verifyFile(path string, size uint64, sum [32]byte) error {
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("missing file: %v", err)
	}
	if uint64(st.Size()) != size {
		return fmt.Errorf("file %s is %d bytes, index says %d", path, st.Size(), size)
	}
	if sum == ([32]byte{}) {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	var got [32]byte
	copy(got[:], h.Sum(nil))
	if got != sum {
		return fmt.Errorf("file %s sha256 mismatch", path)
	}
	return nil
}

func (ls *LooseSource) DebugName() string {
	return ls.debugName
}

func (ls *LooseSource) SourceKey() core.SourceKey {
	return ls.index.SourceKey
}

// ContentVersion returns the container's content version.
func (ls *LooseSource) ContentVersion() uint16 {
	return ls.index.ContentVersion
}

func (ls *LooseSource) FindAsset(key core.AssetKey) (AssetLocator, bool) {
	a, ok := ls.assets[key]
	if !ok {
		return AssetLocator{}, false
	}
	return AssetLocator{
		Key:            key,
		AssetType:      a.AssetType,
		DescriptorSize: a.DescriptorSize,
		Kind:           LocatorFilePath,
		FilePath:       filepath.Join(ls.root, filepath.FromSlash(a.DescriptorPath)),
	}, true
}

// FindAssetByPath looks up an asset by virtual path.
func (ls *LooseSource) FindAssetByPath(virtualPath string) (AssetLocator, bool) {
	for _, a := range ls.index.Assets {
		if a.VirtualPath == virtualPath {
			return ls.FindAsset(a.Key)
		}
	}
	return AssetLocator{}, false
}

func (ls *LooseSource) CreateAssetDescriptorReader(loc AssetLocator) (Reader, error) {
	if loc.Kind != LocatorFilePath {
		return nil, fmt.Errorf("%w: locator does not point into a loose container", core.ErrInvalidRequest)
	}
	return ls.openWhole(loc.FilePath)
}

func (ls *LooseSource) BufferTable() *ResourceTableInfo {
	return ls.bufferTable
}

func (ls *LooseSource) TextureTable() *ResourceTableInfo {
	return ls.textureTable
}

func (ls *LooseSource) CreateBufferTableReader() (Reader, error) {
	return ls.openKind(FileKindBuffersTable)
}

func (ls *LooseSource) CreateTextureTableReader() (Reader, error) {
	return ls.openKind(FileKindTexturesTable)
}

func (ls *LooseSource) CreateBufferDataReader() (Reader, error) {
	return ls.openKind(FileKindBuffersData)
}

func (ls *LooseSource) CreateTextureDataReader() (Reader, error) {
	return ls.openKind(FileKindTexturesData)
}

func (ls *LooseSource) openKind(kind FileKind) (Reader, error) {
	fr, ok := ls.index.FindFile(kind)
	if !ok {
		return nil, fmt.Errorf("%w: container has no %s", core.ErrInvalidRequest, kind)
	}
	return ls.openWhole(filepath.Join(ls.root, filepath.FromSlash(fr.RelPath)))
}

func (ls *LooseSource) openWhole(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &sectionReader{
		SectionReader: io.NewSectionReader(f, 0, st.Size()),
		closer:        f,
	}, nil
}

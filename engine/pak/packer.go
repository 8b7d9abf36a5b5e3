package pak

import (
	"bufio"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/spaghettifunk/oxygen/engine/core"
)

// PackerOptions configure a pak build.
type PackerOptions struct {
	SourceKey      core.SourceKey
	ContentVersion uint16
	// ComputeCRC controls whether the footer carries an integrity hash.
	// When false the crc field is written as zero, which readers accept.
	ComputeCRC bool
}

type packedAsset struct {
	key         core.AssetKey
	assetType   AssetType
	virtualPath string
	descriptor  []byte
}

// Packer assembles a pak file from cooked descriptors and resource
// blobs. Assets keep their AddAsset order in the directory.
type Packer struct {
	opts   PackerOptions
	assets []packedAsset
	seen   map[core.AssetKey]struct{}

	textureData    []byte
	textureEntries []TextureResourceDesc
	bufferData     []byte
	bufferEntries  []BufferResourceDesc
}

func NewPacker(opts PackerOptions) (*Packer, error) {
	if opts.SourceKey.IsZero() {
		return nil, fmt.Errorf("%w: packer requires a non-zero source key", core.ErrValidation)
	}
	return &Packer{
		opts: opts,
		seen: make(map[core.AssetKey]struct{}),
	}, nil
}

// AddAsset queues one descriptor for packing. Duplicate keys are
// rejected; the virtual path may be empty.
func (p *Packer) AddAsset(key core.AssetKey, assetType AssetType, virtualPath string, descriptor []byte) error {
	if key.IsZero() {
		return fmt.Errorf("%w: zero asset key", core.ErrValidation)
	}
	if !ValidAssetType(assetType) {
		return fmt.Errorf("%w: unknown asset type %d", core.ErrValidation, assetType)
	}
	if _, dup := p.seen[key]; dup {
		return fmt.Errorf("%w: duplicate asset key %s", core.ErrValidation, key)
	}
	p.seen[key] = struct{}{}
	p.assets = append(p.assets, packedAsset{
		key:         key,
		assetType:   assetType,
		virtualPath: virtualPath,
		descriptor:  descriptor,
	})
	return nil
}

// SetTextureResources installs the texture region blob and its table.
func (p *Packer) SetTextureResources(data []byte, entries []TextureResourceDesc) {
	p.textureData = data
	p.textureEntries = entries
}

// SetBufferResources installs the buffer region blob and its table.
func (p *Packer) SetBufferResources(data []byte, entries []BufferResourceDesc) {
	p.bufferData = data
	p.bufferEntries = entries
}

// WriteTo assembles and writes the pak. The file is written to a
// temporary sibling and renamed into place so a crashed pack never
// leaves a truncated pak behind.
func (p *Packer) WriteTo(path string) error {
	payload := p.assemble()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".pak-*")
	if err != nil {
		return fmt.Errorf("creating pak temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if _, err := bw.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("writing pak: %w", err)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing pak: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing pak: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing pak: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publishing pak: %w", err)
	}
	return nil
}

// Layout: header | string table | descriptors | texture data | buffer
// data | texture table | buffer table | directory | footer.
func (p *Packer) assemble() []byte {
	w := newWriter(p.estimateSize())
	w.Raw(EncodeHeader(&Header{Version: FormatVersion, ContentVersion: p.opts.ContentVersion}))

	// String table. Starts with a NUL so offset zero reads as the empty
	// string, letting the directory use zero as "no virtual path".
	stringOffsets := make([]uint64, len(p.assets))
	w.U8(0)
	for i, a := range p.assets {
		if a.virtualPath == "" {
			continue
		}
		stringOffsets[i] = uint64(len(w.Bytes()))
		w.Raw([]byte(a.virtualPath))
		w.U8(0)
	}

	descOffsets := make([]uint64, len(p.assets))
	for i, a := range p.assets {
		descOffsets[i] = uint64(len(w.Bytes()))
		w.Raw(a.descriptor)
	}

	footer := Footer{
		AssetCount: uint64(len(p.assets)),
		SourceKey:  [16]byte(p.opts.SourceKey),
	}

	if len(p.textureData) > 0 || len(p.textureEntries) > 0 {
		footer.TextureRegion = ResourceRegion{Offset: uint64(len(w.Bytes())), Size: uint64(len(p.textureData))}
		w.Raw(p.textureData)
	}
	if len(p.bufferData) > 0 || len(p.bufferEntries) > 0 {
		footer.BufferRegion = ResourceRegion{Offset: uint64(len(w.Bytes())), Size: uint64(len(p.bufferData))}
		w.Raw(p.bufferData)
	}
	if n := len(p.textureEntries); n > 0 {
		footer.TextureTable = ResourceTableRef{Offset: uint64(len(w.Bytes())), Count: uint32(n), EntrySize: TextureDescSize}
		for i := range p.textureEntries {
			w.buf = EncodeTextureDesc(w.buf, &p.textureEntries[i])
		}
	}
	if n := len(p.bufferEntries); n > 0 {
		footer.BufferTable = ResourceTableRef{Offset: uint64(len(w.Bytes())), Count: uint32(n), EntrySize: BufferDescSize}
		for i := range p.bufferEntries {
			w.buf = EncodeBufferDesc(w.buf, &p.bufferEntries[i])
		}
	}

	footer.DirectoryOffset = uint64(len(w.Bytes()))
	footer.DirectorySize = uint64(len(p.assets)) * DirectoryEntrySize
	for i, a := range p.assets {
		w.buf = EncodeDirectoryEntry(w.buf, &DirectoryEntry{
			AssetKey:    [16]byte(a.key),
			AssetType:   a.assetType,
			EntryOffset: stringOffsets[i],
			DescOffset:  descOffsets[i],
			DescSize:    uint32(len(a.descriptor)),
		})
	}

	// Footer goes in with a zero crc first; the crc covers everything
	// before the crc field, so it is patched after the fact.
	footerOffset := len(w.Bytes())
	w.Raw(EncodeFooter(&footer))
	if p.opts.ComputeCRC {
		payload := w.Bytes()
		crc := crc32.ChecksumIEEE(payload[:len(payload)-12])
		footer.CRC32 = crc
		copy(payload[footerOffset:], EncodeFooter(&footer))
	}
	return w.Bytes()
}

func (p *Packer) estimateSize() int {
	size := HeaderSize + FooterSize + 1
	for _, a := range p.assets {
		size += len(a.descriptor) + len(a.virtualPath) + 1 + DirectoryEntrySize
	}
	size += len(p.textureData) + len(p.bufferData)
	size += len(p.textureEntries)*TextureDescSize + len(p.bufferEntries)*BufferDescSize
	return size
}

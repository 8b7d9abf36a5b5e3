package content

import (
	"io"

	"github.com/spaghettifunk/oxygen/engine/core"
	"github.com/spaghettifunk/oxygen/engine/pak"
)

// Reader is a short-lived, independent view over one section of a
// cooked container. Every Create*Reader call on a source returns a
// fresh one, so concurrent readers never share a file position.
type Reader interface {
	io.ReadSeeker
	io.Closer
}

// LocatorKind tags the variant carried by an AssetLocator.
type LocatorKind uint8

const (
	// LocatorPakOffset locates a descriptor by byte offset inside a pak.
	LocatorPakOffset LocatorKind = iota
	// LocatorFilePath locates a descriptor by absolute file path.
	LocatorFilePath
)

// AssetLocator identifies where a cooked asset's descriptor lives.
type AssetLocator struct {
	Key            core.AssetKey
	AssetType      pak.AssetType
	DescriptorSize uint32
	Kind           LocatorKind

	// Valid when Kind == LocatorPakOffset.
	PakOffset uint64
	// Valid when Kind == LocatorFilePath.
	FilePath string
}

// ResourceTableInfo is the metadata-only view of a resource table.
type ResourceTableInfo struct {
	Count     uint32
	EntrySize uint32
}

/**
 * @brief Read-only uniform view over a cooked container, packed or
 * loose. Construction validates the container eagerly: a source either
 * opens fully valid or not at all.
 */
type ContentSource interface {
	/** @brief A stable name for diagnostics. */
	DebugName() string
	/** @brief The container GUID. Never zero on an open source. */
	SourceKey() core.SourceKey

	/** @brief Looks up an asset by key. */
	FindAsset(key core.AssetKey) (AssetLocator, bool)
	/** @brief Opens a reader positioned at the start of the descriptor. */
	CreateAssetDescriptorReader(loc AssetLocator) (Reader, error)

	/** @brief Metadata view of the buffer table; nil when absent. */
	BufferTable() *ResourceTableInfo
	/** @brief Metadata view of the texture table; nil when absent. */
	TextureTable() *ResourceTableInfo

	/** @brief Opens a reader positioned at the start of the buffer table. */
	CreateBufferTableReader() (Reader, error)
	/** @brief Opens a reader positioned at the start of the texture table. */
	CreateTextureTableReader() (Reader, error)
	/** @brief Opens a reader positioned at the start of the buffer data region. */
	CreateBufferDataReader() (Reader, error)
	/** @brief Opens a reader positioned at the start of the texture data region. */
	CreateTextureDataReader() (Reader, error)
}

// sectionReader pairs an io.SectionReader with the file handle backing
// it so Close releases the handle.
type sectionReader struct {
	*io.SectionReader
	closer io.Closer
}

func (sr *sectionReader) Close() error {
	return sr.closer.Close()
}

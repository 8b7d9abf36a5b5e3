package pak

// Binary layout of the packed cooked container. Everything is
// little-endian and 1-byte packed; the sizes below are load-bearing and
// any deviation on disk is a hard validation failure.

const (
	// HeaderMagic opens every pak file ("OXPAK" NUL-padded to 8 bytes).
	HeaderMagic = "OXPAK\x00\x00\x00"
	// FooterMagic closes every pak file.
	FooterMagic = "OXPAKEND"

	FormatVersion uint16 = 1

	HeaderSize         = 64
	FooterSize         = 256
	DirectoryEntrySize = 64

	AssetHeaderSize   = 95
	MaterialDescSize  = 256
	GeometryDescSize  = 256
	MeshDescSize      = 104
	SubMeshDescSize   = 108
	MeshViewDescSize  = 16
	ShaderRefDescSize = 216
	TextureDescSize   = 40
	BufferDescSize    = 32
	AudioDescSize     = 32

	// Asset-side descriptors for resources: header + table row index.
	TextureAssetDescSize = 128
	BufferAssetDescSize  = 128

	SceneNodeRecordSize     = 112
	SceneComponentTableSize = 12
	SceneEnvironmentSize    = 52
	SceneDescFixedSize      = AssetHeaderSize + 8
	AssetNameMaxLength      = 64
	ShaderUniqueIDMaxLength = 192
)

// AssetType tags a directory entry and the descriptor header behind it.
type AssetType uint8

const (
	AssetTypeUnknown AssetType = iota
	AssetTypeMaterial
	AssetTypeGeometry
	AssetTypeScene
	AssetTypeTexture
	AssetTypeBuffer
	AssetTypeAudio
)

func (t AssetType) String() string {
	switch t {
	case AssetTypeMaterial:
		return "material"
	case AssetTypeGeometry:
		return "geometry"
	case AssetTypeScene:
		return "scene"
	case AssetTypeTexture:
		return "texture"
	case AssetTypeBuffer:
		return "buffer"
	case AssetTypeAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// ValidAssetType reports whether t is one of the dispatchable types.
func ValidAssetType(t AssetType) bool {
	return t >= AssetTypeMaterial && t <= AssetTypeAudio
}

// Header is the fixed 64-byte block that opens a pak file.
type Header struct {
	Version        uint16
	ContentVersion uint16
	// 52 bytes reserved on disk.
}

// ResourceRegion locates one resource data blob area inside the pak.
// 16 bytes on disk.
type ResourceRegion struct {
	Offset uint64
	Size   uint64
}

// ResourceTableRef locates one resource table inside the pak. 16 bytes
// on disk.
type ResourceTableRef struct {
	Offset    uint64
	Count     uint32
	EntrySize uint32
}

// Footer is the fixed 256-byte block that closes a pak file. The first
// 16 reserved bytes carry the container GUID; the remaining reserved
// bytes must round-trip untouched.
type Footer struct {
	DirectoryOffset uint64
	DirectorySize   uint64
	AssetCount      uint64
	TextureRegion   ResourceRegion
	BufferRegion    ResourceRegion
	AudioRegion     ResourceRegion
	TextureTable    ResourceTableRef
	BufferTable     ResourceTableRef
	AudioTable      ResourceTableRef
	SourceKey       [16]byte
	CRC32           uint32
}

// DirectoryEntry is one 64-byte record of the asset directory.
// EntryOffset locates the asset's NUL-terminated virtual path in the
// string table region; zero means no virtual path was recorded.
type DirectoryEntry struct {
	AssetKey    [16]byte
	AssetType   AssetType
	EntryOffset uint64
	DescOffset  uint64
	DescSize    uint32
}

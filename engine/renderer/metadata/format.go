package metadata

/** @brief Pixel and block-compressed formats known to the content pipeline. */
type Format uint8

const (
	FormatUnknown Format = iota
	FormatR8Unorm
	FormatRG8Unorm
	FormatRGBA8Unorm
	FormatRGBA8UnormSRGB
	FormatBGRA8Unorm
	FormatR16Float
	FormatRG16Float
	FormatRGBA16Float
	FormatR32Float
	FormatRG32Float
	FormatRGBA32Float
	FormatBC1Unorm
	FormatBC2Unorm
	FormatBC3Unorm
	FormatBC4Unorm
	FormatBC5Unorm
	FormatBC6HFloat
	FormatBC7Unorm
)

// FormatInfo describes how a format tiles into copy footprints. For
// uncompressed formats the block is 1x1 texels.
type FormatInfo struct {
	BlockWidth    uint32
	BlockHeight   uint32
	BytesPerBlock uint32
}

var formatInfos = map[Format]FormatInfo{
	FormatR8Unorm:        {1, 1, 1},
	FormatRG8Unorm:       {1, 1, 2},
	FormatRGBA8Unorm:     {1, 1, 4},
	FormatRGBA8UnormSRGB: {1, 1, 4},
	FormatBGRA8Unorm:     {1, 1, 4},
	FormatR16Float:       {1, 1, 2},
	FormatRG16Float:      {1, 1, 4},
	FormatRGBA16Float:    {1, 1, 8},
	FormatR32Float:       {1, 1, 4},
	FormatRG32Float:      {1, 1, 8},
	FormatRGBA32Float:    {1, 1, 16},
	FormatBC1Unorm:       {4, 4, 8},
	FormatBC2Unorm:       {4, 4, 16},
	FormatBC3Unorm:       {4, 4, 16},
	FormatBC4Unorm:       {4, 4, 8},
	FormatBC5Unorm:       {4, 4, 16},
	FormatBC6HFloat:      {4, 4, 16},
	FormatBC7Unorm:       {4, 4, 16},
}

// InfoFor returns the block layout for a format. The second return is
// false for FormatUnknown and any unlisted value.
func InfoFor(f Format) (FormatInfo, bool) {
	info, ok := formatInfos[f]
	return info, ok
}

// IsBlockCompressed reports whether the format tiles in 4x4 blocks.
func IsBlockCompressed(f Format) bool {
	info, ok := formatInfos[f]
	return ok && info.BlockWidth > 1
}

package pak

import "fmt"

/**
 * @brief One texture table entry. 40 bytes on disk. Entry 0 of every
 * table is the fallback sentinel: always present, always safe to sample.
 */
type TextureResourceDesc struct {
	/** @brief Byte offset of the pixel data inside the texture region. */
	DataOffset uint64
	/** @brief Size of the pixel data in bytes. */
	SizeBytes uint32
	/** @brief Texture type: 0 = 2D, 1 = 3D, 2 = cube. */
	TextureType uint8
	/** @brief Pixel format; matches metadata.Format values. */
	Format    uint8
	Width     uint32
	Height    uint32
	Depth     uint16
	ArraySize uint16
	MipCount  uint8
	// 13 bytes reserved on disk.
}

// EncodeTextureDesc appends the 40-byte entry to dst and returns it.
func EncodeTextureDesc(dst []byte, d *TextureResourceDesc) []byte {
	w := &writer{buf: dst}
	w.U64(d.DataOffset)
	w.U32(d.SizeBytes)
	w.U8(d.TextureType)
	w.U8(d.Format)
	w.U32(d.Width)
	w.U32(d.Height)
	w.U16(d.Depth)
	w.U16(d.ArraySize)
	w.U8(d.MipCount)
	w.Zero(13)
	return w.buf
}

// DecodeTextureDesc parses one 40-byte entry.
func DecodeTextureDesc(buf []byte) (TextureResourceDesc, error) {
	var d TextureResourceDesc
	if len(buf) < TextureDescSize {
		return d, fmt.Errorf("texture table entry too small: %d bytes", len(buf))
	}
	r := newReader(buf[:TextureDescSize])
	d.DataOffset = r.U64()
	d.SizeBytes = r.U32()
	d.TextureType = r.U8()
	d.Format = r.U8()
	d.Width = r.U32()
	d.Height = r.U32()
	d.Depth = r.U16()
	d.ArraySize = r.U16()
	d.MipCount = r.U8()
	return d, r.Err()
}

/** @brief One buffer table entry. 32 bytes on disk. */
type BufferResourceDesc struct {
	/** @brief Byte offset of the data inside the buffer region. */
	DataOffset uint64
	/** @brief Size of the data in bytes. */
	SizeBytes uint32
	/** @brief Usage flag bits (index/vertex/constant/storage). */
	UsageFlags uint32
	/** @brief Stride of one element; 0 for raw blobs. */
	ElementStride uint32
	/** @brief Element format tag; 0 for structured/raw data. */
	ElementFormat uint8
	// 11 bytes reserved on disk.
}

// EncodeBufferDesc appends the 32-byte entry to dst and returns it.
func EncodeBufferDesc(dst []byte, d *BufferResourceDesc) []byte {
	w := &writer{buf: dst}
	w.U64(d.DataOffset)
	w.U32(d.SizeBytes)
	w.U32(d.UsageFlags)
	w.U32(d.ElementStride)
	w.U8(d.ElementFormat)
	w.Zero(11)
	return w.buf
}

// DecodeBufferDesc parses one 32-byte entry.
func DecodeBufferDesc(buf []byte) (BufferResourceDesc, error) {
	var d BufferResourceDesc
	if len(buf) < BufferDescSize {
		return d, fmt.Errorf("buffer table entry too small: %d bytes", len(buf))
	}
	r := newReader(buf[:BufferDescSize])
	d.DataOffset = r.U64()
	d.SizeBytes = r.U32()
	d.UsageFlags = r.U32()
	d.ElementStride = r.U32()
	d.ElementFormat = r.U8()
	return d, r.Err()
}

/**
 * @brief A texture asset, as cooked: an asset header plus the row in
 * the texture resource table the pixel data lives at. Fixed 128 bytes.
 */
type TextureAssetDesc struct {
	Header AssetHeader
	/** @brief Row index into the texture resource table. 0 = fallback. */
	TableIndex uint32
	// 29 bytes reserved on disk.
}

// EncodeTextureAsset serializes the 128-byte descriptor.
func EncodeTextureAsset(d *TextureAssetDesc) []byte {
	w := &writer{buf: make([]byte, 0, TextureAssetDescSize)}
	d.Header.encode(w)
	w.U32(d.TableIndex)
	w.Zero(29)
	return w.buf
}

// DecodeTextureAsset parses one 128-byte descriptor.
func DecodeTextureAsset(buf []byte) (*TextureAssetDesc, error) {
	if len(buf) != TextureAssetDescSize {
		return nil, fmt.Errorf("texture asset descriptor is %d bytes, want %d", len(buf), TextureAssetDescSize)
	}
	r := newReader(buf)
	var d TextureAssetDesc
	d.Header.decode(r)
	d.TableIndex = r.U32()
	r.Skip(29)
	return &d, r.Err()
}

/**
 * @brief A buffer asset: an asset header plus the row in the buffer
 * resource table. Fixed 128 bytes.
 */
type BufferAssetDesc struct {
	Header AssetHeader
	/** @brief Row index into the buffer resource table. 0 = no data. */
	TableIndex uint32
	// 29 bytes reserved on disk.
}

// EncodeBufferAsset serializes the 128-byte descriptor.
func EncodeBufferAsset(d *BufferAssetDesc) []byte {
	w := &writer{buf: make([]byte, 0, BufferAssetDescSize)}
	d.Header.encode(w)
	w.U32(d.TableIndex)
	w.Zero(29)
	return w.buf
}

// DecodeBufferAsset parses one 128-byte descriptor.
func DecodeBufferAsset(buf []byte) (*BufferAssetDesc, error) {
	if len(buf) != BufferAssetDescSize {
		return nil, fmt.Errorf("buffer asset descriptor is %d bytes, want %d", len(buf), BufferAssetDescSize)
	}
	r := newReader(buf)
	var d BufferAssetDesc
	d.Header.decode(r)
	d.TableIndex = r.U32()
	r.Skip(29)
	return &d, r.Err()
}

/**
 * @brief One audio table entry. 32 bytes on disk. The audio region and
 * table exist in the footer but no runtime read path exercises them yet;
 * the layout is reserved.
 */
type AudioResourceDesc struct {
	DataOffset    uint64
	SizeBytes     uint32
	SampleRate    uint32
	ChannelCount  uint8
	BitsPerSample uint8
	// 14 bytes reserved on disk.
}

package pak

import (
	"fmt"
	"math/bits"
)

/**
 * @brief The 95-byte header that opens every asset descriptor. The asset
 * type is stored both here and in the directory entry; the duplicate is a
 * debug cross-check, the directory copy drives dispatch.
 */
type AssetHeader struct {
	/** @brief The asset type tag. */
	AssetType AssetType
	/** @brief The asset name, at most 63 characters. */
	Name string
	/** @brief The descriptor format version. */
	Version uint8
	/** @brief The streaming priority hint, higher loads earlier. */
	StreamingPriority uint8
	/** @brief Truncated content signature of the cooked payload. */
	ContentHash uint64
	/** @brief Variant selector bits (platform, quality tier). */
	VariantFlags uint32
	// 16 bytes reserved on disk.
}

func (h *AssetHeader) encode(w *writer) {
	w.U8(uint8(h.AssetType))
	w.FixedString(h.Name, AssetNameMaxLength)
	w.U8(h.Version)
	w.U8(h.StreamingPriority)
	w.U64(h.ContentHash)
	w.U32(h.VariantFlags)
	w.Zero(16)
}

func (h *AssetHeader) decode(r *reader) {
	h.AssetType = AssetType(r.U8())
	h.Name = r.FixedString(AssetNameMaxLength)
	h.Version = r.U8()
	h.StreamingPriority = r.U8()
	h.ContentHash = r.U64()
	h.VariantFlags = r.U32()
	r.Skip(16)
}

/** @brief One shader program reference trailing a material descriptor. */
type ShaderReferenceDesc struct {
	/** @brief The stage bit this reference satisfies. */
	Stage uint32
	/** @brief The unique shader identifier, at most 191 characters. */
	ShaderUniqueID string
	/** @brief Hash of the compiled shader blob. */
	ShaderHash uint64
	// 12 bytes reserved on disk.
}

func (d *ShaderReferenceDesc) encode(w *writer) {
	w.U32(d.Stage)
	w.FixedString(d.ShaderUniqueID, ShaderUniqueIDMaxLength)
	w.U64(d.ShaderHash)
	w.Zero(12)
}

func (d *ShaderReferenceDesc) decode(r *reader) {
	d.Stage = r.U32()
	d.ShaderUniqueID = r.FixedString(ShaderUniqueIDMaxLength)
	d.ShaderHash = r.U64()
	r.Skip(12)
}

/**
 * @brief A material, as cooked: PBR scalar parameters plus bindless
 * texture table indices. Fixed 256 bytes, followed on disk by one
 * ShaderReferenceDesc per set bit in ShaderStages.
 */
type MaterialAssetDesc struct {
	Header           AssetHeader
	MaterialDomain   uint8
	Flags            uint32
	ShaderStages     uint32
	BaseColor        [4]float32
	NormalScale      float32
	Metalness        float32
	Roughness        float32
	AmbientOcclusion float32

	/** @brief Texture table indices: base color, normal, metallic-roughness, occlusion, emissive. 0 = fallback. */
	BaseColorTexture         uint32
	NormalTexture            uint32
	MetallicRoughnessTexture uint32
	OcclusionTexture         uint32
	EmissiveTexture          uint32
	// 8 reserved texture indices + 68 bytes reserved on disk.

	ShaderRefs []ShaderReferenceDesc
}

// TotalSize returns the on-disk size of the descriptor including
// trailing shader references.
func (d *MaterialAssetDesc) TotalSize() int {
	return MaterialDescSize + bits.OnesCount32(d.ShaderStages)*ShaderRefDescSize
}

// EncodeMaterial serializes a material descriptor. The number of shader
// references must equal the number of set bits in ShaderStages.
func EncodeMaterial(d *MaterialAssetDesc) ([]byte, error) {
	if got, want := len(d.ShaderRefs), bits.OnesCount32(d.ShaderStages); got != want {
		return nil, fmt.Errorf("material %q: %d shader refs but %d stage bits set", d.Header.Name, got, want)
	}
	w := newWriter(d.TotalSize())
	hdr := d.Header
	hdr.AssetType = AssetTypeMaterial
	hdr.encode(w)
	w.U8(d.MaterialDomain)
	w.U32(d.Flags)
	w.U32(d.ShaderStages)
	for _, c := range d.BaseColor {
		w.F32(c)
	}
	w.F32(d.NormalScale)
	w.F32(d.Metalness)
	w.F32(d.Roughness)
	w.F32(d.AmbientOcclusion)
	w.U32(d.BaseColorTexture)
	w.U32(d.NormalTexture)
	w.U32(d.MetallicRoughnessTexture)
	w.U32(d.OcclusionTexture)
	w.U32(d.EmissiveTexture)
	w.Zero(8 * 4) // reserved texture indices
	w.Zero(68)
	if len(w.Bytes()) != MaterialDescSize {
		return nil, fmt.Errorf("material descriptor layout drifted: %d bytes", len(w.Bytes()))
	}
	for i := range d.ShaderRefs {
		d.ShaderRefs[i].encode(w)
	}
	return w.Bytes(), nil
}

// DecodeMaterial parses a material descriptor including trailing shader
// references.
func DecodeMaterial(buf []byte) (*MaterialAssetDesc, error) {
	if len(buf) < MaterialDescSize {
		return nil, fmt.Errorf("material descriptor too small: %d bytes", len(buf))
	}
	r := newReader(buf)
	d := &MaterialAssetDesc{}
	d.Header.decode(r)
	if d.Header.AssetType != AssetTypeMaterial {
		return nil, fmt.Errorf("descriptor header type %s, expected material", d.Header.AssetType)
	}
	d.MaterialDomain = r.U8()
	d.Flags = r.U32()
	d.ShaderStages = r.U32()
	for i := range d.BaseColor {
		d.BaseColor[i] = r.F32()
	}
	d.NormalScale = r.F32()
	d.Metalness = r.F32()
	d.Roughness = r.F32()
	d.AmbientOcclusion = r.F32()
	d.BaseColorTexture = r.U32()
	d.NormalTexture = r.U32()
	d.MetallicRoughnessTexture = r.U32()
	d.OcclusionTexture = r.U32()
	d.EmissiveTexture = r.U32()
	r.Skip(8 * 4)
	r.Skip(68)
	refCount := bits.OnesCount32(d.ShaderStages)
	if want := MaterialDescSize + refCount*ShaderRefDescSize; len(buf) != want {
		return nil, fmt.Errorf("material descriptor size %d, expected %d for %d shader stages", len(buf), want, refCount)
	}
	d.ShaderRefs = make([]ShaderReferenceDesc, refCount)
	for i := range d.ShaderRefs {
		d.ShaderRefs[i].decode(r)
	}
	return d, r.Err()
}

/** @brief One renderable range inside a submesh's buffers. 16 bytes. */
type MeshViewDesc struct {
	FirstIndex  uint32
	IndexCount  uint32
	FirstVertex uint32
	VertexCount uint32
}

/** @brief One submesh: a material binding plus its mesh views. 108 bytes. */
type SubMeshDesc struct {
	Name          string
	MaterialKey   [16]byte
	MeshViewCount uint32
	BoundsMin     [3]float32
	BoundsMax     [3]float32

	MeshViews []MeshViewDesc
}

/** @brief One level of detail of a geometry. 104 bytes. */
type MeshDesc struct {
	Name         string
	SubMeshCount uint32
	/** @brief Buffer table index of the vertex data. 0 = fallback. */
	VertexBuffer uint32
	/** @brief Buffer table index of the index data. 0 = fallback. */
	IndexBuffer    uint32
	VertexCount    uint32
	IndexCount     uint32
	BoundingSphere [4]float32
	// 4 bytes reserved on disk.

	SubMeshes []SubMeshDesc
}

/**
 * @brief A geometry asset: fixed 256 bytes followed by LodCount MeshDesc
 * records, each trailed by its submeshes and their mesh views.
 */
type GeometryAssetDesc struct {
	Header    AssetHeader
	LodCount  uint32
	BoundsMin [3]float32
	BoundsMax [3]float32
	// 133 bytes reserved on disk.

	Lods []MeshDesc
}

// TotalSize returns the on-disk size including all trailing records.
func (d *GeometryAssetDesc) TotalSize() int {
	size := GeometryDescSize
	for _, lod := range d.Lods {
		size += MeshDescSize
		for _, sm := range lod.SubMeshes {
			size += SubMeshDescSize + len(sm.MeshViews)*MeshViewDescSize
		}
	}
	return size
}

// EncodeGeometry serializes a geometry descriptor with its LOD chain.
func EncodeGeometry(d *GeometryAssetDesc) ([]byte, error) {
	if int(d.LodCount) != len(d.Lods) {
		return nil, fmt.Errorf("geometry %q: lod_count %d but %d lods", d.Header.Name, d.LodCount, len(d.Lods))
	}
	w := newWriter(d.TotalSize())
	hdr := d.Header
	hdr.AssetType = AssetTypeGeometry
	hdr.encode(w)
	w.U32(d.LodCount)
	for _, v := range d.BoundsMin {
		w.F32(v)
	}
	for _, v := range d.BoundsMax {
		w.F32(v)
	}
	w.Zero(133)
	for li := range d.Lods {
		lod := &d.Lods[li]
		if int(lod.SubMeshCount) != len(lod.SubMeshes) {
			return nil, fmt.Errorf("geometry %q lod %d: submesh_count %d but %d submeshes", d.Header.Name, li, lod.SubMeshCount, len(lod.SubMeshes))
		}
		w.FixedString(lod.Name, AssetNameMaxLength)
		w.U32(lod.SubMeshCount)
		w.U32(lod.VertexBuffer)
		w.U32(lod.IndexBuffer)
		w.U32(lod.VertexCount)
		w.U32(lod.IndexCount)
		for _, v := range lod.BoundingSphere {
			w.F32(v)
		}
		w.Zero(4)
		for si := range lod.SubMeshes {
			sm := &lod.SubMeshes[si]
			if int(sm.MeshViewCount) != len(sm.MeshViews) {
				return nil, fmt.Errorf("geometry %q lod %d submesh %d: mesh_view_count %d but %d views", d.Header.Name, li, si, sm.MeshViewCount, len(sm.MeshViews))
			}
			w.FixedString(sm.Name, AssetNameMaxLength)
			w.Raw(sm.MaterialKey[:])
			w.U32(sm.MeshViewCount)
			for _, v := range sm.BoundsMin {
				w.F32(v)
			}
			for _, v := range sm.BoundsMax {
				w.F32(v)
			}
			for _, mv := range sm.MeshViews {
				w.U32(mv.FirstIndex)
				w.U32(mv.IndexCount)
				w.U32(mv.FirstVertex)
				w.U32(mv.VertexCount)
			}
		}
	}
	return w.Bytes(), nil
}

// DecodeGeometry parses a geometry descriptor with its LOD chain.
func DecodeGeometry(buf []byte) (*GeometryAssetDesc, error) {
	if len(buf) < GeometryDescSize {
		return nil, fmt.Errorf("geometry descriptor too small: %d bytes", len(buf))
	}
	r := newReader(buf)
	d := &GeometryAssetDesc{}
	d.Header.decode(r)
	if d.Header.AssetType != AssetTypeGeometry {
		return nil, fmt.Errorf("descriptor header type %s, expected geometry", d.Header.AssetType)
	}
	d.LodCount = r.U32()
	for i := range d.BoundsMin {
		d.BoundsMin[i] = r.F32()
	}
	for i := range d.BoundsMax {
		d.BoundsMax[i] = r.F32()
	}
	r.Skip(133)
	// Counts come from the payload; bound them against the bytes that
	// are actually left before trusting them as allocation sizes.
	remaining := func() uint64 { return uint64(len(buf) - r.off) }
	if uint64(d.LodCount)*MeshDescSize > remaining() {
		return nil, fmt.Errorf("geometry descriptor claims %d lods beyond its size", d.LodCount)
	}
	d.Lods = make([]MeshDesc, 0, d.LodCount)
	for li := uint32(0); li < d.LodCount; li++ {
		var lod MeshDesc
		lod.Name = r.FixedString(AssetNameMaxLength)
		lod.SubMeshCount = r.U32()
		lod.VertexBuffer = r.U32()
		lod.IndexBuffer = r.U32()
		lod.VertexCount = r.U32()
		lod.IndexCount = r.U32()
		for i := range lod.BoundingSphere {
			lod.BoundingSphere[i] = r.F32()
		}
		r.Skip(4)
		if uint64(lod.SubMeshCount)*SubMeshDescSize > remaining() {
			return nil, fmt.Errorf("geometry lod %d claims %d submeshes beyond its size", li, lod.SubMeshCount)
		}
		lod.SubMeshes = make([]SubMeshDesc, 0, lod.SubMeshCount)
		for si := uint32(0); si < lod.SubMeshCount; si++ {
			var sm SubMeshDesc
			sm.Name = r.FixedString(AssetNameMaxLength)
			copy(sm.MaterialKey[:], r.Raw(16))
			sm.MeshViewCount = r.U32()
			for i := range sm.BoundsMin {
				sm.BoundsMin[i] = r.F32()
			}
			for i := range sm.BoundsMax {
				sm.BoundsMax[i] = r.F32()
			}
			if uint64(sm.MeshViewCount)*MeshViewDescSize > remaining() {
				return nil, fmt.Errorf("geometry submesh %d claims %d mesh views beyond its size", si, sm.MeshViewCount)
			}
			sm.MeshViews = make([]MeshViewDesc, 0, sm.MeshViewCount)
			for vi := uint32(0); vi < sm.MeshViewCount; vi++ {
				var mv MeshViewDesc
				mv.FirstIndex = r.U32()
				mv.IndexCount = r.U32()
				mv.FirstVertex = r.U32()
				mv.VertexCount = r.U32()
				sm.MeshViews = append(sm.MeshViews, mv)
			}
			lod.SubMeshes = append(lod.SubMeshes, sm)
			if r.Err() != nil {
				return nil, r.Err()
			}
		}
		d.Lods = append(d.Lods, lod)
	}
	if r.Err() != nil {
		return nil, r.Err()
	}
	if r.off != len(buf) {
		return nil, fmt.Errorf("geometry descriptor has %d trailing bytes", len(buf)-r.off)
	}
	return d, nil
}

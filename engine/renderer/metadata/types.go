package metadata

/** @brief A monotonic 64-bit counter value on a GPU command queue. */
type FenceValue uint64

/**
 * @brief The surface of a GPU command queue that the content pipeline
 * relies on. The renderer backend owns the real queues; the bindless
 * lifecycle and the upload coordinator only ever observe fence progress
 * through this interface.
 */
type CommandQueue interface {
	/** @brief A stable name for diagnostics. */
	DebugName() string
	/** @brief The highest fence value the GPU has completed on this queue. */
	CompletedFence() FenceValue
	/** @brief Reports whether the queue still exists on the backend. */
	Alive() bool
}

/** @brief The kind of shader-visible view a bindless slot holds. */
type ResourceViewType uint8

const (
	ResourceViewTypeNone ResourceViewType = iota
	ResourceViewTypeTextureSRV
	ResourceViewTypeTextureUAV
	ResourceViewTypeBufferSRV
	ResourceViewTypeBufferUAV
	ResourceViewTypeConstantBuffer
	ResourceViewTypeSampler
)

func (t ResourceViewType) String() string {
	switch t {
	case ResourceViewTypeTextureSRV:
		return "texture_srv"
	case ResourceViewTypeTextureUAV:
		return "texture_uav"
	case ResourceViewTypeBufferSRV:
		return "buffer_srv"
	case ResourceViewTypeBufferUAV:
		return "buffer_uav"
	case ResourceViewTypeConstantBuffer:
		return "cbv"
	case ResourceViewTypeSampler:
		return "sampler"
	default:
		return "none"
	}
}

/** @brief Whether a descriptor heap segment is shader-visible or CPU-only. */
type Visibility uint8

const (
	VisibilityShaderVisible Visibility = iota
	VisibilityCPUOnly
)

/** @brief The state a GPU resource is transitioned to around copy work. */
type ResourceState uint8

const (
	ResourceStateCommon ResourceState = iota
	ResourceStateCopyDest
	ResourceStateIndexBuffer
	ResourceStateVertexBuffer
	ResourceStateConstantBuffer
	ResourceStateStorage
	ResourceStateShaderResource
)

/** @brief Declared usage of a buffer, drives the post-upload steady state. */
type BufferUsage uint8

const (
	BufferUsageNone BufferUsage = iota
	BufferUsageIndex
	BufferUsageVertex
	BufferUsageConstant
	BufferUsageStorage
)

// SteadyStateFor maps a destination buffer's declared usage to the state
// the upload coordinator leaves it in after the copy.
func SteadyStateFor(usage BufferUsage) ResourceState {
	switch usage {
	case BufferUsageIndex:
		return ResourceStateIndexBuffer
	case BufferUsageVertex:
		return ResourceStateVertexBuffer
	case BufferUsageConstant:
		return ResourceStateConstantBuffer
	case BufferUsageStorage:
		return ResourceStateStorage
	default:
		return ResourceStateCommon
	}
}

/**
 * @brief Describes a GPU buffer that uploads target. The renderer backend
 * owns the actual allocation; the pipeline only needs size and usage.
 */
type BufferDesc struct {
	/** @brief A stable name for diagnostics. */
	Name string
	/** @brief Total size of the buffer in bytes. */
	Size uint64
	/** @brief Declared usage; drives the steady state after uploads. */
	Usage BufferUsage
}

/** @brief Declared usage of a texture, drives the post-upload steady state. */
type TextureUsage uint8

const (
	/** @brief Sampled in shaders; the common case and the zero value. */
	TextureUsageSampled TextureUsage = iota
	/** @brief Read and written as a storage image. */
	TextureUsageStorage
)

// TextureSteadyStateFor maps a destination texture's declared usage to
// the state the upload coordinator leaves it in after the copy.
func TextureSteadyStateFor(usage TextureUsage) ResourceState {
	switch usage {
	case TextureUsageStorage:
		return ResourceStateStorage
	default:
		return ResourceStateShaderResource
	}
}

/** @brief Represents various types of textures. */
type TextureType uint8

const (
	/** @brief A standard two-dimensional texture. */
	TextureType2D TextureType = iota
	/** @brief A three-dimensional (volume) texture. */
	TextureType3D
	/** @brief A cube texture, used for cubemaps. Six array slices per cube. */
	TextureTypeCube
)

/**
 * @brief Describes a GPU texture that uploads target.
 */
type TextureDesc struct {
	/** @brief A stable name for diagnostics. */
	Name string
	/** @brief The texture type. */
	TextureType TextureType
	/** @brief The pixel format. */
	Format Format
	/** @brief The texture width in texels. */
	Width uint32
	/** @brief The texture height in texels. */
	Height uint32
	/** @brief The depth in texels; 1 for non-volume textures. */
	Depth uint32
	/** @brief The number of mip levels. */
	MipLevels uint32
	/** @brief The number of array slices. 6 per face set for cube textures. */
	ArraySize uint32
	/** @brief Declared usage; drives the steady state after uploads. */
	Usage TextureUsage
}

package metadata

/** @brief A single buffer-to-buffer copy region in staging coordinates. */
type BufferCopyRegion struct {
	/** @brief Byte offset into the destination buffer. */
	DstOffset uint64
	/** @brief Byte offset into the staging allocation. */
	SrcOffset uint64
	/** @brief Number of bytes to copy. */
	Size uint64
}

/** @brief A single staging-to-texture copy for one subresource. */
type TextureCopyRegion struct {
	/** @brief Placement offset of the subresource in staging. */
	BufferOffset uint64
	/** @brief Row pitch of the staged data in bytes. */
	BufferRowPitch uint32
	/** @brief Slice pitch of the staged data in bytes. */
	BufferSlicePitch uint32
	/** @brief Destination mip level. */
	Mip uint32
	/** @brief Destination array slice. */
	ArraySlice uint32
	/** @brief Destination box origin in texels. */
	X, Y, Z uint32
	/** @brief Destination box extent in texels. */
	Width, Height, Depth uint32
}

/**
 * @brief The command-recording surface the upload coordinator drives.
 * The renderer backend implements this over its command list; the
 * pipeline never sees actual GPU commands.
 */
type CopyRecorder interface {
	/** @brief Records a state transition on a destination buffer. */
	TransitionBuffer(dst *BufferDesc, state ResourceState)
	/** @brief Records one staging-to-buffer copy. */
	CopyBuffer(dst *BufferDesc, staging []byte, region BufferCopyRegion)
	/** @brief Records a state transition on a destination texture. */
	TransitionTexture(dst *TextureDesc, state ResourceState)
	/** @brief Records one staging-to-texture copy. */
	CopyTexture(dst *TextureDesc, staging []byte, region TextureCopyRegion)
}

/**
 * @brief A command queue the coordinator can place fence signals on.
 * Signal returns the fence value that completes when all previously
 * recorded work on the queue has executed.
 */
type SubmitQueue interface {
	CommandQueue
	Signal() FenceValue
}

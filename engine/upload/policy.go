package upload

/**
 * @brief Alignment rules the planners pack staging memory with. The
 * values mirror the strictest backend requirements so one plan works on
 * every queue family.
 */
type Policy struct {
	/** @brief Staging offset alignment for buffer copy sources. */
	BufferCopyAlignment uint64
	/** @brief Row pitch alignment for texture copy sources. */
	RowPitchAlignment uint32
	/** @brief Placement alignment between texture subresources in staging. */
	PlacementAlignment uint64
}

// DefaultPolicy matches the common D3D12-style constraints, which are a
// superset of what Vulkan's buffer image granularity asks for.
func DefaultPolicy() Policy {
	return Policy{
		BufferCopyAlignment: 512,
		RowPitchAlignment:   256,
		PlacementAlignment:  512,
	}
}

func (p Policy) normalized() Policy {
	if p.BufferCopyAlignment == 0 {
		p.BufferCopyAlignment = 1
	}
	if p.RowPitchAlignment == 0 {
		p.RowPitchAlignment = 1
	}
	if p.PlacementAlignment == 0 {
		p.PlacementAlignment = 1
	}
	return p
}

package bindless

import (
	"fmt"

	"github.com/spaghettifunk/oxygen/engine/renderer/metadata"
)

/**
 * @brief A shader-visible descriptor index paired with the generation it
 * was allocated under. A handle is current iff its generation matches
 * the tracker's current value for the slot; after the slot is recycled
 * the tracker moves on and the stale handle can never alias the new
 * occupant.
 */
type VersionedBindlessHandle struct {
	Slot       uint32
	Generation uint32
}

// IsValid reports whether the handle ever referred to a live slot.
func (h VersionedBindlessHandle) IsValid() bool {
	return h.Generation != InvalidGeneration
}

func (h VersionedBindlessHandle) String() string {
	return fmt.Sprintf("bindless(%d@g%d)", h.Slot, h.Generation)
}

/**
 * @brief Partitions the bindless space: each (view type, visibility)
 * pair owns an independent allocator and tracker, so slot indices never
 * collide across domains.
 */
type DomainKey struct {
	ViewType   metadata.ResourceViewType
	Visibility metadata.Visibility
}

func (k DomainKey) String() string {
	vis := "gpu"
	if k.Visibility == metadata.VisibilityCPUOnly {
		vis = "cpu"
	}
	return fmt.Sprintf("%s/%s", k.ViewType, vis)
}

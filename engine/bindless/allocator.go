package bindless

import (
	"fmt"

	"github.com/spaghettifunk/oxygen/engine/core"
)

// SlotAllocator is the pluggable backend a domain draws raw slot
// indices from. Implementations are not required to be thread-safe;
// the reuse layer serializes calls per domain.
type SlotAllocator interface {
	// Allocate returns a free slot index.
	Allocate() (uint32, error)
	// Free returns a slot to the allocator. Freeing a slot that is not
	// allocated is an error.
	Free(slot uint32) error
	// Allocated reports the number of live slots.
	Allocated() uint32
}

// FreeListAllocator hands out dense indices, preferring recycled slots
// over fresh ones. Fresh indices grow monotonically up to maxSlots.
type FreeListAllocator struct {
	next     uint32
	maxSlots uint32
	free     []uint32
	live     map[uint32]struct{}
}

// NewFreeListAllocator creates an allocator bounded to maxSlots; zero
// means unbounded.
func NewFreeListAllocator(maxSlots uint32) *FreeListAllocator {
	return &FreeListAllocator{
		maxSlots: maxSlots,
		live:     make(map[uint32]struct{}),
	}
}

func (fa *FreeListAllocator) Allocate() (uint32, error) {
	if n := len(fa.free); n > 0 {
		slot := fa.free[n-1]
		fa.free = fa.free[:n-1]
		fa.live[slot] = struct{}{}
		return slot, nil
	}
	if fa.maxSlots != 0 && fa.next >= fa.maxSlots {
		return 0, fmt.Errorf("%w: descriptor heap exhausted at %d slots", core.ErrExhausted, fa.maxSlots)
	}
	slot := fa.next
	fa.next++
	fa.live[slot] = struct{}{}
	return slot, nil
}

func (fa *FreeListAllocator) Free(slot uint32) error {
	if _, ok := fa.live[slot]; !ok {
		return fmt.Errorf("freeing slot %d that is not allocated", slot)
	}
	delete(fa.live, slot)
	fa.free = append(fa.free, slot)
	return nil
}

func (fa *FreeListAllocator) Allocated() uint32 {
	return uint32(len(fa.live))
}

// FreeCount reports how many recycled slots are waiting for reuse.
func (fa *FreeListAllocator) FreeCount() int {
	return len(fa.free)
}

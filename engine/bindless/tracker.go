package bindless

import (
	"sync/atomic"
)

// InvalidGeneration is reserved for out-of-range slots; no live slot
// ever reports it.
const InvalidGeneration uint32 = 0

/**
 * @brief Per-slot monotonic generation counter. Load and Bump are
 * lock-free and safe from any number of goroutines; Resize requires
 * that the caller excludes concurrent Load/Bump.
 *
 * Slots initialize lazily: the first Load or Bump on an untouched slot
 * yields generation 1. A slot's generation never decreases for the
 * lifetime of the tracker, including across Resize calls that keep the
 * slot in range.
 */
type GenerationTracker struct {
	slots []atomic.Uint32
}

func NewGenerationTracker(capacity uint32) *GenerationTracker {
	return &GenerationTracker{
		slots: make([]atomic.Uint32, capacity),
	}
}

// Capacity returns the number of tracked slots.
func (gt *GenerationTracker) Capacity() uint32 {
	return uint32(len(gt.slots))
}

// Load returns the current generation for slot, lazily initializing an
// untouched slot to 1. Out-of-range slots report InvalidGeneration with
// no side effects.
func (gt *GenerationTracker) Load(slot uint32) uint32 {
	if slot >= uint32(len(gt.slots)) {
		return InvalidGeneration
	}
	a := &gt.slots[slot]
	v := a.Load()
	if v != 0 {
		return v
	}
	// Untouched. Initialize to 1; losing the race to a concurrent Bump
	// or Load just means someone else committed a value first.
	if a.CompareAndSwap(0, 1) {
		return 1
	}
	return a.Load()
}

// Bump increments the generation for slot. The first bump on an
// untouched slot yields generation 1. Out-of-range bumps are no-ops.
func (gt *GenerationTracker) Bump(slot uint32) {
	if slot >= uint32(len(gt.slots)) {
		return
	}
	gt.slots[slot].Add(1)
}

// Resize grows or shrinks the tracker. Generations of slots within
// [0, min(old, new)) are preserved; new slots start untouched; slots
// beyond the new capacity are dropped. The caller must guarantee no
// Load/Bump is in flight.
func (gt *GenerationTracker) Resize(newCapacity uint32) {
	old := gt.slots
	next := make([]atomic.Uint32, newCapacity)
	n := len(old)
	if int(newCapacity) < n {
		n = int(newCapacity)
	}
	for i := 0; i < n; i++ {
		next[i].Store(old[i].Load())
	}
	gt.slots = next
}

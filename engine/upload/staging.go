package upload

import (
	"fmt"

	"github.com/spaghettifunk/oxygen/engine/containers"
	"github.com/spaghettifunk/oxygen/engine/core"
	"github.com/spaghettifunk/oxygen/engine/renderer/metadata"
)

/**
 * @brief Hands out CPU-visible staging memory for upload batches. The
 * coordinator acquires one allocation per batch and the provider
 * decides how the bytes are recycled.
 */
type StagingProvider interface {
	/** @brief Returns a zeroed slice of at least size bytes. */
	Acquire(size uint64) ([]byte, error)
}

// SingleShotProvider allocates a fresh buffer per batch and lets the
// garbage collector reclaim it once the copy has been recorded. Simple
// and safe; the frame ring is the fast path.
type SingleShotProvider struct{}

func (SingleShotProvider) Acquire(size uint64) ([]byte, error) {
	return make([]byte, size), nil
}

type stagingFrame struct {
	buf   []byte
	fence metadata.FenceValue
}

/**
 * @brief Recycles a fixed set of per-frame staging slabs. Each frame
 * carves allocations linearly out of its slab; RetireFrame parks the
 * slab under the fence that covers its copies, and the slab is only
 * reused once the queue reports that fence complete.
 */
type FrameRingProvider struct {
	queue     metadata.CommandQueue
	frameSize uint64
	current   []byte
	head      uint64
	inFlight  *containers.RingQueue[stagingFrame]
	spare     []([]byte)
}

// NewFrameRingProvider builds a provider with frameCount slabs of
// frameSize bytes each, gated on the given queue's fence progress.
func NewFrameRingProvider(queue metadata.CommandQueue, frameCount int, frameSize uint64) *FrameRingProvider {
	if frameCount < 2 {
		frameCount = 2
	}
	p := &FrameRingProvider{
		queue:     queue,
		frameSize: frameSize,
		inFlight:  containers.NewRingQueue[stagingFrame](frameCount),
	}
	p.current = make([]byte, frameSize)
	for i := 1; i < frameCount; i++ {
		p.spare = append(p.spare, make([]byte, frameSize))
	}
	return p
}

func (p *FrameRingProvider) Acquire(size uint64) ([]byte, error) {
	if size > p.frameSize {
		return nil, fmt.Errorf("%w: staging request %d exceeds frame size %d", core.ErrExhausted, size, p.frameSize)
	}
	if p.head+size > p.frameSize {
		return nil, fmt.Errorf("%w: staging frame full (%d of %d used)", core.ErrExhausted, p.head, p.frameSize)
	}
	buf := p.current[p.head : p.head+size : p.head+size]
	for i := range buf {
		buf[i] = 0
	}
	p.head += size
	return buf, nil
}

// RetireFrame parks the current slab under fence and switches to a
// recycled one. Returns core.ErrNotReady when every other slab is still
// in flight on the GPU.
func (p *FrameRingProvider) RetireFrame(fence metadata.FenceValue) error {
	p.reclaimCompleted()
	next, ok := p.takeSpare()
	if !ok {
		return fmt.Errorf("%w: all staging frames in flight", core.ErrNotReady)
	}
	if err := p.inFlight.Enqueue(stagingFrame{buf: p.current, fence: fence}); err != nil {
		// Ring sized to frameCount; a full ring means reclaim fell behind.
		p.spare = append(p.spare, next)
		return fmt.Errorf("%w: staging ring full", core.ErrNotReady)
	}
	p.current = next
	p.head = 0
	return nil
}

func (p *FrameRingProvider) reclaimCompleted() {
	completed := p.queue.CompletedFence()
	for {
		frame, err := p.inFlight.Peek()
		if err != nil || frame.fence > completed {
			return
		}
		frame, _ = p.inFlight.Dequeue()
		p.spare = append(p.spare, frame.buf)
	}
}

func (p *FrameRingProvider) takeSpare() ([]byte, bool) {
	n := len(p.spare)
	if n == 0 {
		return nil, false
	}
	buf := p.spare[n-1]
	p.spare = p.spare[:n-1]
	return buf, true
}

// FrameBytesUsed reports how much of the current slab is carved out.
func (p *FrameRingProvider) FrameBytesUsed() uint64 {
	return p.head
}

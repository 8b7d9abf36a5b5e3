package upload

import (
	"fmt"

	"github.com/spaghettifunk/oxygen/engine/core"
	"github.com/spaghettifunk/oxygen/engine/renderer/metadata"
)

/**
 * @brief Tracks one submitted upload request. Completion is observed by
 * polling the upload queue's completed fence against Fence; tickets
 * carrying a non-nil Err failed before any GPU work was recorded.
 */
type Ticket struct {
	ID    uint64
	Fence metadata.FenceValue
	Err   error
}

/**
 * @brief Turns planned uploads into staging fills and recorded copy
 * commands on one queue. Not thread-safe; submission happens from a
 * single goroutine.
 */
type Coordinator struct {
	policy   Policy
	staging  StagingProvider
	recorder metadata.CopyRecorder
	queue    metadata.SubmitQueue
	nextID   uint64
}

func NewCoordinator(policy Policy, staging StagingProvider, recorder metadata.CopyRecorder, queue metadata.SubmitQueue) *Coordinator {
	return &Coordinator{
		policy:   policy.normalized(),
		staging:  staging,
		recorder: recorder,
		queue:    queue,
	}
}

func (c *Coordinator) issue() uint64 {
	c.nextID++
	return c.nextID
}

// IsComplete reports whether a ticket's work has finished on the GPU.
// Failed tickets are complete by definition.
func (c *Coordinator) IsComplete(t Ticket) bool {
	if t.Err != nil {
		return true
	}
	return c.queue.CompletedFence() >= t.Fence
}

// SubmitBuffers plans, stages and records a batch of buffer uploads,
// returning one ticket per request in input order. Invalid requests
// fail immediately; producer failures fail their request without
// touching the rest of the batch.
func (c *Coordinator) SubmitBuffers(requests []BufferRequest) ([]Ticket, error) {
	tickets := make([]Ticket, len(requests))
	for i := range tickets {
		tickets[i].ID = c.issue()
	}

	plan := PlanBuffers(c.policy, requests)
	planned := make(map[int]bool, len(plan.Items))
	for _, item := range plan.Items {
		for _, idx := range item.RequestIndices {
			planned[idx] = true
		}
	}
	for i := range requests {
		if !planned[i] {
			tickets[i].Err = fmt.Errorf("%w: buffer upload request %d dropped from plan", core.ErrInvalidRequest, i)
		}
	}
	if len(plan.Items) == 0 {
		return tickets, fmt.Errorf("%w: no valid buffer upload requests", core.ErrInvalidRequest)
	}

	staging, err := c.staging.Acquire(plan.TotalBytes)
	if err != nil {
		for i := range tickets {
			if tickets[i].Err == nil {
				tickets[i].Err = err
			}
		}
		return tickets, err
	}

	// Fill staging per planned item. At this point every item carries
	// exactly one request; merging happens after the fills so a failed
	// producer only voids its own item.
	live := plan.Items[:0]
	for _, item := range plan.Items {
		idx := item.RequestIndices[0]
		req := requests[idx]
		dst := staging[item.SrcOffset : item.SrcOffset+item.Size]
		switch {
		case req.Data != nil:
			if uint64(len(req.Data)) < item.Size {
				tickets[idx].Err = fmt.Errorf("%w: request %d supplies %d bytes for a %d byte upload", core.ErrInvalidRequest, idx, len(req.Data), item.Size)
				continue
			}
			copy(dst, req.Data[:item.Size])
		case req.Producer != nil:
			if !req.Producer(dst) {
				tickets[idx].Err = fmt.Errorf("%w: producer for request %d", core.ErrProducerFailed, idx)
				continue
			}
		default:
			tickets[idx].Err = fmt.Errorf("%w: request %d has neither data nor producer", core.ErrInvalidRequest, idx)
			continue
		}
		live = append(live, item)
	}
	if len(live) == 0 {
		return tickets, fmt.Errorf("%w: every buffer request in the batch failed", core.ErrProducerFailed)
	}
	plan.Items = live
	plan = OptimizeBuffers(plan)

	// One transition pair per destination wrapping all of its copies.
	var currentDst *metadata.BufferDesc
	for _, item := range plan.Items {
		if item.Dst != currentDst {
			if currentDst != nil {
				c.recorder.TransitionBuffer(currentDst, metadata.SteadyStateFor(currentDst.Usage))
			}
			currentDst = item.Dst
			c.recorder.TransitionBuffer(currentDst, metadata.ResourceStateCopyDest)
		}
		c.recorder.CopyBuffer(item.Dst, staging, metadata.BufferCopyRegion{
			DstOffset: item.DstOffset,
			SrcOffset: item.SrcOffset,
			Size:      item.Size,
		})
	}
	c.recorder.TransitionBuffer(currentDst, metadata.SteadyStateFor(currentDst.Usage))

	fence := c.queue.Signal()
	for i := range tickets {
		if tickets[i].Err == nil {
			tickets[i].Fence = fence
		}
	}
	return tickets, nil
}

/**
 * @brief One requested texture subresource upload with its bytes.
 * Data is tightly packed rows (blocks_x * bytes_per_block per row);
 * the coordinator repitches into staging. A producer instead receives
 * the pitched staging slice for the whole subresource.
 */
type TextureRequest struct {
	Subresource TextureSubresource
	Data        []byte
	Producer    func(dst []byte) bool
}

// SubmitTexture plans, stages and records uploads for a batch of
// subresources of one texture, returning one ticket per request in
// input order.
func (c *Coordinator) SubmitTexture(dst *metadata.TextureDesc, requests []TextureRequest) ([]Ticket, error) {
	tickets := make([]Ticket, len(requests))
	for i := range tickets {
		tickets[i].ID = c.issue()
	}
	if dst == nil {
		err := fmt.Errorf("%w: nil destination texture", core.ErrInvalidRequest)
		for i := range tickets {
			tickets[i].Err = err
		}
		return tickets, err
	}

	subs := make([]TextureSubresource, len(requests))
	for i, req := range requests {
		subs[i] = req.Subresource
	}
	plan, err := PlanTexture(c.policy, *dst, subs)
	if err != nil {
		for i := range tickets {
			tickets[i].Err = err
		}
		return tickets, err
	}
	planned := make(map[int]bool, len(plan.Regions))
	for _, region := range plan.Regions {
		planned[region.RequestIndex] = true
	}
	for i := range requests {
		if !planned[i] {
			tickets[i].Err = fmt.Errorf("%w: texture subresource %d dropped from plan", core.ErrInvalidRequest, i)
		}
	}
	for _, msg := range plan.Dropped {
		core.LogWarn("upload: texture %q: %s", dst.Name, msg)
	}

	staging, err := c.staging.Acquire(plan.TotalBytes)
	if err != nil {
		for i := range tickets {
			if tickets[i].Err == nil {
				tickets[i].Err = err
			}
		}
		return tickets, err
	}

	info, _ := metadata.InfoFor(dst.Format)
	var recorded []TextureRegion
	for _, region := range plan.Regions {
		idx := region.RequestIndex
		req := requests[idx]
		size := uint64(region.BufferSlicePitch) * uint64(region.Subresource.Depth)
		slab := staging[region.BufferOffset : region.BufferOffset+size]
		switch {
		case req.Data != nil:
			if err := repitch(slab, req.Data, region, info); err != nil {
				tickets[idx].Err = err
				continue
			}
		case req.Producer != nil:
			if !req.Producer(slab) {
				tickets[idx].Err = fmt.Errorf("%w: producer for subresource %d", core.ErrProducerFailed, idx)
				continue
			}
		default:
			tickets[idx].Err = fmt.Errorf("%w: subresource %d has neither data nor producer", core.ErrInvalidRequest, idx)
			continue
		}
		recorded = append(recorded, region)
	}
	if len(recorded) == 0 {
		return tickets, fmt.Errorf("%w: every texture request in the batch failed", core.ErrProducerFailed)
	}

	c.recorder.TransitionTexture(dst, metadata.ResourceStateCopyDest)
	for _, region := range recorded {
		c.recorder.CopyTexture(dst, staging, metadata.TextureCopyRegion{
			BufferOffset:     region.BufferOffset,
			BufferRowPitch:   region.BufferRowPitch,
			BufferSlicePitch: region.BufferSlicePitch,
			Mip:              region.Subresource.Mip,
			ArraySlice:       region.TextureSlice,
			X:                region.Subresource.X,
			Y:                region.Subresource.Y,
			Z:                region.Subresource.Z,
			Width:            region.Subresource.Width,
			Height:           region.Subresource.Height,
			Depth:            region.Subresource.Depth,
		})
	}
	c.recorder.TransitionTexture(dst, metadata.TextureSteadyStateFor(dst.Usage))

	fence := c.queue.Signal()
	for i := range tickets {
		if tickets[i].Err == nil {
			tickets[i].Fence = fence
		}
	}
	return tickets, nil
}

// repitch copies tightly packed source rows into the pitched staging
// layout of one subresource.
func repitch(slab []byte, data []byte, region TextureRegion, info metadata.FormatInfo) error {
	blocksX := metadata.BlocksCeil(region.Subresource.Width, info.BlockWidth)
	blocksY := metadata.BlocksCeil(region.Subresource.Height, info.BlockHeight)
	rowBytes := uint64(blocksX * info.BytesPerBlock)
	need := rowBytes * uint64(blocksY) * uint64(region.Subresource.Depth)
	if uint64(len(data)) < need {
		return fmt.Errorf("%w: subresource %d supplies %d bytes, needs %d", core.ErrInvalidRequest, region.RequestIndex, len(data), need)
	}
	src := uint64(0)
	for z := uint32(0); z < region.Subresource.Depth; z++ {
		sliceBase := uint64(z) * uint64(region.BufferSlicePitch)
		for y := uint32(0); y < blocksY; y++ {
			dstRow := sliceBase + uint64(y)*uint64(region.BufferRowPitch)
			copy(slab[dstRow:dstRow+rowBytes], data[src:src+rowBytes])
			src += rowBytes
		}
	}
	return nil
}

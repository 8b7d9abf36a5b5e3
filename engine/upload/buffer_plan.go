package upload

import (
	"github.com/spaghettifunk/oxygen/engine/renderer/metadata"
)

/**
 * @brief One requested buffer upload. Dst, DstOffset and Size drive
 * planning; Data or Producer supply the bytes at submission time.
 */
type BufferRequest struct {
	Dst       *metadata.BufferDesc
	DstOffset uint64
	Size      uint64
	/** @brief Source bytes; len must be at least Size when set. */
	Data []byte
	/** @brief Fills the staging slice; returning false fails the request. */
	Producer func(dst []byte) bool
}

// valid reports whether the request survives planning. Null
// destinations, zero sizes and writes past the end of the destination
// are dropped.
func (r BufferRequest) valid() bool {
	if r.Dst == nil || r.Size == 0 {
		return false
	}
	end := r.DstOffset + r.Size
	if end < r.DstOffset {
		return false
	}
	return end <= r.Dst.Size
}

/**
 * @brief One packed copy in a buffer plan. RequestIndices lists the
 * input requests the item represents, in plan order.
 */
type BufferItem struct {
	Dst            *metadata.BufferDesc
	DstOffset      uint64
	SrcOffset      uint64
	Size           uint64
	RequestIndices []int
}

/** @brief The staging layout for a batch of buffer uploads. */
type BufferPlan struct {
	Items []BufferItem
	/** @brief Total staging bytes the plan occupies, alignment included. */
	TotalBytes uint64
}

// PlanBuffers packs a batch of buffer requests into staging. Items are
// grouped by destination in first-appearance order and sorted by
// ascending destination offset within each group; every staging offset
// honors the policy's buffer copy alignment. Invalid requests are left
// out of the plan.
func PlanBuffers(policy Policy, requests []BufferRequest) BufferPlan {
	policy = policy.normalized()

	type group struct {
		dst   *metadata.BufferDesc
		items []BufferItem
	}
	var groups []*group
	byDst := make(map[*metadata.BufferDesc]*group)

	for i, req := range requests {
		if !req.valid() {
			continue
		}
		g, ok := byDst[req.Dst]
		if !ok {
			g = &group{dst: req.Dst}
			byDst[req.Dst] = g
			groups = append(groups, g)
		}
		g.items = append(g.items, BufferItem{
			Dst:            req.Dst,
			DstOffset:      req.DstOffset,
			Size:           req.Size,
			RequestIndices: []int{i},
		})
	}

	var plan BufferPlan
	var cursor uint64
	for _, g := range groups {
		// Insertion sort keeps equal offsets in submission order.
		items := g.items
		for i := 1; i < len(items); i++ {
			for j := i; j > 0 && items[j].DstOffset < items[j-1].DstOffset; j-- {
				items[j], items[j-1] = items[j-1], items[j]
			}
		}
		for _, item := range items {
			item.SrcOffset = metadata.AlignUp(cursor, policy.BufferCopyAlignment)
			cursor = item.SrcOffset + item.Size
			plan.Items = append(plan.Items, item)
		}
	}
	plan.TotalBytes = cursor
	return plan
}

// OptimizeBuffers merges adjacent plan items that target the same
// destination with contiguous destination offsets and contiguous
// staging offsets. Merged items concatenate their request indices in
// plan order. TotalBytes is unchanged.
func OptimizeBuffers(plan BufferPlan) BufferPlan {
	if len(plan.Items) < 2 {
		return plan
	}
	out := BufferPlan{
		Items:      make([]BufferItem, 0, len(plan.Items)),
		TotalBytes: plan.TotalBytes,
	}
	cur := plan.Items[0]
	cur.RequestIndices = append([]int(nil), cur.RequestIndices...)
	for _, next := range plan.Items[1:] {
		mergeable := cur.Dst == next.Dst &&
			cur.DstOffset+cur.Size == next.DstOffset &&
			cur.SrcOffset+cur.Size == next.SrcOffset
		if mergeable {
			cur.Size += next.Size
			cur.RequestIndices = append(cur.RequestIndices, next.RequestIndices...)
			continue
		}
		out.Items = append(out.Items, cur)
		cur = next
		cur.RequestIndices = append([]int(nil), cur.RequestIndices...)
	}
	out.Items = append(out.Items, cur)
	return out
}

package upload

import (
	"fmt"

	"github.com/spaghettifunk/oxygen/engine/core"
	"github.com/spaghettifunk/oxygen/engine/renderer/metadata"
)

/**
 * @brief One requested texture subresource upload. A zero-extent box
 * means the full subresource at its mip dimensions.
 */
type TextureSubresource struct {
	Mip        uint32
	ArraySlice uint32
	/** @brief Destination box origin in texels. */
	X, Y, Z uint32
	/** @brief Destination box extent in texels; all zero selects the full mip. */
	Width, Height, Depth uint32
}

func (s TextureSubresource) fullSubresource() bool {
	return s.Width == 0 && s.Height == 0 && s.Depth == 0
}

/** @brief The staging footprint planned for one texture subresource. */
type TextureRegion struct {
	/** @brief Placement offset of the subresource in staging. */
	BufferOffset uint64
	/** @brief Row pitch of the staged rows in bytes. */
	BufferRowPitch uint32
	/** @brief Slice pitch of the staged depth slices in bytes. */
	BufferSlicePitch uint32
	/** @brief Destination array slice. */
	TextureSlice uint32
	/** @brief The subresource box this region fills, extents resolved. */
	Subresource TextureSubresource
	/** @brief Index of the request that produced this region. */
	RequestIndex int
}

/** @brief The staging layout for a batch of texture subresource uploads. */
type TexturePlan struct {
	Regions []TextureRegion
	/** @brief Total staging bytes the plan occupies, placement included. */
	TotalBytes uint64
	/** @brief One message per dropped subresource. */
	Dropped []string
}

func mipExtent(base uint32, mip uint32) uint32 {
	e := base >> mip
	if e == 0 {
		return 1
	}
	return e
}

// PlanTexture lays out staging footprints for a batch of subresource
// uploads against one destination texture. Invalid subresources are
// dropped with a message in Dropped; planning only fails when the
// format is unknown or every subresource is invalid.
func PlanTexture(policy Policy, dst metadata.TextureDesc, subs []TextureSubresource) (TexturePlan, error) {
	policy = policy.normalized()

	info, ok := metadata.InfoFor(dst.Format)
	if !ok {
		return TexturePlan{}, fmt.Errorf("%w: texture %q has unknown format %d", core.ErrInvalidRequest, dst.Name, dst.Format)
	}
	if len(subs) == 0 {
		return TexturePlan{}, fmt.Errorf("%w: no subresources to plan", core.ErrInvalidRequest)
	}
	blockCompressed := metadata.IsBlockCompressed(dst.Format)

	var plan TexturePlan
	var cursor uint64
	for i, sub := range subs {
		if reason := validateSubresource(dst, sub, info, blockCompressed); reason != "" {
			plan.Dropped = append(plan.Dropped, fmt.Sprintf("subresource %d (mip %d, slice %d): %s", i, sub.Mip, sub.ArraySlice, reason))
			continue
		}

		resolved := sub
		if sub.fullSubresource() {
			resolved.Width = mipExtent(dst.Width, sub.Mip)
			resolved.Height = mipExtent(dst.Height, sub.Mip)
			resolved.Depth = 1
			if dst.TextureType == metadata.TextureType3D {
				resolved.Depth = mipExtent(dst.Depth, sub.Mip)
			}
		}

		blocksX := metadata.BlocksCeil(resolved.Width, info.BlockWidth)
		blocksY := metadata.BlocksCeil(resolved.Height, info.BlockHeight)
		rowPitch := metadata.AlignUp(blocksX*info.BytesPerBlock, policy.RowPitchAlignment)
		slicePitch := rowPitch * blocksY

		offset := metadata.AlignUp(cursor, policy.PlacementAlignment)
		cursor = offset + uint64(slicePitch)*uint64(resolved.Depth)

		plan.Regions = append(plan.Regions, TextureRegion{
			BufferOffset:     offset,
			BufferRowPitch:   rowPitch,
			BufferSlicePitch: slicePitch,
			TextureSlice:     resolved.ArraySlice,
			Subresource:      resolved,
			RequestIndex:     i,
		})
	}
	plan.TotalBytes = cursor

	if len(plan.Regions) == 0 {
		return plan, fmt.Errorf("%w: all %d subresources invalid", core.ErrInvalidRequest, len(subs))
	}
	return plan, nil
}

func validateSubresource(dst metadata.TextureDesc, sub TextureSubresource, info metadata.FormatInfo, blockCompressed bool) string {
	if dst.MipLevels > 0 && sub.Mip >= dst.MipLevels {
		return fmt.Sprintf("mip out of range (texture has %d)", dst.MipLevels)
	}
	if dst.ArraySize > 0 && sub.ArraySlice >= dst.ArraySize {
		return fmt.Sprintf("array slice out of range (texture has %d)", dst.ArraySize)
	}
	if sub.fullSubresource() {
		return ""
	}
	if sub.Width == 0 || sub.Height == 0 || sub.Depth == 0 {
		return "degenerate box"
	}
	mw := mipExtent(dst.Width, sub.Mip)
	mh := mipExtent(dst.Height, sub.Mip)
	md := uint32(1)
	if dst.TextureType == metadata.TextureType3D {
		md = mipExtent(dst.Depth, sub.Mip)
	}
	if sub.X+sub.Width > mw || sub.Y+sub.Height > mh || sub.Z+sub.Depth > md {
		return "box exceeds mip extent"
	}
	if blockCompressed {
		if sub.X%info.BlockWidth != 0 || sub.Y%info.BlockHeight != 0 ||
			sub.Width%info.BlockWidth != 0 || sub.Height%info.BlockHeight != 0 {
			return "partial box not block-aligned for compressed format"
		}
	}
	return ""
}

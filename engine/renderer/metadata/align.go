package metadata

import "golang.org/x/exp/constraints"

// AlignUp rounds v up to the next multiple of alignment. An alignment of
// zero or one leaves v unchanged.
func AlignUp[T constraints.Unsigned](v, alignment T) T {
	if alignment <= 1 {
		return v
	}
	rem := v % alignment
	if rem == 0 {
		return v
	}
	return v + alignment - rem
}

// BlocksCeil returns how many blocks of the given size cover extent texels.
func BlocksCeil(extent, blockSize uint32) uint32 {
	if blockSize <= 1 {
		return extent
	}
	return (extent + blockSize - 1) / blockSize
}

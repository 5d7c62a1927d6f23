package collcomm

import (
	"math/bits"

	"github.com/pkg/errors"
)

// ShiftedRank renumbers rank so that anchor becomes 0.
func ShiftedRank(rank, size, anchor int) int {
	return ((rank-anchor)%size + size) % size
}

// AbsoluteRank is the inverse of ShiftedRank.
func AbsoluteRank(shifted, size, anchor int) int {
	return (shifted + anchor) % size
}

// CheckRank returns an error wrapping ErrInvalidRank if
// rank is not in [0, size).
func CheckRank(rank, size int) error {
	if rank < 0 || rank >= size {
		return errors.Wrapf(ErrInvalidRank, "rank %d with group size %d", rank, size)
	}
	return nil
}

// IsPowerOfTwo checks if n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// CeilLog2 computes the number of doubling rounds needed to
// reach n ranks starting from one.
//
// CeilLog2(1) is 0.
func CeilLog2(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

// TopMultiplier is the distance between partners in the
// first round of a halving schedule over n ranks: half of
// the smallest power of two that is at least n.
//
// TopMultiplier(1) is 0, since there are no rounds.
func TopMultiplier(n int) int {
	if n <= 1 {
		return 0
	}
	return 1 << (CeilLog2(n) - 1)
}

// FlipBit returns the partner of rank across the given bit
// in a butterfly exchange.
func FlipBit(rank, bit int) int {
	return rank ^ bit
}

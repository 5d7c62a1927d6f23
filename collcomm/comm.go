// Package collcomm provides the messaging substrate that
// collective operations run on top of, along with the
// helpers shared by every collective algorithm.
package collcomm

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/dist-collectives/tensor"
)

var (
	// ErrInvalidRank is returned when a rank argument does
	// not name a member of the group.
	ErrInvalidRank = errors.New("invalid rank")

	// ErrUnsupportedOp is returned for a ReduceOp that is
	// not one of the supported operators.
	ErrUnsupportedOp = errors.New("unsupported reduction operator")

	// ErrNotPowerOfTwo is returned by algorithms that only
	// work when the group size is a power of two.
	ErrNotPowerOfTwo = errors.New("group size is not a power of two")
)

// A Comm is one rank's view of a fixed group of ranks that
// exchange tensors point to point.
//
// Send is buffered: the payload is copied before Send
// returns, and messages between a pair of ranks arrive in
// the order they were sent.
//
// Recv blocks for the next message from src and copies it
// into t. The message must have the same dtype and
// dimensions as t, or an error wrapping
// tensor.ErrShapeMismatch is returned.
//
// Barrier blocks until every rank in the group has
// entered it.
type Comm interface {
	Rank() int
	Size() int
	Send(t *tensor.Tensor, dst int) error
	Recv(t *tensor.Tensor, src int) error
	Barrier() error
}

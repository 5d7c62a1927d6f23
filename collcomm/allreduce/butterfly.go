package allreduce

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/dist-collectives/collcomm"
	"github.com/unixpickle/dist-collectives/tensor"
	"k8s.io/klog/v2"
)

// Butterfly exchanges partial results between partners
// that differ in one bit of their rank, from the most
// significant bit to the least significant bit.
//
// After log2(c.Size()) exchanges every rank holds the
// complete result. Both partners of an exchange combine
// the same two operands in the same order, so the result
// is bit-identical on every rank.
//
// The group size must be a power of two; otherwise every
// rank fails with collcomm.ErrNotPowerOfTwo before any
// communication takes place.
type Butterfly struct{}

// Allreduce combines t from every rank into t on every
// rank.
func (b Butterfly) Allreduce(c collcomm.Comm, t *tensor.Tensor, op collcomm.ReduceOp) error {
	fn, err := resolve(op, "butterfly")
	if err != nil {
		return err
	}
	size, rank := c.Size(), c.Rank()
	if !collcomm.IsPowerOfTwo(size) {
		return errors.Wrapf(collcomm.ErrNotPowerOfTwo, "butterfly allreduce with %d ranks", size)
	}
	klog.V(1).Infof("allreduce.Butterfly: rank %d, op %s", rank, op)

	var scratch *tensor.Tensor
	for bit := size / 2; bit >= 1; bit /= 2 {
		if scratch == nil {
			scratch = tensor.ZerosLike(t)
		}
		partner := collcomm.FlipBit(rank, bit)
		if err := c.Send(t, partner); err != nil {
			return errors.WithMessagef(err, "butterfly allreduce (bit=%d)", bit)
		}
		if err := c.Recv(scratch, partner); err != nil {
			return errors.WithMessagef(err, "butterfly allreduce (bit=%d)", bit)
		}
		if rank < partner {
			err = fn(t, scratch)
		} else {
			// Combine as partner op self so that both sides
			// round identically.
			err = fn(scratch, t)
			if err == nil {
				err = t.CopyFrom(scratch)
			}
		}
		if err != nil {
			return errors.WithMessagef(err, "butterfly allreduce (bit=%d)", bit)
		}
		klog.V(2).Infof("allreduce.Butterfly: rank %d exchanged with %d", rank, partner)
	}
	return errors.WithMessage(c.Barrier(), "butterfly allreduce")
}

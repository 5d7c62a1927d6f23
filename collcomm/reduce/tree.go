package reduce

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/dist-collectives/collcomm"
	"github.com/unixpickle/dist-collectives/tensor"
	"k8s.io/klog/v2"
)

// Tree halves the number of ranks holding partial results
// every round.
//
// In the round with multiplier m, every shifted rank s < m
// receives the partial result of s+m (if that rank exists)
// and combines it into its own, while ranks m <= s < 2m
// send theirs and drop out.
// A single barrier ends the operation.
type Tree struct{}

// Reduce combines t from every rank into t on rank dst.
func (tr Tree) Reduce(c collcomm.Comm, t *tensor.Tensor, dst int, op collcomm.ReduceOp) error {
	fn, err := prepare(c, dst, op, "tree")
	if err != nil {
		return err
	}
	size := c.Size()
	s := collcomm.ShiftedRank(c.Rank(), size, dst)
	klog.V(1).Infof("reduce.Tree: rank %d, dst %d, op %s", c.Rank(), dst, op)

	acc := t
	if s != 0 {
		acc = t.Clone()
	}
	var scratch *tensor.Tensor
	for m := collcomm.TopMultiplier(size); m >= 1; m /= 2 {
		if s < m {
			if s+m >= size {
				continue
			}
			if scratch == nil {
				scratch = tensor.ZerosLike(t)
			}
			if err := c.Recv(scratch, collcomm.AbsoluteRank(s+m, size, dst)); err != nil {
				return errors.WithMessagef(err, "tree reduce (m=%d)", m)
			}
			if err := fn(acc, scratch); err != nil {
				return errors.WithMessagef(err, "tree reduce (m=%d)", m)
			}
			klog.V(2).Infof("reduce.Tree: rank %d combined round m=%d", c.Rank(), m)
		} else if s < 2*m {
			if err := c.Send(acc, collcomm.AbsoluteRank(s-m, size, dst)); err != nil {
				return errors.WithMessagef(err, "tree reduce (m=%d)", m)
			}
		}
	}
	return errors.WithMessage(c.Barrier(), "tree reduce")
}

package reduce

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/dist-collectives/collcomm"
	"github.com/unixpickle/dist-collectives/tensor"
	"k8s.io/klog/v2"
)

// Naive has every rank send its tensor straight to the
// destination, one rank per step, with a barrier after
// every step and one more at the end.
type Naive struct{}

// Reduce combines t from every rank into t on rank dst.
func (n Naive) Reduce(c collcomm.Comm, t *tensor.Tensor, dst int, op collcomm.ReduceOp) error {
	fn, err := prepare(c, dst, op, "naive")
	if err != nil {
		return err
	}
	rank := c.Rank()
	klog.V(1).Infof("reduce.Naive: rank %d, dst %d, op %s", rank, dst, op)

	var scratch *tensor.Tensor
	if rank == dst {
		scratch = tensor.ZerosLike(t)
	}
	for i := 0; i < c.Size(); i++ {
		if i == dst {
			continue
		}
		if rank == i {
			if err := c.Send(t, dst); err != nil {
				return errors.WithMessage(err, "naive reduce")
			}
		} else if rank == dst {
			if err := c.Recv(scratch, i); err != nil {
				return errors.WithMessage(err, "naive reduce")
			}
			if err := fn(t, scratch); err != nil {
				return errors.WithMessage(err, "naive reduce")
			}
		}
		if err := c.Barrier(); err != nil {
			return errors.WithMessage(err, "naive reduce")
		}
	}
	return errors.WithMessage(c.Barrier(), "naive reduce")
}

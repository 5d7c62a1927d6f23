package gather

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/dist-collectives/collcomm"
	"github.com/unixpickle/dist-collectives/tensor"
	"k8s.io/klog/v2"
)

// Naive has every rank send its chunk straight to the
// destination, which receives them in rank order directly
// into their slots.
type Naive struct{}

// Gather stacks send from every rank into recv on dst.
func (n Naive) Gather(c collcomm.Comm, send, recv *tensor.Tensor, dst int) error {
	k, err := checkArgs(c, send, recv, dst, "naive")
	if err != nil {
		return err
	}
	rank := c.Rank()
	klog.V(1).Infof("gather.Naive: rank %d, dst %d", rank, dst)

	if rank != dst {
		if err := c.Send(send, dst); err != nil {
			return errors.WithMessage(err, "naive gather")
		}
	} else {
		if err := chunk(recv, rank, k).CopyFrom(send); err != nil {
			return errors.WithMessage(err, "naive gather")
		}
		for i := 0; i < c.Size(); i++ {
			if i == dst {
				continue
			}
			if err := c.Recv(chunk(recv, i, k), i); err != nil {
				return errors.WithMessage(err, "naive gather")
			}
		}
	}
	return errors.WithMessage(c.Barrier(), "naive gather")
}

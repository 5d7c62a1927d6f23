package bcast

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/dist-collectives/collcomm"
	"github.com/unixpickle/dist-collectives/tensor"
	"k8s.io/klog/v2"
)

// Naive sends the tensor straight from the source to every
// other rank, in increasing rank order.
type Naive struct{}

// Broadcast copies t from src to every rank.
func (n Naive) Broadcast(c collcomm.Comm, t *tensor.Tensor, src int) error {
	if err := checkSource(c, src, "naive"); err != nil {
		return err
	}
	klog.V(1).Infof("bcast.Naive: rank %d, src %d", c.Rank(), src)
	if c.Rank() != src {
		return errors.WithMessage(c.Recv(t, src), "naive broadcast")
	}
	for i := 0; i < c.Size(); i++ {
		if i == src {
			continue
		}
		if err := c.Send(t, i); err != nil {
			return errors.WithMessage(err, "naive broadcast")
		}
	}
	return nil
}

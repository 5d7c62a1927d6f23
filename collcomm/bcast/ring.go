package bcast

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/dist-collectives/collcomm"
	"github.com/unixpickle/dist-collectives/tensor"
	"k8s.io/klog/v2"
)

// Ring passes the tensor along the ranks in shifted order,
// one hop per step, with a barrier after every step.
type Ring struct{}

// Broadcast copies t from src to every rank.
func (r Ring) Broadcast(c collcomm.Comm, t *tensor.Tensor, src int) error {
	if err := checkSource(c, src, "ring"); err != nil {
		return err
	}
	size := c.Size()
	s := collcomm.ShiftedRank(c.Rank(), size, src)
	klog.V(1).Infof("bcast.Ring: rank %d, src %d", c.Rank(), src)

	for i := 1; i < size; i++ {
		if s == i-1 {
			if err := c.Send(t, collcomm.AbsoluteRank(i, size, src)); err != nil {
				return errors.WithMessagef(err, "ring broadcast (step %d)", i)
			}
		} else if s == i {
			if err := c.Recv(t, collcomm.AbsoluteRank(i-1, size, src)); err != nil {
				return errors.WithMessagef(err, "ring broadcast (step %d)", i)
			}
		}
		if err := c.Barrier(); err != nil {
			return errors.WithMessagef(err, "ring broadcast (step %d)", i)
		}
	}
	return nil
}

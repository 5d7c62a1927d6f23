package bcast

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/dist-collectives/collcomm"
	"github.com/unixpickle/dist-collectives/tensor"
	"k8s.io/klog/v2"
)

// Tree doubles the number of ranks holding the data every
// round, so that the broadcast finishes in
// CeilLog2(c.Size()) rounds.
//
// In the round with multiplier m, every shifted rank s < m
// forwards the data to s+m, if that rank exists.
// Each round ends with a barrier.
type Tree struct{}

// Broadcast copies t from src to every rank.
func (tr Tree) Broadcast(c collcomm.Comm, t *tensor.Tensor, src int) error {
	if err := checkSource(c, src, "tree"); err != nil {
		return err
	}
	size := c.Size()
	s := collcomm.ShiftedRank(c.Rank(), size, src)
	klog.V(1).Infof("bcast.Tree: rank %d, src %d", c.Rank(), src)

	for m := 1; m < size; m *= 2 {
		if s < m {
			if s+m < size {
				dst := collcomm.AbsoluteRank(s+m, size, src)
				if err := c.Send(t, dst); err != nil {
					return errors.WithMessagef(err, "tree broadcast (m=%d)", m)
				}
			}
		} else if s < 2*m {
			peer := collcomm.AbsoluteRank(s-m, size, src)
			if err := c.Recv(t, peer); err != nil {
				return errors.WithMessagef(err, "tree broadcast (m=%d)", m)
			}
		}
		klog.V(2).Infof("bcast.Tree: rank %d finished round m=%d", c.Rank(), m)
		if err := c.Barrier(); err != nil {
			return errors.WithMessagef(err, "tree broadcast (m=%d)", m)
		}
	}
	return nil
}

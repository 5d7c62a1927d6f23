package allreduce

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/dist-collectives/collcomm"
	"github.com/unixpickle/dist-collectives/collcomm/bcast"
	"github.com/unixpickle/dist-collectives/collcomm/reduce"
	"github.com/unixpickle/dist-collectives/tensor"
	"k8s.io/klog/v2"
)

// Naive reduces every tensor onto rank 0 and then
// broadcasts the result from rank 0.
type Naive struct {
	// Reducer is used for the first phase.
	// If nil, reduce.Naive is used.
	Reducer reduce.Reducer

	// Broadcaster is used for the second phase.
	// If nil, bcast.Naive is used.
	Broadcaster bcast.Broadcaster
}

// Allreduce combines t from every rank into t on every
// rank.
func (n Naive) Allreduce(c collcomm.Comm, t *tensor.Tensor, op collcomm.ReduceOp) error {
	if _, err := resolve(op, "naive"); err != nil {
		return err
	}
	reducer := n.Reducer
	if reducer == nil {
		reducer = reduce.Naive{}
	}
	broadcaster := n.Broadcaster
	if broadcaster == nil {
		broadcaster = bcast.Naive{}
	}
	klog.V(1).Infof("allreduce.Naive: rank %d, op %s", c.Rank(), op)
	if err := reducer.Reduce(c, t, 0, op); err != nil {
		return errors.WithMessage(err, "naive allreduce")
	}
	return errors.WithMessage(broadcaster.Broadcast(c, t, 0), "naive allreduce")
}

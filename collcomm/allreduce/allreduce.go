// Package allreduce implements algorithms for combining
// tensors across every rank of a group, leaving the result
// on all of them.
package allreduce

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/dist-collectives/collcomm"
	"github.com/unixpickle/dist-collectives/tensor"
)

// An Allreducer is an algorithm that combines t from every
// rank with op and stores the result in t on every rank.
//
// Every rank must call Allreduce with the same op and a
// tensor of the same dtype and dimensions.
type Allreducer interface {
	Allreduce(c collcomm.Comm, t *tensor.Tensor, op collcomm.ReduceOp) error
}

func resolve(op collcomm.ReduceOp, name string) (tensor.BinaryFunc, error) {
	fn, err := op.Func()
	if err != nil {
		return nil, errors.WithMessagef(err, "%s allreduce", name)
	}
	return fn, nil
}

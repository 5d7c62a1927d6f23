// Package reduce implements algorithms for combining
// tensors from every rank of a group onto a single rank.
package reduce

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/dist-collectives/collcomm"
	"github.com/unixpickle/dist-collectives/tensor"
)

// A Reducer is an algorithm that combines t from every
// rank with op and stores the result in t on rank dst.
//
// Every rank must call Reduce with the same dst, the same
// op, and a tensor of the same dtype and dimensions.
// The contents of t on ranks other than dst are left
// unchanged.
type Reducer interface {
	Reduce(c collcomm.Comm, t *tensor.Tensor, dst int, op collcomm.ReduceOp) error
}

// prepare validates the arguments shared by every Reducer
// and resolves op.
func prepare(c collcomm.Comm, dst int, op collcomm.ReduceOp, name string) (tensor.BinaryFunc, error) {
	if err := collcomm.CheckRank(dst, c.Size()); err != nil {
		return nil, errors.WithMessagef(err, "%s reduce", name)
	}
	fn, err := op.Func()
	if err != nil {
		return nil, errors.WithMessagef(err, "%s reduce", name)
	}
	return fn, nil
}

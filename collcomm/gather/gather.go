// Package gather implements algorithms for collecting a
// chunk from every rank of a group into one tensor on a
// single rank.
package gather

import (
	"slices"

	"github.com/pkg/errors"
	"github.com/unixpickle/dist-collectives/collcomm"
	"github.com/unixpickle/dist-collectives/tensor"
)

// A Gatherer is an algorithm that stacks the send tensors
// of every rank, in rank order, into recv on rank dst.
//
// Every rank's send must have the same dtype and
// dimensions [k, ...]. On dst, recv must have the same
// dtype and dimensions [k*c.Size(), ...], and on return
// recv.Rows(r*k, (r+1)*k) holds the send tensor of rank r.
// On other ranks recv is ignored and may be nil.
type Gatherer interface {
	Gather(c collcomm.Comm, send, recv *tensor.Tensor, dst int) error
}

// checkArgs validates the arguments shared by every
// Gatherer and returns the number of rows per chunk.
func checkArgs(c collcomm.Comm, send, recv *tensor.Tensor, dst int, name string) (int, error) {
	if err := collcomm.CheckRank(dst, c.Size()); err != nil {
		return 0, errors.WithMessagef(err, "%s gather", name)
	}
	if send.Rank() == 0 {
		return 0, errors.Wrapf(tensor.ErrShapeMismatch, "%s gather: send tensor %s has no leading axis",
			name, send.Shape())
	}
	k := send.Dims()[0]
	if c.Rank() == dst {
		dims := gatheredDims(send, c.Size())
		if recv == nil || recv.DType() != send.DType() || !slices.Equal(recv.Dims(), dims) {
			actual := "nil"
			if recv != nil {
				actual = recv.Shape()
			}
			return 0, errors.Wrapf(tensor.ErrShapeMismatch, "%s gather: recv tensor is %s, expected %s%v",
				name, actual, send.DType(), dims)
		}
	}
	return k, nil
}

func gatheredDims(send *tensor.Tensor, size int) []int {
	dims := send.Dims()
	dims[0] *= size
	return dims
}

// chunk returns the rows of a gathered tensor that belong
// to rank r.
func chunk(t *tensor.Tensor, r, k int) *tensor.Tensor {
	return t.Rows(r*k, (r+1)*k)
}

package gather

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/dist-collectives/collcomm"
	"github.com/unixpickle/dist-collectives/tensor"
	"k8s.io/klog/v2"
)

// Tree merges chunks along a binomial tree rooted at the
// destination.
//
// Every rank keeps an aggregation buffer with room for the
// chunks of the whole group. In the round with multiplier
// m, every shifted rank s < m receives the buffer of s+m
// (if that rank exists) and copies in the chunks that rank
// holds, while ranks m <= s < 2m send their buffer and
// drop out. Each rank sends exactly once.
// A single barrier ends the operation.
type Tree struct{}

// Gather stacks send from every rank into recv on dst.
func (tr Tree) Gather(c collcomm.Comm, send, recv *tensor.Tensor, dst int) error {
	k, err := checkArgs(c, send, recv, dst, "tree")
	if err != nil {
		return err
	}
	rank, size := c.Rank(), c.Size()
	s := collcomm.ShiftedRank(rank, size, dst)
	klog.V(1).Infof("gather.Tree: rank %d, dst %d", rank, dst)

	agg := recv
	if rank != dst {
		agg = tensor.New(send.DType(), gatheredDims(send, size)...)
	}
	if err := chunk(agg, rank, k).CopyFrom(send); err != nil {
		return errors.WithMessage(err, "tree gather")
	}

	var scratch *tensor.Tensor
	for m := collcomm.TopMultiplier(size); m >= 1; m /= 2 {
		if s < m {
			if s+m >= size {
				continue
			}
			if scratch == nil {
				scratch = tensor.ZerosLike(agg)
			}
			if err := c.Recv(scratch, collcomm.AbsoluteRank(s+m, size, dst)); err != nil {
				return errors.WithMessagef(err, "tree gather (m=%d)", m)
			}
			for _, q := range HeldRanks(s+m, m, size) {
				r := collcomm.AbsoluteRank(q, size, dst)
				if err := chunk(agg, r, k).CopyFrom(chunk(scratch, r, k)); err != nil {
					return errors.WithMessagef(err, "tree gather (m=%d)", m)
				}
			}
			klog.V(2).Infof("gather.Tree: rank %d merged round m=%d", rank, m)
		} else if s < 2*m {
			if err := c.Send(agg, collcomm.AbsoluteRank(s-m, size, dst)); err != nil {
				return errors.WithMessagef(err, "tree gather (m=%d)", m)
			}
		}
	}
	return errors.WithMessage(c.Barrier(), "tree gather")
}

// HeldRanks returns the shifted ranks whose chunks are
// held by shifted rank q when it sends its aggregation
// buffer in the round with multiplier m, out of n ranks.
//
// These are q itself and every rank that merged into q in
// an earlier round: {q + j*2m : j >= 0, q + j*2m < n}.
func HeldRanks(q, m, n int) []int {
	var res []int
	for r := q; r < n; r += 2 * m {
		res = append(res, r)
	}
	return res
}

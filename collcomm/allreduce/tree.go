package allreduce

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/dist-collectives/collcomm"
	"github.com/unixpickle/dist-collectives/tensor"
	"k8s.io/klog/v2"
)

// Tree arranges the ranks in a binary tree and performs a
// reduction by going up the tree to the root, rank 0, and
// then back down the tree to the leaves.
type Tree struct{}

// Allreduce combines t along a tree and leaves the result
// in t on every rank.
func (tr Tree) Allreduce(c collcomm.Comm, t *tensor.Tensor, op collcomm.ReduceOp) error {
	fn, err := resolve(op, "tree")
	if err != nil {
		return err
	}
	parent, children := positionInTree(c.Rank(), c.Size())
	klog.V(1).Infof("allreduce.Tree: rank %d, parent %d, children %v", c.Rank(), parent, children)

	if len(children) > 0 {
		scratch := tensor.ZerosLike(t)
		for _, child := range children {
			if err := c.Recv(scratch, child); err != nil {
				return errors.WithMessage(err, "tree allreduce")
			}
			if err := fn(t, scratch); err != nil {
				return errors.WithMessage(err, "tree allreduce")
			}
		}
	}

	if parent >= 0 {
		if err := c.Send(t, parent); err != nil {
			return errors.WithMessage(err, "tree allreduce")
		}
		if err := c.Recv(t, parent); err != nil {
			return errors.WithMessage(err, "tree allreduce")
		}
	}

	for _, child := range children {
		if err := c.Send(t, child); err != nil {
			return errors.WithMessage(err, "tree allreduce")
		}
	}

	return errors.WithMessage(c.Barrier(), "tree allreduce")
}

// positionInTree returns the parent and children of a
// rank in a binary tree laid out in breadth-first order.
//
// There may be no children.
// The parent of the root is -1.
func positionInTree(rank, size int) (parent int, children []int) {
	parent = -1
	if rank > 0 {
		parent = (rank - 1) / 2
	}
	for _, child := range []int{2*rank + 1, 2*rank + 2} {
		if child < size {
			children = append(children, child)
		}
	}
	return
}

// Package bcast implements algorithms for copying a tensor
// from one rank to every other rank in a group.
package bcast

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/dist-collectives/collcomm"
	"github.com/unixpickle/dist-collectives/tensor"
)

// A Broadcaster is an algorithm that overwrites t on every
// rank with the contents of t on rank src.
//
// Every rank must call Broadcast with the same src and a
// tensor of the same dtype and dimensions.
type Broadcaster interface {
	Broadcast(c collcomm.Comm, t *tensor.Tensor, src int) error
}

func checkSource(c collcomm.Comm, src int, name string) error {
	if err := collcomm.CheckRank(src, c.Size()); err != nil {
		return errors.WithMessagef(err, "%s broadcast", name)
	}
	return nil
}

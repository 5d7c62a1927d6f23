// Package catalog names every collective algorithm so that
// commands can select one at run time.
package catalog

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/unixpickle/dist-collectives/collcomm"
	"github.com/unixpickle/dist-collectives/collcomm/allreduce"
	"github.com/unixpickle/dist-collectives/collcomm/bcast"
	"github.com/unixpickle/dist-collectives/collcomm/gather"
	"github.com/unixpickle/dist-collectives/collcomm/reduce"
	"github.com/unixpickle/dist-collectives/tensor"
)

// A RunFunc runs a collective with the given root and
// operator on one rank's input.
//
// It returns the tensor holding the result on this rank,
// or nil if the collective leaves no result on this rank.
// Collectives without a root or an operator ignore them.
type RunFunc func(c collcomm.Comm, input *tensor.Tensor, root int, op collcomm.ReduceOp) (*tensor.Tensor, error)

// A Collective is a named algorithm.
type Collective struct {
	Name string
	Run  RunFunc

	// PowerOfTwo is set for algorithms that only support
	// groups whose size is a power of two.
	PowerOfTwo bool
}

var collectives = map[string]Collective{}

func register(name string, run RunFunc) {
	collectives[name] = Collective{Name: name, Run: run}
}

func init() {
	for name, b := range map[string]bcast.Broadcaster{
		"bcast-naive": bcast.Naive{},
		"bcast-tree":  bcast.Tree{},
		"bcast-ring":  bcast.Ring{},
	} {
		register(name, func(c collcomm.Comm, input *tensor.Tensor, root int, _ collcomm.ReduceOp) (*tensor.Tensor, error) {
			res := input.Clone()
			return res, b.Broadcast(c, res, root)
		})
	}
	for name, r := range map[string]reduce.Reducer{
		"reduce-naive": reduce.Naive{},
		"reduce-tree":  reduce.Tree{},
	} {
		register(name, func(c collcomm.Comm, input *tensor.Tensor, root int, op collcomm.ReduceOp) (*tensor.Tensor, error) {
			res := input.Clone()
			if err := r.Reduce(c, res, root, op); err != nil || c.Rank() != root {
				return nil, err
			}
			return res, nil
		})
	}
	for name, a := range map[string]allreduce.Allreducer{
		"allreduce-naive":     allreduce.Naive{},
		"allreduce-tree":      allreduce.Tree{},
		"allreduce-butterfly": allreduce.Butterfly{},
	} {
		register(name, func(c collcomm.Comm, input *tensor.Tensor, _ int, op collcomm.ReduceOp) (*tensor.Tensor, error) {
			res := input.Clone()
			return res, a.Allreduce(c, res, op)
		})
	}
	for name, g := range map[string]gather.Gatherer{
		"gather-naive": gather.Naive{},
		"gather-tree":  gather.Tree{},
	} {
		register(name, func(c collcomm.Comm, input *tensor.Tensor, root int, _ collcomm.ReduceOp) (*tensor.Tensor, error) {
			if input.Rank() == 0 {
				input = tensor.FromValues(input.DType(), input.Values(), 1)
			}
			var recv *tensor.Tensor
			if c.Rank() == root {
				dims := input.Dims()
				dims[0] *= c.Size()
				recv = tensor.New(input.DType(), dims...)
			}
			if err := g.Gather(c, input, recv, root); err != nil {
				return nil, err
			}
			return recv, nil
		})
	}
	butterfly := collectives["allreduce-butterfly"]
	butterfly.PowerOfTwo = true
	collectives["allreduce-butterfly"] = butterfly
}

// Names lists every collective in sorted order.
func Names() []string {
	var res []string
	for name := range collectives {
		res = append(res, name)
	}
	sort.Strings(res)
	return res
}

// Lookup finds a collective by name.
func Lookup(name string) (Collective, error) {
	if c, ok := collectives[name]; ok {
		return c, nil
	}
	return Collective{}, errors.Errorf("unknown collective %q (options: %s)", name,
		strings.Join(Names(), ", "))
}

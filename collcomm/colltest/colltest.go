// Package colltest runs collective operations on simulated
// groups of ranks and checks their results.
package colltest

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/unixpickle/dist-collectives/collcomm"
	"github.com/unixpickle/dist-collectives/simulator"
	"github.com/unixpickle/dist-collectives/tensor"
)

// Sizes is the set of group sizes every algorithm is
// tested with.
var Sizes = []int{1, 2, 3, 4, 5, 8, 13, 16}

// A Setup describes a simulated group of ranks.
type Setup struct {
	NumNodes int

	// Random selects a simulator.RandomNetwork, which may
	// reorder messages.
	Random bool

	// Switched selects a simulator.SwitcherNetwork, where
	// concurrent transfers share each NIC's bandwidth and
	// messages on one link may overtake each other.
	Switched bool

	Seed int64
}

// Setups returns a Setup for every size, once on each kind
// of network.
func Setups(sizes ...int) []Setup {
	var res []Setup
	for _, n := range sizes {
		res = append(res,
			Setup{NumNodes: n, Seed: int64(n)},
			Setup{NumNodes: n, Random: true, Seed: int64(n)},
			Setup{NumNodes: n, Switched: true, Seed: int64(n)},
		)
	}
	return res
}

func (s Setup) String() string {
	return fmt.Sprintf("Nodes=%d,Net=%s", s.NumNodes, s.networkName())
}

func (s Setup) networkName() string {
	switch {
	case s.Random:
		return "random"
	case s.Switched:
		return "switched"
	default:
		return "link"
	}
}

// Network creates the network described by s.
// Unless Random or Switched is set, it is a uniform
// simulator.LinkNetwork.
func (s Setup) Network(nodes []*simulator.Node) simulator.Network {
	switch {
	case s.Random:
		return simulator.RandomNetwork{MaxLatency: 0.1}
	case s.Switched:
		return simulator.NewSwitcherNetwork(simulator.NewGreedyDropSwitcher(len(nodes), 1e6), nodes, 1e-3)
	default:
		return simulator.NewUniformLinkNetwork(nodes, 1e6, 1e-3)
	}
}

// An Outcome collects what every rank did during a Run.
type Outcome struct {
	// Errors holds the error returned on each rank.
	Errors []error

	// Counters holds each rank's traffic counts.
	Counters []*collcomm.Counter

	// Time is the virtual time at which the last rank
	// finished.
	Time float64
}

// Run spawns the group and calls f on every rank with a
// Counter wrapping that rank's Comms.
//
// The returned error is the event loop's error, which
// wraps simulator.ErrDeadlock if the ranks hang.
func (s Setup) Run(f func(c collcomm.Comm) error) (*Outcome, error) {
	loop := simulator.NewEventLoopSeed(s.Seed)
	nodes := simulator.NewNodes(s.NumNodes)
	network := s.Network(nodes)
	outcome := &Outcome{
		Errors:   make([]error, s.NumNodes),
		Counters: make([]*collcomm.Counter, s.NumNodes),
	}
	collcomm.SpawnComms(loop, network, nodes, func(c *collcomm.Comms) {
		counter := collcomm.NewCounter(c)
		outcome.Counters[c.Rank()] = counter
		outcome.Errors[c.Rank()] = f(counter)
	})
	err := loop.Run()
	outcome.Time = loop.Time()
	return outcome, err
}

// MustRun is like Run, but it fails the test if the loop
// deadlocks or any rank returns an error.
func (s Setup) MustRun(t testing.TB, f func(c collcomm.Comm) error) *Outcome {
	outcome, err := s.Run(f)
	require.NoError(t, err)
	for rank, err := range outcome.Errors {
		require.NoError(t, err, "rank %d", rank)
	}
	return outcome
}

// Input creates the deterministic input of a rank.
//
// Elements are small integers in [-1, 2], so sums and
// products over up to 16 ranks are exact in every dtype
// except Float16 products.
func Input(dtype tensor.DType, rank int, dims ...int) *tensor.Tensor {
	t := tensor.New(dtype, dims...)
	for i := 0; i < t.Size(); i++ {
		t.SetValue(i, float64((rank*3+i)%4-1))
	}
	return t
}

// Inputs creates Input for every rank in a group.
func Inputs(dtype tensor.DType, numNodes int, dims ...int) []*tensor.Tensor {
	res := make([]*tensor.Tensor, numNodes)
	for i := range res {
		res[i] = Input(dtype, i, dims...)
	}
	return res
}

// RandomInputs creates normally distributed Float64 inputs
// for every rank in a group.
func RandomInputs(rng *rand.Rand, numNodes int, dims ...int) []*tensor.Tensor {
	res := make([]*tensor.Tensor, numNodes)
	for i := range res {
		res[i] = tensor.New(tensor.Float64, dims...)
		for j := 0; j < res[i].Size(); j++ {
			res[i].SetValue(j, rng.NormFloat64())
		}
	}
	return res
}

// CloneAll deep copies every tensor.
func CloneAll(ts []*tensor.Tensor) []*tensor.Tensor {
	res := make([]*tensor.Tensor, len(ts))
	for i, t := range ts {
		res[i] = t.Clone()
	}
	return res
}

// Reduce combines inputs sequentially in rank order.
func Reduce(t testing.TB, op collcomm.ReduceOp, inputs []*tensor.Tensor) *tensor.Tensor {
	fn, err := op.Func()
	require.NoError(t, err)
	res := inputs[0].Clone()
	for _, x := range inputs[1:] {
		require.NoError(t, fn(res, x))
	}
	return res
}

// Concat stacks inputs along their leading axis, in rank
// order.
func Concat(inputs []*tensor.Tensor) *tensor.Tensor {
	dims := inputs[0].Dims()
	k := dims[0]
	dims[0] *= len(inputs)
	res := tensor.New(inputs[0].DType(), dims...)
	for i, x := range inputs {
		if err := res.Rows(i*k, (i+1)*k).CopyFrom(x); err != nil {
			panic(err)
		}
	}
	return res
}

// RequireEqual checks that actual matches expected bit for
// bit.
func RequireEqual(t testing.TB, expected, actual *tensor.Tensor, msgAndArgs ...any) {
	if !tensor.Equal(expected, actual) {
		require.Fail(t, fmt.Sprintf("expected %v but got %v", expected, actual), msgAndArgs...)
	}
}

// RequireClose checks that actual matches expected up to
// floating point error.
func RequireClose(t testing.TB, expected, actual *tensor.Tensor, msgAndArgs ...any) {
	if !tensor.AllClose(actual, expected, 1e-5, 1e-8) {
		require.Fail(t, fmt.Sprintf("expected %v but got %v", expected, actual), msgAndArgs...)
	}
}

package allreduce

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/dist-collectives/collcomm"
	"github.com/unixpickle/dist-collectives/collcomm/bcast"
	"github.com/unixpickle/dist-collectives/collcomm/colltest"
	"github.com/unixpickle/dist-collectives/collcomm/reduce"
	"github.com/unixpickle/dist-collectives/tensor"
)

var powersOfTwo = []int{1, 2, 4, 8, 16}

func TestNaive(t *testing.T) {
	RunAllreducerTests(t, Naive{}, colltest.Sizes...)
}

func TestNaiveTreePhases(t *testing.T) {
	RunAllreducerTests(t, Naive{Reducer: reduce.Tree{}, Broadcaster: bcast.Tree{}}, 5, 8, 13)
}

func TestTree(t *testing.T) {
	RunAllreducerTests(t, Tree{}, colltest.Sizes...)
}

func TestButterfly(t *testing.T) {
	RunAllreducerTests(t, Butterfly{}, powersOfTwo...)
}

func TestAllreduceSwitchedNetwork(t *testing.T) {
	allreducers := map[string]Allreducer{
		"Naive": Naive{},
		"Tree":  Tree{},
	}
	for name, reducer := range allreducers {
		for _, n := range []int{4, 5, 16} {
			t.Run(fmt.Sprintf("%s/Nodes=%d", name, n), func(t *testing.T) {
				setup := colltest.Setup{NumNodes: n, Switched: true}
				inputs := colltest.Inputs(tensor.Float64, n, 1000)
				results := colltest.CloneAll(inputs)
				outcome := setup.MustRun(t, func(c collcomm.Comm) error {
					return reducer.Allreduce(c, results[c.Rank()], collcomm.ReduceOpSum)
				})
				expected := colltest.Reduce(t, collcomm.ReduceOpSum, inputs)
				for rank, res := range results {
					colltest.RequireEqual(t, expected, res, "rank %d", rank)
				}
				require.Greater(t, outcome.Time, 0.0)
			})
		}
	}
}

func TestButterflyRounds(t *testing.T) {
	for _, n := range powersOfTwo {
		t.Run(fmt.Sprintf("Nodes=%d", n), func(t *testing.T) {
			setup := colltest.Setup{NumNodes: n}
			outcome := setup.MustRun(t, func(c collcomm.Comm) error {
				return Butterfly{}.Allreduce(c, colltest.Input(tensor.Float32, c.Rank(), 8), collcomm.ReduceOpSum)
			})
			for rank, counter := range outcome.Counters {
				require.Equal(t, collcomm.CeilLog2(n), counter.Sends, "rank %d", rank)
				require.Equal(t, collcomm.CeilLog2(n), counter.Recvs, "rank %d", rank)
				require.Equal(t, 1, counter.Barriers, "rank %d", rank)
			}
		})
	}
}

func TestButterflyNotPowerOfTwo(t *testing.T) {
	for _, n := range []int{3, 5, 6, 13} {
		t.Run(fmt.Sprintf("Nodes=%d", n), func(t *testing.T) {
			setup := colltest.Setup{NumNodes: n}
			outcome, err := setup.Run(func(c collcomm.Comm) error {
				return Butterfly{}.Allreduce(c, tensor.New(tensor.Float32, 2), collcomm.ReduceOpSum)
			})
			require.NoError(t, err)
			for rank, counter := range outcome.Counters {
				require.True(t, errors.Is(outcome.Errors[rank], collcomm.ErrNotPowerOfTwo))
				require.Zero(t, counter.Sends+counter.Recvs+counter.Barriers)
			}
		})
	}
}

func TestAllreduceScenario(t *testing.T) {
	allreducers := map[string]Allreducer{
		"Naive":     Naive{},
		"Tree":      Tree{},
		"Butterfly": Butterfly{},
	}
	setup := colltest.Setup{NumNodes: 4, Random: true}
	expected := map[collcomm.ReduceOp]float64{
		collcomm.ReduceOpSum: 10,
		collcomm.ReduceOpMax: 4,
	}
	for name, a := range allreducers {
		for op, value := range expected {
			t.Run(fmt.Sprintf("%s/%s", name, op), func(t *testing.T) {
				results := make([]float64, 4)
				setup.MustRun(t, func(c collcomm.Comm) error {
					buf := tensor.FromScalar(float64(c.Rank() + 1))
					err := a.Allreduce(c, buf, op)
					results[c.Rank()] = buf.Value(0)
					return err
				})
				require.Equal(t, []float64{value, value, value, value}, results)
			})
		}
	}
}

func TestAllreduceUnsupportedOp(t *testing.T) {
	setup := colltest.Setup{NumNodes: 4}
	for _, a := range []Allreducer{Naive{}, Tree{}, Butterfly{}} {
		outcome, err := setup.Run(func(c collcomm.Comm) error {
			return a.Allreduce(c, tensor.New(tensor.Float32, 2), collcomm.ReduceOp(99))
		})
		require.NoError(t, err)
		for rank, counter := range outcome.Counters {
			require.True(t, errors.Is(outcome.Errors[rank], collcomm.ErrUnsupportedOp), "%T", a)
			require.Zero(t, counter.Sends+counter.Recvs+counter.Barriers)
		}
	}
}

func TestPositionInTree(t *testing.T) {
	parent, children := positionInTree(0, 6)
	require.Equal(t, -1, parent)
	require.Equal(t, []int{1, 2}, children)
	parent, children = positionInTree(2, 6)
	require.Equal(t, 0, parent)
	require.Equal(t, []int{5}, children)
	parent, children = positionInTree(4, 6)
	require.Equal(t, 1, parent)
	require.Empty(t, children)
}

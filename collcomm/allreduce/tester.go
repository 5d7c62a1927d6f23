package allreduce

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/unixpickle/dist-collectives/collcomm"
	"github.com/unixpickle/dist-collectives/collcomm/colltest"
	"github.com/unixpickle/dist-collectives/tensor"
)

// RunAllreducerTests runs a battery of tests on an
// Allreducer, using every group size in sizes.
func RunAllreducerTests(t *testing.T, reducer Allreducer, sizes ...int) {
	rng := rand.New(rand.NewSource(1337))
	for _, setup := range colltest.Setups(sizes...) {
		for _, size := range []int{0, 1337} {
			testName := fmt.Sprintf("%s,Size=%d", setup, size)
			t.Run(testName, func(t *testing.T) {
				inputs := colltest.RandomInputs(rng, setup.NumNodes, size)
				results := colltest.CloneAll(inputs)
				setup.MustRun(t, func(c collcomm.Comm) error {
					return reducer.Allreduce(c, results[c.Rank()], collcomm.ReduceOpSum)
				})
				verifyReductionResults(t, results, colltest.Reduce(t, collcomm.ReduceOpSum, inputs))
			})
		}
		for _, op := range collcomm.ReduceOps {
			t.Run(fmt.Sprintf("%s,Op=%s", setup, op), func(t *testing.T) {
				inputs := colltest.Inputs(tensor.Int64, setup.NumNodes, 3, 4)
				results := colltest.CloneAll(inputs)
				setup.MustRun(t, func(c collcomm.Comm) error {
					return reducer.Allreduce(c, results[c.Rank()], op)
				})
				expected := colltest.Reduce(t, op, inputs)
				for rank, res := range results {
					colltest.RequireEqual(t, expected, res, "rank %d", rank)
				}
			})
		}
	}
}

func verifyReductionResults(t *testing.T, results []*tensor.Tensor, expected *tensor.Tensor) {
	for i, res := range results[1:] {
		if !tensor.Equal(res, results[0]) {
			t.Errorf("result %d is not identical to result 0", i+1)
		}
	}
	colltest.RequireClose(t, expected, results[0])
}

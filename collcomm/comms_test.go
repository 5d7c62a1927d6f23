package collcomm

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/dist-collectives/simulator"
	"github.com/unixpickle/dist-collectives/tensor"
)

func TestCommsOrderingRandomNetwork(t *testing.T) {
	const numMessages = 30
	for seed := int64(0); seed < 5; seed++ {
		t.Run(fmt.Sprintf("Seed=%d", seed), func(t *testing.T) {
			loop := simulator.NewEventLoopSeed(seed)
			nodes := simulator.NewNodes(3)
			received := make([][]float64, 3)
			errs := make([]error, 3)
			SpawnComms(loop, simulator.RandomNetwork{}, nodes, func(c *Comms) {
				errs[c.Rank()] = func() error {
					switch c.Rank() {
					case 0, 2:
						buf := tensor.New(tensor.Float64, 1)
						for i := 0; i < numMessages; i++ {
							buf.Fill(float64(i))
							// The buffer is reused right away, so Send
							// must have copied it.
							if err := c.Send(buf, 1); err != nil {
								return err
							}
						}
					case 1:
						buf := tensor.New(tensor.Float64, 1)
						for i := 0; i < numMessages; i++ {
							for _, src := range []int{2, 0} {
								if err := c.Recv(buf, src); err != nil {
									return err
								}
								received[1] = append(received[1], buf.Value(0))
							}
						}
					}
					return c.Barrier()
				}()
			})
			require.NoError(t, loop.Run())
			for _, err := range errs {
				require.NoError(t, err)
			}
			require.Len(t, received[1], 2*numMessages)
			for i := 0; i < numMessages; i++ {
				require.Equal(t, float64(i), received[1][2*i])
				require.Equal(t, float64(i), received[1][2*i+1])
			}
		})
	}
}

func TestCommsBarrier(t *testing.T) {
	for _, numNodes := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("Nodes=%d", numNodes), func(t *testing.T) {
			loop := simulator.NewEventLoop()
			nodes := simulator.NewNodes(numNodes)
			network := simulator.NewUniformLinkNetwork(nodes, 1e3, 0.1)
			exitTimes := make([]float64, numNodes)
			SpawnComms(loop, network, nodes, func(c *Comms) {
				for round := 0; round < 3; round++ {
					c.Handle.Sleep(float64(c.Rank()))
					if err := c.Barrier(); err != nil {
						panic(err)
					}
				}
				exitTimes[c.Rank()] = c.Handle.Time()
			})
			require.NoError(t, loop.Run())
			for rank, exitTime := range exitTimes {
				// Every round waits for the slowest rank.
				require.GreaterOrEqual(t, exitTime, 3*float64(numNodes-1), "rank %d", rank)
			}
		})
	}
}

func TestCommsErrors(t *testing.T) {
	loop := simulator.NewEventLoop()
	nodes := simulator.NewNodes(2)
	errs := make([]error, 2)
	var invalidErr error
	SpawnComms(loop, simulator.RandomNetwork{}, nodes, func(c *Comms) {
		if c.Rank() == 0 {
			invalidErr = c.Send(tensor.New(tensor.Float32, 2), 2)
			errs[0] = c.Send(tensor.New(tensor.Float32, 2), 1)
		} else {
			errs[1] = c.Recv(tensor.New(tensor.Float32, 3), 0)
		}
	})
	require.NoError(t, loop.Run())
	require.True(t, errors.Is(invalidErr, ErrInvalidRank))
	require.NoError(t, errs[0])
	require.True(t, errors.Is(errs[1], tensor.ErrShapeMismatch))
}

func TestCommsDeadlock(t *testing.T) {
	loop := simulator.NewEventLoop()
	nodes := simulator.NewNodes(2)
	SpawnComms(loop, simulator.RandomNetwork{}, nodes, func(c *Comms) {
		c.Recv(tensor.New(tensor.Float32, 1), 1-c.Rank())
	})
	err := loop.Run()
	require.True(t, errors.Is(err, simulator.ErrDeadlock))
}

func TestCounter(t *testing.T) {
	loop := simulator.NewEventLoop()
	nodes := simulator.NewNodes(2)
	counters := make([]*Counter, 2)
	SpawnComms(loop, simulator.RandomNetwork{}, nodes, func(c *Comms) {
		counter := NewCounter(c)
		counters[c.Rank()] = counter
		buf := tensor.New(tensor.Int32, 4)
		if c.Rank() == 0 {
			counter.Send(buf, 1)
			counter.Send(buf, 1)
		} else {
			counter.Recv(buf, 0)
			counter.Recv(buf, 0)
		}
		counter.Barrier()
	})
	require.NoError(t, loop.Run())

	require.Equal(t, 2, counters[0].Sends)
	require.Equal(t, 32, counters[0].BytesSent)
	require.Equal(t, 0, counters[0].Recvs)
	require.Equal(t, 2, counters[1].Recvs)
	for _, c := range counters {
		require.Equal(t, 1, c.Barriers)
	}
	counters[0].Reset()
	require.Equal(t, Counter{Comm: counters[0].Comm}, *counters[0])
}

func TestCommsOrderingSwitcherNetwork(t *testing.T) {
	// On a SwitcherNetwork a small message overtakes a large
	// one on the same link, but Recv still sees them in order.
	loop := simulator.NewEventLoop()
	nodes := simulator.NewNodes(2)
	network := simulator.NewSwitcherNetwork(simulator.NewGreedyDropSwitcher(2, 1e3), nodes, 1e-3)
	var big, small *tensor.Tensor
	errs := make([]error, 2)
	SpawnComms(loop, network, nodes, func(c *Comms) {
		errs[c.Rank()] = func() error {
			if c.Rank() == 0 {
				if err := c.Send(tensor.New(tensor.Float64, 1000), 1); err != nil {
					return err
				}
				return c.Send(tensor.FromScalar(float64(7)), 1)
			}
			big = tensor.New(tensor.Float64, 1000)
			small = tensor.New(tensor.Float64)
			if err := c.Recv(big, 0); err != nil {
				return err
			}
			return c.Recv(small, 0)
		}()
	})
	loop.MustRun()
	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
	}
	require.Equal(t, 7.0, small.Value(0))
}

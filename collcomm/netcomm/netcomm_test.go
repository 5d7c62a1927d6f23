package netcomm

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/dist-collectives/collcomm"
	"github.com/unixpickle/dist-collectives/collcomm/allreduce"
	"github.com/unixpickle/dist-collectives/collcomm/bcast"
	"github.com/unixpickle/dist-collectives/collcomm/gather"
	"github.com/unixpickle/dist-collectives/tensor"
	"golang.org/x/sync/errgroup"
)

// dialLoopback connects n processes over loopback TCP.
// The returned Comms are ordered by rank.
func dialLoopback(t *testing.T, n int, jobIDs ...string) ([]*Comm, error) {
	listeners := make([]net.Listener, n)
	addrs := make([]string, n)
	for i := range listeners {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		listeners[i] = l
		addrs[i] = l.Addr().String()
	}
	comms := make([]*Comm, n)
	var g errgroup.Group
	for i := range listeners {
		cfg := Config{
			Addr:     addrs[i],
			Addrs:    addrs,
			Timeout:  5 * time.Second,
			Listener: listeners[i],
		}
		if len(jobIDs) > 0 {
			cfg.JobID = jobIDs[i%len(jobIDs)]
		}
		g.Go(func() error {
			c, err := Dial(context.Background(), cfg)
			if err != nil {
				listeners[i].Close()
				return err
			}
			comms[c.Rank()] = c
			return nil
		})
	}
	err := g.Wait()
	t.Cleanup(func() {
		for _, c := range comms {
			if c != nil {
				c.Close()
			}
		}
	})
	return comms, err
}

func TestLoopbackCollectives(t *testing.T) {
	const n = 4
	comms, err := dialLoopback(t, n, uuid.New().String())
	require.NoError(t, err)
	for rank, c := range comms {
		require.Equal(t, rank, c.Rank())
		require.Equal(t, n, c.Size())
	}

	results := make([]*tensor.Tensor, n)
	gathered := tensor.New(tensor.Float32, n)
	var g errgroup.Group
	for _, c := range comms {
		g.Go(func() error {
			buf := tensor.FromScalar(float32(c.Rank() + 1))
			if err := (allreduce.Butterfly{}).Allreduce(c, buf, collcomm.ReduceOpSum); err != nil {
				return err
			}
			if err := (bcast.Tree{}).Broadcast(c, buf, 3); err != nil {
				return err
			}
			results[c.Rank()] = buf
			send := tensor.FromFlat([]float32{float32(c.Rank() + 1)})
			var recv *tensor.Tensor
			if c.Rank() == 0 {
				recv = gathered
			}
			return (gather.Tree{}).Gather(c, send, recv, 0)
		})
	}
	require.NoError(t, g.Wait())
	for _, res := range results {
		require.Equal(t, 10.0, res.Value(0))
	}
	require.Equal(t, []float32{1, 2, 3, 4}, tensor.Flat[float32](gathered))
}

func TestLoopbackSelfSend(t *testing.T) {
	comms, err := dialLoopback(t, 1)
	require.NoError(t, err)
	c := comms[0]
	require.NoError(t, c.Send(tensor.FromFlat([]int64{1, 2}), 0))
	buf := tensor.New(tensor.Int64, 2)
	require.NoError(t, c.Recv(buf, 0))
	require.Equal(t, []int64{1, 2}, tensor.Flat[int64](buf))
	require.NoError(t, c.Barrier())
}

func TestLoopbackShapeMismatch(t *testing.T) {
	comms, err := dialLoopback(t, 2)
	require.NoError(t, err)
	require.NoError(t, comms[0].Send(tensor.New(tensor.Float64, 3), 1))
	err = comms[1].Recv(tensor.New(tensor.Float64, 2), 0)
	require.True(t, errors.Is(err, tensor.ErrShapeMismatch))
	require.True(t, errors.Is(comms[1].Send(tensor.New(tensor.Float64, 1), 5), collcomm.ErrInvalidRank))
}

func TestCloseFailsPendingRecv(t *testing.T) {
	comms, err := dialLoopback(t, 2)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() {
		done <- comms[1].Recv(tensor.New(tensor.Float32, 1), 0)
	}()
	require.NoError(t, comms[0].Close())
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Recv did not fail after the peer closed")
	}
}

func TestCloseFailsPendingSelfRecv(t *testing.T) {
	comms, err := dialLoopback(t, 2)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() {
		done <- comms[0].Recv(tensor.New(tensor.Float32, 1), 0)
	}()
	// Give Recv a chance to block.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, comms[0].Close())
	select {
	case err := <-done:
		require.True(t, errors.Is(err, ErrClosed), "unexpected error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Recv from self did not fail after Close")
	}
	require.True(t, errors.Is(comms[0].Send(tensor.New(tensor.Float32, 1), 0), ErrClosed))
	require.True(t, errors.Is(comms[0].Barrier(), ErrClosed))
}

func TestCloseWithFullQueue(t *testing.T) {
	comms, err := dialLoopback(t, 2)
	require.NoError(t, err)
	for i := 0; i < 2*queueSize; i++ {
		require.NoError(t, comms[1].Send(tensor.FromScalar(int32(i)), 0))
	}
	// Wait for the receiver's queue to fill up.
	require.Eventually(t, func() bool {
		return len(comms[0].peers[1].data) == queueSize
	}, 5*time.Second, 10*time.Millisecond)

	// Close waits for every reader to exit.
	closed := make(chan error, 1)
	go func() {
		closed <- comms[0].Close()
	}()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked on a reader with a full queue")
	}
	err = comms[0].Recv(tensor.New(tensor.Int32), 1)
	require.True(t, errors.Is(err, ErrClosed))
}

func TestJobMismatch(t *testing.T) {
	_, err := dialLoopback(t, 2, uuid.New().String(), uuid.New().String())
	require.Error(t, err)
}

func TestConfigErrors(t *testing.T) {
	_, err := Dial(context.Background(), Config{Addr: "a", Addrs: []string{"a"}, JobID: "not-a-uuid"})
	require.Error(t, err)

	cfg := Config{Addr: "c", Addrs: []string{"b", "a"}}
	_, err = cfg.Rank()
	require.Error(t, err)

	cfg = Config{Addr: "a", Addrs: []string{"b", "a", "b"}}
	_, err = cfg.Rank()
	require.Error(t, err)

	cfg = Config{Addr: "c", Addrs: []string{"c", "b", "a"}}
	rank, err := cfg.Rank()
	require.NoError(t, err)
	require.Equal(t, 2, rank)
}

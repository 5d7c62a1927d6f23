package collcomm

import "github.com/unixpickle/dist-collectives/tensor"

// A Counter wraps a Comm and counts the traffic that flows
// through it.
//
// Counts include calls that returned an error.
type Counter struct {
	Comm

	Sends     int
	Recvs     int
	Barriers  int
	BytesSent int
}

// NewCounter creates a Counter with all counts at zero.
func NewCounter(c Comm) *Counter {
	return &Counter{Comm: c}
}

func (c *Counter) Send(t *tensor.Tensor, dst int) error {
	c.Sends++
	c.BytesSent += t.ByteSize()
	return c.Comm.Send(t, dst)
}

func (c *Counter) Recv(t *tensor.Tensor, src int) error {
	c.Recvs++
	return c.Comm.Recv(t, src)
}

func (c *Counter) Barrier() error {
	c.Barriers++
	return c.Comm.Barrier()
}

// Reset zeroes every count.
func (c *Counter) Reset() {
	c.Sends, c.Recvs, c.Barriers, c.BytesSent = 0, 0, 0, 0
}

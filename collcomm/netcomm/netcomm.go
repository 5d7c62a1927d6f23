// Package netcomm implements collcomm.Comm over TCP, with
// one process per rank.
package netcomm

import (
	"context"
	"encoding/gob"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/unixpickle/dist-collectives/collcomm"
	"github.com/unixpickle/dist-collectives/tensor"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// ErrClosed is returned by calls on a closed Comm.
var ErrClosed = errors.New("netcomm: comm is closed")

const (
	// DefaultTimeout bounds connection setup when
	// Config.Timeout is zero.
	DefaultTimeout = 30 * time.Second

	dialRetryInterval = 300 * time.Millisecond
	queueSize         = 64
)

// Config describes the group a process joins.
type Config struct {
	// Addr is the address this process listens on.
	// It must appear in Addrs.
	Addr string

	// Addrs lists the address of every process in the
	// group. Ranks are assigned in sorted address order,
	// so every process may list them in any order.
	Addrs []string

	// Timeout bounds connection setup.
	// If 0, DefaultTimeout is used.
	Timeout time.Duration

	// JobID, if set, must be a UUID shared by every
	// process. Connections from processes with a
	// different JobID are rejected.
	JobID string

	// Listener, if set, is used instead of listening on
	// Addr. The Comm takes ownership of it.
	Listener net.Listener
}

// Rank returns the rank assigned to Addr.
func (c *Config) Rank() (int, error) {
	addrs := slices.Clone(c.Addrs)
	slices.Sort(addrs)
	for i := 1; i < len(addrs); i++ {
		if addrs[i] == addrs[i-1] {
			return 0, errors.Errorf("netcomm: duplicate address %s", addrs[i])
		}
	}
	idx := slices.Index(addrs, c.Addr)
	if idx < 0 {
		return 0, errors.Errorf("netcomm: local address %s is not in the address list", c.Addr)
	}
	return idx, nil
}

type frameKind int

const (
	frameData frameKind = iota
	frameBarrier
	frameRelease
)

type frame struct {
	Kind   frameKind
	Tensor *tensor.Tensor
}

type hello struct {
	JobID string
	Rank  int
}

type peer struct {
	rank int
	conn net.Conn
	dec  *gob.Decoder

	sendLock sync.Mutex
	enc      *gob.Encoder

	data    chan *tensor.Tensor
	control chan frameKind

	// done is closed by Comm.Close.
	done <-chan struct{}

	// err is set before data and control are closed.
	err error
}

func newPeer(rank int, conn net.Conn, enc *gob.Encoder, dec *gob.Decoder,
	done <-chan struct{}) *peer {
	return &peer{
		rank:    rank,
		conn:    conn,
		enc:     enc,
		dec:     dec,
		data:    make(chan *tensor.Tensor, queueSize),
		control: make(chan frameKind, queueSize),
		done:    done,
	}
}

func (p *peer) readLoop() {
	defer func() {
		close(p.data)
		close(p.control)
	}()
	for {
		var f frame
		if err := p.dec.Decode(&f); err != nil {
			p.err = errors.Wrapf(err, "netcomm: read from rank %d", p.rank)
			klog.V(2).Infof("netcomm: connection to rank %d closed: %v", p.rank, err)
			return
		}
		if f.Kind == frameData && f.Tensor == nil {
			p.err = errors.Errorf("netcomm: empty data frame from rank %d", p.rank)
			return
		}
		var enqueued bool
		if f.Kind == frameData {
			select {
			case p.data <- f.Tensor:
				enqueued = true
			case <-p.done:
			}
		} else {
			select {
			case p.control <- f.Kind:
				enqueued = true
			case <-p.done:
			}
		}
		if !enqueued {
			p.err = ErrClosed
			return
		}
	}
}

func (p *peer) recvData() (*tensor.Tensor, error) {
	select {
	case t, ok := <-p.data:
		if !ok {
			return nil, p.err
		}
		return t, nil
	case <-p.done:
		return nil, ErrClosed
	}
}

func (p *peer) send(f *frame) error {
	p.sendLock.Lock()
	defer p.sendLock.Unlock()
	return errors.Wrapf(p.enc.Encode(f), "netcomm: send to rank %d", p.rank)
}

func (p *peer) recvControl(kind frameKind) error {
	var k frameKind
	select {
	case kind, ok := <-p.control:
		if !ok {
			return p.err
		}
		k = kind
	case <-p.done:
		return ErrClosed
	}
	if k != kind {
		return errors.Errorf("netcomm: unexpected control frame %d from rank %d", k, p.rank)
	}
	return nil
}

// Comm is a collcomm.Comm whose ranks are processes
// connected all-to-all over TCP.
type Comm struct {
	rank int
	size int

	listener net.Listener
	peers    []*peer

	// self queues messages a rank sends to itself.
	self chan *tensor.Tensor

	done      chan struct{}
	readers   sync.WaitGroup
	closeOnce sync.Once
}

var _ collcomm.Comm = (*Comm)(nil)

// Dial joins the group described by cfg, blocking until a
// connection to every other process is established.
//
// Of every pair of processes, the one with the lower rank
// accepts and the one with the higher rank dials, retrying
// until the timeout.
func Dial(ctx context.Context, cfg Config) (*Comm, error) {
	if cfg.JobID != "" {
		if _, err := uuid.Parse(cfg.JobID); err != nil {
			return nil, errors.Wrapf(err, "netcomm: invalid job ID %q", cfg.JobID)
		}
	}
	rank, err := cfg.Rank()
	if err != nil {
		return nil, err
	}
	addrs := slices.Clone(cfg.Addrs)
	slices.Sort(addrs)
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := &Comm{
		rank:     rank,
		size:     len(addrs),
		listener: cfg.Listener,
		peers:    make([]*peer, len(addrs)),
		self:     make(chan *tensor.Tensor, queueSize),
		done:     make(chan struct{}),
	}
	numAccept := c.size - 1 - rank
	if c.listener == nil && numAccept > 0 {
		c.listener, err = net.Listen("tcp", cfg.Addr)
		if err != nil {
			return nil, errors.Wrap(err, "netcomm: listen")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if numAccept > 0 {
		g.Go(func() error {
			return c.acceptPeers(gctx, numAccept, cfg.JobID)
		})
	}
	for r := 0; r < rank; r++ {
		g.Go(func() error {
			return c.dialPeer(gctx, r, addrs[r], cfg.JobID)
		})
	}
	if err := g.Wait(); err != nil {
		c.Close()
		return nil, err
	}

	for _, p := range c.peers {
		if p != nil {
			c.readers.Add(1)
			go func() {
				defer c.readers.Done()
				p.readLoop()
			}()
		}
	}
	klog.Infof("netcomm: rank %d of %d connected", c.rank, c.size)
	return c, nil
}

func (c *Comm) acceptPeers(ctx context.Context, count int, jobID string) error {
	go func() {
		// Unblocks Accept on timeout or when another
		// connection fails. Once every peer is connected
		// the listener is no longer needed.
		<-ctx.Done()
		c.listener.Close()
	}()
	for i := 0; i < count; i++ {
		conn, err := c.listener.Accept()
		if err != nil {
			return errors.Wrap(err, "netcomm: accept")
		}
		if deadline, ok := ctx.Deadline(); ok {
			conn.SetDeadline(deadline)
		}
		enc, dec := gob.NewEncoder(conn), gob.NewDecoder(conn)
		var h hello
		if err := dec.Decode(&h); err != nil {
			conn.Close()
			return errors.Wrap(err, "netcomm: read handshake")
		}
		if h.JobID != jobID {
			conn.Close()
			return errors.Errorf("netcomm: peer has job ID %q, expected %q", h.JobID, jobID)
		}
		if h.Rank <= c.rank || h.Rank >= c.size || c.peers[h.Rank] != nil {
			conn.Close()
			return errors.Errorf("netcomm: unexpected handshake from rank %d", h.Rank)
		}
		if err := enc.Encode(hello{JobID: jobID, Rank: c.rank}); err != nil {
			conn.Close()
			return errors.Wrap(err, "netcomm: write handshake")
		}
		conn.SetDeadline(time.Time{})
		c.peers[h.Rank] = newPeer(h.Rank, conn, enc, dec, c.done)
		klog.V(1).Infof("netcomm: rank %d accepted rank %d", c.rank, h.Rank)
	}
	return nil
}

func (c *Comm) dialPeer(ctx context.Context, rank int, addr, jobID string) error {
	var dialer net.Dialer
	var conn net.Conn
	for {
		var err error
		conn, err = dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(err, "netcomm: dial rank %d at %s", rank, addr)
		case <-time.After(dialRetryInterval):
		}
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	enc, dec := gob.NewEncoder(conn), gob.NewDecoder(conn)
	if err := enc.Encode(hello{JobID: jobID, Rank: c.rank}); err != nil {
		conn.Close()
		return errors.Wrapf(err, "netcomm: handshake with rank %d", rank)
	}
	var h hello
	if err := dec.Decode(&h); err != nil {
		conn.Close()
		return errors.Wrapf(err, "netcomm: handshake with rank %d", rank)
	}
	if h.JobID != jobID || h.Rank != rank {
		conn.Close()
		return errors.Errorf("netcomm: %s answered as rank %d of job %q", addr, h.Rank, h.JobID)
	}
	conn.SetDeadline(time.Time{})
	c.peers[rank] = newPeer(rank, conn, enc, dec, c.done)
	klog.V(1).Infof("netcomm: rank %d connected to rank %d", c.rank, rank)
	return nil
}

// Rank returns this process's rank.
func (c *Comm) Rank() int {
	return c.rank
}

// Size returns the number of processes in the group.
func (c *Comm) Size() int {
	return c.size
}

// Send writes t to the connection to dst.
func (c *Comm) Send(t *tensor.Tensor, dst int) error {
	if err := collcomm.CheckRank(dst, c.size); err != nil {
		return errors.WithMessage(err, "netcomm: send")
	}
	if c.closed() {
		return ErrClosed
	}
	klog.V(3).Infof("netcomm: rank %d sends %s to %d", c.rank, t.Shape(), dst)
	if dst == c.rank {
		select {
		case c.self <- t.Clone():
			return nil
		default:
			return errors.Errorf("netcomm: more than %d messages queued from rank %d to itself",
				queueSize, c.rank)
		}
	}
	return c.peers[dst].send(&frame{Kind: frameData, Tensor: t})
}

// Recv waits for the next tensor from src and copies it
// into t.
func (c *Comm) Recv(t *tensor.Tensor, src int) error {
	if err := collcomm.CheckRank(src, c.size); err != nil {
		return errors.WithMessage(err, "netcomm: recv")
	}
	if c.closed() {
		return ErrClosed
	}
	var msg *tensor.Tensor
	if src == c.rank {
		select {
		case msg = <-c.self:
		case <-c.done:
			return ErrClosed
		}
	} else {
		var err error
		if msg, err = c.peers[src].recvData(); err != nil {
			return err
		}
	}
	if err := t.CopyFrom(msg); err != nil {
		return errors.WithMessagef(err, "netcomm: recv from rank %d", src)
	}
	klog.V(3).Infof("netcomm: rank %d received %s from %d", c.rank, t.Shape(), src)
	return nil
}

// Barrier blocks until every process has called Barrier.
//
// Every process reports to rank 0, which releases the
// group once all of the reports are in.
func (c *Comm) Barrier() error {
	if c.closed() {
		return ErrClosed
	}
	if c.size == 1 {
		return nil
	}
	if c.rank != 0 {
		if err := c.peers[0].send(&frame{Kind: frameBarrier}); err != nil {
			return err
		}
		return c.peers[0].recvControl(frameRelease)
	}
	for _, p := range c.peers[1:] {
		if err := p.recvControl(frameBarrier); err != nil {
			return err
		}
	}
	for _, p := range c.peers[1:] {
		if err := p.send(&frame{Kind: frameRelease}); err != nil {
			return err
		}
	}
	return nil
}

// Close shuts down the listener and every connection.
// Pending and future calls fail with ErrClosed or a
// connection error.
func (c *Comm) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.listener != nil {
			if e := c.listener.Close(); e != nil && !errors.Is(e, net.ErrClosed) {
				err = e
			}
		}
		for _, p := range c.peers {
			if p != nil {
				if e := p.conn.Close(); e != nil && err == nil && !errors.Is(e, net.ErrClosed) {
					err = e
				}
			}
		}
		c.readers.Wait()
	})
	return err
}

func (c *Comm) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

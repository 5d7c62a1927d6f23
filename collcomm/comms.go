package collcomm

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/dist-collectives/simulator"
	"github.com/unixpickle/dist-collectives/tensor"
	"github.com/unixpickle/essentials"
	"k8s.io/klog/v2"
)

// controlSize is the number of bytes a barrier token
// occupies on the wire.
const controlSize = 1.0

type packetKind int

const (
	packetData packetKind = iota
	packetBarrier
	packetRelease
)

// A packet is the payload of every simulator.Message sent
// by a Comms.
//
// Sequence numbers count packets of one kind between one
// pair of nodes, so that a receiver can restore send order
// on networks that reorder messages.
type packet struct {
	kind    packetKind
	seq     int
	payload *tensor.Tensor
}

type inboxEntry struct {
	source int
	packet *packet
}

type seqKey struct {
	peer int
	kind packetKind
}

// Comms implements Comm for one node of a simulated
// network.
//
// Each node has a local Comms object that represents its
// view of the world. A Comms may be reused for any number
// of collective operations, as long as every node runs the
// same operations in the same order.
type Comms struct {
	// Handle is the node's main Goroutine's handle on the
	// event loop.
	Handle *simulator.Handle

	// Port is the current node's port.
	Port *simulator.Port

	// Ports contains ports to all the nodes in the
	// network, including the current node.
	Ports []*simulator.Port

	// Network is the network connecting the nodes.
	Network simulator.Network

	// inbox holds packets that arrived before anybody
	// asked for them.
	inbox   []inboxEntry
	sendSeq map[seqKey]int
	recvSeq map[seqKey]int
}

// SpawnComms creates Comms objects for every node in a
// network and calls f for each node in its own Goroutine.
func SpawnComms(loop *simulator.EventLoop, network simulator.Network, nodes []*simulator.Node,
	f func(c *Comms)) {
	ports := make([]*simulator.Port, len(nodes))
	for i, node := range nodes {
		ports[i] = node.Port(loop)
	}
	for i := range nodes {
		port := ports[i]
		loop.Go(func(h *simulator.Handle) {
			f(&Comms{
				Handle:  h,
				Port:    port,
				Ports:   ports,
				Network: network,
			})
		})
	}
}

// Rank returns the current node's index in the list of
// nodes.
func (c *Comms) Rank() int {
	return c.IndexOf(c.Port)
}

// Size gets the number of nodes.
func (c *Comms) Size() int {
	return len(c.Ports)
}

// IndexOf returns any node's index.
func (c *Comms) IndexOf(p *simulator.Port) int {
	for i, port := range c.Ports {
		if port == p {
			return i
		}
	}
	panic("port is not part of the group")
}

// Send schedules a copy of t to be delivered to dst.
func (c *Comms) Send(t *tensor.Tensor, dst int) error {
	if err := CheckRank(dst, c.Size()); err != nil {
		return errors.WithMessage(err, "send")
	}
	klog.V(3).Infof("comms: rank %d sends %s to %d", c.Rank(), t.Shape(), dst)
	c.sendPacket(dst, packetData, t.Clone(), float64(t.ByteSize()))
	return nil
}

// Recv waits for the next tensor from src and copies it
// into t.
func (c *Comms) Recv(t *tensor.Tensor, src int) error {
	if err := CheckRank(src, c.Size()); err != nil {
		return errors.WithMessage(err, "recv")
	}
	p := c.recvPacket(src, packetData)
	if err := t.CopyFrom(p.payload); err != nil {
		return errors.WithMessagef(err, "recv from rank %d", src)
	}
	klog.V(3).Infof("comms: rank %d received %s from %d", c.Rank(), t.Shape(), src)
	return nil
}

// Barrier blocks until every node has called Barrier.
//
// Every node reports to node 0, which releases the group
// once all of the reports are in.
func (c *Comms) Barrier() error {
	rank, size := c.Rank(), c.Size()
	if size == 1 {
		return nil
	}
	if rank != 0 {
		c.sendPacket(0, packetBarrier, nil, controlSize)
		c.recvPacket(0, packetRelease)
		return nil
	}
	for i := 1; i < size; i++ {
		c.recvPacket(i, packetBarrier)
	}
	for i := 1; i < size; i++ {
		c.sendPacket(i, packetRelease, nil, controlSize)
	}
	klog.V(3).Infof("comms: barrier released at virtual time %f", c.Handle.Time())
	return nil
}

func (c *Comms) sendPacket(dst int, kind packetKind, payload *tensor.Tensor, size float64) {
	if c.sendSeq == nil {
		c.sendSeq = map[seqKey]int{}
	}
	key := seqKey{peer: dst, kind: kind}
	seq := c.sendSeq[key]
	c.sendSeq[key]++
	c.Network.Send(c.Handle, &simulator.Message{
		Source:  c.Port,
		Dest:    c.Ports[dst],
		Message: &packet{kind: kind, seq: seq, payload: payload},
		Size:    size,
	})
}

func (c *Comms) recvPacket(src int, kind packetKind) *packet {
	if c.recvSeq == nil {
		c.recvSeq = map[seqKey]int{}
	}
	key := seqKey{peer: src, kind: kind}
	seq := c.recvSeq[key]
	for {
		for i, entry := range c.inbox {
			if entry.source == src && entry.packet.kind == kind && entry.packet.seq == seq {
				essentials.OrderedDelete(&c.inbox, i)
				c.recvSeq[key]++
				return entry.packet
			}
		}
		msg := c.Port.Recv(c.Handle)
		c.inbox = append(c.inbox, inboxEntry{
			source: c.IndexOf(msg.Source),
			packet: msg.Message.(*packet),
		})
	}
}

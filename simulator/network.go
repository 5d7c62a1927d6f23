package simulator

import (
	"fmt"
	"math"
	"sync"
)

// A Node represents a machine on a virtual network.
type Node struct {
	unused int
}

// NewNode creates a new, unique Node.
func NewNode() *Node {
	return &Node{}
}

// NewNodes creates n unique Nodes.
func NewNodes(n int) []*Node {
	nodes := make([]*Node, n)
	for i := range nodes {
		nodes[i] = NewNode()
	}
	return nodes
}

// Port creates a new Port connected to the Node.
func (n *Node) Port(loop *EventLoop) *Port {
	return &Port{Node: n, Incoming: loop.Stream()}
}

// A Port identifies a point of communication on a Node.
// Data is sent from Ports and received on Ports.
type Port struct {
	// The Node to which the Port is attached.
	Node *Node

	// A stream of *Message objects.
	Incoming *EventStream
}

// Recv receives the next message.
func (p *Port) Recv(h *Handle) *Message {
	return h.Poll(p.Incoming).Message.(*Message)
}

// A Message is a chunk of data sent between nodes over a
// network.
type Message struct {
	Source  *Port
	Dest    *Port
	Message interface{}

	// Size is the number of bytes the message occupies
	// on the wire.
	Size float64
}

// A Network represents an abstract way of communicating
// between nodes.
type Network interface {
	// Send message objects from one node to another.
	// The message will arrive on the receiving port's
	// incoming EventStream if the communication is
	// successful.
	//
	// This is a non-blocking operation.
	Send(h *Handle, msgs ...*Message)
}

// A RandomNetwork is a network that assigns random delays
// to every message.
//
// Messages between the same pair of ports may arrive out
// of order.
type RandomNetwork struct {
	// MaxLatency bounds the random delay.
	// If 0, it is treated as 1.
	MaxLatency float64
}

// Send sends the messages with random delays.
func (r RandomNetwork) Send(h *Handle, msgs ...*Message) {
	maxLatency := r.MaxLatency
	if maxLatency == 0 {
		maxLatency = 1
	}
	for _, msg := range msgs {
		h.Schedule(msg.Dest.Incoming, msg, h.Float64()*maxLatency)
	}
}

// A LinkNetwork models a dedicated point-to-point link
// between every pair of nodes.
//
// Each link transmits one message at a time at the rate
// given by its entry in a ConnMat, and every message pays
// a fixed latency on top of its transmission time.
// Messages on the same link arrive in the order they were
// sent. Messages from a node to itself are delivered
// immediately.
type LinkNetwork struct {
	lock sync.Mutex

	nodes   map[*Node]int
	rates   *ConnMat
	latency float64

	// nextFree is the virtual time at which each link
	// finishes transmitting its queued messages.
	nextFree map[[2]int]float64
}

// NewLinkNetwork creates a LinkNetwork over the given
// nodes. The rates matrix is indexed by the position of
// each node in nodes.
func NewLinkNetwork(nodes []*Node, rates *ConnMat, latency float64) *LinkNetwork {
	if rates.NumNodes() != len(nodes) {
		panic(fmt.Sprintf("rate matrix has %d nodes but network has %d", rates.NumNodes(), len(nodes)))
	}
	indices := make(map[*Node]int, len(nodes))
	for i, node := range nodes {
		indices[node] = i
	}
	return &LinkNetwork{
		nodes:    indices,
		rates:    rates,
		latency:  latency,
		nextFree: map[[2]int]float64{},
	}
}

// NewUniformLinkNetwork creates a LinkNetwork where every
// link has the same rate.
func NewUniformLinkNetwork(nodes []*Node, rate, latency float64) *LinkNetwork {
	return NewLinkNetwork(nodes, NewUniformConnMat(len(nodes), rate), latency)
}

// Send queues each message on its link.
func (l *LinkNetwork) Send(h *Handle, msgs ...*Message) {
	l.lock.Lock()
	defer l.lock.Unlock()

	now := h.Time()
	for _, msg := range msgs {
		src, dst := l.index(msg.Source.Node), l.index(msg.Dest.Node)
		if src == dst {
			h.Schedule(msg.Dest.Incoming, msg, 0)
			continue
		}
		rate := l.rates.Get(src, dst)
		if rate <= 0 {
			panic(fmt.Sprintf("no link from node %d to node %d", src, dst))
		}
		link := [2]int{src, dst}
		start := math.Max(now, l.nextFree[link])
		finish := start + msg.Size/rate
		l.nextFree[link] = finish
		h.Schedule(msg.Dest.Incoming, msg, finish-now+l.latency)
	}
}

func (l *LinkNetwork) index(n *Node) int {
	idx, ok := l.nodes[n]
	if !ok {
		panic("node is not part of the network")
	}
	return idx
}

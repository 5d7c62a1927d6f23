package simulator

import (
	"fmt"
	"math"
	"sync"
)

// A Switcher decides how fast data flows between nodes
// that share a switch, including how to deal with
// oversubscribed NICs.
type Switcher interface {
	// SwitchedRates is passed a matrix with 1's wherever a
	// node wants to send data to another node, and 0's
	// everywhere else. It overwrites every entry with the
	// rate at which data flows along that link.
	SwitchedRates(mat *ConnMat)
}

// A GreedyDropSwitcher spreads a node's upload evenly over
// its outgoing links, then drops incoming data uniformly
// when a node's download is oversubscribed.
//
// This amounts to normalizing the rows of the matrix and
// then normalizing its columns.
type GreedyDropSwitcher struct {
	SendRates []float64
	RecvRates []float64
}

// NewGreedyDropSwitcher creates a GreedyDropSwitcher where
// every node has the same upload and download rate.
func NewGreedyDropSwitcher(numNodes int, rate float64) *GreedyDropSwitcher {
	rates := make([]float64, numNodes)
	for i := range rates {
		rates[i] = rate
	}
	return &GreedyDropSwitcher{
		SendRates: rates,
		RecvRates: rates,
	}
}

// NumNodes returns the number of nodes on the switch.
func (g *GreedyDropSwitcher) NumNodes() int {
	return len(g.SendRates)
}

// SwitchedRates applies the switching algorithm.
func (g *GreedyDropSwitcher) SwitchedRates(mat *ConnMat) {
	if mat.NumNodes() != g.NumNodes() {
		panic(fmt.Sprintf("switch has %d nodes but matrix has %d", g.NumNodes(), mat.NumNodes()))
	}
	for src := 0; src < g.NumNodes(); src++ {
		if numDests := mat.SumSource(src); numDests > 0 {
			mat.ScaleSource(src, g.SendRates[src]/numDests)
		}
	}
	for dst := 0; dst < g.NumNodes(); dst++ {
		if incoming := mat.SumDest(dst); incoming > g.RecvRates[dst] {
			mat.ScaleDest(dst, g.RecvRates[dst]/incoming)
		}
	}
}

// A SwitcherNetwork passes every message through a
// Switcher. Messages in flight at the same time share the
// bandwidth the Switcher grants, so each new message may
// slow down the ones already being transmitted.
//
// Messages on the same link are transmitted concurrently,
// so a small message may overtake a large one.
type SwitcherNetwork struct {
	lock sync.Mutex

	switcher Switcher
	nodes    map[*Node]int
	latency  float64

	plan []*transferSegment
}

// NewSwitcherNetwork creates a SwitcherNetwork over the
// given nodes, indexed the same way as the Switcher.
//
// Every message pays latency before its data starts
// flowing. The latency period counts towards contention,
// so congestion is somewhat overestimated on high-latency
// networks.
func NewSwitcherNetwork(switcher Switcher, nodes []*Node, latency float64) *SwitcherNetwork {
	indices := make(map[*Node]int, len(nodes))
	for i, node := range nodes {
		indices[node] = i
	}
	return &SwitcherNetwork{
		switcher: switcher,
		nodes:    indices,
		latency:  latency,
	}
}

// Send adds the messages to the set of transfers in flight
// and reschedules every delivery.
func (s *SwitcherNetwork) Send(h *Handle, msgs ...*Message) {
	s.lock.Lock()
	defer s.lock.Unlock()

	inFlight := s.cancelPlan(h)
	for _, msg := range msgs {
		inFlight = append(inFlight, &transfer{
			msg:              msg,
			src:              s.index(msg.Source.Node),
			dst:              s.index(msg.Dest.Node),
			remainingLatency: s.latency,
			remainingSize:    msg.Size,
		})
	}
	s.schedule(h, inFlight)
}

// cancelPlan stops every pending delivery and returns the
// transfers that have not yet arrived, advanced to the
// current time.
func (s *SwitcherNetwork) cancelPlan(h *Handle) []*transfer {
	var inFlight []*transfer
	for _, seg := range s.plan {
		if h.Time() >= seg.end {
			// Already delivered.
			continue
		}
		if h.Time() >= seg.start {
			for _, t := range seg.transfers {
				inFlight = append(inFlight, t.advance(h.Time()-seg.start))
			}
		}
		for _, timer := range seg.timers {
			h.Cancel(timer)
		}
	}
	return inFlight
}

func (s *SwitcherNetwork) schedule(h *Handle, inFlight []*transfer) {
	s.plan = s.plan[:0]
	start := h.Time()
	for len(inFlight) > 0 {
		s.assignRates(inFlight)
		done, rest, eta := earliestTransfers(inFlight)

		timers := make([]*Timer, len(done))
		for i, t := range done {
			timers[i] = h.Schedule(t.msg.Dest.Incoming, t.msg, start-h.Time()+eta)
		}
		end := timers[0].Time()
		s.plan = append(s.plan, &transferSegment{
			start:     start,
			end:       end,
			timers:    timers,
			transfers: inFlight,
		})

		for i, t := range rest {
			rest[i] = t.advance(end - start)
		}
		inFlight = rest
		start = end
	}
}

func (s *SwitcherNetwork) assignRates(inFlight []*transfer) {
	n := len(s.nodes)
	active := NewConnMat(n)
	counts := NewConnMat(n)
	for _, t := range inFlight {
		active.Set(t.src, t.dst, 1)
		counts.Set(t.src, t.dst, counts.Get(t.src, t.dst)+1)
	}
	s.switcher.SwitchedRates(active)
	for _, t := range inFlight {
		t.rate = active.Get(t.src, t.dst) / counts.Get(t.src, t.dst)
	}
}

func (s *SwitcherNetwork) index(n *Node) int {
	idx, ok := s.nodes[n]
	if !ok {
		panic("node is not part of the network")
	}
	return idx
}

// A transfer is a message partway through transmission.
type transfer struct {
	msg      *Message
	src, dst int

	remainingLatency float64
	remainingSize    float64
	rate             float64
}

func (t *transfer) eta() float64 {
	if t.remainingSize <= 0 {
		return math.Max(0, t.remainingLatency)
	}
	return math.Max(0, t.remainingLatency+t.remainingSize/t.rate)
}

// advance returns a copy of t after elapsed time has
// passed at the current rate.
func (t *transfer) advance(elapsed float64) *transfer {
	res := *t
	if elapsed < res.remainingLatency {
		res.remainingLatency -= elapsed
		return &res
	}
	elapsed -= res.remainingLatency
	res.remainingLatency = 0
	res.remainingSize -= res.rate * elapsed
	return &res
}

// A transferSegment is a stretch of time during which the
// set of transfers and their rates do not change. It ends
// when at least one transfer is delivered.
type transferSegment struct {
	start     float64
	end       float64
	timers    []*Timer
	transfers []*transfer
}

func earliestTransfers(inFlight []*transfer) (earliest, rest []*transfer, eta float64) {
	etas := make([]float64, len(inFlight))
	eta = math.Inf(1)
	for i, t := range inFlight {
		etas[i] = t.eta()
		eta = math.Min(eta, etas[i])
	}
	for i, t := range inFlight {
		if etas[i] == eta {
			earliest = append(earliest, t)
		} else {
			rest = append(rest, t)
		}
	}
	return earliest, rest, eta
}

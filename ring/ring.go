// Package ring implements the bidirectional on-chip interconnect of a
// multi-core PE. Messages travel over per-direction virtual channels
// with credit-based flow control; backpressure stalls, it never drops.
package ring

import (
	"fmt"

	"github.com/NJUAIXGY/SnnDL/snn"
)

// MessageKind labels the payload class of a ring message.
type MessageKind int

const (
	KindSpike MessageKind = iota
	KindMemRequest
	KindMemResponse
	KindControl
)

// A Message is one unit of traffic on the ring.
type Message struct {
	Kind      MessageKind
	SrcUnit   int
	DstUnit   int
	Timestamp uint64
	Priority  int
	Spike     snn.Spike

	// arrival is the cycle the message entered its current buffer. A
	// message moves at most one hop per cycle.
	arrival uint64
}

// Direction is a routing decision at one node.
type Direction int

const (
	Clockwise Direction = iota
	CounterClockwise
	Local
	Invalid
)

// Ring is a bidirectional virtual-channel ring. The ring owns an arena
// of nodes; neighbor links are indices into that arena.
type Ring struct {
	numNodes     int
	numVCs       int
	creditsPerVC uint32

	nodes      []node
	routeCache map[int]Direction

	cycle          uint64
	totalRouted    uint64
	totalLatency   uint64
	lastStatsCycle uint64
}

// Builder can build rings.
type Builder struct {
	numNodes     int
	numVCs       int
	creditsPerVC uint32
}

// MakeBuilder returns a builder with the default VC configuration.
func MakeBuilder() Builder {
	return Builder{
		numVCs:       2,
		creditsPerVC: 8,
	}
}

// WithNumNodes sets how many units the ring connects.
func (b Builder) WithNumNodes(n int) Builder {
	b.numNodes = n
	return b
}

// WithNumVCs sets the virtual channel count per direction.
func (b Builder) WithNumVCs(n int) Builder {
	b.numVCs = n
	return b
}

// WithCreditsPerVC sets the credit budget of each virtual channel.
func (b Builder) WithCreditsPerVC(c uint32) Builder {
	b.creditsPerVC = c
	return b
}

// Build creates the ring and verifies its topology.
func (b Builder) Build() *Ring {
	if b.numNodes < 2 {
		panic(fmt.Sprintf("ring needs at least 2 nodes, got %d", b.numNodes))
	}
	if b.numVCs < 1 {
		panic(fmt.Sprintf("ring needs at least 1 VC per direction, got %d", b.numVCs))
	}

	r := &Ring{
		numNodes:     b.numNodes,
		numVCs:       b.numVCs,
		creditsPerVC: b.creditsPerVC,
		nodes:        make([]node, b.numNodes),
		routeCache:   make(map[int]Direction),
	}

	for i := range r.nodes {
		n := &r.nodes[i]
		n.id = i
		n.nextCW = (i + 1) % b.numNodes
		n.prevCW = (i + b.numNodes - 1) % b.numNodes
		n.nextCCW = n.prevCW
		n.prevCCW = n.nextCW
		n.initVCs(b.numVCs, b.creditsPerVC)
	}

	if !r.VerifyTopology() {
		panic("ring topology verification failed")
	}

	return r
}

// Send injects a message at src toward dst. It returns false when no
// virtual channel can take the message (caller backpressure).
func (r *Ring) Send(src, dst int, msg Message, priority int) bool {
	if src < 0 || src >= r.numNodes || dst < 0 || dst >= r.numNodes {
		snn.Trace("RingSendInvalid", "Src", src, "Dst", dst)
		return false
	}

	n := &r.nodes[src]

	if src == dst {
		msg.SrcUnit = src
		msg.DstUnit = dst
		n.ejection = append(n.ejection, msg)
		n.ejected++
		return true
	}

	dir := r.Route(src, dst)
	if dir == Invalid {
		return false
	}

	vc := n.selectOutputVC(dir, priority)
	if vc == nil {
		return false
	}

	msg.SrcUnit = src
	msg.DstUnit = dst
	msg.Priority = priority
	msg.Timestamp = r.cycle
	msg.arrival = r.cycle

	vc.buffer = append(vc.buffer, msg)
	vc.consumeCredit()
	vc.state = VCActive
	vc.lastActivityCycle = r.cycle
	n.injected++

	return true
}

// Receive pops one message from the ejection FIFO of a node.
func (r *Ring) Receive(nodeID int) (Message, bool) {
	if nodeID < 0 || nodeID >= r.numNodes {
		return Message{}, false
	}

	n := &r.nodes[nodeID]
	if len(n.ejection) == 0 {
		return Message{}, false
	}

	msg := n.ejection[0]
	n.ejection = n.ejection[1:]

	if r.cycle >= msg.Timestamp {
		lat := r.cycle - msg.Timestamp
		n.latencyCycles += lat
		r.totalLatency += lat
	}

	return msg, true
}

// Tick advances every node by one cycle. It reports whether any message
// moved.
func (r *Ring) Tick(cycle uint64) bool {
	r.cycle = cycle

	moved := false
	for i := range r.nodes {
		moved = r.processNode(&r.nodes[i]) || moved
	}

	if cycle-r.lastStatsCycle >= 1000 {
		r.refreshTotals()
		r.lastStatsCycle = cycle
	}

	return moved
}

// Route answers the direction from src to dst. Ties break clockwise and
// decisions are cached because the topology is static.
func (r *Ring) Route(src, dst int) Direction {
	if src == dst {
		return Local
	}

	key := src*r.numNodes + dst
	if dir, ok := r.routeCache[key]; ok {
		return dir
	}

	cw := r.Hops(src, dst, Clockwise)
	ccw := r.Hops(src, dst, CounterClockwise)

	dir := Clockwise
	if ccw < cw {
		dir = CounterClockwise
	}
	r.routeCache[key] = dir

	return dir
}

// Hops counts the forwarding steps from src to dst along a direction.
func (r *Ring) Hops(src, dst int, dir Direction) int {
	if src == dst {
		return 0
	}

	switch dir {
	case Clockwise:
		return ((dst - src) + r.numNodes) % r.numNodes
	case CounterClockwise:
		return ((src - dst) + r.numNodes) % r.numNodes
	default:
		return 0
	}
}

func (r *Ring) processNode(n *node) bool {
	moved := r.processDirection(n, Clockwise)
	moved = r.processDirection(n, CounterClockwise) || moved
	return moved
}

func (r *Ring) processDirection(n *node, dir Direction) bool {
	vcs := n.vcs(dir)

	selected := arbitrate(vcs)
	if selected < 0 {
		return false
	}

	vc := &vcs[selected]
	msg := vc.buffer[0]

	if msg.arrival >= r.cycle {
		// Arrived this cycle; it may move again next cycle.
		return false
	}

	if msg.DstUnit == n.id {
		n.ejection = append(n.ejection, msg)
		vc.buffer = vc.buffer[1:]
		vc.returnCredit()
		n.ejected++
		return true
	}

	nextDir := r.Route(n.id, msg.DstUnit)
	if nextDir == Invalid {
		// Should not happen on a verified ring; drop rather than wedge.
		vc.buffer = vc.buffer[1:]
		vc.returnCredit()
		snn.Trace("RingRouteFailed", "Node", n.id, "Dst", msg.DstUnit)
		return true
	}

	if r.forward(n, msg, nextDir) {
		vc.buffer = vc.buffer[1:]
		vc.returnCredit()
		n.forwarded++
		return true
	}

	// Backpressure: head stays put until the downstream VC frees up.
	vc.state = VCBlocked
	return false
}

func (r *Ring) forward(n *node, msg Message, dir Direction) bool {
	var next *node
	switch dir {
	case Clockwise:
		next = &r.nodes[n.nextCW]
	case CounterClockwise:
		next = &r.nodes[n.nextCCW]
	case Local:
		n.ejection = append(n.ejection, msg)
		return true
	default:
		return false
	}

	if !next.canAccept(dir, msg.Priority) {
		return false
	}

	vc := next.selectOutputVC(dir, msg.Priority)
	if vc == nil {
		return false
	}

	msg.arrival = r.cycle
	vc.buffer = append(vc.buffer, msg)
	vc.consumeCredit()
	vc.state = VCActive
	vc.lastActivityCycle = r.cycle

	return true
}

// arbitrate picks the VC with the numerically lowest priority among
// those holding data.
func arbitrate(vcs []VirtualChannel) int {
	best := -1
	bestPriority := int(^uint(0) >> 1)

	for i := range vcs {
		if vcs[i].hasData() && vcs[i].priority < bestPriority {
			bestPriority = vcs[i].priority
			best = i
		}
	}

	return best
}

// NumNodes returns the node count.
func (r *Ring) NumNodes() int { return r.numNodes }

// HasTrafficFor tells whether a node has ejected messages waiting.
func (r *Ring) HasTrafficFor(nodeID int) bool {
	if nodeID < 0 || nodeID >= r.numNodes {
		return false
	}
	return len(r.nodes[nodeID].ejection) > 0
}

// PendingMessageCount sums every buffered message on the ring.
func (r *Ring) PendingMessageCount() int {
	total := 0
	for i := range r.nodes {
		n := &r.nodes[i]
		for _, vcs := range [][]VirtualChannel{n.cwVCs, n.ccwVCs, n.localVCs} {
			for j := range vcs {
				total += len(vcs[j].buffer)
			}
		}
		total += len(n.ejection)
	}
	return total
}

// AverageLatency reports mean injection-to-ejection cycles.
func (r *Ring) AverageLatency() float64 {
	// Messages already taken out of the ejection FIFOs by Receive.
	var received uint64
	for i := range r.nodes {
		n := &r.nodes[i]
		received += n.ejected - uint64(len(n.ejection))
	}
	if received == 0 {
		return 0
	}
	return float64(r.totalLatency) / float64(received)
}

// NetworkUtilization estimates the fraction of active VC capacity.
func (r *Ring) NetworkUtilization() float64 {
	if r.cycle == 0 {
		return 0
	}

	var active uint64
	capacity := uint64(r.numNodes) * uint64(r.numVCs) * 2

	for i := range r.nodes {
		n := &r.nodes[i]
		for _, vcs := range [][]VirtualChannel{n.cwVCs, n.ccwVCs} {
			for j := range vcs {
				if vcs[j].state == VCActive {
					active += r.cycle - vcs[j].lastActivityCycle
				}
			}
		}
	}

	return float64(active) / float64(capacity*r.cycle)
}

// NodeStats reports the counters of one node.
func (r *Ring) NodeStats(nodeID int) (injected, ejected, forwarded uint64, avgLatency float64) {
	if nodeID < 0 || nodeID >= r.numNodes {
		return 0, 0, 0, 0
	}
	n := &r.nodes[nodeID]
	if n.ejected > 0 {
		avgLatency = float64(n.latencyCycles) / float64(n.ejected)
	}
	return n.injected, n.ejected, n.forwarded, avgLatency
}

// VerifyTopology checks that every neighbor link is mutual.
func (r *Ring) VerifyTopology() bool {
	for i := range r.nodes {
		n := &r.nodes[i]
		if r.nodes[n.nextCW].prevCW != n.id || r.nodes[n.prevCW].nextCW != n.id {
			return false
		}
		if r.nodes[n.nextCCW].prevCCW != n.id || r.nodes[n.prevCCW].nextCCW != n.id {
			return false
		}
	}
	return true
}

// DetectDeadlock is a best-effort observability aid: it flags the state
// where every CW VC holds data and none can advance.
func (r *Ring) DetectDeadlock() bool {
	for i := range r.nodes {
		for j := range r.nodes[i].cwVCs {
			vc := &r.nodes[i].cwVCs[j]
			if !vc.hasData() || vc.hasSpace() {
				return false
			}
		}
	}
	return true
}

// CheckCreditInvariant verifies credits + buffered <= maxCredits on
// every VC. Exposed for tests.
func (r *Ring) CheckCreditInvariant() bool {
	for i := range r.nodes {
		n := &r.nodes[i]
		for _, vcs := range [][]VirtualChannel{n.cwVCs, n.ccwVCs, n.localVCs} {
			for j := range vcs {
				if vcs[j].credits+uint32(len(vcs[j].buffer)) > vcs[j].maxCredits {
					return false
				}
			}
		}
	}
	return true
}

func (r *Ring) refreshTotals() {
	var routed uint64
	for i := range r.nodes {
		routed += r.nodes[i].forwarded + r.nodes[i].ejected
	}
	r.totalRouted = routed
}

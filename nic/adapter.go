// Package nic implements the inter-PE network adapter. It wraps spikes
// into fixed-layout packets, picks directions with a topology handler,
// and absorbs backpressure in a bounded retry queue.
package nic

import (
	"fmt"
	"log/slog"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/NJUAIXGY/SnnDL/snn"
	"github.com/NJUAIXGY/SnnDL/topology"
)

// Stats collects the adapter's routing counters.
type Stats struct {
	SpikesRouted     uint64
	LocalSpikes      uint64
	RemoteSpikes     uint64
	XYRoutes         uint64
	AdaptiveRoutes   uint64
	CongestionEvents uint64
	PacketsDropped   uint64
	TotalHops        uint64
	MaxHops          uint64
	BytesSent        uint64
	AvgLatencyCycles uint64
}

var _ snn.NetworkInterface = (*Adapter)(nil)

// Adapter is the external network interface of one PE. The network
// port itself is owned by the parent component; the adapter drives its
// send side and consumes packets the parent retrieves.
type Adapter struct {
	nodeID uint32
	topo   topology.Handler

	port   snn.SendPort
	routes map[uint32]sim.RemotePort

	handler snn.SpikeHandler

	pending    []snn.Spike
	maxPending int

	stats Stats
}

// Builder can build network adapters.
type Builder struct {
	nodeID     uint32
	topo       topology.Handler
	port       snn.SendPort
	maxPending int
}

// MakeBuilder returns an adapter builder with the default retry queue
// size.
func MakeBuilder() Builder {
	return Builder{maxPending: 64}
}

// WithNodeID sets this PE's node id.
func (b Builder) WithNodeID(id uint32) Builder {
	b.nodeID = id
	return b
}

// WithTopology sets the routing handler.
func (b Builder) WithTopology(t topology.Handler) Builder {
	b.topo = t
	return b
}

// WithPort sets the network port the adapter sends through.
func (b Builder) WithPort(p snn.SendPort) Builder {
	b.port = p
	return b
}

// WithMaxPending bounds the retry queue.
func (b Builder) WithMaxPending(n int) Builder {
	b.maxPending = n
	return b
}

// Build creates the adapter.
func (b Builder) Build() *Adapter {
	if b.topo == nil {
		panic("network adapter needs a topology handler")
	}

	return &Adapter{
		nodeID:     b.nodeID,
		topo:       b.topo,
		port:       b.port,
		routes:     make(map[uint32]sim.RemotePort),
		maxPending: b.maxPending,
	}
}

// RegisterRoute binds a destination node id to the remote network port
// of that node's PE.
func (a *Adapter) RegisterRoute(node uint32, port sim.RemotePort) {
	a.routes[node] = port
}

// SetSpikeHandler sets the callback for spikes arriving from peers.
func (a *Adapter) SetSpikeHandler(h snn.SpikeHandler) {
	a.handler = h
}

// NodeID returns this PE's node id.
func (a *Adapter) NodeID() uint32 { return a.nodeID }

// Status summarizes the adapter for logs.
func (a *Adapter) Status() string {
	return fmt.Sprintf("NetAdapter[%d] routed=%d local=%d remote=%d dropped=%d topo=%s",
		a.nodeID, a.stats.SpikesRouted, a.stats.LocalSpikes,
		a.stats.RemoteSpikes, a.stats.PacketsDropped, a.topo.Description())
}

// Stats returns the statistics snapshot.
func (a *Adapter) Stats() Stats { return a.stats }

// Topology exposes the routing handler.
func (a *Adapter) Topology() topology.Handler { return a.topo }

// SendSpike routes one spike. Spikes for this node loop straight back
// into the handler; remote ones are packetized. The return value is
// false only when the spike was dropped.
func (a *Adapter) SendSpike(s snn.Spike) bool {
	a.stats.SpikesRouted++

	if s.DstNode == a.nodeID {
		a.stats.LocalSpikes++
		if a.handler != nil {
			a.handler(s)
		}
		return true
	}

	a.stats.RemoteSpikes++
	return a.routeSpike(s)
}

func (a *Adapter) routeSpike(s snn.Spike) bool {
	dir := a.topo.Route(s.DstNode)
	if dir == topology.None || dir == topology.Local {
		a.stats.PacketsDropped++
		slog.Warn("nic: no route to node", "node", a.nodeID, "dst", s.DstNode)
		return false
	}

	hops := a.topo.Hops(s.DstNode)
	if hops > 0 {
		a.stats.TotalHops += uint64(hops)
		if uint64(hops) > a.stats.MaxHops {
			a.stats.MaxHops = uint64(hops)
		}
	}

	// Latency model: ten cycles per hop, folded into a moving average.
	estimated := uint64(hops) * 10
	a.stats.AvgLatencyCycles = (a.stats.AvgLatencyCycles + estimated) / 2
	a.stats.XYRoutes++

	if !a.trySend(s) {
		if len(a.pending) >= a.maxPending {
			a.stats.PacketsDropped++
			a.stats.CongestionEvents++
			return false
		}
		a.pending = append(a.pending, s)
	}

	return true
}

func (a *Adapter) trySend(s snn.Spike) bool {
	if a.port == nil {
		return false
	}

	dst, ok := a.routes[s.DstNode]
	if !ok {
		return false
	}

	pkt := snn.PacketMsgBuilder{}.
		WithSrc(a.port.AsRemote()).
		WithDst(dst).
		WithSrcNode(a.nodeID).
		WithDstNode(s.DstNode).
		WithData(snn.EncodeSpike(s)).
		Build()

	if err := a.port.Send(pkt); err != nil {
		return false
	}

	a.stats.BytesSent += snn.WireSize
	return true
}

// Tick drains the retry queue while the port has space. It reports
// whether anything was sent.
func (a *Adapter) Tick() bool {
	sent := false

	for len(a.pending) > 0 && a.port != nil && a.port.CanSend() {
		if !a.trySend(a.pending[0]) {
			break
		}
		a.pending = a.pending[1:]
		sent = true
	}

	return sent
}

// PendingCount reports the retry queue depth.
func (a *Adapter) PendingCount() int { return len(a.pending) }

// HandlePacket unwraps one packet from a peer, bumps the hop count,
// and hands the spike to the handler. Malformed payloads drop.
func (a *Adapter) HandlePacket(pkt *snn.PacketMsg) {
	s, err := snn.DecodeSpike(pkt.Data)
	if err != nil {
		a.stats.PacketsDropped++
		slog.Warn("nic: malformed packet", "node", a.nodeID, "err", err)
		return
	}

	s.HopCount++
	if a.handler != nil {
		a.handler(s)
	}
}

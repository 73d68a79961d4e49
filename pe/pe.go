// Package pe implements the multi-core SNN processing element. A PE
// hosts several neuron cores, the on-chip virtual-channel ring, and the
// external network adapter, and translates spikes between the three.
package pe

import (
	"fmt"
	"log/slog"

	"github.com/sarchlab/akita/v4/mem/mem"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/NJUAIXGY/SnnDL/core"
	"github.com/NJUAIXGY/SnnDL/nic"
	"github.com/NJUAIXGY/SnnDL/ring"
	"github.com/NJUAIXGY/SnnDL/snn"
)

// UnitState is the public view of one processing unit, refreshed each
// cycle from the owning core's statistics.
type UnitState struct {
	UnitID          int
	NeuronIDStart   int
	NeuronCount     int
	IsActive        bool
	SpikesProcessed uint64
	NeuronsFired    uint64
	Utilization     float64
}

// Stats aggregates the PE-level counters.
type Stats struct {
	ExternalSpikesReceived uint64
	ExternalSpikesSent     uint64
	SpikesProcessed        uint64
	InterCoreMessages      uint64
	HopExpiredDrops        uint64
	InvalidTargetDrops     uint64
	RingFullDrops          uint64
	CurrentCycle           uint64
}

var _ snn.SpikeSender = (*Comp)(nil)

// Comp is the multi-core PE component.
type Comp struct {
	*sim.TickingComponent

	nodeID           uint32
	numCores         int
	neuronsPerCore   int
	totalNeurons     int
	globalNeuronBase uint64

	cores     []*core.Core
	corePorts []sim.Port

	ringNet  *ring.Ring
	loadCtrl *loadController
	adapter  *nic.Adapter

	spikePort sim.Port
	netPort   sim.Port

	externalQueue []snn.Spike
	unitStates    []UnitState

	enableTestTraffic  bool
	testTargetNode     uint32
	testPeriod         uint64
	testSpikesPerBurst int
	testMaxSpikes      int
	testWeight         float32
	testCycleCounter   uint64
	testSpikesSent     int

	currentCycle uint64
	stats        Stats
}

// NodeID returns the PE's node id on the external fabric.
func (c *Comp) NodeID() uint32 { return c.nodeID }

// Adapter exposes the external network adapter for route registration.
func (c *Comp) Adapter() *nic.Adapter { return c.adapter }

// SpikePort returns the external spike input port.
func (c *Comp) SpikePort() sim.Port { return c.spikePort }

// NetworkPort returns the inter-PE packet port.
func (c *Comp) NetworkPort() sim.Port { return c.netPort }

// Stats returns the PE counter snapshot.
func (c *Comp) Stats() Stats {
	s := c.stats
	s.CurrentCycle = c.currentCycle
	return s
}

// UnitStates returns the last refreshed processing-unit states.
func (c *Comp) UnitStates() []UnitState { return c.unitStates }

// Ring exposes the internal interconnect, mainly for tests.
func (c *Comp) Ring() *ring.Ring { return c.ringNet }

// ConnectMemory wires every core's memory channel to the given remote
// port (the memory controller's top port).
func (c *Comp) ConnectMemory(remote sim.RemotePort) {
	for i, cr := range c.cores {
		cr.SetMemory(c.corePorts[i], remote)
	}
}

// CoreMemPorts returns the per-core memory ports for plugging into a
// connection.
func (c *Comp) CoreMemPorts() []sim.Port { return c.corePorts }

// Core returns one neuron core, mainly for tests.
func (c *Comp) Core(i int) *core.Core {
	if i < 0 || i >= len(c.cores) {
		return nil
	}
	return c.cores[i]
}

// Tick advances the PE one simulation step.
func (c *Comp) Tick() bool {
	c.currentCycle++
	madeProgress := false

	// Inbound messages: dataset spikes and peer packets.
	madeProgress = c.drainSpikePort() || madeProgress
	madeProgress = c.drainNetworkPort() || madeProgress

	// 1. External-spike FIFO.
	madeProgress = c.processExternalQueue() || madeProgress

	// 2. Per-core memory responses and core dynamics; refresh the
	// public unit states from each core's snapshot.
	for i, cr := range c.cores {
		madeProgress = c.drainMemPort(i) || madeProgress
		madeProgress = cr.Tick(c.currentCycle) || madeProgress
	}
	c.refreshUnitStates()

	// 3. Ring step, then ejection delivery.
	if c.ringNet != nil {
		madeProgress = c.ringNet.Tick(c.currentCycle) || madeProgress
		madeProgress = c.drainRingEjections() || madeProgress

		if c.currentCycle%1000 == 0 && c.ringNet.DetectDeadlock() {
			slog.Warn("pe: potential ring deadlock", "node", c.nodeID)
		}
	}

	// 4. Load controller.
	c.loadCtrl.tick(c.unitStates)
	if c.currentCycle%100 == 0 {
		c.checkLoadBalance()
	}

	// 5. Deterministic test traffic.
	if c.enableTestTraffic {
		madeProgress = c.generateTestTraffic() || madeProgress
	}

	// Retry queue of the NIC.
	if c.adapter != nil {
		madeProgress = c.adapter.Tick() || madeProgress
	}

	return madeProgress
}

func (c *Comp) drainSpikePort() bool {
	made := false
	for {
		item := c.spikePort.PeekIncoming()
		if item == nil {
			break
		}
		c.spikePort.RetrieveIncoming()
		made = true

		msg, ok := item.(*snn.SpikeMsg)
		if !ok {
			slog.Warn("pe: non-spike message on spike port", "node", c.nodeID)
			continue
		}
		c.handleInboundSpike(msg.Spike)
	}
	return made
}

func (c *Comp) drainNetworkPort() bool {
	made := false
	for {
		item := c.netPort.PeekIncoming()
		if item == nil {
			break
		}
		c.netPort.RetrieveIncoming()
		made = true

		pkt, ok := item.(*snn.PacketMsg)
		if !ok || c.adapter == nil {
			slog.Warn("pe: undeliverable message on network port", "node", c.nodeID)
			continue
		}
		c.adapter.HandlePacket(pkt)
	}
	return made
}

func (c *Comp) drainMemPort(coreID int) bool {
	made := false
	port := c.corePorts[coreID]
	for {
		item := port.PeekIncoming()
		if item == nil {
			break
		}
		port.RetrieveIncoming()
		made = true

		switch rsp := item.(type) {
		case *mem.DataReadyRsp:
			c.cores[coreID].HandleDataReady(rsp)
		case *mem.WriteDoneRsp:
			// Writes are fire-and-forget here.
		default:
			slog.Warn("pe: unexpected memory response",
				"node", c.nodeID, "core", coreID)
		}
	}
	return made
}

// handleInboundSpike applies the hop budget, then routes: local node
// into the external queue, in-PE unit directly to its core, anything
// else back out through the NIC.
func (c *Comp) handleInboundSpike(s snn.Spike) {
	if s.Expired() {
		c.stats.HopExpiredDrops++
		slog.Warn("pe: hop-expired spike dropped",
			"node", c.nodeID, "src", s.SrcNeuron, "dst", s.DstNeuron)
		return
	}
	s.HopCount++

	c.stats.ExternalSpikesReceived++

	if s.DstNode == c.nodeID {
		c.externalQueue = append(c.externalQueue, s)
		return
	}

	if unit := c.determineTargetUnit(s.DstNeuron); unit >= 0 {
		c.DeliverSpikeToCore(unit, s)
		return
	}

	c.SendExternalSpike(s)
}

// HandleExternalSpike enqueues a spike arriving from the network
// adapter. The adapter has already accounted for the hop.
func (c *Comp) HandleExternalSpike(s snn.Spike) {
	if s.Expired() {
		c.stats.HopExpiredDrops++
		return
	}

	c.stats.ExternalSpikesReceived++
	c.externalQueue = append(c.externalQueue, s)
}

func (c *Comp) processExternalQueue() bool {
	made := len(c.externalQueue) > 0

	for _, s := range c.externalQueue {
		if unit := c.determineTargetUnit(s.DstNeuron); unit >= 0 {
			c.DeliverSpikeToCore(unit, s)
			continue
		}

		if c.adapter != nil {
			c.SendExternalSpike(s)
			continue
		}

		c.stats.InvalidTargetDrops++
		slog.Warn("pe: no target unit and no NIC, spike dropped",
			"node", c.nodeID, "dstNeuron", s.DstNeuron)
	}
	c.externalQueue = c.externalQueue[:0]

	return made
}

// DeliverSpikeToCore passes one spike into a core's inbound FIFO.
func (c *Comp) DeliverSpikeToCore(coreID int, s snn.Spike) {
	if coreID < 0 || coreID >= c.numCores {
		c.stats.InvalidTargetDrops++
		slog.Warn("pe: invalid core id", "node", c.nodeID, "core", coreID)
		return
	}

	c.cores[coreID].DeliverSpike(s)
	c.stats.SpikesProcessed++
}

// RouteInternalSpike posts a spike onto the ring between two cores.
func (c *Comp) RouteInternalSpike(srcCore, dstCore int, s snn.Spike) {
	if srcCore < 0 || srcCore >= c.numCores || dstCore < 0 || dstCore >= c.numCores {
		c.stats.InvalidTargetDrops++
		slog.Warn("pe: invalid ring endpoints",
			"node", c.nodeID, "src", srcCore, "dst", dstCore)
		return
	}

	if c.numCores <= 1 || srcCore == dstCore {
		c.DeliverSpikeToCore(dstCore, s)
		return
	}

	msg := ring.Message{
		Kind:      ring.KindSpike,
		Timestamp: c.currentCycle,
		Spike:     s,
	}
	if !c.ringNet.Send(srcCore, dstCore, msg, 1) {
		c.stats.RingFullDrops++
		slog.Warn("pe: ring full, spike dropped",
			"node", c.nodeID, "src", srcCore, "dst", dstCore)
		return
	}

	c.stats.InterCoreMessages++
}

// SendSpike takes a fired spike from a core and picks ring, local
// delivery, or NIC. It implements snn.SpikeSender.
func (c *Comp) SendSpike(s snn.Spike) {
	dstUnit := c.determineTargetUnit(s.DstNeuron)
	if dstUnit >= 0 {
		srcUnit := c.determineTargetUnit(s.SrcNeuron)
		if srcUnit >= 0 {
			c.RouteInternalSpike(srcUnit, dstUnit, s)
		} else {
			c.DeliverSpikeToCore(dstUnit, s)
		}
		return
	}

	c.SendExternalSpike(s)
}

// SendExternalSpike hands a spike to the NIC. Self-targeted spikes are
// dropped to avoid external loopback.
func (c *Comp) SendExternalSpike(s snn.Spike) {
	if s.DstNode == c.nodeID {
		c.stats.InvalidTargetDrops++
		slog.Warn("pe: self-targeted external spike dropped",
			"node", c.nodeID, "src", s.SrcNeuron, "dst", s.DstNeuron)
		return
	}

	if c.adapter == nil {
		c.stats.InvalidTargetDrops++
		slog.Warn("pe: no NIC, external spike dropped", "node", c.nodeID)
		return
	}

	c.adapter.SendSpike(s)
	c.stats.ExternalSpikesSent++
}

// determineTargetUnit maps a global neuron id to the owning core, or -1
// when the neuron lives on another PE.
func (c *Comp) determineTargetUnit(neuronID uint32) int {
	local := int64(neuronID) - int64(c.globalNeuronBase)
	if local < 0 || local >= int64(c.totalNeurons) {
		return -1
	}
	return int(local) / c.neuronsPerCore
}

func (c *Comp) refreshUnitStates() {
	for i, cr := range c.cores {
		st := cr.Stats()
		c.unitStates[i].SpikesProcessed = st.SpikesReceived
		c.unitStates[i].NeuronsFired = st.NeuronsFired
		c.unitStates[i].Utilization = cr.Utilization()
		c.unitStates[i].IsActive = cr.HasWork()
	}
}

func (c *Comp) drainRingEjections() bool {
	made := false
	for i := 0; i < c.numCores; i++ {
		for {
			msg, ok := c.ringNet.Receive(i)
			if !ok {
				break
			}
			made = true

			if msg.Kind != ring.KindSpike {
				continue
			}
			c.DeliverSpikeToCore(i, msg.Spike)
		}
	}
	return made
}

func (c *Comp) checkLoadBalance() {
	maxUtil, minUtil := 0.0, 1.0
	for i := range c.unitStates {
		u := c.unitStates[i].Utilization
		if u > maxUtil {
			maxUtil = u
		}
		if u < minUtil {
			minUtil = u
		}
	}

	if maxUtil-minUtil > 0.3 {
		c.loadCtrl.balanceLoad()
	}
}

// generateTestTraffic emits deterministic bursts toward the configured
// target node.
func (c *Comp) generateTestTraffic() bool {
	if c.testMaxSpikes > 0 && c.testSpikesSent >= c.testMaxSpikes {
		return false
	}

	// Counting toward the next burst is progress: the generator keeps
	// the PE ticking until the budget is spent.
	c.testCycleCounter++
	if c.testCycleCounter < c.testPeriod {
		return true
	}
	c.testCycleCounter = 0

	toSend := c.testSpikesPerBurst
	if c.testMaxSpikes > 0 && toSend > c.testMaxSpikes-c.testSpikesSent {
		toSend = c.testMaxSpikes - c.testSpikesSent
	}

	for i := 0; i < toSend; i++ {
		idx := uint32(i % c.totalNeurons)
		s := snn.Spike{
			SrcNeuron: c.nodeID*uint32(c.totalNeurons) + idx,
			DstNeuron: c.testTargetNode*uint32(c.totalNeurons) + idx,
			DstNode:   c.testTargetNode,
			Weight:    c.testWeight,
			Timestamp: c.currentCycle,
		}
		c.SendExternalSpike(s)
		c.testSpikesSent++
	}

	return true
}

// ReportFinish prints the per-node summary line and returns the
// aggregate counts.
func (c *Comp) ReportFinish() (spikes, fired uint64) {
	c.refreshUnitStates()
	for i := range c.unitStates {
		spikes += c.unitStates[i].SpikesProcessed
		fired += c.unitStates[i].NeuronsFired
	}

	fmt.Printf("NODE%d: 脉冲=%d, 激发=%d\n", c.nodeID, spikes, fired)
	return spikes, fired
}

// Package core models one neuromorphic core: a bank of
// Leaky-Integrate-and-Fire neurons with on-demand synaptic weight
// fetching through a memory port.
package core

import (
	"encoding/binary"
	"log/slog"
	"math"

	"github.com/sarchlab/akita/v4/mem/mem"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/NJUAIXGY/SnnDL/snn"
)

// neuronState is the per-neuron dynamic state.
type neuronState struct {
	vMem            float32
	refractoryTimer uint32
	lastSpikeCycle  uint64
}

// pendingRequest tracks one in-flight weight read until its response
// arrives.
type pendingRequest struct {
	addr        uint64
	size        uint64
	pre         uint32
	postStart   uint32
	countFloats uint32
	isRow       bool

	hasCallback bool
	cbPost      uint32
	callback    func(float32)
}

var _ snn.Core = (*Core)(nil)

// Core is one LIF neuron core inside a multi-core PE. It is ticked by
// its parent and talks to memory through a port the parent assigns.
type Core struct {
	coreID           int
	nodeID           uint32
	numNeurons       uint32
	globalNeuronBase uint64
	baseAddr         uint64

	vThresh float32
	vReset  float32
	vRest   float32
	tauMem  float32
	tRef    uint32

	leakFactor float32

	enableWeightFetch      bool
	useEventWeightFallback bool
	mergeReadRow           bool
	mergeReadCacheline     bool
	lineSizeBytes          uint32
	maxOutstanding         uint32
	maxCacheEntries        int

	verifyWeights       bool
	verifySamples       uint32
	expectedWeightValue float32
	verifyEpsilon       float32

	policy snn.LayerPolicy
	sender snn.SpikeSender

	neurons  []neuronState
	incoming []snn.Spike

	memPort   snn.SendPort
	memRemote sim.RemotePort
	memReady  bool

	weightCache map[uint64]float32
	pending     map[string]*pendingRequest
	outstanding uint32

	verifyRequested uint32
	verifyCompleted uint32
	verifyMismatch  uint64
	verifySum       float64

	spikesReceived  uint64
	spikesGenerated uint64
	neuronsFired    uint64
	spikesDropped   uint64
	memoryRequests  uint64
	cacheHits       uint64
	cacheMisses     uint64
	mergedRowReads  uint64
	mergedLineReads uint64
	totalCycles     uint64
	activeCycles    uint64

	cycle uint64
}

// SetMemory assigns the memory channel of the core. The local port is
// owned by the parent component; remote names the memory controller.
func (c *Core) SetMemory(local snn.SendPort, remote sim.RemotePort) {
	c.memPort = local
	c.memRemote = remote
	c.memReady = local != nil && remote != ""
}

// DeliverSpike queues one inbound spike. The spike is applied at the
// next tick, in insertion order.
func (c *Core) DeliverSpike(s snn.Spike) {
	c.incoming = append(c.incoming, s)
	c.spikesReceived++
}

// HasWork tells whether the core still has state worth ticking.
func (c *Core) HasWork() bool {
	if len(c.incoming) > 0 || c.outstanding > 0 {
		return true
	}
	for i := range c.neurons {
		if c.neurons[i].vMem > c.vRest+0.1 || c.neurons[i].refractoryTimer > 0 {
			return true
		}
	}
	return false
}

// Utilization is the fraction of cycles where the core did work.
func (c *Core) Utilization() float64 {
	if c.totalCycles == 0 {
		return 0
	}
	return float64(c.activeCycles) / float64(c.totalCycles)
}

// Stats returns the statistics snapshot of the core.
func (c *Core) Stats() snn.CoreStats {
	return snn.CoreStats{
		SpikesReceived:  c.spikesReceived,
		SpikesGenerated: c.spikesGenerated,
		NeuronsFired:    c.neuronsFired,
		SpikesDropped:   c.spikesDropped,
		MemoryRequests:  c.memoryRequests,
		CacheHits:       c.cacheHits,
		CacheMisses:     c.cacheMisses,
		MergedRowReads:  c.mergedRowReads,
		MergedLineReads: c.mergedLineReads,
		VerifyCompleted: uint64(c.verifyCompleted),
		VerifyMismatch:  c.verifyMismatch,
		VerifySum:       c.verifySum,
		TotalCycles:     c.totalCycles,
		ActiveCycles:    c.activeCycles,
	}
}

// NeuronState exposes one neuron's membrane potential and refractory
// timer, mainly for tests and debugging.
func (c *Core) NeuronState(idx uint32) (vMem float32, refractory uint32) {
	if idx >= c.numNeurons {
		return 0, 0
	}
	return c.neurons[idx].vMem, c.neurons[idx].refractoryTimer
}

// OutstandingRequests reports the in-flight weight read count.
func (c *Core) OutstandingRequests() uint32 { return c.outstanding }

// CachedWeight probes the weight cache.
func (c *Core) CachedWeight(pre, post uint32) (float32, bool) {
	w, ok := c.weightCache[c.cacheKey(pre, post)]
	return w, ok
}

// Tick advances the core by one cycle: apply queued spikes, run the
// optional weight verification, then leak/refractory dynamics and
// threshold checks.
func (c *Core) Tick(cycle uint64) bool {
	c.cycle = cycle
	c.totalCycles++

	hasActivity := false

	for _, s := range c.incoming {
		c.processSpike(s)
		hasActivity = true
	}
	c.incoming = c.incoming[:0]

	if c.verifyWeights && c.memReady {
		hasActivity = c.issueVerifySample() || hasActivity
	}

	c.updateNeuronStates()

	for i := uint32(0); i < c.numNeurons; i++ {
		c.checkAndFire(i)
	}

	if hasActivity {
		c.activeCycles++
	}

	return hasActivity || c.outstanding > 0
}

func (c *Core) processSpike(s snn.Spike) {
	base := c.globalNeuronBase
	if uint64(s.DstNeuron) < base || uint64(s.DstNeuron) >= base+uint64(c.numNeurons) {
		c.spikesDropped++
		slog.Warn("core: unmappable target neuron",
			"core", c.coreID, "dstNeuron", s.DstNeuron)
		return
	}
	target := uint32(uint64(s.DstNeuron) - base)

	n := &c.neurons[target]
	if n.refractoryTimer > 0 {
		return
	}

	weight, haveMemWeight := c.resolveWeight(s, target)
	if !haveMemWeight {
		if c.useEventWeightFallback {
			weight = s.Weight
		} else {
			weight = 0
		}
	}

	n.vMem += weight
	c.checkAndFire(target)
}

// resolveWeight probes the weight cache and, on a miss, issues a read
// within the outstanding budget. The event is processed immediately
// with the fallback; the response only populates the cache.
func (c *Core) resolveWeight(s snn.Spike, target uint32) (float32, bool) {
	if !c.enableWeightFetch || !c.memReady {
		return 0, false
	}

	pre := c.preLocal(s.SrcNeuron)
	post := target
	key := c.cacheKey(pre, post)

	if w, ok := c.weightCache[key]; ok {
		c.cacheHits++
		return w, true
	}

	c.cacheMisses++
	if c.outstanding < c.maxOutstanding {
		c.requestWeight(pre, post, nil)
	}

	return 0, false
}

// preLocal folds a global presynaptic id into this core's row index.
// Sources outside the core use the PE-relative index modulo the row
// count, matching the per-core weight block layout.
func (c *Core) preLocal(srcGlobal uint32) uint32 {
	base := c.globalNeuronBase
	if uint64(srcGlobal) >= base && uint64(srcGlobal) < base+uint64(c.numNeurons) {
		return uint32(uint64(srcGlobal) - base)
	}

	peBase := base - uint64(c.coreID)*uint64(c.numNeurons)
	return uint32((uint64(srcGlobal) - peBase) % uint64(c.numNeurons))
}

func (c *Core) cacheKey(pre, post uint32) uint64 {
	return uint64(pre)*uint64(c.numNeurons) + uint64(post)
}

func (c *Core) cacheWeight(key uint64, w float32) {
	if len(c.weightCache) >= c.maxCacheEntries {
		// Wholesale clear on overflow.
		c.weightCache = make(map[uint64]float32)
	}
	c.weightCache[key] = w
}

// requestWeight issues a read for (pre, post) according to the merge
// strategy. callback, if given, receives exactly the requested element
// once the response lands.
func (c *Core) requestWeight(pre, post uint32, callback func(float32)) {
	const bytesPerFloat = 4

	postStart := post
	countFloats := uint32(1)
	addr := c.baseAddr + (uint64(pre)*uint64(c.numNeurons)+uint64(post))*bytesPerFloat
	isRow := false

	switch {
	case c.mergeReadRow:
		isRow = true
		postStart = 0
		countFloats = c.numNeurons
		addr = c.baseAddr + uint64(pre)*uint64(c.numNeurons)*bytesPerFloat
		c.mergedRowReads++
	case c.mergeReadCacheline:
		floatsPerLine := c.lineSizeBytes / bytesPerFloat
		if floatsPerLine < 1 {
			floatsPerLine = 1
		}
		postStart = (post / floatsPerLine) * floatsPerLine
		countFloats = floatsPerLine
		if left := c.numNeurons - postStart; countFloats > left {
			countFloats = left
		}
		addr = c.baseAddr + (uint64(pre)*uint64(c.numNeurons)+uint64(postStart))*bytesPerFloat
		c.mergedLineReads++
	}

	if c.memPort == nil || !c.memPort.CanSend() {
		if callback != nil {
			callback(0)
		}
		return
	}

	req := mem.ReadReqBuilder{}.
		WithSrc(c.memPort.AsRemote()).
		WithDst(c.memRemote).
		WithAddress(addr).
		WithByteSize(uint64(countFloats) * bytesPerFloat).
		Build()

	if err := c.memPort.Send(req); err != nil {
		if callback != nil {
			callback(0)
		}
		return
	}

	c.pending[req.ID] = &pendingRequest{
		addr:        addr,
		size:        uint64(countFloats) * bytesPerFloat,
		pre:         pre,
		postStart:   postStart,
		countFloats: countFloats,
		isRow:       isRow,
		hasCallback: callback != nil,
		cbPost:      post,
		callback:    callback,
	}
	c.outstanding++
	c.memoryRequests++
}

// HandleDataReady consumes one read response, fills the cache, and
// dispatches the single-target callback if the request carried one.
func (c *Core) HandleDataReady(rsp *mem.DataReadyRsp) {
	req, ok := c.pending[rsp.RespondTo]
	if !ok {
		slog.Warn("core: response without matching pending request",
			"core", c.coreID, "rspTo", rsp.RespondTo)
		return
	}
	delete(c.pending, rsp.RespondTo)

	floatCount := uint32(len(rsp.Data) / 4)
	for i := uint32(0); i < floatCount; i++ {
		post := req.postStart + i
		if post >= c.numNeurons {
			break
		}
		bits := binary.LittleEndian.Uint32(rsp.Data[i*4:])
		c.cacheWeight(c.cacheKey(req.pre, post), math.Float32frombits(bits))
	}

	if req.hasCallback {
		value := float32(0)
		if w, ok := c.weightCache[c.cacheKey(req.pre, req.cbPost)]; ok {
			value = w
		}
		req.callback(value)
	}

	if c.outstanding > 0 {
		c.outstanding--
	}
}

func (c *Core) updateNeuronStates() {
	for i := range c.neurons {
		n := &c.neurons[i]

		if n.refractoryTimer > 0 {
			// A timer set by a fire in this very cycle starts counting
			// next cycle.
			if n.lastSpikeCycle != c.cycle {
				n.refractoryTimer--
			}
			continue
		}

		if n.vMem > c.vRest {
			n.vMem = c.vRest + (n.vMem-c.vRest)*c.leakFactor
		}
	}
}

func (c *Core) checkAndFire(idx uint32) {
	n := &c.neurons[idx]

	if n.vMem < c.vThresh || n.refractoryTimer > 0 {
		return
	}

	n.vMem = c.vReset
	n.refractoryTimer = c.tRef
	n.lastSpikeCycle = c.cycle
	c.neuronsFired++
	c.spikesGenerated++

	dstNode, dstNeuron, weight, ok := c.policy.Target(c.nodeID, idx)
	if !ok {
		return
	}

	out := snn.Spike{
		SrcNeuron: uint32(c.globalNeuronBase) + idx,
		DstNeuron: dstNeuron,
		DstNode:   dstNode,
		Weight:    weight,
		Timestamp: c.cycle,
	}

	if c.sender != nil {
		c.sender.SendSpike(out)
	}
}

// issueVerifySample issues at most one pseudo-random verification read
// per cycle and folds the result into the mismatch statistics.
func (c *Core) issueVerifySample() bool {
	if c.verifyRequested >= c.verifySamples {
		return false
	}
	if c.verifyRequested-c.verifyCompleted >= c.maxOutstanding {
		return false
	}

	idx := c.verifyRequested
	pre := (idx * 7) % c.numNeurons
	post := (idx * 13) % c.numNeurons

	c.requestWeight(pre, post, func(w float32) {
		c.verifyCompleted++
		c.verifySum += float64(w)
		if float32(math.Abs(float64(w-c.expectedWeightValue))) > c.verifyEpsilon {
			c.verifyMismatch++
		}
	})
	c.verifyRequested++

	return true
}

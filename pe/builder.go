package pe

import (
	"fmt"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/NJUAIXGY/SnnDL/core"
	"github.com/NJUAIXGY/SnnDL/nic"
	"github.com/NJUAIXGY/SnnDL/ring"
	"github.com/NJUAIXGY/SnnDL/snn"
	"github.com/NJUAIXGY/SnnDL/topology"
)

// Builder can build multi-core PEs.
type Builder struct {
	engine sim.Engine
	freq   sim.Freq

	nodeID           uint32
	numCores         int
	neuronsPerCore   int
	globalNeuronBase uint64
	baseAddr         uint64

	vThresh float32
	vReset  float32
	vRest   float32
	tauMem  float32
	tRef    uint32

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

	numVCs       int
	creditsPerVC uint32

	topo topology.Handler

	enableTestTraffic  bool
	testTargetNode     uint32
	testPeriod         uint64
	testSpikesPerBurst int
	testMaxSpikes      int
	testWeight         float32

	policy snn.LayerPolicy

	spikeBufSize int
}

// MakeBuilder returns a PE builder with the reference defaults.
func MakeBuilder() Builder {
	return Builder{
		freq:               1 * sim.GHz,
		numCores:           4,
		neuronsPerCore:     64,
		vThresh:            1.0,
		vReset:             0.0,
		vRest:              0.0,
		tauMem:             20.0,
		tRef:               2,
		mergeReadCacheline: true,
		lineSizeBytes:      64,
		maxOutstanding:     16,
		maxCacheEntries:    4096,
		verifySamples:      16,
		verifyEpsilon:      1e-4,
		numVCs:             2,
		creditsPerVC:       8,
		testPeriod:         100,
		testSpikesPerBurst: 4,
		testMaxSpikes:      10,
		testWeight:         0.2,
		policy:             snn.FeedForwardPolicy{},
		spikeBufSize:       16,
	}
}

// WithEngine sets the engine.
func (b Builder) WithEngine(engine sim.Engine) Builder {
	b.engine = engine
	return b
}

// WithFreq sets the clock frequency of the PE.
func (b Builder) WithFreq(freq sim.Freq) Builder {
	b.freq = freq
	return b
}

// WithNodeID sets the PE's node id on the fabric.
func (b Builder) WithNodeID(id uint32) Builder {
	b.nodeID = id
	return b
}

// WithNumCores sets the core count.
func (b Builder) WithNumCores(n int) Builder {
	b.numCores = n
	return b
}

// WithNeuronsPerCore sets the neuron count of each core.
func (b Builder) WithNeuronsPerCore(n int) Builder {
	b.neuronsPerCore = n
	return b
}

// WithGlobalNeuronBase sets the first global neuron id this PE owns.
func (b Builder) WithGlobalNeuronBase(base uint64) Builder {
	b.globalNeuronBase = base
	return b
}

// WithBaseAddr sets the weight memory base of the PE; core blocks are
// laid out consecutively behind it.
func (b Builder) WithBaseAddr(addr uint64) Builder {
	b.baseAddr = addr
	return b
}

// WithLIFParams sets the shared neuron parameters.
func (b Builder) WithLIFParams(vThresh, vReset, vRest, tauMem float32, tRef uint32) Builder {
	b.vThresh = vThresh
	b.vReset = vReset
	b.vRest = vRest
	b.tauMem = tauMem
	b.tRef = tRef
	return b
}

// WithWeightFetch enables on-demand weight reads for all cores.
func (b Builder) WithWeightFetch(enable bool) Builder {
	b.enableWeightFetch = enable
	return b
}

// WithEventWeightFallback selects the event-carried weight as the miss
// fallback.
func (b Builder) WithEventWeightFallback(enable bool) Builder {
	b.useEventWeightFallback = enable
	return b
}

// WithRowMerge selects full-row weight reads.
func (b Builder) WithRowMerge(enable bool) Builder {
	b.mergeReadRow = enable
	return b
}

// WithCachelineMerge selects line-aligned weight reads.
func (b Builder) WithCachelineMerge(enable bool, lineSizeBytes uint32) Builder {
	b.mergeReadCacheline = enable
	if lineSizeBytes > 0 {
		b.lineSizeBytes = lineSizeBytes
	}
	return b
}

// WithMaxOutstanding bounds each core's in-flight reads.
func (b Builder) WithMaxOutstanding(n uint32) Builder {
	b.maxOutstanding = n
	return b
}

// WithMaxCacheEntries bounds each core's weight cache.
func (b Builder) WithMaxCacheEntries(n int) Builder {
	b.maxCacheEntries = n
	return b
}

// WithVerification enables the startup weight sampling check.
func (b Builder) WithVerification(samples uint32, expected, epsilon float32) Builder {
	b.verifyWeights = true
	b.verifySamples = samples
	b.expectedWeightValue = expected
	b.verifyEpsilon = epsilon
	return b
}

// WithRingVCs sets the ring virtual-channel configuration.
func (b Builder) WithRingVCs(numVCs int, creditsPerVC uint32) Builder {
	b.numVCs = numVCs
	b.creditsPerVC = creditsPerVC
	return b
}

// WithTopology sets the external topology handler. Without one the PE
// has no NIC and drops cross-node spikes.
func (b Builder) WithTopology(t topology.Handler) Builder {
	b.topo = t
	return b
}

// WithTestTraffic enables the deterministic traffic generator.
func (b Builder) WithTestTraffic(target uint32, period uint64, burst, maxSpikes int, weight float32) Builder {
	b.enableTestTraffic = true
	b.testTargetNode = target
	b.testPeriod = period
	b.testSpikesPerBurst = burst
	b.testMaxSpikes = maxSpikes
	b.testWeight = weight
	return b
}

// WithPolicy sets the layer routing policy handed to every core.
func (b Builder) WithPolicy(p snn.LayerPolicy) Builder {
	b.policy = p
	return b
}

// Build creates a PE component.
func (b Builder) Build(name string) *Comp {
	if b.numCores < 1 || b.numCores > 64 {
		panic(fmt.Sprintf("num_cores must be in 1-64, got %d", b.numCores))
	}
	if b.neuronsPerCore < 1 || b.neuronsPerCore > 1024 {
		panic(fmt.Sprintf("neurons_per_core must be in 1-1024, got %d", b.neuronsPerCore))
	}

	c := &Comp{
		nodeID:           b.nodeID,
		numCores:         b.numCores,
		neuronsPerCore:   b.neuronsPerCore,
		totalNeurons:     b.numCores * b.neuronsPerCore,
		globalNeuronBase: b.globalNeuronBase,

		enableTestTraffic:  b.enableTestTraffic,
		testTargetNode:     b.testTargetNode,
		testPeriod:         b.testPeriod,
		testSpikesPerBurst: b.testSpikesPerBurst,
		testMaxSpikes:      b.testMaxSpikes,
		testWeight:         b.testWeight,
	}
	c.TickingComponent = sim.NewTickingComponent(name, b.engine, b.freq, c)

	c.spikePort = sim.NewPort(c, b.spikeBufSize, b.spikeBufSize, name+".SpikePort")
	c.AddPort("Spike", c.spikePort)

	c.netPort = sim.NewPort(c, b.spikeBufSize, b.spikeBufSize, name+".Network")
	c.AddPort("Network", c.netPort)

	perCoreWeights := uint64(b.neuronsPerCore) * uint64(b.neuronsPerCore) * 4

	c.cores = make([]*core.Core, b.numCores)
	c.corePorts = make([]sim.Port, b.numCores)
	c.unitStates = make([]UnitState, b.numCores)
	for i := 0; i < b.numCores; i++ {
		coreBuilder := core.MakeBuilder().
			WithCoreID(i).
			WithNodeID(b.nodeID).
			WithNumNeurons(uint32(b.neuronsPerCore)).
			WithGlobalNeuronBase(b.globalNeuronBase + uint64(i*b.neuronsPerCore)).
			WithBaseAddr(b.baseAddr + uint64(i)*perCoreWeights).
			WithLIFParams(b.vThresh, b.vReset, b.vRest, b.tauMem, b.tRef).
			WithWeightFetch(b.enableWeightFetch).
			WithEventWeightFallback(b.useEventWeightFallback).
			WithRowMerge(b.mergeReadRow).
			WithCachelineMerge(b.mergeReadCacheline, b.lineSizeBytes).
			WithMaxOutstanding(b.maxOutstanding).
			WithMaxCacheEntries(b.maxCacheEntries).
			WithPolicy(b.policy).
			WithSender(c)
		if b.verifyWeights {
			coreBuilder = coreBuilder.WithVerification(
				b.verifySamples, b.expectedWeightValue, b.verifyEpsilon)
		}
		c.cores[i] = coreBuilder.Build()

		c.corePorts[i] = sim.NewPort(c, 8, 8,
			fmt.Sprintf("%s.Core%dMem", name, i))
		c.AddPort(fmt.Sprintf("Core%dMem", i), c.corePorts[i])

		c.unitStates[i] = UnitState{
			UnitID:        i,
			NeuronIDStart: i * b.neuronsPerCore,
			NeuronCount:   b.neuronsPerCore,
		}
	}

	if b.numCores > 1 {
		c.ringNet = ring.MakeBuilder().
			WithNumNodes(b.numCores).
			WithNumVCs(b.numVCs).
			WithCreditsPerVC(b.creditsPerVC).
			Build()
	}

	c.loadCtrl = newLoadController(b.numCores)

	if b.topo != nil {
		c.adapter = nic.MakeBuilder().
			WithNodeID(b.nodeID).
			WithTopology(b.topo).
			WithPort(c.netPort).
			Build()
		c.adapter.SetSpikeHandler(c.HandleExternalSpike)
	}

	return c
}

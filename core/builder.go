package core

import (
	"fmt"
	"math"

	"github.com/NJUAIXGY/SnnDL/snn"
)

// Builder can create neuron cores.
type Builder struct {
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
}

// MakeBuilder returns a builder with the default LIF and memory
// configuration.
func MakeBuilder() Builder {
	return Builder{
		numNeurons:         64,
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
		policy:             snn.FeedForwardPolicy{},
	}
}

// WithCoreID sets the core index inside its PE.
func (b Builder) WithCoreID(id int) Builder {
	b.coreID = id
	return b
}

// WithNodeID sets the PE node the core belongs to.
func (b Builder) WithNodeID(id uint32) Builder {
	b.nodeID = id
	return b
}

// WithNumNeurons sets the neuron count of the core.
func (b Builder) WithNumNeurons(n uint32) Builder {
	b.numNeurons = n
	return b
}

// WithGlobalNeuronBase sets the first global neuron id the core owns.
func (b Builder) WithGlobalNeuronBase(base uint64) Builder {
	b.globalNeuronBase = base
	return b
}

// WithBaseAddr sets the weight matrix base address of the core.
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

// WithWeightFetch enables reading weights from memory.
func (b Builder) WithWeightFetch(enable bool) Builder {
	b.enableWeightFetch = enable
	return b
}

// WithEventWeightFallback uses the event-carried weight when the cache
// misses. Otherwise misses contribute zero.
func (b Builder) WithEventWeightFallback(enable bool) Builder {
	b.useEventWeightFallback = enable
	return b
}

// WithRowMerge fetches a full weight row per miss.
func (b Builder) WithRowMerge(enable bool) Builder {
	b.mergeReadRow = enable
	return b
}

// WithCachelineMerge fetches an aligned cache line per miss.
func (b Builder) WithCachelineMerge(enable bool, lineSizeBytes uint32) Builder {
	b.mergeReadCacheline = enable
	if lineSizeBytes > 0 {
		b.lineSizeBytes = lineSizeBytes
	}
	return b
}

// WithMaxOutstanding bounds the in-flight weight reads.
func (b Builder) WithMaxOutstanding(n uint32) Builder {
	b.maxOutstanding = n
	return b
}

// WithMaxCacheEntries bounds the weight cache size.
func (b Builder) WithMaxCacheEntries(n int) Builder {
	b.maxCacheEntries = n
	return b
}

// WithVerification enables the startup weight sampling check.
func (b Builder) WithVerification(samples uint32, expected, epsilon float32) Builder {
	b.verifyWeights = true
	b.verifySamples = samples
	b.expectedWeightValue = expected
	if epsilon > 0 {
		b.verifyEpsilon = epsilon
	}
	return b
}

// WithPolicy sets the outbound layer-routing policy.
func (b Builder) WithPolicy(p snn.LayerPolicy) Builder {
	b.policy = p
	return b
}

// WithSender sets the parent that takes fired spikes.
func (b Builder) WithSender(s snn.SpikeSender) Builder {
	b.sender = s
	return b
}

// Build creates a core.
func (b Builder) Build() *Core {
	if b.numNeurons == 0 || b.numNeurons > 1024 {
		panic(fmt.Sprintf("num_neurons must be in 1-1024, got %d", b.numNeurons))
	}

	c := &Core{
		coreID:           b.coreID,
		nodeID:           b.nodeID,
		numNeurons:       b.numNeurons,
		globalNeuronBase: b.globalNeuronBase,
		baseAddr:         b.baseAddr,

		vThresh: b.vThresh,
		vReset:  b.vReset,
		vRest:   b.vRest,
		tauMem:  b.tauMem,
		tRef:    b.tRef,

		// dt is one millisecond per cycle step of neuron dynamics.
		leakFactor: float32(math.Exp(float64(-1.0 / b.tauMem))),

		enableWeightFetch:      b.enableWeightFetch,
		useEventWeightFallback: b.useEventWeightFallback,
		mergeReadRow:           b.mergeReadRow,
		mergeReadCacheline:     b.mergeReadCacheline,
		lineSizeBytes:          b.lineSizeBytes,
		maxOutstanding:         b.maxOutstanding,
		maxCacheEntries:        b.maxCacheEntries,

		verifyWeights:       b.verifyWeights,
		verifySamples:       b.verifySamples,
		expectedWeightValue: b.expectedWeightValue,
		verifyEpsilon:       b.verifyEpsilon,

		policy: b.policy,
		sender: b.sender,

		neurons:     make([]neuronState, b.numNeurons),
		weightCache: make(map[uint64]float32),
		pending:     make(map[string]*pendingRequest),
	}

	for i := range c.neurons {
		c.neurons[i].vMem = b.vRest
	}

	return c
}

package snn

// LayerPolicy decides where a freshly fired neuron sends its spike. The
// policy is fixed at core construction; the core itself stays agnostic
// of the network's layer structure.
type LayerPolicy interface {
	// Target maps a firing neuron to its destination. ok is false when
	// the neuron does not emit outside its core, e.g. an output-layer
	// neuron.
	Target(nodeID uint32, neuronIdx uint32) (dstNode, dstNeuron uint32, weight float32, ok bool)
}

// FeedForwardPolicy is the reference three-layer mapping on a 16-node
// fabric: input nodes 0-3 fan out to hidden nodes 4-11 (neurons 8-39),
// hidden nodes fan in to output nodes 12-15 (neurons 40-47), and output
// nodes do not emit.
type FeedForwardPolicy struct {
	Weight float32
}

// Target implements LayerPolicy.
func (p FeedForwardPolicy) Target(nodeID uint32, neuronIdx uint32) (uint32, uint32, float32, bool) {
	switch {
	case nodeID <= 3:
		hiddenBase := uint32(4)
		if nodeID >= 2 {
			hiddenBase = 8
		}
		dstNode := hiddenBase + (nodeID%2)*2 + (neuronIdx % 2)
		dstNeuron := 8 + (dstNode-4)*4 + neuronIdx
		return dstNode, dstNeuron, p.Weight, true

	case nodeID <= 11:
		dstNode := 12 + (nodeID-4)/2
		dstNeuron := 40 + (dstNode-12)*2 + (neuronIdx % 2)
		return dstNode, dstNeuron, p.Weight, true

	default:
		// Output layer terminates the feed-forward chain.
		return 0, 0, 0, false
	}
}

// NilPolicy never emits. Useful for traffic-driven experiments where
// firing is observed through statistics only.
type NilPolicy struct{}

// Target implements LayerPolicy.
func (NilPolicy) Target(uint32, uint32) (uint32, uint32, float32, bool) {
	return 0, 0, 0, false
}

// Package snn defines the commonly used data structures for the SNN
// processing elements.
package snn

import (
	"github.com/sarchlab/akita/v4/sim"
)

// MaxHops is the hop budget of a spike. A spike whose hop count reaches
// this limit is dropped instead of being forwarded again.
const MaxHops = 10

// A Spike is one action potential travelling between neurons. It is a
// plain value; queues and in-flight slots own their copy.
type Spike struct {
	SrcNeuron uint32
	DstNeuron uint32
	DstNode   uint32
	Weight    float32
	Timestamp uint64
	HopCount  uint32
}

// Expired tells if the spike has used up its hop budget.
func (s Spike) Expired() bool {
	return s.HopCount >= MaxHops
}

// SendPort is the slice of sim.Port a producer needs to push messages
// out. sim.Port satisfies it; tests may substitute a fake.
type SendPort interface {
	Send(msg sim.Msg) *sim.SendError
	CanSend() bool
	AsRemote() sim.RemotePort
}

// Core is the capability set a neuron core exposes to its parent PE.
type Core interface {
	DeliverSpike(s Spike)
	Tick(cycle uint64) bool
	Stats() CoreStats
	Utilization() float64
	HasWork() bool
	SetMemory(local SendPort, remote sim.RemotePort)
}

// CoreStats is the statistics snapshot of a neuron core.
type CoreStats struct {
	SpikesReceived  uint64
	SpikesGenerated uint64
	NeuronsFired    uint64
	SpikesDropped   uint64
	MemoryRequests  uint64
	CacheHits       uint64
	CacheMisses     uint64
	MergedRowReads  uint64
	MergedLineReads uint64
	VerifyCompleted uint64
	VerifyMismatch  uint64
	VerifySum       float64
	TotalCycles     uint64
	ActiveCycles    uint64
}

// NetworkInterface is the capability set of an external network adapter.
type NetworkInterface interface {
	SendSpike(s Spike) bool
	SetSpikeHandler(h SpikeHandler)
	NodeID() uint32
	Status() string
}

// SpikeHandler consumes spikes arriving from the network.
type SpikeHandler func(s Spike)

// SpikeSender accepts outbound spikes from a neuron core. The parent PE
// implements it and decides between the on-chip ring and the NIC.
type SpikeSender interface {
	SendSpike(s Spike)
}

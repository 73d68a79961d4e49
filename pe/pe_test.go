package pe_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/NJUAIXGY/SnnDL/pe"
	"github.com/NJUAIXGY/SnnDL/snn"
)

func buildPE(opts ...func(pe.Builder) pe.Builder) *pe.Comp {
	b := pe.MakeBuilder().
		WithEngine(sim.NewSerialEngine()).
		WithFreq(1 * sim.GHz).
		WithNumCores(4).
		WithNeuronsPerCore(4).
		WithLIFParams(1.0, 0.0, 0.0, 20.0, 2).
		WithEventWeightFallback(true).
		WithPolicy(snn.NilPolicy{})
	for _, o := range opts {
		b = o(b)
	}
	return b.Build("PE0")
}

var _ = Describe("Multi-core PE", func() {
	It("delivers a local spike and fires the target neuron", func() {
		p := buildPE()

		p.HandleExternalSpike(snn.Spike{
			SrcNeuron: 1, DstNeuron: 0, DstNode: 0, Weight: 1.5,
		})
		p.Tick()

		vMem, refractory := p.Core(0).NeuronState(0)
		Expect(vMem).To(Equal(float32(0.0)))
		Expect(refractory).To(Equal(uint32(2)))
		Expect(p.UnitStates()[0].NeuronsFired).To(Equal(uint64(1)))
	})

	It("fans spikes out to the owning core", func() {
		p := buildPE()

		// Neuron 10 belongs to core 2 (4 neurons per core).
		p.HandleExternalSpike(snn.Spike{
			SrcNeuron: 0, DstNeuron: 10, DstNode: 0, Weight: 0.5,
		})
		p.Tick()

		Expect(p.Core(2).Stats().SpikesReceived).To(Equal(uint64(1)))
		Expect(p.Core(0).Stats().SpikesReceived).To(BeZero())
	})

	It("drops hop-expired spikes without touching a core", func() {
		p := buildPE()

		p.HandleExternalSpike(snn.Spike{
			SrcNeuron: 0, DstNeuron: 0, DstNode: 0,
			Weight: 1.5, HopCount: snn.MaxHops,
		})
		p.Tick()

		Expect(p.Stats().HopExpiredDrops).To(Equal(uint64(1)))
		for i := 0; i < 4; i++ {
			Expect(p.Core(i).Stats().SpikesReceived).To(BeZero())
		}
	})

	It("drops out-of-range spikes when no NIC is configured", func() {
		p := buildPE()

		p.HandleExternalSpike(snn.Spike{
			SrcNeuron: 0, DstNeuron: 999, DstNode: 7, Weight: 0.5,
		})
		p.Tick()

		Expect(p.Stats().InvalidTargetDrops).To(BeNumerically(">", 0))
	})

	It("routes internal spikes across the ring", func() {
		p := buildPE()

		p.RouteInternalSpike(0, 2, snn.Spike{
			SrcNeuron: 0, DstNeuron: 10, Weight: 0.5,
		})
		Expect(p.Stats().InterCoreMessages).To(Equal(uint64(1)))

		// Two ring hops plus ejection.
		for i := 0; i < 4; i++ {
			p.Tick()
		}

		Expect(p.Core(2).Stats().SpikesReceived).To(Equal(uint64(1)))
	})

	It("delivers directly when source and destination core match", func() {
		p := buildPE()

		p.RouteInternalSpike(1, 1, snn.Spike{SrcNeuron: 4, DstNeuron: 5, Weight: 0.5})
		Expect(p.Stats().InterCoreMessages).To(BeZero())
		Expect(p.Core(1).Stats().SpikesReceived).To(Equal(uint64(1)))
	})

	It("rejects invalid core ids", func() {
		p := buildPE()

		p.RouteInternalSpike(0, 9, snn.Spike{})
		Expect(p.Stats().InvalidTargetDrops).To(Equal(uint64(1)))

		p.DeliverSpikeToCore(-1, snn.Spike{})
		Expect(p.Stats().InvalidTargetDrops).To(Equal(uint64(2)))
	})

	It("drops self-targeted external sends", func() {
		p := buildPE()

		p.SendExternalSpike(snn.Spike{DstNode: 0})
		Expect(p.Stats().ExternalSpikesSent).To(BeZero())
		Expect(p.Stats().InvalidTargetDrops).To(Equal(uint64(1)))
	})

	It("validates the core count range", func() {
		Expect(func() {
			pe.MakeBuilder().
				WithEngine(sim.NewSerialEngine()).
				WithNumCores(0).
				Build("BadPE")
		}).To(Panic())
		Expect(func() {
			pe.MakeBuilder().
				WithEngine(sim.NewSerialEngine()).
				WithNumCores(65).
				Build("BadPE2")
		}).To(Panic())
	})
})

package core_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/NJUAIXGY/SnnDL/core"
	"github.com/NJUAIXGY/SnnDL/snn"
)

type spikeCollector struct {
	spikes []snn.Spike
}

func (c *spikeCollector) SendSpike(s snn.Spike) {
	c.spikes = append(c.spikes, s)
}

var _ = Describe("LIF dynamics", func() {
	var (
		c         *core.Core
		collector *spikeCollector
	)

	BeforeEach(func() {
		collector = &spikeCollector{}
		c = core.MakeBuilder().
			WithNumNeurons(4).
			WithLIFParams(1.0, 0.0, 0.0, 20.0, 2).
			WithEventWeightFallback(true).
			WithPolicy(snn.FeedForwardPolicy{Weight: 0.5}).
			WithSender(collector).
			Build()
	})

	It("fires when the threshold is crossed", func() {
		c.DeliverSpike(snn.Spike{SrcNeuron: 1, DstNeuron: 0, Weight: 1.5})
		c.Tick(0)

		vMem, refractory := c.NeuronState(0)
		Expect(vMem).To(Equal(float32(0.0)))
		Expect(refractory).To(Equal(uint32(2)))
		Expect(c.Stats().NeuronsFired).To(Equal(uint64(1)))
		Expect(collector.spikes).To(HaveLen(1))
		Expect(collector.spikes[0].SrcNeuron).To(Equal(uint32(0)))
		Expect(collector.spikes[0].DstNode).To(Equal(uint32(4)))
	})

	It("ignores input during the refractory period", func() {
		c.DeliverSpike(snn.Spike{SrcNeuron: 1, DstNeuron: 0, Weight: 1.5})
		c.Tick(0)

		c.DeliverSpike(snn.Spike{SrcNeuron: 1, DstNeuron: 0, Weight: 1.5})
		c.Tick(1)
		Expect(c.Stats().NeuronsFired).To(Equal(uint64(1)))

		c.DeliverSpike(snn.Spike{SrcNeuron: 1, DstNeuron: 0, Weight: 1.5})
		c.Tick(2)
		Expect(c.Stats().NeuronsFired).To(Equal(uint64(1)))

		c.DeliverSpike(snn.Spike{SrcNeuron: 1, DstNeuron: 0, Weight: 1.5})
		c.Tick(3)
		Expect(c.Stats().NeuronsFired).To(Equal(uint64(2)))
	})

	It("leaks membrane potential toward the resting value", func() {
		c.DeliverSpike(snn.Spike{SrcNeuron: 1, DstNeuron: 0, Weight: 0.5})
		c.Tick(0)

		leak := float32(math.Exp(-1.0 / 20.0))
		vMem, _ := c.NeuronState(0)
		Expect(vMem).To(BeNumerically("~", 0.5*leak, 1e-6))

		c.Tick(1)
		vMem, _ = c.NeuronState(0)
		Expect(vMem).To(BeNumerically("~", 0.5*leak*leak, 1e-6))
	})

	It("maps global destination ids into the local range", func() {
		cc := core.MakeBuilder().
			WithNumNeurons(4).
			WithGlobalNeuronBase(8).
			WithEventWeightFallback(true).
			WithPolicy(snn.NilPolicy{}).
			Build()

		cc.DeliverSpike(snn.Spike{SrcNeuron: 9, DstNeuron: 10, Weight: 0.25})
		cc.Tick(0)

		leak := float32(math.Exp(-1.0 / 20.0))
		vMem, _ := cc.NeuronState(2)
		Expect(vMem).To(BeNumerically("~", 0.25*leak, 1e-6))
	})

	It("drops spikes with unmappable targets", func() {
		c.DeliverSpike(snn.Spike{SrcNeuron: 1, DstNeuron: 100, Weight: 1.5})
		c.Tick(0)

		Expect(c.Stats().SpikesDropped).To(Equal(uint64(1)))
		Expect(c.Stats().NeuronsFired).To(BeZero())
	})

	It("contributes zero on misses when the event fallback is off", func() {
		cc := core.MakeBuilder().
			WithNumNeurons(4).
			WithPolicy(snn.NilPolicy{}).
			Build()

		cc.DeliverSpike(snn.Spike{SrcNeuron: 1, DstNeuron: 0, Weight: 1.5})
		cc.Tick(0)

		vMem, _ := cc.NeuronState(0)
		Expect(vMem).To(Equal(float32(0.0)))
		Expect(cc.Stats().NeuronsFired).To(BeZero())
	})

	It("rejects out-of-range neuron counts", func() {
		Expect(func() {
			core.MakeBuilder().WithNumNeurons(0).Build()
		}).To(Panic())
		Expect(func() {
			core.MakeBuilder().WithNumNeurons(2048).Build()
		}).To(Panic())
	})
})

package config

import (
	"fmt"

	"github.com/sarchlab/akita/v4/mem/idealmemcontroller"
	"github.com/sarchlab/akita/v4/mem/mem"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/akita/v4/sim/directconnection"

	"github.com/NJUAIXGY/SnnDL/loader"
	"github.com/NJUAIXGY/SnnDL/pe"
	"github.com/NJUAIXGY/SnnDL/topology"
)

// Platform is a fully wired simulation: every PE of the fabric, the
// per-PE weight memories, and the optional dataset source.
type Platform struct {
	Engine  sim.Engine
	PEs     []*pe.Comp
	Mems    []*idealmemcontroller.Comp
	Sources []*loader.SpikeSource
}

// PlatformBuilder can build platforms from a Config.
type PlatformBuilder struct {
	engine sim.Engine
	cfg    Config
}

// MakePlatformBuilder returns a platform builder.
func MakePlatformBuilder() PlatformBuilder {
	return PlatformBuilder{cfg: DefaultConfig()}
}

// WithEngine sets the engine. A serial engine is created otherwise.
func (b PlatformBuilder) WithEngine(engine sim.Engine) PlatformBuilder {
	b.engine = engine
	return b
}

// WithConfig sets the simulation configuration.
func (b PlatformBuilder) WithConfig(cfg Config) PlatformBuilder {
	b.cfg = cfg
	return b
}

// Build creates all components and wires them. Configuration errors
// panic, matching construction-time fatality.
func (b PlatformBuilder) Build(name string) *Platform {
	cfg := b.cfg
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	engine := b.engine
	if engine == nil {
		engine = sim.NewSerialEngine()
	}

	p := &Platform{Engine: engine}
	numNodes := cfg.NumNodes()
	totalNeurons := cfg.NumCores * cfg.NeuronsPerCore
	freq := 1 * sim.GHz

	for node := 0; node < numNodes; node++ {
		peName := fmt.Sprintf("%s.PE%d", name, node)

		peBuilder := pe.MakeBuilder().
			WithEngine(engine).
			WithFreq(freq).
			WithNodeID(uint32(node)).
			WithNumCores(cfg.NumCores).
			WithNeuronsPerCore(cfg.NeuronsPerCore).
			WithGlobalNeuronBase(cfg.GlobalNeuronBase + uint64(node*totalNeurons)).
			WithBaseAddr(cfg.BaseAddr).
			WithLIFParams(cfg.VThresh, cfg.VReset, cfg.VRest, cfg.TauMem, cfg.TRef).
			WithRingVCs(cfg.NumVCs, cfg.CreditsPerVC).
			WithWeightFetch(cfg.EnableWeightFetch).
			WithEventWeightFallback(cfg.UseEventWeightFallback).
			WithRowMerge(cfg.MergeReadRow).
			WithCachelineMerge(cfg.MergeReadCacheline, cfg.LineSizeBytes).
			WithMaxOutstanding(cfg.MaxOutstanding).
			WithMaxCacheEntries(cfg.MaxCacheEntries).
			WithTopology(topology.New(cfg.TopologyType, cfg.TopologyShape, uint32(node)))

		if cfg.VerifyWeights {
			peBuilder = peBuilder.WithVerification(
				cfg.WeightVerifySamples, cfg.ExpectedWeightValue, cfg.VerifyEpsilon)
		}

		if cfg.EnableTestTraffic && uint32(node) != cfg.TestTargetNode {
			peBuilder = peBuilder.WithTestTraffic(
				cfg.TestTargetNode, cfg.TestPeriod,
				cfg.TestSpikesPerBurst, cfg.TestMaxSpikes, cfg.TestWeight)
		}

		peComp := peBuilder.Build(peName)
		p.PEs = append(p.PEs, peComp)

		b.buildMemory(p, peComp, node, name, engine, freq)
	}

	b.connectNetwork(p, name, engine, freq)
	b.buildSource(p, name, engine, totalNeurons)

	return p
}

// buildMemory gives one PE its weight memory controller and preloads
// the weight set.
func (b PlatformBuilder) buildMemory(
	p *Platform,
	peComp *pe.Comp,
	node int,
	name string,
	engine sim.Engine,
	freq sim.Freq,
) {
	cfg := b.cfg

	weightBytes := cfg.BaseAddr +
		uint64(cfg.NumCores)*uint64(cfg.NeuronsPerCore)*uint64(cfg.NeuronsPerCore)*4
	capacity := uint64(4 * mem.MB)
	for capacity < weightBytes {
		capacity *= 2
	}

	memCtrl := idealmemcontroller.MakeBuilder().
		WithEngine(engine).
		WithFreq(freq).
		WithLatency(cfg.MemLatency).
		WithNewStorage(capacity).
		Build(fmt.Sprintf("%s.Mem%d", name, node))
	p.Mems = append(p.Mems, memCtrl)

	wl := loader.MakeLoaderBuilder().
		WithBaseAddr(cfg.BaseAddr).
		WithNumCores(cfg.NumCores).
		WithNeuronsPerCore(uint32(cfg.NeuronsPerCore)).
		WithFillValue(cfg.FillValue).
		WithFileCoreOffset(cfg.FileCoreOffset).
		Build()

	var err error
	switch {
	case cfg.PerCoreFiles && cfg.FileTemplate != "":
		err = wl.LoadPerCoreFiles(memCtrl.Storage, cfg.FileTemplate, cfg.WeightFormat)
	case cfg.WeightFile != "":
		err = wl.LoadSingleFile(memCtrl.Storage, cfg.WeightFile, cfg.WeightFormat)
	case cfg.FillWeightsValue != nil:
		err = wl.FillUniform(memCtrl.Storage, *cfg.FillWeightsValue)
	}
	if err != nil {
		panic(fmt.Sprintf("weight preload failed: %v", err))
	}

	memTop := memCtrl.GetPortByName("Top")

	conn := directconnection.MakeBuilder().
		WithEngine(engine).
		WithFreq(freq).
		Build(fmt.Sprintf("%s.MemConn%d", name, node))
	conn.PlugIn(memTop, 4)
	for _, port := range peComp.CoreMemPorts() {
		conn.PlugIn(port, 4)
	}

	peComp.ConnectMemory(memTop.AsRemote())
}

// connectNetwork puts every PE's network port on one connection and
// fills the adapters' routing tables.
func (b PlatformBuilder) connectNetwork(
	p *Platform,
	name string,
	engine sim.Engine,
	freq sim.Freq,
) {
	if len(p.PEs) < 2 {
		return
	}

	conn := directconnection.MakeBuilder().
		WithEngine(engine).
		WithFreq(freq).
		Build(name + ".NetConn")

	for _, peComp := range p.PEs {
		conn.PlugIn(peComp.NetworkPort(), 4)
	}

	for _, peComp := range p.PEs {
		for _, other := range p.PEs {
			if other.NodeID() == peComp.NodeID() {
				continue
			}
			peComp.Adapter().RegisterRoute(
				other.NodeID(), other.NetworkPort().AsRemote())
		}
	}
}

// buildSource attaches the dataset replay source to the first PE.
func (b PlatformBuilder) buildSource(
	p *Platform,
	name string,
	engine sim.Engine,
	totalNeurons int,
) {
	cfg := b.cfg
	if cfg.DatasetPath == "" || len(p.PEs) == 0 {
		return
	}

	src := loader.MakeSourceBuilder().
		WithEngine(engine).
		WithFreq(sim.Freq(cfg.SourceFreqMHz) * sim.MHz).
		WithTimeScale(cfg.TimeScale).
		WithNeuronOffset(cfg.NeuronOffset).
		WithMaxEvents(cfg.MaxEvents).
		WithNeuronsPerNode(uint32(totalNeurons)).
		Build(name + ".Source")

	if err := src.LoadFile(cfg.DatasetPath); err != nil {
		panic(fmt.Sprintf("dataset load failed: %v", err))
	}

	entry := p.PEs[0]
	conn := directconnection.MakeBuilder().
		WithEngine(engine).
		WithFreq(1 * sim.GHz).
		Build(name + ".SourceConn")
	conn.PlugIn(src.Port(), 4)
	conn.PlugIn(entry.SpikePort(), 4)
	src.SetDestination(entry.SpikePort().AsRemote())

	p.Sources = append(p.Sources, src)
}

// Run drives the simulation to quiescence and prints the per-node
// summaries. It returns the aggregate spike and fire counts.
func (p *Platform) Run() (spikes, fired uint64, err error) {
	for _, peComp := range p.PEs {
		peComp.TickNow()
	}
	for _, src := range p.Sources {
		src.TickNow()
	}

	if err := p.Engine.Run(); err != nil {
		return 0, 0, err
	}

	for _, peComp := range p.PEs {
		s, f := peComp.ReportFinish()
		spikes += s
		fired += f
	}

	return spikes, fired, nil
}

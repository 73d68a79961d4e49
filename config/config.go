// Package config assembles full simulation platforms from a single
// configuration struct.
package config

import (
	"fmt"

	"github.com/NJUAIXGY/SnnDL/topology"
)

// Config enumerates every tunable of the simulator. Zero values are
// filled by DefaultConfig.
type Config struct {
	// PE shape.
	NumCores         int
	NeuronsPerCore   int
	GlobalNeuronBase uint64

	// LIF parameters.
	VThresh float32
	VReset  float32
	VRest   float32
	TauMem  float32
	TRef    uint32

	// Ring.
	NumVCs       int
	CreditsPerVC uint32

	// Weight memory.
	BaseAddr               uint64
	MemLatency             int
	EnableWeightFetch      bool
	UseEventWeightFallback bool
	MergeReadCacheline     bool
	MergeReadRow           bool
	LineSizeBytes          uint32
	MaxOutstanding         uint32
	MaxCacheEntries        int

	// Weight files.
	WeightFile       string
	WeightFormat     string // "bin" or "text"
	PerCoreFiles     bool
	FileTemplate     string
	FillValue        float32
	FileCoreOffset   int
	FillWeightsValue *float32 // fill all weights when no file is given

	// External topology.
	TopologyType  string // "mesh2d" or "torus2d"
	TopologyShape string // "WxH"

	// Dataset replay.
	DatasetPath    string
	TimeScale      float64
	NeuronOffset   uint32
	MaxEvents      uint32
	SourceFreqMHz  float64

	// Test traffic.
	EnableTestTraffic  bool
	TestTargetNode     uint32
	TestPeriod         uint64
	TestSpikesPerBurst int
	TestMaxSpikes      int
	TestWeight         float32

	// Weight verification.
	VerifyWeights       bool
	WeightVerifySamples uint32
	ExpectedWeightValue float32
	VerifyEpsilon       float32
}

// DefaultConfig returns the reference configuration: a 4x4 mesh of
// four-core PEs.
func DefaultConfig() Config {
	return Config{
		NumCores:       4,
		NeuronsPerCore: 64,

		VThresh: 1.0,
		VReset:  0.0,
		VRest:   0.0,
		TauMem:  20.0,
		TRef:    2,

		NumVCs:       2,
		CreditsPerVC: 8,

		MemLatency:         1,
		MergeReadCacheline: true,
		LineSizeBytes:      64,
		MaxOutstanding:     16,
		MaxCacheEntries:    4096,

		WeightFormat: "bin",
		FillValue:    0.5,

		TopologyType:  "mesh2d",
		TopologyShape: "4x4",

		TimeScale:     1.0,
		SourceFreqMHz: 1.0,

		TestTargetNode:     0,
		TestPeriod:         100,
		TestSpikesPerBurst: 4,
		TestMaxSpikes:      10,
		TestWeight:         0.2,

		WeightVerifySamples: 16,
		VerifyEpsilon:       1e-4,
	}
}

// Validate rejects configurations the simulator cannot run. These are
// fatal per the error taxonomy.
func (c Config) Validate() error {
	if c.NumCores < 1 || c.NumCores > 64 {
		return fmt.Errorf("num_cores must be in 1-64, got %d", c.NumCores)
	}
	if c.NeuronsPerCore < 1 || c.NeuronsPerCore > 1024 {
		return fmt.Errorf("neurons_per_core must be in 1-1024, got %d", c.NeuronsPerCore)
	}
	if c.TopologyType != "mesh2d" && c.TopologyType != "torus2d" {
		return fmt.Errorf("unknown topology type %q", c.TopologyType)
	}
	if _, _, err := topology.ParseShape(c.TopologyShape); err != nil {
		return err
	}
	if c.NumVCs < 1 {
		return fmt.Errorf("num_vcs must be positive, got %d", c.NumVCs)
	}
	if c.CreditsPerVC < 1 {
		return fmt.Errorf("credits_per_vc must be positive, got %d", c.CreditsPerVC)
	}
	if c.EnableTestTraffic && c.TestPeriod == 0 {
		return fmt.Errorf("test_period must be positive when test traffic is enabled")
	}
	if c.WeightFormat != "bin" && c.WeightFormat != "text" {
		return fmt.Errorf("weight_format must be bin or text, got %q", c.WeightFormat)
	}

	return nil
}

// NumNodes derives the PE count from the topology shape.
func (c Config) NumNodes() int {
	w, h, err := topology.ParseShape(c.TopologyShape)
	if err != nil {
		return 0
	}
	return int(w * h)
}

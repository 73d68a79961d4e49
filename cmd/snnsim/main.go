// snnsim runs a multi-core spiking neural network fabric simulation.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/NJUAIXGY/SnnDL/config"
)

var cfg = config.DefaultConfig()

var fillWeights float64

var rootCmd = &cobra.Command{
	Use:   "snnsim",
	Short: "Cycle-driven simulator for multi-core SNN processing elements",
	Run: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("fill-weights") {
			v := float32(fillWeights)
			cfg.FillWeightsValue = &v
		}

		if err := cfg.Validate(); err != nil {
			color.Red("configuration error: %v", err)
			atexit.Exit(1)
		}

		platform := config.MakePlatformBuilder().WithConfig(cfg).Build("Sim")

		spikes, fired, err := platform.Run()
		if err != nil {
			color.Red("simulation error: %v", err)
			atexit.Exit(1)
		}

		color.Green("simulation complete: %d nodes, %d spikes processed, %d neurons fired",
			len(platform.PEs), spikes, fired)
		atexit.Exit(0)
	},
}

func init() {
	f := rootCmd.Flags()

	f.IntVar(&cfg.NumCores, "cores", cfg.NumCores, "cores per PE (1-64)")
	f.IntVar(&cfg.NeuronsPerCore, "neurons-per-core", cfg.NeuronsPerCore,
		"neurons per core (1-1024)")

	var vThresh, vReset, vRest, tauMem float64
	f.Float64Var(&vThresh, "v-thresh", float64(cfg.VThresh), "firing threshold")
	f.Float64Var(&vReset, "v-reset", float64(cfg.VReset), "post-fire reset potential")
	f.Float64Var(&vRest, "v-rest", float64(cfg.VRest), "resting potential")
	f.Float64Var(&tauMem, "tau-mem", float64(cfg.TauMem), "membrane time constant (ms)")
	f.Uint32Var(&cfg.TRef, "t-ref", cfg.TRef, "refractory period (cycles)")

	f.StringVar(&cfg.TopologyType, "topology", cfg.TopologyType,
		"external topology: mesh2d or torus2d")
	f.StringVar(&cfg.TopologyShape, "shape", cfg.TopologyShape, "topology shape WxH")

	f.IntVar(&cfg.NumVCs, "vcs", cfg.NumVCs, "ring virtual channels per direction")
	f.Uint32Var(&cfg.CreditsPerVC, "credits-per-vc", cfg.CreditsPerVC,
		"ring credits per virtual channel")

	f.BoolVar(&cfg.EnableWeightFetch, "weight-fetch", cfg.EnableWeightFetch,
		"fetch synaptic weights from memory")
	f.BoolVar(&cfg.UseEventWeightFallback, "event-weight-fallback",
		cfg.UseEventWeightFallback, "use the event weight on cache misses")
	f.BoolVar(&cfg.MergeReadRow, "merge-row", cfg.MergeReadRow,
		"fetch full weight rows")
	f.BoolVar(&cfg.MergeReadCacheline, "merge-cacheline", cfg.MergeReadCacheline,
		"fetch line-aligned weight runs")
	f.Uint32Var(&cfg.LineSizeBytes, "line-size", cfg.LineSizeBytes,
		"cache line size in bytes")
	f.Uint32Var(&cfg.MaxOutstanding, "max-outstanding", cfg.MaxOutstanding,
		"in-flight memory reads per core")
	f.IntVar(&cfg.MaxCacheEntries, "cache-entries", cfg.MaxCacheEntries,
		"weight cache capacity per core")

	f.StringVar(&cfg.WeightFile, "weight-file", "", "single weight file")
	f.StringVar(&cfg.WeightFormat, "weight-format", cfg.WeightFormat,
		"weight file format: bin or text")
	f.BoolVar(&cfg.PerCoreFiles, "per-core-files", false,
		"load one weight file per core")
	f.StringVar(&cfg.FileTemplate, "file-template", "",
		"per-core weight file template with {core} or {core:02d}")
	f.IntVar(&cfg.FileCoreOffset, "file-core-offset", 0,
		"per-core blocks to skip in a single weight file")
	f.Float64Var(&fillWeights, "fill-weights", 0.5,
		"fill all weights with one value instead of loading a file")

	f.StringVar(&cfg.DatasetPath, "dataset", "", "spike dataset file")
	f.Float64Var(&cfg.TimeScale, "time-scale", cfg.TimeScale,
		"dataset timestamp scale factor")
	f.Uint32Var(&cfg.NeuronOffset, "neuron-offset", 0, "dataset neuron id offset")
	f.Uint32Var(&cfg.MaxEvents, "max-events", 0, "dataset event cap (0 = all)")

	f.BoolVar(&cfg.EnableTestTraffic, "test-traffic", false,
		"generate deterministic test spikes")
	f.Uint32Var(&cfg.TestTargetNode, "test-target", cfg.TestTargetNode,
		"test traffic destination node")
	f.Uint64Var(&cfg.TestPeriod, "test-period", cfg.TestPeriod,
		"cycles between test bursts")
	f.IntVar(&cfg.TestSpikesPerBurst, "test-burst", cfg.TestSpikesPerBurst,
		"spikes per test burst")
	f.IntVar(&cfg.TestMaxSpikes, "test-max", cfg.TestMaxSpikes,
		"total test spikes per node (0 = unlimited)")

	f.BoolVar(&cfg.VerifyWeights, "verify-weights", false,
		"sample and verify weights after startup")
	f.Uint32Var(&cfg.WeightVerifySamples, "verify-samples", cfg.WeightVerifySamples,
		"verification sample count")

	var testWeight, expectedWeight, fillValue float64
	f.Float64Var(&testWeight, "test-weight", float64(cfg.TestWeight),
		"test spike weight")
	f.Float64Var(&expectedWeight, "expected-weight", float64(cfg.ExpectedWeightValue),
		"expected value for weight verification")
	f.Float64Var(&fillValue, "fill-value", float64(cfg.FillValue),
		"padding value for short or missing weight files")

	cobra.OnInitialize(func() {
		cfg.VThresh = float32(vThresh)
		cfg.VReset = float32(vReset)
		cfg.VRest = float32(vRest)
		cfg.TauMem = float32(tauMem)
		cfg.TestWeight = float32(testWeight)
		cfg.ExpectedWeightValue = float32(expectedWeight)
		cfg.FillValue = float32(fillValue)
	})
}

func main() {
	// Optional .env overlay; missing files are fine.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}
}

// mesh4x4 runs the reference 4x4-mesh fabric with uniform weights,
// weight verification, and deterministic test traffic.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/tebeka/atexit"

	"github.com/NJUAIXGY/SnnDL/config"
)

func main() {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})
	slog.SetDefault(slog.New(handler))

	cfg := config.DefaultConfig()
	cfg.NumCores = 4
	cfg.NeuronsPerCore = 4
	cfg.TopologyShape = "4x4"

	fill := float32(0.5)
	cfg.FillWeightsValue = &fill
	cfg.EnableWeightFetch = true
	cfg.UseEventWeightFallback = true

	cfg.VerifyWeights = true
	cfg.WeightVerifySamples = 8
	cfg.ExpectedWeightValue = 0.5

	cfg.EnableTestTraffic = true
	cfg.TestTargetNode = 5
	cfg.TestPeriod = 10
	cfg.TestSpikesPerBurst = 4
	cfg.TestMaxSpikes = 16
	cfg.TestWeight = 1.5

	platform := config.MakePlatformBuilder().WithConfig(cfg).Build("Mesh4x4")

	spikes, fired, err := platform.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}

	fmt.Println("========================")
	fmt.Printf("total spikes=%d fired=%d\n", spikes, fired)
	atexit.Exit(0)
}

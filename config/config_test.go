package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NJUAIXGY/SnnDL/config"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, config.DefaultConfig().Validate())
	require.Equal(t, 16, config.DefaultConfig().NumNodes())
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero cores", func(c *config.Config) { c.NumCores = 0 }},
		{"too many cores", func(c *config.Config) { c.NumCores = 65 }},
		{"zero neurons", func(c *config.Config) { c.NeuronsPerCore = 0 }},
		{"too many neurons", func(c *config.Config) { c.NeuronsPerCore = 2048 }},
		{"bad topology type", func(c *config.Config) { c.TopologyType = "ring3d" }},
		{"bad shape", func(c *config.Config) { c.TopologyShape = "4by4" }},
		{"zero VCs", func(c *config.Config) { c.NumVCs = 0 }},
		{"zero credits", func(c *config.Config) { c.CreditsPerVC = 0 }},
		{"bad weight format", func(c *config.Config) { c.WeightFormat = "json" }},
		{"traffic without period", func(c *config.Config) {
			c.EnableTestTraffic = true
			c.TestPeriod = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestPlatformBuildPanicsOnInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.NumCores = 0

	require.Panics(t, func() {
		config.MakePlatformBuilder().WithConfig(cfg).Build("Sim")
	})
}

func TestTwoNodeTestTraffic(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.NumCores = 2
	cfg.NeuronsPerCore = 4
	cfg.TopologyShape = "2x1"
	cfg.UseEventWeightFallback = true
	cfg.EnableTestTraffic = true
	cfg.TestTargetNode = 1
	cfg.TestPeriod = 2
	cfg.TestSpikesPerBurst = 2
	cfg.TestMaxSpikes = 4
	cfg.TestWeight = 1.5

	p := config.MakePlatformBuilder().WithConfig(cfg).Build("Sim")
	require.Len(t, p.PEs, 2)
	require.Len(t, p.Mems, 2)

	_, fired, err := p.Run()
	require.NoError(t, err)

	// Node 1 received every test spike and integrated it above the
	// threshold.
	require.Equal(t, uint64(4), p.PEs[1].Stats().ExternalSpikesReceived)
	require.Greater(t, fired, uint64(0))

	// The generator is bounded by its budget.
	require.Equal(t, uint64(0), p.PEs[0].Stats().ExternalSpikesReceived)
	require.Equal(t, uint64(4), p.PEs[0].Stats().ExternalSpikesSent)
}

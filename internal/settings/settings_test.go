package settings

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validStartup() StartupSettings {
	return StartupSettings{
		OutputDir:           "/tmp/out",
		Game:                "trivial",
		Algorithm:           AlphaZero,
		GamesPerShard:       100,
		CPUThreadsPerDevice: 4,
		GPUBatchSize:        32,
		SearchBatchSize:     8,
	}
}

func TestStartupSettings_ValidatesOK(t *testing.T) {
	require.NoError(t, validStartup().Validate())
}

func TestStartupSettings_RejectsMissingOutputDir(t *testing.T) {
	s := validStartup()
	s.OutputDir = ""
	require.Error(t, s.Validate())
}

func TestStartupSettings_RejectsSearchBatchGreaterThanGPUBatch(t *testing.T) {
	s := validStartup()
	s.SearchBatchSize = 64
	require.Error(t, s.Validate())
}

func TestStartupSettings_MuZeroRequiresSearchBatchSizeOne(t *testing.T) {
	s := validStartup()
	s.Algorithm = MuZero
	s.SearchBatchSize = 2
	s.GPUBatchSizeRoot = 4
	require.Error(t, s.Validate())
}

func TestStartupSettings_MuZeroValidWithSearchBatchSizeOne(t *testing.T) {
	s := validStartup()
	s.Algorithm = MuZero
	s.SearchBatchSize = 1
	s.GPUBatchSizeRoot = 4
	require.NoError(t, s.Validate())
}

func TestStartupSettings_MuZeroRequiresRootBatchSize(t *testing.T) {
	s := validStartup()
	s.Algorithm = MuZero
	s.SearchBatchSize = 1
	s.GPUBatchSizeRoot = 0
	require.Error(t, s.Validate())
}

func TestRuntimeSettings_TemperatureCollapsesAfterPlies(t *testing.T) {
	r := DefaultRuntimeSettings()
	require.Equal(t, float32(1.0), r.TemperatureFor(0))
	require.Equal(t, float32(1.0), r.TemperatureFor(r.TemperaturePlies-1))
	require.Equal(t, float32(0), r.TemperatureFor(r.TemperaturePlies))
}

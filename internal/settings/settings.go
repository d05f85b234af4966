// Package settings defines the two configuration records that drive a run:
// StartupSettings, fixed for the lifetime of the process, and RuntimeSettings,
// which Commander hot-swaps into running Executors.
package settings

import (
	"github.com/pkg/errors"

	"github.com/janpfeifer/zeroselfplay/internal/parameters"
)

// Algorithm selects the search flavor.
type Algorithm int

const (
	AlphaZero Algorithm = iota
	MuZero
)

func (a Algorithm) String() string {
	if a == MuZero {
		return "MuZero"
	}
	return "AlphaZero"
}

// StartupSettings is immutable for the lifetime of a run. It arrives as the
// first control-connection message and is validated once, at startup.
type StartupSettings struct {
	OutputDir           string
	Game                string
	Algorithm           Algorithm
	GamesPerShard       int
	FirstShardIndex     int
	CPUThreadsPerDevice int
	Devices             []int

	GPUBatchSize     int
	SearchBatchSize  int
	GPUBatchSizeRoot int // MuZero only

	// GameParams carries free-form key/value parameters. Only the "network"
	// key is read: it selects the network backend (gomlx, linear or dummy);
	// other keys are not passed on to the backend.
	GameParams parameters.Params
}

// Validate checks the invariants from the data model: gpu_batch_size >=
// search_batch_size >= 1, and the MuZero-only constraints.
func (s StartupSettings) Validate() error {
	if s.OutputDir == "" {
		return errors.New("settings: output directory is required")
	}
	if s.Game == "" {
		return errors.New("settings: game identifier is required")
	}
	if s.GamesPerShard <= 0 {
		return errors.Errorf("settings: games_per_shard must be > 0, got %d", s.GamesPerShard)
	}
	if s.CPUThreadsPerDevice <= 0 {
		return errors.Errorf("settings: cpu_threads_per_device must be > 0, got %d", s.CPUThreadsPerDevice)
	}
	if s.SearchBatchSize < 1 {
		return errors.Errorf("settings: search_batch_size must be >= 1, got %d", s.SearchBatchSize)
	}
	if s.GPUBatchSize < s.SearchBatchSize {
		return errors.Errorf("settings: gpu_batch_size (%d) must be >= search_batch_size (%d)",
			s.GPUBatchSize, s.SearchBatchSize)
	}
	if s.Algorithm == MuZero {
		if s.SearchBatchSize != 1 {
			return errors.Errorf("settings: muzero requires search_batch_size == 1, got %d", s.SearchBatchSize)
		}
		if s.GPUBatchSizeRoot < 1 {
			return errors.Errorf("settings: muzero requires gpu_batch_size_root >= 1, got %d", s.GPUBatchSizeRoot)
		}
	}
	return nil
}

// RuntimeSettings is hot-swappable: Commander broadcasts a new value to every
// Executor's settings channel. An Executor reads it only before starting a
// game, so a game already in progress keeps the settings it started with.
type RuntimeSettings struct {
	Temperature float32
	// TemperaturePlies is the number of plies, from the start of a game,
	// during which Temperature is used for move selection; after that the
	// temperature collapses to 0 (argmax).
	TemperaturePlies int

	// VisitsPerMove is the search budget spent on each move before a tree
	// is considered saturated and the move is sampled.
	VisitsPerMove int

	DirichletAlpha  float32
	DirichletWeight float32 // epsilon: 0 disables noise injection

	// ResignThreshold is the value (from the mover's perspective) below
	// which a game resigns instead of playing out. 0 disables resignation.
	ResignThreshold float32
	// MaxMoves caps a game's length; 0 means unbounded.
	MaxMoves int
}

// DefaultRuntimeSettings matches the values used in the teacher's own
// alphazerofnn defaults (temperature 1 for the first 30 plies, then argmax).
func DefaultRuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		Temperature:      1.0,
		TemperaturePlies: 30,
		VisitsPerMove:    100,
		DirichletAlpha:   0.3,
		DirichletWeight:  0.25,
		ResignThreshold:  0,
		MaxMoves:         0,
	}
}

// TemperatureFor returns the temperature to use for a move at the given ply
// (0-based), per the collapse-to-argmax schedule in RuntimeSettings.
func (r RuntimeSettings) TemperatureFor(ply int) float32 {
	if ply >= r.TemperaturePlies {
		return 0
	}
	return r.Temperature
}

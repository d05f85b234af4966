package protocol

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/janpfeifer/zeroselfplay/internal/board"
	"github.com/janpfeifer/zeroselfplay/internal/settings"
)

func TestCommand_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	r := NewReader(&buf)

	want := Command{
		Kind: CmdStartupSettings,
		Startup: settings.StartupSettings{
			OutputDir:           "/tmp/shards",
			Game:                "trivial",
			GamesPerShard:       10,
			CPUThreadsPerDevice: 2,
			GPUBatchSize:        8,
			SearchBatchSize:     4,
		},
	}
	require.NoError(t, w.WriteCommand(want))
	got, err := r.ReadCommand()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestGeneratorUpdate_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	r := NewReader(&buf)

	want := GeneratorUpdate{
		Kind: UpdSimulation,
		Simulation: Simulation{
			Positions: []Position{
				{
					BoardFeatures:     []float32{1, 0, 0},
					PlayedAction:      0,
					VisitDistribution: []float32{1.0},
					ZeroValue:         1,
					NetValue:          0.9,
					IsFullSearch:      true,
				},
			},
			Outcome: board.OutcomeForWinner(board.PlayerFirst),
		},
	}
	require.NoError(t, w.WriteUpdate(want))
	got, err := r.ReadUpdate()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestMultipleFrames_ReadInOrder(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	r := NewReader(&buf)

	require.NoError(t, w.WriteCommand(Command{Kind: CmdPing}))
	require.NoError(t, w.WriteCommand(Command{Kind: CmdStop}))

	first, err := r.ReadCommand()
	require.NoError(t, err)
	require.Equal(t, CmdPing, first.Kind)

	second, err := r.ReadCommand()
	require.NoError(t, err)
	require.Equal(t, CmdStop, second.Kind)
}

func TestReadCommand_EOFOnCleanClose(t *testing.T) {
	var buf bytes.Buffer
	r := NewReader(&buf)
	_, err := r.ReadCommand()
	require.ErrorIs(t, err, io.EOF)
}

func TestReadFrame_RejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	r := NewReader(&buf)
	_, err := r.ReadCommand()
	require.Error(t, err)
}

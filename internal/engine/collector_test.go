package engine

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/janpfeifer/zeroselfplay/internal/board"
	"github.com/janpfeifer/zeroselfplay/internal/protocol"
	"github.com/janpfeifer/zeroselfplay/internal/shard"
)

func drawSimulation() protocol.Simulation {
	return protocol.Simulation{
		Positions: []protocol.Position{
			{BoardFeatures: []float32{0}, PlayedAction: 0, VisitDistribution: []float32{1}, ZeroValue: 0, NetValue: 0, IsFullSearch: true},
		},
		Outcome: board.OutcomeDraw,
	}
}

func TestCollector_SealsShardAtGamesPerShard(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	c := NewCollector(dir, "scenario1", 3, 0, 8, protocol.NewWriter(&out))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	for i := 0; i < 3; i++ {
		c.Updates() <- protocol.GeneratorUpdate{Kind: protocol.UpdSimulation, Simulation: drawSimulation()}
	}
	c.Updates() <- protocol.GeneratorUpdate{Kind: protocol.UpdDone}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not shut down")
	}
	cancel()

	side, err := shard.ReadSidecar(dir, 0)
	require.NoError(t, err)
	require.Equal(t, 3, len(side.Offsets))

	sims, err := shard.ReadAll(dir, 0)
	require.NoError(t, err)
	require.Len(t, sims, 3)

	// No generation-1 shard must exist: exactly one shard.
	_, err = shard.ReadSidecar(dir, 1)
	require.Error(t, err)
}

func TestCollector_SealsPartialShardOnDone(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	c := NewCollector(dir, "scenario1", 10, 0, 8, protocol.NewWriter(&out))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	c.Updates() <- protocol.GeneratorUpdate{Kind: protocol.UpdSimulation, Simulation: drawSimulation()}
	c.Updates() <- protocol.GeneratorUpdate{Kind: protocol.UpdSimulation, Simulation: drawSimulation()}
	c.Updates() <- protocol.GeneratorUpdate{Kind: protocol.UpdDone}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not shut down")
	}

	side, err := shard.ReadSidecar(dir, 0)
	require.NoError(t, err)
	require.Equal(t, 2, len(side.Offsets), "a partial shard must still be sealed, not discarded")
}

func TestCollector_RelaysPongAndError(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	w := protocol.NewWriter(&out)
	c := NewCollector(dir, "scenario1", 10, 0, 8, w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	c.Updates() <- protocol.GeneratorUpdate{Kind: protocol.UpdPong}
	c.Updates() <- protocol.GeneratorUpdate{Kind: protocol.UpdError, ErrorMsg: "load failed"}
	c.Updates() <- protocol.GeneratorUpdate{Kind: protocol.UpdDone}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not shut down")
	}

	r := protocol.NewReader(&out)
	upd, err := r.ReadUpdate()
	require.NoError(t, err)
	require.Equal(t, protocol.UpdPong, upd.Kind)

	upd, err = r.ReadUpdate()
	require.NoError(t, err)
	require.Equal(t, protocol.UpdError, upd.Kind)
	require.Equal(t, "load failed", upd.ErrorMsg)
}

package hive

import (
	"testing"

	"github.com/janpfeifer/zeroselfplay/internal/board"
	"github.com/janpfeifer/zeroselfplay/internal/game"
	"github.com/stretchr/testify/require"
)

func TestHive_RegisteredInGame(t *testing.T) {
	b, err := game.Lookup(Name)
	require.NoError(t, err)
	require.NotNil(t, b.StartPos)
	require.NotNil(t, b.Mapper)
}

func TestHive_StartPosIsNotDone(t *testing.T) {
	b := StartPos()
	require.False(t, b.IsDone())
	require.Equal(t, board.PlayerFirst, b.NextPlayer())
	require.Equal(t, 0, b.MoveNumber())
	require.Greater(t, b.NumActions(), 0)
}

func TestHive_TakeActionAdvancesMoveNumber(t *testing.T) {
	b := StartPos()
	next := b.TakeAction(0)
	require.Equal(t, 1, next.MoveNumber())
}

func TestHive_MapperEncodesFixedDimension(t *testing.T) {
	m := Mapper{}
	b := StartPos()
	f := m.Encode(b)
	require.Len(t, f, m.FeaturesDim())
}

// Package hive adapts the Hive board game rules implemented in
// internal/state to board.Board, and its engineered feature set in
// internal/features to board.Mapper, so the self-play engine can drive Hive
// matches without knowing anything about its rules.
package hive

import (
	"github.com/janpfeifer/zeroselfplay/internal/board"
	"github.com/janpfeifer/zeroselfplay/internal/features"
	"github.com/janpfeifer/zeroselfplay/internal/game"
	"github.com/janpfeifer/zeroselfplay/internal/state"
)

// Name is the identifier this game is registered under.
const Name = "hive"

func init() {
	game.Register(game.Binding{
		Name:     Name,
		StartPos: StartPos,
		Mapper:   Mapper{},
	})
}

// Board wraps a *state.Board to implement board.Board.
type Board struct {
	b *state.Board
}

var _ board.Board = Board{}

// StartPos returns a fresh Hive board.
func StartPos() board.Board {
	return Board{b: state.NewBoard()}
}

func (h Board) NumActions() int {
	return h.b.NumActions()
}

func (h Board) NextPlayer() board.PlayerNum {
	return toBoardPlayer(h.b.NextPlayer)
}

func (h Board) MoveNumber() int {
	return h.b.MoveNumber
}

func (h Board) IsDone() bool {
	return h.b.IsFinished()
}

func (h Board) Outcome() board.Outcome {
	if h.b.Draw() {
		return board.OutcomeForWinner(board.PlayerInvalid)
	}
	return board.OutcomeForWinner(toBoardPlayer(h.b.Winner()))
}

func (h Board) TakeAction(actionIdx int) board.Board {
	return Board{b: h.b.TakeAllActions()[actionIdx]}
}

func (h Board) Hash() uint64 {
	return h.b.Derived.Hash
}

func toBoardPlayer(p state.PlayerNum) board.PlayerNum {
	switch p {
	case state.PlayerFirst:
		return board.PlayerFirst
	case state.PlayerSecond:
		return board.PlayerSecond
	default:
		return board.PlayerInvalid
	}
}

// Mapper encodes a Board using the teacher's engineered Hive feature set.
type Mapper struct{}

var _ board.Mapper = Mapper{}

func (Mapper) Encode(b board.Board) []float32 {
	hb := b.(Board)
	return features.ForBoard(hb.b, features.BoardFeaturesDim)
}

func (Mapper) FeaturesDim() int {
	return features.BoardFeaturesDim
}

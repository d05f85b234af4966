// Package onemove implements the literal board from spec.md §8 scenario 1:
// "a trivial 1-move board that terminates after one move", with a single
// legal action that always resolves to a draw. internal/game/trivial is a
// *different*, two-action board kept for internal/engine's PUCT-convergence
// unit test (it needs a winning action to converge to); this package exists
// solely so the end-to-end orchestrator smoke test can assert the scenario's
// literal expectations (visit distribution [1.0], outcome drawn) without
// depending on move-selection temperature or exploration noise at all, since
// there is never more than one legal action to select.
package onemove

import (
	"github.com/janpfeifer/zeroselfplay/internal/board"
	"github.com/janpfeifer/zeroselfplay/internal/game"
)

// Name is the identifier this game is registered under.
const Name = "onemove"

func init() {
	game.Register(game.Binding{
		Name:     Name,
		StartPos: StartPos,
		Mapper:   Mapper{},
	})
}

// Board has exactly one non-terminal position (the start) and exactly one
// legal action from it, which ends the game in a draw.
type Board struct {
	done bool
}

var _ board.Board = Board{}

// StartPos returns a fresh, non-terminal Board.
func StartPos() board.Board {
	return Board{}
}

func (b Board) NumActions() int {
	if b.done {
		return 0
	}
	return 1
}

func (b Board) NextPlayer() board.PlayerNum {
	return board.PlayerFirst
}

func (b Board) MoveNumber() int {
	if b.done {
		return 1
	}
	return 0
}

func (b Board) IsDone() bool {
	return b.done
}

func (b Board) Outcome() board.Outcome {
	return board.OutcomeDraw
}

func (b Board) TakeAction(actionIdx int) board.Board {
	if actionIdx != 0 {
		panic("onemove: invalid action index")
	}
	return Board{done: true}
}

func (b Board) Hash() uint64 {
	if !b.done {
		return 0
	}
	return 1
}

// Mapper encodes a Board into a single feature: 0 for the (only)
// non-terminal position. It exists so the network evaluators have something
// to consume even for this degenerate game.
type Mapper struct{}

var _ board.Mapper = Mapper{}

func (Mapper) Encode(board.Board) []float32 {
	return []float32{0}
}

func (Mapper) FeaturesDim() int {
	return 1
}

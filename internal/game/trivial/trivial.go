// Package trivial implements a one-ply board.Board with two actions, one
// winning outright and one drawing, so a PUCT search actually has something
// to tell apart. It backs internal/engine's unit test that checks search
// converges to the winning action under a dummy network; for the literal
// scenario-1 end-to-end smoke test (a single legal action collapsing to a
// draw) see internal/game/onemove instead.
package trivial

import (
	"github.com/janpfeifer/zeroselfplay/internal/board"
	"github.com/janpfeifer/zeroselfplay/internal/game"
)

// Name is the identifier this game is registered under.
const Name = "trivial"

func init() {
	game.Register(game.Binding{
		Name:     Name,
		StartPos: StartPos,
		Mapper:   Mapper{},
	})
}

// numActions is fixed: action 0 makes PlayerFirst win, action 1 is a draw.
const numActions = 2

// Board is a one-move game: whoever is to move picks between winning outright
// (action 0) and forcing a draw (action 1). There is exactly one non-terminal
// position, the starting position.
type Board struct {
	done    bool
	outcome board.Outcome
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
	return numActions
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
	return b.outcome
}

func (b Board) TakeAction(actionIdx int) board.Board {
	switch actionIdx {
	case 0:
		return Board{done: true, outcome: board.OutcomeForWinner(board.PlayerFirst)}
	case 1:
		return Board{done: true, outcome: board.OutcomeForWinner(board.PlayerInvalid)}
	default:
		panic("trivial: invalid action index")
	}
}

func (b Board) Hash() uint64 {
	if !b.done {
		return 0
	}
	return uint64(b.outcome) + 1
}

// Mapper encodes a Board into a single feature: 0 for the (only) non-terminal
// position. It exists so the network evaluators have something to consume
// even for this degenerate game.
type Mapper struct{}

var _ board.Mapper = Mapper{}

func (Mapper) Encode(board.Board) []float32 {
	return []float32{0}
}

func (Mapper) FeaturesDim() int {
	return 1
}

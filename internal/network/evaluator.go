// Package network provides the inference backends consulted by the search engine.
//
// An Evaluator turns a board position into a value estimate (how good the position is
// for the player to move) and a policy (a probability distribution over the position's
// legal actions). The engine always calls it in batches, since the backends implemented
// here (and the GPU/TPU devices they may run on) are built to amortize overhead across
// many boards at once.
//
// Training a network is out of scope here: an Evaluator only ever runs the forward pass.
// New weights arrive out of band, pushed by the commander and loaded with LoadCheckpoint.
package network

import "github.com/janpfeifer/zeroselfplay/internal/board"

// Evaluation is the result of evaluating a single board.
type Evaluation struct {
	// Value estimates the outcome for the player to move, in [-1, +1].
	Value float32

	// Policy has one entry per legal action of the board that was evaluated,
	// in the same order as board.Board.TakeAction expects.
	Policy []float32
}

// Evaluator is implemented by every network backend (dummy, linear, gomlx, ...).
//
// Evaluate must be safe for concurrent use: the inference worker is the only caller,
// but it calls it from the dispatch loop while other goroutines may be swapping the
// backend's weights underneath it (see LoadCheckpoint).
type Evaluator interface {
	// Evaluate scores a batch of boards and returns one Evaluation per board, in order.
	Evaluate(boards []board.Board) ([]Evaluation, error)

	// LoadCheckpoint replaces the evaluator's weights with the ones found at path.
	// Evaluators that cannot be reloaded (e.g. Dummy) return an error.
	LoadCheckpoint(path string) error

	// String names the backend, for logging.
	String() string
}

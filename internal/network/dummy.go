package network

import (
	"github.com/janpfeifer/zeroselfplay/internal/ai"
	"github.com/janpfeifer/zeroselfplay/internal/board"
	"github.com/pkg/errors"
)

// Dummy is an Evaluator that knows nothing about the game: it returns a value of 0
// (a dead draw) and a uniform policy over the legal actions. It is used as the initial
// network before the first checkpoint is loaded, and in tests where the search tree's
// own statistics, not the network's predictions, are what's being exercised.
type Dummy struct{}

// NewDummy returns a Dummy evaluator.
func NewDummy() *Dummy {
	return &Dummy{}
}

// Evaluate implements Evaluator.
func (d *Dummy) Evaluate(boards []board.Board) ([]Evaluation, error) {
	evals := make([]Evaluation, len(boards))
	for i, b := range boards {
		// A uniform policy is the softmax of all-zero logits, one per action.
		policy := make([]float32, b.NumActions())
		ai.Softmax(policy)
		evals[i] = Evaluation{Value: 0, Policy: policy}
	}
	return evals, nil
}

// LoadCheckpoint implements Evaluator: Dummy has no weights to load.
func (d *Dummy) LoadCheckpoint(string) error {
	return errors.New("network: dummy evaluator has no weights to load")
}

func (d *Dummy) String() string {
	return "Dummy"
}

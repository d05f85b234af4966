package network

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/janpfeifer/zeroselfplay/internal/ai"
	"github.com/janpfeifer/zeroselfplay/internal/board"
	"github.com/pkg/errors"
)

// Linear is an Evaluator backed by one weight per feature plus a bias (a logistic
// regression over the board's feature vector), squashed through tanh to land in
// [-1, +1]. It has no notion of a policy head: the policy for an action is derived
// by scoring every resulting afterstate and taking a softmax over the (negated, since
// it is the opponent to move there) afterstate values.
//
// It exists mostly as a cheap, dependency-free baseline evaluator: useful for tests
// and for bootstrapping a game before a trained network is available.
type Linear struct {
	mapper board.Mapper

	mu      sync.RWMutex
	weights []float32 // last entry is the bias.
}

// NewLinear creates a Linear evaluator with zero-initialized weights sized for mapper.
func NewLinear(mapper board.Mapper) *Linear {
	return &Linear{
		mapper:  mapper,
		weights: make([]float32, mapper.FeaturesDim()+1),
	}
}

// logitScore computes weights·features + bias. Caller must hold mu.
func (l *Linear) logitScore(features []float32) float32 {
	sum := l.weights[len(l.weights)-1]
	for i, f := range features {
		sum += f * l.weights[i]
	}
	return sum
}

// scoreFeatures returns the squashed value, in [-1, +1], for one feature vector.
func (l *Linear) scoreFeatures(features []float32) float32 {
	return ai.SquashScore(l.logitScore(features))
}

// Evaluate implements Evaluator.
func (l *Linear) Evaluate(boards []board.Board) ([]Evaluation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	evals := make([]Evaluation, len(boards))
	for i, b := range boards {
		value := l.scoreFeatures(l.mapper.Encode(b))

		n := b.NumActions()
		policy := make([]float32, n)
		for a := 0; a < n; a++ {
			after := b.TakeAction(a)
			// After is scored from the mover's perspective, which is the opponent
			// of the board being evaluated, so we negate it.
			policy[a] = -l.scoreFeatures(l.mapper.Encode(after))
		}
		ai.Softmax(policy)
		evals[i] = Evaluation{Value: value, Policy: policy}
	}
	return evals, nil
}

// LoadCheckpoint implements Evaluator. The checkpoint is a text file with one
// comma-separated feature weight per line (blank lines and '#'/'//' comments are
// skipped), the last value being the bias.
func (l *Linear) LoadCheckpoint(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "network: loading linear checkpoint %q", path)
	}
	weights := make([]float32, 0, l.mapper.FeaturesDim()+1)
	for lineNum, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		for _, field := range strings.Split(line, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			v, err := strconv.ParseFloat(field, 32)
			if err != nil {
				return errors.Wrapf(err, "network: parsing %q in %s line %d", field, path, lineNum+1)
			}
			weights = append(weights, float32(v))
		}
	}
	if len(weights) != l.mapper.FeaturesDim()+1 {
		return errors.Errorf("network: checkpoint %q has %d weights, want %d (features=%d + bias)",
			path, len(weights), l.mapper.FeaturesDim()+1, l.mapper.FeaturesDim())
	}
	l.mu.Lock()
	l.weights = weights
	l.mu.Unlock()
	return nil
}

func (l *Linear) String() string {
	return "Linear"
}

var _ Evaluator = (*Linear)(nil)

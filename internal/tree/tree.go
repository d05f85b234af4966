// Package tree implements the AlphaZero-style PUCT search tree as a two-phase
// Gather/Apply state machine instead of a recursive, blocking search call.
//
// Gather walks the tree down to a position whose value and policy are not yet
// known and returns it; the caller evaluates it however it likes (typically by
// adding it to a batch shared with other trees' pending leaves) and feeds the
// result back through Apply before calling Gather again. This lets many trees
// share one batched network evaluation instead of each one calling the network
// on its own.
//
// Nodes are kept in one slice (Tree.nodes) and children are addressed by
// their index into it; each node itself is allocated separately.
package tree

import (
	"github.com/chewxy/math32"
	"github.com/janpfeifer/zeroselfplay/internal/board"
	"github.com/pkg/errors"
)

// Evaluation is what the caller must feed back through Apply after evaluating
// the board returned by Gather.
type Evaluation struct {
	// Value estimates the outcome for the board's own NextPlayer, in [-1, +1].
	Value float32

	// Policy has one prior probability per legal action of the evaluated board.
	Policy []float32
}

// noChild marks a not-yet-expanded action in node.children.
const noChild = -1

// node holds the PUCT statistics for one expanded board position.
type node struct {
	b board.Board

	actionsProbs []float32 // prior from the network, one per action.
	n            []int32   // visit count per action.
	sumScores    []float32 // sum of backed-up scores per action.
	sumN         int32     // sum of n.

	children      []int32 // index into Tree.nodes, or noChild.
	terminal      []bool  // whether action a leads to a finished board.
	terminalScore []float32
}

func newNode(b board.Board, priors []float32) *node {
	numActions := b.NumActions()
	return &node{
		b:             b,
		actionsProbs:  priors,
		n:             make([]int32, numActions),
		sumScores:     make([]float32, numActions),
		children:      fill(make([]int32, numActions), noChild),
		terminal:      make([]bool, numActions),
		terminalScore: make([]float32, numActions),
	}
}

func fill(s []int32, v int32) []int32 {
	for i := range s {
		s[i] = v
	}
	return s
}

// step identifies one (node, action) edge visited during a descent.
type step struct {
	nodeIdx   int
	actionIdx int
}

// Tree is a single move's worth of PUCT search state. It is not safe for
// concurrent use: the engine runs one tree per goroutine and parallelizes by
// running many trees side by side, not by sharing one tree across goroutines.
type Tree struct {
	cPuct float32
	root  board.Board
	nodes []*node

	pendingPath  []step
	pendingBoard board.Board
}

// New creates a Tree rooted at root. root must not already be a finished
// position.
func New(root board.Board, cPuct float32) (*Tree, error) {
	if root.IsDone() {
		return nil, board.ErrFinishedBoard
	}
	return &Tree{cPuct: cPuct, root: root}, nil
}

// Gather descends the tree once via PUCT selection. If it reaches a position
// that genuinely needs a network evaluation, it returns that position with
// needsEval set, and the caller must follow up with Apply before the next
// Gather. If it instead crosses an edge whose outcome is already known (a
// previously-resolved terminal), the simulation backs up on the spot and
// Gather returns with needsEval false: this visit is complete and consumed no
// evaluation, and the caller should simply move on to its next visit. A node
// all of whose actions already lead to known terminals -- true of every
// node one ply from the end of any game -- would otherwise have no fresh leaf
// to offer, ever; returning needsEval=false instead of looping for one is
// what keeps this method from spinning forever at the end of a game.
func (t *Tree) Gather() (leaf board.Board, needsEval bool, err error) {
	if t.pendingBoard != nil {
		return nil, false, errors.New("tree: Apply must be called before the next Gather")
	}
	path, leaf, isTerminal, err := t.descend()
	if err != nil {
		return nil, false, err
	}
	if isTerminal {
		t.backupTerminal(path)
		return nil, false, nil
	}
	t.pendingPath = path
	t.pendingBoard = leaf
	return leaf, true, nil
}

// descend walks from the root using PUCT selection until it either crosses a
// terminal edge or reaches an action that has never been explored before.
func (t *Tree) descend() (path []step, leaf board.Board, terminal bool, err error) {
	if len(t.nodes) == 0 {
		// The root itself hasn't been evaluated yet.
		return nil, t.root, false, nil
	}
	nodeIdx := 0
	for {
		n := t.nodes[nodeIdx]
		actionIdx, err := bestAction(n, t.cPuct)
		if err != nil {
			return nil, nil, false, err
		}
		path = append(path, step{nodeIdx: nodeIdx, actionIdx: actionIdx})

		if n.terminal[actionIdx] {
			return path, nil, true, nil
		}
		if n.children[actionIdx] != noChild {
			nodeIdx = int(n.children[actionIdx])
			continue
		}

		after := n.b.TakeAction(actionIdx)
		if after.IsDone() {
			n.terminal[actionIdx] = true
			n.terminalScore[actionIdx] = after.Outcome().ScoreFor(n.b.NextPlayer())
			return path, nil, true, nil
		}
		return path, after, false, nil
	}
}

// bestAction picks the action maximizing the PUCT upper-confidence formula.
func bestAction(n *node, cPuct float32) (int, error) {
	if len(n.actionsProbs) == 0 {
		return -1, errors.New("tree: node has no legal actions")
	}
	globalFactor := cPuct * math32.Sqrt(float32(n.sumN))
	best, bestUC := -1, math32.Inf(-1)
	for a := range n.actionsProbs {
		var q float32
		if n.n[a] > 0 {
			q = n.sumScores[a] / float32(n.n[a])
		}
		uc := q + globalFactor*n.actionsProbs[a]/float32(1+n.n[a])
		if uc > bestUC {
			best, bestUC = a, uc
		}
	}
	return best, nil
}

// Apply feeds back the evaluation of the board last returned by Gather,
// expanding the tree with it and backing up the resulting score along the
// path Gather took to reach it.
func (t *Tree) Apply(eval Evaluation) error {
	if t.pendingBoard == nil {
		return errors.New("tree: Apply called without a pending Gather")
	}
	leaf := t.pendingBoard
	path := t.pendingPath
	t.pendingBoard = nil
	t.pendingPath = nil

	newIdx := len(t.nodes)
	t.nodes = append(t.nodes, newNode(leaf, eval.Policy))

	if len(path) == 0 {
		// This was the root expansion: nothing to back up yet.
		return nil
	}
	last := path[len(path)-1]
	t.nodes[last.nodeIdx].children[last.actionIdx] = int32(newIdx)

	// eval.Value is from leaf's own mover's perspective; the action that led
	// here is scored from the perspective of the node that chose it, one ply
	// earlier, hence the perspective flip.
	t.backup(path, -eval.Value)
	return nil
}

func (t *Tree) backupTerminal(path []step) {
	last := path[len(path)-1]
	n := t.nodes[last.nodeIdx]
	t.backup(path, n.terminalScore[last.actionIdx])
}

// backup propagates score up the path, flipping its sign at every step since
// the mover alternates at each ply.
func (t *Tree) backup(path []step, score float32) {
	for i := len(path) - 1; i >= 0; i-- {
		s := path[i]
		n := t.nodes[s.nodeIdx]
		n.sumScores[s.actionIdx] += score
		n.n[s.actionIdx]++
		n.sumN++
		score = -score
	}
}

// RootBoard returns the board position this tree searches from.
func (t *Tree) RootBoard() board.Board {
	return t.root
}

// RootExpanded reports whether the root position has been expanded (evaluated) yet.
func (t *Tree) RootExpanded() bool {
	return len(t.nodes) > 0
}

// AddRootNoise mixes Dirichlet-style exploration noise into the root's action
// priors, as AlphaZero does for the actual move played (as opposed to the
// recursive internal evaluations). It must be called only once, right after
// the root has been expanded (RootExpanded() == true) and before any further
// Gather calls.
func (t *Tree) AddRootNoise(noise []float32, epsilon float32) error {
	if !t.RootExpanded() {
		return errors.New("tree: AddRootNoise called before root was expanded")
	}
	root := t.nodes[0]
	if len(noise) != len(root.actionsProbs) {
		return errors.Errorf("tree: noise has %d entries, want %d", len(noise), len(root.actionsProbs))
	}
	for a := range root.actionsProbs {
		root.actionsProbs[a] = (1-epsilon)*root.actionsProbs[a] + epsilon*noise[a]
	}
	return nil
}

// BestAction greedily returns the most-visited root action.
func (t *Tree) BestAction() (int, error) {
	if !t.RootExpanded() {
		return -1, errors.New("tree: BestAction called before root was expanded")
	}
	root := t.nodes[0]
	best, mostVisits := -1, int32(-1)
	for a, nv := range root.n {
		if nv > mostVisits {
			mostVisits, best = nv, a
		}
	}
	return best, nil
}

// SampleAction samples a root action from the visit-count distribution raised
// to 1/temperature, AlphaZero's move-selection rule for the early game.
// temperature == 0 is equivalent to BestAction.
func (t *Tree) SampleAction(temperature float32, rnd func() float32) (int, error) {
	if temperature == 0 {
		return t.BestAction()
	}
	if !t.RootExpanded() {
		return -1, errors.New("tree: SampleAction called before root was expanded")
	}
	root := t.nodes[0]
	probs := visitProbs(root, temperature)
	r := rnd()
	var sum float32
	for a, p := range probs {
		sum += p
		if r <= sum {
			return a, nil
		}
	}
	return len(probs) - 1, nil
}

// DerivedPolicy returns the visit-count-normalized policy at the root, the
// training label stored alongside each move.
func (t *Tree) DerivedPolicy() ([]float32, error) {
	if !t.RootExpanded() {
		return nil, errors.New("tree: DerivedPolicy called before root was expanded")
	}
	return visitProbs(t.nodes[0], 1), nil
}

// RootValue returns the backed-up value estimate of the root position
// (the weighted average over all its children's Q values).
func (t *Tree) RootValue() (float32, error) {
	if !t.RootExpanded() {
		return 0, errors.New("tree: RootValue called before root was expanded")
	}
	root := t.nodes[0]
	if root.sumN == 0 {
		return 0, nil
	}
	var sum float32
	for a := range root.n {
		sum += root.sumScores[a]
	}
	return sum / float32(root.sumN), nil
}

func visitProbs(n *node, temperature float32) []float32 {
	probs := make([]float32, len(n.n))
	if n.sumN == 0 {
		// No traverses happened below the prior; fall back to the prior itself.
		copy(probs, n.actionsProbs)
		return probs
	}
	for a, nv := range n.n {
		probs[a] = float32(nv) / float32(n.sumN)
		if temperature != 1 {
			probs[a] = math32.Pow(probs[a], 1/temperature)
		}
	}
	if temperature != 1 {
		var sum float32
		for _, p := range probs {
			sum += p
		}
		if sum > 0 {
			for a := range probs {
				probs[a] /= sum
			}
		}
	}
	return probs
}

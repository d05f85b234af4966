package tree

import (
	"testing"

	"github.com/janpfeifer/zeroselfplay/internal/board"
	"github.com/janpfeifer/zeroselfplay/internal/game/trivial"
	"github.com/stretchr/testify/require"
)

// uniformEval returns a 0 value and a uniform policy, mirroring the teacher's
// dummyScorer used to exercise the search mechanics independent of any real
// network.
func uniformEval(b board.Board) Evaluation {
	n := b.NumActions()
	policy := make([]float32, n)
	if n > 0 {
		p := float32(1) / float32(n)
		for i := range policy {
			policy[i] = p
		}
	}
	return Evaluation{Value: 0, Policy: policy}
}

func runTraverses(t *testing.T, tr *Tree, evalFn func(board.Board) Evaluation, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		leaf, needsEval, err := tr.Gather()
		require.NoError(t, err)
		if needsEval {
			require.NoError(t, tr.Apply(evalFn(leaf)))
		}
	}
}

func TestTree_RejectsFinishedRoot(t *testing.T) {
	root := trivial.StartPos().TakeAction(0)
	require.True(t, root.IsDone())
	_, err := New(root, 1.0)
	require.ErrorIs(t, err, board.ErrFinishedBoard)
}

func TestTree_GatherApply_ExpandsRoot(t *testing.T) {
	tr, err := New(trivial.StartPos(), 1.0)
	require.NoError(t, err)
	require.False(t, tr.RootExpanded())

	leaf, _, err := tr.Gather()
	require.NoError(t, err)
	require.Equal(t, trivial.StartPos(), leaf)

	require.NoError(t, tr.Apply(uniformEval(leaf)))
	require.True(t, tr.RootExpanded())
}

func TestTree_ApplyWithoutGatherFails(t *testing.T) {
	tr, err := New(trivial.StartPos(), 1.0)
	require.NoError(t, err)
	err = tr.Apply(Evaluation{})
	require.Error(t, err)
}

func TestTree_GatherTwiceWithoutApplyFails(t *testing.T) {
	tr, err := New(trivial.StartPos(), 1.0)
	require.NoError(t, err)
	_, _, err = tr.Gather()
	require.NoError(t, err)
	_, _, err = tr.Gather()
	require.Error(t, err)
}

// TestTree_FindsWinningAction drives enough traverses that PUCT should settle
// on the winning action (0) over the drawing one (1): both terminal edges are
// resolved without any network call (the dummy evaluator is only consulted
// for the root), so the only thing steering the search is the terminal score
// itself.
func TestTree_FindsWinningAction(t *testing.T) {
	tr, err := New(trivial.StartPos(), 1.5)
	require.NoError(t, err)
	runTraverses(t, tr, uniformEval, 50)

	best, err := tr.BestAction()
	require.NoError(t, err)
	require.Equal(t, 0, best)

	policy, err := tr.DerivedPolicy()
	require.NoError(t, err)
	require.Len(t, policy, 2)
	require.Greater(t, policy[0], policy[1])

	value, err := tr.RootValue()
	require.NoError(t, err)
	require.Greater(t, value, float32(0.9))
}

func TestTree_AddRootNoiseRequiresExpandedRoot(t *testing.T) {
	tr, err := New(trivial.StartPos(), 1.0)
	require.NoError(t, err)
	err = tr.AddRootNoise([]float32{0.5, 0.5}, 0.25)
	require.Error(t, err)

	leaf, _, err := tr.Gather()
	require.NoError(t, err)
	require.NoError(t, tr.Apply(uniformEval(leaf)))
	require.NoError(t, tr.AddRootNoise([]float32{1, 0}, 0.25))
}

func TestTree_SampleActionZeroTemperatureIsGreedy(t *testing.T) {
	tr, err := New(trivial.StartPos(), 1.5)
	require.NoError(t, err)
	runTraverses(t, tr, uniformEval, 50)

	action, err := tr.SampleAction(0, func() float32 { return 0.999 })
	require.NoError(t, err)
	best, err := tr.BestAction()
	require.NoError(t, err)
	require.Equal(t, best, action)
}

package engine

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/janpfeifer/zeroselfplay/internal/board"
	"github.com/janpfeifer/zeroselfplay/internal/game"
	"github.com/janpfeifer/zeroselfplay/internal/game/trivial"
	"github.com/janpfeifer/zeroselfplay/internal/network"
	"github.com/janpfeifer/zeroselfplay/internal/protocol"
	"github.com/janpfeifer/zeroselfplay/internal/settings"
	"github.com/janpfeifer/zeroselfplay/internal/tree"
)

// serveDevice answers every request on dc with ev.Evaluate, standing in for
// an Inference thread without pulling that package's batching policy into a
// test that only wants to drive an Executor.
func serveDevice(ctx context.Context, dc *deviceChannels, ev network.Evaluator) {
	for {
		select {
		case req := <-dc.requestCh:
			evals, err := ev.Evaluate([]board.Board{req.b})
			if err != nil {
				close(req.replyCh)
				continue
			}
			req.replyCh <- evals[0]
		case <-ctx.Done():
			return
		}
	}
}

func trivialBinding() game.Binding {
	return game.Binding{Name: trivial.Name, StartPos: trivial.StartPos, Mapper: trivial.Mapper{}}
}

// TestExecutor_PlayGame_ConvergesToTheWinningAction exercises a full
// Gather/Apply move against the one-ply trivial board: PUCT visits the
// winning action (backed up to +1) far more than the drawing one (backed up
// to 0), so collapsing the move-selection temperature to argmax (by zeroing
// TemperaturePlies) must deterministically play it.
func TestExecutor_PlayGame_ConvergesToTheWinningAction(t *testing.T) {
	dc := &deviceChannels{requestCh: make(chan *evalRequest, 4)}
	updatesCh := make(chan protocol.GeneratorUpdate, 16)
	e := NewExecutor(0, trivialBinding(), settings.StartupSettings{}, dc, updatesCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go serveDevice(ctx, dc, network.NewDummy())

	rs := settings.DefaultRuntimeSettings()
	rs.VisitsPerMove = 20
	rs.DirichletWeight = 0  // disable noise so the visit distribution is deterministic.
	rs.TemperaturePlies = 0 // collapse straight to argmax over visit counts.
	rnd := rand.New(rand.NewSource(1))

	sim, err := e.playGame(ctx, rs, rnd)
	require.NoError(t, err)
	require.NotNil(t, sim)
	require.Len(t, sim.Positions, 1)

	pos := sim.Positions[0]
	require.Equal(t, 0, pos.PlayedAction)
	require.Len(t, pos.VisitDistribution, 2)
	var sum float32
	for _, p := range pos.VisitDistribution {
		require.GreaterOrEqual(t, p, float32(0))
		sum += p
	}
	require.InDelta(t, float32(1), sum, 1e-4)

	require.Equal(t, board.OutcomeWinA, sim.Outcome)
	// ZeroValue is the root's backed-up average, not the game outcome: of the
	// 19 visits after the root expansion, PUCT (cPuct 1.1) sends 17 to the
	// winning action (+1) and 2 to the drawing one (0).
	require.Equal(t, float32(17)/float32(19), pos.ZeroValue)
}

// TestExecutor_PlayGame_SurvivesAllActionsTerminal exercises the fixed
// behavior of Tree.Gather when every visit after the root expansion crosses
// a terminal edge (both of the trivial board's actions end the game): a
// low VisitsPerMove budget that lands squarely in that regime must still
// return a well-formed Simulation instead of hanging.
func TestExecutor_PlayGame_SurvivesAllActionsTerminal(t *testing.T) {
	dc := &deviceChannels{requestCh: make(chan *evalRequest, 4)}
	updatesCh := make(chan protocol.GeneratorUpdate, 16)
	e := NewExecutor(0, trivialBinding(), settings.StartupSettings{}, dc, updatesCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go serveDevice(ctx, dc, network.NewDummy())

	rs := settings.DefaultRuntimeSettings()
	rs.VisitsPerMove = 4
	rnd := rand.New(rand.NewSource(2))

	done := make(chan struct{})
	var sim *protocol.Simulation
	var err error
	go func() {
		sim, err = e.playGame(ctx, rs, rnd)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("playGame hung instead of returning once every root action was a known terminal")
	}
	require.NoError(t, err)
	require.NotNil(t, sim)
	require.Len(t, sim.Positions, 1)
}

// TestExecutor_PlayGame_CancelledMidSearchReturnsNilNil confirms that a
// context cancelled while a gather/evaluate round trip is in flight aborts
// the game silently (nil Simulation, nil error) rather than emitting a
// partial or corrupt record.
func TestExecutor_PlayGame_CancelledMidSearchReturnsNilNil(t *testing.T) {
	dc := &deviceChannels{requestCh: make(chan *evalRequest)} // unbuffered: never served.
	updatesCh := make(chan protocol.GeneratorUpdate, 1)
	e := NewExecutor(0, trivialBinding(), settings.StartupSettings{}, dc, updatesCh)

	ctx, cancel := context.WithCancel(context.Background())
	rs := settings.DefaultRuntimeSettings()
	rnd := rand.New(rand.NewSource(3))

	done := make(chan struct{})
	var sim *protocol.Simulation
	var err error
	go func() {
		sim, err = e.playGame(ctx, rs, rnd)
		close(done)
	}()

	// Let playGame past the StartedSimulation send and block on its first
	// evaluate() round trip, then cancel.
	<-updatesCh
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("playGame did not return after cancellation")
	}
	require.NoError(t, err)
	require.Nil(t, sim)
}

// TestExecutor_Concurrency_PinnedToOneForMuZero checks the data model's
// "concurrency is exactly 1 under MuZero" rule, regardless of SearchBatchSize.
func TestExecutor_Concurrency_PinnedToOneForMuZero(t *testing.T) {
	dc := &deviceChannels{requestCh: make(chan *evalRequest, 1)}
	updatesCh := make(chan protocol.GeneratorUpdate, 1)

	e := NewExecutor(0, trivialBinding(), settings.StartupSettings{Algorithm: settings.MuZero, SearchBatchSize: 8}, dc, updatesCh)
	require.Equal(t, 1, e.concurrency())

	e = NewExecutor(0, trivialBinding(), settings.StartupSettings{Algorithm: settings.AlphaZero, SearchBatchSize: 8}, dc, updatesCh)
	require.Equal(t, 8, e.concurrency())
}

// TestGatherSafe_PropagatesTreeError checks that gatherSafe's recover wrapper
// still surfaces an ordinary (non-panicking) error returned by Tree.Gather,
// such as calling it twice in a row without an intervening Apply.
func TestGatherSafe_PropagatesTreeError(t *testing.T) {
	tr, err := tree.New(trivial.StartPos(), DefaultCPuct)
	require.NoError(t, err)

	_, _, err = gatherSafe(tr)
	require.NoError(t, err)

	_, _, err = gatherSafe(tr)
	require.Error(t, err, "a second Gather before Apply must fail")
}

package engine

import (
	"context"
	"math/rand"
	"time"

	distrand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distmv"
	"k8s.io/klog/v2"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/janpfeifer/zeroselfplay/internal/board"
	"github.com/janpfeifer/zeroselfplay/internal/game"
	"github.com/janpfeifer/zeroselfplay/internal/network"
	"github.com/janpfeifer/zeroselfplay/internal/protocol"
	"github.com/janpfeifer/zeroselfplay/internal/settings"
	"github.com/janpfeifer/zeroselfplay/internal/tree"
)

// DefaultCPuct matches the teacher's own mcts default (internal/searchers/mcts
// players_params.go's "c_puct" parameter), kept as the exploration constant of
// the PUCT formula since the data model has no dedicated Startup/Runtime
// field for it.
const DefaultCPuct float32 = 1.1

// Executor owns a pool of concurrent search-tree slots, each of which plays
// one game to completion, packages it into a protocol.Simulation, and starts
// a fresh game -- the spec's "Executor maintains search_batch_size concurrent
// in-flight search trees". Concurrency here is across *games*, not within a
// single tree: a PUCT search tree is rebuilt fresh for every move (see
// internal/tree), so keeping several games in flight at once is what gives
// the device's Inference thread enough simultaneous requests to fill a batch.
type Executor struct {
	id      int
	binding game.Binding
	startup settings.StartupSettings

	device     *deviceChannels
	updatesCh  chan<- protocol.GeneratorUpdate
	settingsCh chan settings.RuntimeSettings // capacity 1, last-write-wins
}

// NewExecutor creates an Executor bound to one device's request channels. Its
// settings channel is created here (capacity 1) and must be used by the
// Commander to broadcast RuntimeSettings to this Executor.
func NewExecutor(id int, binding game.Binding, startup settings.StartupSettings, device *deviceChannels, updatesCh chan<- protocol.GeneratorUpdate) *Executor {
	return &Executor{
		id:         id,
		binding:    binding,
		startup:    startup,
		device:     device,
		updatesCh:  updatesCh,
		settingsCh: make(chan settings.RuntimeSettings, 1),
	}
}

// SettingsChan returns the channel the Commander broadcasts RuntimeSettings
// updates on.
func (e *Executor) SettingsChan() chan settings.RuntimeSettings {
	return e.settingsCh
}

// concurrency is the number of simultaneous games this Executor plays: the
// data model's search_batch_size, pinned to exactly 1 for MuZero.
func (e *Executor) concurrency() int {
	if e.startup.Algorithm == settings.MuZero {
		return 1
	}
	return e.startup.SearchBatchSize
}

// Run drives concurrency() game-playing slots until ctx is cancelled (the
// shutdown signal) or a slot fails. Any slot's fatal
// error aborts every other slot: per spec, a panic inside gather/apply is
// fatal for the whole Executor.
func (e *Executor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, e.concurrency())
	for slot := 0; slot < e.concurrency(); slot++ {
		slot := slot
		go func() {
			errCh <- e.runSlot(ctx, slot)
		}()
	}

	var result *multierror.Error
	for i := 0; i < e.concurrency(); i++ {
		if err := <-errCh; err != nil {
			result = multierror.Append(result, err)
			cancel() // abort every other slot, per spec's "fatal for the Executor".
		}
	}
	return result.ErrorOrNil()
}

// runSlot continuously plays games on behalf of one concurrency slot until
// ctx is cancelled.
func (e *Executor) runSlot(ctx context.Context, slot int) error {
	rnd := rand.New(rand.NewSource(time.Now().UnixNano() + int64(e.id)<<20 + int64(slot)))
	current := settings.DefaultRuntimeSettings()
	for {
		select {
		case latest := <-e.settingsCh:
			current = latest
		default:
		}

		if ctx.Err() != nil {
			return nil
		}

		sim, err := e.playGame(ctx, current, rnd)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if sim == nil {
			// Shutdown raced the game in progress: the tree's pending request
			// was dropped instead of replied to. Do not emit a partial
			// simulation, per spec's cancellation policy.
			return nil
		}
		select {
		case e.updatesCh <- protocol.GeneratorUpdate{Kind: protocol.UpdSimulation, Simulation: *sim}:
		case <-ctx.Done():
			return nil
		}
	}
}

// playGame plays one game from the binding's start position to completion,
// rebuilding a fresh tree.Tree for every move, and returns the resulting
// Simulation. A nil Simulation (with a nil error) means the game was
// abandoned mid-search because of shutdown.
func (e *Executor) playGame(ctx context.Context, rs settings.RuntimeSettings, rnd *rand.Rand) (*protocol.Simulation, error) {
	b := e.binding.StartPos()
	select {
	case e.updatesCh <- protocol.GeneratorUpdate{Kind: protocol.UpdStartedSimulation}:
	case <-ctx.Done():
		return nil, nil
	}

	var positions []protocol.Position
	var evaluations int64

	resigned := false
	var resignedMover board.PlayerNum

	for !b.IsDone() {
		if rs.MaxMoves > 0 && b.MoveNumber() >= rs.MaxMoves {
			break
		}

		mover := b.NextPlayer()
		tr, err := tree.New(b, DefaultCPuct)
		if err != nil {
			return nil, errors.Wrapf(err, "engine: executor %d building tree at move %d", e.id, b.MoveNumber())
		}

		// netValue is the network's own raw, unsearched value estimate for
		// this move's root -- the first Apply of the move, before any
		// further visits refine it -- matching the original source's
		// "net_evaluation" (kz-selfplay's selfuni.rs: the uniform/unsearched
		// net_eval built once per position, as opposed to its
		// solver-refined zero_eval).
		var netValue float32
		noiseApplied := rs.DirichletWeight == 0 // no-op noise means "already applied".
		for visits := 0; visits < rs.VisitsPerMove; visits++ {
			// The tree's very first Gather of a move always returns the
			// board at the (not yet expanded) root; for MuZero this is the
			// root-batch case, routed to its own channel.
			isRoot := visits == 0

			leaf, needsEval, err := gatherSafe(tr)
			if err != nil {
				return nil, errors.Wrapf(err, "engine: executor %d gather", e.id)
			}
			if !needsEval {
				// This visit resolved entirely against already-known
				// terminal statistics; nothing to evaluate or apply.
				continue
			}

			eval, ok, err := e.evaluate(ctx, leaf, isRoot)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, nil // shutdown: reply channel dropped.
			}
			evaluations++
			if isRoot {
				netValue = eval.Value
			}

			if err := applySafe(tr, tree.Evaluation{Value: eval.Value, Policy: eval.Policy}); err != nil {
				return nil, errors.Wrapf(err, "engine: executor %d apply", e.id)
			}

			if !noiseApplied && tr.RootExpanded() {
				if err := addRootNoise(tr, rs, rnd); err != nil {
					return nil, errors.Wrapf(err, "engine: executor %d root noise", e.id)
				}
				noiseApplied = true
			}
		}

		// zeroValue is the search-refined value estimate: the backed-up
		// average over the root's visited children, matching the original
		// source's "zero_evaluation" (the AlphaZero/solver-refined judgment,
		// as opposed to the network's raw, unsearched net_evaluation above).
		zeroValue, err := tr.RootValue()
		if err != nil {
			return nil, errors.Wrapf(err, "engine: executor %d root value", e.id)
		}
		if rs.ResignThreshold != 0 && zeroValue < rs.ResignThreshold {
			resigned = true
			resignedMover = mover
		}

		policy, err := tr.DerivedPolicy()
		if err != nil {
			return nil, errors.Wrapf(err, "engine: executor %d derived policy", e.id)
		}

		temperature := rs.TemperatureFor(b.MoveNumber())
		action, err := tr.SampleAction(temperature, func() float32 { return rnd.Float32() })
		if err != nil {
			return nil, errors.Wrapf(err, "engine: executor %d sample action", e.id)
		}

		positions = append(positions, protocol.Position{
			BoardFeatures:     e.binding.Mapper.Encode(b),
			PlayedAction:      action,
			VisitDistribution: policy,
			NetValue:          netValue,
			ZeroValue:         zeroValue,
			IsFullSearch:      true,
		})

		if resigned {
			break
		}
		b = b.TakeAction(action)

		select {
		case e.updatesCh <- protocol.GeneratorUpdate{Kind: protocol.UpdProgress, Progress: protocol.Progress{Moves: 1, Evaluations: evaluations}}:
			evaluations = 0
		case <-ctx.Done():
			return nil, nil
		}
	}

	outcome := finalOutcome(b, resigned, resignedMover)

	if klog.V(2).Enabled() {
		klog.Infof("engine: executor %d finished a %d-ply game, outcome=%s", e.id, len(positions), outcome)
	}
	return &protocol.Simulation{Positions: positions, Outcome: outcome}, nil
}

// finalOutcome resolves the Outcome triple for a just-finished game: a
// natural terminal board reports its own outcome; a resignation is scored as
// a loss for whoever resigned; anything else (the MaxMoves cap) is recorded
// as a draw, since the board itself never reached a terminal state to ask.
func finalOutcome(b board.Board, resigned bool, resignedMover board.PlayerNum) board.Outcome {
	if resigned {
		return board.OutcomeForWinner(resignedMover.Other())
	}
	if b.IsDone() {
		return b.Outcome()
	}
	return board.OutcomeForWinner(board.PlayerInvalid)
}

// evaluate sends a request to this Executor's device and blocks for the
// matching reply. ok is false if the reply channel was dropped because of
// shutdown (device channel closed before a reply arrived). isRoot routes the
// request to the MuZero root-batch channel, when this run has one.
func (e *Executor) evaluate(ctx context.Context, b board.Board, isRoot bool) (network.Evaluation, bool, error) {
	req := newEvalRequest(b)
	ch := e.device.requestCh
	if isRoot && e.device.rootRequestCh != nil {
		ch = e.device.rootRequestCh
	}
	select {
	case ch <- req:
	case <-ctx.Done():
		return network.Evaluation{}, false, nil
	}
	select {
	case eval, ok := <-req.replyCh:
		return eval, ok, nil
	case <-ctx.Done():
		return network.Evaluation{}, false, nil
	}
}

// gatherSafe and applySafe convert a panic inside the external tree package
// into an error, matching the spec's "any panic in gather/apply aborts the
// Executor" rule without requiring internal/tree itself to recover.
func gatherSafe(tr *tree.Tree) (leaf board.Board, needsEval bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("tree: gather panicked: %v", r)
		}
	}()
	return tr.Gather()
}

func applySafe(tr *tree.Tree, eval tree.Evaluation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("tree: apply panicked: %v", r)
		}
	}()
	return tr.Apply(eval)
}

// addRootNoise mixes Dirichlet exploration noise into a freshly-expanded
// root, the way AlphaZero does for the move that is actually about to be
// played (as opposed to every recursive internal evaluation).
func addRootNoise(tr *tree.Tree, rs settings.RuntimeSettings, rnd *rand.Rand) error {
	policy, err := tr.DerivedPolicy()
	if err != nil {
		return err
	}
	numActions := len(policy)
	alpha := make([]float64, numActions)
	for i := range alpha {
		alpha[i] = float64(rs.DirichletAlpha)
	}
	dirichlet := distmv.NewDirichlet(alpha, distrand.NewSource(uint64(rnd.Int63())))
	sample := dirichlet.Rand(nil)
	noise := make([]float32, numActions)
	for i, v := range sample {
		noise[i] = float32(v)
	}
	return tr.AddRootNoise(noise, rs.DirichletWeight)
}

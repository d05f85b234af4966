package network

import (
	"sync"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/xla"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	fnnLayer "github.com/gomlx/gomlx/ml/layers/fnn"
	"github.com/gomlx/gomlx/ml/layers/kan"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/zeroselfplay/internal/board"
	"github.com/janpfeifer/zeroselfplay/internal/generics"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// backend is a process-wide singleton: every GoMLX model shares the same compiled
// device handle, whichever device was selected when the process started.
var backend = sync.OnceValue(func() backends.Backend { return backends.New() })

// Gomlx is an Evaluator backed by a small feed-forward (or KAN) network with a shared
// board tower feeding a value head and a policy head, the way AlphaZero networks are
// usually shaped. The graph is built once; batches of different sizes are handled by
// padding each batch up to one of a small number of fixed sizes, so GoMLX does not have
// to compile a fresh XLA program for every distinct batch size it sees.
type Gomlx struct {
	mapper board.Mapper

	ctx  *context.Context
	exec *context.Exec

	mu         sync.RWMutex
	checkpoint *checkpoints.Handler
}

// NewGomlx creates a Gomlx evaluator with freshly initialized (random) weights.
func NewGomlx(mapper board.Mapper) *Gomlx {
	g := &Gomlx{mapper: mapper, ctx: context.New()}
	g.ctx.RngStateReset()
	g.ctx.SetParams(map[string]any{
		"batch_size": 128,

		fnnLayer.ParamNumHiddenLayers: 2,
		fnnLayer.ParamNumHiddenNodes:  64,
		fnnLayer.ParamResidual:        true,
		fnnLayer.ParamNormalization:   "layer",

		"kan": false,
	})
	g.ctx = g.ctx.Checked(false)
	g.exec = context.NewExec(backend(), g.ctx,
		func(ctx *context.Context, inputs []*Node) []*Node {
			ctx = ctx.Checked(false)
			return g.forwardGraph(ctx, inputs)
		})
	return g
}

// paddedSize returns a padded batch size for numBoards, to limit the number of distinct
// compiled program variants the executor ends up holding.
func (g *Gomlx) paddedSize(numBoards int) int {
	if numBoards <= 1 {
		return 1
	}
	defaultBatchSize := context.GetParamOr(g.ctx, "batch_size", 128)
	if numBoards == defaultBatchSize {
		return numBoards
	}
	paddedSize := 8
	for paddedSize < numBoards {
		paddedSize = paddedSize + (paddedSize+1)/2
	}
	return paddedSize
}

// createInputs builds the tensors forwardGraph expects: per-board features (padded),
// per-afterstate features for every legal action (padded, flattened across all boards),
// and an index mapping each afterstate back to its originating board.
func (g *Gomlx) createInputs(boards []board.Board) []*tensors.Tensor {
	dim := g.mapper.FeaturesDim()

	numBoards := len(boards)
	paddedBoards := g.paddedSize(numBoards)
	boardFeatures := tensors.FromShape(shapes.Make(dtypes.Float32, paddedBoards, dim))
	tensors.MutableFlatData(boardFeatures, func(flat []float32) {
		for i, b := range boards {
			copy(flat[i*dim:], g.mapper.Encode(b))
		}
	})
	numBoardsT := tensors.FromScalar(int32(numBoards))

	var numActions int
	for _, b := range boards {
		numActions += b.NumActions()
	}
	paddedActions := g.paddedSize(numActions)
	actionsFeatures := tensors.FromShape(shapes.Make(dtypes.Float32, paddedActions, dim))
	actionsToBoardIdx := tensors.FromShape(shapes.Make(dtypes.Int32, paddedActions))
	tensors.MutableFlatData(actionsFeatures, func(flat []float32) {
		actionIdx := 0
		for _, b := range boards {
			for a := 0; a < b.NumActions(); a++ {
				copy(flat[actionIdx*dim:], g.mapper.Encode(b.TakeAction(a)))
				actionIdx++
			}
		}
	})
	tensors.MutableFlatData(actionsToBoardIdx, func(flat []int32) {
		actionIdx := 0
		for boardIdx, b := range boards {
			for a := 0; a < b.NumActions(); a++ {
				flat[actionIdx] = int32(boardIdx)
				actionIdx++
			}
		}
		dummyBoardIdx := int32(numBoards)
		for ; actionIdx < paddedActions; actionIdx++ {
			flat[actionIdx] = dummyBoardIdx
		}
	})
	numActionsT := tensors.FromScalar(int32(numActions))

	return []*tensors.Tensor{boardFeatures, numBoardsT, actionsFeatures, actionsToBoardIdx, numActionsT}
}

// forwardGraph builds the value and (ragged) policy graphs sharing a board tower.
func (g *Gomlx) forwardGraph(ctx *context.Context, inputs []*Node) []*Node {
	boardFeatures, numBoards, actionsFeatures, actionsToBoardIdx, numActions := inputs[0], inputs[1], inputs[2], inputs[3], inputs[4]
	numPaddedBoards := boardFeatures.Shape().Dim(0)

	boardEmbed := g.embedding(ctx, boardFeatures, numBoards)
	actionsEmbed := g.embedding(ctx, actionsFeatures, numActions)

	values := g.valueHead(ctx, boardEmbed)

	actionsBoardEmbed := Gather(boardEmbed, actionsToBoardIdx)
	actionsEmbed = Concatenate([]*Node{actionsEmbed, actionsBoardEmbed}, -1)

	actionsCtx := ctx.In("actions")
	var actionsLogits *Node
	if context.GetParamOr(ctx, "kan", false) {
		actionsLogits = kan.New(actionsCtx.In("kan"), actionsEmbed, 1).Done()
	} else {
		actionsLogits = fnnLayer.New(actionsCtx.In("fnn"), actionsEmbed, 1).Done()
	}
	policyRagged := MakeRagged2D(numPaddedBoards, actionsLogits, actionsToBoardIdx).Softmax()
	return []*Node{values, policyRagged.Flat}
}

func (g *Gomlx) embedding(ctx *context.Context, features, numUsed *Node) *Node {
	ctx = ctx.In("board_tower")
	dim := context.GetParamOr(ctx, fnnLayer.ParamNumHiddenNodes, 64)
	var embed *Node
	if context.GetParamOr(ctx, "kan", false) {
		embed = kan.New(ctx.In("kan"), features, dim).Done()
	} else {
		embed = fnnLayer.New(ctx.In("fnn"), features, dim).Done()
	}
	if embed.Shape().Dim(0) == 1 {
		return embed
	}
	mask := g.mask(embed, numUsed)
	return Where(mask, embed, ZerosLike(embed))
}

func (g *Gomlx) valueHead(ctx *context.Context, boardEmbed *Node) *Node {
	ctx = ctx.In("value_head")
	var logits *Node
	if context.GetParamOr(ctx, "kan", false) {
		logits = kan.New(ctx.In("kan"), boardEmbed, 1).NumHiddenLayers(0, 0).Done()
	} else {
		logits = fnnLayer.New(ctx.In("fnn"), boardEmbed, 1).NumHiddenLayers(0, 0).Done()
	}
	return Tanh(logits)
}

func (g *Gomlx) mask(batch, numUsed *Node) *Node {
	gr := batch.Graph()
	batchSize := batch.Shape().Dim(0)
	return LessThan(Iota(gr, shapes.Make(dtypes.Int32, batchSize, 1), 0), numUsed)
}

// Evaluate implements Evaluator.
func (g *Gomlx) Evaluate(boards []board.Board) ([]Evaluation, error) {
	if len(boards) == 0 {
		return nil, nil
	}
	inputs := g.createInputs(boards)

	g.mu.RLock()
	defer g.mu.RUnlock()
	donated := generics.SliceMap(inputs, func(t *tensors.Tensor) any {
		return DonateTensorBuffer(t, backend())
	})
	outputs := g.exec.Call(donated...)
	valuesT, policyT := outputs[0], outputs[1]
	values := valuesT.Value().([]float32)

	// Policy comes back flattened across all (padded) actions; split per board.
	policyFlat := policyT.Value().([]float32)
	evals := make([]Evaluation, len(boards))
	offset := 0
	for i, b := range boards {
		n := b.NumActions()
		policy := make([]float32, n)
		copy(policy, policyFlat[offset:offset+n])
		evals[i] = Evaluation{Value: values[i], Policy: policy}
		offset += n
	}
	return evals, nil
}

// LoadCheckpoint implements Evaluator: it loads weights saved by an external trainer.
func (g *Gomlx) LoadCheckpoint(path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	checkpoint, err := checkpoints.Build(g.ctx).Dir(path).Done()
	if err != nil {
		return errors.Wrapf(err, "network: loading gomlx checkpoint %q", path)
	}
	g.checkpoint = checkpoint
	klog.V(1).Infof("network: loaded gomlx checkpoint from %s", path)
	return nil
}

func (g *Gomlx) String() string {
	if g.checkpoint == nil {
		return "Gomlx"
	}
	return "Gomlx@" + g.checkpoint.Dir()
}

var _ Evaluator = (*Gomlx)(nil)

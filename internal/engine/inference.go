package engine

import (
	"context"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/janpfeifer/zeroselfplay/internal/board"
	"github.com/janpfeifer/zeroselfplay/internal/network"
	"github.com/janpfeifer/zeroselfplay/internal/protocol"
)

// Inference owns one accelerator device and the network graph currently
// loaded on it. It repeatedly drains a batch of pending evaluation requests
// from its device's channels, runs one forward pass, and replies to each
// request on its own private reply port.
type Inference struct {
	id      int
	device  *deviceChannels
	startup struct {
		gpuBatchSize     int
		gpuBatchSizeRoot int
	}
	updatesCh chan<- protocol.GeneratorUpdate
}

// NewInference creates an Inference thread for one device, starting with the
// uniform-policy Dummy evaluator until the Commander pushes real weights.
func NewInference(id int, device *deviceChannels, gpuBatchSize, gpuBatchSizeRoot int, updatesCh chan<- protocol.GeneratorUpdate) *Inference {
	inf := &Inference{id: id, device: device, updatesCh: updatesCh}
	inf.startup.gpuBatchSize = gpuBatchSize
	inf.startup.gpuBatchSizeRoot = gpuBatchSizeRoot
	return inf
}

// Run executes the batching loop until ctx is cancelled or the device's
// request channel is closed (shutdown). Evaluator panics (device OOM, a lost
// device) are caught and returned as a fatal error; a recoverable graph-load
// problem never reaches this loop, since Commander validates a checkpoint
// before ever broadcasting it (see Commander.handleNewNetwork).
func (inf *Inference) Run(ctx context.Context) error {
	var ev network.Evaluator = network.NewDummy()
	klog.V(1).Infof("engine: inference %d starting with %s", inf.id, ev)

	for {
		select {
		case msg := <-inf.device.graphCh:
			ev = inf.applyGraphMsg(msg)
		default:
		}

		batch, err := drainBatch(ctx, inf.device.requestCh, inf.startup.gpuBatchSize)
		if err != nil {
			return nil // ctx cancelled: orderly shutdown.
		}
		if batch == nil {
			return nil // request channel closed: orderly shutdown.
		}
		if len(batch) > 0 {
			if err := inf.evaluateBatch(batch, ev); err != nil {
				return errors.Wrapf(err, "engine: inference %d", inf.id)
			}
		}

		if inf.device.rootRequestCh != nil {
			rootBatch, _ := drainBatchNonBlocking(inf.device.rootRequestCh, inf.startup.gpuBatchSizeRoot)
			if len(rootBatch) > 0 {
				if err := inf.evaluateBatch(rootBatch, ev); err != nil {
					return errors.Wrapf(err, "engine: inference %d (root batch)", inf.id)
				}
			}
		}
	}
}

// applyGraphMsg swaps in a new evaluator (or the dummy), per the spec's
// "between batches, non-blocking poll the graph channel" rule. Only this
// goroutine ever reads or writes its local evaluator, so no synchronization
// is needed for the swap itself.
func (inf *Inference) applyGraphMsg(msg graphMsg) network.Evaluator {
	switch msg.kind {
	case graphNew:
		klog.V(1).Infof("engine: inference %d switching to %s", inf.id, msg.eval)
		return msg.eval
	default:
		klog.V(1).Infof("engine: inference %d releasing device, falling back to dummy", inf.id)
		return network.NewDummy()
	}
}

// evaluateBatch encodes and scores one batch, replying to every request in
// positional order (response i corresponds to input i).
func (inf *Inference) evaluateBatch(batch []*evalRequest, ev network.Evaluator) error {
	boards := make([]board.Board, len(batch))
	for i, req := range batch {
		boards[i] = req.b
	}

	var evals []network.Evaluation
	var evalErr error
	err := exceptions.TryCatch[error](func() {
		evals, evalErr = ev.Evaluate(boards)
	})
	if err != nil {
		return errors.Wrapf(err, "device-level failure evaluating a batch of %d boards with %s", len(boards), ev)
	}
	if evalErr != nil {
		return errors.Wrapf(evalErr, "evaluator %s failed on a batch of %d boards", ev, len(boards))
	}
	if len(evals) != len(batch) {
		return errors.Errorf("evaluator %s returned %d evaluations for %d requests", ev, len(evals), len(batch))
	}

	for i, req := range batch {
		req.replyCh <- evals[i]
	}
	return nil
}

// drainBatch blocks until at least one request is available (or ctx is
// cancelled, or the channel is closed), then greedily drains up to n-1 more
// without blocking. A nil, nil return means the channel closed with nothing
// pending: the caller's shutdown signal.
func drainBatch(ctx context.Context, ch chan *evalRequest, n int) ([]*evalRequest, error) {
	select {
	case req, ok := <-ch:
		if !ok {
			return nil, nil
		}
		batch := []*evalRequest{req}
		return append(batch, drainNonBlockingUpTo(ch, n-1)...), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// drainBatchNonBlocking never blocks: it is used for the MuZero root-batch
// channel, which should not stall the step-batch loop it shares a thread
// with.
func drainBatchNonBlocking(ch chan *evalRequest, n int) ([]*evalRequest, error) {
	return drainNonBlockingUpTo(ch, n), nil
}

func drainNonBlockingUpTo(ch chan *evalRequest, n int) []*evalRequest {
	var batch []*evalRequest
	for len(batch) < n {
		select {
		case req, ok := <-ch:
			if !ok {
				return batch
			}
			batch = append(batch, req)
		default:
			return batch
		}
	}
	return batch
}

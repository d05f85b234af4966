// Package engine wires together the four long-lived worker classes described
// in the design notes -- Executor, Inference, Collector, Commander -- plus the
// Orchestrator that spawns and joins them. Nothing in this package knows the
// rules of any specific game (see internal/board and internal/game) or how a
// network scores a position (see internal/network); it only owns the
// channels, goroutines and shutdown sequencing that move boards and
// evaluations between them.
package engine

import (
	"github.com/janpfeifer/zeroselfplay/internal/board"
	"github.com/janpfeifer/zeroselfplay/internal/network"
)

// evalRequest is the unit of work an Executor hands to an Inference thread:
// a board snapshot plus a private reply port, per the data model's
// "Evaluation Request" record. replyCh is buffered to size 1 so Inference
// never blocks handing back a result, even if the requesting Executor slot
// has already given up (e.g. on shutdown).
type evalRequest struct {
	b       board.Board
	replyCh chan network.Evaluation
}

func newEvalRequest(b board.Board) *evalRequest {
	return &evalRequest{b: b, replyCh: make(chan network.Evaluation, 1)}
}

// graphKind tags the Graph Message union from the data model: either new
// weights, or "go back to the uniform-policy dummy".
type graphKind int

const (
	graphNew graphKind = iota
	graphDummy
)

// graphMsg is what Commander broadcasts to every Inference thread's
// capacity-1 graph channel.
type graphMsg struct {
	kind graphKind
	eval network.Evaluator // only set when kind == graphNew
}

// deviceChannels groups the channels one accelerator device's Inference
// thread reads from. rootRequestCh is only non-nil for MuZero runs, where the
// very first evaluation of a fresh tree (the root) is batched separately
// from in-tree step evaluations, per the data model's root-batch path.
type deviceChannels struct {
	id            int
	requestCh     chan *evalRequest
	rootRequestCh chan *evalRequest
	graphCh       chan graphMsg
}

// sendLatest delivers v on a capacity-1 channel with last-write-wins
// semantics: if a value is already pending, it is discarded in favor of v.
// This is how Commander broadcasts RuntimeSettings and Graph messages
// without ever blocking on a slow or busy consumer.
func sendLatest[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	// Channel was full: drop the stale pending value, then deliver v. A
	// concurrent receiver may have drained it between the two selects; in
	// that case the second send below still succeeds since the channel is
	// capacity 1 and now empty.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
		// Extremely unlikely race (another sender won); the receiver will
		// still observe the most recent of the two values next poll.
	}
}

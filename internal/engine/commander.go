package engine

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/janpfeifer/zeroselfplay/internal/network"
	"github.com/janpfeifer/zeroselfplay/internal/protocol"
)

// NetworkLoader builds a fresh Evaluator from a checkpoint path. It is
// supplied by the Orchestrator (which knows, from StartupSettings.GameParams,
// which backend -- linear, gomlx, ... -- this run uses) and invoked by the
// Commander exactly once per NewNetwork command, off the hot path.
type NetworkLoader func(path string) (network.Evaluator, error)

// Commander reads framed commands from the control connection's read half
// and fans them out: RuntimeSettings to every Executor, Graph messages to
// every Inference thread, Pong/Error replies relayed through the Collector
// (the sole owner of the connection's write half).
type Commander struct {
	reader *protocol.Reader
	loader NetworkLoader

	executors []*Executor
	devices   []*deviceChannels
	updates   chan<- protocol.GeneratorUpdate
}

// NewCommander creates a Commander reading subsequent commands from reader --
// the same *protocol.Reader the Orchestrator used to read the initial
// StartupSettings frame, so no buffered bytes are lost.
func NewCommander(reader *protocol.Reader, loader NetworkLoader, executors []*Executor, devices []*deviceChannels, updates chan<- protocol.GeneratorUpdate) *Commander {
	return &Commander{
		reader:    reader,
		loader:    loader,
		executors: executors,
		devices:   devices,
		updates:   updates,
	}
}

// Run reads commands until the connection closes (orderly shutdown, returns
// nil), a Stop command arrives (also orderly shutdown, returns nil), or a
// protocol violation occurs (fatal, returns an error).
func (c *Commander) Run(ctx context.Context) error {
	for {
		cmd, err := c.reader.ReadCommand()
		if err != nil {
			if errors.Is(err, io.EOF) {
				klog.V(1).Infof("engine: commander connection closed, shutting down")
				return nil
			}
			return errors.Wrap(err, "engine: commander reading command")
		}

		switch cmd.Kind {
		case protocol.CmdStartupSettings:
			return errors.New("engine: commander: StartupSettings is only valid as the first message")

		case protocol.CmdNewSettings:
			klog.V(1).Infof("engine: commander broadcasting new runtime settings: %+v", cmd.Runtime)
			for _, ex := range c.executors {
				sendLatest(ex.SettingsChan(), cmd.Runtime)
			}

		case protocol.CmdNewNetwork:
			c.handleNewNetwork(ctx, cmd.NetworkPath)

		case protocol.CmdWaitForNewNetwork:
			// Broadcasts above are synchronous sends on capacity-1 channels,
			// so by the time handleNewNetwork (or a prior one) returns, the
			// new graph is already enqueued for every Inference thread; a
			// Pong here is an honest acknowledgement that it was delivered.
			c.reply(ctx, protocol.GeneratorUpdate{Kind: protocol.UpdPong})

		case protocol.CmdPing:
			c.reply(ctx, protocol.GeneratorUpdate{Kind: protocol.UpdPong})

		case protocol.CmdStop:
			klog.V(1).Infof("engine: commander received Stop, shutting down")
			return nil

		default:
			return errors.Errorf("engine: commander: unknown command kind %d", cmd.Kind)
		}
	}
}

// handleNewNetwork loads path off the hot path and broadcasts the result. A
// load failure is a recoverable Inference error (spec §7): it is reported
// and every Inference thread falls back to the dummy evaluator rather than
// being left running stale weights.
func (c *Commander) handleNewNetwork(ctx context.Context, path string) {
	ev, err := c.loader(path)
	if err != nil {
		klog.Errorf("engine: commander: loading network %q failed: %v", path, err)
		c.reply(ctx, protocol.GeneratorUpdate{Kind: protocol.UpdError, ErrorMsg: errors.Wrapf(err, "loading network %q", path).Error()})
		for _, d := range c.devices {
			sendLatest(d.graphCh, graphMsg{kind: graphDummy})
		}
		return
	}
	klog.V(1).Infof("engine: commander broadcasting new network %q (%s)", path, ev)
	for _, d := range c.devices {
		sendLatest(d.graphCh, graphMsg{kind: graphNew, eval: ev})
	}
}

// reply relays a GeneratorUpdate through the Collector, the sole owner of
// the control connection's write half.
func (c *Commander) reply(ctx context.Context, u protocol.GeneratorUpdate) {
	select {
	case c.updates <- u:
	case <-ctx.Done():
	}
}

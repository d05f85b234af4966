package engine

import (
	"context"
	"net"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/janpfeifer/zeroselfplay/internal/game"
	"github.com/janpfeifer/zeroselfplay/internal/network"
	"github.com/janpfeifer/zeroselfplay/internal/parameters"
	"github.com/janpfeifer/zeroselfplay/internal/protocol"
	"github.com/janpfeifer/zeroselfplay/internal/settings"
)

// Orchestrator owns the lifecycle of a single run: it opens the control
// socket, accepts exactly one client, waits for the StartupSettings
// handshake, spawns every worker it describes, and joins them all on
// shutdown.
//
// Go has no equivalent of "drop every sender handle to signal shutdown" that
// is safe when a channel has more than one writer (multiple Executors share
// one device's request channel and the Collector's update channel; closing a
// channel out from under a concurrent sender panics). The Go-idiomatic
// translation kept here is a single context cancelled at the first sign of
// shutdown -- Commander returning (Stop or a closed connection), a fatal
// worker error, or the caller's own ctx -- which every blocking select in
// this package already watches alongside its channel operations.
type Orchestrator struct {
	// Addr is the TCP address to listen on, e.g. ":4377" or ":0" for tests
	// that need an ephemeral port.
	Addr string

	// Devices overrides the device list from StartupSettings, mainly for
	// tests; empty means "use StartupSettings.Devices, or a single device 0
	// if that is empty too".
	Devices []int
}

// Run opens the control socket, accepts one client, and blocks until the run
// shuts down (cleanly, returning nil, or fatally, returning the aggregated
// worker errors).
func (o *Orchestrator) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", o.Addr)
	if err != nil {
		return errors.Wrapf(err, "engine: listening on %q", o.Addr)
	}
	defer ln.Close()
	klog.V(1).Infof("engine: orchestrator listening on %s", ln.Addr())

	conn, err := ln.Accept()
	if err != nil {
		return errors.Wrap(err, "engine: accepting control connection")
	}
	defer conn.Close()

	reader := protocol.NewReader(conn)
	first, err := reader.ReadCommand()
	if err != nil {
		return errors.Wrap(err, "engine: reading first control message")
	}
	if first.Kind != protocol.CmdStartupSettings {
		writeProtocolError(conn, "first message must be StartupSettings")
		return errors.Errorf("engine: first message was kind %d, not StartupSettings", first.Kind)
	}
	startup := first.Startup
	if err := startup.Validate(); err != nil {
		writeProtocolError(conn, err.Error())
		return errors.Wrap(err, "engine: invalid startup settings")
	}

	binding, err := game.Lookup(startup.Game)
	if err != nil {
		writeProtocolError(conn, err.Error())
		return errors.Wrap(err, "engine: resolving game binding")
	}

	loader, err := newNetworkLoader(binding, startup.GameParams)
	if err != nil {
		writeProtocolError(conn, err.Error())
		return errors.Wrap(err, "engine: building network loader")
	}

	devices := o.Devices
	if len(devices) == 0 {
		devices = startup.Devices
	}
	if len(devices) == 0 {
		// Redesign per SPEC_FULL.md §5: Go's CPU-first accelerator story has
		// no notion of "all available CUDA devices"; a single logical device
		// backed by whatever backends.New() resolves to (CPU, if nothing
		// else is configured) stands in for the original's device-discovery
		// loop.
		devices = []int{0}
	}

	controlWriter := protocol.NewWriter(conn)
	totalCPUThreads := len(devices) * startup.CPUThreadsPerDevice
	collector := NewCollector(startup.OutputDir, startup.Game, startup.GamesPerShard, startup.FirstShardIndex, totalCPUThreads, controlWriter)

	var deviceChans []*deviceChannels
	var executors []*Executor
	var inferences []*Inference
	executorID := 0
	for _, devID := range devices {
		dc := &deviceChannels{
			id:        devID,
			requestCh: make(chan *evalRequest, startup.GPUBatchSize*2),
			graphCh:   make(chan graphMsg, 1),
		}
		if startup.Algorithm == settings.MuZero {
			dc.rootRequestCh = make(chan *evalRequest, startup.GPUBatchSizeRoot*2)
		}
		deviceChans = append(deviceChans, dc)
		inferences = append(inferences, NewInference(devID, dc, startup.GPUBatchSize, startup.GPUBatchSizeRoot, collector.Updates()))

		for i := 0; i < startup.CPUThreadsPerDevice; i++ {
			executors = append(executors, NewExecutor(executorID, binding, startup, dc, collector.Updates()))
			executorID++
		}
	}

	commander := NewCommander(reader, loader, executors, deviceChans, collector.Updates())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	var errs *multierror.Error
	record := func(who string, err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs = multierror.Append(errs, errors.Wrap(err, who))
		mu.Unlock()
	}

	var eg errgroup.Group
	eg.Go(func() error {
		err := commander.Run(runCtx)
		record("commander", err)
		// Whether Stop, a closed connection, or a protocol error: the
		// commander returning always begins shutdown of everything else.
		cancel()
		return nil
	})
	eg.Go(func() error {
		err := collector.Run(runCtx)
		record("collector", err)
		cancel()
		return nil
	})
	for _, inf := range inferences {
		inf := inf
		eg.Go(func() error {
			err := inf.Run(runCtx)
			record("inference", err)
			if err != nil {
				cancel()
			}
			return nil
		})
	}
	for _, ex := range executors {
		ex := ex
		eg.Go(func() error {
			err := ex.Run(runCtx)
			record("executor", err)
			if err != nil {
				cancel()
			}
			return nil
		})
	}

	_ = eg.Wait() // individual goroutines never return an error themselves; see record above.
	return errs.ErrorOrNil()
}

// writeProtocolError best-effort notifies the client of a fatal protocol or
// configuration error before the connection is torn down.
func writeProtocolError(conn net.Conn, msg string) {
	w := protocol.NewWriter(conn)
	if err := w.WriteUpdate(protocol.GeneratorUpdate{Kind: protocol.UpdError, ErrorMsg: msg}); err != nil {
		klog.Errorf("engine: failed writing protocol error to client: %v", err)
	}
}

// newNetworkLoader builds the NetworkLoader for this run's chosen backend,
// selected via the "network" game parameter ("gomlx" by default, or
// "linear" for the dependency-free baseline). "dummy" is accepted too, and
// always fails to load -- useful for tests that only want the Commander's
// fallback-to-dummy path to be exercised.
func newNetworkLoader(binding game.Binding, params parameters.Params) (NetworkLoader, error) {
	backend, err := parameters.PopParamOr(params, "network", "gomlx")
	if err != nil {
		return nil, errors.Wrap(err, "engine: parsing \"network\" game parameter")
	}
	switch backend {
	case "gomlx":
		return func(path string) (network.Evaluator, error) {
			ev := network.NewGomlx(binding.Mapper)
			if err := ev.LoadCheckpoint(path); err != nil {
				return nil, err
			}
			return ev, nil
		}, nil
	case "linear":
		return func(path string) (network.Evaluator, error) {
			ev := network.NewLinear(binding.Mapper)
			if err := ev.LoadCheckpoint(path); err != nil {
				return nil, err
			}
			return ev, nil
		}, nil
	case "dummy":
		return func(string) (network.Evaluator, error) {
			return nil, errors.New("engine: the dummy backend has no checkpoints to load")
		}, nil
	default:
		return nil, errors.Errorf("engine: unknown network backend %q", backend)
	}
}

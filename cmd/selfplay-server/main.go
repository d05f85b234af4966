// Command selfplay-server runs the self-play data-generation engine: it
// listens for one control connection, accepts a StartupSettings handshake,
// and then continuously plays games against itself, guided by whichever
// network the control connection pushes in, streaming the resulting
// (position, search-policy, outcome) records to binary shards on disk.
package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"time"

	"k8s.io/klog/v2"

	_ "github.com/janpfeifer/zeroselfplay/internal/game/hive"
	_ "github.com/janpfeifer/zeroselfplay/internal/game/trivial"

	"github.com/janpfeifer/zeroselfplay/internal/engine"
	"github.com/janpfeifer/zeroselfplay/internal/profilers"
	"github.com/janpfeifer/zeroselfplay/internal/ui/spinning"
)

// intsFlag implements flag.Value for a repeatable --device <int> flag.
type intsFlag []int

func (f *intsFlag) String() string {
	return fmt.Sprint([]int(*f))
}

func (f *intsFlag) Set(value string) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid --device value %q: %w", value, err)
	}
	*f = append(*f, v)
	return nil
}

var (
	flagPort    = flag.Int("port", 4377, "TCP port the control connection is accepted on.")
	flagDevices intsFlag
)

func init() {
	flag.Var(&flagDevices, "device", "Accelerator device index to use; repeat for multiple devices. "+
		"If unset, the value sent by the client's StartupSettings is used, falling back to a single device 0.")
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	spinning.SafeInterrupt(cancel, 5*time.Second)
	defer cancel()

	profilers.Setup(ctx)
	defer profilers.OnQuit()

	o := &engine.Orchestrator{
		Addr:    fmt.Sprintf(":%d", *flagPort),
		Devices: flagDevices,
	}
	if err := o.Run(ctx); err != nil {
		klog.Fatalf("selfplay-server: fatal error: %v", err)
	}
	klog.Infof("selfplay-server: shut down cleanly")
}

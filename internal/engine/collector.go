package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/janpfeifer/zeroselfplay/internal/protocol"
	"github.com/janpfeifer/zeroselfplay/internal/shard"
)

// throughputInterval is how often the Collector emits a Throughput update.
const throughputInterval = time.Second

// throughputSmoothing is the exponential-smoothing factor applied to each
// tick's instantaneous rate: closer to 1 tracks the latest tick more
// tightly, closer to 0 favors the running average.
const throughputSmoothing = 0.3

// Collector consumes the single stream of GeneratorUpdate messages the spec
// describes: Executors' Simulation/StartedSimulation/Progress traffic, plus
// Pong/Error messages the Commander asks it to relay (it alone owns the
// control connection's write half, per the concurrency model in spec §5).
type Collector struct {
	dir           string
	game          string
	gamesPerShard int
	generation    int

	updatesCh chan protocol.GeneratorUpdate
	out       *protocol.Writer
}

// NewCollector creates a Collector that will lazily open its first shard, at
// firstGeneration, on the first simulation it receives, and accept updates on
// a channel of the given capacity (spec: total_cpu_threads). out is the
// control connection's write half; the Collector is its sole owner.
func NewCollector(dir, game string, gamesPerShard, firstGeneration, channelCapacity int, out *protocol.Writer) *Collector {
	return &Collector{
		dir:           dir,
		game:          game,
		gamesPerShard: gamesPerShard,
		generation:    firstGeneration,
		updatesCh:     make(chan protocol.GeneratorUpdate, channelCapacity),
		out:           out,
	}
}

// Updates returns the channel Executors (and the Commander, for Pong/Error
// passthrough) send GeneratorUpdate messages on.
func (c *Collector) Updates() chan<- protocol.GeneratorUpdate {
	return c.updatesCh
}

// Run consumes updates and writes shards until it sees an UpdDone message or
// ctx is cancelled. Either way, if a shard is currently open it is sealed
// with whatever simulations were received so far -- a partial final shard is
// always sealed, never discarded (see DESIGN.md's open-question decision).
// No shard is ever opened, and none is sealed, for a generation that never
// received a single simulation: shard indices stay contiguous and every
// sealed shard is non-empty.
func (c *Collector) Run(ctx context.Context) error {
	var w *shard.Writer
	defer func() {
		if w == nil {
			return
		}
		if sealErr := w.Seal(); sealErr != nil {
			klog.Errorf("engine: collector failed to seal shard on exit: %v", sealErr)
		}
	}()

	ticker := time.NewTicker(throughputInterval)
	defer ticker.Stop()

	var gamesRate, movesRate, evalsRate float64
	var games, moves, evals int64
	lastTick := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			elapsed := time.Since(lastTick).Seconds()
			lastTick = time.Now()
			if elapsed <= 0 {
				continue
			}
			gamesRate = smooth(gamesRate, float64(games)/elapsed)
			movesRate = smooth(movesRate, float64(moves)/elapsed)
			evalsRate = smooth(evalsRate, float64(evals)/elapsed)
			games, moves, evals = 0, 0, 0
			if err := c.out.WriteUpdate(protocol.GeneratorUpdate{
				Kind: protocol.UpdThroughput,
				Throughput: protocol.Throughput{
					GamesPerSec:       gamesRate,
					MovesPerSec:       movesRate,
					EvaluationsPerSec: evalsRate,
				},
			}); err != nil {
				return errors.Wrap(err, "engine: collector writing throughput")
			}

		case upd, ok := <-c.updatesCh:
			if !ok {
				return nil
			}
			switch upd.Kind {
			case protocol.UpdSimulation:
				if w == nil {
					var err error
					w, err = shard.NewWriter(c.dir, c.game, c.generation)
					if err != nil {
						return errors.Wrap(err, "engine: collector opening shard")
					}
				}
				if err := w.Append(upd.Simulation); err != nil {
					return errors.Wrap(err, "engine: collector appending simulation")
				}
				games++
				if w.Count() >= c.gamesPerShard {
					if err := w.Seal(); err != nil {
						return errors.Wrap(err, "engine: collector sealing shard")
					}
					c.generation++
					w = nil
				}

			case protocol.UpdProgress:
				moves += upd.Progress.Moves
				evals += upd.Progress.Evaluations

			case protocol.UpdStartedSimulation:
				// No durable effect; only the eventual Simulation is recorded.

			case protocol.UpdPong, protocol.UpdError:
				if err := c.out.WriteUpdate(upd); err != nil {
					return errors.Wrap(err, "engine: collector relaying update")
				}

			case protocol.UpdDone:
				return nil

			default:
				return errors.Errorf("engine: collector received unknown update kind %d", upd.Kind)
			}
		}
	}
}

func smooth(prev, instant float64) float64 {
	return throughputSmoothing*instant + (1-throughputSmoothing)*prev
}

// Package shard implements the training-corpus file format the Collector
// writes: a binary file of concatenated length-prefixed simulation records
// plus a JSON sidecar of metadata, one pair per generation.
package shard

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/janpfeifer/zeroselfplay/internal/protocol"
)

// SchemaVersion identifies the sidecar/binary record layout.
const SchemaVersion = 1

// Sidecar is the JSON metadata written alongside a shard's binary file.
type Sidecar struct {
	ShardUUID     string  `json:"shard_uuid"`
	Game          string  `json:"game"`
	SchemaVersion int     `json:"schema_version"`
	Generation    int     `json:"generation"`
	Offsets       []int64 `json:"offsets"`
}

func binPath(dir string, generation int) string {
	return filepath.Join(dir, shardBasename(generation)+".bin")
}

func jsonPath(dir string, generation int) string {
	return filepath.Join(dir, shardBasename(generation)+".json")
}

func shardBasename(generation int) string {
	return "games_" + strconv.Itoa(generation)
}

// Writer accumulates Simulations for one generation and seals them into a
// shard on Seal. A new Writer must be created for each generation.
type Writer struct {
	dir        string
	game       string
	generation int

	f          *os.File
	offsets    []int64
	nextOffset int64
	count      int
}

// NewWriter opens (creating if needed) the binary file for dir/generation
// and prepares to append simulations to it.
func NewWriter(dir, game string, generation int) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "shard: creating output directory %q", dir)
	}
	f, err := os.OpenFile(binPath(dir, generation), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "shard: opening shard file for generation %d", generation)
	}
	return &Writer{dir: dir, game: game, generation: generation, f: f}, nil
}

// Append gob-encodes sim and writes it as a length-prefixed record.
func (w *Writer) Append(sim protocol.Simulation) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&sim); err != nil {
		return errors.Wrap(err, "shard: encoding simulation")
	}
	body := buf.Bytes()

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body)))
	if _, err := w.f.Write(lenPrefix[:]); err != nil {
		return errors.Wrap(err, "shard: writing record length")
	}
	if _, err := w.f.Write(body); err != nil {
		return errors.Wrap(err, "shard: writing record body")
	}

	w.offsets = append(w.offsets, w.nextOffset)
	w.nextOffset += int64(len(lenPrefix)) + int64(len(body))
	w.count++
	return nil
}

// Count returns the number of simulations appended so far.
func (w *Writer) Count() int { return w.count }

// Seal flushes the binary file and writes the JSON sidecar. Called both when
// games_per_shard is reached and, on shutdown, with whatever simulations
// were received so far -- a partial shard is sealed, never discarded, so
// that no completed simulation is ever silently lost.
func (w *Writer) Seal() error {
	if err := w.f.Sync(); err != nil {
		return errors.Wrap(err, "shard: flushing shard file")
	}
	if err := w.f.Close(); err != nil {
		return errors.Wrap(err, "shard: closing shard file")
	}
	side := Sidecar{
		ShardUUID:     uuid.New().String(),
		Game:          w.game,
		SchemaVersion: SchemaVersion,
		Generation:    w.generation,
		Offsets:       w.offsets,
	}
	data, err := json.MarshalIndent(side, "", "  ")
	if err != nil {
		return errors.Wrap(err, "shard: marshaling sidecar")
	}
	if err := os.WriteFile(jsonPath(w.dir, w.generation), data, 0o644); err != nil {
		return errors.Wrap(err, "shard: writing sidecar")
	}
	klog.V(1).Infof("shard: sealed generation %d with %d simulations", w.generation, w.count)
	return nil
}

// ReadSidecar loads the JSON metadata for dir/generation.
func ReadSidecar(dir string, generation int) (Sidecar, error) {
	var side Sidecar
	data, err := os.ReadFile(jsonPath(dir, generation))
	if err != nil {
		return side, errors.Wrapf(err, "shard: reading sidecar for generation %d", generation)
	}
	if err := json.Unmarshal(data, &side); err != nil {
		return side, errors.Wrap(err, "shard: unmarshaling sidecar")
	}
	return side, nil
}

// ReadAll reads every simulation record from dir/generation's binary file, in
// order.
func ReadAll(dir string, generation int) ([]protocol.Simulation, error) {
	f, err := os.Open(binPath(dir, generation))
	if err != nil {
		return nil, errors.Wrapf(err, "shard: opening shard file for generation %d", generation)
	}
	defer f.Close()

	var sims []protocol.Simulation
	for {
		var lenPrefix [4]byte
		if _, err := io.ReadFull(f, lenPrefix[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, errors.Wrap(err, "shard: reading record length")
		}
		n := binary.BigEndian.Uint32(lenPrefix[:])
		body := make([]byte, n)
		if _, err := io.ReadFull(f, body); err != nil {
			return nil, errors.Wrap(err, "shard: reading record body")
		}
		var sim protocol.Simulation
		if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&sim); err != nil {
			return nil, errors.Wrap(err, "shard: decoding simulation")
		}
		sims = append(sims, sim)
	}
	return sims, nil
}

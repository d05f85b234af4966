// Package protocol implements the control-connection wire format: a 4-byte
// big-endian length prefix followed by a gob-encoded message, the same
// "cheap, native, no external schema" choice the teacher makes for match
// persistence in internal/state/state.go.
package protocol

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"

	"github.com/pkg/errors"

	"github.com/janpfeifer/zeroselfplay/internal/board"
	"github.com/janpfeifer/zeroselfplay/internal/settings"
)

// MaxFrameSize guards against a corrupt or malicious length prefix causing an
// unbounded allocation.
const MaxFrameSize = 64 << 20 // 64MB

// CommandKind tags the union carried by Command.
type CommandKind int

const (
	// CmdStartupSettings is only valid as the first command on a connection.
	CmdStartupSettings CommandKind = iota
	CmdNewSettings
	CmdNewNetwork
	CmdWaitForNewNetwork
	CmdStop
	CmdPing
)

// Command is the tagged union of messages a client may send to the
// Commander, per the control protocol.
type Command struct {
	Kind CommandKind

	Startup     settings.StartupSettings // CmdStartupSettings
	Runtime     settings.RuntimeSettings // CmdNewSettings
	NetworkPath string                   // CmdNewNetwork
}

// UpdateKind tags the union carried by GeneratorUpdate.
type UpdateKind int

const (
	UpdSimulation UpdateKind = iota
	UpdStartedSimulation
	UpdProgress
	UpdDone
	UpdPong
	UpdError
	UpdThroughput
)

// Position is one ply of training data inside a Simulation.
type Position struct {
	BoardFeatures     []float32
	PlayedAction      int
	VisitDistribution []float32

	// ZeroValue is the search-refined value estimate: the backed-up average
	// over the move's completed tree search (the "Zero" judgment).
	ZeroValue float32
	// NetValue is the network's own raw, unsearched value estimate for the
	// same position, captured before any further visits refine it.
	NetValue float32

	IsFullSearch bool
}

// Simulation is a completed game: its positions plus the final outcome.
type Simulation struct {
	Positions []Position
	Outcome   board.Outcome
}

// Progress reports coarse-grained liveness counters.
type Progress struct {
	Moves       int64
	Evaluations int64
}

// Throughput carries the Collector's exponentially-smoothed rate estimates.
type Throughput struct {
	GamesPerSec       float64
	MovesPerSec       float64
	EvaluationsPerSec float64
}

// GeneratorUpdate is the tagged union the Collector (and Commander, for
// Pong/Error) sends back over the control connection.
type GeneratorUpdate struct {
	Kind UpdateKind

	Simulation Simulation // UpdSimulation
	Progress   Progress   // UpdProgress
	Throughput Throughput // UpdThroughput
	ErrorMsg   string     // UpdError
}

// Writer frames and gob-encodes messages onto an underlying io.Writer. Each
// frame is encoded with its own gob.Encoder so that frames can be decoded
// independently of one another; not safe for concurrent use. Callers
// serialize writes themselves (Collector owns the write half of the control
// socket).
type Writer struct {
	w *bufio.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteCommand frames and writes a Command.
func (w *Writer) WriteCommand(c Command) error {
	return w.writeFramed(c)
}

// WriteUpdate frames and writes a GeneratorUpdate.
func (w *Writer) WriteUpdate(u GeneratorUpdate) error {
	return w.writeFramed(u)
}

func (w *Writer) writeFramed(v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return errors.Wrap(err, "protocol: encoding message")
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := w.w.Write(lenPrefix[:]); err != nil {
		return errors.Wrap(err, "protocol: writing length prefix")
	}
	if _, err := w.w.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "protocol: writing message body")
	}
	return w.w.Flush()
}

// Reader reads length-prefixed gob messages from an underlying io.Reader.
// Not safe for concurrent use; callers serialize reads themselves (Commander
// owns the read half of the control socket).
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadCommand reads and decodes one framed Command. Returns io.EOF (wrapped
// by callers as a shutdown signal, not an error) when the connection closes
// cleanly between frames.
func (r *Reader) ReadCommand() (Command, error) {
	var c Command
	body, err := r.readFrame()
	if err != nil {
		return c, err
	}
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&c); err != nil {
		return c, errors.Wrap(err, "protocol: decoding command")
	}
	return c, nil
}

// ReadUpdate reads and decodes one framed GeneratorUpdate.
func (r *Reader) ReadUpdate() (GeneratorUpdate, error) {
	var u GeneratorUpdate
	body, err := r.readFrame()
	if err != nil {
		return u, err
	}
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&u); err != nil {
		return u, errors.Wrap(err, "protocol: decoding update")
	}
	return u, nil
}

func (r *Reader) readFrame() ([]byte, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r.r, lenPrefix[:]); err != nil {
		return nil, err // includes io.EOF on clean close
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > MaxFrameSize {
		return nil, errors.Errorf("protocol: frame size %d exceeds maximum %d", n, MaxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r.r, body); err != nil {
		return nil, errors.Wrap(err, "protocol: reading frame body")
	}
	return body, nil
}

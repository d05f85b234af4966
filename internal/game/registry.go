// Package game implements the generic dispatch shim described in the
// design notes: at startup the game identifier selects a concrete
// (Board, Mapper, StartPosFn) triple once, and every downstream component
// is parameterized by that triple from then on. The per-request dispatch
// cost is a single interface call, negligible next to a batch forward pass.
package game

import (
	"fmt"
	"sort"
	"sync"

	"github.com/janpfeifer/zeroselfplay/internal/board"
)

// Binding is the concrete (Board, Mapper, StartPosFn) triple for one game.
type Binding struct {
	// Name is the identifier used in StartupSettings.Game.
	Name string

	// StartPos builds a fresh board for a new match.
	StartPos board.StartPosFn

	// Mapper encodes boards of this game into network input features.
	Mapper board.Mapper
}

var (
	mu       sync.Mutex
	registry = map[string]Binding{}
)

// Register a game binding. Intended to be called from an init() function of
// the package implementing the game, e.g. internal/game/hive.
func Register(b Binding) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[b.Name]; exists {
		panic(fmt.Sprintf("game: duplicate registration for %q", b.Name))
	}
	registry[b.Name] = b
}

// Lookup returns the binding registered under name.
func Lookup(name string) (Binding, error) {
	mu.Lock()
	defer mu.Unlock()
	b, ok := registry[name]
	if !ok {
		return Binding{}, fmt.Errorf("game: unknown game %q (known: %v)", name, knownLocked())
	}
	return b, nil
}

// Known returns the sorted list of registered game identifiers.
func Known() []string {
	mu.Lock()
	defer mu.Unlock()
	return knownLocked()
}

func knownLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

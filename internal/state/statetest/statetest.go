// Package statetest provides helper functions to create tests using Hive state.
package statetest

import (
	"fmt"

	. "github.com/janpfeifer/zeroselfplay/internal/state"
)

// PieceOnBoard represents a position and ownership of a piece in the board.
type PieceOnBoard struct {
	Pos    Pos
	Player PlayerNum
	Piece  PieceType
}

// PrintBoard dumps a plain-text description of the board's occupied
// positions, for use in test failure messages. There is no terminal
// renderer in this repository (it has no interactive UI); this is
// deliberately minimal.
func PrintBoard(b *Board) {
	for _, pos := range b.OccupiedPositions() {
		player, piece, stacked := b.PieceAt(pos)
		fmt.Printf("  %s: player=%s piece=%s stacked=%v\n", pos, player, piece, stacked)
	}
}

// BuildBoard from a collection of pieces. Their positions may be in "display coordinates".
func BuildBoard(layout []PieceOnBoard, displayPos bool) (b *Board) {
	b = NewBoard()
	for _, p := range layout {
		pos := p.Pos
		if displayPos {
			pos = pos.FromDisplayPos()
		}
		b.StackPiece(pos, p.Player, p.Piece)
		b.SetAvailable(p.Player, p.Piece, b.Available(p.Player, p.Piece)-1)
	}
	return
}

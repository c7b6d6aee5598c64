// Package timeline holds the step-sequencer grid: one row per track, one
// column per fixed-length interval.
package timeline

import (
	"sync"
	"time"

	"github.com/satindergrewal/stemdeck/internal/audio"
)

const (
	Rows             = 10
	Columns          = 5
	IntervalDuration = 16 * time.Second
)

// Length is the total duration of a timeline render.
func Length() time.Duration { return Columns * IntervalDuration }

// IntervalStart returns the offset at which column col begins.
func IntervalStart(col int) time.Duration { return time.Duration(col) * IntervalDuration }

// Cells is a value copy of the grid.
type Cells [Rows][Columns]bool

// ActiveRows lists the rows enabled in column col.
func (c Cells) ActiveRows(col int) []int {
	var rows []int
	for r := 0; r < Rows; r++ {
		if c[r][col] {
			rows = append(rows, r)
		}
	}
	return rows
}

// Grid is a mutex-protected Cells.
type Grid struct {
	mu    sync.RWMutex
	cells Cells
}

// NewGrid returns an empty grid.
func NewGrid() *Grid { return &Grid{} }

func checkCell(row, col int) error {
	if row < 0 || row >= Rows || col < 0 || col >= Columns {
		return audio.InvalidRange("cell (%d, %d) outside the %dx%d grid", row, col, Rows, Columns)
	}
	return nil
}

// Toggle flips a cell and returns its new state.
func (g *Grid) Toggle(row, col int) (bool, error) {
	if err := checkCell(row, col); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cells[row][col] = !g.cells[row][col]
	return g.cells[row][col], nil
}

// Set assigns a cell.
func (g *Grid) Set(row, col int, on bool) error {
	if err := checkCell(row, col); err != nil {
		return err
	}
	g.mu.Lock()
	g.cells[row][col] = on
	g.mu.Unlock()
	return nil
}

// Active reports whether a cell is on.
func (g *Grid) Active(row, col int) (bool, error) {
	if err := checkCell(row, col); err != nil {
		return false, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cells[row][col], nil
}

// ActiveRows lists the rows enabled in column col.
func (g *Grid) ActiveRows(col int) ([]int, error) {
	if err := checkCell(0, col); err != nil {
		return nil, err
	}
	return g.Snapshot().ActiveRows(col), nil
}

// Snapshot returns a copy of every cell.
func (g *Grid) Snapshot() Cells {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cells
}

// Clear turns every cell off.
func (g *Grid) Clear() {
	g.mu.Lock()
	g.cells = Cells{}
	g.mu.Unlock()
}

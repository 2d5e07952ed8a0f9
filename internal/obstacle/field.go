// Package obstacle maintains the population of transient moving obstacles.
//
// Obstacles enter at a grid edge heading inward, walk one cell per advance,
// occasionally turn, and vanish once their next cell is off the grid. They
// never enter Structure cells and ignore each other and agents.
package obstacle

import (
	"fmt"

	"github.com/KirkDiggler/rpg-toolkit/dice"

	"courier_grid/internal/chance"
	"courier_grid/internal/domain"
)

type Grid interface {
	Size() int
	InBounds(c domain.Cell) bool
	Classify(c domain.Cell) domain.CellKind
}

type Config struct {
	// TurnPercent is the chance per advance of re-picking a direction.
	// Zero means the default of 20; a negative value disables turning.
	TurnPercent int
}

func (c Config) withDefaults() Config {
	if c.TurnPercent == 0 {
		c.TurnPercent = 20
	}
	if c.TurnPercent > 100 {
		c.TurnPercent = 100
	}
	return c
}

// Field is not safe for concurrent use; the simulation engine serializes access.
type Field struct {
	grid      Grid
	roller    dice.Roller
	cfg       Config
	obstacles []domain.Obstacle
	nextID    int
}

func NewField(grid Grid, roller dice.Roller, cfg Config) *Field {
	return &Field{
		grid:   grid,
		roller: chance.OrDefault(roller),
		cfg:    cfg.withDefaults(),
	}
}

type entry struct {
	cell domain.Cell
	dirs []domain.Direction
}

// edgeEntries lists perimeter cells that are not Structure, each with its inward directions.
func (f *Field) edgeEntries() []entry {
	n := f.grid.Size()
	var out []entry
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			var dirs []domain.Direction
			if x == 0 {
				dirs = append(dirs, domain.DirRight)
			}
			if x == n-1 {
				dirs = append(dirs, domain.DirLeft)
			}
			if y == 0 {
				dirs = append(dirs, domain.DirDown)
			}
			if y == n-1 {
				dirs = append(dirs, domain.DirUp)
			}
			if len(dirs) == 0 {
				continue
			}
			c := domain.Cell{X: x, Y: y}
			if f.grid.Classify(c) == domain.CellStructure {
				continue
			}
			out = append(out, entry{cell: c, dirs: dirs})
		}
	}
	return out
}

// Spawn places one obstacle on a random edge cell heading inward. It returns
// false when every edge cell is a structure.
func (f *Field) Spawn() (domain.Obstacle, bool, error) {
	entries := f.edgeEntries()
	if len(entries) == 0 {
		return domain.Obstacle{}, false, nil
	}
	i, err := chance.Index(f.roller, len(entries))
	if err != nil {
		return domain.Obstacle{}, false, fmt.Errorf("pick edge cell: %w", err)
	}
	e := entries[i]
	d, err := chance.Index(f.roller, len(e.dirs))
	if err != nil {
		return domain.Obstacle{}, false, fmt.Errorf("pick inward direction: %w", err)
	}
	f.nextID++
	o := domain.Obstacle{
		ID:       f.nextID,
		Cell:     e.cell,
		Dir:      e.dirs[d],
		OverSite: f.grid.Classify(e.cell) == domain.CellSite,
	}
	f.obstacles = append(f.obstacles, o)
	return o, true, nil
}

// SpawnBurst spawns up to n obstacles and returns how many were placed.
func (f *Field) SpawnBurst(n int) (int, error) {
	placed := 0
	for i := 0; i < n; i++ {
		_, ok, err := f.Spawn()
		if err != nil {
			return placed, err
		}
		if !ok {
			break
		}
		placed++
	}
	return placed, nil
}

// Advance moves every obstacle one step. An obstacle whose next cell is off the
// grid is removed; one facing a Structure holds its cell and turns.
func (f *Field) Advance() error {
	kept := f.obstacles[:0]
	var firstErr error
	for _, o := range f.obstacles {
		turn, err := chance.Percent(f.roller, f.cfg.TurnPercent)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if turn {
			if d, err := f.randomDirection(); err == nil {
				o.Dir = d
			} else if firstErr == nil {
				firstErr = err
			}
		}

		next := o.Predicted()
		if !f.grid.InBounds(next) {
			continue
		}
		if f.grid.Classify(next) == domain.CellStructure {
			if d, err := f.randomDirection(); err == nil {
				o.Dir = d
			} else if firstErr == nil {
				firstErr = err
			}
			kept = append(kept, o)
			continue
		}
		o.Cell = next
		o.OverSite = f.grid.Classify(next) == domain.CellSite
		kept = append(kept, o)
	}
	clear(f.obstacles[len(kept):])
	f.obstacles = kept
	if firstErr != nil {
		return fmt.Errorf("advance obstacles: %w", firstErr)
	}
	return nil
}

func (f *Field) randomDirection() (domain.Direction, error) {
	i, err := chance.Index(f.roller, len(domain.Directions))
	if err != nil {
		return domain.Direction{}, err
	}
	return domain.Directions[i], nil
}

// Add inserts an obstacle as-is; used by editors and tests.
func (f *Field) Add(cell domain.Cell, dir domain.Direction) domain.Obstacle {
	f.nextID++
	o := domain.Obstacle{
		ID:       f.nextID,
		Cell:     cell,
		Dir:      dir,
		OverSite: f.grid.Classify(cell) == domain.CellSite,
	}
	f.obstacles = append(f.obstacles, o)
	return o
}

// ProximityCount counts, per obstacle, one for its current cell and one for its
// predicted next cell when each lies within Chebyshev radius of c.
func (f *Field) ProximityCount(c domain.Cell, radius int) int {
	count := 0
	for _, o := range f.obstacles {
		if o.Cell.Chebyshev(c) <= radius {
			count++
		}
		if o.Predicted().Chebyshev(c) <= radius {
			count++
		}
	}
	return count
}

func (f *Field) OccupiedBy(c domain.Cell) bool {
	for _, o := range f.obstacles {
		if o.Cell == c {
			return true
		}
	}
	return false
}

func (f *Field) PredictedAt(c domain.Cell) bool {
	for _, o := range f.obstacles {
		if o.Predicted() == c {
			return true
		}
	}
	return false
}

func (f *Field) Snapshot() []domain.Obstacle {
	out := make([]domain.Obstacle, len(f.obstacles))
	copy(out, f.obstacles)
	return out
}

func (f *Field) Len() int {
	return len(f.obstacles)
}

func (f *Field) Reset() {
	f.obstacles = nil
	f.nextID = 0
}

package world

import (
	"fmt"

	"github.com/KirkDiggler/rpg-toolkit/dice"

	"courier_grid/internal/chance"
	"courier_grid/internal/domain"
)

// Seed scatters hospitals and structures over random Empty cells. It stops early
// when the grid runs out of empty cells.
func Seed(g *Grid, roller dice.Roller, hospitals, structures int) error {
	roller = chance.OrDefault(roller)
	for i := 0; i < hospitals; i++ {
		c, ok, err := RandomEmptyCell(g, roller)
		if err != nil {
			return fmt.Errorf("seed hospital: %w", err)
		}
		if !ok {
			return nil
		}
		if _, err := g.PlaceHospital(c); err != nil {
			return fmt.Errorf("seed hospital: %w", err)
		}
	}
	for i := 0; i < structures; i++ {
		c, ok, err := RandomEmptyCell(g, roller)
		if err != nil {
			return fmt.Errorf("seed structure: %w", err)
		}
		if !ok {
			return nil
		}
		if err := g.PlaceStructure(c); err != nil {
			return fmt.Errorf("seed structure: %w", err)
		}
	}
	return nil
}

// RandomEmptyCell draws uniformly among Empty cells; ok is false when none remain.
func RandomEmptyCell(g *Grid, roller dice.Roller) (domain.Cell, bool, error) {
	empty := g.EmptyCells()
	if len(empty) == 0 {
		return domain.Cell{}, false, nil
	}
	i, err := chance.Index(roller, len(empty))
	if err != nil {
		return domain.Cell{}, false, err
	}
	return empty[i], true, nil
}

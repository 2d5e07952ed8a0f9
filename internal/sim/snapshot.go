package sim

import (
	"fmt"

	"courier_grid/internal/domain"
)

type Snapshot struct {
	Tick          int64              `json:"tick"`
	RunID         string             `json:"run_id"`
	Running       bool               `json:"running"`
	Size          int                `json:"size"`
	Agents        []domain.AgentView `json:"agents"`
	Obstacles     []domain.Obstacle  `json:"obstacles"`
	Sites         []domain.Site      `json:"sites"`
	Structures    []domain.Cell      `json:"structures"`
	ActiveOrigins []string           `json:"active_origins"`
	Stats         Stats              `json:"stats"`
}

// Snapshot copies the current world state; agents are listed in spawn order.
func (e *Engine) Snapshot() Snapshot {
	running := e.Running()

	e.mu.Lock()
	defer e.mu.Unlock()
	agents := make([]domain.AgentView, 0, len(e.order))
	for _, id := range e.order {
		a, ok := e.agents[id]
		if !ok {
			continue
		}
		agents = append(agents, domain.AgentView{
			TaskID:      a.task.ID,
			Origin:      a.task.Origin,
			Destination: a.task.Destination.Label,
			Cargo:       a.task.Cargo,
			Cell:        a.cell,
			Goal:        a.goal,
			Path:        append([]domain.Cell(nil), a.path...),
			Interval:    a.interval,
			Replans:     a.replans,
		})
	}
	return Snapshot{
		Tick:          e.tick,
		RunID:         e.runID,
		Running:       running,
		Size:          e.grid.Size(),
		Agents:        agents,
		Obstacles:     e.field.Snapshot(),
		Sites:         e.grid.Sites(),
		Structures:    e.grid.Structures(),
		ActiveOrigins: e.origins.Labels(),
		Stats:         e.stats,
	}
}

// PlaceSite is the editor's site placement. Hospitals belong to edit state and
// are refused while a run is live; remote sites may appear at any time.
func (e *Engine) PlaceSite(c domain.Cell, kind domain.SiteKind, label string) (domain.Site, error) {
	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()
	if kind != domain.SiteRemote && e.runningLocked() {
		return domain.Site{}, fmt.Errorf("place %s site: %w", kind, domain.ErrAlreadyRunning)
	}
	return e.grid.PlaceSite(c, kind, label)
}

// PlaceStructure is the editor's structure placement, refused while a run is live.
func (e *Engine) PlaceStructure(c domain.Cell) error {
	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()
	if e.runningLocked() {
		return fmt.Errorf("place structure: %w", domain.ErrAlreadyRunning)
	}
	return e.grid.PlaceStructure(c)
}

// AddObstacle places an obstacle directly, as the editor does.
func (e *Engine) AddObstacle(c domain.Cell, dir domain.Direction) (domain.Obstacle, error) {
	if !e.grid.InBounds(c) {
		return domain.Obstacle{}, domain.ErrOutOfBounds
	}
	if e.grid.Classify(c) == domain.CellStructure {
		return domain.Obstacle{}, domain.ErrCellOccupied
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.field.Add(c, dir), nil
}

package sim

import (
	"courier_grid/internal/domain"
	"courier_grid/internal/pathfind"
)

// advanceAgent applies the speed gate and, when the gate opens, tries one
// step along the planned path.
func (e *Engine) advanceAgent(a *agent) {
	congestion := e.field.ProximityCount(a.cell, e.cfg.SpeedRadius)
	switch {
	case congestion == 0:
		a.interval = e.cfg.FastInterval
	case congestion > e.cfg.CongestionThreshold:
		a.interval = e.cfg.SlowInterval
		e.replan(a, "congested")
	default:
		a.interval = e.cfg.BaseInterval
	}

	a.wait++
	if a.wait < a.interval {
		return
	}
	a.wait = 0

	if len(a.path) == 0 {
		e.replan(a, "no_path")
		return
	}
	next := a.path[0]
	if e.field.OccupiedBy(next) || e.field.PredictedAt(next) {
		e.stats.BlockedMoves++
		e.replan(a, "blocked")
		return
	}
	step := unitStep(a.cell, next)
	if !e.isValidMove(a, step) {
		e.stats.BlockedMoves++
		e.replan(a, "invalid_move")
		return
	}
	a.cell = step
	if a.cell == next {
		a.path = a.path[1:]
	}
	e.publish(domain.EventAgentMoved, a.task.ID, a.cell, "")
}

// replan swaps in a congestion-aware path. An empty result keeps the stale
// path and the agent simply waits.
func (e *Engine) replan(a *agent, reason string) {
	a.replans++
	e.stats.Replans++
	path := pathfind.CongestionAwarePath(e.grid, e.field, a.cell, a.goal, e.cfg.PathRadius)
	if len(path) > 0 {
		a.path = path
	}
	e.logger.Printf("tick=%d agent=%s replan reason=%s at=%s path_len=%d", e.tick, a.task.ID, reason, a.cell, len(a.path))
	e.publish(domain.EventAgentReplanned, a.task.ID, a.cell, reason)
}

func (e *Engine) isValidMove(a *agent, c domain.Cell) bool {
	if e.grid.Classify(c) == domain.CellStructure {
		return false
	}
	if e.field.OccupiedBy(c) {
		return false
	}
	for id, other := range e.agents {
		if id != a.task.ID && other.cell == c {
			return false
		}
	}
	return true
}

// unitStep moves at most one cell per axis toward target.
func unitStep(from, target domain.Cell) domain.Cell {
	return domain.Cell{X: from.X + sign(target.X-from.X), Y: from.Y + sign(target.Y-from.Y)}
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

package sim

import (
	"context"
	"fmt"

	"courier_grid/internal/domain"
	"courier_grid/internal/pathfind"
)

// intake spawns an agent for every open task that has none. Tasks naming an
// unknown site are rejected for this tick; tasks whose origin is busy wait.
func (e *Engine) intake(ctx context.Context) {
	tasks, err := e.store.ListUnassigned(ctx)
	if err != nil {
		e.logger.Printf("tick=%d list unassigned tasks error: %v", e.tick, err)
		return
	}
	for _, t := range tasks {
		if _, live := e.agents[t.ID]; live {
			continue
		}
		if t.Status == domain.TaskStatusCompleted {
			continue
		}
		origin, dest, err := e.resolve(t)
		if err != nil {
			e.reject(t, err)
			continue
		}
		delete(e.rejected, t.ID)

		if !e.origins.Acquire(origin.Label, t.ID) {
			e.stats.Deferred++
			continue
		}
		if err := e.store.MarkInProgress(ctx, t.ID); err != nil {
			e.origins.Release(origin.Label, t.ID)
			e.logger.Printf("tick=%d task=%s mark in progress error: %v", e.tick, t.ID, err)
			continue
		}

		path := pathfind.ShortestPath(e.grid, origin.Cell, dest.Cell)
		t.Status = domain.TaskStatusInProgress
		a := &agent{
			task:     t,
			cell:     origin.Cell,
			goal:     dest.Cell,
			path:     path,
			interval: e.cfg.FastInterval,
		}
		e.agents[t.ID] = a
		e.order = append(e.order, t.ID)
		e.stats.Spawned++
		e.logger.Printf("tick=%d agent=%s spawn origin=%s dest=%s cargo=%s path_len=%d",
			e.tick, t.ID, t.Origin, t.Destination, t.Cargo, len(path))
		e.publish(domain.EventAgentSpawned, t.ID, a.cell, "")
	}
}

func (e *Engine) resolve(t domain.Task) (domain.Site, domain.Site, error) {
	origin, err := e.grid.Resolve(t.Origin)
	if err != nil {
		return domain.Site{}, domain.Site{}, fmt.Errorf("origin: %w", err)
	}
	dest, err := e.grid.Resolve(t.Destination.Label)
	if err != nil {
		return domain.Site{}, domain.Site{}, fmt.Errorf("destination: %w", err)
	}
	if dest.Kind != t.Destination.Kind {
		return domain.Site{}, domain.Site{}, fmt.Errorf("destination %s is a %s site, task expects %s: %w",
			dest.Label, dest.Kind, t.Destination.Kind, domain.ErrUnknownSite)
	}
	return origin, dest, nil
}

// reject logs and reports a task once per distinct reason; it stays in the
// feed and is looked at again next tick.
func (e *Engine) reject(t domain.Task, err error) {
	reason := err.Error()
	if e.rejected[t.ID] == reason {
		return
	}
	e.rejected[t.ID] = reason
	e.stats.Rejected++
	e.logger.Printf("tick=%d task=%s rejected reason=%q", e.tick, t.ID, reason)
	e.publish(domain.EventTaskRejected, t.ID, domain.Cell{}, reason)
}

// arrive closes the task of an agent standing on its goal. If the store
// refuses, the agent stays and completion is retried next tick.
func (e *Engine) arrive(ctx context.Context, a *agent) {
	if err := e.store.MarkCompleted(ctx, a.task.ID); err != nil {
		e.logger.Printf("tick=%d agent=%s mark completed error: %v", e.tick, a.task.ID, err)
		return
	}
	e.origins.Release(a.task.Origin, a.task.ID)
	delete(e.agents, a.task.ID)
	e.stats.Completed++
	e.logger.Printf("tick=%d agent=%s arrived dest=%s replans=%d", e.tick, a.task.ID, a.task.Destination, a.replans)
	e.publish(domain.EventTaskCompleted, a.task.ID, a.cell, "")
}

package sim

import (
	"context"

	"courier_grid/internal/domain"
)

//go:generate mockgen -destination=mock/task_store.go -package=simmock -source=store.go

// TaskStore is the shared task feed. Implementations must make every call
// atomic with respect to concurrent writers.
type TaskStore interface {
	AppendPending(ctx context.Context, task domain.Task) error
	// ListUnassigned returns every task that is not Completed, oldest first.
	ListUnassigned(ctx context.Context) ([]domain.Task, error)
	MarkInProgress(ctx context.Context, taskID string) error
	MarkCompleted(ctx context.Context, taskID string) error
	ListTasks(ctx context.Context) ([]domain.Task, error)
	Reset(ctx context.Context) error
}

type Bus interface {
	Publish(ev domain.Event) error
}

// Producer feeds new tasks while a run is active. Run must return once ctx is done.
type Producer interface {
	Run(ctx context.Context)
}

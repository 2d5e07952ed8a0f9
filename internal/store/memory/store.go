// Package memory is the in-process task store used by tests and the
// simulate command.
package memory

import (
	"context"
	"fmt"
	"sync"

	"courier_grid/internal/domain"
)

type Store struct {
	mu    sync.Mutex
	tasks []domain.Task
	index map[string]int
}

func New() *Store {
	return &Store{index: make(map[string]int)}
}

func (s *Store) AppendPending(_ context.Context, task domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[task.ID]; ok {
		return fmt.Errorf("append %s: %w", task.ID, domain.ErrDuplicateTask)
	}
	if task.Status == "" {
		task.Status = domain.TaskStatusPending
	}
	s.index[task.ID] = len(s.tasks)
	s.tasks = append(s.tasks, task)
	return nil
}

// ListUnassigned returns every task that is not Completed, in append order.
func (s *Store) ListUnassigned(_ context.Context) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if t.Status != domain.TaskStatusCompleted {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) MarkInProgress(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("mark in progress %s: %w", id, domain.ErrTaskNotFound)
	}
	if s.tasks[i].Status == domain.TaskStatusPending {
		s.tasks[i].Status = domain.TaskStatusInProgress
	}
	return nil
}

func (s *Store) MarkCompleted(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("mark completed %s: %w", id, domain.ErrTaskNotFound)
	}
	s.tasks[i].Status = domain.TaskStatusCompleted
	return nil
}

func (s *Store) ListTasks(_ context.Context) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Task, len(s.tasks))
	copy(out, s.tasks)
	return out, nil
}

func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = nil
	s.index = make(map[string]int)
	return nil
}

// Package redis stores tasks as one hash per task plus an ordered id list.
// Status transitions run under WATCH/MULTI so concurrent writers never
// interleave a read-modify-write of the same task.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"courier_grid/internal/domain"
	"courier_grid/internal/feed"
)

const (
	defaultKeyPrefix = "courier:"
	maxTxRetries     = 8
	statusField      = "Status"
	updatedField     = "UpdatedAt"
)

type Config struct {
	Client    goredis.UniversalClient
	KeyPrefix string
	Logger    *log.Logger
}

func (c *Config) Validate() error {
	if c.Client == nil {
		return errors.New("redis client is required")
	}
	return nil
}

type Store struct {
	client goredis.UniversalClient
	prefix string
	logger *log.Logger
}

func New(cfg *Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Store{client: cfg.Client, prefix: prefix, logger: logger}, nil
}

// NewClient connects lazily to a single redis instance.
func NewClient(addr string) (goredis.UniversalClient, error) {
	if addr == "" {
		return nil, errors.New("redis: address is required")
	}
	return goredis.NewClient(&goredis.Options{Addr: addr}), nil
}

func (s *Store) listKey() string { return s.prefix + "tasks" }

func (s *Store) taskKey(id string) string { return s.prefix + "task:" + id }

func encodeHash(task domain.Task) map[string]any {
	row := feed.EncodeRecord(task)
	fields := make(map[string]any, len(row)+1)
	for i, name := range feed.Header {
		fields[name] = row[i]
	}
	fields[updatedField] = time.Now().UTC().UnixMilli()
	return fields
}

func decodeHash(fields map[string]string) (domain.Task, error) {
	row := make([]string, len(feed.Header))
	for i, name := range feed.Header {
		v, ok := fields[name]
		if !ok {
			return domain.Task{}, fmt.Errorf("%w: missing %s", domain.ErrMalformedRecord, name)
		}
		row[i] = v
	}
	return feed.DecodeRecord(row)
}

// watch runs fn under WATCH on key, retrying when another client touched it.
func (s *Store) watch(ctx context.Context, key string, fn func(*goredis.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("watch %s: %w", key, goredis.TxFailedErr)
}

func (s *Store) AppendPending(ctx context.Context, task domain.Task) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if task.Status == "" {
		task.Status = domain.TaskStatusPending
	}
	key := s.taskKey(task.ID)
	err := s.watch(ctx, key, func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("append task %s: %w", task.ID, domain.ErrDuplicateTask)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeHash(task))
			pipe.RPush(ctx, s.listKey(), task.ID)
			return nil
		})
		return err
	})
	if err != nil && !errors.Is(err, domain.ErrDuplicateTask) {
		return fmt.Errorf("append task: %w", err)
	}
	return err
}

func (s *Store) load(ctx context.Context) ([]domain.Task, error) {
	ids, err := s.client.LRange(ctx, s.listKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list task ids: %w", err)
	}
	if len(ids) == 0 {
		return []domain.Task{}, nil
	}
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	if _, err := s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.taskKey(id))
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	out := make([]domain.Task, 0, len(ids))
	for i, cmd := range cmds {
		t, err := decodeHash(cmd.Val())
		if err != nil {
			s.logger.Printf("event=task_row_skipped task=%s err=%v", ids[i], err)
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) ListTasks(ctx context.Context) ([]domain.Task, error) {
	return s.load(ctx)
}

// ListUnassigned returns tasks that are not Completed in append order.
func (s *Store) ListUnassigned(ctx context.Context) ([]domain.Task, error) {
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, t := range all {
		if t.Status != domain.TaskStatusCompleted {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) MarkInProgress(ctx context.Context, taskID string) error {
	return s.transition(ctx, taskID, domain.TaskStatusInProgress, domain.TaskStatusPending)
}

func (s *Store) MarkCompleted(ctx context.Context, taskID string) error {
	return s.transition(ctx, taskID, domain.TaskStatusCompleted, domain.TaskStatusPending, domain.TaskStatusInProgress)
}

func (s *Store) transition(ctx context.Context, taskID string, to domain.TaskStatus, from ...domain.TaskStatus) error {
	key := s.taskKey(taskID)
	err := s.watch(ctx, key, func(tx *goredis.Tx) error {
		current, err := tx.HGet(ctx, key, statusField).Result()
		if errors.Is(err, goredis.Nil) {
			return fmt.Errorf("mark %s %s: %w", to, taskID, domain.ErrTaskNotFound)
		}
		if err != nil {
			return err
		}
		allowed := false
		for _, f := range from {
			if domain.TaskStatus(current) == f {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, statusField, string(to), updatedField, time.Now().UTC().UnixMilli())
			return nil
		})
		return err
	})
	if err != nil && !errors.Is(err, domain.ErrTaskNotFound) {
		return fmt.Errorf("mark %s: %w", to, err)
	}
	return err
}

func (s *Store) Reset(ctx context.Context) error {
	ids, err := s.client.LRange(ctx, s.listKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("reset list ids: %w", err)
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.taskKey(id))
	}
	keys = append(keys, s.listKey())
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("reset tasks: %w", err)
	}
	return nil
}

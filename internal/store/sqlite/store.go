package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"courier_grid/internal/domain"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL,
	cargo TEXT NOT NULL,
	origin TEXT NOT NULL,
	destination TEXT NOT NULL,
	status TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, seq);

CREATE TABLE IF NOT EXISTS task_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	task_id TEXT NOT NULL,
	cell_x INTEGER NOT NULL,
	cell_y INTEGER NOT NULL,
	tick INTEGER NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_events_task ON task_events(task_id, id);
`

type Store struct {
	db     *sql.DB
	logger *log.Logger
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Store{db: db, logger: log.Default()}, nil
}

// SetLogger replaces the logger used to report skipped rows.
func (s *Store) SetLogger(logger *log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *Store) AppendPending(ctx context.Context, task domain.Task) error {
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.Status == "" {
		task.Status = domain.TaskStatusPending
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO tasks(id, created_at, cargo, origin, destination, status, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		task.ID, task.CreatedAt.UnixMilli(), task.Cargo, task.Origin, task.Destination.Label,
		string(task.Status), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("append task %s: %w", task.ID, domain.ErrDuplicateTask)
	}
	return nil
}

// ListUnassigned returns tasks that are not Completed in insertion order.
// Rows with unparseable fields are skipped and picked up again once repaired.
func (s *Store) ListUnassigned(ctx context.Context) ([]domain.Task, error) {
	return s.queryTasks(ctx, "list unassigned tasks",
		`SELECT id, created_at, cargo, origin, destination, status
		FROM tasks WHERE status <> ? ORDER BY seq ASC`,
		string(domain.TaskStatusCompleted),
	)
}

func (s *Store) ListTasks(ctx context.Context) ([]domain.Task, error) {
	return s.queryTasks(ctx, "list tasks",
		`SELECT id, created_at, cargo, origin, destination, status
		FROM tasks ORDER BY seq ASC`,
	)
}

func (s *Store) GetTask(ctx context.Context, taskID string) (domain.Task, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, created_at, cargo, origin, destination, status FROM tasks WHERE id = ?`,
		taskID,
	)
	var id, cargo, origin, dest, status string
	var created int64
	if err := row.Scan(&id, &created, &cargo, &origin, &dest, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Task{}, fmt.Errorf("get task %s: %w", taskID, domain.ErrTaskNotFound)
		}
		return domain.Task{}, fmt.Errorf("get task: %w", err)
	}
	return decodeRow(id, created, cargo, origin, dest, status)
}

func (s *Store) queryTasks(ctx context.Context, op string, query string, args ...any) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	result := make([]domain.Task, 0)
	for rows.Next() {
		var id, cargo, origin, dest, status string
		var created int64
		if err := rows.Scan(&id, &created, &cargo, &origin, &dest, &status); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t, err := decodeRow(id, created, cargo, origin, dest, status)
		if err != nil {
			s.logger.Printf("event=task_row_skipped task=%s err=%v", id, err)
			continue
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return result, nil
}

func decodeRow(id string, created int64, cargo, origin, dest, status string) (domain.Task, error) {
	st, err := domain.ParseTaskStatus(status)
	if err != nil {
		return domain.Task{}, err
	}
	d, err := domain.ParseDestination(dest)
	if err != nil {
		return domain.Task{}, err
	}
	return domain.Task{
		ID:          id,
		CreatedAt:   time.UnixMilli(created).UTC(),
		Cargo:       cargo,
		Origin:      origin,
		Destination: d,
		Status:      st,
	}, nil
}

// MarkInProgress moves a Pending task forward; any other status is left alone.
func (s *Store) MarkInProgress(ctx context.Context, taskID string) error {
	return s.transition(ctx, taskID, domain.TaskStatusInProgress, domain.TaskStatusPending)
}

func (s *Store) MarkCompleted(ctx context.Context, taskID string) error {
	return s.transition(ctx, taskID, domain.TaskStatusCompleted, domain.TaskStatusPending, domain.TaskStatusInProgress)
}

func (s *Store) transition(ctx context.Context, taskID string, to domain.TaskStatus, from ...domain.TaskStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx mark %s: %w", to, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, taskID).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("mark %s %s: %w", to, taskID, domain.ErrTaskNotFound)
		}
		return fmt.Errorf("read task status: %w", err)
	}
	allowed := false
	for _, f := range from {
		if domain.TaskStatus(current) == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return tx.Commit()
	}
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(to), time.Now().UTC().UnixMilli(), taskID,
	); err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark %s: %w", to, err)
	}
	return nil
}

func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return fmt.Errorf("reset tasks: %w", err)
	}
	return nil
}

// LogEvent appends a simulation event to the journal.
func (s *Store) LogEvent(ctx context.Context, runID string, ev domain.Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO task_events(run_id, kind, task_id, cell_x, cell_y, tick, reason, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, string(ev.Kind), ev.TaskID, ev.Cell.X, ev.Cell.Y, ev.Tick, ev.Reason, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

func (s *Store) ListTaskEvents(ctx context.Context, taskID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT kind, task_id, cell_x, cell_y, tick, reason, created_at
		FROM task_events WHERE task_id = ? ORDER BY id ASC LIMIT ?`,
		taskID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list task events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var kind string
		var created int64
		if err := rows.Scan(&kind, &ev.TaskID, &ev.Cell.X, &ev.Cell.Y, &ev.Tick, &ev.Reason, &created); err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		ev.Kind = domain.EventKind(kind)
		ev.At = time.UnixMilli(created).UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task events: %w", err)
	}
	return events, nil
}

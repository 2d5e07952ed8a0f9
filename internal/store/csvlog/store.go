// Package csvlog persists the task feed as a flat CSV file, rewritten in full
// on every change.
package csvlog

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"courier_grid/internal/domain"
	"courier_grid/internal/feed"
)

type Store struct {
	mu     sync.Mutex
	path   string
	logger *log.Logger
}

// row keeps unparseable lines verbatim so a rewrite never drops them. line is
// set when the text is not even valid CSV; raw when it parsed but did not decode.
type row struct {
	raw  []string
	line string
	task domain.Task
	ok   bool
}

func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create task log dir: %w", err)
	}
	s := &Store{path: path, logger: logger}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := s.write(nil); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat task log: %w", err)
	}
	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) read() ([]row, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read task log: %w", err)
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	var rows []row
	for {
		start := r.InputOffset()
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			end := r.InputOffset()
			if !errors.As(err, &perr) || end <= start {
				return nil, fmt.Errorf("parse task log: %w", err)
			}
			line := strings.TrimRight(string(data[start:end]), "\r\n")
			s.logger.Printf("event=task_row_unreadable path=%s err=%v", s.path, err)
			rows = append(rows, row{line: line})
			continue
		}
		if feed.IsHeader(rec) {
			continue
		}
		t, err := feed.DecodeRecord(rec)
		if err != nil {
			s.logger.Printf("event=task_row_skipped path=%s err=%v", s.path, err)
			rows = append(rows, row{raw: rec})
			continue
		}
		rows = append(rows, row{raw: rec, task: t, ok: true})
	}
	return rows, nil
}

func (s *Store) write(rows []row) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(feed.Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range rows {
		if r.line != "" {
			w.Flush()
			buf.WriteString(r.line)
			buf.WriteByte('\n')
			continue
		}
		rec := r.raw
		if r.ok {
			rec = feed.EncodeRecord(r.task)
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("write task row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush task log: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp task log: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp task log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp task log: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace task log: %w", err)
	}
	return nil
}

func (s *Store) AppendPending(_ context.Context, task domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.read()
	if err != nil {
		return err
	}
	for _, r := range rows {
		if r.ok && r.task.ID == task.ID {
			return fmt.Errorf("append %s: %w", task.ID, domain.ErrDuplicateTask)
		}
	}
	if task.Status == "" {
		task.Status = domain.TaskStatusPending
	}
	return s.write(append(rows, row{task: task, ok: true}))
}

func (s *Store) ListTasks(_ context.Context) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Task, 0, len(rows))
	for _, r := range rows {
		if r.ok {
			out = append(out, r.task)
		}
	}
	return out, nil
}

// ListUnassigned returns parseable tasks that are not Completed, in file order.
func (s *Store) ListUnassigned(ctx context.Context) ([]domain.Task, error) {
	all, err := s.ListTasks(ctx)
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

func (s *Store) MarkInProgress(_ context.Context, id string) error {
	return s.update(id, func(t *domain.Task) bool {
		if t.Status != domain.TaskStatusPending {
			return false
		}
		t.Status = domain.TaskStatusInProgress
		return true
	})
}

func (s *Store) MarkCompleted(_ context.Context, id string) error {
	return s.update(id, func(t *domain.Task) bool {
		if t.Status == domain.TaskStatusCompleted {
			return false
		}
		t.Status = domain.TaskStatusCompleted
		return true
	})
}

func (s *Store) update(id string, fn func(*domain.Task) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.read()
	if err != nil {
		return err
	}
	for i := range rows {
		if !rows[i].ok || rows[i].task.ID != id {
			continue
		}
		if !fn(&rows[i].task) {
			return nil
		}
		return s.write(rows)
	}
	return fmt.Errorf("update %s: %w", id, domain.ErrTaskNotFound)
}

func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(nil)
}

package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"courier_grid/internal/domain"
)

var ErrSameSite = errors.New("origin and destination are the same site")

const manualCargo = "urgent"

// Adapter is the operator-facing side of the feed.
type Adapter struct {
	registry Registry
	store    Store
	logger   *log.Logger
	now      func() time.Time
}

func NewAdapter(registry Registry, store Store, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.Default()
	}
	return &Adapter{
		registry: registry,
		store:    store,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ManualTask records an operator alert. Both labels must name registered sites.
func (a *Adapter) ManualTask(ctx context.Context, origin, destination, cargo string) (domain.Task, error) {
	o, err := a.registry.Resolve(strings.TrimSpace(origin))
	if err != nil {
		return domain.Task{}, fmt.Errorf("origin: %w", err)
	}
	d, err := a.registry.Resolve(strings.TrimSpace(destination))
	if err != nil {
		return domain.Task{}, fmt.Errorf("destination: %w", err)
	}
	if o.Label == d.Label {
		return domain.Task{}, ErrSameSite
	}
	if strings.TrimSpace(cargo) == "" {
		cargo = manualCargo
	}
	task := domain.Task{
		ID:          "M-" + uuid.NewString()[:8],
		CreatedAt:   a.now(),
		Cargo:       strings.TrimSpace(cargo),
		Origin:      o.Label,
		Destination: domain.Destination{Kind: d.Kind, Label: d.Label},
		Status:      domain.TaskStatusPending,
	}
	if err := a.store.AppendPending(ctx, task); err != nil {
		return domain.Task{}, fmt.Errorf("append manual task: %w", err)
	}
	return task, nil
}

// Import appends every parseable, not yet known record from r. Header and
// malformed rows are skipped. It returns the number of tasks appended.
func (a *Adapter) Import(ctx context.Context, r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	added := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return added, nil
		}
		if err != nil {
			return added, fmt.Errorf("read task feed: %w", err)
		}
		if IsHeader(rec) {
			continue
		}
		task, err := DecodeRecord(rec)
		if err != nil {
			a.logger.Printf("event=feed_row_skipped err=%v", err)
			continue
		}
		if err := a.store.AppendPending(ctx, task); err != nil {
			if errors.Is(err, domain.ErrDuplicateTask) {
				continue
			}
			return added, err
		}
		added++
	}
}

// WriteCSV writes tasks in the task log layout, header first.
func WriteCSV(w io.Writer, tasks []domain.Task) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, t := range tasks {
		if err := cw.Write(EncodeRecord(t)); err != nil {
			return fmt.Errorf("write task %s: %w", t.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Package feed turns delivery requests into task records: a background
// producer for synthetic traffic, an adapter for operator alerts, and the
// flat record codec shared by the file-backed stores.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/KirkDiggler/rpg-toolkit/dice"

	"courier_grid/internal/chance"
	"courier_grid/internal/domain"
)

var (
	ErrNoFreeOrigin  = errors.New("every hospital is already an active origin")
	ErrNoDestination = errors.New("no destination available")
)

var DefaultCargo = []string{"blood", "organs", "plasma", "vaccine", "medication"}

type Registry interface {
	Sites(kinds ...domain.SiteKind) []domain.Site
	EmptyCells() []domain.Cell
	PlaceRemote(c domain.Cell) (domain.Site, error)
	Resolve(label string) (domain.Site, error)
}

type Origins interface {
	Contains(label string) bool
}

type Store interface {
	AppendPending(ctx context.Context, task domain.Task) error
}

// Backlog is the producer's view of the task log. A hospital with an open
// task is not offered as an origin again until that task completes.
type Backlog interface {
	Store
	ListUnassigned(ctx context.Context) ([]domain.Task, error)
}

type ProducerConfig struct {
	MinInterval time.Duration
	MaxInterval time.Duration
	// RemoteShare is the percent chance a task targets a new remote site.
	// Zero picks the default of 30; a negative value disables remote sites.
	RemoteShare int
	Cargo       []string
}

func (c ProducerConfig) withDefaults() ProducerConfig {
	if c.MinInterval <= 0 {
		c.MinInterval = time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 4 * time.Second
	}
	if c.MaxInterval < c.MinInterval {
		c.MaxInterval = c.MinInterval
	}
	if c.RemoteShare == 0 {
		c.RemoteShare = 30
	}
	if len(c.Cargo) == 0 {
		c.Cargo = DefaultCargo
	}
	return c
}

// Producer emits system tasks at random intervals. Its id counter lives for
// the process so ids stay unique across runs.
type Producer struct {
	registry Registry
	origins  Origins
	store    Backlog
	roller   dice.Roller
	cfg      ProducerConfig
	logger   *log.Logger
	now      func() time.Time

	mu  sync.Mutex
	seq int
}

func NewProducer(registry Registry, origins Origins, store Backlog, roller dice.Roller, cfg ProducerConfig, logger *log.Logger) *Producer {
	if logger == nil {
		logger = log.Default()
	}
	return &Producer{
		registry: registry,
		origins:  origins,
		store:    store,
		roller:   chance.OrDefault(roller),
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run produces tasks until ctx is done. An iteration in progress when ctx is
// cancelled runs to completion before Run returns.
func (p *Producer) Run(ctx context.Context) {
	for {
		delay, err := p.nextDelay()
		if err != nil {
			p.logger.Printf("producer delay roll error: %v", err)
			delay = p.cfg.MaxInterval
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		task, err := p.ProduceOnce(ctx)
		switch {
		case errors.Is(err, ErrNoFreeOrigin), errors.Is(err, ErrNoDestination):
		case err != nil:
			p.logger.Printf("producer error: %v", err)
		default:
			p.logger.Printf("producer task=%s origin=%s dest=%s cargo=%s", task.ID, task.Origin, task.Destination, task.Cargo)
		}
	}
}

func (p *Producer) nextDelay() (time.Duration, error) {
	lo := p.cfg.MinInterval.Milliseconds()
	hi := p.cfg.MaxInterval.Milliseconds()
	ms, err := chance.Between(p.roller, int(lo), int(hi))
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// ProduceOnce appends one Pending task from a hospital that is neither an
// active origin nor the origin of an open task, to another hospital or a
// freshly placed remote site.
func (p *Producer) ProduceOnce(ctx context.Context) (domain.Task, error) {
	open, err := p.store.ListUnassigned(ctx)
	if err != nil {
		return domain.Task{}, fmt.Errorf("list open tasks: %w", err)
	}
	busy := make(map[string]bool, len(open))
	for _, t := range open {
		busy[t.Origin] = true
	}

	hospitals := p.registry.Sites(domain.SiteHospital)
	free := make([]domain.Site, 0, len(hospitals))
	for _, h := range hospitals {
		if !busy[h.Label] && !p.origins.Contains(h.Label) {
			free = append(free, h)
		}
	}
	if len(free) == 0 {
		return domain.Task{}, ErrNoFreeOrigin
	}
	i, err := chance.Index(p.roller, len(free))
	if err != nil {
		return domain.Task{}, fmt.Errorf("pick origin: %w", err)
	}
	origin := free[i]

	dest, err := p.pickDestination(origin, hospitals)
	if err != nil {
		return domain.Task{}, err
	}
	c, err := chance.Index(p.roller, len(p.cfg.Cargo))
	if err != nil {
		return domain.Task{}, fmt.Errorf("pick cargo: %w", err)
	}

	task := domain.Task{
		ID:          p.nextID(),
		CreatedAt:   p.now(),
		Cargo:       p.cfg.Cargo[c],
		Origin:      origin.Label,
		Destination: dest,
		Status:      domain.TaskStatusPending,
	}
	if err := p.store.AppendPending(ctx, task); err != nil {
		return domain.Task{}, fmt.Errorf("append task %s: %w", task.ID, err)
	}
	return task, nil
}

func (p *Producer) pickDestination(origin domain.Site, hospitals []domain.Site) (domain.Destination, error) {
	remote, err := chance.Percent(p.roller, p.cfg.RemoteShare)
	if err != nil {
		return domain.Destination{}, fmt.Errorf("roll remote share: %w", err)
	}
	if remote {
		if empty := p.registry.EmptyCells(); len(empty) > 0 {
			i, err := chance.Index(p.roller, len(empty))
			if err != nil {
				return domain.Destination{}, fmt.Errorf("pick remote cell: %w", err)
			}
			site, err := p.registry.PlaceRemote(empty[i])
			if err == nil {
				return domain.Remote(site.Label), nil
			}
			// the cell was taken by an edit in the meantime; fall back to a hospital
			if !errors.Is(err, domain.ErrCellOccupied) {
				return domain.Destination{}, fmt.Errorf("place remote site: %w", err)
			}
		}
	}

	others := make([]domain.Site, 0, len(hospitals))
	for _, h := range hospitals {
		if h.Label != origin.Label {
			others = append(others, h)
		}
	}
	if len(others) == 0 {
		return domain.Destination{}, ErrNoDestination
	}
	i, err := chance.Index(p.roller, len(others))
	if err != nil {
		return domain.Destination{}, fmt.Errorf("pick destination: %w", err)
	}
	return domain.Hospital(others[i].Label), nil
}

func (p *Producer) nextID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	return fmt.Sprintf("T%04d", p.seq)
}

// Package sim runs the delivery simulation: one tick advances obstacles,
// turns open tasks into agents, moves every agent once and retires arrivals.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/KirkDiggler/rpg-toolkit/dice"
	"github.com/google/uuid"

	"courier_grid/internal/chance"
	"courier_grid/internal/domain"
	"courier_grid/internal/obstacle"
	"courier_grid/internal/world"
)

type Config struct {
	TickInterval time.Duration

	// Ticks per step for each speed band.
	FastInterval int
	BaseInterval int
	SlowInterval int

	PathRadius          int
	SpeedRadius         int
	CongestionThreshold int

	// Burst sizes and cadence. Zero picks the default, negative disables.
	ObstacleBurst   int
	ObstacleCadence int
	StartBurst      int

	// TurnPercent is handed to the obstacle field unchanged.
	TurnPercent int
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 200 * time.Millisecond
	}
	if c.FastInterval <= 0 {
		c.FastInterval = 1
	}
	if c.BaseInterval <= 0 {
		c.BaseInterval = 2
	}
	if c.SlowInterval <= 0 {
		c.SlowInterval = 3
	}
	if c.PathRadius <= 0 {
		c.PathRadius = 3
	}
	if c.SpeedRadius <= 0 {
		c.SpeedRadius = 4
	}
	if c.CongestionThreshold <= 0 {
		c.CongestionThreshold = 2
	}
	if c.ObstacleBurst == 0 {
		c.ObstacleBurst = 2
	}
	if c.ObstacleCadence == 0 {
		c.ObstacleCadence = 10
	}
	if c.StartBurst == 0 {
		c.StartBurst = 8
	}
	return c
}

type Stats struct {
	Spawned      int64 `json:"spawned"`
	Completed    int64 `json:"completed"`
	Replans      int64 `json:"replans"`
	Rejected     int64 `json:"rejected"`
	Deferred     int64 `json:"deferred"`
	BlockedMoves int64 `json:"blocked_moves"`
}

type agent struct {
	task     domain.Task
	cell     domain.Cell
	goal     domain.Cell
	path     []domain.Cell
	interval int
	wait     int
	replans  int
}

type Engine struct {
	grid    *world.Grid
	origins *world.ActiveOrigins
	field   *obstacle.Field
	store   TaskStore
	bus     Bus
	cfg     Config
	logger  *log.Logger
	now     func() time.Time

	mu       sync.Mutex
	tick     int64
	runID    string
	agents   map[string]*agent
	order    []string
	rejected map[string]string
	stats    Stats

	ctlMu    sync.Mutex
	producer Producer
	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func New(
	grid *world.Grid,
	origins *world.ActiveOrigins,
	store TaskStore,
	bus Bus,
	roller dice.Roller,
	cfg Config,
	logger *log.Logger,
) *Engine {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Default()
	}
	if origins == nil {
		origins = world.NewActiveOrigins()
	}
	return &Engine{
		grid:     grid,
		origins:  origins,
		field:    obstacle.NewField(grid, chance.OrDefault(roller), obstacle.Config{TurnPercent: cfg.TurnPercent}),
		store:    store,
		bus:      bus,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		agents:   make(map[string]*agent),
		rejected: make(map[string]string),
	}
}

// AttachProducer sets the background task source started with each run.
func (e *Engine) AttachProducer(p Producer) {
	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()
	e.producer = p
}

func (e *Engine) Grid() *world.Grid {
	return e.grid
}

func (e *Engine) Origins() *world.ActiveOrigins {
	return e.origins
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Start clears agents, obstacles and the task feed, then runs the tick loop and
// the producer until ctx is done or Stop is called. Sites and structures stay.
func (e *Engine) Start(ctx context.Context) error {
	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()
	if err := e.beginLocked(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.runCtx = runCtx
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.tickLoop(runCtx)
	}()
	if e.producer != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.producer.Run(runCtx)
		}()
	}
	e.logger.Printf("run=%s started tick_interval=%s", e.RunID(), e.cfg.TickInterval)
	return nil
}

// NewRun prepares a run like Start but leaves stepping to the caller's Tick calls.
func (e *Engine) NewRun(ctx context.Context) error {
	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()
	if err := e.beginLocked(ctx); err != nil {
		return err
	}
	e.logger.Printf("run=%s prepared", e.RunID())
	return nil
}

func (e *Engine) beginLocked(ctx context.Context) error {
	if e.runningLocked() {
		return domain.ErrAlreadyRunning
	}
	if e.cancel != nil {
		// previous run ended with its parent context
		e.cancel()
		e.wg.Wait()
		e.cancel = nil
		e.runCtx = nil
	}
	if err := e.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset task store: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearRunLocked()
	e.runID = uuid.NewString()
	if e.cfg.StartBurst > 0 {
		if _, err := e.field.SpawnBurst(e.cfg.StartBurst); err != nil {
			e.logger.Printf("run=%s start burst error: %v", e.runID, err)
		}
	}
	return nil
}

// Stop halts the tick loop and the producer and waits for both to return.
func (e *Engine) Stop() error {
	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()
	if e.cancel == nil {
		return domain.ErrNotRunning
	}
	e.cancel()
	e.wg.Wait()
	e.cancel = nil
	e.runCtx = nil
	e.logger.Printf("run=%s stopped tick=%d", e.RunID(), e.CurrentTick())
	return nil
}

// Reset stops any run and clears the whole world, including sites and the feed.
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.Stop(); err != nil && !errors.Is(err, domain.ErrNotRunning) {
		return err
	}
	e.mu.Lock()
	e.clearRunLocked()
	e.runID = ""
	e.grid.Reset()
	e.mu.Unlock()
	if err := e.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset task store: %w", err)
	}
	return nil
}

// Wait blocks until the goroutines of the current run have returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) Running() bool {
	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()
	return e.runningLocked()
}

func (e *Engine) runningLocked() bool {
	return e.cancel != nil && e.runCtx.Err() == nil
}

func (e *Engine) RunID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runID
}

func (e *Engine) CurrentTick() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Engine) clearRunLocked() {
	e.tick = 0
	e.agents = make(map[string]*agent)
	e.order = nil
	e.rejected = make(map[string]string)
	e.stats = Stats{}
	e.field.Reset()
	e.origins.Reset()
}

func (e *Engine) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Tick(ctx); err != nil {
				e.logger.Printf("tick loop error: %v", err)
			}
		}
	}
}

// Tick runs one simulation step. Obstacles move first so every agent decides
// against the same obstacle snapshot. Nothing inside a tick is fatal.
func (e *Engine) Tick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tick++
	if e.cfg.ObstacleCadence > 0 && e.cfg.ObstacleBurst > 0 && e.tick%int64(e.cfg.ObstacleCadence) == 0 {
		if _, err := e.field.SpawnBurst(e.cfg.ObstacleBurst); err != nil {
			e.logger.Printf("tick=%d obstacle spawn error: %v", e.tick, err)
		}
	}
	if err := e.field.Advance(); err != nil {
		e.logger.Printf("tick=%d %v", e.tick, err)
	}

	e.intake(ctx)

	order := append([]string(nil), e.order...)
	for _, id := range order {
		a, ok := e.agents[id]
		if !ok {
			continue
		}
		if a.cell != a.goal {
			e.advanceAgent(a)
		}
		if a.cell == a.goal {
			e.arrive(ctx, a)
		}
	}
	e.compactOrder()
	return nil
}

func (e *Engine) compactOrder() {
	kept := e.order[:0]
	for _, id := range e.order {
		if _, ok := e.agents[id]; ok {
			kept = append(kept, id)
		}
	}
	e.order = kept
}

func (e *Engine) publish(kind domain.EventKind, taskID string, cell domain.Cell, reason string) {
	if e.bus == nil {
		return
	}
	// A full subscriber queue only loses the event for that subscriber.
	_ = e.bus.Publish(domain.Event{
		Kind:   kind,
		TaskID: taskID,
		Cell:   cell,
		Tick:   e.tick,
		Reason: reason,
		At:     e.now(),
	})
}

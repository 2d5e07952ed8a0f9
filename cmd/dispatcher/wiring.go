package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/KirkDiggler/rpg-toolkit/dice"

	"courier_grid/internal/config"
	"courier_grid/internal/domain"
	"courier_grid/internal/feed"
	"courier_grid/internal/messaging/inproc"
	"courier_grid/internal/sim"
	"courier_grid/internal/store/csvlog"
	"courier_grid/internal/store/memory"
	redisstore "courier_grid/internal/store/redis"
	sqlitestore "courier_grid/internal/store/sqlite"
	"courier_grid/internal/world"
)

// overrides carries command-line values; zero values defer to the config file.
type overrides struct {
	size       int
	hospitals  int
	structures int
	storeKind  string
	storePath  string
	empty      bool
}

type services struct {
	cfg      config.Config
	grid     *world.Grid
	origins  *world.ActiveOrigins
	store    sim.TaskStore
	journal  *sqlitestore.Store
	bus      *inproc.Bus
	engine   *sim.Engine
	producer *feed.Producer
	adapter  *feed.Adapter
	logger   *log.Logger
	closers  []func() error
}

func buildRuntime(ctx context.Context, cfg config.Config, ov overrides, roller dice.Roller, logger *log.Logger) (*services, error) {
	if logger == nil {
		logger = log.Default()
	}
	rt := &services{cfg: cfg, logger: logger}

	size := intOrDefault(ov.size, intOrDefault(cfg.World.Size, 20))
	rt.grid = world.New(size)
	rt.origins = world.NewActiveOrigins()
	if !ov.empty {
		hospitals := intOrDefault(ov.hospitals, intOrDefault(cfg.World.Hospitals, 6))
		structures := intOrDefault(ov.structures, intOrDefault(cfg.World.Structures, size*size/10))
		if err := world.Seed(rt.grid, roller, hospitals, structures); err != nil {
			return nil, fmt.Errorf("seed world: %w", err)
		}
	}

	if err := rt.openStore(ctx, ov); err != nil {
		rt.close()
		return nil, err
	}

	rt.bus = inproc.New(512)
	simCfg := sim.Config{
		TickInterval:        durationMS(cfg.Sim.TickIntervalMS, 200*time.Millisecond),
		FastInterval:        cfg.Sim.FastInterval,
		BaseInterval:        cfg.Sim.BaseInterval,
		SlowInterval:        cfg.Sim.SlowInterval,
		PathRadius:          cfg.Sim.PathRadius,
		SpeedRadius:         cfg.Sim.SpeedRadius,
		CongestionThreshold: cfg.Sim.CongestionThreshold,
		ObstacleBurst:       cfg.Sim.ObstacleBurst,
		ObstacleCadence:     cfg.Sim.ObstacleCadence,
		StartBurst:          cfg.Sim.StartBurst,
		TurnPercent:         cfg.Sim.TurnPercent,
	}
	rt.engine = sim.New(rt.grid, rt.origins, rt.store, rt.bus, roller, simCfg, logger)

	rt.producer = feed.NewProducer(rt.grid, rt.origins, rt.store, roller, feed.ProducerConfig{
		MinInterval: durationMS(cfg.Feed.MinIntervalMS, time.Second),
		MaxInterval: durationMS(cfg.Feed.MaxIntervalMS, 4*time.Second),
		RemoteShare: cfg.Feed.RemoteShare,
		Cargo:       cfg.Feed.Cargo,
	}, logger)
	rt.engine.AttachProducer(rt.producer)
	rt.adapter = feed.NewAdapter(rt.grid, rt.store, logger)
	return rt, nil
}

func (rt *services) openStore(ctx context.Context, ov overrides) error {
	kind := strings.ToLower(firstNonEmpty(ov.storeKind, rt.cfg.Store.Kind, "memory"))
	path := firstNonEmpty(ov.storePath, rt.cfg.Store.Path)

	switch kind {
	case "memory":
		rt.store = memory.New()
	case "sqlite":
		s, err := openSQLite(ctx, firstNonEmpty(path, "data/courier_grid.db"), rt.logger)
		if err != nil {
			return err
		}
		rt.store = s
		rt.journal = s
		rt.closers = append(rt.closers, s.Close)
	case "redis":
		client, err := redisstore.NewClient(firstNonEmpty(rt.cfg.Store.RedisAddr, "localhost:6379"))
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		s, err := redisstore.New(&redisstore.Config{Client: client, KeyPrefix: rt.cfg.Store.KeyPrefix, Logger: rt.logger})
		if err != nil {
			return err
		}
		rt.store = s
	case "csv":
		s, err := csvlog.Open(filepath.Clean(firstNonEmpty(path, "data/tasks.csv")), rt.logger)
		if err != nil {
			return err
		}
		rt.store = s
	default:
		return fmt.Errorf("unknown store kind %q", kind)
	}

	if rt.journal == nil && strings.TrimSpace(rt.cfg.Store.EventsDB) != "" {
		j, err := openSQLite(ctx, rt.cfg.Store.EventsDB, rt.logger)
		if err != nil {
			return err
		}
		rt.journal = j
		rt.closers = append(rt.closers, j.Close)
	}
	return nil
}

func openSQLite(ctx context.Context, dbPath string, logger *log.Logger) (*sqlitestore.Store, error) {
	dbPath = filepath.Clean(dbPath)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	s, err := sqlitestore.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	s.SetLogger(logger)
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return s, nil
}

// startJournal subscribes to the bus and copies engine events into the sqlite
// journal until ctx is done. done is closed once the copier returns.
func (rt *services) startJournal(ctx context.Context) (done <-chan struct{}) {
	ch := make(chan struct{})
	if rt.journal == nil {
		close(ch)
		return ch
	}
	events := rt.bus.Register("journal")
	go func() {
		defer close(ch)
		defer rt.bus.Unregister("journal")
		record := func(ev domain.Event) {
			if err := rt.journal.LogEvent(context.WithoutCancel(ctx), rt.engine.RunID(), ev); err != nil {
				rt.logger.Printf("journal event error: %v", err)
			}
		}
		for {
			select {
			case <-ctx.Done():
				// flush what is already queued
				for {
					select {
					case ev := <-events:
						record(ev)
					default:
						return
					}
				}
			case ev, ok := <-events:
				if !ok {
					return
				}
				record(ev)
			}
		}
	}()
	return ch
}

func (rt *services) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		_ = rt.closers[i]()
	}
	rt.closers = nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func durationMS(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}

func intOrDefault(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

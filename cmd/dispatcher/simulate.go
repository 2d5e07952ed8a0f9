package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/KirkDiggler/rpg-toolkit/dice"
	"github.com/spf13/cobra"

	"courier_grid/internal/config"
	"courier_grid/internal/domain"
	"courier_grid/internal/export"
	"courier_grid/internal/feed"
)

var (
	simTicks     int
	simTaskEvery int
	simFeedPath  string
	simGeoJSON   string
	simQuiet     bool
	simOpts      overrides
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a headless simulation for a fixed number of ticks",
	Long:  `Seed a world, optionally import a task feed, step the engine tick by tick and print a summary. The final state can be written as GeoJSON.`,
	RunE:  runSimulate,
}

func init() {
	addWorldFlags(simulateCmd, &simOpts)
	simulateCmd.Flags().IntVar(&simTicks, "ticks", 200, "ticks to run")
	simulateCmd.Flags().IntVar(&simTaskEvery, "task-every", 5, "produce a task every N ticks (0 disables the producer)")
	simulateCmd.Flags().StringVar(&simFeedPath, "feed", "", "CSV task feed to import before the first tick")
	simulateCmd.Flags().StringVar(&simGeoJSON, "geojson", "", "write the final snapshot as GeoJSON to this path")
	simulateCmd.Flags().BoolVar(&simQuiet, "quiet", false, "suppress engine log output")
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	logger := log.New(cmd.ErrOrStderr(), "", log.LstdFlags)
	if simQuiet {
		logger = log.New(io.Discard, "", 0)
	}
	rt, err := buildRuntime(ctx, cfg, simOpts, dice.DefaultRoller, logger)
	if err != nil {
		return err
	}
	defer rt.close()
	journalDone := rt.startJournal(ctx)
	defer func() {
		cancel()
		<-journalDone
	}()

	if err := rt.engine.NewRun(ctx); err != nil {
		return fmt.Errorf("prepare run: %w", err)
	}
	if simFeedPath != "" {
		f, err := os.Open(simFeedPath)
		if err != nil {
			return fmt.Errorf("open feed: %w", err)
		}
		n, err := rt.adapter.Import(ctx, f)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("import feed: %w", err)
		}
		logger.Printf("feed imported path=%s tasks=%d", simFeedPath, n)
	}

	for i := 1; i <= simTicks; i++ {
		if simTaskEvery > 0 && i%simTaskEvery == 0 {
			if _, err := rt.producer.ProduceOnce(ctx); err != nil &&
				!errors.Is(err, feed.ErrNoFreeOrigin) && !errors.Is(err, feed.ErrNoDestination) {
				logger.Printf("tick=%d produce error: %v", i, err)
			}
		}
		if err := rt.engine.Tick(ctx); err != nil {
			return err
		}
	}

	snap := rt.engine.Snapshot()
	tasks, err := rt.store.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	counts := map[domain.TaskStatus]int{}
	for _, t := range tasks {
		counts[t.Status]++
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s finished after %d ticks\n", snap.RunID, snap.Tick)
	fmt.Fprintf(out, "grid %dx%d sites=%d structures=%d obstacles=%d\n",
		snap.Size, snap.Size, len(snap.Sites), len(snap.Structures), len(snap.Obstacles))
	fmt.Fprintf(out, "tasks total=%d pending=%d in_progress=%d completed=%d\n",
		len(tasks), counts[domain.TaskStatusPending], counts[domain.TaskStatusInProgress], counts[domain.TaskStatusCompleted])
	fmt.Fprintf(out, "agents active=%d spawned=%d completed=%d replans=%d blocked=%d deferred=%d rejected=%d\n",
		len(snap.Agents), snap.Stats.Spawned, snap.Stats.Completed, snap.Stats.Replans,
		snap.Stats.BlockedMoves, snap.Stats.Deferred, snap.Stats.Rejected)

	if simGeoJSON != "" {
		if err := export.WriteFile(simGeoJSON, snap); err != nil {
			return fmt.Errorf("write geojson: %w", err)
		}
		fmt.Fprintf(out, "geojson written to %s\n", simGeoJSON)
	}
	return nil
}

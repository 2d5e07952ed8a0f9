package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/KirkDiggler/rpg-toolkit/dice"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpc_logging "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"

	"courier_grid/internal/config"
	"courier_grid/internal/domain"
	"courier_grid/internal/fs"
)

// simulationService is the health service name that reports whether a run is live.
const simulationService = "courier_grid.Simulation"

var (
	serveAddr     string
	serveGRPCAddr string
	serveAutoRun  bool
	serveOpts     overrides
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the simulation over HTTP and gRPC health",
	Long:  `Seed a world, open the task store and expose control, snapshot and task endpoints over HTTP. A gRPC health service reports whether a run is live.`,
	RunE:  runServe,
}

func init() {
	addWorldFlags(serveCmd, &serveOpts)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (default :8080)")
	serveCmd.Flags().StringVar(&serveGRPCAddr, "grpc-addr", "", "gRPC health listen address (default :50051)")
	serveCmd.Flags().BoolVar(&serveAutoRun, "autostart", false, "start a run immediately")
}

func addWorldFlags(cmd *cobra.Command, ov *overrides) {
	cmd.Flags().IntVar(&ov.size, "size", 0, "grid side length")
	cmd.Flags().IntVar(&ov.hospitals, "hospitals", 0, "hospitals to seed")
	cmd.Flags().IntVar(&ov.structures, "structures", 0, "structures to seed")
	cmd.Flags().BoolVar(&ov.empty, "empty", false, "start with an empty grid")
	cmd.Flags().StringVar(&ov.storeKind, "store", "", "task store: memory, sqlite, redis or csv")
	cmd.Flags().StringVar(&ov.storePath, "store-path", "", "file path for the sqlite or csv store")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.Default()
	rt, err := buildRuntime(ctx, cfg, serveOpts, dice.DefaultRoller, logger)
	if err != nil {
		return err
	}
	defer rt.close()
	journalDone := rt.startJournal(ctx)
	defer func() {
		cancel()
		<-journalDone
	}()

	if serveAutoRun {
		if err := rt.engine.Start(ctx); err != nil {
			return fmt.Errorf("autostart: %w", err)
		}
	}

	addr := firstNonEmpty(serveAddr, cfg.Server.Addr, ":8080")
	grpcAddr := firstNonEmpty(serveGRPCAddr, cfg.Server.GRPCAddr, ":50051")

	exports, err := fs.NewGateway(firstNonEmpty(cfg.Server.ExportDir, "data/exports"), logger)
	if err != nil {
		return fmt.Errorf("export directory: %w", err)
	}

	a := &app{
		cfg:     cfg,
		runCtx:  ctx,
		engine:  rt.engine,
		store:   rt.store,
		adapter: rt.adapter,
		exports: exports,
		logger:  logger,
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	srv, healthServer := newGRPCServer(logger)
	go watchHealth(ctx, healthServer, rt.engine.Running)

	errChan := make(chan error, 2)
	go func() {
		if err := srv.Serve(lis); err != nil {
			errChan <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server failed: %w", err)
		}
	}()

	logger.Printf(
		"courier_grid started addr=%s grpc=%s size=%d store=%s",
		addr,
		grpcAddr,
		rt.grid.Size(),
		firstNonEmpty(serveOpts.storeKind, cfg.Store.Kind, "memory"),
	)

	select {
	case <-ctx.Done():
	case err = <-errChan:
	}

	if stopErr := rt.engine.Stop(); stopErr != nil && !errors.Is(stopErr, domain.ErrNotRunning) {
		logger.Printf("stop engine: %v", stopErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	stopGRPC(shutdownCtx, srv, logger)
	logger.Printf("courier_grid stopped run_id=%s tick=%d", rt.engine.RunID(), rt.engine.CurrentTick())
	return err
}

func newGRPCServer(logger *log.Logger) (*grpc.Server, *health.Server) {
	logFunc := grpcLogFunc(logger)
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpc_logging.UnaryServerInterceptor(logFunc),
			grpc_recovery.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			grpc_logging.StreamServerInterceptor(logFunc),
			grpc_recovery.StreamServerInterceptor(),
		),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(simulationService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	reflection.Register(srv)
	return srv, healthServer
}

// watchHealth mirrors the engine's run state onto the simulation health status.
func watchHealth(ctx context.Context, hs *health.Server, running func() bool) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		hs.SetServingStatus(simulationService, servingStatus(running()))
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

func servingStatus(running bool) grpc_health_v1.HealthCheckResponse_ServingStatus {
	if running {
		return grpc_health_v1.HealthCheckResponse_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_NOT_SERVING
}

func stopGRPC(ctx context.Context, srv *grpc.Server, logger *log.Logger) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-ctx.Done():
		logger.Println("Graceful shutdown timeout exceeded, forcing stop")
		srv.Stop()
	case <-stopped:
	}
}

func grpcLogFunc(logger *log.Logger) grpc_logging.LoggerFunc {
	return func(_ context.Context, level grpc_logging.Level, msg string, fields ...any) {
		logger.Printf("[%v] %s %v", level, msg, fields)
	}
}

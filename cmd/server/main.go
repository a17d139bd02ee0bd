package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gamehub/internal/config"
	"gamehub/internal/db"
	"gamehub/internal/logging"
	"gamehub/internal/orchestrator"
	"gamehub/internal/server"
	"gamehub/internal/store"
	"gamehub/internal/supervisor"
	"gamehub/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger setup failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("gamehub stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		return err
	}
	conn, err := db.Open(cfg)
	if err != nil {
		return err
	}
	catalog, err := config.LoadWorkers(cfg.WorkersConfigPath)
	if err != nil {
		return err
	}
	logger.Info("worker catalog loaded", zap.String("path", cfg.WorkersConfigPath), zap.Int("game_types", len(catalog)))

	opts := orchestrator.Options{
		SweepInterval: cfg.SweepInterval(),
		ProposalTTL:   cfg.ProposalTTL(),
		Supervisor: supervisor.Config{
			LaunchTimeout:   cfg.WorkerLaunchTimeout(),
			SubmitTimeout:   cfg.WorkerSubmitTimeout(),
			RestartAttempts: cfg.WorkerRestartAttempts,
			RestartBackoff:  supervisor.DefaultConfig().RestartBackoff,
		},
	}
	orch := orchestrator.New(store.NewPostgres(conn), worker.NewProcessLauncher(catalog, logger), opts, logger)
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := server.New(orch, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(ctx)
	})
	g.Go(func() error {
		logger.Info("gamehub listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Close()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abhisheknishant138/rotor/internal/api"
	"github.com/abhisheknishant138/rotor/internal/config"
	"github.com/abhisheknishant138/rotor/internal/deploy"
	"github.com/abhisheknishant138/rotor/internal/journal"
	"github.com/abhisheknishant138/rotor/internal/model"
	"github.com/abhisheknishant138/rotor/internal/reactor"
	"github.com/abhisheknishant138/rotor/internal/unit"
	"github.com/abhisheknishant138/rotor/internal/unit/process"
)

const (
	drainTimeout    = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("rotor: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"event_loops", cfg.EventLoops,
	)

	j, err := journal.NewSQLiteJournal(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open journal: %v", err)
	}
	defer j.Close()

	exec := reactor.New(cfg.EventLoops, logger)

	units := unit.NewRegistry()
	units.Register(model.KindNative, builtinModules(logger))
	units.Register(model.KindProcess, process.NewFactory(logger))

	mgr := deploy.NewManager(exec, units, j, logger)
	srv := api.NewServer(cfg.ListenAddr, mgr, units, j, exec, logger)

	gate := deploy.NewGate()
	errCh := srv.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-quit:
			logger.Info("shutdown requested", "signal", sig.String())
		case err, ok := <-errCh:
			if ok && err != nil {
				logger.Error("server failed", "error", err)
			}
		}
		gate.Open()
	}()

	gate.Wait()

	// Stop every deployment before taking the process down, with a bound so
	// a hung unit cannot wedge shutdown.
	drained := make(chan struct{})
	mgr.UndeployAll(func() { close(drained) })
	select {
	case <-drained:
	case <-time.After(drainTimeout):
		logger.Warn("timed out draining deployments")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := exec.Close(ctx); err != nil {
		logger.Warn("reactor close", "error", err)
	}

	logger.Info("rotor: stopped")
}

// testserver starts a rotor API server with a scriptable stub unit kind for
// E2E testing. Usage: go run ./cmd/testserver
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/abhisheknishant138/rotor/internal/api"
	"github.com/abhisheknishant138/rotor/internal/deploy"
	"github.com/abhisheknishant138/rotor/internal/journal"
	"github.com/abhisheknishant138/rotor/internal/reactor"
	"github.com/abhisheknishant138/rotor/internal/unit"
)

// stubFactory builds units whose behavior is scripted through the module
// reference: refs containing "fail-construct" refuse construction, refs
// containing "fail-start" refuse to start, and refs containing "slow-stop"
// linger in Stop. E2E tests use these to drive failure paths over HTTP.
type stubFactory struct {
	logger *slog.Logger
	delay  time.Duration
}

func (f *stubFactory) Construct(moduleRef string, _ []string) (unit.Unit, error) {
	if strings.Contains(moduleRef, "fail-construct") {
		return nil, errors.New("scripted construct failure")
	}
	return &stubUnit{f: f, ref: moduleRef}, nil
}

func (f *stubFactory) Info() unit.FactoryInfo {
	return unit.FactoryInfo{Kind: "stub", Description: "scriptable unit for e2e tests"}
}

type stubUnit struct {
	f   *stubFactory
	ref string
}

func (u *stubUnit) Start() error {
	time.Sleep(u.f.delay)
	if strings.Contains(u.ref, "fail-start") {
		return errors.New("scripted start failure")
	}
	u.f.logger.Info("stub unit started", "module_ref", u.ref)
	return nil
}

func (u *stubUnit) Stop() error {
	if strings.Contains(u.ref, "slow-stop") {
		time.Sleep(time.Second)
	}
	u.f.logger.Info("stub unit stopped", "module_ref", u.ref)
	return nil
}

func main() {
	addr := ":8080"
	if v := os.Getenv("ROTOR_LISTEN_ADDR"); v != "" {
		addr = v
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	j, err := journal.NewSQLiteJournal(":memory:")
	if err != nil {
		log.Fatalf("failed to open journal: %v", err)
	}
	defer j.Close()

	exec := reactor.New(2, logger)

	units := unit.NewRegistry()
	units.Register("stub", &stubFactory{logger: logger, delay: 50 * time.Millisecond})

	mgr := deploy.NewManager(exec, units, j, logger)
	srv := api.NewServer(addr, mgr, units, j, exec, logger)

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

	logger.Info("testserver: starting", "addr", addr)
	gate.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := exec.Close(ctx); err != nil {
		logger.Warn("reactor close", "error", err)
	}
}

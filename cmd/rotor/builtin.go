package main

import (
	"log/slog"
	"sync"
	"time"

	"github.com/abhisheknishant138/rotor/internal/unit"
	"github.com/abhisheknishant138/rotor/internal/unit/native"
)

// builtinModules is the native module catalog compiled into the daemon.
func builtinModules(logger *slog.Logger) *native.Factory {
	f := native.NewFactory()
	f.RegisterModule("builtin.heartbeat", func(_ []string) (unit.Unit, error) {
		return newHeartbeat(logger, 10*time.Second), nil
	})
	return f
}

// heartbeat logs a tick on an interval until stopped. It exists so a fresh
// install has something deployable without writing any code.
type heartbeat struct {
	logger   *slog.Logger
	interval time.Duration

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func newHeartbeat(logger *slog.Logger, interval time.Duration) *heartbeat {
	return &heartbeat{
		logger:   logger,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (h *heartbeat) Start() error {
	go func() {
		defer close(h.done)
		t := time.NewTicker(h.interval)
		defer t.Stop()
		for {
			select {
			case now := <-t.C:
				h.logger.Info("heartbeat", "at", now.UTC().Format(time.RFC3339))
			case <-h.stop:
				return
			}
		}
	}()
	return nil
}

func (h *heartbeat) Stop() error {
	h.once.Do(func() { close(h.stop) })
	<-h.done
	return nil
}

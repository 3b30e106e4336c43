package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DaemonFunc represents the work a daemon does. It returns nil once ctx is done.
type DaemonFunc func(ctx context.Context, name string) error

// DaemonManager supervises multiple daemons.
type DaemonManager struct {
	daemons      map[string]DaemonFunc
	order        []string
	logger       *slog.Logger
	restartDelay time.Duration
	wg           sync.WaitGroup
}

// NewDaemonManager creates a new manager.
func NewDaemonManager(logger *slog.Logger) *DaemonManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &DaemonManager{
		daemons:      make(map[string]DaemonFunc),
		logger:       logger.With("component", "daemon"),
		restartDelay: 2 * time.Second,
	}
}

// SetRestartDelay changes the pause between a crash and the restart.
func (m *DaemonManager) SetRestartDelay(d time.Duration) {
	m.restartDelay = d
}

// Add registers a daemon by name. Daemons start in the order they were added.
func (m *DaemonManager) Add(name string, fn DaemonFunc) {
	if _, exists := m.daemons[name]; !exists {
		m.order = append(m.order, name)
	}
	m.daemons[name] = fn
}

// Start runs all daemons and restarts them if they crash.
func (m *DaemonManager) Start(ctx context.Context) {
	for _, name := range m.order {
		m.wg.Add(1)
		go m.runDaemon(ctx, name, m.daemons[name])
	}
}

// Wait blocks until all daemons have stopped.
func (m *DaemonManager) Wait() {
	m.wg.Wait()
}

// runDaemon supervises a single daemon, restarting on error or panic.
func (m *DaemonManager) runDaemon(ctx context.Context, name string, fn DaemonFunc) {
	defer m.wg.Done()
	logger := m.logger.With("daemon", name)

	for {
		if ctx.Err() != nil {
			logger.Info("Daemon received shutdown signal")
			return
		}

		err := m.invoke(ctx, name, fn)
		if err == nil {
			logger.Info("Daemon exited cleanly")
			return
		}
		if ctx.Err() != nil {
			logger.Info("Daemon stopped during shutdown", "error", err)
			return
		}

		logger.Error("Daemon crashed, restarting", "error", err, "delay", m.restartDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.restartDelay):
		}
	}
}

func (m *DaemonManager) invoke(ctx context.Context, name string, fn DaemonFunc) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("daemon %s panicked: %v", name, rec)
		}
	}()
	return fn(ctx, name)
}

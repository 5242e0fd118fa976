package utils

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// BackgroundProcessManager owns the long-running loops of the server:
// session sweeper, guard sweepers, autosave, backups. Each process gets
// a child context and is waited on during shutdown.
type BackgroundProcessManager struct {
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	processes map[string]context.CancelFunc
}

func NewBackgroundProcessManager() *BackgroundProcessManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &BackgroundProcessManager{
		ctx:       ctx,
		cancel:    cancel,
		processes: make(map[string]context.CancelFunc),
	}
}

// StartProcess launches fn as a managed goroutine. Starting a process
// under a name that is already running stops the old one first.
func (bpm *BackgroundProcessManager) StartProcess(name string, fn func(ctx context.Context)) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if cancel, exists := bpm.processes[name]; exists {
		slog.Warn("Process already running, replacing it",
			slog.String("type", "sys"),
			slog.String("process", name))
		cancel()
	}

	processCtx, processCancel := context.WithCancel(bpm.ctx)
	bpm.processes[name] = processCancel

	bpm.wg.Add(1)
	go func() {
		defer bpm.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Background process panicked",
					slog.String("type", "sys"),
					slog.String("process", name),
					slog.Any("panic", r))
			}
		}()

		slog.Info("Background process started",
			slog.String("type", "sys"),
			slog.String("process", name))
		fn(processCtx)
		slog.Info("Background process ended",
			slog.String("type", "sys"),
			slog.String("process", name))
	}()
}

// StopProcess cancels one process by name without waiting for it.
func (bpm *BackgroundProcessManager) StopProcess(name string) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if cancel, exists := bpm.processes[name]; exists {
		cancel()
		delete(bpm.processes, name)
	}
}

// Shutdown cancels everything and waits up to timeout for the loops to
// drain. Loops that flush on exit, like autosave, get their final pass
// inside this window.
func (bpm *BackgroundProcessManager) Shutdown(timeout time.Duration) error {
	bpm.mu.RLock()
	count := len(bpm.processes)
	bpm.mu.RUnlock()

	slog.Info("Stopping background processes",
		slog.String("type", "sys"),
		slog.Int("count", count))
	bpm.cancel()

	done := make(chan struct{})
	go func() {
		bpm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("All background processes stopped", slog.String("type", "sys"))
		return nil
	case <-time.After(timeout):
		slog.Warn("Timed out waiting for background processes",
			slog.String("type", "sys"),
			slog.Duration("timeout", timeout))
		return context.DeadlineExceeded
	}
}

func (bpm *BackgroundProcessManager) ProcessCount() int {
	bpm.mu.RLock()
	defer bpm.mu.RUnlock()
	return len(bpm.processes)
}

// Package supervisor owns the dispatch loop's start/stop orchestration and
// a signal-driven graceful drain, adapted from the teacher's
// daemon.Daemon.Serve/Close (SIGINT/SIGTERM handling, a bounded shutdown
// timeout, and an idle reaper goroutine) generalized from an HTTP-server
// lifetime to the dispatcher's.
package supervisor

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/turtacn/inferserve/internal/apierr"
)

// Dispatch is the narrow capability the supervisor drives.
type Dispatch interface {
	Start(ctx context.Context) error
	Stop()
}

// Supervisor wraps a Dispatch with idempotent start/stop semantics and an
// optional OS-signal-triggered drain.
type Supervisor struct {
	dispatch        Dispatch
	shutdownTimeout time.Duration
	log             *zap.SugaredLogger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

func New(dispatch Dispatch, shutdownTimeout time.Duration, log *zap.SugaredLogger) *Supervisor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	return &Supervisor{dispatch: dispatch, shutdownTimeout: shutdownTimeout, log: log}
}

// Start launches the dispatch loop. A second Start before Stop fails.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return apierr.NewValidation("supervisor already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	if err := s.dispatch.Start(runCtx); err != nil {
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.mu.Unlock()
		cancel()
		return err
	}
	return nil
}

// Stop drains and stops the dispatch loop, idempotently.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.dispatch.Stop()
}

// RunUntilSignal starts the dispatch loop and blocks until SIGINT, SIGTERM,
// or ctx cancellation, then drains with a bounded timeout before returning.
func (s *Supervisor) RunUntilSignal(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		s.log.Infow("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		s.log.Infow("context cancelled, shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.shutdownTimeout):
		s.log.Warnw("shutdown drain exceeded timeout", "timeout", s.shutdownTimeout)
		return nil
	}
}

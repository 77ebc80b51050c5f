package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeDispatch struct {
	mu      sync.Mutex
	started bool
	stopped bool
}

func (f *fakeDispatch) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeDispatch) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func TestStartStopLifecycle(t *testing.T) {
	fd := &fakeDispatch{}
	s := New(fd, time.Second, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fd.mu.Lock()
	started := fd.started
	fd.mu.Unlock()
	if !started {
		t.Fatalf("expected dispatch to have started")
	}

	s.Stop()
	fd.mu.Lock()
	stopped := fd.stopped
	fd.mu.Unlock()
	if !stopped {
		t.Fatalf("expected dispatch to have stopped")
	}
}

func TestDoubleStartFails(t *testing.T) {
	fd := &fakeDispatch{}
	s := New(fd, time.Second, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected second Start to fail")
	}
	s.Stop()
}

func TestStopIsIdempotent(t *testing.T) {
	fd := &fakeDispatch{}
	s := New(fd, time.Second, nil)
	_ = s.Start(context.Background())
	s.Stop()
	s.Stop() // must not panic or block
}

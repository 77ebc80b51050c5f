package subprocess

import (
	"context"
	"testing"

	"github.com/turtacn/inferserve/internal/plugin"
)

type foreignHandle struct{}

func (foreignHandle) SupportsBatching() bool { return false }
func (foreignHandle) MaxBatchSize() int      { return 0 }

func TestLoadFailsWithoutExecutable(t *testing.T) {
	b := New()
	_, err := b.Load(context.Background(), "m1", plugin.Config{})
	if err == nil {
		t.Fatal("expected error when no executable is configured")
	}
}

func TestUnloadRejectsForeignHandle(t *testing.T) {
	b := New()
	if err := b.Unload(context.Background(), foreignHandle{}); err == nil {
		t.Fatal("expected error for foreign handle type")
	}
}

func TestInferRejectsForeignHandle(t *testing.T) {
	b := New()
	_, err := b.Infer(context.Background(), foreignHandle{}, nil, nil)
	if err == nil {
		t.Fatal("expected error for foreign handle type")
	}
}

func TestFreePortReturnsUsablePort(t *testing.T) {
	port, err := freePort()
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	if port <= 0 || port > 65535 {
		t.Errorf("port = %d, want in (0, 65535]", port)
	}
}

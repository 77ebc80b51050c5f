package lifecycle

import (
	"context"
	"testing"

	"github.com/turtacn/inferserve/internal/domain"
	"github.com/turtacn/inferserve/internal/plugin"
	_ "github.com/turtacn/inferserve/internal/plugin/mock"
	"github.com/turtacn/inferserve/internal/registry"
)

func newTestModel(id string, backend string) *domain.Model {
	return &domain.Model{
		ID:      domain.ModelId(id),
		Name:    id,
		Kind:    domain.ModelKind{Kind: domain.KindLLM},
		Backend: backend,
	}
}

func TestLoadTransitionsToReady(t *testing.T) {
	reg := registry.New(0)
	_ = reg.Insert(newTestModel("m1", "mock"))
	ctrl := New(reg)

	if err := ctrl.Load(context.Background(), "m1"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	info, _ := reg.Get("m1")
	if info.Status.Phase != domain.StatusReady {
		t.Fatalf("got phase %q, want ready", info.Status.Phase)
	}
	if info.Health != domain.HealthHealthy {
		t.Fatalf("got health %q, want healthy", info.Health)
	}
}

func TestLoadFailureLeavesError(t *testing.T) {
	plugin.Register("failing", func() plugin.Port { return &failingPort{} })
	reg := registry.New(0)
	_ = reg.Insert(newTestModel("m2", "failing"))
	ctrl := New(reg)

	if err := ctrl.Load(context.Background(), "m2"); err == nil {
		t.Fatalf("expected Load to fail")
	}
	info, _ := reg.Get("m2")
	if info.Status.Phase != domain.StatusError {
		t.Fatalf("got phase %q, want error", info.Status.Phase)
	}
	if info.Status.ErrorMessage == "" {
		t.Fatalf("expected error message to be populated")
	}
}

func TestUnloadIsIdempotent(t *testing.T) {
	reg := registry.New(0)
	_ = reg.Insert(newTestModel("m3", "mock"))
	ctrl := New(reg)
	_ = ctrl.Load(context.Background(), "m3")

	if err := ctrl.Unload(context.Background(), "m3"); err != nil {
		t.Fatalf("first Unload: %v", err)
	}
	if err := ctrl.Unload(context.Background(), "m3"); err != nil {
		t.Fatalf("second Unload should be a no-op, got: %v", err)
	}
	info, _ := reg.Get("m3")
	if info.Status.Phase != domain.StatusUnloaded {
		t.Fatalf("got phase %q, want unloaded", info.Status.Phase)
	}
}

type failingHandle struct{}

func (failingHandle) SupportsBatching() bool { return false }
func (failingHandle) MaxBatchSize() int      { return 1 }

type failingPort struct{}

func (failingPort) Load(ctx context.Context, modelID string, cfg plugin.Config) (plugin.Handle, error) {
	return nil, errLoadFailed
}
func (failingPort) Unload(ctx context.Context, h plugin.Handle) error { return nil }
func (failingPort) Infer(ctx context.Context, h plugin.Handle, in []plugin.Input, p []plugin.Params) ([]plugin.Output, error) {
	return nil, nil
}

var errLoadFailed = &loadErr{}

type loadErr struct{}

func (*loadErr) Error() string { return "simulated load failure" }

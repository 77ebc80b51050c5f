// Package lifecycle drives a model's state machine (spec §4.3):
// Initializing -> Loading -> Ready <-> Running -> {Error, Unloaded}. Load and
// Unload call out to a plugin.Port, which may block for a long time, so the
// controller never holds the registry's lock across that call — it reads
// the model's Config, releases the lock, drives the plugin, then re-acquires
// the lock only to write the outcome back. Per-model-id work is serialized
// with a dedicated mutex per id so a concurrent unregister-during-load
// cannot race the load's own state transition, mirroring the teacher's
// acquire/release discipline around its model pool.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/turtacn/inferserve/internal/apierr"
	"github.com/turtacn/inferserve/internal/domain"
	"github.com/turtacn/inferserve/internal/plugin"
	"github.com/turtacn/inferserve/internal/registry"
)

// Controller owns the load/unload transitions for every model in a Registry.
type Controller struct {
	reg *registry.Registry

	mu    sync.Mutex
	locks map[domain.ModelId]*sync.Mutex
}

func New(reg *registry.Registry) *Controller {
	return &Controller{
		reg:   reg,
		locks: make(map[domain.ModelId]*sync.Mutex),
	}
}

func (c *Controller) lockFor(id domain.ModelId) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[id]
	if !ok {
		l = &sync.Mutex{}
		c.locks[id] = l
	}
	return l
}

func (c *Controller) dropLock(id domain.ModelId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, id)
}

// Load transitions a model from Loading to Ready, calling the named
// backend's Port.Load in between. Registration already writes a model with
// status Loading (spec §4.2) — Initializing is reserved for future
// pre-checks and is never assigned on the live path, so Load's precondition
// checks Loading, not Initializing. On failure the model is left in Error
// with ErrorMessage populated, per spec §4.3's edge case for load failure.
func (c *Controller) Load(ctx context.Context, id domain.ModelId) error {
	l := c.lockFor(id)
	l.Lock()
	defer l.Unlock()

	info, err := c.reg.Get(id)
	if err != nil {
		return err
	}
	if info.Status.Phase != domain.StatusLoading {
		return apierr.NewValidation("model is not in loading state")
	}

	port, err := plugin.Lookup(info.Backend)
	if err != nil {
		_ = c.reg.Mutate(id, func(m *domain.Model) {
			m.Status = domain.Status{Phase: domain.StatusError, ErrorMessage: err.Error()}
		})
		return apierr.NewPluginLoad(string(id), err)
	}

	cfg := plugin.Config{
		Backend:      info.Backend,
		DeviceType:   string(info.Device.Type),
		DeviceIDs:    info.Device.DeviceIDs,
		MemoryCapMB:  info.Device.MemoryCapMB,
		Quantization: string(info.Optimize.Quantization),
		KVCache:      info.Optimize.KVCache,
		Custom:       info.CustomParams,
	}

	handle, loadErr := port.Load(ctx, string(id), cfg)

	// Re-check whether the model was unregistered while Load ran. If so, the
	// registry entry is gone and any handle we just obtained is orphaned —
	// unload it immediately rather than leaking it.
	if _, getErr := c.reg.Get(id); getErr != nil {
		if loadErr == nil {
			_ = port.Unload(ctx, handle)
		}
		c.dropLock(id)
		return getErr
	}

	if loadErr != nil {
		_ = c.reg.Mutate(id, func(m *domain.Model) {
			m.Status = domain.Status{Phase: domain.StatusError, ErrorMessage: loadErr.Error()}
			m.Health = domain.HealthUnhealthy
		})
		return apierr.NewPluginLoad(string(id), loadErr)
	}

	now := time.Now()
	return c.reg.Mutate(id, func(m *domain.Model) {
		m.Handle = handle
		m.Status = domain.Status{Phase: domain.StatusReady}
		m.Health = domain.HealthHealthy
		m.LoadedAt = now
	})
}

// Unload transitions a model from Ready or Running to Unloaded, calling the
// backend's Port.Unload. It is idempotent: unloading an already-Unloaded
// model succeeds without calling the plugin again.
func (c *Controller) Unload(ctx context.Context, id domain.ModelId) error {
	l := c.lockFor(id)
	l.Lock()
	defer l.Unlock()
	defer c.dropLock(id)

	info, err := c.reg.Get(id)
	if err != nil {
		return err
	}
	if info.Status.Phase == domain.StatusUnloaded {
		return nil
	}
	if !info.Status.HasInstance() {
		return c.reg.Mutate(id, func(m *domain.Model) {
			m.Status = domain.Status{Phase: domain.StatusUnloaded}
			m.Handle = nil
		})
	}

	port, err := plugin.Lookup(info.Backend)
	if err != nil {
		return apierr.NewPluginUnload(string(id), err)
	}

	var handle plugin.Handle
	_ = c.reg.Mutate(id, func(m *domain.Model) {
		if h, ok := m.Handle.(plugin.Handle); ok {
			handle = h
		}
	})

	var unloadErr error
	if handle != nil {
		unloadErr = port.Unload(ctx, handle)
	}
	if unloadErr != nil {
		return apierr.NewPluginUnload(string(id), unloadErr)
	}

	return c.reg.Mutate(id, func(m *domain.Model) {
		m.Status = domain.Status{Phase: domain.StatusUnloaded}
		m.Handle = nil
	})
}

// MarkRunning transitions Ready -> Running, used by the dispatcher around an
// active batch. It is a no-op if the model is already Running.
func (c *Controller) MarkRunning(id domain.ModelId) error {
	return c.reg.Mutate(id, func(m *domain.Model) {
		if m.Status.Phase == domain.StatusReady {
			m.Status = domain.Status{Phase: domain.StatusRunning}
		}
	})
}

// MarkIdle transitions Running -> Ready once a batch completes.
func (c *Controller) MarkIdle(id domain.ModelId) error {
	return c.reg.Mutate(id, func(m *domain.Model) {
		if m.Status.Phase == domain.StatusRunning {
			m.Status = domain.Status{Phase: domain.StatusReady}
		}
	})
}

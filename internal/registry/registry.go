// Package registry implements the in-memory model registry (spec §4.2): a
// capacity-bounded, concurrency-safe map of ModelId to domain.Model. It is
// grounded on the teacher's engine.Pool locking discipline (a single mutex
// guarding a map plus auxiliary bookkeeping, acquire/release around the
// critical section) but drops the teacher's LRU/eviction and on-disk blob
// resolution — models here are not content-addressed files, and capacity is
// enforced instead of evicted, per spec §4.2's "reject over accept" rule.
package registry

import (
	"sync"
	"time"

	"github.com/turtacn/inferserve/internal/apierr"
	"github.com/turtacn/inferserve/internal/domain"
)

// Registry holds every registered model for the life of the process.
type Registry struct {
	mu       sync.RWMutex
	models   map[domain.ModelId]*domain.Model
	maxCount int
}

// New creates a Registry that rejects registration past maxCount models.
// maxCount <= 0 means unbounded.
func New(maxCount int) *Registry {
	return &Registry{
		models:   make(map[domain.ModelId]*domain.Model),
		maxCount: maxCount,
	}
}

// Insert adds a new model under a fresh id, failing with CapacityExceeded if
// the registry is already at maxCount and ModelExists if the id is taken.
// Capacity and uniqueness are checked atomically under the write lock.
func (r *Registry) Insert(m *domain.Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.models[m.ID]; exists {
		return apierr.NewModelExists(string(m.ID))
	}
	if r.maxCount > 0 && len(r.models) >= r.maxCount {
		return apierr.NewCapacityExceeded(r.maxCount)
	}

	now := time.Now()
	if m.Status.Phase == "" {
		// Initializing is reserved for future pre-checks and must never be
		// observed externally (spec §4.2) — a freshly inserted model is
		// already on its way to Loading via the caller's async load.
		m.Status = domain.Status{Phase: domain.StatusLoading}
	}
	if m.Health == "" {
		m.Health = domain.HealthUnknown
	}
	m.LastAccess = now
	r.models[m.ID] = m
	return nil
}

// Remove deletes a model from the registry. It does not unload any plugin
// handle — that is the lifecycle controller's responsibility, invoked
// before Remove is called.
func (r *Registry) Remove(id domain.ModelId) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[id]; !ok {
		return apierr.NewModelNotFound(string(id))
	}
	delete(r.models, id)
	return nil
}

// Get returns a read-only snapshot of the model, touching LastAccess. Use
// this only on paths that represent real inference traffic (predict,
// batch_predict) — LastAccess drives idle eviction (spec §9's supplemented
// idle-reaper feature), so anything else must use Peek or the eviction
// clock never advances.
func (r *Registry) Get(id domain.ModelId) (domain.Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[id]
	if !ok {
		return domain.Info{}, apierr.NewModelNotFound(string(id))
	}
	m.LastAccess = time.Now()
	return m.ToInfo(), nil
}

// Peek returns the same snapshot as Get without touching LastAccess, for
// administrative or background reads (get_model_info, periodic snapshot
// persistence) that must not be mistaken for inference traffic.
func (r *Registry) Peek(id domain.ModelId) (domain.Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	if !ok {
		return domain.Info{}, apierr.NewModelNotFound(string(id))
	}
	return m.ToInfo(), nil
}

// List returns a snapshot of every registered model's public info, in no
// particular order.
func (r *Registry) List() []domain.Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Info, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m.ToInfo())
	}
	return out
}

// Mutate runs fn against the live model under the write lock, letting
// callers (the lifecycle controller, the ledger) apply an atomic
// read-modify-write without exposing the internal map. fn must not block.
func (r *Registry) Mutate(id domain.ModelId, fn func(m *domain.Model)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[id]
	if !ok {
		return apierr.NewModelNotFound(string(id))
	}
	fn(m)
	return nil
}

// Count returns the current number of registered models.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}

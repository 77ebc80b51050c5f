// Package gateway wires the Registry, Lifecycle Controller, Dispatcher,
// Intake, and Ledger into the Core API (spec §6): register_model,
// unregister_model, get_model_info, list_models, predict, batch_predict,
// health. It is the composition root transport adapters call into,
// grounded on the teacher's Daemon struct (internal/daemon/daemon.go) —
// generalized from the teacher's dozens of phase-gated subsystems down to
// this spec's fixed seven components, plus the two supplemented background
// loops (idle eviction, snapshot persistence) adapted from the teacher's
// engine.Pool.IdleReaper.
package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/turtacn/inferserve/internal/apierr"
	"github.com/turtacn/inferserve/internal/config"
	"github.com/turtacn/inferserve/internal/dispatcher"
	"github.com/turtacn/inferserve/internal/domain"
	"github.com/turtacn/inferserve/internal/infra/metrics"
	"github.com/turtacn/inferserve/internal/infra/sqlite"
	"github.com/turtacn/inferserve/internal/intake"
	"github.com/turtacn/inferserve/internal/ledger"
	"github.com/turtacn/inferserve/internal/lifecycle"
	"github.com/turtacn/inferserve/internal/ratelimit"
	"github.com/turtacn/inferserve/internal/registry"
	"github.com/turtacn/inferserve/internal/tokenizer"
)

// allStatusPhases enumerates every StatusPhase so setModelStatusGauge can
// zero out phases a model just left, since a GaugeVec has no "set exactly
// this label, clear the rest" primitive.
var allStatusPhases = []domain.StatusPhase{
	domain.StatusInitializing,
	domain.StatusLoading,
	domain.StatusReady,
	domain.StatusRunning,
	domain.StatusError,
	domain.StatusUnloaded,
}

func setModelStatusGauge(id domain.ModelId, phase domain.StatusPhase) {
	for _, p := range allStatusPhases {
		v := 0.0
		if p == phase {
			v = 1.0
		}
		metrics.ModelStatus.WithLabelValues(string(id), string(p)).Set(v)
	}
}

func setHealthGauge(id domain.ModelId, h domain.Health) {
	v := 0.0
	if h == domain.HealthHealthy {
		v = 1.0
	}
	metrics.HealthCheckStatus.WithLabelValues(string(id)).Set(v)
}

// RegisterSpec carries the per-model configuration accepted by
// register_model, beyond its name and kind.
type RegisterSpec struct {
	Backend      string
	Device       domain.Device
	Optimize     domain.Optimization
	BatchPolicy  domain.BatchPolicy // zero value falls back to the engine's model_defaults
	CustomParams map[string]any
}

// Gateway is the Core API. It satisfies supervisor.Dispatch so a Supervisor
// can own its start/stop lifecycle alongside the dispatch loop it wraps.
type Gateway struct {
	reg     *registry.Registry
	ctrl    *lifecycle.Controller
	disp    *dispatcher.Dispatcher
	intk    *intake.Intake
	led     *ledger.Ledger
	db      *sqlite.DB // optional; nil disables audit persistence
	log     *zap.SugaredLogger
	limiter *ratelimit.PerModelLimiter

	rateLimit config.RateLimitConfig

	defaultBatchPolicy domain.BatchPolicy
	idleTimeout        time.Duration
	snapshotInterval   time.Duration

	wg sync.WaitGroup

	// runCtx holds the context passed to Start, so async work kicked off by
	// the Core API (loadAsync) observes shutdown cancellation instead of
	// running unbounded on context.Background(). atomic.Value because
	// RegisterModel can run concurrently with Start/Stop.
	runCtx atomic.Value
}

// loadCtx returns the context supplied to Start, or context.Background() if
// Start has not run yet (e.g. a test calling RegisterModel directly).
func (g *Gateway) loadCtx() context.Context {
	if v := g.runCtx.Load(); v != nil {
		return v.(context.Context)
	}
	return context.Background()
}

// New builds a Gateway from the loaded configuration. db may be nil to
// disable durable audit/snapshot persistence (the in-memory ledger still
// works; only the transition and snapshot rows are not written).
func New(cfg config.Config, db *sqlite.DB, log *zap.SugaredLogger) *Gateway {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	reg := registry.New(cfg.Engine.MaxModels)
	ctrl := lifecycle.New(reg)
	led := ledger.New(reg)

	dispCfg := dispatcher.DefaultConfig()
	dispCfg.HighWatermark = cfg.Engine.IngressHighWatermark
	disp := dispatcher.New(reg, ctrl, led, dispCfg)

	intk := intake.New(reg, disp)

	idleTimeout := time.Duration(cfg.Engine.IdleTimeoutSec) * time.Second
	snapshotInterval := time.Duration(cfg.Engine.SnapshotIntervalSec) * time.Second
	if snapshotInterval <= 0 {
		snapshotInterval = 30 * time.Second
	}

	return &Gateway{
		reg:       reg,
		ctrl:      ctrl,
		disp:      disp,
		intk:      intk,
		led:       led,
		db:        db,
		log:       log,
		limiter:   ratelimit.New(tokenizer.ForBackend("")),
		rateLimit: cfg.Security.RateLimit,
		defaultBatchPolicy: domain.BatchPolicy{
			MaxBatchSize:   cfg.Engine.ModelDefaults.MaxBatchSize,
			MaxWaitMs:      cfg.Engine.ModelDefaults.MaxWaitTimeMs,
			TimeoutMs:      cfg.Engine.ModelDefaults.TimeoutMs,
			DynamicPadding: cfg.Engine.ModelDefaults.DynamicPadding,
		},
		idleTimeout:      idleTimeout,
		snapshotInterval: snapshotInterval,
	}
}

// ─── Start/Stop (supervisor.Dispatch) ───────────────────────────────────────

// Start launches the dispatch loop and the background idle-eviction and
// snapshot-persistence loops.
func (g *Gateway) Start(ctx context.Context) error {
	g.runCtx.Store(ctx)
	if err := g.disp.Start(ctx); err != nil {
		return err
	}
	g.wg.Add(2)
	go g.runIdleEvictor(ctx)
	go g.runSnapshotPersister(ctx)
	return nil
}

// Stop waits for the background loops to observe ctx cancellation, then
// drains the dispatch loop.
func (g *Gateway) Stop() {
	g.wg.Wait()
	g.disp.Stop()
}

func (g *Gateway) runIdleEvictor(ctx context.Context) {
	defer g.wg.Done()
	if g.idleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.evictIdle()
		}
	}
}

func (g *Gateway) evictIdle() {
	now := time.Now()
	for _, info := range g.reg.List() {
		if info.Status.Phase != domain.StatusReady {
			continue
		}
		if now.Sub(info.LastAccess) < g.idleTimeout {
			continue
		}
		if err := g.ctrl.Unload(context.Background(), info.ID); err != nil {
			g.log.Warnw("idle eviction unload failed", "model", info.ID, "error", err)
			continue
		}
		setModelStatusGauge(info.ID, domain.StatusUnloaded)
		setHealthGauge(info.ID, domain.HealthUnknown)
		if g.db != nil {
			_ = g.db.RecordTransition(info.ID, domain.StatusUnloaded, "idle eviction")
		}
		g.log.Infow("evicted idle model", "model", info.ID, "idle_for", now.Sub(info.LastAccess))
	}
}

func (g *Gateway) runSnapshotPersister(ctx context.Context) {
	defer g.wg.Done()
	if g.db == nil {
		return
	}
	ticker := time.NewTicker(g.snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.persistSnapshots()
		}
	}
}

func (g *Gateway) persistSnapshots() {
	for _, info := range g.reg.List() {
		snap, err := g.led.Snapshot(info.ID)
		if err != nil {
			continue
		}
		if err := g.db.SaveSnapshot(info.ID, snap); err != nil {
			g.log.Warnw("snapshot persistence failed", "model", info.ID, "error", err)
		}
	}
}

// ─── Core API ────────────────────────────────────────────────────────────

// RegisterModel inserts a new model with status Loading and kicks off an
// asynchronous Plugin.Load. It returns as soon as the registry accepts the
// entry, per spec §6 ("non-blocking; load proceeds asynchronously") — the
// model is never externally observable in Initializing (spec §4.2).
func (g *Gateway) RegisterModel(name string, kind domain.ModelKind, spec RegisterSpec) (domain.ModelId, error) {
	id := domain.ModelId(uuid.NewString())

	bp := spec.BatchPolicy
	if bp.MaxBatchSize <= 0 {
		bp = g.defaultBatchPolicy
	}

	m := &domain.Model{
		ID:           id,
		Name:         name,
		Kind:         kind,
		Backend:      spec.Backend,
		Device:       spec.Device,
		Optimize:     spec.Optimize,
		BatchPolicy:  bp,
		CustomParams: spec.CustomParams,
	}

	if err := g.reg.Insert(m); err != nil {
		return "", err
	}

	if g.rateLimit.Enabled {
		g.limiter.Configure(string(id), float64(g.rateLimit.RPM)/60.0, g.rateLimit.Burst, 0, 0)
	}

	metrics.ModelsRegistered.Inc()
	setModelStatusGauge(id, domain.StatusLoading)
	setHealthGauge(id, domain.HealthUnknown)

	g.wg.Add(1)
	go g.loadAsync(id)

	return id, nil
}

func (g *Gateway) loadAsync(id domain.ModelId) {
	defer g.wg.Done()
	ctx := g.loadCtx()

	if g.db != nil {
		_ = g.db.RecordTransition(id, domain.StatusLoading, "")
	}

	loadErr := g.ctrl.Load(ctx, id)

	if info, err := g.reg.Get(id); err == nil {
		setModelStatusGauge(id, info.Status.Phase)
		setHealthGauge(id, info.Health)
		if g.db != nil {
			_ = g.db.RecordTransition(id, info.Status.Phase, info.Status.ErrorMessage)
		}
	}
	if loadErr != nil {
		g.log.Warnw("model load failed", "model", id, "error", loadErr)
	}
}

// UnregisterModel unloads the model's plugin handle and removes it from the
// registry. Per spec §6 it is synchronous with respect to the registry
// mutation: once it returns, the id is gone from get_model_info/list_models.
func (g *Gateway) UnregisterModel(ctx context.Context, id domain.ModelId) error {
	if err := g.ctrl.Unload(ctx, id); err != nil {
		return err
	}
	if g.db != nil {
		_ = g.db.RecordTransition(id, domain.StatusUnloaded, "")
		_ = g.db.DeleteSnapshot(id)
	}
	g.limiter.Remove(string(id))
	if err := g.reg.Remove(id); err != nil {
		return err
	}

	metrics.ModelsRegistered.Dec()
	for _, p := range allStatusPhases {
		metrics.ModelStatus.DeleteLabelValues(string(id), string(p))
	}
	metrics.HealthCheckStatus.DeleteLabelValues(string(id))
	return nil
}

// GetModelInfo returns a model's current public snapshot. Inspecting a
// model is not inference traffic, so this reads via Peek and does not
// reset the idle-eviction clock the way Predict/BatchPredict do.
func (g *Gateway) GetModelInfo(id domain.ModelId) (domain.Info, error) {
	return g.reg.Peek(id)
}

// ListModels returns every registered model's public snapshot.
func (g *Gateway) ListModels() []domain.Info {
	return g.reg.List()
}

// Predict submits a single request and awaits its terminal result, racing
// the model's batch-policy timeout_ms alongside the queue-wait deadline the
// dispatcher already enforces (spec §4.6's "per-request timeout"). On
// timeout the waiter is dropped non-destructively — the dispatcher may
// still execute and complete the batch; this caller simply stops listening.
func (g *Gateway) Predict(ctx context.Context, id domain.ModelId, input domain.Input, params domain.Parameters) (*domain.Response, error) {
	info, err := g.reg.Get(id)
	if err != nil {
		return nil, err
	}

	if g.rateLimit.Enabled {
		if err := g.limiter.Allow(string(id), input.Text); err != nil {
			return nil, err
		}
	}

	timeout := time.Duration(info.BatchPolicy.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	req, err := g.intk.Submit(id, input, params)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-req.Waiter:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Response, nil
	case <-timer.C:
		return nil, apierr.NewExpired(string(req.ID))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// BatchPredict is logically N concurrent Predict calls against the same
// model, per spec §6; the i-th result corresponds to the i-th input. A
// per-request failure does not short-circuit the others.
func (g *Gateway) BatchPredict(ctx context.Context, id domain.ModelId, inputs []domain.Input, params domain.Parameters) ([]*domain.Response, []error) {
	n := len(inputs)
	responses := make([]*domain.Response, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i, in := range inputs {
		go func(i int, in domain.Input) {
			defer wg.Done()
			resp, err := g.Predict(ctx, id, in, params)
			responses[i] = resp
			errs[i] = err
		}(i, in)
	}
	wg.Wait()

	return responses, errs
}

// Health reports Healthy iff at least one model's health is Healthy,
// Unknown iff the registry is empty, Unhealthy otherwise.
func (g *Gateway) Health() domain.Health {
	infos := g.reg.List()
	if len(infos) == 0 {
		return domain.HealthUnknown
	}
	for _, info := range infos {
		if info.Health == domain.HealthHealthy {
			return domain.HealthHealthy
		}
	}
	return domain.HealthUnhealthy
}

// Package dispatcher implements the Adaptive Micro-Batching Dispatcher
// (spec §4.6) — the heart of the gateway. It collects incoming requests,
// groups them by model id, flushes a group when its size reaches the
// model's max_batch_size or its oldest request reaches max_wait_ms,
// executes each flushed chunk through the plugin boundary, and fans
// results back to the originating waiters by position.
//
// Locking mirrors the teacher's scheduler: a single mutex (ingressMu) held
// only across the O(n) drain-and-partition step of a tick, never across a
// suspension point such as a channel receive or a plugin call. The running
// flag gets its own lock, per spec §9's "three shared aggregates" note.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/turtacn/inferserve/internal/apierr"
	"github.com/turtacn/inferserve/internal/domain"
	"github.com/turtacn/inferserve/internal/infra/metrics"
	"github.com/turtacn/inferserve/internal/ledger"
	"github.com/turtacn/inferserve/internal/lifecycle"
	"github.com/turtacn/inferserve/internal/plugin"
	"github.com/turtacn/inferserve/internal/registry"
	"github.com/turtacn/inferserve/internal/tokenizer"
)

// Config tunes the dispatch loop. TickInterval mirrors spec §4.6's fixed
// 10ms cadence; HighWatermark caps the number of queued requests (ingress
// plus pending) before Submit refuses with Overloaded. The gateway passes
// engine.ingress_high_watermark through unchanged.
type Config struct {
	TickInterval  time.Duration
	HighWatermark int // <=0 means unbounded
}

func DefaultConfig() Config {
	return Config{
		TickInterval:  10 * time.Millisecond,
		HighWatermark: 0,
	}
}

// Dispatcher owns the ingress queue, the pending buffer, and the dispatch
// loop's lifetime.
type Dispatcher struct {
	cfg  Config
	reg  *registry.Registry
	ctrl *lifecycle.Controller
	led  *ledger.Ledger

	ingressMu sync.Mutex
	ingress   []*domain.Request
	pending   []*domain.Request

	runMu    sync.RWMutex
	running  bool
	draining bool

	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup // outstanding executor tasks

	modelLocks sync.Map // domain.ModelId -> *sync.Mutex, for non-reentrant handles

	batchMu  sync.Mutex
	inFlight map[domain.ModelId]int // concurrent execute() chunks per model, for Running/Ready handoff
}

func New(reg *registry.Registry, ctrl *lifecycle.Controller, led *ledger.Ledger, cfg Config) *Dispatcher {
	return &Dispatcher{cfg: cfg, reg: reg, ctrl: ctrl, led: led, inFlight: make(map[domain.ModelId]int)}
}

// beginBatch records one more concurrently-executing chunk for modelID,
// reporting whether it is the first (and so responsible for the Ready ->
// Running transition). A flushed group can be split across several chunks
// when it overshoots max_batch_size, so more than one execute() call can be
// in flight for the same model at once.
func (d *Dispatcher) beginBatch(modelID domain.ModelId) bool {
	d.batchMu.Lock()
	defer d.batchMu.Unlock()
	first := d.inFlight[modelID] == 0
	d.inFlight[modelID]++
	return first
}

// endBatch records one fewer concurrently-executing chunk, reporting
// whether it was the last (and so responsible for the Running -> Ready
// transition). Without this accounting, the first chunk to finish would
// flip the model back to Ready while sibling chunks still hold its handle.
func (d *Dispatcher) endBatch(modelID domain.ModelId) bool {
	d.batchMu.Lock()
	defer d.batchMu.Unlock()
	d.inFlight[modelID]--
	if d.inFlight[modelID] <= 0 {
		delete(d.inFlight, modelID)
		return true
	}
	return false
}

// Submit enqueues a request for batching. It refuses with Overloaded once
// the ingress queue exceeds the configured high-watermark.
func (d *Dispatcher) Submit(req *domain.Request) error {
	d.runMu.RLock()
	running := d.running
	d.runMu.RUnlock()
	if !running {
		return apierr.NewShutdown()
	}

	d.ingressMu.Lock()
	defer d.ingressMu.Unlock()
	if d.cfg.HighWatermark > 0 && len(d.ingress)+len(d.pending) >= d.cfg.HighWatermark {
		metrics.OverloadedTotal.Inc()
		return apierr.NewOverloaded()
	}
	d.ingress = append(d.ingress, req)
	metrics.IngressQueueDepth.Set(float64(len(d.ingress) + len(d.pending)))
	return nil
}

// Start launches the dispatch loop. A second Start on a running Dispatcher
// fails with a validation error (AlreadyRunning has no dedicated code — the
// taxonomy does not need one beyond Validation for a programming-level
// misuse).
func (d *Dispatcher) Start(ctx context.Context) error {
	d.runMu.Lock()
	if d.running {
		d.runMu.Unlock()
		return apierr.NewValidation("dispatcher already running")
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.runMu.Unlock()

	go d.loop(ctx)
	return nil
}

// Stop requests the dispatch loop drain and exit, then blocks until it has.
// Intake calls after Stop has been observed fail with Shutdown.
func (d *Dispatcher) Stop() {
	d.runMu.Lock()
	if !d.running {
		d.runMu.Unlock()
		return
	}
	d.running = false
	stopCh := d.stopCh
	doneCh := d.doneCh
	d.runMu.Unlock()

	close(stopCh)
	<-doneCh
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.doneCh)
	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.drainAndExit()
			return
		case <-d.stopCh:
			d.drainAndExit()
			return
		case <-ticker.C:
			d.tick(false)
		}
	}
}

// drainAndExit forces every remaining group to flush, regardless of size or
// age, then waits for all outstanding executors before returning.
func (d *Dispatcher) drainAndExit() {
	d.runMu.Lock()
	d.draining = true
	d.runMu.Unlock()

	for {
		d.ingressMu.Lock()
		remaining := len(d.ingress) + len(d.pending)
		d.ingressMu.Unlock()
		if remaining == 0 {
			break
		}
		d.tick(true)
	}
	d.wg.Wait()
}

// tick runs one iteration of steps 1-5 from spec §4.6. force is set only
// during shutdown drain, when every group flushes unconditionally.
func (d *Dispatcher) tick(force bool) {
	groups, expired := d.drainAndPartition(force)

	for _, req := range expired {
		metrics.RequestsTotal.WithLabelValues(string(req.ModelID), "expired").Inc()
		d.deliver(req, domain.Result{Err: apierr.NewExpired(string(req.ID))})
	}

	for modelID, group := range groups {
		policy := d.batchPolicyFor(modelID)
		chunkSize := policy.MaxBatchSize
		if chunkSize <= 0 {
			chunkSize = len(group)
		}
		for start := 0; start < len(group); start += chunkSize {
			end := start + chunkSize
			if end > len(group) {
				end = len(group)
			}
			chunk := group[start:end]
			d.wg.Add(1)
			go d.execute(modelID, chunk)
		}
	}
}

// drainAndPartition holds ingressMu only for this O(n) step: it drains the
// ingress slice into pending, then partitions pending by model id,
// separating requests whose age exceeds their model's max_wait_ms into an
// expired set. Requests belonging to groups not flushed this tick are put
// back into pending for the next one.
func (d *Dispatcher) drainAndPartition(force bool) (map[domain.ModelId][]*domain.Request, []*domain.Request) {
	d.ingressMu.Lock()
	defer d.ingressMu.Unlock()

	d.pending = append(d.pending, d.ingress...)
	d.ingress = d.ingress[:0]

	now := time.Now()
	byModel := make(map[domain.ModelId][]*domain.Request)
	var expired []*domain.Request

	for _, req := range d.pending {
		policy := d.batchPolicyFor(req.ModelID)
		maxWait := time.Duration(policy.MaxWaitMs) * time.Millisecond
		if maxWait > 0 && now.Sub(req.SubmitAt) > maxWait {
			expired = append(expired, req)
			metrics.ExpiredTotal.WithLabelValues(string(req.ModelID)).Inc()
			continue
		}
		byModel[req.ModelID] = append(byModel[req.ModelID], req)
	}

	flushed := make(map[domain.ModelId][]*domain.Request)
	var carryOver []*domain.Request

	for modelID, group := range byModel {
		policy := d.batchPolicyFor(modelID)
		maxWait := time.Duration(policy.MaxWaitMs) * time.Millisecond
		oldestAge := now.Sub(group[0].SubmitAt)

		reason := ""
		switch {
		case force:
			reason = "drain"
		case policy.MaxBatchSize > 0 && len(group) >= policy.MaxBatchSize:
			reason = "size"
		case maxWait > 0 && oldestAge >= maxWait:
			reason = "deadline"
		}

		if reason != "" {
			flushed[modelID] = group
			metrics.FlushesTotal.WithLabelValues(string(modelID), reason).Inc()
		} else {
			carryOver = append(carryOver, group...)
		}
	}

	d.pending = carryOver
	metrics.IngressQueueDepth.Set(float64(len(d.ingress) + len(d.pending)))
	return flushed, expired
}

func (d *Dispatcher) batchPolicyFor(id domain.ModelId) domain.BatchPolicy {
	info, err := d.reg.Get(id)
	if err != nil {
		return domain.DefaultBatchPolicy()
	}
	return info.BatchPolicy
}

// execute runs one flushed chunk through the plugin boundary and fans
// results back by position. A plugin error fails every request in the
// chunk with the same error, isolating the failure to this batch only.
func (d *Dispatcher) execute(modelID domain.ModelId, chunk []*domain.Request) {
	defer d.wg.Done()

	start := time.Now()

	info, err := d.reg.Get(modelID)
	if err != nil {
		d.failAll(chunk, err, start)
		return
	}

	port, err := plugin.Lookup(info.Backend)
	if err != nil {
		d.failAll(chunk, apierr.NewPluginInfer(string(modelID), err), start)
		return
	}

	inputs := make([]plugin.Input, len(chunk))
	params := make([]plugin.Params, len(chunk))
	for i, req := range chunk {
		inputs[i] = toPluginInput(req.Input)
		params[i] = toPluginParams(req.Params)
	}

	// beginBatch records this chunk against the model's in-flight count
	// before anything else, so sibling chunks from the same flushed group
	// (a group split across several chunks when it overshoots
	// max_batch_size) agree on exactly one "first" chunk. Only that first
	// chunk flips Ready -> Running, and only the chunk that calls endBatch
	// last flips Running back to Ready — handle capture and the Running
	// transition happen in the same Mutate call, so the evictor's "only
	// evict Ready" check (gateway.evictIdle) never observes a Ready model
	// whose handle a batch has already claimed.
	first := d.beginBatch(modelID)
	var handle plugin.Handle
	_ = d.reg.Mutate(modelID, func(m *domain.Model) {
		if h, ok := m.Handle.(plugin.Handle); ok {
			handle = h
		}
		if first && m.Status.Phase == domain.StatusReady {
			m.Status = domain.Status{Phase: domain.StatusRunning}
		}
	})
	if handle == nil {
		if d.endBatch(modelID) {
			_ = d.ctrl.MarkIdle(modelID)
		}
		d.failAll(chunk, apierr.NewModelUnavailable(string(modelID)), start)
		return
	}
	defer func() {
		if d.endBatch(modelID) {
			_ = d.ctrl.MarkIdle(modelID)
		}
	}()

	metrics.BatchSize.WithLabelValues(string(modelID)).Observe(float64(len(chunk)))

	inferStart := time.Now()
	var outputs []plugin.Output
	var inferErr error
	if handle.SupportsBatching() {
		outputs, inferErr = d.callInfer(handle, port, modelID, inputs, params)
	} else {
		lk := d.lockFor(modelID)
		lk.Lock()
		outputs, inferErr = d.callInfer(handle, port, modelID, inputs, params)
		lk.Unlock()
	}
	metrics.InferenceLatency.WithLabelValues(string(modelID)).Observe(time.Since(inferStart).Seconds())

	if inferErr != nil {
		d.failAll(chunk, apierr.NewPluginInfer(string(modelID), inferErr), start)
		return
	}
	if len(outputs) != len(chunk) {
		d.failAll(chunk, apierr.NewInternal("plugin returned mismatched output count", nil), start)
		return
	}

	tok := tokenizer.ForBackend(info.Backend)
	end := time.Now()
	for i, req := range chunk {
		latency := end.Sub(req.SubmitAt)
		d.led.Record(modelID, true, latency)

		output := fromPluginOutput(outputs[i])
		inferenceMs := float64(end.Sub(start).Microseconds()) / 1000.0
		resp := &domain.Response{
			RequestID: req.ID,
			ModelID:   modelID,
			Output:    output,
			Metadata:  domain.Metadata{Backend: info.Backend},
			Metrics: domain.Metrics{
				StartTime:          req.SubmitAt,
				EndTime:            end,
				TotalLatencyMs:     float64(latency.Microseconds()) / 1000.0,
				InferenceLatencyMs: inferenceMs,
				QueueWaitMs:        float64(start.Sub(req.SubmitAt).Microseconds()) / 1000.0,
				BatchSize:          len(chunk),
			},
			Timestamp: end,
		}

		inTokens, _ := tok.CalculateTokenNum(req.Input.Text)
		outTokens, _ := tok.CalculateTokenNum(output.Text)
		resp.Metrics.InputTokens = &inTokens
		resp.Metrics.OutputTokens = &outTokens
		metrics.InferenceTokens.WithLabelValues(string(modelID), "input").Add(float64(inTokens))
		metrics.InferenceTokens.WithLabelValues(string(modelID), "output").Add(float64(outTokens))
		if inferenceMs > 0 {
			throughput := float64(inTokens+outTokens) / (inferenceMs / 1000.0)
			resp.Metrics.Throughput = &throughput
		}

		d.deliver(req, domain.Result{Response: resp})
	}
}

func (d *Dispatcher) callInfer(h plugin.Handle, port plugin.Port, modelID domain.ModelId, inputs []plugin.Input, params []plugin.Params) ([]plugin.Output, error) {
	return port.Infer(context.Background(), h, inputs, params)
}

func (d *Dispatcher) failAll(chunk []*domain.Request, err error, start time.Time) {
	now := time.Now()
	for _, req := range chunk {
		d.led.Record(req.ModelID, false, now.Sub(req.SubmitAt))
		d.deliver(req, domain.Result{Err: err})
	}
}

// deliver is non-blocking and non-destructive: if the caller already
// dropped its receive side (timed out), the send is simply discarded —
// the batch continues to completion for every other waiter in the chunk.
func (d *Dispatcher) deliver(req *domain.Request, res domain.Result) {
	select {
	case req.Waiter <- res:
	default:
	}
}

func (d *Dispatcher) lockFor(id domain.ModelId) *sync.Mutex {
	v, _ := d.modelLocks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func toPluginInput(in domain.Input) plugin.Input {
	out := plugin.Input{Kind: string(in.Kind), Text: in.Text, Binary: in.Binary, JSON: in.JSON}
	if in.Multimodal != nil {
		out.Multimodal = make(map[string]plugin.Input, len(in.Multimodal))
		for k, v := range in.Multimodal {
			out.Multimodal[k] = toPluginInput(v)
		}
	}
	return out
}

func fromPluginOutput(out plugin.Output) domain.Input {
	in := domain.Input{Kind: domain.InputKind(out.Kind), Text: out.Text, Binary: out.Binary, JSON: out.JSON}
	if out.Multimodal != nil {
		in.Multimodal = make(map[string]domain.Input, len(out.Multimodal))
		for k, v := range out.Multimodal {
			in.Multimodal[k] = fromPluginOutput(v)
		}
	}
	return in
}

func toPluginParams(p domain.Parameters) plugin.Params {
	return plugin.Params{
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		TopP:        p.TopP,
		TopK:        p.TopK,
		Stream:      p.Stream,
		Custom:      p.Custom,
	}
}

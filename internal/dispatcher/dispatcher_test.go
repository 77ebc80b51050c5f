package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/turtacn/inferserve/internal/domain"
	"github.com/turtacn/inferserve/internal/ledger"
	"github.com/turtacn/inferserve/internal/lifecycle"
	"github.com/turtacn/inferserve/internal/plugin"
	"github.com/turtacn/inferserve/internal/plugin/mock"
	"github.com/turtacn/inferserve/internal/registry"
)

func newTestDispatcher(t *testing.T, cfg Config) (*Dispatcher, *registry.Registry, *lifecycle.Controller) {
	t.Helper()
	reg := registry.New(0)
	ctrl := lifecycle.New(reg)
	led := ledger.New(reg)
	d := New(reg, ctrl, led, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		d.Stop()
		cancel()
	})
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return d, reg, ctrl
}

func registerAndLoad(t *testing.T, reg *registry.Registry, ctrl *lifecycle.Controller, id string, policy domain.BatchPolicy) {
	t.Helper()
	m := &domain.Model{ID: domain.ModelId(id), Name: id, Backend: "mock", BatchPolicy: policy}
	if err := reg.Insert(m); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := ctrl.Load(context.Background(), domain.ModelId(id)); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func submitText(t *testing.T, d *Dispatcher, modelID, text string) *domain.Request {
	t.Helper()
	req := &domain.Request{
		ID:       domain.RequestId(text + modelID),
		ModelID:  domain.ModelId(modelID),
		Input:    domain.Input{Kind: domain.InputText, Text: text},
		SubmitAt: time.Now(),
		Waiter:   make(chan domain.Result, 1),
	}
	if err := d.Submit(req); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return req
}

func TestHappyPathSingleRequest(t *testing.T) {
	d, reg, ctrl := newTestDispatcher(t, Config{TickInterval: 5 * time.Millisecond})
	registerAndLoad(t, reg, ctrl, "m1", domain.BatchPolicy{MaxBatchSize: 4, MaxWaitMs: 50})

	req := submitText(t, d, "m1", "hi")
	select {
	case res := <-req.Waiter:
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
		if res.Response.Output.Text != "Processed: hi" {
			t.Fatalf("got %q, want %q", res.Response.Output.Text, "Processed: hi")
		}
		if res.Response.Metrics.BatchSize != 1 {
			t.Fatalf("got batch size %d, want 1", res.Response.Metrics.BatchSize)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestCoalescingFlushesOnSize(t *testing.T) {
	d, reg, ctrl := newTestDispatcher(t, Config{TickInterval: 5 * time.Millisecond})
	registerAndLoad(t, reg, ctrl, "m1", domain.BatchPolicy{MaxBatchSize: 4, MaxWaitMs: 1000})

	reqs := make([]*domain.Request, 4)
	start := time.Now()
	for i := 0; i < 4; i++ {
		reqs[i] = submitText(t, d, "m1", "x")
	}

	for _, req := range reqs {
		select {
		case res := <-req.Waiter:
			if res.Err != nil {
				t.Fatalf("unexpected error: %v", res.Err)
			}
			if res.Response.Metrics.BatchSize != 4 {
				t.Fatalf("got batch size %d, want 4", res.Response.Metrics.BatchSize)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for coalesced response")
		}
	}
	if time.Since(start) >= 500*time.Millisecond {
		t.Fatalf("coalescing took too long: %v", time.Since(start))
	}
}

func TestDeadlineFlush(t *testing.T) {
	d, reg, ctrl := newTestDispatcher(t, Config{TickInterval: 5 * time.Millisecond})
	registerAndLoad(t, reg, ctrl, "m1", domain.BatchPolicy{MaxBatchSize: 32, MaxWaitMs: 50})

	start := time.Now()
	r1 := submitText(t, d, "m1", "a")
	r2 := submitText(t, d, "m1", "b")

	for _, req := range []*domain.Request{r1, r2} {
		select {
		case res := <-req.Waiter:
			if res.Err != nil {
				t.Fatalf("unexpected error: %v", res.Err)
			}
			if res.Response.Metrics.BatchSize != 2 {
				t.Fatalf("got batch size %d, want 2", res.Response.Metrics.BatchSize)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for deadline-flushed response")
		}
	}
	elapsed := time.Since(start)
	if elapsed < 40*time.Millisecond {
		t.Fatalf("flushed too early: %v", elapsed)
	}
}

func TestShortMaxWaitDeliversTerminalEvent(t *testing.T) {
	backend := &mock.Backend{NeverReturn: false}
	plugin.Register("short-wait-test", func() plugin.Port { return backend })

	d, reg, ctrl := newTestDispatcher(t, Config{TickInterval: 5 * time.Millisecond})
	m := &domain.Model{ID: "slow", Name: "slow", Backend: "short-wait-test",
		BatchPolicy: domain.BatchPolicy{MaxBatchSize: 32, MaxWaitMs: 10}}
	if err := reg.Insert(m); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := ctrl.Load(context.Background(), "slow"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// A single request can never reach max_batch_size (32), so it stays
	// pending until its 10ms max_wait_ms deadline; the backend returns
	// normally, so the request must reach a terminal event either way.
	req := submitText(t, d, "slow", "x")
	select {
	case res := <-req.Waiter:
		// Either deadline-flushed successfully (batch of 1, echoed) or
		// expired; both are acceptable terminal outcomes depending on tick
		// timing relative to max_wait_ms, but one of them must arrive.
		_ = res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal event")
	}
}

func TestErrorIsolationBetweenModels(t *testing.T) {
	failing := &mock.Backend{Fail: true}
	plugin.Register("failing-isolation-test", func() plugin.Port { return failing })

	d, reg, ctrl := newTestDispatcher(t, Config{TickInterval: 5 * time.Millisecond})
	registerAndLoad(t, reg, ctrl, "good", domain.BatchPolicy{MaxBatchSize: 4, MaxWaitMs: 50})

	mBad := &domain.Model{ID: "bad", Name: "bad", Backend: "failing-isolation-test",
		BatchPolicy: domain.BatchPolicy{MaxBatchSize: 4, MaxWaitMs: 50}}
	if err := reg.Insert(mBad); err != nil {
		t.Fatalf("Insert bad: %v", err)
	}
	if err := ctrl.Load(context.Background(), "bad"); err != nil {
		t.Fatalf("Load bad: %v", err)
	}

	var goodReqs, badReqs []*domain.Request
	for i := 0; i < 4; i++ {
		goodReqs = append(goodReqs, submitText(t, d, "good", "g"))
		badReqs = append(badReqs, submitText(t, d, "bad", "b"))
	}

	for _, req := range goodReqs {
		select {
		case res := <-req.Waiter:
			if res.Err != nil {
				t.Fatalf("good model request failed: %v", res.Err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for good response")
		}
	}
	for _, req := range badReqs {
		select {
		case res := <-req.Waiter:
			if res.Err == nil {
				t.Fatalf("expected bad model request to fail")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for bad response")
		}
	}
}

func TestBatchChunkingSplitsOverflow(t *testing.T) {
	d, reg, ctrl := newTestDispatcher(t, Config{TickInterval: 5 * time.Millisecond})
	registerAndLoad(t, reg, ctrl, "m1", domain.BatchPolicy{MaxBatchSize: 2, MaxWaitMs: 1000})

	var reqs []*domain.Request
	for i := 0; i < 3; i++ {
		reqs = append(reqs, submitText(t, d, "m1", "x"))
	}

	sizes := make(map[int]int)
	for _, req := range reqs {
		select {
		case res := <-req.Waiter:
			if res.Err != nil {
				t.Fatalf("unexpected error: %v", res.Err)
			}
			sizes[res.Response.Metrics.BatchSize]++
		case <-time.After(2 * time.Second):
			t.Fatal("timed out")
		}
	}
	if sizes[2] != 2 || sizes[1] != 1 {
		t.Fatalf("got batch size distribution %+v, want one chunk of 2 and one of 1", sizes)
	}

	// Both chunks ran concurrently against the same model; only the last one
	// to finish should flip the model back to Ready (the first chunk to
	// finish must not reset it while its sibling is still in flight).
	info, err := reg.Get("m1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if info.Status.Phase != domain.StatusReady {
		t.Fatalf("got status %q after all chunks completed, want ready", info.Status.Phase)
	}
}

func TestResponseMetricsIncludeTokenCounts(t *testing.T) {
	d, reg, ctrl := newTestDispatcher(t, Config{TickInterval: 5 * time.Millisecond})
	registerAndLoad(t, reg, ctrl, "m1", domain.BatchPolicy{MaxBatchSize: 4, MaxWaitMs: 50})

	req := submitText(t, d, "m1", "hello world")
	select {
	case res := <-req.Waiter:
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
		m := res.Response.Metrics
		if m.InputTokens == nil || *m.InputTokens <= 0 {
			t.Fatalf("InputTokens = %v, want a positive estimate", m.InputTokens)
		}
		if m.OutputTokens == nil || *m.OutputTokens <= 0 {
			t.Fatalf("OutputTokens = %v, want a positive estimate", m.OutputTokens)
		}
		if m.Throughput == nil || *m.Throughput <= 0 {
			t.Fatalf("Throughput = %v, want a positive estimate", m.Throughput)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestOverloadedBackpressure(t *testing.T) {
	d, reg, ctrl := newTestDispatcher(t, Config{TickInterval: time.Hour, HighWatermark: 1})
	registerAndLoad(t, reg, ctrl, "m1", domain.BatchPolicy{MaxBatchSize: 4, MaxWaitMs: 50})

	req1 := &domain.Request{ID: "r1", ModelID: "m1", Input: domain.Input{Kind: domain.InputText, Text: "a"}, SubmitAt: time.Now(), Waiter: make(chan domain.Result, 1)}
	if err := d.Submit(req1); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	req2 := &domain.Request{ID: "r2", ModelID: "m1", Input: domain.Input{Kind: domain.InputText, Text: "b"}, SubmitAt: time.Now(), Waiter: make(chan domain.Result, 1)}
	if err := d.Submit(req2); err == nil {
		t.Fatalf("expected second Submit to be refused under backpressure")
	}
}

func TestDroppedWaiterDoesNotBlockDispatch(t *testing.T) {
	d, reg, ctrl := newTestDispatcher(t, Config{TickInterval: 5 * time.Millisecond})
	registerAndLoad(t, reg, ctrl, "m1", domain.BatchPolicy{MaxBatchSize: 2, MaxWaitMs: 50})

	dropped := &domain.Request{ID: "dropped", ModelID: "m1", Input: domain.Input{Kind: domain.InputText, Text: "x"}, SubmitAt: time.Now(), Waiter: make(chan domain.Result)} // unbuffered, never read
	if err := d.Submit(dropped); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	kept := submitText(t, d, "m1", "y")

	select {
	case res := <-kept.Waiter:
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch stalled because of a dropped waiter")
	}
}

// Package mock implements an in-process, deterministic plugin backend for
// tests and the end-to-end scenarios in spec §8. It is registered under
// the backend name "echo" and under "mock" as an alias, grounded on the
// teacher's engine.MockBackend.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/turtacn/inferserve/internal/plugin"
)

func init() {
	plugin.Register("echo", func() plugin.Port { return New() })
	plugin.Register("mock", func() plugin.Port { return New() })
}

// Backend is a deterministic Port implementation. Delay simulates
// inference latency; Fail, when set, makes every Infer call on handles it
// loaded return an error (used to exercise spec §8's error-isolation
// scenario).
type Backend struct {
	mu    sync.Mutex
	Delay time.Duration
	Fail  bool
	// NeverReturn makes Infer block until ctx is cancelled, for exercising
	// the deadline/expiry scenario in spec §8.
	NeverReturn bool
}

func New() *Backend { return &Backend{} }

type handle struct {
	modelID string
}

func (h *handle) SupportsBatching() bool { return true }
func (h *handle) MaxBatchSize() int      { return 0 } // no backend-imposed cap beyond the model's policy

func (b *Backend) Load(ctx context.Context, modelID string, _ plugin.Config) (plugin.Handle, error) {
	return &handle{modelID: modelID}, nil
}

func (b *Backend) Unload(ctx context.Context, h plugin.Handle) error {
	return nil // idempotent no-op: nothing to release for an in-process mock
}

func (b *Backend) Infer(ctx context.Context, h plugin.Handle, inputs []plugin.Input, params []plugin.Params) ([]plugin.Output, error) {
	b.mu.Lock()
	fail, delay, neverReturn := b.Fail, b.Delay, b.NeverReturn
	b.mu.Unlock()

	if neverReturn {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if fail {
		return nil, fmt.Errorf("mock backend: simulated inference failure")
	}

	outputs := make([]plugin.Output, len(inputs))
	for i, in := range inputs {
		switch in.Kind {
		case "text":
			outputs[i] = plugin.Output{Kind: "text", Text: "Processed: " + in.Text}
		case "binary":
			out := make([]byte, len(in.Binary))
			copy(out, in.Binary)
			outputs[i] = plugin.Output{Kind: "binary", Binary: out}
		case "json":
			outputs[i] = plugin.Output{Kind: "json", JSON: in.JSON}
		case "multimodal":
			parts := make(map[string]plugin.Input, len(in.Multimodal))
			for k, v := range in.Multimodal {
				parts[k] = plugin.Input{Kind: "text", Text: "Processed: " + v.Text}
			}
			outputs[i] = plugin.Output{Kind: "multimodal", Multimodal: parts}
		default:
			outputs[i] = in
		}
	}
	return outputs, nil
}

// Package plugin defines the narrow capability boundary the rest of the
// core depends on for model execution (spec §4.1), and a tagged registry
// of backend factories — generalized from the teacher's InferenceBackend
// abstraction (internal/infra/engine) from a single CGO-or-mock backend
// into a name-keyed registry any backend can join at startup, per the
// "dynamic dispatch over plugins, no inheritance" design note.
package plugin

import (
	"context"
	"fmt"
	"sync"
)

// Handle is an opaque token a Plugin returns from Load and consumes in
// Infer/Unload. It advertises the two facts the dispatcher needs to decide
// how to call Infer.
type Handle interface {
	SupportsBatching() bool
	MaxBatchSize() int
}

// Port is the capability set a backend must satisfy. Load may be
// long-running and must be safe to call concurrently for distinct model
// ids; the core never assumes thread-safety beyond that. Unload is
// idempotent. Infer fails the whole batch on error — partial success is
// not expressed at this layer.
type Port interface {
	Load(ctx context.Context, modelID string, config Config) (Handle, error)
	Unload(ctx context.Context, handle Handle) error
	Infer(ctx context.Context, handle Handle, inputs []Input, params []Params) ([]Output, error)
}

// Config is the opaque, backend-specific load configuration. Concrete
// plugins type-assert or decode the fields they understand.
type Config struct {
	Backend      string
	DeviceType   string
	DeviceIDs    []int
	MemoryCapMB  int64
	Quantization string
	KVCache      bool
	Custom       map[string]any
}

// Input/Output/Params mirror domain's tagged-variant shapes but are kept
// local to the plugin package so backends do not import domain — the
// plugin boundary is intentionally narrow (spec §9: "no cycle").
type Input struct {
	Kind       string
	Text       string
	Binary     []byte
	JSON       any
	Multimodal map[string]Input
}

type Output = Input

type Params struct {
	MaxTokens   *int
	Temperature *float64
	TopP        *float64
	TopK        *int
	Stream      bool
	Custom      map[string]any
}

// Factory constructs a Port instance for a backend name.
type Factory func() Port

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register adds a backend factory to the process-wide registry. Intended
// to be called from package init() functions at startup, mirroring the
// teacher's "implementations register at startup" design note.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = f
}

// Lookup returns a fresh Port for the named backend, or an error if no
// factory was registered under that name.
func Lookup(name string) (Port, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("plugin: no backend registered under name %q", name)
	}
	return f(), nil
}

// Names returns the currently registered backend names, for diagnostics.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	return names
}

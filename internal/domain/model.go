// Package domain holds the gateway's core entities — models, requests, and
// responses — as pure data types with no infrastructure dependency, in the
// teacher's style of keeping domain types free of storage or transport
// concerns.
package domain

import "time"

// ModelId is an opaque, stable identifier for a registered model.
// Unloaded is terminal: a new registration always mints a fresh id.
type ModelId string

// ModelKind tags the model's task family. Custom carries a free-form name
// for kinds the fixed variants don't cover.
type ModelKind struct {
	Kind   string // "llm", "cv", "audio", "multimodal", "ml", "custom"
	Custom string // populated only when Kind == "custom"
}

const (
	KindLLM        = "llm"
	KindCV         = "cv"
	KindAudio      = "audio"
	KindMultimodal = "multimodal"
	KindML         = "ml"
	KindCustom     = "custom"
)

// DeviceType enumerates the accelerator families a model may be bound to.
type DeviceType string

const (
	DeviceCPU    DeviceType = "cpu"
	DeviceCUDA   DeviceType = "cuda"
	DeviceMetal  DeviceType = "metal"
	DeviceOpenCL DeviceType = "opencl"
	DeviceNPU    DeviceType = "npu"
)

// Device describes the hardware a model instance runs on.
type Device struct {
	Type           DeviceType
	DeviceIDs      []int
	MemoryCapMB    int64
	MixedPrecision bool
}

// Quantization enumerates the supported weight quantization schemes.
type Quantization string

const (
	QuantNone    Quantization = ""
	QuantINT8    Quantization = "int8"
	QuantINT4    Quantization = "int4"
	QuantFP16    Quantization = "fp16"
	QuantDynamic Quantization = "dynamic"
)

// MemoryPressure is a coarse signal the optimizer/plugin may act on.
type MemoryPressure string

const (
	PressureLow    MemoryPressure = "low"
	PressureMedium MemoryPressure = "medium"
	PressureHigh   MemoryPressure = "high"
)

// Optimization describes inference-time optimization knobs passed through
// to the plugin at load time.
type Optimization struct {
	KVCache           bool
	Quantization      Quantization
	GraphOptimization bool
	Parallelism       int
	MemoryPressure    MemoryPressure
}

// BatchPolicy configures the dispatcher's per-model batching behavior.
type BatchPolicy struct {
	MaxBatchSize   int
	MaxWaitMs      int64
	TimeoutMs      int64
	DynamicPadding bool
}

// DefaultBatchPolicy mirrors the engine-level defaults from the
// configuration surface (engine.default_batch_size / max_batch_wait_ms).
func DefaultBatchPolicy() BatchPolicy {
	return BatchPolicy{
		MaxBatchSize: 8,
		MaxWaitMs:    50,
		TimeoutMs:    30_000,
	}
}

// Status is the model lifecycle state. ErrorMessage is set only alongside
// StatusError; zero-value Status is not meaningful.
type Status struct {
	Phase        StatusPhase
	ErrorMessage string // populated only when Phase == StatusError
}

type StatusPhase string

const (
	// StatusInitializing is reserved for future pre-checks ahead of Loading.
	// Registration writes Loading directly (spec §4.2) — no live code path
	// ever assigns this phase, so it is never observed externally.
	StatusInitializing StatusPhase = "initializing"
	StatusLoading      StatusPhase = "loading"
	StatusReady        StatusPhase = "ready"
	StatusRunning      StatusPhase = "running"
	StatusError        StatusPhase = "error"
	StatusUnloaded     StatusPhase = "unloaded"
)

func (s Status) String() string {
	if s.Phase == StatusError && s.ErrorMessage != "" {
		return string(s.Phase) + ": " + s.ErrorMessage
	}
	return string(s.Phase)
}

// HasInstance reports whether this status implies a live plugin handle —
// the invariant from spec §3: instance populated iff status ∈ {Ready, Running}.
func (s Status) HasInstance() bool {
	return s.Phase == StatusReady || s.Phase == StatusRunning
}

// Health is the model's liveness signal, independent of lifecycle Status.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
	HealthUnknown   Health = "unknown"
)

// Available reports the spec's availability predicate: status ∈
// {Ready, Running} AND health == Healthy.
func Available(s Status, h Health) bool {
	return (s.Phase == StatusReady || s.Phase == StatusRunning) && h == HealthHealthy
}

// Model is the registry's entity. Handle is any plugin-specific instance
// token; the registry never inspects it, only tracks its presence.
type Model struct {
	ID           ModelId
	Name         string
	Kind         ModelKind
	Backend      string
	Device       Device
	Optimize     Optimization
	BatchPolicy  BatchPolicy
	CustomParams map[string]any

	// Mutable fields, written only under the registry's write lock.
	Status     Status
	Health     Health
	Handle     any
	Stats      Stats
	LastAccess time.Time
	LoadedAt   time.Time
}

// Info is the read-only snapshot returned by Registry.Get/List — a cheap
// clone that never exposes Handle.
type Info struct {
	ID           ModelId
	Name         string
	Kind         ModelKind
	Backend      string
	Device       Device
	Optimize     Optimization
	BatchPolicy  BatchPolicy
	CustomParams map[string]any
	Status       Status
	Health       Health
	Stats        Stats
	LastAccess   time.Time
	LoadedAt     time.Time
}

// ToInfo clones the model's public (non-handle) fields.
func (m *Model) ToInfo() Info {
	params := make(map[string]any, len(m.CustomParams))
	for k, v := range m.CustomParams {
		params[k] = v
	}
	return Info{
		ID:           m.ID,
		Name:         m.Name,
		Kind:         m.Kind,
		Backend:      m.Backend,
		Device:       m.Device,
		Optimize:     m.Optimize,
		BatchPolicy:  m.BatchPolicy,
		CustomParams: params,
		Status:       m.Status,
		Health:       m.Health,
		Stats:        m.Stats.Clone(),
		LastAccess:   m.LastAccess,
		LoadedAt:     m.LoadedAt,
	}
}

package httpapi

import (
	"time"

	"github.com/turtacn/inferserve/internal/domain"
)

// ─── Device / Optimization / BatchPolicy ────────────────────────────────

type deviceDTO struct {
	Type           string `json:"type"`
	DeviceIDs      []int  `json:"device_ids,omitempty"`
	MemoryCapMB    int64  `json:"memory_cap_mb,omitempty"`
	MixedPrecision bool   `json:"mixed_precision,omitempty"`
}

func (d deviceDTO) toDomain() domain.Device {
	return domain.Device{
		Type:           domain.DeviceType(d.Type),
		DeviceIDs:      d.DeviceIDs,
		MemoryCapMB:    d.MemoryCapMB,
		MixedPrecision: d.MixedPrecision,
	}
}

func deviceToDTO(d domain.Device) deviceDTO {
	return deviceDTO{
		Type:           string(d.Type),
		DeviceIDs:      d.DeviceIDs,
		MemoryCapMB:    d.MemoryCapMB,
		MixedPrecision: d.MixedPrecision,
	}
}

type optimizationDTO struct {
	KVCache           bool   `json:"kv_cache,omitempty"`
	Quantization      string `json:"quantization,omitempty"`
	GraphOptimization bool   `json:"graph_optimization,omitempty"`
	Parallelism       int    `json:"parallelism,omitempty"`
	MemoryPressure    string `json:"memory_pressure,omitempty"`
}

func (o optimizationDTO) toDomain() domain.Optimization {
	return domain.Optimization{
		KVCache:           o.KVCache,
		Quantization:      domain.Quantization(o.Quantization),
		GraphOptimization: o.GraphOptimization,
		Parallelism:       o.Parallelism,
		MemoryPressure:    domain.MemoryPressure(o.MemoryPressure),
	}
}

func optimizationToDTO(o domain.Optimization) optimizationDTO {
	return optimizationDTO{
		KVCache:           o.KVCache,
		Quantization:      string(o.Quantization),
		GraphOptimization: o.GraphOptimization,
		Parallelism:       o.Parallelism,
		MemoryPressure:    string(o.MemoryPressure),
	}
}

type batchPolicyDTO struct {
	MaxBatchSize   int   `json:"max_batch_size"`
	MaxWaitMs      int64 `json:"max_wait_ms"`
	TimeoutMs      int64 `json:"timeout_ms"`
	DynamicPadding bool  `json:"dynamic_padding"`
}

func (b batchPolicyDTO) toDomain() domain.BatchPolicy {
	return domain.BatchPolicy{
		MaxBatchSize:   b.MaxBatchSize,
		MaxWaitMs:      b.MaxWaitMs,
		TimeoutMs:      b.TimeoutMs,
		DynamicPadding: b.DynamicPadding,
	}
}

func batchPolicyToDTO(b domain.BatchPolicy) batchPolicyDTO {
	return batchPolicyDTO{
		MaxBatchSize:   b.MaxBatchSize,
		MaxWaitMs:      b.MaxWaitMs,
		TimeoutMs:      b.TimeoutMs,
		DynamicPadding: b.DynamicPadding,
	}
}

// ─── Input / Output ──────────────────────────────────────────────────────

// inputDTO mirrors domain.Input over the wire. Binary payloads travel as
// base64 via Go's default []byte JSON encoding.
type inputDTO struct {
	Kind       string              `json:"kind"`
	Text       string              `json:"text,omitempty"`
	Binary     []byte              `json:"binary,omitempty"`
	JSON       any                 `json:"json,omitempty"`
	Multimodal map[string]inputDTO `json:"multimodal,omitempty"`
}

func (in inputDTO) toDomain() domain.Input {
	out := domain.Input{
		Kind:   domain.InputKind(in.Kind),
		Text:   in.Text,
		Binary: in.Binary,
		JSON:   in.JSON,
	}
	if len(in.Multimodal) > 0 {
		out.Multimodal = make(map[string]domain.Input, len(in.Multimodal))
		for k, v := range in.Multimodal {
			out.Multimodal[k] = v.toDomain()
		}
	}
	return out
}

func inputToDTO(in domain.Input) inputDTO {
	out := inputDTO{
		Kind:   string(in.Kind),
		Text:   in.Text,
		Binary: in.Binary,
		JSON:   in.JSON,
	}
	if len(in.Multimodal) > 0 {
		out.Multimodal = make(map[string]inputDTO, len(in.Multimodal))
		for k, v := range in.Multimodal {
			out.Multimodal[k] = inputToDTO(v)
		}
	}
	return out
}

// ─── Parameters ──────────────────────────────────────────────────────────

type parametersDTO struct {
	MaxTokens   *int           `json:"max_tokens,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	TopP        *float64       `json:"top_p,omitempty"`
	TopK        *int           `json:"top_k,omitempty"`
	Stream      bool           `json:"stream,omitempty"`
	Custom      map[string]any `json:"custom,omitempty"`
}

func (p parametersDTO) toDomain() domain.Parameters {
	return domain.Parameters{
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		TopP:        p.TopP,
		TopK:        p.TopK,
		Stream:      p.Stream,
		Custom:      p.Custom,
	}
}

// ─── Model info ──────────────────────────────────────────────────────────

type modelInfoDTO struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Kind         string          `json:"kind"`
	Backend      string          `json:"backend"`
	Device       deviceDTO       `json:"device"`
	Optimize     optimizationDTO `json:"optimize"`
	BatchPolicy  batchPolicyDTO  `json:"batch_policy"`
	Status       string          `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Health       string          `json:"health"`
	Stats        statsDTO        `json:"stats"`
	LastAccess   time.Time       `json:"last_access"`
	LoadedAt     time.Time       `json:"loaded_at"`
}

type statsDTO struct {
	Total         int64   `json:"total"`
	Success       int64   `json:"success"`
	Failure       int64   `json:"failure"`
	EWMALatencyMs float64 `json:"ewma_latency_ms"`
	P95Ms         float64 `json:"p95_ms"`
	P99Ms         float64 `json:"p99_ms"`
}

func modelInfoToDTO(info domain.Info) modelInfoDTO {
	return modelInfoDTO{
		ID:           string(info.ID),
		Name:         info.Name,
		Kind:         info.Kind.Kind,
		Backend:      info.Backend,
		Device:       deviceToDTO(info.Device),
		Optimize:     optimizationToDTO(info.Optimize),
		BatchPolicy:  batchPolicyToDTO(info.BatchPolicy),
		Status:       string(info.Status.Phase),
		ErrorMessage: info.Status.ErrorMessage,
		Health:       string(info.Health),
		Stats: statsDTO{
			Total:         info.Stats.Total,
			Success:       info.Stats.Success,
			Failure:       info.Stats.Failure,
			EWMALatencyMs: info.Stats.EWMALatencyMs,
			P95Ms:         info.Stats.Percentile(95),
			P99Ms:         info.Stats.Percentile(99),
		},
		LastAccess: info.LastAccess,
		LoadedAt:   info.LoadedAt,
	}
}

// ─── Response ────────────────────────────────────────────────────────────

type metricsDTO struct {
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	TotalLatencyMs     float64   `json:"total_latency_ms"`
	InferenceLatencyMs float64   `json:"inference_latency_ms"`
	QueueWaitMs        float64   `json:"queue_wait_ms"`
	BatchSize          int       `json:"batch_size"`
	InputTokens        *int      `json:"input_tokens,omitempty"`
	OutputTokens       *int      `json:"output_tokens,omitempty"`
}

type responseDTO struct {
	RequestID string     `json:"request_id"`
	ModelID   string     `json:"model_id"`
	Output    inputDTO   `json:"output"`
	Metrics   metricsDTO `json:"metrics"`
	Timestamp time.Time  `json:"timestamp"`
}

func responseToDTO(r *domain.Response) responseDTO {
	return responseDTO{
		RequestID: string(r.RequestID),
		ModelID:   string(r.ModelID),
		Output:    inputToDTO(r.Output),
		Metrics: metricsDTO{
			StartTime:          r.Metrics.StartTime,
			EndTime:            r.Metrics.EndTime,
			TotalLatencyMs:     r.Metrics.TotalLatencyMs,
			InferenceLatencyMs: r.Metrics.InferenceLatencyMs,
			QueueWaitMs:        r.Metrics.QueueWaitMs,
			BatchSize:          r.Metrics.BatchSize,
			InputTokens:        r.Metrics.InputTokens,
			OutputTokens:       r.Metrics.OutputTokens,
		},
		Timestamp: r.Timestamp,
	}
}

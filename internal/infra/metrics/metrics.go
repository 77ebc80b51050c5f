// Package metrics provides Prometheus metrics for the gateway: dispatcher
// queue depth and flush behavior, per-model inference latency, and ledger
// counters, in the teacher's promauto declarative style — generalized from
// the teacher's task/credit/peer gauges to the dispatcher's batch/queue
// gauges and the registry's model-lifecycle counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Dispatcher ─────────────────────────────────────────────────────────────

// IngressQueueDepth tracks the number of requests waiting to be partitioned
// into a per-model group.
var IngressQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "inferserve",
	Name:      "dispatcher_ingress_queue_depth",
	Help:      "Number of requests currently queued ahead of batching.",
})

// BatchSize tracks the size of every flushed batch, by model.
var BatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "inferserve",
	Name:      "dispatcher_batch_size",
	Help:      "Size of batches dispatched to the plugin boundary.",
	Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
}, []string{"model"})

// FlushesTotal tracks why a group was flushed: "size", "deadline", or
// "drain".
var FlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "inferserve",
	Name:      "dispatcher_flushes_total",
	Help:      "Total group flushes by reason.",
}, []string{"model", "reason"})

// ExpiredTotal tracks requests that aged out of the pending buffer before
// being batched.
var ExpiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "inferserve",
	Name:      "dispatcher_expired_total",
	Help:      "Total requests expired while waiting to be batched.",
}, []string{"model"})

// OverloadedTotal tracks intake refusals due to backpressure.
var OverloadedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "inferserve",
	Name:      "dispatcher_overloaded_total",
	Help:      "Total requests refused due to ingress backpressure.",
})

// ─── Inference ──────────────────────────────────────────────────────────────

// InferenceLatency tracks per-batch plugin.Infer duration in seconds.
var InferenceLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "inferserve",
	Name:      "inference_latency_seconds",
	Help:      "Plugin inference call duration in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"model"})

// InferenceTokens tracks estimated tokens processed, split input/output.
var InferenceTokens = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "inferserve",
	Name:      "inference_tokens_total",
	Help:      "Total tokens processed.",
}, []string{"model", "direction"})

// ─── Ledger / Registry ──────────────────────────────────────────────────────

// RequestsTotal tracks terminal request outcomes by model and outcome
// ("success", "failure", "expired").
var RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "inferserve",
	Name:      "requests_total",
	Help:      "Total requests reaching a terminal outcome, by model and outcome.",
}, []string{"model", "outcome"})

// ModelsRegistered tracks the current number of registered models.
var ModelsRegistered = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "inferserve",
	Name:      "models_registered",
	Help:      "Current number of registered models.",
})

// ModelStatus tracks each model's current lifecycle phase as a 1/0 gauge
// per (model, phase) pair.
var ModelStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "inferserve",
	Name:      "model_status",
	Help:      "Current lifecycle phase per model (1 = active phase, 0 otherwise).",
}, []string{"model", "phase"})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "inferserve",
	Name:      "health_check_status",
	Help:      "Health check result per model (1=healthy, 0=unhealthy).",
}, []string{"model"})

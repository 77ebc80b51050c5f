package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatheredNames(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestDispatcherMetrics(t *testing.T) {
	IngressQueueDepth.Set(3)
	BatchSize.WithLabelValues("m1").Observe(4)
	FlushesTotal.WithLabelValues("m1", "size").Inc()
	ExpiredTotal.WithLabelValues("m1").Inc()
	OverloadedTotal.Inc()

	names := gatheredNames(t)
	for _, want := range []string{
		"inferserve_dispatcher_ingress_queue_depth",
		"inferserve_dispatcher_batch_size",
		"inferserve_dispatcher_flushes_total",
		"inferserve_dispatcher_expired_total",
		"inferserve_dispatcher_overloaded_total",
	} {
		if !names[want] {
			t.Errorf("metric %q not found", want)
		}
	}
}

func TestInferenceMetrics(t *testing.T) {
	InferenceLatency.WithLabelValues("m1").Observe(0.25)
	InferenceTokens.WithLabelValues("m1", "input").Add(10)
	InferenceTokens.WithLabelValues("m1", "output").Add(5)

	names := gatheredNames(t)
	for _, want := range []string{"inferserve_inference_latency_seconds", "inferserve_inference_tokens_total"} {
		if !names[want] {
			t.Errorf("metric %q not found", want)
		}
	}
}

func TestLedgerAndRegistryMetrics(t *testing.T) {
	RequestsTotal.WithLabelValues("m1", "success").Inc()
	RequestsTotal.WithLabelValues("m1", "failure").Inc()
	ModelsRegistered.Set(2)
	ModelStatus.WithLabelValues("m1", "ready").Set(1)

	names := gatheredNames(t)
	for _, want := range []string{"inferserve_requests_total", "inferserve_models_registered", "inferserve_model_status"} {
		if !names[want] {
			t.Errorf("metric %q not found", want)
		}
	}
}

func TestHealthMetrics(t *testing.T) {
	HealthCheckStatus.WithLabelValues("m1").Set(1)

	names := gatheredNames(t)
	if !names["inferserve_health_check_status"] {
		t.Error("inferserve_health_check_status not found")
	}
}

func TestAllMetricsGatherable(t *testing.T) {
	names := gatheredNames(t)
	count := 0
	for name := range names {
		if len(name) > len("inferserve_") && name[:len("inferserve_")] == "inferserve_" {
			count++
		}
	}
	if count < 8 {
		t.Errorf("expected at least 8 inferserve_ metrics, got %d", count)
	}
}

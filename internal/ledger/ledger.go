// Package ledger is the operational wrapper around domain.Stats (spec
// §4.4): it is the only code path allowed to call Stats.Observe, doing so
// under the registry's write lock via Registry.Mutate so the EWMA and
// percentile reservoir are never updated concurrently with a reader's
// snapshot. The data structure itself lives in domain; this package is the
// update trigger, and its Snapshot is what the gateway's periodic snapshot
// persister reads (get_model_info reads the stats through Registry.Peek).
package ledger

import (
	"time"

	"github.com/turtacn/inferserve/internal/domain"
	"github.com/turtacn/inferserve/internal/infra/metrics"
	"github.com/turtacn/inferserve/internal/registry"
)

// Ledger records completed-request outcomes against a model's rolling stats.
type Ledger struct {
	reg *registry.Registry
}

func New(reg *registry.Registry) *Ledger {
	return &Ledger{reg: reg}
}

// Record observes one completed request's success/failure and latency. It
// is best-effort: if the model has since been removed, the observation is
// silently dropped — there is nothing useful to report and no caller should
// fail a request just because its stats couldn't be filed.
func (l *Ledger) Record(id domain.ModelId, success bool, latency time.Duration) {
	_ = l.reg.Mutate(id, func(m *domain.Model) {
		m.Stats.Observe(success, float64(latency.Microseconds())/1000.0)
	})

	outcome := "failure"
	if success {
		outcome = "success"
	}
	metrics.RequestsTotal.WithLabelValues(string(id), outcome).Inc()
}

// Snapshot returns the current stats and convenience percentiles for a
// model, used for periodic durable persistence of the rolling counters.
// It reads via Registry.Peek, not Get — this is a background read, not
// inference traffic, and must not reset the idle-eviction clock.
type Snapshot struct {
	Total   int64
	Success int64
	Failure int64

	EWMALatencyMs float64
	P50Ms         float64
	P95Ms         float64
	P99Ms         float64
}

func (l *Ledger) Snapshot(id domain.ModelId) (Snapshot, error) {
	info, err := l.reg.Peek(id)
	if err != nil {
		return Snapshot{}, err
	}
	s := info.Stats
	return Snapshot{
		Total:         s.Total,
		Success:       s.Success,
		Failure:       s.Failure,
		EWMALatencyMs: s.EWMALatencyMs,
		P50Ms:         s.Percentile(50),
		P95Ms:         s.Percentile(95),
		P99Ms:         s.Percentile(99),
	}, nil
}

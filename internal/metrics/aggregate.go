package metrics

import (
	"sync"

	dto "github.com/prometheus/client_model/go"
)

// Aggregator merges per-worker metric snapshots (§5's "primary aggregates
// across workers for /metrics") into one Registry. Only the responses_codes
// counter is merged; the other families a worker reports (the request
// duration histogram, the sink drop counter, Go/process runtime metrics)
// are ignored, so those series on Registry describe the primary process
// alone. Each worker's counters are cumulative; Aggregator tracks the
// last-seen value per (worker, metric, label-set) and applies only the
// delta, so a worker's own process restart (counters reset to zero) never
// under-counts the cluster total.
type Aggregator struct {
	Registry *Registry

	mu   sync.Mutex
	seen map[string]float64 // "workerID|metric|labels" -> last-seen cumulative value
}

// NewAggregator builds an Aggregator around a fresh cluster-wide Registry.
func NewAggregator() *Aggregator {
	return &Aggregator{Registry: New(), seen: make(map[string]float64)}
}

// Merge applies one worker's metric family snapshot, crediting the
// aggregate registry with only the increase since the last report from
// that worker.
func (a *Aggregator) Merge(workerID string, families []*dto.MetricFamily) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, fam := range families {
		if fam.GetName() != "responses_codes" {
			continue
		}
		for _, m := range fam.GetMetric() {
			code := labelValue(m, "code")
			key := workerID + "|responses_codes|" + code
			current := m.GetCounter().GetValue()
			delta := current - a.seen[key]
			if delta < 0 {
				// counter reset: everything counted since the reset is new
				delta = current
			}
			a.seen[key] = current
			if delta > 0 {
				a.Registry.responseCodes.WithLabelValues(code).Add(delta)
			}
		}
	}
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// Package telemetry exports a subset of the pipeline.Stats snapshot as
// Prometheus metrics: the pipeline counters, IPC, predictor accuracy, MSHR
// misses/merges/peak, bank conflict rate, prefetch accuracy and the MLP
// figures.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rishav/oomemsim/internal/pipeline"
)

// Metrics holds the Prometheus collectors for one pipeline instance.
type Metrics struct {
	cycles     prometheus.Counter
	committed  prometheus.Counter
	loads      prometheus.Counter
	stores     prometheus.Counter
	violations prometheus.Counter
	forwards   prometheus.Counter
	ipc        prometheus.Gauge

	predictorAccuracy prometheus.Gauge
	mshrMisses        prometheus.Counter
	mshrMerged        prometheus.Counter
	mshrPeak          prometheus.Gauge
	bankConflictRate  prometheus.Gauge
	prefetchAccuracy  prometheus.Gauge
	mlpAverage        prometheus.Gauge
	mlpPeak           prometheus.Gauge
	mlpUtilization    prometheus.Gauge

	last pipeline.Stats
}

// NewMetrics registers a fresh set of collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	ns := "oomemsim"

	return &Metrics{
		cycles:            factory.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "cycles_total", Help: "Total cycles ticked."}),
		committed:         factory.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "committed_total", Help: "Total instructions committed."}),
		loads:             factory.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "loads_total", Help: "Total loads executed."}),
		stores:            factory.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "stores_total", Help: "Total stores executed."}),
		violations:        factory.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "violations_total", Help: "Total memory-order violations detected at commit."}),
		forwards:          factory.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "forwards_total", Help: "Total store-to-load forwarding events."}),
		ipc:               factory.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "ipc", Help: "Instructions committed per cycle."}),
		predictorAccuracy: factory.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "predictor_accuracy", Help: "Fraction of speculations that proved correct."}),
		mshrMisses:        factory.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "mshr_misses_total", Help: "Total cache-line misses allocated into an MSHR."}),
		mshrMerged:        factory.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "mshr_merged_total", Help: "Total requests merged into an existing MSHR entry."}),
		mshrPeak:          factory.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "mshr_peak_concurrent", Help: "Peak number of concurrently outstanding MSHR entries."}),
		bankConflictRate:  factory.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "bank_conflict_rate", Help: "Fraction of bank accesses that hit a busy bank."}),
		prefetchAccuracy:  factory.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "prefetch_accuracy", Help: "Fraction of prefetches later consumed by a demand access."}),
		mlpAverage:        factory.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "mlp_average", Help: "Average outstanding-miss count per cycle."}),
		mlpPeak:           factory.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "mlp_peak", Help: "Peak outstanding-miss count observed."}),
		mlpUtilization:    factory.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "mlp_utilization", Help: "Fraction of cycles with at least one outstanding miss."}),
	}
}

// Observe updates every collector from a Stats snapshot. Counters only
// advance by the delta since the last Observe call, since prometheus
// counters are monotonic and Stats itself is a running total.
func (m *Metrics) Observe(s pipeline.Stats) {
	m.cycles.Add(float64(s.Cycles - m.last.Cycles))
	m.committed.Add(float64(s.Committed - m.last.Committed))
	m.loads.Add(float64(s.Loads - m.last.Loads))
	m.stores.Add(float64(s.Stores - m.last.Stores))
	m.violations.Add(float64(s.Violations - m.last.Violations))
	m.forwards.Add(float64(s.Forwards - m.last.Forwards))
	m.mshrMisses.Add(float64(s.MSHR.TotalMisses - m.last.MSHR.TotalMisses))
	m.mshrMerged.Add(float64(s.MSHR.MergedRequests - m.last.MSHR.MergedRequests))

	m.ipc.Set(s.IPC)
	m.predictorAccuracy.Set(s.Predictor.Accuracy)
	m.mshrPeak.Set(float64(s.MSHR.PeakConcurrent))
	m.bankConflictRate.Set(s.BankConflictRate)
	m.prefetchAccuracy.Set(s.Prefetch.Accuracy)
	m.mlpAverage.Set(s.MLPAverage)
	m.mlpPeak.Set(float64(s.MLPPeak))
	m.mlpUtilization.Set(s.MLPUtil)

	m.last = s
}

package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LendingMetrics groups the Prometheus collectors recording matching-engine
// and orchestrator activity.
type LendingMetrics struct {
	operations     *prometheus.CounterVec
	operationErrs  *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	matchSteps     *prometheus.CounterVec
	matchedVolume  *prometheus.CounterVec
	deltaOutstand  *prometheus.GaugeVec
	budgetExhausts *prometheus.CounterVec
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

// Lending returns the lazily-initialised collectors for the lending core.
func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "peerlend_operations_total",
				Help: "Count of liquidity operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			operationErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "peerlend_operation_errors_total",
				Help: "Count of rejected liquidity operations segmented by operation.",
			}, []string{"operation"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "peerlend_operation_duration_seconds",
				Help:    "Latency distribution for liquidity operations.",
				Buckets: prometheus.DefBuckets,
			}, []string{"operation"}),
			matchSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "peerlend_match_steps_total",
				Help: "Counterparty steps consumed by the matching engine per direction.",
			}, []string{"direction"}),
			matchedVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "peerlend_matched_volume_wei",
				Help: "Underlying volume moved between pool and matched state per direction.",
			}, []string{"direction"}),
			deltaOutstand: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "peerlend_delta_outstanding_units",
				Help: "Outstanding matching delta in pool units per market and side.",
			}, []string{"market", "side"}),
			budgetExhausts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "peerlend_budget_exhausted_total",
				Help: "Times a match or unmatch walk stopped on compute budget.",
			}, []string{"direction"}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.operationErrs,
			lendingRegistry.latency,
			lendingRegistry.matchSteps,
			lendingRegistry.matchedVolume,
			lendingRegistry.deltaOutstand,
			lendingRegistry.budgetExhausts,
		)
	})
	return lendingRegistry
}

// ObserveOperation records one completed liquidity operation.
func (m *LendingMetrics) ObserveOperation(operation string, seconds float64, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.operationErrs.WithLabelValues(operation).Inc()
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(seconds)
}

// ObserveMatch records a matching-engine walk.
func (m *LendingMetrics) ObserveMatch(direction string, steps uint64, volume *big.Int, exhausted bool) {
	if m == nil {
		return
	}
	m.matchSteps.WithLabelValues(direction).Add(float64(steps))
	if volume != nil && volume.Sign() > 0 {
		vol, _ := new(big.Float).SetInt(volume).Float64()
		m.matchedVolume.WithLabelValues(direction).Add(vol)
	}
	if exhausted {
		m.budgetExhausts.WithLabelValues(direction).Inc()
	}
}

// SetDelta publishes the outstanding delta for a market side.
func (m *LendingMetrics) SetDelta(market, side string, delta *big.Int) {
	if m == nil {
		return
	}
	value := 0.0
	if delta != nil {
		value, _ = new(big.Float).SetInt(delta).Float64()
	}
	m.deltaOutstand.WithLabelValues(market, side).Set(value)
}

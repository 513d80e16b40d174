package gotxn

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "gotxn"

// Collector 是 prometheus.Collector，统计事务边界的执行情况.
// nil Collector 的所有方法都是空操作.
type Collector struct {
	activeTransactions prometheus.Gauge
	outcomes           *prometheus.CounterVec
	cleanupFailures    *prometheus.CounterVec
	boundaryDuration   prometheus.Histogram
	cancellations      prometheus.Counter
}

func NewCollector() *Collector {
	return &Collector{
		activeTransactions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_transactions",
				Help:      "The number of transactions currently inside a boundary.",
			},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "transaction_outcomes_total",
				Help:      "The number of finished transactions by final status.",
			}, []string{"status"},
		),
		cleanupFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "transaction_cleanup_failures_total",
				Help:      "The number of swallowed errors from commit, rollback and release.",
			}, []string{"phase"},
		),
		boundaryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "boundary_duration_seconds",
				Help:      "The time spent inside a transaction boundary.",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
		),
		cancellations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "transaction_cancellations_total",
				Help:      "The number of transactions cancelled through the registry.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.activeTransactions.Describe(ch)
	c.outcomes.Describe(ch)
	c.cleanupFailures.Describe(ch)
	c.boundaryDuration.Describe(ch)
	c.cancellations.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.activeTransactions.Collect(ch)
	c.outcomes.Collect(ch)
	c.cleanupFailures.Collect(ch)
	c.boundaryDuration.Collect(ch)
	c.cancellations.Collect(ch)
}

func (c *Collector) enter() {
	if c == nil {
		return
	}
	c.activeTransactions.Inc()
}

func (c *Collector) exit(outcome *Outcome) {
	if c == nil {
		return
	}
	c.activeTransactions.Dec()
	c.outcomes.WithLabelValues(outcome.Status.String()).Inc()
	c.boundaryDuration.Observe(outcome.Duration().Seconds())
}

func (c *Collector) cleanupFailed(phase string) {
	if c == nil {
		return
	}
	c.cleanupFailures.WithLabelValues(phase).Inc()
}

func (c *Collector) cancelled(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.cancellations.Add(float64(n))
}

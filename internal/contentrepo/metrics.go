package contentrepo

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a Listener that records operation outcomes and durations.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// RegisterMetrics registers the repository metrics with reg and starts recording
// the outcome of every operation r executes.
func RegisterMetrics(reg prometheus.Registerer, r *Repository) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "content_repository",
				Name:      "operations_total",
				Help:      "Executed operations by kind and result",
			},
			[]string{"kind", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "content_repository",
				Name:      "operation_duration_seconds",
				Help:      "Operation execution time in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"kind"},
		),
	}

	collectors := []prometheus.Collector{
		m.operations,
		m.duration,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "content_repository",
			Name:      "pending_operations",
			Help:      "Submitted operations that have not finished",
		}, func() float64 { return float64(r.PendingCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "content_repository",
			Name:      "index_repair_pending",
			Help:      "Resources whose index entry lags behind the store",
		}, func() float64 { return float64(r.RepairPending()) }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	r.AddListener(m)
	return m, nil
}

func (m *Metrics) ExecutionSucceeded(op Operation) {
	m.observe(op, "success")
}

func (m *Metrics) ExecutionFailed(op Operation, cause error) {
	m.observe(op, Classify(cause).String())
}

func (m *Metrics) observe(op Operation, result string) {
	kind := string(op.Kind())
	m.operations.WithLabelValues(kind, result).Inc()
	m.duration.WithLabelValues(kind).Observe(op.Duration().Seconds())
}

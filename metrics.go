package tablekeep

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics receives counters for supervision events. Implementations must be
// safe for concurrent use.
type Metrics interface {
	// WorkerCrash records the termination of a worker in the given role.
	WorkerCrash(role string)
	// Promotion records an heir inheriting a table.
	Promotion()
	// TableLost records a table destroyed by a double crash.
	TableLost()
	// CrashLoop records a unit shut down for exceeding restart intensity.
	CrashLoop()
}

// nopMetrics is the default collector; it records nothing.
type nopMetrics struct{}

func (nopMetrics) WorkerCrash(string) {}
func (nopMetrics) Promotion()         {}
func (nopMetrics) TableLost()         {}
func (nopMetrics) CrashLoop()         {}

// PrometheusMetrics implements Metrics backed by Prometheus counters.
type PrometheusMetrics struct {
	crashes    *prometheus.CounterVec
	promotions prometheus.Counter
	lost       prometheus.Counter
	crashLoops prometheus.Counter
}

// Compile-time assertion that PrometheusMetrics implements Metrics.
var _ Metrics = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates a Prometheus-backed collector registered on
// reg. Pass prometheus.DefaultRegisterer unless a dedicated registry is
// wanted; nil uses the default registerer.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		crashes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tablekeep",
			Name:      "worker_crashes_total",
			Help:      "Total worker terminations observed by keepers, by role.",
		}, []string{"role"}),
		promotions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tablekeep",
			Name:      "promotions_total",
			Help:      "Total heir-to-owner promotions.",
		}),
		lost: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tablekeep",
			Name:      "tables_lost_total",
			Help:      "Total tables destroyed by a double crash.",
		}),
		crashLoops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tablekeep",
			Name:      "crash_loops_total",
			Help:      "Total units shut down for exceeding restart intensity.",
		}),
	}
}

func (m *PrometheusMetrics) WorkerCrash(role string) { m.crashes.WithLabelValues(role).Inc() }
func (m *PrometheusMetrics) Promotion()              { m.promotions.Inc() }
func (m *PrometheusMetrics) TableLost()              { m.lost.Inc() }
func (m *PrometheusMetrics) CrashLoop()              { m.crashLoops.Inc() }

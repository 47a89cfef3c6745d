package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives recycle bin telemetry. Nop is used when metrics are
// disabled.
type Recorder interface {
	LifecycleOperation(action string, success bool)
	GateRejection(reason string)
	SweepItem(module string, result string)
	SweepRun(duration time.Duration, err error)
}

type Metrics struct {
	registry   *prometheus.Registry
	lifecycle  *prometheus.CounterVec
	rejections *prometheus.CounterVec
	sweepItems *prometheus.CounterVec
	sweepRuns  *prometheus.CounterVec
	sweepTime  prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recyclebin",
			Name:      "operations_total",
			Help:      "Recycle bin lifecycle operations by action and outcome.",
		}, []string{"action", "outcome"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recyclebin",
			Subsystem: "gate",
			Name:      "rejections_total",
			Help:      "Permanent delete attempts rejected by the security gate.",
		}, []string{"reason"}),
		sweepItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recyclebin",
			Subsystem: "sweeper",
			Name:      "items_total",
			Help:      "Expired entries handled by the sweeper by module and result.",
		}, []string{"module", "result"}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recyclebin",
			Subsystem: "sweeper",
			Name:      "runs_total",
			Help:      "Sweeper runs by outcome.",
		}, []string{"outcome"}),
		sweepTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "recyclebin",
			Subsystem: "sweeper",
			Name:      "run_duration_seconds",
			Help:      "Duration of sweeper runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.lifecycle, m.rejections, m.sweepItems, m.sweepRuns, m.sweepTime,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) LifecycleOperation(action string, success bool) {
	m.lifecycle.WithLabelValues(action, outcome(success)).Inc()
}

func (m *Metrics) GateRejection(reason string) {
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) SweepItem(module string, result string) {
	m.sweepItems.WithLabelValues(module, result).Inc()
}

func (m *Metrics) SweepRun(duration time.Duration, err error) {
	m.sweepRuns.WithLabelValues(outcome(err == nil)).Inc()
	m.sweepTime.Observe(duration.Seconds())
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

type Nop struct{}

func (Nop) LifecycleOperation(string, bool) {}
func (Nop) GateRejection(string)            {}
func (Nop) SweepItem(string, string)        {}
func (Nop) SweepRun(time.Duration, error)   {}

package deploy

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/abhisheknishant138/rotor/internal/model"
)

// Metric label values for launch and stop results.
const (
	resultOK     = "ok"
	resultFailed = "failed"
)

var (
	activeDeployments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rotor_deployments_active",
			Help: "Number of currently registered deployments.",
		},
	)

	activeInstances = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rotor_instances_active",
			Help: "Number of currently registered service-unit instances.",
		},
	)

	launchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rotor_launches_total",
			Help: "Total number of instance launches, by unit kind and result.",
		},
		[]string{"kind", "result"},
	)

	stopsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rotor_stops_total",
			Help: "Total number of instance stops, by result.",
		},
		[]string{"result"},
	)

	startDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rotor_instance_start_seconds",
			Help:    "Duration of service-unit start calls, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(activeDeployments)
	prometheus.MustRegister(activeInstances)
	prometheus.MustRegister(launchesTotal)
	prometheus.MustRegister(stopsTotal)
	prometheus.MustRegister(startDuration)

	// Pre-initialize counter label combinations so they appear in /metrics
	// with value 0 from startup, rather than only after first observation.
	for _, kind := range []string{model.KindNative, model.KindProcess} {
		launchesTotal.WithLabelValues(kind, resultOK)
		launchesTotal.WithLabelValues(kind, resultFailed)
	}
	stopsTotal.WithLabelValues(resultOK)
	stopsTotal.WithLabelValues(resultFailed)
}

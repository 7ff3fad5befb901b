package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	rebuilds        *prometheus.CounterVec
	writes          *prometheus.CounterVec
	size            prometheus.Gauge
	sequence        prometheus.Gauge
	rebuildDuration prometheus.Histogram
}

// newMetrics builds the cache collectors and registers them on reg. A nil reg
// leaves them unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		rebuilds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alchemy",
			Subsystem: "cache",
			Name:      "rebuilds_total",
			Help:      "Full cache rebuilds by result.",
		}, []string{"result"}),
		writes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alchemy",
			Subsystem: "cache",
			Name:      "write_through_total",
			Help:      "Write-through updates applied to the cache by operation.",
		}, []string{"op"}),
		size: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "alchemy",
			Subsystem: "cache",
			Name:      "active_experiments",
			Help:      "Active experiments in the published snapshot.",
		}),
		sequence: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "alchemy",
			Subsystem: "cache",
			Name:      "sequence",
			Help:      "High-water sequence number of the published snapshot.",
		}),
		rebuildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "alchemy",
			Subsystem: "cache",
			Name:      "rebuild_duration_seconds",
			Help:      "Duration of full cache rebuilds.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *metrics) published(s *Snapshot) {
	m.size.Set(float64(s.Len()))
	m.sequence.Set(float64(s.Sequence()))
}

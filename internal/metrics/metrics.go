// Package metrics declares the Prometheus collectors every long-running
// component registers into, exposed by the server's /metrics endpoint.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector so components take a single struct
// rather than package-level globals.
type Metrics struct {
	SchedulerTickDuration prometheus.Histogram
	AlertQueueDepth       prometheus.Gauge
	ActiveMissions        prometheus.Gauge
	FanoutSubscribers     prometheus.Gauge
	WatchdogTimeouts      prometheus.Counter
	UAVDemotions          prometheus.Counter
	DetectionsIngested    *prometheus.CounterVec
}

// New constructs and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SchedulerTickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sentinel",
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one scheduler matching pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		AlertQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sentinel",
			Subsystem: "alertqueue",
			Name:      "depth",
			Help:      "Current number of alerts awaiting assignment.",
		}),
		ActiveMissions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sentinel",
			Subsystem: "dispatch",
			Name:      "active_missions",
			Help:      "Current number of missions in the active state.",
		}),
		FanoutSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sentinel",
			Subsystem: "fanout",
			Name:      "subscribers",
			Help:      "Current number of connected websocket subscribers.",
		}),
		WatchdogTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "dispatch",
			Name:      "watchdog_timeouts_total",
			Help:      "Total number of missions that missed their watchdog deadline.",
		}),
		UAVDemotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "scheduler",
			Name:      "alert_demotions_total",
			Help:      "Total number of alerts demoted after a failed assignment attempt.",
		}),
		DetectionsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "detection",
			Name:      "ingested_total",
			Help:      "Total number of detections ingested, labeled by class.",
		}, []string{"class"}),
	}

	reg.MustRegister(
		m.SchedulerTickDuration,
		m.AlertQueueDepth,
		m.ActiveMissions,
		m.FanoutSubscribers,
		m.WatchdogTimeouts,
		m.UAVDemotions,
		m.DetectionsIngested,
	)
	return m
}

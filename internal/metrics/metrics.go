package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_transitions_total",
		Help: "Committed attendance transitions by leg and method.",
	}, []string{"kind", "method"})

	Rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_rejections_total",
		Help: "Rejected check-in/check-out attempts by reason.",
	}, []string{"kind", "reason"})

	Replays = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_replays_total",
		Help: "Requests answered from an existing record because the idempotency key was already applied.",
	}, []string{"kind"})

	StoreConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attendance_store_conflicts_total",
		Help: "Optimistic-concurrency conflicts returned by the record store.",
	})

	GeofenceDistance = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "attendance_geofence_distance_meters",
		Help:    "Distance between the device and the event anchor at each attempt.",
		Buckets: []float64{5, 10, 25, 50, 100, 200, 500, 1000, 5000},
	})

	SweepRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_sweep_records_total",
		Help: "Records touched by the absentee sweep by outcome.",
	}, []string{"outcome"})

	LiveSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "live_subscribers",
		Help: "Open live-counter subscriptions.",
	})

	LiveDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "live_dropped_subscribers_total",
		Help: "Subscriptions closed because their buffer was full.",
	})

	LiveResyncs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "live_resyncs_total",
		Help: "Counter sets rebuilt from the attendance records.",
	})
)

func init() {
	prometheus.MustRegister(
		Transitions,
		Rejections,
		Replays,
		StoreConflicts,
		GeofenceDistance,
		SweepRecords,
		LiveSubscribers,
		LiveDropped,
		LiveResyncs,
	)
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	// watcher
	EventsProcessed prometheus.Counter
	EventsSkipped   prometheus.Counter
	LoopErrors      prometheus.Counter
	Watermark       prometheus.Gauge
	TrackedOrders   prometheus.Gauge
	OrdersPruned    prometheus.Counter

	// dispatch
	NotificationsQueued  *prometheus.CounterVec
	NotificationsDropped *prometheus.CounterVec
	QueueDepth           prometheus.Gauge

	// telephony
	CallsPlaced     prometheus.Counter
	CallOutcomes    *prometheus.CounterVec
	CallWaitSeconds prometheus.Histogram
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()

	eventsProcessed := prometheus.NewCounter(prometheus.CounterOpts{Name: "fleet_notifications_events_processed_total"})
	eventsSkipped := prometheus.NewCounter(prometheus.CounterOpts{Name: "fleet_notifications_events_skipped_total"})
	loopErrors := prometheus.NewCounter(prometheus.CounterOpts{Name: "fleet_notifications_loop_errors_total"})
	watermark := prometheus.NewGauge(prometheus.GaugeOpts{Name: "fleet_notifications_watermark"})
	tracked := prometheus.NewGauge(prometheus.GaugeOpts{Name: "fleet_notifications_tracked_orders"})
	pruned := prometheus.NewCounter(prometheus.CounterOpts{Name: "fleet_notifications_orders_pruned_total"})

	queued := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "fleet_notifications_queued_total"}, []string{"kind"})
	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "fleet_notifications_dropped_total"}, []string{"kind"})
	depth := prometheus.NewGauge(prometheus.GaugeOpts{Name: "fleet_notifications_queue_depth"})

	callsPlaced := prometheus.NewCounter(prometheus.CounterOpts{Name: "fleet_notifications_calls_placed_total"})
	callOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "fleet_notifications_call_outcomes_total"}, []string{"outcome"})
	callWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleet_notifications_call_wait_seconds",
		Buckets: prometheus.DefBuckets,
	})

	r.MustRegister(eventsProcessed, eventsSkipped, loopErrors, watermark, tracked, pruned,
		queued, dropped, depth, callsPlaced, callOutcomes, callWait)

	return &Registry{
		reg:                  r,
		EventsProcessed:      eventsProcessed,
		EventsSkipped:        eventsSkipped,
		LoopErrors:           loopErrors,
		Watermark:            watermark,
		TrackedOrders:        tracked,
		OrdersPruned:         pruned,
		NotificationsQueued:  queued,
		NotificationsDropped: dropped,
		QueueDepth:           depth,
		CallsPlaced:          callsPlaced,
		CallOutcomes:         callOutcomes,
		CallWaitSeconds:      callWait,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

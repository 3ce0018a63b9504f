// Package observability exposes pipeline metrics, health and profiling over
// HTTP.
package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"steamwatch/internal/eventbus"
)

// Metrics holds the Prometheus instruments fed from the event bus.
type Metrics struct {
	Deliveries      *prometheus.CounterVec
	DeliveryQueue   prometheus.Gauge
	WatcherCycles   *prometheus.CounterVec
	WatcherEmitted  *prometheus.CounterVec
	WatcherDuration *prometheus.HistogramVec
	GatewayBatches  *prometheus.CounterVec
	GatewayIDs      *prometheus.CounterVec
	GatewayPending  prometheus.Gauge
	ChangesQueued   prometheus.Counter
	LoopFailures    *prometheus.CounterVec
}

// NewMetrics registers the instruments with reg. dropped, when set, is
// exported as the count of events lost by slow bus subscribers.
func NewMetrics(reg prometheus.Registerer, dropped func() uint64) *Metrics {
	m := &Metrics{
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steamwatch_deliveries_total",
			Help: "Delivery attempts by outcome.",
		}, []string{"outcome"}),
		DeliveryQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "steamwatch_delivery_queue_depth",
			Help: "Notifications waiting in the delivery queue.",
		}),
		WatcherCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steamwatch_watcher_cycles_total",
			Help: "Watcher cycles by type and result.",
		}, []string{"type", "result"}),
		WatcherEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steamwatch_watcher_notifications_total",
			Help: "Changes pushed to the notifier by watcher type.",
		}, []string{"type"}),
		WatcherDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "steamwatch_watcher_cycle_seconds",
			Help:    "Duration of watcher cycles.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		GatewayBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steamwatch_gateway_batches_total",
			Help: "Bulk metadata batches by result.",
		}, []string{"result"}),
		GatewayIDs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steamwatch_gateway_ids_total",
			Help: "Ids sent in bulk metadata batches by bucket.",
		}, []string{"bucket"}),
		GatewayPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "steamwatch_gateway_pending",
			Help: "Ids waiting in the batch gateway.",
		}),
		ChangesQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "steamwatch_changefeed_queued_total",
			Help: "App ids queued by the change feed.",
		}),
		LoopFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "steamwatch_loop_failures_total",
			Help: "Failed runs of supervised loops and periodic jobs.",
		}, []string{"loop"}),
	}
	reg.MustRegister(
		m.Deliveries, m.DeliveryQueue,
		m.WatcherCycles, m.WatcherEmitted, m.WatcherDuration,
		m.GatewayBatches, m.GatewayIDs, m.GatewayPending, m.ChangesQueued,
		m.LoopFailures,
	)
	if dropped != nil {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "steamwatch_eventbus_dropped_total",
			Help: "Events lost by slow subscribers.",
		}, func() float64 { return float64(dropped()) }))
	}
	return m
}

// Observe records one event.
func (m *Metrics) Observe(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.DeliverySent, eventbus.DeliveryPurged, eventbus.DeliveryRequeued:
		outcome := map[string]string{
			eventbus.DeliverySent:     "sent",
			eventbus.DeliveryPurged:   "purged",
			eventbus.DeliveryRequeued: "requeued",
		}[ev.Type]
		m.Deliveries.WithLabelValues(outcome).Inc()
		if d, ok := ev.Data.(eventbus.Delivery); ok {
			m.DeliveryQueue.Set(float64(d.QueueLen))
		}

	case eventbus.WatcherCycle:
		c, ok := ev.Data.(eventbus.Cycle)
		if !ok {
			return
		}
		m.WatcherCycles.WithLabelValues(c.WatcherType, c.Result).Inc()
		if c.Emitted > 0 {
			m.WatcherEmitted.WithLabelValues(c.WatcherType).Add(float64(c.Emitted))
		}
		m.WatcherDuration.WithLabelValues(c.WatcherType).Observe(c.Took.Seconds())

	case eventbus.GatewayBatch:
		b, ok := ev.Data.(eventbus.Batch)
		if !ok {
			return
		}
		result := "ok"
		if b.Err {
			result = "error"
		}
		m.GatewayBatches.WithLabelValues(result).Inc()
		m.GatewayIDs.WithLabelValues("apps").Add(float64(b.Apps))
		m.GatewayIDs.WithLabelValues("packages").Add(float64(b.Packages))
		m.GatewayPending.Set(float64(b.Pending))

	case eventbus.ChangeFeedPolled:
		if b, ok := ev.Data.(eventbus.Batch); ok {
			m.ChangesQueued.Add(float64(b.Apps))
		}

	case eventbus.LoopFailed:
		if name, ok := ev.Data.(string); ok {
			m.LoopFailures.WithLabelValues(name).Inc()
		}
	}
}

// Consume observes events until ctx is cancelled or events is closed.
func (m *Metrics) Consume(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			m.Observe(ev)
		}
	}
}

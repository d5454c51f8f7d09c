package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fleetnotify/internal/metrics"
	"fleetnotify/internal/model"
)

// Caller places the phone call sequence for one notification.
type Caller interface {
	CallPhone(ctx context.Context, number string, underTest bool)
}

// Dispatcher runs notification calls on a fixed number of workers fed by a
// bounded queue. Submit never blocks the caller.
type Dispatcher struct {
	caller  Caller
	queue   chan model.Notification
	workers int
	logger  *slog.Logger
	metrics *metrics.Registry
}

func NewDispatcher(caller Caller, workers, queueSize int, logger *slog.Logger, m *metrics.Registry) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewRegistry()
	}
	return &Dispatcher{
		caller:  caller,
		queue:   make(chan model.Notification, queueSize),
		workers: workers,
		logger:  logger,
		metrics: m,
	}
}

// Start blocks until ctx is cancelled. Queued notifications that no worker
// picked up by then are abandoned, as are calls in flight.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("starting notification dispatcher", "workers", d.workers, "queue_size", cap(d.queue))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		worker := i
		g.Go(func() error {
			d.work(ctx, worker)
			return nil
		})
	}
	_ = g.Wait()

	d.logger.Info("notification dispatcher stopped", "abandoned", len(d.queue))
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-d.queue:
			d.metrics.QueueDepth.Set(float64(len(d.queue)))
			d.logger.Debug("dispatching notification", "worker", worker, "id", n.ID, "kind", n.Kind, "order_id", n.OrderID)
			d.caller.CallPhone(ctx, n.Phone, n.UnderTest)
		}
	}
}

// Submit enqueues n and reports whether it was accepted.
func (d *Dispatcher) Submit(n model.Notification) bool {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	select {
	case d.queue <- n:
		d.metrics.NotificationsQueued.WithLabelValues(string(n.Kind)).Inc()
		d.metrics.QueueDepth.Set(float64(len(d.queue)))
		d.logger.Info("notification queued", "id", n.ID, "kind", n.Kind, "car_id", n.CarID, "order_id", n.OrderID)
		return true
	default:
		d.metrics.NotificationsDropped.WithLabelValues(string(n.Kind)).Inc()
		d.logger.Error("dispatch queue full, notification dropped", "id", n.ID, "kind", n.Kind, "order_id", n.OrderID)
		return false
	}
}

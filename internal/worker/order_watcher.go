package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"fleetnotify/internal/metrics"
	"fleetnotify/internal/model"
)

const DefaultErrorBackoff = 2 * time.Second

type FleetBackend interface {
	GetCar(ctx context.Context, carID int) (model.Car, bool, error)
	GetOrder(ctx context.Context, carID, orderID int) (model.Order, bool, error)
	ListOrders(ctx context.Context) ([]model.Order, error)
	PollOrderStates(ctx context.Context, since int64, wait bool) ([]model.OrderState, error)
}

type OrderLedger interface {
	Upsert(ctx context.Context, orderID, carID int, timestamp int64)
	Delete(ctx context.Context, orderID int)
	List(ctx context.Context) []model.LedgerOrder
}

type Notifier interface {
	Submit(n model.Notification) bool
}

// Snapshot is a read-only copy of the watcher state taken after a pass.
type Snapshot struct {
	Watermark int64         `json:"watermark"`
	Orders    []model.Order `json:"orders"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// OrderWatcher follows order state events and queues a phone notification
// when a car starts a new mission and when an order is done.
//
// The orders map and the watermark are owned by the goroutine running Start.
type OrderWatcher struct {
	backend  FleetBackend
	ledger   OrderLedger
	notifier Notifier
	logger   *slog.Logger
	metrics  *metrics.Registry

	errorBackoff time.Duration

	orders map[int]model.Order
	since  int64

	snapshot atomic.Pointer[Snapshot]
}

func NewOrderWatcher(backend FleetBackend, ledger OrderLedger, notifier Notifier, logger *slog.Logger, m *metrics.Registry) *OrderWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewRegistry()
	}
	w := &OrderWatcher{
		backend:      backend,
		ledger:       ledger,
		notifier:     notifier,
		logger:       logger,
		metrics:      m,
		errorBackoff: DefaultErrorBackoff,
		orders:       make(map[int]model.Order),
	}
	w.snapshot.Store(&Snapshot{Orders: []model.Order{}})
	return w
}

// SetErrorBackoff changes the pause after a failed pass. Call before Start.
func (w *OrderWatcher) SetErrorBackoff(d time.Duration) {
	if d > 0 {
		w.errorBackoff = d
	}
}

func (w *OrderWatcher) Snapshot() Snapshot {
	return *w.snapshot.Load()
}

// Start restores the tracked orders from the ledger and processes state
// events until ctx is cancelled.
func (w *OrderWatcher) Start(ctx context.Context) {
	w.logger.Info("starting order watcher")
	w.since = w.LoadUnfinishedOrders(ctx)
	w.publish()
	w.logger.Info("unfinished orders loaded", "count", len(w.orders), "since", w.since)

	for {
		err := w.processBatch(ctx)
		if ctx.Err() != nil {
			w.logger.Info("order watcher stopped", "since", w.since)
			return
		}
		if err == nil {
			continue
		}

		w.metrics.LoopErrors.Inc()
		w.logger.Error("order watcher pass failed", "since", w.since, "error", err)
		select {
		case <-ctx.Done():
			w.logger.Info("order watcher stopped", "since", w.since)
			return
		case <-time.After(w.errorBackoff):
		}
	}
}

// LoadUnfinishedOrders tracks every ledger order that still resolves in the
// backend and drops the rest from the ledger. It returns the watermark to
// resume from, 0 when nothing was loaded.
func (w *OrderWatcher) LoadUnfinishedOrders(ctx context.Context) int64 {
	var since int64
	for _, row := range w.ledger.List(ctx) {
		order, found, err := w.backend.GetOrder(ctx, row.CarID, row.OrderID)
		if err != nil || !found {
			w.logger.Warn("unable to get order from the api", "order_id", row.OrderID, "car_id", row.CarID, "error", err)
			w.ledger.Delete(ctx, row.OrderID)
			continue
		}
		w.orders[row.OrderID] = order
		since = max(since, order.Timestamp(), row.Timestamp)
	}
	return since
}

func (w *OrderWatcher) processBatch(ctx context.Context) error {
	states, err := w.backend.PollOrderStates(ctx, w.since, true)
	if err != nil {
		return fmt.Errorf("poll order states: %w", err)
	}

	states = latestStates(states, w.since)
	if len(states) > 0 {
		current, err := w.backend.ListOrders(ctx)
		if err != nil {
			return fmt.Errorf("list orders: %w", err)
		}
		index := make(map[int]int, len(current))
		for _, o := range current {
			index[o.ID] = o.CarID
		}

		for _, s := range states {
			w.since = max(w.since, s.Timestamp)
		}
		w.checkOrdersAndNotify(ctx, states, index)
	}

	err = w.removeFinishedOrders(ctx)
	if err == nil {
		w.updateLatestTimestamps(ctx)
	}
	w.publish()
	return err
}

// latestStates drops states at or below the watermark and keeps the newest
// state per order, in order of first appearance.
func latestStates(states []model.OrderState, since int64) []model.OrderState {
	pos := make(map[int]int, len(states))
	out := make([]model.OrderState, 0, len(states))
	for _, s := range states {
		if s.Timestamp <= since {
			continue
		}
		if i, ok := pos[s.OrderID]; ok {
			if s.Timestamp >= out[i].Timestamp {
				out[i] = s
			}
			continue
		}
		pos[s.OrderID] = len(out)
		out = append(out, s)
	}
	return out
}

// checkOrdersAndNotify handles one batch. index maps order id to car id.
// A failed lookup skips only the affected state.
func (w *OrderWatcher) checkOrdersAndNotify(ctx context.Context, states []model.OrderState, index map[int]int) {
	for _, state := range states {
		carID, ok := index[state.OrderID]
		if !ok {
			w.metrics.EventsSkipped.Inc()
			w.logger.Warn("order not found", "order_id", state.OrderID)
			continue
		}

		car, found, err := w.backend.GetCar(ctx, carID)
		if err != nil || !found {
			w.metrics.EventsSkipped.Inc()
			w.logger.Warn("car not found", "car_id", carID, "order_id", state.OrderID, "error", err)
			continue
		}

		w.metrics.EventsProcessed.Inc()
		w.handleState(ctx, car, state)
	}
}

func (w *OrderWatcher) handleState(ctx context.Context, car model.Car, state model.OrderState) {
	noActiveOrder := !w.hasActiveOrder(car.ID)

	var prevStatus string
	tracked, ok := w.orders[state.OrderID]
	if ok {
		prevStatus = tracked.Status()
	}

	var fresh *model.Order
	if !ok || state.Status == model.OrderStatusCanceled {
		order, found := w.fetchOrder(ctx, car.ID, state.OrderID)
		if !found {
			return
		}
		w.orders[state.OrderID] = order
		fresh = &order

		if !model.IsOrderFinished(order) && noActiveOrder {
			w.logger.Info("new mission started for car", "car_id", car.ID, "order_id", order.ID)
			w.notify(model.NotificationMissionStarted, car.AdminPhone(), car, order.ID)
		}
	}

	if prevStatus == model.OrderStatusDone || state.Status != model.OrderStatusDone {
		return
	}

	if fresh == nil {
		order, found := w.fetchOrder(ctx, car.ID, state.OrderID)
		if !found {
			return
		}
		w.orders[state.OrderID] = order
		fresh = &order
	}

	w.logger.Info("order is done", "order_id", fresh.ID, "car_id", car.ID)
	phone := fresh.NotificationNumber()
	if phone == "" {
		w.logger.Warn("order has no notification phone number", "order_id", fresh.ID)
		return
	}
	w.notify(model.NotificationMissionDone, phone, car, fresh.ID)
}

func (w *OrderWatcher) fetchOrder(ctx context.Context, carID, orderID int) (model.Order, bool) {
	order, found, err := w.backend.GetOrder(ctx, carID, orderID)
	if err != nil || !found {
		w.logger.Warn("unable to get order from the api", "order_id", orderID, "car_id", carID, "error", err)
		return model.Order{}, false
	}
	return order, true
}

// hasActiveOrder reports whether an unfinished order of the car is tracked.
func (w *OrderWatcher) hasActiveOrder(carID int) bool {
	for _, o := range w.orders {
		if o.CarID == carID && !model.IsOrderFinished(o) {
			return true
		}
	}
	return false
}

func (w *OrderWatcher) notify(kind model.NotificationKind, phone string, car model.Car, orderID int) {
	w.notifier.Submit(model.Notification{
		Kind:      kind,
		Phone:     phone,
		UnderTest: car.UnderTest,
		CarID:     car.ID,
		OrderID:   orderID,
	})
}

// removeFinishedOrders untracks finished orders and orders the backend no
// longer lists. Finished orders are removed even if the listing fails.
func (w *OrderWatcher) removeFinishedOrders(ctx context.Context) error {
	remove := make(map[int]struct{})
	for id, o := range w.orders {
		if model.IsOrderFinished(o) {
			remove[id] = struct{}{}
		}
	}

	current, listErr := w.backend.ListOrders(ctx)
	if listErr == nil {
		present := make(map[int]struct{}, len(current))
		for _, o := range current {
			present[o.ID] = struct{}{}
		}
		for id := range w.orders {
			if _, ok := present[id]; !ok {
				remove[id] = struct{}{}
			}
		}
	}

	for id := range remove {
		delete(w.orders, id)
		w.ledger.Delete(ctx, id)
		w.metrics.OrdersPruned.Inc()
		w.logger.Debug("order untracked", "order_id", id)
	}

	if listErr != nil {
		return fmt.Errorf("list orders: %w", listErr)
	}
	return nil
}

// updateLatestTimestamps stamps the ledger row of every tracked order with
// the current watermark.
func (w *OrderWatcher) updateLatestTimestamps(ctx context.Context) {
	for id, o := range w.orders {
		if model.IsOrderFinished(o) {
			continue
		}
		w.ledger.Upsert(ctx, id, o.CarID, w.since)
	}
}

func (w *OrderWatcher) publish() {
	orders := make([]model.Order, 0, len(w.orders))
	for _, o := range w.orders {
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })

	w.snapshot.Store(&Snapshot{Watermark: w.since, Orders: orders, UpdatedAt: time.Now()})
	w.metrics.Watermark.Set(float64(w.since))
	w.metrics.TrackedOrders.Set(float64(len(orders)))
}

package worker

import (
	"bytes"
	"context"
	"log/slog"
	"sort"
	"sync"

	"fleetnotify/internal/model"
)

// syncBuffer is a bytes.Buffer safe for the watcher goroutine and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

type fakeBackend struct {
	mu      sync.Mutex
	cars    []model.Car
	orders  []model.Order
	listErr error

	// script is consumed one step per poll; once empty, polls block.
	script    []func(b *fakeBackend) ([]model.OrderState, error)
	pollSince []int64
	getOrders int
}

func (b *fakeBackend) GetCar(_ context.Context, carID int) (model.Car, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.cars {
		if c.ID == carID {
			return c, true, nil
		}
	}
	return model.Car{}, false, nil
}

func (b *fakeBackend) GetOrder(_ context.Context, carID, orderID int) (model.Order, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.getOrders++
	for _, o := range b.orders {
		if o.CarID == carID && o.ID == orderID {
			return o, true, nil
		}
	}
	return model.Order{}, false, nil
}

func (b *fakeBackend) ListOrders(_ context.Context) ([]model.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	return append([]model.Order(nil), b.orders...), nil
}

func (b *fakeBackend) PollOrderStates(ctx context.Context, since int64, _ bool) ([]model.OrderState, error) {
	b.mu.Lock()
	b.pollSince = append(b.pollSince, since)
	if len(b.script) > 0 {
		step := b.script[0]
		b.script = b.script[1:]
		defer b.mu.Unlock()
		return step(b)
	}
	b.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *fakeBackend) setOrders(orders ...model.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = orders
}

func (b *fakeBackend) polls() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int64(nil), b.pollSince...)
}

type fakeLedger struct {
	mu   sync.Mutex
	rows map[int]model.LedgerOrder
}

func newFakeLedger(rows ...model.LedgerOrder) *fakeLedger {
	l := &fakeLedger{rows: map[int]model.LedgerOrder{}}
	for _, r := range rows {
		l.rows[r.OrderID] = r
	}
	return l
}

func (l *fakeLedger) Upsert(_ context.Context, orderID, carID int, timestamp int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows[orderID] = model.LedgerOrder{OrderID: orderID, CarID: carID, Timestamp: timestamp}
}

func (l *fakeLedger) Delete(_ context.Context, orderID int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.rows, orderID)
}

func (l *fakeLedger) List(_ context.Context) []model.LedgerOrder {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.LedgerOrder, 0, len(l.rows))
	for _, r := range l.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []model.Notification
}

func (n *fakeNotifier) Submit(notification model.Notification) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return true
}

func (n *fakeNotifier) notifications() []model.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.Notification(nil), n.sent...)
}

func phone(p string) *model.MobilePhone {
	return &model.MobilePhone{Phone: p}
}

func order(id, carID int, status string, ts int64) model.Order {
	return model.Order{
		ID:        id,
		CarID:     carID,
		LastState: &model.OrderState{OrderID: id, Status: status, Timestamp: ts},
	}
}

func withPhone(o model.Order, p string) model.Order {
	o.NotificationPhone = phone(p)
	return o
}

func state(orderID int, status string, ts int64) model.OrderState {
	return model.OrderState{OrderID: orderID, Status: status, Timestamp: ts}
}

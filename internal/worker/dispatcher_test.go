package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetnotify/internal/metrics"
	"fleetnotify/internal/model"
)

type call struct {
	number    string
	underTest bool
}

type fakeCaller struct {
	mu    sync.Mutex
	calls []call
	block chan struct{}
}

func (c *fakeCaller) CallPhone(ctx context.Context, number string, underTest bool) {
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call{number: number, underTest: underTest})
}

func (c *fakeCaller) made() []call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]call(nil), c.calls...)
}

func TestDispatcher_Submit(t *testing.T) {
	logger, logs := newTestLogger()
	m := metrics.NewRegistry()
	d := NewDispatcher(&fakeCaller{}, 1, 2, logger, m)

	assert.True(t, d.Submit(model.Notification{Kind: model.NotificationMissionStarted, Phone: "admin_phone"}))

	n := <-d.queue
	assert.NotEmpty(t, n.ID)
	assert.False(t, n.CreatedAt.IsZero())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsQueued.WithLabelValues("mission_started")))
	assert.Contains(t, logs.String(), "notification queued")
}

func TestDispatcher_SubmitKeepsID(t *testing.T) {
	d := NewDispatcher(&fakeCaller{}, 1, 1, nil, nil)

	require.True(t, d.Submit(model.Notification{ID: "task-1"}))
	assert.Equal(t, "task-1", (<-d.queue).ID)
}

func TestDispatcher_QueueFull(t *testing.T) {
	logger, logs := newTestLogger()
	m := metrics.NewRegistry()
	d := NewDispatcher(&fakeCaller{}, 1, 1, logger, m)

	require.True(t, d.Submit(model.Notification{Kind: model.NotificationMissionDone, Phone: "a"}))
	assert.False(t, d.Submit(model.Notification{Kind: model.NotificationMissionDone, Phone: "b"}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsDropped.WithLabelValues("mission_done")))
	assert.Contains(t, logs.String(), "dispatch queue full, notification dropped")
}

func TestDispatcher_Start(t *testing.T) {
	logger, logs := newTestLogger()
	caller := &fakeCaller{}
	d := NewDispatcher(caller, 2, 10, logger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		d.Start(ctx)
		close(stopped)
	}()

	require.True(t, d.Submit(model.Notification{Phone: "admin_phone"}))
	require.True(t, d.Submit(model.Notification{Phone: "customer_phone", UnderTest: true}))

	require.Eventually(t, func() bool { return len(caller.made()) == 2 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []call{
		{number: "admin_phone"},
		{number: "customer_phone", underTest: true},
	}, caller.made())

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
	assert.Contains(t, logs.String(), "notification dispatcher stopped")
}

func TestDispatcher_StopAbandonsInFlightCalls(t *testing.T) {
	caller := &fakeCaller{block: make(chan struct{})}
	d := NewDispatcher(caller, 1, 10, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		d.Start(ctx)
		close(stopped)
	}()

	require.True(t, d.Submit(model.Notification{Phone: "admin_phone"}))
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
	assert.Empty(t, caller.made())
}

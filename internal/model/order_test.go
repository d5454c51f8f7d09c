package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsOrderFinished(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{OrderStatusToAccept, false},
		{OrderStatusAccepted, false},
		{OrderStatusInProgress, false},
		{OrderStatusDone, true},
		{OrderStatusCanceled, true},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			o := Order{ID: 1, LastState: &OrderState{Status: tt.status}}
			assert.Equal(t, tt.want, IsOrderFinished(o))
		})
	}

	assert.False(t, IsOrderFinished(Order{ID: 1}), "order without a state is unfinished")
}

func TestOrder_NilFields(t *testing.T) {
	var o Order

	assert.Empty(t, o.Status())
	assert.Zero(t, o.Timestamp())
	assert.Empty(t, o.NotificationNumber())
	assert.Empty(t, Car{}.AdminPhone())
}

func TestOrder_DecodeBackendJSON(t *testing.T) {
	raw := `{
		"id": 12, "carId": 3, "targetStopId": 5, "stopRouteId": 1,
		"notificationPhone": {"phone": "+420111222333"},
		"lastState": {"id": 40, "orderId": 12, "status": "in_progress", "timestamp": 1700000000123}
	}`

	var o Order
	require.NoError(t, json.Unmarshal([]byte(raw), &o))

	assert.Equal(t, 12, o.ID)
	assert.Equal(t, 3, o.CarID)
	assert.Equal(t, OrderStatusInProgress, o.Status())
	assert.Equal(t, int64(1700000000123), o.Timestamp())
	assert.Equal(t, "+420111222333", o.NotificationNumber())
}

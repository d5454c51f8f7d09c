package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetnotify/internal/metrics"
	"fleetnotify/internal/model"
	"fleetnotify/internal/mw"
	"fleetnotify/internal/worker"
)

const secret = "status-secret"

type staticSource worker.Snapshot

func (s staticSource) Snapshot() worker.Snapshot { return worker.Snapshot(s) }

func newTestRouter(snap worker.Snapshot) http.Handler {
	return NewRouter(staticSource(snap), metrics.NewRegistry().Handler(), secret)
}

func get(t *testing.T, h http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, newTestRouter(worker.Snapshot{}), "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetrics(t *testing.T) {
	rec := get(t, newTestRouter(worker.Snapshot{}), "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fleet_notifications_tracked_orders")
}

func TestStatus_RequiresToken(t *testing.T) {
	rec := get(t, newTestRouter(worker.Snapshot{}), "/api/status", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatus(t *testing.T) {
	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := newTestRouter(worker.Snapshot{
		Watermark: 42,
		Orders: []model.Order{
			{ID: 1, CarID: 3, LastState: &model.OrderState{OrderID: 1, Status: model.OrderStatusInProgress, Timestamp: 42}},
		},
		UpdatedAt: updated,
	})
	token, err := mw.IssueToken(secret, "dispatch-board", time.Hour)
	require.NoError(t, err)

	rec := get(t, h, "/api/status", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(42), resp.Watermark)
	assert.Equal(t, 1, resp.TrackedOrders)
	require.Len(t, resp.Orders, 1)
	assert.Equal(t, model.OrderStatusInProgress, resp.Orders[0].Status())
	require.NotNil(t, resp.UpdatedAt)
	assert.True(t, updated.Equal(*resp.UpdatedAt))
}

func TestStatus_BeforeFirstPass(t *testing.T) {
	token, err := mw.IssueToken(secret, "dispatch-board", time.Hour)
	require.NoError(t, err)

	rec := get(t, newTestRouter(worker.Snapshot{}), "/api/status", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"watermark":0,"tracked_orders":0,"orders":[]}`, rec.Body.String())
}

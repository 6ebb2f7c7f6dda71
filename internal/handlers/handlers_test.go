package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wellywell/wbtasks/internal/ingest"
	"github.com/wellywell/wbtasks/internal/types"
)

type fakeEngine struct {
	tasks     []types.Task
	supplies  []types.Supply
	completed []string
	cycles    int
}

func (f *fakeEngine) ListNewOrders(_ context.Context, _ string, limit int, _ types.TaskStatus) []types.Task {
	if limit > 0 && len(f.tasks) > limit {
		return f.tasks[:limit]
	}
	return f.tasks
}

func (f *fakeEngine) GetTask(_ context.Context, orderID string) *types.Task {
	for _, task := range f.tasks {
		if task.OrderID == orderID {
			t := task
			return &t
		}
	}
	return nil
}

func (f *fakeEngine) CompleteTask(_ context.Context, orderID string) (bool, error) {
	if f.GetTask(context.Background(), orderID) == nil {
		return false, nil
	}
	f.completed = append(f.completed, orderID)
	return true, nil
}

func (f *fakeEngine) FetchSuppliesForWarehouse(_ context.Context, warehouse string, _ int) ([]types.Supply, error) {
	if warehouse != "Moscow-1" {
		return nil, fmt.Errorf("%w: %s", ingest.ErrUnknownWarehouse, warehouse)
	}
	return f.supplies, nil
}

func (f *fakeEngine) FetchOrdersForSupply(_ context.Context, warehouse string, _ string) ([]types.Order, error) {
	if warehouse != "Moscow-1" {
		return nil, fmt.Errorf("%w: %s", ingest.ErrUnknownWarehouse, warehouse)
	}
	return []types.Order{{ID: 1, Article: "р20-п5-33", SupplyID: "WB-GI-1"}}, nil
}

func (f *fakeEngine) ProcessCycle(_ context.Context) {
	f.cycles++
}

func testRouter(engine *fakeEngine) *chi.Mux {
	h := NewHandlerSet(engine)
	r := chi.NewRouter()
	r.Get("/api/tasks", h.HandleGetTasks)
	r.Get("/api/tasks/{orderID}", h.HandleGetTask)
	r.Post("/api/tasks/{orderID}/complete", h.HandleCompleteTask)
	r.Get("/api/supplies", h.HandleGetSupplies)
	r.Get("/api/supplies/{supplyID}/orders", h.HandleGetSupplyOrders)
	r.Get("/ping", h.HandlePing)
	return r
}

func TestHandleGetTasks(t *testing.T) {

	engine := &fakeEngine{tasks: []types.Task{
		{OrderID: "2", Article: "а2", Status: types.NewStatus},
		{OrderID: "1", Article: "а1", Status: types.NewStatus},
	}}
	r := testRouter(engine)

	testCases := []struct {
		url          string
		expectedCode int
		expectedLen  int
	}{
		{"/api/tasks", http.StatusOK, 2},
		{"/api/tasks?limit=1", http.StatusOK, 1},
		{"/api/tasks?limit=0", http.StatusBadRequest, 0},
		{"/api/tasks?limit=abc", http.StatusBadRequest, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.url, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.url, nil))

			assert.Equal(t, tc.expectedCode, w.Code)
			if tc.expectedCode != http.StatusOK {
				return
			}
			var result []taskResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
			assert.Len(t, result, tc.expectedLen)
		})
	}
}

func TestHandleGetTask(t *testing.T) {

	engine := &fakeEngine{tasks: []types.Task{
		{OrderID: "12345", Article: "р20-п5-33", Sticker: "231648 9753", Status: types.NewStatus},
	}}
	r := testRouter(engine)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/12345", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var result taskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "12345", result.OrderID)
	assert.Equal(t, "231648 9753", result.Sticker)
	assert.Equal(t, "new", result.Status)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/404", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleCompleteTask(t *testing.T) {

	engine := &fakeEngine{tasks: []types.Task{{OrderID: "12345", Status: types.NewStatus}}}
	r := testRouter(engine)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/tasks/12345/complete", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"12345"}, engine.completed)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/tasks/404/complete", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleGetSupplies(t *testing.T) {

	engine := &fakeEngine{supplies: []types.Supply{
		{ID: "WB-GI-1", Name: "Поставка 1", CreatedAt: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)},
	}}
	r := testRouter(engine)

	testCases := []struct {
		url          string
		expectedCode int
	}{
		{"/api/supplies?warehouse=Moscow-1", http.StatusOK},
		{"/api/supplies", http.StatusBadRequest},
		{"/api/supplies?warehouse=Nowhere", http.StatusNotFound},
		{"/api/supplies?warehouse=Moscow-1&max_age_days=abc", http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.url, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.url, nil))
			assert.Equal(t, tc.expectedCode, w.Code)
		})
	}
}

func TestHandleGetSupplyOrders(t *testing.T) {

	r := testRouter(&fakeEngine{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/supplies/WB-GI-1/orders?warehouse=Moscow-1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var result []struct {
		ID      int64  `json:"id"`
		Article string `json:"article"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Len(t, result, 1)
	assert.Equal(t, "р20-п5-33", result[0].Article)
}

func TestHandlePing(t *testing.T) {

	r := testRouter(&fakeEngine{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}

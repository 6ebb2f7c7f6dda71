package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"github.com/wellywell/wbtasks/internal/ingest"
	"github.com/wellywell/wbtasks/internal/types"
)

const defaultTasksLimit = 50

// Engine is the ingestion pipeline surface the handlers expose over HTTP.
type Engine interface {
	ListNewOrders(ctx context.Context, warehouse string, limit int, status types.TaskStatus) []types.Task
	GetTask(ctx context.Context, orderID string) *types.Task
	CompleteTask(ctx context.Context, orderID string) (bool, error)
	FetchSuppliesForWarehouse(ctx context.Context, warehouse string, maxAgeDays int) ([]types.Supply, error)
	FetchOrdersForSupply(ctx context.Context, warehouse string, supplyID string) ([]types.Order, error)
	ProcessCycle(ctx context.Context)
}

type HandlerSet struct {
	engine Engine
}

func NewHandlerSet(engine Engine) *HandlerSet {
	return &HandlerSet{engine: engine}
}

type taskResponse struct {
	OrderID     string `json:"order_id"`
	PhotoURL    string `json:"photo_url,omitempty"`
	ProductName string `json:"product_name"`
	Article     string `json:"article"`
	Sticker     string `json:"sticker"`
	Status      string `json:"status"`
}

func toTaskResponse(t types.Task) taskResponse {
	return taskResponse{
		OrderID:     t.OrderID,
		PhotoURL:    t.PhotoURL,
		ProductName: t.ProductName,
		Article:     t.Article,
		Sticker:     t.Sticker,
		Status:      string(t.Status),
	}
}

func (h *HandlerSet) HandleGetTasks(w http.ResponseWriter, req *http.Request) {

	limit := defaultTasksLimit
	if raw := req.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	tasks := h.engine.ListNewOrders(req.Context(),
		req.URL.Query().Get("warehouse"),
		limit,
		types.TaskStatus(req.URL.Query().Get("status")))

	result := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		result = append(result, toTaskResponse(t))
	}
	writeJSON(w, result)
}

func (h *HandlerSet) HandleGetTask(w http.ResponseWriter, req *http.Request) {

	orderID := chi.URLParam(req, "orderID")

	task := h.engine.GetTask(req.Context(), orderID)
	if task == nil {
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, toTaskResponse(*task))
}

func (h *HandlerSet) HandleCompleteTask(w http.ResponseWriter, req *http.Request) {

	orderID := chi.URLParam(req, "orderID")

	found, err := h.engine.CompleteTask(req.Context(), orderID)
	if err != nil {
		http.Error(w, "Something went wrong", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	}

	w.Header().Set("content-type", "text/plain")
	_, err = w.Write([]byte("success"))
	if err != nil {
		http.Error(w, "Something went wrong", http.StatusInternalServerError)
	}
}

func (h *HandlerSet) HandleGetSupplies(w http.ResponseWriter, req *http.Request) {

	warehouse := req.URL.Query().Get("warehouse")
	if warehouse == "" {
		http.Error(w, "Warehouse is required", http.StatusBadRequest)
		return
	}

	maxAgeDays := 0
	if raw := req.URL.Query().Get("max_age_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			http.Error(w, "Invalid max_age_days", http.StatusBadRequest)
			return
		}
		maxAgeDays = parsed
	}

	supplies, err := h.engine.FetchSuppliesForWarehouse(req.Context(), warehouse, maxAgeDays)
	if err != nil {
		if errors.Is(err, ingest.ErrUnknownWarehouse) {
			http.Error(w, "Warehouse not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Something went wrong", http.StatusInternalServerError)
		return
	}

	type supplyResponse struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		CreatedAt string `json:"created_at"`
	}
	result := make([]supplyResponse, 0, len(supplies))
	for _, s := range supplies {
		result = append(result, supplyResponse{
			ID:        s.ID,
			Name:      s.Name,
			CreatedAt: s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, result)
}

func (h *HandlerSet) HandleGetSupplyOrders(w http.ResponseWriter, req *http.Request) {

	warehouse := req.URL.Query().Get("warehouse")
	if warehouse == "" {
		http.Error(w, "Warehouse is required", http.StatusBadRequest)
		return
	}
	supplyID := chi.URLParam(req, "supplyID")

	orders, err := h.engine.FetchOrdersForSupply(req.Context(), warehouse, supplyID)
	if err != nil {
		if errors.Is(err, ingest.ErrUnknownWarehouse) {
			http.Error(w, "Warehouse not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Something went wrong", http.StatusInternalServerError)
		return
	}

	type orderResponse struct {
		ID      int64  `json:"id"`
		Article string `json:"article"`
		Supply  string `json:"supply_id"`
	}
	result := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		result = append(result, orderResponse{ID: o.ID, Article: o.ArticleOrSku(), Supply: o.SupplyID})
	}
	writeJSON(w, result)
}

// HandlePoll triggers one processing cycle outside the regular schedule.
func (h *HandlerSet) HandlePoll(w http.ResponseWriter, req *http.Request) {

	go h.engine.ProcessCycle(context.WithoutCancel(req.Context()))

	w.WriteHeader(http.StatusAccepted)
	_, err := w.Write([]byte("poll started"))
	if err != nil {
		logger.Error(err)
	}
}

func (h *HandlerSet) HandlePing(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("content-type", "text/plain")
	_, err := w.Write([]byte("pong"))
	if err != nil {
		http.Error(w, "Something went wrong", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("content-type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error(err)
	}
}

package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/wellywell/wbtasks/internal/notify"
	"github.com/wellywell/wbtasks/internal/types"
)

const (
	orderDelay       = 2 * time.Second
	stickerBatchSize = 100
)

var ErrUnknownWarehouse = errors.New("unknown warehouse")

type TaskStore interface {
	WarehouseKeys(ctx context.Context) []types.WarehouseKey
	OrderExistsInTasks(ctx context.Context, orderID int64) bool
	AddTask(ctx context.Context, task types.Task) error
	AddTasksBatch(ctx context.Context, tasks []types.Task) (added int, skipped int, err error)
	Tasks(ctx context.Context, warehouse string, limit int, status types.TaskStatus) []types.Task
	TaskByOrderID(ctx context.Context, orderID string) *types.Task
	UpdateTaskStatus(ctx context.Context, orderID string, status types.TaskStatus) (bool, error)
}

type Tracker interface {
	Refresh(ctx context.Context)
	IsProcessed(ctx context.Context, orderID int64) bool
	MarkProcessed(ctx context.Context, orderID int64, warehouse string, apiKey string) error
}

type Catalog interface {
	Lookup(ctx context.Context, article string) *types.Product
	Preload(ctx context.Context) map[string]types.Product
}

type Notifier interface {
	NotifyWarehouse(ctx context.Context, n notify.Notification) int
}

// OrderSource is one warehouse's view of the marketplace API.
type OrderSource interface {
	NewOrders(ctx context.Context) []types.Order
	Stickers(ctx context.Context, orderIDs []int64) map[int64]string
	IncompleteSupplies(ctx context.Context, maxAgeDays int) []types.Supply
	OrderIDsForSupply(ctx context.Context, supplyID string) []int64
	OrdersByIDs(ctx context.Context, orderIDs []int64, dateFrom time.Time) map[int64]types.Order
}

// SourceFactory builds an order source for a warehouse API key.
type SourceFactory func(apiKey string) OrderSource

// IngestResult summarizes one batch ingestion.
type IngestResult struct {
	Added    int
	Skipped  int
	Notified int
}

// Engine is the deduplication and ingestion pipeline. The store has no
// transactions across its tables, so the engine guarantees at-most-once
// recording through redundant existence checks: an order counts as handled
// if it is in the processed ledger OR in the task ledger, and the missing
// side is re-asserted whenever the other is found. Divergence left by a
// crash heals on the next observation of the order; there is no background
// reconciliation sweep.
type Engine struct {
	store            TaskStore
	tracker          Tracker
	catalog          Catalog
	notifier         Notifier
	sources          SourceFactory
	maxSupplyAgeDays int
}

func NewEngine(store TaskStore, tracker Tracker, catalog Catalog, notifier Notifier,
	sources SourceFactory, maxSupplyAgeDays int) *Engine {
	return &Engine{
		store:            store,
		tracker:          tracker,
		catalog:          catalog,
		notifier:         notifier,
		sources:          sources,
		maxSupplyAgeDays: maxSupplyAgeDays,
	}
}

// ProcessCycle polls every registered warehouse once. Failures within one
// warehouse never abort the cycle.
func (e *Engine) ProcessCycle(ctx context.Context) {

	logger.Info("Starting order processing cycle...")

	e.tracker.Refresh(ctx)

	warehouses := e.store.WarehouseKeys(ctx)
	if len(warehouses) == 0 {
		logger.Warning("No warehouses found in registry")
		return
	}

	for _, wh := range warehouses {
		logger.Infof("Processing orders for warehouse: %s (City: %s)", wh.Warehouse, wh.City)
		e.processWarehouse(ctx, wh)
		if ctx.Err() != nil {
			return
		}
	}
	logger.Info("Order processing cycle completed")
}

func (e *Engine) processWarehouse(ctx context.Context, wh types.WarehouseKey) {

	source := e.sources(wh.APIKey)

	// refresh right before the batch to catch writes by other instances
	e.tracker.Refresh(ctx)

	observed := source.NewOrders(ctx)

	var orders []types.Order
	for _, order := range observed {
		if !e.tracker.IsProcessed(ctx, order.ID) {
			orders = append(orders, order)
		}
	}
	if len(orders) == 0 {
		logger.Debugf("No new orders for warehouse: %s (observed %d)", wh.Warehouse, len(observed))
		return
	}
	logger.Infof("Processing %d new orders for warehouse: %s", len(orders), wh.Warehouse)

	for i, order := range orders {
		if err := e.processOrder(ctx, source, order, wh); err != nil {
			logger.Errorf("Error processing order %d: %s", order.ID, err)
		}
		if i < len(orders)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(orderDelay):
			}
		}
	}
}

// processOrder runs the single-order write path: task ledger first, then
// processed ledger, then notification. A crash in between leaves the
// user-facing task row intact and the redundant checks keep the retry from
// duplicating it.
func (e *Engine) processOrder(ctx context.Context, source OrderSource, order types.Order, wh types.WarehouseKey) error {

	// direct probe against the task ledger; a hit means the order was
	// handled even if the processed ledger lost the race, so re-assert
	// membership and move on
	if e.store.OrderExistsInTasks(ctx, order.ID) {
		logger.Infof("Order %d already exists in Tasks sheet, skipping", order.ID)
		if err := e.tracker.MarkProcessed(ctx, order.ID, wh.Warehouse, wh.APIKey); err != nil {
			logger.Errorf("Error marking order %d as processed: %s", order.ID, err)
		}
		return nil
	}

	logger.Infof("Processing order %d", order.ID)

	sticker := source.Stickers(ctx, []int64{order.ID})[order.ID]

	task := types.Task{
		OrderID: strconv.FormatInt(order.ID, 10),
		Article: order.ArticleOrSku(),
		Sticker: sticker,
		Status:  types.NewStatus,
	}
	if product := e.catalog.Lookup(ctx, order.Article); product != nil {
		task.PhotoURL = product.PhotoURL
		task.ProductName = product.Title
	}

	if err := e.store.AddTask(ctx, task); err != nil {
		return fmt.Errorf("failed to record order %d %w", order.ID, err)
	}

	if err := e.tracker.MarkProcessed(ctx, order.ID, wh.Warehouse, wh.APIKey); err != nil {
		logger.Errorf("Error marking order %d as processed: %s", order.ID, err)
	}

	e.notifier.NotifyWarehouse(ctx, notify.Notification{
		OrderID:     order.ID,
		ProductName: task.ProductName,
		Article:     task.Article,
		Sticker:     task.Sticker,
		Warehouse:   wh.Warehouse,
		PhotoURL:    task.PhotoURL,
	})
	return nil
}

// IngestAndNotify records a known batch of orders (typically one supply)
// with a single existence pre-check and a single ranged write, then fans
// out notifications. Weaker per-order atomicity than processOrder, far
// fewer store calls.
func (e *Engine) IngestAndNotify(ctx context.Context, orders []types.Order, warehouse string) (IngestResult, error) {

	if len(orders) == 0 {
		return IngestResult{}, nil
	}

	wh, err := e.warehouseKey(ctx, warehouse)
	if err != nil {
		return IngestResult{}, err
	}
	source := e.sources(wh.APIKey)

	sorted := make([]types.Order, len(orders))
	copy(sorted, orders)
	sort.SliceStable(sorted, func(i, j int) bool {
		return ArticleSortKey(sorted[i].ArticleOrSku()) < ArticleSortKey(sorted[j].ArticleOrSku())
	})

	stickers := make(map[int64]string, len(sorted))
	for start := 0; start < len(sorted); start += stickerBatchSize {
		end := min(start+stickerBatchSize, len(sorted))
		ids := make([]int64, 0, end-start)
		for _, o := range sorted[start:end] {
			ids = append(ids, o.ID)
		}
		for id, s := range source.Stickers(ctx, ids) {
			stickers[id] = s
		}
	}

	products := e.catalog.Preload(ctx)

	tasks := make([]types.Task, 0, len(sorted))
	notifications := make([]notify.Notification, 0, len(sorted))
	for _, order := range sorted {
		article := order.ArticleOrSku()
		product := products[strings.ToLower(strings.TrimSpace(article))]

		sticker := stickers[order.ID]
		if sticker == "" {
			sticker = "Нужно собрать!"
		}

		tasks = append(tasks, types.Task{
			OrderID:     strconv.FormatInt(order.ID, 10),
			PhotoURL:    product.PhotoURL,
			ProductName: product.Title,
			Article:     article,
			Sticker:     sticker,
			Status:      types.NewStatus,
		})
		notifications = append(notifications, notify.Notification{
			OrderID:     order.ID,
			ProductName: product.Title,
			Article:     article,
			Sticker:     sticker,
			Warehouse:   warehouse,
			SupplyID:    order.SupplyID,
			PhotoURL:    product.PhotoURL,
		})
	}

	added, skipped, err := e.store.AddTasksBatch(ctx, tasks)
	if err != nil {
		return IngestResult{}, fmt.Errorf("failed to ingest batch %w", err)
	}

	for _, order := range sorted {
		if err := e.tracker.MarkProcessed(ctx, order.ID, wh.Warehouse, wh.APIKey); err != nil {
			logger.Errorf("Error marking order %d as processed: %s", order.ID, err)
		}
	}

	notified := 0
	for _, n := range notifications {
		notified += e.notifier.NotifyWarehouse(ctx, n)
	}

	return IngestResult{Added: added, Skipped: skipped, Notified: notified}, nil
}

// FetchSuppliesForWarehouse lists the warehouse's incomplete supplies not
// older than maxAgeDays.
func (e *Engine) FetchSuppliesForWarehouse(ctx context.Context, warehouse string, maxAgeDays int) ([]types.Supply, error) {

	wh, err := e.warehouseKey(ctx, warehouse)
	if err != nil {
		return nil, err
	}
	if maxAgeDays <= 0 {
		maxAgeDays = e.maxSupplyAgeDays
	}
	return e.sources(wh.APIKey).IncompleteSupplies(ctx, maxAgeDays), nil
}

// FetchOrdersForSupply resolves the supply's order identifiers into full
// orders via the flat-list scan.
func (e *Engine) FetchOrdersForSupply(ctx context.Context, warehouse string, supplyID string) ([]types.Order, error) {

	wh, err := e.warehouseKey(ctx, warehouse)
	if err != nil {
		return nil, err
	}
	source := e.sources(wh.APIKey)

	ids := source.OrderIDsForSupply(ctx, supplyID)
	if len(ids) == 0 {
		return nil, nil
	}

	dateFrom := time.Now().UTC().AddDate(0, 0, -30)
	found := source.OrdersByIDs(ctx, ids, dateFrom)

	orders := make([]types.Order, 0, len(found))
	for _, id := range ids {
		if order, ok := found[id]; ok {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

// ListNewOrders returns tasks for the chat surface, newest first.
func (e *Engine) ListNewOrders(ctx context.Context, warehouse string, limit int, status types.TaskStatus) []types.Task {
	return e.store.Tasks(ctx, warehouse, limit, status)
}

func (e *Engine) GetTask(ctx context.Context, orderID string) *types.Task {
	return e.store.TaskByOrderID(ctx, orderID)
}

// CompleteTask transitions a task to completed. Reports whether the task
// was found.
func (e *Engine) CompleteTask(ctx context.Context, orderID string) (bool, error) {
	return e.store.UpdateTaskStatus(ctx, orderID, types.CompletedStatus)
}

func (e *Engine) warehouseKey(ctx context.Context, warehouse string) (types.WarehouseKey, error) {
	for _, wh := range e.store.WarehouseKeys(ctx) {
		if wh.Warehouse == warehouse {
			return wh, nil
		}
	}
	return types.WarehouseKey{}, fmt.Errorf("%w: %s", ErrUnknownWarehouse, warehouse)
}

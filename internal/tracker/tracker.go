package tracker

import (
	"context"
	"strconv"
	"sync"

	logger "github.com/sirupsen/logrus"
)

type Ledger interface {
	ProcessedOrderIDs(ctx context.Context) map[string]struct{}
	OrderExistsInTasks(ctx context.Context, orderID int64) bool
	MarkOrderProcessed(ctx context.Context, orderID int64, warehouse string, apiKey string) error
}

// Tracker keeps the processed-order membership set. The cached set is an
// optimization only: the task ledger is probed as a second, equally
// authoritative witness, because either ledger can be written without the
// other when the process dies mid-order.
type Tracker struct {
	ledger Ledger

	mu        sync.Mutex
	processed map[string]struct{}
}

func New(ctx context.Context, ledger Ledger) *Tracker {
	t := &Tracker{
		ledger:    ledger,
		processed: make(map[string]struct{}),
	}
	t.Refresh(ctx)
	return t
}

// Refresh reloads the membership set from the processed-order ledger.
// Called at the start of every polling cycle and again before each
// warehouse batch to narrow the duplicate-write window.
func (t *Tracker) Refresh(ctx context.Context) {
	ids := t.ledger.ProcessedOrderIDs(ctx)
	t.mu.Lock()
	t.processed = ids
	t.mu.Unlock()
	logger.Infof("Refreshed processed order IDs: %d orders", len(ids))
}

// IsProcessed reports whether the order was handled before, consulting the
// cached processed set and then the task ledger.
func (t *Tracker) IsProcessed(ctx context.Context, orderID int64) bool {

	key := strconv.FormatInt(orderID, 10)

	t.mu.Lock()
	_, ok := t.processed[key]
	t.mu.Unlock()
	if ok {
		return true
	}

	if t.ledger.OrderExistsInTasks(ctx, orderID) {
		logger.Debugf("Order %d found in Tasks sheet, treating as processed", orderID)
		return true
	}
	return false
}

// MarkProcessed appends the order to the processed ledger and updates the
// cache. Orders already in the cache are skipped, which makes re-assertion
// after a task-ledger hit idempotent.
func (t *Tracker) MarkProcessed(ctx context.Context, orderID int64, warehouse string, apiKey string) error {

	key := strconv.FormatInt(orderID, 10)

	t.mu.Lock()
	_, ok := t.processed[key]
	t.mu.Unlock()
	if ok {
		logger.Debugf("Order %d already marked as processed in cache", orderID)
		return nil
	}

	if err := t.ledger.MarkOrderProcessed(ctx, orderID, warehouse, apiKey); err != nil {
		return err
	}

	t.mu.Lock()
	t.processed[key] = struct{}{}
	t.mu.Unlock()
	return nil
}

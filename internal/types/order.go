package types

import (
	"strings"
	"time"
)

type TaskStatus string

const (
	NewStatus       TaskStatus = "new"
	CompletedStatus TaskStatus = "completed"
)

// Order is a purchase as returned by the marketplace API. It is never
// mutated after it has been observed.
type Order struct {
	ID          int64
	Article     string
	Skus        []string
	SupplyID    string
	WarehouseID int64
	CreatedAt   time.Time
	Done        bool
}

// ArticleOrSku returns the seller article, falling back to the first SKU.
func (o Order) ArticleOrSku() string {
	if o.Article != "" {
		return o.Article
	}
	if len(o.Skus) > 0 {
		return o.Skus[0]
	}
	return ""
}

// Supply groups orders the seller is expected to fulfil together.
type Supply struct {
	ID        string
	Name      string
	Done      bool
	CreatedAt time.Time
}

// Sticker is the two-part package label identifier fetched per order.
type Sticker struct {
	OrderID int64
	PartA   string
	PartB   string
}

func (s Sticker) String() string {
	return strings.TrimSpace(s.PartA + " " + s.PartB)
}

// Task is the user-facing work item derived from an order.
type Task struct {
	OrderID     string
	PhotoURL    string
	ProductName string
	Article     string
	Sticker     string
	Status      TaskStatus
}

// ProcessedEntry is one append-only row of the dedup ledger.
type ProcessedEntry struct {
	OrderID     string
	Warehouse   string
	KeyFragment string
	ProcessedAt time.Time
}

// WarehouseKey is one row of the externally maintained warehouse registry.
type WarehouseKey struct {
	City      string
	Warehouse string
	APIKey    string
}

// Product is a catalog entry keyed by lower-cased seller article.
type Product struct {
	Article  string
	PhotoURL string
	Title    string
}

// Access lists what a single chat may see.
type Access struct {
	Cities     []string
	Warehouses []string
}

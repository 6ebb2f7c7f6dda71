package catalog

import (
	"context"
	"strings"

	logger "github.com/sirupsen/logrus"

	"github.com/wellywell/wbtasks/internal/types"
	"github.com/wellywell/wbtasks/internal/wb"
)

type Store interface {
	Product(ctx context.Context, article string) *types.Product
	Products(ctx context.Context) map[string]types.Product
	UpsertProduct(ctx context.Context, article string, photoURL string, title string) error
}

// CardSource yields product cards for the bulk load, typically the content
// API client.
type CardSource interface {
	ProductCards(ctx context.Context, pageLimit int) []wb.ProductCard
}

// Catalog resolves a seller article to its photo and title. A missing entry
// is not an error: ingestion must never be blocked on catalog completeness.
type Catalog struct {
	store Store
}

func New(store Store) *Catalog {
	return &Catalog{store: store}
}

// Lookup is case-insensitive on the article. Returns nil when the article
// is unknown.
func (c *Catalog) Lookup(ctx context.Context, article string) *types.Product {
	if strings.TrimSpace(article) == "" {
		return nil
	}
	return c.store.Product(ctx, article)
}

// Preload loads the whole catalog for batch paths, keyed by lower-cased
// article.
func (c *Catalog) Preload(ctx context.Context) map[string]types.Product {
	return c.store.Products(ctx)
}

func (c *Catalog) Exists(ctx context.Context, article string) bool {
	return c.Lookup(ctx, article) != nil
}

func (c *Catalog) Upsert(ctx context.Context, article string, photoURL string, title string) error {
	return c.store.UpsertProduct(ctx, article, photoURL, title)
}

// LoadAll pulls product cards from the source and upserts them into the
// catalog table. Cards without a vendor code are skipped. Returns how many
// entries were written.
func (c *Catalog) LoadAll(ctx context.Context, source CardSource, maxPages int) int {

	cards := source.ProductCards(ctx, maxPages)

	loaded := 0
	for _, card := range cards {
		article := strings.TrimSpace(card.VendorCode)
		if article == "" {
			continue
		}
		if err := c.store.UpsertProduct(ctx, article, card.PhotoURL, card.Title); err != nil {
			logger.Errorf("Failed to store product %q: %s", article, err)
			continue
		}
		loaded++
	}
	logger.Infof("Product catalog loaded: %d products", loaded)
	return loaded
}

package wb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"

	"github.com/wellywell/wbtasks/internal/retry"
	"github.com/wellywell/wbtasks/internal/types"
)

const (
	MarketplaceAPIBase = "https://marketplace-api.wildberries.ru"
	ContentAPIBase     = "https://content-api.wildberries.ru"

	requestTimeout = 30 * time.Second

	stickerType   = "svg"
	stickerWidth  = 58
	stickerHeight = 40
)

var (
	ErrThrottle   = errors.New("too many requests")
	ErrCredential = errors.New("credential rejected")
)

// Client talks to the marketplace and content APIs on behalf of one
// warehouse key. Failed calls degrade to empty results on the public
// surface; callers treat that as a soft failure.
type Client struct {
	marketplace *resty.Client
	content     *resty.Client
	policy      retry.Policy
	pageDelay   time.Duration
}

// Options tune retries and pagination pacing. Zero values get defaults
// matching the marketplace's documented limits.
type Options struct {
	MarketplaceURL string
	ContentURL     string
	RetryAttempts  int
	RetryDelay     time.Duration
	Cooldown       time.Duration
	PageDelay      time.Duration
}

func NewClient(apiKey string, opts Options) *Client {

	if opts.MarketplaceURL == "" {
		opts.MarketplaceURL = MarketplaceAPIBase
	}
	if opts.ContentURL == "" {
		opts.ContentURL = ContentAPIBase
	}
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.Cooldown == 0 {
		opts.Cooldown = 60 * time.Second
	}
	if opts.PageDelay == 0 {
		opts.PageDelay = 500 * time.Millisecond
	}

	newAPI := func(base string) *resty.Client {
		return resty.New().
			SetBaseURL(base).
			SetTimeout(requestTimeout).
			SetHeader("Authorization", apiKey).
			SetHeader("Content-Type", "application/json")
	}

	linear := retry.LinearBackoff(opts.RetryDelay)
	policy := retry.Policy{
		MaxAttempts: opts.RetryAttempts,
		Backoff: func(attempt int, err error) time.Duration {
			if errors.Is(err, ErrThrottle) {
				return opts.Cooldown
			}
			return linear(attempt, err)
		},
		// credential-class errors are not transient
		Retryable: func(err error) bool { return !errors.Is(err, ErrCredential) },
	}

	return &Client{
		marketplace: newAPI(opts.MarketplaceURL),
		content:     newAPI(opts.ContentURL),
		policy:      policy,
		pageDelay:   opts.PageDelay,
	}
}

// do runs one HTTP call under the retry policy and classifies the status.
func (c *Client) do(ctx context.Context, send func() (*resty.Response, error)) (*resty.Response, error) {

	var resp *resty.Response
	err := retry.Do(ctx, nil, c.policy, func() error {
		r, err := send()
		if err != nil {
			return fmt.Errorf("request failed %w", err)
		}
		switch r.StatusCode() {
		case http.StatusOK:
			resp = r
			return nil
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w", ErrThrottle)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: status %d", ErrCredential, r.StatusCode())
		default:
			return fmt.Errorf("unexpected status %d", r.StatusCode())
		}
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

type orderDTO struct {
	ID          int64    `json:"id"`
	Article     string   `json:"article"`
	Skus        []string `json:"skus"`
	SupplyID    string   `json:"supplyId"`
	WarehouseID int64    `json:"warehouseId"`
	CreatedAt   string   `json:"createdAt"`
	Done        bool     `json:"done"`
}

func (d orderDTO) toOrder() types.Order {
	return types.Order{
		ID:          d.ID,
		Article:     d.Article,
		Skus:        d.Skus,
		SupplyID:    d.SupplyID,
		WarehouseID: d.WarehouseID,
		CreatedAt:   parseTime(d.CreatedAt),
		Done:        d.Done,
	}
}

// NewOrders fetches the flat list of new (not yet confirmed) orders.
func (c *Client) NewOrders(ctx context.Context) []types.Order {

	var result struct {
		Orders []orderDTO `json:"orders"`
	}
	_, err := c.do(ctx, func() (*resty.Response, error) {
		return c.marketplace.R().SetContext(ctx).SetResult(&result).Get("/api/v3/orders/new")
	})
	if err != nil {
		logger.Errorf("Failed to fetch new orders: %s", err)
		return nil
	}

	orders := make([]types.Order, 0, len(result.Orders))
	for _, dto := range result.Orders {
		if dto.ID == 0 {
			logger.Warning("Order missing ID, skipping")
			continue
		}
		orders = append(orders, dto.toOrder())
	}
	logger.Infof("Fetched %d new orders", len(orders))
	return orders
}

// Stickers fetches package labels for the given orders and returns the
// rendered two-part sticker per order id. Orders without a sticker yet are
// simply absent from the result.
func (c *Client) Stickers(ctx context.Context, orderIDs []int64) map[int64]string {

	if len(orderIDs) == 0 {
		return map[int64]string{}
	}

	var result struct {
		Stickers []struct {
			OrderID int64  `json:"orderId"`
			PartA   string `json:"partA"`
			PartB   string `json:"partB"`
		} `json:"stickers"`
	}
	_, err := c.do(ctx, func() (*resty.Response, error) {
		return c.marketplace.R().SetContext(ctx).
			SetQueryParams(map[string]string{
				"type":   stickerType,
				"width":  fmt.Sprint(stickerWidth),
				"height": fmt.Sprint(stickerHeight),
			}).
			SetBody(map[string]interface{}{"orders": orderIDs}).
			SetResult(&result).
			Post("/api/v3/orders/stickers")
	})
	if err != nil {
		logger.Errorf("Failed to fetch stickers: %s", err)
		return map[int64]string{}
	}

	stickers := make(map[int64]string, len(result.Stickers))
	for _, s := range result.Stickers {
		rendered := types.Sticker{OrderID: s.OrderID, PartA: s.PartA, PartB: s.PartB}.String()
		if rendered != "" {
			stickers[s.OrderID] = rendered
		}
	}
	if len(stickers) == 0 {
		logger.Warningf("No stickers returned for %d orders, they may need confirmation first", len(orderIDs))
	}
	return stickers
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC()
	}
	// timestamps without a zone are treated as UTC
	if t, err := time.Parse("2006-01-02T15:04:05", value); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

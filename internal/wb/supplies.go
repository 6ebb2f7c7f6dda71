package wb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"

	"github.com/wellywell/wbtasks/internal/types"
)

// maxPages bounds every cursor loop so a misbehaving source cannot keep us
// paging forever.
const maxPages = 100

type supplyDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Done      bool   `json:"done"`
	CreatedAt string `json:"createdAt"`
}

// SuppliesPage is one page of the supplies cursor listing.
type SuppliesPage struct {
	Supplies []supplyDTO `json:"supplies"`
	Next     int64       `json:"next"`
}

// Supplies fetches a single page. The cursor is seeded with 0.
func (c *Client) Supplies(ctx context.Context, limit int, next int64) (*SuppliesPage, error) {

	var page SuppliesPage
	_, err := c.do(ctx, func() (*resty.Response, error) {
		return c.marketplace.R().SetContext(ctx).
			SetQueryParams(map[string]string{
				"limit": fmt.Sprint(limit),
				"next":  fmt.Sprint(next),
			}).
			SetResult(&page).
			Get("/api/v3/supplies")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch supplies %w", err)
	}
	return &page, nil
}

// IncompleteSupplies pages through all supplies and keeps the ones that are
// not done and not older than maxAgeDays. Supplies whose creation timestamp
// cannot be parsed are excluded rather than included.
func (c *Client) IncompleteSupplies(ctx context.Context, maxAgeDays int) []types.Supply {

	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)

	var result []types.Supply
	var next int64
	for page := 0; page < maxPages; page++ {
		resp, err := c.Supplies(ctx, 1000, next)
		if err != nil {
			logger.Errorf("Failed to fetch supplies page: %s", err)
			break
		}

		for _, dto := range resp.Supplies {
			if dto.Done {
				continue
			}
			created := parseTime(dto.CreatedAt)
			if created.IsZero() {
				logger.Warningf("Supply %s has unparseable createdAt %q, skipping", dto.ID, dto.CreatedAt)
				continue
			}
			if created.Before(cutoff) {
				continue
			}
			result = append(result, types.Supply{
				ID:        dto.ID,
				Name:      dto.Name,
				Done:      dto.Done,
				CreatedAt: created,
			})
		}

		next = resp.Next
		if next == 0 {
			break
		}
		sleepCtx(ctx, c.pageDelay)
	}

	logger.Infof("Total incomplete supplies found: %d", len(result))
	return result
}

// OrderIDsForSupply lists the order identifiers grouped under one supply.
// The endpoint answers either with a bare list or an object.
func (c *Client) OrderIDsForSupply(ctx context.Context, supplyID string) []int64 {

	resp, err := c.do(ctx, func() (*resty.Response, error) {
		return c.marketplace.R().SetContext(ctx).
			Get("/api/marketplace/v3/supplies/" + supplyID + "/order-ids")
	})
	if err != nil {
		logger.Errorf("Failed to fetch order ids for supply %s: %s", supplyID, err)
		return nil
	}

	body := resp.Body()
	var ids []int64
	if err := json.Unmarshal(body, &ids); err == nil {
		return ids
	}
	var wrapped struct {
		OrderIDs []int64 `json:"orderIds"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil {
		return wrapped.OrderIDs
	}
	logger.Warningf("Unexpected response shape for supply %s order ids", supplyID)
	return nil
}

// OrdersByIDs scans the flat order listing for the target identifiers.
// The source has no by-id fetch, so this pages until every target is found
// or pagination exhausts.
func (c *Client) OrdersByIDs(ctx context.Context, orderIDs []int64, dateFrom time.Time) map[int64]types.Order {

	if len(orderIDs) == 0 {
		return map[int64]types.Order{}
	}
	targets := make(map[int64]bool, len(orderIDs))
	for _, id := range orderIDs {
		targets[id] = true
	}

	found := make(map[int64]types.Order, len(targets))
	var next int64
	for page := 0; page < maxPages && len(found) < len(targets); page++ {

		var result struct {
			Orders []orderDTO `json:"orders"`
			Next   int64      `json:"next"`
		}
		params := map[string]string{
			"limit": "1000",
			"next":  fmt.Sprint(next),
		}
		if !dateFrom.IsZero() {
			params["dateFrom"] = fmt.Sprint(dateFrom.Unix())
		}
		_, err := c.do(ctx, func() (*resty.Response, error) {
			return c.marketplace.R().SetContext(ctx).
				SetQueryParams(params).
				SetResult(&result).
				Get("/api/v3/orders")
		})
		if err != nil {
			logger.Errorf("Failed to fetch orders page: %s", err)
			break
		}

		for _, dto := range result.Orders {
			if targets[dto.ID] {
				found[dto.ID] = dto.toOrder()
				if len(found) == len(targets) {
					break
				}
			}
		}

		next = result.Next
		if next == 0 {
			break
		}
		sleepCtx(ctx, c.pageDelay)
	}

	logger.Infof("Found %d out of %d requested orders", len(found), len(orderIDs))
	return found
}

// ProductCard is one catalog card from the content API.
type ProductCard struct {
	NmID       int64
	VendorCode string
	Title      string
	PhotoURL   string
}

type cardsCursor struct {
	Limit     int64  `json:"limit,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
	NmID      int64  `json:"nmID,omitempty"`
	Total     int64  `json:"total,omitempty"`
}

// ProductCards pages through the content API card listing.
func (c *Client) ProductCards(ctx context.Context, pageLimit int) []ProductCard {

	var result []ProductCard
	cursor := cardsCursor{Limit: 100}
	for page := 0; page < pageLimit; page++ {

		var resp struct {
			Cards []struct {
				NmID       int64  `json:"nmID"`
				VendorCode string `json:"vendorCode"`
				Title      string `json:"title"`
				Photos     []struct {
					Big      string `json:"big"`
					C516x688 string `json:"c516x688"`
					C246x328 string `json:"c246x328"`
					Square   string `json:"square"`
				} `json:"photos"`
			} `json:"cards"`
			Cursor cardsCursor `json:"cursor"`
		}

		body := map[string]interface{}{
			"settings": map[string]interface{}{
				"cursor": cursor,
				"filter": map[string]interface{}{"withPhoto": -1},
			},
		}
		_, err := c.do(ctx, func() (*resty.Response, error) {
			return c.content.R().SetContext(ctx).
				SetBody(body).
				SetResult(&resp).
				Post("/content/v2/get/cards/list")
		})
		if err != nil {
			logger.Errorf("Failed to fetch product cards page %d: %s", page+1, err)
			break
		}
		if len(resp.Cards) == 0 {
			break
		}

		for _, card := range resp.Cards {
			photo := ""
			if len(card.Photos) > 0 {
				p := card.Photos[0]
				for _, candidate := range []string{p.Big, p.C516x688, p.C246x328, p.Square} {
					if candidate != "" {
						photo = candidate
						break
					}
				}
			}
			result = append(result, ProductCard{
				NmID:       card.NmID,
				VendorCode: card.VendorCode,
				Title:      card.Title,
				PhotoURL:   photo,
			})
		}

		if resp.Cursor.UpdatedAt == "" && resp.Cursor.NmID == 0 {
			break
		}
		cursor = cardsCursor{Limit: 100, UpdatedAt: resp.Cursor.UpdatedAt, NmID: resp.Cursor.NmID}
		sleepCtx(ctx, c.pageDelay)
	}

	logger.Infof("Fetched %d product cards", len(result))
	return result
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

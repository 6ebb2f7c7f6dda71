package sheets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/wellywell/wbtasks/internal/retry"
)

var ErrSheetNotFound = errors.New("sheet not found")

// Client is the rate-limited transport to one Google spreadsheet. Every
// operation waits on the shared limiter and retries on throttling responses
// under the injected policy.
type Client struct {
	service       *sheets.Service
	spreadsheetID string
	limiter       *retry.Limiter
	policy        retry.Policy
}

func NewClient(ctx context.Context, spreadsheetID string, credentialsFile string, limiter *retry.Limiter) (*Client, error) {

	service, err := sheets.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service %w", err)
	}

	return &Client{
		service:       service,
		spreadsheetID: spreadsheetID,
		limiter:       limiter,
		policy:        ThrottlePolicy(),
	}, nil
}

// ThrottlePolicy retries throttled sheet calls with growing delays.
// Anything that is not a throttling signal propagates immediately.
func ThrottlePolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		Backoff:     retry.LinearBackoff(5 * time.Second),
		Retryable:   IsThrottle,
	}
}

// IsThrottle recognizes rate-limit responses by status code or by the
// known substrings Google puts into quota errors.
func IsThrottle(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 429 {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(msg, "RATE_LIMIT_EXCEEDED")
}

func (c *Client) call(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, c.limiter, c.policy, fn)
}

func (c *Client) Get(ctx context.Context, rangeA1 string) ([][]string, error) {

	var resp *sheets.ValueRange
	err := c.call(ctx, func() error {
		var err error
		resp, err = c.service.Spreadsheets.Values.Get(c.spreadsheetID, rangeA1).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read range %s %w", rangeA1, err)
	}

	rows := make([][]string, 0, len(resp.Values))
	for _, r := range resp.Values {
		row := make([]string, len(r))
		for i, v := range r {
			row[i] = cellString(v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *Client) Update(ctx context.Context, rangeA1 string, rows [][]string) error {

	body := &sheets.ValueRange{Values: cellValues(rows)}
	err := c.call(ctx, func() error {
		_, err := c.service.Spreadsheets.Values.Update(c.spreadsheetID, rangeA1, body).
			ValueInputOption("USER_ENTERED").Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update range %s %w", rangeA1, err)
	}
	return nil
}

func (c *Client) Append(ctx context.Context, sheet string, row []string) error {

	body := &sheets.ValueRange{Values: cellValues([][]string{row})}
	err := c.call(ctx, func() error {
		_, err := c.service.Spreadsheets.Values.Append(c.spreadsheetID, sheet+"!A1", body).
			ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to append to %s %w", sheet, err)
	}
	return nil
}

func (c *Client) SheetTitles(ctx context.Context) ([]string, error) {

	var resp *sheets.Spreadsheet
	err := c.call(ctx, func() error {
		var err error
		resp, err = c.service.Spreadsheets.Get(c.spreadsheetID).
			Fields("sheets.properties").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read spreadsheet %w", err)
	}

	titles := make([]string, 0, len(resp.Sheets))
	for _, sh := range resp.Sheets {
		if sh.Properties != nil {
			titles = append(titles, sh.Properties.Title)
		}
	}
	return titles, nil
}

func (c *Client) AddSheet(ctx context.Context, title string, rows int64, cols int64) error {

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{
					Title: title,
					GridProperties: &sheets.GridProperties{
						RowCount:    rows,
						ColumnCount: cols,
					},
				},
			},
		}},
	}
	err := c.call(ctx, func() error {
		_, err := c.service.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to add sheet %s %w", title, err)
	}
	return nil
}

func (c *Client) RowCount(ctx context.Context, title string) (int64, error) {

	props, err := c.sheetProperties(ctx, title)
	if err != nil {
		return 0, err
	}
	if props.GridProperties == nil {
		return 0, nil
	}
	return props.GridProperties.RowCount, nil
}

// Resize grows the sheet's grid. Writes into ranges beyond the current
// grid fail, so batch writers call this first.
func (c *Client) Resize(ctx context.Context, title string, rows int64) error {

	props, err := c.sheetProperties(ctx, title)
	if err != nil {
		return err
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{
					SheetId: props.SheetId,
					GridProperties: &sheets.GridProperties{
						RowCount:    rows,
						ColumnCount: props.GridProperties.ColumnCount,
					},
				},
				Fields: "gridProperties.rowCount",
			},
		}},
	}
	err = c.call(ctx, func() error {
		_, err := c.service.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to resize sheet %s %w", title, err)
	}
	return nil
}

func (c *Client) sheetProperties(ctx context.Context, title string) (*sheets.SheetProperties, error) {

	var resp *sheets.Spreadsheet
	err := c.call(ctx, func() error {
		var err error
		resp, err = c.service.Spreadsheets.Get(c.spreadsheetID).
			Fields("sheets.properties").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read spreadsheet %w", err)
	}

	for _, sh := range resp.Sheets {
		if sh.Properties != nil && sh.Properties.Title == title {
			return sh.Properties, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSheetNotFound, title)
}

func cellString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

func cellValues(rows [][]string) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, row := range rows {
		vals := make([]interface{}, len(row))
		for j, cell := range row {
			vals[j] = cell
		}
		out[i] = vals
	}
	return out
}

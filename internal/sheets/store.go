package sheets

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/wellywell/wbtasks/internal/types"
)

const (
	SheetWB        = "WB"
	SheetAccess    = "Access"
	SheetTasks     = "Tasks"
	SheetProcessed = "ProcessedOrders"
	SheetProducts  = "Products"

	readBatchSize    = 1000
	newSheetRows     = 1000
	newSheetCols     = 10
	keyFragmentChars = 20
)

const (
	colOrderID   = "№ задания"
	colPhoto     = "Фото"
	colName      = "Наименование"
	colArticle   = "Артикул продавца"
	colSticker   = "Стикер"
	colStatus    = "Статус"
	colCity      = "Город"
	colWarehouse = "Название склада"
	colAPIKey    = "API_KEY"
	colChatID    = "Chat_id"
	colProcID    = "Order ID"
	colProcWH    = "Warehouse"
	colProcKey   = "API Key"
	colProcDate  = "Processed Date"
)

// tables the adapter may create itself, with their header rows
var writableHeaders = map[string][]string{
	SheetTasks:     {colOrderID, colPhoto, colName, colArticle, colSticker, colStatus},
	SheetProcessed: {colProcID, colProcWH, colProcKey, colProcDate},
	SheetProducts:  {colArticle, colPhoto, colName},
}

// externally maintained tables, validated but never created
var requiredColumns = map[string][]string{
	SheetWB:        {colCity, colWarehouse, colAPIKey},
	SheetAccess:    {colWarehouse, colChatID},
	SheetTasks:     {colOrderID, colPhoto, colName, colArticle, colSticker, colStatus},
	SheetProcessed: {colProcID, colProcWH, colProcKey, colProcDate},
	SheetProducts:  {colArticle, colPhoto, colName},
}

type MissingColumnError struct {
	Sheet  string
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("sheet %s is missing required column %q", e.Sheet, e.Column)
}

// API is what the store needs from the spreadsheet transport.
type API interface {
	Get(ctx context.Context, rangeA1 string) ([][]string, error)
	Update(ctx context.Context, rangeA1 string, rows [][]string) error
	Append(ctx context.Context, sheet string, row []string) error
	SheetTitles(ctx context.Context) ([]string, error)
	AddSheet(ctx context.Context, title string, rows int64, cols int64) error
	RowCount(ctx context.Context, title string) (int64, error)
	Resize(ctx context.Context, title string, rows int64) error
}

// Store is the typed adapter over the five logical tables. Reads degrade to
// empty results on failure (logged), so callers must not treat an empty
// result as proof of absence. Writes propagate their errors.
type Store struct {
	api API

	mu      sync.Mutex
	headers map[string]map[string]int
}

// NewStore bootstraps missing writable sheets and validates the header row
// of every table once per process.
func NewStore(ctx context.Context, api API) (*Store, error) {

	s := &Store{
		api:     api,
		headers: make(map[string]map[string]int),
	}

	if err := s.ensureSheets(ctx); err != nil {
		return nil, fmt.Errorf("failed to bootstrap sheets %w", err)
	}
	return s, nil
}

func (s *Store) ensureSheets(ctx context.Context) error {

	titles, err := s.api.SheetTitles(ctx)
	if err != nil {
		return err
	}
	existing := make(map[string]bool, len(titles))
	for _, t := range titles {
		existing[t] = true
	}

	for _, sheet := range []string{SheetTasks, SheetProcessed, SheetProducts} {
		if existing[sheet] {
			continue
		}
		if err := s.api.AddSheet(ctx, sheet, newSheetRows, newSheetCols); err != nil {
			return err
		}
		header := writableHeaders[sheet]
		rng := fmt.Sprintf("%s!A1:%s1", sheet, columnName(len(header)))
		if err := s.api.Update(ctx, rng, [][]string{header}); err != nil {
			return err
		}
		logger.Infof("Created sheet: %s", sheet)
	}

	for sheet, required := range requiredColumns {
		if sheet == SheetWB || sheet == SheetAccess {
			if !existing[sheet] {
				// externally maintained, absence is not ours to fix
				logger.Warningf("Sheet %s not found, related reads will be empty", sheet)
				continue
			}
		}
		if _, err := s.loadHeader(ctx, sheet, required); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loadHeader(ctx context.Context, sheet string, required []string) (map[string]int, error) {

	s.mu.Lock()
	if hdr, ok := s.headers[sheet]; ok {
		s.mu.Unlock()
		return hdr, nil
	}
	s.mu.Unlock()

	rows, err := s.api.Get(ctx, sheet+"!1:1")
	if err != nil {
		return nil, err
	}

	hdr := make(map[string]int)
	if len(rows) > 0 {
		for i, name := range rows[0] {
			hdr[strings.TrimSpace(name)] = i
		}
	}
	for _, col := range required {
		if _, ok := hdr[col]; !ok {
			return nil, &MissingColumnError{Sheet: sheet, Column: col}
		}
	}

	s.mu.Lock()
	s.headers[sheet] = hdr
	s.mu.Unlock()
	return hdr, nil
}

func (s *Store) header(ctx context.Context, sheet string) (map[string]int, error) {
	return s.loadHeader(ctx, sheet, requiredColumns[sheet])
}

// readRows loads all data rows of a table in fixed-size range chunks,
// stopping at the first short chunk.
func (s *Store) readRows(ctx context.Context, sheet string, cols int) ([][]string, error) {

	var out [][]string
	lastCol := columnName(cols)
	for start := 2; ; start += readBatchSize {
		rng := fmt.Sprintf("%s!A%d:%s%d", sheet, start, lastCol, start+readBatchSize-1)
		rows, err := s.api.Get(ctx, rng)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
		if len(rows) < readBatchSize {
			break
		}
	}
	return out, nil
}

func field(hdr map[string]int, row []string, col string) string {
	i, ok := hdr[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// WarehouseKeys reads the warehouse registry. Rows without a warehouse name
// or key are skipped.
func (s *Store) WarehouseKeys(ctx context.Context) []types.WarehouseKey {

	hdr, err := s.header(ctx, SheetWB)
	if err != nil {
		logger.Errorf("Error reading warehouse registry header: %s", err)
		return nil
	}
	rows, err := s.readRows(ctx, SheetWB, len(hdr))
	if err != nil {
		logger.Errorf("Error reading warehouse registry: %s", err)
		return nil
	}

	var result []types.WarehouseKey
	for _, row := range rows {
		warehouse := field(hdr, row, colWarehouse)
		apiKey := field(hdr, row, colAPIKey)
		if warehouse == "" || apiKey == "" {
			continue
		}
		result = append(result, types.WarehouseKey{
			City:      field(hdr, row, colCity),
			Warehouse: warehouse,
			APIKey:    apiKey,
		})
	}
	logger.Infof("Loaded %d warehouse API keys", len(result))
	return result
}

// WarehouseAccess maps a warehouse name to the chat ids allowed to see it.
func (s *Store) WarehouseAccess(ctx context.Context) map[string][]int64 {

	hdr, err := s.header(ctx, SheetAccess)
	if err != nil {
		logger.Errorf("Error reading access header: %s", err)
		return map[string][]int64{}
	}
	rows, err := s.readRows(ctx, SheetAccess, len(hdr))
	if err != nil {
		logger.Errorf("Error reading warehouse access: %s", err)
		return map[string][]int64{}
	}

	result := make(map[string][]int64)
	for _, row := range rows {
		warehouse := field(hdr, row, colWarehouse)
		rawID := field(hdr, row, colChatID)
		if warehouse == "" || rawID == "" {
			continue
		}
		chatID, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			logger.Warningf("Invalid chat_id %q for warehouse %q", rawID, warehouse)
			continue
		}
		if !containsInt64(result[warehouse], chatID) {
			result[warehouse] = append(result[warehouse], chatID)
		}
	}
	logger.Infof("Loaded access for %d warehouses", len(result))
	return result
}

// UserAccess regroups access by chat id, with cities resolved through the
// warehouse registry.
func (s *Store) UserAccess(ctx context.Context) map[int64]types.Access {

	byWarehouse := s.WarehouseAccess(ctx)
	keys := s.WarehouseKeys(ctx)

	cityOf := make(map[string]string, len(keys))
	for _, k := range keys {
		cityOf[k.Warehouse] = k.City
	}

	cities := make(map[int64]map[string]bool)
	warehouses := make(map[int64]map[string]bool)
	for warehouse, chatIDs := range byWarehouse {
		for _, chatID := range chatIDs {
			if warehouses[chatID] == nil {
				warehouses[chatID] = make(map[string]bool)
				cities[chatID] = make(map[string]bool)
			}
			warehouses[chatID][warehouse] = true
			if city := cityOf[warehouse]; city != "" {
				cities[chatID][city] = true
			}
		}
	}

	result := make(map[int64]types.Access, len(warehouses))
	for chatID := range warehouses {
		result[chatID] = types.Access{
			Cities:     sortedKeys(cities[chatID]),
			Warehouses: sortedKeys(warehouses[chatID]),
		}
	}
	return result
}

// ProcessedOrderIDs loads the full membership set of the dedup ledger.
func (s *Store) ProcessedOrderIDs(ctx context.Context) map[string]struct{} {

	entries := s.ProcessedEntries(ctx)
	result := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		result[e.OrderID] = struct{}{}
	}
	logger.Infof("Loaded %d processed order IDs", len(result))
	return result
}

func (s *Store) ProcessedEntries(ctx context.Context) []types.ProcessedEntry {

	hdr, err := s.header(ctx, SheetProcessed)
	if err != nil {
		logger.Errorf("Error reading processed orders header: %s", err)
		return nil
	}
	rows, err := s.readRows(ctx, SheetProcessed, len(hdr))
	if err != nil {
		logger.Errorf("Error reading processed orders: %s", err)
		return nil
	}

	var result []types.ProcessedEntry
	for _, row := range rows {
		orderID := field(hdr, row, colProcID)
		if orderID == "" {
			continue
		}
		processedAt, _ := time.Parse(time.RFC3339, field(hdr, row, colProcDate))
		result = append(result, types.ProcessedEntry{
			OrderID:     orderID,
			Warehouse:   field(hdr, row, colProcWH),
			KeyFragment: field(hdr, row, colProcKey),
			ProcessedAt: processedAt,
		})
	}
	return result
}

// MarkOrderProcessed appends one row to the dedup ledger. The key is
// truncated so the full credential never lands in the sheet.
func (s *Store) MarkOrderProcessed(ctx context.Context, orderID int64, warehouse string, apiKey string) error {

	fragment := apiKey
	if len(fragment) > keyFragmentChars {
		fragment = fragment[:keyFragmentChars] + "..."
	}

	err := s.api.Append(ctx, SheetProcessed, []string{
		strconv.FormatInt(orderID, 10),
		warehouse,
		fragment,
		time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to mark order %d processed %w", orderID, err)
	}
	return nil
}

// OrderExistsInTasks probes the task ledger by order identifier.
// A failed read reports false so that valid orders are not skipped.
func (s *Store) OrderExistsInTasks(ctx context.Context, orderID int64) bool {

	ids, err := s.taskOrderIDs(ctx)
	if err != nil {
		logger.Errorf("Error checking order %d in tasks: %s", orderID, err)
		return false
	}
	_, ok := ids[strconv.FormatInt(orderID, 10)]
	return ok
}

func (s *Store) taskOrderIDs(ctx context.Context) (map[string]int, error) {

	// order id -> sheet row, id column only to keep the read small
	var result = make(map[string]int)
	for start := 2; ; start += readBatchSize {
		rng := fmt.Sprintf("%s!A%d:A%d", SheetTasks, start, start+readBatchSize-1)
		rows, err := s.api.Get(ctx, rng)
		if err != nil {
			return nil, err
		}
		for i, row := range rows {
			if len(row) > 0 && row[0] != "" {
				result[strings.TrimSpace(row[0])] = start + i
			}
		}
		if len(rows) < readBatchSize {
			break
		}
	}
	return result, nil
}

// AddTask writes a single task row. Idempotent via a preceding existence
// check; a duplicate is logged and skipped, not an error.
func (s *Store) AddTask(ctx context.Context, task types.Task) error {

	ids, err := s.taskOrderIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to read existing task ids %w", err)
	}
	if _, ok := ids[task.OrderID]; ok {
		logger.Warningf("Order %s already exists in Tasks sheet, skipping", task.OrderID)
		return nil
	}

	nextRow := 2
	for _, row := range ids {
		if row >= nextRow {
			nextRow = row + 1
		}
	}

	rng := fmt.Sprintf("%s!A%d:F%d", SheetTasks, nextRow, nextRow)
	err = s.api.Update(ctx, rng, [][]string{taskRow(task)})
	if err != nil {
		return fmt.Errorf("failed to add order %s to tasks %w", task.OrderID, err)
	}
	logger.Infof("Added order %s to Tasks sheet (row %d)", task.OrderID, nextRow)
	return nil
}

// AddTasksBatch writes many task rows with one existence pre-check and one
// ranged write. Returns how many rows were written and how many were
// skipped as duplicates.
func (s *Store) AddTasksBatch(ctx context.Context, tasks []types.Task) (added int, skipped int, err error) {

	if len(tasks) == 0 {
		return 0, 0, nil
	}

	ids, err := s.taskOrderIDs(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read existing task ids %w", err)
	}

	nextRow := 2
	for _, row := range ids {
		if row >= nextRow {
			nextRow = row + 1
		}
	}

	var rows [][]string
	for _, task := range tasks {
		if _, ok := ids[task.OrderID]; ok {
			skipped++
			continue
		}
		rows = append(rows, taskRow(task))
	}
	if skipped > 0 {
		logger.Infof("Skipped %d duplicate orders in batch", skipped)
	}
	if len(rows) == 0 {
		return 0, skipped, nil
	}

	endRow := nextRow + len(rows) - 1
	if err := s.ensureCapacity(ctx, SheetTasks, int64(endRow)); err != nil {
		return 0, skipped, err
	}

	rng := fmt.Sprintf("%s!A%d:F%d", SheetTasks, nextRow, endRow)
	if err := s.api.Update(ctx, rng, rows); err != nil {
		return 0, skipped, fmt.Errorf("failed to write task batch %w", err)
	}
	logger.Infof("Added %d orders to Tasks sheet in batch (rows %d-%d)", len(rows), nextRow, endRow)
	return len(rows), skipped, nil
}

func (s *Store) ensureCapacity(ctx context.Context, sheet string, rowsNeeded int64) error {

	current, err := s.api.RowCount(ctx, sheet)
	if err != nil {
		return fmt.Errorf("failed to read grid size of %s %w", sheet, err)
	}
	if rowsNeeded <= current {
		return nil
	}
	if err := s.api.Resize(ctx, sheet, rowsNeeded+newSheetRows); err != nil {
		return fmt.Errorf("failed to grow %s %w", sheet, err)
	}
	return nil
}

// UpdateTaskStatus sets the status cell of the task identified by orderID.
// Reports whether the task was found.
func (s *Store) UpdateTaskStatus(ctx context.Context, orderID string, status types.TaskStatus) (bool, error) {

	ids, err := s.taskOrderIDs(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to locate order %s %w", orderID, err)
	}
	row, ok := ids[orderID]
	if !ok {
		logger.Warningf("Order %s not found in Tasks sheet for status update", orderID)
		return false, nil
	}

	hdr, err := s.header(ctx, SheetTasks)
	if err != nil {
		return false, err
	}
	col := columnName(hdr[colStatus] + 1)

	rng := fmt.Sprintf("%s!%s%d", SheetTasks, col, row)
	if err := s.api.Update(ctx, rng, [][]string{{string(status)}}); err != nil {
		return false, fmt.Errorf("failed to update status of order %s %w", orderID, err)
	}
	logger.Infof("Updated order %s status to %s", orderID, status)
	return true, nil
}

// Tasks returns ledger rows, newest first, optionally filtered by warehouse
// (resolved through the processed ledger) and by status.
func (s *Store) Tasks(ctx context.Context, warehouse string, limit int, statusFilter types.TaskStatus) []types.Task {

	hdr, err := s.header(ctx, SheetTasks)
	if err != nil {
		logger.Errorf("Error reading tasks header: %s", err)
		return nil
	}
	rows, err := s.readRows(ctx, SheetTasks, len(hdr))
	if err != nil {
		logger.Errorf("Error reading tasks: %s", err)
		return nil
	}

	var warehouseIDs map[string]bool
	if warehouse != "" {
		warehouseIDs = make(map[string]bool)
		for _, e := range s.ProcessedEntries(ctx) {
			if e.Warehouse == warehouse {
				warehouseIDs[e.OrderID] = true
			}
		}
	}

	var tasks []types.Task
	for _, row := range rows {
		task := rowTask(hdr, row)
		if task.OrderID == "" {
			continue
		}
		if warehouseIDs != nil && !warehouseIDs[task.OrderID] {
			continue
		}
		if statusFilter != "" && task.Status != statusFilter {
			continue
		}
		tasks = append(tasks, task)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return numericID(tasks[i].OrderID) > numericID(tasks[j].OrderID)
	})
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks
}

// TaskByOrderID returns the task or nil when it is not in the ledger.
func (s *Store) TaskByOrderID(ctx context.Context, orderID string) *types.Task {

	hdr, err := s.header(ctx, SheetTasks)
	if err != nil {
		logger.Errorf("Error reading tasks header: %s", err)
		return nil
	}
	rows, err := s.readRows(ctx, SheetTasks, len(hdr))
	if err != nil {
		logger.Errorf("Error reading tasks: %s", err)
		return nil
	}

	want := strings.TrimSpace(orderID)
	for _, row := range rows {
		task := rowTask(hdr, row)
		if task.OrderID == want {
			return &task
		}
	}
	return nil
}

// Product looks up a catalog entry by article, case-insensitively.
// Absence returns nil and is not an error.
func (s *Store) Product(ctx context.Context, article string) *types.Product {

	if article == "" {
		return nil
	}
	want := strings.ToLower(strings.TrimSpace(article))
	for key, product := range s.Products(ctx) {
		if key == want {
			p := product
			return &p
		}
	}
	return nil
}

// Products bulk-loads the whole catalog keyed by lower-cased article.
func (s *Store) Products(ctx context.Context) map[string]types.Product {

	hdr, err := s.header(ctx, SheetProducts)
	if err != nil {
		logger.Errorf("Error reading products header: %s", err)
		return map[string]types.Product{}
	}
	rows, err := s.readRows(ctx, SheetProducts, len(hdr))
	if err != nil {
		logger.Errorf("Error reading products: %s", err)
		return map[string]types.Product{}
	}

	result := make(map[string]types.Product)
	for _, row := range rows {
		article := field(hdr, row, colArticle)
		if article == "" {
			continue
		}
		result[strings.ToLower(article)] = types.Product{
			Article:  article,
			PhotoURL: field(hdr, row, colPhoto),
			Title:    field(hdr, row, colName),
		}
	}
	return result
}

// UpsertProduct inserts or overwrites the catalog row for an article.
func (s *Store) UpsertProduct(ctx context.Context, article string, photoURL string, title string) error {

	hdr, err := s.header(ctx, SheetProducts)
	if err != nil {
		return err
	}
	rows, err := s.readRows(ctx, SheetProducts, len(hdr))
	if err != nil {
		return fmt.Errorf("failed to read products %w", err)
	}

	want := strings.ToLower(strings.TrimSpace(article))
	for i, row := range rows {
		if strings.ToLower(field(hdr, row, colArticle)) == want {
			rng := fmt.Sprintf("%s!A%d:C%d", SheetProducts, i+2, i+2)
			return s.api.Update(ctx, rng, [][]string{{article, photoURL, title}})
		}
	}
	return s.api.Append(ctx, SheetProducts, []string{article, photoURL, title})
}

func (s *Store) ProductExists(ctx context.Context, article string) bool {
	return s.Product(ctx, article) != nil
}

func taskRow(task types.Task) []string {
	status := task.Status
	if status == "" {
		status = types.NewStatus
	}
	return []string{
		task.OrderID,
		task.PhotoURL,
		task.ProductName,
		task.Article,
		task.Sticker,
		string(status),
	}
}

func rowTask(hdr map[string]int, row []string) types.Task {
	status := types.TaskStatus(strings.ToLower(field(hdr, row, colStatus)))
	if status == "" {
		status = types.NewStatus
	}
	return types.Task{
		OrderID:     field(hdr, row, colOrderID),
		PhotoURL:    field(hdr, row, colPhoto),
		ProductName: field(hdr, row, colName),
		Article:     field(hdr, row, colArticle),
		Sticker:     field(hdr, row, colSticker),
		Status:      status,
	}
}

func numericID(orderID string) int64 {
	n, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func columnName(n int) string {
	name := ""
	for n > 0 {
		n--
		name = string(rune('A'+n%26)) + name
		n /= 26
	}
	return name
}

func containsInt64(list []int64, v int64) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

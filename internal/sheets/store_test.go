package sheets

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wellywell/wbtasks/internal/types"
)

var rangeRe = regexp.MustCompile(`^([A-Z]+)(\d+)(?::([A-Z]+)(\d+))?$`)

// fakeAPI keeps each sheet as a 1-indexed grid of rows and answers A1
// ranges the way the live values API does.
type fakeAPI struct {
	titles []string
	sheets map[string][][]string
	counts map[string]int64
	getErr error
}

func newFakeAPI(sheets map[string][][]string) *fakeAPI {
	f := &fakeAPI{
		sheets: make(map[string][][]string),
		counts: make(map[string]int64),
	}
	for title, rows := range sheets {
		f.titles = append(f.titles, title)
		f.sheets[title] = rows
		f.counts[title] = 1000
	}
	return f
}

func colIndex(letters string) int {
	n := 0
	for _, r := range letters {
		n = n*26 + int(r-'A') + 1
	}
	return n
}

func (f *fakeAPI) parse(rangeA1 string, sheet *string) (r1, c1, r2, c2 int) {
	rng := rangeA1
	for i := range rangeA1 {
		if rangeA1[i] == '!' {
			*sheet = rangeA1[:i]
			rng = rangeA1[i+1:]
			break
		}
	}
	if rng == "1:1" {
		return 1, 1, 1, 100
	}
	m := rangeRe.FindStringSubmatch(rng)
	if m == nil {
		panic("unsupported range " + rangeA1)
	}
	c1 = colIndex(m[1])
	r1, _ = strconv.Atoi(m[2])
	if m[3] == "" {
		return r1, c1, r1, c1
	}
	c2 = colIndex(m[3])
	r2, _ = strconv.Atoi(m[4])
	return r1, c1, r2, c2
}

func (f *fakeAPI) Get(_ context.Context, rangeA1 string) ([][]string, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	var sheet string
	r1, c1, r2, c2 := f.parse(rangeA1, &sheet)
	rows := f.sheets[sheet]

	var out [][]string
	for r := r1; r <= r2 && r <= len(rows); r++ {
		row := rows[r-1]
		var cells []string
		for c := c1; c <= c2 && c <= len(row); c++ {
			cells = append(cells, row[c-1])
		}
		out = append(out, cells)
	}
	return out, nil
}

func (f *fakeAPI) Update(_ context.Context, rangeA1 string, data [][]string) error {
	var sheet string
	r1, c1, _, _ := f.parse(rangeA1, &sheet)
	rows := f.sheets[sheet]
	for i, dataRow := range data {
		r := r1 + i
		for len(rows) < r {
			rows = append(rows, nil)
		}
		row := rows[r-1]
		for j, cell := range dataRow {
			c := c1 + j
			for len(row) < c {
				row = append(row, "")
			}
			row[c-1] = cell
		}
		rows[r-1] = row
	}
	f.sheets[sheet] = rows
	return nil
}

func (f *fakeAPI) Append(_ context.Context, sheet string, row []string) error {
	f.sheets[sheet] = append(f.sheets[sheet], row)
	return nil
}

func (f *fakeAPI) SheetTitles(_ context.Context) ([]string, error) {
	return f.titles, nil
}

func (f *fakeAPI) AddSheet(_ context.Context, title string, _ int64, _ int64) error {
	f.titles = append(f.titles, title)
	f.sheets[title] = nil
	f.counts[title] = 1000
	return nil
}

func (f *fakeAPI) RowCount(_ context.Context, title string) (int64, error) {
	return f.counts[title], nil
}

func (f *fakeAPI) Resize(_ context.Context, title string, rows int64) error {
	f.counts[title] = rows
	return nil
}

func registrySheets() map[string][][]string {
	return map[string][][]string{
		SheetWB: {
			{"Город", "Название склада", "API_KEY"},
			{"Москва", "Moscow-1", "key-moscow"},
			{"Казань", "Kazan-1", "key-kazan"},
			{"", "", ""},
		},
		SheetAccess: {
			{"Название склада", "Chat_id"},
			{"Moscow-1", "100"},
			{"Moscow-1", "200"},
			{"Moscow-1", "100"},
			{"Kazan-1", "not-a-number"},
		},
	}
}

func TestNewStoreCreatesMissingSheets(t *testing.T) {

	api := newFakeAPI(registrySheets())

	_, err := NewStore(context.Background(), api)
	require.NoError(t, err)

	for _, sheet := range []string{SheetTasks, SheetProcessed, SheetProducts} {
		rows, ok := api.sheets[sheet]
		require.True(t, ok, "sheet %s not created", sheet)
		require.NotEmpty(t, rows)
		assert.Equal(t, writableHeaders[sheet], rows[0])
	}
}

func TestNewStoreMissingColumn(t *testing.T) {

	sheets := registrySheets()
	// no status column
	sheets[SheetTasks] = [][]string{
		{"№ задания", "Фото", "Наименование", "Артикул продавца", "Стикер"},
	}
	api := newFakeAPI(sheets)

	_, err := NewStore(context.Background(), api)
	require.Error(t, err)

	var missing *MissingColumnError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, SheetTasks, missing.Sheet)
	assert.Equal(t, "Статус", missing.Column)
}

func TestWarehouseKeys(t *testing.T) {

	api := newFakeAPI(registrySheets())
	store, err := NewStore(context.Background(), api)
	require.NoError(t, err)

	keys := store.WarehouseKeys(context.Background())
	assert.Equal(t, []types.WarehouseKey{
		{City: "Москва", Warehouse: "Moscow-1", APIKey: "key-moscow"},
		{City: "Казань", Warehouse: "Kazan-1", APIKey: "key-kazan"},
	}, keys)
}

func TestWarehouseAccess(t *testing.T) {

	api := newFakeAPI(registrySheets())
	store, err := NewStore(context.Background(), api)
	require.NoError(t, err)

	access := store.WarehouseAccess(context.Background())

	// duplicate row collapsed, broken chat id dropped
	assert.Equal(t, map[string][]int64{"Moscow-1": {100, 200}}, access)
}

func TestAddTaskIdempotent(t *testing.T) {

	sheets := registrySheets()
	sheets[SheetTasks] = [][]string{
		writableHeaders[SheetTasks],
		{"12345", "", "Кружка", "р20-п5-33", "111 222", "new"},
	}
	api := newFakeAPI(sheets)
	store, err := NewStore(context.Background(), api)
	require.NoError(t, err)

	err = store.AddTask(context.Background(), types.Task{OrderID: "12345", Article: "р20-п5-33"})
	require.NoError(t, err)
	assert.Len(t, api.sheets[SheetTasks], 2, "duplicate must not add a row")

	err = store.AddTask(context.Background(), types.Task{OrderID: "12346", Article: "р21-п1-2", Status: types.NewStatus})
	require.NoError(t, err)
	require.Len(t, api.sheets[SheetTasks], 3)
	assert.Equal(t, []string{"12346", "", "", "р21-п1-2", "", "new"}, api.sheets[SheetTasks][2])
}

func TestAddTasksBatchSkipsDuplicates(t *testing.T) {

	sheets := registrySheets()
	sheets[SheetTasks] = [][]string{
		writableHeaders[SheetTasks],
		{"2", "", "", "а1", "", "new"},
	}
	api := newFakeAPI(sheets)
	store, err := NewStore(context.Background(), api)
	require.NoError(t, err)

	added, skipped, err := store.AddTasksBatch(context.Background(), []types.Task{
		{OrderID: "1", Article: "б1"},
		{OrderID: "2", Article: "а1"},
		{OrderID: "3", Article: "в1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 1, skipped)

	rows := api.sheets[SheetTasks]
	require.Len(t, rows, 4)
	assert.Equal(t, "1", rows[2][0])
	assert.Equal(t, "3", rows[3][0])
}

func TestAddTasksBatchGrowsGrid(t *testing.T) {

	api := newFakeAPI(registrySheets())
	store, err := NewStore(context.Background(), api)
	require.NoError(t, err)

	api.counts[SheetTasks] = 2

	added, skipped, err := store.AddTasksBatch(context.Background(), []types.Task{
		{OrderID: "1"},
		{OrderID: "2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 0, skipped)
	assert.Greater(t, api.counts[SheetTasks], int64(3))
}

func TestUpdateTaskStatus(t *testing.T) {

	sheets := registrySheets()
	sheets[SheetTasks] = [][]string{
		writableHeaders[SheetTasks],
		{"12345", "", "", "р20-п5-33", "", "new"},
	}
	api := newFakeAPI(sheets)
	store, err := NewStore(context.Background(), api)
	require.NoError(t, err)

	found, err := store.UpdateTaskStatus(context.Background(), "12345", types.CompletedStatus)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "completed", api.sheets[SheetTasks][1][5])

	found, err = store.UpdateTaskStatus(context.Background(), "99999", types.CompletedStatus)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTasksFilterAndOrder(t *testing.T) {

	sheets := registrySheets()
	sheets[SheetTasks] = [][]string{
		writableHeaders[SheetTasks],
		{"1", "", "", "а1", "", "new"},
		{"2", "", "", "а2", "", "completed"},
		{"3", "", "", "а3", "", "new"},
		{"4", "", "", "а4", "", "new"},
	}
	sheets[SheetProcessed] = [][]string{
		writableHeaders[SheetProcessed],
		{"1", "Moscow-1", "key-mos...", "2026-08-30T10:00:00Z"},
		{"2", "Moscow-1", "key-mos...", "2026-08-30T10:01:00Z"},
		{"3", "Kazan-1", "key-kaz...", "2026-08-30T10:02:00Z"},
		{"4", "Moscow-1", "key-mos...", "2026-08-30T10:03:00Z"},
	}
	api := newFakeAPI(sheets)
	store, err := NewStore(context.Background(), api)
	require.NoError(t, err)

	tasks := store.Tasks(context.Background(), "Moscow-1", 0, types.NewStatus)
	require.Len(t, tasks, 2)
	assert.Equal(t, "4", tasks[0].OrderID)
	assert.Equal(t, "1", tasks[1].OrderID)

	tasks = store.Tasks(context.Background(), "", 2, "")
	require.Len(t, tasks, 2)
	assert.Equal(t, "4", tasks[0].OrderID)
	assert.Equal(t, "3", tasks[1].OrderID)
}

func TestMarkOrderProcessedTruncatesKey(t *testing.T) {

	api := newFakeAPI(registrySheets())
	store, err := NewStore(context.Background(), api)
	require.NoError(t, err)

	err = store.MarkOrderProcessed(context.Background(), 12345, "Moscow-1", "0123456789012345678901234567")
	require.NoError(t, err)

	rows := api.sheets[SheetProcessed]
	require.Len(t, rows, 2)
	assert.Equal(t, "12345", rows[1][0])
	assert.Equal(t, "Moscow-1", rows[1][1])
	assert.Equal(t, "01234567890123456789...", rows[1][2])
	assert.NotEmpty(t, rows[1][3])
}

func TestOrderExistsInTasksDegradesToFalse(t *testing.T) {

	api := newFakeAPI(registrySheets())
	store, err := NewStore(context.Background(), api)
	require.NoError(t, err)

	require.NoError(t, store.AddTask(context.Background(), types.Task{OrderID: "777"}))
	assert.True(t, store.OrderExistsInTasks(context.Background(), 777))

	api.getErr = errors.New("quota exceeded")
	assert.False(t, store.OrderExistsInTasks(context.Background(), 777))
}

func TestUpsertProduct(t *testing.T) {

	sheets := registrySheets()
	sheets[SheetProducts] = [][]string{
		writableHeaders[SheetProducts],
		{"Р20-П5-33", "http://old", "Старое имя"},
	}
	api := newFakeAPI(sheets)
	store, err := NewStore(context.Background(), api)
	require.NoError(t, err)

	// case-insensitive match overwrites in place
	err = store.UpsertProduct(context.Background(), "р20-п5-33", "http://new", "Кружка")
	require.NoError(t, err)
	require.Len(t, api.sheets[SheetProducts], 2)
	assert.Equal(t, []string{"р20-п5-33", "http://new", "Кружка"}, api.sheets[SheetProducts][1])

	err = store.UpsertProduct(context.Background(), "м1-п1-1", "http://p", "Тарелка")
	require.NoError(t, err)
	require.Len(t, api.sheets[SheetProducts], 3)

	product := store.Product(context.Background(), "Р20-П5-33")
	require.NotNil(t, product)
	assert.Equal(t, "Кружка", product.Title)
}

func TestUserAccess(t *testing.T) {

	api := newFakeAPI(registrySheets())
	store, err := NewStore(context.Background(), api)
	require.NoError(t, err)

	access := store.UserAccess(context.Background())
	require.Contains(t, access, int64(100))
	assert.Equal(t, []string{"Moscow-1"}, access[100].Warehouses)
	assert.Equal(t, []string{"Москва"}, access[100].Cities)
}

func TestColumnName(t *testing.T) {
	assert.Equal(t, "A", columnName(1))
	assert.Equal(t, "F", columnName(6))
	assert.Equal(t, "Z", columnName(26))
	assert.Equal(t, "AA", columnName(27))
}

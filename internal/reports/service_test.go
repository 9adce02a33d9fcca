package reports

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atlas-ims/atlas-ims/internal/inventory"
)

type memoryReportRepo struct {
	records   []inventory.Record
	movements []MovementRow

	stockLevelCalls int
	movementCalls   int
}

func (m *memoryReportRepo) LowStock(ctx context.Context) ([]inventory.Record, error) {
	out := []inventory.Record{}
	for _, rec := range m.records {
		if rec.NeedsReordering() {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memoryReportRepo) Overstock(ctx context.Context) ([]inventory.Record, error) {
	out := []inventory.Record{}
	for _, rec := range m.records {
		if rec.MaximumStockLevel > 0 && rec.Quantity > rec.MaximumStockLevel {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memoryReportRepo) StockLevels(ctx context.Context, warehouseID int64) ([]inventory.Record, error) {
	m.stockLevelCalls++
	out := []inventory.Record{}
	for _, rec := range m.records {
		if warehouseID != 0 && rec.WarehouseID != warehouseID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *memoryReportRepo) Movements(ctx context.Context, filter Filter) ([]MovementRow, error) {
	m.movementCalls++
	return m.movements, nil
}

func testRecords() []inventory.Record {
	return []inventory.Record{
		{ID: 1, ProductID: 10, WarehouseID: 1, Quantity: 100, ReservedQuantity: 30, CostPrice: decimal.NewFromFloat(2.50), MinimumStockLevel: 5, MaximumStockLevel: 200, ReorderPoint: 10},
		{ID: 2, ProductID: 11, WarehouseID: 1, Quantity: 0, CostPrice: decimal.NewFromInt(4), ReorderPoint: 5},
		{ID: 3, ProductID: 10, WarehouseID: 2, Quantity: 250, CostPrice: decimal.NewFromInt(1), MaximumStockLevel: 200},
	}
}

func TestGenerateStockLevels(t *testing.T) {
	repo := &memoryReportRepo{records: testRecords()}
	svc := NewService(repo, nil, time.Minute)

	report, err := svc.Generate(context.Background(), TypeStockLevels, Filter{})
	require.NoError(t, err)
	require.Equal(t, TypeStockLevels, report.Type)
	require.Len(t, report.StockLevels, 3)
	require.EqualValues(t, 3, report.Summary.TotalRecords)
	require.EqualValues(t, 350, report.Summary.TotalQuantity)
	require.EqualValues(t, 1, report.Summary.OutOfStock)
	require.EqualValues(t, 1, report.Summary.Overstock)
	require.EqualValues(t, 70, report.StockLevels[0].Available)

	filtered, err := svc.Generate(context.Background(), TypeStockLevels, Filter{WarehouseID: 2})
	require.NoError(t, err)
	require.Len(t, filtered.StockLevels, 1)
	require.EqualValues(t, 250, filtered.Summary.TotalQuantity)
}

func TestGenerateValuation(t *testing.T) {
	repo := &memoryReportRepo{records: testRecords()}
	svc := NewService(repo, nil, time.Minute)

	report, err := svc.Generate(context.Background(), TypeValuation, Filter{})
	require.NoError(t, err)
	require.Len(t, report.Valuation, 3)
	// 100*2.50 + 0*4 + 250*1 = 500
	require.True(t, report.Summary.TotalValue.Equal(decimal.NewFromInt(500)), "total value %s", report.Summary.TotalValue)
	require.True(t, report.Valuation[0].Value.Equal(decimal.NewFromInt(250)))
}

func TestGenerateMovements(t *testing.T) {
	repo := &memoryReportRepo{movements: []MovementRow{
		{EntryType: inventory.EntryTypePurchase, Entries: 2, QtyIn: 120},
		{EntryType: inventory.EntryTypeSale, Entries: 3, QtyOut: 45},
		{EntryType: inventory.EntryTypeReservation, Entries: 5, QtyOut: 60},
	}}
	svc := NewService(repo, nil, time.Minute)

	report, err := svc.Generate(context.Background(), TypeMovements, Filter{From: time.Now().Add(-24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, report.Movements, 3)
	// Reservations carry no net stock change.
	require.EqualValues(t, 75, report.Summary.NetChange)
}

func TestGenerateUnknownType(t *testing.T) {
	svc := NewService(&memoryReportRepo{}, nil, time.Minute)
	_, err := svc.Generate(context.Background(), Type("bogus"), Filter{})
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestGenerateCaches(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cache.Close() })

	repo := &memoryReportRepo{records: testRecords()}
	svc := NewService(repo, cache, time.Minute)

	first, err := svc.Generate(context.Background(), TypeStockLevels, Filter{})
	require.NoError(t, err)
	second, err := svc.Generate(context.Background(), TypeStockLevels, Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, repo.stockLevelCalls)
	require.Equal(t, first.Summary, second.Summary)

	mr.FastForward(2 * time.Minute)
	_, err = svc.Generate(context.Background(), TypeStockLevels, Filter{})
	require.NoError(t, err)
	require.Equal(t, 2, repo.stockLevelCalls)
}

func TestLowStockItems(t *testing.T) {
	repo := &memoryReportRepo{records: []inventory.Record{
		{ID: 1, ProductID: 10, WarehouseID: 1, Quantity: 4, ReorderPoint: 10},
		{ID: 2, ProductID: 11, WarehouseID: 1, Quantity: 80, ReorderPoint: 10},
	}}
	svc := NewService(repo, nil, time.Minute)

	items, err := svc.LowStockItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.EqualValues(t, 10, items[0].ProductID)
}

package inventory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStockStatus(t *testing.T) {
	rec := Record{MinimumStockLevel: 10, MaximumStockLevel: 100, ReorderPoint: 15}

	rec.Quantity = 0
	require.Equal(t, StockStatusOut, rec.StockStatus())

	rec.Quantity = 10
	require.Equal(t, StockStatusLow, rec.StockStatus())

	rec.Quantity = 50
	require.Equal(t, StockStatusNormal, rec.StockStatus())

	rec.Quantity = 101
	require.Equal(t, StockStatusOverstock, rec.StockStatus())

	// No maximum configured means overstock never triggers.
	rec.MaximumStockLevel = 0
	require.Equal(t, StockStatusNormal, rec.StockStatus())
}

func TestNeedsReordering(t *testing.T) {
	rec := Record{Quantity: 30, ReservedQuantity: 20, ReorderPoint: 15}
	require.True(t, rec.NeedsReordering())

	rec.ReservedQuantity = 5
	require.False(t, rec.NeedsReordering())
}

func TestAvailableQuantity(t *testing.T) {
	rec := Record{Quantity: 30, ReservedQuantity: 12}
	require.Equal(t, int64(18), rec.AvailableQuantity())
}

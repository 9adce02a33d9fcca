package reports

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-ims/atlas-ims/internal/inventory"
)

// Type selects the aggregation performed by Generate.
type Type string

const (
	TypeStockLevels Type = "stock_levels"
	TypeMovements   Type = "movements"
	TypeValuation   Type = "valuation"
)

// ErrUnknownType indicates an unsupported report type.
var ErrUnknownType = errors.New("reports: unknown report type")

// Filter narrows a report to one warehouse and/or date window.
type Filter struct {
	WarehouseID int64     `json:"warehouse_id,omitempty"`
	From        time.Time `json:"from,omitempty"`
	To          time.Time `json:"to,omitempty"`
}

// StockLevelRow describes one record in a stock_levels report.
type StockLevelRow struct {
	ProductID   int64                 `json:"product_id"`
	WarehouseID int64                 `json:"warehouse_id"`
	Quantity    int64                 `json:"quantity"`
	Reserved    int64                 `json:"reserved"`
	Available   int64                 `json:"available"`
	Status      inventory.StockStatus `json:"status"`
}

// ValuationRow carries quantity times cost price for one record.
type ValuationRow struct {
	ProductID   int64           `json:"product_id"`
	WarehouseID int64           `json:"warehouse_id"`
	Quantity    int64           `json:"quantity"`
	CostPrice   decimal.Decimal `json:"cost_price"`
	Value       decimal.Decimal `json:"value"`
}

// MovementRow aggregates ledger entries of one type inside the window.
type MovementRow struct {
	EntryType inventory.EntryType `json:"entry_type"`
	Entries   int64               `json:"entries"`
	QtyIn     int64               `json:"qty_in"`
	QtyOut    int64               `json:"qty_out"`
}

// Summary holds the headline figures for a report.
type Summary struct {
	TotalRecords  int64           `json:"total_records,omitempty"`
	TotalQuantity int64           `json:"total_quantity,omitempty"`
	OutOfStock    int64           `json:"out_of_stock,omitempty"`
	LowStock      int64           `json:"low_stock,omitempty"`
	Overstock     int64           `json:"overstock,omitempty"`
	TotalValue    decimal.Decimal `json:"total_value"`
	NetChange     int64           `json:"net_change,omitempty"`
}

// Report is the result of one read-only aggregation. Stale reads are
// acceptable; reports never mutate inventory state.
type Report struct {
	Type        Type             `json:"type"`
	Filter      Filter           `json:"filter"`
	GeneratedAt time.Time        `json:"generated_at"`
	Summary     Summary          `json:"summary"`
	StockLevels []StockLevelRow  `json:"stock_levels,omitempty"`
	Valuation   []ValuationRow   `json:"valuation,omitempty"`
	Movements   []MovementRow    `json:"movements,omitempty"`
}

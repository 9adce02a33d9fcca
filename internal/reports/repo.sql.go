package reports

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-ims/atlas-ims/internal/inventory"
)

// Repository reads inventory state and the ledger for reporting.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `id, product_id, warehouse_id, quantity, reserved_quantity, cost_price, minimum_stock_level, maximum_stock_level, reorder_point, COALESCE(supplier_id, 0), updated_at`

func (r *Repository) LowStock(ctx context.Context) ([]inventory.Record, error) {
	if r == nil {
		return nil, errors.New("reports repository not initialised")
	}
	return r.queryRecords(ctx, `SELECT `+recordColumns+`
FROM inventory_records
WHERE quantity - reserved_quantity <= reorder_point
ORDER BY quantity - reserved_quantity ASC`)
}

func (r *Repository) Overstock(ctx context.Context) ([]inventory.Record, error) {
	if r == nil {
		return nil, errors.New("reports repository not initialised")
	}
	return r.queryRecords(ctx, `SELECT `+recordColumns+`
FROM inventory_records
WHERE maximum_stock_level > 0 AND quantity > maximum_stock_level
ORDER BY quantity - maximum_stock_level DESC`)
}

func (r *Repository) StockLevels(ctx context.Context, warehouseID int64) ([]inventory.Record, error) {
	if r == nil {
		return nil, errors.New("reports repository not initialised")
	}
	return r.queryRecords(ctx, `SELECT `+recordColumns+`
FROM inventory_records
WHERE ($1 = 0 OR warehouse_id = $1)
ORDER BY warehouse_id, product_id`, warehouseID)
}

func (r *Repository) Movements(ctx context.Context, filter Filter) ([]MovementRow, error) {
	if r == nil {
		return nil, errors.New("reports repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT l.entry_type, COUNT(*), COALESCE(SUM(GREATEST(l.quantity, 0)), 0), COALESCE(SUM(GREATEST(-l.quantity, 0)), 0)
FROM inventory_ledger l
JOIN inventory_records rec ON rec.id = l.record_id
WHERE ($1 = 0 OR rec.warehouse_id = $1)
  AND l.created_at BETWEEN COALESCE($2::timestamptz, '-infinity') AND COALESCE($3::timestamptz, 'infinity')
GROUP BY l.entry_type
ORDER BY l.entry_type`, filter.WarehouseID, nullTime(filter.From), nullTime(filter.To))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []MovementRow{}
	for rows.Next() {
		var row MovementRow
		if err := rows.Scan(&row.EntryType, &row.Entries, &row.QtyIn, &row.QtyOut); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Repository) queryRecords(ctx context.Context, query string, args ...any) ([]inventory.Record, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []inventory.Record{}
	for rows.Next() {
		var rec inventory.Record
		if err := rows.Scan(&rec.ID, &rec.ProductID, &rec.WarehouseID, &rec.Quantity, &rec.ReservedQuantity, &rec.CostPrice, &rec.MinimumStockLevel, &rec.MaximumStockLevel, &rec.ReorderPoint, &rec.SupplierID, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction. Begin
// and commit failures surface as StorageUnavailableError so callers can
// distinguish transient store trouble from business-rule rejections.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return &StorageUnavailableError{Op: "begin", Err: err}
	}
	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return &StorageUnavailableError{Op: "commit", Err: err}
	}
	return nil
}

func (r *Repository) GetRecord(ctx context.Context, productID, warehouseID int64) (Record, error) {
	if r == nil {
		return Record{}, errors.New("inventory repository not initialised")
	}
	var rec Record
	err := r.pool.QueryRow(ctx, `SELECT id, product_id, warehouse_id, quantity, reserved_quantity, cost_price, minimum_stock_level, maximum_stock_level, reorder_point, COALESCE(supplier_id, 0), updated_at
FROM inventory_records WHERE product_id=$1 AND warehouse_id=$2`, productID, warehouseID).
		Scan(&rec.ID, &rec.ProductID, &rec.WarehouseID, &rec.Quantity, &rec.ReservedQuantity, &rec.CostPrice, &rec.MinimumStockLevel, &rec.MaximumStockLevel, &rec.ReorderPoint, &rec.SupplierID, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, classifyStoreErr("get record", err)
	}
	return rec, nil
}

func (r *Repository) LedgerHistory(ctx context.Context, recordID int64, filter HistoryFilter) ([]LedgerEntry, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id, record_id, entry_type, quantity, COALESCE(unit_cost, 0), unit_cost IS NOT NULL, reference, note, created_by, created_at
FROM inventory_ledger
WHERE record_id=$1 AND created_at BETWEEN COALESCE($2::timestamptz, '-infinity') AND COALESCE($3::timestamptz, 'infinity')
ORDER BY id DESC
LIMIT $4 OFFSET $5`, recordID, nullTime(filter.From), nullTime(filter.To), limit, filter.Offset)
	if err != nil {
		return nil, classifyStoreErr("ledger history", err)
	}
	defer rows.Close()
	entries := []LedgerEntry{}
	for rows.Next() {
		var entry LedgerEntry
		if err := rows.Scan(&entry.ID, &entry.RecordID, &entry.Type, &entry.Quantity, &entry.UnitCost, &entry.HasCost, &entry.Reference, &entry.Notes, &entry.CreatedBy, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *txRepository) GetRecordForUpdate(ctx context.Context, productID, warehouseID int64) (Record, error) {
	var rec Record
	err := r.tx.QueryRow(ctx, `SELECT id, product_id, warehouse_id, quantity, reserved_quantity, cost_price, minimum_stock_level, maximum_stock_level, reorder_point, COALESCE(supplier_id, 0), updated_at
FROM inventory_records WHERE product_id=$1 AND warehouse_id=$2 FOR UPDATE`, productID, warehouseID).
		Scan(&rec.ID, &rec.ProductID, &rec.WarehouseID, &rec.Quantity, &rec.ReservedQuantity, &rec.CostPrice, &rec.MinimumStockLevel, &rec.MaximumStockLevel, &rec.ReorderPoint, &rec.SupplierID, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, classifyStoreErr("lock record", err)
	}
	return rec, nil
}

func (r *txRepository) InsertRecord(ctx context.Context, rec Record) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_records (product_id, warehouse_id, quantity, reserved_quantity, cost_price, minimum_stock_level, maximum_stock_level, reorder_point, supplier_id, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
ON CONFLICT (product_id, warehouse_id) DO UPDATE SET updated_at=inventory_records.updated_at
RETURNING id`, rec.ProductID, rec.WarehouseID, rec.Quantity, rec.ReservedQuantity, rec.CostPrice, rec.MinimumStockLevel, rec.MaximumStockLevel, rec.ReorderPoint, nullInt(rec.SupplierID)).Scan(&id)
	if err != nil {
		return 0, classifyStoreErr("insert record", err)
	}
	return id, nil
}

// LockRecords acquires FOR UPDATE locks on the given record ids. Callers
// pass ids in ascending order so concurrent transfers agree on lock order.
func (r *txRepository) LockRecords(ctx context.Context, ids []int64) ([]Record, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, product_id, warehouse_id, quantity, reserved_quantity, cost_price, minimum_stock_level, maximum_stock_level, reorder_point, COALESCE(supplier_id, 0), updated_at
FROM inventory_records WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, classifyStoreErr("lock records", err)
	}
	defer rows.Close()
	records := make([]Record, 0, len(ids))
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.ProductID, &rec.WarehouseID, &rec.Quantity, &rec.ReservedQuantity, &rec.CostPrice, &rec.MinimumStockLevel, &rec.MaximumStockLevel, &rec.ReorderPoint, &rec.SupplierID, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(records) != len(ids) {
		return nil, ErrRecordNotFound
	}
	return records, nil
}

func (r *txRepository) UpdateRecord(ctx context.Context, rec Record) error {
	_, err := r.tx.Exec(ctx, `UPDATE inventory_records
SET quantity=$2, reserved_quantity=$3, cost_price=$4, minimum_stock_level=$5, maximum_stock_level=$6, reorder_point=$7, supplier_id=$8, updated_at=NOW()
WHERE id=$1`, rec.ID, rec.Quantity, rec.ReservedQuantity, rec.CostPrice, rec.MinimumStockLevel, rec.MaximumStockLevel, rec.ReorderPoint, nullInt(rec.SupplierID))
	if err != nil {
		return classifyStoreErr("update record", err)
	}
	return nil
}

func (r *txRepository) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error) {
	var unitCost any
	if entry.HasCost {
		unitCost = entry.UnitCost
	}
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_ledger (record_id, entry_type, quantity, unit_cost, reference, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`, entry.RecordID, string(entry.Type), entry.Quantity, unitCost, entry.Reference, entry.Notes, entry.CreatedBy, entry.CreatedAt).Scan(&id)
	if err != nil {
		return 0, classifyStoreErr("insert ledger entry", err)
	}
	return id, nil
}

// classifyStoreErr maps pgx failures that resolve on retry to
// StorageUnavailableError while letting everything else through untouched.
func classifyStoreErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exceptions; 57P01/57P02/57P03: shutdown
		// states; 40001/40P01: serialization and deadlock aborts, which
		// repeatable read raises when two transactions race for the same
		// record row.
		if len(pgErr.Code) >= 2 && (pgErr.Code[:2] == "08" || pgErr.Code[:2] == "57" || pgErr.Code == "40001" || pgErr.Code == "40P01") {
			return &StorageUnavailableError{Op: op, Err: err}
		}
		return err
	}
	if pgconn.Timeout(err) {
		return &StorageUnavailableError{Op: op, Err: err}
	}
	return err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

package purchasing

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-ims/atlas-ims/internal/shared"
)

// Repository persists purchase orders in PostgreSQL.
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

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("purchasing repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, []Item, error) {
	if r == nil {
		return PurchaseOrder{}, nil, errors.New("purchasing repository not initialised")
	}
	var po PurchaseOrder
	err := r.pool.QueryRow(ctx, `SELECT id, number, supplier_id, warehouse_id, status, COALESCE(expected_date, 'epoch'), total_amount, note, created_by, created_at
FROM purchase_orders WHERE id=$1`, id).
		Scan(&po.ID, &po.Number, &po.SupplierID, &po.WarehouseID, &po.Status, &po.ExpectedDate, &po.TotalAmount, &po.Notes, &po.CreatedBy, &po.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, nil, ErrNotFound
		}
		return PurchaseOrder{}, nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, po_id, product_id, qty_ordered, qty_received, unit_price
FROM purchase_order_items WHERE po_id=$1 ORDER BY id`, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.POID, &item.ProductID, &item.QtyOrdered, &item.QtyReceived, &item.UnitPrice); err != nil {
			return PurchaseOrder{}, nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, items, nil
}

func (r *Repository) List(ctx context.Context, status Status, page shared.Pagination) ([]PurchaseOrder, int, error) {
	if r == nil {
		return nil, 0, errors.New("purchasing repository not initialised")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders WHERE ($1 = '' OR status = $1)`, string(status)).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := page.PerPage
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `SELECT id, number, supplier_id, warehouse_id, status, COALESCE(expected_date, 'epoch'), total_amount, note, created_by, created_at
FROM purchase_orders WHERE ($1 = '' OR status = $1)
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`, string(status), limit, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	orders := []PurchaseOrder{}
	for rows.Next() {
		var po PurchaseOrder
		if err := rows.Scan(&po.ID, &po.Number, &po.SupplierID, &po.WarehouseID, &po.Status, &po.ExpectedDate, &po.TotalAmount, &po.Notes, &po.CreatedBy, &po.CreatedAt); err != nil {
			return nil, 0, err
		}
		orders = append(orders, po)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *txRepository) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, supplier_id, warehouse_id, status, expected_date, total_amount, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id`, po.Number, po.SupplierID, po.WarehouseID, string(po.Status), nullTime(po.ExpectedDate), po.TotalAmount, po.Notes, po.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_order_items (po_id, product_id, qty_ordered, qty_received, unit_price)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, item.POID, item.ProductID, item.QtyOrdered, item.QtyReceived, item.UnitPrice).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET status=$2 WHERE id=$1`, id, string(status))
	return err
}

func (r *txRepository) UpdateItemReceived(ctx context.Context, itemID int64, qtyReceived int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_order_items SET qty_received=$2 WHERE id=$1`, itemID, qtyReceived)
	return err
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}


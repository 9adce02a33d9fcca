package purchasing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atlas-ims/atlas-ims/internal/inventory"
	"github.com/atlas-ims/atlas-ims/internal/shared"
)

type memoryPORepo struct {
	orders map[int64]PurchaseOrder
	items  map[int64][]Item
	nextID int64
}

type memoryPOTx struct {
	repo *memoryPORepo
}

func newMemoryPORepo() *memoryPORepo {
	return &memoryPORepo{
		orders: make(map[int64]PurchaseOrder),
		items:  make(map[int64][]Item),
	}
}

// WithTx restores the pre-transaction state when the callback errors, the
// way a rolled-back database transaction would.
func (r *memoryPORepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapOrders := make(map[int64]PurchaseOrder, len(r.orders))
	for id, po := range r.orders {
		snapOrders[id] = po
	}
	snapItems := make(map[int64][]Item, len(r.items))
	for id, items := range r.items {
		snapItems[id] = append([]Item(nil), items...)
	}
	snapNext := r.nextID
	if err := fn(ctx, &memoryPOTx{repo: r}); err != nil {
		r.orders = snapOrders
		r.items = snapItems
		r.nextID = snapNext
		return err
	}
	return nil
}

func (r *memoryPORepo) GetPO(ctx context.Context, id int64) (PurchaseOrder, []Item, error) {
	po, ok := r.orders[id]
	if !ok {
		return PurchaseOrder{}, nil, ErrNotFound
	}
	return po, append([]Item(nil), r.items[id]...), nil
}

func (r *memoryPORepo) List(ctx context.Context, status Status, page shared.Pagination) ([]PurchaseOrder, int, error) {
	orders := []PurchaseOrder{}
	for _, po := range r.orders {
		if status == "" || po.Status == status {
			orders = append(orders, po)
		}
	}
	return orders, len(orders), nil
}

func (tx *memoryPOTx) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	tx.repo.nextID++
	po.ID = tx.repo.nextID
	tx.repo.orders[po.ID] = po
	return po.ID, nil
}

func (tx *memoryPOTx) InsertItem(ctx context.Context, item Item) (int64, error) {
	tx.repo.nextID++
	item.ID = tx.repo.nextID
	tx.repo.items[item.POID] = append(tx.repo.items[item.POID], item)
	return item.ID, nil
}

func (tx *memoryPOTx) UpdateStatus(ctx context.Context, id int64, status Status) error {
	po := tx.repo.orders[id]
	po.Status = status
	tx.repo.orders[id] = po
	return nil
}

func (tx *memoryPOTx) UpdateItemReceived(ctx context.Context, itemID int64, qtyReceived int64) error {
	for poID, items := range tx.repo.items {
		for i, item := range items {
			if item.ID == itemID {
				items[i].QtyReceived = qtyReceived
				tx.repo.items[poID] = items
				return nil
			}
		}
	}
	return ErrNotFound
}

// stubInventory mimics the stock engine's posting contract: each successful
// call commits independently, and a reference seen before reports a key
// conflict. fail aborts every call, or only call number failOn when set.
type stubInventory struct {
	posted []inventory.AddStockInput
	refs   map[string]bool
	fail   error
	failOn int
	calls  int
}

func (s *stubInventory) AddStock(ctx context.Context, input inventory.AddStockInput) (inventory.Record, inventory.LedgerEntry, error) {
	s.calls++
	if s.fail != nil && (s.failOn == 0 || s.calls == s.failOn) {
		return inventory.Record{}, inventory.LedgerEntry{}, s.fail
	}
	if s.refs == nil {
		s.refs = make(map[string]bool)
	}
	if input.Reference != "" && s.refs[input.Reference] {
		return inventory.Record{}, inventory.LedgerEntry{}, shared.ErrIdempotencyConflict
	}
	s.refs[input.Reference] = true
	s.posted = append(s.posted, input)
	return inventory.Record{ProductID: input.ProductID, WarehouseID: input.WarehouseID, Quantity: input.Quantity},
		inventory.LedgerEntry{Type: input.Type, Quantity: input.Quantity}, nil
}

func TestCreatePurchaseOrderTotal(t *testing.T) {
	repo := newMemoryPORepo()
	svc := NewService(repo, &stubInventory{}, nil, nil)
	ctx := context.Background()

	po, err := svc.CreatePurchaseOrder(ctx, CreateInput{
		SupplierID:  1,
		WarehouseID: 2,
		ActorID:     9,
		Items: []ItemInput{
			{ProductID: 11, Qty: 10, UnitPrice: decimal.NewFromInt(5)},
			{ProductID: 12, Qty: 5, UnitPrice: decimal.NewFromInt(8)},
		},
	})
	require.NoError(t, err)
	require.NotZero(t, po.ID)
	require.Equal(t, StatusDraft, po.Status)
	require.True(t, decimal.NewFromInt(90).Equal(po.TotalAmount), "total_amount = %s", po.TotalAmount)

	_, items, err := svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)

	// Total always equals the sum of item totals.
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.UnitPrice.Mul(decimal.NewFromInt(item.QtyOrdered)))
	}
	require.True(t, sum.Equal(po.TotalAmount))
}

func TestCreatePurchaseOrderValidation(t *testing.T) {
	repo := newMemoryPORepo()
	svc := NewService(repo, &stubInventory{}, nil, nil)
	ctx := context.Background()

	_, err := svc.CreatePurchaseOrder(ctx, CreateInput{SupplierID: 1, WarehouseID: 2, ActorID: 9})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreatePurchaseOrder(ctx, CreateInput{
		SupplierID:  1,
		WarehouseID: 2,
		ActorID:     9,
		Items:       []ItemInput{{ProductID: 11, Qty: 0, UnitPrice: decimal.NewFromInt(5)}},
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreatePurchaseOrder(ctx, CreateInput{
		SupplierID:  1,
		WarehouseID: 2,
		Items:       []ItemInput{{ProductID: 11, Qty: 1, UnitPrice: decimal.NewFromInt(5)}},
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestReceivePurchaseOrderPartial(t *testing.T) {
	repo := newMemoryPORepo()
	inv := &stubInventory{}
	svc := NewService(repo, inv, nil, nil)
	ctx := context.Background()

	po, err := svc.CreatePurchaseOrder(ctx, CreateInput{
		SupplierID:  1,
		WarehouseID: 2,
		ActorID:     9,
		Items: []ItemInput{
			{ProductID: 11, Qty: 10, UnitPrice: decimal.NewFromInt(5)},
			{ProductID: 12, Qty: 5, UnitPrice: decimal.NewFromInt(8)},
		},
	})
	require.NoError(t, err)

	require.NoError(t, svc.SubmitPurchaseOrder(ctx, po.ID, 9))

	_, items, err := svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)

	received, err := svc.ReceivePurchaseOrder(ctx, ReceiveInput{
		POID:    po.ID,
		ActorID: 9,
		Received: map[int64]int64{
			items[0].ID: 10,
			items[1].ID: 3,
		},
	})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, received.Status)

	require.Len(t, inv.posted, 2)
	var total int64
	for _, posted := range inv.posted {
		require.Equal(t, inventory.EntryTypePurchase, posted.Type)
		require.Equal(t, int64(2), posted.WarehouseID)
		total += posted.Quantity
	}
	require.Equal(t, int64(13), total)

	_, items, err = svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, int64(10), items[0].QtyReceived)
	require.Equal(t, int64(3), items[1].QtyReceived)
}

func TestReceiveClampsAtOrdered(t *testing.T) {
	repo := newMemoryPORepo()
	inv := &stubInventory{}
	svc := NewService(repo, inv, nil, nil)
	ctx := context.Background()

	po, err := svc.CreatePurchaseOrder(ctx, CreateInput{
		SupplierID:  1,
		WarehouseID: 2,
		ActorID:     9,
		Items:       []ItemInput{{ProductID: 11, Qty: 4, UnitPrice: decimal.NewFromInt(5)}},
	})
	require.NoError(t, err)

	_, items, err := svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)

	_, err = svc.ReceivePurchaseOrder(ctx, ReceiveInput{POID: po.ID, ActorID: 9, Received: map[int64]int64{items[0].ID: 99}})
	require.NoError(t, err)

	_, items, err = svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, int64(4), items[0].QtyReceived)
	require.Len(t, inv.posted, 1)
	require.Equal(t, int64(4), inv.posted[0].Quantity)
}

func TestReceiveTwiceRejected(t *testing.T) {
	repo := newMemoryPORepo()
	inv := &stubInventory{}
	svc := NewService(repo, inv, nil, nil)
	ctx := context.Background()

	po, err := svc.CreatePurchaseOrder(ctx, CreateInput{
		SupplierID:  1,
		WarehouseID: 2,
		ActorID:     9,
		Items:       []ItemInput{{ProductID: 11, Qty: 4, UnitPrice: decimal.NewFromInt(5)}},
	})
	require.NoError(t, err)

	_, items, err := svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)

	_, err = svc.ReceivePurchaseOrder(ctx, ReceiveInput{POID: po.ID, ActorID: 9, Received: map[int64]int64{items[0].ID: 4}})
	require.NoError(t, err)

	_, err = svc.ReceivePurchaseOrder(ctx, ReceiveInput{POID: po.ID, ActorID: 9, Received: map[int64]int64{items[0].ID: 4}})
	require.ErrorIs(t, err, ErrAlreadyReceived)
	require.Len(t, inv.posted, 1)
}

func TestBackorderReceiptAfterPartial(t *testing.T) {
	repo := newMemoryPORepo()
	inv := &stubInventory{}
	svc := NewService(repo, inv, nil, nil)
	ctx := context.Background()

	po, err := svc.CreatePurchaseOrder(ctx, CreateInput{
		SupplierID:  1,
		WarehouseID: 2,
		ActorID:     9,
		Items:       []ItemInput{{ProductID: 11, Qty: 10, UnitPrice: decimal.NewFromInt(5)}},
	})
	require.NoError(t, err)

	_, items, err := svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)

	_, err = svc.ReceivePurchaseOrder(ctx, ReceiveInput{POID: po.ID, ActorID: 9, Received: map[int64]int64{items[0].ID: 6}})
	require.NoError(t, err)

	// The remaining 4 arrive later.
	_, err = svc.ReceivePurchaseOrder(ctx, ReceiveInput{POID: po.ID, ActorID: 9, Received: map[int64]int64{items[0].ID: 4}})
	require.NoError(t, err)

	_, items, err = svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, int64(10), items[0].QtyReceived)
	require.Len(t, inv.posted, 2)
}

func TestStateMachine(t *testing.T) {
	repo := newMemoryPORepo()
	svc := NewService(repo, &stubInventory{}, nil, nil)
	ctx := context.Background()

	po, err := svc.CreatePurchaseOrder(ctx, CreateInput{
		SupplierID:  1,
		WarehouseID: 2,
		ActorID:     9,
		Items:       []ItemInput{{ProductID: 11, Qty: 4, UnitPrice: decimal.NewFromInt(5)}},
	})
	require.NoError(t, err)

	require.NoError(t, svc.SubmitPurchaseOrder(ctx, po.ID, 9))
	require.ErrorIs(t, svc.SubmitPurchaseOrder(ctx, po.ID, 9), ErrInvalidState)

	require.NoError(t, svc.CancelPurchaseOrder(ctx, po.ID, 9))
	require.ErrorIs(t, svc.CancelPurchaseOrder(ctx, po.ID, 9), ErrInvalidState)

	_, err = svc.ReceivePurchaseOrder(ctx, ReceiveInput{POID: po.ID, ActorID: 9, Received: map[int64]int64{1: 1}})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestReceiptFailureRollsBack(t *testing.T) {
	repo := newMemoryPORepo()
	inv := &stubInventory{fail: context.DeadlineExceeded}
	svc := NewService(repo, inv, nil, nil)
	ctx := context.Background()

	po, err := svc.CreatePurchaseOrder(ctx, CreateInput{
		SupplierID:  1,
		WarehouseID: 2,
		ActorID:     9,
		Items:       []ItemInput{{ProductID: 11, Qty: 4, UnitPrice: decimal.NewFromInt(5)}},
	})
	require.NoError(t, err)

	_, items, err := svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)

	_, err = svc.ReceivePurchaseOrder(ctx, ReceiveInput{POID: po.ID, ActorID: 9, Received: map[int64]int64{items[0].ID: 4}})
	require.Error(t, err)

	current, items, err := svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, current.Status)
	require.Equal(t, int64(0), items[0].QtyReceived)
}

func TestReceiveRetryAfterPartialPostingFailure(t *testing.T) {
	repo := newMemoryPORepo()
	inv := &stubInventory{fail: context.DeadlineExceeded, failOn: 2}
	svc := NewService(repo, inv, nil, nil)
	ctx := context.Background()

	po, err := svc.CreatePurchaseOrder(ctx, CreateInput{
		SupplierID:  1,
		WarehouseID: 2,
		ActorID:     9,
		Items: []ItemInput{
			{ProductID: 11, Qty: 10, UnitPrice: decimal.NewFromInt(5)},
			{ProductID: 12, Qty: 5, UnitPrice: decimal.NewFromInt(8)},
		},
	})
	require.NoError(t, err)
	require.NoError(t, svc.SubmitPurchaseOrder(ctx, po.ID, 9))

	_, items, err := svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	lines := map[int64]int64{items[0].ID: 10, items[1].ID: 5}

	// First attempt: one line's stock posting commits, the next fails, so
	// the purchase order side rolls back entirely.
	_, err = svc.ReceivePurchaseOrder(ctx, ReceiveInput{POID: po.ID, ActorID: 9, Received: lines})
	require.Error(t, err)
	require.Len(t, inv.posted, 1)

	_, items, err = svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), items[0].QtyReceived)
	require.Equal(t, int64(0), items[1].QtyReceived)

	// The retry replays the already-committed line's reference; the stock
	// engine reports a key conflict and the line is kept without
	// double-posting, while the failed line posts for the first time.
	inv.fail = nil
	received, err := svc.ReceivePurchaseOrder(ctx, ReceiveInput{POID: po.ID, ActorID: 9, Received: lines})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, received.Status)
	require.Len(t, inv.posted, 2)

	_, items, err = svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, int64(10), items[0].QtyReceived)
	require.Equal(t, int64(5), items[1].QtyReceived)

	var total int64
	for _, posted := range inv.posted {
		total += posted.Quantity
	}
	require.Equal(t, int64(15), total)
}

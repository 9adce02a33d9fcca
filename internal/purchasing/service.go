package purchasing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-ims/atlas-ims/internal/inventory"
	"github.com/atlas-ims/atlas-ims/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, id int64) (PurchaseOrder, []Item, error)
	List(ctx context.Context, status Status, page shared.Pagination) ([]PurchaseOrder, int, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	CreatePO(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	UpdateItemReceived(ctx context.Context, itemID int64, qtyReceived int64) error
}

// InventoryPort exposes the stock operation engine used on receipt.
type InventoryPort interface {
	AddStock(ctx context.Context, input inventory.AddStockInput) (inventory.Record, inventory.LedgerEntry, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the purchase order workflow.
type Service struct {
	repo        RepositoryPort
	inventory   InventoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
}

// NewService constructs purchasing service.
func NewService(repo RepositoryPort, inventory InventoryPort, audit AuditPort, idem *shared.IdempotencyStore) *Service {
	return &Service{repo: repo, inventory: inventory, audit: audit, idempotency: idem}
}

// ItemInput describes one ordered line.
type ItemInput struct {
	ProductID int64
	Qty       int64
	UnitPrice decimal.Decimal
}

// CreateInput describes creation payload.
type CreateInput struct {
	Number       string
	SupplierID   int64
	WarehouseID  int64
	ExpectedDate time.Time
	Notes        string
	ActorID      int64
	Items        []ItemInput
}

// ReceiveInput maps item ids to the quantity received in this delivery.
type ReceiveInput struct {
	POID      int64
	Received  map[int64]int64
	Reference string
	Notes     string
	ActorID   int64
}

// CreatePurchaseOrder validates items, computes the invariant-checked total
// and persists header plus lines atomically. The order starts in DRAFT.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input CreateInput) (PurchaseOrder, error) {
	if input.ActorID == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: actor required", ErrValidation)
	}
	if input.SupplierID == 0 || input.WarehouseID == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: supplier and warehouse required", ErrValidation)
	}
	if len(input.Items) == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: minimal 1 item", ErrValidation)
	}
	total := decimal.Zero
	for _, item := range input.Items {
		if item.ProductID == 0 || item.Qty <= 0 || item.UnitPrice.IsNegative() {
			return PurchaseOrder{}, ErrValidation
		}
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(item.Qty)))
	}
	if input.Number == "" {
		input.Number = generateNumber("PO")
	}
	po := PurchaseOrder{
		Number:       input.Number,
		SupplierID:   input.SupplierID,
		WarehouseID:  input.WarehouseID,
		Status:       StatusDraft,
		ExpectedDate: input.ExpectedDate,
		TotalAmount:  total,
		Notes:        input.Notes,
		CreatedBy:    input.ActorID,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		poID, err := tx.CreatePO(ctx, po)
		if err != nil {
			return err
		}
		po.ID = poID
		for _, item := range input.Items {
			if _, err := tx.InsertItem(ctx, Item{POID: poID, ProductID: item.ProductID, QtyOrdered: item.Qty, UnitPrice: item.UnitPrice}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "PO_CREATE", po.ID, map[string]any{"number": po.Number, "total": po.TotalAmount.String()})
	return po, nil
}

// SubmitPurchaseOrder transitions DRAFT to ORDERED.
func (s *Service) SubmitPurchaseOrder(ctx context.Context, poID int64, actorID int64) error {
	po, _, err := s.repo.GetPO(ctx, poID)
	if err != nil {
		return err
	}
	if po.Status != StatusDraft {
		return ErrInvalidState
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, poID, StatusOrdered)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "PO_SUBMIT", poID, map[string]any{"number": po.Number})
	return nil
}

// CancelPurchaseOrder transitions DRAFT or ORDERED to the terminal CANCELLED.
func (s *Service) CancelPurchaseOrder(ctx context.Context, poID int64, actorID int64) error {
	po, _, err := s.repo.GetPO(ctx, poID)
	if err != nil {
		return err
	}
	if po.Status.Terminal() {
		return ErrInvalidState
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, poID, StatusCancelled)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "PO_CANCEL", poID, map[string]any{"number": po.Number})
	return nil
}

// ReceivePurchaseOrder records a (possibly partial) delivery. Each received
// line is clamped so cumulative receipts never exceed the ordered quantity,
// then posted to the stock operation engine as a PURCHASE. Lines already
// fully received are skipped, which makes receipt idempotent per item; a
// call in which nothing remains to receive fails with ErrAlreadyReceived.
func (s *Service) ReceivePurchaseOrder(ctx context.Context, input ReceiveInput) (PurchaseOrder, error) {
	if input.ActorID == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: actor required", ErrValidation)
	}
	if len(input.Received) == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: nothing to receive", ErrValidation)
	}
	po, items, err := s.repo.GetPO(ctx, input.POID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	// A RECEIVED order may still take backorder deliveries for outstanding
	// lines; only cancellation closes the door entirely.
	if po.Status == StatusCancelled {
		return PurchaseOrder{}, ErrInvalidState
	}
	key := ""
	insertedKey := false
	if s.idempotency != nil && input.Reference != "" {
		key = fmt.Sprintf("PO-RECEIVE:%s:%s", po.Number, input.Reference)
		if err := s.idempotency.CheckAndInsert(ctx, key, "purchasing"); err != nil {
			return PurchaseOrder{}, err
		}
		insertedKey = true
	}
	byID := make(map[int64]Item, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	type receipt struct {
		item Item
		qty  int64
	}
	receipts := make([]receipt, 0, len(input.Received))
	alreadyFull := 0
	for itemID, qty := range input.Received {
		item, ok := byID[itemID]
		if !ok {
			return PurchaseOrder{}, fmt.Errorf("%w: unknown item %d", ErrValidation, itemID)
		}
		if qty <= 0 {
			return PurchaseOrder{}, fmt.Errorf("%w: quantity for item %d must be positive", ErrValidation, itemID)
		}
		outstanding := item.Outstanding()
		if outstanding <= 0 {
			alreadyFull++
			continue
		}
		if qty > outstanding {
			qty = outstanding
		}
		receipts = append(receipts, receipt{item: item, qty: qty})
	}
	if len(receipts) == 0 {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		if alreadyFull > 0 {
			return PurchaseOrder{}, ErrAlreadyReceived
		}
		return PurchaseOrder{}, fmt.Errorf("%w: nothing to receive", ErrValidation)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, rcpt := range receipts {
			if err := tx.UpdateItemReceived(ctx, rcpt.item.ID, rcpt.item.QtyReceived+rcpt.qty); err != nil {
				return err
			}
			unitCost := rcpt.item.UnitPrice
			_, _, err := s.inventory.AddStock(ctx, inventory.AddStockInput{
				ProductID:   rcpt.item.ProductID,
				WarehouseID: po.WarehouseID,
				Quantity:    rcpt.qty,
				Type:        inventory.EntryTypePurchase,
				UnitCost:    &unitCost,
				Reference:   fmt.Sprintf("PO:%s:%d:%d", po.Number, rcpt.item.ID, rcpt.item.QtyReceived+rcpt.qty),
				Notes:       input.Notes,
				ActorID:     input.ActorID,
			})
			// The stock engine commits each posting on its own. When a later
			// line fails, this transaction rolls the item updates back but
			// earlier postings stay committed, so a retry recomputes the same
			// cumulative reference and the engine reports a key conflict.
			// Treat that as "stock already posted" and keep the item update.
			if err != nil && !errors.Is(err, shared.ErrIdempotencyConflict) {
				return fmt.Errorf("purchasing: post receipt for item %d: %w", rcpt.item.ID, err)
			}
		}
		return tx.UpdateStatus(ctx, input.POID, StatusReceived)
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return PurchaseOrder{}, err
	}
	po, _, err = s.repo.GetPO(ctx, input.POID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "PO_RECEIVE", po.ID, map[string]any{"number": po.Number, "lines": len(receipts)})
	return po, nil
}

// GetPurchaseOrder loads one order with its items.
func (s *Service) GetPurchaseOrder(ctx context.Context, poID int64) (PurchaseOrder, []Item, error) {
	return s.repo.GetPO(ctx, poID)
}

// ListPurchaseOrders pages through orders, optionally filtered by status.
func (s *Service) ListPurchaseOrders(ctx context.Context, status Status, page shared.Pagination) ([]PurchaseOrder, int, error) {
	return s.repo.List(ctx, status, page)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "purchase_order", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlas-ims/atlas-ims/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRecord(ctx context.Context, productID, warehouseID int64) (Record, error)
	LedgerHistory(ctx context.Context, recordID int64, filter HistoryFilter) ([]LedgerEntry, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetRecordForUpdate(ctx context.Context, productID, warehouseID int64) (Record, error)
	InsertRecord(ctx context.Context, rec Record) (int64, error)
	LockRecords(ctx context.Context, ids []int64) ([]Record, error)
	UpdateRecord(ctx context.Context, rec Record) error
	InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the stock operation engine: the only code path permitted to
// mutate a Record's quantities. Every operation runs inside one repository
// transaction spanning the row lock, the quantity update and the ledger
// insert(s), so nothing partially applies.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem}
}

// GetRecord loads the current stock state for a (product, warehouse) pair.
func (s *Service) GetRecord(ctx context.Context, productID, warehouseID int64) (Record, error) {
	if productID == 0 || warehouseID == 0 {
		return Record{}, fmt.Errorf("inventory: product and warehouse required")
	}
	return s.repo.GetRecord(ctx, productID, warehouseID)
}

// GetOrCreateRecord returns the record for the pair, creating an empty one
// when absent. Creation is idempotent per (product, warehouse).
func (s *Service) GetOrCreateRecord(ctx context.Context, productID, warehouseID int64) (Record, error) {
	if productID == 0 || warehouseID == 0 {
		return Record{}, fmt.Errorf("inventory: product and warehouse required")
	}
	var rec Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rec, err = ensureRecord(ctx, tx, productID, warehouseID)
		return err
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// LedgerHistory lists ledger entries for a record, newest first.
func (s *Service) LedgerHistory(ctx context.Context, recordID int64, filter HistoryFilter) ([]LedgerEntry, error) {
	if recordID == 0 {
		return nil, ErrRecordNotFound
	}
	return s.repo.LedgerHistory(ctx, recordID, filter)
}

// AddStock increments on-hand quantity and writes a positive-delta entry.
func (s *Service) AddStock(ctx context.Context, input AddStockInput) (Record, LedgerEntry, error) {
	if input.Quantity <= 0 {
		return Record{}, LedgerEntry{}, &InvalidQuantityError{Quantity: input.Quantity}
	}
	entryType := input.Type
	if entryType == "" {
		entryType = EntryTypePurchase
	}
	params := movementParams{
		ProductID:   input.ProductID,
		WarehouseID: input.WarehouseID,
		Delta:       input.Quantity,
		Type:        entryType,
		UnitCost:    input.UnitCost,
		Reference:   input.Reference,
		Notes:       input.Notes,
		ActorID:     input.ActorID,
	}
	return s.postMovement(ctx, params)
}

// RemoveStock decrements on-hand quantity and writes a negative-delta entry.
// The check runs against available quantity so removals can never consume
// reserved stock.
func (s *Service) RemoveStock(ctx context.Context, input RemoveStockInput) (Record, LedgerEntry, error) {
	if input.Quantity <= 0 {
		return Record{}, LedgerEntry{}, &InvalidQuantityError{Quantity: input.Quantity}
	}
	entryType := input.Type
	if entryType == "" {
		entryType = EntryTypeSale
	}
	params := movementParams{
		ProductID:   input.ProductID,
		WarehouseID: input.WarehouseID,
		Delta:       -input.Quantity,
		Type:        entryType,
		Reference:   input.Reference,
		Notes:       input.Notes,
		ActorID:     input.ActorID,
	}
	return s.postMovement(ctx, params)
}

// AdjustStock applies a signed correction with a mandatory reason.
func (s *Service) AdjustStock(ctx context.Context, input AdjustInput) (Record, LedgerEntry, error) {
	if input.Delta == 0 {
		return Record{}, LedgerEntry{}, &InvalidQuantityError{Quantity: input.Delta}
	}
	if input.Reason == "" {
		return Record{}, LedgerEntry{}, fmt.Errorf("inventory: adjustment reason required")
	}
	params := movementParams{
		ProductID:   input.ProductID,
		WarehouseID: input.WarehouseID,
		Delta:       input.Delta,
		Type:        EntryTypeAdjustment,
		Reference:   input.Reference,
		Notes:       input.Reason,
		ActorID:     input.ActorID,
		Adjustment:  true,
	}
	return s.postMovement(ctx, params)
}

// ReserveStock earmarks available stock for a pending commitment. The ledger
// entry records the reserved amount; on-hand quantity is unchanged.
func (s *Service) ReserveStock(ctx context.Context, input ReserveInput) (Record, LedgerEntry, error) {
	if input.Quantity <= 0 {
		return Record{}, LedgerEntry{}, &InvalidQuantityError{Quantity: input.Quantity}
	}
	if input.ActorID == 0 {
		return Record{}, LedgerEntry{}, ErrActorRequired
	}
	if input.ProductID == 0 || input.WarehouseID == 0 {
		return Record{}, LedgerEntry{}, fmt.Errorf("inventory: product and warehouse required")
	}
	var (
		rec   Record
		entry LedgerEntry
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetRecordForUpdate(ctx, input.ProductID, input.WarehouseID)
		if err != nil {
			return err
		}
		if input.Quantity > locked.AvailableQuantity() {
			return &InsufficientAvailableStockError{
				RecordID:  locked.ID,
				Requested: input.Quantity,
				Available: locked.AvailableQuantity(),
			}
		}
		locked.ReservedQuantity += input.Quantity
		locked.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateRecord(ctx, locked); err != nil {
			return err
		}
		entry = LedgerEntry{
			RecordID:  locked.ID,
			Type:      EntryTypeReservation,
			Quantity:  input.Quantity,
			Reference: input.Reference,
			Notes:     input.Notes,
			CreatedBy: input.ActorID,
			CreatedAt: locked.UpdatedAt,
		}
		entryID, err := tx.InsertLedgerEntry(ctx, entry)
		if err != nil {
			return err
		}
		entry.ID = entryID
		rec = locked
		return nil
	})
	if err != nil {
		return Record{}, LedgerEntry{}, err
	}
	s.recordAudit(ctx, input.ActorID, EntryTypeReservation, rec, input.Quantity, input.Notes)
	return rec, entry, nil
}

// ReleaseReservation returns reserved stock to the available pool. The
// release is clamped so reserved quantity never drops below zero.
func (s *Service) ReleaseReservation(ctx context.Context, input ReleaseInput) (Record, LedgerEntry, error) {
	if input.Quantity <= 0 {
		return Record{}, LedgerEntry{}, &InvalidQuantityError{Quantity: input.Quantity}
	}
	if input.ActorID == 0 {
		return Record{}, LedgerEntry{}, ErrActorRequired
	}
	if input.ProductID == 0 || input.WarehouseID == 0 {
		return Record{}, LedgerEntry{}, fmt.Errorf("inventory: product and warehouse required")
	}
	var (
		rec   Record
		entry LedgerEntry
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetRecordForUpdate(ctx, input.ProductID, input.WarehouseID)
		if err != nil {
			return err
		}
		released := input.Quantity
		if released > locked.ReservedQuantity {
			released = locked.ReservedQuantity
		}
		locked.ReservedQuantity -= released
		locked.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateRecord(ctx, locked); err != nil {
			return err
		}
		entry = LedgerEntry{
			RecordID:  locked.ID,
			Type:      EntryTypeRelease,
			Quantity:  released,
			Reference: input.Reference,
			CreatedBy: input.ActorID,
			CreatedAt: locked.UpdatedAt,
		}
		entryID, err := tx.InsertLedgerEntry(ctx, entry)
		if err != nil {
			return err
		}
		entry.ID = entryID
		rec = locked
		return nil
	})
	if err != nil {
		return Record{}, LedgerEntry{}, err
	}
	s.recordAudit(ctx, input.ActorID, EntryTypeRelease, rec, entry.Quantity, "")
	return rec, entry, nil
}

// TransferStock atomically moves stock between two warehouse records. Both
// rows are locked in ascending record-id order so concurrent transfers
// cannot deadlock. Either both ledger sides commit or neither does.
func (s *Service) TransferStock(ctx context.Context, input TransferInput) (LedgerEntry, LedgerEntry, error) {
	if input.Quantity <= 0 {
		return LedgerEntry{}, LedgerEntry{}, &InvalidQuantityError{Quantity: input.Quantity}
	}
	if input.ActorID == 0 {
		return LedgerEntry{}, LedgerEntry{}, ErrActorRequired
	}
	if input.ProductID == 0 || input.SrcWarehouseID == 0 || input.DstWarehouseID == 0 {
		return LedgerEntry{}, LedgerEntry{}, fmt.Errorf("inventory: product and warehouse required")
	}
	if input.SrcWarehouseID == input.DstWarehouseID {
		return LedgerEntry{}, LedgerEntry{}, ErrSameWarehouse
	}
	reference := input.Reference
	if reference == "" {
		reference = fmt.Sprintf("TRF-%s", uuid.NewString())
	}
	key := fmt.Sprintf("TRANSFER:%s:%d:%d:%d", reference, input.ProductID, input.SrcWarehouseID, input.DstWarehouseID)
	insertedKey := false
	if s.idempotency != nil && input.Reference != "" {
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return LedgerEntry{}, LedgerEntry{}, err
		}
		insertedKey = true
	}
	var outEntry, inEntry LedgerEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		src, err := ensureRecord(ctx, tx, input.ProductID, input.SrcWarehouseID)
		if err != nil {
			return err
		}
		dst, err := ensureRecord(ctx, tx, input.ProductID, input.DstWarehouseID)
		if err != nil {
			return err
		}
		ids := []int64{src.ID, dst.ID}
		if ids[0] > ids[1] {
			ids[0], ids[1] = ids[1], ids[0]
		}
		locked, err := tx.LockRecords(ctx, ids)
		if err != nil {
			return err
		}
		for _, rec := range locked {
			switch rec.ID {
			case src.ID:
				src = rec
			case dst.ID:
				dst = rec
			}
		}
		if input.Quantity > src.AvailableQuantity() {
			return &InsufficientStockError{
				RecordID:  src.ID,
				Requested: input.Quantity,
				OnHand:    src.Quantity,
				Available: src.AvailableQuantity(),
			}
		}
		now := time.Now().UTC()
		src.Quantity -= input.Quantity
		src.UpdatedAt = now
		dst.Quantity += input.Quantity
		if dst.CostPrice.IsZero() {
			dst.CostPrice = src.CostPrice
		}
		dst.UpdatedAt = now
		if err := tx.UpdateRecord(ctx, src); err != nil {
			return err
		}
		if err := tx.UpdateRecord(ctx, dst); err != nil {
			return err
		}
		outEntry = LedgerEntry{
			RecordID:  src.ID,
			Type:      EntryTypeTransferOut,
			Quantity:  -input.Quantity,
			UnitCost:  src.CostPrice,
			HasCost:   true,
			Reference: reference,
			Notes:     fmt.Sprintf("transfer to warehouse %d: %s", input.DstWarehouseID, input.Notes),
			CreatedBy: input.ActorID,
			CreatedAt: now,
		}
		outID, err := tx.InsertLedgerEntry(ctx, outEntry)
		if err != nil {
			return err
		}
		outEntry.ID = outID
		inEntry = LedgerEntry{
			RecordID:  dst.ID,
			Type:      EntryTypeTransferIn,
			Quantity:  input.Quantity,
			UnitCost:  dst.CostPrice,
			HasCost:   true,
			Reference: reference,
			Notes:     fmt.Sprintf("transfer from warehouse %d: %s", input.SrcWarehouseID, input.Notes),
			CreatedBy: input.ActorID,
			CreatedAt: now,
		}
		inID, err := tx.InsertLedgerEntry(ctx, inEntry)
		if err != nil {
			return err
		}
		inEntry.ID = inID
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return LedgerEntry{}, LedgerEntry{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "inventory:TRANSFER",
			Entity:   "inventory_record",
			EntityID: fmt.Sprintf("%d:%d->%d", input.ProductID, input.SrcWarehouseID, input.DstWarehouseID),
			Meta: map[string]any{
				"qty":       input.Quantity,
				"reference": reference,
			},
		})
	}
	return outEntry, inEntry, nil
}

type movementParams struct {
	ProductID   int64
	WarehouseID int64
	Delta       int64
	Type        EntryType
	UnitCost    *decimal.Decimal
	Reference   string
	Notes       string
	ActorID     int64
	Adjustment  bool
}

func (s *Service) postMovement(ctx context.Context, params movementParams) (Record, LedgerEntry, error) {
	if params.ActorID == 0 {
		return Record{}, LedgerEntry{}, ErrActorRequired
	}
	if params.ProductID == 0 || params.WarehouseID == 0 {
		return Record{}, LedgerEntry{}, fmt.Errorf("inventory: product and warehouse required")
	}
	key := fmt.Sprintf("%s:%s:%d:%d", params.Type, params.Reference, params.WarehouseID, params.ProductID)
	insertedKey := false
	if s.idempotency != nil && params.Reference != "" {
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return Record{}, LedgerEntry{}, err
		}
		insertedKey = true
	}
	var (
		rec   Record
		entry LedgerEntry
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := ensureRecord(ctx, tx, params.ProductID, params.WarehouseID)
		if err != nil {
			return err
		}
		newQty := locked.Quantity + params.Delta
		if params.Delta < 0 {
			if params.Adjustment {
				if newQty < 0 {
					return &InvalidAdjustmentError{RecordID: locked.ID, Delta: params.Delta, OnHand: locked.Quantity}
				}
				if newQty < locked.ReservedQuantity {
					return &InvalidAdjustmentError{RecordID: locked.ID, Delta: params.Delta, OnHand: locked.Quantity}
				}
			} else if -params.Delta > locked.AvailableQuantity() {
				return &InsufficientStockError{
					RecordID:  locked.ID,
					Requested: -params.Delta,
					OnHand:    locked.Quantity,
					Available: locked.AvailableQuantity(),
				}
			}
		}
		now := time.Now().UTC()
		locked.Quantity = newQty
		if params.UnitCost != nil {
			locked.CostPrice = *params.UnitCost
		}
		locked.UpdatedAt = now
		if err := tx.UpdateRecord(ctx, locked); err != nil {
			return err
		}
		entry = LedgerEntry{
			RecordID:  locked.ID,
			Type:      params.Type,
			Quantity:  params.Delta,
			Reference: params.Reference,
			Notes:     params.Notes,
			CreatedBy: params.ActorID,
			CreatedAt: now,
		}
		if params.UnitCost != nil {
			entry.UnitCost = *params.UnitCost
			entry.HasCost = true
		}
		entryID, err := tx.InsertLedgerEntry(ctx, entry)
		if err != nil {
			return err
		}
		entry.ID = entryID
		rec = locked
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Record{}, LedgerEntry{}, err
	}
	s.recordAudit(ctx, params.ActorID, params.Type, rec, params.Delta, params.Notes)
	return rec, entry, nil
}

func ensureRecord(ctx context.Context, tx TxRepository, productID, warehouseID int64) (Record, error) {
	rec, err := tx.GetRecordForUpdate(ctx, productID, warehouseID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrRecordNotFound) {
		return Record{}, err
	}
	rec = Record{ProductID: productID, WarehouseID: warehouseID, UpdatedAt: time.Now().UTC()}
	id, err := tx.InsertRecord(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	rec.ID = id
	return rec, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, entryType EntryType, rec Record, qty int64, notes string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   fmt.Sprintf("inventory:%s", entryType),
		Entity:   "inventory_record",
		EntityID: fmt.Sprintf("%d", rec.ID),
		Meta: map[string]any{
			"product_id":   rec.ProductID,
			"warehouse_id": rec.WarehouseID,
			"qty":          qty,
			"notes":        notes,
		},
	})
}

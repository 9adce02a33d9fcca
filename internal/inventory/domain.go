package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EntryType enumerates supported ledger entry kinds.
type EntryType string

const (
	// EntryTypePurchase represents stock received from a supplier.
	EntryTypePurchase EntryType = "PURCHASE"
	// EntryTypeSale represents stock removed to fulfil a sale.
	EntryTypeSale EntryType = "SALE"
	// EntryTypeAdjustment indicates manual corrections (damage, shrinkage, stocktake).
	EntryTypeAdjustment EntryType = "ADJUSTMENT"
	// EntryTypeReservation earmarks on-hand stock for a pending commitment.
	EntryTypeReservation EntryType = "RESERVATION"
	// EntryTypeRelease returns reserved stock to the available pool.
	EntryTypeRelease EntryType = "RELEASE"
	// EntryTypeTransferIn is the receiving side of a warehouse transfer.
	EntryTypeTransferIn EntryType = "TRANSFER_IN"
	// EntryTypeTransferOut is the sending side of a warehouse transfer.
	EntryTypeTransferOut EntryType = "TRANSFER_OUT"
)

// StockStatus classifies a record's on-hand level against its thresholds.
type StockStatus string

const (
	StockStatusOut       StockStatus = "OUT_OF_STOCK"
	StockStatusLow       StockStatus = "LOW_STOCK"
	StockStatusNormal    StockStatus = "NORMAL"
	StockStatusOverstock StockStatus = "OVERSTOCK"
)

// Record is the unit of stock truth for one (product, warehouse) pair.
type Record struct {
	ID                int64           `json:"id"`
	ProductID         int64           `json:"product_id"`
	WarehouseID       int64           `json:"warehouse_id"`
	Quantity          int64           `json:"quantity"`
	ReservedQuantity  int64           `json:"reserved_quantity"`
	CostPrice         decimal.Decimal `json:"cost_price"`
	MinimumStockLevel int64           `json:"minimum_stock_level"`
	MaximumStockLevel int64           `json:"maximum_stock_level"`
	ReorderPoint      int64           `json:"reorder_point"`
	SupplierID        int64           `json:"supplier_id,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// AvailableQuantity returns on-hand stock not held by a reservation.
func (r Record) AvailableQuantity() int64 {
	return r.Quantity - r.ReservedQuantity
}

// StockStatus derives the alert classification from quantity vs thresholds.
func (r Record) StockStatus() StockStatus {
	switch {
	case r.Quantity <= 0:
		return StockStatusOut
	case r.Quantity <= r.MinimumStockLevel:
		return StockStatusLow
	case r.MaximumStockLevel > 0 && r.Quantity > r.MaximumStockLevel:
		return StockStatusOverstock
	default:
		return StockStatusNormal
	}
}

// NeedsReordering reports whether available stock fell to the reorder point.
func (r Record) NeedsReordering() bool {
	return r.AvailableQuantity() <= r.ReorderPoint
}

// LedgerEntry is an immutable record of one quantity-affecting event.
type LedgerEntry struct {
	ID        int64           `json:"id"`
	RecordID  int64           `json:"record_id"`
	Type      EntryType       `json:"type"`
	Quantity  int64           `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	HasCost   bool            `json:"has_cost"`
	Reference string          `json:"reference,omitempty"`
	Notes     string          `json:"notes,omitempty"`
	CreatedBy int64           `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

// AddStockInput describes an inbound posting.
type AddStockInput struct {
	ProductID   int64
	WarehouseID int64
	Quantity    int64
	Type        EntryType
	UnitCost    *decimal.Decimal
	Reference   string
	Notes       string
	ActorID     int64
}

// RemoveStockInput describes an outbound posting.
type RemoveStockInput struct {
	ProductID   int64
	WarehouseID int64
	Quantity    int64
	Type        EntryType
	Reference   string
	Notes       string
	ActorID     int64
}

// ReserveInput earmarks stock without moving it.
type ReserveInput struct {
	ProductID   int64
	WarehouseID int64
	Quantity    int64
	Reference   string
	Notes       string
	ActorID     int64
}

// ReleaseInput returns previously reserved stock.
type ReleaseInput struct {
	ProductID   int64
	WarehouseID int64
	Quantity    int64
	Reference   string
	ActorID     int64
}

// AdjustInput applies a signed correction. Reason is mandatory for audit.
type AdjustInput struct {
	ProductID   int64
	WarehouseID int64
	Delta       int64
	Reason      string
	Reference   string
	ActorID     int64
}

// TransferInput moves stock between warehouses for one product.
type TransferInput struct {
	ProductID      int64
	SrcWarehouseID int64
	DstWarehouseID int64
	Quantity       int64
	Reference      string
	Notes          string
	ActorID        int64
}

// HistoryFilter narrows ledger reads for one record.
type HistoryFilter struct {
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// ErrRecordNotFound indicates a missing inventory record row.
var ErrRecordNotFound = errors.New("inventory: record not found")

// ErrActorRequired indicates a mutating call without audit attribution.
var ErrActorRequired = errors.New("inventory: actor required")

// ErrSameWarehouse indicates a transfer whose source and destination match.
var ErrSameWarehouse = errors.New("inventory: source and destination warehouse must differ")

// InvalidQuantityError reports a non-positive quantity where positive is required.
type InvalidQuantityError struct {
	Quantity int64
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("inventory: quantity must be positive, got %d", e.Quantity)
}

// InsufficientStockError reports a removal or transfer exceeding removable stock.
type InsufficientStockError struct {
	RecordID  int64
	Requested int64
	OnHand    int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: record %d has %d on hand (%d available), requested %d", e.RecordID, e.OnHand, e.Available, e.Requested)
}

// InsufficientAvailableStockError reports a reservation exceeding available stock.
type InsufficientAvailableStockError struct {
	RecordID  int64
	Requested int64
	Available int64
}

func (e *InsufficientAvailableStockError) Error() string {
	return fmt.Sprintf("inventory: record %d has %d available, requested reservation of %d", e.RecordID, e.Available, e.Requested)
}

// InvalidAdjustmentError reports an adjustment that would drive quantity negative.
type InvalidAdjustmentError struct {
	RecordID int64
	Delta    int64
	OnHand   int64
}

func (e *InvalidAdjustmentError) Error() string {
	return fmt.Sprintf("inventory: adjustment of %d on record %d with %d on hand would go negative", e.Delta, e.RecordID, e.OnHand)
}

// StorageUnavailableError wraps transient store failures. Callers may retry;
// every other error kind indicates a request that must be corrected.
type StorageUnavailableError struct {
	Op  string
	Err error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("inventory: storage unavailable during %s: %v", e.Op, e.Err)
}

func (e *StorageUnavailableError) Unwrap() error {
	return e.Err
}

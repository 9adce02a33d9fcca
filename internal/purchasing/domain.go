package purchasing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Purchase order lifecycle statuses.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusOrdered   Status = "ORDERED"
	StatusReceived  Status = "RECEIVED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusReceived || s == StatusCancelled
}

// PurchaseOrder is a batched intake request against one supplier and warehouse.
type PurchaseOrder struct {
	ID           int64           `json:"id"`
	Number       string          `json:"number"`
	SupplierID   int64           `json:"supplier_id"`
	WarehouseID  int64           `json:"warehouse_id"`
	Status       Status          `json:"status"`
	ExpectedDate time.Time       `json:"expected_date,omitempty"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Notes        string          `json:"notes,omitempty"`
	CreatedBy    int64           `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Item is one ordered product line. QtyReceived accumulates across partial
// receipts and never exceeds QtyOrdered.
type Item struct {
	ID          int64           `json:"id"`
	POID        int64           `json:"po_id"`
	ProductID   int64           `json:"product_id"`
	QtyOrdered  int64           `json:"qty_ordered"`
	QtyReceived int64           `json:"qty_received"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Outstanding returns the quantity still to be received.
func (i Item) Outstanding() int64 {
	return i.QtyOrdered - i.QtyReceived
}

var (
	// ErrInvalidState occurs when an action violates the status workflow.
	ErrInvalidState = errors.New("purchasing: invalid state transition")
	// ErrNotFound indicates a missing purchase order.
	ErrNotFound = errors.New("purchasing: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("purchasing: invalid input")
	// ErrAlreadyReceived indicates every requested line was already fully received.
	ErrAlreadyReceived = errors.New("purchasing: items already received")
)

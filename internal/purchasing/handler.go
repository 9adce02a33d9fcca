package purchasing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/atlas-ims/atlas-ims/internal/inventory"
	"github.com/atlas-ims/atlas-ims/internal/platform/httpx"
	"github.com/atlas-ims/atlas-ims/internal/shared"
)

// Handler exposes the purchase order workflow over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers purchasing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/pos", h.handleList)
	r.Post("/pos", h.handleCreate)
	r.Get("/pos/{id}", h.handleGet)
	r.Post("/pos/{id}/submit", h.handleSubmit)
	r.Post("/pos/{id}/cancel", h.handleCancel)
	r.Post("/pos/{id}/receive", h.handleReceive)
}

type itemRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Qty       int64  `json:"qty" validate:"required,gt=0"`
	UnitPrice string `json:"unit_price" validate:"required"`
}

type createRequest struct {
	Number       string        `json:"number,omitempty"`
	SupplierID   int64         `json:"supplier_id" validate:"required,gt=0"`
	WarehouseID  int64         `json:"warehouse_id" validate:"required,gt=0"`
	ExpectedDate string        `json:"expected_date,omitempty"`
	Notes        string        `json:"notes,omitempty"`
	ActorID      int64         `json:"actor_id" validate:"required,gt=0"`
	Items        []itemRequest `json:"items" validate:"required,min=1,dive"`
}

type receiveRequest struct {
	Received  map[int64]int64 `json:"received" validate:"required,min=1"`
	Reference string          `json:"reference,omitempty"`
	Notes     string          `json:"notes,omitempty"`
	ActorID   int64           `json:"actor_id" validate:"required,gt=0"`
}

type actorRequest struct {
	ActorID int64 `json:"actor_id" validate:"required,gt=0"`
}

type orderResponse struct {
	Order PurchaseOrder `json:"order"`
	Items []Item        `json:"items,omitempty"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	items := make([]ItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		price, err := decimal.NewFromString(item.UnitPrice)
		if err != nil || price.IsNegative() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_price must be a non-negative decimal")
			return
		}
		items = append(items, ItemInput{ProductID: item.ProductID, Qty: item.Qty, UnitPrice: price})
	}
	var expected time.Time
	if req.ExpectedDate != "" {
		parsed, err := time.Parse("2006-01-02", req.ExpectedDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expected_date must be YYYY-MM-DD")
			return
		}
		expected = parsed
	}
	po, err := h.service.CreatePurchaseOrder(r.Context(), CreateInput{
		Number:       req.Number,
		SupplierID:   req.SupplierID,
		WarehouseID:  req.WarehouseID,
		ExpectedDate: expected,
		Notes:        req.Notes,
		ActorID:      req.ActorID,
		Items:        items,
	})
	if err != nil {
		h.respondError(w, "create purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, orderResponse{Order: po})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.urlID(w, r)
	if !ok {
		return
	}
	po, items, err := h.service.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		h.respondError(w, "get purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, orderResponse{Order: po, Items: items})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage <= 0 {
		perPage = 20
	}
	status := Status(strings.ToUpper(r.URL.Query().Get("status")))
	orders, total, err := h.service.ListPurchaseOrders(r.Context(), status, shared.NewPagination(page, perPage, 0))
	if err != nil {
		h.respondError(w, "list purchase orders", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"orders":     orders,
		"pagination": shared.NewPagination(page, perPage, total),
	})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.urlID(w, r)
	if !ok {
		return
	}
	var req actorRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.SubmitPurchaseOrder(r.Context(), id, req.ActorID); err != nil {
		h.respondError(w, "submit purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": StatusOrdered})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.urlID(w, r)
	if !ok {
		return
	}
	var req actorRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.CancelPurchaseOrder(r.Context(), id, req.ActorID); err != nil {
		h.respondError(w, "cancel purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": StatusCancelled})
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.urlID(w, r)
	if !ok {
		return
	}
	var req receiveRequest
	if !h.decode(w, r, &req) {
		return
	}
	po, err := h.service.ReceivePurchaseOrder(r.Context(), ReceiveInput{
		POID:      id,
		Received:  req.Received,
		Reference: req.Reference,
		Notes:     req.Notes,
		ActorID:   req.ActorID,
	})
	if err != nil {
		h.respondError(w, "receive purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, orderResponse{Order: po})
}

func (h *Handler) urlID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid purchase order id")
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var storeUnavail *inventory.StorageUnavailableError
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrAlreadyReceived):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.As(err, &storeUnavail):
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Storage Unavailable", "purchasing storage is temporarily unavailable")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

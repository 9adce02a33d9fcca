package inventory

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

	"github.com/atlas-ims/atlas-ims/internal/observability"
	"github.com/atlas-ims/atlas-ims/internal/platform/httpx"
	"github.com/atlas-ims/atlas-ims/internal/shared"
)

// Handler exposes stock operations over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	metrics   *observability.Metrics
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, metrics: metrics, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/records", h.handleGetRecord)
	r.Post("/records", h.handleGetOrCreateRecord)
	r.Get("/records/{id}/ledger", h.handleLedger)
	r.Post("/stock/add", h.handleAddStock)
	r.Post("/stock/remove", h.handleRemoveStock)
	r.Post("/stock/adjust", h.handleAdjust)
	r.Post("/stock/reserve", h.handleReserve)
	r.Post("/stock/release", h.handleRelease)
	r.Post("/stock/transfer", h.handleTransfer)
}

type movementRequest struct {
	ProductID   int64  `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64  `json:"warehouse_id" validate:"required,gt=0"`
	Quantity    int64  `json:"quantity" validate:"required,gt=0"`
	UnitCost    string `json:"unit_cost,omitempty"`
	EntryType   string `json:"entry_type,omitempty"`
	Reference   string `json:"reference,omitempty"`
	Notes       string `json:"notes,omitempty"`
	ActorID     int64  `json:"actor_id" validate:"required,gt=0"`
}

type adjustRequest struct {
	ProductID   int64  `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64  `json:"warehouse_id" validate:"required,gt=0"`
	Delta       int64  `json:"delta" validate:"required"`
	Reason      string `json:"reason" validate:"required"`
	Reference   string `json:"reference,omitempty"`
	ActorID     int64  `json:"actor_id" validate:"required,gt=0"`
}

type reservationRequest struct {
	ProductID   int64  `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64  `json:"warehouse_id" validate:"required,gt=0"`
	Quantity    int64  `json:"quantity" validate:"required,gt=0"`
	Reference   string `json:"reference,omitempty"`
	Notes       string `json:"notes,omitempty"`
	ActorID     int64  `json:"actor_id" validate:"required,gt=0"`
}

type transferRequest struct {
	ProductID       int64  `json:"product_id" validate:"required,gt=0"`
	FromWarehouseID int64  `json:"from_warehouse_id" validate:"required,gt=0"`
	ToWarehouseID   int64  `json:"to_warehouse_id" validate:"required,gt=0"`
	Quantity        int64  `json:"quantity" validate:"required,gt=0"`
	Reference       string `json:"reference,omitempty"`
	Notes           string `json:"notes,omitempty"`
	ActorID         int64  `json:"actor_id" validate:"required,gt=0"`
}

type recordRequest struct {
	ProductID   int64 `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64 `json:"warehouse_id" validate:"required,gt=0"`
}

type movementResponse struct {
	Record Record      `json:"record"`
	Entry  LedgerEntry `json:"entry"`
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	productID, _ := strconv.ParseInt(r.URL.Query().Get("product_id"), 10, 64)
	warehouseID, _ := strconv.ParseInt(r.URL.Query().Get("warehouse_id"), 10, 64)
	if productID <= 0 || warehouseID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id and warehouse_id are required")
		return
	}
	record, err := h.service.GetRecord(r.Context(), productID, warehouseID)
	if err != nil {
		h.respondError(w, "get record", err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func (h *Handler) handleGetOrCreateRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if !h.decode(w, r, &req) {
		return
	}
	record, err := h.service.GetOrCreateRecord(r.Context(), req.ProductID, req.WarehouseID)
	if err != nil {
		h.respondError(w, "get or create record", err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid record id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	filter := HistoryFilter{Limit: limit, Offset: offset}
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.From = from
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.To = to
		}
	}
	entries, err := h.service.LedgerHistory(r.Context(), id, filter)
	if err != nil {
		h.respondError(w, "ledger history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries, "limit": limit, "offset": offset})
}

func (h *Handler) handleAddStock(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if !h.decode(w, r, &req) {
		return
	}
	unitCost, ok := h.parseUnitCost(w, req.UnitCost)
	if !ok {
		return
	}
	record, entry, err := h.service.AddStock(r.Context(), AddStockInput{
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		Quantity:    req.Quantity,
		Type:        EntryType(strings.ToUpper(req.EntryType)),
		UnitCost:    unitCost,
		Reference:   req.Reference,
		Notes:       req.Notes,
		ActorID:     req.ActorID,
	})
	h.metrics.ObserveStockOperation("add", err)
	if err != nil {
		h.respondError(w, "add stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, movementResponse{Record: record, Entry: entry})
}

func (h *Handler) handleRemoveStock(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if !h.decode(w, r, &req) {
		return
	}
	record, entry, err := h.service.RemoveStock(r.Context(), RemoveStockInput{
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		Quantity:    req.Quantity,
		Type:        EntryType(strings.ToUpper(req.EntryType)),
		Reference:   req.Reference,
		Notes:       req.Notes,
		ActorID:     req.ActorID,
	})
	h.metrics.ObserveStockOperation("remove", err)
	if err != nil {
		h.respondError(w, "remove stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, movementResponse{Record: record, Entry: entry})
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if !h.decode(w, r, &req) {
		return
	}
	record, entry, err := h.service.AdjustStock(r.Context(), AdjustInput{
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		Delta:       req.Delta,
		Reason:      req.Reason,
		Reference:   req.Reference,
		ActorID:     req.ActorID,
	})
	h.metrics.ObserveStockOperation("adjust", err)
	if err != nil {
		h.respondError(w, "adjust stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, movementResponse{Record: record, Entry: entry})
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req reservationRequest
	if !h.decode(w, r, &req) {
		return
	}
	record, entry, err := h.service.ReserveStock(r.Context(), ReserveInput{
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		Quantity:    req.Quantity,
		Reference:   req.Reference,
		Notes:       req.Notes,
		ActorID:     req.ActorID,
	})
	h.metrics.ObserveStockOperation("reserve", err)
	if err != nil {
		h.respondError(w, "reserve stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, movementResponse{Record: record, Entry: entry})
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req reservationRequest
	if !h.decode(w, r, &req) {
		return
	}
	record, entry, err := h.service.ReleaseReservation(r.Context(), ReleaseInput{
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		Quantity:    req.Quantity,
		Reference:   req.Reference,
		ActorID:     req.ActorID,
	})
	h.metrics.ObserveStockOperation("release", err)
	if err != nil {
		h.respondError(w, "release reservation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, movementResponse{Record: record, Entry: entry})
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	outEntry, inEntry, err := h.service.TransferStock(r.Context(), TransferInput{
		ProductID:      req.ProductID,
		SrcWarehouseID: req.FromWarehouseID,
		DstWarehouseID: req.ToWarehouseID,
		Quantity:       req.Quantity,
		Reference:      req.Reference,
		Notes:          req.Notes,
		ActorID:        req.ActorID,
	})
	h.metrics.ObserveStockOperation("transfer", err)
	if err != nil {
		h.respondError(w, "transfer stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"out": outEntry, "in": inEntry})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return false
	}
	return true
}

func (h *Handler) parseUnitCost(w http.ResponseWriter, raw string) (*decimal.Decimal, bool) {
	if raw == "" {
		return nil, true
	}
	cost, err := decimal.NewFromString(raw)
	if err != nil || cost.IsNegative() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_cost must be a non-negative decimal")
		return nil, false
	}
	return &cost, true
}

func validationDetail(err error) string {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return err.Error()
	}
	parts := make([]string, 0, len(fields))
	for _, fieldErr := range fields {
		parts = append(parts, strings.ToLower(fieldErr.Field())+" failed "+fieldErr.Tag())
	}
	return strings.Join(parts, "; ")
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var (
		invalidQty   *InvalidQuantityError
		insufficient *InsufficientStockError
		unavailable  *InsufficientAvailableStockError
		badAdjust    *InvalidAdjustmentError
		storeUnavail *StorageUnavailableError
	)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrActorRequired), errors.Is(err, ErrSameWarehouse), errors.As(err, &invalidQty):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.As(err, &insufficient), errors.As(err, &unavailable), errors.As(err, &badAdjust):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.As(err, &storeUnavail):
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Storage Unavailable", "inventory storage is temporarily unavailable")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/atlas-ims/atlas-ims/internal/inventory"
	jobmetrics "github.com/atlas-ims/atlas-ims/internal/jobs"
)

// LowStockLister yields the records whose available quantity fell to the
// reorder point.
type LowStockLister interface {
	LowStockItems(ctx context.Context) ([]inventory.Record, error)
}

// NewLowStockScanHandler builds the handler for TaskLowStockScan. Each run
// logs every record needing reorder so downstream alerting can pick it up.
func NewLowStockScanHandler(logger *slog.Logger, lister LowStockLister, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload LowStockScanPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		tracker := metrics.Track("low_stock_scan")
		records, err := lister.LowStockItems(ctx)
		if err != nil {
			logger.Error("low stock scan", slog.Any("error", err))
			return tracker.End(err)
		}
		metrics.SetLowStockCount(len(records))
		for _, rec := range records {
			logger.Warn("low stock",
				slog.Int64("record_id", rec.ID),
				slog.Int64("product_id", rec.ProductID),
				slog.Int64("warehouse_id", rec.WarehouseID),
				slog.Int64("available", rec.AvailableQuantity()),
				slog.Int64("reorder_point", rec.ReorderPoint),
				slog.Int64("supplier_id", rec.SupplierID),
			)
		}
		logger.Info("low stock scan done", slog.Int("flagged", len(records)))
		return tracker.End(nil)
	}
}

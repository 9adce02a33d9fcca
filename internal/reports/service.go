package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/atlas-ims/atlas-ims/internal/inventory"
)

// RepositoryPort abstracts the read-side queries.
type RepositoryPort interface {
	LowStock(ctx context.Context) ([]inventory.Record, error)
	Overstock(ctx context.Context) ([]inventory.Record, error)
	StockLevels(ctx context.Context, warehouseID int64) ([]inventory.Record, error)
	Movements(ctx context.Context, filter Filter) ([]MovementRow, error)
}

// Service answers reporting and alerting queries. Results are cached in
// Redis with a short TTL and concurrent identical requests are collapsed
// through singleflight; inventory state is never mutated here.
type Service struct {
	repo  RepositoryPort
	cache *redis.Client
	ttl   time.Duration
	group singleflight.Group
	now   func() time.Time
}

// NewService builds Service. cache may be nil, in which case every call
// hits the repository.
func NewService(repo RepositoryPort, cache *redis.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Service{repo: repo, cache: cache, ttl: ttl, now: time.Now}
}

// LowStockItems lists records whose available quantity fell to the reorder point.
func (s *Service) LowStockItems(ctx context.Context) ([]inventory.Record, error) {
	return s.repo.LowStock(ctx)
}

// OverstockItems lists records whose quantity exceeds the configured maximum.
func (s *Service) OverstockItems(ctx context.Context) ([]inventory.Record, error) {
	return s.repo.Overstock(ctx)
}

// Generate builds the requested report.
func (s *Service) Generate(ctx context.Context, reportType Type, filter Filter) (Report, error) {
	switch reportType {
	case TypeStockLevels, TypeMovements, TypeValuation:
	default:
		return Report{}, ErrUnknownType
	}
	key := cacheKey(reportType, filter)
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, key).Bytes()
		if err == nil {
			var cached Report
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}
	result, err, _ := s.group.Do(key, func() (any, error) {
		report, err := s.build(ctx, reportType, filter)
		if err != nil {
			return Report{}, err
		}
		if s.cache != nil {
			if raw, err := json.Marshal(report); err == nil {
				_ = s.cache.Set(ctx, key, raw, s.ttl).Err()
			}
		}
		return report, nil
	})
	if err != nil {
		return Report{}, err
	}
	return result.(Report), nil
}

func (s *Service) build(ctx context.Context, reportType Type, filter Filter) (Report, error) {
	report := Report{Type: reportType, Filter: filter, GeneratedAt: s.now().UTC()}
	switch reportType {
	case TypeStockLevels:
		records, err := s.repo.StockLevels(ctx, filter.WarehouseID)
		if err != nil {
			return Report{}, err
		}
		for _, rec := range records {
			row := StockLevelRow{
				ProductID:   rec.ProductID,
				WarehouseID: rec.WarehouseID,
				Quantity:    rec.Quantity,
				Reserved:    rec.ReservedQuantity,
				Available:   rec.AvailableQuantity(),
				Status:      rec.StockStatus(),
			}
			report.StockLevels = append(report.StockLevels, row)
			report.Summary.TotalRecords++
			report.Summary.TotalQuantity += rec.Quantity
			switch row.Status {
			case inventory.StockStatusOut:
				report.Summary.OutOfStock++
			case inventory.StockStatusLow:
				report.Summary.LowStock++
			case inventory.StockStatusOverstock:
				report.Summary.Overstock++
			}
		}
	case TypeValuation:
		records, err := s.repo.StockLevels(ctx, filter.WarehouseID)
		if err != nil {
			return Report{}, err
		}
		for _, rec := range records {
			value := rec.CostPrice.Mul(decimalFromInt(rec.Quantity))
			report.Valuation = append(report.Valuation, ValuationRow{
				ProductID:   rec.ProductID,
				WarehouseID: rec.WarehouseID,
				Quantity:    rec.Quantity,
				CostPrice:   rec.CostPrice,
				Value:       value,
			})
			report.Summary.TotalRecords++
			report.Summary.TotalQuantity += rec.Quantity
			report.Summary.TotalValue = report.Summary.TotalValue.Add(value)
		}
	case TypeMovements:
		rows, err := s.repo.Movements(ctx, filter)
		if err != nil {
			return Report{}, err
		}
		report.Movements = rows
		for _, row := range rows {
			switch row.EntryType {
			case inventory.EntryTypeReservation, inventory.EntryTypeRelease:
				// Reservations do not move on-hand stock.
			default:
				report.Summary.NetChange += row.QtyIn - row.QtyOut
			}
		}
	}
	return report, nil
}

func cacheKey(reportType Type, filter Filter) string {
	return fmt.Sprintf("reports:%s:%d:%d:%d", reportType, filter.WarehouseID, filter.From.Unix(), filter.To.Unix())
}

func decimalFromInt(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

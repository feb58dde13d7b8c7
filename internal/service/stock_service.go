package service

import (
	"context"

	"possync/internal/dto"
	"possync/internal/repository"
	"possync/internal/worker"
)

type StockService interface {
	ListStock(ctx context.Context, who Identity, filter dto.StockFilter) ([]dto.StockLevelResponse, error)
	ListAlerts(ctx context.Context, who Identity) ([]worker.StockAlertPayload, error)
}

type stockService struct {
	repo   repository.StockRepository
	alerts worker.AlertStore
}

// NewStockService builds the read side of store inventory. alerts may be nil
// when Redis is not configured.
func NewStockService(repo repository.StockRepository, alerts worker.AlertStore) StockService {
	return &stockService{repo: repo, alerts: alerts}
}

func (s *stockService) ListStock(ctx context.Context, who Identity, filter dto.StockFilter) ([]dto.StockLevelResponse, error) {
	levels, err := s.repo.ListByStore(ctx, who.StoreID, filter.LowOnly)
	if err != nil {
		return nil, err
	}
	out := make([]dto.StockLevelResponse, 0, len(levels))
	for _, l := range levels {
		r := dto.StockLevelResponse{
			ProductID:   l.ProductID,
			Quantity:    l.Quantity,
			MinQuantity: l.MinQuantity,
			Low:         l.Quantity <= l.MinQuantity,
		}
		if l.Product != nil {
			r.ProductName = l.Product.Name
			r.ProductSKU = l.Product.SKU
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *stockService) ListAlerts(ctx context.Context, who Identity) ([]worker.StockAlertPayload, error) {
	if s.alerts == nil {
		return []worker.StockAlertPayload{}, nil
	}
	return s.alerts.List(ctx, who.StoreID)
}

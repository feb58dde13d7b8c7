package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"possync/internal/apierror"
	"possync/internal/dto"
	"possync/internal/metrics"
	"possync/internal/model"
	"possync/internal/payment"
	"possync/internal/pricing"
	"possync/internal/repository"
	"possync/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type SaleService interface {
	CommitSale(ctx context.Context, who Identity, req dto.CreateSaleRequest) (*dto.SaleResponse, error)
	SyncBatch(ctx context.Context, who Identity, req dto.SyncBatchRequest) (*dto.SyncBatchResponse, error)
	GetSale(ctx context.Context, who Identity, id uuid.UUID) (*dto.SaleResponse, error)
	ListSales(ctx context.Context, who Identity, filter dto.SaleFilter) (*dto.SaleListResponse, error)
}

// StockAlertQueue receives low-stock notifications after a commit.
type StockAlertQueue interface {
	EnqueueStockAlert(ctx context.Context, payload worker.StockAlertPayload) error
}

type SaleOptions struct {
	// AllowNegativeStock lets a decrement drive a level below zero instead
	// of rejecting the sale.
	AllowNegativeStock bool
	// StrictPriceCheck rejects online sales whose submitted price differs
	// from the catalog. When false the catalog price is used silently.
	StrictPriceCheck bool
}

type saleService struct {
	repo      repository.SaleRepository
	products  repository.ProductRepository
	stock     repository.StockRepository
	movements repository.StockMovementRepository
	alerts    StockAlertQueue
	opts      SaleOptions
	now       func() time.Time
}

func NewSaleService(
	repo repository.SaleRepository,
	products repository.ProductRepository,
	stock repository.StockRepository,
	movements repository.StockMovementRepository,
	alerts StockAlertQueue,
	opts SaleOptions,
) SaleService {
	return &saleService{
		repo:      repo,
		products:  products,
		stock:     stock,
		movements: movements,
		alerts:    alerts,
		opts:      opts,
		now:       time.Now,
	}
}

func runTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	return db.WithContext(ctx).Transaction(fn)
}

// ── CommitSale ────────────────────────────────────────────────────────────────
//   1. Replay check on (store, offline_id)
//   2. Resolve products and reprice lines (pre-flight, outside TX)
//   3. Settle payment against the recomputed total
//   4. BEGIN TX: insert sale + lines, guarded stock decrement + movement per line
//   5. COMMIT; any failure rolls back every write
//   6. (async) low-stock alerts

func (s *saleService) CommitSale(ctx context.Context, who Identity, req dto.CreateSaleRequest) (*dto.SaleResponse, error) {
	if who.StoreID == "" || who.CashierID == "" {
		return nil, fmt.Errorf("%w: caller has no store or cashier scope", ErrValidation)
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: sale has no lines", ErrValidation)
	}
	offlineID := ""
	if req.OfflineID != nil {
		offlineID = *req.OfflineID
	}

	// 1. Replay of an already committed sale
	if offlineID != "" {
		existing, err := s.repo.FindByOfflineID(ctx, who.StoreID, offlineID)
		switch {
		case err == nil:
			return s.replayed(existing), nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, err
		}
	}

	// 2. Reprice
	lines, drift, err := s.priceLines(ctx, req)
	if err != nil {
		s.reject(err)
		return nil, err
	}
	totals := pricing.ComputeTotals(lines)

	// 3. Payment
	details, err := payment.Settle(req.PaymentMode, req.PaymentDetails, totals.TotalTTC)
	if err != nil {
		if errors.Is(err, payment.ErrInsufficient) {
			err = fmt.Errorf("%w: %v", ErrPaymentInsufficient, err)
		} else {
			err = fmt.Errorf("%w: %v", ErrValidation, err)
		}
		s.reject(err)
		return nil, err
	}

	sale := s.buildSale(who, req, lines, totals, details, drift)

	// 4. ACID transaction
	start := time.Now()
	var alerts []worker.StockAlertPayload
	txErr := runTx(ctx, s.repo.DB(), func(tx *gorm.DB) error {
		alerts = alerts[:0]
		if err := s.repo.Create(ctx, tx, sale); err != nil {
			return err
		}
		for _, l := range sale.Lines {
			lvl, err := s.stock.DecrementTx(tx, who.StoreID, l.ProductID, l.Quantity, s.opts.AllowNegativeStock)
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				return fmt.Errorf("%w: %s is not stocked in store %s", ErrProductNotFound, l.ProductID, who.StoreID)
			case errors.Is(err, repository.ErrStockShortfall):
				return fmt.Errorf("%w: %s has %d, sale needs %d", ErrInsufficientStock, l.ProductName, lvl.Quantity, l.Quantity)
			case err != nil:
				return err
			}

			saleRef := sale.ID
			mov := &model.StockMovement{
				StoreID:   who.StoreID,
				ProductID: l.ProductID,
				Type:      "sale",
				Quantity:  -l.Quantity,
				QtyBefore: lvl.Quantity + l.Quantity,
				QtyAfter:  lvl.Quantity,
				Reason:    fmt.Sprintf("Sale %s line %d", sale.ID, l.LineNo),
				SaleID:    &saleRef,
			}
			if err := s.movements.CreateTx(tx, mov); err != nil {
				return err
			}

			if lvl.Quantity <= lvl.MinQuantity {
				alerts = append(alerts, worker.StockAlertPayload{
					StoreID:     who.StoreID,
					ProductID:   l.ProductID,
					ProductName: l.ProductName,
					Quantity:    lvl.Quantity,
					MinQuantity: lvl.MinQuantity,
					SaleID:      sale.ID.String(),
					RaisedAt:    s.now().UTC(),
				})
			}
		}
		return nil
	})
	metrics.CommitLatency.Observe(time.Since(start).Seconds())

	if txErr != nil {
		// Lost a race against a concurrent submit of the same offline sale.
		if offlineID != "" && errors.Is(txErr, gorm.ErrDuplicatedKey) {
			if existing, err := s.repo.FindByOfflineID(ctx, who.StoreID, offlineID); err == nil {
				return s.replayed(existing), nil
			}
		}
		s.reject(txErr)
		return nil, txErr
	}

	origin := "online"
	if sale.SyncedFromOffline {
		origin = "offline"
	}
	metrics.SalesCommittedTotal.WithLabelValues(origin).Inc()
	if sale.PriceDrift {
		metrics.SalesPriceDriftTotal.Inc()
		log.Warn().
			Str("sale_id", sale.ID.String()).
			Str("store_id", who.StoreID).
			Msg("offline sale committed with drifted prices")
	}

	// 6. Async alerts, best effort
	if s.alerts != nil {
		for _, a := range alerts {
			if err := s.alerts.EnqueueStockAlert(ctx, a); err != nil {
				log.Warn().Err(err).Str("product_id", a.ProductID).Msg("failed to enqueue stock alert")
			}
		}
	}

	return saleToResponse(sale), nil
}

// offlineOrigin reports whether req carries the full offline provenance a
// queued terminal record always has. The flag alone does not earn the
// lenient price path.
func offlineOrigin(req dto.CreateSaleRequest) bool {
	return req.SyncedFromOffline && req.OfflineID != nil && *req.OfflineID != "" && req.OfflineCreatedAt != nil
}

// priceLines resolves every product of the request against the catalog and
// rebuilds each line with pricing.NewLine. drift reports that an offline
// sale carried a price or rate the catalog no longer has.
func (s *saleService) priceLines(ctx context.Context, req dto.CreateSaleRequest) ([]pricing.CartLine, bool, error) {
	ids := make([]string, 0, len(req.Items))
	for _, it := range req.Items {
		ids = append(ids, it.ProductID)
	}
	catalog, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, false, err
	}

	drift := false
	lines := make([]pricing.CartLine, 0, len(req.Items))
	for _, it := range req.Items {
		if it.Quantity <= 0 {
			return nil, false, fmt.Errorf("%w: quantity must be positive for %s", ErrValidation, it.ProductID)
		}
		p, ok := catalog[it.ProductID]
		if !ok {
			return nil, false, fmt.Errorf("%w: %s", ErrProductNotFound, it.ProductID)
		}
		if !p.Active {
			return nil, false, fmt.Errorf("%w: %s", ErrProductInactive, p.Name)
		}

		price, rate := p.PriceHT, p.VATRate
		if it.UnitPriceHT != p.PriceHT || !it.VATRate.Equal(p.VATRate) {
			switch {
			case offlineOrigin(req):
				// The customer already paid the offline price.
				price, rate = it.UnitPriceHT, it.VATRate
				drift = true
			case s.opts.StrictPriceCheck:
				return nil, false, fmt.Errorf("%w: %s is %d @ %s%%, got %d @ %s%%",
					ErrStalePrice, p.ID, p.PriceHT, p.VATRate, it.UnitPriceHT, it.VATRate)
			}
		}

		line := pricing.NewLine(pricing.Item{
			ProductID:   p.ID,
			Name:        p.Name,
			SKU:         p.SKU,
			UnitPriceHT: price,
			VATRate:     rate,
		}, it.Quantity)
		line.DiscountAmount = it.DiscountAmount
		lines = append(lines, line)
	}
	return lines, drift, nil
}

func (s *saleService) buildSale(who Identity, req dto.CreateSaleRequest, lines []pricing.CartLine, totals pricing.Totals, details payment.Details, drift bool) *model.Sale {
	sale := &model.Sale{
		ID:                uuid.New(),
		StoreID:           who.StoreID,
		CashierID:         who.CashierID,
		ClientID:          req.ClientID,
		Date:              s.now().UTC(),
		Status:            model.SaleCompleted,
		TotalHT:           totals.TotalHT,
		TotalVAT:          totals.TotalVAT,
		TotalTTC:          totals.TotalTTC,
		TotalDiscount:     totals.TotalDiscount,
		PaymentMode:       req.PaymentMode,
		PaymentDetails:    details,
		SyncedFromOffline: req.SyncedFromOffline,
		OfflineCreatedAt:  req.OfflineCreatedAt,
		PriceDrift:        drift,
	}
	if req.OfflineID != nil && *req.OfflineID != "" {
		id := *req.OfflineID
		sale.OfflineID = &id
	}
	for i, l := range lines {
		sale.Lines = append(sale.Lines, model.SaleLine{
			ID:             uuid.New(),
			SaleID:         sale.ID,
			LineNo:         i + 1,
			ProductID:      l.ProductID,
			ProductName:    l.ProductName,
			ProductSKU:     l.ProductSKU,
			UnitPriceHT:    l.UnitPriceHT,
			VATRate:        l.VATRate,
			Quantity:       l.Quantity,
			DiscountAmount: l.DiscountAmount,
			LineHT:         l.LineHT,
			LineVAT:        l.LineVAT,
			LineTTC:        l.LineTTC,
		})
	}
	return sale
}

func (s *saleService) replayed(existing *model.Sale) *dto.SaleResponse {
	metrics.SalesReplayedTotal.Inc()
	resp := saleToResponse(existing)
	resp.Replayed = true
	return resp
}

func (s *saleService) reject(err error) {
	metrics.SalesRejectedTotal.WithLabelValues(RejectReason(err)).Inc()
}

// RejectReason maps a commit error to a stable machine-readable code.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return apierror.CodeValidation
	case errors.Is(err, ErrProductNotFound):
		return apierror.CodeNotFound
	case errors.Is(err, ErrProductInactive):
		return apierror.CodeProductInactive
	case errors.Is(err, ErrInsufficientStock):
		return apierror.CodeInsufficientStock
	case errors.Is(err, ErrStalePrice):
		return apierror.CodeStalePrice
	case errors.Is(err, ErrPaymentInsufficient):
		return apierror.CodePaymentInsufficient
	case errors.Is(err, ErrSaleNotFound):
		return apierror.CodeNotFound
	default:
		return apierror.CodeInternal
	}
}

// IsRejection reports whether err is a permanent business rejection, as
// opposed to an infrastructure failure worth retrying.
func IsRejection(err error) bool {
	return RejectReason(err) != apierror.CodeInternal
}

// ── SyncBatch ─────────────────────────────────────────────────────────────────
// Commits a batch of offline sales one by one. Each sale is its own
// transaction; a rejected sale never blocks the rest of the batch.

func (s *saleService) SyncBatch(ctx context.Context, who Identity, req dto.SyncBatchRequest) (*dto.SyncBatchResponse, error) {
	out := &dto.SyncBatchResponse{Results: make([]dto.SyncResult, 0, len(req.Sales))}
	for _, saleReq := range req.Sales {
		res := dto.SyncResult{}
		if saleReq.OfflineID != nil {
			res.OfflineID = *saleReq.OfflineID
		}

		resp, err := s.CommitSale(ctx, who, saleReq)
		switch {
		case err == nil && resp.Replayed:
			res.Status = dto.SyncStatusDuplicate
			res.SaleID = resp.ID
		case err == nil:
			res.Status = dto.SyncStatusSynced
			res.SaleID = resp.ID
		case IsRejection(err):
			res.Status = dto.SyncStatusRejected
			res.Code = RejectReason(err)
			res.Reason = err.Error()
		default:
			log.Error().Err(err).Str("offline_id", res.OfflineID).Msg("sync-batch: commit failed")
			res.Status = dto.SyncStatusError
			res.Code = RejectReason(err)
		}
		out.Results = append(out.Results, res)
	}
	return out, nil
}

// ── Reads ─────────────────────────────────────────────────────────────────────

func (s *saleService) GetSale(ctx context.Context, who Identity, id uuid.UUID) (*dto.SaleResponse, error) {
	sale, err := s.repo.FindByID(ctx, who.StoreID, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSaleNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return saleToResponse(sale), nil
}

// ListSales returns a paginated list of the caller's store sales, filtered
// by day and status. Default filter: today's completed sales.
func (s *saleService) ListSales(ctx context.Context, who Identity, filter dto.SaleFilter) (*dto.SaleListResponse, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Date != "" {
		if _, err := time.Parse(time.DateOnly, filter.Date); err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
		}
	}
	sales, total, err := s.repo.List(ctx, who.StoreID, filter)
	if err != nil {
		return nil, err
	}
	data := make([]dto.SaleResponse, 0, len(sales))
	for i := range sales {
		data = append(data, *saleToResponse(&sales[i]))
	}
	return &dto.SaleListResponse{Data: data, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

func saleToResponse(s *model.Sale) *dto.SaleResponse {
	lines := make([]pricing.CartLine, 0, len(s.Lines))
	respLines := make([]dto.SaleLineResponse, 0, len(s.Lines))
	for _, l := range s.Lines {
		lines = append(lines, pricing.CartLine{
			ProductID:      l.ProductID,
			VATRate:        l.VATRate,
			DiscountAmount: l.DiscountAmount,
			LineHT:         l.LineHT,
			LineVAT:        l.LineVAT,
			LineTTC:        l.LineTTC,
		})
		respLines = append(respLines, dto.SaleLineResponse{
			ID:             l.ID.String(),
			LineNo:         l.LineNo,
			ProductID:      l.ProductID,
			ProductName:    l.ProductName,
			ProductSKU:     l.ProductSKU,
			UnitPriceHT:    l.UnitPriceHT,
			VATRate:        l.VATRate,
			Quantity:       l.Quantity,
			DiscountAmount: l.DiscountAmount,
			LineHT:         l.LineHT,
			LineVAT:        l.LineVAT,
			LineTTC:        l.LineTTC,
		})
	}
	return &dto.SaleResponse{
		ID:                s.ID.String(),
		StoreID:           s.StoreID,
		CashierID:         s.CashierID,
		ClientID:          s.ClientID,
		OfflineID:         s.OfflineID,
		Date:              s.Date.UTC().Format(time.RFC3339),
		Status:            s.Status,
		TotalHT:           s.TotalHT,
		TotalVAT:          s.TotalVAT,
		TotalTTC:          s.TotalTTC,
		TotalDiscount:     s.TotalDiscount,
		VATBreakdown:      pricing.ComputeTotals(lines).VATBreakdown,
		PaymentMode:       s.PaymentMode,
		PaymentDetails:    s.PaymentDetails,
		SyncedFromOffline: s.SyncedFromOffline,
		PriceDrift:        s.PriceDrift,
		Lines:             respLines,
	}
}

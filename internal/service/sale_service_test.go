package service_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"possync/internal/dto"
	"possync/internal/infra"
	"possync/internal/model"
	"possync/internal/payment"
	"possync/internal/repository"
	"possync/internal/service"
	"possync/internal/worker"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// ── Fixtures ──────────────────────────────────────────────────────────────────

const storeID = "store-1"

var cashier = service.Identity{CashierID: "cashier-1", StoreID: storeID}

type recordingAlerts struct {
	mu     sync.Mutex
	alerts []worker.StockAlertPayload
}

func (r *recordingAlerts) EnqueueStockAlert(_ context.Context, p worker.StockAlertPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, p)
	return nil
}

type fixture struct {
	db     *gorm.DB
	svc    service.SaleService
	stock  repository.StockRepository
	alerts *recordingAlerts
}

func newFixture(t *testing.T, opts service.SaleOptions) *fixture {
	t.Helper()
	db, err := infra.NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	require.NoError(t, infra.RunMigrations(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	products := repository.NewProductRepository(db)
	stock := repository.NewStockRepository(db)
	ctx := context.Background()
	for _, p := range []model.Product{
		{ID: "A", SKU: "SKU-A", Name: "Coffee", PriceHT: 1000, VATRate: decimal.NewFromInt(20), Active: true},
		{ID: "B", SKU: "SKU-B", Name: "Croissant", PriceHT: 333, VATRate: decimal.NewFromInt(20), Active: true},
		{ID: "C", SKU: "SKU-C", Name: "Water", PriceHT: 199, VATRate: decimal.RequireFromString("5.5"), Active: true},
		{ID: "D", SKU: "SKU-D", Name: "Retired", PriceHT: 500, VATRate: decimal.NewFromInt(20), Active: false},
		{ID: "E", SKU: "SKU-E", Name: "Unstocked", PriceHT: 500, VATRate: decimal.NewFromInt(20), Active: true},
	} {
		p := p
		require.NoError(t, products.Create(ctx, &p))
	}
	for _, lvl := range []model.StockLevel{
		{StoreID: storeID, ProductID: "A", Quantity: 10, MinQuantity: 2},
		{StoreID: storeID, ProductID: "B", Quantity: 5, MinQuantity: 0},
		{StoreID: storeID, ProductID: "C", Quantity: 3, MinQuantity: 1},
		{StoreID: storeID, ProductID: "D", Quantity: 3, MinQuantity: 0},
	} {
		lvl := lvl
		require.NoError(t, stock.Upsert(ctx, &lvl))
	}

	alerts := &recordingAlerts{}
	svc := service.NewSaleService(
		repository.NewSaleRepository(db),
		products,
		stock,
		repository.NewStockMovementRepository(db),
		alerts,
		opts,
	)
	return &fixture{db: db, svc: svc, stock: stock, alerts: alerts}
}

func (f *fixture) qty(t *testing.T, productID string) int {
	t.Helper()
	lvl, err := f.stock.Find(context.Background(), storeID, productID)
	require.NoError(t, err)
	return lvl.Quantity
}

func (f *fixture) saleCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&model.Sale{}).Count(&n).Error)
	return n
}

func line(id string, qty int, price int64, rate string) dto.SaleLineRequest {
	return dto.SaleLineRequest{
		ProductID:   id,
		Quantity:    qty,
		UnitPriceHT: price,
		VATRate:     decimal.RequireFromString(rate),
	}
}

func cashSale(items ...dto.SaleLineRequest) dto.CreateSaleRequest {
	return dto.CreateSaleRequest{Items: items, PaymentMode: payment.ModeCash}
}

func offlineSale(id string, items ...dto.SaleLineRequest) dto.CreateSaleRequest {
	created := time.Now().Add(-time.Hour).UTC()
	req := cashSale(items...)
	req.OfflineID = &id
	req.SyncedFromOffline = true
	req.OfflineCreatedAt = &created
	return req
}

var defaultOpts = service.SaleOptions{StrictPriceCheck: true}

// ── CommitSale ────────────────────────────────────────────────────────────────

func TestCommitSale_RecomputesTotalsAndDecrementsStock(t *testing.T) {
	f := newFixture(t, defaultOpts)

	resp, err := f.svc.CommitSale(context.Background(), cashier, cashSale(
		line("A", 2, 1000, "20"),
		line("B", 3, 333, "20"),
		line("C", 1, 199, "5.5"),
	))
	require.NoError(t, err)

	assert.Equal(t, int64(2000+999+199), resp.TotalHT)
	assert.Equal(t, int64(400+200+11), resp.TotalVAT)
	assert.Equal(t, resp.TotalHT+resp.TotalVAT, resp.TotalTTC)
	assert.Equal(t, model.SaleCompleted, resp.Status)
	assert.False(t, resp.Replayed)
	require.Len(t, resp.Lines, 3)
	assert.Equal(t, 1, resp.Lines[0].LineNo)
	assert.Equal(t, "Coffee", resp.Lines[0].ProductName)
	assert.Equal(t, int64(2999), resp.VATBreakdown["20"].Base)
	assert.Equal(t, int64(199), resp.VATBreakdown["5.5"].Base)
	assert.Equal(t, resp.TotalTTC, resp.PaymentDetails.CashAmount)

	assert.Equal(t, 8, f.qty(t, "A"))
	assert.Equal(t, 2, f.qty(t, "B"))
	assert.Equal(t, 2, f.qty(t, "C"))
}

func TestCommitSale_RecordsStockMovements(t *testing.T) {
	f := newFixture(t, defaultOpts)

	resp, err := f.svc.CommitSale(context.Background(), cashier, cashSale(line("A", 4, 1000, "20")))
	require.NoError(t, err)

	saleID := uuid.MustParse(resp.ID)
	movs, err := repository.NewStockMovementRepository(f.db).ListBySale(context.Background(), saleID)
	require.NoError(t, err)
	require.Len(t, movs, 1)
	assert.Equal(t, -4, movs[0].Quantity)
	assert.Equal(t, 10, movs[0].QtyBefore)
	assert.Equal(t, 6, movs[0].QtyAfter)
	assert.Equal(t, "sale", movs[0].Type)
}

func TestCommitSale_UnknownProductRejectedBeforeAnyWrite(t *testing.T) {
	f := newFixture(t, defaultOpts)

	_, err := f.svc.CommitSale(context.Background(), cashier, cashSale(
		line("A", 1, 1000, "20"),
		line("ZZZ", 1, 100, "20"),
	))
	assert.ErrorIs(t, err, service.ErrProductNotFound)
	assert.Equal(t, 10, f.qty(t, "A"))
	assert.Zero(t, f.saleCount(t))
}

func TestCommitSale_MissingStockRowRollsBackEarlierLines(t *testing.T) {
	f := newFixture(t, defaultOpts)

	_, err := f.svc.CommitSale(context.Background(), cashier, cashSale(
		line("A", 3, 1000, "20"),
		line("E", 1, 500, "20"),
	))
	assert.ErrorIs(t, err, service.ErrProductNotFound)
	assert.Equal(t, 10, f.qty(t, "A"), "first line decrement must be rolled back")
	assert.Zero(t, f.saleCount(t))
}

func TestCommitSale_InsufficientStockRollsBack(t *testing.T) {
	f := newFixture(t, defaultOpts)

	_, err := f.svc.CommitSale(context.Background(), cashier, cashSale(
		line("A", 1, 1000, "20"),
		line("C", 4, 199, "5.5"),
	))
	assert.ErrorIs(t, err, service.ErrInsufficientStock)
	assert.Equal(t, 10, f.qty(t, "A"))
	assert.Equal(t, 3, f.qty(t, "C"))
	assert.Zero(t, f.saleCount(t))
}

func TestCommitSale_AllowNegativeStock(t *testing.T) {
	f := newFixture(t, service.SaleOptions{AllowNegativeStock: true, StrictPriceCheck: true})

	_, err := f.svc.CommitSale(context.Background(), cashier, cashSale(line("C", 5, 199, "5.5")))
	require.NoError(t, err)
	assert.Equal(t, -2, f.qty(t, "C"))
}

func TestCommitSale_InactiveProduct(t *testing.T) {
	f := newFixture(t, defaultOpts)

	_, err := f.svc.CommitSale(context.Background(), cashier, cashSale(line("D", 1, 500, "20")))
	assert.ErrorIs(t, err, service.ErrProductInactive)
	assert.Equal(t, "PRODUCT_INACTIVE", service.RejectReason(err))
}

func TestCommitSale_StalePriceRejectedOnline(t *testing.T) {
	f := newFixture(t, defaultOpts)

	_, err := f.svc.CommitSale(context.Background(), cashier, cashSale(line("A", 1, 900, "20")))
	assert.ErrorIs(t, err, service.ErrStalePrice)
	assert.Equal(t, 10, f.qty(t, "A"))
}

func TestCommitSale_LenientPriceUsesCatalog(t *testing.T) {
	f := newFixture(t, service.SaleOptions{})

	resp, err := f.svc.CommitSale(context.Background(), cashier, cashSale(line("A", 1, 900, "20")))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), resp.Lines[0].UnitPriceHT)
	assert.Equal(t, int64(1200), resp.TotalTTC)
	assert.False(t, resp.PriceDrift)
}

func TestCommitSale_OfflineDriftKeepsPaidPrice(t *testing.T) {
	f := newFixture(t, defaultOpts)

	resp, err := f.svc.CommitSale(context.Background(), cashier, offlineSale(uuid.NewString(), line("A", 1, 900, "20")))
	require.NoError(t, err)
	assert.True(t, resp.PriceDrift)
	assert.True(t, resp.SyncedFromOffline)
	assert.Equal(t, int64(900), resp.Lines[0].UnitPriceHT)
	assert.Equal(t, int64(1080), resp.TotalTTC)
}

func TestCommitSale_OfflineFlagAloneStaysStrict(t *testing.T) {
	f := newFixture(t, defaultOpts)

	req := cashSale(line("A", 1, 900, "20"))
	req.SyncedFromOffline = true
	_, err := f.svc.CommitSale(context.Background(), cashier, req)
	assert.ErrorIs(t, err, service.ErrStalePrice)

	id := uuid.NewString()
	req.OfflineID = &id
	_, err = f.svc.CommitSale(context.Background(), cashier, req)
	assert.ErrorIs(t, err, service.ErrStalePrice, "offline_created_at is part of the provenance")
	assert.Equal(t, 10, f.qty(t, "A"))
}

func TestCommitSale_PaymentInsufficient(t *testing.T) {
	f := newFixture(t, defaultOpts)

	req := cashSale(line("A", 1, 1000, "20"))
	req.PaymentDetails = payment.Details{CashAmount: 1000}
	_, err := f.svc.CommitSale(context.Background(), cashier, req)
	assert.ErrorIs(t, err, service.ErrPaymentInsufficient)
	assert.Equal(t, 10, f.qty(t, "A"))
}

func TestCommitSale_CashChangeComputedServerSide(t *testing.T) {
	f := newFixture(t, defaultOpts)

	req := cashSale(line("A", 1, 1000, "20"))
	req.PaymentDetails = payment.Details{CashAmount: 2000, ChangeGiven: 5}
	resp, err := f.svc.CommitSale(context.Background(), cashier, req)
	require.NoError(t, err)
	assert.Equal(t, int64(800), resp.PaymentDetails.ChangeGiven)
}

func TestCommitSale_RequiresIdentity(t *testing.T) {
	f := newFixture(t, defaultOpts)

	_, err := f.svc.CommitSale(context.Background(), service.Identity{}, cashSale(line("A", 1, 1000, "20")))
	assert.ErrorIs(t, err, service.ErrValidation)
}

func TestCommitSale_EmitsLowStockAlert(t *testing.T) {
	f := newFixture(t, defaultOpts)

	_, err := f.svc.CommitSale(context.Background(), cashier, cashSale(line("A", 8, 1000, "20")))
	require.NoError(t, err)

	require.Len(t, f.alerts.alerts, 1)
	assert.Equal(t, "A", f.alerts.alerts[0].ProductID)
	assert.Equal(t, 2, f.alerts.alerts[0].Quantity)
}

// ── Idempotency ───────────────────────────────────────────────────────────────

func TestCommitSale_OfflineReplayCommitsOnce(t *testing.T) {
	f := newFixture(t, defaultOpts)
	id := uuid.NewString()

	first, err := f.svc.CommitSale(context.Background(), cashier, offlineSale(id, line("A", 2, 1000, "20")))
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := f.svc.CommitSale(context.Background(), cashier, offlineSale(id, line("A", 2, 1000, "20")))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.ID, second.ID)

	assert.Equal(t, 8, f.qty(t, "A"))
	assert.Equal(t, int64(1), f.saleCount(t))
}

func TestCommitSale_OfflineIDScopedPerStore(t *testing.T) {
	f := newFixture(t, defaultOpts)
	require.NoError(t, f.stock.Upsert(context.Background(), &model.StockLevel{StoreID: "store-2", ProductID: "A", Quantity: 10}))
	id := uuid.NewString()

	_, err := f.svc.CommitSale(context.Background(), cashier, offlineSale(id, line("A", 1, 1000, "20")))
	require.NoError(t, err)

	other := service.Identity{CashierID: "cashier-9", StoreID: "store-2"}
	resp, err := f.svc.CommitSale(context.Background(), other, offlineSale(id, line("A", 1, 1000, "20")))
	require.NoError(t, err)
	assert.False(t, resp.Replayed)
	assert.Equal(t, int64(2), f.saleCount(t))
}

func TestCommitSale_ConcurrentReplaysCommitOnce(t *testing.T) {
	f := newFixture(t, defaultOpts)
	id := uuid.NewString()

	const n = 8
	var wg sync.WaitGroup
	results := make([]*dto.SaleResponse, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.CommitSale(context.Background(), cashier, offlineSale(id, line("A", 1, 1000, "20")))
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		if !results[i].Replayed {
			fresh++
		}
		assert.Equal(t, results[0].ID, results[i].ID)
	}
	assert.Equal(t, 1, fresh)
	assert.Equal(t, 9, f.qty(t, "A"))
	assert.Equal(t, int64(1), f.saleCount(t))
}

func TestCommitSale_ConcurrentSalesNeverOversell(t *testing.T) {
	f := newFixture(t, defaultOpts)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CommitSale(context.Background(), cashier, cashSale(line("B", 1, 333, "20")))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, service.ErrInsufficientStock)
	}
	assert.Equal(t, 5, ok)
	assert.Equal(t, 0, f.qty(t, "B"))
}

// ── SyncBatch ─────────────────────────────────────────────────────────────────

func TestSyncBatch_ReportsPerSaleStatus(t *testing.T) {
	f := newFixture(t, defaultOpts)
	dup := uuid.NewString()
	_, err := f.svc.CommitSale(context.Background(), cashier, offlineSale(dup, line("A", 1, 1000, "20")))
	require.NoError(t, err)

	fresh := uuid.NewString()
	short := uuid.NewString()
	resp, err := f.svc.SyncBatch(context.Background(), cashier, dto.SyncBatchRequest{Sales: []dto.CreateSaleRequest{
		offlineSale(fresh, line("A", 1, 1000, "20")),
		offlineSale(dup, line("A", 1, 1000, "20")),
		offlineSale(short, line("C", 50, 199, "5.5")),
	}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)

	assert.Equal(t, dto.SyncStatusSynced, resp.Results[0].Status)
	assert.Equal(t, fresh, resp.Results[0].OfflineID)
	assert.NotEmpty(t, resp.Results[0].SaleID)

	assert.Equal(t, dto.SyncStatusDuplicate, resp.Results[1].Status)

	assert.Equal(t, dto.SyncStatusRejected, resp.Results[2].Status)
	assert.Equal(t, "INSUFFICIENT_STOCK", resp.Results[2].Code)

	assert.Equal(t, 8, f.qty(t, "A"))
	assert.Equal(t, 3, f.qty(t, "C"))
}

// ── Reads ─────────────────────────────────────────────────────────────────────

func TestGetSale_ScopedToStore(t *testing.T) {
	f := newFixture(t, defaultOpts)

	created, err := f.svc.CommitSale(context.Background(), cashier, cashSale(line("A", 1, 1000, "20")))
	require.NoError(t, err)

	got, err := f.svc.GetSale(context.Background(), cashier, uuid.MustParse(created.ID))
	require.NoError(t, err)
	assert.Equal(t, created.TotalTTC, got.TotalTTC)
	require.Len(t, got.Lines, 1)

	_, err = f.svc.GetSale(context.Background(), service.Identity{StoreID: "elsewhere", CashierID: "x"}, uuid.MustParse(created.ID))
	assert.ErrorIs(t, err, service.ErrSaleNotFound)
}

func TestListSales_Today(t *testing.T) {
	f := newFixture(t, defaultOpts)
	for i := 0; i < 3; i++ {
		_, err := f.svc.CommitSale(context.Background(), cashier, cashSale(line("A", 1, 1000, "20")))
		require.NoError(t, err)
	}

	resp, err := f.svc.ListSales(context.Background(), cashier, dto.SaleFilter{Status: model.SaleCompleted, Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), resp.Total)
	assert.Len(t, resp.Data, 2)

	_, err = f.svc.ListSales(context.Background(), cashier, dto.SaleFilter{Date: "yesterday"})
	assert.ErrorIs(t, err, service.ErrValidation)
}

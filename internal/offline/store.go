// Package offline is the terminal's durable queue of sales confirmed while
// the sale server was unreachable. Records are kept after sync as a local
// audit trail.
package offline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"possync/internal/dto"
	"possync/internal/infra"
	"possync/internal/metrics"
	"possync/internal/payment"
	"possync/internal/pricing"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	// ErrStorage wraps every failure of the underlying database. A failed
	// Enqueue means the sale was NOT recorded.
	ErrStorage  = errors.New("offline queue storage failure")
	ErrNotFound = errors.New("offline sale not found")
)

const listPageSize = 100

// SaleRecord is one queued sale. ID is the local handle, assigned in
// creation order.
type SaleRecord struct {
	ID             uint64             `gorm:"primaryKey;autoIncrement"             json:"id"`
	LocalID        string             `gorm:"type:varchar(64);uniqueIndex;not null" json:"local_id"`
	StoreID        string             `gorm:"type:varchar(64);not null"             json:"store_id"`
	CashierID      string             `gorm:"type:varchar(64);not null"             json:"cashier_id"`
	ClientID       *string            `gorm:"type:varchar(64)"                      json:"client_id,omitempty"`
	Lines          []pricing.CartLine `gorm:"serializer:json;not null"              json:"lines"`
	PaymentMode    string             `gorm:"type:varchar(10);not null"             json:"payment_mode"`
	PaymentDetails payment.Details    `gorm:"serializer:json"                       json:"payment_details"`
	TotalHT        int64              `gorm:"not null"                              json:"total_ht"`
	TotalVAT       int64              `gorm:"not null"                              json:"total_vat"`
	TotalTTC       int64              `gorm:"not null"                              json:"total_ttc"`
	TotalDiscount  int64              `gorm:"not null;default:0"                    json:"total_discount"`
	CreatedAt      time.Time          `gorm:"not null;index"                        json:"created_at"`
	Synced         bool               `gorm:"not null;default:false;index"          json:"synced"`
	SyncedAt       *time.Time         `json:"synced_at,omitempty"`
	SaleID         *string            `gorm:"type:varchar(36)"                      json:"sale_id,omitempty"`
	Attempts       int                `gorm:"not null;default:0"                    json:"attempts"`
	LastError      *string            `gorm:"type:text"                             json:"last_error,omitempty"`
}

func (SaleRecord) TableName() string { return "offline_sales" }

// Request builds the server submission for the record. The local id travels
// as offline_id so the server can deduplicate a resubmission.
func (r SaleRecord) Request() dto.CreateSaleRequest {
	items := make([]dto.SaleLineRequest, 0, len(r.Lines))
	for _, l := range r.Lines {
		items = append(items, dto.SaleLineRequest{
			ProductID:      l.ProductID,
			Quantity:       l.Quantity,
			UnitPriceHT:    l.UnitPriceHT,
			VATRate:        l.VATRate,
			DiscountAmount: l.DiscountAmount,
		})
	}
	localID := r.LocalID
	createdAt := r.CreatedAt
	return dto.CreateSaleRequest{
		Items:             items,
		PaymentMode:       r.PaymentMode,
		PaymentDetails:    r.PaymentDetails,
		ClientID:          r.ClientID,
		OfflineID:         &localID,
		SyncedFromOffline: true,
		OfflineCreatedAt:  &createdAt,
	}
}

// Store is the queue. Listeners registered with Subscribe receive the pending
// count after every write, once that write is durable.
type Store struct {
	db  *gorm.DB
	now func() time.Time

	mu        sync.Mutex
	listeners map[int]func(pending int64)
	nextID    int
}

// Open opens (or creates) the queue file at path.
func Open(path string) (*Store, error) {
	db, err := infra.NewSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStorage, path, err)
	}
	return New(db)
}

// New builds a Store on an existing connection and migrates its table.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&SaleRecord{}); err != nil {
		return nil, fmt.Errorf("%w: migrate: %w", ErrStorage, err)
	}
	return &Store{
		db:        db,
		now:       time.Now,
		listeners: make(map[int]func(int64)),
	}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Enqueue appends rec as a new unsynced record and returns its handle. Every
// call creates a row; identical contents are never coalesced.
func (s *Store) Enqueue(ctx context.Context, rec SaleRecord) (uint64, error) {
	rec.ID = 0
	rec.Synced = false
	rec.SyncedAt = nil
	rec.SaleID = nil
	rec.Attempts = 0
	rec.LastError = nil
	if rec.LocalID == "" {
		rec.LocalID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	if len(rec.Lines) == 0 {
		return 0, errors.New("offline: refusing to enqueue a sale without lines")
	}

	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return 0, fmt.Errorf("%w: enqueue %s: %w", ErrStorage, rec.LocalID, err)
	}
	log.Info().Str("local_id", rec.LocalID).Uint64("handle", rec.ID).Int64("total_ttc", rec.TotalTTC).Msg("offline: sale queued")
	s.notify(ctx)
	return rec.ID, nil
}

// Get returns the record with the given handle.
func (s *Store) Get(ctx context.Context, id uint64) (*SaleRecord, error) {
	var rec SaleRecord
	err := s.db.WithContext(ctx).First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %d: %w", ErrStorage, id, err)
	}
	return &rec, nil
}

// ListUnsynced yields unsynced records in creation order. Each call reads
// current state; records may be marked synced while iterating. Iteration
// stops at the first storage error, which is yielded once.
func (s *Store) ListUnsynced(ctx context.Context) iter.Seq2[SaleRecord, error] {
	return func(yield func(SaleRecord, error) bool) {
		var after uint64
		for {
			var page []SaleRecord
			err := s.db.WithContext(ctx).
				Where("synced = ? AND id > ?", false, after).
				Order("id ASC").
				Limit(listPageSize).
				Find(&page).Error
			if err != nil {
				yield(SaleRecord{}, fmt.Errorf("%w: list unsynced: %w", ErrStorage, err))
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
				after = rec.ID
			}
			if len(page) < listPageSize {
				return
			}
		}
	}
}

// MarkSynced flags the record as accepted by the server. Marking an already
// synced record is a no-op.
func (s *Store) MarkSynced(ctx context.Context, id uint64, syncedAt time.Time, saleID string) error {
	updates := map[string]any{
		"synced":     true,
		"synced_at":  syncedAt.UTC(),
		"last_error": nil,
	}
	if saleID != "" {
		updates["sale_id"] = saleID
	}
	res := s.db.WithContext(ctx).Model(&SaleRecord{}).
		Where("id = ? AND synced = ?", id, false).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("%w: mark synced %d: %w", ErrStorage, id, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return nil
	}
	s.notify(ctx)
	return nil
}

// MarkFailed records a failed submission attempt. The record stays queued.
func (s *Store) MarkFailed(ctx context.Context, id uint64, reason string) error {
	res := s.db.WithContext(ctx).Model(&SaleRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": reason,
		})
	if res.Error != nil {
		return fmt.Errorf("%w: mark failed %d: %w", ErrStorage, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CountUnsynced(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&SaleRecord{}).Where("synced = ?", false).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("%w: count unsynced: %w", ErrStorage, err)
	}
	return n, nil
}

// Subscribe registers fn to receive the pending count. fn is called once
// immediately and then synchronously after each durable write. The returned
// func unregisters it.
func (s *Store) Subscribe(fn func(pending int64)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	if n, err := s.CountUnsynced(context.Background()); err == nil {
		fn(n)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) notify(ctx context.Context) {
	n, err := s.CountUnsynced(context.WithoutCancel(ctx))
	if err != nil {
		log.Warn().Err(err).Msg("offline: pending count unavailable")
		return
	}
	metrics.OfflineQueuePending.Set(float64(n))

	s.mu.Lock()
	fns := make([]func(int64), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(n)
	}
}

package repository

import (
	"context"
	"time"

	"possync/internal/dto"
	"possync/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SaleRepository interface {
	Create(ctx context.Context, tx *gorm.DB, s *model.Sale) error
	FindByID(ctx context.Context, storeID string, id uuid.UUID) (*model.Sale, error)
	FindByOfflineID(ctx context.Context, storeID, offlineID string) (*model.Sale, error)
	List(ctx context.Context, storeID string, filter dto.SaleFilter) ([]model.Sale, int64, error)
	DB() *gorm.DB // exposes the DB for transaction creation in service layer
}

type saleRepo struct{ db *gorm.DB }

func NewSaleRepository(db *gorm.DB) SaleRepository { return &saleRepo{db: db} }

func (r *saleRepo) DB() *gorm.DB { return r.db }

// Create inserts the sale and its lines.
func (r *saleRepo) Create(ctx context.Context, tx *gorm.DB, s *model.Sale) error {
	return tx.WithContext(ctx).Create(s).Error
}

func (r *saleRepo) FindByID(ctx context.Context, storeID string, id uuid.UUID) (*model.Sale, error) {
	var s model.Sale
	err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("line_no") }).
		Where("id = ? AND store_id = ?", id, storeID).
		First(&s).Error
	return &s, err
}

func (r *saleRepo) FindByOfflineID(ctx context.Context, storeID, offlineID string) (*model.Sale, error) {
	var s model.Sale
	err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("line_no") }).
		Where("store_id = ? AND offline_id = ?", storeID, offlineID).
		First(&s).Error
	return &s, err
}

func (r *saleRepo) List(ctx context.Context, storeID string, filter dto.SaleFilter) ([]model.Sale, int64, error) {
	var sales []model.Sale
	var total int64
	offset := (filter.Page - 1) * filter.Limit

	q := r.db.WithContext(ctx).Model(&model.Sale{}).Where("store_id = ?", storeID)

	if filter.Status != "" && filter.Status != "all" {
		q = q.Where("status = ?", filter.Status)
	}

	day := time.Now().UTC()
	if filter.Date != "" {
		parsed, err := time.ParseInLocation(time.DateOnly, filter.Date, time.UTC)
		if err != nil {
			return nil, 0, err
		}
		day = parsed
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	q = q.Where("date >= ? AND date < ?", start, start.AddDate(0, 0, 1))

	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := q.Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("line_no") }).
		Order("date DESC").
		Offset(offset).Limit(filter.Limit).
		Find(&sales).Error

	return sales, total, err
}

package repository

import (
	"context"

	"possync/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type StockMovementRepository interface {
	CreateTx(tx *gorm.DB, m *model.StockMovement) error
	ListBySale(ctx context.Context, saleID uuid.UUID) ([]model.StockMovement, error)
}

type stockMovementRepo struct{ db *gorm.DB }

func NewStockMovementRepository(db *gorm.DB) StockMovementRepository {
	return &stockMovementRepo{db: db}
}

func (r *stockMovementRepo) CreateTx(tx *gorm.DB, m *model.StockMovement) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return tx.Create(m).Error
}

func (r *stockMovementRepo) ListBySale(ctx context.Context, saleID uuid.UUID) ([]model.StockMovement, error) {
	var out []model.StockMovement
	err := r.db.WithContext(ctx).Where("sale_id = ?", saleID).Order("created_at").Find(&out).Error
	return out, err
}

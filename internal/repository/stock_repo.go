package repository

import (
	"context"
	"errors"
	"time"

	"possync/internal/model"

	"gorm.io/gorm"
)

// ErrStockShortfall is returned by DecrementTx when the guarded update
// matched the stock row but the quantity on hand was too low.
var ErrStockShortfall = errors.New("stock level below requested quantity")

type StockRepository interface {
	Upsert(ctx context.Context, lvl *model.StockLevel) error
	Find(ctx context.Context, storeID, productID string) (*model.StockLevel, error)
	ListByStore(ctx context.Context, storeID string, lowOnly bool) ([]model.StockLevel, error)

	// DecrementTx atomically subtracts qty from the store's stock level and
	// returns the level after the update. Unless allowNegative is set, the
	// update only applies when quantity >= qty; otherwise ErrStockShortfall
	// is returned and nothing changes. A missing row yields
	// gorm.ErrRecordNotFound. Callers must pass the tx instance.
	DecrementTx(tx *gorm.DB, storeID, productID string, qty int, allowNegative bool) (*model.StockLevel, error)
}

type stockRepo struct{ db *gorm.DB }

func NewStockRepository(db *gorm.DB) StockRepository { return &stockRepo{db: db} }

func (r *stockRepo) Upsert(ctx context.Context, lvl *model.StockLevel) error {
	return r.db.WithContext(ctx).Save(lvl).Error
}

func (r *stockRepo) Find(ctx context.Context, storeID, productID string) (*model.StockLevel, error) {
	var lvl model.StockLevel
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND product_id = ?", storeID, productID).
		First(&lvl).Error
	return &lvl, err
}

func (r *stockRepo) ListByStore(ctx context.Context, storeID string, lowOnly bool) ([]model.StockLevel, error) {
	q := r.db.WithContext(ctx).Preload("Product").Where("store_id = ?", storeID)
	if lowOnly {
		q = q.Where("quantity <= min_quantity")
	}
	var levels []model.StockLevel
	err := q.Order("product_id").Find(&levels).Error
	return levels, err
}

func (r *stockRepo) DecrementTx(tx *gorm.DB, storeID, productID string, qty int, allowNegative bool) (*model.StockLevel, error) {
	q := tx.Model(&model.StockLevel{}).
		Where("store_id = ? AND product_id = ?", storeID, productID)
	if !allowNegative {
		q = q.Where("quantity >= ?", qty)
	}
	res := q.Updates(map[string]any{
		"quantity":   gorm.Expr("quantity - ?", qty),
		"updated_at": time.Now(),
	})
	if res.Error != nil {
		return nil, res.Error
	}

	var lvl model.StockLevel
	err := tx.Where("store_id = ? AND product_id = ?", storeID, productID).First(&lvl).Error
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return &lvl, ErrStockShortfall
	}
	return &lvl, nil
}

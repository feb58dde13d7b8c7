package model

import (
	"time"

	"github.com/google/uuid"
)

// StockLevel is the on-hand quantity of one product in one store.
type StockLevel struct {
	StoreID     string `gorm:"type:varchar(64);primaryKey"`
	ProductID   string `gorm:"type:varchar(64);primaryKey"`
	Quantity    int    `gorm:"not null"`
	MinQuantity int    `gorm:"not null"`
	UpdatedAt   time.Time

	Product *Product `gorm:"foreignKey:ProductID"`
}

func (StockLevel) TableName() string { return "stock_levels" }

// StockMovement records every change applied to a stock level.
type StockMovement struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	StoreID   string     `gorm:"type:varchar(64);not null;index:idx_stock_movements_store_product"`
	ProductID string     `gorm:"type:varchar(64);not null;index:idx_stock_movements_store_product"`
	Type      string     `gorm:"not null"` // "sale"
	Quantity  int        `gorm:"not null"` // negative = outflow
	QtyBefore int        `gorm:"not null"`
	QtyAfter  int        `gorm:"not null"`
	Reason    string
	SaleID    *uuid.UUID `gorm:"type:uuid;index"`
	CreatedAt time.Time
}

func (StockMovement) TableName() string { return "stock_movements" }

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry. PriceHT is in minor units, VATRate a percent.
type Product struct {
	ID        string          `gorm:"type:varchar(64);primaryKey"`
	SKU       string          `gorm:"type:varchar(64);uniqueIndex;not null"`
	Name      string          `gorm:"index;not null"`
	PriceHT   int64           `gorm:"not null"`
	VATRate   decimal.Decimal `gorm:"type:decimal(5,2);not null"`
	Active    bool            `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

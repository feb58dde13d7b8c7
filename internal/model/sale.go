package model

import (
	"time"

	"possync/internal/payment"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	SaleCompleted = "COMPLETED"
	SaleCancelled = "CANCELLED"
	SaleReturned  = "RETURNED"
)

// Sale is a committed ticket. OfflineID is the terminal-generated local id
// and is unique per store, so a replayed offline sale can never commit
// twice.
type Sale struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey"`
	StoreID           string          `gorm:"type:varchar(64);not null;index;uniqueIndex:idx_sales_store_offline"`
	CashierID         string          `gorm:"type:varchar(64);not null"`
	ClientID          *string         `gorm:"type:varchar(64)"`
	OfflineID         *string         `gorm:"type:varchar(64);uniqueIndex:idx_sales_store_offline"`
	Date              time.Time       `gorm:"not null;index"`
	Status            string          `gorm:"type:varchar(16);not null"`
	TotalHT           int64           `gorm:"not null"`
	TotalVAT          int64           `gorm:"not null"`
	TotalTTC          int64           `gorm:"not null"`
	TotalDiscount     int64           `gorm:"not null"`
	PaymentMode       string          `gorm:"type:varchar(16);not null"`
	PaymentDetails    payment.Details `gorm:"serializer:json"`
	SyncedFromOffline bool            `gorm:"not null"`
	OfflineCreatedAt  *time.Time
	PriceDrift        bool `gorm:"not null"`
	CreatedAt         time.Time

	Lines []SaleLine `gorm:"foreignKey:SaleID"`
}

// SaleLine snapshots the product as it was priced for the sale.
type SaleLine struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey"`
	SaleID         uuid.UUID       `gorm:"type:uuid;not null;index"`
	LineNo         int             `gorm:"not null"`
	ProductID      string          `gorm:"type:varchar(64);not null;index"`
	ProductName    string          `gorm:"not null"`
	ProductSKU     string          `gorm:"not null"`
	UnitPriceHT    int64           `gorm:"not null"`
	VATRate        decimal.Decimal `gorm:"type:decimal(5,2);not null"`
	Quantity       int             `gorm:"not null"`
	DiscountAmount int64           `gorm:"not null"`
	LineHT         int64           `gorm:"not null"`
	LineVAT        int64           `gorm:"not null"`
	LineTTC        int64           `gorm:"not null"`
}

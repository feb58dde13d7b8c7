package dto

import (
	"time"

	"possync/internal/payment"
	"possync/internal/pricing"

	"github.com/shopspring/decimal"
)

// ─── Request DTOs ────────────────────────────────────────────────────────────

// SaleLineRequest carries the price the terminal showed the customer. The
// server re-checks it against the catalog before committing.
type SaleLineRequest struct {
	ProductID      string          `json:"product_id"      validate:"required,max=64"`
	Quantity       int             `json:"quantity"        validate:"required,min=1"`
	UnitPriceHT    int64           `json:"unit_price_ht"   validate:"min=0"`
	VATRate        decimal.Decimal `json:"vat_rate"        validate:"min=0,max=100"`
	DiscountAmount int64           `json:"discount_amount" validate:"min=0"`
}

type CreateSaleRequest struct {
	Items          []SaleLineRequest `json:"items"           validate:"required,min=1,max=100,dive"`
	PaymentMode    string            `json:"payment_mode"    validate:"required,oneof=CASH CARD MOBILE MIXED"`
	PaymentDetails payment.Details   `json:"payment_details"`
	ClientID       *string           `json:"client_id"       validate:"omitempty,max=64"`
	// OfflineID is the terminal's local id for a sale recorded while offline.
	// The server commits at most one sale per (store, offline_id).
	OfflineID         *string    `json:"offline_id"          validate:"omitempty,max=64"`
	SyncedFromOffline bool       `json:"synced_from_offline"`
	OfflineCreatedAt  *time.Time `json:"offline_created_at"`
}

// SyncBatchRequest holds several offline sales to reconcile in one call.
type SyncBatchRequest struct {
	Sales []CreateSaleRequest `json:"sales" validate:"required,min=1,max=50,dive"`
}

// SaleFilter is bound from the query string of GET /v1/sales.
type SaleFilter struct {
	Date   string `form:"date"`                     // YYYY-MM-DD; empty = today
	Status string `form:"status,default=COMPLETED"` // COMPLETED | CANCELLED | RETURNED | all
	Page   int    `form:"page,default=1"   validate:"min=1"`
	Limit  int    `form:"limit,default=50" validate:"min=1,max=200"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type SaleLineResponse struct {
	ID             string          `json:"id"`
	LineNo         int             `json:"line_no"`
	ProductID      string          `json:"product_id"`
	ProductName    string          `json:"product_name"`
	ProductSKU     string          `json:"product_sku"`
	UnitPriceHT    int64           `json:"unit_price_ht"`
	VATRate        decimal.Decimal `json:"vat_rate"`
	Quantity       int             `json:"quantity"`
	DiscountAmount int64           `json:"discount_amount"`
	LineHT         int64           `json:"line_ht"`
	LineVAT        int64           `json:"line_vat"`
	LineTTC        int64           `json:"line_ttc"`
}

type SaleResponse struct {
	ID                string                       `json:"id"`
	StoreID           string                       `json:"store_id"`
	CashierID         string                       `json:"cashier_id"`
	ClientID          *string                      `json:"client_id,omitempty"`
	OfflineID         *string                      `json:"offline_id,omitempty"`
	Date              string                       `json:"date"`
	Status            string                       `json:"status"`
	TotalHT           int64                        `json:"total_ht"`
	TotalVAT          int64                        `json:"total_vat"`
	TotalTTC          int64                        `json:"total_ttc"`
	TotalDiscount     int64                        `json:"total_discount"`
	VATBreakdown      map[string]pricing.VATBucket `json:"vat_breakdown"`
	PaymentMode       string                       `json:"payment_mode"`
	PaymentDetails    payment.Details              `json:"payment_details"`
	SyncedFromOffline bool                         `json:"synced_from_offline"`
	PriceDrift        bool                         `json:"price_drift"`
	// Replayed is true when the request matched an already committed sale
	// and nothing new was written.
	Replayed bool               `json:"replayed"`
	Lines    []SaleLineResponse `json:"lines"`
}

type SaleListResponse struct {
	Data  []SaleResponse `json:"data"`
	Total int64          `json:"total"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
}

const (
	SyncStatusSynced    = "synced"
	SyncStatusDuplicate = "duplicate"
	SyncStatusRejected  = "rejected"
	SyncStatusError     = "error"
)

// SyncResult reports the outcome of one sale of a sync batch.
type SyncResult struct {
	OfflineID string `json:"offline_id,omitempty"`
	Status    string `json:"status"` // synced | duplicate | rejected | error
	SaleID    string `json:"sale_id,omitempty"`
	Code      string `json:"code,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type SyncBatchResponse struct {
	Results []SyncResult `json:"results"`
}

package dto

import "github.com/shopspring/decimal"

type ProductResponse struct {
	ID      string          `json:"id"`
	SKU     string          `json:"sku"`
	Name    string          `json:"name"`
	PriceHT int64           `json:"price_ht"`
	VATRate decimal.Decimal `json:"vat_rate"`
	Active  bool            `json:"active"`
}

// StockLevelResponse is one row of GET /v1/stock. Low is set when the
// quantity is at or below the configured minimum.
type StockLevelResponse struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	ProductSKU  string `json:"product_sku"`
	Quantity    int    `json:"quantity"`
	MinQuantity int    `json:"min_quantity"`
	Low         bool   `json:"low"`
}

// StockFilter is bound from the query string of GET /v1/stock.
type StockFilter struct {
	LowOnly bool `form:"low"`
}

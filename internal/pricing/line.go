// Package pricing turns catalog items and quantities into priced cart lines
// and sale totals. All amounts are integer minor units (cents); VAT is
// computed per line and rounded half away from zero.
package pricing

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Item is the catalog view of a product as seen at the moment it is added
// to a cart.
type Item struct {
	ProductID   string
	Name        string
	SKU         string
	UnitPriceHT int64
	VATRate     decimal.Decimal
}

// CartLine is one priced line of a cart or sale. Name, SKU, price and rate
// are snapshots taken when the line was built and are never refreshed from
// the catalog afterwards.
type CartLine struct {
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

// VATAmount returns round(amountHT * rate / 100) with halves rounded away
// from zero.
func VATAmount(amountHT int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amountHT).Mul(rate).Div(hundred).Round(0).IntPart()
}

// NewLine prices quantity units of item.
func NewLine(item Item, quantity int) CartLine {
	lineHT := item.UnitPriceHT * int64(quantity)
	lineVAT := VATAmount(lineHT, item.VATRate)
	return CartLine{
		ProductID:   item.ProductID,
		ProductName: item.Name,
		ProductSKU:  item.SKU,
		UnitPriceHT: item.UnitPriceHT,
		VATRate:     item.VATRate,
		Quantity:    quantity,
		LineHT:      lineHT,
		LineVAT:     lineVAT,
		LineTTC:     lineHT + lineVAT,
	}
}

// Item returns the snapshot the line was priced from.
func (l CartLine) Item() Item {
	return Item{
		ProductID:   l.ProductID,
		Name:        l.ProductName,
		SKU:         l.ProductSKU,
		UnitPriceHT: l.UnitPriceHT,
		VATRate:     l.VATRate,
	}
}

// Reprice rebuilds the line for a new quantity, keeping the snapshot and
// the discount.
func (l CartLine) Reprice(quantity int) CartLine {
	next := NewLine(l.Item(), quantity)
	next.DiscountAmount = l.DiscountAmount
	return next
}

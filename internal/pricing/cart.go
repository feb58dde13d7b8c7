package pricing

// VATBucket aggregates base and tax for one VAT rate.
type VATBucket struct {
	Base int64 `json:"base"`
	VAT  int64 `json:"vat"`
}

// Totals is the sale-level aggregation of a set of lines.
type Totals struct {
	TotalHT       int64                `json:"total_ht"`
	TotalVAT      int64                `json:"total_vat"`
	TotalTTC      int64                `json:"total_ttc"`
	TotalDiscount int64                `json:"total_discount"`
	VATBreakdown  map[string]VATBucket `json:"vat_breakdown"`
}

// ComputeTotals sums lines field by field. Breakdown keys are the canonical
// decimal text of each rate ("20", "5.5").
func ComputeTotals(lines []CartLine) Totals {
	t := Totals{VATBreakdown: make(map[string]VATBucket)}
	for _, l := range lines {
		t.TotalHT += l.LineHT
		t.TotalVAT += l.LineVAT
		t.TotalTTC += l.LineTTC
		t.TotalDiscount += l.DiscountAmount

		key := l.VATRate.String()
		b := t.VATBreakdown[key]
		b.Base += l.LineHT
		b.VAT += l.LineVAT
		t.VATBreakdown[key] = b
	}
	return t
}

// Cart is the in-memory basket of one checkout session. It holds at most
// one line per product, in insertion order. Not safe for concurrent use.
type Cart struct {
	lines []CartLine
}

// Add puts one more unit of item in the cart. A product already present is
// repriced from item, so the latest catalog snapshot wins.
func (c *Cart) Add(item Item) CartLine {
	if i := c.index(item.ProductID); i >= 0 {
		next := NewLine(item, c.lines[i].Quantity+1)
		next.DiscountAmount = c.lines[i].DiscountAmount
		c.lines[i] = next
		return next
	}
	line := NewLine(item, 1)
	c.lines = append(c.lines, line)
	return line
}

// SetQuantity reprices the product's line. A quantity of zero or less
// removes it. Unknown products are ignored.
func (c *Cart) SetQuantity(productID string, quantity int) {
	i := c.index(productID)
	if i < 0 {
		return
	}
	if quantity <= 0 {
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
		return
	}
	c.lines[i] = c.lines[i].Reprice(quantity)
}

func (c *Cart) Remove(productID string) {
	c.SetQuantity(productID, 0)
}

func (c *Cart) Clear() {
	c.lines = nil
}

func (c *Cart) Len() int { return len(c.lines) }

// Lines returns a copy of the cart lines.
func (c *Cart) Lines() []CartLine {
	out := make([]CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Totals() Totals {
	return ComputeTotals(c.lines)
}

func (c *Cart) index(productID string) int {
	for i := range c.lines {
		if c.lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}

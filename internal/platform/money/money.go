// Package money centralises currency arithmetic. Every monetary figure stored or
// returned by the engine passes through Round2 so line and header totals agree
// to the cent.
package money

import "github.com/shopspring/decimal"

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// IsZero reports whether v rounds to zero cents.
func IsZero(v float64) bool {
	return Round2(v) == 0
}

// Max0 clamps negative amounts to zero after rounding.
func Max0(v float64) float64 {
	r := Round2(v)
	if r < 0 {
		return 0
	}
	return r
}

// Sum adds the values exactly and rounds the result.
func Sum(values ...float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(decimal.NewFromFloat(v))
	}
	return total.Round(2).InexactFloat64()
}

// Sub returns a - b rounded to cents.
func Sub(a, b float64) float64 {
	return decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Round(2).InexactFloat64()
}

// Equal compares two amounts at cent precision.
func Equal(a, b float64) bool {
	return decimal.NewFromFloat(a).Round(2).Equal(decimal.NewFromFloat(b).Round(2))
}

// LineAmounts computes the invoice style amounts of one line:
// subtotal = round(q*p*(1-d/100)), tax = round(subtotal*t/100), total = subtotal+tax.
func LineAmounts(qty, unitPrice, discountPct, taxRate float64) (subtotal, tax, total float64) {
	sub := net(qty, unitPrice, discountPct).Round(2)
	iva := sub.Mul(decimal.NewFromFloat(taxRate)).Div(hundred).Round(2)
	return sub.InexactFloat64(), iva.InexactFloat64(), sub.Add(iva).InexactFloat64()
}

// Line is the minimal shape needed for order level totals.
type Line struct {
	Qty         float64
	UnitPrice   float64
	DiscountPct float64
	TaxRate     float64
}

// Totals aggregates an order header.
type Totals struct {
	Subtotal float64
	Discount float64
	TaxBase  float64
	Tax      float64
	Total    float64
}

// OrderTotals accumulates the header figures exactly and rounds each one once:
// subtotal = Σ q*p, discount = Σ q*p*d/100, base = subtotal - discount,
// tax = Σ q*p*(1-d/100)*t/100, total = base + tax.
func OrderTotals(lines []Line) Totals {
	subtotal := decimal.Zero
	discount := decimal.Zero
	tax := decimal.Zero
	for _, l := range lines {
		gross := decimal.NewFromFloat(l.Qty).Mul(decimal.NewFromFloat(l.UnitPrice))
		subtotal = subtotal.Add(gross)
		discount = discount.Add(gross.Mul(decimal.NewFromFloat(l.DiscountPct)).Div(hundred))
		tax = tax.Add(net(l.Qty, l.UnitPrice, l.DiscountPct).Mul(decimal.NewFromFloat(l.TaxRate)).Div(hundred))
	}
	sub := subtotal.Round(2)
	disc := discount.Round(2)
	base := sub.Sub(disc)
	iva := tax.Round(2)
	return Totals{
		Subtotal: sub.InexactFloat64(),
		Discount: disc.InexactFloat64(),
		TaxBase:  base.InexactFloat64(),
		Tax:      iva.InexactFloat64(),
		Total:    base.Add(iva).InexactFloat64(),
	}
}

func net(qty, unitPrice, discountPct float64) decimal.Decimal {
	factor := one.Sub(decimal.NewFromFloat(discountPct).Div(hundred))
	return decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(unitPrice)).Mul(factor)
}

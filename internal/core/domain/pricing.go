package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const minorUnitExp = -2

var bpsDivisor = decimal.NewFromInt(10000)

// Pricer recomputes order amounts from authoritative product prices.
type Pricer struct {
	TaxRateBps   int64
	ToleranceBps int64
}

type QuotedLine struct {
	Product   *Product
	Quantity  int
	UnitPrice int64
	Subtotal  int64
}

type Quote struct {
	Lines      []QuotedLine
	ItemsPrice int64
	TaxPrice   int64
	TotalPrice int64
}

// MinorToDecimal converts an amount in minor units to major units.
func MinorToDecimal(minor int64) decimal.Decimal {
	return decimal.New(minor, minorUnitExp)
}

// DecimalToMinor rounds a major-unit amount half away from zero to the cent.
func DecimalToMinor(d decimal.Decimal) int64 {
	return d.Shift(-minorUnitExp).Round(0).IntPart()
}

// Quote prices every line. products must contain each requested product.
func (p Pricer) Quote(lines []LineRequest, products map[string]*Product) (Quote, error) {
	var q Quote
	for _, l := range lines {
		prod, ok := products[l.ProductID]
		if !ok {
			return Quote{}, NewError(KindValidation, fmt.Sprintf("product %s not found", l.ProductID))
		}
		sub := prod.Price * int64(l.Quantity)
		q.Lines = append(q.Lines, QuotedLine{
			Product:   prod,
			Quantity:  l.Quantity,
			UnitPrice: prod.Price,
			Subtotal:  sub,
		})
		q.ItemsPrice += sub
	}
	tax := decimal.NewFromInt(q.ItemsPrice).Mul(decimal.NewFromInt(p.TaxRateBps)).Div(bpsDivisor)
	q.TaxPrice = tax.Round(0).IntPart()
	q.TotalPrice = q.ItemsPrice + q.TaxPrice
	if q.TotalPrice <= 0 {
		return Quote{}, NewError(KindValidation, "invalid order total")
	}
	return q, nil
}

// CheckClaims rejects client numbers that drift from the quote by more than
// the tolerance. The tolerance only absorbs rounding.
func (p Pricer) CheckClaims(q Quote, lines []LineRequest, claimedTotal decimal.Decimal) error {
	if !p.within(claimedTotal, q.TotalPrice) {
		return NewError(KindValidation, fmt.Sprintf(
			"price mismatch: claimed total %s, expected %s", claimedTotal.StringFixed(2), MinorToDecimal(q.TotalPrice).StringFixed(2)))
	}
	for i, l := range lines {
		if l.ClaimedUnitPrice.IsZero() && q.Lines[i].UnitPrice == 0 {
			continue
		}
		if !p.within(l.ClaimedUnitPrice, q.Lines[i].UnitPrice) {
			return NewError(KindValidation, fmt.Sprintf("price mismatch for product %s", l.ProductID))
		}
	}
	return nil
}

func (p Pricer) within(claimed decimal.Decimal, expectedMinor int64) bool {
	expected := MinorToDecimal(expectedMinor)
	tolerance := expected.Mul(decimal.NewFromInt(p.ToleranceBps)).Div(bpsDivisor)
	return claimed.Sub(expected).Abs().LessThanOrEqual(tolerance)
}

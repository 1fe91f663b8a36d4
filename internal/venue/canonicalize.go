package venue

import (
	"github.com/shopspring/decimal"
)

// maxCanonicalizeIterations bounds the canonicalization loop so a pathological
// input can never spin forever.
const maxCanonicalizeIterations = 8

// Canonicalize enforces the venue's decimal contract: price and size each
// have at most two decimal places, and price × size has at most four decimal
// places. Rounding is always toward zero (RoundDown / RoundFloor on the
// positive axis). When the product still has more than four decimal places
// after rounding price and size individually, size is iteratively reduced by
// one cent-unit until the product is representable, bounded by
// maxCanonicalizeIterations.
//
// Canonicalize is idempotent: applying it to an already-canonical
// (price, size) pair returns the same pair unchanged.
func Canonicalize(price, size float64) (cPrice, cSize float64) {
	p := decimal.NewFromFloat(price).Truncate(2)
	s := decimal.NewFromFloat(size).Truncate(2)
	cent := decimal.NewFromFloat(0.01)

	for i := 0; i < maxCanonicalizeIterations; i++ {
		product := p.Mul(s)
		if product.Truncate(4).Equal(product) {
			break
		}
		s = s.Sub(cent).Truncate(2)
		if s.IsNegative() {
			s = decimal.Zero
			break
		}
	}

	return p.InexactFloat64(), s.InexactFloat64()
}

// Package money converts minor-unit integers to display values. Amounts are
// stored and computed as int64 cents everywhere else.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FromCents returns the major-unit value of cents, exactly.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// Format renders cents as "$1,500.00".
func Format(cents int64) string {
	s := FromCents(cents).Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if cents < 0 {
		b.WriteByte('-')
	}
	b.WriteByte('$')
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

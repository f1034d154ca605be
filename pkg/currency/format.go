package currency

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Format renders an amount as whole dollars with thousands separators,
// e.g. 1234567.5 -> "$1,234,568". Halves round to even.
func Format(amount float64) string {
	switch {
	case math.IsNaN(amount):
		return "$NaN"
	case math.IsInf(amount, 1):
		return "$Inf"
	case math.IsInf(amount, -1):
		return "-$Inf"
	}

	return FormatDecimal(decimal.NewFromFloat(amount))
}

// FormatDecimal is Format for values already held as decimals
func FormatDecimal(amount decimal.Decimal) string {
	rounded := amount.RoundBank(0)

	sign := ""
	if rounded.IsNegative() {
		sign = "-"
		rounded = rounded.Abs()
	}

	return sign + "$" + group(rounded.StringFixed(0))
}

// group inserts a comma every three digits from the right
func group(digits string) string {
	if len(digits) <= 3 {
		return digits
	}

	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

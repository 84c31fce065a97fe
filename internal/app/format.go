package app

import (
	"strings"

	"github.com/shopspring/decimal"
)

const maxAmountDigits = 12

var koboPerNaira = decimal.NewFromInt(100)

// ParseAmount reads a naira amount typed on a keypad ("500", "1500.50") and returns kobo.
// Only digits and one '.' with at most two decimals are accepted, and the value must be
// positive.
func ParseAmount(raw string) (int64, error) {
	value := strings.TrimSpace(raw)
	whole, fraction, hasPoint := strings.Cut(value, ".")
	if whole == "" || len(whole) > maxAmountDigits || !allDigits(whole) {
		return 0, ErrInvalidAmount
	}
	if hasPoint && (fraction == "" || len(fraction) > 2 || !allDigits(fraction)) {
		return 0, ErrInvalidAmount
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	kobo := amount.Mul(koboPerNaira).IntPart()
	if kobo <= 0 {
		return 0, ErrInvalidAmount
	}
	return kobo, nil
}

// FormatNaira renders kobo as "N1,234.50".
func FormatNaira(kobo int64) string {
	fixed := decimal.New(kobo, -2).StringFixed(2)
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	whole, fraction, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, ch := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(ch)
	}
	return sign + "N" + b.String() + "." + fraction
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

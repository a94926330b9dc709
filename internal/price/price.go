// Package price converts vendor price tokens into integer minor units.
package price

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrUnparseable is returned for empty, placeholder, or non-numeric tokens.
var ErrUnparseable = errors.New("price: unparseable")

var hundred = decimal.NewFromInt(100)

// Normalize converts a raw price token to minor units (cents).
//
// Currency symbols, letters and whitespace are stripped. When both comma and
// period occur, whichever occurs last is the decimal separator. A lone
// separator kind is a thousands separator if it repeats, or if it occurs once
// followed by exactly three digits after a non-zero integer part.
func Normalize(raw any) (int64, error) {
	switch v := raw.(type) {
	case nil:
		return 0, ErrUnparseable
	case string:
		return normalizeString(v)
	case float64:
		return fromDecimal(decimal.NewFromFloat(v)), nil
	case float32:
		return fromDecimal(decimal.NewFromFloat32(v)), nil
	case int:
		return int64(v) * 100, nil
	case int32:
		return int64(v) * 100, nil
	case int64:
		return v * 100, nil
	case decimal.Decimal:
		return fromDecimal(v), nil
	case fmt.Stringer:
		return normalizeString(v.String())
	default:
		return 0, ErrUnparseable
	}
}

func fromDecimal(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

func normalizeString(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.Contains(s, "#") {
		return 0, ErrUnparseable
	}

	negative := strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")

	var b strings.Builder
	digits := 0
	dashAfterDigits := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			// "10-20" is a range, not a price.
			if dashAfterDigits {
				return 0, ErrUnparseable
			}
			digits++
			b.WriteRune(r)
		case r == ',' || r == '.':
			b.WriteRune(r)
		case r == '-' && digits == 0:
			negative = true
		case r == '-':
			dashAfterDigits = true
		}
	}
	if digits == 0 {
		return 0, ErrUnparseable
	}

	cleaned := strings.TrimRight(b.String(), ".,")
	if cleaned == "" {
		return 0, ErrUnparseable
	}
	// A leading separator is a decimal point: ",99" is 0,99.
	if cleaned[0] == ',' || cleaned[0] == '.' {
		cleaned = "0" + cleaned
	}

	canonical, err := canonicalize(cleaned)
	if err != nil {
		return 0, err
	}

	d, err := decimal.NewFromString(canonical)
	if err != nil {
		return 0, ErrUnparseable
	}
	if negative {
		d = d.Neg()
	}
	return fromDecimal(d), nil
}

// canonicalize rewrites a digits-and-separators token into "1234.56" form.
func canonicalize(s string) (string, error) {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		dec, thou := ",", "."
		if lastDot > lastComma {
			dec, thou = ".", ","
		}
		s = strings.ReplaceAll(s, thou, "")
		if strings.Count(s, dec) > 1 {
			return "", ErrUnparseable
		}
		return strings.Replace(s, dec, ".", 1), nil

	case lastComma >= 0:
		return singleSeparator(s, ",")

	case lastDot >= 0:
		return singleSeparator(s, ".")
	}
	return s, nil
}

func singleSeparator(s, sep string) (string, error) {
	if strings.Count(s, sep) > 1 {
		return strings.ReplaceAll(s, sep, ""), nil
	}
	i := strings.Index(s, sep)
	intPart, frac := s[:i], s[i+1:]
	if len(frac) == 3 && strings.TrimLeft(intPart, "0") != "" && len(intPart) <= 3 {
		return intPart + frac, nil
	}
	if intPart == "" {
		intPart = "0"
	}
	return intPart + "." + frac, nil
}

// Format renders minor units the way Brazilian catalogs print prices,
// e.g. 123456 -> "R$ 1.234,56".
func Format(minor int64) string {
	neg := minor < 0
	if neg {
		minor = -minor
	}
	units := strconv.FormatInt(minor/100, 10)
	cents := minor % 100

	var b strings.Builder
	b.Grow(len(units) + len(units)/3 + 8)
	if neg {
		b.WriteString("-")
	}
	b.WriteString("R$ ")

	rem := len(units) % 3
	if rem == 0 {
		rem = 3
	}
	b.WriteString(units[:rem])
	for i := rem; i < len(units); i += 3 {
		b.WriteByte('.')
		b.WriteString(units[i : i+3])
	}
	fmt.Fprintf(&b, ",%02d", cents)
	return b.String()
}

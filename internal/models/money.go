package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnits is a monetary amount in cents. Amounts are converted from major
// units exactly once, at ingestion, and compared as integers afterwards.
type MinorUnits int64

var hundred = decimal.NewFromInt(100)

// ParseMajorUnits parses a decimal amount in major units and converts it to
// minor units, rounding half away from zero. Both "1.234,56" and "1234.56"
// are accepted, with or without a currency prefix. When a string carries a
// single separator kind, a comma is the decimal mark; repeated dots are
// thousands separators.
func ParseMajorUnits(s string) (MinorUnits, error) {
	d, err := parseDecimal(s)
	if err != nil {
		return 0, err
	}
	return FromDecimal(d), nil
}

// FromDecimal converts a major-unit decimal to minor units.
func FromDecimal(d decimal.Decimal) MinorUnits {
	return MinorUnits(d.Mul(hundred).Round(0).IntPart())
}

// FromFloat converts a major-unit float, as delivered by spreadsheet and
// database drivers, to minor units.
func FromFloat(f float64) MinorUnits {
	return FromDecimal(decimal.NewFromFloat(f))
}

// Decimal returns the amount in major units.
func (m MinorUnits) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

// String renders the amount in major units with two decimals.
func (m MinorUnits) String() string {
	return m.Decimal().StringFixed(2)
}

// BRL renders the amount in Brazilian notation, e.g. "R$ 1.234,56".
func (m MinorUnits) BRL() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := fmt.Sprintf("%d", v/100)
	var grouped strings.Builder
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(c)
	}
	return fmt.Sprintf("%sR$ %s,%02d", sign, grouped.String(), v%100)
}

// Abs returns the absolute value.
func (m MinorUnits) Abs() MinorUnits {
	if m < 0 {
		return -m
	}
	return m
}

// ParseQuantity parses a non-negative whole quantity. Spreadsheet exports
// sometimes render integers as "2,00" or "2.0"; those are accepted.
func ParseQuantity(s string) (int, error) {
	d, err := parseDecimal(s)
	if err != nil {
		return 0, err
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("quantity cannot be negative: %s", s)
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("quantity must be a whole number: %s", s)
	}
	return int(d.IntPart()), nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.TrimPrefix(cleaned, "R$")
	cleaned = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00a0' {
			return -1
		}
		return r
	}, cleaned)
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	lastDot := strings.LastIndex(cleaned, ".")
	lastComma := strings.LastIndex(cleaned, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(cleaned, ",") > 1 {
			return decimal.Zero, fmt.Errorf("invalid decimal format '%s'", s)
		}
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	case strings.Count(cleaned, ".") > 1:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}
	return d, nil
}

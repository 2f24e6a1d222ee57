package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Amount is a monetary value in integer cents. Aggregation over Amounts is
// exact: summing N recorded amounts always reproduces the same total,
// which float64 arithmetic cannot guarantee.
type Amount int64

// AmountFromCents wraps a raw cent count.
func AmountFromCents(cents int64) Amount { return Amount(cents) }

// AmountFromFloat converts a dollar value to the nearest cent.
// Used only at the subsystem boundary, where yields arrive as floats.
func AmountFromFloat(dollars float64) Amount {
	return Amount(math.Round(dollars * 100))
}

// Cents returns the raw cent count.
func (a Amount) Cents() int64 { return int64(a) }

// Float64 returns the dollar value as a float, for rate math and JSON status
// payloads. Not used for aggregation.
func (a Amount) Float64() float64 { return float64(a) / 100 }

// Add returns a + b.
func (a Amount) Add(b Amount) Amount { return a + b }

// String formats the amount as a dollar string, e.g. "1500.00".
func (a Amount) String() string {
	sign := ""
	c := int64(a)
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}

// ParseAmount parses a decimal dollar string ("1500", "1500.5", "1500.50")
// into an Amount. More than two fractional digits is an error.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("model: empty amount")
	}
	if whole == "" {
		whole = "0"
	}
	dollars, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("model: parse amount %q: %w", s, err)
	}
	var cents int64
	switch len(frac) {
	case 0:
	case 1:
		d, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("model: parse amount %q: %w", s, err)
		}
		cents = d * 10
	case 2:
		d, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("model: parse amount %q: %w", s, err)
		}
		cents = d
	default:
		return 0, fmt.Errorf("model: amount %q has sub-cent precision", s)
	}
	total := dollars*100 + cents
	if neg {
		total = -total
	}
	return Amount(total), nil
}

package core

import (
	"fmt"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// Currency is the only settlement currency of the marketplace.
const Currency = "GHS"

// Money is an amount in pesewas, the minor unit of the cedi.
// It is encoded in JSON as a cedi amount with two decimals.
type Money int64

// Cedis converts a cedi amount to Money, rounding to the nearest pesewa.
func Cedis(amount float64) Money {
	return Money(math.Round(amount * 100))
}

func (m Money) Cedis() float64 {
	return float64(m) / 100
}

// CeilCedi rounds m up to a whole cedi.
func (m Money) CeilCedi() Money {
	if m <= 0 {
		return m
	}
	return (m + 99) / 100 * 100
}

// Pesewas returns the gateway representation of m.
func (m Money) Pesewas() int64 {
	return int64(m)
}

func (m Money) String() string {
	return fmt.Sprintf("%s %.2f", Currency, m.Cedis())
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(m.Cedis(), 'f', 2, 64)), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		return nil
	}
	if len(s) > 1 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return errors.Wrap(err, "parsing money amount")
	}
	*m = Cedis(f)
	return nil
}

// CeilDiv returns ceil(a / b) for positive b.
func CeilDiv(a, b int64) int64 {
	if a <= 0 {
		return a / b
	}
	return (a + b - 1) / b
}

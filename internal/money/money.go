// Package money holds amounts in minor units (cents) and percentage maths in basis points.
package money

import (
	"errors"
	"math"
	"math/bits"
	"strconv"
	"strings"
)

// Money is an amount in minor units.
type Money int64

// BpsScale is 100% expressed in basis points.
const BpsScale = 10000

var (
	ErrInvalidAmount = errors.New("money: invalid amount")
	ErrOverflow      = errors.New("money: amount out of range")
)

// Percent returns amount*bps/10000 rounded half-up to the minor unit. The product is taken in
// 128 bits, so only a result that does not fit an int64 fails.
func Percent(amount Money, bps int64) (Money, error) {
	if amount <= 0 || bps <= 0 {
		return 0, nil
	}
	hi, lo := bits.Mul64(uint64(amount), uint64(bps))
	lo, carry := bits.Add64(lo, BpsScale/2, 0)
	hi += carry
	if hi >= BpsScale {
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, BpsScale)
	if q > math.MaxInt64 {
		return 0, ErrOverflow
	}
	return Money(q), nil
}

// Mul returns m*n, or ErrOverflow when the product does not fit.
func Mul(m Money, n int64) (Money, error) {
	if m == 0 || n == 0 {
		return 0, nil
	}
	p := int64(m) * n
	if p/n != int64(m) || (n == -1 && m == math.MinInt64) {
		return 0, ErrOverflow
	}
	return Money(p), nil
}

// Add returns a+b, or ErrOverflow when the sum does not fit.
func Add(a, b Money) (Money, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// Parse converts a decimal string such as "130", "5.2" or "-0.005" into minor units, rounding half-up
// (away from zero) on the third fraction digit.
func Parse(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, ErrInvalidAmount
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return 0, ErrInvalidAmount
	}
	var units int64
	if whole != "" {
		if len(whole) > 15 {
			return 0, ErrInvalidAmount
		}
		v, err := strconv.ParseInt(whole, 10, 64)
		if err != nil {
			return 0, ErrInvalidAmount
		}
		units = v * 100
	}
	frac += "000"
	cents := int64(frac[0]-'0')*10 + int64(frac[1]-'0')
	if frac[2] >= '5' {
		cents++
	}
	units += cents
	if neg {
		units = -units
	}
	return Money(units), nil
}

// FromFloat converts a float to minor units using its shortest decimal representation,
// so 1.005 becomes 101 rather than 100.
func FromFloat(f float64) Money {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	if math.Abs(f) >= 1e15 {
		return Money(math.Round(f * 100))
	}
	m, err := Parse(strconv.FormatFloat(f, 'f', -1, 64))
	if err != nil {
		return Money(math.Round(f * 100))
	}
	return m
}

// Float64 returns the amount in major units.
func (m Money) Float64() float64 {
	return float64(m) / 100
}

// String formats the amount with two fraction digits, e.g. "141.70".
func (m Money) String() string {
	v := int64(m)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	cents := strconv.FormatInt(v%100, 10)
	if len(cents) == 1 {
		cents = "0" + cents
	}
	return sign + strconv.FormatInt(v/100, 10) + "." + cents
}

// MarshalJSON renders the amount as a JSON number in major units.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a JSON number or a numeric string in major units.
func (m *Money) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*m = 0
		return nil
	}
	raw = strings.Trim(raw, `"`)
	if strings.ContainsAny(raw, "eE") {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return ErrInvalidAmount
		}
		*m = FromFloat(f)
		return nil
	}
	v, err := Parse(raw)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// NonNegative clamps negative amounts to zero.
func (m Money) NonNegative() Money {
	if m < 0 {
		return 0
	}
	return m
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

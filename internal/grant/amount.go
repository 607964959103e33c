package grant

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// TokenDecimals is the declared precision of the payment token (USDT).
const TokenDecimals = 6

// Amount is a monetary value in the token's smallest unit (micro-units at
// 6-decimal precision). Arithmetic and comparison stay integral; nothing is
// accumulated through floating point.
type Amount int64

// ParseAmount parses a human-readable decimal string ("6.2", "6.70") into
// micro-units. More than TokenDecimals fractional digits is rejected.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > TokenDecimals {
		return 0, fmt.Errorf("amount %q exceeds %d decimal places", s, TokenDecimals)
	}
	frac += strings.Repeat("0", TokenDecimals-len(frac))

	units, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if neg {
		units = -units
	}
	return Amount(units), nil
}

// MustAmount parses a literal known to be valid; used for configured fees.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// AmountFromUnits wraps a raw smallest-unit integer, as reported on chain for
// a token with TokenDecimals precision.
func AmountFromUnits(units int64) Amount { return Amount(units) }

// AmountFromBig converts a smallest-unit big integer, rejecting values that
// do not fit in 64 bits.
func AmountFromBig(v *big.Int) (Amount, error) {
	if !v.IsInt64() {
		return 0, fmt.Errorf("amount out of range: %s", v.String())
	}
	return Amount(v.Int64()), nil
}

// Units returns the raw smallest-unit value.
func (a Amount) Units() int64 { return int64(a) }

// String renders the amount in human-readable decimal form.
func (a Amount) String() string {
	units := int64(a)
	sign := ""
	if units < 0 {
		sign = "-"
		units = -units
	}
	whole := units / 1_000_000
	frac := units % 1_000_000
	if frac == 0 {
		return fmt.Sprintf("%s%d", sign, whole)
	}
	s := fmt.Sprintf("%s%d.%06d", sign, whole, frac)
	return strings.TrimRight(s, "0")
}

// Float64 is for display conversion only (BTC/USDT dashboard figures); it is
// never written back into persisted balances.
func (a Amount) Float64() float64 { return float64(a) / 1_000_000 }

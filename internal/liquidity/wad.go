// Package liquidity implements the allocation and concentrated-liquidity
// math behind the position engine: deposit splitting, liquidity/amount
// conversions over a price range, and the impermanent-loss estimate.
//
// Every quantity is WAD fixed-point (18 decimals). All functions are pure
// and deterministic; multiplications go through big.Int wide intermediates
// before dividing, so extreme in-range inputs cannot overflow or silently
// clamp.
package liquidity

import (
	"fmt"
	"math"
	"math/big"

	"github.com/amsorrytola/HedgeCraft/internal/domain"
)

// WAD is the fixed-point unit: 1.0 is represented as 1e18.
var WAD = big.NewInt(1_000_000_000_000_000_000)

// WadFromFloat converts a config-sourced ratio to WAD, rounded to the
// nearest microunit. Six decimals cover leverage, LTV and price settings;
// values needing full WAD precision arrive as integers, not floats.
func WadFromFloat(f float64) *big.Int {
	micro := int64(math.Round(f * 1e6))
	return new(big.Int).Mul(big.NewInt(micro), big.NewInt(1_000_000_000_000))
}

// FormatWad renders a WAD value as a decimal string with at most four
// fractional digits, for logs and tables. A nil value renders as "0".
func FormatWad(v *big.Int) string {
	if v == nil {
		return "0"
	}
	abs := new(big.Int).Abs(v)
	whole, frac := new(big.Int), new(big.Int)
	whole.QuoRem(abs, WAD, frac)
	frac.Quo(frac, big.NewInt(100_000_000_000_000))

	out := whole.String()
	if frac.Sign() > 0 {
		digits := fmt.Sprintf("%04d", frac.Int64())
		for len(digits) > 1 && digits[len(digits)-1] == '0' {
			digits = digits[:len(digits)-1]
		}
		out += "." + digits
	}
	if v.Sign() < 0 {
		out = "-" + out
	}
	return out
}

// WadMul returns floor(a * b / WAD).
func WadMul(a, b *big.Int) *big.Int {
	return mulDivDown(a, b, WAD)
}

// WadDiv returns floor(a * WAD / b). Division by zero is surfaced, never
// clamped.
func WadDiv(a, b *big.Int) (*big.Int, error) {
	if b == nil || b.Sign() == 0 {
		return nil, fmt.Errorf("liquidity: wad div: %w", domain.ErrDivisionByZero)
	}
	return mulDivDown(a, WAD, b), nil
}

// SqrtWad returns the WAD-scaled square root of a WAD-scaled value, i.e.
// SqrtWad(4e18) = 2e18. The result is floored.
func SqrtWad(x *big.Int) *big.Int {
	wide := new(big.Int).Mul(x, WAD)
	return wide.Sqrt(wide)
}

// mulDivDown returns floor(a * b / den). den must be non-zero.
func mulDivDown(a, b, den *big.Int) *big.Int {
	wide := new(big.Int).Mul(a, b)
	return wide.Quo(wide, den)
}

// mulDivUp returns ceil(a * b / den). den must be non-zero. Used for
// amounts a caller must supply, which may never be rounded under.
func mulDivUp(a, b, den *big.Int) *big.Int {
	wide := new(big.Int).Mul(a, b)
	rem := new(big.Int)
	wide.QuoRem(wide, den, rem)
	if rem.Sign() != 0 {
		wide.Add(wide, big.NewInt(1))
	}
	return wide
}

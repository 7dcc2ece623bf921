package strategy

import (
	"errors"
	"math/big"
	"math/bits"

	"github.com/shopspring/decimal"
)

// USDCDecimals is the implied decimal scale of every amount handled here.
const USDCDecimals = 6

// USDCUnit is one whole USDC in base units.
const USDCUnit = 1_000_000

// ErrMulDivOverflow reports a quotient that does not fit into 64 bits.
var ErrMulDivOverflow = errors.New("fixed point: result overflows uint64")

// ErrDivByZero reports a zero divisor.
var ErrDivByZero = errors.New("fixed point: division by zero")

// MulDiv returns floor(a*b/c) with a 128-bit intermediate product.
func MulDiv(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, ErrDivByZero
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return 0, ErrMulDivOverflow
	}
	q, _ := bits.Div64(hi, lo, c)
	return q, nil
}

// QuoteAmount allocates floor(netAmount * notionalBps / 10_000) base units to a leg.
// The sum over legs whose weights total at most 10_000 never exceeds netAmount.
func QuoteAmount(netAmount uint64, notionalBps uint32) uint64 {
	if notionalBps > MaxBps {
		notionalBps = MaxBps
	}
	q, err := MulDiv(netAmount, uint64(notionalBps), MaxBps)
	if err != nil {
		// unreachable: notionalBps <= MaxBps keeps the quotient <= netAmount
		return 0
	}
	return q
}

// USDC renders base units as a decimal amount for logs and tables.
func USDC(amount uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -USDCDecimals)
}

// BpsToPrice converts a basis-point price into a decimal probability price.
func BpsToPrice(bps uint32) decimal.Decimal {
	return decimal.NewFromInt(int64(bps)).Shift(-4)
}

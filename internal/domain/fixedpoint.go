package domain

import "math/big"

// BpsDenom is the basis-point denominator: 1 bps = 1/10000.
const BpsDenom int64 = 10_000

// MulDiv returns floor(a * num / den) computed exactly through big.Int so the
// intermediate product cannot overflow int64. den must be positive.
func MulDiv(a, num, den int64) int64 {
	var p big.Int
	p.Mul(big.NewInt(a), big.NewInt(num))
	p.Quo(&p, big.NewInt(den))
	return p.Int64()
}

// ApplyBps returns floor(amount * (BpsDenom + bps) / BpsDenom). Negative bps
// shrink the amount, which makes it the conservative direction for haircuts:
// ApplyBps(x, -50) is x reduced by 50 bps, rounded down.
func ApplyBps(amount, bps int64) int64 {
	return MulDiv(amount, BpsDenom+bps, BpsDenom)
}

// FeeBps returns floor(amount * bps / BpsDenom), the absolute fee charged at
// the given rate.
func FeeBps(amount, bps int64) int64 {
	return MulDiv(amount, bps, BpsDenom)
}

// BpsOf expresses part as basis points of whole, rounded toward zero. It
// returns 0 when whole is 0.
func BpsOf(part, whole int64) int64 {
	if whole == 0 {
		return 0
	}
	return MulDiv(part, BpsDenom, whole)
}

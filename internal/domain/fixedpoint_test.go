package domain

import (
	"math"
	"testing"
)

func TestMulDivExactness(t *testing.T) {
	tests := []struct {
		a, num, den, want int64
	}{
		{1_000_000, PriceScale, PriceScale, 1_000_000},
		{1_000_000, 1_020_000, PriceScale, 1_020_000},
		{7, 3, 2, 10}, // floors
		{math.MaxInt64 / 2, 4, 2, math.MaxInt64 - 1}, // intermediate overflows int64
	}
	for _, tt := range tests {
		if got := MulDiv(tt.a, tt.num, tt.den); got != tt.want {
			t.Fatalf("MulDiv(%d, %d, %d) = %d, expected %d", tt.a, tt.num, tt.den, got, tt.want)
		}
	}
}

func TestApplyBps(t *testing.T) {
	if got := ApplyBps(10_000, -50); got != 9_950 {
		t.Fatalf("ApplyBps(10000, -50) = %d, expected 9950", got)
	}
	if got := ApplyBps(10_000, 200); got != 10_200 {
		t.Fatalf("ApplyBps(10000, 200) = %d, expected 10200", got)
	}
	// Haircuts round down so the conservative side wins.
	if got := ApplyBps(9_999, -1); got != 9_998 {
		t.Fatalf("ApplyBps(9999, -1) = %d, expected 9998", got)
	}
}

func TestFeeAndBpsOf(t *testing.T) {
	if got := FeeBps(1_000_000, 9); got != 900 {
		t.Fatalf("FeeBps(1000000, 9) = %d, expected 900", got)
	}
	if got := BpsOf(18_000, 1_000_000); got != 180 {
		t.Fatalf("BpsOf(18000, 1000000) = %d, expected 180", got)
	}
	if got := BpsOf(5, 0); got != 0 {
		t.Fatalf("BpsOf(5, 0) = %d, expected 0", got)
	}
}

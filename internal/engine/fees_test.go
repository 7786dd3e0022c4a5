package engine

import (
	"math/big"
	"testing"
)

func TestFeeAmount(t *testing.T) {
	cases := []struct {
		name   string
		bps    uint64
		amount int64
		want   int64
	}{
		{"zero rate", 0, 1000, 0},
		{"one bps", 1, 10_000, 1},
		{"floors down", 250, 99, 2}, // 99 * 250 / 10000 = 2.475
		{"full rate", 10_000, 123, 123},
		{"above full rate", 20_000, 10, 20},
		{"zero amount", 500, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := feeAmount(tc.bps, big.NewInt(tc.amount))
			if got.Cmp(big.NewInt(tc.want)) != 0 {
				t.Fatalf("feeAmount(%d, %d) = %s, want %d", tc.bps, tc.amount, got, tc.want)
			}
		})
	}
}

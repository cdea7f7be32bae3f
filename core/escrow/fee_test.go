package escrow

import (
	"math"
	"math/big"
	"math/rand"
	"testing"
)

func TestSplitFee(t *testing.T) {
	cases := []struct {
		bounty, fee, agent uint64
	}{
		{0, 0, 0},
		{1, 0, 1},
		{33, 0, 33},
		{34, 1, 33},
		{1000, 30, 970},
		{1_000_000, 30_000, 970_000},
		{math.MaxUint64, 553402322211286548, math.MaxUint64 - 553402322211286548},
	}
	for _, tc := range cases {
		fee, agent := SplitFee(tc.bounty)
		if fee != tc.fee || agent != tc.agent {
			t.Fatalf("SplitFee(%d) = (%d, %d), want (%d, %d)", tc.bounty, fee, agent, tc.fee, tc.agent)
		}
	}
}

func TestSplitFeeFloorAndConservation(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	bps := big.NewInt(FeeBPS)
	denom := big.NewInt(BPSDenominator)
	for i := 0; i < 10_000; i++ {
		bounty := rng.Uint64()
		if i%3 == 0 {
			bounty >>= rng.Intn(64)
		}
		fee, agent := SplitFee(bounty)
		if fee+agent != bounty {
			t.Fatalf("bounty %d: fee %d + agent %d does not add up", bounty, fee, agent)
		}
		want := new(big.Int).Mul(new(big.Int).SetUint64(bounty), bps)
		want.Quo(want, denom)
		if want.Uint64() != fee {
			t.Fatalf("bounty %d: fee %d, want %s", bounty, fee, want)
		}
	}
}

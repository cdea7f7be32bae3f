package escrow

import "math/bits"

const (
	FeeBPS         = 300
	BPSDenominator = 10_000
)

// SplitFee divides a bounty into the platform fee, floor(bounty*300/10000), and
// the agent's share. The product is computed in 128 bits so no bounty overflows,
// and fee+agent always equals bounty.
func SplitFee(bounty uint64) (fee, agent uint64) {
	hi, lo := bits.Mul64(bounty, FeeBPS)
	fee, _ = bits.Div64(hi, lo, BPSDenominator)
	return fee, bounty - fee
}

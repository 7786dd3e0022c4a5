package engine

import "math/big"

const bpsDenominator = 10_000

// feeAmount computes floor(amount * rateBps / 10000). Rates are expressed in
// basis points and carry no upper bound.
func feeAmount(rateBps uint64, amount *big.Int) *big.Int {
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(rateBps))
	return fee.Div(fee, big.NewInt(bpsDenominator))
}

package pricer

import "math/big"

// scalePow10 returns 10^decimals as a big integer.
func scalePow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

package bv

import "math/big"

// onesBigInt returns 2^width - 1, the all-ones pattern for a bit-vector
// of the given width, as a big.Int (z3's FromBigInt constructor is the
// only way to materialize constants wider than 64 bits).
func onesBigInt(width uint32) *big.Int {
	v := new(big.Int).Lsh(big.NewInt(1), uint(width))
	return v.Sub(v, big.NewInt(1))
}

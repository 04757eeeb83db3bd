package orderbook

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Entry is one relayer record of the remote registry.
// All amounts are non-negative; a nil amount reads as zero.
type Entry struct {
	Address    common.Address
	Fee        *big.Int
	Collateral *big.Int
	Locked     *big.Int
}

// Free returns the collateral not committed to in-flight orders.
func (e Entry) Free() *big.Int {
	free := new(big.Int).Sub(amount(e.Collateral), amount(e.Locked))
	if free.Sign() < 0 {
		return new(big.Int)
	}
	return free
}

func (e Entry) clone() Entry {
	return Entry{
		Address:    e.Address,
		Fee:        new(big.Int).Set(amount(e.Fee)),
		Collateral: new(big.Int).Set(amount(e.Collateral)),
		Locked:     new(big.Int).Set(amount(e.Locked)),
	}
}

var zero = new(big.Int)

func amount(v *big.Int) *big.Int {
	if v == nil {
		return zero
	}
	return v
}

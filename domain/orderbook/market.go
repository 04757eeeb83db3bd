package orderbook

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AssignedRelayers returns the cheapest count relayers that can still
// back one more order, i.e. whose free collateral covers collateralPerOrder.
// It returns fewer than count entries when the book cannot fill the set.
func AssignedRelayers(s *Snapshot, count int, collateralPerOrder *big.Int) []Entry {
	if count <= 0 {
		return nil
	}
	need := amount(collateralPerOrder)
	out := make([]Entry, 0, count)
	s.Walk(func(_ int, e Entry) bool {
		if e.Free().Cmp(need) >= 0 {
			out = append(out, e)
		}
		return len(out) < count
	})
	return out
}

// MarketFee is the fee an order pays: the highest quote among the
// assigned relayers. ok is false when fewer than count relayers qualify.
func MarketFee(s *Snapshot, count int, collateralPerOrder *big.Int) (fee *big.Int, ok bool) {
	assigned := AssignedRelayers(s, count, collateralPerOrder)
	if count <= 0 || len(assigned) < count {
		return nil, false
	}
	return assigned[len(assigned)-1].Fee, true
}

// Position returns the 1-based rank of addr, cheapest first.
func Position(s *Snapshot, addr common.Address) (int, bool) {
	i, ok := s.IndexOf(addr)
	if !ok {
		return 0, false
	}
	return i + 1, true
}

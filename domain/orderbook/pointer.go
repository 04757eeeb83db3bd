package orderbook

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// SentinelAddress is how the registry encodes the head of its list.
var SentinelAddress = common.HexToAddress("0x0000000000000000000000000000000000000001")

// Pointer names the entry that precedes a position in the list,
// or Sentinel when the position is the head.
type Pointer struct {
	addr common.Address
	head bool
}

// Sentinel precedes the first entry.
var Sentinel = Pointer{head: true}

// PointerTo returns a pointer to an existing entry.
func PointerTo(addr common.Address) Pointer {
	return Pointer{addr: addr}
}

func (p Pointer) IsSentinel() bool { return p.head }

// Address is the on-chain encoding of the pointer.
func (p Pointer) Address() common.Address {
	if p.head {
		return SentinelAddress
	}
	return p.addr
}

func (p Pointer) String() string {
	if p.head {
		return "sentinel"
	}
	return p.addr.Hex()
}

// PointerResult holds the arguments for one list mutation.
// Removal is nil when the operation removes nothing.
type PointerResult struct {
	Removal   *Pointer
	Insertion Pointer
}

// ResolveRemovalPointer returns the predecessor of addr.
// ok is false when addr is not in the book.
func ResolveRemovalPointer(s *Snapshot, addr common.Address) (p Pointer, ok bool) {
	i, ok := s.IndexOf(addr)
	if !ok {
		return Pointer{}, false
	}
	if i == 0 {
		return Sentinel, true
	}
	return PointerTo(s.address(i - 1)), true
}

// ResolveInsertionPointer returns the predecessor of the position a relayer
// quoting fee would take. New entries go after existing entries of equal fee.
//
// self is the relayer being moved, or nil for a fresh insert. When the
// predecessor would be self, its own removal pointer is used instead: self's
// old record is still in s and cannot precede its new position.
func ResolveInsertionPointer(s *Snapshot, fee *big.Int, self *common.Address) Pointer {
	fee = amount(fee)
	n := s.Len()
	j := sort.Search(n, func(i int) bool {
		return amount(s.entries[i].Fee).Cmp(fee) > 0
	})

	var p Pointer
	switch {
	case j == 0:
		p = Sentinel
	default:
		// j == n covers "fee >= every fee": predecessor is the last entry.
		p = PointerTo(s.address(j - 1))
	}

	if self != nil && !p.head && p.addr == *self {
		if rp, ok := ResolveRemovalPointer(s, *self); ok {
			return rp
		}
	}
	return p
}

// ResolveMovePointers computes both pointers for repositioning addr to fee.
func ResolveMovePointers(s *Snapshot, addr common.Address, fee *big.Int) PointerResult {
	res := PointerResult{
		Insertion: ResolveInsertionPointer(s, fee, &addr),
	}
	if rp, ok := ResolveRemovalPointer(s, addr); ok {
		res.Removal = &rp
	}
	return res
}

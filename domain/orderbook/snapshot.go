package orderbook

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnsorted         = errors.New("orderbook: entries not sorted by ascending fee")
	ErrDuplicateAddress = errors.New("orderbook: duplicate relayer address")
	ErrNegativeAmount   = errors.New("orderbook: negative amount")
)

// Snapshot is a point-in-time, read-only view of the remote registry.
// Entries are sorted by ascending fee and addresses are unique.
// A new read produces a new Snapshot; an existing one is never mutated.
//
// A nil *Snapshot behaves as an empty book.
type Snapshot struct {
	entries []Entry
	index   map[common.Address]int

	height uint64
	readAt time.Time
}

// NewSnapshot validates and copies entries into a Snapshot.
func NewSnapshot(entries []Entry) (*Snapshot, error) {
	return NewSnapshotAt(entries, 0, time.Time{})
}

// NewSnapshotAt is NewSnapshot with the block height and wall time the
// entries were read at.
func NewSnapshotAt(entries []Entry, height uint64, readAt time.Time) (*Snapshot, error) {
	s := &Snapshot{
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[common.Address]int, len(entries)),
		height:  height,
		readAt:  readAt,
	}

	for i, e := range entries {
		if amount(e.Fee).Sign() < 0 || amount(e.Collateral).Sign() < 0 || amount(e.Locked).Sign() < 0 {
			return nil, fmt.Errorf("%w: relayer %s", ErrNegativeAmount, e.Address)
		}
		if _, dup := s.index[e.Address]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAddress, e.Address)
		}
		if i > 0 && amount(entries[i-1].Fee).Cmp(amount(e.Fee)) > 0 {
			return nil, fmt.Errorf("%w: index %d", ErrUnsorted, i)
		}
		s.index[e.Address] = i
		s.entries = append(s.entries, e.clone())
	}
	return s, nil
}

// Len returns the number of relayers in the book.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// At returns a copy of the entry at position i.
func (s *Snapshot) At(i int) Entry {
	return s.entries[i].clone()
}

// IndexOf returns the position of addr in the book.
func (s *Snapshot) IndexOf(addr common.Address) (int, bool) {
	if s == nil {
		return 0, false
	}
	i, ok := s.index[addr]
	return i, ok
}

// Lookup returns a copy of addr's entry.
func (s *Snapshot) Lookup(addr common.Address) (Entry, bool) {
	i, ok := s.IndexOf(addr)
	if !ok {
		return Entry{}, false
	}
	return s.At(i), true
}

// Entries returns a deep copy of all entries in book order.
func (s *Snapshot) Entries() []Entry {
	out := make([]Entry, 0, s.Len())
	s.Walk(func(_ int, e Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Walk visits entries cheapest first until fn returns false.
func (s *Snapshot) Walk(fn func(i int, e Entry) bool) {
	for i := 0; i < s.Len(); i++ {
		if !fn(i, s.entries[i].clone()) {
			return
		}
	}
}

// Height is the block height the snapshot was read at, if known.
func (s *Snapshot) Height() uint64 {
	if s == nil {
		return 0
	}
	return s.height
}

// ReadAt is the wall time the snapshot was read at, if known.
func (s *Snapshot) ReadAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.readAt
}

// address returns the entry address at i without copying amounts.
func (s *Snapshot) address(i int) common.Address {
	return s.entries[i].Address
}

// Package chaintest provides a configurable in-memory registry for testing
// code that drives a chain.Gateway.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"feemarket/domain/orderbook"
	"feemarket/domain/relayer"
	"feemarket/infra/chain"
)

var (
	_ chain.ListGateway = (*MockGateway)(nil)
	_ chain.SetGateway  = (*MockGateway)(nil)
)

// MockGateway emulates a registry for one signer. Writes are applied to the
// in-memory book when they are confirmed, and list mutations are checked
// against the book the way the registry contract checks them, so a stale
// pointer is reported as StalePointer.
//
// Every method can be overridden through its function field. Unset fields
// fall back to the emulation.
type MockGateway struct {
	mu sync.Mutex

	ChainKind chain.ChainKind
	Self      common.Address

	MinFee        *big.Int
	MinCollateral *big.Int
	Balance       chain.Balance

	FetchSnapshotFn     func(context.Context) (*orderbook.Snapshot, error)
	FetchBalanceFn      func(context.Context, common.Address) (chain.Balance, error)
	SubmitFn            func(context.Context, chain.Mutation) (chain.TxHandle, error)
	SubmitNativeFn      func(context.Context, chain.NativeCall) (chain.TxHandle, error)
	AwaitConfirmationFn func(context.Context, chain.TxHandle) (*chain.Receipt, error)

	// ConfirmDelay holds every confirmation back; Release ends it early.
	ConfirmDelay time.Duration
	release      chan struct{}

	book    []orderbook.Entry
	pending map[common.Hash]func() error
	height  uint64
	nonce   uint64

	Submitted []chain.Mutation
	Native    []chain.NativeCall

	FetchSnapshotCalls atomic.Int64
	FetchBalanceCalls  atomic.Int64
	SubmitCalls        atomic.Int64
	ConfirmCalls       atomic.Int64
}

// NewMockGateway returns an empty registry of the given kind with generous
// balances and minimums of one.
func NewMockGateway(kind chain.ChainKind, self common.Address) *MockGateway {
	return &MockGateway{
		ChainKind:     kind,
		Self:          self,
		MinFee:        big.NewInt(1),
		MinCollateral: big.NewInt(1),
		Balance:       chain.Balance{Total: big.NewInt(1_000_000), Available: big.NewInt(1_000_000)},
		release:       make(chan struct{}),
		pending:       make(map[common.Hash]func() error),
	}
}

// Seed replaces the book. Entries are sorted by fee, preserving order among
// equal fees.
func (m *MockGateway) Seed(entries ...orderbook.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.book = append([]orderbook.Entry(nil), entries...)
	sort.SliceStable(m.book, func(i, j int) bool { return m.book[i].Fee.Cmp(m.book[j].Fee) < 0 })
}

// Release lets every held confirmation complete.
func (m *MockGateway) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.release:
	default:
		close(m.release)
	}
}

func (m *MockGateway) Kind() chain.ChainKind { return m.ChainKind }

func (m *MockGateway) FetchSnapshot(ctx context.Context) (*orderbook.Snapshot, error) {
	m.FetchSnapshotCalls.Add(1)
	if m.FetchSnapshotFn != nil {
		return m.FetchSnapshotFn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return orderbook.NewSnapshotAt(m.book, m.height, time.Now())
}

func (m *MockGateway) FetchBalance(ctx context.Context, addr common.Address) (chain.Balance, error) {
	m.FetchBalanceCalls.Add(1)
	if m.FetchBalanceFn != nil {
		return m.FetchBalanceFn(ctx, addr)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return chain.Balance{
		Total:     new(big.Int).Set(m.Balance.Total),
		Available: new(big.Int).Set(m.Balance.Available),
	}, nil
}

func (m *MockGateway) IsRegistered(_ context.Context, addr common.Address) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexOf(addr) >= 0, nil
}

func (m *MockGateway) MinimumFee(context.Context) (*big.Int, error) {
	return new(big.Int).Set(m.MinFee), nil
}

func (m *MockGateway) MinimumCollateral(context.Context) (*big.Int, error) {
	return new(big.Int).Set(m.MinCollateral), nil
}

// ──────────────────────────────────────────────────────────
// Writes
// ──────────────────────────────────────────────────────────

func (m *MockGateway) Submit(ctx context.Context, mu chain.Mutation) (chain.TxHandle, error) {
	m.SubmitCalls.Add(1)
	m.mu.Lock()
	m.Submitted = append(m.Submitted, mu)
	m.mu.Unlock()
	if m.SubmitFn != nil {
		return m.SubmitFn(ctx, mu)
	}

	var apply func() error
	switch mu := mu.(type) {
	case chain.Insert:
		apply = func() error { return m.insert(mu.Prev, mu.Fee, mu.Collateral) }
	case chain.Move:
		apply = func() error { return m.move(mu.OldPrev, mu.NewPrev, mu.Fee) }
	case chain.Remove:
		apply = func() error { return m.remove(mu.Prev) }
	case chain.Deposit:
		apply = func() error { return m.adjust(mu.Amount) }
	case chain.Withdraw:
		apply = func() error { return m.adjust(new(big.Int).Neg(amount(mu.Amount))) }
	default:
		return chain.TxHandle{}, fmt.Errorf("chaintest: unsupported mutation %T", mu)
	}
	return m.enqueue(chain.KindEVM, mu.Method(), apply), nil
}

func (m *MockGateway) SubmitNative(ctx context.Context, c chain.NativeCall) (chain.TxHandle, error) {
	m.SubmitCalls.Add(1)
	m.mu.Lock()
	m.Native = append(m.Native, c)
	m.mu.Unlock()
	if m.SubmitNativeFn != nil {
		return m.SubmitNativeFn(ctx, c)
	}

	var apply func() error
	switch c := c.(type) {
	case chain.EnrollAndLockCollateral:
		apply = func() error { return m.upsert(c.Fee, c.Collateral) }
	case chain.UpdateRelayFee:
		apply = func() error { return m.upsert(c.Fee, nil) }
	case chain.UpdateLockedCollateral:
		apply = func() error { return m.upsert(nil, c.Collateral) }
	case chain.CancelEnrollment:
		apply = func() error { return m.drop() }
	default:
		return chain.TxHandle{}, fmt.Errorf("chaintest: unsupported call %T", c)
	}
	return m.enqueue(chain.KindLedger, c.Call(), apply), nil
}

func (m *MockGateway) enqueue(kind chain.ChainKind, method string, apply func() error) chain.TxHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonce++
	h := crypto.Keccak256Hash([]byte(fmt.Sprintf("%s/%d", method, m.nonce)))
	m.pending[h] = apply
	return chain.TxHandle{Kind: kind, Hash: h, Method: method}
}

func (m *MockGateway) AwaitConfirmation(ctx context.Context, h chain.TxHandle) (*chain.Receipt, error) {
	m.ConfirmCalls.Add(1)
	if m.AwaitConfirmationFn != nil {
		return m.AwaitConfirmationFn(ctx, h)
	}

	if m.ConfirmDelay > 0 {
		timer := time.NewTimer(m.ConfirmDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.release:
		case <-timer.C:
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	apply, ok := m.pending[h.Hash]
	if !ok {
		return nil, relayer.NewError(relayer.NetworkFailure, h.Method, "unknown transaction "+h.Hash.Hex())
	}
	delete(m.pending, h.Hash)
	m.height++

	rcpt := &chain.Receipt{TxHash: h.Hash, BlockNumber: m.height}
	if err := apply(); err != nil {
		kind := relayer.Reverted
		if h.Pointers() {
			kind = relayer.StalePointer
		}
		return rcpt, relayer.WrapError(kind, h.Method, err)
	}
	return rcpt, nil
}

// ──────────────────────────────────────────────────────────
// Registry emulation, called with mu held
// ──────────────────────────────────────────────────────────

func (m *MockGateway) indexOf(addr common.Address) int {
	for i, e := range m.book {
		if e.Address == addr {
			return i
		}
	}
	return -1
}

// validPrev reports whether prev is a legal predecessor for fee: it holds
// a fee no greater than fee and its successor holds a greater one.
func (m *MockGateway) validPrev(prev orderbook.Pointer, fee *big.Int) (int, error) {
	at := 0
	if !prev.IsSentinel() {
		i := m.indexOf(prev.Address())
		if i < 0 {
			return 0, fmt.Errorf("prev %s not in list", prev)
		}
		if m.book[i].Fee.Cmp(fee) > 0 {
			return 0, fmt.Errorf("prev %s quotes above %s", prev, fee)
		}
		at = i + 1
	}
	if at < len(m.book) && m.book[at].Fee.Cmp(fee) <= 0 {
		return 0, fmt.Errorf("next %s quotes at or below %s", m.book[at].Address.Hex(), fee)
	}
	return at, nil
}

func (m *MockGateway) checkPredecessor(prev orderbook.Pointer) (int, error) {
	i := m.indexOf(m.Self)
	if i < 0 {
		return 0, fmt.Errorf("%s not in list", m.Self.Hex())
	}
	want := orderbook.Sentinel
	if i > 0 {
		want = orderbook.PointerTo(m.book[i-1].Address)
	}
	if want != prev {
		return 0, fmt.Errorf("prev %s is not predecessor %s", prev, want)
	}
	return i, nil
}

func (m *MockGateway) insert(prev orderbook.Pointer, fee, collateral *big.Int) error {
	if m.indexOf(m.Self) >= 0 {
		return fmt.Errorf("%s already enrolled", m.Self.Hex())
	}
	fee, collateral = amount(fee), amount(collateral)
	at, err := m.validPrev(prev, fee)
	if err != nil {
		return err
	}
	e := orderbook.Entry{Address: m.Self, Fee: fee, Collateral: collateral, Locked: new(big.Int)}
	m.book = append(m.book[:at], append([]orderbook.Entry{e}, m.book[at:]...)...)
	m.Balance.Available = new(big.Int).Sub(m.Balance.Available, collateral)
	return nil
}

func (m *MockGateway) move(oldPrev, newPrev orderbook.Pointer, fee *big.Int) error {
	i, err := m.checkPredecessor(oldPrev)
	if err != nil {
		return err
	}
	fee = amount(fee)
	e := m.book[i]
	saved := append([]orderbook.Entry(nil), m.book...)
	m.book = append(m.book[:i], m.book[i+1:]...)
	at, err := m.validPrev(newPrev, fee)
	if err != nil {
		m.book = saved
		return err
	}
	e.Fee = fee
	m.book = append(m.book[:at], append([]orderbook.Entry{e}, m.book[at:]...)...)
	return nil
}

func (m *MockGateway) remove(prev orderbook.Pointer) error {
	i, err := m.checkPredecessor(prev)
	if err != nil {
		return err
	}
	m.Balance.Available = new(big.Int).Add(m.Balance.Available, m.book[i].Collateral)
	m.book = append(m.book[:i], m.book[i+1:]...)
	return nil
}

func (m *MockGateway) adjust(delta *big.Int) error {
	delta = amount(delta)
	i := m.indexOf(m.Self)
	if i < 0 {
		return fmt.Errorf("%s not in list", m.Self.Hex())
	}
	next := new(big.Int).Add(m.book[i].Collateral, delta)
	if next.Cmp(m.book[i].Locked) < 0 {
		return fmt.Errorf("collateral %s below locked %s", next, m.book[i].Locked)
	}
	m.book[i].Collateral = next
	m.Balance.Available = new(big.Int).Sub(m.Balance.Available, delta)
	return nil
}

// upsert applies a native call. nil leaves the field unchanged.
func (m *MockGateway) upsert(fee, collateral *big.Int) error {
	i := m.indexOf(m.Self)
	if i < 0 {
		if fee == nil || collateral == nil {
			return fmt.Errorf("%s not enrolled", m.Self.Hex())
		}
		m.book = append(m.book, orderbook.Entry{Address: m.Self, Fee: fee, Collateral: collateral, Locked: new(big.Int)})
		m.Balance.Available = new(big.Int).Sub(m.Balance.Available, collateral)
	} else {
		e := &m.book[i]
		if fee != nil {
			e.Fee = fee
		}
		if collateral != nil {
			if collateral.Cmp(e.Locked) < 0 {
				return fmt.Errorf("collateral %s below locked %s", collateral, e.Locked)
			}
			m.Balance.Available = new(big.Int).Sub(m.Balance.Available, new(big.Int).Sub(collateral, e.Collateral))
			e.Collateral = collateral
		}
	}
	sort.SliceStable(m.book, func(i, j int) bool { return m.book[i].Fee.Cmp(m.book[j].Fee) < 0 })
	return nil
}

func (m *MockGateway) drop() error {
	i := m.indexOf(m.Self)
	if i < 0 {
		return fmt.Errorf("%s not enrolled", m.Self.Hex())
	}
	m.Balance.Available = new(big.Int).Add(m.Balance.Available, m.book[i].Collateral)
	m.book = append(m.book[:i], m.book[i+1:]...)
	return nil
}

func amount(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

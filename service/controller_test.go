package service

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feemarket/domain/orderbook"
	"feemarket/domain/relayer"
	"feemarket/infra/chain"
	"feemarket/infra/chain/chaintest"
	"feemarket/infra/journal"
)

var (
	self  = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	addrA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	addrB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	addrC = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func entry(addr common.Address, fee, coll int64) orderbook.Entry {
	return orderbook.Entry{Address: addr, Fee: big.NewInt(fee), Collateral: big.NewInt(coll), Locked: new(big.Int)}
}

func newController(t *testing.T, gw chain.Gateway, opts ...Option) *LifecycleController {
	t.Helper()
	c, err := NewLifecycleController(context.Background(), gw, self, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

type outcomeCh chan outcome

func (ch outcomeCh) wait(t *testing.T) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("operation did not return")
		return outcome{}
	}
}

func async(fn func() (Result, error)) outcomeCh {
	ch := make(outcomeCh, 1)
	go func() {
		r, err := fn()
		ch <- outcome{r, err}
	}()
	return ch
}

func waitState(t *testing.T, c *LifecycleController, s relayer.State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == s }, 5*time.Second, time.Millisecond,
		"state is %s, want %s", c.State(), s)
}

func TestInitialStateFromRegistration(t *testing.T) {
	m := chaintest.NewMockGateway(chain.KindEVM, self)
	assert.Equal(t, relayer.Unregistered, newController(t, m).State())

	m.Seed(entry(self, 100, 500))
	c := newController(t, m)
	assert.Equal(t, relayer.Registered, c.State())
	assert.Equal(t, self, c.Identity())
	assert.Equal(t, chain.KindEVM, c.Kind())
}

func TestNewControllerRejectsGatewayWithoutWriter(t *testing.T) {
	m := chaintest.NewMockGateway(chain.KindEVM, self)
	_, err := NewLifecycleController(context.Background(), struct{ chain.Gateway }{m}, self)
	assert.Error(t, err)
}

func TestEnrollIntoEmptyBook(t *testing.T) {
	m := chaintest.NewMockGateway(chain.KindEVM, self)
	var events []relayer.Event
	c := newController(t, m, WithEventHook(func(ev relayer.Event) { events = append(events, ev) }))

	res, err := c.Enroll(context.Background(), big.NewInt(100), big.NewInt(50))
	require.NoError(t, err)
	assert.Equal(t, relayer.Unregistered, res.From)
	assert.Equal(t, relayer.Registered, res.To)
	assert.True(t, res.Submitted())
	assert.NotEmpty(t, res.OpID)
	assert.Equal(t, relayer.Registered, c.State())

	require.Len(t, m.Submitted, 1)
	ins, ok := m.Submitted[0].(chain.Insert)
	require.True(t, ok)
	assert.True(t, ins.Prev.IsSentinel())
	assert.Equal(t, int64(50), ins.Collateral.Int64())

	select {
	case <-c.Refresh():
	default:
		t.Fatal("no refresh signal")
	}
	require.Len(t, events, 1)
	assert.True(t, events[0].OK())
	assert.Equal(t, uint64(1), events[0].Seq)
	assert.Equal(t, int64(100), events[0].Amount.Int64())
}

func TestEnrollUsesFreshSnapshot(t *testing.T) {
	m := chaintest.NewMockGateway(chain.KindEVM, self)
	m.Seed(entry(addrA, 50, 500), entry(addrB, 100, 500), entry(addrC, 150, 500))
	c := newController(t, m)

	_, err := c.Enroll(context.Background(), big.NewInt(120), big.NewInt(50))
	require.NoError(t, err)
	ins := m.Submitted[0].(chain.Insert)
	assert.Equal(t, addrB, ins.Prev.Address())
	assert.EqualValues(t, 1, m.FetchSnapshotCalls.Load())

	snap, err := m.FetchSnapshot(context.Background())
	require.NoError(t, err)
	pos, ok := orderbook.Position(snap, self)
	require.True(t, ok)
	assert.Equal(t, 3, pos)
}

func TestValidationBlocksSubmission(t *testing.T) {
	m := chaintest.NewMockGateway(chain.KindEVM, self)
	m.MinFee = big.NewInt(10)
	m.MinCollateral = big.NewInt(100)
	c := newController(t, m)
	ctx := context.Background()

	cases := []struct {
		name     string
		fee      int64
		coll     int64
		expected relayer.ErrorKind
	}{
		{"fee below minimum", 5, 200, relayer.BelowMinimumFee},
		{"collateral below minimum", 20, 50, relayer.BelowMinimumCollateral},
		{"collateral above balance", 20, 2_000_000, relayer.InsufficientBalance},
		{"negative fee", -1, 200, relayer.NegativeAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := c.Enroll(ctx, big.NewInt(tc.fee), big.NewInt(tc.coll))
			require.Error(t, err)
			assert.Equal(t, tc.expected, relayer.KindOf(err))
			assert.False(t, res.Submitted())
			assert.Equal(t, relayer.Unregistered, c.State())
		})
	}
	assert.Zero(t, m.SubmitCalls.Load())
}

func TestEnrollFailureSurfacesFailed(t *testing.T) {
	m := chaintest.NewMockGateway(chain.KindEVM, self)
	m.SubmitFn = func(context.Context, chain.Mutation) (chain.TxHandle, error) {
		return chain.TxHandle{}, relayer.NewError(relayer.WalletRejected, "enroll", "user rejected")
	}
	c := newController(t, m)
	ctx := context.Background()

	res, err := c.Enroll(ctx, big.NewInt(100), big.NewInt(50))
	require.ErrorIs(t, err, relayer.ErrWalletRejected)
	assert.Equal(t, relayer.Failed, res.To)
	assert.Equal(t, relayer.Failed, c.State())

	// Failed is not registered.
	_, err = c.Remove(ctx)
	assert.Equal(t, relayer.InvalidState, relayer.KindOf(err))

	assert.True(t, c.Acknowledge())
	assert.Equal(t, relayer.Unregistered, c.State())
	assert.False(t, c.Acknowledge())
}

func TestEnrollFromFailedClearsIt(t *testing.T) {
	m := chaintest.NewMockGateway(chain.KindEVM, self)
	reject := true
	m.SubmitFn = func(ctx context.Context, mu chain.Mutation) (chain.TxHandle, error) {
		if reject {
			return chain.TxHandle{}, relayer.NewError(relayer.WalletRejected, "enroll", "user rejected")
		}
		return chain.TxHandle{Kind: chain.KindEVM, Hash: common.HexToHash("0x01"), Method: mu.Method()}, nil
	}
	m.AwaitConfirmationFn = func(context.Context, chain.TxHandle) (*chain.Receipt, error) {
		return &chain.Receipt{BlockNumber: 1}, nil
	}
	c := newController(t, m)
	ctx := context.Background()

	_, err := c.Enroll(ctx, big.NewInt(100), big.NewInt(50))
	require.Error(t, err)
	require.Equal(t, relayer.Failed, c.State())

	reject = false
	res, err := c.Enroll(ctx, big.NewInt(100), big.NewInt(50))
	require.NoError(t, err)
	assert.Equal(t, relayer.Unregistered, res.From)
	assert.Equal(t, relayer.Registered, c.State())
}

func TestRepositionMovesInList(t *testing.T) {
	m := chaintest.NewMockGateway(chain.KindEVM, self)
	m.Seed(entry(addrA, 50, 500), entry(self, 100, 500), entry(addrB, 150, 500))
	c := newController(t, m)

	res, err := c.Reposition(context.Background(), big.NewInt(200))
	require.NoError(t, err)
	assert.Equal(t, relayer.Registered, res.To)

	mv := m.Submitted[0].(chain.Move)
	assert.Equal(t, addrA, mv.OldPrev.Address())
	assert.Equal(t, addrB, mv.NewPrev.Address())

	snap, _ := m.FetchSnapshot(context.Background())
	assert.Equal(t, self, snap.At(2).Address)
}

func TestStalePointerIsNotRetried(t *testing.T) {
	m := chaintest.NewMockGateway(chain.KindEVM, self)
	m.Seed(entry(addrA, 50, 500), entry(self, 100, 500), entry(addrB, 150, 500))
	stale, err := orderbook.NewSnapshot([]orderbook.Entry{entry(addrA, 50, 500), entry(self, 100, 500)})
	require.NoError(t, err)
	m.FetchSnapshotFn = func(context.Context) (*orderbook.Snapshot, error) { return stale, nil }
	c := newController(t, m)

	res, err := c.Reposition(context.Background(), big.NewInt(200))
	require.ErrorIs(t, err, relayer.ErrStalePointer)
	assert.Equal(t, relayer.Registered, res.To)
	assert.Equal(t, relayer.Registered, c.State())
	assert.EqualValues(t, 1, m.SubmitCalls.Load())
}

func TestRemove(t *testing.T) {
	m := chaintest.NewMockGateway(chain.KindEVM, self)
	m.Seed(entry(addrA, 50, 500), entry(self, 100, 500))
	c := newController(t, m)

	res, err := c.Remove(context.Background())
	require.NoError(t, err)
	assert.Equal(t, relayer.Unregistered, res.To)
	assert.Equal(t, addrA, m.Submitted[0].(chain.Remove).Prev.Address())

	_, err = c.Remove(context.Background())
	assert.Equal(t, relayer.InvalidState, relayer.KindOf(err))
}

func TestRemoveNotPresent(t *testing.T) {
	m := chaintest.NewMockGateway(chain.KindEVM, self)
	m.Seed(entry(self, 100, 500))
	m.FetchSnapshotFn = func(context.Context) (*orderbook.Snapshot, error) {
		return orderbook.NewSnapshot([]orderbook.Entry{entry(addrA, 50, 500)})
	}
	c := newController(t, m)

	_, err := c.Remove(context.Background())
	require.ErrorIs(t, err, relayer.ErrNotPresent)
	assert.Zero(t, m.SubmitCalls.Load())
	assert.Equal(t, relayer.Registered, c.State())
}

func TestAdjustCollateral(t *testing.T) {
	m := chaintest.NewMockGateway(chain.KindEVM, self)
	locked := entry(self, 100, 500)
	locked.Locked = big.NewInt(300)
	m.Seed(locked)
	c := newController(t, m)
	ctx := context.Background()

	res, err := c.AdjustCollateral(ctx, big.NewInt(500))
	require.NoError(t, err)
	assert.False(t, res.Submitted())
	assert.Zero(t, m.SubmitCalls.Load())

	_, err = c.AdjustCollateral(ctx, big.NewInt(800))
	require.NoError(t, err)
	dep := m.Submitted[0].(chain.Deposit)
	assert.Equal(t, int64(300), dep.Amount.Int64())
	assert.Equal(t, int64(300), dep.Value().Int64())

	_, err = c.AdjustCollateral(ctx, big.NewInt(200))
	assert.Equal(t, relayer.BelowLockedCollateral, relayer.KindOf(err))

	_, err = c.AdjustCollateral(ctx, big.NewInt(400))
	require.NoError(t, err)
	assert.Equal(t, int64(400), m.Submitted[1].(chain.Withdraw).Amount.Int64())
	assert.Equal(t, relayer.Registered, c.State())

	_, err = c.AdjustCollateral(ctx, big.NewInt(5_000_000))
	assert.Equal(t, relayer.InsufficientBalance, relayer.KindOf(err))
}

func TestAdjustCollateralFailureKeepsRegistration(t *testing.T) {
	m := chaintest.NewMockGateway(chain.KindEVM, self)
	m.Seed(entry(self, 100, 500))
	m.AwaitConfirmationFn = func(_ context.Context, h chain.TxHandle) (*chain.Receipt, error) {
		return &chain.Receipt{TxHash: h.Hash}, relayer.NewError(relayer.Reverted, h.Method, "reverted")
	}
	c := newController(t, m)

	res, err := c.AdjustCollateral(context.Background(), big.NewInt(600))
	require.ErrorIs(t, err, relayer.ErrReverted)
	assert.Equal(t, relayer.Registered, res.To)
	assert.Equal(t, relayer.Registered, c.State())
}

func TestLedgerRouting(t *testing.T) {
	m := chaintest.NewMockGateway(chain.KindLedger, self)
	m.Seed(entry(addrA, 50, 500))
	c := newController(t, m)
	ctx := context.Background()

	_, err := c.Enroll(ctx, big.NewInt(70), big.NewInt(100))
	require.NoError(t, err)
	_, err = c.Reposition(ctx, big.NewInt(40))
	require.NoError(t, err)
	_, err = c.AdjustCollateral(ctx, big.NewInt(150))
	require.NoError(t, err)
	_, err = c.Remove(ctx)
	require.NoError(t, err)

	assert.Empty(t, m.Submitted)
	require.Len(t, m.Native, 4)
	assert.IsType(t, chain.EnrollAndLockCollateral{}, m.Native[0])
	assert.Equal(t, int64(40), m.Native[1].(chain.UpdateRelayFee).Fee.Int64())
	assert.Equal(t, int64(150), m.Native[2].(chain.UpdateLockedCollateral).Collateral.Int64())
	assert.IsType(t, chain.CancelEnrollment{}, m.Native[3])
	assert.Equal(t, relayer.Unregistered, c.State())
}

func TestSecondCallWhileSubmitting(t *testing.T) {
	defer leaktest.Check(t)()

	m := chaintest.NewMockGateway(chain.KindEVM, self)
	m.ConfirmDelay = time.Hour
	c, err := NewLifecycleController(context.Background(), m, self)
	require.NoError(t, err)
	defer c.Close()

	first := async(func() (Result, error) {
		return c.Enroll(context.Background(), big.NewInt(100), big.NewInt(50))
	})
	waitState(t, c, relayer.Submitting)

	_, err = c.Enroll(context.Background(), big.NewInt(100), big.NewInt(50))
	require.ErrorIs(t, err, relayer.ErrOperationInProgress)
	_, err = c.Remove(context.Background())
	require.ErrorIs(t, err, relayer.ErrOperationInProgress)
	assert.EqualValues(t, 1, m.SubmitCalls.Load())

	m.Release()
	o := first.wait(t)
	require.NoError(t, o.err)
	assert.Equal(t, relayer.Registered, c.State())
}

func TestConcurrentCallsSubmitOnce(t *testing.T) {
	m := chaintest.NewMockGateway(chain.KindEVM, self)
	m.ConfirmDelay = 50 * time.Millisecond
	c := newController(t, m)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var busy int
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Enroll(context.Background(), big.NewInt(100), big.NewInt(50))
			if errors.Is(err, relayer.ErrOperationInProgress) || relayer.IsKind(err, relayer.InvalidState) {
				mu.Lock()
				busy++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, m.SubmitCalls.Load())
	assert.Equal(t, 9, busy)
}

func TestDetachKeepsWaiting(t *testing.T) {
	defer leaktest.Check(t)()

	m := chaintest.NewMockGateway(chain.KindEVM, self)
	m.ConfirmDelay = time.Hour
	c, err := NewLifecycleController(context.Background(), m, self)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	pending := async(func() (Result, error) {
		return c.Enroll(ctx, big.NewInt(100), big.NewInt(50))
	})
	waitState(t, c, relayer.Submitting)
	cancel()

	o := pending.wait(t)
	require.ErrorIs(t, o.err, relayer.ErrDetached)
	require.ErrorIs(t, o.err, context.Canceled)
	assert.Equal(t, relayer.Submitting, o.res.To)
	assert.True(t, o.res.Submitted())

	// No speculative rollback, and the guard is still held.
	assert.Equal(t, relayer.Submitting, c.State())
	_, err = c.Remove(context.Background())
	require.ErrorIs(t, err, relayer.ErrOperationInProgress)

	m.Release()
	waitState(t, c, relayer.Registered)
	select {
	case <-c.Refresh():
	case <-time.After(time.Second):
		t.Fatal("no refresh signal")
	}
}

func TestCloseLeavesRecordForResume(t *testing.T) {
	store, err := journal.OpenPebble(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	m := chaintest.NewMockGateway(chain.KindEVM, self)
	m.ConfirmDelay = time.Hour
	c, err := NewLifecycleController(context.Background(), m, self, WithJournal(store))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	pending := async(func() (Result, error) {
		return c.Enroll(ctx, big.NewInt(100), big.NewInt(50))
	})
	waitState(t, c, relayer.Submitting)
	cancel()
	o := pending.wait(t)
	require.ErrorIs(t, o.err, relayer.ErrDetached)
	require.NoError(t, c.Close())

	rec, err := store.Get(o.res.OpID)
	require.NoError(t, err)
	assert.Equal(t, journal.StateDetached, rec.State)
	assert.Equal(t, relayer.OpEnroll, rec.Op)

	// The next process picks the submission back up.
	m.Release()
	c2, err := NewLifecycleController(context.Background(), m, self, WithJournal(store))
	require.NoError(t, err)
	defer c2.Close()

	n, err := c2.Resume()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	waitState(t, c2, relayer.Registered)

	require.Eventually(t, func() bool {
		rec, err := store.Get(o.res.OpID)
		return err == nil && rec.State == journal.StateConfirmed
	}, 5*time.Second, time.Millisecond)

	var events []relayer.Event
	require.NoError(t, store.ScanEvents(func(ev relayer.Event) error {
		events = append(events, ev)
		return nil
	}))
	require.Len(t, events, 1)
	assert.Equal(t, o.res.OpID, events[0].OpID)
	assert.Equal(t, relayer.Registered, events[0].To)
}

func TestCommandsAfterCloseSubmitNothing(t *testing.T) {
	m := chaintest.NewMockGateway(chain.KindEVM, self)
	c := newController(t, m)
	require.NoError(t, c.Close())

	res, err := c.Enroll(context.Background(), big.NewInt(100), big.NewInt(50))
	require.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, relayer.InvalidState, relayer.KindOf(err))
	assert.False(t, res.Submitted())
	assert.EqualValues(t, 0, m.SubmitCalls.Load())
	assert.Equal(t, relayer.Unregistered, c.State())

	// The guard is free again.
	_, err = c.Remove(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestResumeWithoutOpenRecords(t *testing.T) {
	store, err := journal.OpenPebble(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	m := chaintest.NewMockGateway(chain.KindEVM, self)
	c := newController(t, m, WithJournal(store))

	_, err = c.Enroll(context.Background(), big.NewInt(100), big.NewInt(50))
	require.NoError(t, err)

	n, err := c.Resume()
	require.NoError(t, err)
	assert.Zero(t, n)

	last, err := store.LastEventSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), last)
}

func TestSubmitNeverSentRestoresState(t *testing.T) {
	m := chaintest.NewMockGateway(chain.KindEVM, self)
	m.Seed(entry(self, 100, 500))
	m.SubmitFn = func(ctx context.Context, _ chain.Mutation) (chain.TxHandle, error) {
		return chain.TxHandle{}, context.Canceled
	}
	c := newController(t, m)

	_, err := c.Reposition(context.Background(), big.NewInt(200))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, relayer.Registered, c.State())

	_, err = c.Reposition(context.Background(), big.NewInt(1))
	require.ErrorIs(t, err, context.Canceled)
}

package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"

	"feemarket/domain/orderbook"
	"feemarket/domain/relayer"
	"feemarket/infra/chain"
	"feemarket/infra/logging"
)

var (
	registry = common.HexToAddress("0x000000000000000000000000000000000000fee0")
	relayerA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	relayerB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

// fakeBackend answers registry view calls from fixtures and records sends.
type fakeBackend struct {
	mu sync.Mutex

	head     uint64
	book     []orderbook.Entry
	relayers map[common.Address]bool
	perOrder *big.Int
	balance  *big.Int

	estimateErr error
	sent        []*types.Transaction
	receipts    map[common.Hash]*types.Receipt
	lookups     int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		head: 100,
		book: []orderbook.Entry{
			{Address: relayerA, Fee: big.NewInt(50), Collateral: big.NewInt(1000), Locked: big.NewInt(10)},
			{Address: relayerB, Fee: big.NewInt(100), Collateral: big.NewInt(2000), Locked: big.NewInt(0)},
		},
		relayers: map[common.Address]bool{relayerA: true, relayerB: true},
		perOrder: big.NewInt(300),
		balance:  big.NewInt(5000),
		receipts: map[common.Hash]*types.Receipt{},
	}
}

func (b *fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (b *fakeBackend) PendingCodeAt(context.Context, common.Address) ([]byte, error) {
	return []byte{0x60}, nil
}

func (b *fakeBackend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	method, err := parsedABI.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "relayerCount":
		return method.Outputs.Pack(big.NewInt(int64(len(b.book))))
	case "collateralPerOrder":
		return method.Outputs.Pack(b.perOrder)
	case "isRelayer":
		return method.Outputs.Pack(b.relayers[args[0].(common.Address)])
	case "getOrderBook":
		count := int(args[0].(*big.Int).Int64())
		var (
			addrs []common.Address
			fees  []*big.Int
			colls []*big.Int
			locks []*big.Int
		)
		for _, e := range b.book[:count] {
			addrs = append(addrs, e.Address)
			fees = append(fees, e.Fee)
			colls = append(colls, e.Collateral)
			locks = append(locks, e.Locked)
		}
		return method.Outputs.Pack(big.NewInt(int64(count)), addrs, fees, colls, locks)
	}
	return nil, errors.New("unexpected call " + method.Name)
}

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if b.estimateErr != nil {
		return 0, b.estimateErr
	}
	return 100_000, nil
}

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (b *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (b *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: new(big.Int).SetUint64(b.head)}, nil
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(len(b.sent)), nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (b *fakeBackend) SubscribeFilterLogs(context.Context, ethereum.FilterQuery, chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("not supported")
}

func (b *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return b.balance, nil
}

func (b *fakeBackend) BlockNumber(context.Context) (uint64, error) { return b.head, nil }

func (b *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lookups++
	r, ok := b.receipts[h]
	if !ok || b.lookups < 2 {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func newTestGateway(t *testing.T, b *fakeBackend) (*Gateway, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(1337))
	require.NoError(t, err)

	g := NewGateway(Config{
		Registry:     registry,
		MinFee:       big.NewInt(10),
		PollInterval: time.Millisecond,
	}, b, wallet, logging.NewNopLogger())
	return g, key
}

func TestSelectorsMatchKeccak(t *testing.T) {
	sigs := map[string]string{
		"enroll":       "enroll(address,uint256)",
		"move":         "move(address,address,uint256)",
		"leave":        "leave(address)",
		"deposit":      "deposit()",
		"withdraw":     "withdraw(uint256)",
		"getOrderBook": "getOrderBook(uint256,bool)",
	}
	for name, sig := range sigs {
		h := sha3.NewLegacyKeccak256()
		h.Write([]byte(sig))
		assert.Equal(t, h.Sum(nil)[:4], parsedABI.Methods[name].ID, name)
	}
}

func TestFetchSnapshot(t *testing.T) {
	g, _ := newTestGateway(t, newFakeBackend())

	snap, err := g.FetchSnapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, snap.Len())
	assert.Equal(t, relayerA, snap.At(0).Address)
	assert.Equal(t, int64(10), snap.At(0).Locked.Int64())
	assert.Equal(t, int64(100), snap.At(1).Fee.Int64())
	assert.Equal(t, uint64(100), snap.Height())
}

func TestFetchSnapshotRejectsUnsortedView(t *testing.T) {
	b := newFakeBackend()
	b.book[0].Fee = big.NewInt(500)
	g, _ := newTestGateway(t, b)

	_, err := g.FetchSnapshot(context.Background())
	require.Error(t, err)
	assert.True(t, relayer.IsKind(err, relayer.NetworkFailure))
	assert.ErrorIs(t, err, orderbook.ErrUnsorted)
}

func TestReads(t *testing.T) {
	g, _ := newTestGateway(t, newFakeBackend())
	ctx := context.Background()

	ok, err := g.IsRegistered(ctx, relayerA)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.IsRegistered(ctx, common.HexToAddress("0x01"))
	require.NoError(t, err)
	assert.False(t, ok)

	minColl, err := g.MinimumCollateral(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(300), minColl.Int64())

	minFee, err := g.MinimumFee(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), minFee.Int64())

	bal, err := g.FetchBalance(ctx, relayerA)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), bal.Total.Int64())
	assert.Equal(t, int64(5000), bal.Available.Int64())
}

func TestSubmitEncodesArgumentsInRegistryOrder(t *testing.T) {
	b := newFakeBackend()
	g, _ := newTestGateway(t, b)
	ctx := context.Background()

	_, err := g.Submit(ctx, chain.Move{
		OldPrev: orderbook.PointerTo(relayerA),
		NewPrev: orderbook.Sentinel,
		Fee:     big.NewInt(75),
	})
	require.NoError(t, err)

	require.Len(t, b.sent, 1)
	data := b.sent[0].Data()
	method, err := parsedABI.MethodById(data[:4])
	require.NoError(t, err)
	assert.Equal(t, "move", method.Name)

	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, relayerA, args[0])
	assert.Equal(t, orderbook.SentinelAddress, args[1])
	assert.Equal(t, int64(75), args[2].(*big.Int).Int64())
	assert.Equal(t, registry, *b.sent[0].To())
}

func TestSubmitInsertSendsCollateralAsValue(t *testing.T) {
	b := newFakeBackend()
	g, _ := newTestGateway(t, b)

	h, err := g.Submit(context.Background(), chain.Insert{
		Prev:       orderbook.PointerTo(relayerB),
		Fee:        big.NewInt(120),
		Collateral: big.NewInt(700),
	})
	require.NoError(t, err)
	assert.Equal(t, chain.KindEVM, h.Kind)
	assert.Equal(t, "enroll", h.Method)
	assert.True(t, h.Pointers())

	require.Len(t, b.sent, 1)
	assert.Equal(t, int64(700), b.sent[0].Value().Int64())
}

func TestSubmitClassifiesReverts(t *testing.T) {
	b := newFakeBackend()
	b.estimateErr = errors.New("execution reverted: !prev")
	g, _ := newTestGateway(t, b)
	ctx := context.Background()

	_, err := g.Submit(ctx, chain.Remove{Prev: orderbook.Sentinel})
	assert.True(t, relayer.IsKind(err, relayer.StalePointer), err)

	_, err = g.Submit(ctx, chain.Withdraw{Amount: big.NewInt(1)})
	assert.True(t, relayer.IsKind(err, relayer.Reverted), err)

	b.estimateErr = errors.New("dial tcp: connection refused")
	_, err = g.Submit(ctx, chain.Deposit{Amount: big.NewInt(1)})
	assert.True(t, relayer.IsKind(err, relayer.NetworkFailure), err)
	assert.Empty(t, b.sent)
}

func TestSubmitWalletRejection(t *testing.T) {
	g, _ := newTestGateway(t, newFakeBackend())
	g.wallet.Signer = func(common.Address, *types.Transaction) (*types.Transaction, error) {
		return nil, errors.New("User rejected the request.")
	}
	_, err := g.Submit(context.Background(), chain.Deposit{Amount: big.NewInt(1)})
	assert.True(t, relayer.IsKind(err, relayer.WalletRejected), err)

	g.wallet.Signer = func(common.Address, *types.Transaction) (*types.Transaction, error) {
		return nil, ErrSignerRejected
	}
	_, err = g.Submit(context.Background(), chain.Deposit{Amount: big.NewInt(1)})
	assert.True(t, relayer.IsKind(err, relayer.WalletRejected), err)
}

func TestAwaitConfirmation(t *testing.T) {
	b := newFakeBackend()
	g, _ := newTestGateway(t, b)

	ok := chain.TxHandle{Kind: chain.KindEVM, Hash: common.HexToHash("0x01"), Method: "enroll"}
	b.receipts[ok.Hash] = &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: ok.Hash, BlockNumber: big.NewInt(101)}

	rcpt, err := g.AwaitConfirmation(context.Background(), ok)
	require.NoError(t, err)
	assert.Equal(t, uint64(101), rcpt.BlockNumber)

	stale := chain.TxHandle{Kind: chain.KindEVM, Hash: common.HexToHash("0x02"), Method: "move"}
	b.receipts[stale.Hash] = &types.Receipt{Status: types.ReceiptStatusFailed, TxHash: stale.Hash, BlockNumber: big.NewInt(102)}
	_, err = g.AwaitConfirmation(context.Background(), stale)
	assert.True(t, relayer.IsKind(err, relayer.StalePointer), err)

	reverted := chain.TxHandle{Kind: chain.KindEVM, Hash: common.HexToHash("0x03"), Method: "withdraw"}
	b.receipts[reverted.Hash] = &types.Receipt{Status: types.ReceiptStatusFailed, TxHash: reverted.Hash, BlockNumber: big.NewInt(103)}
	_, err = g.AwaitConfirmation(context.Background(), reverted)
	assert.True(t, relayer.IsKind(err, relayer.Reverted), err)
}

func TestAwaitConfirmationStopsOnCancel(t *testing.T) {
	g, _ := newTestGateway(t, newFakeBackend())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.AwaitConfirmation(ctx, chain.TxHandle{Hash: common.HexToHash("0x09")})
	assert.ErrorIs(t, err, context.Canceled)
}

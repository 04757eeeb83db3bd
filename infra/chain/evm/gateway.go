// Package evm implements chain.ListGateway against the fee market registry
// contract, reading its linked-list view and sending pointer-carrying
// transactions through go-ethereum's bound contract.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"feemarket/domain/orderbook"
	"feemarket/domain/relayer"
	"feemarket/infra/chain"
	"feemarket/infra/logging"
)

// Backend is the node access the gateway needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config holds the registry location and the values the contract does not expose.
type Config struct {
	Registry common.Address
	// MinFee is the protocol minimum quote.
	MinFee *big.Int
	// PollInterval is how often AwaitConfirmation checks for a receipt.
	PollInterval time.Duration
}

// Gateway talks to one registry contract on behalf of one wallet.
type Gateway struct {
	cfg      Config
	backend  Backend
	contract *bind.BoundContract
	wallet   *bind.TransactOpts
	logger   logging.Logger
}

var _ chain.ListGateway = (*Gateway)(nil)

// NewGateway binds the registry at cfg.Registry. wallet signs every
// submission; its From is the relayer identity.
func NewGateway(cfg Config, backend Backend, wallet *bind.TransactOpts, logger logging.Logger) *Gateway {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MinFee == nil {
		cfg.MinFee = new(big.Int)
	}
	return &Gateway{
		cfg:      cfg,
		backend:  backend,
		contract: bind.NewBoundContract(cfg.Registry, parsedABI, backend, backend, backend),
		wallet:   wallet,
		logger:   logger.With("module", "evm-gateway", "registry", cfg.Registry.Hex()),
	}
}

func (g *Gateway) Kind() chain.ChainKind { return chain.KindEVM }

// Wallet returns the signing account.
func (g *Gateway) Wallet() common.Address {
	if g.wallet == nil {
		return common.Address{}
	}
	return g.wallet.From
}

// ──────────────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────────────

// FetchSnapshot reads relayerCount and getOrderBook at the same block.
func (g *Gateway) FetchSnapshot(ctx context.Context) (*orderbook.Snapshot, error) {
	head, err := g.backend.BlockNumber(ctx)
	if err != nil {
		return nil, readErr("fetch snapshot", err)
	}
	opts := &bind.CallOpts{Context: ctx, BlockNumber: new(big.Int).SetUint64(head)}

	count, err := g.callUint(opts, "relayerCount")
	if err != nil {
		return nil, readErr("fetch snapshot", err)
	}

	var out []interface{}
	if err := g.contract.Call(opts, &out, "getOrderBook", count, true); err != nil {
		return nil, readErr("fetch snapshot", err)
	}
	entries, err := decodeOrderBook(out)
	if err != nil {
		return nil, readErr("fetch snapshot", err)
	}

	snap, err := orderbook.NewSnapshotAt(entries, head, time.Now())
	if err != nil {
		return nil, readErr("fetch snapshot", err)
	}
	g.logger.Debug("fetched order book", "height", head, "relayers", snap.Len())
	return snap, nil
}

// decodeOrderBook turns the registry's parallel arrays into entries.
func decodeOrderBook(out []interface{}) ([]orderbook.Entry, error) {
	if len(out) != 5 {
		return nil, fmt.Errorf("getOrderBook: expected 5 outputs, got %d", len(out))
	}
	addrs, ok1 := out[1].([]common.Address)
	fees, ok2 := out[2].([]*big.Int)
	colls, ok3 := out[3].([]*big.Int)
	locks, ok4 := out[4].([]*big.Int)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, errors.New("getOrderBook: unexpected output types")
	}
	if len(fees) != len(addrs) || len(colls) != len(addrs) || len(locks) != len(addrs) {
		return nil, errors.New("getOrderBook: array lengths differ")
	}

	entries := make([]orderbook.Entry, len(addrs))
	for i := range addrs {
		entries[i] = orderbook.Entry{
			Address:    addrs[i],
			Fee:        fees[i],
			Collateral: colls[i],
			Locked:     locks[i],
		}
	}
	return entries, nil
}

// FetchBalance returns the wallet's native balance. EVM accounts have no
// reserved portion, so Total and Available are equal.
func (g *Gateway) FetchBalance(ctx context.Context, addr common.Address) (chain.Balance, error) {
	bal, err := g.backend.BalanceAt(ctx, addr, nil)
	if err != nil {
		return chain.Balance{}, readErr("fetch balance", err)
	}
	return chain.Balance{Total: bal, Available: new(big.Int).Set(bal)}, nil
}

func (g *Gateway) IsRegistered(ctx context.Context, addr common.Address) (bool, error) {
	var out []interface{}
	if err := g.contract.Call(&bind.CallOpts{Context: ctx}, &out, "isRelayer", addr); err != nil {
		return false, readErr("is registered", err)
	}
	if len(out) != 1 {
		return false, readErr("is registered", errors.New("isRelayer: unexpected output"))
	}
	ok, isBool := out[0].(bool)
	if !isBool {
		return false, readErr("is registered", errors.New("isRelayer: unexpected output type"))
	}
	return ok, nil
}

func (g *Gateway) MinimumFee(context.Context) (*big.Int, error) {
	return new(big.Int).Set(g.cfg.MinFee), nil
}

// MinimumCollateral is the collateral one order locks; a relayer holding
// less could never be assigned.
func (g *Gateway) MinimumCollateral(ctx context.Context) (*big.Int, error) {
	v, err := g.callUint(&bind.CallOpts{Context: ctx}, "collateralPerOrder")
	if err != nil {
		return nil, readErr("minimum collateral", err)
	}
	return v, nil
}

func (g *Gateway) callUint(opts *bind.CallOpts, method string) (*big.Int, error) {
	var out []interface{}
	if err := g.contract.Call(opts, &out, method); err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s: unexpected output", method)
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected output type", method)
	}
	return v, nil
}

// ──────────────────────────────────────────────────────────
// Writes
// ──────────────────────────────────────────────────────────

// Submit signs and sends m. Argument order follows the registry ABI.
func (g *Gateway) Submit(ctx context.Context, m chain.Mutation) (chain.TxHandle, error) {
	args, err := mutationArgs(m)
	if err != nil {
		return chain.TxHandle{}, err
	}
	if g.wallet == nil {
		return chain.TxHandle{}, relayer.NewError(relayer.WalletRejected, m.Method(), "no wallet connected")
	}

	opts := *g.wallet
	opts.Context = ctx
	opts.Value = m.Value()

	tx, err := g.contract.Transact(&opts, m.Method(), args...)
	if err != nil {
		err = classify(m.Method(), err, chain.PointerMutation(m))
		g.logger.Error("submit failed", "mutation", m.String(), "err", err)
		return chain.TxHandle{}, err
	}

	g.logger.Info("submitted", "mutation", m.String(), "tx", tx.Hash().Hex(), "nonce", tx.Nonce())
	return chain.TxHandle{Kind: chain.KindEVM, Hash: tx.Hash(), Method: m.Method()}, nil
}

func mutationArgs(m chain.Mutation) ([]interface{}, error) {
	switch m := m.(type) {
	case chain.Insert:
		return []interface{}{m.Prev.Address(), nonNil(m.Fee)}, nil
	case chain.Move:
		return []interface{}{m.OldPrev.Address(), m.NewPrev.Address(), nonNil(m.Fee)}, nil
	case chain.Remove:
		return []interface{}{m.Prev.Address()}, nil
	case chain.Deposit:
		return nil, nil
	case chain.Withdraw:
		return []interface{}{nonNil(m.Amount)}, nil
	default:
		return nil, fmt.Errorf("evm: unsupported mutation %T", m)
	}
}

// AwaitConfirmation polls for the receipt until it exists or ctx ends.
// A reverted list mutation reports StalePointer.
func (g *Gateway) AwaitConfirmation(ctx context.Context, h chain.TxHandle) (*chain.Receipt, error) {
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	for {
		rcpt, err := g.backend.TransactionReceipt(ctx, h.Hash)
		switch {
		case err == nil && rcpt != nil:
			return g.settle(h, rcpt)
		case err != nil && !errors.Is(err, ethereum.NotFound):
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			g.logger.Debug("receipt lookup failed", "tx", h.Hash.Hex(), "err", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (g *Gateway) settle(h chain.TxHandle, rcpt *types.Receipt) (*chain.Receipt, error) {
	out := &chain.Receipt{
		TxHash:    rcpt.TxHash,
		BlockHash: rcpt.BlockHash,
		GasUsed:   rcpt.GasUsed,
	}
	if rcpt.BlockNumber != nil {
		out.BlockNumber = rcpt.BlockNumber.Uint64()
	}
	if rcpt.Status == types.ReceiptStatusSuccessful {
		return out, nil
	}

	kind := relayer.Reverted
	if h.Pointers() {
		kind = relayer.StalePointer
	}
	g.logger.Error("transaction reverted", "tx", h.Hash.Hex(), "method", h.Method, "block", out.BlockNumber)
	return out, relayer.NewError(kind, h.Method, fmt.Sprintf("transaction %s reverted in block %d", h.Hash.Hex(), out.BlockNumber))
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

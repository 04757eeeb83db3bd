// Package ledger implements chain.SetGateway for the fee market pallet.
// The pallet keeps relayers in a bounded, unordered set and orders them
// itself, so no pointers are ever derived for it: mutations are sent as
// native calls signed by an injected ExtrinsicSigner.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"feemarket/domain/orderbook"
	"feemarket/domain/relayer"
	"feemarket/infra/chain"
	"feemarket/infra/logging"
)

// RPC method names served by the node's fee market extension.
const (
	methodRelayers        = "feeMarket_relayers"
	methodIsRelayer       = "feeMarket_isRelayer"
	methodBalance         = "feeMarket_balance"
	methodMinimums        = "feeMarket_minimums"
	methodSubmitExtrinsic = "feeMarket_submitExtrinsic"
	methodExtrinsicStatus = "feeMarket_extrinsicStatus"
)

// Extrinsic statuses reported by feeMarket_extrinsicStatus.
const (
	StatusPending   = "pending"
	StatusInBlock   = "in_block"
	StatusFinalized = "finalized"
	StatusFailed    = "failed"
)

// ExtrinsicSigner builds and signs the extrinsic for a native call.
// It is the wallet; a refusal should wrap ErrSignerRejected.
type ExtrinsicSigner interface {
	Account() common.Address
	Sign(ctx context.Context, call chain.NativeCall) ([]byte, error)
}

// ErrSignerRejected is returned by signers when the user declines.
var ErrSignerRejected = errors.New("ledger: signer rejected extrinsic")

// RelayerJSON is one element of feeMarket_relayers.
type RelayerJSON struct {
	Address    common.Address `json:"address"`
	Fee        *hexutil.Big   `json:"fee"`
	Collateral *hexutil.Big   `json:"collateral"`
	Locked     *hexutil.Big   `json:"locked"`
}

// BalanceJSON is the result of feeMarket_balance.
type BalanceJSON struct {
	Total *hexutil.Big `json:"total"`
	Free  *hexutil.Big `json:"free"`
}

// MinimumsJSON is the result of feeMarket_minimums.
type MinimumsJSON struct {
	MinFee        *hexutil.Big `json:"minFee"`
	MinCollateral *hexutil.Big `json:"minCollateral"`
}

// StatusJSON is the result of feeMarket_extrinsicStatus.
type StatusJSON struct {
	Status      string         `json:"status"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	BlockHash   common.Hash    `json:"blockHash"`
	Error       string         `json:"error,omitempty"`
}

// Config tunes confirmation polling.
type Config struct {
	PollInterval time.Duration
	// Finalized waits for finality instead of block inclusion.
	Finalized bool
}

// Gateway talks to a node over JSON-RPC on behalf of one signer.
type Gateway struct {
	cfg    Config
	client *rpc.Client
	signer ExtrinsicSigner
	logger logging.Logger
}

var _ chain.SetGateway = (*Gateway)(nil)

func NewGateway(cfg Config, client *rpc.Client, signer ExtrinsicSigner, logger logging.Logger) *Gateway {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Gateway{
		cfg:    cfg,
		client: client,
		signer: signer,
		logger: logger.With("module", "ledger-gateway"),
	}
}

func (g *Gateway) Kind() chain.ChainKind { return chain.KindLedger }

// Wallet returns the signing account.
func (g *Gateway) Wallet() common.Address {
	if g.signer == nil {
		return common.Address{}
	}
	return g.signer.Account()
}

// FetchSnapshot reads the relayer set. The set has no order of its own;
// it is sorted by fee then address so it satisfies the snapshot invariant
// for display. Pointers are never derived from it.
func (g *Gateway) FetchSnapshot(ctx context.Context) (*orderbook.Snapshot, error) {
	var raw []RelayerJSON
	if err := g.client.CallContext(ctx, &raw, methodRelayers); err != nil {
		return nil, readErr("fetch snapshot", err)
	}

	entries := make([]orderbook.Entry, len(raw))
	for i, r := range raw {
		entries[i] = orderbook.Entry{
			Address:    r.Address,
			Fee:        toBig(r.Fee),
			Collateral: toBig(r.Collateral),
			Locked:     toBig(r.Locked),
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if c := entries[i].Fee.Cmp(entries[j].Fee); c != 0 {
			return c < 0
		}
		return strings.Compare(entries[i].Address.Hex(), entries[j].Address.Hex()) < 0
	})

	snap, err := orderbook.NewSnapshotAt(entries, 0, time.Now())
	if err != nil {
		return nil, readErr("fetch snapshot", err)
	}
	return snap, nil
}

func (g *Gateway) FetchBalance(ctx context.Context, addr common.Address) (chain.Balance, error) {
	var b BalanceJSON
	if err := g.client.CallContext(ctx, &b, methodBalance, addr); err != nil {
		return chain.Balance{}, readErr("fetch balance", err)
	}
	return chain.Balance{Total: toBig(b.Total), Available: toBig(b.Free)}, nil
}

func (g *Gateway) IsRegistered(ctx context.Context, addr common.Address) (bool, error) {
	var ok bool
	if err := g.client.CallContext(ctx, &ok, methodIsRelayer, addr); err != nil {
		return false, readErr("is registered", err)
	}
	return ok, nil
}

func (g *Gateway) MinimumFee(ctx context.Context) (*big.Int, error) {
	m, err := g.minimums(ctx)
	if err != nil {
		return nil, err
	}
	return toBig(m.MinFee), nil
}

func (g *Gateway) MinimumCollateral(ctx context.Context) (*big.Int, error) {
	m, err := g.minimums(ctx)
	if err != nil {
		return nil, err
	}
	return toBig(m.MinCollateral), nil
}

func (g *Gateway) minimums(ctx context.Context) (MinimumsJSON, error) {
	var m MinimumsJSON
	if err := g.client.CallContext(ctx, &m, methodMinimums); err != nil {
		return MinimumsJSON{}, readErr("minimums", err)
	}
	return m, nil
}

// SubmitNative signs c with the injected signer and submits it.
func (g *Gateway) SubmitNative(ctx context.Context, c chain.NativeCall) (chain.TxHandle, error) {
	if g.signer == nil {
		return chain.TxHandle{}, relayer.NewError(relayer.WalletRejected, c.Call(), "no signer connected")
	}
	xt, err := g.signer.Sign(ctx, c)
	if err != nil {
		if errors.Is(err, ErrSignerRejected) {
			return chain.TxHandle{}, relayer.WrapError(relayer.WalletRejected, c.Call(), err)
		}
		return chain.TxHandle{}, relayer.WrapError(relayer.NetworkFailure, c.Call(), err)
	}

	var hash common.Hash
	if err := g.client.CallContext(ctx, &hash, methodSubmitExtrinsic, hexutil.Bytes(xt)); err != nil {
		err = submitErr(c.Call(), err)
		g.logger.Error("submit failed", "call", c.String(), "err", err)
		return chain.TxHandle{}, err
	}

	g.logger.Info("submitted", "call", c.String(), "extrinsic", hash.Hex())
	return chain.TxHandle{Kind: chain.KindLedger, Hash: hash, Method: c.Call()}, nil
}

// AwaitConfirmation polls the extrinsic status until it is included (or
// finalized, per config), fails, or ctx ends.
func (g *Gateway) AwaitConfirmation(ctx context.Context, h chain.TxHandle) (*chain.Receipt, error) {
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	for {
		var st StatusJSON
		err := g.client.CallContext(ctx, &st, methodExtrinsicStatus, h.Hash)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			g.logger.Debug("status lookup failed", "extrinsic", h.Hash.Hex(), "err", err)
		} else {
			switch st.Status {
			case StatusFinalized:
				return receipt(h, st), nil
			case StatusInBlock:
				if !g.cfg.Finalized {
					return receipt(h, st), nil
				}
			case StatusFailed:
				return receipt(h, st), relayer.NewError(relayer.Reverted, h.Method,
					fmt.Sprintf("extrinsic %s failed: %s", h.Hash.Hex(), st.Error))
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func receipt(h chain.TxHandle, st StatusJSON) *chain.Receipt {
	return &chain.Receipt{
		TxHash:      h.Hash,
		BlockHash:   st.BlockHash,
		BlockNumber: uint64(st.BlockNumber),
	}
}

func submitErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// Errors the node returned are rejections of the extrinsic itself;
	// anything else never reached it.
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return relayer.WrapError(relayer.Reverted, op, err)
	}
	return relayer.WrapError(relayer.NetworkFailure, op, err)
}

func readErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return relayer.WrapError(relayer.NetworkFailure, op, err)
}

func toBig(v *hexutil.Big) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v.ToInt())
}

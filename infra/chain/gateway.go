// Package chain defines how the lifecycle controller talks to the remote
// fee market registry. Two backends exist: an EVM contract that keeps the
// relayers in a sorted linked list (ListGateway) and a ledger pallet that
// keeps them in an unordered bounded set (SetGateway). A controller picks
// the variant once, from Kind, when it is constructed.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"feemarket/domain/orderbook"
)

// ChainKind tags the registry backend.
type ChainKind uint8

const (
	KindEVM ChainKind = iota + 1
	KindLedger
)

func (k ChainKind) String() string {
	switch k {
	case KindEVM:
		return "evm"
	case KindLedger:
		return "ledger"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind maps a config value to a ChainKind.
func ParseKind(s string) (ChainKind, error) {
	switch s {
	case "evm":
		return KindEVM, nil
	case "ledger":
		return KindLedger, nil
	}
	return 0, fmt.Errorf("unknown chain kind %q", s)
}

// Balance is a wallet balance. Available is what can be spent now.
type Balance struct {
	Total     *big.Int
	Available *big.Int
}

// TxHandle identifies a submitted transaction or extrinsic.
type TxHandle struct {
	Kind ChainKind
	Hash common.Hash
	// Method is the registry method or pallet call that was submitted.
	Method string
}

func (h TxHandle) String() string { return h.Hash.Hex() }

// Pointers reports whether the submission carried list pointers.
func (h TxHandle) Pointers() bool {
	switch h.Method {
	case Insert{}.Method(), Move{}.Method(), Remove{}.Method():
		return h.Kind == KindEVM
	}
	return false
}

// Receipt is the confirmation of a successful submission.
type Receipt struct {
	TxHash      common.Hash
	BlockHash   common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// Gateway is the read side shared by both backends, plus confirmation.
//
// Errors from FetchSnapshot, FetchBalance, IsRegistered and the minimums are
// *relayer.Error values of kind NetworkFailure. AwaitConfirmation returns
// StalePointer, Reverted or NetworkFailure, or the context error when the
// caller stops waiting.
type Gateway interface {
	Kind() ChainKind
	FetchSnapshot(ctx context.Context) (*orderbook.Snapshot, error)
	FetchBalance(ctx context.Context, addr common.Address) (Balance, error)
	IsRegistered(ctx context.Context, addr common.Address) (bool, error)
	MinimumFee(ctx context.Context) (*big.Int, error)
	MinimumCollateral(ctx context.Context) (*big.Int, error)
	AwaitConfirmation(ctx context.Context, h TxHandle) (*Receipt, error)
}

// ListGateway submits pointer-carrying mutations to a linked-list registry.
type ListGateway interface {
	Gateway
	Submit(ctx context.Context, m Mutation) (TxHandle, error)
}

// SetGateway submits native calls to a set-backed registry.
type SetGateway interface {
	Gateway
	SubmitNative(ctx context.Context, c NativeCall) (TxHandle, error)
}

package service

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"feemarket/domain/collateral"
	"feemarket/domain/orderbook"
	"feemarket/domain/relayer"
	"feemarket/infra/chain"
)

// submission is a write that has been planned against one snapshot and
// not yet sent.
type submission struct {
	desc string
	send func(ctx context.Context) (chain.TxHandle, error)
	// amount is reported in the lifecycle event.
	amount *big.Int
}

// planner turns a lifecycle operation into a chain write. The list planner
// derives pointers from the snapshot; the set planner ignores it.
type planner interface {
	enroll(s *orderbook.Snapshot, fee, coll *big.Int) submission
	reposition(s *orderbook.Snapshot, fee *big.Int) (submission, error)
	remove(s *orderbook.Snapshot) (submission, error)
	adjust(d collateral.Delta, target *big.Int) submission
}

func newPlanner(gw chain.Gateway, self common.Address) (planner, error) {
	switch gw.Kind() {
	case chain.KindEVM:
		lg, ok := gw.(chain.ListGateway)
		if !ok {
			return nil, errors.Errorf("%T reports kind %s but cannot submit list mutations", gw, gw.Kind())
		}
		return &listPlanner{gw: lg, self: self}, nil
	case chain.KindLedger:
		sg, ok := gw.(chain.SetGateway)
		if !ok {
			return nil, errors.Errorf("%T reports kind %s but cannot submit native calls", gw, gw.Kind())
		}
		return &setPlanner{gw: sg}, nil
	default:
		return nil, errors.Errorf("unsupported chain kind %s", gw.Kind())
	}
}

// ──────────────────────────────────────────────────────────
// Linked-list registry
// ──────────────────────────────────────────────────────────

type listPlanner struct {
	gw   chain.ListGateway
	self common.Address
}

func (p *listPlanner) mutation(m chain.Mutation) submission {
	return submission{
		desc: m.String(),
		send: func(ctx context.Context) (chain.TxHandle, error) { return p.gw.Submit(ctx, m) },
	}
}

// enroll resolves without self: the relayer is not in the list yet.
func (p *listPlanner) enroll(s *orderbook.Snapshot, fee, coll *big.Int) submission {
	prev := orderbook.ResolveInsertionPointer(s, fee, nil)
	return p.mutation(chain.Insert{Prev: prev, Fee: fee, Collateral: coll})
}

func (p *listPlanner) reposition(s *orderbook.Snapshot, fee *big.Int) (submission, error) {
	ptrs := orderbook.ResolveMovePointers(s, p.self, fee)
	if ptrs.Removal == nil {
		return submission{}, notPresent(relayer.OpReposition, p.self)
	}
	return p.mutation(chain.Move{OldPrev: *ptrs.Removal, NewPrev: ptrs.Insertion, Fee: fee}), nil
}

func (p *listPlanner) remove(s *orderbook.Snapshot) (submission, error) {
	prev, ok := orderbook.ResolveRemovalPointer(s, p.self)
	if !ok {
		return submission{}, notPresent(relayer.OpRemove, p.self)
	}
	return p.mutation(chain.Remove{Prev: prev}), nil
}

func (p *listPlanner) adjust(d collateral.Delta, _ *big.Int) submission {
	if d.Action == collateral.Increase {
		return p.mutation(chain.Deposit{Amount: d.Amount})
	}
	return p.mutation(chain.Withdraw{Amount: d.Amount})
}

// ──────────────────────────────────────────────────────────
// Set registry
// ──────────────────────────────────────────────────────────

type setPlanner struct {
	gw chain.SetGateway
}

func (p *setPlanner) call(c chain.NativeCall) submission {
	return submission{
		desc: c.String(),
		send: func(ctx context.Context) (chain.TxHandle, error) { return p.gw.SubmitNative(ctx, c) },
	}
}

func (p *setPlanner) enroll(_ *orderbook.Snapshot, fee, coll *big.Int) submission {
	return p.call(chain.EnrollAndLockCollateral{Collateral: coll, Fee: fee})
}

func (p *setPlanner) reposition(_ *orderbook.Snapshot, fee *big.Int) (submission, error) {
	return p.call(chain.UpdateRelayFee{Fee: fee}), nil
}

func (p *setPlanner) remove(*orderbook.Snapshot) (submission, error) {
	return p.call(chain.CancelEnrollment{}), nil
}

// adjust sends the target, not the delta: the pallet sets collateral to
// an absolute value.
func (p *setPlanner) adjust(_ collateral.Delta, target *big.Int) submission {
	return p.call(chain.UpdateLockedCollateral{Collateral: target})
}

func notPresent(op relayer.Op, addr common.Address) error {
	return relayer.NewError(relayer.NotPresent, op.String(), addr.Hex()+" is not in the order book")
}

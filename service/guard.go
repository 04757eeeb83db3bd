package service

import (
	"sync/atomic"

	"feemarket/domain/relayer"
)

// flightGuard enforces one mutating operation at a time per relayer.
// It never queues: a caller that loses the race is told so immediately.
type flightGuard struct {
	busy atomic.Bool
	op   atomic.Uint32
}

// acquire claims the guard for op or returns OperationInProgress.
func (g *flightGuard) acquire(op relayer.Op) error {
	if !g.busy.CompareAndSwap(false, true) {
		return relayer.NewError(relayer.OperationInProgress, op.String(),
			relayer.Op(g.op.Load()).String()+" is in flight")
	}
	g.op.Store(uint32(op))
	return nil
}

func (g *flightGuard) release() {
	g.op.Store(0)
	g.busy.Store(false)
}

func (g *flightGuard) held() bool {
	return g.busy.Load()
}

package relayer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Event records one finished lifecycle transition.
// It is appended to the outbox and broadcast to downstream consumers,
// which refetch balances and registration state on receipt.
type Event struct {
	Seq     uint64
	OpID    string
	Relayer common.Address
	Op      Op
	From    State
	To      State
	TxHash  string
	// Amount is the fee for enroll/reposition and the collateral delta
	// for adjust_collateral. Nil for remove.
	Amount *big.Int
	Kind   ErrorKind
	Err    string
	Time   int64
}

// OK reports whether the transition succeeded.
func (e *Event) OK() bool {
	return e.Kind == KindUnknown && e.Err == ""
}

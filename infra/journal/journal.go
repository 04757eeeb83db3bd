// Package journal persists submissions and lifecycle events so that a
// restarted process can re-attach to transactions it did not see confirm,
// and so that events survive until they are broadcast.
package journal

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"feemarket/domain/relayer"
	"feemarket/infra/chain"
)

// -------------------- State --------------------

type State uint8

const (
	StatePending State = iota + 1
	StateConfirmed
	StateFailed
	StateDetached
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateConfirmed:
		return "CONFIRMED"
	case StateFailed:
		return "FAILED"
	case StateDetached:
		return "DETACHED"
	default:
		return "UNKNOWN"
	}
}

// Open reports whether the submission may still confirm.
func (s State) Open() bool {
	return s == StatePending || s == StateDetached
}

// -------------------- Record --------------------

// Record is one submission.
type Record struct {
	OpID    string
	Op      relayer.Op
	Relayer common.Address
	Chain   chain.ChainKind
	TxHash  common.Hash
	Method  string
	// From is the controller state the operation started in.
	From   relayer.State
	Amount *big.Int
	State  State
	Err    string
	// Created and Updated are unix nanoseconds.
	Created int64
	Updated int64
}

// Handle rebuilds the transaction handle the record was written for.
func (r Record) Handle() chain.TxHandle {
	return chain.TxHandle{Kind: r.Chain, Hash: r.TxHash, Method: r.Method}
}

// ErrNotFound is returned by Get for an unknown operation id.
var ErrNotFound = errors.New("journal: record not found")

// -------------------- Store --------------------

// Store is the journal plus the lifecycle event outbox.
type Store interface {
	// Put writes r, replacing any record with the same OpID.
	Put(r Record) error
	// Update moves an existing record to state with an optional error.
	Update(opID string, state State, errMsg string) error
	Get(opID string) (Record, error)
	// ScanByState calls fn for every record in state, oldest first.
	ScanByState(state State, fn func(Record) error) error

	// AppendEvent stores ev under ev.Seq.
	AppendEvent(ev relayer.Event) error
	// ScanEvents calls fn for every unacknowledged event in Seq order.
	ScanEvents(fn func(relayer.Event) error) error
	// AckEvent drops an event once it has been delivered.
	AckEvent(seq uint64) error
	// LastEventSeq is the highest Seq ever appended, acknowledged or not.
	LastEventSeq() (uint64, error)

	Close() error
}

// Backend names a Store implementation.
const (
	BackendPebble = "pebble"
	BackendSQLite = "sqlite"
)

// Open opens the store for backend rooted at dir.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case BackendPebble, "":
		return OpenPebble(dir)
	case BackendSQLite:
		return OpenSQLite(dir)
	default:
		return nil, errors.Errorf("journal: unknown backend %q", backend)
	}
}

package relayer

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure a lifecycle operation can report.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	BelowMinimumFee
	BelowMinimumCollateral
	InsufficientBalance
	NotPresent
	OperationInProgress
	StalePointer
	WalletRejected
	NetworkFailure
	InvalidState
	BelowLockedCollateral
	NegativeAmount
	Reverted
	Detached
)

func (k ErrorKind) String() string {
	switch k {
	case BelowMinimumFee:
		return "BelowMinimumFee"
	case BelowMinimumCollateral:
		return "BelowMinimumCollateral"
	case InsufficientBalance:
		return "InsufficientBalance"
	case NotPresent:
		return "NotPresent"
	case OperationInProgress:
		return "OperationInProgress"
	case StalePointer:
		return "StalePointer"
	case WalletRejected:
		return "WalletRejected"
	case NetworkFailure:
		return "NetworkFailure"
	case InvalidState:
		return "InvalidState"
	case BelowLockedCollateral:
		return "BelowLockedCollateral"
	case NegativeAmount:
		return "NegativeAmount"
	case Reverted:
		return "Reverted"
	case Detached:
		return "Detached"
	default:
		return "Unknown"
	}
}

// ParseErrorKind is the inverse of ErrorKind.String. Unknown names map to
// KindUnknown.
func ParseErrorKind(s string) ErrorKind {
	for k := BelowMinimumFee; k <= Detached; k++ {
		if k.String() == s {
			return k
		}
	}
	return KindUnknown
}

// Validation reports whether the kind is produced by input validation,
// which always blocks submission.
func (k ErrorKind) Validation() bool {
	switch k {
	case BelowMinimumFee, BelowMinimumCollateral, InsufficientBalance,
		BelowLockedCollateral, NegativeAmount:
		return true
	}
	return false
}

// Error is the single error type surfaced by the lifecycle controller.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

// NewError creates an Error without an underlying cause.
func NewError(kind ErrorKind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// WrapError attaches a kind and operation to err. A nil err stays nil.
func WrapError(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Op != "" && msg != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so callers can write
// errors.Is(err, relayer.ErrOperationInProgress).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrOperationInProgress = &Error{Kind: OperationInProgress}
	ErrDetached            = &Error{Kind: Detached}
	ErrNotPresent          = &Error{Kind: NotPresent}
	ErrStalePointer        = &Error{Kind: StalePointer}
	ErrWalletRejected      = &Error{Kind: WalletRejected}
	ErrNetworkFailure      = &Error{Kind: NetworkFailure}
	ErrReverted            = &Error{Kind: Reverted}
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

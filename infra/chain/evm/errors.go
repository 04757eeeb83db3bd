package evm

import (
	"context"
	"errors"
	"strings"

	"feemarket/domain/relayer"
)

// ErrSignerRejected is what a wallet signer returns when the user declines.
var ErrSignerRejected = errors.New("evm: signer rejected transaction")

// rejection fragments wallets put in their refusal messages (EIP-1193 4001).
var rejection = []string{
	"user rejected",
	"user denied",
	"rejected by user",
	"request rejected",
}

// classify maps a submission error to the relayer taxonomy. pointers is
// true for list mutations, whose reverts mean the snapshot went stale.
func classify(op string, err error, pointers bool) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ErrSignerRejected) {
		return relayer.WrapError(relayer.WalletRejected, op, err)
	}

	msg := strings.ToLower(err.Error())
	for _, frag := range rejection {
		if strings.Contains(msg, frag) {
			return relayer.WrapError(relayer.WalletRejected, op, err)
		}
	}
	if strings.Contains(msg, "execution reverted") || strings.Contains(msg, "revert") {
		if pointers {
			return relayer.WrapError(relayer.StalePointer, op, err)
		}
		return relayer.WrapError(relayer.Reverted, op, err)
	}
	return relayer.WrapError(relayer.NetworkFailure, op, err)
}

// readErr wraps a failed view call.
func readErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return relayer.WrapError(relayer.NetworkFailure, op, err)
}

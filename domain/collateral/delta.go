// Package collateral computes how a relayer's registry deposit has to change
// to reach a target collateral. It only does arithmetic; whether the wallet
// can fund an increase is decided by package validation.
package collateral

import (
	"fmt"
	"math/big"
)

// Action is the direction of a collateral adjustment.
type Action uint8

const (
	NoOp Action = iota
	Increase
	Decrease
)

func (a Action) String() string {
	switch a {
	case NoOp:
		return "noop"
	case Increase:
		return "increase"
	case Decrease:
		return "decrease"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// Delta is a signed adjustment split into direction and magnitude.
type Delta struct {
	Action Action
	Amount *big.Int
}

// ComputeAction returns the adjustment that moves current to target.
// Inputs are assumed non-negative; nil reads as zero. available is accepted
// so both chain backends share one call shape but does not affect the result.
func ComputeAction(current, target, available *big.Int) Delta {
	_ = available

	cur, tgt := orZero(current), orZero(target)
	diff := new(big.Int).Sub(tgt, cur)

	switch diff.Sign() {
	case 0:
		return Delta{Action: NoOp, Amount: diff}
	case 1:
		return Delta{Action: Increase, Amount: diff}
	default:
		return Delta{Action: Decrease, Amount: diff.Neg(diff)}
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

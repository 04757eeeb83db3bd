// Package validation checks relayer inputs against protocol minimums and
// the wallet's spendable balance. Validators are pure and total: they return
// an Outcome and never panic or error.
package validation

import (
	"fmt"
	"math/big"

	"feemarket/domain/relayer"
)

// Outcome is the result of one validation.
type Outcome struct {
	OK      bool
	Kind    relayer.ErrorKind
	Message string
}

// Valid is the passing Outcome.
var Valid = Outcome{OK: true}

func fail(kind relayer.ErrorKind, format string, args ...any) Outcome {
	return Outcome{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Err converts a failing Outcome into a *relayer.Error for op; a passing
// Outcome yields nil.
func (o Outcome) Err(op string) error {
	if o.OK {
		return nil
	}
	return relayer.NewError(o.Kind, op, o.Message)
}

// ValidateFee rejects a quote below the protocol minimum.
func ValidateFee(fee, minFee *big.Int) Outcome {
	if v(fee).Cmp(v(minFee)) < 0 {
		return fail(relayer.BelowMinimumFee, "fee %s is below the minimum %s", v(fee), v(minFee))
	}
	return Valid
}

// ValidateCollateralIncrease rejects a deposit larger than the spendable balance.
func ValidateCollateralIncrease(delta, available *big.Int) Outcome {
	if v(delta).Cmp(v(available)) > 0 {
		return fail(relayer.InsufficientBalance, "deposit %s exceeds available balance %s", v(delta), v(available))
	}
	return Valid
}

// ValidateCollateralFloor rejects a target collateral below the protocol minimum.
func ValidateCollateralFloor(target, minCollateral *big.Int) Outcome {
	if v(target).Cmp(v(minCollateral)) < 0 {
		return fail(relayer.BelowMinimumCollateral, "collateral %s is below the minimum %s", v(target), v(minCollateral))
	}
	return Valid
}

// ValidateWithdrawable rejects a target collateral below what in-flight
// orders have locked.
func ValidateWithdrawable(target, locked *big.Int) Outcome {
	if v(target).Cmp(v(locked)) < 0 {
		return fail(relayer.BelowLockedCollateral, "collateral %s is below the locked amount %s", v(target), v(locked))
	}
	return Valid
}

// ValidateNonNegative rejects negative amounts before any arithmetic sees them.
func ValidateNonNegative(amount *big.Int) Outcome {
	if v(amount).Sign() < 0 {
		return fail(relayer.NegativeAmount, "amount %s is negative", v(amount))
	}
	return Valid
}

// ValidateRegistrationForm checks an enrollment: fee floor, collateral floor,
// then the collateral as a fresh deposit against the wallet balance.
// The first failing check is returned.
func ValidateRegistrationForm(fee, collateral, minFee, minCollateral, available *big.Int) Outcome {
	checks := []func() Outcome{
		func() Outcome { return ValidateNonNegative(fee) },
		func() Outcome { return ValidateNonNegative(collateral) },
		func() Outcome { return ValidateFee(fee, minFee) },
		func() Outcome { return ValidateCollateralFloor(collateral, minCollateral) },
		func() Outcome { return ValidateCollateralIncrease(collateral, available) },
	}
	for _, check := range checks {
		if o := check(); !o.OK {
			return o
		}
	}
	return Valid
}

var zero = new(big.Int)

func v(x *big.Int) *big.Int {
	if x == nil {
		return zero
	}
	return x
}

package chain

import (
	"fmt"
	"math/big"

	"feemarket/domain/orderbook"
)

// Mutation is a write against the linked-list registry. Field order follows
// the registry's argument order.
type Mutation interface {
	// Method is the registry method the mutation calls.
	Method() string
	// Value is the native amount sent along, nil for none.
	Value() *big.Int
	fmt.Stringer
	mutation()
}

// Insert enrolls the caller after Prev, locking Collateral.
type Insert struct {
	Prev       orderbook.Pointer
	Fee        *big.Int
	Collateral *big.Int
}

// Move takes the caller out after OldPrev and re-inserts it after NewPrev.
type Move struct {
	OldPrev orderbook.Pointer
	NewPrev orderbook.Pointer
	Fee     *big.Int
}

// Remove takes the caller out of the list; Prev is its predecessor.
type Remove struct {
	Prev orderbook.Pointer
}

// Deposit adds Amount to the caller's collateral.
type Deposit struct {
	Amount *big.Int
}

// Withdraw takes Amount out of the caller's collateral.
type Withdraw struct {
	Amount *big.Int
}

func (Insert) Method() string   { return "enroll" }
func (Move) Method() string     { return "move" }
func (Remove) Method() string   { return "leave" }
func (Deposit) Method() string  { return "deposit" }
func (Withdraw) Method() string { return "withdraw" }

func (m Insert) Value() *big.Int   { return m.Collateral }
func (Move) Value() *big.Int       { return nil }
func (Remove) Value() *big.Int     { return nil }
func (m Deposit) Value() *big.Int  { return m.Amount }
func (Withdraw) Value() *big.Int   { return nil }

func (m Insert) String() string {
	return fmt.Sprintf("enroll(prev=%s, fee=%s, value=%s)", m.Prev, m.Fee, m.Collateral)
}
func (m Move) String() string {
	return fmt.Sprintf("move(oldPrev=%s, newPrev=%s, fee=%s)", m.OldPrev, m.NewPrev, m.Fee)
}
func (m Remove) String() string   { return fmt.Sprintf("leave(prev=%s)", m.Prev) }
func (m Deposit) String() string  { return fmt.Sprintf("deposit(value=%s)", m.Amount) }
func (m Withdraw) String() string { return fmt.Sprintf("withdraw(amount=%s)", m.Amount) }

// PointerMutation reports whether m carries list pointers, which is what
// makes a rejected m a stale-pointer failure.
func PointerMutation(m Mutation) bool {
	switch m.(type) {
	case Insert, Move, Remove:
		return true
	}
	return false
}

func (Insert) mutation()   {}
func (Move) mutation()     {}
func (Remove) mutation()   {}
func (Deposit) mutation()  {}
func (Withdraw) mutation() {}

// NativeCall is a write against the set-backed registry.
type NativeCall interface {
	// Call is the pallet call name.
	Call() string
	fmt.Stringer
	nativeCall()
}

// EnrollAndLockCollateral registers the caller with a fee and collateral.
type EnrollAndLockCollateral struct {
	Collateral *big.Int
	Fee        *big.Int
}

// UpdateRelayFee changes the caller's quote.
type UpdateRelayFee struct {
	Fee *big.Int
}

// UpdateLockedCollateral sets the caller's collateral to an absolute value.
type UpdateLockedCollateral struct {
	Collateral *big.Int
}

// CancelEnrollment deregisters the caller.
type CancelEnrollment struct{}

func (EnrollAndLockCollateral) Call() string { return "enroll_and_lock_collateral" }
func (UpdateRelayFee) Call() string          { return "update_relay_fee" }
func (UpdateLockedCollateral) Call() string  { return "update_locked_collateral" }
func (CancelEnrollment) Call() string        { return "cancel_enrollment" }

func (c EnrollAndLockCollateral) String() string {
	return fmt.Sprintf("enroll_and_lock_collateral(collateral=%s, fee=%s)", c.Collateral, c.Fee)
}
func (c UpdateRelayFee) String() string { return fmt.Sprintf("update_relay_fee(fee=%s)", c.Fee) }
func (c UpdateLockedCollateral) String() string {
	return fmt.Sprintf("update_locked_collateral(collateral=%s)", c.Collateral)
}
func (CancelEnrollment) String() string { return "cancel_enrollment()" }

func (EnrollAndLockCollateral) nativeCall() {}
func (UpdateRelayFee) nativeCall()          {}
func (UpdateLockedCollateral) nativeCall()  {}
func (CancelEnrollment) nativeCall()        {}

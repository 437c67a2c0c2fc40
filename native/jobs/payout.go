package jobs

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

var maxInt128U = uint256.MustFromBig(maxInt128)

// Payout is the settlement split for a job at a given ledger time.
// Payout + Refund always equals the job amount.
type Payout struct {
	Payout      *big.Int
	Refund      *big.Int
	SecondsLate uint64
	Penalty     *big.Int
	Now         uint64
}

// ComputePayout applies the deadline penalty formula:
//
//	now <= soft          payout = amount
//	soft < now < hard    payout = max(amount - (now-soft)*penaltyPerSec, 0)
//	now >= hard          payout = 0
//
// Arithmetic is exact. A penalty product outside the signed 128-bit range is
// reported as ErrOverflow rather than clamped.
func ComputePayout(terms Terms, now uint64) (Payout, error) {
	if terms.Amount == nil || terms.Amount.Sign() < 0 || !FitsInt128(terms.Amount) {
		return Payout{}, fmt.Errorf("amount out of range: %w", ErrInvalidTerms)
	}
	if terms.PenaltyPerSec == nil || terms.PenaltyPerSec.Sign() < 0 || !FitsInt128(terms.PenaltyPerSec) {
		return Payout{}, fmt.Errorf("penalty out of range: %w", ErrInvalidTerms)
	}
	amount, _ := uint256.FromBig(terms.Amount)
	result := Payout{Now: now, Penalty: big.NewInt(0)}

	switch {
	case now <= terms.SoftDeadline:
		result.Payout = amount.ToBig()
	case now < terms.HardDeadline:
		result.SecondsLate = now - terms.SoftDeadline
		rate, _ := uint256.FromBig(terms.PenaltyPerSec)
		penalty, overflow := new(uint256.Int).MulOverflow(rate, uint256.NewInt(result.SecondsLate))
		if overflow || penalty.Gt(maxInt128U) {
			return Payout{}, fmt.Errorf("penalty of %d seconds at %s per second: %w", result.SecondsLate, terms.PenaltyPerSec, ErrOverflow)
		}
		result.Penalty = penalty.ToBig()
		if penalty.Lt(amount) {
			result.Payout = new(uint256.Int).Sub(amount, penalty).ToBig()
		} else {
			result.Payout = big.NewInt(0)
		}
	default:
		if now > terms.SoftDeadline {
			result.SecondsLate = now - terms.SoftDeadline
		}
		result.Payout = big.NewInt(0)
	}
	result.Refund = new(big.Int).Sub(amount.ToBig(), result.Payout)
	return result, nil
}

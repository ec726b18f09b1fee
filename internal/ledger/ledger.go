/**
 * @description
 * Package ledger computes the derived balance fields of a Satellite write: deposit
 * detection, stage transition stamps and the owning Client's aggregate balance.
 * Everything here is pure; persistence and locking belong to the callers.
 */
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balances is the three-stage balance triple of a Satellite.
type Balances struct {
	Block      decimal.Decimal `json:"block_balance"`
	Active     decimal.Decimal `json:"active_balance"`
	Withdrawal decimal.Decimal `json:"withdrawal"`
}

// Total sums the three stages.
func (b Balances) Total() decimal.Decimal {
	return b.Block.Add(b.Active).Add(b.Withdrawal)
}

// Transition identifies a stage move detected between two balance triples.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionBlockToActive
	TransitionActiveToWithdrawal
)

func (t Transition) String() string {
	switch t {
	case TransitionBlockToActive:
		return "block_to_active"
	case TransitionActiveToWithdrawal:
		return "active_to_withdrawal"
	default:
		return "none"
	}
}

// State is the proposed balance state of a Satellite along with its lifecycle stamps.
type State struct {
	Balances
	Deposit             decimal.NullDecimal
	DepositTime         *time.Time
	MigrationTime       *time.Time
	SecondMigrationTime *time.Time
}

// Result is the corrected state produced by Reconcile.
type Result struct {
	State
	Reset          bool
	Transition     Transition
	DepositChanged bool
}

// DetectTransition classifies the move from old to next as a stage migration.
// Both conditions cannot hold at once since active would have to rise and fall.
func DetectTransition(old, next Balances) Transition {
	if old.Block.GreaterThan(next.Block) && next.Active.GreaterThan(old.Active) {
		return TransitionBlockToActive
	}
	if old.Active.GreaterThan(next.Active) && next.Withdrawal.GreaterThan(old.Withdrawal) {
		return TransitionActiveToWithdrawal
	}
	return TransitionNone
}

// Reconcile corrects the deposit and migration stamps of a proposed write.
// old is nil when the satellite is being created. Negative balances are
// accepted as they are; nothing here enforces non-negativity.
func Reconcile(old *Balances, proposed State, now time.Time) Result {
	res := Result{State: proposed}

	var prev Balances
	if old != nil {
		prev = *old
	}
	oldTotal := prev.Total()
	newTotal := proposed.Total()

	if old != nil {
		res.Transition = DetectTransition(prev, proposed.Balances)
	}

	switch {
	case newTotal.IsZero() && oldTotal.IsPositive():
		res.Reset = true
		res.Deposit = decimal.NullDecimal{}
		res.DepositTime = nil
		res.MigrationTime = nil
		res.SecondMigrationTime = nil
	case res.Transition != TransitionNone:
		// migrations never touch the deposit baseline
	default:
		current := decimal.Zero
		if proposed.Deposit.Valid {
			current = proposed.Deposit.Decimal
		}
		switch {
		case oldTotal.IsZero() && newTotal.IsPositive():
			res.Deposit = decimal.NewNullDecimal(newTotal)
			res.DepositTime = stamp(now)
		case newTotal.IsPositive() && current.IsZero():
			res.Deposit = decimal.NewNullDecimal(newTotal)
		case newTotal.GreaterThan(current) && proposed.MigrationTime == nil:
			res.Deposit = decimal.NewNullDecimal(newTotal)
		}
	}

	// Stage stamps are derived from the pre-write balances, not the corrected ones.
	switch res.Transition {
	case TransitionBlockToActive:
		res.MigrationTime = stamp(now)
	case TransitionActiveToWithdrawal:
		res.SecondMigrationTime = stamp(now)
	}

	res.DepositChanged = !SameDeposit(proposed.Deposit, res.Deposit)
	return res
}

// ClientTotal recomputes a client's aggregate from the blocked balances of all of its satellites.
func ClientTotal(blocks []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, b := range blocks {
		total = total.Add(b)
	}
	return total
}

// SameDeposit reports whether two nullable deposits are equal, treating two nulls as equal.
func SameDeposit(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

func stamp(now time.Time) *time.Time {
	t := now
	return &t
}

package ledger

import "github.com/shopspring/decimal"

var (
	percent = decimal.RequireFromString("0.01")
	one     = decimal.NewFromInt(1)
)

// ProjectGrowth returns the projected profit of a leveraged deposit:
// deposit*shoulder*(growth*0.01+1)*(1-commission) - deposit*shoulder.
func ProjectGrowth(deposit, shoulder, growthRate, commission decimal.Decimal) decimal.Decimal {
	exposure := deposit.Mul(shoulder)
	gross := exposure.Mul(growthRate.Mul(percent).Add(one))
	return gross.Mul(one.Sub(commission)).Sub(exposure)
}

// ApplyProjection places amount into the stage the satellite currently holds funds in:
// active if non-zero, otherwise withdrawal if non-zero, otherwise block.
func ApplyProjection(b Balances, amount decimal.Decimal) Balances {
	switch {
	case !b.Active.IsZero():
		b.Active = amount
	case !b.Withdrawal.IsZero():
		b.Withdrawal = amount
	default:
		b.Block = amount
	}
	return b
}

// Package reconcile compares the money figures captured for one day of trading
// at a branch. All functions are pure; thresholds are passed in by the caller.
package reconcile

import (
	"github.com/shopspring/decimal"

	"cashrecon/backend/internal/domain"
)

type Thresholds struct {
	// Discrepancy is the largest POS credit vs EDC settlement gap that is
	// still considered clean. The comparison is strict.
	Discrepancy decimal.Decimal
	// VarianceEpsilon absorbs rounding between submitted and deposited cash.
	VarianceEpsilon decimal.Decimal
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Discrepancy:     decimal.NewFromInt(50),
		VarianceEpsilon: decimal.RequireFromString("0.01"),
	}
}

type Discrepancy struct {
	HasDiscrepancy bool
	Diff           decimal.Decimal
}

// CheckDiscrepancy compares the card total the POS expects with what the card
// terminal actually settled.
func CheckDiscrepancy(posCredit, edcTotal decimal.Decimal, t Thresholds) Discrepancy {
	diff := posCredit.Sub(edcTotal).Abs()
	return Discrepancy{
		HasDiscrepancy: diff.GreaterThan(t.Discrepancy),
		Diff:           diff,
	}
}

type DepositVariance struct {
	Difference  decimal.Decimal
	HasVariance bool
}

// CheckDepositVariance compares the net cash staff handed over with the amount
// the auditor deposited. A positive difference means more was deposited.
func CheckDepositVariance(submitted, deposited decimal.Decimal, t Thresholds) DepositVariance {
	difference := deposited.Sub(submitted)
	return DepositVariance{
		Difference:  difference,
		HasVariance: difference.Abs().GreaterThan(t.VarianceEpsilon),
	}
}

// BankVariance is informational only and never blocks a confirmation.
func BankVariance(actual, deposited decimal.Decimal) decimal.Decimal {
	return actual.Sub(deposited)
}

func HandwrittenNetCash(cashCount, expenses decimal.Decimal) decimal.Decimal {
	return cashCount.Sub(expenses)
}

func SumExpenses(items []domain.ExpenseItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Amount)
	}
	return total
}

func SumEDC(items []domain.EDCBreakdownItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Amount)
	}
	return total
}

// ExpectedCardSettlement is the card revenue net of the acquirer fee, rounded
// to cents. feeRate is a fraction (0.015 for 1.5%).
func ExpectedCardSettlement(posCredit, feeRate decimal.Decimal) decimal.Decimal {
	return posCredit.Sub(posCredit.Mul(feeRate)).Round(2)
}

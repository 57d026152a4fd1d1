package reconcile

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cashrecon/backend/internal/domain"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCheckDiscrepancy(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name      string
		posCredit string
		edcTotal  string
		wantHas   bool
		wantDiff  string
	}{
		{name: "equal", posCredit: "1000", edcTotal: "1000", wantHas: false, wantDiff: "0"},
		{name: "exactly at threshold", posCredit: "1050", edcTotal: "1000", wantHas: false, wantDiff: "50"},
		{name: "just over threshold", posCredit: "1050.01", edcTotal: "1000", wantHas: true, wantDiff: "50.01"},
		{name: "edc higher", posCredit: "1000", edcTotal: "1200", wantHas: true, wantDiff: "200"},
		{name: "zero pos credit", posCredit: "0", edcTotal: "49.99", wantHas: false, wantDiff: "49.99"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := CheckDiscrepancy(d(tc.posCredit), d(tc.edcTotal), th)
			assert.Equal(t, tc.wantHas, got.HasDiscrepancy)
			assert.True(t, got.Diff.Equal(d(tc.wantDiff)), "diff = %s, want %s", got.Diff, tc.wantDiff)
		})
	}
}

func TestCheckDiscrepancyMatchesDefinitionForRandomInputs(t *testing.T) {
	th := DefaultThresholds()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		posCredit := decimal.New(rng.Int63n(2_000_000), -2)
		edcTotal := decimal.New(rng.Int63n(2_000_000), -2)

		got := CheckDiscrepancy(posCredit, edcTotal, th)
		want := posCredit.Sub(edcTotal).Abs()

		require.True(t, got.Diff.Equal(want), "pos=%s edc=%s diff=%s", posCredit, edcTotal, got.Diff)
		require.Equal(t, want.GreaterThan(decimal.NewFromInt(50)), got.HasDiscrepancy, "pos=%s edc=%s", posCredit, edcTotal)
	}
}

func TestCheckDiscrepancyUsesInjectedThreshold(t *testing.T) {
	th := Thresholds{Discrepancy: decimal.NewFromInt(10), VarianceEpsilon: d("0.01")}

	got := CheckDiscrepancy(d("100"), d("111"), th)
	assert.True(t, got.HasDiscrepancy)
}

func TestCheckDepositVariance(t *testing.T) {
	th := DefaultThresholds()

	none := CheckDepositVariance(d("10000"), d("10000"), th)
	assert.False(t, none.HasVariance)
	assert.True(t, none.Difference.IsZero())

	rounding := CheckDepositVariance(d("10000"), d("10000.01"), th)
	assert.False(t, rounding.HasVariance)

	over := CheckDepositVariance(d("10000"), d("10050"), th)
	assert.True(t, over.HasVariance)
	assert.True(t, over.Difference.Equal(d("50")))

	short := CheckDepositVariance(d("10000"), d("9990"), th)
	assert.True(t, short.HasVariance)
	assert.True(t, short.Difference.Equal(d("-10")))
}

func TestBankVarianceIsSigned(t *testing.T) {
	assert.True(t, BankVariance(d("9900"), d("10000")).Equal(d("-100")))
	assert.True(t, BankVariance(d("10000"), d("10000")).IsZero())
}

func TestSumsAndDerivedFigures(t *testing.T) {
	expenses := []domain.ExpenseItem{
		{Description: "ice", Amount: d("120.50")},
		{Description: "gas", Amount: d("300")},
	}
	edc := []domain.EDCBreakdownItem{
		{CardType: "VISA", Transaction: 3, Amount: d("1500")},
		{CardType: "MASTERCARD", Transaction: 1, Amount: d("250.25")},
	}

	assert.True(t, SumExpenses(expenses).Equal(d("420.50")))
	assert.True(t, SumEDC(edc).Equal(d("1750.25")))
	assert.True(t, SumExpenses(nil).IsZero())
	assert.True(t, HandwrittenNetCash(d("5000"), d("420.50")).Equal(d("4579.50")))
	assert.True(t, ExpectedCardSettlement(d("1000"), d("0.015")).Equal(d("985")))
}

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cashrecon/backend/internal/apperr"
	"cashrecon/backend/internal/domain"
	"cashrecon/backend/internal/reconcile"
)

func TestCreateClosingDerivesTotalsAndDiscrepancy(t *testing.T) {
	f := newFixture(t)

	req := closingRequest("2026-10-01")
	req.EDCTotalAmount = dec("0")
	req.EDCBreakdown = []domain.EDCBreakdownItem{
		{CardType: "visa", Transaction: 3, Amount: dec("700")},
		{CardType: "debit", Transaction: 1, Amount: dec("240")},
	}
	closing, err := f.svc.CreateClosing(staffOf(branchOne), req)
	require.NoError(t, err)

	assert.Equal(t, branchOne, closing.BranchID)
	assert.Equal(t, domain.ClosingStatusDraft, closing.Status)
	assert.True(t, closing.HandwrittenExpenses.Equal(dec("200")))
	assert.True(t, closing.HandwrittenNetCash.Equal(dec("10000")))
	assert.True(t, closing.EDCTotalAmount.Equal(dec("940")))
	assert.Equal(t, "VISA", closing.EDCBreakdown[0].CardType)
	assert.True(t, closing.HasDiscrepancy, "diff of 60 is above the default threshold")
	assert.True(t, closing.POSCreditVsEDCDiff.Equal(dec("60")))

	rows := f.auditRows(domain.EntityDailyClosing, closing.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.AuditCreate, rows[0].Action)
	assert.Equal(t, "usr-staff-"+branchOne, rows[0].UserID)
}

func TestCreateClosingRejectsSecondClosingForSameDay(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateClosing(staffOf(branchOne), closingRequest("2026-10-01"))
	require.NoError(t, err)

	req := closingRequest("2026-10-01")
	req.BranchID = branchOne
	_, err = f.svc.CreateClosing(as(domain.RoleManager), req)
	requireKind(t, err, apperr.KindDuplicate)

	_, err = f.svc.CreateClosing(staffOf(branchTwo), closingRequest("2026-10-01"))
	assert.NoError(t, err, "another branch may close the same day")
}

func TestCreateClosingConcurrentDuplicatesYieldOneWinner(t *testing.T) {
	f := newFixture(t)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateClosing(staffOf(branchOne), closingRequest("2026-10-01"))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, apperr.KindDuplicate, apperr.KindOf(err))
	}
	assert.Equal(t, 1, succeeded)
}

func TestCreateClosingBranchResolution(t *testing.T) {
	f := newFixture(t)

	req := closingRequest("2026-10-01")
	req.BranchID = branchTwo
	_, err := f.svc.CreateClosing(staffOf(branchOne), req)
	requireKind(t, err, apperr.KindForbidden)

	_, err = f.svc.CreateClosing(as(domain.RoleManager), closingRequest("2026-10-01"))
	requireKind(t, err, apperr.KindValidation)

	_, err = f.svc.CreateClosing(as(domain.RoleAuditor), req)
	requireKind(t, err, apperr.KindForbidden)

	_, err = f.svc.CreateClosing(context.Background(), req)
	requireKind(t, err, apperr.KindUnauthenticated)

	req.BranchID = "missing"
	_, err = f.svc.CreateClosing(as(domain.RoleAdmin), req)
	requireKind(t, err, apperr.KindNotFound)
}

func TestCreateClosingValidatesInput(t *testing.T) {
	f := newFixture(t)

	req := closingRequest("01-10-2026")
	_, err := f.svc.CreateClosing(staffOf(branchOne), req)
	requireKind(t, err, apperr.KindValidation)

	req = closingRequest("2026-10-01")
	req.POSCash = dec("-1")
	_, err = f.svc.CreateClosing(staffOf(branchOne), req)
	requireKind(t, err, apperr.KindValidation)

	req = closingRequest("2026-10-01")
	req.HandwrittenExpensesList = []domain.ExpenseItem{{Description: " ", Amount: dec("5")}}
	_, err = f.svc.CreateClosing(staffOf(branchOne), req)
	requireKind(t, err, apperr.KindValidation)
}

func TestCreateClosingRejectsAmountsStorageWouldRound(t *testing.T) {
	f := newFixture(t)

	req := closingRequest("2026-10-01")
	req.POSCredit = dec("1000.004")
	req.EDCTotalAmount = dec("950")
	_, err := f.svc.CreateClosing(staffOf(branchOne), req)
	requireKind(t, err, apperr.KindValidation)
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "posCredit", appErr.Details["field"])

	req = closingRequest("2026-10-01")
	req.POSTotalSales = dec("1000000000000")
	_, err = f.svc.CreateClosing(staffOf(branchOne), req)
	requireKind(t, err, apperr.KindValidation)

	req = closingRequest("2026-10-01")
	req.HandwrittenExpensesList = []domain.ExpenseItem{{Description: "ice", Amount: dec("0.333")}}
	_, err = f.svc.CreateClosing(staffOf(branchOne), req)
	requireKind(t, err, apperr.KindValidation)

	req = closingRequest("2026-10-01")
	req.POSCredit = dec("1050.010")
	req.EDCTotalAmount = dec("1000")
	created, err := f.svc.CreateClosing(staffOf(branchOne), req)
	require.NoError(t, err)
	assert.True(t, created.HasDiscrepancy)
	assert.True(t, created.POSCreditVsEDCDiff.Equal(dec("50.01")))

	_, err = f.svc.UpdateClosing(staffOf(branchOne), created.ID, domain.ClosingUpdateRequest{EDCTotalAmount: decPtr("999.999")})
	requireKind(t, err, apperr.KindValidation)
}

func TestCreateClosingUsesConfiguredThreshold(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SetSystemConfig(as(domain.RoleAdmin), domain.ConfigDiscrepancyThreshold, domain.SystemConfigSetRequest{Value: "500"})
	require.NoError(t, err)

	req := closingRequest("2026-10-01")
	req.EDCTotalAmount = dec("1200")
	closing, err := f.svc.CreateClosing(staffOf(branchOne), req)
	require.NoError(t, err)
	assert.False(t, closing.HasDiscrepancy)
	assert.True(t, closing.POSCreditVsEDCDiff.Equal(dec("200")))
}

func TestZeroThresholdsFromOptionsAreKept(t *testing.T) {
	f := newFixture(t)
	f.svc = New(f.repo, Options{
		Thresholds: &reconcile.Thresholds{Discrepancy: decimal.Zero, VarianceEpsilon: decimal.Zero},
		Now:        func() time.Time { return testNow },
	})

	req := closingRequest("2026-10-01")
	req.EDCTotalAmount = dec("999.99")
	closing, err := f.svc.CreateClosing(staffOf(branchOne), req)
	require.NoError(t, err)
	assert.True(t, closing.HasDiscrepancy, "a zero threshold flags any difference")

	defaults := New(f.repo, Options{})
	assert.True(t, defaults.thresholds.Discrepancy.Equal(dec("50")))
	assert.True(t, defaults.thresholds.VarianceEpsilon.Equal(dec("0.01")))
}

func TestUpdateClosingRecomputesOnlyWhileDraft(t *testing.T) {
	f := newFixture(t)
	closing, err := f.svc.CreateClosing(staffOf(branchOne), closingRequest("2026-10-01"))
	require.NoError(t, err)
	require.False(t, closing.HasDiscrepancy)

	updated, err := f.svc.UpdateClosing(staffOf(branchOne), closing.ID, domain.ClosingUpdateRequest{
		EDCTotalAmount:       decPtr("1200"),
		HandwrittenCashCount: decPtr("10500"),
	})
	require.NoError(t, err)
	assert.True(t, updated.HasDiscrepancy)
	assert.True(t, updated.POSCreditVsEDCDiff.Equal(dec("200")))
	assert.True(t, updated.HandwrittenNetCash.Equal(dec("10300")))

	_, err = f.svc.UpdateClosing(staffOf(branchOne), closing.ID, domain.ClosingUpdateRequest{})
	requireKind(t, err, apperr.KindValidation)

	_, err = f.svc.UpdateClosing(staffOf(branchTwo), closing.ID, domain.ClosingUpdateRequest{POSCash: decPtr("1")})
	requireKind(t, err, apperr.KindForbidden)

	_, err = f.svc.SubmitClosing(staffOf(branchOne), closing.ID)
	require.NoError(t, err)
	_, err = f.svc.UpdateClosing(as(domain.RoleManager), closing.ID, domain.ClosingUpdateRequest{POSCash: decPtr("1")})
	requireKind(t, err, apperr.KindInvalidStatus)

	rows := f.auditRows(domain.EntityDailyClosing, closing.ID)
	actions := make([]domain.AuditAction, 0, len(rows))
	for _, r := range rows {
		actions = append(actions, r.Action)
	}
	assert.ElementsMatch(t, []domain.AuditAction{domain.AuditCreate, domain.AuditUpdate, domain.AuditStatusChange}, actions)
}

func TestDeleteClosingOnlyDraft(t *testing.T) {
	f := newFixture(t)
	draft, err := f.svc.CreateClosing(staffOf(branchOne), closingRequest("2026-10-01"))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteClosing(staffOf(branchOne), draft.ID))
	_, err = f.svc.GetClosing(staffOf(branchOne), draft.ID)
	requireKind(t, err, apperr.KindNotFound)

	rows := f.auditRows(domain.EntityDailyClosing, draft.ID)
	require.Len(t, rows, 2, "delete keeps history and adds its own row")

	submitted, err := f.svc.CreateClosing(staffOf(branchOne), closingRequest("2026-10-01"))
	require.NoError(t, err, "date is free again after the draft was deleted")
	_, err = f.svc.SubmitClosing(staffOf(branchOne), submitted.ID)
	require.NoError(t, err)
	err = f.svc.DeleteClosing(as(domain.RoleAdmin), submitted.ID)
	requireKind(t, err, apperr.KindInvalidStatus)
}

func TestSubmitClosingWritesStatusChange(t *testing.T) {
	f := newFixture(t)
	closing, err := f.svc.CreateClosing(staffOf(branchOne), closingRequest("2026-10-01"))
	require.NoError(t, err)

	submitted, err := f.svc.SubmitClosing(staffOf(branchOne), closing.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClosingStatusSubmitted, submitted.Status)
	require.NotNil(t, submitted.SubmittedAt)
	assert.Equal(t, testNow, *submitted.SubmittedAt)

	var change *domain.AuditLog
	for _, r := range f.auditRows(domain.EntityDailyClosing, closing.ID) {
		if r.Action == domain.AuditStatusChange {
			r := r
			change = &r
		}
	}
	require.NotNil(t, change)
	assert.Equal(t, "DRAFT", *change.OldValue)
	assert.Equal(t, "SUBMITTED", *change.NewValue)

	_, err = f.svc.SubmitClosing(staffOf(branchOne), closing.ID)
	requireKind(t, err, apperr.KindInvalidStatus)
}

func TestReceiveCashRequiresNoteOnDiscrepancy(t *testing.T) {
	f := newFixture(t)
	req := closingRequest("2026-10-01")
	req.POSCredit = dec("1000")
	req.EDCTotalAmount = dec("1200")
	closing, err := f.svc.CreateClosing(staffOf(branchOne), req)
	require.NoError(t, err)
	require.True(t, closing.HasDiscrepancy)
	_, err = f.svc.SubmitClosing(staffOf(branchOne), closing.ID)
	require.NoError(t, err)

	_, err = f.svc.ReceiveCash(as(domain.RoleAuditor), closing.ID, domain.ReceiveCashRequest{})
	requireKind(t, err, apperr.KindValidation)
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, true, appErr.Details["hasDiscrepancy"])
	diff, ok := appErr.Details["posCreditVsEdcDiff"].(decimal.Decimal)
	require.True(t, ok)
	assert.True(t, diff.Equal(dec("200")))

	unchanged, err := f.svc.GetClosing(as(domain.RoleAuditor), closing.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClosingStatusSubmitted, unchanged.Status)

	received, err := f.svc.ReceiveCash(as(domain.RoleAuditor), closing.ID, domain.ReceiveCashRequest{DiscrepancyNote: "card batch delay"})
	require.NoError(t, err)
	assert.Equal(t, domain.ClosingStatusCashReceived, received.Status)
	require.NotNil(t, received.DiscrepancyRemark)
	assert.Contains(t, *received.DiscrepancyRemark, "card batch delay")
	require.NotNil(t, received.CashReceivedBy)
	assert.Equal(t, "usr-AUDITOR", *received.CashReceivedBy)
}

func TestReceiveCashAppendsToExistingRemark(t *testing.T) {
	f := newFixture(t)
	req := closingRequest("2026-10-01")
	req.DiscrepancyRemark = strPtr("terminal restarted")
	closing, err := f.svc.CreateClosing(staffOf(branchOne), req)
	require.NoError(t, err)
	_, err = f.svc.SubmitClosing(staffOf(branchOne), closing.ID)
	require.NoError(t, err)

	received, err := f.svc.ReceiveCash(as(domain.RoleManager), closing.ID, domain.ReceiveCashRequest{DiscrepancyNote: "sealed bag"})
	require.NoError(t, err)
	assert.Equal(t, "terminal restarted\n[cash receipt] sealed bag", *received.DiscrepancyRemark)
}

func TestTransitionsRequireTheirSourceStatus(t *testing.T) {
	f := newFixture(t)
	draft, err := f.svc.CreateClosing(staffOf(branchOne), closingRequest("2026-10-01"))
	require.NoError(t, err)

	_, err = f.svc.ReceiveCash(as(domain.RoleAuditor), draft.ID, domain.ReceiveCashRequest{})
	requireKind(t, err, apperr.KindInvalidStatus)
	_, err = f.svc.CreateDeposit(as(domain.RoleAuditor), draft.ID, depositRequest())
	requireKind(t, err, apperr.KindInvalidStatus)

	_, err = f.svc.SubmitClosing(staffOf(branchOne), draft.ID)
	require.NoError(t, err)
	_, err = f.svc.CreateDeposit(as(domain.RoleAuditor), draft.ID, depositRequest())
	requireKind(t, err, apperr.KindInvalidStatus)

	got, err := f.svc.GetClosing(as(domain.RoleAdmin), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClosingStatusSubmitted, got.Status)

	_, err = f.svc.ReceiveCash(staffOf(branchOne), draft.ID, domain.ReceiveCashRequest{})
	requireKind(t, err, apperr.KindForbidden)
}

func TestStaffCannotSeeOtherBranches(t *testing.T) {
	f := newFixture(t)
	closing, err := f.svc.CreateClosing(staffOf(branchOne), closingRequest("2026-10-01"))
	require.NoError(t, err)

	_, err = f.svc.GetClosing(staffOf(branchTwo), closing.ID)
	requireKind(t, err, apperr.KindForbidden)

	_, err = f.svc.ListClosings(staffOf(branchTwo), ClosingQuery{BranchID: branchOne})
	requireKind(t, err, apperr.KindForbidden)

	list, err := f.svc.ListClosings(staffOf(branchTwo), ClosingQuery{})
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = f.svc.ListClosings(as(domain.RoleOwner), ClosingQuery{Status: "draft", From: "2026-10-01", To: "2026-10-01"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, closing.ID, list[0].ID)

	_, err = f.svc.ListClosings(as(domain.RoleOwner), ClosingQuery{Status: "bogus"})
	requireKind(t, err, apperr.KindValidation)
}

package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cashrecon/backend/internal/apperr"
	"cashrecon/backend/internal/domain"
	"cashrecon/backend/internal/store"
)

type recordingNotifier struct {
	recipients []string
	subject    string
	body       string
}

func (n *recordingNotifier) SendDailySummary(_ context.Context, recipients []string, subject string, body string) error {
	n.recipients = recipients
	n.subject = subject
	n.body = body
	return nil
}

func TestDailySummaryAggregatesAndCaches(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SetSystemConfig(as(domain.RoleAdmin), domain.ConfigCreditCardFeeRate, domain.SystemConfigSetRequest{Value: "0.02"})
	require.NoError(t, err)

	deposited := f.receivedClosing("2026-10-01", func(r *domain.ClosingCreateRequest) {
		r.EDCTotalAmount = dec("1100")
	})
	f.depositFor(deposited.ID)
	_, err = f.svc.CreateClosing(staffOf(branchTwo), closingRequest("2026-10-01"))
	require.NoError(t, err)

	summary, err := f.svc.DailySummary(as(domain.RoleOwner), SummaryQuery{From: "2026-10-01"})
	require.NoError(t, err)
	assert.Equal(t, "2026-10-01", summary.To)
	assert.True(t, summary.CreditCardFeeRate.Equal(dec("0.02")))
	require.Len(t, summary.Branches, 2)

	first := summary.Branches[0]
	assert.Equal(t, "BR-001", first.BranchCode)
	assert.Equal(t, 1, first.ClosingCount)
	assert.Equal(t, 1, first.DiscrepancyCount)
	assert.True(t, first.DepositedAmount.Equal(dec("10000")))
	assert.True(t, first.ExpectedEDCNet.Equal(dec("980")))
	assert.Equal(t, 1, summary.Branches[1].DraftCount)
	assert.Equal(t, 1, summary.PendingApprovals)
	assert.Equal(t, 1, summary.UnconfirmedBank)
	assert.True(t, summary.TotalPOSSales.Equal(dec("50000")))
	assert.True(t, summary.TotalDiscrepancyDiff.Equal(dec("100")))

	cached, ok, err := f.cache.Get(context.Background(), "2026-10-01|2026-10-01|")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, summary.GeneratedAt, cached.GeneratedAt)

	_, err = f.svc.CreateClosing(staffOf(branchOne), closingRequest("2026-10-03"))
	require.NoError(t, err)
	_, ok, err = f.cache.Get(context.Background(), "2026-10-01|2026-10-01|")
	require.NoError(t, err)
	assert.False(t, ok, "writes drop cached summaries")

	_, err = f.svc.DailySummary(staffOf(branchOne), SummaryQuery{})
	requireKind(t, err, apperr.KindForbidden)
	_, err = f.svc.DailySummary(as(domain.RoleOwner), SummaryQuery{From: "2026-01-01", To: "2026-12-31"})
	requireKind(t, err, apperr.KindValidation)
}

func TestDailySummaryCountsEveryClosingInRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	branchIDs := []string{branchOne, branchTwo, "branch-3", "branch-4", "branch-5", "branch-6"}
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, f.repo.WithinTx(ctx, func(tx store.Tx) error {
		for i, id := range branchIDs[2:] {
			if err := tx.InsertBranch(ctx, domain.Branch{
				ID:         id,
				BranchCode: fmt.Sprintf("BR-%03d", i+3),
				BranchName: id,
				Status:     domain.BranchStatusActive,
			}); err != nil {
				return err
			}
		}
		for _, id := range branchIDs {
			for day := 0; day < 92; day++ {
				if err := tx.InsertClosing(ctx, domain.DailyClosing{
					ID:            fmt.Sprintf("dcl-%s-%02d", id, day),
					BranchID:      id,
					ClosingDate:   start.AddDate(0, 0, day),
					Status:        domain.ClosingStatusDraft,
					POSTotalSales: dec("100"),
					SubmittedBy:   "usr-staff-" + id,
					CreatedAt:     testNow,
					UpdatedAt:     testNow,
				}); err != nil {
					return err
				}
			}
		}
		return nil
	}))

	summary, err := f.svc.DailySummary(as(domain.RoleOwner), SummaryQuery{From: "2026-07-01", To: "2026-09-30"})
	require.NoError(t, err)
	require.Len(t, summary.Branches, 6)
	total := 0
	for _, row := range summary.Branches {
		assert.Equal(t, 92, row.ClosingCount, row.BranchID)
		total += row.ClosingCount
	}
	assert.Equal(t, 552, total)
	assert.True(t, summary.TotalPOSSales.Equal(dec("55200")), summary.TotalPOSSales.String())
}

func TestSendDailySummaryUsesNotifier(t *testing.T) {
	f := newFixture(t)
	notifier := &recordingNotifier{}
	f.svc.notifier = notifier
	f.svc.recipients = []string{"owner@example.com"}

	f.receivedClosing("2026-10-02", nil)

	resp, err := f.svc.SendDailySummary(as(domain.RoleOwner), domain.SendSummaryRequest{From: "2026-10-02"})
	require.NoError(t, err)
	assert.True(t, resp.Sent)
	assert.Equal(t, []string{"owner@example.com"}, notifier.recipients)
	assert.Contains(t, notifier.subject, "2026-10-02")
	assert.Contains(t, notifier.body, "BR-001 Central")
	assert.True(t, strings.Contains(notifier.body, "10000.00"))

	f.svc.recipients = nil
	_, err = f.svc.SendDailySummary(as(domain.RoleOwner), domain.SendSummaryRequest{From: "2026-10-02"})
	requireKind(t, err, apperr.KindValidation)
}

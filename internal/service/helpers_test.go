package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"cashrecon/backend/internal/apperr"
	"cashrecon/backend/internal/cache"
	"cashrecon/backend/internal/domain"
	"cashrecon/backend/internal/store"
	"cashrecon/backend/internal/store/memory"
)

const (
	branchOne = "branch-1"
	branchTwo = "branch-2"
)

var testNow = time.Date(2026, 10, 2, 9, 30, 0, 0, time.UTC)

type fixture struct {
	t     *testing.T
	repo  *memory.Store
	svc   *Service
	cache *cache.MemorySummaryCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := memory.New()
	ctx := context.Background()
	require.NoError(t, repo.WithinTx(ctx, func(tx store.Tx) error {
		for _, b := range []domain.Branch{
			{ID: branchOne, BranchCode: "BR-001", BranchName: "Central", Status: domain.BranchStatusActive},
			{ID: branchTwo, BranchCode: "BR-002", BranchName: "Harbour", Status: domain.BranchStatusActive},
		} {
			if err := tx.InsertBranch(ctx, b); err != nil {
				return err
			}
		}
		return nil
	}))

	summaries := cache.NewMemorySummaryCache()
	svc := New(repo, Options{
		SummaryCache: summaries,
		Now:          func() time.Time { return testNow },
	})
	return &fixture{t: t, repo: repo, svc: svc, cache: summaries}
}

func strPtr(s string) *string { return &s }

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

func staffOf(branchID string) context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID:   "usr-staff-" + branchID,
		Username: "staff-" + branchID,
		Role:     domain.RoleStoreStaff,
		BranchID: strPtr(branchID),
	})
}

func as(role domain.Role) context.Context {
	name := string(role)
	return WithActor(context.Background(), domain.Actor{UserID: "usr-" + name, Username: name, Role: role})
}

func closingRequest(date string) domain.ClosingCreateRequest {
	return domain.ClosingCreateRequest{
		ClosingDate:          date,
		POSTotalSales:        dec("25000"),
		POSCash:              dec("10000"),
		POSCredit:            dec("1000"),
		POSTransfer:          dec("0"),
		HandwrittenCashCount: dec("10200"),
		HandwrittenExpensesList: []domain.ExpenseItem{
			{Description: "ice", Amount: dec("200")},
		},
		EDCTotalAmount: dec("1000"),
	}
}

// receivedClosing drives a fresh closing for branchOne to CASH_RECEIVED.
func (f *fixture) receivedClosing(date string, mutate func(*domain.ClosingCreateRequest)) domain.DailyClosing {
	f.t.Helper()
	req := closingRequest(date)
	if mutate != nil {
		mutate(&req)
	}
	closing, err := f.svc.CreateClosing(staffOf(branchOne), req)
	require.NoError(f.t, err)
	_, err = f.svc.SubmitClosing(staffOf(branchOne), closing.ID)
	require.NoError(f.t, err)
	received, err := f.svc.ReceiveCash(as(domain.RoleAuditor), closing.ID, domain.ReceiveCashRequest{DiscrepancyNote: "counted"})
	require.NoError(f.t, err)
	return received
}

func (f *fixture) depositFor(closingID string) domain.Deposit {
	f.t.Helper()
	deposit, err := f.svc.CreateDeposit(as(domain.RoleAuditor), closingID, depositRequest())
	require.NoError(f.t, err)
	return deposit
}

func depositRequest() domain.DepositCreateRequest {
	return domain.DepositCreateRequest{
		BankName:       "BCA",
		AccountNumber:  "1234567890",
		DepositDate:    "2026-10-02",
		DepositSlipURL: "https://files.test/slip.jpg",
	}
}

func (f *fixture) auditRows(entityType, entityID string) []domain.AuditLog {
	f.t.Helper()
	rows, err := f.repo.ListAuditLogs(context.Background(), domain.AuditFilter{EntityType: entityType, EntityID: entityID})
	require.NoError(f.t, err)
	return rows
}

func requireKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, apperr.KindOf(err), "unexpected error: %v", err)
}

// faultyRepo fails every closing update made through a transaction, after
// any earlier writes in the same transaction have already been applied.
type faultyRepo struct {
	store.Repository
}

var errInjected = errors.New("injected closing update failure")

func (r faultyRepo) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return r.Repository.WithinTx(ctx, func(tx store.Tx) error {
		return fn(faultyTx{Tx: tx})
	})
}

type faultyTx struct {
	store.Tx
}

func (faultyTx) UpdateClosing(context.Context, domain.DailyClosing) error {
	return errInjected
}

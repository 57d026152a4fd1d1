package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cashrecon/backend/internal/domain"
	"cashrecon/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("CASHRECON_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set CASHRECON_TEST_DATABASE_URL to run postgres integration test")
	}

	if err := Migrate(databaseURL, "up", 0, zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	s, err := New(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

// seedClosing inserts a branch, a staff user and one CASH_RECEIVED closing,
// all keyed by a unique stamp so runs do not collide.
func seedClosing(t *testing.T, s *Store) domain.DailyClosing {
	t.Helper()
	ctx := context.Background()
	stamp := time.Now().UnixNano()
	now := time.Now().UTC()
	branchID := fmt.Sprintf("branch-it-%d", stamp)
	userID := fmt.Sprintf("usr-it-%d", stamp)

	closing := domain.DailyClosing{
		ID:                 fmt.Sprintf("dcl-it-%d", stamp),
		BranchID:           branchID,
		ClosingDate:        time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		Status:             domain.ClosingStatusCashReceived,
		POSCredit:          decimal.NewFromInt(1000),
		EDCTotalAmount:     decimal.NewFromInt(1000),
		HandwrittenNetCash: decimal.RequireFromString("10000.50"),
		SubmittedBy:        userID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertBranch(ctx, domain.Branch{ID: branchID, BranchCode: fmt.Sprintf("IT-%d", stamp), BranchName: "Integration", Status: domain.BranchStatusActive, CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		if err := tx.InsertUser(ctx, domain.User{ID: userID, Email: userID + "@it.local", Username: userID, PasswordHash: "x", Role: domain.RoleStoreStaff, Status: domain.UserStatusActive, BranchID: &branchID, CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		return tx.InsertClosing(ctx, closing)
	})
	if err != nil {
		t.Fatalf("seed closing: %v", err)
	}

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM deposits WHERE daily_closing_id = $1`, closing.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM daily_closings WHERE id = $1`, closing.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM branches WHERE id = $1`, branchID)
	})
	return closing
}

func TestClosingUniquePerBranchAndDate(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	closing := seedClosing(t, s)

	dup := closing
	dup.ID = closing.ID + "-dup"
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		return tx.InsertClosing(ctx, dup)
	})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, err := s.GetClosing(ctx, closing.ID)
	if err != nil {
		t.Fatalf("get closing: %v", err)
	}
	if !got.HandwrittenNetCash.Equal(closing.HandwrittenNetCash) {
		t.Fatalf("expected net cash %s, got %s", closing.HandwrittenNetCash, got.HandwrittenNetCash)
	}
}

func TestDepositInsertIsAtomicWithClosingUpdate(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	closing := seedClosing(t, s)
	now := time.Now().UTC()

	deposit := domain.Deposit{
		ID:               closing.ID + "-dep",
		DailyClosingID:   closing.ID,
		BranchID:         closing.BranchID,
		DepositAmount:    closing.HandwrittenNetCash,
		BankName:         "BCA",
		AccountNumber:    "123",
		DepositDate:      now,
		DepositSlipURL:   "/files/slip.jpg",
		DepositedBy:      closing.SubmittedBy,
		DepositedAt:      now,
		AmountMatched:    true,
		ApprovalDecision: domain.ApprovalPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	injected := errors.New("injected failure")
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockClosing(ctx, closing.ID); err != nil {
			return err
		}
		if err := tx.InsertDeposit(ctx, deposit); err != nil {
			return err
		}
		return injected
	})
	if !errors.Is(err, injected) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if _, err := s.GetDepositByClosing(ctx, closing.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no deposit after rollback, got %v", err)
	}

	err = s.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertDeposit(ctx, deposit); err != nil {
			return err
		}
		second := deposit
		second.ID = deposit.ID + "-2"
		return tx.InsertDeposit(ctx, second)
	})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate on second deposit, got %v", err)
	}
}

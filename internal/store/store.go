package store

import (
	"context"
	"errors"

	"cashrecon/backend/internal/domain"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
	// ErrConflict reports a write blocked by rows that still reference the target.
	ErrConflict = errors.New("conflict")
)

// Reader is the read side shared by the repository and an open transaction.
type Reader interface {
	GetBranch(ctx context.Context, id string) (*domain.Branch, error)
	ListBranches(ctx context.Context) ([]domain.Branch, error)

	GetUser(ctx context.Context, id string) (*domain.User, error)
	FindUserByLogin(ctx context.Context, login string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)

	GetClosing(ctx context.Context, id string) (*domain.DailyClosing, error)
	ListClosings(ctx context.Context, filter domain.ClosingFilter) ([]domain.DailyClosing, error)

	GetDeposit(ctx context.Context, id string) (*domain.Deposit, error)
	GetDepositByClosing(ctx context.Context, closingID string) (*domain.Deposit, error)
	ListDeposits(ctx context.Context, filter domain.DepositFilter) ([]domain.Deposit, error)

	ListAuditLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error)

	GetBankAccount(ctx context.Context, id string) (*domain.CompanyBankAccount, error)
	ListBankAccounts(ctx context.Context, activeOnly bool) ([]domain.CompanyBankAccount, error)

	GetSystemConfig(ctx context.Context, key string) (*domain.SystemConfig, error)
	ListSystemConfig(ctx context.Context) ([]domain.SystemConfig, error)
}

// Tx is a unit of work. Lock* methods hold the row until the transaction
// ends, which linearizes transitions on the same closing or deposit.
// Audit logs can only be inserted.
type Tx interface {
	Reader

	LockClosing(ctx context.Context, id string) (*domain.DailyClosing, error)
	LockDeposit(ctx context.Context, id string) (*domain.Deposit, error)
	LockBranch(ctx context.Context, id string) (*domain.Branch, error)

	InsertBranch(ctx context.Context, branch domain.Branch) error
	UpdateBranch(ctx context.Context, branch domain.Branch) error
	DeleteBranch(ctx context.Context, id string) error
	CountBranchReferences(ctx context.Context, branchID string) (int, error)

	InsertUser(ctx context.Context, user domain.User) error
	UpdateUser(ctx context.Context, user domain.User) error

	InsertClosing(ctx context.Context, closing domain.DailyClosing) error
	UpdateClosing(ctx context.Context, closing domain.DailyClosing) error
	DeleteClosing(ctx context.Context, id string) error

	InsertDeposit(ctx context.Context, deposit domain.Deposit) error
	UpdateDeposit(ctx context.Context, deposit domain.Deposit) error

	InsertAuditLog(ctx context.Context, entry domain.AuditLog) error

	InsertBankAccount(ctx context.Context, account domain.CompanyBankAccount) error
	UpdateBankAccount(ctx context.Context, account domain.CompanyBankAccount) error

	UpsertSystemConfig(ctx context.Context, cfg domain.SystemConfig) error
}

type Repository interface {
	Reader

	// WithinTx runs fn in a transaction. It commits when fn returns nil and
	// rolls back every write made through tx otherwise.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	Ping(ctx context.Context) error
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// ClampLimit bounds a caller supplied page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"cashrecon/backend/internal/domain"
	"cashrecon/backend/internal/store"
	"cashrecon/backend/internal/xid"
)

// Store keeps everything in process memory. A write transaction holds the
// store-wide lock for its whole duration and journals an undo step for every
// write, so a failed transaction leaves no trace.
type Store struct {
	mu sync.RWMutex
	st *state
}

type state struct {
	branches         map[string]domain.Branch
	users            map[string]domain.User
	closings         map[string]domain.DailyClosing
	closingByKey     map[string]string
	deposits         map[string]domain.Deposit
	depositByClosing map[string]string
	auditLogs        []domain.AuditLog
	bankAccounts     map[string]domain.CompanyBankAccount
	configs          map[string]domain.SystemConfig
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{st: &state{
		branches:         make(map[string]domain.Branch),
		users:            make(map[string]domain.User),
		closings:         make(map[string]domain.DailyClosing),
		closingByKey:     make(map[string]string),
		deposits:         make(map[string]domain.Deposit),
		depositByClosing: make(map[string]string),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		bankAccounts:     make(map[string]domain.CompanyBankAccount),
		configs:          make(map[string]domain.SystemConfig),
	}}
}

// NewSeeded builds a demo store with one branch and one account per role.
// Passwords come from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD; the dev
// defaults are only acceptable outside production, where DATABASE_URL is set.
func NewSeeded(logger *zap.Logger) *Store {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin12345")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff12345")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		logger.Warn("[memory-store] using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override")
	}

	s := New()
	now := time.Now().UTC()
	branch := domain.Branch{
		ID:         "branch-main",
		BranchCode: "BR-001",
		BranchName: "Main Branch",
		Address:    "Head office",
		Status:     domain.BranchStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.st.branches[branch.ID] = branch

	for _, u := range []struct {
		username string
		password string
		role     domain.Role
		branchID *string
	}{
		{"admin", adminPwd, domain.RoleAdmin, nil},
		{"owner", adminPwd, domain.RoleOwner, nil},
		{"manager", adminPwd, domain.RoleManager, nil},
		{"auditor", adminPwd, domain.RoleAuditor, nil},
		{"staff", staffPwd, domain.RoleStoreStaff, &branch.ID},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("[memory-store] failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		id := xid.New("usr")
		s.st.users[id] = domain.User{
			ID:           id,
			Email:        u.username + "@cashrecon.local",
			Username:     u.username,
			PasswordHash: string(hash),
			Role:         u.role,
			Status:       domain.UserStatusActive,
			BranchID:     u.branchID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) Ping(_ context.Context) error {
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{state: s.st}
	committed := false
	defer func() {
		if !committed {
			t.rollback()
		}
	}()

	if err := fn(t); err != nil {
		return err
	}
	committed = true
	return nil
}

// Read side. Store methods take the read lock; tx reuses the same state
// methods while already holding the write lock.

func (s *Store) GetBranch(ctx context.Context, id string) (*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetBranch(ctx, id)
}

func (s *Store) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListBranches(ctx)
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetUser(ctx, id)
}

func (s *Store) FindUserByLogin(ctx context.Context, login string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.FindUserByLogin(ctx, login)
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListUsers(ctx)
}

func (s *Store) GetClosing(ctx context.Context, id string) (*domain.DailyClosing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetClosing(ctx, id)
}

func (s *Store) ListClosings(ctx context.Context, filter domain.ClosingFilter) ([]domain.DailyClosing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListClosings(ctx, filter)
}

func (s *Store) GetDeposit(ctx context.Context, id string) (*domain.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetDeposit(ctx, id)
}

func (s *Store) GetDepositByClosing(ctx context.Context, closingID string) (*domain.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetDepositByClosing(ctx, closingID)
}

func (s *Store) ListDeposits(ctx context.Context, filter domain.DepositFilter) ([]domain.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListDeposits(ctx, filter)
}

func (s *Store) ListAuditLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListAuditLogs(ctx, filter)
}

func (s *Store) GetBankAccount(ctx context.Context, id string) (*domain.CompanyBankAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetBankAccount(ctx, id)
}

func (s *Store) ListBankAccounts(ctx context.Context, activeOnly bool) ([]domain.CompanyBankAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListBankAccounts(ctx, activeOnly)
}

func (s *Store) GetSystemConfig(ctx context.Context, key string) (*domain.SystemConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetSystemConfig(ctx, key)
}

func (s *Store) ListSystemConfig(ctx context.Context) ([]domain.SystemConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListSystemConfig(ctx)
}

func (st *state) GetBranch(_ context.Context, id string) (*domain.Branch, error) {
	branch, ok := st.branches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &branch, nil
}

func (st *state) ListBranches(_ context.Context) ([]domain.Branch, error) {
	branches := make([]domain.Branch, 0, len(st.branches))
	for _, b := range st.branches {
		branches = append(branches, b)
	}
	slices.SortFunc(branches, func(a, b domain.Branch) int {
		return strings.Compare(a.BranchCode, b.BranchCode)
	})
	return branches, nil
}

func (st *state) GetUser(_ context.Context, id string) (*domain.User, error) {
	user, ok := st.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	user.BranchID = cloneString(user.BranchID)
	return &user, nil
}

func (st *state) FindUserByLogin(_ context.Context, login string) (*domain.User, error) {
	login = strings.ToLower(strings.TrimSpace(login))
	for _, user := range st.users {
		if strings.ToLower(user.Username) == login || strings.ToLower(user.Email) == login {
			user.BranchID = cloneString(user.BranchID)
			return &user, nil
		}
	}
	return nil, store.ErrNotFound
}

func (st *state) ListUsers(_ context.Context) ([]domain.User, error) {
	users := make([]domain.User, 0, len(st.users))
	for _, u := range st.users {
		u.BranchID = cloneString(u.BranchID)
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.User) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (st *state) GetClosing(_ context.Context, id string) (*domain.DailyClosing, error) {
	closing, ok := st.closings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := cloneClosing(closing)
	return &cp, nil
}

func (st *state) ListClosings(_ context.Context, filter domain.ClosingFilter) ([]domain.DailyClosing, error) {
	result := make([]domain.DailyClosing, 0)
	for _, c := range st.closings {
		if filter.BranchID != "" && c.BranchID != filter.BranchID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if !inRange(c.ClosingDate, filter.From, filter.To) {
			continue
		}
		result = append(result, cloneClosing(c))
	}
	slices.SortFunc(result, func(a, b domain.DailyClosing) int {
		if !a.ClosingDate.Equal(b.ClosingDate) {
			return b.ClosingDate.Compare(a.ClosingDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return b.CreatedAt.Compare(a.CreatedAt)
		}
		return strings.Compare(b.ID, a.ID)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []domain.DailyClosing{}, nil
		}
		result = result[filter.Offset:]
	}
	return truncate(result, filter.Limit), nil
}

func (st *state) GetDeposit(_ context.Context, id string) (*domain.Deposit, error) {
	deposit, ok := st.deposits[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &deposit, nil
}

func (st *state) GetDepositByClosing(ctx context.Context, closingID string) (*domain.Deposit, error) {
	id, ok := st.depositByClosing[closingID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return st.GetDeposit(ctx, id)
}

func (st *state) ListDeposits(_ context.Context, filter domain.DepositFilter) ([]domain.Deposit, error) {
	result := make([]domain.Deposit, 0)
	for _, d := range st.deposits {
		if filter.BranchID != "" && d.BranchID != filter.BranchID {
			continue
		}
		if filter.Decision != "" && d.ApprovalDecision != filter.Decision {
			continue
		}
		if filter.BankConfirmed != nil && d.IsBankConfirmed != *filter.BankConfirmed {
			continue
		}
		if !inRange(d.DepositDate, filter.From, filter.To) {
			continue
		}
		result = append(result, d)
	}
	slices.SortFunc(result, func(a, b domain.Deposit) int {
		return b.DepositedAt.Compare(a.DepositedAt)
	})
	return truncate(result, filter.Limit), nil
}

func (st *state) ListAuditLogs(_ context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error) {
	result := make([]domain.AuditLog, 0)
	for _, entry := range st.auditLogs {
		if filter.EntityType != "" && entry.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && entry.EntityID != filter.EntityID {
			continue
		}
		if filter.UserID != "" && entry.UserID != filter.UserID {
			continue
		}
		if filter.BranchID != "" && (entry.BranchID == nil || *entry.BranchID != filter.BranchID) {
			continue
		}
		if !inRange(entry.CreatedAt, filter.From, filter.To) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortStableFunc(result, func(a, b domain.AuditLog) int {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return b.CreatedAt.Compare(a.CreatedAt)
		}
		return strings.Compare(b.ID, a.ID)
	})
	return truncate(result, filter.Limit), nil
}

func (st *state) GetBankAccount(_ context.Context, id string) (*domain.CompanyBankAccount, error) {
	account, ok := st.bankAccounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &account, nil
}

func (st *state) ListBankAccounts(_ context.Context, activeOnly bool) ([]domain.CompanyBankAccount, error) {
	result := make([]domain.CompanyBankAccount, 0, len(st.bankAccounts))
	for _, a := range st.bankAccounts {
		if activeOnly && !a.IsActive {
			continue
		}
		result = append(result, a)
	}
	slices.SortFunc(result, func(a, b domain.CompanyBankAccount) int {
		if a.BankName != b.BankName {
			return strings.Compare(a.BankName, b.BankName)
		}
		return strings.Compare(a.AccountNumber, b.AccountNumber)
	})
	return result, nil
}

func (st *state) GetSystemConfig(_ context.Context, key string) (*domain.SystemConfig, error) {
	cfg, ok := st.configs[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &cfg, nil
}

func (st *state) ListSystemConfig(_ context.Context) ([]domain.SystemConfig, error) {
	result := make([]domain.SystemConfig, 0, len(st.configs))
	for _, c := range st.configs {
		result = append(result, c)
	}
	slices.SortFunc(result, func(a, b domain.SystemConfig) int {
		return strings.Compare(a.Key, b.Key)
	})
	return result, nil
}

// tx is only valid inside the WithinTx callback that created it.
type tx struct {
	*state
	undo []func()
}

func (t *tx) onRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *tx) LockClosing(ctx context.Context, id string) (*domain.DailyClosing, error) {
	return t.GetClosing(ctx, id)
}

func (t *tx) LockDeposit(ctx context.Context, id string) (*domain.Deposit, error) {
	return t.GetDeposit(ctx, id)
}

func (t *tx) LockBranch(ctx context.Context, id string) (*domain.Branch, error) {
	return t.GetBranch(ctx, id)
}

func (t *tx) InsertBranch(_ context.Context, branch domain.Branch) error {
	if _, exists := t.branches[branch.ID]; exists {
		return store.ErrDuplicate
	}
	for _, b := range t.branches {
		if strings.EqualFold(b.BranchCode, branch.BranchCode) {
			return store.ErrDuplicate
		}
	}
	t.branches[branch.ID] = branch
	t.onRollback(func() { delete(t.branches, branch.ID) })
	return nil
}

func (t *tx) UpdateBranch(_ context.Context, branch domain.Branch) error {
	prev, ok := t.branches[branch.ID]
	if !ok {
		return store.ErrNotFound
	}
	t.branches[branch.ID] = branch
	t.onRollback(func() { t.branches[branch.ID] = prev })
	return nil
}

func (t *tx) DeleteBranch(ctx context.Context, id string) error {
	prev, ok := t.branches[id]
	if !ok {
		return store.ErrNotFound
	}
	refs, _ := t.CountBranchReferences(ctx, id)
	if refs > 0 {
		return store.ErrConflict
	}
	delete(t.branches, id)
	t.onRollback(func() { t.branches[id] = prev })
	return nil
}

func (t *tx) CountBranchReferences(_ context.Context, branchID string) (int, error) {
	count := 0
	for _, u := range t.users {
		if u.BranchID != nil && *u.BranchID == branchID {
			count++
		}
	}
	for _, c := range t.closings {
		if c.BranchID == branchID {
			count++
		}
	}
	return count, nil
}

func (t *tx) InsertUser(_ context.Context, user domain.User) error {
	if _, exists := t.users[user.ID]; exists {
		return store.ErrDuplicate
	}
	for _, u := range t.users {
		if strings.EqualFold(u.Username, user.Username) || strings.EqualFold(u.Email, user.Email) {
			return store.ErrDuplicate
		}
	}
	if user.BranchID != nil {
		if _, ok := t.branches[*user.BranchID]; !ok {
			return store.ErrConflict
		}
	}
	user.BranchID = cloneString(user.BranchID)
	t.users[user.ID] = user
	t.onRollback(func() { delete(t.users, user.ID) })
	return nil
}

func (t *tx) UpdateUser(_ context.Context, user domain.User) error {
	prev, ok := t.users[user.ID]
	if !ok {
		return store.ErrNotFound
	}
	user.BranchID = cloneString(user.BranchID)
	t.users[user.ID] = user
	t.onRollback(func() { t.users[user.ID] = prev })
	return nil
}

func (t *tx) InsertClosing(_ context.Context, closing domain.DailyClosing) error {
	if _, exists := t.closings[closing.ID]; exists {
		return store.ErrDuplicate
	}
	if _, ok := t.branches[closing.BranchID]; !ok {
		return store.ErrConflict
	}
	key := closingKey(closing.BranchID, closing.ClosingDate)
	if _, exists := t.closingByKey[key]; exists {
		return store.ErrDuplicate
	}
	t.closings[closing.ID] = cloneClosing(closing)
	t.closingByKey[key] = closing.ID
	t.onRollback(func() {
		delete(t.closings, closing.ID)
		delete(t.closingByKey, key)
	})
	return nil
}

func (t *tx) UpdateClosing(_ context.Context, closing domain.DailyClosing) error {
	prev, ok := t.closings[closing.ID]
	if !ok {
		return store.ErrNotFound
	}
	prevKey := closingKey(prev.BranchID, prev.ClosingDate)
	key := closingKey(closing.BranchID, closing.ClosingDate)
	if key != prevKey {
		if _, exists := t.closingByKey[key]; exists {
			return store.ErrDuplicate
		}
		delete(t.closingByKey, prevKey)
		t.closingByKey[key] = closing.ID
	}
	t.closings[closing.ID] = cloneClosing(closing)
	t.onRollback(func() {
		t.closings[closing.ID] = prev
		delete(t.closingByKey, key)
		t.closingByKey[prevKey] = prev.ID
	})
	return nil
}

func (t *tx) DeleteClosing(_ context.Context, id string) error {
	prev, ok := t.closings[id]
	if !ok {
		return store.ErrNotFound
	}
	if _, hasDeposit := t.depositByClosing[id]; hasDeposit {
		return store.ErrConflict
	}
	key := closingKey(prev.BranchID, prev.ClosingDate)
	delete(t.closings, id)
	delete(t.closingByKey, key)
	t.onRollback(func() {
		t.closings[id] = prev
		t.closingByKey[key] = id
	})
	return nil
}

func (t *tx) InsertDeposit(_ context.Context, deposit domain.Deposit) error {
	if _, exists := t.deposits[deposit.ID]; exists {
		return store.ErrDuplicate
	}
	if _, exists := t.depositByClosing[deposit.DailyClosingID]; exists {
		return store.ErrDuplicate
	}
	if _, ok := t.closings[deposit.DailyClosingID]; !ok {
		return store.ErrConflict
	}
	t.deposits[deposit.ID] = deposit
	t.depositByClosing[deposit.DailyClosingID] = deposit.ID
	t.onRollback(func() {
		delete(t.deposits, deposit.ID)
		delete(t.depositByClosing, deposit.DailyClosingID)
	})
	return nil
}

func (t *tx) UpdateDeposit(_ context.Context, deposit domain.Deposit) error {
	prev, ok := t.deposits[deposit.ID]
	if !ok {
		return store.ErrNotFound
	}
	t.deposits[deposit.ID] = deposit
	t.onRollback(func() { t.deposits[deposit.ID] = prev })
	return nil
}

func (t *tx) InsertAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	n := len(t.auditLogs)
	t.auditLogs = append(t.auditLogs, entry)
	t.onRollback(func() { t.auditLogs = t.auditLogs[:n] })
	return nil
}

func (t *tx) InsertBankAccount(_ context.Context, account domain.CompanyBankAccount) error {
	if _, exists := t.bankAccounts[account.ID]; exists {
		return store.ErrDuplicate
	}
	for _, a := range t.bankAccounts {
		if strings.EqualFold(a.BankName, account.BankName) && a.AccountNumber == account.AccountNumber {
			return store.ErrDuplicate
		}
	}
	t.bankAccounts[account.ID] = account
	t.onRollback(func() { delete(t.bankAccounts, account.ID) })
	return nil
}

func (t *tx) UpdateBankAccount(_ context.Context, account domain.CompanyBankAccount) error {
	prev, ok := t.bankAccounts[account.ID]
	if !ok {
		return store.ErrNotFound
	}
	t.bankAccounts[account.ID] = account
	t.onRollback(func() { t.bankAccounts[account.ID] = prev })
	return nil
}

func (t *tx) UpsertSystemConfig(_ context.Context, cfg domain.SystemConfig) error {
	prev, existed := t.configs[cfg.Key]
	t.configs[cfg.Key] = cfg
	t.onRollback(func() {
		if existed {
			t.configs[cfg.Key] = prev
			return
		}
		delete(t.configs, cfg.Key)
	})
	return nil
}

func closingKey(branchID string, date time.Time) string {
	return branchID + "|" + date.Format(time.DateOnly)
}

func inRange(at time.Time, from *time.Time, to *time.Time) bool {
	if from != nil && at.Before(*from) {
		return false
	}
	if to != nil && at.After(*to) {
		return false
	}
	return true
}

func truncate[T any](items []T, limit int) []T {
	limit = store.ClampLimit(limit)
	if len(items) > limit {
		return items[:limit]
	}
	return items
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

func cloneClosing(src domain.DailyClosing) domain.DailyClosing {
	dst := src
	dst.HandwrittenExpensesList = slices.Clone(src.HandwrittenExpensesList)
	dst.EDCBreakdown = slices.Clone(src.EDCBreakdown)
	return dst
}

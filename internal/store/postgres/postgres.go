package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"cashrecon/backend/internal/domain"
	"cashrecon/backend/internal/store"
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// queries implements the read side over either the pool or an open
// transaction.
type queries struct {
	q queryer
}

type Store struct {
	queries
	db *sql.DB
}

var _ store.Repository = (*Store)(nil)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{queries: queries{q: db}, db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&pgTx{queries: queries{q: sqlTx}}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

var (
	branchColumns = []string{"id", "branch_code", "branch_name", "address", "phone_number", "status", "created_at", "updated_at"}

	userColumns = []string{"id", "email", "username", "password_hash", "role", "status", "branch_id", "created_at", "updated_at"}

	closingColumns = []string{
		"id", "branch_id", "closing_date", "status",
		"submitted_at", "cash_received_at", "cash_received_by", "completed_at",
		"pos_total_sales", "pos_cash", "pos_credit", "pos_transfer", "pos_expenses",
		"pos_bill_count", "pos_avg_per_bill", "pos_start_time", "pos_end_time", "pos_image_url",
		"handwritten_cash_count", "handwritten_expenses", "handwritten_net_cash",
		"handwritten_expenses_list", "handwritten_image_url",
		"edc_total_amount", "edc_batch_number", "edc_settlement_date", "edc_breakdown", "edc_image_url",
		"has_discrepancy", "pos_credit_vs_edc_diff", "discrepancy_remark",
		"submitted_by", "created_at", "updated_at",
	}

	depositColumns = []string{
		"id", "daily_closing_id", "branch_id", "deposit_amount", "actual_deposit_amount",
		"bank_name", "account_number", "bank_branch", "deposit_date", "deposit_slip_url",
		"deposited_by", "deposited_at", "amount_matched",
		"approval_decision", "approved_by", "approved_at", "approval_remark",
		"is_staff_confirmed", "staff_confirmed_by", "staff_confirmed_at", "staff_confirm_remark",
		"is_bank_confirmed", "bank_confirmed_by", "bank_confirmed_at", "bank_confirm_remark",
		"created_at", "updated_at",
	}

	auditColumns = []string{"id", "user_id", "branch_id", "action", "entity_type", "entity_id", "field_name", "old_value", "new_value", "remark", "created_at"}

	bankAccountColumns = []string{"id", "bank_name", "account_number", "account_name", "bank_branch", "is_active", "created_at", "updated_at"}

	configColumns = []string{"key", "value", "description", "updated_by", "updated_at"}
)

func selectSQL(table string, columns []string) string {
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), table)
}

func insertSQL(table string, columns []string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
}

// updateSQL assumes the first column is the primary key.
func updateSQL(table string, columns []string) string {
	sets := make([]string, 0, len(columns)-1)
	for i, col := range columns[1:] {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+2))
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = $1", table, strings.Join(sets, ", "), columns[0])
}

// where accumulates filter clauses with positional arguments.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (w *where) limit(n int) string {
	w.args = append(w.args, store.ClampLimit(n))
	return fmt.Sprintf(" LIMIT $%d", len(w.args))
}

func (w *where) page(n int, offset int) string {
	clause := w.limit(n)
	if offset <= 0 {
		return clause
	}
	w.args = append(w.args, offset)
	return clause + fmt.Sprintf(" OFFSET $%d", len(w.args))
}

// Branches

func scanBranch(row rowScanner) (*domain.Branch, error) {
	var b domain.Branch
	var phone sql.NullString
	if err := row.Scan(&b.ID, &b.BranchCode, &b.BranchName, &b.Address, &phone, &b.Status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.PhoneNumber = stringPtr(phone)
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

func branchArgs(b domain.Branch) []any {
	return []any{b.ID, b.BranchCode, b.BranchName, b.Address, nullString(b.PhoneNumber), string(b.Status), b.CreatedAt, b.UpdatedAt}
}

func (q queries) GetBranch(ctx context.Context, id string) (*domain.Branch, error) {
	row := q.q.QueryRowContext(ctx, selectSQL("branches", branchColumns)+" WHERE id = $1", id)
	return notFound(scanBranch(row))
}

func (q queries) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	rows, err := q.q.QueryContext(ctx, selectSQL("branches", branchColumns)+" ORDER BY branch_code")
	if err != nil {
		return nil, err
	}
	return collect(rows, scanBranch)
}

// Users

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	var branchID sql.NullString
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.Role, &u.Status, &branchID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.BranchID = stringPtr(branchID)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

func userArgs(u domain.User) []any {
	return []any{u.ID, u.Email, u.Username, u.PasswordHash, string(u.Role), string(u.Status), nullString(u.BranchID), u.CreatedAt, u.UpdatedAt}
}

func (q queries) GetUser(ctx context.Context, id string) (*domain.User, error) {
	row := q.q.QueryRowContext(ctx, selectSQL("users", userColumns)+" WHERE id = $1", id)
	return notFound(scanUser(row))
}

func (q queries) FindUserByLogin(ctx context.Context, login string) (*domain.User, error) {
	row := q.q.QueryRowContext(ctx, selectSQL("users", userColumns)+`
		WHERE lower(username) = lower($1) OR lower(email) = lower($1)
		LIMIT 1`, strings.TrimSpace(login))
	return notFound(scanUser(row))
}

func (q queries) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := q.q.QueryContext(ctx, selectSQL("users", userColumns)+" ORDER BY username")
	if err != nil {
		return nil, err
	}
	return collect(rows, scanUser)
}

// Daily closings

func scanClosing(row rowScanner) (*domain.DailyClosing, error) {
	var c domain.DailyClosing
	var (
		submittedAt, cashReceivedAt, completedAt, edcSettlementDate sql.NullTime
		cashReceivedBy, posStart, posEnd, posImage                  sql.NullString
		handwrittenImage, edcBatch, edcImage, remark                sql.NullString
		billCount                                                   sql.NullInt64
		avgPerBill                                                  decimal.NullDecimal
		expensesJSON, breakdownJSON                                 []byte
	)
	err := row.Scan(
		&c.ID, &c.BranchID, &c.ClosingDate, &c.Status,
		&submittedAt, &cashReceivedAt, &cashReceivedBy, &completedAt,
		&c.POSTotalSales, &c.POSCash, &c.POSCredit, &c.POSTransfer, &c.POSExpenses,
		&billCount, &avgPerBill, &posStart, &posEnd, &posImage,
		&c.HandwrittenCashCount, &c.HandwrittenExpenses, &c.HandwrittenNetCash,
		&expensesJSON, &handwrittenImage,
		&c.EDCTotalAmount, &edcBatch, &edcSettlementDate, &breakdownJSON, &edcImage,
		&c.HasDiscrepancy, &c.POSCreditVsEDCDiff, &remark,
		&c.SubmittedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.ClosingDate = c.ClosingDate.UTC()
	c.SubmittedAt = timePtr(submittedAt)
	c.CashReceivedAt = timePtr(cashReceivedAt)
	c.CashReceivedBy = stringPtr(cashReceivedBy)
	c.CompletedAt = timePtr(completedAt)
	if billCount.Valid {
		n := int(billCount.Int64)
		c.POSBillCount = &n
	}
	if avgPerBill.Valid {
		c.POSAvgPerBill = &avgPerBill.Decimal
	}
	c.POSStartTime = stringPtr(posStart)
	c.POSEndTime = stringPtr(posEnd)
	c.POSImageURL = stringPtr(posImage)
	c.HandwrittenImageURL = stringPtr(handwrittenImage)
	c.EDCBatchNumber = stringPtr(edcBatch)
	c.EDCSettlementDate = timePtr(edcSettlementDate)
	c.EDCImageURL = stringPtr(edcImage)
	c.DiscrepancyRemark = stringPtr(remark)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()

	if err := json.Unmarshal(expensesJSON, &c.HandwrittenExpensesList); err != nil {
		return nil, fmt.Errorf("decode handwritten_expenses_list: %w", err)
	}
	if err := json.Unmarshal(breakdownJSON, &c.EDCBreakdown); err != nil {
		return nil, fmt.Errorf("decode edc_breakdown: %w", err)
	}
	return &c, nil
}

func closingArgs(c domain.DailyClosing) ([]any, error) {
	expenses, err := json.Marshal(nonNil(c.HandwrittenExpensesList))
	if err != nil {
		return nil, err
	}
	breakdown, err := json.Marshal(nonNil(c.EDCBreakdown))
	if err != nil {
		return nil, err
	}
	var billCount any
	if c.POSBillCount != nil {
		billCount = *c.POSBillCount
	}
	return []any{
		c.ID, c.BranchID, dateOnly(c.ClosingDate), string(c.Status),
		nullTime(c.SubmittedAt), nullTime(c.CashReceivedAt), nullString(c.CashReceivedBy), nullTime(c.CompletedAt),
		c.POSTotalSales, c.POSCash, c.POSCredit, c.POSTransfer, c.POSExpenses,
		billCount, nullDecimal(c.POSAvgPerBill), nullString(c.POSStartTime), nullString(c.POSEndTime), nullString(c.POSImageURL),
		c.HandwrittenCashCount, c.HandwrittenExpenses, c.HandwrittenNetCash,
		expenses, nullString(c.HandwrittenImageURL),
		c.EDCTotalAmount, nullString(c.EDCBatchNumber), nullDate(c.EDCSettlementDate), breakdown, nullString(c.EDCImageURL),
		c.HasDiscrepancy, c.POSCreditVsEDCDiff, nullString(c.DiscrepancyRemark),
		c.SubmittedBy, c.CreatedAt, c.UpdatedAt,
	}, nil
}

func (q queries) GetClosing(ctx context.Context, id string) (*domain.DailyClosing, error) {
	row := q.q.QueryRowContext(ctx, selectSQL("daily_closings", closingColumns)+" WHERE id = $1", id)
	return notFound(scanClosing(row))
}

func (q queries) ListClosings(ctx context.Context, filter domain.ClosingFilter) ([]domain.DailyClosing, error) {
	w := &where{}
	if filter.BranchID != "" {
		w.add("branch_id = $%d", filter.BranchID)
	}
	if filter.Status != "" {
		w.add("status = $%d", string(filter.Status))
	}
	if filter.From != nil {
		w.add("closing_date >= $%d", dateOnly(*filter.From))
	}
	if filter.To != nil {
		w.add("closing_date <= $%d", dateOnly(*filter.To))
	}
	query := selectSQL("daily_closings", closingColumns) + w.String() + " ORDER BY closing_date DESC, created_at DESC, id DESC" + w.page(filter.Limit, filter.Offset)

	rows, err := q.q.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanClosing)
}

// Deposits

func scanDeposit(row rowScanner) (*domain.Deposit, error) {
	var d domain.Deposit
	var (
		actual                                   decimal.NullDecimal
		bankBranch, approvedBy, approvalRemark   sql.NullString
		staffBy, staffRemark, bankBy, bankRemark sql.NullString
		approvedAt, staffAt, bankAt              sql.NullTime
	)
	err := row.Scan(
		&d.ID, &d.DailyClosingID, &d.BranchID, &d.DepositAmount, &actual,
		&d.BankName, &d.AccountNumber, &bankBranch, &d.DepositDate, &d.DepositSlipURL,
		&d.DepositedBy, &d.DepositedAt, &d.AmountMatched,
		&d.ApprovalDecision, &approvedBy, &approvedAt, &approvalRemark,
		&d.IsStaffConfirmed, &staffBy, &staffAt, &staffRemark,
		&d.IsBankConfirmed, &bankBy, &bankAt, &bankRemark,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if actual.Valid {
		d.ActualDepositAmount = &actual.Decimal
	}
	d.BankBranch = stringPtr(bankBranch)
	d.DepositDate = d.DepositDate.UTC()
	d.DepositedAt = d.DepositedAt.UTC()
	d.ApprovedBy = stringPtr(approvedBy)
	d.ApprovedAt = timePtr(approvedAt)
	d.ApprovalRemark = stringPtr(approvalRemark)
	d.StaffConfirmedBy = stringPtr(staffBy)
	d.StaffConfirmedAt = timePtr(staffAt)
	d.StaffConfirmRemark = stringPtr(staffRemark)
	d.BankConfirmedBy = stringPtr(bankBy)
	d.BankConfirmedAt = timePtr(bankAt)
	d.BankConfirmRemark = stringPtr(bankRemark)
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}

func depositArgs(d domain.Deposit) []any {
	return []any{
		d.ID, d.DailyClosingID, d.BranchID, d.DepositAmount, nullDecimal(d.ActualDepositAmount),
		d.BankName, d.AccountNumber, nullString(d.BankBranch), dateOnly(d.DepositDate), d.DepositSlipURL,
		d.DepositedBy, d.DepositedAt, d.AmountMatched,
		string(d.ApprovalDecision), nullString(d.ApprovedBy), nullTime(d.ApprovedAt), nullString(d.ApprovalRemark),
		d.IsStaffConfirmed, nullString(d.StaffConfirmedBy), nullTime(d.StaffConfirmedAt), nullString(d.StaffConfirmRemark),
		d.IsBankConfirmed, nullString(d.BankConfirmedBy), nullTime(d.BankConfirmedAt), nullString(d.BankConfirmRemark),
		d.CreatedAt, d.UpdatedAt,
	}
}

func (q queries) GetDeposit(ctx context.Context, id string) (*domain.Deposit, error) {
	row := q.q.QueryRowContext(ctx, selectSQL("deposits", depositColumns)+" WHERE id = $1", id)
	return notFound(scanDeposit(row))
}

func (q queries) GetDepositByClosing(ctx context.Context, closingID string) (*domain.Deposit, error) {
	row := q.q.QueryRowContext(ctx, selectSQL("deposits", depositColumns)+" WHERE daily_closing_id = $1", closingID)
	return notFound(scanDeposit(row))
}

func (q queries) ListDeposits(ctx context.Context, filter domain.DepositFilter) ([]domain.Deposit, error) {
	w := &where{}
	if filter.BranchID != "" {
		w.add("branch_id = $%d", filter.BranchID)
	}
	if filter.Decision != "" {
		w.add("approval_decision = $%d", string(filter.Decision))
	}
	if filter.BankConfirmed != nil {
		w.add("is_bank_confirmed = $%d", *filter.BankConfirmed)
	}
	if filter.From != nil {
		w.add("deposit_date >= $%d", dateOnly(*filter.From))
	}
	if filter.To != nil {
		w.add("deposit_date <= $%d", dateOnly(*filter.To))
	}
	query := selectSQL("deposits", depositColumns) + w.String() + " ORDER BY deposited_at DESC" + w.limit(filter.Limit)

	rows, err := q.q.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanDeposit)
}

// Audit logs

func scanAuditLog(row rowScanner) (*domain.AuditLog, error) {
	var a domain.AuditLog
	var branchID, field, oldValue, newValue, remark sql.NullString
	if err := row.Scan(&a.ID, &a.UserID, &branchID, &a.Action, &a.EntityType, &a.EntityID, &field, &oldValue, &newValue, &remark, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.BranchID = stringPtr(branchID)
	a.FieldName = stringPtr(field)
	a.OldValue = stringPtr(oldValue)
	a.NewValue = stringPtr(newValue)
	a.Remark = stringPtr(remark)
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

func (q queries) ListAuditLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error) {
	w := &where{}
	if filter.EntityType != "" {
		w.add("entity_type = $%d", filter.EntityType)
	}
	if filter.EntityID != "" {
		w.add("entity_id = $%d", filter.EntityID)
	}
	if filter.UserID != "" {
		w.add("user_id = $%d", filter.UserID)
	}
	if filter.BranchID != "" {
		w.add("branch_id = $%d", filter.BranchID)
	}
	if filter.From != nil {
		w.add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		w.add("created_at <= $%d", *filter.To)
	}
	query := selectSQL("audit_logs", auditColumns) + w.String() + " ORDER BY created_at DESC, id DESC" + w.limit(filter.Limit)

	rows, err := q.q.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAuditLog)
}

// Reference data

func scanBankAccount(row rowScanner) (*domain.CompanyBankAccount, error) {
	var a domain.CompanyBankAccount
	var bankBranch sql.NullString
	if err := row.Scan(&a.ID, &a.BankName, &a.AccountNumber, &a.AccountName, &bankBranch, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.BankBranch = stringPtr(bankBranch)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

func bankAccountArgs(a domain.CompanyBankAccount) []any {
	return []any{a.ID, a.BankName, a.AccountNumber, a.AccountName, nullString(a.BankBranch), a.IsActive, a.CreatedAt, a.UpdatedAt}
}

func (q queries) GetBankAccount(ctx context.Context, id string) (*domain.CompanyBankAccount, error) {
	row := q.q.QueryRowContext(ctx, selectSQL("company_bank_accounts", bankAccountColumns)+" WHERE id = $1", id)
	return notFound(scanBankAccount(row))
}

func (q queries) ListBankAccounts(ctx context.Context, activeOnly bool) ([]domain.CompanyBankAccount, error) {
	query := selectSQL("company_bank_accounts", bankAccountColumns)
	if activeOnly {
		query += " WHERE is_active = true"
	}
	rows, err := q.q.QueryContext(ctx, query+" ORDER BY bank_name, account_number")
	if err != nil {
		return nil, err
	}
	return collect(rows, scanBankAccount)
}

func scanConfig(row rowScanner) (*domain.SystemConfig, error) {
	var c domain.SystemConfig
	if err := row.Scan(&c.Key, &c.Value, &c.Description, &c.UpdatedBy, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func (q queries) GetSystemConfig(ctx context.Context, key string) (*domain.SystemConfig, error) {
	row := q.q.QueryRowContext(ctx, selectSQL("system_config", configColumns)+" WHERE key = $1", key)
	return notFound(scanConfig(row))
}

func (q queries) ListSystemConfig(ctx context.Context) ([]domain.SystemConfig, error) {
	rows, err := q.q.QueryContext(ctx, selectSQL("system_config", configColumns)+" ORDER BY key")
	if err != nil {
		return nil, err
	}
	return collect(rows, scanConfig)
}

// pgTx is the write side. Every write goes through the *sql.Tx held in
// queries, so a failing callback rolls back all of them.
type pgTx struct {
	queries
}

func (t *pgTx) LockClosing(ctx context.Context, id string) (*domain.DailyClosing, error) {
	row := t.q.QueryRowContext(ctx, selectSQL("daily_closings", closingColumns)+" WHERE id = $1 FOR UPDATE", id)
	return notFound(scanClosing(row))
}

func (t *pgTx) LockDeposit(ctx context.Context, id string) (*domain.Deposit, error) {
	row := t.q.QueryRowContext(ctx, selectSQL("deposits", depositColumns)+" WHERE id = $1 FOR UPDATE", id)
	return notFound(scanDeposit(row))
}

func (t *pgTx) LockBranch(ctx context.Context, id string) (*domain.Branch, error) {
	row := t.q.QueryRowContext(ctx, selectSQL("branches", branchColumns)+" WHERE id = $1 FOR UPDATE", id)
	return notFound(scanBranch(row))
}

func (t *pgTx) InsertBranch(ctx context.Context, branch domain.Branch) error {
	return t.exec(ctx, insertSQL("branches", branchColumns), branchArgs(branch)...)
}

func (t *pgTx) UpdateBranch(ctx context.Context, branch domain.Branch) error {
	return t.execOne(ctx, updateSQL("branches", branchColumns), branchArgs(branch)...)
}

func (t *pgTx) DeleteBranch(ctx context.Context, id string) error {
	return t.execOne(ctx, `DELETE FROM branches WHERE id = $1`, id)
}

func (t *pgTx) CountBranchReferences(ctx context.Context, branchID string) (int, error) {
	var count int
	err := t.q.QueryRowContext(ctx, `
		SELECT (SELECT count(*) FROM users WHERE branch_id = $1)
		     + (SELECT count(*) FROM daily_closings WHERE branch_id = $1)
	`, branchID).Scan(&count)
	return count, err
}

func (t *pgTx) InsertUser(ctx context.Context, user domain.User) error {
	return t.exec(ctx, insertSQL("users", userColumns), userArgs(user)...)
}

func (t *pgTx) UpdateUser(ctx context.Context, user domain.User) error {
	return t.execOne(ctx, updateSQL("users", userColumns), userArgs(user)...)
}

func (t *pgTx) InsertClosing(ctx context.Context, closing domain.DailyClosing) error {
	args, err := closingArgs(closing)
	if err != nil {
		return err
	}
	return t.exec(ctx, insertSQL("daily_closings", closingColumns), args...)
}

func (t *pgTx) UpdateClosing(ctx context.Context, closing domain.DailyClosing) error {
	args, err := closingArgs(closing)
	if err != nil {
		return err
	}
	return t.execOne(ctx, updateSQL("daily_closings", closingColumns), args...)
}

func (t *pgTx) DeleteClosing(ctx context.Context, id string) error {
	return t.execOne(ctx, `DELETE FROM daily_closings WHERE id = $1`, id)
}

func (t *pgTx) InsertDeposit(ctx context.Context, deposit domain.Deposit) error {
	return t.exec(ctx, insertSQL("deposits", depositColumns), depositArgs(deposit)...)
}

func (t *pgTx) UpdateDeposit(ctx context.Context, deposit domain.Deposit) error {
	return t.execOne(ctx, updateSQL("deposits", depositColumns), depositArgs(deposit)...)
}

func (t *pgTx) InsertAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return t.exec(ctx, insertSQL("audit_logs", auditColumns),
		entry.ID, entry.UserID, nullString(entry.BranchID), string(entry.Action), entry.EntityType, entry.EntityID,
		nullString(entry.FieldName), nullString(entry.OldValue), nullString(entry.NewValue), nullString(entry.Remark),
		entry.CreatedAt,
	)
}

func (t *pgTx) InsertBankAccount(ctx context.Context, account domain.CompanyBankAccount) error {
	return t.exec(ctx, insertSQL("company_bank_accounts", bankAccountColumns), bankAccountArgs(account)...)
}

func (t *pgTx) UpdateBankAccount(ctx context.Context, account domain.CompanyBankAccount) error {
	return t.execOne(ctx, updateSQL("company_bank_accounts", bankAccountColumns), bankAccountArgs(account)...)
}

func (t *pgTx) UpsertSystemConfig(ctx context.Context, cfg domain.SystemConfig) error {
	return t.exec(ctx, `
		INSERT INTO system_config (key, value, description, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value, description = EXCLUDED.description,
			updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at
	`, cfg.Key, cfg.Value, cfg.Description, cfg.UpdatedBy, cfg.UpdatedAt)
}

func (t *pgTx) exec(ctx context.Context, query string, args ...any) error {
	_, err := t.q.ExecContext(ctx, query, args...)
	return mapWriteError(err)
}

// execOne fails with store.ErrNotFound when no row was touched.
func (t *pgTx) execOne(ctx context.Context, query string, args ...any) error {
	res, err := t.q.ExecContext(ctx, query, args...)
	if err != nil {
		return mapWriteError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func collect[T any](rows *sql.Rows, scan func(rowScanner) (*T, error)) ([]T, error) {
	defer rows.Close()
	result := make([]T, 0, 32)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func notFound[T any](item *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return item, err
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
	}
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullString(val *string) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return dateOnly(*val)
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullDecimal(val *decimal.Decimal) any {
	if val == nil {
		return nil
	}
	return *val
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

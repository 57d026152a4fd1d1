package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleStoreStaff Role = "STORE_STAFF"
	RoleAuditor    Role = "AUDITOR"
	RoleManager    Role = "MANAGER"
	RoleOwner      Role = "OWNER"
	RoleAdmin      Role = "ADMIN"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStoreStaff, RoleAuditor, RoleManager, RoleOwner, RoleAdmin:
		return true
	}
	return false
}

type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
	UserStatusInactive  UserStatus = "INACTIVE"
)

type BranchStatus string

const (
	BranchStatusActive   BranchStatus = "ACTIVE"
	BranchStatusInactive BranchStatus = "INACTIVE"
)

type ClosingStatus string

// COMPLETED and REJECTED are reserved. No operation moves a closing into them.
const (
	ClosingStatusDraft        ClosingStatus = "DRAFT"
	ClosingStatusSubmitted    ClosingStatus = "SUBMITTED"
	ClosingStatusCashReceived ClosingStatus = "CASH_RECEIVED"
	ClosingStatusDeposited    ClosingStatus = "DEPOSITED"
	ClosingStatusCompleted    ClosingStatus = "COMPLETED"
	ClosingStatusRejected     ClosingStatus = "REJECTED"
)

func (s ClosingStatus) Valid() bool {
	switch s {
	case ClosingStatusDraft, ClosingStatusSubmitted, ClosingStatusCashReceived,
		ClosingStatusDeposited, ClosingStatusCompleted, ClosingStatusRejected:
		return true
	}
	return false
}

type ApprovalDecision string

const (
	ApprovalPending  ApprovalDecision = "PENDING"
	ApprovalApproved ApprovalDecision = "APPROVED"
	ApprovalFlagged  ApprovalDecision = "FLAGGED"
	ApprovalRejected ApprovalDecision = "REJECTED"
)

// ApprovalStatusBankConfirmed is only ever derived for the wire; it is never
// stored as a decision.
const ApprovalStatusBankConfirmed = "BANK_CONFIRMED"

type AuditAction string

const (
	AuditCreate       AuditAction = "CREATE"
	AuditUpdate       AuditAction = "UPDATE"
	AuditDelete       AuditAction = "DELETE"
	AuditStatusChange AuditAction = "STATUS_CHANGE"
	AuditApprove      AuditAction = "APPROVE"
	AuditReject       AuditAction = "REJECT"
)

const (
	EntityDailyClosing       = "DailyClosing"
	EntityDeposit            = "Deposit"
	EntityBranch             = "Branch"
	EntityUser               = "User"
	EntityCompanyBankAccount = "CompanyBankAccount"
	EntitySystemConfig       = "SystemConfig"
)

type DocumentType string

const (
	DocumentPOSReport          DocumentType = "POS_REPORT"
	DocumentHandwrittenSummary DocumentType = "HANDWRITTEN_SUMMARY"
	DocumentEDCSlip            DocumentType = "EDC_SLIP"
	DocumentPayInSlip          DocumentType = "PAY_IN_SLIP"
)

func (d DocumentType) Valid() bool {
	switch d {
	case DocumentPOSReport, DocumentHandwrittenSummary, DocumentEDCSlip, DocumentPayInSlip:
		return true
	}
	return false
}

// Actor is the identity resolved for the current request. BranchID is set
// only for store staff.
type Actor struct {
	UserID   string
	Username string
	Role     Role
	BranchID *string
}

func (a Actor) HasBranch(branchID string) bool {
	return a.BranchID != nil && *a.BranchID == branchID
}

type Branch struct {
	ID          string       `json:"id"`
	BranchCode  string       `json:"branchCode"`
	BranchName  string       `json:"branchName"`
	Address     string       `json:"address"`
	PhoneNumber *string      `json:"phoneNumber,omitempty"`
	Status      BranchStatus `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	Status       UserStatus `json:"status"`
	BranchID     *string    `json:"branchId"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type ExpenseItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

type EDCBreakdownItem struct {
	CardType    string          `json:"cardType"`
	Transaction int             `json:"transactionCount"`
	Amount      decimal.Decimal `json:"amount"`
}

type DailyClosing struct {
	ID          string        `json:"id"`
	BranchID    string        `json:"branchId"`
	ClosingDate time.Time     `json:"closingDate"`
	Status      ClosingStatus `json:"status"`

	SubmittedAt    *time.Time `json:"submittedAt,omitempty"`
	CashReceivedAt *time.Time `json:"cashReceivedAt,omitempty"`
	CashReceivedBy *string    `json:"cashReceivedBy,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`

	POSTotalSales decimal.Decimal  `json:"posTotalSales"`
	POSCash       decimal.Decimal  `json:"posCash"`
	POSCredit     decimal.Decimal  `json:"posCredit"`
	POSTransfer   decimal.Decimal  `json:"posTransfer"`
	POSExpenses   decimal.Decimal  `json:"posExpenses"`
	POSBillCount  *int             `json:"posBillCount,omitempty"`
	POSAvgPerBill *decimal.Decimal `json:"posAvgPerBill,omitempty"`
	POSStartTime  *string          `json:"posStartTime,omitempty"`
	POSEndTime    *string          `json:"posEndTime,omitempty"`
	POSImageURL   *string          `json:"posImageUrl,omitempty"`

	HandwrittenCashCount    decimal.Decimal `json:"handwrittenCashCount"`
	HandwrittenExpenses     decimal.Decimal `json:"handwrittenExpenses"`
	HandwrittenNetCash      decimal.Decimal `json:"handwrittenNetCash"`
	HandwrittenExpensesList []ExpenseItem   `json:"handwrittenExpensesList"`
	HandwrittenImageURL     *string         `json:"handwrittenImageUrl,omitempty"`

	EDCTotalAmount    decimal.Decimal    `json:"edcTotalAmount"`
	EDCBatchNumber    *string            `json:"edcBatchNumber,omitempty"`
	EDCSettlementDate *time.Time         `json:"edcSettlementDate,omitempty"`
	EDCBreakdown      []EDCBreakdownItem `json:"edcBreakdown"`
	EDCImageURL       *string            `json:"edcImageUrl,omitempty"`

	HasDiscrepancy     bool            `json:"hasDiscrepancy"`
	POSCreditVsEDCDiff decimal.Decimal `json:"posCreditVsEdcDiff"`
	DiscrepancyRemark  *string         `json:"discrepancyRemark,omitempty"`

	SubmittedBy string    `json:"submittedBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Deposit struct {
	ID                  string           `json:"id"`
	DailyClosingID      string           `json:"dailyClosingId"`
	BranchID            string           `json:"branchId"`
	DepositAmount       decimal.Decimal  `json:"depositAmount"`
	ActualDepositAmount *decimal.Decimal `json:"actualDepositAmount,omitempty"`
	BankName            string           `json:"bankName"`
	AccountNumber       string           `json:"accountNumber"`
	BankBranch          *string          `json:"bankBranch,omitempty"`
	DepositDate         time.Time        `json:"depositDate"`
	DepositSlipURL      string           `json:"depositSlipUrl"`
	DepositedBy         string           `json:"depositedBy"`
	DepositedAt         time.Time        `json:"depositedAt"`
	AmountMatched       bool             `json:"amountMatched"`

	ApprovalDecision ApprovalDecision `json:"approvalDecision"`
	ApprovedBy       *string          `json:"approvedBy,omitempty"`
	ApprovedAt       *time.Time       `json:"approvedAt,omitempty"`
	ApprovalRemark   *string          `json:"approvalRemark,omitempty"`

	IsStaffConfirmed   bool       `json:"isStaffConfirmed"`
	StaffConfirmedBy   *string    `json:"staffConfirmedBy,omitempty"`
	StaffConfirmedAt   *time.Time `json:"staffConfirmedAt,omitempty"`
	StaffConfirmRemark *string    `json:"staffConfirmRemark,omitempty"`

	IsBankConfirmed   bool       `json:"isBankConfirmed"`
	BankConfirmedBy   *string    `json:"bankConfirmedBy,omitempty"`
	BankConfirmedAt   *time.Time `json:"bankConfirmedAt,omitempty"`
	BankConfirmRemark *string    `json:"bankConfirmRemark,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ApprovalStatus folds the decision and bank confirmation into the single
// status older clients expect.
func (d Deposit) ApprovalStatus() string {
	if d.IsBankConfirmed {
		return ApprovalStatusBankConfirmed
	}
	return string(d.ApprovalDecision)
}

func (d Deposit) MarshalJSON() ([]byte, error) {
	type alias Deposit
	return json.Marshal(struct {
		alias
		ApprovalStatus string `json:"approvalStatus"`
	}{alias: alias(d), ApprovalStatus: d.ApprovalStatus()})
}

type AuditLog struct {
	ID         string      `json:"id"`
	UserID     string      `json:"userId"`
	BranchID   *string     `json:"branchId,omitempty"`
	Action     AuditAction `json:"action"`
	EntityType string      `json:"entityType"`
	EntityID   string      `json:"entityId"`
	FieldName  *string     `json:"fieldName,omitempty"`
	OldValue   *string     `json:"oldValue,omitempty"`
	NewValue   *string     `json:"newValue,omitempty"`
	Remark     *string     `json:"remark,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}

type CompanyBankAccount struct {
	ID            string    `json:"id"`
	BankName      string    `json:"bankName"`
	AccountNumber string    `json:"accountNumber"`
	AccountName   string    `json:"accountName"`
	BankBranch    *string   `json:"bankBranch,omitempty"`
	IsActive      bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type SystemConfig struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	UpdatedBy   string    `json:"updatedBy,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

const (
	ConfigDiscrepancyThreshold = "DISCREPANCY_THRESHOLD_AMOUNT"
	ConfigVarianceEpsilon      = "VARIANCE_EPSILON"
	ConfigCreditCardFeeRate    = "CREDIT_CARD_FEE_RATE"
)

// Requests

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string  `json:"accessToken"`
	Role        Role    `json:"role"`
	BranchID    *string `json:"branchId,omitempty"`
	ExpiresAt   string  `json:"expiresAt"`
}

type ClosingCreateRequest struct {
	BranchID    string `json:"branchId"`
	ClosingDate string `json:"closingDate"`

	POSTotalSales decimal.Decimal  `json:"posTotalSales"`
	POSCash       decimal.Decimal  `json:"posCash"`
	POSCredit     decimal.Decimal  `json:"posCredit"`
	POSTransfer   decimal.Decimal  `json:"posTransfer"`
	POSExpenses   decimal.Decimal  `json:"posExpenses"`
	POSBillCount  *int             `json:"posBillCount,omitempty"`
	POSAvgPerBill *decimal.Decimal `json:"posAvgPerBill,omitempty"`
	POSStartTime  *string          `json:"posStartTime,omitempty"`
	POSEndTime    *string          `json:"posEndTime,omitempty"`
	POSImageURL   *string          `json:"posImageUrl,omitempty"`

	HandwrittenCashCount    decimal.Decimal  `json:"handwrittenCashCount"`
	HandwrittenExpenses     decimal.Decimal  `json:"handwrittenExpenses"`
	HandwrittenNetCash      *decimal.Decimal `json:"handwrittenNetCash,omitempty"`
	HandwrittenExpensesList []ExpenseItem    `json:"handwrittenExpensesList,omitempty"`
	HandwrittenImageURL     *string          `json:"handwrittenImageUrl,omitempty"`

	EDCTotalAmount    decimal.Decimal    `json:"edcTotalAmount"`
	EDCBatchNumber    *string            `json:"edcBatchNumber,omitempty"`
	EDCSettlementDate *string            `json:"edcSettlementDate,omitempty"`
	EDCBreakdown      []EDCBreakdownItem `json:"edcBreakdown,omitempty"`
	EDCImageURL       *string            `json:"edcImageUrl,omitempty"`

	DiscrepancyRemark *string `json:"discrepancyRemark,omitempty"`
}

// ClosingUpdateRequest patches a draft. Nil fields are left untouched.
type ClosingUpdateRequest struct {
	POSTotalSales *decimal.Decimal `json:"posTotalSales,omitempty"`
	POSCash       *decimal.Decimal `json:"posCash,omitempty"`
	POSCredit     *decimal.Decimal `json:"posCredit,omitempty"`
	POSTransfer   *decimal.Decimal `json:"posTransfer,omitempty"`
	POSExpenses   *decimal.Decimal `json:"posExpenses,omitempty"`
	POSBillCount  *int             `json:"posBillCount,omitempty"`
	POSAvgPerBill *decimal.Decimal `json:"posAvgPerBill,omitempty"`
	POSStartTime  *string          `json:"posStartTime,omitempty"`
	POSEndTime    *string          `json:"posEndTime,omitempty"`
	POSImageURL   *string          `json:"posImageUrl,omitempty"`

	HandwrittenCashCount    *decimal.Decimal `json:"handwrittenCashCount,omitempty"`
	HandwrittenExpenses     *decimal.Decimal `json:"handwrittenExpenses,omitempty"`
	HandwrittenNetCash      *decimal.Decimal `json:"handwrittenNetCash,omitempty"`
	HandwrittenExpensesList []ExpenseItem    `json:"handwrittenExpensesList,omitempty"`
	HandwrittenImageURL     *string          `json:"handwrittenImageUrl,omitempty"`

	EDCTotalAmount    *decimal.Decimal   `json:"edcTotalAmount,omitempty"`
	EDCBatchNumber    *string            `json:"edcBatchNumber,omitempty"`
	EDCSettlementDate *string            `json:"edcSettlementDate,omitempty"`
	EDCBreakdown      []EDCBreakdownItem `json:"edcBreakdown,omitempty"`
	EDCImageURL       *string            `json:"edcImageUrl,omitempty"`

	DiscrepancyRemark *string `json:"discrepancyRemark,omitempty"`
}

type ReceiveCashRequest struct {
	DiscrepancyNote string `json:"discrepancyNote,omitempty"`
}

type DepositCreateRequest struct {
	CompanyBankAccountID string  `json:"companyBankAccountId,omitempty"`
	BankName             string  `json:"bankName"`
	AccountNumber        string  `json:"accountNumber"`
	BankBranch           *string `json:"bankBranch,omitempty"`
	DepositDate          string  `json:"depositDate"`
	DepositSlipURL       string  `json:"depositSlipUrl"`
}

type ApprovalRequest struct {
	Action ApprovalDecision `json:"action"`
	Remark string           `json:"remark,omitempty"`
}

type BankConfirmRequest struct {
	ActualDepositAmount *decimal.Decimal `json:"actualDepositAmount"`
	Remark              string           `json:"remark,omitempty"`
}

type StaffConfirmRequest struct {
	Remark string `json:"remark,omitempty"`
}

type BankConfirmResponse struct {
	Deposit  Deposit         `json:"deposit"`
	Variance decimal.Decimal `json:"variance"`
}

type StaffConfirmResponse struct {
	Deposit         Deposit         `json:"deposit"`
	SubmittedAmount decimal.Decimal `json:"submittedAmount"`
	DepositedAmount decimal.Decimal `json:"depositedAmount"`
	Difference      decimal.Decimal `json:"difference"`
	HasVariance     bool            `json:"hasVariance"`
}

type ClosingFilter struct {
	BranchID string
	Status   ClosingStatus
	From     *time.Time
	To       *time.Time
	Limit    int
	// Offset skips that many rows of the newest-first ordering.
	Offset int
}

type DepositFilter struct {
	BranchID      string
	Decision      ApprovalDecision
	BankConfirmed *bool
	From          *time.Time
	To            *time.Time
	Limit         int
}

type AuditFilter struct {
	EntityType string
	EntityID   string
	UserID     string
	BranchID   string
	From       *time.Time
	To         *time.Time
	Limit      int
}

type BranchCreateRequest struct {
	BranchCode  string  `json:"branchCode"`
	BranchName  string  `json:"branchName"`
	Address     string  `json:"address"`
	PhoneNumber *string `json:"phoneNumber,omitempty"`
}

type BranchUpdateRequest struct {
	BranchName  *string       `json:"branchName,omitempty"`
	Address     *string       `json:"address,omitempty"`
	PhoneNumber *string       `json:"phoneNumber,omitempty"`
	Status      *BranchStatus `json:"status,omitempty"`
}

type UserCreateRequest struct {
	Email    string  `json:"email"`
	Username string  `json:"username"`
	Password string  `json:"password"`
	Role     Role    `json:"role"`
	BranchID *string `json:"branchId,omitempty"`
}

type UserStatusRequest struct {
	Status UserStatus `json:"status"`
}

type BankAccountCreateRequest struct {
	BankName      string  `json:"bankName"`
	AccountNumber string  `json:"accountNumber"`
	AccountName   string  `json:"accountName"`
	BankBranch    *string `json:"bankBranch,omitempty"`
}

type SystemConfigSetRequest struct {
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// Reports

type BranchSummary struct {
	BranchID          string          `json:"branchId"`
	BranchCode        string          `json:"branchCode"`
	BranchName        string          `json:"branchName"`
	ClosingCount      int             `json:"closingCount"`
	DraftCount        int             `json:"draftCount"`
	DiscrepancyCount  int             `json:"discrepancyCount"`
	POSTotalSales     decimal.Decimal `json:"posTotalSales"`
	POSCredit         decimal.Decimal `json:"posCredit"`
	EDCTotalAmount    decimal.Decimal `json:"edcTotalAmount"`
	ExpectedEDCNet    decimal.Decimal `json:"expectedEdcNet"`
	HandwrittenCash   decimal.Decimal `json:"handwrittenNetCash"`
	DepositedAmount   decimal.Decimal `json:"depositedAmount"`
	BankConfirmedCash decimal.Decimal `json:"bankConfirmedAmount"`
}

type DailySummary struct {
	From                 string          `json:"from"`
	To                   string          `json:"to"`
	CreditCardFeeRate    decimal.Decimal `json:"creditCardFeeRate"`
	Branches             []BranchSummary `json:"branches"`
	PendingApprovals     int             `json:"pendingApprovals"`
	FlaggedDeposits      int             `json:"flaggedDeposits"`
	UnconfirmedBank      int             `json:"unconfirmedBankDeposits"`
	UnconfirmedByStaff   int             `json:"unconfirmedByStaff"`
	TotalPOSSales        decimal.Decimal `json:"totalPosSales"`
	TotalDeposited       decimal.Decimal `json:"totalDeposited"`
	TotalDiscrepancyDiff decimal.Decimal `json:"totalDiscrepancyDiff"`
	GeneratedAt          time.Time       `json:"generatedAt"`
}

type SendSummaryRequest struct {
	From       string   `json:"from"`
	To         string   `json:"to"`
	Recipients []string `json:"recipients,omitempty"`
}

type SendSummaryResponse struct {
	Recipients []string `json:"recipients"`
	Sent       bool     `json:"sent"`
}

type UploadResult struct {
	Key          string       `json:"key"`
	URL          string       `json:"url"`
	DocumentType DocumentType `json:"documentType"`
	Size         int64        `json:"size"`
}

type OCRResult struct {
	Success       bool           `json:"success"`
	DocumentType  DocumentType   `json:"documentType"`
	ExtractedData map[string]any `json:"extractedData,omitempty"`
	Error         string         `json:"error,omitempty"`
}

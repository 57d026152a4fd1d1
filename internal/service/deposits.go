package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"cashrecon/backend/internal/access"
	"cashrecon/backend/internal/apperr"
	"cashrecon/backend/internal/domain"
	"cashrecon/backend/internal/reconcile"
	"cashrecon/backend/internal/store"
	"cashrecon/backend/internal/xid"
)

// CreateDeposit records the bank deposit for a received closing and moves the
// closing to DEPOSITED. Both writes and the audit row commit together.
func (s *Service) CreateDeposit(ctx context.Context, closingID string, req domain.DepositCreateRequest) (domain.Deposit, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Deposit{}, err
	}
	if err := access.CanCreateDeposit(actor); err != nil {
		return domain.Deposit{}, err
	}
	depositDate, err := parseDate("depositDate", req.DepositDate)
	if err != nil {
		return domain.Deposit{}, err
	}
	slipURL := strings.TrimSpace(req.DepositSlipURL)
	if slipURL == "" {
		return domain.Deposit{}, apperr.Validation("depositSlipUrl is required").WithDetail("field", "depositSlipUrl")
	}

	var created domain.Deposit
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		bankName, accountNumber, bankBranch, err := resolveDepositAccount(ctx, tx, req)
		if err != nil {
			return err
		}

		closing, err := tx.LockClosing(ctx, closingID)
		if err != nil {
			return translate(err, "closing")
		}
		if closing.Status != domain.ClosingStatusCashReceived {
			return invalidClosingStatus(*closing, domain.ClosingStatusCashReceived)
		}
		if _, err := tx.GetDepositByClosing(ctx, closing.ID); err == nil {
			return apperr.InvalidStatus("closing already has a deposit")
		} else if !isNotFound(err) {
			return translate(err, "deposit")
		}

		now := s.now()
		deposit := domain.Deposit{
			ID:               xid.New("dep"),
			DailyClosingID:   closing.ID,
			BranchID:         closing.BranchID,
			DepositAmount:    closing.HandwrittenNetCash,
			BankName:         bankName,
			AccountNumber:    accountNumber,
			BankBranch:       bankBranch,
			DepositDate:      depositDate,
			DepositSlipURL:   slipURL,
			DepositedBy:      actor.UserID,
			DepositedAt:      now,
			AmountMatched:    true,
			ApprovalDecision: domain.ApprovalPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := tx.InsertDeposit(ctx, deposit); err != nil {
			if isDuplicate(err) {
				return apperr.InvalidStatus("closing already has a deposit")
			}
			return translate(err, "deposit")
		}

		closing.Status = domain.ClosingStatusDeposited
		closing.CompletedAt = &now
		closing.UpdatedAt = now
		if err := tx.UpdateClosing(ctx, *closing); err != nil {
			return translate(err, "closing")
		}
		created = deposit

		return s.recordAudit(ctx, tx, actor, auditEntry{
			Action:     domain.AuditStatusChange,
			EntityType: domain.EntityDailyClosing,
			EntityID:   closing.ID,
			BranchID:   closing.BranchID,
			FieldName:  "status",
			OldValue:   string(domain.ClosingStatusCashReceived),
			NewValue:   string(domain.ClosingStatusDeposited),
			Remark:     fmt.Sprintf("deposit %s of %s to %s %s", deposit.ID, deposit.DepositAmount.StringFixed(2), bankName, accountNumber),
		})
	})
	if err != nil {
		return domain.Deposit{}, translate(err, "deposit")
	}

	s.logger.Info("[deposit] created",
		zap.String("deposit_id", created.ID),
		zap.String("closing_id", created.DailyClosingID),
		zap.String("amount", created.DepositAmount.StringFixed(2)),
	)
	s.invalidateSummaries(ctx)
	return created, nil
}

// resolveDepositAccount copies the destination from a registered company
// account when one is named, otherwise it takes the free-form fields.
func resolveDepositAccount(ctx context.Context, r store.Reader, req domain.DepositCreateRequest) (string, string, *string, error) {
	if id := strings.TrimSpace(req.CompanyBankAccountID); id != "" {
		account, err := r.GetBankAccount(ctx, id)
		if err != nil {
			return "", "", nil, translate(err, "bank account")
		}
		if !account.IsActive {
			return "", "", nil, apperr.Validation("bank account %s is inactive", account.AccountNumber).
				WithDetail("field", "companyBankAccountId")
		}
		return account.BankName, account.AccountNumber, account.BankBranch, nil
	}

	bankName := strings.TrimSpace(req.BankName)
	accountNumber := strings.TrimSpace(req.AccountNumber)
	if bankName == "" {
		return "", "", nil, apperr.Validation("bankName is required").WithDetail("field", "bankName")
	}
	if accountNumber == "" {
		return "", "", nil, apperr.Validation("accountNumber is required").WithDetail("field", "accountNumber")
	}
	return bankName, accountNumber, trimPtr(req.BankBranch), nil
}

var approvalAuditActions = map[domain.ApprovalDecision]domain.AuditAction{
	domain.ApprovalApproved: domain.AuditApprove,
	domain.ApprovalRejected: domain.AuditReject,
	domain.ApprovalFlagged:  domain.AuditUpdate,
}

// DecideApproval sets the owner's decision on a deposit. Decisions can be
// revised freely until the bank receipt is confirmed.
func (s *Service) DecideApproval(ctx context.Context, depositID string, req domain.ApprovalRequest) (domain.Deposit, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Deposit{}, err
	}
	if err := access.CanDecideApproval(actor); err != nil {
		return domain.Deposit{}, err
	}
	decision := domain.ApprovalDecision(strings.ToUpper(strings.TrimSpace(string(req.Action))))
	auditAction, ok := approvalAuditActions[decision]
	if !ok {
		return domain.Deposit{}, apperr.Validation("action must be one of APPROVED, FLAGGED, REJECTED").WithDetail("field", "action")
	}
	remark := strings.TrimSpace(req.Remark)
	if decision != domain.ApprovalApproved && remark == "" {
		return domain.Deposit{}, apperr.Validation("a remark is required to mark a deposit %s", decision).WithDetail("field", "remark")
	}

	var decided domain.Deposit
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		deposit, err := tx.LockDeposit(ctx, depositID)
		if err != nil {
			return translate(err, "deposit")
		}
		if deposit.IsBankConfirmed {
			return apperr.InvalidStatus("deposit is already bank confirmed").
				WithDetail("approvalStatus", deposit.ApprovalStatus())
		}

		previous := deposit.ApprovalDecision
		now := s.now()
		deposit.ApprovalDecision = decision
		deposit.ApprovedBy = &actor.UserID
		deposit.ApprovedAt = &now
		deposit.ApprovalRemark = optional(remark)
		deposit.UpdatedAt = now
		if err := tx.UpdateDeposit(ctx, *deposit); err != nil {
			return translate(err, "deposit")
		}
		decided = *deposit

		return s.recordAudit(ctx, tx, actor, auditEntry{
			Action:     auditAction,
			EntityType: domain.EntityDeposit,
			EntityID:   deposit.ID,
			BranchID:   deposit.BranchID,
			FieldName:  "approvalDecision",
			OldValue:   string(previous),
			NewValue:   string(decision),
			Remark:     remark,
		})
	})
	if err != nil {
		return domain.Deposit{}, translate(err, "deposit")
	}

	s.invalidateSummaries(ctx)
	return decided, nil
}

// ConfirmBank records the amount the bank statement shows for an approved
// deposit.
func (s *Service) ConfirmBank(ctx context.Context, depositID string, req domain.BankConfirmRequest) (domain.BankConfirmResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.BankConfirmResponse{}, err
	}
	if err := access.CanBankConfirm(actor); err != nil {
		return domain.BankConfirmResponse{}, err
	}
	if req.ActualDepositAmount == nil {
		return domain.BankConfirmResponse{}, apperr.Validation("actualDepositAmount is required").WithDetail("field", "actualDepositAmount")
	}
	actual := *req.ActualDepositAmount
	if err := requireNonNegative("actualDepositAmount", actual); err != nil {
		return domain.BankConfirmResponse{}, err
	}
	remark := strings.TrimSpace(req.Remark)

	var resp domain.BankConfirmResponse
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		deposit, err := tx.LockDeposit(ctx, depositID)
		if err != nil {
			return translate(err, "deposit")
		}
		if deposit.IsBankConfirmed {
			return apperr.InvalidStatus("deposit is already bank confirmed")
		}
		if deposit.ApprovalDecision != domain.ApprovalApproved {
			return apperr.InvalidStatus("deposit must be APPROVED before bank confirmation, it is %s", deposit.ApprovalDecision).
				WithDetail("approvalDecision", deposit.ApprovalDecision)
		}

		thresholds, err := s.thresholdsFor(ctx, tx)
		if err != nil {
			return err
		}
		variance := reconcile.BankVariance(actual, deposit.DepositAmount)

		now := s.now()
		deposit.ActualDepositAmount = &actual
		deposit.AmountMatched = variance.Abs().LessThanOrEqual(thresholds.VarianceEpsilon)
		deposit.IsBankConfirmed = true
		deposit.BankConfirmedBy = &actor.UserID
		deposit.BankConfirmedAt = &now
		deposit.BankConfirmRemark = optional(remark)
		deposit.UpdatedAt = now
		if err := tx.UpdateDeposit(ctx, *deposit); err != nil {
			return translate(err, "deposit")
		}
		resp = domain.BankConfirmResponse{Deposit: *deposit, Variance: variance}

		auditRemark := fmt.Sprintf("bank received %s against %s (variance %s)",
			actual.StringFixed(2), deposit.DepositAmount.StringFixed(2), variance.StringFixed(2))
		if remark != "" {
			auditRemark += "; " + remark
		}
		return s.recordAudit(ctx, tx, actor, auditEntry{
			Action:     domain.AuditStatusChange,
			EntityType: domain.EntityDeposit,
			EntityID:   deposit.ID,
			BranchID:   deposit.BranchID,
			FieldName:  "isBankConfirmed",
			OldValue:   "false",
			NewValue:   "true",
			Remark:     auditRemark,
		})
	})
	if err != nil {
		return domain.BankConfirmResponse{}, translate(err, "deposit")
	}

	if !resp.Deposit.AmountMatched {
		s.logger.Warn("[deposit] bank amount differs from deposit",
			zap.String("deposit_id", resp.Deposit.ID),
			zap.String("variance", resp.Variance.StringFixed(2)),
		)
	}
	s.invalidateSummaries(ctx)
	return resp, nil
}

// ConfirmStaff lets the branch acknowledge the deposit made from its cash.
// A variance between submitted and deposited cash must be explained.
func (s *Service) ConfirmStaff(ctx context.Context, depositID string, req domain.StaffConfirmRequest) (domain.StaffConfirmResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.StaffConfirmResponse{}, err
	}
	remark := strings.TrimSpace(req.Remark)

	var resp domain.StaffConfirmResponse
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		deposit, err := tx.LockDeposit(ctx, depositID)
		if err != nil {
			return translate(err, "deposit")
		}
		closing, err := tx.GetClosing(ctx, deposit.DailyClosingID)
		if err != nil {
			return translate(err, "closing")
		}
		if err := access.CanStaffConfirm(actor, *closing); err != nil {
			return err
		}
		if deposit.IsStaffConfirmed {
			return apperr.InvalidStatus("deposit is already confirmed by staff")
		}

		thresholds, err := s.thresholdsFor(ctx, tx)
		if err != nil {
			return err
		}
		variance := reconcile.CheckDepositVariance(closing.HandwrittenNetCash, deposit.DepositAmount, thresholds)
		if variance.HasVariance && remark == "" {
			return apperr.Validation("a remark is required when the deposit differs from the submitted cash").
				WithDetail("submittedAmount", closing.HandwrittenNetCash).
				WithDetail("depositedAmount", deposit.DepositAmount).
				WithDetail("difference", variance.Difference)
		}

		now := s.now()
		deposit.IsStaffConfirmed = true
		deposit.StaffConfirmedBy = &actor.UserID
		deposit.StaffConfirmedAt = &now
		deposit.StaffConfirmRemark = optional(remark)
		deposit.UpdatedAt = now
		if err := tx.UpdateDeposit(ctx, *deposit); err != nil {
			return translate(err, "deposit")
		}
		resp = domain.StaffConfirmResponse{
			Deposit:         *deposit,
			SubmittedAmount: closing.HandwrittenNetCash,
			DepositedAmount: deposit.DepositAmount,
			Difference:      variance.Difference,
			HasVariance:     variance.HasVariance,
		}

		return s.recordAudit(ctx, tx, actor, auditEntry{
			Action:     domain.AuditUpdate,
			EntityType: domain.EntityDeposit,
			EntityID:   deposit.ID,
			BranchID:   deposit.BranchID,
			FieldName:  "isStaffConfirmed",
			OldValue:   "false",
			NewValue:   "true",
			Remark:     remark,
		})
	})
	if err != nil {
		return domain.StaffConfirmResponse{}, translate(err, "deposit")
	}

	s.invalidateSummaries(ctx)
	return resp, nil
}

func (s *Service) GetDeposit(ctx context.Context, depositID string) (domain.Deposit, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Deposit{}, err
	}
	deposit, err := s.repo.GetDeposit(ctx, depositID)
	if err != nil {
		return domain.Deposit{}, translate(err, "deposit")
	}
	if err := access.CanViewBranch(actor, deposit.BranchID); err != nil {
		return domain.Deposit{}, err
	}
	return *deposit, nil
}

type DepositQuery struct {
	BranchID      string
	Decision      string
	BankConfirmed *bool
	From          string
	To            string
	Limit         int
}

func (s *Service) ListDeposits(ctx context.Context, q DepositQuery) ([]domain.Deposit, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	branchID, err := access.ScopeBranchFilter(actor, strings.TrimSpace(q.BranchID))
	if err != nil {
		return nil, err
	}
	decision := domain.ApprovalDecision(strings.ToUpper(strings.TrimSpace(q.Decision)))
	switch decision {
	case "", domain.ApprovalPending, domain.ApprovalApproved, domain.ApprovalFlagged, domain.ApprovalRejected:
	default:
		return nil, apperr.Validation("unknown approval decision %q", q.Decision)
	}
	from, to, err := dateRange(q.From, q.To)
	if err != nil {
		return nil, err
	}

	deposits, err := s.repo.ListDeposits(ctx, domain.DepositFilter{
		BranchID:      branchID,
		Decision:      decision,
		BankConfirmed: q.BankConfirmed,
		From:          from,
		To:            to,
		Limit:         q.Limit,
	})
	if err != nil {
		return nil, translate(err, "deposit")
	}
	return deposits, nil
}

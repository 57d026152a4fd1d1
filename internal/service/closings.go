package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cashrecon/backend/internal/access"
	"cashrecon/backend/internal/apperr"
	"cashrecon/backend/internal/domain"
	"cashrecon/backend/internal/reconcile"
	"cashrecon/backend/internal/store"
	"cashrecon/backend/internal/xid"
)

const cashReceiptNotePrefix = "[cash receipt] "

func (s *Service) CreateClosing(ctx context.Context, req domain.ClosingCreateRequest) (domain.DailyClosing, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.DailyClosing{}, err
	}
	branchID, err := access.ResolveClosingBranch(actor, strings.TrimSpace(req.BranchID))
	if err != nil {
		return domain.DailyClosing{}, err
	}
	closingDate, err := parseDate("closingDate", req.ClosingDate)
	if err != nil {
		return domain.DailyClosing{}, err
	}
	settlementDate, err := parseOptionalDate("edcSettlementDate", req.EDCSettlementDate)
	if err != nil {
		return domain.DailyClosing{}, err
	}

	now := s.now()
	closing := domain.DailyClosing{
		ID:          xid.New("dcl"),
		BranchID:    branchID,
		ClosingDate: closingDate,
		Status:      domain.ClosingStatusDraft,

		POSTotalSales: req.POSTotalSales,
		POSCash:       req.POSCash,
		POSCredit:     req.POSCredit,
		POSTransfer:   req.POSTransfer,
		POSExpenses:   req.POSExpenses,
		POSBillCount:  req.POSBillCount,
		POSAvgPerBill: req.POSAvgPerBill,
		POSStartTime:  trimPtr(req.POSStartTime),
		POSEndTime:    trimPtr(req.POSEndTime),
		POSImageURL:   trimPtr(req.POSImageURL),

		HandwrittenCashCount:    req.HandwrittenCashCount,
		HandwrittenExpenses:     req.HandwrittenExpenses,
		HandwrittenExpensesList: normalizeExpenses(req.HandwrittenExpensesList),
		HandwrittenImageURL:     trimPtr(req.HandwrittenImageURL),

		EDCTotalAmount:    req.EDCTotalAmount,
		EDCBatchNumber:    trimPtr(req.EDCBatchNumber),
		EDCSettlementDate: settlementDate,
		EDCBreakdown:      normalizeBreakdown(req.EDCBreakdown),
		EDCImageURL:       trimPtr(req.EDCImageURL),

		DiscrepancyRemark: trimPtr(req.DiscrepancyRemark),
		SubmittedBy:       actor.UserID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	fillDerivedAmounts(&closing, req.HandwrittenNetCash, req.HandwrittenExpenses.IsZero(), req.EDCTotalAmount.IsZero())
	if err := validateClosingAmounts(closing); err != nil {
		return domain.DailyClosing{}, err
	}

	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		branch, err := tx.GetBranch(ctx, branchID)
		if err != nil {
			return translate(err, "branch")
		}
		if branch.Status != domain.BranchStatusActive {
			return apperr.InvalidStatus("branch %s is not active", branch.BranchCode)
		}

		thresholds, err := s.thresholdsFor(ctx, tx)
		if err != nil {
			return err
		}
		applyDiscrepancy(&closing, thresholds)

		if err := tx.InsertClosing(ctx, closing); err != nil {
			if isDuplicate(err) {
				return apperr.Duplicate("a closing already exists for branch %s on %s", branch.BranchCode, closingDate.Format("2006-01-02")).
					WithDetail("branchId", branchID).
					WithDetail("closingDate", closingDate.Format("2006-01-02"))
			}
			return translate(err, "closing")
		}

		return s.recordAudit(ctx, tx, actor, auditEntry{
			Action:     domain.AuditCreate,
			EntityType: domain.EntityDailyClosing,
			EntityID:   closing.ID,
			BranchID:   branchID,
			NewValue:   string(domain.ClosingStatusDraft),
			Remark:     fmt.Sprintf("closing %s created for %s", closingDate.Format("2006-01-02"), branch.BranchName),
		})
	})
	if err != nil {
		return domain.DailyClosing{}, translate(err, "closing")
	}

	s.invalidateSummaries(ctx)
	return closing, nil
}

func (s *Service) UpdateClosing(ctx context.Context, closingID string, req domain.ClosingUpdateRequest) (domain.DailyClosing, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.DailyClosing{}, err
	}
	settlementDate, err := parseOptionalDate("edcSettlementDate", req.EDCSettlementDate)
	if err != nil {
		return domain.DailyClosing{}, err
	}

	var updated domain.DailyClosing
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		closing, err := tx.LockClosing(ctx, closingID)
		if err != nil {
			return translate(err, "closing")
		}
		if err := access.CanEditClosing(actor, *closing); err != nil {
			return err
		}
		if closing.Status != domain.ClosingStatusDraft {
			return invalidClosingStatus(*closing, domain.ClosingStatusDraft)
		}

		changed := applyClosingPatch(closing, req, settlementDate)
		if len(changed) == 0 {
			return apperr.Validation("no fields to update")
		}
		if err := validateClosingAmounts(*closing); err != nil {
			return err
		}

		thresholds, err := s.thresholdsFor(ctx, tx)
		if err != nil {
			return err
		}
		applyDiscrepancy(closing, thresholds)
		closing.UpdatedAt = s.now()

		if err := tx.UpdateClosing(ctx, *closing); err != nil {
			return translate(err, "closing")
		}
		updated = *closing

		return s.recordAudit(ctx, tx, actor, auditEntry{
			Action:     domain.AuditUpdate,
			EntityType: domain.EntityDailyClosing,
			EntityID:   closing.ID,
			BranchID:   closing.BranchID,
			Remark:     "updated " + strings.Join(changed, ", "),
		})
	})
	if err != nil {
		return domain.DailyClosing{}, translate(err, "closing")
	}

	s.invalidateSummaries(ctx)
	return updated, nil
}

func (s *Service) DeleteClosing(ctx context.Context, closingID string) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}

	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		closing, err := tx.LockClosing(ctx, closingID)
		if err != nil {
			return translate(err, "closing")
		}
		if err := access.CanDeleteClosing(actor, *closing); err != nil {
			return err
		}
		if closing.Status != domain.ClosingStatusDraft {
			return invalidClosingStatus(*closing, domain.ClosingStatusDraft)
		}

		if err := tx.DeleteClosing(ctx, closing.ID); err != nil {
			return translate(err, "closing")
		}
		return s.recordAudit(ctx, tx, actor, auditEntry{
			Action:     domain.AuditDelete,
			EntityType: domain.EntityDailyClosing,
			EntityID:   closing.ID,
			BranchID:   closing.BranchID,
			OldValue:   string(closing.Status),
			Remark:     "draft closing for " + closing.ClosingDate.Format("2006-01-02") + " deleted",
		})
	})
	if err != nil {
		return translate(err, "closing")
	}

	s.invalidateSummaries(ctx)
	return nil
}

func (s *Service) SubmitClosing(ctx context.Context, closingID string) (domain.DailyClosing, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.DailyClosing{}, err
	}

	var submitted domain.DailyClosing
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		closing, err := tx.LockClosing(ctx, closingID)
		if err != nil {
			return translate(err, "closing")
		}
		if err := access.CanSubmitClosing(actor, *closing); err != nil {
			return err
		}
		if closing.Status != domain.ClosingStatusDraft {
			return invalidClosingStatus(*closing, domain.ClosingStatusDraft)
		}

		now := s.now()
		closing.Status = domain.ClosingStatusSubmitted
		closing.SubmittedAt = &now
		closing.UpdatedAt = now
		if err := tx.UpdateClosing(ctx, *closing); err != nil {
			return translate(err, "closing")
		}
		submitted = *closing

		return s.recordAudit(ctx, tx, actor, auditEntry{
			Action:     domain.AuditStatusChange,
			EntityType: domain.EntityDailyClosing,
			EntityID:   closing.ID,
			BranchID:   closing.BranchID,
			FieldName:  "status",
			OldValue:   string(domain.ClosingStatusDraft),
			NewValue:   string(domain.ClosingStatusSubmitted),
		})
	})
	if err != nil {
		return domain.DailyClosing{}, translate(err, "closing")
	}

	s.invalidateSummaries(ctx)
	return submitted, nil
}

// ReceiveCash records that an auditor physically collected the branch's cash.
// A discrepant closing cannot be received without a note explaining it.
func (s *Service) ReceiveCash(ctx context.Context, closingID string, req domain.ReceiveCashRequest) (domain.DailyClosing, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.DailyClosing{}, err
	}
	if err := access.CanReceiveCash(actor); err != nil {
		return domain.DailyClosing{}, err
	}
	note := strings.TrimSpace(req.DiscrepancyNote)

	var received domain.DailyClosing
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		closing, err := tx.LockClosing(ctx, closingID)
		if err != nil {
			return translate(err, "closing")
		}
		if closing.Status != domain.ClosingStatusSubmitted {
			return invalidClosingStatus(*closing, domain.ClosingStatusSubmitted)
		}
		if closing.HasDiscrepancy && note == "" {
			return apperr.Validation("a discrepancy note is required to receive cash for this closing").
				WithDetail("hasDiscrepancy", true).
				WithDetail("posCreditVsEdcDiff", closing.POSCreditVsEDCDiff)
		}

		branch, err := tx.GetBranch(ctx, closing.BranchID)
		if err != nil {
			return translate(err, "branch")
		}

		now := s.now()
		closing.Status = domain.ClosingStatusCashReceived
		closing.CashReceivedAt = &now
		closing.CashReceivedBy = &actor.UserID
		if note != "" {
			closing.DiscrepancyRemark = appendRemark(closing.DiscrepancyRemark, cashReceiptNotePrefix+note)
		}
		closing.UpdatedAt = now
		if err := tx.UpdateClosing(ctx, *closing); err != nil {
			return translate(err, "closing")
		}
		received = *closing

		remark := fmt.Sprintf("cash received from %s: %s", branch.BranchName, closing.HandwrittenNetCash.StringFixed(2))
		if note != "" {
			remark += "; note: " + note
		}
		return s.recordAudit(ctx, tx, actor, auditEntry{
			Action:     domain.AuditStatusChange,
			EntityType: domain.EntityDailyClosing,
			EntityID:   closing.ID,
			BranchID:   closing.BranchID,
			FieldName:  "status",
			OldValue:   string(domain.ClosingStatusSubmitted),
			NewValue:   string(domain.ClosingStatusCashReceived),
			Remark:     remark,
		})
	})
	if err != nil {
		return domain.DailyClosing{}, translate(err, "closing")
	}

	s.invalidateSummaries(ctx)
	return received, nil
}

func (s *Service) GetClosing(ctx context.Context, closingID string) (domain.DailyClosing, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.DailyClosing{}, err
	}
	closing, err := s.repo.GetClosing(ctx, closingID)
	if err != nil {
		return domain.DailyClosing{}, translate(err, "closing")
	}
	if err := access.CanViewClosing(actor, *closing); err != nil {
		return domain.DailyClosing{}, err
	}
	return *closing, nil
}

type ClosingQuery struct {
	BranchID string
	Status   string
	From     string
	To       string
	Limit    int
}

func (s *Service) ListClosings(ctx context.Context, q ClosingQuery) ([]domain.DailyClosing, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	branchID, err := access.ScopeBranchFilter(actor, strings.TrimSpace(q.BranchID))
	if err != nil {
		return nil, err
	}
	status := domain.ClosingStatus(strings.ToUpper(strings.TrimSpace(q.Status)))
	if status != "" && !status.Valid() {
		return nil, apperr.Validation("unknown closing status %q", q.Status)
	}
	from, to, err := dateRange(q.From, q.To)
	if err != nil {
		return nil, err
	}

	closings, err := s.repo.ListClosings(ctx, domain.ClosingFilter{
		BranchID: branchID,
		Status:   status,
		From:     from,
		To:       to,
		Limit:    q.Limit,
	})
	if err != nil {
		return nil, translate(err, "closing")
	}
	return closings, nil
}

func applyDiscrepancy(closing *domain.DailyClosing, t reconcile.Thresholds) {
	result := reconcile.CheckDiscrepancy(closing.POSCredit, closing.EDCTotalAmount, t)
	closing.HasDiscrepancy = result.HasDiscrepancy
	closing.POSCreditVsEDCDiff = result.Diff
}

// fillDerivedAmounts fills totals the client left out from their itemized
// lists, and the net cash from count minus expenses.
func fillDerivedAmounts(closing *domain.DailyClosing, netCash *decimal.Decimal, expensesOmitted bool, edcOmitted bool) {
	if expensesOmitted && len(closing.HandwrittenExpensesList) > 0 {
		closing.HandwrittenExpenses = reconcile.SumExpenses(closing.HandwrittenExpensesList)
	}
	if edcOmitted && len(closing.EDCBreakdown) > 0 {
		closing.EDCTotalAmount = reconcile.SumEDC(closing.EDCBreakdown)
	}
	if netCash != nil {
		closing.HandwrittenNetCash = *netCash
		return
	}
	closing.HandwrittenNetCash = reconcile.HandwrittenNetCash(closing.HandwrittenCashCount, closing.HandwrittenExpenses)
}

// applyClosingPatch mutates closing and returns the wire names of the fields
// that were present in the request.
func applyClosingPatch(closing *domain.DailyClosing, req domain.ClosingUpdateRequest, settlementDate *time.Time) []string {
	var changed []string
	setDecimal := func(name string, src *decimal.Decimal, dst *decimal.Decimal) {
		if src != nil {
			*dst = *src
			changed = append(changed, name)
		}
	}
	setString := func(name string, src *string, dst **string) {
		if src != nil {
			*dst = trimPtr(src)
			changed = append(changed, name)
		}
	}

	setDecimal("posTotalSales", req.POSTotalSales, &closing.POSTotalSales)
	setDecimal("posCash", req.POSCash, &closing.POSCash)
	setDecimal("posCredit", req.POSCredit, &closing.POSCredit)
	setDecimal("posTransfer", req.POSTransfer, &closing.POSTransfer)
	setDecimal("posExpenses", req.POSExpenses, &closing.POSExpenses)
	if req.POSBillCount != nil {
		closing.POSBillCount = req.POSBillCount
		changed = append(changed, "posBillCount")
	}
	if req.POSAvgPerBill != nil {
		closing.POSAvgPerBill = req.POSAvgPerBill
		changed = append(changed, "posAvgPerBill")
	}
	setString("posStartTime", req.POSStartTime, &closing.POSStartTime)
	setString("posEndTime", req.POSEndTime, &closing.POSEndTime)
	setString("posImageUrl", req.POSImageURL, &closing.POSImageURL)

	cashTouched := req.HandwrittenCashCount != nil || req.HandwrittenExpenses != nil || req.HandwrittenExpensesList != nil
	setDecimal("handwrittenCashCount", req.HandwrittenCashCount, &closing.HandwrittenCashCount)
	if req.HandwrittenExpensesList != nil {
		closing.HandwrittenExpensesList = normalizeExpenses(req.HandwrittenExpensesList)
		changed = append(changed, "handwrittenExpensesList")
		if req.HandwrittenExpenses == nil {
			closing.HandwrittenExpenses = reconcile.SumExpenses(closing.HandwrittenExpensesList)
		}
	}
	setDecimal("handwrittenExpenses", req.HandwrittenExpenses, &closing.HandwrittenExpenses)
	if req.HandwrittenNetCash != nil {
		closing.HandwrittenNetCash = *req.HandwrittenNetCash
		changed = append(changed, "handwrittenNetCash")
	} else if cashTouched {
		closing.HandwrittenNetCash = reconcile.HandwrittenNetCash(closing.HandwrittenCashCount, closing.HandwrittenExpenses)
	}
	setString("handwrittenImageUrl", req.HandwrittenImageURL, &closing.HandwrittenImageURL)

	if req.EDCBreakdown != nil {
		closing.EDCBreakdown = normalizeBreakdown(req.EDCBreakdown)
		changed = append(changed, "edcBreakdown")
		if req.EDCTotalAmount == nil {
			closing.EDCTotalAmount = reconcile.SumEDC(closing.EDCBreakdown)
		}
	}
	setDecimal("edcTotalAmount", req.EDCTotalAmount, &closing.EDCTotalAmount)
	setString("edcBatchNumber", req.EDCBatchNumber, &closing.EDCBatchNumber)
	if req.EDCSettlementDate != nil {
		closing.EDCSettlementDate = settlementDate
		changed = append(changed, "edcSettlementDate")
	}
	setString("edcImageUrl", req.EDCImageURL, &closing.EDCImageURL)
	setString("discrepancyRemark", req.DiscrepancyRemark, &closing.DiscrepancyRemark)

	return changed
}

func validateClosingAmounts(c domain.DailyClosing) error {
	checks := []struct {
		field string
		value decimal.Decimal
	}{
		{"posTotalSales", c.POSTotalSales},
		{"posCash", c.POSCash},
		{"posCredit", c.POSCredit},
		{"posTransfer", c.POSTransfer},
		{"posExpenses", c.POSExpenses},
		{"handwrittenCashCount", c.HandwrittenCashCount},
		{"handwrittenExpenses", c.HandwrittenExpenses},
		{"edcTotalAmount", c.EDCTotalAmount},
	}
	for _, check := range checks {
		if err := requireNonNegative(check.field, check.value); err != nil {
			return err
		}
	}
	if err := requireMoneyPrecision("handwrittenNetCash", c.HandwrittenNetCash); err != nil {
		return err
	}
	if c.POSAvgPerBill != nil {
		if err := requireNonNegative("posAvgPerBill", *c.POSAvgPerBill); err != nil {
			return err
		}
	}
	if c.POSBillCount != nil && *c.POSBillCount < 0 {
		return apperr.Validation("posBillCount must not be negative").WithDetail("field", "posBillCount")
	}
	for i, item := range c.HandwrittenExpensesList {
		if item.Description == "" {
			return apperr.Validation("handwrittenExpensesList[%d].description is required", i)
		}
		if err := requireNonNegative(fmt.Sprintf("handwrittenExpensesList[%d].amount", i), item.Amount); err != nil {
			return err
		}
	}
	for i, item := range c.EDCBreakdown {
		if item.CardType == "" {
			return apperr.Validation("edcBreakdown[%d].cardType is required", i)
		}
		if item.Amount.IsNegative() || item.Transaction < 0 {
			return apperr.Validation("edcBreakdown[%d] must not be negative", i)
		}
		if err := requireMoneyPrecision(fmt.Sprintf("edcBreakdown[%d].amount", i), item.Amount); err != nil {
			return err
		}
	}
	return nil
}

func normalizeExpenses(items []domain.ExpenseItem) []domain.ExpenseItem {
	result := make([]domain.ExpenseItem, 0, len(items))
	for _, item := range items {
		item.Description = strings.TrimSpace(item.Description)
		result = append(result, item)
	}
	return result
}

func normalizeBreakdown(items []domain.EDCBreakdownItem) []domain.EDCBreakdownItem {
	result := make([]domain.EDCBreakdownItem, 0, len(items))
	for _, item := range items {
		item.CardType = strings.ToUpper(strings.TrimSpace(item.CardType))
		result = append(result, item)
	}
	return result
}

func appendRemark(existing *string, note string) *string {
	if existing == nil || strings.TrimSpace(*existing) == "" {
		return &note
	}
	combined := *existing + "\n" + note
	return &combined
}

func invalidClosingStatus(closing domain.DailyClosing, want domain.ClosingStatus) error {
	return apperr.InvalidStatus("closing is %s, expected %s", closing.Status, want).
		WithDetail("status", closing.Status).
		WithDetail("expected", want)
}

func isDuplicate(err error) bool {
	return errors.Is(err, store.ErrDuplicate)
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

package service

import (
	"bytes"
	"context"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cashrecon/backend/internal/access"
	"cashrecon/backend/internal/apperr"
	"cashrecon/backend/internal/domain"
	"cashrecon/backend/internal/reconcile"
	"cashrecon/backend/internal/store"
)

type SummaryQuery struct {
	From     string
	To       string
	BranchID string
}

// DailySummary aggregates closings and their deposits over an inclusive date
// range. Results are cached until the next write that could change them.
func (s *Service) DailySummary(ctx context.Context, q SummaryQuery) (domain.DailySummary, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.DailySummary{}, err
	}
	if err := access.CanViewReports(actor); err != nil {
		return domain.DailySummary{}, err
	}
	q, from, to, err := s.normalizeSummaryQuery(q)
	if err != nil {
		return domain.DailySummary{}, err
	}

	key := strings.Join([]string{q.From, q.To, q.BranchID}, "|")
	if cached, ok, err := s.summaries.Get(ctx, key); err != nil {
		s.logger.Warn("[report] summary cache read failed", zap.Error(err))
	} else if ok {
		return *cached, nil
	}

	summary, err := s.buildSummary(ctx, q, from, to)
	if err != nil {
		return domain.DailySummary{}, err
	}
	if err := s.summaries.Set(ctx, key, &summary, s.summaryTTL); err != nil {
		s.logger.Warn("[report] summary cache write failed", zap.Error(err))
	}
	return summary, nil
}

func (s *Service) normalizeSummaryQuery(q SummaryQuery) (SummaryQuery, *time.Time, *time.Time, error) {
	today := s.now().Format(time.DateOnly)
	q.From = strings.TrimSpace(q.From)
	q.To = strings.TrimSpace(q.To)
	q.BranchID = strings.TrimSpace(q.BranchID)
	if q.From == "" {
		q.From = today
	}
	if q.To == "" {
		q.To = q.From
	}
	from, to, err := dateRange(q.From, q.To)
	if err != nil {
		return SummaryQuery{}, nil, nil, err
	}
	if to.Sub(*from) > 92*24*time.Hour {
		return SummaryQuery{}, nil, nil, apperr.Validation("summary range is limited to 92 days")
	}
	return q, from, to, nil
}

func (s *Service) buildSummary(ctx context.Context, q SummaryQuery, from, to *time.Time) (domain.DailySummary, error) {
	feeRate := s.feeRate
	rate, ok, err := s.configDecimal(ctx, s.repo, domain.ConfigCreditCardFeeRate)
	if err != nil {
		return domain.DailySummary{}, err
	}
	if ok {
		feeRate = rate
	}

	branches, err := s.repo.ListBranches(ctx)
	if err != nil {
		return domain.DailySummary{}, translate(err, "branch")
	}
	closings, err := s.closingsInRange(ctx, q.BranchID, from, to)
	if err != nil {
		return domain.DailySummary{}, translate(err, "closing")
	}

	perBranch := map[string]*domain.BranchSummary{}
	for _, b := range branches {
		if q.BranchID != "" && b.ID != q.BranchID {
			continue
		}
		perBranch[b.ID] = &domain.BranchSummary{
			BranchID:   b.ID,
			BranchCode: b.BranchCode,
			BranchName: b.BranchName,
		}
	}

	summary := domain.DailySummary{
		From:              q.From,
		To:                q.To,
		CreditCardFeeRate: feeRate,
		GeneratedAt:       s.now(),
	}
	for _, c := range closings {
		row, ok := perBranch[c.BranchID]
		if !ok {
			row = &domain.BranchSummary{BranchID: c.BranchID}
			perBranch[c.BranchID] = row
		}
		row.ClosingCount++
		if c.Status == domain.ClosingStatusDraft {
			row.DraftCount++
		}
		if c.HasDiscrepancy {
			row.DiscrepancyCount++
			summary.TotalDiscrepancyDiff = summary.TotalDiscrepancyDiff.Add(c.POSCreditVsEDCDiff)
		}
		row.POSTotalSales = row.POSTotalSales.Add(c.POSTotalSales)
		row.POSCredit = row.POSCredit.Add(c.POSCredit)
		row.EDCTotalAmount = row.EDCTotalAmount.Add(c.EDCTotalAmount)
		row.ExpectedEDCNet = row.ExpectedEDCNet.Add(reconcile.ExpectedCardSettlement(c.POSCredit, feeRate))
		row.HandwrittenCash = row.HandwrittenCash.Add(c.HandwrittenNetCash)
		summary.TotalPOSSales = summary.TotalPOSSales.Add(c.POSTotalSales)

		if c.Status != domain.ClosingStatusDeposited {
			continue
		}
		deposit, err := s.repo.GetDepositByClosing(ctx, c.ID)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return domain.DailySummary{}, translate(err, "deposit")
		}
		row.DepositedAmount = row.DepositedAmount.Add(deposit.DepositAmount)
		summary.TotalDeposited = summary.TotalDeposited.Add(deposit.DepositAmount)
		if deposit.IsBankConfirmed && deposit.ActualDepositAmount != nil {
			row.BankConfirmedCash = row.BankConfirmedCash.Add(*deposit.ActualDepositAmount)
		} else {
			summary.UnconfirmedBank++
		}
		switch deposit.ApprovalDecision {
		case domain.ApprovalPending:
			summary.PendingApprovals++
		case domain.ApprovalFlagged:
			summary.FlaggedDeposits++
		}
		if !deposit.IsStaffConfirmed {
			summary.UnconfirmedByStaff++
		}
	}

	summary.Branches = make([]domain.BranchSummary, 0, len(perBranch))
	for _, row := range perBranch {
		summary.Branches = append(summary.Branches, *row)
	}
	sort.Slice(summary.Branches, func(i, j int) bool {
		return summary.Branches[i].BranchCode < summary.Branches[j].BranchCode
	})
	return summary, nil
}

// closingsInRange pages through every closing in the range. List endpoints
// cap a page at store.MaxListLimit, reports must not.
func (s *Service) closingsInRange(ctx context.Context, branchID string, from, to *time.Time) ([]domain.DailyClosing, error) {
	var all []domain.DailyClosing
	for {
		page, err := s.repo.ListClosings(ctx, domain.ClosingFilter{
			BranchID: branchID,
			From:     from,
			To:       to,
			Limit:    store.MaxListLimit,
			Offset:   len(all),
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < store.MaxListLimit {
			return all, nil
		}
	}
}

func (s *Service) invalidateSummaries(ctx context.Context) {
	if err := s.summaries.Invalidate(ctx); err != nil {
		s.logger.Warn("[report] summary cache invalidation failed", zap.Error(err))
	}
}

var summaryTemplate = template.Must(template.New("summary").Funcs(template.FuncMap{
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
}).Parse(`<h2>Daily cash summary {{.From}}{{if ne .From .To}} to {{.To}}{{end}}</h2>
<table border="1" cellpadding="4">
<tr><th>Branch</th><th>Closings</th><th>Discrepancies</th><th>POS sales</th><th>Net cash</th><th>Deposited</th><th>Bank confirmed</th></tr>
{{range .Branches}}<tr><td>{{.BranchCode}} {{.BranchName}}</td><td>{{.ClosingCount}}</td><td>{{.DiscrepancyCount}}</td><td>{{money .POSTotalSales}}</td><td>{{money .HandwrittenCash}}</td><td>{{money .DepositedAmount}}</td><td>{{money .BankConfirmedCash}}</td></tr>
{{end}}</table>
<p>Pending approvals: {{.PendingApprovals}}. Flagged: {{.FlaggedDeposits}}. Awaiting bank confirmation: {{.UnconfirmedBank}}. Awaiting staff confirmation: {{.UnconfirmedByStaff}}.</p>
`))

// SendDailySummary renders the summary and hands it to the notifier. The
// request's recipients win over the configured list.
func (s *Service) SendDailySummary(ctx context.Context, req domain.SendSummaryRequest) (domain.SendSummaryResponse, error) {
	recipients := cleanRecipients(req.Recipients)
	if len(recipients) == 0 {
		recipients = cleanRecipients(s.recipients)
	}
	if len(recipients) == 0 {
		return domain.SendSummaryResponse{}, apperr.Validation("no recipients configured").WithDetail("field", "recipients")
	}

	summary, err := s.DailySummary(ctx, SummaryQuery{From: req.From, To: req.To})
	if err != nil {
		return domain.SendSummaryResponse{}, err
	}
	var body bytes.Buffer
	if err := summaryTemplate.Execute(&body, summary); err != nil {
		return domain.SendSummaryResponse{}, apperr.Wrap(apperr.KindInternal, err, "failed to render summary")
	}

	subject := "Daily cash summary " + summary.From
	if err := s.notifier.SendDailySummary(ctx, recipients, subject, body.String()); err != nil {
		return domain.SendSummaryResponse{}, apperr.Wrap(apperr.KindInternal, err, "failed to send summary")
	}
	return domain.SendSummaryResponse{Recipients: recipients, Sent: true}, nil
}

func cleanRecipients(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

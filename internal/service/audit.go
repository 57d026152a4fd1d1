package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"cashrecon/backend/internal/access"
	"cashrecon/backend/internal/domain"
	"cashrecon/backend/internal/store"
	"cashrecon/backend/internal/xid"
)

type auditEntry struct {
	Action     domain.AuditAction
	EntityType string
	EntityID   string
	BranchID   string
	FieldName  string
	OldValue   string
	NewValue   string
	Remark     string
}

// recordAudit writes through the same transaction as the state change it
// describes. A failure here must abort that transaction.
func (s *Service) recordAudit(ctx context.Context, tx store.Tx, actor domain.Actor, e auditEntry) error {
	entry := domain.AuditLog{
		ID:         xid.New("aud"),
		UserID:     actor.UserID,
		BranchID:   optional(e.BranchID),
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		FieldName:  optional(e.FieldName),
		OldValue:   optional(e.OldValue),
		NewValue:   optional(e.NewValue),
		Remark:     optional(e.Remark),
		CreatedAt:  s.now(),
	}
	if err := tx.InsertAuditLog(ctx, entry); err != nil {
		s.logger.Error("[audit] failed to write audit log",
			zap.String("action", string(e.Action)),
			zap.String("entity", e.EntityType+"/"+e.EntityID),
			zap.Error(err),
		)
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

type AuditQuery struct {
	EntityType string
	EntityID   string
	UserID     string
	BranchID   string
	From       string
	To         string
	Limit      int
}

func (s *Service) ListAuditLogs(ctx context.Context, q AuditQuery) ([]domain.AuditLog, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := access.CanViewAuditLogs(actor); err != nil {
		return nil, err
	}
	from, to, err := dateRange(q.From, q.To)
	if err != nil {
		return nil, err
	}

	logs, err := s.repo.ListAuditLogs(ctx, domain.AuditFilter{
		EntityType: q.EntityType,
		EntityID:   q.EntityID,
		UserID:     q.UserID,
		BranchID:   q.BranchID,
		From:       from,
		To:         to,
		Limit:      q.Limit,
	})
	if err != nil {
		return nil, translate(err, "audit log")
	}
	return logs, nil
}

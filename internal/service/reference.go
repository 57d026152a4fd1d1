package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"cashrecon/backend/internal/access"
	"cashrecon/backend/internal/apperr"
	"cashrecon/backend/internal/domain"
	"cashrecon/backend/internal/store"
	"cashrecon/backend/internal/xid"
)

// Company bank accounts

func (s *Service) CreateBankAccount(ctx context.Context, req domain.BankAccountCreateRequest) (domain.CompanyBankAccount, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CompanyBankAccount{}, err
	}
	if err := access.CanManageBankAccounts(actor); err != nil {
		return domain.CompanyBankAccount{}, err
	}
	bankName := strings.TrimSpace(req.BankName)
	accountNumber := strings.TrimSpace(req.AccountNumber)
	accountName := strings.TrimSpace(req.AccountName)
	for _, f := range []struct{ name, value string }{
		{"bankName", bankName},
		{"accountNumber", accountNumber},
		{"accountName", accountName},
	} {
		if f.value == "" {
			return domain.CompanyBankAccount{}, apperr.Validation("%s is required", f.name).WithDetail("field", f.name)
		}
	}

	now := s.now()
	account := domain.CompanyBankAccount{
		ID:            xid.New("bac"),
		BankName:      bankName,
		AccountNumber: accountNumber,
		AccountName:   accountName,
		BankBranch:    trimPtr(req.BankBranch),
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertBankAccount(ctx, account); err != nil {
			if isDuplicate(err) {
				return apperr.Duplicate("account %s at %s already exists", accountNumber, bankName)
			}
			return translate(err, "bank account")
		}
		return s.recordAudit(ctx, tx, actor, auditEntry{
			Action:     domain.AuditCreate,
			EntityType: domain.EntityCompanyBankAccount,
			EntityID:   account.ID,
			NewValue:   bankName + " " + accountNumber,
		})
	})
	if err != nil {
		return domain.CompanyBankAccount{}, translate(err, "bank account")
	}
	return account, nil
}

// ListBankAccounts is open to every role so auditors can pick a destination
// when recording a deposit.
func (s *Service) ListBankAccounts(ctx context.Context, activeOnly bool) ([]domain.CompanyBankAccount, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	accounts, err := s.repo.ListBankAccounts(ctx, activeOnly)
	if err != nil {
		return nil, translate(err, "bank account")
	}
	return accounts, nil
}

func (s *Service) SetBankAccountActive(ctx context.Context, accountID string, active bool) (domain.CompanyBankAccount, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CompanyBankAccount{}, err
	}
	if err := access.CanManageBankAccounts(actor); err != nil {
		return domain.CompanyBankAccount{}, err
	}

	var updated domain.CompanyBankAccount
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		account, err := tx.GetBankAccount(ctx, accountID)
		if err != nil {
			return translate(err, "bank account")
		}
		old := account.IsActive
		account.IsActive = active
		account.UpdatedAt = s.now()
		if err := tx.UpdateBankAccount(ctx, *account); err != nil {
			return translate(err, "bank account")
		}
		updated = *account
		return s.recordAudit(ctx, tx, actor, auditEntry{
			Action:     domain.AuditStatusChange,
			EntityType: domain.EntityCompanyBankAccount,
			EntityID:   account.ID,
			FieldName:  "isActive",
			OldValue:   boolString(old),
			NewValue:   boolString(active),
		})
	})
	if err != nil {
		return domain.CompanyBankAccount{}, translate(err, "bank account")
	}
	return updated, nil
}

// System config

var numericConfigKeys = map[string]bool{
	domain.ConfigDiscrepancyThreshold: true,
	domain.ConfigVarianceEpsilon:      true,
	domain.ConfigCreditCardFeeRate:    true,
}

func (s *Service) ListSystemConfig(ctx context.Context) ([]domain.SystemConfig, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := access.CanManageSystemConfig(actor); err != nil {
		return nil, err
	}
	configs, err := s.repo.ListSystemConfig(ctx)
	if err != nil {
		return nil, translate(err, "system config")
	}
	return configs, nil
}

func (s *Service) GetSystemConfig(ctx context.Context, key string) (domain.SystemConfig, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SystemConfig{}, err
	}
	if err := access.CanManageSystemConfig(actor); err != nil {
		return domain.SystemConfig{}, err
	}
	cfg, err := s.repo.GetSystemConfig(ctx, strings.ToUpper(strings.TrimSpace(key)))
	if err != nil {
		return domain.SystemConfig{}, translate(err, "system config")
	}
	return *cfg, nil
}

// SetSystemConfig upserts a key. Threshold keys must hold a non-negative
// decimal since the reconciliation engine reads them on every transition.
func (s *Service) SetSystemConfig(ctx context.Context, key string, req domain.SystemConfigSetRequest) (domain.SystemConfig, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SystemConfig{}, err
	}
	if err := access.CanManageSystemConfig(actor); err != nil {
		return domain.SystemConfig{}, err
	}
	key = strings.ToUpper(strings.TrimSpace(key))
	value := strings.TrimSpace(req.Value)
	if key == "" {
		return domain.SystemConfig{}, apperr.Validation("key is required")
	}
	if value == "" {
		return domain.SystemConfig{}, apperr.Validation("value is required").WithDetail("field", "value")
	}
	if numericConfigKeys[key] {
		parsed, err := decimal.NewFromString(value)
		if err != nil || parsed.IsNegative() {
			return domain.SystemConfig{}, apperr.Validation("%s must be a non-negative number", key).WithDetail("field", "value")
		}
	}

	cfg := domain.SystemConfig{
		Key:         key,
		Value:       value,
		Description: strings.TrimSpace(req.Description),
		UpdatedBy:   actor.UserID,
		UpdatedAt:   s.now(),
	}
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var old string
		if prev, err := tx.GetSystemConfig(ctx, key); err == nil {
			old = prev.Value
		} else if !isNotFound(err) {
			return translate(err, "system config")
		}
		if err := tx.UpsertSystemConfig(ctx, cfg); err != nil {
			return translate(err, "system config")
		}
		action := domain.AuditUpdate
		if old == "" {
			action = domain.AuditCreate
		}
		return s.recordAudit(ctx, tx, actor, auditEntry{
			Action:     action,
			EntityType: domain.EntitySystemConfig,
			EntityID:   key,
			FieldName:  "value",
			OldValue:   old,
			NewValue:   value,
		})
	})
	if err != nil {
		return domain.SystemConfig{}, translate(err, "system config")
	}

	if numericConfigKeys[key] {
		s.invalidateSummaries(ctx)
	}
	return cfg, nil
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

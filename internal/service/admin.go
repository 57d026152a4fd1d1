package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"cashrecon/backend/internal/access"
	"cashrecon/backend/internal/apperr"
	"cashrecon/backend/internal/domain"
	"cashrecon/backend/internal/store"
	"cashrecon/backend/internal/xid"
)

const minPasswordLength = 8

// Authenticate checks a username or email against the stored bcrypt hash.
// Every failure reads the same so callers cannot probe for accounts.
func (s *Service) Authenticate(ctx context.Context, login string, password string) (domain.User, error) {
	invalid := apperr.New(apperr.KindUnauthenticated, "invalid credentials")
	login = strings.TrimSpace(login)
	if login == "" || strings.TrimSpace(password) == "" {
		return domain.User{}, invalid
	}
	user, err := s.repo.FindUserByLogin(ctx, login)
	if isNotFound(err) {
		return domain.User{}, invalid
	}
	if err != nil {
		return domain.User{}, translate(err, "user")
	}
	if !verifyPassword(user.PasswordHash, password) {
		return domain.User{}, invalid
	}
	if user.Status != domain.UserStatusActive {
		return domain.User{}, apperr.New(apperr.KindUnauthenticated, "account is %s", strings.ToLower(string(user.Status)))
	}
	return *user, nil
}

// ResolveActor reloads the user behind a token so suspended accounts and
// branch moves take effect without waiting for the token to expire.
func (s *Service) ResolveActor(ctx context.Context, userID string) (domain.Actor, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if isNotFound(err) {
		return domain.Actor{}, apperr.New(apperr.KindUnauthenticated, "unknown user")
	}
	if err != nil {
		return domain.Actor{}, translate(err, "user")
	}
	if user.Status != domain.UserStatusActive {
		return domain.Actor{}, apperr.New(apperr.KindUnauthenticated, "account is %s", strings.ToLower(string(user.Status)))
	}
	return domain.Actor{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		BranchID: user.BranchID,
	}, nil
}

// Branches

func (s *Service) CreateBranch(ctx context.Context, req domain.BranchCreateRequest) (domain.Branch, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Branch{}, err
	}
	if err := access.CanManageBranches(actor); err != nil {
		return domain.Branch{}, err
	}
	code := strings.ToUpper(strings.TrimSpace(req.BranchCode))
	name := strings.TrimSpace(req.BranchName)
	if code == "" {
		return domain.Branch{}, apperr.Validation("branchCode is required").WithDetail("field", "branchCode")
	}
	if name == "" {
		return domain.Branch{}, apperr.Validation("branchName is required").WithDetail("field", "branchName")
	}

	now := s.now()
	branch := domain.Branch{
		ID:          xid.New("brn"),
		BranchCode:  code,
		BranchName:  name,
		Address:     strings.TrimSpace(req.Address),
		PhoneNumber: trimPtr(req.PhoneNumber),
		Status:      domain.BranchStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertBranch(ctx, branch); err != nil {
			if isDuplicate(err) {
				return apperr.Duplicate("branch code %s already exists", code).WithDetail("field", "branchCode")
			}
			return translate(err, "branch")
		}
		return s.recordAudit(ctx, tx, actor, auditEntry{
			Action:     domain.AuditCreate,
			EntityType: domain.EntityBranch,
			EntityID:   branch.ID,
			BranchID:   branch.ID,
			NewValue:   code,
		})
	})
	if err != nil {
		return domain.Branch{}, translate(err, "branch")
	}
	return branch, nil
}

func (s *Service) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	branches, err := s.repo.ListBranches(ctx)
	if err != nil {
		return nil, translate(err, "branch")
	}
	if actor.Role != domain.RoleStoreStaff {
		return branches, nil
	}
	own := make([]domain.Branch, 0, 1)
	for _, b := range branches {
		if actor.HasBranch(b.ID) {
			own = append(own, b)
		}
	}
	return own, nil
}

func (s *Service) GetBranch(ctx context.Context, branchID string) (domain.Branch, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Branch{}, err
	}
	if err := access.CanViewBranch(actor, branchID); err != nil {
		return domain.Branch{}, err
	}
	branch, err := s.repo.GetBranch(ctx, branchID)
	if err != nil {
		return domain.Branch{}, translate(err, "branch")
	}
	return *branch, nil
}

func (s *Service) UpdateBranch(ctx context.Context, branchID string, req domain.BranchUpdateRequest) (domain.Branch, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Branch{}, err
	}
	if err := access.CanManageBranches(actor); err != nil {
		return domain.Branch{}, err
	}
	if req.Status != nil && *req.Status != domain.BranchStatusActive && *req.Status != domain.BranchStatusInactive {
		return domain.Branch{}, apperr.Validation("status must be ACTIVE or INACTIVE").WithDetail("field", "status")
	}

	var updated domain.Branch
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		branch, err := tx.LockBranch(ctx, branchID)
		if err != nil {
			return translate(err, "branch")
		}
		var changed []string
		if req.BranchName != nil {
			name := strings.TrimSpace(*req.BranchName)
			if name == "" {
				return apperr.Validation("branchName must not be empty").WithDetail("field", "branchName")
			}
			branch.BranchName = name
			changed = append(changed, "branchName")
		}
		if req.Address != nil {
			branch.Address = strings.TrimSpace(*req.Address)
			changed = append(changed, "address")
		}
		if req.PhoneNumber != nil {
			branch.PhoneNumber = trimPtr(req.PhoneNumber)
			changed = append(changed, "phoneNumber")
		}
		oldStatus := branch.Status
		if req.Status != nil {
			branch.Status = *req.Status
			changed = append(changed, "status")
		}
		if len(changed) == 0 {
			return apperr.Validation("no fields to update")
		}
		branch.UpdatedAt = s.now()
		if err := tx.UpdateBranch(ctx, *branch); err != nil {
			return translate(err, "branch")
		}
		updated = *branch

		entry := auditEntry{
			Action:     domain.AuditUpdate,
			EntityType: domain.EntityBranch,
			EntityID:   branch.ID,
			BranchID:   branch.ID,
			Remark:     "updated " + strings.Join(changed, ", "),
		}
		if oldStatus != branch.Status {
			entry.Action = domain.AuditStatusChange
			entry.FieldName = "status"
			entry.OldValue = string(oldStatus)
			entry.NewValue = string(branch.Status)
		}
		return s.recordAudit(ctx, tx, actor, entry)
	})
	if err != nil {
		return domain.Branch{}, translate(err, "branch")
	}
	return updated, nil
}

// DeleteBranch refuses while any user or closing still points at the branch;
// deactivate it instead.
func (s *Service) DeleteBranch(ctx context.Context, branchID string) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	if err := access.CanManageBranches(actor); err != nil {
		return err
	}

	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		branch, err := tx.LockBranch(ctx, branchID)
		if err != nil {
			return translate(err, "branch")
		}
		refs, err := tx.CountBranchReferences(ctx, branch.ID)
		if err != nil {
			return translate(err, "branch")
		}
		if refs > 0 {
			return apperr.InvalidStatus("branch %s still has %d users or closings", branch.BranchCode, refs).
				WithDetail("references", refs)
		}
		if err := tx.DeleteBranch(ctx, branch.ID); err != nil {
			return translate(err, "branch")
		}
		return s.recordAudit(ctx, tx, actor, auditEntry{
			Action:     domain.AuditDelete,
			EntityType: domain.EntityBranch,
			EntityID:   branch.ID,
			OldValue:   branch.BranchCode,
		})
	})
	return translate(err, "branch")
}

// Users

func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.User{}, err
	}
	if err := access.CanManageUsers(actor); err != nil {
		return domain.User{}, err
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	username := strings.ToLower(strings.TrimSpace(req.Username))
	role := domain.Role(strings.ToUpper(strings.TrimSpace(string(req.Role))))
	branchID := trimPtr(req.BranchID)
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.User{}, apperr.Validation("email is invalid").WithDetail("field", "email")
	}
	if len(username) < 3 || strings.ContainsAny(username, " \t\r\n@") {
		return domain.User{}, apperr.Validation("username must be at least 3 characters without spaces or @").WithDetail("field", "username")
	}
	if len(req.Password) < minPasswordLength {
		return domain.User{}, apperr.Validation("password must be at least %d characters", minPasswordLength).WithDetail("field", "password")
	}
	if !role.Valid() {
		return domain.User{}, apperr.Validation("unknown role %q", req.Role).WithDetail("field", "role")
	}
	if err := checkRoleBranch(role, branchID); err != nil {
		return domain.User{}, err
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		return domain.User{}, apperr.Wrap(apperr.KindInternal, err, "failed to hash password")
	}

	now := s.now()
	user := domain.User{
		ID:           xid.New("usr"),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		Status:       domain.UserStatusActive,
		BranchID:     branchID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		if branchID != nil {
			branch, err := tx.GetBranch(ctx, *branchID)
			if err != nil {
				return translate(err, "branch")
			}
			if branch.Status != domain.BranchStatusActive {
				return apperr.InvalidStatus("branch %s is not active", branch.BranchCode)
			}
		}
		if err := tx.InsertUser(ctx, user); err != nil {
			if isDuplicate(err) {
				return apperr.Duplicate("email or username already in use")
			}
			return translate(err, "user")
		}
		return s.recordAudit(ctx, tx, actor, auditEntry{
			Action:     domain.AuditCreate,
			EntityType: domain.EntityUser,
			EntityID:   user.ID,
			BranchID:   derefString(branchID),
			NewValue:   string(role),
			Remark:     "user " + username + " created",
		})
	})
	if err != nil {
		return domain.User{}, translate(err, "user")
	}
	return user, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := access.CanManageUsers(actor); err != nil {
		return nil, err
	}
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, translate(err, "user")
	}
	return users, nil
}

func (s *Service) UpdateUserStatus(ctx context.Context, userID string, req domain.UserStatusRequest) (domain.User, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.User{}, err
	}
	if err := access.CanManageUsers(actor); err != nil {
		return domain.User{}, err
	}
	status := domain.UserStatus(strings.ToUpper(strings.TrimSpace(string(req.Status))))
	switch status {
	case domain.UserStatusActive, domain.UserStatusSuspended, domain.UserStatusInactive:
	default:
		return domain.User{}, apperr.Validation("unknown user status %q", req.Status).WithDetail("field", "status")
	}
	if userID == actor.UserID && status != domain.UserStatusActive {
		return domain.User{}, apperr.Validation("you cannot deactivate your own account")
	}

	var updated domain.User
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return translate(err, "user")
		}
		old := user.Status
		user.Status = status
		user.UpdatedAt = s.now()
		if err := tx.UpdateUser(ctx, *user); err != nil {
			return translate(err, "user")
		}
		updated = *user
		return s.recordAudit(ctx, tx, actor, auditEntry{
			Action:     domain.AuditStatusChange,
			EntityType: domain.EntityUser,
			EntityID:   user.ID,
			BranchID:   derefString(user.BranchID),
			FieldName:  "status",
			OldValue:   string(old),
			NewValue:   string(status),
		})
	})
	if err != nil {
		return domain.User{}, translate(err, "user")
	}
	return updated, nil
}

// checkRoleBranch enforces that store staff belong to exactly one branch and
// nobody else is bound to one.
func checkRoleBranch(role domain.Role, branchID *string) error {
	if role == domain.RoleStoreStaff && branchID == nil {
		return apperr.Validation("store staff must be assigned to a branch").WithDetail("field", "branchId")
	}
	if role != domain.RoleStoreStaff && branchID != nil {
		return apperr.Validation("only store staff can be assigned to a branch, not %s", role).WithDetail("field", "branchId")
	}
	return nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || input == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

// Package access holds the capability checks for every workflow operation.
// Each check returns nil when the actor may proceed, or an apperr FORBIDDEN.
package access

import (
	"cashrecon/backend/internal/apperr"
	"cashrecon/backend/internal/domain"
)

func hasRole(actor domain.Actor, roles ...domain.Role) bool {
	for _, role := range roles {
		if actor.Role == role {
			return true
		}
	}
	return false
}

func requireRole(actor domain.Actor, action string, roles ...domain.Role) error {
	if hasRole(actor, roles...) {
		return nil
	}
	return apperr.Forbidden("role %s may not %s", actor.Role, action)
}

// ResolveClosingBranch picks the branch a new closing belongs to. Staff always
// write to their own branch; managers and admins must name one.
func ResolveClosingBranch(actor domain.Actor, requested string) (string, error) {
	switch actor.Role {
	case domain.RoleStoreStaff:
		if actor.BranchID == nil || *actor.BranchID == "" {
			return "", apperr.Forbidden("store staff account has no branch")
		}
		if requested != "" && requested != *actor.BranchID {
			return "", apperr.Forbidden("store staff may only create closings for their own branch")
		}
		return *actor.BranchID, nil
	case domain.RoleManager, domain.RoleAdmin:
		if requested == "" {
			return "", apperr.Validation("branchId is required")
		}
		return requested, nil
	default:
		return "", apperr.Forbidden("role %s may not create closings", actor.Role)
	}
}

func CanCreateClosing(actor domain.Actor, branchID string) error {
	_, err := ResolveClosingBranch(actor, branchID)
	return err
}

// canWorkDraft covers edit, delete and submit, which share one rule.
func canWorkDraft(actor domain.Actor, closing domain.DailyClosing, action string) error {
	switch actor.Role {
	case domain.RoleManager, domain.RoleAdmin:
		return nil
	case domain.RoleStoreStaff:
		if actor.HasBranch(closing.BranchID) {
			return nil
		}
		return apperr.Forbidden("closing belongs to another branch")
	}
	return apperr.Forbidden("role %s may not %s closings", actor.Role, action)
}

func CanEditClosing(actor domain.Actor, closing domain.DailyClosing) error {
	return canWorkDraft(actor, closing, "edit")
}

func CanDeleteClosing(actor domain.Actor, closing domain.DailyClosing) error {
	return canWorkDraft(actor, closing, "delete")
}

func CanSubmitClosing(actor domain.Actor, closing domain.DailyClosing) error {
	return canWorkDraft(actor, closing, "submit")
}

func CanReceiveCash(actor domain.Actor) error {
	return requireRole(actor, "receive cash", domain.RoleAuditor, domain.RoleManager, domain.RoleAdmin)
}

func CanCreateDeposit(actor domain.Actor) error {
	return requireRole(actor, "create deposits", domain.RoleAuditor, domain.RoleAdmin)
}

func CanDecideApproval(actor domain.Actor) error {
	return requireRole(actor, "approve deposits", domain.RoleOwner, domain.RoleAdmin)
}

func CanBankConfirm(actor domain.Actor) error {
	return requireRole(actor, "confirm bank receipt", domain.RoleOwner, domain.RoleAdmin)
}

// CanStaffConfirm is limited to staff of the branch that handed over the cash.
func CanStaffConfirm(actor domain.Actor, closing domain.DailyClosing) error {
	if actor.Role != domain.RoleStoreStaff {
		return apperr.Forbidden("only store staff confirm deposits")
	}
	if !actor.HasBranch(closing.BranchID) {
		return apperr.Forbidden("deposit belongs to another branch")
	}
	return nil
}

// CanViewBranch guards reads of any record owned by a branch.
func CanViewBranch(actor domain.Actor, branchID string) error {
	if !actor.Role.Valid() {
		return apperr.Forbidden("unknown role")
	}
	if actor.Role == domain.RoleStoreStaff && !actor.HasBranch(branchID) {
		return apperr.Forbidden("record belongs to another branch")
	}
	return nil
}

func CanViewClosing(actor domain.Actor, closing domain.DailyClosing) error {
	return CanViewBranch(actor, closing.BranchID)
}

// ScopeBranchFilter returns the branch a listing must be restricted to. Staff
// are pinned to their own branch; everyone else gets what they asked for,
// where "" means all branches.
func ScopeBranchFilter(actor domain.Actor, requested string) (string, error) {
	if actor.Role != domain.RoleStoreStaff {
		if !actor.Role.Valid() {
			return "", apperr.Forbidden("unknown role")
		}
		return requested, nil
	}
	if actor.BranchID == nil || *actor.BranchID == "" {
		return "", apperr.Forbidden("store staff account has no branch")
	}
	if requested != "" && requested != *actor.BranchID {
		return "", apperr.Forbidden("store staff may only list their own branch")
	}
	return *actor.BranchID, nil
}

func CanManageBranches(actor domain.Actor) error {
	return requireRole(actor, "manage branches", domain.RoleAdmin)
}

func CanManageUsers(actor domain.Actor) error {
	return requireRole(actor, "manage users", domain.RoleAdmin)
}

func CanManageBankAccounts(actor domain.Actor) error {
	return requireRole(actor, "manage bank accounts", domain.RoleOwner, domain.RoleAdmin)
}

func CanManageSystemConfig(actor domain.Actor) error {
	return requireRole(actor, "change system config", domain.RoleAdmin)
}

func CanViewReports(actor domain.Actor) error {
	return requireRole(actor, "view reports", domain.RoleAuditor, domain.RoleManager, domain.RoleOwner, domain.RoleAdmin)
}

func CanViewAuditLogs(actor domain.Actor) error {
	return requireRole(actor, "view audit logs", domain.RoleAuditor, domain.RoleManager, domain.RoleOwner, domain.RoleAdmin)
}

package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cashrecon/backend/internal/apperr"
	"cashrecon/backend/internal/domain"
)

func TestUserLifecycleAndAuthentication(t *testing.T) {
	f := newFixture(t)
	admin := as(domain.RoleAdmin)

	_, err := f.svc.CreateUser(admin, domain.UserCreateRequest{
		Email: "dewi@example.com", Username: "dewi", Password: "secret-123", Role: domain.RoleStoreStaff,
	})
	requireKind(t, err, apperr.KindValidation)

	_, err = f.svc.CreateUser(admin, domain.UserCreateRequest{
		Email: "boss@example.com", Username: "boss", Password: "secret-123", Role: domain.RoleOwner, BranchID: strPtr(branchOne),
	})
	requireKind(t, err, apperr.KindValidation)

	user, err := f.svc.CreateUser(admin, domain.UserCreateRequest{
		Email: "Dewi@Example.com", Username: "Dewi", Password: "secret-123", Role: "store_staff", BranchID: strPtr(branchOne),
	})
	require.NoError(t, err)
	assert.Equal(t, "dewi", user.Username)
	assert.Equal(t, domain.RoleStoreStaff, user.Role)
	assert.NotEqual(t, "secret-123", user.PasswordHash)

	_, err = f.svc.CreateUser(admin, domain.UserCreateRequest{
		Email: "other@example.com", Username: "DEWI", Password: "secret-123", Role: domain.RoleAuditor,
	})
	requireKind(t, err, apperr.KindDuplicate)

	_, err = f.svc.CreateUser(as(domain.RoleOwner), domain.UserCreateRequest{})
	requireKind(t, err, apperr.KindForbidden)

	authed, err := f.svc.Authenticate(context.Background(), "dewi@example.com", "secret-123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, authed.ID)

	_, err = f.svc.Authenticate(context.Background(), "dewi", "wrong-password")
	requireKind(t, err, apperr.KindUnauthenticated)
	_, err = f.svc.Authenticate(context.Background(), "nobody", "secret-123")
	requireKind(t, err, apperr.KindUnauthenticated)

	actor, err := f.svc.ResolveActor(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleStoreStaff, actor.Role)
	assert.True(t, actor.HasBranch(branchOne))

	_, err = f.svc.UpdateUserStatus(admin, user.ID, domain.UserStatusRequest{Status: domain.UserStatusSuspended})
	require.NoError(t, err)
	_, err = f.svc.Authenticate(context.Background(), "dewi", "secret-123")
	requireKind(t, err, apperr.KindUnauthenticated)
	_, err = f.svc.ResolveActor(context.Background(), user.ID)
	requireKind(t, err, apperr.KindUnauthenticated)

	_, err = f.svc.UpdateUserStatus(admin, "usr-ADMIN", domain.UserStatusRequest{Status: domain.UserStatusInactive})
	requireKind(t, err, apperr.KindValidation)

	rows := f.auditRows(domain.EntityUser, user.ID)
	assert.Len(t, rows, 2)
}

func TestBranchAdministration(t *testing.T) {
	f := newFixture(t)
	admin := as(domain.RoleAdmin)

	branch, err := f.svc.CreateBranch(admin, domain.BranchCreateRequest{BranchCode: "br-003", BranchName: "Airport"})
	require.NoError(t, err)
	assert.Equal(t, "BR-003", branch.BranchCode)
	assert.Equal(t, domain.BranchStatusActive, branch.Status)

	_, err = f.svc.CreateBranch(admin, domain.BranchCreateRequest{BranchCode: "BR-003", BranchName: "Again"})
	requireKind(t, err, apperr.KindDuplicate)

	_, err = f.svc.CreateBranch(as(domain.RoleManager), domain.BranchCreateRequest{BranchCode: "BR-004", BranchName: "X"})
	requireKind(t, err, apperr.KindForbidden)

	inactive := domain.BranchStatusInactive
	updated, err := f.svc.UpdateBranch(admin, branch.ID, domain.BranchUpdateRequest{Status: &inactive})
	require.NoError(t, err)
	assert.Equal(t, domain.BranchStatusInactive, updated.Status)

	req := closingRequest("2026-10-01")
	req.BranchID = branch.ID
	_, err = f.svc.CreateClosing(as(domain.RoleManager), req)
	requireKind(t, err, apperr.KindInvalidStatus)

	require.NoError(t, f.svc.DeleteBranch(admin, branch.ID))
	_, err = f.svc.GetBranch(admin, branch.ID)
	requireKind(t, err, apperr.KindNotFound)

	_, err = f.svc.CreateClosing(staffOf(branchOne), closingRequest("2026-10-01"))
	require.NoError(t, err)
	err = f.svc.DeleteBranch(admin, branchOne)
	requireKind(t, err, apperr.KindInvalidStatus)

	own, err := f.svc.ListBranches(staffOf(branchTwo))
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, branchTwo, own[0].ID)
}

func TestSystemConfigValidation(t *testing.T) {
	f := newFixture(t)
	admin := as(domain.RoleAdmin)

	_, err := f.svc.SetSystemConfig(admin, "variance_epsilon", domain.SystemConfigSetRequest{Value: "abc"})
	requireKind(t, err, apperr.KindValidation)
	_, err = f.svc.SetSystemConfig(as(domain.RoleOwner), domain.ConfigVarianceEpsilon, domain.SystemConfigSetRequest{Value: "1"})
	requireKind(t, err, apperr.KindForbidden)

	cfg, err := f.svc.SetSystemConfig(admin, "variance_epsilon", domain.SystemConfigSetRequest{Value: "1"})
	require.NoError(t, err)
	assert.Equal(t, domain.ConfigVarianceEpsilon, cfg.Key)

	_, err = f.svc.SetSystemConfig(admin, domain.ConfigVarianceEpsilon, domain.SystemConfigSetRequest{Value: "2"})
	require.NoError(t, err)
	got, err := f.svc.GetSystemConfig(admin, domain.ConfigVarianceEpsilon)
	require.NoError(t, err)
	assert.Equal(t, "2", got.Value)

	rows := f.auditRows(domain.EntitySystemConfig, domain.ConfigVarianceEpsilon)
	require.Len(t, rows, 2)
}

func TestAuditLogListingIsRestricted(t *testing.T) {
	f := newFixture(t)
	closing, err := f.svc.CreateClosing(staffOf(branchOne), closingRequest("2026-10-01"))
	require.NoError(t, err)

	_, err = f.svc.ListAuditLogs(staffOf(branchOne), AuditQuery{})
	requireKind(t, err, apperr.KindForbidden)

	rows, err := f.svc.ListAuditLogs(as(domain.RoleAuditor), AuditQuery{EntityType: domain.EntityDailyClosing, EntityID: closing.ID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, branchOne, *rows[0].BranchID)
}

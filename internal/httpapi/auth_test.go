package httpapi

import (
	"context"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cashrecon/backend/internal/apperr"
	"cashrecon/backend/internal/domain"
)

type identityStub struct {
	user   domain.User
	status domain.UserStatus
}

func (s *identityStub) Authenticate(_ context.Context, login string, password string) (domain.User, error) {
	if login != s.user.Username || password != "correct-horse" {
		return domain.User{}, apperr.New(apperr.KindUnauthenticated, "invalid credentials")
	}
	return s.user, nil
}

func (s *identityStub) ResolveActor(_ context.Context, userID string) (domain.Actor, error) {
	if userID != s.user.ID || s.status != domain.UserStatusActive {
		return domain.Actor{}, apperr.New(apperr.KindUnauthenticated, "unknown user")
	}
	return domain.Actor{UserID: s.user.ID, Username: s.user.Username, Role: s.user.Role, BranchID: s.user.BranchID}, nil
}

func newStaffIdentity() *identityStub {
	branch := "branch-1"
	return &identityStub{
		user: domain.User{
			ID:       "usr-1",
			Username: "rina",
			Role:     domain.RoleStoreStaff,
			Status:   domain.UserStatusActive,
			BranchID: &branch,
		},
		status: domain.UserStatusActive,
	}
}

func TestLoginIssuesTokenCarryingRoleAndBranch(t *testing.T) {
	identities := newStaffIdentity()
	manager := NewAuthManager("test-secret", time.Hour, identities)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "rina", Password: "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleStoreStaff, resp.Role)
	require.NotNil(t, resp.BranchID)
	assert.Equal(t, "branch-1", *resp.BranchID)

	claims := &actorClaims{}
	_, err = jwtlib.ParseWithClaims(resp.AccessToken, claims, func(*jwtlib.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "usr-1", claims.Subject)
	assert.Equal(t, tokenIssuer, claims.Issuer)
	assert.Equal(t, domain.RoleStoreStaff, claims.Role)

	actor, err := manager.Authenticate(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "usr-1", actor.UserID)
	assert.True(t, actor.HasBranch("branch-1"))
}

func TestLoginRejectsBadPassword(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, newStaffIdentity())
	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "rina", Password: "wrong"})
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestAuthenticateRejectsForeignAndExpiredTokens(t *testing.T) {
	identities := newStaffIdentity()
	manager := NewAuthManager("test-secret", time.Minute, identities)
	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "rina", Password: "correct-horse"})
	require.NoError(t, err)

	other := NewAuthManager("another-secret", time.Minute, identities)
	_, err = other.Authenticate(context.Background(), resp.AccessToken)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))

	manager.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }
	_, err = manager.Authenticate(context.Background(), resp.AccessToken)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestAuthenticateRejectsSuspendedUserWithLiveToken(t *testing.T) {
	identities := newStaffIdentity()
	manager := NewAuthManager("test-secret", time.Hour, identities)
	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "rina", Password: "correct-horse"})
	require.NoError(t, err)

	identities.status = domain.UserStatusSuspended
	_, err = manager.Authenticate(context.Background(), resp.AccessToken)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestParseTokenRejectsNoneAlgorithm(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, newStaffIdentity())
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, actorClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{Subject: "usr-1", Issuer: tokenIssuer},
	})
	signed, err := token.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = manager.ParseToken(signed)
	assert.Error(t, err)
}

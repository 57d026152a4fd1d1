package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"cashrecon/backend/internal/apperr"
	"cashrecon/backend/internal/domain"
)

const tokenIssuer = "cashrecon"

// Identities is the slice of the service the auth layer needs. Credentials and
// account status live in the store; the manager only mints and reads tokens.
type Identities interface {
	Authenticate(ctx context.Context, login string, password string) (domain.User, error)
	ResolveActor(ctx context.Context, userID string) (domain.Actor, error)
}

type AuthManager struct {
	secret     []byte
	tokenTTL   time.Duration
	identities Identities
	now        func() time.Time
}

type actorClaims struct {
	jwtlib.RegisteredClaims
	Role     domain.Role `json:"role"`
	BranchID *string     `json:"branch_id,omitempty"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, identities Identities) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:     []byte(secret),
		tokenTTL:   tokenTTL,
		identities: identities,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	user, err := a.identities.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	expiresAt := a.now().Add(a.tokenTTL)
	token, err := a.sign(user, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        user.Role,
		BranchID:    user.BranchID,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// Authenticate turns a bearer token into the current actor. The user is
// reloaded so a suspended account loses access before its token expires.
func (a *AuthManager) Authenticate(ctx context.Context, tokenStr string) (domain.Actor, error) {
	userID, err := a.ParseToken(tokenStr)
	if err != nil {
		return domain.Actor{}, apperr.New(apperr.KindUnauthenticated, "%v", err)
	}
	return a.identities.ResolveActor(ctx, userID)
}

// ParseToken validates signature, issuer and expiry and returns the subject.
func (a *AuthManager) ParseToken(tokenStr string) (string, error) {
	claims := &actorClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	},
		jwtlib.WithValidMethods([]string{"HS256"}),
		jwtlib.WithIssuer(tokenIssuer),
		jwtlib.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return "", errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return "", errors.New("invalid token subject")
	}
	return sub, nil
}

func (a *AuthManager) sign(user domain.User, expiresAt time.Time) (string, error) {
	claims := actorClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwtlib.NewNumericDate(a.now()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Role:     user.Role,
		BranchID: user.BranchID,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

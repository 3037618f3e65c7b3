// Package auth carries the resolved caller identity through request contexts
// and issues/verifies the HS256 bearer tokens that identify callers.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoUserContext is returned when a context carries no identity.
var ErrNoUserContext = errors.New("no user context")

// UserContext is the authenticated caller.
type UserContext struct {
	UserID string
	Role   string
}

type ctxKey struct{}

// WithUserContext stores uc in ctx.
func WithUserContext(ctx context.Context, uc UserContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, uc)
}

// GetUserContext returns the caller stored in ctx.
func GetUserContext(ctx context.Context) (UserContext, error) {
	uc, ok := ctx.Value(ctxKey{}).(UserContext)
	if !ok || uc.UserID == "" {
		return UserContext{}, ErrNoUserContext
	}
	return uc, nil
}

// Claims are the JWT claims issued for a user.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs a token for userID with the given role.
func IssueToken(secret []byte, issuer, userID, role string, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken verifies raw and returns the caller it identifies. Expiry is
// checked against now, or the wall clock when now is nil.
func ParseToken(secret []byte, issuer, raw string, now func() time.Time) (UserContext, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if now != nil {
		opts = append(opts, jwt.WithTimeFunc(now))
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		return UserContext{}, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return UserContext{}, errors.New("invalid token: missing subject")
	}

	return UserContext{UserID: claims.Subject, Role: claims.Role}, nil
}

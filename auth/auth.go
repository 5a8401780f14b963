package auth

import (
	"context"
	"fmt"

	"github.com/dgrijalva/jwt-go"

	"github.com/streamly/streamly-services-uploads/apperror"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
}

// Verifier turns a bearer credential into a caller identity. The identity
// provider itself is an external collaborator; this interface is the whole
// contract.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// JWTVerifierImpl validates HMAC-signed tokens issued by the identity
// provider and extracts the subject claim.
type JWTVerifierImpl struct {
	secret []byte
	issuer string
}

func NewJWTVerifierImpl(secret string, issuer string) *JWTVerifierImpl {
	return &JWTVerifierImpl{secret: []byte(secret), issuer: issuer}
}

func (v *JWTVerifierImpl) Verify(ctx context.Context, tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, &apperror.AuthError{Reason: "invalid token"}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, &apperror.AuthError{Reason: "invalid token claims"}
	}

	if v.issuer != "" {
		if iss, _ := claims["iss"].(string); iss != v.issuer {
			return nil, &apperror.AuthError{Reason: "unknown issuer"}
		}
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, &apperror.AuthError{Reason: "missing user id in token"}
	}

	return &Identity{UserID: sub}, nil
}

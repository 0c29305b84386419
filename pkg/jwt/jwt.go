package jwt

import (
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var (
	ErrEmptySecret    = errors.New("signing secret is empty")
	ErrWrongTokenType = errors.New("token type mismatch")
)

type Claims struct {
	UserID    string `json:"user_id"`
	TokenType string `json:"token_type"`
	gojwt.RegisteredClaims
}

func GenerateToken(userID string, expiration time.Duration, secret string) (string, error) {
	return generate(userID, TypeAccess, expiration, secret)
}

func GenerateRefreshToken(userID string, expiration time.Duration, secret string) (string, error) {
	return generate(userID, TypeRefresh, expiration, secret)
}

// ValidateToken checks signature, expiry and not-before of an access token.
func ValidateToken(tokenString, secret string) (*Claims, error) {
	return validate(tokenString, TypeAccess, secret)
}

// ValidateRefreshToken is ValidateToken for refresh tokens.
func ValidateRefreshToken(tokenString, secret string) (*Claims, error) {
	return validate(tokenString, TypeRefresh, secret)
}

func generate(userID, tokenType string, expiration time.Duration, secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}

	now := time.Now()
	claims := Claims{
		UserID:    userID,
		TokenType: tokenType,
		RegisteredClaims: gojwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID,
			IssuedAt:  gojwt.NewNumericDate(now),
			NotBefore: gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(expiration)),
		},
	}

	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

func validate(tokenString, tokenType, secret string) (*Claims, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	claims := &Claims{}
	token, err := gojwt.ParseWithClaims(tokenString, claims, func(t *gojwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, gojwt.ErrTokenSignatureInvalid
	}

	if claims.TokenType != tokenType {
		return nil, ErrWrongTokenType
	}

	if claims.UserID == "" {
		return nil, gojwt.ErrTokenInvalidClaims
	}

	return claims, nil
}

package service

import (
	"fmt"

	"vidtube-account-server/internal/config"
	"vidtube-account-server/internal/domain"
	"vidtube-account-server/pkg/apperror"
	"vidtube-account-server/pkg/jwt"
)

// TokenIssuer signs and verifies access/refresh token pairs. Access and
// refresh tokens use separate secrets.
type TokenIssuer struct {
	cfg config.JWTConfig
}

func NewTokenIssuer(cfg config.JWTConfig) *TokenIssuer {
	return &TokenIssuer{cfg: cfg}
}

func (t *TokenIssuer) IssueTokenPair(userID string) (*domain.TokenPair, error) {
	accessToken, err := jwt.GenerateToken(userID, t.cfg.AccessTokenExpiry, t.cfg.AccessTokenSecret)
	if err != nil {
		return nil, apperror.Internal("something went wrong while generating access token", err)
	}

	refreshToken, err := jwt.GenerateRefreshToken(userID, t.cfg.RefreshTokenExpiry, t.cfg.RefreshTokenSecret)
	if err != nil {
		return nil, apperror.Internal("something went wrong while generating refresh token", err)
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

func (t *TokenIssuer) ValidateAccessToken(token string) (*jwt.Claims, error) {
	claims, err := jwt.ValidateToken(token, t.cfg.AccessTokenSecret)
	if err != nil {
		return nil, apperror.Unauthorized(fmt.Sprintf("invalid access token: %v", err))
	}
	return claims, nil
}

func (t *TokenIssuer) ValidateRefreshToken(token string) (*jwt.Claims, error) {
	claims, err := jwt.ValidateRefreshToken(token, t.cfg.RefreshTokenSecret)
	if err != nil {
		return nil, apperror.Unauthorized(fmt.Sprintf("invalid refresh token: %v", err))
	}
	return claims, nil
}

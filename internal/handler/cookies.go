package handler

import (
	"net/http"
	"time"

	"vidtube-account-server/internal/config"
	"vidtube-account-server/internal/middleware"
)

// cookieJar writes the session cookies with the configured attributes.
type cookieJar struct {
	cfg           config.CookieConfig
	accessExpiry  time.Duration
	refreshExpiry time.Duration
}

func newCookieJar(cfg config.CookieConfig, jwtCfg config.JWTConfig) cookieJar {
	return cookieJar{
		cfg:           cfg,
		accessExpiry:  jwtCfg.AccessTokenExpiry,
		refreshExpiry: jwtCfg.RefreshTokenExpiry,
	}
}

func (c cookieJar) setTokens(w http.ResponseWriter, accessToken, refreshToken string) {
	http.SetCookie(w, c.cookie(middleware.AccessTokenCookie, accessToken, int(c.accessExpiry.Seconds())))
	http.SetCookie(w, c.cookie(middleware.RefreshTokenCookie, refreshToken, int(c.refreshExpiry.Seconds())))
}

func (c cookieJar) clearTokens(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(middleware.AccessTokenCookie, "", -1))
	http.SetCookie(w, c.cookie(middleware.RefreshTokenCookie, "", -1))
}

func (c cookieJar) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.cfg.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.cfg.Secure,
		SameSite: c.cfg.SameSite,
	}
}

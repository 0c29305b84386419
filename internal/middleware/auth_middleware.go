package middleware

import (
	"context"
	"net/http"
	"strings"

	"vidtube-account-server/pkg/apperror"
	"vidtube-account-server/pkg/jwt"
	"vidtube-account-server/pkg/response"
)

// Cookie names shared with the auth handlers.
const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

type contextKey string

const UserIDKey contextKey = "userID"

type AccessTokenValidator interface {
	ValidateAccessToken(token string) (*jwt.Claims, error)
}

// AuthMiddleware accepts an access token from the accessToken cookie or an
// Authorization: Bearer header and attaches the user id to the context.
func AuthMiddleware(tokens AccessTokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := AccessTokenFromRequest(r)
			if token == "" {
				response.FromError(w, apperror.Unauthorized("unauthorized request"))
				return
			}

			claims, err := tokens.ValidateAccessToken(token)
			if err != nil {
				response.FromError(w, err)
				return
			}

			if info := requestInfoFrom(r.Context()); info != nil {
				info.userID = claims.UserID
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessTokenFromRequest reads the cookie first, then the bearer header.
func AccessTokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func GetUserID(r *http.Request) string {
	userID, ok := r.Context().Value(UserIDKey).(string)
	if !ok {
		return ""
	}
	return userID
}

// WithUserID returns a copy of r carrying userID, as AuthMiddleware would.
func WithUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), UserIDKey, userID))
}

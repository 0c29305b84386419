package handler

import (
	"net/http"

	"vidtube-account-server/internal/config"
	"vidtube-account-server/internal/domain"
	"vidtube-account-server/internal/middleware"
	"vidtube-account-server/internal/service"
	"vidtube-account-server/pkg/response"

	"github.com/go-playground/validator/v10"
)

type AuthHandler struct {
	registration *service.RegistrationService
	sessions     *service.SessionService
	cookies      cookieJar
	maxUpload    int64
	validator    *validator.Validate
}

func NewAuthHandler(registration *service.RegistrationService, sessions *service.SessionService, cfg *config.Config) *AuthHandler {
	return &AuthHandler{
		registration: registration,
		sessions:     sessions,
		cookies:      newCookieJar(cfg.Cookie, cfg.JWT),
		maxUpload:    cfg.Storage.MaxUploadSize,
		validator:    validator.New(),
	}
}

// Register expects a multipart form with username, email, password and
// fullName fields, a required avatar and an optional coverImage.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if err := parseMultipart(w, r, h.maxUpload, 2); err != nil {
		response.FromError(w, err)
		return
	}

	avatar, avatarFile, err := formFile(r, "avatar")
	if err != nil {
		response.FromError(w, err)
		return
	}
	cover, coverFile, err := formFile(r, "coverImage")
	if err != nil {
		closeFiles(avatarFile)
		response.FromError(w, err)
		return
	}
	defer closeFiles(avatarFile, coverFile)

	req := domain.RegisterRequest{
		Username:   r.FormValue("username"),
		Email:      r.FormValue("email"),
		Password:   r.FormValue("password"),
		FullName:   r.FormValue("fullName"),
		Avatar:     avatar,
		CoverImage: cover,
	}

	if err := h.validator.Struct(req); err != nil {
		response.FromError(w, validationError(err))
		return
	}

	user, err := h.registration.Register(r.Context(), &req)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.WithMessage(w, http.StatusCreated, user, "User registered successfully")
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := decodeJSON(r, &req, false); err != nil {
		response.FromError(w, err)
		return
	}

	if err := h.validator.Struct(req); err != nil {
		response.FromError(w, validationError(err))
		return
	}

	loginResp, err := h.sessions.Login(r.Context(), &req)
	if err != nil {
		response.FromError(w, err)
		return
	}

	h.cookies.setTokens(w, loginResp.AccessToken, loginResp.RefreshToken)
	response.WithMessage(w, http.StatusOK, loginResp, "User logged in successfully")
}

// Refresh takes the refresh token from the cookie, falling back to the JSON
// body.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var token string
	if cookie, err := r.Cookie(middleware.RefreshTokenCookie); err == nil {
		token = cookie.Value
	}

	if token == "" {
		var req domain.RefreshTokenRequest
		if err := decodeJSON(r, &req, true); err != nil {
			response.FromError(w, err)
			return
		}
		token = req.RefreshToken
	}

	pair, err := h.sessions.Refresh(r.Context(), token)
	if err != nil {
		response.FromError(w, err)
		return
	}

	h.cookies.setTokens(w, pair.AccessToken, pair.RefreshToken)
	response.WithMessage(w, http.StatusOK, pair, "Access token refreshed")
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context(), middleware.GetUserID(r)); err != nil {
		response.FromError(w, err)
		return
	}

	h.cookies.clearTokens(w)
	response.WithMessage(w, http.StatusOK, map[string]interface{}{}, "User logged out")
}

package handler

import (
	"context"
	"net/http"

	"vidtube-account-server/internal/domain"
	"vidtube-account-server/internal/middleware"
	"vidtube-account-server/internal/service"
	"vidtube-account-server/pkg/response"

	"github.com/go-playground/validator/v10"
)

type UserHandler struct {
	accounts      *service.AccountService
	subscriptions *service.SubscriptionService
	maxUpload     int64
	validator     *validator.Validate
}

func NewUserHandler(accounts *service.AccountService, subscriptions *service.SubscriptionService, maxUpload int64) *UserHandler {
	return &UserHandler{
		accounts:      accounts,
		subscriptions: subscriptions,
		maxUpload:     maxUpload,
		validator:     validator.New(),
	}
}

func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.GetMe(r.Context(), middleware.GetUserID(r))
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, user)
}

func (h *UserHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateAccountRequest
	if err := decodeJSON(r, &req, false); err != nil {
		response.FromError(w, err)
		return
	}

	if err := h.validator.Struct(req); err != nil {
		response.FromError(w, validationError(err))
		return
	}

	user, err := h.accounts.UpdateAccount(r.Context(), middleware.GetUserID(r), &req)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.WithMessage(w, http.StatusOK, user, "Account details updated")
}

func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req domain.ChangePasswordRequest
	if err := decodeJSON(r, &req, false); err != nil {
		response.FromError(w, err)
		return
	}

	if err := h.validator.Struct(req); err != nil {
		response.FromError(w, validationError(err))
		return
	}

	if err := h.accounts.ChangePassword(r.Context(), middleware.GetUserID(r), &req); err != nil {
		response.FromError(w, err)
		return
	}

	response.WithMessage(w, http.StatusOK, map[string]interface{}{}, "Password changed successfully")
}

func (h *UserHandler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	h.replaceImage(w, r, "avatar", h.accounts.UpdateAvatar)
}

func (h *UserHandler) UpdateCoverImage(w http.ResponseWriter, r *http.Request) {
	h.replaceImage(w, r, "coverImage", h.accounts.UpdateCoverImage)
}

func (h *UserHandler) replaceImage(w http.ResponseWriter, r *http.Request, field string, update func(ctx context.Context, userID string, file *domain.FileInput) (*domain.User, error)) {
	if err := parseMultipart(w, r, h.maxUpload, 1); err != nil {
		response.FromError(w, err)
		return
	}

	file, f, err := formFile(r, field)
	if err != nil {
		response.FromError(w, err)
		return
	}
	defer closeFiles(f)

	user, err := update(r.Context(), middleware.GetUserID(r), file)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.WithMessage(w, http.StatusOK, user, "Image updated successfully")
}

func (h *UserHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	channels, err := h.subscriptions.ListSubscribedChannels(r.Context(), middleware.GetUserID(r))
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, channels)
}

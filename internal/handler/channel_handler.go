package handler

import (
	"net/http"

	"vidtube-account-server/internal/middleware"
	"vidtube-account-server/internal/service"
	"vidtube-account-server/pkg/response"

	"github.com/gorilla/mux"
)

type ChannelHandler struct {
	subscriptions *service.SubscriptionService
}

func NewChannelHandler(subscriptions *service.SubscriptionService) *ChannelHandler {
	return &ChannelHandler{subscriptions: subscriptions}
}

func (h *ChannelHandler) Profile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.subscriptions.ChannelProfile(r.Context(), middleware.GetUserID(r), mux.Vars(r)["username"])
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, profile)
}

func (h *ChannelHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if err := h.subscriptions.Subscribe(r.Context(), middleware.GetUserID(r), mux.Vars(r)["username"]); err != nil {
		response.FromError(w, err)
		return
	}

	response.WithMessage(w, http.StatusOK, map[string]bool{"subscribed": true}, "Subscribed")
}

func (h *ChannelHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if err := h.subscriptions.Unsubscribe(r.Context(), middleware.GetUserID(r), mux.Vars(r)["username"]); err != nil {
		response.FromError(w, err)
		return
	}

	response.WithMessage(w, http.StatusOK, map[string]bool{"subscribed": false}, "Unsubscribed")
}

package handler

import (
	"net/http"

	"vidtube-account-server/internal/config"
	"vidtube-account-server/internal/logging"
	"vidtube-account-server/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handlers struct {
	Auth      *AuthHandler
	User      *UserHandler
	Channel   *ChannelHandler
	WebSocket *WebSocketHandler
	Health    *HealthHandler
}

// NewRouter mounts the API under /api/v1. Auth routes are rate limited;
// everything except register, login and refresh needs an access token.
func NewRouter(h Handlers, tokens middleware.AccessTokenValidator, limiter middleware.WindowCounter, cfg *config.Config, logger logging.Logger) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware(logger))
	r.Use(middleware.Metrics)
	r.Use(middleware.CORSMiddleware(cfg.CORS))

	api := r.PathPrefix("/api/v1").Subrouter()
	requireAuth := middleware.AuthMiddleware(tokens)

	auth := api.PathPrefix("/auth").Subrouter()
	auth.Use(middleware.RateLimit(limiter, cfg.RateLimit, logger))
	auth.HandleFunc("/register", h.Auth.Register).Methods("POST", "OPTIONS")
	auth.HandleFunc("/login", h.Auth.Login).Methods("POST", "OPTIONS")
	auth.HandleFunc("/refresh", h.Auth.Refresh).Methods("POST", "OPTIONS")
	auth.Handle("/logout", requireAuth(http.HandlerFunc(h.Auth.Logout))).Methods("POST", "OPTIONS")

	protected := api.PathPrefix("").Subrouter()
	protected.Use(requireAuth)

	protected.HandleFunc("/users/me", h.User.GetMe).Methods("GET", "OPTIONS")
	protected.HandleFunc("/users/me", h.User.UpdateAccount).Methods("PATCH", "OPTIONS")
	protected.HandleFunc("/users/me/password", h.User.ChangePassword).Methods("POST", "OPTIONS")
	protected.HandleFunc("/users/me/avatar", h.User.UpdateAvatar).Methods("PATCH", "OPTIONS")
	protected.HandleFunc("/users/me/cover-image", h.User.UpdateCoverImage).Methods("PATCH", "OPTIONS")
	protected.HandleFunc("/users/me/subscriptions", h.User.ListSubscriptions).Methods("GET", "OPTIONS")

	protected.HandleFunc("/channels/{username}", h.Channel.Profile).Methods("GET", "OPTIONS")
	protected.HandleFunc("/channels/{username}/subscription", h.Channel.Subscribe).Methods("POST", "OPTIONS")
	protected.HandleFunc("/channels/{username}/subscription", h.Channel.Unsubscribe).Methods("DELETE", "OPTIONS")

	r.HandleFunc("/ws", h.WebSocket.HandleConnection)
	r.HandleFunc("/health", h.Health.Health).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/", h.Health.Root).Methods("GET")

	return r
}

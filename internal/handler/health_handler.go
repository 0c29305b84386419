package handler

import (
	"context"
	"net/http"
	"time"

	"vidtube-account-server/pkg/response"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type HealthHandler struct {
	database Pinger
	cache    Pinger
	version  string
}

func NewHealthHandler(database, cache Pinger, version string) *HealthHandler {
	return &HealthHandler{database: database, cache: cache, version: version}
}

// Health is 200 while the database is reachable. The cache is reported but
// does not fail the check since rate limiting fails open.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	body := map[string]string{
		"status":   "healthy",
		"database": status(ctx, h.database),
		"cache":    status(ctx, h.cache),
	}

	code := http.StatusOK
	if body["database"] != "up" {
		body["status"] = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	response.JSON(w, code, body)
}

func status(ctx context.Context, p Pinger) string {
	if p == nil {
		return "disabled"
	}
	if err := p.Ping(ctx); err != nil {
		return "down"
	}
	return "up"
}

func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	response.Success(w, map[string]interface{}{
		"name":    "vidtube-account-server",
		"version": h.version,
		"endpoints": map[string]string{
			"auth":      "/api/v1/auth",
			"users":     "/api/v1/users",
			"channels":  "/api/v1/channels",
			"websocket": "/ws",
			"health":    "/health",
			"metrics":   "/metrics",
		},
	})
}

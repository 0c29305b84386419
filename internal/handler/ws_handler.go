package handler

import (
	"fmt"
	"net/http"
	"strings"

	"vidtube-account-server/internal/config"
	"vidtube-account-server/internal/logging"
	"vidtube-account-server/internal/middleware"
	"vidtube-account-server/internal/websocket"
	"vidtube-account-server/pkg/apperror"
	"vidtube-account-server/pkg/response"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

type WebSocketHandler struct {
	manager  *websocket.Manager
	tokens   middleware.AccessTokenValidator
	upgrader ws.Upgrader
	logger   logging.Logger
}

func NewWebSocketHandler(manager *websocket.Manager, tokens middleware.AccessTokenValidator, wsCfg config.WebSocketConfig, corsCfg config.CORSConfig, logger logging.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		manager: manager,
		tokens:  tokens,
		upgrader: ws.Upgrader{
			ReadBufferSize:  wsCfg.ReadBufferSize,
			WriteBufferSize: wsCfg.WriteBufferSize,
			CheckOrigin:     originChecker(corsCfg.AllowedOrigins),
		},
		logger: logger,
	}
}

// originChecker allows requests without an Origin header and origins on the
// CORS allow-list.
func originChecker(allowed string) func(r *http.Request) bool {
	origins := make(map[string]bool)
	for _, o := range strings.Split(allowed, ",") {
		origins[strings.TrimSpace(o)] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origins["*"] || origins[origin]
	}
}

// HandleConnection authenticates with the token query parameter, the access
// token cookie or a bearer header, then upgrades.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = middleware.AccessTokenFromRequest(r)
	}

	if token == "" {
		response.FromError(w, apperror.Unauthorized("unauthorized request"))
		return
	}

	claims, err := h.tokens.ValidateAccessToken(token)
	if err != nil {
		response.FromError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "websocket upgrade failed", "user_id", claims.UserID, "error", err)
		return
	}

	client := websocket.NewClient(uuid.New().String(), claims.UserID, conn, h.manager)
	h.manager.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

type WebSocketMessageHandler struct {
	manager *websocket.Manager
}

func NewWebSocketMessageHandler(manager *websocket.Manager) *WebSocketMessageHandler {
	return &WebSocketMessageHandler{manager: manager}
}

func (h *WebSocketMessageHandler) HandleWebSocketMessage(client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypePing:
		return h.reply(client, websocket.TypePong, nil)
	default:
		return h.reply(client, websocket.TypeError, &websocket.ErrorPayload{
			Error: fmt.Sprintf("unknown message type: %s", msg.Type),
		})
	}
}

func (h *WebSocketMessageHandler) reply(client *websocket.Client, msgType websocket.MessageType, payload interface{}) error {
	msg, err := websocket.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	return h.manager.SendToClient(client, msg)
}

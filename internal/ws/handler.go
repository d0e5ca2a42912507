package ws

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatroom/backend/internal/service"
	apperrors "chatroom/backend/pkg/errors"
	"chatroom/backend/pkg/logger"
	"chatroom/backend/pkg/middleware"
	wire "chatroom/backend/pkg/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// ChatService is the engine behind the websocket events.
type ChatService interface {
	Join(ctx context.Context, connID, username string) error
	SendMessage(ctx context.Context, connID string, cmd wire.SendMessage) error
	Disconnect(connID string)
	AdminConnected(connID string)
	DeleteMessage(ctx context.Context, adminConnID, messageID string) error
	BanUser(ctx context.Context, adminConnID, userID string) error
}

// Authenticator resolves session tokens for admin admission.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*service.Identity, error)
}

// HandlerConfig tunes websocket connections.
type HandlerConfig struct {
	MaxMessageSize int64
	SendBuffer     int
	MessageRate    float64
	MessageBurst   int
	CookieName     string
	AllowedOrigins []string
}

// Handler upgrades HTTP requests into chat connections.
type Handler struct {
	hub      *Hub
	chat     ChatService
	auth     Authenticator
	cfg      HandlerConfig
	upgrader websocket.Upgrader
	log      *logger.Logger
}

func NewHandler(hub *Hub, chat ChatService, auth Authenticator, cfg HandlerConfig, log *logger.Logger) *Handler {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if log == nil {
		log = logger.NewNop()
	}
	h := &Handler{
		hub:  hub,
		chat: chat,
		auth: auth,
		cfg:  cfg,
		log:  log.WithComponent("ws"),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	return h
}

// ServeWs admits a main namespace connection. Anyone may connect; a
// display name is chosen with the join event.
func (h *Handler) ServeWs(c *gin.Context) {
	client, ok := h.accept(c, NamespaceMain)
	if !ok {
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	go client.writePump()
	go client.readPump(ctx, h.hub, h.cfg.MaxMessageSize,
		func(ctx context.Context, data []byte) { h.dispatchMain(ctx, client, data) },
		func() { h.chat.Disconnect(client.ID) },
	)
}

// ServeAdminWs admits an admin namespace connection. The session must
// belong to an admin; anything else is refused before the upgrade.
func (h *Handler) ServeAdminWs(c *gin.Context) {
	token := middleware.TokenFromRequest(c.Request, h.cfg.CookieName)
	identity, err := h.auth.Authenticate(c.Request.Context(), token)
	if err != nil {
		logger.FromContext(c).Warn("Admin websocket refused", "error", err.Error())
		if apperrors.FromError(err).Code == apperrors.CodeInternal {
			err = apperrors.NewAuthError("Authentication required")
		}
		_ = c.Error(err)
		c.Abort()
		return
	}
	if !identity.IsAdmin {
		logger.FromContext(c).Warn("Admin websocket refused for non-admin", "user_id", identity.UserID)
		_ = c.Error(apperrors.NewForbiddenError("Admin access required"))
		c.Abort()
		return
	}

	client, ok := h.accept(c, NamespaceAdmin)
	if !ok {
		return
	}
	client.UserID = identity.UserID
	client.Username = identity.Username
	client.log = client.log.WithUserID(identity.UserID)
	client.log.Info("Admin connected", "username", identity.Username)

	h.chat.AdminConnected(client.ID)

	ctx := context.WithoutCancel(c.Request.Context())
	go client.writePump()
	go client.readPump(ctx, h.hub, h.cfg.MaxMessageSize,
		func(ctx context.Context, data []byte) { h.dispatchAdmin(ctx, client, data) },
		nil,
	)
}

func (h *Handler) accept(c *gin.Context, namespace string) (*Client, bool) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logger.FromContext(c).Warn("Websocket upgrade failed", "error", err.Error())
		return nil, false
	}

	var limiter *rate.Limiter
	if h.cfg.MessageRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.cfg.MessageRate), h.cfg.MessageBurst)
	}

	client := newClient(conn, namespace, h.cfg.SendBuffer, limiter, logger.FromContext(c))
	if !h.hub.Register(client) {
		conn.Close()
		return nil, false
	}
	client.log.Debug("Websocket connection established")
	return client, true
}

func (h *Handler) dispatchMain(ctx context.Context, client *Client, data []byte) {
	cmd, ok := h.parse(client, data)
	if !ok {
		return
	}

	var err error
	switch cmd := cmd.(type) {
	case wire.Join:
		err = h.chat.Join(ctx, client.ID, cmd.Username)
	case wire.SendMessage:
		err = h.chat.SendMessage(ctx, client.ID, cmd)
	default:
		h.hub.Send(client.ID, wire.Error{Message: "Not permitted"})
		return
	}
	h.logResult(client, cmd, err)
}

func (h *Handler) dispatchAdmin(ctx context.Context, client *Client, data []byte) {
	cmd, ok := h.parse(client, data)
	if !ok {
		return
	}

	var err error
	switch cmd := cmd.(type) {
	case wire.DeleteMessage:
		err = h.chat.DeleteMessage(ctx, client.ID, cmd.MessageID)
	case wire.BanUser:
		err = h.chat.BanUser(ctx, client.ID, cmd.UserID)
	default:
		h.hub.Send(client.ID, wire.Error{Message: "Not permitted"})
		return
	}
	h.logResult(client, cmd, err)
}

func (h *Handler) parse(client *Client, data []byte) (wire.Command, bool) {
	if !client.allow() {
		h.hub.Send(client.ID, wire.Error{Message: "Too many messages, slow down"})
		return nil, false
	}

	cmd, err := wire.ParseCommand(data)
	if err != nil {
		client.log.Warn("Rejected inbound event", "error", err.Error())
		msg := "Malformed event"
		if errors.Is(err, wire.ErrUnknownEvent) {
			msg = "Unknown event"
		}
		h.hub.Send(client.ID, wire.Error{Message: msg})
		return nil, false
	}
	return cmd, true
}

// logResult records handler failures; the client was already told.
func (h *Handler) logResult(client *Client, cmd wire.Command, err error) {
	if err == nil {
		return
	}
	client.log.Debug("Event handling failed",
		"type", cmd.Type(),
		"code", apperrors.GetErrorCode(err),
		"error", err.Error(),
	)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

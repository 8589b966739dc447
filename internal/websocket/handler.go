package websocket

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"cardtable/internal/apperror"
	"cardtable/pkg/interfaces"
	"cardtable/pkg/types"
)

// Authenticator binds a connection id to the user named by a bearer token.
type Authenticator interface {
	Authenticate(connID, token string) (string, error)
}

// EventDispatcher consumes inbound frames. Dispatch is called sequentially
// per connection, in arrival order, between Connected and Disconnected.
type EventDispatcher interface {
	Connected(connID, userID string)
	Dispatch(ctx context.Context, conn interfaces.Connection, data []byte)
	Disconnected(connID, userID string)
}

// HandlerConfig holds the heartbeat timings and upgrade settings.
type HandlerConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	MaxMessageSize int64         `json:"max_message_size"`
	AllowedOrigins []string      `json:"allowed_origins"` // empty allows any origin
}

func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

// Handler upgrades authenticated requests on GET /ws and pumps their frames
// into the dispatcher.
type Handler struct {
	registry   *Registry
	auth       Authenticator
	dispatcher EventDispatcher
	config     HandlerConfig
	log        *logrus.Entry
	upgrader   websocket.Upgrader

	// OnOpen and OnClose, if set, observe connection lifecycle.
	OnOpen  func()
	OnClose func()
}

func NewHandler(registry *Registry, auth Authenticator, dispatcher EventDispatcher, cfg HandlerConfig, log *logrus.Entry) *Handler {
	defaults := DefaultHandlerConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}

	h := &Handler{
		registry:   registry,
		auth:       auth,
		dispatcher: dispatcher,
		config:     cfg,
		log:        log,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ServeHTTP authenticates before upgrading, so a bad token gets a plain 401
// and never opens a socket.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	}
	if token == "" {
		apperror.WriteHTTP(w, apperror.Unauthenticated("missing token"))
		return
	}

	connID := uuid.New().String()
	userID, err := h.auth.Authenticate(connID, token)
	if err != nil {
		apperror.WriteHTTP(w, err)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).WithField("user_id", userID).Warn("websocket upgrade failed")
		h.dispatcher.Disconnected(connID, userID)
		return
	}

	conn := newConnectionWithID(ws, connID, userID)
	if err := h.registry.Register(conn); err != nil {
		h.log.WithError(err).Error("failed to register connection")
		_ = conn.Close()
		h.dispatcher.Disconnected(connID, userID)
		return
	}
	h.dispatcher.Connected(connID, userID)
	if h.OnOpen != nil {
		h.OnOpen()
	}

	log := h.log.WithFields(logrus.Fields{"conn_id": connID, "user_id": userID})
	log.Info("websocket connected")

	if err := conn.WriteJSON(&types.Event{
		Name: types.EventConnectionSuccess,
		Data: map[string]interface{}{"message": "Connected", "user_id": userID},
	}); err != nil {
		log.WithError(err).Warn("failed to send connection_success")
	}

	go h.handleConnection(conn, log)
}

// handleConnection runs the read pump and heartbeat until the peer goes away.
func (h *Handler) handleConnection(conn *Connection, log *logrus.Entry) {
	defer func() {
		h.registry.Unregister(conn)
		_ = conn.Close()
		if h.OnClose != nil {
			h.OnClose()
		}
		log.Info("websocket disconnected")
		h.dispatcher.Disconnected(conn.ID(), conn.UserID())
	}()

	ws := conn.conn
	ws.SetReadLimit(h.config.MaxMessageSize)
	if err := ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Debug("websocket read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.dispatcher.Dispatch(conn.ctx, conn, data)
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}

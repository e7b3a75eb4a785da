package websocket

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"classlens/pkg/interfaces"
	"classlens/pkg/types"
)

// Authenticator resolves the caller of an upgrade request
type Authenticator interface {
	Authenticate(r *http.Request) (types.Identity, error)
}

// EventSink receives inbound frames and disconnects in per-connection order
// ARCHITECTURAL DISCOVERY: The handler never interprets frames itself, the
// hub loop owns all presence state transitions
type EventSink interface {
	Submit(connectionID string, identity types.Identity, frame []byte) error
	Disconnect(connectionID string) error
}

// Handler upgrades presence channel requests and pumps their frames into the hub
type Handler struct {
	registry *Registry
	auth     Authenticator
	sink     EventSink
	opts     Options
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a new WebSocket handler with dependency injection
// FUNCTIONAL DISCOVERY: An empty allowedOrigins list accepts any origin,
// which matches local development where the UI runs on another port
func NewHandler(registry *Registry, auth Authenticator, sink EventSink, opts Options, allowedOrigins []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}

	return &Handler{
		registry: registry,
		auth:     auth,
		sink:     sink,
		opts:     opts.withDefaults(),
		logger:   logger,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				_, ok := origins[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

// HandleWebSocket authenticates, upgrades and starts the connection pumps
// ARCHITECTURAL DISCOVERY: Authentication happens before the upgrade so
// rejected callers get a plain HTTP status instead of a dropped socket
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, err := h.auth.Authenticate(r)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, interfaces.ErrForbidden) {
			status = http.StatusForbidden
		}
		http.Error(w, "authentication required", status)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "account_id", identity.AccountID)
		return
	}

	conn := NewConnection(ws, uuid.NewString(), identity, h.opts)
	if err := h.registry.RegisterConnection(conn); err != nil {
		h.logger.Error("failed to register connection", "error", err, "connection_id", conn.ID())
		_ = conn.Close()
		return
	}

	h.logger.Info("presence connection opened",
		"connection_id", conn.ID(),
		"account_id", identity.AccountID,
		"role", identity.Role)

	go h.handleConnection(conn)
}

// handleConnection runs the read pump and heartbeat for one connection
// TECHNICAL DISCOVERY: read deadline with ping interval at half of it gives
// the transport's own disconnect detection, which then drives roster cleanup
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		// Disconnect is queued behind every frame this connection already submitted
		if err := h.sink.Disconnect(conn.ID()); err != nil {
			h.logger.Warn("failed to queue disconnect", "error", err, "connection_id", conn.ID())
		}
		h.registry.UnregisterConnection(conn)
		_ = conn.Close()
		h.logger.Info("presence connection closed", "connection_id", conn.ID())
	}()

	ws := conn.conn
	if h.opts.MaxFrameSize > 0 {
		ws.SetReadLimit(h.opts.MaxFrameSize)
	}
	if err := ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", "error", err, "connection_id", conn.ID())
			}
			return
		}
		if err := ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
			return
		}

		if messageType != websocket.TextMessage {
			h.logger.Warn("dropping non-text frame", "connection_id", conn.ID())
			continue
		}

		if err := h.sink.Submit(conn.ID(), conn.Identity(), data); err != nil {
			h.logger.Warn("failed to submit frame", "error", err, "connection_id", conn.ID())
			return
		}
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.opts.WriteTimeout)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}

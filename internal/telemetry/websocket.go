package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"sdfmover/engine/internal/logging"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultWriteWait    = 10 * time.Second
)

// WebsocketOption customises a WebsocketHandler.
type WebsocketOption func(*WebsocketHandler)

// WithKeepalive overrides the ping cadence and how long a peer may stay silent.
func WithKeepalive(pingInterval, pongWait time.Duration) WebsocketOption {
	return func(h *WebsocketHandler) {
		if pingInterval > 0 {
			h.pingInterval = pingInterval
		}
		if pongWait > 0 {
			h.pongWait = pongWait
		}
	}
}

// WebsocketHandler streams protojson snapshots to websocket clients.
type WebsocketHandler struct {
	hub          *Hub
	log          *logging.Logger
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	pongWait     time.Duration
	writeWait    time.Duration
}

// NewWebsocketHandler builds a handler publishing from hub.
func NewWebsocketHandler(hub *Hub, logger *logging.Logger, opts ...WebsocketOption) *WebsocketHandler {
	if logger == nil {
		logger = logging.L()
	}
	h := &WebsocketHandler{
		hub:          hub,
		log:          logger.With(logging.String("component", "telemetry_ws")),
		upgrader:     websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		pingInterval: defaultPingInterval,
		pongWait:     defaultPongWait,
		writeWait:    defaultWriteWait,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// ServeHTTP upgrades the request and blocks until the client goes away.
func (h *WebsocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logging.Error(err), logging.String("remote", r.RemoteAddr))
		return
	}
	defer conn.Close()
	logger := h.log.With(logging.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	snapshots, unsubscribe := h.hub.Subscribe(ctx)
	defer unsubscribe()
	logger.Info("websocket subscriber connected")

	//1.- The reader only keeps the deadline fresh; inbound messages are ignored.
	go func() {
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(h.pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("websocket subscriber disconnected")
			return
		case snapshot, ok := <-snapshots:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(h.writeWait))
				return
			}
			payload, err := snapshot.MarshalProtoJSON()
			if err != nil {
				logger.Error("encode snapshot failed", logging.Error(err), logging.Uint64("tick", snapshot.Tick))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Warn("websocket write failed", logging.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeWait)); err != nil {
				logger.Warn("websocket ping failed", logging.Error(err))
				return
			}
		}
	}
}

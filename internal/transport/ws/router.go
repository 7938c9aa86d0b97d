package ws

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voicegate-server-go/internal/platform/logging"
)

// HandlerBuilder creates the protocol handler for an upgraded
// connection.
type HandlerBuilder func(conn *Connection, req *http.Request) (SessionHandler, error)

// RouterOptions tunes the upgrade path.
type RouterOptions struct {
	HandshakeTimeout time.Duration
	CheckOrigin      func(r *http.Request) bool
}

// Router upgrades HTTP requests into websocket call sessions and hands
// them to the hub.
type Router struct {
	hub    *Hub
	logger *logging.Logger

	upgrader         websocket.Upgrader
	handshakeTimeout time.Duration
	builder          atomic.Pointer[HandlerBuilder]
}

func NewRouter(hub *Hub, logger *logging.Logger, opts RouterOptions) *Router {
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		// Phone gateways connect from arbitrary origins.
		checkOrigin = func(*http.Request) bool { return true }
	}
	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Router{
		hub:              hub,
		logger:           logger,
		upgrader:         websocket.Upgrader{CheckOrigin: checkOrigin},
		handshakeTimeout: timeout,
	}
}

// SetHandlerBuilder installs the protocol handler factory. Upgrades
// before this is called are refused.
func (r *Router) SetHandlerBuilder(builder HandlerBuilder) {
	r.builder.Store(&builder)
}

// Handle upgrades one request and runs its session until the client
// goes away.
func (r *Router) Handle(w http.ResponseWriter, req *http.Request) {
	builderPtr := r.builder.Load()
	if builderPtr == nil {
		http.Error(w, "transport not ready", http.StatusServiceUnavailable)
		return
	}

	handshakeCtx, cancel := context.WithTimeoutCause(req.Context(), r.handshakeTimeout, ErrHandshakeTimeout)
	defer cancel()

	sock, err := r.upgrader.Upgrade(w, req.WithContext(handshakeCtx), nil)
	if err != nil {
		r.logger.WarnTag("WS", "upgrade failed from %s: %v", req.RemoteAddr, err)
		return
	}

	conn := NewConnection(connectionID(req), sock)
	r.logger.InfoTag("WS", "connected: %s from %s", conn.ID(), req.RemoteAddr)

	handler, err := (*builderPtr)(conn, req)
	if err != nil || handler == nil {
		r.logger.ErrorTag("WS", "handler setup failed for %s: %v", conn.ID(), err)
		_ = conn.Close()
		return
	}

	// The session outlives the upgrade request, so it cannot inherit
	// the request context's cancellation.
	session := NewSession(context.WithoutCancel(handshakeCtx), handler, conn, r.logger)
	r.hub.Register(session)
	go session.Run(func() {
		r.hub.Unregister(session.ID())
		r.logger.InfoTag("WS", "disconnected: %s", session.ID())
	})
}

// connectionID prefers an id the client pins across reconnects.
func connectionID(req *http.Request) string {
	if id := req.Header.Get("Client-Id"); id != "" {
		return id
	}
	if id := req.URL.Query().Get("client-id"); id != "" {
		return id
	}
	return uuid.NewString()
}

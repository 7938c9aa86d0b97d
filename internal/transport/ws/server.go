package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"voicegate-server-go/internal/platform/logging"
)

// ServerConfig locates the websocket listener.
type ServerConfig struct {
	Addr             string
	Path             string
	HandshakeTimeout time.Duration
}

// Server is the inbound call transport: an HTTP listener whose only
// route upgrades to the websocket call protocol.
type Server struct {
	cfg    ServerConfig
	router *Router
	hub    *Hub
	logger *logging.Logger
	srv    *http.Server
}

func NewServer(cfg ServerConfig, router *Router, hub *Hub, logger *logging.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, router.Handle)
	return &Server{
		cfg:    cfg,
		router: router,
		hub:    hub,
		logger: logger,
		srv:    &http.Server{Addr: cfg.Addr, Handler: mux},
	}
}

// SetHandlerBuilder wires protocol handler construction into the
// router. Must be called before traffic arrives.
func (s *Server) SetHandlerBuilder(builder HandlerBuilder) {
	s.router.SetHandlerBuilder(builder)
}

// Start listens until the server is stopped or ctx ends. Cancelling ctx
// begins a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	if ctx != nil {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			_ = s.srv.Shutdown(shutdownCtx)
		}()
	}

	s.logger.InfoTag("WS", "listening on %s%s", s.cfg.Addr, s.cfg.Path)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the listener down and terminates live connections.
func (s *Server) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	err := s.srv.Shutdown(shutdownCtx)
	s.hub.CloseAll(ErrServerShutdown)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Count reports live websocket connections.
func (s *Server) Count() int {
	return s.hub.Count()
}

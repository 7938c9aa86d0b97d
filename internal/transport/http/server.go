package httptransport

import (
	"context"
	"net/http"
	"time"

	"voicegate-server-go/internal/platform/logging"
)

const shutdownTimeout = 5 * time.Second

// Server hosts the control surface on its own listener, separate from
// the websocket transport.
type Server struct {
	addr    string
	router  *Router
	logger  *logging.Logger
	httpSrv *http.Server
}

// NewServer wraps a built router in an HTTP server.
func NewServer(addr string, router *Router, logger *logging.Logger) *Server {
	return &Server{
		addr:   addr,
		router: router,
		logger: logger,
	}
}

// Start blocks serving requests until the context ends or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	if s.httpSrv != nil {
		return nil
	}

	s.httpSrv = &http.Server{
		Addr:    s.addr,
		Handler: s.router.Engine,
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = s.httpSrv.Shutdown(shutdownCtx)
		}()
	}

	if s.logger != nil {
		s.logger.InfoTag("HTTP", "listening on %s", s.addr)
	}

	err := s.httpSrv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	if s.httpSrv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
		return err
	}
	s.httpSrv = nil
	return nil
}

package ws

import (
	"context"
	"sync"
	"time"

	"voicegate-server-go/internal/platform/logging"
)

const closeTimeout = 5 * time.Second

// SessionHandler speaks the application protocol over one connection.
type SessionHandler interface {
	Handle()
	Close()
	ID() string
}

// Session ties a connection to its protocol handler and owns the
// shutdown ordering: cancel the context, stop the handler, drop the
// socket.
type Session struct {
	id      string
	handler SessionHandler
	conn    *Connection
	logger  *logging.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc
	once   sync.Once
}

// NewSession binds a handler to its connection under the given parent
// context.
func NewSession(parent context.Context, handler SessionHandler, conn *Connection, logger *logging.Logger) *Session {
	ctx, cancel := context.WithCancelCause(parent)
	return &Session{
		id:      handler.ID(),
		handler: handler,
		conn:    conn,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ID is the transport connection identifier.
func (s *Session) ID() string { return s.id }

// Context ends when the session closes.
func (s *Session) Context() context.Context { return s.ctx }

// Run blocks in the handler's read loop, then tears the session down
// and reports completion.
func (s *Session) Run(onDone func()) {
	defer func() {
		s.Close(nil)
		if onDone != nil {
			onDone()
		}
	}()
	s.handler.Handle()
}

// Close terminates the session. A handler that does not stop within
// closeTimeout is abandoned; the socket is dropped regardless.
func (s *Session) Close(reason error) {
	s.once.Do(func() {
		if reason == nil {
			reason = ErrServerShutdown
		}
		s.cancel(reason)

		done := make(chan struct{})
		go func() {
			s.handler.Close()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(closeTimeout):
			s.logger.WarnTag("WS", "handler close timed out for %s", s.id)
		}

		if err := s.conn.Close(); err != nil {
			s.logger.WarnTag("WS", "socket close failed for %s: %v", s.id, err)
		}
	})
}

package ws

import (
	"sync"

	"voicegate-server-go/internal/platform/logging"
)

// Hub tracks live transport sessions so shutdown can terminate every
// connected client.
type Hub struct {
	logger *logging.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Register adds a session under its connection id.
func (h *Hub) Register(s *Session) {
	if s == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.ID()] = s
}

// Unregister forgets a finished session.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, id)
}

// CloseAll terminates every live session with the given reason. Closing
// happens outside the lock because Session.Close can block up to its
// handler timeout.
func (h *Hub) CloseAll(reason error) {
	h.mu.Lock()
	victims := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		victims = append(victims, s)
	}
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	if len(victims) > 0 {
		h.logger.InfoTag("WS", "closing %d live connections", len(victims))
	}
	for _, s := range victims {
		s.Close(reason)
	}
}

// Count reports live connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

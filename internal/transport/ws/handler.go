package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voicegate-server-go/internal/audio"
	"voicegate-server-go/internal/callsession"
	"voicegate-server-go/internal/pipeline"
	"voicegate-server-go/internal/platform/errors"
	"voicegate-server-go/internal/platform/logging"
)

// NewHandlerBuilder wires call handlers into the router.
func NewHandlerBuilder(arena *callsession.Arena, logger *logging.Logger) HandlerBuilder {
	return func(conn *Connection, req *http.Request) (SessionHandler, error) {
		return NewCallHandler(arena, conn, logger), nil
	}
}

// CallHandler speaks the wire protocol over one websocket connection:
// it owns the read loop, binds the connection to a call session on
// hello, and forwards pipeline events back to the client.
type CallHandler struct {
	arena  *callsession.Arena
	conn   *Connection
	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Touched only from the read loop.
	session      *callsession.Session
	clientClosed bool
}

// NewCallHandler builds a handler for a freshly upgraded connection.
func NewCallHandler(arena *callsession.Arena, conn *Connection, logger *logging.Logger) *CallHandler {
	ctx, cancel := context.WithCancel(context.Background())
	return &CallHandler{
		arena:  arena,
		conn:   conn,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the connection identifier.
func (h *CallHandler) ID() string { return h.conn.ID() }

// Close unblocks the event forwarder. The session wrapper closes the
// connection afterwards, which ends the read loop.
func (h *CallHandler) Close() {
	h.cancel()
}

// Handle runs the read loop until the client disconnects or closes the
// call. A disconnect without an explicit close leaves the call session
// in its reconnect grace window.
func (h *CallHandler) Handle() {
	defer h.teardown()

	for {
		msgType, payload, err := h.conn.ReadMessage()
		if err != nil {
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			h.handleBinary(payload)
		case websocket.TextMessage:
			if done := h.handleText(payload); done {
				return
			}
		}
	}
}

func (h *CallHandler) teardown() {
	if h.clientClosed {
		// The event stream is already closed; let the forwarder drain
		// it and deliver the goodbye frame before cancelling.
		h.wg.Wait()
	}
	h.cancel()
	h.wg.Wait()
	if h.session != nil && !h.clientClosed {
		h.arena.Detach(h.session.ID())
	}
}

// handleBinary treats the payload as one raw audio chunk in the format
// negotiated at hello. Sequence numbers are assigned server-side.
func (h *CallHandler) handleBinary(payload []byte) {
	if h.session == nil {
		h.writeError(errors.KindSession, "audio before hello")
		return
	}

	chunk := &audio.Chunk{
		CallID:    h.session.ID(),
		Sequence:  h.session.NextSeq(),
		Timestamp: time.Now(),
		Format:    h.session.Format(),
		Data:      payload,
	}
	if err := h.session.Process(h.ctx, chunk); err != nil {
		h.writeError(errors.KindOf(err), err.Error())
	}
}

func (h *CallHandler) handleText(payload []byte) bool {
	var msg Inbound
	if err := sonic.Unmarshal(payload, &msg); err != nil {
		h.writeError(errors.KindInvalid, "malformed message: "+err.Error())
		return false
	}

	switch msg.Type {
	case TypeHello:
		h.handleHello(&msg)
	case TypeAudio:
		h.handleAudio(&msg)
	case TypeHeartbeat:
		if h.session != nil {
			h.session.Heartbeat()
		}
		_ = h.conn.WriteJSON(Outbound{Type: TypeHeartbeatAck})
	case TypeClose:
		return h.handleClose(&msg)
	default:
		h.writeError(errors.KindInvalid, "unknown message type: "+msg.Type)
	}
	return false
}

func (h *CallHandler) handleHello(msg *Inbound) {
	if h.session != nil {
		h.writeError(errors.KindSession, "hello already received")
		return
	}

	var (
		session *callsession.Session
		err     error
	)
	if msg.Reconnect {
		session, err = h.arena.Attach(msg.CallID)
	} else {
		session, err = h.createCall(msg)
	}
	if err != nil {
		h.writeError(errors.KindOf(err), err.Error())
		return
	}

	h.session = session
	h.wg.Add(1)
	go h.forwardEvents(session.Call())

	_ = h.conn.WriteJSON(Outbound{
		Type:   TypeAck,
		CallID: session.ID(),
		State:  string(session.State()),
	})
}

func (h *CallHandler) createCall(msg *Inbound) (*callsession.Session, error) {
	if msg.Format == nil || !msg.Format.Valid() {
		return nil, errors.New(errors.KindInvalid, "ws.hello", "hello requires a valid audio format")
	}

	callID := msg.CallID
	if callID == "" {
		callID = uuid.NewString()
	}

	session, err := h.arena.Create(callID, *msg.Format)
	if err != nil {
		return nil, err
	}
	if err := session.Initialize(); err != nil {
		h.arena.Close(callID, "setup failed")
		return nil, err
	}
	if err := session.Activate(); err != nil {
		h.arena.Close(callID, "setup failed")
		return nil, err
	}
	return session, nil
}

// handleAudio accepts audio wrapped in a JSON frame for clients that
// number their own chunks. Stale sequence numbers are dropped by the
// pipeline, which makes client-side retries after a reconnect safe.
func (h *CallHandler) handleAudio(msg *Inbound) {
	if h.session == nil {
		h.writeError(errors.KindSession, "audio before hello")
		return
	}

	format := h.session.Format()
	if msg.Format != nil {
		format = *msg.Format
	}
	seq := msg.Sequence
	if seq == 0 {
		seq = h.session.NextSeq()
	}
	ts := time.Now()
	if msg.Timestamp > 0 {
		ts = time.UnixMilli(msg.Timestamp)
	}

	chunk := &audio.Chunk{
		CallID:    h.session.ID(),
		Sequence:  seq,
		Timestamp: ts,
		Format:    format,
		Data:      msg.Data,
	}
	if err := h.session.Process(h.ctx, chunk); err != nil {
		h.writeError(errors.KindOf(err), err.Error())
	}
}

func (h *CallHandler) handleClose(msg *Inbound) bool {
	if h.session == nil {
		return true
	}

	h.clientClosed = true
	reason := msg.Reason
	if reason == "" {
		reason = "client close"
	}
	h.arena.Close(h.session.ID(), reason)
	return true
}

// forwardEvents pumps the pipeline's outbound stream to the client.
// Reply audio goes out as binary frames, everything else as JSON. When
// the event stream closes the server says goodbye and drops the
// connection.
func (h *CallHandler) forwardEvents(call *pipeline.Call) {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return
		case ev, ok := <-call.Events():
			if !ok {
				_ = h.conn.WriteJSON(Outbound{Type: TypeClosed, CallID: call.ID()})
				_ = h.conn.Close()
				return
			}
			if err := h.writeEvent(call.ID(), ev); err != nil {
				return
			}
		}
	}
}

func (h *CallHandler) writeEvent(callID string, ev pipeline.Event) error {
	switch ev.Kind {
	case pipeline.EventAudio:
		return h.conn.WriteMessage(websocket.BinaryMessage, ev.Audio)
	case pipeline.EventPartial:
		return h.conn.WriteJSON(Outbound{Type: TypePartial, CallID: callID, Transcript: ev.Transcript})
	case pipeline.EventFinal:
		return h.conn.WriteJSON(Outbound{Type: TypeFinal, CallID: callID, Transcript: ev.Transcript})
	case pipeline.EventStatus:
		return h.conn.WriteJSON(Outbound{
			Type:       TypeStatus,
			CallID:     callID,
			Status:     ev.Status,
			QueueDepth: h.session.Backlog(),
		})
	case pipeline.EventTurn:
		return h.conn.WriteJSON(Outbound{Type: TypeTurn, CallID: callID, Turn: ev.Turn})
	}
	return nil
}

func (h *CallHandler) writeError(kind errors.Kind, message string) {
	_ = h.conn.WriteJSON(Outbound{Type: TypeError, Kind: string(kind), Message: message})
}

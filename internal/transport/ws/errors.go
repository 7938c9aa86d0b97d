package ws

import "errors"

var (
	// ErrHandshakeTimeout is the cancel cause when a client stalls the
	// websocket upgrade.
	ErrHandshakeTimeout = errors.New("websocket handshake timed out")

	// ErrServerShutdown is the close reason handed to live call
	// connections when the transport stops.
	ErrServerShutdown = errors.New("server shutting down")
)

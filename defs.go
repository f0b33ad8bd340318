package chatIO

import "errors"

// ConnectionType is derived once from the server URL scheme.
type ConnectionType byte

const (
	CONNECTION_HTTP ConnectionType = iota
	CONNECTION_WEBSOCKET
)

func (t ConnectionType) String() string {
	if t == CONNECTION_WEBSOCKET {
		return "websocket"
	}
	return "http"
}

// ApiStrategy is the wire strategy a Client currently speaks.
type ApiStrategy byte

const (
	STRATEGY_CORS ApiStrategy = iota
	STRATEGY_JSONP
	STRATEGY_WEBSOCKET
	STRATEGY_OFFLINE
)

func (s ApiStrategy) String() string {
	switch s {
	case STRATEGY_CORS:
		return "cors"
	case STRATEGY_JSONP:
		return "jsonp"
	case STRATEGY_WEBSOCKET:
		return "websocket"
	case STRATEGY_OFFLINE:
		return "offline"
	}
	return "unknown"
}

const (
	// SessionKeyName is the single key persisted by every SessionStore.
	SessionKeyName = "chat_session_key"

	pathHandshake = "/api/handshake"
	pathMessages  = "/api/messages"
	pathWebsocket = "/ws"
)

var ErrSocketClosed = errors.New("Socket closed")
var ErrTimeout = errors.New("TIMEOUT_ERROR")
var ErrCORS = errors.New("CORS_ERROR")
var ErrHTTPStatus = errors.New("HTTP status error")
var ErrProtocolMismatch = errors.New("protocol mismatch")
var ErrReconnectExhausted = errors.New("websocket reconnect attempts exhausted")
var ErrNoReply = errors.New("jsonp reply never arrived")
var ErrHandshakeFailed = errors.New("handshake failed")
var ErrMessageNotSupported = errors.New("message not supported")
var ErrParsingConfig = errors.New("failed to parse config")

package chatIO

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/websocket"
)

var frameCodec = websocket.Codec{Marshal: frameMarshal, Unmarshal: frameUnmarshal}

func frameMarshal(v interface{}) (msg []byte, payloadType byte, err error) {
	msg, err = json.Marshal(v)
	if err != nil {
		return nil, websocket.UnknownFrame, err
	}
	return msg, websocket.TextFrame, nil
}

func frameUnmarshal(msg []byte, payloadType byte, v interface{}) (err error) {
	if payloadType != websocket.TextFrame {
		return &TransportError{Kind: KIND_PROTOCOL, Err: ErrMessageNotSupported}
	}
	if err := json.Unmarshal(msg, v); err != nil {
		return &TransportError{Kind: KIND_PROTOCOL, Err: err}
	}
	return nil
}

// wsConn is the part of a socket the transport needs.
type wsConn interface {
	Send(env *Outbound) error
	Receive(in *Inbound) error
	Close() error
}

type wsDialer func(ctx context.Context) (wsConn, error)

type socketConn struct {
	*websocket.Conn
}

func (c socketConn) Send(env *Outbound) error {
	return frameCodec.Send(c.Conn, env)
}

func (c socketConn) Receive(in *Inbound) error {
	return frameCodec.Receive(c.Conn, in)
}

// dialWebsocket dials serverURL with an origin derived from its host.
func dialWebsocket(serverURL string) wsDialer {
	return func(ctx context.Context) (wsConn, error) {
		u, err := url.Parse(serverURL)
		if err != nil {
			return nil, err
		}

		origin := "http://" + u.Host + "/"
		if u.Scheme == "wss" {
			origin = "https://" + u.Host + "/"
		}

		config, err := websocket.NewConfig(serverURL, origin)
		if err != nil {
			return nil, err
		}

		conn, err := config.DialContext(ctx)
		if err != nil {
			return nil, err
		}
		return socketConn{conn}, nil
	}
}

type socketState byte

const (
	_SOCKET_DISCONNECTED socketState = iota
	_SOCKET_CONNECTING
	_SOCKET_OPEN
	_SOCKET_RECONNECTING
	_SOCKET_EXHAUSTED
)

// queueEntry.reply is nil for frames the server does not answer.
type queueEntry struct {
	env   *Outbound
	reply *replyHandler
}

type pendingDial struct {
	done chan struct{}
	err  error
}

type transportWebsocket struct {
	dial        wsDialer
	events      *Events
	log         zerolog.Logger
	timeout     time.Duration
	maxAttempts int
	baseDelay   time.Duration
	afterFunc   func(d time.Duration, f func()) (stop func() bool)

	// writeMtx serializes writes and is always taken before mtx
	writeMtx sync.Mutex
	mtx      sync.Mutex

	state        socketState
	conn         wsConn
	attempts     int
	dialing      *pendingDial
	queue        []queueEntry
	responders   []*replyHandler
	handshakes   []chan *Inbound
	subscriber   *replyHandler
	stopTimer    func() bool
	disconnected bool

	ctx       context.Context
	ctxCancel context.CancelFunc
}

func newTransportWebsocket(parent context.Context, dial wsDialer, events *Events, log zerolog.Logger, config Config) *transportWebsocket {
	ctx, cancel := context.WithCancel(parent)
	return &transportWebsocket{
		dial:        dial,
		events:      events,
		log:         log,
		timeout:     config.Timeout,
		maxAttempts: config.MaxReconnectAttempts,
		baseDelay:   config.ReconnectDelay,
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		ctx:       ctx,
		ctxCancel: cancel,
	}
}

// open is idempotent: callers arriving while a dial is in flight share it.
func (ws *transportWebsocket) open(ctx context.Context) error {
	ws.mtx.Lock()
	switch {
	case ws.disconnected:
		ws.mtx.Unlock()
		return ErrSocketClosed

	case ws.state == _SOCKET_EXHAUSTED:
		ws.mtx.Unlock()
		return ErrReconnectExhausted

	case ws.state == _SOCKET_OPEN:
		ws.mtx.Unlock()
		return nil
	}

	if ws.dialing == nil {
		ws.dialing = &pendingDial{done: make(chan struct{})}
		ws.state = _SOCKET_CONNECTING
		go ws.dialOnce(ws.dialing)
	}
	p := ws.dialing
	ws.mtx.Unlock()

	select {
	case <-p.done:
		return p.err

	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ws *transportWebsocket) dialOnce(p *pendingDial) {
	defer close(p.done)

	conn, err := ws.dial(ws.ctx)
	if err != nil {
		ws.log.Warn().Err(err).Msg("websocket: dial failed")
		p.err = &TransportError{Kind: KIND_SOCKET, Err: err}

		// leave CONNECTING for RECONNECTING under one lock so no sender
		// dials around the backoff
		ws.mtx.Lock()
		ws.dialing = nil
		if ws.state == _SOCKET_CONNECTING {
			ws.state = _SOCKET_DISCONNECTED
		}
		ws.scheduleReconnectLocked()
		ws.mtx.Unlock()
		return
	}

	ws.writeMtx.Lock()
	defer ws.writeMtx.Unlock()

	ws.mtx.Lock()
	ws.dialing = nil
	if ws.disconnected {
		ws.mtx.Unlock()
		conn.Close()
		p.err = ErrSocketClosed
		return
	}

	ws.conn = conn
	ws.state = _SOCKET_OPEN
	ws.attempts = 0
	queue := ws.queue
	ws.queue = nil
	for _, entry := range queue {
		if entry.reply != nil {
			ws.responders = append(ws.responders, entry.reply)
		}
	}
	ws.mtx.Unlock()

	go ws.readLoop(conn)

	for i, entry := range queue {
		if err := conn.Send(entry.env); err != nil {
			ws.log.Warn().Err(err).Int("unsent", len(queue)-i).Msg("websocket: flush failed")
			ws.requeue(queue[i:])
			conn.Close()
			return
		}
	}
	ws.log.Debug().Int("flushed", len(queue)).Msg("websocket: open")
}

// requeue puts unsent entries back in front of the queue.
func (ws *transportWebsocket) requeue(entries []queueEntry) {
	ws.mtx.Lock()
	defer ws.mtx.Unlock()

	for _, entry := range entries {
		if entry.reply != nil {
			ws.removeResponder(entry.reply)
		}
	}
	ws.queue = append(append([]queueEntry{}, entries...), ws.queue...)
}

func (ws *transportWebsocket) removeResponder(r *replyHandler) {
	for i, candidate := range ws.responders {
		if candidate == r {
			ws.responders = append(ws.responders[:i], ws.responders[i+1:]...)
			return
		}
	}
}

func (ws *transportWebsocket) readLoop(conn wsConn) {
	for {
		in := &Inbound{}
		if err := conn.Receive(in); err != nil {
			if errors.Is(err, ErrProtocolMismatch) {
				ws.log.Warn().Err(err).Msg("websocket: malformed frame")
				continue
			}
			ws.onClosed(conn, err)
			return
		}
		ws.dispatch(in)
	}
}

func (ws *transportWebsocket) dispatch(in *Inbound) {
	switch in.Type {
	case ENVELOPE_HANDSHAKE:
		ws.mtx.Lock()
		if len(ws.handshakes) == 0 {
			ws.mtx.Unlock()
			ws.log.Debug().Msg("websocket: unexpected handshake frame")
			return
		}
		waiter := ws.handshakes[0]
		ws.handshakes = ws.handshakes[1:]
		ws.mtx.Unlock()
		waiter <- in

	case ENVELOPE_MESSAGE, ENVELOPE_MESSAGE_STREAM:
		ws.mtx.Lock()
		handler := ws.subscriber
		if len(ws.responders) > 0 {
			handler = ws.responders[0]
			if in.Type == ENVELOPE_MESSAGE {
				ws.responders = ws.responders[1:]
			}
		}
		ws.mtx.Unlock()
		if handler != nil {
			handler.response(in)
		}

	case ENVELOPE_TYPING:
		if isTyping, isOK := in.Typing(); isOK {
			ws.events.emitTyping(isTyping)
		}

	case ENVELOPE_READ_RECEIPT:
		if messageID, isOK := in.MessageID(); isOK {
			ws.events.emitReadReceipt(messageID)
		}

	default:
		ws.log.Debug().Str("type", string(in.Type)).Msg("websocket: unknown frame")
	}
}

func (ws *transportWebsocket) onClosed(conn wsConn, err error) {
	ws.mtx.Lock()
	if ws.conn != conn {
		ws.mtx.Unlock()
		return
	}
	ws.conn = nil
	ws.state = _SOCKET_DISCONNECTED
	responders, handshakes := ws.takePending()
	if !ws.disconnected {
		ws.log.Warn().Err(err).Msg("websocket: closed")
		ws.scheduleReconnectLocked()
	}
	ws.mtx.Unlock()

	conn.Close()
	failPending(responders, handshakes, &TransportError{Kind: KIND_SOCKET, Err: err})
}

func (ws *transportWebsocket) takePending() ([]*replyHandler, []chan *Inbound) {
	responders, handshakes := ws.responders, ws.handshakes
	ws.responders, ws.handshakes = nil, nil
	return responders, handshakes
}

func failPending(responders []*replyHandler, handshakes []chan *Inbound, err error) {
	for _, waiter := range handshakes {
		close(waiter)
	}
	for _, r := range responders {
		r.fail(err)
	}
}

// scheduleReconnectLocked waits attempts × baseDelay, counting the attempt
// being scheduled, and gives up for good once maxAttempts is reached.
// ws.mtx must be held.
func (ws *transportWebsocket) scheduleReconnectLocked() {
	if ws.disconnected || ws.stopTimer != nil || ws.state == _SOCKET_OPEN {
		return
	}

	if ws.attempts >= ws.maxAttempts {
		ws.state = _SOCKET_EXHAUSTED
		queue := ws.queue
		ws.queue = nil
		ws.log.Error().Int("attempts", ws.attempts).Msg("websocket: giving up reconnecting")
		go failQueue(queue, ErrReconnectExhausted)
		return
	}

	ws.attempts++
	delay := time.Duration(ws.attempts) * ws.baseDelay
	ws.state = _SOCKET_RECONNECTING
	reconnectsTotal.Inc()
	ws.log.Info().Int("attempt", ws.attempts).Dur("delay", delay).Msg("websocket: reconnecting")

	ws.stopTimer = ws.afterFunc(delay, func() {
		ws.mtx.Lock()
		ws.stopTimer = nil
		if ws.state == _SOCKET_RECONNECTING {
			ws.state = _SOCKET_DISCONNECTED
		}
		ws.mtx.Unlock()
		ws.open(ws.ctx)
	})
}

var errNotOpen = errors.New("socket not open")

// write sends env now and fails when the socket is not open.
func (ws *transportWebsocket) write(env *Outbound, reply *replyHandler) error {
	ws.writeMtx.Lock()
	defer ws.writeMtx.Unlock()

	err := ws.writeLocked(env, reply)
	if err == errNotOpen {
		return ErrSocketClosed
	}
	return err
}

// writeLocked expects writeMtx to be held.
func (ws *transportWebsocket) writeLocked(env *Outbound, reply *replyHandler) error {
	ws.mtx.Lock()
	if ws.state != _SOCKET_OPEN {
		ws.mtx.Unlock()
		return errNotOpen
	}
	conn := ws.conn
	if reply != nil {
		ws.responders = append(ws.responders, reply)
	}
	ws.mtx.Unlock()

	if err := conn.Send(env); err != nil {
		if reply != nil {
			ws.mtx.Lock()
			ws.removeResponder(reply)
			ws.mtx.Unlock()
		}
		return &TransportError{Kind: KIND_SOCKET, Err: err}
	}
	return nil
}

// enqueue writes env when the socket is open and queues it otherwise.
// A queued entry is not an error. reply is nil when no answer is expected.
func (ws *transportWebsocket) enqueue(env *Outbound, reply *replyHandler) error {
	ws.writeMtx.Lock()
	defer ws.writeMtx.Unlock()

	for {
		ws.mtx.Lock()
		switch {
		case ws.disconnected:
			ws.mtx.Unlock()
			return ErrSocketClosed

		case ws.state == _SOCKET_EXHAUSTED:
			ws.mtx.Unlock()
			return ErrReconnectExhausted

		case ws.state != _SOCKET_OPEN:
			ws.queue = append(ws.queue, queueEntry{env: env, reply: reply})
			kick := ws.state == _SOCKET_DISCONNECTED
			ws.mtx.Unlock()

			queuedTotal.Inc()
			if kick {
				go ws.open(ws.ctx)
			}
			return nil
		}
		ws.mtx.Unlock()

		// the socket may close between the check and the write
		if err := ws.writeLocked(env, reply); err != errNotOpen {
			return err
		}
	}
}

func (ws *transportWebsocket) queueLen() int {
	ws.mtx.Lock()
	defer ws.mtx.Unlock()
	return len(ws.queue)
}

func (ws *transportWebsocket) handshake(ctx context.Context) (*Inbound, error) {
	ctx, cancel := context.WithTimeout(ctx, ws.timeout)
	defer cancel()

	if err := ws.open(ctx); err != nil {
		return nil, err
	}

	waiter := make(chan *Inbound, 1)
	ws.mtx.Lock()
	ws.handshakes = append(ws.handshakes, waiter)
	ws.mtx.Unlock()

	if err := ws.write(newOutbound(ENVELOPE_HANDSHAKE, nil, ""), nil); err != nil {
		ws.dropHandshake(waiter)
		return nil, err
	}

	select {
	case in, isOK := <-waiter:
		if !isOK {
			return nil, ErrSocketClosed
		}
		return in, nil

	case <-ctx.Done():
		ws.dropHandshake(waiter)
		return nil, fmt.Errorf("websocket handshake: %w", &TransportError{Kind: KIND_TIMEOUT, Err: ctx.Err()})
	}
}

func (ws *transportWebsocket) dropHandshake(waiter chan *Inbound) {
	ws.mtx.Lock()
	defer ws.mtx.Unlock()

	for i, candidate := range ws.handshakes {
		if candidate == waiter {
			ws.handshakes = append(ws.handshakes[:i], ws.handshakes[i+1:]...)
			return
		}
	}
}

// connect subscribes h to every message frame no call in flight claims.
// The server does not answer the connect frame itself, so it claims nothing.
func (ws *transportWebsocket) connect(ctx context.Context, env *Outbound, h replyHandler) error {
	ws.mtx.Lock()
	ws.subscriber = &h
	ws.mtx.Unlock()

	if err := ws.open(ctx); err != nil {
		return err
	}
	return ws.enqueue(env, nil)
}

func (ws *transportWebsocket) send(ctx context.Context, env *Outbound, h replyHandler) error {
	return ws.enqueue(env, &h)
}

// notify drops env when the socket is not open; typing state is transient.
func (ws *transportWebsocket) notify(ctx context.Context, env *Outbound) {
	if err := ws.write(env, nil); err != nil {
		ws.log.Debug().Err(err).Str("type", string(env.Type)).Msg("websocket: notification dropped")
	}
}

// close stops reconnecting and closes the socket. It is idempotent.
func (ws *transportWebsocket) close() {
	ws.mtx.Lock()
	if ws.disconnected {
		ws.mtx.Unlock()
		return
	}
	ws.disconnected = true
	if ws.stopTimer != nil {
		ws.stopTimer()
		ws.stopTimer = nil
	}
	conn := ws.conn
	ws.conn = nil
	ws.state = _SOCKET_DISCONNECTED
	responders, handshakes := ws.takePending()
	queue := ws.queue
	ws.queue = nil
	ws.mtx.Unlock()

	ws.ctxCancel()
	if conn != nil {
		conn.Close()
	}

	failPending(responders, handshakes, ErrSocketClosed)
	failQueue(queue, ErrSocketClosed)
}

func failQueue(queue []queueEntry, err error) {
	for _, entry := range queue {
		if entry.reply != nil {
			entry.reply.fail(err)
		}
	}
}

func (ws *transportWebsocket) isOpen() bool {
	ws.mtx.Lock()
	defer ws.mtx.Unlock()
	return ws.state == _SOCKET_OPEN
}

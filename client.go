package chatIO

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Client is one logical chat connection. It speaks websocket for ws/wss
// URLs, and CORS with a one-way JSONP fallback for http/https URLs.
//
// Every call returns immediately; results reach the callbacks from a
// goroutine owned by the Client.
type Client struct {
	serverURL      string
	config         Config
	connectionType ConnectionType

	store      SessionStore
	events     *Events
	log        zerolog.Logger
	httpClient *http.Client
	dialer     wsDialer

	mtx              sync.Mutex
	strategy         ApiStrategy
	fallbackAttempts int

	transports map[ApiStrategy]transport

	ctx       context.Context
	ctxCancel context.CancelFunc
}

type Option func(*Client)

// WithConfig replaces the whole configuration. Options after it still apply.
func WithConfig(config Config) Option {
	return func(c *Client) { c.config = config }
}

func WithForceJSONP() Option {
	return func(c *Client) { c.config.ForceJSONP = true }
}

func WithPreferJSONP() Option {
	return func(c *Client) { c.config.PreferJSONP = true }
}

// WithOffline answers every call locally, without any network traffic.
func WithOffline() Option {
	return func(c *Client) { c.config.Offline = true }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.config.Timeout = d }
}

func WithFallbackRetryLimit(limit int) Option {
	return func(c *Client) { c.config.FallbackRetryLimit = limit }
}

func WithMaxReconnectAttempts(n int) Option {
	return func(c *Client) { c.config.MaxReconnectAttempts = n }
}

func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) { c.config.ReconnectDelay = d }
}

func WithSessionStore(store SessionStore) Option {
	return func(c *Client) {
		if store != nil {
			c.store = store
		}
	}
}

func WithEvents(events *Events) Option {
	return func(c *Client) {
		if events != nil {
			c.events = events
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func withDialer(dialer wsDialer) Option {
	return func(c *Client) { c.dialer = dialer }
}

// NewClient never fails; an unusable URL is logged and treated as http.
func NewClient(serverURL string, opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		serverURL:  serverURL,
		config:     DefaultConfig(),
		store:      NewMemorySessionStore(),
		events:     DefaultEvents,
		log:        log.Logger,
		httpClient: http.DefaultClient,
		transports: map[ApiStrategy]transport{},
		ctx:        ctx,
		ctxCancel:  cancel,
	}

	for _, opt := range opts {
		opt(c)
	}

	defaults := DefaultConfig()
	if c.config.Timeout <= 0 {
		c.config.Timeout = defaults.Timeout
	}
	if c.config.ReconnectDelay < 0 {
		c.config.ReconnectDelay = defaults.ReconnectDelay
	}

	c.log = c.log.With().Str("component", "chat-client").Logger()
	c.connectionType = detectConnectionType(serverURL, c.log)
	c.strategy = initialStrategy(c.connectionType, c.config)

	switch c.strategy {
	case STRATEGY_OFFLINE:
		c.transports[STRATEGY_OFFLINE] = requestTransport{transportOffline{}}

	case STRATEGY_WEBSOCKET:
		if c.dialer == nil {
			c.dialer = dialWebsocket(serverURL)
		}
		c.transports[STRATEGY_WEBSOCKET] = newTransportWebsocket(ctx, c.dialer, c.events, c.log, c.config)

	default:
		c.transports[STRATEGY_CORS] = requestTransport{newTransportCORS(serverURL, c.httpClient, c.config.Timeout)}
		c.transports[STRATEGY_JSONP] = requestTransport{newTransportJSONP(serverURL, c.httpClient, c.log)}
	}

	c.log.Debug().
		Str("url", serverURL).
		Stringer("connection", c.connectionType).
		Stringer("strategy", c.strategy).
		Msg("client created")

	return c
}

func (c *Client) ConnectionType() ConnectionType {
	return c.connectionType
}

func (c *Client) Strategy() ApiStrategy {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.strategy
}

func (c *Client) FallbackAttempts() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.fallbackAttempts
}

func (c *Client) Events() *Events {
	return c.events
}

// SessionKey reads the stored key; it is empty before the first handshake.
// It keeps working after Disconnect.
func (c *Client) SessionKey() string {
	sessionKey, err := c.store.Get(context.Background())
	if err != nil {
		c.log.Warn().Err(err).Msg("read session key")
		return ""
	}
	return sessionKey
}

// Handshake obtains a new session key and stores it before onSuccess runs.
func (c *Client) Handshake(onSuccess func(sessionKey string), onError func(err error)) {
	c.run(func(ctx context.Context, t transport) error {
		in, err := t.handshake(ctx)
		if err != nil {
			return err
		}

		sessionKey, err := handshakeKey(in)
		if err != nil {
			return err
		}
		if err := c.store.Set(ctx, sessionKey); err != nil {
			return fmt.Errorf("store session key: %w", err)
		}

		if onSuccess != nil {
			onSuccess(sessionKey)
		}
		return nil
	}, onError)
}

// Connect opens the receive channel. Over a websocket onMessage receives
// every message frame not claimed by SendMessage until Disconnect; over
// http it receives the single welcome reply.
func (c *Client) Connect(onMessage func(in *Inbound), onError func(err error)) {
	g := &callGuard{onResponse: onMessage, onError: onError, persistent: true}
	c.run(func(ctx context.Context, t transport) error {
		sessionKey, err := c.store.Get(ctx)
		if err != nil {
			return err
		}
		return t.connect(ctx, newOutbound(ENVELOPE_CONNECT, nil, sessionKey), g.handler())
	}, g.fail)
}

// SendMessage sends one chat message. Over a websocket onResponse may see
// partial replies (in.IsPartial()) before the final one.
func (c *Client) SendMessage(message string, onResponse func(in *Inbound), onError func(err error)) {
	g := &callGuard{onResponse: onResponse, onError: onError}
	c.run(func(ctx context.Context, t transport) error {
		sessionKey, err := c.store.Get(ctx)
		if err != nil {
			return err
		}
		return t.send(ctx, newOutbound(ENVELOPE_MESSAGE, message, sessionKey), g.handler())
	}, g.fail)
}

func (c *Client) SendTypingIndicator(isTyping bool) {
	c.notify(ENVELOPE_TYPING, typingPayload{Typing: isTyping})
}

func (c *Client) SendReadReceipt(messageID string) {
	c.notify(ENVELOPE_READ_RECEIPT, readReceiptPayload{MessageID: messageID})
}

func (c *Client) notify(t EnvelopeType, payload interface{}) {
	if c.connectionType != CONNECTION_WEBSOCKET || c.Strategy() != STRATEGY_WEBSOCKET {
		return
	}

	go func() {
		sessionKey, err := c.store.Get(c.ctx)
		if err != nil {
			c.log.Warn().Err(err).Msg("read session key")
			return
		}
		c.transports[STRATEGY_WEBSOCKET].notify(c.ctx, newOutbound(t, payload, sessionKey))
	}()
}

// Disconnect closes the socket and stops reconnecting. The Client cannot
// be used afterwards. It is safe to call more than once.
func (c *Client) Disconnect() {
	for _, t := range c.transports {
		t.close()
	}
	c.ctxCancel()
}

// run executes op on the active strategy in the background. A CORS network
// failure within the fallback budget moves the Client to JSONP and repeats
// op once there; anything else goes to onError.
func (c *Client) run(op func(ctx context.Context, t transport) error, onError func(error)) {
	go func() {
		strategy := c.Strategy()
		err := c.attempt(strategy, op)
		if err == nil {
			return
		}

		if next, isSwitched := c.fallback(strategy, err); isSwitched {
			c.log.Warn().Err(err).Stringer("from", strategy).Stringer("to", next).Msg("falling back")
			err = c.attempt(next, op)
			if err == nil {
				return
			}
		}

		if errors.Is(err, ErrNoReply) {
			c.log.Warn().Msg("jsonp request finished without a reply")
			return
		}
		if onError != nil {
			onError(err)
		}
	}()
}

func (c *Client) attempt(strategy ApiStrategy, op func(ctx context.Context, t transport) error) error {
	t, isFound := c.transports[strategy]
	if !isFound {
		return fmt.Errorf("no transport for strategy %s", strategy)
	}
	err := op(c.ctx, t)
	recordRequest(strategy, err)
	return err
}

// fallback applies nextStrategy. When another call already switched the
// Client it reuses the current strategy without spending budget.
func (c *Client) fallback(from ApiStrategy, err error) (ApiStrategy, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.strategy != from {
		if from == STRATEGY_CORS && isNetworkError(err) {
			return c.strategy, true
		}
		return from, false
	}

	next := nextStrategy(from, err, c.fallbackAttempts, c.config.FallbackRetryLimit)
	if next == from {
		return from, false
	}

	c.fallbackAttempts++
	c.strategy = next
	fallbacksTotal.Inc()
	return next, true
}

// callGuard settles one logical call. After onError or a final reply
// nothing else is delivered. A persistent guard is never settled, so a
// subscription keeps receiving frames after a reconnect.
type callGuard struct {
	mtx        sync.Mutex
	done       bool
	persistent bool
	onResponse func(*Inbound)
	onError    func(error)
}

func (g *callGuard) handler() replyHandler {
	return replyHandler{onResponse: g.response, onError: g.fail}
}

func (g *callGuard) response(in *Inbound) {
	g.mtx.Lock()
	if g.done {
		g.mtx.Unlock()
		return
	}
	if !g.persistent && !in.IsPartial() {
		g.done = true
	}
	g.mtx.Unlock()

	if g.onResponse != nil {
		g.onResponse(in)
	}
}

func (g *callGuard) fail(err error) {
	g.mtx.Lock()
	if g.done {
		g.mtx.Unlock()
		return
	}
	g.done = !g.persistent
	g.mtx.Unlock()

	if g.onError != nil {
		g.onError(err)
	}
}

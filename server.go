package chatIO

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/websocket"
)

const welcomeText = "Welcome! How can I help you today?"

func echoText(message string) string {
	return "You said: " + message
}

type Options struct {
	BasePath string
	Logger   *zerolog.Logger
}

// Server is a demo chat server speaking the handshake/messages HTTP API,
// its JSONP variant and the websocket frame protocol. Replies echo the
// user's message unless OnMessage installs another responder.
type Server struct {
	options Options
	log     zerolog.Logger

	sessions    map[uuid.UUID]*Session
	sessionsMtx *sync.Mutex

	ws websocket.Handler

	ctx       context.Context
	ctxCancel context.CancelFunc

	handlersMtx *sync.RWMutex
	handlers    struct {
		message func(*Session, string) string
	}
}

func NewServer(opt Options) (server *Server) {
	ctx, cancelFunc := context.WithCancel(context.Background())
	server = &Server{
		options:     Options{BasePath: opt.BasePath},
		log:         log.Logger,
		sessions:    map[uuid.UUID]*Session{},
		sessionsMtx: &sync.Mutex{},
		handlersMtx: &sync.RWMutex{},
		ctx:         ctx,
		ctxCancel:   cancelFunc,
	}

	if opt.Logger != nil {
		server.log = *opt.Logger
	}
	server.log = server.log.With().Str("component", "chat-server").Logger()

	server.options.BasePath = "/" + strings.Trim(opt.BasePath, "/")
	if server.options.BasePath == "/" {
		server.options.BasePath = ""
	}

	server.ws = websocket.Handler(server.serveWebsocket)

	return server
}

func (server *Server) Handler() http.Handler {
	return server
}

func (server *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, server.options.BasePath)
	if len(path) == len(r.URL.Path) && server.options.BasePath != "" {
		http.NotFound(w, r)
		return
	}

	switch strings.TrimRight(path, "/") {
	case pathHandshake:
		server.serveAPI(w, r, ENVELOPE_HANDSHAKE)

	case pathMessages:
		server.serveAPI(w, r, "")

	case pathWebsocket:
		server.ws.ServeHTTP(w, r)

	default:
		http.NotFound(w, r)
	}
}

// OnMessage replaces the echo responder. f returns the reply text.
func (server *Server) OnMessage(f func(s *Session, message string) string) {
	server.handlersMtx.Lock()
	server.handlers.message = f
	server.handlersMtx.Unlock()
}

// Close stops every websocket connection.
func (server *Server) Close() {
	server.ctxCancel()
}

func (server *Server) reply(s *Session, message string) string {
	s.touch()

	server.handlersMtx.RLock()
	f := server.handlers.message
	server.handlersMtx.RUnlock()

	if f != nil {
		return f(s, message)
	}
	return echoText(message)
}

func (server *Server) createSession() *Session {
	s := newSession(uuid.New())

	server.sessionsMtx.Lock()
	server.sessions[s.id] = s
	server.sessionsMtx.Unlock()

	server.log.Debug().Str("session", s.id.String()).Msg("session created")
	return s
}

// lookupSession finds the session for key. Unknown or malformed keys get a
// fresh anonymous session that is not remembered.
func (server *Server) lookupSession(key string) *Session {
	uid, err := uuid.Parse(key)
	if err != nil {
		return newSession(uuid.New())
	}

	server.sessionsMtx.Lock()
	defer server.sessionsMtx.Unlock()

	s, isFound := server.sessions[uid]
	if !isFound || s == nil {
		return newSession(uid)
	}
	return s
}

func (server *Server) SessionCount() int {
	server.sessionsMtx.Lock()
	defer server.sessionsMtx.Unlock()
	return len(server.sessions)
}

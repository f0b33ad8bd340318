package chatIO

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type mockConn struct {
	mtx       sync.Mutex
	sent      []*Outbound
	sendErr   error
	inbox     chan *Inbound
	closed    chan struct{}
	closeOnce sync.Once
}

func newMockConn() *mockConn {
	return &mockConn{
		inbox:  make(chan *Inbound, 16),
		closed: make(chan struct{}),
	}
}

func (c *mockConn) Send(env *Outbound) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *mockConn) Receive(in *Inbound) error {
	select {
	case <-c.closed:
		return io.EOF
	case frame := <-c.inbox:
		*in = *frame
		return nil
	}
}

func (c *mockConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *mockConn) frames() []*Outbound {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return append([]*Outbound{}, c.sent...)
}

func (c *mockConn) framesOfType(t EnvelopeType) []*Outbound {
	var out []*Outbound
	for _, env := range c.frames() {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

type dialResult struct {
	conn wsConn
	err  error
}

// mockDialer blocks every dial until the test hands it a result.
type mockDialer struct {
	results chan dialResult
}

func newMockDialer() *mockDialer {
	return &mockDialer{results: make(chan dialResult)}
}

func (d *mockDialer) dial(ctx context.Context) (wsConn, error) {
	select {
	case r := <-d.results:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *mockDialer) accept(t *testing.T, conn wsConn) {
	t.Helper()
	select {
	case d.results <- dialResult{conn: conn}:
	case <-time.After(2 * time.Second):
		t.Fatal("nobody dialed")
	}
}

func (d *mockDialer) refuse(t *testing.T) {
	t.Helper()
	select {
	case d.results <- dialResult{err: errors.New("connection refused")}:
	case <-time.After(2 * time.Second):
		t.Fatal("nobody dialed")
	}
}

// idle fails the test when anything dials within d.
func (d *mockDialer) idle(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case d.results <- dialResult{err: errors.New("unexpected dial")}:
		t.Fatal("dialed outside the reconnect timer")
	case <-time.After(wait):
	}
}

// fakeTimers records reconnect delays instead of waiting for them.
type fakeTimers struct {
	mtx     sync.Mutex
	delays  []time.Duration
	fns     []func()
	stopped int
}

func (f *fakeTimers) afterFunc(d time.Duration, fn func()) func() bool {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.delays = append(f.delays, d)
	f.fns = append(f.fns, fn)
	return func() bool {
		f.mtx.Lock()
		f.stopped++
		f.mtx.Unlock()
		return true
	}
}

func (f *fakeTimers) count() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return len(f.delays)
}

func (f *fakeTimers) delay(i int) time.Duration {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.delays[i]
}

func (f *fakeTimers) fire(i int) {
	f.mtx.Lock()
	fn := f.fns[i]
	f.mtx.Unlock()
	go fn()
}

// background goroutines may still log after a test ends, so tests stay quiet
var testLogger = zerolog.Nop()

func newTestWebsocket(t *testing.T, dialer *mockDialer, timers *fakeTimers, events *Events) *transportWebsocket {
	t.Helper()
	config := DefaultConfig()
	config.MaxReconnectAttempts = 3
	config.ReconnectDelay = 100 * time.Millisecond
	config.Timeout = 2 * time.Second

	ws := newTransportWebsocket(context.Background(), dialer.dial, events, testLogger, config)
	ws.afterFunc = timers.afterFunc
	t.Cleanup(ws.close)
	return ws
}

func (ws *transportWebsocket) reconnectAttempts() int {
	ws.mtx.Lock()
	defer ws.mtx.Unlock()
	return ws.attempts
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	logger := testLogger
	server := NewServer(Options{Logger: &logger})
	ts := httptest.NewServer(server)
	t.Cleanup(func() {
		server.Close()
		ts.Close()
	})
	return server, ts
}

func websocketURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + pathWebsocket
}

// failingPosts rejects every POST the way an unreachable CORS endpoint
// does and lets GET requests through.
type failingPosts struct {
	next http.RoundTripper
}

func (f failingPosts) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodPost {
		return nil, errors.New("Failed to fetch")
	}
	return f.next.RoundTrip(req)
}

type result struct {
	sessionKey string
	in         *Inbound
	err        error
}

func waitResult(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
	return result{}
}

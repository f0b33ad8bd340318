package chatIO

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCORSRoundTrip(t *testing.T) {
	var received httpBody
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, pathMessages, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write([]byte(`{"status":"success","text":"pong","sender":"bot"}`))
	}))
	defer ts.Close()

	cors := newTransportCORS(ts.URL+"/", ts.Client(), time.Second)
	in, err := cors.roundTrip(context.Background(), newOutbound(ENVELOPE_MESSAGE, "ping", "k"))
	require.NoError(t, err)
	assert.Equal(t, "pong", in.Text)
	assert.Equal(t, "bot", in.Sender)

	assert.Equal(t, ENVELOPE_MESSAGE, received.Type)
	assert.Equal(t, "ping", received.Message)
	assert.Equal(t, "k", received.SessionKey)
}

func TestCORSFailures(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		timeout  time.Duration
		sentinel error
		message  string
	}{
		{
			name: "http status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			timeout:  time.Second,
			sentinel: ErrHTTPStatus,
			message:  "HTTP 500",
		},
		{
			name: "content type",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				w.Write([]byte("<html></html>"))
			},
			timeout:  time.Second,
			sentinel: ErrProtocolMismatch,
			message:  "invalid content type",
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"status":`))
			},
			timeout:  time.Second,
			sentinel: ErrProtocolMismatch,
			message:  "decode response",
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(time.Second):
				}
			},
			timeout:  50 * time.Millisecond,
			sentinel: ErrTimeout,
			message:  "TIMEOUT_ERROR",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(tt.handler)
			defer ts.Close()

			cors := newTransportCORS(ts.URL, ts.Client(), tt.timeout)
			_, err := cors.roundTrip(context.Background(), newOutbound(ENVELOPE_MESSAGE, "x", ""))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Contains(t, err.Error(), tt.message)
			assert.False(t, isNetworkError(err))
		})
	}
}

func TestCORSUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	cors := newTransportCORS(url, http.DefaultClient, time.Second)
	_, err := cors.roundTrip(context.Background(), newOutbound(ENVELOPE_HANDSHAKE, nil, ""))
	assert.ErrorIs(t, err, ErrCORS)
	assert.True(t, isNetworkError(err))
}

func TestCORSAgainstServer(t *testing.T) {
	_, ts := newTestServer(t)
	cors := newTransportCORS(ts.URL, ts.Client(), time.Second)

	in, err := cors.roundTrip(context.Background(), newOutbound(ENVELOPE_HANDSHAKE, nil, ""))
	require.NoError(t, err)
	sessionKey, err := handshakeKey(in)
	require.NoError(t, err)

	in, err = cors.roundTrip(context.Background(), newOutbound(ENVELOPE_MESSAGE, "hello", sessionKey))
	require.NoError(t, err)
	assert.Equal(t, "You said: hello", in.Text)
}

package chatIO

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONPReply(t *testing.T) {
	name, in, err := parseJSONPReply([]byte(` chat_jsonp_abc({"status":"success","text":"hi"}); `))
	require.NoError(t, err)
	assert.Equal(t, "chat_jsonp_abc", name)
	assert.Equal(t, "hi", in.Text)

	name, _, err = parseJSONPReply([]byte(`cb({})`))
	require.NoError(t, err)
	assert.Equal(t, "cb", name)

	bad := []string{
		``,
		`({})`,
		`cb{}`,
		`cb({}`,
		`alert(1);cb({})`,
		`9cb({})`,
		`cb(not json)`,
	}
	for _, body := range bad {
		_, _, err := parseJSONPReply([]byte(body))
		assert.ErrorIs(t, err, ErrProtocolMismatch, body)
	}
}

func TestIsCallbackName(t *testing.T) {
	assert.True(t, isCallbackName("chat_jsonp_0f3a"))
	assert.True(t, isCallbackName("$cb"))
	assert.False(t, isCallbackName(""))
	assert.False(t, isCallbackName("1cb"))
	assert.False(t, isCallbackName("cb.x"))
	assert.False(t, isCallbackName("cb()"))
}

func TestJSONPRequestURL(t *testing.T) {
	j := newTransportJSONP("http://chat.example/", http.DefaultClient, testLogger)

	raw, err := j.requestURL(newOutbound(ENVELOPE_MESSAGE, "hi there", "k-1"), "cb")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, pathMessages, u.Path)
	assert.Equal(t, "cb", u.Query().Get("callback"))
	assert.Equal(t, "message", u.Query().Get("type"))
	assert.Equal(t, "hi there", u.Query().Get("message"))
	assert.Equal(t, "k-1", u.Query().Get("session_key"))

	raw, err = j.requestURL(newOutbound(ENVELOPE_HANDSHAKE, nil, ""), "cb")
	require.NoError(t, err)
	u, err = url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, pathHandshake, u.Path)
	assert.Equal(t, url.Values{"callback": {"cb"}}, u.Query())
}

func TestJSONPRegistry(t *testing.T) {
	j := newTransportJSONP("http://chat.example", http.DefaultClient, testLogger)

	first, reply := j.register()
	second, _ := j.register()
	assert.NotEqual(t, first, second)
	assert.True(t, strings.HasPrefix(first, jsonpCallbackPrefix))
	assert.True(t, isCallbackName(first))
	assert.Equal(t, 2, j.pendingCount())

	assert.True(t, j.invoke(first, &Inbound{Text: "once"}))
	assert.Equal(t, "once", (<-reply).Text)
	assert.False(t, j.invoke(first, &Inbound{Text: "twice"}))

	assert.True(t, j.teardown(second))
	assert.False(t, j.teardown(second))
	assert.Equal(t, 0, j.pendingCount())
}

func TestJSONPAgainstServer(t *testing.T) {
	_, ts := newTestServer(t)
	j := newTransportJSONP(ts.URL, ts.Client(), testLogger)

	in, err := j.roundTrip(context.Background(), newOutbound(ENVELOPE_HANDSHAKE, nil, ""))
	require.NoError(t, err)
	sessionKey, err := handshakeKey(in)
	require.NoError(t, err)

	in, err = j.roundTrip(context.Background(), newOutbound(ENVELOPE_MESSAGE, "over jsonp", sessionKey))
	require.NoError(t, err)
	assert.Equal(t, "You said: over jsonp", in.Text)
	assert.Equal(t, 0, j.pendingCount())
}

func TestJSONPNoReply(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"load failure": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		},
		"malformed script": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("syntax error("))
		},
		"other callback": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`somebody_else({"text":"hi"});`))
		},
	}
	for name, handler := range tests {
		t.Run(name, func(t *testing.T) {
			ts := httptest.NewServer(handler)
			defer ts.Close()

			j := newTransportJSONP(ts.URL, ts.Client(), testLogger)
			_, err := j.roundTrip(context.Background(), newOutbound(ENVELOPE_MESSAGE, "x", "k"))
			assert.ErrorIs(t, err, ErrNoReply)
			assert.Equal(t, 0, j.pendingCount())
		})
	}
}

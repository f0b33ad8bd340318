package chatIO

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const jsonpCallbackPrefix = "chat_jsonp_"

// transportJSONP fires a GET whose reply is a call to a generated callback
// name. The registry maps that name to the caller waiting for it.
type transportJSONP struct {
	serverURL string
	client    *http.Client
	log       zerolog.Logger

	mtx     sync.Mutex
	pending map[string]chan *Inbound
}

func newTransportJSONP(serverURL string, client *http.Client, log zerolog.Logger) *transportJSONP {
	return &transportJSONP{
		serverURL: serverURL,
		client:    client,
		log:       log,
		pending:   map[string]chan *Inbound{},
	}
}

func (j *transportJSONP) register() (string, chan *Inbound) {
	name := jsonpCallbackPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	reply := make(chan *Inbound, 1)

	j.mtx.Lock()
	j.pending[name] = reply
	j.mtx.Unlock()

	return name, reply
}

// teardown drops the callback. It reports false when it already ran.
func (j *transportJSONP) teardown(name string) bool {
	j.mtx.Lock()
	defer j.mtx.Unlock()

	if _, isFound := j.pending[name]; !isFound {
		return false
	}
	delete(j.pending, name)
	return true
}

// invoke runs the named callback once and tears it down.
func (j *transportJSONP) invoke(name string, in *Inbound) bool {
	j.mtx.Lock()
	reply, isFound := j.pending[name]
	delete(j.pending, name)
	j.mtx.Unlock()

	if !isFound {
		return false
	}
	reply <- in
	return true
}

func (j *transportJSONP) pendingCount() int {
	j.mtx.Lock()
	defer j.mtx.Unlock()
	return len(j.pending)
}

func (j *transportJSONP) requestURL(env *Outbound, callback string) (string, error) {
	u, err := url.Parse(endpoint(j.serverURL, env))
	if err != nil {
		return "", err
	}

	query := u.Query()
	query.Set("callback", callback)
	if env.Type != ENVELOPE_HANDSHAKE {
		query.Set("type", string(env.Type))
		if text := env.text(); text != "" {
			query.Set("message", text)
		}
		query.Set("session_key", env.SessionKey)
	}
	u.RawQuery = query.Encode()

	return u.String(), nil
}

// roundTrip returns ErrNoReply when the request finished without the
// callback being invoked. The load itself is never cancelled.
func (j *transportJSONP) roundTrip(ctx context.Context, env *Outbound) (*Inbound, error) {
	name, reply := j.register()

	u, err := j.requestURL(env, name)
	if err != nil {
		j.teardown(name)
		return nil, ErrNoReply
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer j.teardown(name)
		j.load(context.WithoutCancel(ctx), u)
	}()

	select {
	case in := <-reply:
		return in, nil

	case <-done:
		select {
		case in := <-reply:
			return in, nil
		default:
			return nil, ErrNoReply
		}

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (j *transportJSONP) load(ctx context.Context, u string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		j.log.Warn().Err(err).Msg("jsonp: bad request")
		return
	}

	resp, err := j.client.Do(req)
	if err != nil {
		j.log.Warn().Err(err).Str("url", u).Msg("jsonp: load failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		j.log.Warn().Int("status", resp.StatusCode).Str("url", u).Msg("jsonp: load failed")
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		j.log.Warn().Err(err).Msg("jsonp: read failed")
		return
	}

	name, in, err := parseJSONPReply(body)
	if err != nil {
		j.log.Warn().Err(err).Msg("jsonp: malformed reply")
		return
	}
	if !j.invoke(name, in) {
		j.log.Debug().Str("callback", name).Msg("jsonp: callback not registered")
	}
}

// parseJSONPReply splits `NAME({...});` into the callback name and its argument.
func parseJSONPReply(body []byte) (string, *Inbound, error) {
	body = bytes.TrimSpace(body)
	body = bytes.TrimSuffix(body, []byte(";"))
	body = bytes.TrimSpace(body)

	open := bytes.IndexByte(body, '(')
	if open <= 0 || body[len(body)-1] != ')' {
		return "", nil, protocolError("not a callback invocation")
	}

	name := string(bytes.TrimSpace(body[:open]))
	if !isCallbackName(name) {
		return "", nil, protocolError("invalid callback name %q", name)
	}

	in := &Inbound{}
	if err := json.Unmarshal(body[open+1:len(body)-1], in); err != nil {
		return "", nil, protocolError("decode reply: %w", err)
	}
	return name, in, nil
}

func isCallbackName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

package chatIO

import (
	"context"
	"strings"
)

// replyHandler receives the answer of one logical call. onResponse may be
// invoked several times when the server streams partial replies.
type replyHandler struct {
	onResponse func(*Inbound)
	onError    func(error)
}

func (h replyHandler) response(in *Inbound) {
	if h.onResponse != nil {
		h.onResponse(in)
	}
}

func (h replyHandler) fail(err error) {
	if h.onError != nil {
		h.onError(err)
	}
}

// transport is one wire strategy. An error returned synchronously is the
// one the Client may recover from by falling back.
type transport interface {
	handshake(ctx context.Context) (*Inbound, error)
	connect(ctx context.Context, env *Outbound, h replyHandler) error
	send(ctx context.Context, env *Outbound, h replyHandler) error
	notify(ctx context.Context, env *Outbound)
	close()
}

// roundTripper is a strategy with exactly one reply per request.
type roundTripper interface {
	roundTrip(ctx context.Context, env *Outbound) (*Inbound, error)
}

// requestTransport adapts a roundTripper. Connect is a one-shot welcome
// exchange because there is no push channel.
type requestTransport struct {
	roundTripper
}

func (t requestTransport) handshake(ctx context.Context) (*Inbound, error) {
	return t.roundTrip(ctx, newOutbound(ENVELOPE_HANDSHAKE, nil, ""))
}

func (t requestTransport) connect(ctx context.Context, env *Outbound, h replyHandler) error {
	return t.send(ctx, env, h)
}

func (t requestTransport) send(ctx context.Context, env *Outbound, h replyHandler) error {
	in, err := t.roundTrip(ctx, env)
	if err != nil {
		return err
	}
	h.response(in)
	return nil
}

// typing and read receipts only travel over a websocket
func (t requestTransport) notify(ctx context.Context, env *Outbound) {}

func (t requestTransport) close() {}

func endpoint(serverURL string, env *Outbound) string {
	base := strings.TrimRight(serverURL, "/")
	if env.Type == ENVELOPE_HANDSHAKE {
		return base + pathHandshake
	}
	return base + pathMessages
}

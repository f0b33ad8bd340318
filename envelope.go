package chatIO

import (
	"encoding/json"
	"time"
)

type EnvelopeType string

const (
	ENVELOPE_HANDSHAKE      EnvelopeType = "handshake"
	ENVELOPE_CONNECT        EnvelopeType = "connect"
	ENVELOPE_MESSAGE        EnvelopeType = "message"
	ENVELOPE_MESSAGE_STREAM EnvelopeType = "message:stream"
	ENVELOPE_TYPING         EnvelopeType = "typing"
	ENVELOPE_READ_RECEIPT   EnvelopeType = "read_receipt"
)

// Outbound is one frame or request sent to the server.
type Outbound struct {
	Type       EnvelopeType `json:"type"`
	Payload    interface{}  `json:"payload,omitempty"`
	SessionKey string       `json:"session_key,omitempty"`
	Timestamp  int64        `json:"timestamp"`
}

// Inbound is one frame or response received from the server.
type Inbound struct {
	Type       EnvelopeType    `json:"type,omitempty"`
	Status     string          `json:"status,omitempty"`
	SessionKey string          `json:"session_key,omitempty"`
	Text       string          `json:"text,omitempty"`
	Widget     json.RawMessage `json:"widget,omitempty"`
	Sender     string          `json:"sender,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type typingPayload struct {
	Typing bool `json:"typing"`
}

type readReceiptPayload struct {
	MessageID string `json:"message_id"`
}

// httpBody is the JSON body of a CORS request.
type httpBody struct {
	Type       EnvelopeType `json:"type"`
	Message    string       `json:"message,omitempty"`
	SessionKey string       `json:"session_key,omitempty"`
	Timestamp  int64        `json:"timestamp"`
}

func newOutbound(t EnvelopeType, payload interface{}, sessionKey string) *Outbound {
	return &Outbound{
		Type:       t,
		Payload:    payload,
		SessionKey: sessionKey,
		Timestamp:  time.Now().UnixMilli(),
	}
}

// text returns the chat message carried by a message envelope.
func (env *Outbound) text() string {
	if s, isOK := env.Payload.(string); isOK {
		return s
	}
	return ""
}

func (env *Outbound) httpBody() httpBody {
	body := httpBody{Type: env.Type, Timestamp: env.Timestamp}
	if env.Type != ENVELOPE_HANDSHAKE {
		body.Message = env.text()
		body.SessionKey = env.SessionKey
	}
	return body
}

// Typing decodes the payload of a typing frame.
func (in *Inbound) Typing() (bool, bool) {
	var p typingPayload
	if in.Type != ENVELOPE_TYPING || json.Unmarshal(in.Payload, &p) != nil {
		return false, false
	}
	return p.Typing, true
}

// MessageID decodes the payload of a read_receipt frame.
func (in *Inbound) MessageID() (string, bool) {
	var p readReceiptPayload
	if in.Type != ENVELOPE_READ_RECEIPT || json.Unmarshal(in.Payload, &p) != nil {
		return "", false
	}
	return p.MessageID, true
}

// IsPartial reports whether the frame is an incremental piece of a streamed reply.
func (in *Inbound) IsPartial() bool {
	return in.Type == ENVELOPE_MESSAGE_STREAM
}

// handshakeKey validates a handshake reply and returns the session key it carries.
func handshakeKey(in *Inbound) (string, error) {
	if in == nil {
		return "", protocolError("%w: empty reply", ErrHandshakeFailed)
	}
	if in.Status != "" && in.Status != "success" {
		return "", protocolError("%w: status %q", ErrHandshakeFailed, in.Status)
	}
	if in.SessionKey == "" {
		return "", protocolError("%w: missing session_key", ErrHandshakeFailed)
	}
	return in.SessionKey, nil
}

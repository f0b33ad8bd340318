package chatIO

import (
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/net/websocket"
)

// clientFrame is a frame as the server receives it.
type clientFrame struct {
	Type       EnvelopeType    `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	SessionKey string          `json:"session_key,omitempty"`
	Timestamp  int64           `json:"timestamp"`
}

func (server *Server) serveWebsocket(conn *websocket.Conn) {
	inbox := make(chan *clientFrame)
	closeChan := make(chan error, 1)
	done := make(chan struct{})
	defer func() {
		close(done)
		conn.Close()
	}()

	// listener: frame receiver
	go func() {
		for {
			frame := &clientFrame{}
			if err := frameCodec.Receive(conn, frame); err != nil {
				if errors.Is(err, ErrProtocolMismatch) {
					server.log.Warn().Err(err).Msg("websocket: malformed frame")
					continue
				}
				closeChan <- err
				return
			}

			select {
			case <-done:
				return
			case inbox <- frame:
			}
		}
	}()

	var s *Session

	// listener: frame handler
	for {
		select {
		case <-server.ctx.Done():
			return

		case err := <-closeChan:
			server.log.Debug().Err(err).Msg("websocket: closed")
			return

		case frame := <-inbox:
			if s == nil || frame.SessionKey != "" && frame.SessionKey != s.ID() {
				s = server.lookupSession(frame.SessionKey)
			}

			replies := server.answerFrame(frame, &s)
			for _, reply := range replies {
				if err := frameCodec.Send(conn, reply); err != nil {
					return
				}
			}
		}
	}
}

func (server *Server) answerFrame(frame *clientFrame, s **Session) []*Inbound {
	switch frame.Type {
	case ENVELOPE_HANDSHAKE:
		*s = server.createSession()
		return []*Inbound{{Type: ENVELOPE_HANDSHAKE, Status: "success", SessionKey: (*s).ID()}}

	case ENVELOPE_CONNECT:
		return []*Inbound{{Type: ENVELOPE_MESSAGE, Text: welcomeText, Sender: "bot"}}

	case ENVELOPE_MESSAGE:
		var message string
		if err := json.Unmarshal(frame.Payload, &message); err != nil {
			server.log.Warn().Err(err).Msg("websocket: message payload is not a string")
			return nil
		}
		return streamReply(server.reply(*s, message))

	case ENVELOPE_TYPING, ENVELOPE_READ_RECEIPT:
		return []*Inbound{{Type: frame.Type, Payload: frame.Payload}}
	}

	server.log.Debug().Str("type", string(frame.Type)).Msg("websocket: unknown frame")
	return nil
}

// streamReply splits text into two partial frames followed by the final one.
func streamReply(text string) []*Inbound {
	words := strings.Fields(text)
	half := strings.Join(words[:len(words)/2], " ")

	return []*Inbound{
		{Type: ENVELOPE_MESSAGE_STREAM, Text: half, Sender: "bot"},
		{Type: ENVELOPE_MESSAGE_STREAM, Text: text, Sender: "bot"},
		{Type: ENVELOPE_MESSAGE, Text: text, Sender: "bot"},
	}
}

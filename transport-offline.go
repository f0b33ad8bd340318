package chatIO

import (
	"context"

	"github.com/google/uuid"
)

// transportOffline answers every request locally. It is only selected when
// the Client is configured with WithOffline.
type transportOffline struct{}

func (transportOffline) roundTrip(ctx context.Context, env *Outbound) (*Inbound, error) {
	switch env.Type {
	case ENVELOPE_HANDSHAKE:
		return &Inbound{Type: ENVELOPE_HANDSHAKE, Status: "success", SessionKey: uuid.NewString()}, nil

	case ENVELOPE_CONNECT:
		return &Inbound{Type: ENVELOPE_MESSAGE, Status: "success", Text: welcomeText, Sender: "bot"}, nil
	}

	return &Inbound{Type: ENVELOPE_MESSAGE, Status: "success", Text: echoText(env.text()), Sender: "bot"}, nil
}

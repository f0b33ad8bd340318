package chatIO

import (
	"bytes"
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"time"
)

type transportCORS struct {
	serverURL string
	client    *http.Client
	timeout   time.Duration
}

func newTransportCORS(serverURL string, client *http.Client, timeout time.Duration) *transportCORS {
	return &transportCORS{
		serverURL: serverURL,
		client:    client,
		timeout:   timeout,
	}
}

func (c *transportCORS) roundTrip(ctx context.Context, env *Outbound) (*Inbound, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(env.httpBody())
	if err != nil {
		return nil, protocolError("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(c.serverURL, env), bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Kind: KIND_NETWORK, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyRequestError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{Kind: KIND_HTTP_STATUS, Status: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); err != nil || mediaType != "application/json" {
		return nil, protocolError("invalid content type %q", contentType)
	}

	in := &Inbound{}
	if err := json.NewDecoder(resp.Body).Decode(in); err != nil {
		if ctx.Err() != nil {
			return nil, classifyRequestError(ctx, err)
		}
		return nil, protocolError("decode response: %w", err)
	}
	return in, nil
}

package chatIO

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind groups transport failures by how the Client reacts to them.
type ErrorKind byte

const (
	KIND_NETWORK ErrorKind = iota + 1
	KIND_TIMEOUT
	KIND_HTTP_STATUS
	KIND_PROTOCOL
	KIND_SOCKET
)

// TransportError is the error every strategy reports to the Client.
type TransportError struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	switch e.Kind {
	case KIND_NETWORK:
		return withCause("CORS_ERROR", e.Err)
	case KIND_TIMEOUT:
		return withCause("TIMEOUT_ERROR", e.Err)
	case KIND_HTTP_STATUS:
		return fmt.Sprintf("HTTP %d", e.Status)
	case KIND_SOCKET:
		return withCause("socket error", e.Err)
	}
	return withCause("protocol mismatch", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	switch target {
	case ErrCORS:
		return e.Kind == KIND_NETWORK
	case ErrTimeout:
		return e.Kind == KIND_TIMEOUT
	case ErrHTTPStatus:
		return e.Kind == KIND_HTTP_STATUS
	case ErrProtocolMismatch:
		return e.Kind == KIND_PROTOCOL
	case ErrSocketClosed:
		return e.Kind == KIND_SOCKET
	}
	return false
}

func withCause(prefix string, err error) string {
	if err == nil {
		return prefix
	}
	return prefix + ": " + err.Error()
}

func protocolError(format string, args ...interface{}) *TransportError {
	return &TransportError{Kind: KIND_PROTOCOL, Err: fmt.Errorf(format, args...)}
}

// classifyRequestError maps a failed HTTP round trip onto the error taxonomy.
// ctx is the request context, so its expiry marks the failure as a timeout.
func classifyRequestError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	var tErr *TransportError
	if errors.As(err, &tErr) {
		return err
	}

	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TransportError{Kind: KIND_TIMEOUT, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransportError{Kind: KIND_TIMEOUT, Err: err}
	}

	return &TransportError{Kind: KIND_NETWORK, Err: err}
}

// isNetworkError reports whether err may trigger the JSONP fallback.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCORS) {
		return true
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrHTTPStatus) || errors.Is(err, ErrProtocolMismatch) {
		return false
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "network request failed") || strings.Contains(msg, "failed to fetch")
}

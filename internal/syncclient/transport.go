package syncclient

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"qms/patient-queue/internal/models"
)

const (
	TransportWebSocket = "websocket"
	TransportSSE       = "sse"
	TransportPolling   = "polling"
)

const defaultHeartbeat = 15 * time.Second

// Events receives what a push transport observes. All calls come from the
// goroutine running Stream.
type Events interface {
	Opened()
	Snapshot(snapshot models.Snapshot)
}

// Transport is one push connection attempt. Stream blocks until ctx is done
// (returning nil) or the connection fails. A failure wrapping
// ErrUnsupportedTransport means retrying the same transport is pointless.
type Transport interface {
	Name() string
	Stream(ctx context.Context, events Events) error
}

type TransportOptions struct {
	// Heartbeat is the server heartbeat; a connection silent for two of them is dropped.
	Heartbeat time.Duration
}

// NewTransport builds the named push transport against the server base URL.
// "polling" yields a nil Transport: the strategy then only pulls.
func NewTransport(kind, baseURL string, options TransportOptions) (Transport, error) {
	if options.Heartbeat <= 0 {
		options.Heartbeat = defaultHeartbeat
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedTransport, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedTransport, base.Scheme)
	}

	switch strings.ToLower(strings.TrimSpace(kind)) {
	case TransportWebSocket, "ws":
		wsURL := *base
		wsURL.Scheme = "ws"
		if base.Scheme == "https" {
			wsURL.Scheme = "wss"
		}
		wsURL.Path = base.Path + "/queue/ws"
		return newWebSocketTransport(wsURL.String(), options.Heartbeat), nil
	case TransportSSE:
		return newSSETransport(base.String()+"/queue/stream", options.Heartbeat), nil
	case TransportPolling, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTransport, kind)
	}
}

// unsupportedStatus reports handshake answers meaning the server does not
// offer this transport at all.
func unsupportedStatus(status int) bool {
	switch status {
	case 404, 405, 406, 426, 501:
		return true
	}
	return false
}

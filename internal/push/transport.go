package push

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"association-chat/internal/models"
)

// Transport names accepted by WithTransports.
const (
	TransportWebSocket = "websocket"
	TransportPolling   = "polling"
)

var ErrSessionGone = errors.New("push session gone")

// Conn is one established push connection. Send may be called concurrently
// with Recv.
type Conn interface {
	Send(ctx context.Context, env models.Envelope) error
	Recv(ctx context.Context) (models.Envelope, error)
	Close() error
}

// Dialer opens a Conn with one transport.
type Dialer interface {
	Name() string
	Dial(ctx context.Context, baseURL, token string) (Conn, error)
}

func endpoint(baseURL, path string, websocket bool) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if websocket {
		switch u.Scheme {
		case "https":
			u.Scheme = "wss"
		default:
			u.Scheme = "ws"
		}
	}
	u.Path += path
	return u.String(), nil
}
